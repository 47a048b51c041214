// Package kv defines the key-value storage contract shared by the scan job
// and its backing stores, plus an in-memory implementation used in tests.
package kv

import (
	"context"
	"sync"
	"time"
)

// Store is a key-value store with optional expiry. A ttl of zero means the
// entry never expires.
type Store interface {
	// Get returns the value for key. ok is false when the key is absent or expired.
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Add stores value only if key is absent or expired. It reports whether
	// the value was written.
	Add(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// Update atomically replaces the value of key with the result of fn.
	// fn sees ok=false when the key is absent or expired. A nil result
	// deletes the key. An error from fn aborts the update and is returned
	// as is. fn must not call back into the store.
	Update(ctx context.Context, key string, ttl time.Duration, fn UpdateFunc) error
}

// UpdateFunc computes the next value of a key from its current one.
type UpdateFunc func(old []byte, ok bool) ([]byte, error)

type entry struct {
	value     []byte
	expiresAt time.Time
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Memory is a goroutine-safe in-memory Store.
type Memory struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

// NewMemory returns an empty Memory store using the wall clock.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]entry), now: time.Now}
}

// SetClock replaces the clock used for expiry checks.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if e.expired(m.now()) {
		delete(m.entries, key)
		return nil, false, nil
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = m.newEntry(value, ttl)
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *Memory) Add(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[key]; ok && !e.expired(m.now()) {
		return false, nil
	}
	m.entries[key] = m.newEntry(value, ttl)
	return true, nil
}

func (m *Memory) Update(_ context.Context, key string, ttl time.Duration, fn UpdateFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var old []byte
	e, ok := m.entries[key]
	if ok && e.expired(m.now()) {
		delete(m.entries, key)
		ok = false
	}
	if ok {
		old = make([]byte, len(e.value))
		copy(old, e.value)
	}
	next, err := fn(old, ok)
	if err != nil {
		return err
	}
	if next == nil {
		delete(m.entries, key)
		return nil
	}
	m.entries[key] = m.newEntry(next, ttl)
	return nil
}

func (m *Memory) newEntry(value []byte, ttl time.Duration) entry {
	e := entry{value: make([]byte, len(value))}
	copy(e.value, value)
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	return e
}
