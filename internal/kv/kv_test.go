package kv_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrsandeep/postscan/internal/kv"
)

func TestMemory_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	m := kv.NewMemory()

	_, ok, err := m.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, m.Set(ctx, "a", []byte("1"), 0))
	v, ok, err := m.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", string(v))

	require.NoError(t, m.Delete(ctx, "a"))
	_, ok, _ = m.Get(ctx, "a")
	assert.False(t, ok)

	// deleting twice is fine
	assert.NoError(t, m.Delete(ctx, "a"))
}

func TestMemory_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := kv.NewMemory()
	m.SetClock(func() time.Time { return now })

	require.NoError(t, m.Set(ctx, "q", []byte("x"), time.Minute))
	_, ok, _ := m.Get(ctx, "q")
	assert.True(t, ok)

	now = now.Add(time.Minute)
	_, ok, _ = m.Get(ctx, "q")
	assert.False(t, ok, "entry should expire once its ttl has elapsed")
}

func TestMemory_Add(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := kv.NewMemory()
	m.SetClock(func() time.Time { return now })

	ok, err := m.Add(ctx, "lease", []byte("a"), 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = m.Add(ctx, "lease", []byte("b"), 30*time.Second)
	require.NoError(t, err)
	assert.False(t, ok, "add must not overwrite a live entry")

	now = now.Add(31 * time.Second)
	ok, err = m.Add(ctx, "lease", []byte("c"), 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "add may replace an expired entry")

	v, _, _ := m.Get(ctx, "lease")
	assert.Equal(t, "c", string(v))
}

func TestMemory_ValuesAreCopied(t *testing.T) {
	ctx := context.Background()
	m := kv.NewMemory()
	buf := []byte("abc")
	require.NoError(t, m.Set(ctx, "k", buf, 0))
	buf[0] = 'z'
	v, _, _ := m.Get(ctx, "k")
	assert.Equal(t, "abc", string(v))
}

func TestMemory_Update(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := kv.NewMemory()
	m.SetClock(func() time.Time { return now })

	err := m.Update(ctx, "n", 0, func(old []byte, ok bool) ([]byte, error) {
		assert.False(t, ok)
		assert.Nil(t, old)
		return []byte("1"), nil
	})
	require.NoError(t, err)

	err = m.Update(ctx, "n", 0, func(old []byte, ok bool) ([]byte, error) {
		assert.True(t, ok)
		return append(old, '2'), nil
	})
	require.NoError(t, err)
	v, _, _ := m.Get(ctx, "n")
	assert.Equal(t, "12", string(v))

	errAbort := errors.New("abort")
	err = m.Update(ctx, "n", 0, func([]byte, bool) ([]byte, error) { return []byte("x"), errAbort })
	assert.ErrorIs(t, err, errAbort)
	v, _, _ = m.Get(ctx, "n")
	assert.Equal(t, "12", string(v), "an aborted update writes nothing")

	require.NoError(t, m.Update(ctx, "n", 0, func([]byte, bool) ([]byte, error) { return nil, nil }))
	_, ok, _ := m.Get(ctx, "n")
	assert.False(t, ok, "a nil result deletes the key")

	require.NoError(t, m.Set(ctx, "t", []byte("old"), time.Second))
	now = now.Add(time.Second)
	err = m.Update(ctx, "t", time.Minute, func(old []byte, ok bool) ([]byte, error) {
		assert.False(t, ok, "expired entries read as absent")
		return []byte("new"), nil
	})
	require.NoError(t, err)
	now = now.Add(30 * time.Second)
	v, ok, _ = m.Get(ctx, "t")
	assert.True(t, ok)
	assert.Equal(t, "new", string(v))
}
