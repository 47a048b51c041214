package scan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Storage keys. The queue and lease live in the expiring store, the rest in
// the durable one.
const (
	QueueKey      = "posts_scan_queue"
	LeaseKey      = "posts_scan_lease"
	TotalKey      = "posts_scan_total"
	ProcessedKey  = "posts_scan_processed"
	GenerationKey = "posts_scan_generation"
	RunKey        = "posts_scan_run"
)

// errKeep aborts an Update that should leave the stored value alone.
var errKeep = errors.New("keep stored value")

type queueRecord struct {
	Generation int64   `json:"generation"`
	IDs        []int64 `json:"ids"`
}

// runRecord describes the most recent scan. It outlives the queue.
type runRecord struct {
	Generation int64      `json:"generation"`
	Filters    []string   `json:"filters,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Cancelled  bool       `json:"cancelled,omitempty"`
	Failed     int        `json:"failed"`
	FailedIDs  []int64    `json:"failed_ids,omitempty"`
}

func (r *runRecord) active() bool {
	return r.FinishedAt == nil
}

// counter is a progress counter stamped with the generation that wrote it,
// stored as "generation:n". A bare integer belongs to generation 0.
type counter struct {
	Generation int64
	N          int64
}

func parseCounter(raw []byte) (counter, error) {
	var c counter
	s := string(raw)
	if s == "" {
		return c, nil
	}
	var err error
	if gen, n, ok := strings.Cut(s, ":"); ok {
		if c.Generation, err = strconv.ParseInt(gen, 10, 64); err != nil {
			return c, err
		}
		s = n
	}
	c.N, err = strconv.ParseInt(s, 10, 64)
	return c, err
}

func (c counter) encode() []byte {
	return []byte(strconv.FormatInt(c.Generation, 10) + ":" + strconv.FormatInt(c.N, 10))
}

func (j *Job) loadQueue(ctx context.Context) (*queueRecord, bool, error) {
	raw, ok, err := j.queue.Get(ctx, QueueKey)
	if err != nil {
		return nil, false, storageError("load queue", err)
	}
	if !ok {
		return nil, false, nil
	}
	q, err := decodeQueue(raw)
	if err != nil {
		return nil, false, err
	}
	return q, true, nil
}

func decodeQueue(raw []byte) (*queueRecord, error) {
	var q queueRecord
	if err := json.Unmarshal(raw, &q); err != nil {
		return nil, fmt.Errorf("decode queue: %w", err)
	}
	return &q, nil
}

// putQueue writes q unless a newer generation already owns the queue.
// Requires an existing queue of the same generation when mustExist is set,
// which is how an in-flight batch checkpoints without resurrecting a queue
// that a cancel or restart removed.
func (j *Job) putQueue(ctx context.Context, q *queueRecord, mustExist bool) error {
	raw, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("encode queue: %w", err)
	}
	err = j.queue.Update(ctx, QueueKey, j.opts.QueueTTL, func(old []byte, ok bool) ([]byte, error) {
		if !ok {
			if mustExist {
				return nil, ErrStaleLease
			}
			return raw, nil
		}
		cur, err := decodeQueue(old)
		if err != nil {
			return nil, err
		}
		if cur.Generation > q.Generation || (mustExist && cur.Generation != q.Generation) {
			return nil, ErrStaleLease
		}
		return raw, nil
	})
	return fenced("save queue", err)
}

// dropQueue deletes the queue when keep reports false for its generation.
func (j *Job) dropQueue(ctx context.Context, keep func(gen int64) bool) error {
	err := j.queue.Update(ctx, QueueKey, j.opts.QueueTTL, func(old []byte, ok bool) ([]byte, error) {
		if !ok {
			return nil, nil
		}
		cur, err := decodeQueue(old)
		if err != nil {
			// An unreadable queue is of no use to any generation.
			return nil, nil
		}
		if keep(cur.Generation) {
			return nil, errKeep
		}
		return nil, nil
	})
	return fenced("delete queue", err)
}

func (j *Job) loadRun(ctx context.Context) (*runRecord, bool, error) {
	raw, ok, err := j.state.Get(ctx, RunKey)
	if err != nil {
		return nil, false, storageError("load run", err)
	}
	if !ok {
		return nil, false, nil
	}
	var r runRecord
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, false, fmt.Errorf("decode run: %w", err)
	}
	return &r, true, nil
}

// updateRun applies fn to the stored run record. fn returns false to leave
// the record unchanged. A nil run is passed when no record exists.
func (j *Job) updateRun(ctx context.Context, fn func(r *runRecord) (*runRecord, bool)) error {
	err := j.state.Update(ctx, RunKey, 0, func(old []byte, ok bool) ([]byte, error) {
		var cur *runRecord
		if ok {
			cur = &runRecord{}
			if err := json.Unmarshal(old, cur); err != nil {
				return nil, fmt.Errorf("decode run: %w", err)
			}
		}
		next, write := fn(cur)
		if !write {
			return nil, errKeep
		}
		raw, err := json.Marshal(next)
		if err != nil {
			return nil, fmt.Errorf("encode run: %w", err)
		}
		return raw, nil
	})
	return fenced("save run", err)
}

// updateGenerationRun applies fn to the run record of gen, if it is still
// the stored one.
func (j *Job) updateGenerationRun(ctx context.Context, gen int64, fn func(r *runRecord)) error {
	return j.updateRun(ctx, func(r *runRecord) (*runRecord, bool) {
		if r == nil || r.Generation != gen {
			return nil, false
		}
		fn(r)
		return r, true
	})
}

func (j *Job) getInt(ctx context.Context, key string) (int64, error) {
	raw, ok, err := j.state.Get(ctx, key)
	if err != nil {
		return 0, storageError("load "+key, err)
	}
	if !ok || len(raw) == 0 {
		return 0, nil
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("decode %s: %w", key, err)
	}
	return n, nil
}

// nextGeneration bumps the scan generation and returns the new value.
func (j *Job) nextGeneration(ctx context.Context) (int64, error) {
	var gen int64
	err := j.state.Update(ctx, GenerationKey, 0, func(old []byte, ok bool) ([]byte, error) {
		if ok && len(old) > 0 {
			n, err := strconv.ParseInt(string(old), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("decode %s: %w", GenerationKey, err)
			}
			gen = n
		}
		gen++
		return []byte(strconv.FormatInt(gen, 10)), nil
	})
	if err != nil {
		return 0, fenced("bump generation", err)
	}
	return gen, nil
}

// counterValue returns the counter at key as seen by generation gen. A
// counter left by another generation reads as zero.
func (j *Job) counterValue(ctx context.Context, key string, gen int64) (int64, error) {
	raw, ok, err := j.state.Get(ctx, key)
	if err != nil {
		return 0, storageError("load "+key, err)
	}
	if !ok {
		return 0, nil
	}
	c, err := parseCounter(raw)
	if err != nil {
		return 0, fmt.Errorf("decode %s: %w", key, err)
	}
	if c.Generation != gen {
		return 0, nil
	}
	return c.N, nil
}

// resetCounter sets key to n for gen unless a newer generation wrote it.
func (j *Job) resetCounter(ctx context.Context, key string, gen, n int64) error {
	return j.writeCounter(ctx, key, func(c counter) (counter, error) {
		if c.Generation > gen {
			return c, ErrStaleLease
		}
		return counter{Generation: gen, N: n}, nil
	})
}

// setCounter replaces the value of gen's counter. It fails with
// ErrStaleLease once another generation owns the counter.
func (j *Job) setCounter(ctx context.Context, key string, gen, n int64) error {
	return j.writeCounter(ctx, key, func(c counter) (counter, error) {
		if c.Generation != gen {
			return c, ErrStaleLease
		}
		return counter{Generation: gen, N: n}, nil
	})
}

// bumpCounter increments gen's counter and returns the new value.
func (j *Job) bumpCounter(ctx context.Context, key string, gen int64) (int64, error) {
	var n int64
	err := j.writeCounter(ctx, key, func(c counter) (counter, error) {
		if c.Generation != gen {
			return c, ErrStaleLease
		}
		c.N++
		n = c.N
		return c, nil
	})
	return n, err
}

func (j *Job) writeCounter(ctx context.Context, key string, fn func(c counter) (counter, error)) error {
	err := j.state.Update(ctx, key, 0, func(old []byte, ok bool) ([]byte, error) {
		var cur counter
		if ok {
			var err error
			if cur, err = parseCounter(old); err != nil {
				return nil, fmt.Errorf("decode %s: %w", key, err)
			}
		}
		next, err := fn(cur)
		if err != nil {
			return nil, err
		}
		return next.encode(), nil
	})
	return fenced("save "+key, err)
}

// fenced passes fence and keep outcomes through and tags everything else
// as a storage failure.
func fenced(op string, err error) error {
	switch {
	case err == nil, errors.Is(err, errKeep):
		return nil
	case errors.Is(err, ErrStaleLease):
		return ErrStaleLease
	}
	return storageError(op, err)
}
