package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Lease grants one cycle exclusive use of the queue for the generation it
// was issued under.
type Lease struct {
	Token      string    `json:"token"`
	Generation int64     `json:"generation"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Acquire claims the lease for the current scan generation.
func (j *Job) Acquire(ctx context.Context) (*Lease, error) {
	gen, err := j.getInt(ctx, GenerationKey)
	if err != nil {
		return nil, err
	}
	lease := &Lease{
		Token:      uuid.NewString(),
		Generation: gen,
		ExpiresAt:  j.now().Add(j.opts.LeaseTimeout),
	}
	raw, err := json.Marshal(lease)
	if err != nil {
		return nil, fmt.Errorf("encode lease: %w", err)
	}
	ok, err := j.queue.Add(ctx, LeaseKey, raw, j.opts.LeaseTimeout)
	if err != nil {
		return nil, storageError("acquire lease", err)
	}
	if !ok {
		return nil, ErrLeaseHeld
	}
	return lease, nil
}

// Release drops the lease if it is still the stored one.
func (j *Job) Release(ctx context.Context, lease *Lease) error {
	if lease == nil {
		return nil
	}
	err := j.queue.Update(ctx, LeaseKey, j.opts.LeaseTimeout, func(old []byte, ok bool) ([]byte, error) {
		if !ok {
			return nil, nil
		}
		cur, err := decodeLease(old)
		if err != nil || cur.Token == lease.Token {
			return nil, nil
		}
		return nil, errKeep
	})
	return fenced("release lease", err)
}

// renew pushes the lease expiry forward while the lease is still ours and
// then checks the generation fence.
func (j *Job) renew(ctx context.Context, lease *Lease) error {
	if lease == nil {
		return ErrStaleLease
	}
	renewed := *lease
	renewed.ExpiresAt = j.now().Add(j.opts.LeaseTimeout)
	raw, err := json.Marshal(&renewed)
	if err != nil {
		return fmt.Errorf("encode lease: %w", err)
	}
	err = j.queue.Update(ctx, LeaseKey, j.opts.LeaseTimeout, func(old []byte, ok bool) ([]byte, error) {
		if !ok {
			return nil, ErrStaleLease
		}
		cur, err := decodeLease(old)
		if err != nil || cur.Token != lease.Token {
			return nil, ErrStaleLease
		}
		return raw, nil
	})
	if err := fenced("renew lease", err); err != nil {
		return err
	}
	lease.ExpiresAt = renewed.ExpiresAt
	return j.checkFence(ctx, lease)
}

func (j *Job) checkFence(ctx context.Context, lease *Lease) error {
	gen, err := j.getInt(ctx, GenerationKey)
	if err != nil {
		return err
	}
	if gen != lease.Generation {
		return ErrStaleLease
	}
	return nil
}

// dropOlderLease removes a lease issued before generation gen.
func (j *Job) dropOlderLease(ctx context.Context, gen int64) error {
	err := j.queue.Update(ctx, LeaseKey, j.opts.LeaseTimeout, func(old []byte, ok bool) ([]byte, error) {
		if !ok {
			return nil, nil
		}
		cur, err := decodeLease(old)
		if err != nil || cur.Generation < gen {
			return nil, nil
		}
		return nil, errKeep
	})
	return fenced("clear lease", err)
}

func decodeLease(raw []byte) (*Lease, error) {
	var l Lease
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, fmt.Errorf("decode lease: %w", err)
	}
	return &l, nil
}
