package scan

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is returned by Start when the resolved item set is empty.
	ErrInvalidInput = errors.New("no items to scan")
	// ErrStorageUnavailable wraps any failure of the backing stores. Callers may retry.
	ErrStorageUnavailable = errors.New("scan storage unavailable")
	// ErrLeaseHeld is returned by Acquire while another cycle holds the lease.
	ErrLeaseHeld = errors.New("scan lease held by another cycle")
	// ErrStaleLease is returned when a lease no longer matches the stored lease
	// or the current scan generation.
	ErrStaleLease = errors.New("stale scan lease")
)

// storageError tags err as a storage failure while keeping it in the chain.
func storageError(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(ErrStorageUnavailable, err))
}
