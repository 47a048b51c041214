package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/vrsandeep/postscan/internal/kv"
)

var timeNow = time.Now

// Options is a kv.Store over the options table. Entries never expire, so
// the ttl arguments are ignored.
type Options struct {
	db *sql.DB
}

func (o *Options) Get(ctx context.Context, name string) ([]byte, bool, error) {
	var value []byte
	err := o.db.QueryRowContext(ctx, "SELECT value FROM options WHERE name = ?", name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (o *Options) Set(ctx context.Context, name string, value []byte, _ time.Duration) error {
	_, err := o.db.ExecContext(ctx, `
		INSERT INTO options (name, value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value`, name, value)
	return err
}

func (o *Options) Delete(ctx context.Context, name string) error {
	_, err := o.db.ExecContext(ctx, "DELETE FROM options WHERE name = ?", name)
	return err
}

func (o *Options) Add(ctx context.Context, name string, value []byte, _ time.Duration) (bool, error) {
	res, err := o.db.ExecContext(ctx, "INSERT OR IGNORE INTO options (name, value) VALUES (?, ?)", name, value)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// Update runs fn and its write in one transaction.
func (o *Options) Update(ctx context.Context, name string, _ time.Duration, fn kv.UpdateFunc) error {
	tx, err := o.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var old []byte
	err = tx.QueryRowContext(ctx, "SELECT value FROM options WHERE name = ?", name).Scan(&old)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	next, err := fn(old, err == nil)
	if err != nil {
		return err
	}
	if next == nil {
		_, err = tx.ExecContext(ctx, "DELETE FROM options WHERE name = ?", name)
	} else {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO options (name, value) VALUES (?, ?)
			ON CONFLICT(name) DO UPDATE SET value = excluded.value`, name, next)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

// Transients is a kv.Store over the transients table. Expired rows read as
// absent and are removed lazily.
type Transients struct {
	db  *sql.DB
	now func() time.Time
}

func (t *Transients) Get(ctx context.Context, name string) ([]byte, bool, error) {
	var value []byte
	var expiresAt sql.NullInt64
	err := t.db.QueryRowContext(ctx, "SELECT value, expires_at FROM transients WHERE name = ?", name).Scan(&value, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if expiresAt.Valid && expiresAt.Int64 <= t.now().UnixNano() {
		_, err := t.db.ExecContext(ctx, "DELETE FROM transients WHERE name = ? AND expires_at <= ?", name, t.now().UnixNano())
		return nil, false, err
	}
	return value, true, nil
}

func (t *Transients) Set(ctx context.Context, name string, value []byte, ttl time.Duration) error {
	_, err := t.db.ExecContext(ctx, `
		INSERT INTO transients (name, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
		name, value, t.expiry(ttl))
	return err
}

func (t *Transients) Delete(ctx context.Context, name string) error {
	_, err := t.db.ExecContext(ctx, "DELETE FROM transients WHERE name = ?", name)
	return err
}

// Add writes the transient only when it is absent or expired, in a single
// statement so concurrent callers cannot both win.
func (t *Transients) Add(ctx context.Context, name string, value []byte, ttl time.Duration) (bool, error) {
	res, err := t.db.ExecContext(ctx, `
		INSERT INTO transients (name, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at
		WHERE transients.expires_at IS NOT NULL AND transients.expires_at <= ?`,
		name, value, t.expiry(ttl), t.now().UnixNano())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// Update runs fn and its write in one transaction. An expired row is
// passed to fn as absent.
func (t *Transients) Update(ctx context.Context, name string, ttl time.Duration, fn kv.UpdateFunc) error {
	tx, err := t.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var old []byte
	var expiresAt sql.NullInt64
	err = tx.QueryRowContext(ctx, "SELECT value, expires_at FROM transients WHERE name = ?", name).Scan(&old, &expiresAt)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	ok := err == nil
	if ok && expiresAt.Valid && expiresAt.Int64 <= t.now().UnixNano() {
		old, ok = nil, false
	}
	next, err := fn(old, ok)
	if err != nil {
		return err
	}
	if next == nil {
		_, err = tx.ExecContext(ctx, "DELETE FROM transients WHERE name = ?", name)
	} else {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO transients (name, value, expires_at) VALUES (?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at`,
			name, next, t.expiry(ttl))
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

// PurgeExpired deletes every expired transient and returns how many went.
func (t *Transients) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := t.db.ExecContext(ctx, "DELETE FROM transients WHERE expires_at IS NOT NULL AND expires_at <= ?", t.now().UnixNano())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SetClock overrides the time source used for expiry.
func (t *Transients) SetClock(now func() time.Time) {
	t.now = now
}

func (t *Transients) expiry(ttl time.Duration) sql.NullInt64 {
	if ttl <= 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.now().Add(ttl).UnixNano(), Valid: true}
}
