package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrsandeep/postscan/internal/kv"
	"github.com/vrsandeep/postscan/internal/store"
	"github.com/vrsandeep/postscan/internal/testutil"
)

var (
	_ kv.Store = (*store.Options)(nil)
	_ kv.Store = (*store.Transients)(nil)
)

func TestOptions(t *testing.T) {
	o := store.New(testutil.SetupTestDB(t)).Options()
	ctx := context.Background()

	_, ok, err := o.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, o.Set(ctx, "a", []byte("1"), time.Millisecond))
	require.NoError(t, o.Set(ctx, "a", []byte("2"), 0))
	v, ok, err := o.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2", string(v))

	added, err := o.Add(ctx, "a", []byte("3"), 0)
	require.NoError(t, err)
	assert.False(t, added)
	added, err = o.Add(ctx, "b", []byte("x"), 0)
	require.NoError(t, err)
	assert.True(t, added)

	require.NoError(t, o.Delete(ctx, "a"))
	require.NoError(t, o.Delete(ctx, "a"))
	_, ok, _ = o.Get(ctx, "a")
	assert.False(t, ok)
}

func TestTransients_Expiry(t *testing.T) {
	tr := store.New(testutil.SetupTestDB(t)).Transients()
	ctx := context.Background()
	now := time.Unix(1700000000, 0)
	tr.SetClock(func() time.Time { return now })

	require.NoError(t, tr.Set(ctx, "q", []byte("queue"), 10*time.Minute))
	require.NoError(t, tr.Set(ctx, "forever", []byte("x"), 0))

	now = now.Add(9 * time.Minute)
	v, ok, err := tr.Get(ctx, "q")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "queue", string(v))

	now = now.Add(time.Minute)
	_, ok, err = tr.Get(ctx, "q")
	require.NoError(t, err)
	assert.False(t, ok, "entry expires exactly at its deadline")

	_, ok, _ = tr.Get(ctx, "forever")
	assert.True(t, ok)
}

func TestTransients_Add(t *testing.T) {
	tr := store.New(testutil.SetupTestDB(t)).Transients()
	ctx := context.Background()
	now := time.Unix(1700000000, 0)
	tr.SetClock(func() time.Time { return now })

	added, err := tr.Add(ctx, "lease", []byte("a"), 30*time.Second)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = tr.Add(ctx, "lease", []byte("b"), 30*time.Second)
	require.NoError(t, err)
	assert.False(t, added, "live entry blocks Add")

	now = now.Add(31 * time.Second)
	added, err = tr.Add(ctx, "lease", []byte("c"), 30*time.Second)
	require.NoError(t, err)
	assert.True(t, added, "expired entry is replaced")
	v, _, _ := tr.Get(ctx, "lease")
	assert.Equal(t, "c", string(v))

	require.NoError(t, tr.Set(ctx, "pinned", []byte("p"), 0))
	added, err = tr.Add(ctx, "pinned", []byte("q"), time.Second)
	require.NoError(t, err)
	assert.False(t, added, "entries without expiry never yield")
}

func TestTransients_PurgeExpired(t *testing.T) {
	tr := store.New(testutil.SetupTestDB(t)).Transients()
	ctx := context.Background()
	now := time.Unix(1700000000, 0)
	tr.SetClock(func() time.Time { return now })

	require.NoError(t, tr.Set(ctx, "a", []byte("1"), time.Second))
	require.NoError(t, tr.Set(ctx, "b", []byte("2"), time.Hour))
	require.NoError(t, tr.Set(ctx, "c", []byte("3"), 0))

	now = now.Add(time.Minute)
	n, err := tr.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestOptions_Update(t *testing.T) {
	o := store.New(testutil.SetupTestDB(t)).Options()
	ctx := context.Background()

	bump := func(old []byte, ok bool) ([]byte, error) {
		if !ok {
			return []byte("1"), nil
		}
		return append(old, '+'), nil
	}
	require.NoError(t, o.Update(ctx, "n", 0, bump))
	require.NoError(t, o.Update(ctx, "n", 0, bump))
	v, _, _ := o.Get(ctx, "n")
	assert.Equal(t, "1+", string(v))

	errAbort := errors.New("abort")
	err := o.Update(ctx, "n", 0, func([]byte, bool) ([]byte, error) { return []byte("x"), errAbort })
	assert.ErrorIs(t, err, errAbort)
	v, _, _ = o.Get(ctx, "n")
	assert.Equal(t, "1+", string(v), "an aborted update rolls back")

	require.NoError(t, o.Update(ctx, "n", 0, func([]byte, bool) ([]byte, error) { return nil, nil }))
	_, ok, _ := o.Get(ctx, "n")
	assert.False(t, ok)
}

func TestTransients_Update(t *testing.T) {
	tr := store.New(testutil.SetupTestDB(t)).Transients()
	ctx := context.Background()
	now := time.Unix(1700000000, 0)
	tr.SetClock(func() time.Time { return now })

	require.NoError(t, tr.Set(ctx, "q", []byte("old"), time.Second))
	now = now.Add(2 * time.Second)

	err := tr.Update(ctx, "q", time.Minute, func(old []byte, ok bool) ([]byte, error) {
		assert.False(t, ok, "expired rows read as absent")
		assert.Nil(t, old)
		return []byte("new"), nil
	})
	require.NoError(t, err)

	now = now.Add(59 * time.Second)
	v, ok, err := tr.Get(ctx, "q")
	require.NoError(t, err)
	assert.True(t, ok, "the update sets a fresh expiry")
	assert.Equal(t, "new", string(v))

	require.NoError(t, tr.Update(ctx, "q", time.Minute, func(old []byte, ok bool) ([]byte, error) {
		assert.True(t, ok)
		assert.Equal(t, "new", string(old))
		return nil, nil
	}))
	_, ok, _ = tr.Get(ctx, "q")
	assert.False(t, ok)
}
