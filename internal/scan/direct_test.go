package scan_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrsandeep/postscan/internal/kv"
	"github.com/vrsandeep/postscan/internal/scan"
)

func TestRunDirect_ReportsEveryN(t *testing.T) {
	var seen []int64
	p := scan.ItemProcessorFunc(func(_ context.Context, id int64) error {
		seen = append(seen, id)
		if id == 7 {
			return errors.New("boom")
		}
		return nil
	})
	queue, state := kv.NewMemory(), kv.NewMemory()
	job := scan.New(queue, state, p, scan.Options{})

	ids := make([]int64, 120)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	var reports []int
	sum, err := job.RunDirect(context.Background(), ids, 50, func(s scan.DirectSummary) {
		reports = append(reports, s.Processed)
	})
	require.NoError(t, err)
	assert.Equal(t, []int{50, 100, 120}, reports)
	assert.Equal(t, scan.DirectSummary{Total: 120, Processed: 120, Failed: 1}, sum)
	assert.Len(t, seen, 120)

	// The queue and counters are untouched.
	st, err := job.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.Total)
	assert.Equal(t, int64(0), st.Processed)
	assert.False(t, st.Running)
}

func TestRunDirect_EmptyAndCancelled(t *testing.T) {
	job := scan.New(kv.NewMemory(), kv.NewMemory(), scan.ItemProcessorFunc(func(context.Context, int64) error { return nil }), scan.Options{})

	_, err := job.RunDirect(context.Background(), nil, 50, nil)
	assert.ErrorIs(t, err, scan.ErrInvalidInput)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sum, err := job.RunDirect(ctx, []int64{1, 2}, 50, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, sum.Processed)
}
