package jobs_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrsandeep/postscan/internal/jobs"
	"github.com/vrsandeep/postscan/internal/kv"
	"github.com/vrsandeep/postscan/internal/scan"
	"github.com/vrsandeep/postscan/internal/store"
	"github.com/vrsandeep/postscan/internal/testutil"
)

type seen struct {
	mu  sync.Mutex
	ids []int64
}

func (s *seen) Process(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, id)
	return nil
}

func (s *seen) snapshot() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.ids...)
}

func newScanContext(t *testing.T, delay time.Duration) (*fakeJobContext, *jobs.Scheduler, *seen) {
	t.Helper()
	ctx := newFakeContext()
	ctx.cfg.Scheduler.Enabled = false
	ctx.db = testutil.SetupTestDB(t)
	ctx.store = store.New(ctx.db)

	rec := &seen{}
	ctx.scanJob = scan.New(kv.NewMemory(), kv.NewMemory(), rec, scan.Options{BatchSize: 1, FollowUpDelay: delay})
	jobs.RegisterDefaults(ctx.jobMgr)

	sched := jobs.NewScheduler(ctx)
	ctx.scanJob.SetScheduler(sched)
	t.Cleanup(func() {
		sched.Stop()
		ctx.jobMgr.Shutdown()
	})
	return ctx, sched, rec
}

func TestScheduler_ScheduleOnceIsDeduplicated(t *testing.T) {
	_, sched, _ := newScanContext(t, time.Hour)

	assert.True(t, sched.ScheduleOnce(time.Hour))
	assert.True(t, sched.Pending())
	assert.False(t, sched.ScheduleOnce(time.Hour), "a pending follow-up absorbs further requests")
}

func TestScheduler_FollowUpsDriveScanToCompletion(t *testing.T) {
	ctx, sched, rec := newScanContext(t, 50*time.Millisecond)
	require.NoError(t, sched.Start())

	require.NoError(t, ctx.scanJob.Start(context.Background(), []int64{7, 8, 9}, []string{"post"}))
	assert.Equal(t, []int64{7}, rec.snapshot(), "start runs the first batch inline")

	require.Eventually(t, func() bool {
		st, err := ctx.scanJob.Status(context.Background())
		return err == nil && !st.Running
	}, 3*time.Second, 20*time.Millisecond)

	assert.Equal(t, []int64{7, 8, 9}, rec.snapshot())
	st, err := ctx.scanJob.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), st.Processed)
	assert.Equal(t, int64(3), st.Total)
	assert.False(t, sched.Pending())
}

func TestPurgeTransientsJob(t *testing.T) {
	ctx, _, _ := newScanContext(t, time.Hour)
	tr := ctx.store.Transients()
	now := time.Now()
	tr.SetClock(func() time.Time { return now.Add(-time.Hour) })
	require.NoError(t, tr.Set(context.Background(), "old", []byte("x"), time.Minute))

	require.NoError(t, ctx.jobMgr.RunJob(jobs.PurgeTransientsJobID, ctx))
	ctx.jobMgr.Wait()

	var count int
	require.NoError(t, ctx.db.QueryRow("SELECT COUNT(*) FROM transients").Scan(&count))
	assert.Equal(t, 0, count)
	assert.Equal(t, "success", statusOf(ctx.jobMgr, jobs.PurgeTransientsJobID))
}

func statusOf(mgr *jobs.JobManager, id string) string {
	for _, s := range mgr.GetStatus() {
		if s.ID == id {
			return s.Status
		}
	}
	return ""
}
