package core

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrsandeep/postscan/internal/config"
	"github.com/vrsandeep/postscan/internal/jobs"
	"github.com/vrsandeep/postscan/internal/scan"
)

func TestOpen(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "postscan.db")
	cfg.Scheduler.Enabled = false

	app, err := Open(cfg, "test")
	require.NoError(t, err)
	defer app.Close()

	assert.Equal(t, "test", app.Version)
	assert.Same(t, cfg, app.Config())
	assert.Equal(t, cfg.Scan.BatchSize, app.ScanJob().Options().BatchSize)

	ids := make([]string, 0)
	for _, s := range app.JobManager().GetStatus() {
		ids = append(ids, s.ID)
	}
	assert.ElementsMatch(t, []string{scan.JobID, jobs.PurgeTransientsJobID}, ids)

	ctx := context.Background()
	post, err := app.Store().CreatePost(ctx, "", "", "Hello")
	require.NoError(t, err)

	require.NoError(t, app.ScanJob().Start(ctx, []int64{post.ID}, []string{"post"}))

	st, err := app.ScanJob().Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Total)
	assert.Equal(t, int64(1), st.Processed)
	assert.False(t, st.Running)

	_, ok, err := app.Store().GetPostMeta(ctx, post.ID, cfg.Scan.MetaKey)
	require.NoError(t, err)
	assert.True(t, ok, "the wired processor stamps the post")
}

func TestOpen_BadPath(t *testing.T) {
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "missing", "dir", "postscan.db")

	_, err := Open(cfg, "test")
	assert.Error(t, err)
}
