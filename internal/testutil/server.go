// Shared test server setup, which keeps the API tests short.

package testutil

import (
	"database/sql"
	"testing"
	"time"

	"github.com/vrsandeep/postscan/internal/api"
	"github.com/vrsandeep/postscan/internal/config"
	"github.com/vrsandeep/postscan/internal/core"
)

// SetupTestApp wires a core.App around a fresh in-memory database. The
// follow-up delay is long so scans only advance when a test drives them.
func SetupTestApp(t *testing.T) *core.App {
	t.Helper()
	cfg := config.Default()
	cfg.Scheduler.Enabled = false
	cfg.Scan.FollowUpDelay = time.Hour

	app := core.NewWithDB(cfg, SetupTestDB(t), "test")
	t.Cleanup(app.Close)
	return app
}

// SetupTestServer initializes a full core.App and api.Server for integration testing.
func SetupTestServer(t *testing.T) (*api.Server, *sql.DB) {
	t.Helper()
	app := SetupTestApp(t)
	return api.NewServer(app), app.DB()
}
