package core

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/vrsandeep/postscan/internal/assets"
	"github.com/vrsandeep/postscan/internal/config"
	"github.com/vrsandeep/postscan/internal/db"
	"github.com/vrsandeep/postscan/internal/jobs"
	"github.com/vrsandeep/postscan/internal/scan"
	"github.com/vrsandeep/postscan/internal/store"
	"github.com/vrsandeep/postscan/internal/websocket"
)

// App holds the core components of the application that are shared
// between the server and the CLI.
type App struct {
	config     *config.Config
	db         *sql.DB
	store      *store.Store
	wsHub      *websocket.Hub
	jobManager *jobs.JobManager
	scheduler  *jobs.Scheduler
	scanJob    *scan.Job
	Version    string
}

// New loads the configuration and opens the App with it.
func New(version string) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return Open(cfg, version)
}

// Open opens the database, runs migrations and wires the scan job. The
// scheduler is created but not started; the websocket hub runs until Close.
func Open(cfg *config.Config, version string) (*App, error) {
	database, err := db.InitDB(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := db.RunMigrations(database, assets.MigrationsFS); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}

	app := NewWithDB(cfg, database, version)
	log.Debug().Str("database", cfg.Database.Path).Msg("Core application setup complete.")
	return app, nil
}

// NewWithDB wires an App around an already migrated database.
func NewWithDB(cfg *config.Config, database *sql.DB, version string) *App {
	app := &App{
		config:  cfg,
		db:      database,
		store:   store.New(database),
		wsHub:   websocket.NewHub(),
		Version: version,
	}
	go app.wsHub.Run()

	app.scanJob = scan.New(app.store.Transients(), app.store.Options(),
		scan.NewMetaStamper(app.store, cfg.Scan.MetaKey), scanOptions(cfg.Scan))
	app.scanJob.SetResolver(store.NewPostResolver(app.store, cfg.Scan.MetaKey))
	app.scanJob.SetNotifier(app.wsHub)

	app.jobManager = jobs.NewManager(app)
	jobs.RegisterDefaults(app.jobManager)

	app.scheduler = jobs.NewScheduler(app)
	app.scanJob.SetScheduler(app.scheduler)
	return app
}

func scanOptions(c config.ScanConfig) scan.Options {
	return scan.Options{
		BatchSize:     c.BatchSize,
		QueueTTL:      c.QueueTTL,
		FollowUpDelay: c.FollowUpDelay,
		LeaseTimeout:  c.LeaseTimeout,
		ItemTimeout:   c.ItemTimeout,
	}
}

func (a *App) Config() *config.Config       { return a.config }
func (a *App) DB() *sql.DB                  { return a.db }
func (a *App) Store() *store.Store          { return a.store }
func (a *App) WsHub() *websocket.Hub        { return a.wsHub }
func (a *App) JobManager() *jobs.JobManager { return a.jobManager }
func (a *App) Scheduler() *jobs.Scheduler   { return a.scheduler }
func (a *App) ScanJob() *scan.Job           { return a.scanJob }

// Close stops background work and closes the database.
func (a *App) Close() {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.jobManager != nil {
		a.jobManager.Shutdown()
	}
	if a.wsHub != nil {
		a.wsHub.Stop()
	}
	if a.db != nil {
		a.db.Close()
	}
}
