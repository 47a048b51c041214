package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/vrsandeep/postscan/internal/api"
	"github.com/vrsandeep/postscan/internal/auth"
	"github.com/vrsandeep/postscan/internal/config"
	"github.com/vrsandeep/postscan/internal/core"
	"github.com/vrsandeep/postscan/internal/logging"
	"github.com/vrsandeep/postscan/internal/models"
	"github.com/vrsandeep/postscan/internal/store"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("postscan exited with an error")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logging.Init(cfg.Log.Level, cfg.Log.Pretty)

	// One server per database, so two processes never drive the same queue.
	lock := flock.New(cfg.Database.Path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !locked {
		return errors.New("another postscan server is already using " + cfg.Database.Path)
	}
	defer lock.Unlock()

	app, err := core.Open(cfg, version)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := provisionAdmin(app.Store()); err != nil {
		return err
	}

	if err := app.Scheduler().Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	server := api.NewServer(app)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", httpServer.Addr).Str("version", version).Msg("Starting web server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("could not start server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info().Msg("Server exiting.")
	return nil
}

// provisionAdmin creates an "admin" account with a random password when the
// database has no users yet.
func provisionAdmin(st *store.Store) error {
	count, err := st.CountUsers()
	if err != nil {
		return fmt.Errorf("could not check user count: %w", err)
	}
	if count > 0 {
		return nil
	}

	password, err := auth.GeneratePassword(12)
	if err != nil {
		return err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	if _, err := st.CreateUser("admin", hash, models.RoleAdmin); err != nil {
		return fmt.Errorf("could not create default admin user: %w", err)
	}
	log.Warn().
		Str("username", "admin").
		Str("password", password).
		Msg("No users found. Created default admin account; change this password immediately.")
	return nil
}
