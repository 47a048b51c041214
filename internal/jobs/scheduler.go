package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/rs/zerolog/log"

	"github.com/vrsandeep/postscan/internal/scan"
)

const (
	dailyScanTag  = "posts-scan-daily"
	followUpTag   = "posts-scan-followup"
	purgeTag      = "purge-transients"
	purgeInterval = time.Hour
)

// Scheduler drives jobs on a clock: the daily scan trigger, one-shot scan
// follow-ups and the transient purge. Every trigger goes through the
// JobManager so scheduled and manual runs never overlap.
type Scheduler struct {
	cron *gocron.Scheduler
	app  JobContext

	mu      sync.Mutex
	pending bool
}

func NewScheduler(app JobContext) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Scheduler{cron: s, app: app}
}

// Start registers the recurring jobs and starts the scheduler in the
// background.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := s.app.Config().Scheduler
	if cfg.Enabled {
		log.Info().Str("at", cfg.DailyAt).Msg("Scheduling daily posts scan")
		_, err := s.cron.Every(1).Day().At(cfg.DailyAt).Tag(dailyScanTag).Do(s.trigger, scan.JobID)
		if err != nil {
			return err
		}
	} else {
		log.Info().Msg("Scheduler disabled, the posts scan only runs on demand.")
	}

	_, err := s.cron.Every(purgeInterval).StartAt(time.Now().Add(purgeInterval)).Tag(purgeTag).Do(s.trigger, PurgeTransientsJobID)
	if err != nil {
		return err
	}

	log.Info().Msg("Starting background job scheduler...")
	s.cron.StartAsync()
	return nil
}

// Stop halts the scheduler. Jobs already handed to the JobManager keep
// running.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

// ScheduleOnce queues one scan cycle after delay. It returns false when a
// follow-up is already pending.
func (s *Scheduler) ScheduleOnce(delay time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending {
		return false
	}
	_, err := s.cron.Every(delay).StartAt(time.Now().Add(delay)).LimitRunsTo(1).Tag(followUpTag).Do(s.followUp, delay)
	if err != nil {
		log.Error().Err(err).Msg("Could not schedule follow-up scan cycle")
		return false
	}
	s.pending = true
	return true
}

// Pending reports whether a follow-up cycle is waiting to run.
func (s *Scheduler) Pending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

func (s *Scheduler) followUp(delay time.Duration) {
	s.mu.Lock()
	s.pending = false
	s.mu.Unlock()

	err := s.app.JobManager().RunJob(scan.JobID, s.app)
	if errors.Is(err, ErrJobRunning) {
		// Another job holds the manager; try again after the same delay.
		log.Debug().Msg("Follow-up scan cycle deferred, another job is running")
		s.ScheduleOnce(delay)
		return
	}
	if err != nil {
		log.Warn().Err(err).Msg("Follow-up scan cycle could not start")
	}
}

func (s *Scheduler) trigger(id string) {
	log.Debug().Str("job", id).Msg("Scheduler is triggering job")
	if err := s.app.JobManager().RunJob(id, s.app); err != nil {
		log.Warn().Err(err).Str("job", id).Msg("Scheduled job could not start")
	}
}

// RegisterDefaults adds the jobs the scheduler and the admin API know about.
func RegisterDefaults(jm *JobManager) {
	jm.Register(scan.JobID, "Posts Scan Cycle", runScanCycle)
	jm.Register(PurgeTransientsJobID, "Purge Expired Transients", purgeTransients)
}

// PurgeTransientsJobID removes expired rows from the transients table.
const PurgeTransientsJobID = "purge-transients"

func runScanCycle(ctx context.Context, app JobContext) error {
	return app.ScanJob().RunCycle(ctx)
}

func purgeTransients(ctx context.Context, app JobContext) error {
	n, err := app.Store().Transients().PurgeExpired(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		log.Info().Int64("removed", n).Msg("Purged expired transients")
	}
	return nil
}
