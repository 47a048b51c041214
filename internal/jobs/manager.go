package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vrsandeep/postscan/internal/config"
	"github.com/vrsandeep/postscan/internal/scan"
	"github.com/vrsandeep/postscan/internal/store"
	"github.com/vrsandeep/postscan/internal/websocket"
)

var (
	ErrJobRunning  = errors.New("a job is already running")
	ErrJobNotFound = errors.New("job not found")
)

// JobContext provides the dependencies a job needs. core.App implements it.
type JobContext interface {
	DB() *sql.DB
	Config() *config.Config
	WsHub() *websocket.Hub
	JobManager() *JobManager
	Store() *store.Store
	ScanJob() *scan.Job
}

// JobTask is the body of a registered job. Returning an error marks the run
// as failed.
type JobTask func(ctx context.Context, app JobContext) error

type JobStatus struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"` // "idle", "running", "success", "failed"
	Message   string    `json:"message"`
	StartTime time.Time `json:"start_time,omitempty"`
	EndTime   time.Time `json:"end_time,omitempty"`
}

// JobManager runs registered jobs one at a time in the background.
type JobManager struct {
	mu      sync.Mutex
	jobs    map[string]JobTask
	status  map[string]*JobStatus
	running bool
	appCtx  JobContext

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(appCtx JobContext) *JobManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &JobManager{
		jobs:   make(map[string]JobTask),
		status: make(map[string]*JobStatus),
		appCtx: appCtx,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (jm *JobManager) Register(id, name string, task JobTask) {
	jm.mu.Lock()
	defer jm.mu.Unlock()
	jm.jobs[id] = task
	jm.status[id] = &JobStatus{ID: id, Name: name, Status: "idle"}
}

// RunJob starts the job in a new goroutine. It fails with ErrJobRunning
// while any job is in flight.
func (jm *JobManager) RunJob(id string, app JobContext) error {
	if app == nil {
		app = jm.appCtx
	}

	jm.mu.Lock()
	if jm.ctx.Err() != nil {
		jm.mu.Unlock()
		return fmt.Errorf("job manager is shut down")
	}
	if jm.running {
		jm.mu.Unlock()
		return ErrJobRunning
	}
	task, ok := jm.jobs[id]
	if !ok {
		jm.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}

	jm.running = true
	status := jm.status[id]
	status.Status = "running"
	status.StartTime = time.Now()
	status.EndTime = time.Time{}
	status.Message = "Job started..."
	jm.wg.Add(1)
	jm.mu.Unlock()

	log.Info().Str("job", id).Msg("Starting job")
	go func() {
		defer jm.wg.Done()
		var err error
		defer func() {
			jm.mu.Lock()
			defer jm.mu.Unlock()
			if r := recover(); r != nil {
				log.Error().Str("job", id).Interface("panic", r).Msg("Job panicked")
				status.Status = "failed"
				status.Message = fmt.Sprintf("Job panicked: %v", r)
			} else if err != nil {
				log.Error().Err(err).Str("job", id).Msg("Job failed")
				status.Status = "failed"
				status.Message = fmt.Sprintf("Job failed: %v", err)
			} else {
				status.Status = "success"
				status.Message = "Job completed successfully."
				log.Info().Str("job", id).Msg("Finished job")
			}
			status.EndTime = time.Now()
			jm.running = false
		}()

		err = task(jm.ctx, app)
	}()
	return nil
}

// GetStatus returns a snapshot of every registered job, ordered by ID.
func (jm *JobManager) GetStatus() []*JobStatus {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	statuses := make([]*JobStatus, 0, len(jm.status))
	for _, s := range jm.status {
		c := *s
		statuses = append(statuses, &c)
	}
	sort.Slice(statuses, func(i, k int) bool { return statuses[i].ID < statuses[k].ID })
	return statuses
}

// Wait blocks until no job is running.
func (jm *JobManager) Wait() {
	jm.wg.Wait()
}

// Shutdown cancels the context handed to running jobs and waits for them.
// No job can start afterwards.
func (jm *JobManager) Shutdown() {
	jm.mu.Lock()
	jm.cancel()
	jm.mu.Unlock()
	jm.wg.Wait()
}
