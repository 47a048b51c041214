// Package scan implements the background posts scan: a durable queue of post
// IDs worked off in fixed-size batches by a recurring trigger, with progress
// counters, cancellation and a lease that keeps overlapping cycles apart.
package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vrsandeep/postscan/internal/kv"
	"github.com/vrsandeep/postscan/internal/models"
)

// JobID identifies scan progress updates on the websocket.
const JobID = "posts-scan"

// Options tune batch processing. Zero fields fall back to DefaultOptions; a
// negative QueueTTL keeps the queue forever and a negative ItemTimeout
// disables the per-item deadline.
type Options struct {
	BatchSize     int
	QueueTTL      time.Duration
	FollowUpDelay time.Duration
	LeaseTimeout  time.Duration
	ItemTimeout   time.Duration
}

// DefaultOptions returns the stock batch settings.
func DefaultOptions() Options {
	return Options{
		BatchSize:     20,
		QueueTTL:      10 * time.Minute,
		FollowUpDelay: 60 * time.Second,
		LeaseTimeout:  30 * time.Second,
		ItemTimeout:   5 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.BatchSize <= 0 {
		o.BatchSize = d.BatchSize
	}
	if o.QueueTTL == 0 {
		o.QueueTTL = d.QueueTTL
	}
	if o.ItemTimeout == 0 {
		o.ItemTimeout = d.ItemTimeout
	}
	if o.FollowUpDelay <= 0 {
		o.FollowUpDelay = d.FollowUpDelay
	}
	if o.LeaseTimeout <= 0 {
		o.LeaseTimeout = d.LeaseTimeout
	}
	return o
}

// Status is a point-in-time view of the scan. Total and Processed are read
// separately and may be briefly out of step while a batch runs.
type Status struct {
	Total      int64      `json:"total"`
	Processed  int64      `json:"processed"`
	Remaining  int        `json:"remaining"`
	Failed     int        `json:"failed"`
	Running    bool       `json:"running"`
	Generation int64      `json:"generation"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// BatchResult summarises one ProcessBatch call.
type BatchResult struct {
	Generation int64
	Processed  int
	Failed     int
	Remaining  int
	Done       bool
}

// Job runs the posts scan. The queue store holds the queue and the lease and
// may expire entries; the state store holds counters and must not.
type Job struct {
	queue     kv.Store
	state     kv.Store
	processor ItemProcessor
	scheduler Scheduler
	resolver  Resolver
	notifier  Notifier
	opts      Options
	now       func() time.Time
}

// New creates a Job.
func New(queue, state kv.Store, processor ItemProcessor, opts Options) *Job {
	return &Job{
		queue:     queue,
		state:     state,
		processor: processor,
		opts:      opts.withDefaults(),
		now:       time.Now,
	}
}

// SetScheduler sets the collaborator used to arrange follow-up cycles.
func (j *Job) SetScheduler(s Scheduler) { j.scheduler = s }

// SetResolver sets the collaborator used to rebuild an expired queue.
func (j *Job) SetResolver(r Resolver) { j.resolver = r }

// SetNotifier sets the receiver of per-batch progress updates.
func (j *Job) SetNotifier(n Notifier) { j.notifier = n }

// SetClock replaces the clock, for tests.
func (j *Job) SetClock(now func() time.Time) { j.now = now }

// Options returns the effective options.
func (j *Job) Options() Options { return j.opts }

// Start replaces any current scan with one over ids and runs the first cycle.
// An empty ids is rejected before anything is written.
func (j *Job) Start(ctx context.Context, ids []int64, filters []string) error {
	if len(ids) == 0 {
		return ErrInvalidInput
	}

	gen, err := j.nextGeneration(ctx)
	if err != nil {
		return err
	}
	if err := j.begin(ctx, gen, ids, filters); err != nil {
		if errors.Is(err, ErrStaleLease) {
			log.Info().Int64("generation", gen).Msg("Posts scan start superseded by a newer scan")
			return nil
		}
		return err
	}

	log.Info().Int64("generation", gen).Int("total", len(ids)).Strs("filters", filters).Msg("Posts scan started")
	j.notify(0, int64(len(ids)), "in_progress", "Scan started. Processing in background.", false)

	if err := j.RunCycle(ctx); err != nil {
		log.Warn().Err(err).Int64("generation", gen).Msg("First scan cycle failed, a follow-up will retry")
	}
	return nil
}

// begin writes the state of scan gen. Each write gives way to a newer
// generation.
func (j *Job) begin(ctx context.Context, gen int64, ids []int64, filters []string) error {
	// A cycle still holding an older lease fails its next fence check.
	if err := j.dropOlderLease(ctx, gen); err != nil {
		return err
	}
	if err := j.resetCounter(ctx, TotalKey, gen, int64(len(ids))); err != nil {
		return err
	}
	if err := j.resetCounter(ctx, ProcessedKey, gen, 0); err != nil {
		return err
	}
	err := j.updateRun(ctx, func(r *runRecord) (*runRecord, bool) {
		if r != nil && r.Generation > gen {
			return nil, false
		}
		return &runRecord{Generation: gen, Filters: filters, StartedAt: j.now().UTC()}, true
	})
	if err != nil {
		return err
	}
	return j.putQueue(ctx, &queueRecord{Generation: gen, IDs: append([]int64(nil), ids...)}, false)
}

// Status reports scan progress. Counters and queues left by an older
// generation read as empty. When no total was recorded but a queue exists,
// the total is rebuilt as remaining + processed.
func (j *Job) Status(ctx context.Context) (Status, error) {
	var st Status
	var err error
	if st.Generation, err = j.getInt(ctx, GenerationKey); err != nil {
		return st, err
	}
	if st.Total, err = j.counterValue(ctx, TotalKey, st.Generation); err != nil {
		return st, err
	}
	if st.Processed, err = j.counterValue(ctx, ProcessedKey, st.Generation); err != nil {
		return st, err
	}
	q, hasQueue, err := j.loadQueue(ctx)
	if err != nil {
		return st, err
	}
	hasQueue = hasQueue && q.Generation == st.Generation
	if hasQueue {
		st.Remaining = len(q.IDs)
	}
	if st.Total == 0 && hasQueue {
		st.Total = int64(st.Remaining) + st.Processed
	}
	st.Running = hasQueue

	run, ok, err := j.loadRun(ctx)
	if err != nil {
		return st, err
	}
	if ok && run.Generation == st.Generation {
		started := run.StartedAt
		st.StartedAt = &started
		st.FinishedAt = run.FinishedAt
		st.Failed = run.Failed
		st.Running = hasQueue || (run.active() && st.Total > 0)
	}
	return st, nil
}

// Cancel stops the current scan and zeroes the counters. Calling it while
// idle is not an error.
func (j *Job) Cancel(ctx context.Context) error {
	gen, err := j.nextGeneration(ctx)
	if err != nil {
		return err
	}
	if err := j.dropQueue(ctx, func(qgen int64) bool { return qgen >= gen }); err != nil {
		return err
	}
	if err := j.dropOlderLease(ctx, gen); err != nil {
		return err
	}
	for _, key := range []string{ProcessedKey, TotalKey} {
		if err := j.resetCounter(ctx, key, gen, 0); err != nil {
			if errors.Is(err, ErrStaleLease) {
				log.Info().Int64("generation", gen).Msg("Posts scan cancel superseded by a newer scan")
				return nil
			}
			return err
		}
	}
	now := j.now().UTC()
	err = j.updateRun(ctx, func(r *runRecord) (*runRecord, bool) {
		if r == nil || r.Generation >= gen || !r.active() {
			return nil, false
		}
		r.FinishedAt = &now
		r.Cancelled = true
		return r, true
	})
	if err != nil {
		return err
	}

	log.Info().Int64("generation", gen).Msg("Posts scan cancelled")
	j.notify(0, 0, "cancelled", "Scan cancelled", true)
	return nil
}

// RunCycle acquires the lease, processes one batch and releases the lease.
// A cycle that finds the lease taken does nothing.
func (j *Job) RunCycle(ctx context.Context) error {
	lease, err := j.Acquire(ctx)
	if errors.Is(err, ErrLeaseHeld) {
		log.Debug().Msg("Scan cycle skipped, another cycle holds the lease")
		j.scheduleFollowUp()
		return nil
	}
	if err != nil {
		return err
	}
	defer func() {
		if err := j.Release(context.WithoutCancel(ctx), lease); err != nil {
			log.Warn().Err(err).Msg("Failed to release scan lease")
		}
	}()

	res, err := j.ProcessBatch(ctx, lease)
	switch {
	case errors.Is(err, ErrStaleLease):
		log.Info().Int64("generation", lease.Generation).Msg("Scan cycle fenced off by a newer generation")
		return nil
	case err != nil:
		j.scheduleFollowUp()
		return err
	}
	if res.Processed > 0 {
		log.Debug().Int64("generation", res.Generation).Int("processed", res.Processed).
			Int("remaining", res.Remaining).Msg("Scan batch complete")
	}
	return nil
}

// ProcessBatch works off up to BatchSize items from the front of the queue.
// Each item is counted and checkpointed as soon as it is done, and every
// write is conditional on the lease's generation still owning the key. An
// absent queue is a no-op unless the current scan lost its queue to expiry,
// in which case the queue is rebuilt through the Resolver.
func (j *Job) ProcessBatch(ctx context.Context, lease *Lease) (BatchResult, error) {
	var res BatchResult
	if err := j.renew(ctx, lease); err != nil {
		return res, err
	}
	gen := lease.Generation
	res.Generation = gen

	q, ok, err := j.loadQueue(ctx)
	if err != nil {
		return res, err
	}
	if ok && q.Generation != gen {
		log.Warn().Int64("queue_generation", q.Generation).Int64("generation", gen).
			Msg("Discarding scan queue left by an older generation")
		stale := q.Generation
		if err := j.dropQueue(ctx, func(g int64) bool { return g != stale }); err != nil {
			return res, err
		}
		ok = false
	}
	if !ok {
		if q, ok, err = j.recoverQueue(ctx, lease); err != nil || !ok {
			return res, err
		}
	}

	n := min(j.opts.BatchSize, len(q.IDs))
	batch, rest := q.IDs[:n], q.IDs[n:]
	for i, id := range batch {
		if err := ctx.Err(); err != nil {
			return res, j.requeue(ctx, lease, &res, batch[i:], rest, err)
		}
		if err := j.processItem(ctx, id); err != nil {
			if ctx.Err() != nil {
				return res, j.requeue(ctx, lease, &res, batch[i:], rest, ctx.Err())
			}
			res.Failed++
			log.Warn().Err(err).Int64("post_id", id).Int64("generation", gen).Msg("Scan item failed, skipping")
			if err := j.updateGenerationRun(ctx, gen, func(r *runRecord) {
				r.Failed++
				r.FailedIDs = append(r.FailedIDs, id)
			}); err != nil {
				return res, err
			}
		}
		if err := j.renew(ctx, lease); err != nil {
			return res, err
		}
		if _, err := j.bumpCounter(ctx, ProcessedKey, gen); err != nil {
			return res, err
		}
		res.Processed++
		if left := concat(batch[i+1:], rest); len(left) > 0 {
			if err := j.putQueue(ctx, &queueRecord{Generation: gen, IDs: left}, true); err != nil {
				return res, err
			}
		}
	}

	res.Remaining = len(rest)
	if err := j.checkFence(ctx, lease); err != nil {
		return res, err
	}
	total, err := j.counterValue(ctx, TotalKey, gen)
	if err != nil {
		return res, err
	}
	processed, err := j.counterValue(ctx, ProcessedKey, gen)
	if err != nil {
		return res, err
	}
	if res.Remaining > 0 {
		j.scheduleFollowUp()
		j.notify(processed, total, "in_progress", fmt.Sprintf("Processed %d / %d", processed, total), false)
		return res, nil
	}

	if err := j.finish(ctx, gen); err != nil {
		return res, err
	}
	res.Done = true
	j.notify(processed, total, "completed", fmt.Sprintf("Scan complete. Processed %d posts.", processed), true)
	return res, nil
}

// recoverQueue rebuilds the queue of an unfinished scan whose queue expired.
// Items that already failed once are left out.
func (j *Job) recoverQueue(ctx context.Context, lease *Lease) (*queueRecord, bool, error) {
	gen := lease.Generation
	run, ok, err := j.loadRun(ctx)
	if err != nil || !ok || run.Generation != gen || !run.active() {
		return nil, false, err
	}
	total, err := j.counterValue(ctx, TotalKey, gen)
	if err != nil || total == 0 {
		return nil, false, err
	}
	processed, err := j.counterValue(ctx, ProcessedKey, gen)
	if err != nil {
		return nil, false, err
	}
	if processed >= total {
		return nil, false, j.finish(ctx, gen)
	}

	if j.resolver == nil {
		log.Warn().Int64("generation", gen).Int64("lost", total-processed).
			Msg("Scan queue expired before completion, remaining items dropped")
		return nil, false, j.finish(ctx, gen)
	}
	ids, err := j.resolver.Remaining(ctx, run.Filters, run.StartedAt)
	if err != nil {
		return nil, false, storageError("resolve remaining", err)
	}
	ids = without(ids, run.FailedIDs)
	if newTotal := processed + int64(len(ids)); newTotal != total {
		if err := j.setCounter(ctx, TotalKey, gen, newTotal); err != nil {
			return nil, false, err
		}
	}
	if len(ids) == 0 {
		return nil, false, j.finish(ctx, gen)
	}
	q := &queueRecord{Generation: gen, IDs: ids}
	if err := j.putQueue(ctx, q, false); err != nil {
		return nil, false, err
	}
	// The rebuilt queue was written without an existing record to fence on.
	if err := j.checkFence(ctx, lease); err != nil {
		dropErr := j.dropQueue(context.WithoutCancel(ctx), func(g int64) bool { return g != gen })
		return nil, false, errors.Join(err, dropErr)
	}
	log.Info().Int64("generation", gen).Int("remaining", len(ids)).Msg("Scan queue expired, rebuilt from posts")
	return q, true, nil
}

// finish closes the scan. Counters are left at their final values so a
// poller can observe completion.
func (j *Job) finish(ctx context.Context, gen int64) error {
	if err := j.dropQueue(ctx, func(g int64) bool { return g != gen }); err != nil {
		return err
	}
	now := j.now().UTC()
	if err := j.updateGenerationRun(ctx, gen, func(r *runRecord) { r.FinishedAt = &now }); err != nil {
		return err
	}
	log.Info().Int64("generation", gen).Msg("Posts scan complete")
	return nil
}

// requeue puts back the items a cancelled context left unprocessed.
func (j *Job) requeue(ctx context.Context, lease *Lease, res *BatchResult, batch, rest []int64, cause error) error {
	left := concat(batch, rest)
	res.Remaining = len(left)
	q := &queueRecord{Generation: lease.Generation, IDs: left}
	if err := j.putQueue(context.WithoutCancel(ctx), q, true); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// processItem runs the processor under the per-item deadline. A processor
// that ignores its context is abandoned once the deadline passes.
func (j *Job) processItem(ctx context.Context, id int64) error {
	if j.opts.ItemTimeout <= 0 {
		return j.processor.Process(ctx, id)
	}
	itemCtx, cancel := context.WithTimeout(ctx, j.opts.ItemTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- j.processor.Process(itemCtx, id) }()
	select {
	case err := <-done:
		return err
	case <-itemCtx.Done():
		return fmt.Errorf("post %d: %w", id, itemCtx.Err())
	}
}

func (j *Job) scheduleFollowUp() {
	if j.scheduler == nil {
		return
	}
	if j.scheduler.ScheduleOnce(j.opts.FollowUpDelay) {
		log.Debug().Dur("delay", j.opts.FollowUpDelay).Msg("Scheduled follow-up scan cycle")
	}
}

func (j *Job) notify(processed, total int64, status, message string, done bool) {
	if j.notifier == nil {
		return
	}
	var progress float64
	if total > 0 {
		progress = float64(processed) / float64(total) * 100
	}
	j.notifier.BroadcastJSON(models.ProgressUpdate{
		JobID:    JobID,
		Message:  message,
		Progress: progress,
		Status:   status,
		Done:     done,
	})
}

func concat(a, b []int64) []int64 {
	out := make([]int64, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

func without(ids, drop []int64) []int64 {
	if len(drop) == 0 {
		return ids
	}
	skip := make(map[int64]bool, len(drop))
	for _, id := range drop {
		skip[id] = true
	}
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if !skip[id] {
			out = append(out, id)
		}
	}
	return out
}
