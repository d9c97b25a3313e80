// Package batch implements C6: a resumable batch/job scheduler with a
// bounded worker pool (4 concurrent items per user, 16 global), checkpointed
// per-item progress, crash recovery of in-progress jobs found stale at
// startup, cooperative cancellation, and user-initiated batches jumping
// ahead of scheduled ones in dispatch order. It is grounded on the teacher's
// services/automation.Scheduler lifecycle (context-cancellable polling
// goroutine registered under system.Service) generalized from a fixed
// interval-poll loop to a push/pull work queue.
package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/forgemirror/mirror-layer/internal/app/core/apperr"
	core "github.com/forgemirror/mirror-layer/internal/app/core/service"
	"github.com/forgemirror/mirror-layer/internal/app/domain/job"
	"github.com/forgemirror/mirror-layer/internal/app/services/events"
	"github.com/forgemirror/mirror-layer/internal/app/storage"
	"github.com/forgemirror/mirror-layer/internal/app/system"
	"github.com/forgemirror/mirror-layer/pkg/logger"
)

const (
	globalConcurrency = 16
	userConcurrency   = 4
	// staleAfter is how long a job may go without a checkpoint before crash
	// recovery treats it as abandoned by a process that died mid-batch.
	staleAfter = time.Hour
)

// Executor runs one item of a job (one repository or organization id).
type Executor func(ctx context.Context, userID, itemID string) error

// ExecutorFactory builds the Executor for a job, reconstructed from the
// job's own persisted fields so a batch survives a process restart without
// needing to re-capture request-time closures.
type ExecutorFactory func(j job.Job) (Executor, error)

var _ system.Service = (*Scheduler)(nil)

// Scheduler dispatches queued jobs onto a bounded worker pool.
type Scheduler struct {
	jobs   storage.JobStore
	events events.Publisher
	log    *logger.Logger

	mu        sync.Mutex
	factories map[job.Type]ExecutorFactory

	globalSem chan struct{}
	userSemMu sync.Mutex
	userSem   map[string]chan struct{}

	queueMu  sync.Mutex
	priority []queuedJob
	normal   []queuedJob
	wake     chan struct{}

	cancelMu sync.Mutex
	cancels  map[string]context.CancelFunc

	runMu     sync.Mutex
	running   bool
	runCancel context.CancelFunc
	wg        sync.WaitGroup
}

type queuedJob struct {
	job job.Job
}

// New constructs a Scheduler.
func New(jobs storage.JobStore, publisher events.Publisher, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.NewDefault("batch")
	}
	return &Scheduler{
		jobs:      jobs,
		events:    publisher,
		log:       log,
		factories: make(map[job.Type]ExecutorFactory),
		globalSem: make(chan struct{}, globalConcurrency),
		userSem:   make(map[string]chan struct{}),
		wake:      make(chan struct{}, 1),
		cancels:   make(map[string]context.CancelFunc),
	}
}

// RegisterExecutor binds an ExecutorFactory to a job type. Must be called
// before Start so crash-recovered jobs can be reconstructed.
func (s *Scheduler) RegisterExecutor(t job.Type, factory ExecutorFactory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.factories[t] = factory
}

// Name implements system.Service.
func (s *Scheduler) Name() string { return "batch-scheduler" }

// Descriptor advertises the scheduler's architectural placement for
// orchestration/introspection tooling.
func (s *Scheduler) Descriptor() core.Descriptor {
	return core.Descriptor{
		Name:         "batch-scheduler",
		Domain:       "mirror",
		Layer:        core.LayerEngine,
		Capabilities: []string{"schedule", "dispatch", "checkpoint"},
	}
}

// Submit persists a new job and enqueues it for dispatch. priority jobs
// (user-initiated) are dispatched ahead of any already-queued non-priority
// (scheduled) jobs.
func (s *Scheduler) Submit(ctx context.Context, j job.Job, priority bool) (job.Job, error) {
	now := time.Now().UTC()
	j.InProgress = true
	j.StartedAt = now
	j.LastCheckpoint = now
	if j.CompletedItemIDs == nil {
		j.CompletedItemIDs = []string{}
	}
	j.TotalItems = len(j.ItemIDs)

	saved, err := s.jobs.CreateJob(ctx, j)
	if err != nil {
		return job.Job{}, apperr.New("batch.Submit", apperr.Fatal, err)
	}
	s.enqueue(saved, priority)
	return saved, nil
}

// HasActiveSyncBatch reports whether userID already has an in-progress sync
// batch, used by the schedule controller's at-most-one-active-batch rule.
func (s *Scheduler) HasActiveSyncBatch(ctx context.Context, userID string) (bool, error) {
	return s.jobs.HasActiveBatch(ctx, userID, job.TypeSync)
}

func (s *Scheduler) enqueue(j job.Job, priority bool) {
	s.queueMu.Lock()
	if priority {
		s.priority = append(s.priority, queuedJob{job: j})
	} else {
		s.normal = append(s.normal, queuedJob{job: j})
	}
	s.queueMu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) dequeue() (queuedJob, bool) {
	s.queueMu.Lock()
	defer s.queueMu.Unlock()
	if len(s.priority) > 0 {
		qj := s.priority[0]
		s.priority = s.priority[1:]
		return qj, true
	}
	if len(s.normal) > 0 {
		qj := s.normal[0]
		s.normal = s.normal[1:]
		return qj, true
	}
	return queuedJob{}, false
}

// Cancel requests cooperative cancellation of a running job; the job stops
// between items, persisting whatever has already been checkpointed.
func (s *Scheduler) Cancel(jobID string) bool {
	s.cancelMu.Lock()
	defer s.cancelMu.Unlock()
	cancel, ok := s.cancels[jobID]
	if ok {
		cancel()
	}
	return ok
}

// Start begins the dispatch loop and recovers jobs left in-progress by a
// prior process.
func (s *Scheduler) Start(ctx context.Context) error {
	s.runMu.Lock()
	if s.running {
		s.runMu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.runCancel = cancel
	s.running = true
	s.runMu.Unlock()

	if err := s.recover(runCtx); err != nil {
		s.log.WithError(err).Warn("batch scheduler crash recovery reported errors")
	}

	s.wg.Add(1)
	go s.dispatchLoop(runCtx)

	s.log.Info("batch scheduler started")
	return nil
}

// Stop cancels the dispatch loop and every running job, then waits for them
// to unwind.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.runMu.Lock()
	if !s.running {
		s.runMu.Unlock()
		return nil
	}
	cancel := s.runCancel
	s.running = false
	s.runCancel = nil
	s.runMu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.log.Info("batch scheduler stopped")
	return nil
}

// recover scans every job left InProgress by a prior process: jobs stale
// past staleAfter since their last checkpoint are failed outright, the rest
// are re-enqueued (scheduled priority, since the original requester is gone).
func (s *Scheduler) recover(ctx context.Context) error {
	inProgress, err := s.jobs.ListInProgressJobs(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, j := range inProgress {
		if now.Sub(j.LastCheckpoint) > staleAfter {
			j.InProgress = false
			j.Message = "recovery: exceeded stale-job timeout, marked failed"
			failedAt := now
			j.CompletedAt = &failedAt
			if _, err := s.jobs.UpdateJob(ctx, j); err != nil {
				s.log.WithError(err).WithField("job_id", j.ID).Warn("failed to mark stale job failed during recovery")
			}
			continue
		}
		s.enqueue(j, false)
	}
	return nil
}

func (s *Scheduler) dispatchLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		qj, ok := s.dequeue()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-s.wake:
				continue
			}
		}
		s.wg.Add(1)
		go s.run(ctx, qj.job)
	}
}

// run dispatches one job's remaining items onto a bounded pool of item
// workers (spec §4.5: "A bounded worker pool (default 4 per user...)
// dequeues items; each worker invokes the mirror engine"). Each worker
// acquires its own global+user concurrency slot per item, not once for the
// whole job, so up to userConcurrency items of the same job are ever
// in flight concurrently.
func (s *Scheduler) run(ctx context.Context, j job.Job) {
	defer s.wg.Done()

	jobCtx, cancel := context.WithCancel(ctx)
	s.cancelMu.Lock()
	s.cancels[j.ID] = cancel
	s.cancelMu.Unlock()
	defer func() {
		cancel()
		s.cancelMu.Lock()
		delete(s.cancels, j.ID)
		s.cancelMu.Unlock()
	}()

	s.mu.Lock()
	factory, ok := s.factories[j.Type]
	s.mu.Unlock()
	if !ok {
		s.finish(ctx, j, fmt.Errorf("no executor registered for job type %q", j.Type))
		return
	}
	exec, err := factory(j)
	if err != nil {
		s.finish(ctx, j, err)
		return
	}

	remaining := job.RemainingItemIDs(j)
	if len(remaining) == 0 {
		s.finish(ctx, j, nil)
		return
	}

	workers := userConcurrency
	if workers > len(remaining) {
		workers = len(remaining)
	}

	items := make(chan string)
	go func() {
		defer close(items)
		for _, itemID := range remaining {
			select {
			case items <- itemID:
			case <-jobCtx.Done():
				return
			}
		}
	}()

	var (
		stateMu sync.Mutex
		current = j
		lastErr error
		workerWG sync.WaitGroup
	)

	for i := 0; i < workers; i++ {
		workerWG.Add(1)
		go func() {
			defer workerWG.Done()
			for itemID := range items {
				if jobCtx.Err() != nil {
					return
				}

				release, err := s.acquire(jobCtx, j.UserID)
				if err != nil {
					return
				}
				execErr := exec(jobCtx, j.UserID, itemID)
				release()

				if execErr != nil {
					stateMu.Lock()
					lastErr = execErr
					stateMu.Unlock()
					s.log.WithError(execErr).WithField("job_id", j.ID).WithField("item_id", itemID).Warn("batch item failed")
					continue
				}

				updated, ckErr := s.jobs.AppendCompletedItem(ctx, j.ID, itemID, time.Now().UTC())
				if ckErr != nil {
					s.log.WithError(ckErr).WithField("job_id", j.ID).Warn("checkpoint write failed")
					continue
				}
				stateMu.Lock()
				current = updated
				stateMu.Unlock()
			}
		}()
	}
	workerWG.Wait()

	if jobCtx.Err() != nil {
		s.log.WithField("job_id", j.ID).Info("job cancelled, finishing in-flight items")
		s.finish(ctx, current, apperr.New("batch.run", apperr.Cancelled, fmt.Errorf("cancelled")))
		return
	}
	s.finish(ctx, current, lastErr)
}

func (s *Scheduler) finish(ctx context.Context, j job.Job, lastErr error) {
	now := time.Now().UTC()
	j.InProgress = false
	j.CompletedAt = &now
	if lastErr != nil {
		if apperr.KindOf(lastErr) == apperr.Cancelled {
			j.Message = "cancelled"
		} else {
			j.Message = sanitizeMessage(lastErr)
		}
	}
	saved, err := s.jobs.UpdateJob(ctx, j)
	if err != nil {
		s.log.WithError(err).WithField("job_id", j.ID).Warn("failed to persist job completion")
		saved = j
	}

	if s.events == nil {
		return
	}
	kind := "batch.completed"
	if lastErr != nil {
		kind = "batch.partial_failure"
	}
	payload := map[string]any{
		"kind":            kind,
		"job_id":          saved.ID,
		"job_type":        saved.Type,
		"completed_items": saved.CompletedItems,
		"total_items":     saved.TotalItems,
	}
	if _, err := s.events.Publish(ctx, saved.UserID, "user:"+saved.UserID, payload); err != nil {
		s.log.WithError(err).Warn("publish batch completion event failed")
	}
}

func (s *Scheduler) acquire(ctx context.Context, userID string) (func(), error) {
	select {
	case s.globalSem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	userCh := s.userSemaphore(userID)
	select {
	case userCh <- struct{}{}:
	case <-ctx.Done():
		<-s.globalSem
		return nil, ctx.Err()
	}

	return func() {
		<-userCh
		<-s.globalSem
	}, nil
}

func (s *Scheduler) userSemaphore(userID string) chan struct{} {
	s.userSemMu.Lock()
	defer s.userSemMu.Unlock()
	ch, ok := s.userSem[userID]
	if !ok {
		ch = make(chan struct{}, userConcurrency)
		s.userSem[userID] = ch
	}
	return ch
}

func sanitizeMessage(err error) string {
	if err == nil {
		return ""
	}
	kind := apperr.KindOf(err)
	if kind == "" {
		return err.Error()
	}
	return fmt.Sprintf("%s: %s", kind, err.Error())
}
