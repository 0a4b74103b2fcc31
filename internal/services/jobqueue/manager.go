// Package jobqueue provides the persistent job queue: a bounded worker pool
// dispatching durable jobs with pause/resume/cancel and crash recovery.
package jobqueue

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/vaultmind/vaultmind/internal/common"
	"github.com/vaultmind/vaultmind/internal/events"
	"github.com/vaultmind/vaultmind/internal/interfaces"
	"github.com/vaultmind/vaultmind/internal/models"
)

// Handler executes one job kind. It must observe rt.Checkpoint at every
// batch boundary and be idempotent: a crash-recovered job is re-run from
// the beginning.
type Handler func(ctx context.Context, job *models.Job, rt *Runtime) error

// runningJob is the in-memory control block for an executing worker.
type runningJob struct {
	collection string
	cancel     context.CancelFunc
	gate       *pauseGate
}

// Manager owns the durable queue: dispatching, worker pool, lifecycle
// operations, and crash recovery.
type Manager struct {
	store  interfaces.JobStore
	bus    *events.Bus
	logger *common.Logger
	config common.QueueConfig

	handlers map[string]Handler

	// mu guards the running set and serializes every job-row
	// read-modify-write so concurrent writers cannot clobber a status.
	mu      sync.Mutex
	running map[string]*runningJob

	wake   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Compile-time interface check
var _ interfaces.JobService = (*Manager)(nil)

// NewManager creates a job queue manager.
func NewManager(store interfaces.JobStore, bus *events.Bus, logger *common.Logger, config common.QueueConfig) *Manager {
	return &Manager{
		store:    store,
		bus:      bus,
		logger:   logger,
		config:   config,
		handlers: make(map[string]Handler),
		running:  make(map[string]*runningJob),
		wake:     make(chan struct{}, 1),
	}
}

// RegisterHandler binds a handler to a job kind. Must be called before Start.
func (m *Manager) RegisterHandler(kind string, handler Handler) {
	m.handlers[kind] = handler
}

// safeGo launches a goroutine with panic recovery and logging.
func (m *Manager) safeGo(name string, fn func()) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error().
					Str("goroutine", name).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(debug.Stack())).
					Msg("Recovered from panic in job queue goroutine")
			}
		}()
		fn()
	}()
}

// Start recovers interrupted work and launches the dispatcher.
// Safe to call multiple times — stops any existing loops before starting.
func (m *Manager) Start() {
	if m.cancel != nil {
		m.Stop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	// Interrupted running jobs are re-driven from scratch; handlers are
	// idempotent so the re-run converges. Paused jobs stay paused.
	if count, err := m.store.ResetRunningJobs(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("Failed to reset orphaned running jobs")
	} else if count > 0 {
		m.logger.Info().Int("count", count).Msg("Re-queued interrupted jobs after restart")
	}

	m.safeGo("dispatcher", func() { m.dispatchLoop(ctx) })

	m.logger.Info().
		Int("max_concurrent", m.config.GetMaxConcurrent()).
		Msg("Job queue started")
}

// Stop cancels all workers and the dispatcher, waiting for completion.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.wg.Wait()
	m.logger.Info().Msg("Job queue stopped")
}

// signalWake nudges the dispatcher without blocking.
func (m *Manager) signalWake() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// dispatchLoop wakes on new-job signals, job termination, and a 1 s timer.
func (m *Manager) dispatchLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.wake:
		case <-ticker.C:
		}
		m.dispatch(ctx)
	}
}

// dispatch promotes eligible jobs to running under the queue-wide mutex.
// A collection with an already-running job is skipped, which is what
// enforces the single-active-job invariant between dispatches.
func (m *Manager) dispatch(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	maxConc := m.config.GetMaxConcurrent()
	slots := maxConc - len(m.running)
	if slots <= 0 {
		return
	}

	jobs, err := m.store.Dispatchable(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Dispatcher: failed to load dispatchable jobs")
		return
	}

	busy := make(map[string]bool, len(m.running))
	for _, rj := range m.running {
		busy[rj.collection] = true
	}

	for i := range jobs {
		if slots <= 0 {
			break
		}
		job := jobs[i]
		if busy[job.CollectionName] {
			continue
		}
		if _, ok := m.running[job.ID]; ok {
			continue
		}
		if _, ok := m.handlers[job.Kind]; !ok {
			m.logger.Error().Str("job_id", job.ID).Str("kind", job.Kind).Msg("No handler registered for job kind")
			continue
		}

		prev := job.Status
		job.Status = models.JobStatusRunning
		job.StartedAt = time.Now().UTC()
		if err := m.store.Update(ctx, &job); err != nil {
			m.logger.Warn().Str("job_id", job.ID).Err(err).Msg("Dispatcher: failed to promote job")
			continue
		}
		m.publishStatus(&job, prev, models.JobStatusRunning)

		jobCtx, jobCancel := context.WithCancel(ctx)
		gate := newPauseGate()
		m.running[job.ID] = &runningJob{
			collection: job.CollectionName,
			cancel:     jobCancel,
			gate:       gate,
		}
		busy[job.CollectionName] = true
		slots--

		jobCopy := job
		m.safeGo("worker-"+job.ID, func() { m.runJob(jobCtx, &jobCopy, gate) })
	}
}

// runJob executes one job to a terminal state.
func (m *Manager) runJob(ctx context.Context, job *models.Job, gate *pauseGate) {
	defer m.signalWake()

	handler := m.handlers[job.Kind]
	rt := &Runtime{manager: m, job: job, gate: gate}

	start := time.Now()
	err := func() (handlerErr error) {
		defer func() {
			if r := recover(); r != nil {
				handlerErr = fmt.Errorf("handler panic: %v\n%s", r, debug.Stack())
			}
		}()
		return handler(ctx, job, rt)
	}()
	durationMS := time.Since(start).Milliseconds()

	m.mu.Lock()
	delete(m.running, job.ID)
	m.mu.Unlock()

	switch {
	case err == nil:
		m.logger.Debug().
			Str("job_id", job.ID).
			Str("kind", job.Kind).
			Str("collection", job.CollectionName).
			Int64("duration_ms", durationMS).
			Msg("Job completed")
		m.finalize(job.ID, models.JobStatusCompleted, "")

	case ctx.Err() != nil:
		m.logger.Info().
			Str("job_id", job.ID).
			Str("kind", job.Kind).
			Msg("Job cancelled")
		m.finalize(job.ID, models.JobStatusCancelled, "")

	default:
		m.logger.Warn().
			Str("job_id", job.ID).
			Str("kind", job.Kind).
			Str("collection", job.CollectionName).
			Int64("duration_ms", durationMS).
			Err(err).
			Msg("Job failed")
		m.failWithRetry(job.ID, err)
	}
}

// finalize writes a terminal status. Entering a terminal state is
// idempotent: if the row is already terminal, this is a no-op.
func (m *Manager) finalize(jobID, status, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalizeLocked(jobID, status, errMsg)
}

// finalizeLocked is finalize with m.mu already held.
func (m *Manager) finalizeLocked(jobID, status, errMsg string) {
	ctx := context.Background()
	fresh, err := m.store.Get(ctx, jobID)
	if err != nil {
		m.logger.Warn().Str("job_id", jobID).Err(err).Msg("Failed to load job for finalization")
		return
	}
	if models.IsTerminal(fresh.Status) {
		return
	}

	prev := fresh.Status
	fresh.Status = status
	fresh.CompletedAt = time.Now().UTC()
	if errMsg != "" {
		fresh.LastError = errMsg
	}
	if err := m.store.Update(ctx, fresh); err != nil {
		m.logger.Warn().Str("job_id", jobID).Err(err).Msg("Failed to finalize job")
		return
	}
	m.publishStatus(fresh, prev, status)

	if status == models.JobStatusFailed {
		m.bus.Publish(models.Event{
			Type:       models.EventError,
			Collection: fresh.CollectionName,
			JobID:      fresh.ID,
			Data:       map[string]interface{}{"error": fresh.LastError, "kind": fresh.Kind},
		})
	}
}

// failWithRetry writes failed and, when the retry budget allows, schedules
// a re-queue after an exponential backoff.
func (m *Manager) failWithRetry(jobID string, cause error) {
	m.finalize(jobID, models.JobStatusFailed, cause.Error())

	ctx := context.Background()
	fresh, err := m.store.Get(ctx, jobID)
	if err != nil || fresh.Status != models.JobStatusFailed {
		return
	}
	if fresh.RetryCount >= fresh.MaxRetries {
		return
	}

	delay := retryDelay(m.config.GetRetryBackoff(), fresh.RetryCount)
	m.logger.Info().
		Str("job_id", jobID).
		Int("retry", fresh.RetryCount+1).
		Int("max_retries", fresh.MaxRetries).
		Dur("backoff", delay).
		Msg("Scheduling job retry")

	m.safeGo("retry-"+jobID, func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		<-timer.C

		m.mu.Lock()
		defer m.mu.Unlock()

		current, err := m.store.Get(ctx, jobID)
		if err != nil || current.Status != models.JobStatusFailed {
			return
		}
		prev := current.Status
		current.Status = models.JobStatusQueued
		current.RetryCount++
		current.LastError = ""
		current.CompletedAt = time.Time{}
		if err := m.store.Update(ctx, current); err != nil {
			m.logger.Warn().Str("job_id", jobID).Err(err).Msg("Failed to re-queue job for retry")
			return
		}
		m.publishStatus(current, prev, models.JobStatusQueued)
		m.signalWake()
	})
}

// retryDelay computes the exponential backoff for the nth retry, capped at
// two minutes.
func retryDelay(initial time.Duration, retryCount int) time.Duration {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = initial
	eb.Multiplier = 2
	eb.MaxInterval = 2 * time.Minute
	eb.RandomizationFactor = 0.1
	eb.Reset()

	delay := eb.NextBackOff()
	for i := 0; i < retryCount; i++ {
		next := eb.NextBackOff()
		if next == backoff.Stop {
			break
		}
		delay = next
	}
	return delay
}

// publishStatus broadcasts a status transition on the collection and job
// topics.
func (m *Manager) publishStatus(job *models.Job, from, to string) {
	m.bus.Publish(models.Event{
		Type:       models.EventStatusChange,
		Collection: job.CollectionName,
		JobID:      job.ID,
		Data: map[string]interface{}{
			"kind":        job.Kind,
			"from_status": from,
			"to_status":   to,
		},
	})
}
