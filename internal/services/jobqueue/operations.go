package jobqueue

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vaultmind/vaultmind/internal/common"
	"github.com/vaultmind/vaultmind/internal/models"
)

// maxBacklog bounds the pending+queued backlog before create returns
// queue_full.
const maxBacklog = 1000

// Create inserts a durable job row with status pending and wakes the
// dispatcher. The per-collection single-active-job invariant is enforced
// here under the queue-wide mutex: a collection with an active job rejects
// a second one with a conflict.
func (m *Manager) Create(ctx context.Context, kind, collectionName string, payload models.JobPayload, priority int) (string, error) {
	if !models.ValidJobKind(kind) {
		return "", common.InvalidArgument("unknown job kind '%s'", kind)
	}
	if payload.Kind == "" {
		payload.Kind = kind
	}
	if payload.Kind != kind {
		return "", common.InvalidArgument("payload kind '%s' does not match job kind '%s'", payload.Kind, kind)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	active, err := m.store.ActiveForCollection(ctx, collectionName)
	if err != nil {
		return "", err
	}
	if active != nil {
		return "", common.Conflict("collection '%s' already has an active %s job", collectionName, active.Kind)
	}

	counts, err := m.store.CountByStatus(ctx)
	if err != nil {
		return "", err
	}
	if counts[models.JobStatusPending]+counts[models.JobStatusQueued] >= maxBacklog {
		return "", common.QueueFull("job queue backlog is full")
	}

	if priority == 0 {
		priority = models.DefaultPriority(kind)
	}

	job := &models.Job{
		ID:             uuid.New().String(),
		Kind:           kind,
		CollectionName: collectionName,
		Status:         models.JobStatusPending,
		Priority:       priority,
		CreatedAt:      time.Now().UTC(),
		Payload:        payload,
		MaxRetries:     m.config.MaxRetries,
	}
	if err := m.store.Insert(ctx, job); err != nil {
		return "", err
	}

	m.publishStatus(job, "", models.JobStatusPending)
	m.signalWake()

	if m.config.HistoryLimit > 0 {
		if _, err := m.store.PruneTerminal(ctx, m.config.HistoryLimit); err != nil {
			m.logger.Warn().Err(err).Msg("Failed to prune job history")
		}
	}

	m.logger.Info().
		Str("job_id", job.ID).
		Str("kind", kind).
		Str("collection", collectionName).
		Int("priority", priority).
		Msg("Job created")
	return job.ID, nil
}

// Get returns one job by id.
func (m *Manager) Get(ctx context.Context, id string) (*models.Job, error) {
	return m.store.Get(ctx, id)
}

// ListForCollection returns recent jobs for one collection.
func (m *Manager) ListForCollection(ctx context.Context, name string, limit int) ([]models.Job, error) {
	return m.store.ListForCollection(ctx, name, limit)
}

// ListActive returns every job in a non-terminal status.
func (m *Manager) ListActive(ctx context.Context) ([]models.Job, error) {
	var active []models.Job
	for _, status := range models.ActiveStatuses {
		jobs, err := m.store.ListByStatus(ctx, status, 0)
		if err != nil {
			return nil, err
		}
		active = append(active, jobs...)
	}
	return active, nil
}

// ActiveForCollection returns the single active job for a collection, if any.
func (m *Manager) ActiveForCollection(ctx context.Context, name string) (*models.Job, error) {
	return m.store.ActiveForCollection(ctx, name)
}

// UpdateProgress atomically writes a progress snapshot and, optionally, a
// status — but only if the transition is legal.
func (m *Manager) UpdateProgress(ctx context.Context, id string, progress models.JobProgress, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if progress.Percent < job.Progress.Percent {
		progress.Percent = job.Progress.Percent
	}
	job.Progress = progress

	var prev string
	transitioned := false
	if status != "" && status != job.Status {
		if !models.CanTransition(job.Status, status) {
			return common.InvalidArgument("illegal job transition %s → %s", job.Status, status)
		}
		prev = job.Status
		job.Status = status
		if status == models.JobStatusRunning && job.StartedAt.IsZero() {
			job.StartedAt = time.Now().UTC()
		}
		if models.IsTerminal(status) {
			job.CompletedAt = time.Now().UTC()
		}
		transitioned = true
	}

	if err := m.store.Update(ctx, job); err != nil {
		return err
	}
	if transitioned {
		m.publishStatus(job, prev, status)
	}
	return nil
}

// Pause suspends a running job cooperatively. Returns false when the job is
// not running. The whole read-modify-write runs under the queue mutex so a
// concurrent progress persist cannot overwrite the paused status.
func (m *Manager) Pause(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rj, isRunning := m.running[id]
	job, err := m.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if job.Status != models.JobStatusRunning || !isRunning {
		return false, nil
	}

	prev := job.Status
	job.Status = models.JobStatusPaused
	if err := m.store.Update(ctx, job); err != nil {
		return false, err
	}
	rj.gate.pause()
	m.publishStatus(job, prev, models.JobStatusPaused)

	m.logger.Info().Str("job_id", id).Msg("Job paused")
	return true, nil
}

// Resume moves a paused job back to queued. A worker suspended at its
// checkpoint continues in place; otherwise the dispatcher re-drives the job.
func (m *Manager) Resume(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if job.Status != models.JobStatusPaused {
		return false, nil
	}

	prev := job.Status
	job.Status = models.JobStatusQueued
	if err := m.store.Update(ctx, job); err != nil {
		return false, err
	}
	m.publishStatus(job, prev, models.JobStatusQueued)

	if rj, isRunning := m.running[id]; isRunning {
		rj.gate.resumeNow()
	} else {
		m.signalWake()
	}

	m.logger.Info().Str("job_id", id).Msg("Job resumed")
	return true, nil
}

// Cancel terminates a job. A running worker observes cancellation at its
// next batch boundary; a queued job is cancelled immediately. Returns false
// for jobs already terminal.
func (m *Manager) Cancel(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if models.IsTerminal(job.Status) {
		return false, nil
	}

	if rj, isRunning := m.running[id]; isRunning {
		rj.cancel()
		rj.gate.resumeNow() // unblock a paused checkpoint
		m.logger.Info().Str("job_id", id).Msg("Job cancellation requested")
		return true, nil
	}

	m.finalizeLocked(id, models.JobStatusCancelled, "")
	m.logger.Info().Str("job_id", id).Msg("Job cancelled")
	return true, nil
}

// Stats returns queue-wide counters.
func (m *Manager) Stats(ctx context.Context) (models.QueueStats, error) {
	counts, err := m.store.CountByStatus(ctx)
	if err != nil {
		return models.QueueStats{}, err
	}

	m.mu.Lock()
	running := len(m.running)
	m.mu.Unlock()

	maxConc := m.config.GetMaxConcurrent()
	available := maxConc - running
	if available < 0 {
		available = 0
	}

	return models.QueueStats{
		Running:        counts[models.JobStatusRunning],
		Queued:         counts[models.JobStatusQueued],
		Pending:        counts[models.JobStatusPending],
		Paused:         counts[models.JobStatusPaused],
		Failed:         counts[models.JobStatusFailed],
		Completed:      counts[models.JobStatusCompleted],
		AvailableSlots: available,
		MaxConcurrent:  maxConc,
	}, nil
}

// MergeIncremental folds additional changes into a not-yet-started
// incremental job's payload. Returns false when the job already started
// (the caller then enqueues a fresh job after it terminates).
func (m *Manager) MergeIncremental(ctx context.Context, id string, changes models.IncrementalPayload) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, err := m.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if job.Kind != models.JobKindIncrementalUpdate || job.Payload.Incremental == nil {
		return false, common.InvalidArgument("job '%s' is not an incremental update", id)
	}
	if job.Status != models.JobStatusPending && job.Status != models.JobStatusQueued {
		return false, nil
	}

	merged := job.Payload.Incremental
	merged.Added = mergeSet(merged.Added, changes.Added)
	merged.Modified = mergeSet(merged.Modified, changes.Modified)
	merged.Deleted = mergeSet(merged.Deleted, changes.Deleted)

	if err := m.store.Update(ctx, job); err != nil {
		return false, err
	}
	return true, nil
}

// mergeSet unions two path lists preserving first-seen order.
func mergeSet(existing, extra []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, p := range existing {
		seen[p] = true
	}
	for _, p := range extra {
		if !seen[p] {
			seen[p] = true
			existing = append(existing, p)
		}
	}
	return existing
}
