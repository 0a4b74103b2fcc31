package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/vaultmind/vaultmind/internal/models"
)

// pauseGate is the cooperative pause flag a worker checks at batch
// boundaries. The queue never force-suspends a goroutine.
type pauseGate struct {
	mu     sync.Mutex
	paused bool
	resume chan struct{}
}

func newPauseGate() *pauseGate {
	return &pauseGate{}
}

func (g *pauseGate) pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused {
		return
	}
	g.paused = true
	g.resume = make(chan struct{})
}

func (g *pauseGate) resumeNow() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		return
	}
	g.paused = false
	close(g.resume)
}

func (g *pauseGate) isPaused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}

// wait blocks while the gate is paused, or until ctx is cancelled.
func (g *pauseGate) wait(ctx context.Context) error {
	for {
		g.mu.Lock()
		if !g.paused {
			g.mu.Unlock()
			return nil
		}
		ch := g.resume
		g.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ch:
		}
	}
}

// Runtime is handed to each handler invocation. It carries the progress
// channel back to the queue and the cooperative pause/cancel checkpoint.
type Runtime struct {
	manager *Manager
	job     *models.Job
	gate    *pauseGate
}

// Checkpoint observes pause and cancellation. Handlers call it at every
// batch boundary. A paused handler suspends here until resumed; the resumed
// job transitions back to running within the same worker.
func (rt *Runtime) Checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !rt.gate.isPaused() {
		return nil
	}

	if err := rt.gate.wait(ctx); err != nil {
		return err
	}

	// Resumed: the job row was moved paused → queued by Resume; bring it
	// back to running since this worker continues from its checkpoint.
	m := rt.manager
	m.mu.Lock()
	defer m.mu.Unlock()

	fresh, err := m.store.Get(ctx, rt.job.ID)
	if err != nil {
		return err
	}
	if fresh.Status == models.JobStatusQueued || fresh.Status == models.JobStatusPaused {
		prev := fresh.Status
		fresh.Status = models.JobStatusRunning
		if err := m.store.Update(ctx, fresh); err != nil {
			return err
		}
		m.publishStatus(fresh, prev, models.JobStatusRunning)
	}
	return ctx.Err()
}

// Progress persists a progress snapshot and broadcasts it. Percent is
// clamped so it never decreases within a run. The persist runs under the
// queue mutex so it cannot race a concurrent status transition.
func (rt *Runtime) Progress(ctx context.Context, p models.JobProgress) {
	m := rt.manager

	m.mu.Lock()
	fresh, err := m.store.Get(ctx, rt.job.ID)
	if err != nil {
		m.mu.Unlock()
		m.logger.Warn().Str("job_id", rt.job.ID).Err(err).Msg("Failed to load job for progress update")
		return
	}
	if p.Percent < fresh.Progress.Percent {
		p.Percent = fresh.Progress.Percent
	}
	fresh.Progress = p
	if err := m.store.Update(ctx, fresh); err != nil {
		m.mu.Unlock()
		m.logger.Warn().Str("job_id", rt.job.ID).Err(err).Msg("Failed to persist job progress")
		return
	}
	m.mu.Unlock()

	rt.manager.bus.Publish(models.Event{
		Type:       models.EventProgressUpdate,
		Collection: fresh.CollectionName,
		JobID:      fresh.ID,
		Data: map[string]interface{}{
			"percent":           p.Percent,
			"current_file":      p.CurrentFile,
			"files_processed":   p.FilesProcessed,
			"total_files":       p.TotalFiles,
			"documents_created": p.DocumentsCreated,
			"chunks_created":    p.ChunksCreated,
			"errors_count":      p.ErrorsCount,
		},
		Timestamp: time.Now().UTC(),
	})
}
