package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vaultmind/vaultmind/internal/common"
	"github.com/vaultmind/vaultmind/internal/events"
	"github.com/vaultmind/vaultmind/internal/interfaces"
	"github.com/vaultmind/vaultmind/internal/models"
	"github.com/vaultmind/vaultmind/internal/storage/badger"
)

func newTestManager(t *testing.T, config common.QueueConfig) (*Manager, interfaces.JobStore) {
	t.Helper()
	logger := common.NewSilentLogger()
	store, err := badger.NewStore(logger, t.TempDir())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	bus := events.NewBus(logger)
	js := badger.NewJobStore(store, logger)
	m := NewManager(js, bus, logger, config)
	t.Cleanup(func() {
		m.Stop()
		bus.Stop()
		store.Close()
	})
	return m, js
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestCreateEnforcesSingleActiveJob(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, common.QueueConfig{})

	id, err := m.Create(ctx, models.JobKindIndex, "notes", models.JobPayload{}, 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id == "" {
		t.Fatal("empty job id")
	}

	_, err = m.Create(ctx, models.JobKindReindex, "notes", models.JobPayload{}, 0)
	if common.ErrorCode(err) != common.CodeConflict {
		t.Errorf("second job for same collection should conflict, got %v", err)
	}

	// a different collection is unaffected
	if _, err := m.Create(ctx, models.JobKindIndex, "other", models.JobPayload{}, 0); err != nil {
		t.Errorf("create for other collection: %v", err)
	}
}

func TestCreateRejectsUnknownKind(t *testing.T) {
	m, _ := newTestManager(t, common.QueueConfig{})
	_, err := m.Create(context.Background(), "sweep", "notes", models.JobPayload{}, 0)
	if common.ErrorCode(err) != common.CodeInvalidArgument {
		t.Errorf("unknown kind should be invalid_argument, got %v", err)
	}
}

func TestCreateRejectsMismatchedPayloadKind(t *testing.T) {
	m, _ := newTestManager(t, common.QueueConfig{})
	payload := models.JobPayload{Kind: models.JobKindReindex}
	_, err := m.Create(context.Background(), models.JobKindIndex, "notes", payload, 0)
	if common.ErrorCode(err) != common.CodeInvalidArgument {
		t.Errorf("mismatched payload kind should be invalid_argument, got %v", err)
	}
}

func TestCreateQueueFull(t *testing.T) {
	ctx := context.Background()
	m, js := newTestManager(t, common.QueueConfig{})

	for i := 0; i < maxBacklog; i++ {
		err := js.Insert(ctx, &models.Job{
			ID:             fmt.Sprintf("backlog-%d", i),
			Kind:           models.JobKindIndex,
			CollectionName: fmt.Sprintf("c%d", i),
			Status:         models.JobStatusPending,
			CreatedAt:      time.Now().UTC(),
		})
		if err != nil {
			t.Fatal(err)
		}
	}

	_, err := m.Create(ctx, models.JobKindIndex, "one-more", models.JobPayload{}, 0)
	if common.ErrorCode(err) != common.CodeQueueFull {
		t.Errorf("full backlog should reject with queue_full, got %v", err)
	}
}

func TestDispatchRunsHandler(t *testing.T) {
	ctx := context.Background()
	m, js := newTestManager(t, common.QueueConfig{RetryBackoff: "10ms"})

	ran := make(chan string, 1)
	m.RegisterHandler(models.JobKindIndex, func(ctx context.Context, job *models.Job, rt *Runtime) error {
		ran <- job.CollectionName
		return nil
	})
	m.Start()

	id, err := m.Create(ctx, models.JobKindIndex, "notes", models.JobPayload{}, 0)
	if err != nil {
		t.Fatal(err)
	}

	select {
	case got := <-ran:
		if got != "notes" {
			t.Errorf("handler saw collection %q", got)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("handler never ran")
	}

	waitFor(t, "job completion", func() bool {
		job, err := js.Get(ctx, id)
		return err == nil && job.Status == models.JobStatusCompleted
	})
	job, _ := js.Get(ctx, id)
	if job.CompletedAt.IsZero() {
		t.Error("completed job should record CompletedAt")
	}
}

func TestPauseAndResume(t *testing.T) {
	ctx := context.Background()
	m, js := newTestManager(t, common.QueueConfig{})

	started := make(chan struct{})
	release := make(chan struct{})
	m.RegisterHandler(models.JobKindIndex, func(ctx context.Context, job *models.Job, rt *Runtime) error {
		close(started)
		<-release
		return rt.Checkpoint(ctx)
	})
	m.Start()

	id, err := m.Create(ctx, models.JobKindIndex, "notes", models.JobPayload{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	<-started

	ok, err := m.Pause(ctx, id)
	if err != nil || !ok {
		t.Fatalf("pause = %v, %v", ok, err)
	}
	job, _ := js.Get(ctx, id)
	if job.Status != models.JobStatusPaused {
		t.Errorf("status after pause = %s", job.Status)
	}

	// pausing again is a no-op: the job is no longer running
	ok, err = m.Pause(ctx, id)
	if err != nil || ok {
		t.Errorf("second pause = %v, %v", ok, err)
	}

	// the worker now blocks at its checkpoint until resumed
	close(release)

	ok, err = m.Resume(ctx, id)
	if err != nil || !ok {
		t.Fatalf("resume = %v, %v", ok, err)
	}

	waitFor(t, "job completion after resume", func() bool {
		job, err := js.Get(ctx, id)
		return err == nil && job.Status == models.JobStatusCompleted
	})
}

func TestPauseHoldsAgainstConcurrentProgress(t *testing.T) {
	ctx := context.Background()
	m, js := newTestManager(t, common.QueueConfig{})

	started := make(chan struct{})
	m.RegisterHandler(models.JobKindIndex, func(ctx context.Context, job *models.Job, rt *Runtime) error {
		close(started)
		for i := 0; ; i++ {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			rt.Progress(ctx, models.JobProgress{Percent: float64(i % 100)})
		}
	})
	m.Start()

	id, err := m.Create(ctx, models.JobKindIndex, "notes", models.JobPayload{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	<-started
	waitFor(t, "running status", func() bool {
		job, err := js.Get(ctx, id)
		return err == nil && job.Status == models.JobStatusRunning
	})

	ok, err := m.Pause(ctx, id)
	if err != nil || !ok {
		t.Fatalf("pause = %v, %v", ok, err)
	}

	// The worker keeps persisting progress until its next checkpoint; none
	// of those writes may put the status back to running.
	for i := 0; i < 20; i++ {
		job, err := js.Get(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if job.Status != models.JobStatusPaused {
			t.Fatalf("status flipped to %s while paused", job.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}

	ok, err = m.Cancel(ctx, id)
	if err != nil || !ok {
		t.Fatalf("cancel = %v, %v", ok, err)
	}
	waitFor(t, "job cancellation", func() bool {
		job, err := js.Get(ctx, id)
		return err == nil && job.Status == models.JobStatusCancelled
	})
}

func TestResumeRequiresPaused(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, common.QueueConfig{})

	id, err := m.Create(ctx, models.JobKindIndex, "notes", models.JobPayload{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	ok, err := m.Resume(ctx, id)
	if err != nil || ok {
		t.Errorf("resume of a pending job = %v, %v", ok, err)
	}
}

func TestCancelRunningJob(t *testing.T) {
	ctx := context.Background()
	m, js := newTestManager(t, common.QueueConfig{})

	started := make(chan struct{})
	m.RegisterHandler(models.JobKindIndex, func(ctx context.Context, job *models.Job, rt *Runtime) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	m.Start()

	id, err := m.Create(ctx, models.JobKindIndex, "notes", models.JobPayload{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	<-started

	ok, err := m.Cancel(ctx, id)
	if err != nil || !ok {
		t.Fatalf("cancel = %v, %v", ok, err)
	}

	waitFor(t, "job cancellation", func() bool {
		job, err := js.Get(ctx, id)
		return err == nil && job.Status == models.JobStatusCancelled
	})

	// terminal jobs cannot be cancelled again
	ok, err = m.Cancel(ctx, id)
	if err != nil || ok {
		t.Errorf("cancel of terminal job = %v, %v", ok, err)
	}
}

func TestCancelQueuedJobImmediately(t *testing.T) {
	ctx := context.Background()
	m, js := newTestManager(t, common.QueueConfig{})

	// no Start: the job stays pending
	id, err := m.Create(ctx, models.JobKindIndex, "notes", models.JobPayload{}, 0)
	if err != nil {
		t.Fatal(err)
	}

	ok, err := m.Cancel(ctx, id)
	if err != nil || !ok {
		t.Fatalf("cancel = %v, %v", ok, err)
	}
	job, _ := js.Get(ctx, id)
	if job.Status != models.JobStatusCancelled {
		t.Errorf("status = %s, want cancelled", job.Status)
	}
}

func TestFailedJobRetriesWithBackoff(t *testing.T) {
	ctx := context.Background()
	m, js := newTestManager(t, common.QueueConfig{MaxRetries: 1, RetryBackoff: "1ms"})

	var attempts atomic.Int32
	m.RegisterHandler(models.JobKindIndex, func(ctx context.Context, job *models.Job, rt *Runtime) error {
		attempts.Add(1)
		return errors.New("embedder unavailable")
	})
	m.Start()

	id, err := m.Create(ctx, models.JobKindIndex, "notes", models.JobPayload{}, 0)
	if err != nil {
		t.Fatal(err)
	}

	waitFor(t, "retry exhaustion", func() bool {
		job, err := js.Get(ctx, id)
		return err == nil &&
			job.Status == models.JobStatusFailed &&
			job.RetryCount == 1 &&
			attempts.Load() == 2
	})

	job, _ := js.Get(ctx, id)
	if job.LastError == "" {
		t.Error("failed job should record the last error")
	}
}

func TestUpdateProgressClampsAndGuards(t *testing.T) {
	ctx := context.Background()
	m, js := newTestManager(t, common.QueueConfig{})

	id, err := m.Create(ctx, models.JobKindIndex, "notes", models.JobPayload{}, 0)
	if err != nil {
		t.Fatal(err)
	}

	if err := m.UpdateProgress(ctx, id, models.JobProgress{Percent: 50, FilesProcessed: 5}, ""); err != nil {
		t.Fatalf("progress update: %v", err)
	}

	// percent never decreases within a run
	if err := m.UpdateProgress(ctx, id, models.JobProgress{Percent: 30, FilesProcessed: 7}, ""); err != nil {
		t.Fatal(err)
	}
	job, _ := js.Get(ctx, id)
	if job.Progress.Percent != 50 {
		t.Errorf("percent = %f, want clamped to 50", job.Progress.Percent)
	}
	if job.Progress.FilesProcessed != 7 {
		t.Errorf("files processed = %d, want 7", job.Progress.FilesProcessed)
	}

	// illegal status transition is rejected
	err = m.UpdateProgress(ctx, id, models.JobProgress{Percent: 60}, models.JobStatusRunning)
	if common.ErrorCode(err) != common.CodeInvalidArgument {
		t.Errorf("pending -> running should be rejected, got %v", err)
	}

	// legal transition goes through
	if err := m.UpdateProgress(ctx, id, models.JobProgress{Percent: 60}, models.JobStatusQueued); err != nil {
		t.Fatal(err)
	}
	job, _ = js.Get(ctx, id)
	if job.Status != models.JobStatusQueued {
		t.Errorf("status = %s, want queued", job.Status)
	}
}

func TestMergeIncremental(t *testing.T) {
	ctx := context.Background()
	m, js := newTestManager(t, common.QueueConfig{})

	payload := models.JobPayload{
		Incremental: &models.IncrementalPayload{Added: []string{"a.md"}},
	}
	id, err := m.Create(ctx, models.JobKindIncrementalUpdate, "notes", payload, 0)
	if err != nil {
		t.Fatal(err)
	}

	merged, err := m.MergeIncremental(ctx, id, models.IncrementalPayload{
		Added:   []string{"a.md", "b.md"},
		Deleted: []string{"c.md"},
	})
	if err != nil || !merged {
		t.Fatalf("merge = %v, %v", merged, err)
	}

	job, _ := js.Get(ctx, id)
	inc := job.Payload.Incremental
	if len(inc.Added) != 2 || inc.Added[0] != "a.md" || inc.Added[1] != "b.md" {
		t.Errorf("added = %v", inc.Added)
	}
	if len(inc.Deleted) != 1 || inc.Deleted[0] != "c.md" {
		t.Errorf("deleted = %v", inc.Deleted)
	}

	// a started job no longer accepts merges
	job.Status = models.JobStatusRunning
	if err := js.Update(ctx, job); err != nil {
		t.Fatal(err)
	}
	merged, err = m.MergeIncremental(ctx, id, models.IncrementalPayload{Added: []string{"d.md"}})
	if err != nil || merged {
		t.Errorf("merge into running job = %v, %v", merged, err)
	}
}

func TestMergeIncrementalRejectsOtherKinds(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, common.QueueConfig{})

	id, err := m.Create(ctx, models.JobKindIndex, "notes", models.JobPayload{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	_, err = m.MergeIncremental(ctx, id, models.IncrementalPayload{Added: []string{"a.md"}})
	if common.ErrorCode(err) != common.CodeInvalidArgument {
		t.Errorf("merge into index job should be invalid_argument, got %v", err)
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, common.QueueConfig{MaxConcurrent: 2})

	for _, name := range []string{"a", "b", "c"} {
		if _, err := m.Create(ctx, models.JobKindIndex, name, models.JobPayload{}, 0); err != nil {
			t.Fatal(err)
		}
	}

	stats, err := m.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Pending != 3 {
		t.Errorf("pending = %d, want 3", stats.Pending)
	}
	if stats.MaxConcurrent != 2 || stats.AvailableSlots != 2 {
		t.Errorf("slots = %d/%d", stats.AvailableSlots, stats.MaxConcurrent)
	}
}

func TestRestartRecoversRunningJobs(t *testing.T) {
	ctx := context.Background()
	m, js := newTestManager(t, common.QueueConfig{})

	err := js.Insert(ctx, &models.Job{
		ID:             "orphan",
		Kind:           models.JobKindIndex,
		CollectionName: "notes",
		Status:         models.JobStatusRunning,
		CreatedAt:      time.Now().UTC(),
	})
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan struct{})
	m.RegisterHandler(models.JobKindIndex, func(ctx context.Context, job *models.Job, rt *Runtime) error {
		close(done)
		return nil
	})
	m.Start()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("orphaned job was not re-driven after restart")
	}

	waitFor(t, "orphan completion", func() bool {
		job, err := js.Get(ctx, "orphan")
		return err == nil && job.Status == models.JobStatusCompleted
	})
}

func TestDefaultPriorityAppliedOnCreate(t *testing.T) {
	ctx := context.Background()
	m, js := newTestManager(t, common.QueueConfig{})

	id, err := m.Create(ctx, models.JobKindDelete, "notes", models.JobPayload{}, 0)
	if err != nil {
		t.Fatal(err)
	}
	job, _ := js.Get(ctx, id)
	if job.Priority != models.DefaultPriority(models.JobKindDelete) {
		t.Errorf("priority = %d", job.Priority)
	}

	id2, err := m.Create(ctx, models.JobKindIndex, "other", models.JobPayload{}, 9)
	if err != nil {
		t.Fatal(err)
	}
	job2, _ := js.Get(ctx, id2)
	if job2.Priority != 9 {
		t.Errorf("explicit priority = %d, want 9", job2.Priority)
	}
}
