package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/vaultmind/vaultmind/internal/common"
	"github.com/vaultmind/vaultmind/internal/events"
	"github.com/vaultmind/vaultmind/internal/indexer"
	"github.com/vaultmind/vaultmind/internal/models"
	"github.com/vaultmind/vaultmind/internal/services/jobqueue"
	"github.com/vaultmind/vaultmind/internal/storage"
)

// fakeEmbedder produces deterministic two-dimensional vectors.
type fakeEmbedder struct{}

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = []float32{float32(len(text)), 1}
	}
	return vectors, nil
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text)), 1}, nil
}

func (f *fakeEmbedder) Dimension() int { return 2 }
func (f *fakeEmbedder) Model() string  { return "fake-embedder" }

type fixture struct {
	storage  *storage.Manager
	queue    *jobqueue.Manager
	outcomes chan models.JobOutcome
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := common.NewSilentLogger()

	cfg := common.NewDefaultConfig()
	cfg.Storage.DataDir = t.TempDir()
	cfg.Queue.MaxRetries = 0

	store, err := storage.NewManager(logger, cfg)
	if err != nil {
		t.Fatalf("failed to open storage: %v", err)
	}
	bus := events.NewBus(logger)
	queue := jobqueue.NewManager(store.JobStore(), bus, logger, cfg.Queue)

	f := &fixture{
		storage:  store,
		queue:    queue,
		outcomes: make(chan models.JobOutcome, 16),
	}

	svc := NewService(store, &fakeEmbedder{}, logger, cfg)
	svc.Register(queue, func(_ context.Context, _ *models.Job, outcome models.JobOutcome) error {
		f.outcomes <- outcome
		return nil
	})
	queue.Start()

	t.Cleanup(func() {
		queue.Stop()
		bus.Stop()
		store.Close()
	})
	return f
}

func (f *fixture) insertCollection(t *testing.T, name, sourcePath string) {
	t.Helper()
	now := time.Now().UTC()
	err := f.storage.CollectionStore().Insert(context.Background(), &models.Collection{
		Name:       name,
		SourcePath: sourcePath,
		Config:     models.CollectionConfig{ChunkSize: 1000, ChunkOverlap: 200, Enabled: true},
		CreatedAt:  now,
		UpdatedAt:  now,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func (f *fixture) awaitOutcome(t *testing.T) models.JobOutcome {
	t.Helper()
	select {
	case outcome := <-f.outcomes:
		return outcome
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for job outcome")
		return models.JobOutcome{}
	}
}

func (f *fixture) awaitTerminal(t *testing.T, jobID string) *models.Job {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		job, err := f.storage.JobStore().Get(context.Background(), jobID)
		if err == nil && models.IsTerminal(job.Status) {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job never reached a terminal state")
	return nil
}

func writeNote(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestIndexJobPopulatesNamespace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	vault := t.TempDir()
	writeNote(t, vault, "a.md", "# Alpha\n\nfirst note body")
	writeNote(t, vault, "sub/b.md", "# Beta\n\nsecond note body")
	f.insertCollection(t, "notes", vault)

	jobID, err := f.queue.Create(ctx, models.JobKindIndex, "notes",
		models.JobPayload{Index: &models.IndexPayload{}}, 0)
	if err != nil {
		t.Fatal(err)
	}

	outcome := f.awaitOutcome(t)
	if !outcome.Success {
		t.Fatalf("outcome = %+v", outcome)
	}
	if outcome.DocumentCount != 2 {
		t.Errorf("documents = %d, want 2", outcome.DocumentCount)
	}
	if outcome.ChunkCount < 2 {
		t.Errorf("chunks = %d", outcome.ChunkCount)
	}

	job := f.awaitTerminal(t, jobID)
	if job.Status != models.JobStatusCompleted {
		t.Errorf("job status = %s", job.Status)
	}
	if job.Progress.Percent != 100 {
		t.Errorf("final percent = %f", job.Progress.Percent)
	}

	// records are stored under deterministic chunk ids
	namespace := models.NamespaceFor("notes")
	record, err := f.storage.VectorStore().GetRecord(ctx, namespace, indexer.ChunkID("notes", "a.md", 0))
	if err != nil {
		t.Fatalf("chunk lookup: %v", err)
	}
	if record.Metadata.Title != "Alpha" || record.Metadata.FilePath != "a.md" {
		t.Errorf("metadata = %+v", record.Metadata)
	}
	if len(record.Vector) != 2 {
		t.Errorf("vector dimension = %d", len(record.Vector))
	}
}

func TestReindexPreservesChunkIDs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	vault := t.TempDir()
	writeNote(t, vault, "a.md", "# Alpha\n\nstable body")
	f.insertCollection(t, "notes", vault)

	indexID, err := f.queue.Create(ctx, models.JobKindIndex, "notes",
		models.JobPayload{Index: &models.IndexPayload{}}, 0)
	if err != nil {
		t.Fatal(err)
	}
	f.awaitOutcome(t)
	f.awaitTerminal(t, indexID)

	jobID, err := f.queue.Create(ctx, models.JobKindReindex, "notes",
		models.JobPayload{Reindex: &models.ReindexPayload{Force: true}}, 0)
	if err != nil {
		t.Fatal(err)
	}
	outcome := f.awaitOutcome(t)
	if !outcome.Success || outcome.DocumentCount != 1 {
		t.Fatalf("reindex outcome = %+v", outcome)
	}
	f.awaitTerminal(t, jobID)

	namespace := models.NamespaceFor("notes")
	if _, err := f.storage.VectorStore().GetRecord(ctx, namespace, indexer.ChunkID("notes", "a.md", 0)); err != nil {
		t.Errorf("chunk id changed across reindex: %v", err)
	}
	count, _ := f.storage.VectorStore().Count(ctx, namespace)
	if count != outcome.ChunkCount {
		t.Errorf("namespace holds %d records, outcome says %d", count, outcome.ChunkCount)
	}
}

func TestIncrementalUpdateAppliesChangeset(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	vault := t.TempDir()
	writeNote(t, vault, "a.md", "# Alpha\n\nwill be deleted")
	writeNote(t, vault, "b.md", "# Beta\n\nwill be modified")
	f.insertCollection(t, "notes", vault)

	indexID, err := f.queue.Create(ctx, models.JobKindIndex, "notes",
		models.JobPayload{Index: &models.IndexPayload{}}, 0)
	if err != nil {
		t.Fatal(err)
	}
	f.awaitOutcome(t)
	f.awaitTerminal(t, indexID)

	writeNote(t, vault, "b.md", "# Beta\n\nmodified body")
	writeNote(t, vault, "c.md", "# Gamma\n\nbrand new note")
	if err := os.Remove(filepath.Join(vault, "a.md")); err != nil {
		t.Fatal(err)
	}

	jobID, err := f.queue.Create(ctx, models.JobKindIncrementalUpdate, "notes",
		models.JobPayload{Incremental: &models.IncrementalPayload{
			Added:    []string{"c.md"},
			Modified: []string{"b.md"},
			Deleted:  []string{"a.md"},
		}}, 0)
	if err != nil {
		t.Fatal(err)
	}

	outcome := f.awaitOutcome(t)
	if !outcome.Success || !outcome.Incremental {
		t.Fatalf("outcome = %+v", outcome)
	}
	if outcome.DeltaDocuments != 0 {
		t.Errorf("delta documents = %d, want 0 (one added, one deleted)", outcome.DeltaDocuments)
	}
	f.awaitTerminal(t, jobID)

	namespace := models.NamespaceFor("notes")
	if _, err := f.storage.VectorStore().GetRecord(ctx, namespace, indexer.ChunkID("notes", "a.md", 0)); common.ErrorCode(err) != common.CodeNotFound {
		t.Error("deleted file's chunks should be gone")
	}
	record, err := f.storage.VectorStore().GetRecord(ctx, namespace, indexer.ChunkID("notes", "b.md", 0))
	if err != nil {
		t.Fatalf("modified chunk lookup: %v", err)
	}
	if record.Document == "" || record.Metadata.Title != "Beta" {
		t.Errorf("modified record = %+v", record.Metadata)
	}
	if _, err := f.storage.VectorStore().GetRecord(ctx, namespace, indexer.ChunkID("notes", "c.md", 0)); err != nil {
		t.Errorf("added chunk lookup: %v", err)
	}
}

func TestIncrementalRequiresIndexedNamespace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	vault := t.TempDir()
	writeNote(t, vault, "a.md", "never indexed")
	f.insertCollection(t, "notes", vault)

	jobID, err := f.queue.Create(ctx, models.JobKindIncrementalUpdate, "notes",
		models.JobPayload{Incremental: &models.IncrementalPayload{Added: []string{"a.md"}}}, 0)
	if err != nil {
		t.Fatal(err)
	}

	outcome := f.awaitOutcome(t)
	if outcome.Success {
		t.Errorf("outcome = %+v, want failure", outcome)
	}
	job := f.awaitTerminal(t, jobID)
	if job.Status != models.JobStatusFailed {
		t.Errorf("job status = %s, want failed", job.Status)
	}
}

func TestDeleteJobRemovesNamespace(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	vault := t.TempDir()
	writeNote(t, vault, "a.md", "# Alpha\n\nbody")
	f.insertCollection(t, "notes", vault)

	indexID, err := f.queue.Create(ctx, models.JobKindIndex, "notes",
		models.JobPayload{Index: &models.IndexPayload{}}, 0)
	if err != nil {
		t.Fatal(err)
	}
	f.awaitOutcome(t)
	f.awaitTerminal(t, indexID)

	jobID, err := f.queue.Create(ctx, models.JobKindDelete, "notes",
		models.JobPayload{Delete: &models.DeletePayload{Token: "tok"}}, models.PriorityDelete)
	if err != nil {
		t.Fatal(err)
	}
	outcome := f.awaitOutcome(t)
	if !outcome.Success || !outcome.Deleted {
		t.Fatalf("outcome = %+v", outcome)
	}
	f.awaitTerminal(t, jobID)

	ok, err := f.storage.VectorStore().HasNamespace(ctx, models.NamespaceFor("notes"))
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("namespace should be removed")
	}
}

func TestValidateJobIsReadOnly(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	vault := t.TempDir()
	writeNote(t, vault, "a.md", "# Alpha\n\nbody")
	f.insertCollection(t, "notes", vault)

	indexID, err := f.queue.Create(ctx, models.JobKindIndex, "notes",
		models.JobPayload{Index: &models.IndexPayload{}}, 0)
	if err != nil {
		t.Fatal(err)
	}
	f.awaitOutcome(t)
	f.awaitTerminal(t, indexID)

	jobID, err := f.queue.Create(ctx, models.JobKindValidate, "notes",
		models.JobPayload{Validate: &models.ValidatePayload{}}, 0)
	if err != nil {
		t.Fatal(err)
	}
	job := f.awaitTerminal(t, jobID)
	if job.Status != models.JobStatusCompleted {
		t.Errorf("validate status = %s", job.Status)
	}

	// validation never feeds back into collection counters
	select {
	case outcome := <-f.outcomes:
		t.Errorf("validate produced an outcome: %+v", outcome)
	case <-time.After(100 * time.Millisecond):
	}
}
