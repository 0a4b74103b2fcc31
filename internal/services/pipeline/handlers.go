package pipeline

import (
	"context"
	"fmt"
	"os"

	"github.com/vaultmind/vaultmind/internal/common"
	"github.com/vaultmind/vaultmind/internal/indexer"
	"github.com/vaultmind/vaultmind/internal/models"
	"github.com/vaultmind/vaultmind/internal/services/jobqueue"
)

// handleIndex builds a collection's namespace from scratch. Fails with a
// conflict when the namespace already exists, unless the payload forces.
func (s *Service) handleIndex(ctx context.Context, job *models.Job, rt *jobqueue.Runtime) error {
	collection, err := s.storage.CollectionStore().Get(ctx, job.CollectionName)
	if err != nil {
		return s.fail(ctx, job, err)
	}

	force := job.Payload.Index != nil && job.Payload.Index.Force
	namespace := models.NamespaceFor(collection.Name)
	if err := s.storage.VectorStore().CreateNamespace(ctx, namespace, force); err != nil {
		return s.fail(ctx, job, err)
	}

	docs, chunks, err := s.indexAll(ctx, job, rt, collection, namespace)
	if err != nil {
		return s.finish(ctx, job, err, models.JobOutcome{})
	}
	return s.finish(ctx, job, nil, models.JobOutcome{
		Success:       true,
		DocumentCount: docs,
		ChunkCount:    chunks,
	})
}

// handleReindex drops the namespace and rebuilds it. Deterministic chunk ids
// mean unchanged content maps to the same ids as before.
func (s *Service) handleReindex(ctx context.Context, job *models.Job, rt *jobqueue.Runtime) error {
	collection, err := s.storage.CollectionStore().Get(ctx, job.CollectionName)
	if err != nil {
		return s.fail(ctx, job, err)
	}

	namespace := models.NamespaceFor(collection.Name)
	if err := s.storage.VectorStore().DeleteNamespace(ctx, namespace); err != nil && common.ErrorCode(err) != common.CodeNotFound {
		return s.fail(ctx, job, err)
	}
	if err := s.storage.VectorStore().CreateNamespace(ctx, namespace, true); err != nil {
		return s.fail(ctx, job, err)
	}

	docs, chunks, err := s.indexAll(ctx, job, rt, collection, namespace)
	if err != nil {
		return s.finish(ctx, job, err, models.JobOutcome{})
	}
	return s.finish(ctx, job, nil, models.JobOutcome{
		Success:       true,
		DocumentCount: docs,
		ChunkCount:    chunks,
	})
}

// indexAll runs the full-walk pipeline shared by index and reindex.
func (s *Service) indexAll(ctx context.Context, job *models.Job, rt *jobqueue.Runtime, collection *models.Collection, namespace string) (int, int, error) {
	files, err := indexer.DiscoverFiles(collection.SourcePath, collection.Config.IgnorePatterns)
	if err != nil {
		return 0, 0, common.WrapError(common.CodeUnavailable, err, "source walk failed for '%s'", collection.SourcePath)
	}

	progress := job.Progress
	progress.TotalFiles = len(files)
	progress.FilesProcessed = 0
	rt.Progress(ctx, progress)

	return s.runFiles(ctx, rt, collection, namespace, files, &progress)
}

// handleIncremental applies a coalesced changeset: drop chunks for deleted
// and modified files, then re-pipeline added and modified files.
func (s *Service) handleIncremental(ctx context.Context, job *models.Job, rt *jobqueue.Runtime) error {
	if job.Payload.Incremental == nil {
		return s.fail(ctx, job, common.InvalidArgument("incremental job '%s' has no changeset", job.ID))
	}
	changes := *job.Payload.Incremental

	collection, err := s.storage.CollectionStore().Get(ctx, job.CollectionName)
	if err != nil {
		return s.fail(ctx, job, err)
	}
	namespace := models.NamespaceFor(collection.Name)
	exists, err := s.storage.VectorStore().HasNamespace(ctx, namespace)
	if err != nil {
		return s.fail(ctx, job, err)
	}
	if !exists {
		return s.fail(ctx, job, common.NotFound("namespace for collection '%s' does not exist", collection.Name))
	}

	chunksDeleted := 0
	for _, rel := range append(append([]string{}, changes.Deleted...), changes.Modified...) {
		if err := rt.Checkpoint(ctx); err != nil {
			return s.finish(ctx, job, err, models.JobOutcome{})
		}
		prefix := indexer.FileIDPrefix(collection.Name, rel)
		n, err := s.storage.VectorStore().DeleteByIDPrefix(ctx, namespace, prefix)
		if err != nil {
			return s.finish(ctx, job, err, models.JobOutcome{})
		}
		chunksDeleted += n
	}

	reindexFiles := append(append([]string{}, changes.Added...), changes.Modified...)
	progress := job.Progress
	progress.TotalFiles = len(reindexFiles)
	progress.FilesProcessed = 0
	rt.Progress(ctx, progress)

	_, chunksCreated, err := s.runFiles(ctx, rt, collection, namespace, reindexFiles, &progress)
	if err != nil {
		return s.finish(ctx, job, err, models.JobOutcome{})
	}

	return s.finish(ctx, job, nil, models.JobOutcome{
		Success:        true,
		Incremental:    true,
		DeltaDocuments: len(changes.Added) - len(changes.Deleted),
		DeltaChunks:    chunksCreated - chunksDeleted,
	})
}

// handleDelete drops the collection's namespace and watch state. The registry
// removes the metadata row when the outcome is applied.
func (s *Service) handleDelete(ctx context.Context, job *models.Job, rt *jobqueue.Runtime) error {
	namespace := models.NamespaceFor(job.CollectionName)
	if err := s.storage.VectorStore().DeleteNamespace(ctx, namespace); err != nil && common.ErrorCode(err) != common.CodeNotFound {
		return s.finish(ctx, job, err, models.JobOutcome{})
	}
	if err := s.storage.WatchStateStore().Delete(ctx, job.CollectionName); err != nil {
		s.logger.Warn().Str("collection", job.CollectionName).Err(err).Msg("Failed to remove watch state")
	}
	return s.finish(ctx, job, nil, models.JobOutcome{Success: true, Deleted: true})
}

// handleValidate compares the namespace against the filesystem and reports
// drift without mutating anything. Drift details land in the job progress.
func (s *Service) handleValidate(ctx context.Context, job *models.Job, rt *jobqueue.Runtime) error {
	collection, err := s.storage.CollectionStore().Get(ctx, job.CollectionName)
	if err != nil {
		return s.fail(ctx, job, err)
	}
	namespace := models.NamespaceFor(collection.Name)

	var drift []string
	if _, err := os.Stat(collection.SourcePath); err != nil {
		drift = append(drift, "source path missing: "+collection.SourcePath)
	}

	exists, err := s.storage.VectorStore().HasNamespace(ctx, namespace)
	if err != nil {
		return s.fail(ctx, job, err)
	}
	if !exists {
		drift = append(drift, "vector namespace missing")
	}

	files, err := indexer.DiscoverFiles(collection.SourcePath, collection.Config.IgnorePatterns)
	if err == nil {
		if len(files) != collection.DocumentCount {
			drift = append(drift, fmt.Sprintf("document count drift: %d on disk, %d recorded", len(files), collection.DocumentCount))
		}
		if exists {
			count, countErr := s.storage.VectorStore().Count(ctx, namespace)
			if countErr == nil && count != collection.ChunkCount {
				drift = append(drift, fmt.Sprintf("chunk count drift: %d in namespace, %d recorded", count, collection.ChunkCount))
			}
		}
	}

	progress := job.Progress
	progress.Percent = 100
	progress.Errors = drift
	progress.ErrorsCount = len(drift)
	rt.Progress(ctx, progress)

	s.logger.Info().
		Str("collection", collection.Name).
		Int("drift_findings", len(drift)).
		Msg("Validation finished")
	return nil
}

// finish reports the outcome to the registry and propagates the handler
// error back to the queue. Cancellation skips the registry callback.
func (s *Service) finish(ctx context.Context, job *models.Job, runErr error, outcome models.JobOutcome) error {
	if runErr != nil {
		if ctx.Err() != nil {
			return runErr
		}
		return s.fail(ctx, job, runErr)
	}
	if s.apply != nil {
		// apply after cancellation would race the worker teardown
		if err := s.apply(context.WithoutCancel(ctx), job, outcome); err != nil {
			s.logger.Error().Str("job_id", job.ID).Err(err).Msg("Failed to apply job result")
		}
	}
	return nil
}

// fail reports a failed outcome and returns the error so the queue marks the
// job failed.
func (s *Service) fail(ctx context.Context, job *models.Job, runErr error) error {
	if s.apply != nil {
		outcome := models.JobOutcome{Success: false, Error: runErr.Error()}
		if err := s.apply(context.WithoutCancel(ctx), job, outcome); err != nil {
			s.logger.Error().Str("job_id", job.ID).Err(err).Msg("Failed to apply job result")
		}
	}
	return runErr
}
