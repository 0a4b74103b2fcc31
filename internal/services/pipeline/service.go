// Package pipeline implements the handlers for index, reindex,
// incremental_update, delete, and validate jobs: walk → parse → chunk →
// embed (batched) → upsert, with progress at every step.
package pipeline

import (
	"context"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/vaultmind/vaultmind/internal/common"
	"github.com/vaultmind/vaultmind/internal/indexer"
	"github.com/vaultmind/vaultmind/internal/interfaces"
	"github.com/vaultmind/vaultmind/internal/models"
	"github.com/vaultmind/vaultmind/internal/services/jobqueue"
)

// ApplyFunc is the registry's apply_job_result operation, passed in as a
// function parameter at registration time so the pipeline never holds a
// registry reference.
type ApplyFunc func(ctx context.Context, job *models.Job, outcome models.JobOutcome) error

// Service holds the pipeline dependencies.
type Service struct {
	storage  interfaces.StorageManager
	embedder interfaces.EmbeddingClient
	logger   *common.Logger
	config   common.IndexingConfig
	deadline time.Duration
	apply    ApplyFunc
}

// NewService creates the pipeline service.
func NewService(storage interfaces.StorageManager, embedder interfaces.EmbeddingClient, logger *common.Logger, cfg *common.Config) *Service {
	return &Service{
		storage:  storage,
		embedder: embedder,
		logger:   logger,
		config:   cfg.Indexing,
		deadline: cfg.Embedding.GetTimeout(),
	}
}

// Register binds the pipeline handlers to the queue.
func (s *Service) Register(queue *jobqueue.Manager, apply ApplyFunc) {
	s.apply = apply
	queue.RegisterHandler(models.JobKindIndex, s.handleIndex)
	queue.RegisterHandler(models.JobKindReindex, s.handleReindex)
	queue.RegisterHandler(models.JobKindIncrementalUpdate, s.handleIncremental)
	queue.RegisterHandler(models.JobKindDelete, s.handleDelete)
	queue.RegisterHandler(models.JobKindValidate, s.handleValidate)
}

// batchSize returns the embed/upsert batch size.
func (s *Service) batchSize() int {
	if s.config.BatchSize > 0 {
		return s.config.BatchSize
	}
	return 10
}

// progressInterval returns the number of files between progress writes.
func (s *Service) progressInterval() int {
	if s.config.ProgressInterval > 0 {
		return s.config.ProgressInterval
	}
	return 5
}

// runFiles executes the shared per-file sub-pipeline across files and
// returns (documents created, chunks created, per-file errors).
func (s *Service) runFiles(ctx context.Context, rt *jobqueue.Runtime, collection *models.Collection, namespace string, files []string, progress *models.JobProgress) (int, int, error) {
	batchLimit := s.batchSize()
	interval := s.progressInterval()
	started := time.Now()

	var batch []models.VectorRecord
	docs := 0
	chunks := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.flushBatch(ctx, namespace, batch); err != nil {
			return err
		}
		chunks += len(batch)
		batch = batch[:0]
		// pause/cancel are observed at every batch boundary
		return rt.Checkpoint(ctx)
	}

	for i, rel := range files {
		if err := rt.Checkpoint(ctx); err != nil {
			return docs, chunks, err
		}

		parsed, err := indexer.ParseFile(filepath.Join(collection.SourcePath, rel))
		if err != nil {
			progress.Errors = append(progress.Errors, rel+": "+err.Error())
			progress.ErrorsCount = len(progress.Errors)
			progress.LastError = err.Error()
			s.logger.Warn().Str("file", rel).Err(err).Msg("Skipping unparseable file")
			continue
		}

		fileChunks := indexer.ChunkText(parsed.Content, collection.Config.ChunkSize, collection.Config.ChunkOverlap)
		for _, chunk := range fileChunks {
			batch = append(batch, models.VectorRecord{
				ID:       indexer.ChunkID(collection.Name, rel, chunk.ChunkIndex),
				Document: chunk.Text,
				Metadata: models.ChunkMetadata{
					FilePath:    rel,
					FileName:    filepath.Base(rel),
					Title:       parsed.Title,
					ChunkIndex:  chunk.ChunkIndex,
					TotalChunks: chunk.TotalChunks,
					StartChar:   chunk.StartChar,
					EndChar:     chunk.EndChar,
					Tags:        parsed.Tags,
					Links:       parsed.Links,
					WordCount:   parsed.WordCount,
					ModifiedAt:  parsed.ModifiedAt,
				},
			})
			if len(batch) >= batchLimit {
				if err := flush(); err != nil {
					return docs, chunks, err
				}
			}
		}
		docs++

		processed := i + 1
		if processed%interval == 0 || processed == len(files) {
			progress.FilesProcessed = processed
			progress.CurrentFile = rel
			progress.DocumentsCreated = docs
			progress.ChunksCreated = chunks + len(batch)
			progress.Percent = float64(processed) / float64(len(files)) * 100
			if processed < len(files) {
				elapsed := time.Since(started)
				perFile := elapsed / time.Duration(processed)
				progress.ETASeconds = int((perFile * time.Duration(len(files)-processed)).Seconds())
			} else {
				progress.ETASeconds = 0
			}
			rt.Progress(ctx, *progress)
		}
	}

	if err := flush(); err != nil {
		return docs, chunks, err
	}

	progress.FilesProcessed = len(files)
	progress.DocumentsCreated = docs
	progress.ChunksCreated = chunks
	progress.Percent = 100
	progress.ETASeconds = 0
	rt.Progress(ctx, *progress)

	return docs, chunks, nil
}

// flushBatch embeds one batch and upserts it, retrying transient downstream
// failures with exponential backoff inside the per-call deadline.
func (s *Service) flushBatch(ctx context.Context, namespace string, batch []models.VectorRecord) error {
	texts := make([]string, len(batch))
	for i := range batch {
		texts[i] = batch[i].Document
	}

	var vectors [][]float32
	err := s.retry(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, s.deadline)
		defer cancel()
		var embedErr error
		vectors, embedErr = s.embedder.EmbedDocuments(callCtx, texts)
		return embedErr
	})
	if err != nil {
		return common.WrapError(common.CodeUnavailable, err, "embedding batch failed")
	}
	if len(vectors) != len(batch) {
		return common.Internal("embedding count mismatch: %d vectors for %d chunks", len(vectors), len(batch))
	}
	for i := range batch {
		batch[i].Vector = vectors[i]
	}

	err = s.retry(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, s.deadline)
		defer cancel()
		return s.storage.VectorStore().Upsert(callCtx, namespace, batch)
	})
	if err != nil {
		return common.WrapError(common.CodeUnavailable, err, "vector upsert failed")
	}
	return nil
}

// retry runs op with exponential backoff, up to three attempts. Conflict
// and invalid-argument errors are permanent.
func (s *Service) retry(ctx context.Context, op func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = 500 * time.Millisecond
	eb.MaxInterval = 10 * time.Second

	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		switch common.ErrorCode(err) {
		case common.CodeConflict, common.CodeInvalidArgument, common.CodeNotFound:
			return backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(eb, 3), ctx))
}
