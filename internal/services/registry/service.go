// Package registry is the single source of truth for collection identity,
// configuration, and counters. Every client-observable status read goes
// through this package so derivation stays centralized.
package registry

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/vaultmind/vaultmind/internal/common"
	"github.com/vaultmind/vaultmind/internal/indexer"
	"github.com/vaultmind/vaultmind/internal/interfaces"
	"github.com/vaultmind/vaultmind/internal/models"
)

// Service implements the collection registry.
type Service struct {
	storage interfaces.StorageManager
	queue   interfaces.JobService
	logger  *common.Logger
	config  *common.Config
	tokens  *tokenStore
}

// Compile-time interface check
var _ interfaces.RegistryService = (*Service)(nil)

// NewService creates a registry service.
func NewService(storage interfaces.StorageManager, queue interfaces.JobService, logger *common.Logger, config *common.Config) *Service {
	return &Service{
		storage: storage,
		queue:   queue,
		logger:  logger,
		config:  config,
		tokens:  newTokenStore(),
	}
}

// Create validates and persists a new collection, then enqueues its initial
// index job.
func (s *Service) Create(ctx context.Context, name, sourcePath, description string, config *models.CollectionConfigPatch) (*models.CollectionView, error) {
	if !models.NamePattern.MatchString(name) {
		return nil, common.InvalidArgument("collection name must match %s", models.NamePattern.String())
	}
	if sourcePath == "" {
		return nil, common.InvalidArgument("source_path is required")
	}
	if !filepath.IsAbs(sourcePath) {
		return nil, common.InvalidArgument("source_path must be absolute")
	}
	info, err := os.Stat(sourcePath)
	if err != nil || !info.IsDir() {
		return nil, common.InvalidArgument("source_path '%s' is not an existing directory", sourcePath)
	}
	if marker, err := os.Stat(filepath.Join(sourcePath, ".obsidian")); err != nil || !marker.IsDir() {
		return nil, common.InvalidArgument("source_path '%s' does not contain an .obsidian/ marker", sourcePath)
	}

	cfg := s.defaultConfig()
	if config != nil {
		cfg = mergeConfig(cfg, config)
	}
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	collection := &models.Collection{
		Name:         name,
		SourcePath:   sourcePath,
		Description:  description,
		Config:       cfg,
		CreatedAt:    now,
		UpdatedAt:    now,
		StoredStatus: models.StoredStatusCreated,
		HealthStatus: models.HealthUnknown,
	}
	if err := s.storage.CollectionStore().Insert(ctx, collection); err != nil {
		return nil, err
	}

	jobID, err := s.queue.Create(ctx, models.JobKindIndex, name,
		models.JobPayload{Kind: models.JobKindIndex, Index: &models.IndexPayload{}}, 0)
	if err != nil {
		s.logger.Warn().Str("collection", name).Err(err).Msg("Failed to enqueue initial index job")
	} else {
		s.logger.Info().Str("collection", name).Str("job_id", jobID).Msg("Collection created, index job enqueued")
	}

	return s.view(ctx, collection)
}

// Get returns one collection with its derived status.
func (s *Service) Get(ctx context.Context, name string) (*models.CollectionView, error) {
	collection, err := s.storage.CollectionStore().Get(ctx, name)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, collection)
}

// List returns one page of collections ordered by updated_at descending,
// each with its derived status.
func (s *Service) List(ctx context.Context, page, limit int) ([]models.CollectionView, models.PageMeta, error) {
	items, meta, err := s.storage.CollectionStore().List(ctx, page, limit)
	if err != nil {
		return nil, models.PageMeta{}, err
	}
	views := make([]models.CollectionView, 0, len(items))
	for i := range items {
		v, err := s.view(ctx, &items[i])
		if err != nil {
			return nil, models.PageMeta{}, err
		}
		views = append(views, *v)
	}
	return views, meta, nil
}

// UpdateConfig merges a partial config. Changing chunk_size or
// embedding_model schedules a reindex; changing ignore_patterns schedules an
// incremental update re-evaluating the file set.
func (s *Service) UpdateConfig(ctx context.Context, name string, partial map[string]interface{}) (*models.CollectionView, error) {
	collection, err := s.storage.CollectionStore().Get(ctx, name)
	if err != nil {
		return nil, err
	}

	cfg := collection.Config
	needsReindex := false
	needsReevaluation := false

	if v, ok := partial["chunk_size"]; ok {
		if n, ok := toInt(v); ok && n != cfg.ChunkSize {
			cfg.ChunkSize = n
			needsReindex = true
		}
	}
	if v, ok := partial["chunk_overlap"]; ok {
		if n, ok := toInt(v); ok {
			cfg.ChunkOverlap = n
		}
	}
	if v, ok := partial["embedding_model"]; ok {
		if m, ok := v.(string); ok && m != cfg.EmbeddingModel {
			cfg.EmbeddingModel = m
			needsReindex = true
		}
	}
	if v, ok := partial["ignore_patterns"]; ok {
		if patterns, ok := toStringSlice(v); ok {
			cfg.IgnorePatterns = patterns
			needsReevaluation = true
		}
	}
	if v, ok := partial["schedule"]; ok {
		if sched, ok := v.(string); ok {
			cfg.Schedule = sched
		}
	}
	if v, ok := partial["enabled"]; ok {
		if b, ok := v.(bool); ok {
			cfg.Enabled = b
		}
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	collection.Config = cfg
	if err := s.storage.CollectionStore().Update(ctx, collection); err != nil {
		return nil, err
	}

	if needsReindex {
		if _, err := s.queue.Create(ctx, models.JobKindReindex, name,
			models.JobPayload{Kind: models.JobKindReindex, Reindex: &models.ReindexPayload{Force: true}}, 0); err != nil {
			s.logger.Warn().Str("collection", name).Err(err).Msg("Failed to schedule reindex after config change")
		}
	} else if needsReevaluation {
		// Re-evaluate the file set under the new patterns: every currently
		// admissible file is treated as modified so it is re-parsed, and
		// newly ignored files fall out on the next reindex.
		files, err := indexer.DiscoverFiles(collection.SourcePath, cfg.IgnorePatterns)
		if err != nil {
			s.logger.Warn().Str("collection", name).Err(err).Msg("Failed to scan for pattern re-evaluation")
		} else if len(files) > 0 {
			payload := models.JobPayload{
				Kind:        models.JobKindIncrementalUpdate,
				Incremental: &models.IncrementalPayload{Modified: files},
			}
			if _, err := s.queue.Create(ctx, models.JobKindIncrementalUpdate, name, payload, 0); err != nil {
				s.logger.Warn().Str("collection", name).Err(err).Msg("Failed to schedule re-evaluation update")
			}
		}
	}

	return s.view(ctx, collection)
}

// ApplyJobResult atomically folds a finished job's outcome into the
// collection's counters and statuses. Pipeline handlers receive this method
// as a function parameter at registration time.
func (s *Service) ApplyJobResult(ctx context.Context, job *models.Job, outcome models.JobOutcome) error {
	if outcome.Deleted {
		s.tokens.dropCollection(job.CollectionName)
		if err := s.storage.CollectionStore().Delete(ctx, job.CollectionName); err != nil {
			return err
		}
		s.logger.Info().Str("collection", job.CollectionName).Msg("Collection deleted")
		return nil
	}

	collection, err := s.storage.CollectionStore().Get(ctx, job.CollectionName)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	switch {
	case !outcome.Success:
		collection.StoredStatus = models.StoredStatusError
		collection.HealthStatus = models.HealthError
		collection.LastError = outcome.Error

	case outcome.Incremental:
		collection.DocumentCount += outcome.DeltaDocuments
		if collection.DocumentCount < 0 {
			collection.DocumentCount = 0
		}
		collection.ChunkCount += outcome.DeltaChunks
		if collection.ChunkCount < 0 {
			collection.ChunkCount = 0
		}
		collection.SizeBytes = int64(collection.DocumentCount) * models.PerDocBytes
		collection.HealthStatus = healthFor(collection.DocumentCount)
		collection.LastIndexedAt = now
		collection.LastError = ""

	default:
		collection.DocumentCount = outcome.DocumentCount
		collection.ChunkCount = outcome.ChunkCount
		collection.SizeBytes = int64(outcome.DocumentCount) * models.PerDocBytes
		collection.HealthStatus = healthFor(outcome.DocumentCount)
		collection.StoredStatus = models.StoredStatusActive
		collection.LastIndexedAt = now
		collection.LastError = ""
	}

	return s.storage.CollectionStore().Update(ctx, collection)
}

// Health composes an on-demand health report for one collection.
func (s *Service) Health(ctx context.Context, name string) (*models.HealthReport, error) {
	collection, err := s.storage.CollectionStore().Get(ctx, name)
	if err != nil {
		return nil, err
	}

	report := &models.HealthReport{
		Collection: name,
		CheckedAt:  time.Now().UTC(),
	}

	namespace := models.NamespaceFor(name)
	if err := s.storage.VectorStore().Health(ctx, namespace); err != nil {
		report.Checks = append(report.Checks, models.HealthCheck{
			Name:    "vector_namespace",
			Status:  "error",
			Message: common.ErrorMessage(err),
		})
	} else {
		report.Checks = append(report.Checks, models.HealthCheck{
			Name:    "vector_namespace",
			Status:  "ok",
			Message: "namespace reachable",
		})
	}

	if info, err := os.Stat(collection.SourcePath); err != nil || !info.IsDir() {
		report.Checks = append(report.Checks, models.HealthCheck{
			Name:    "source_path",
			Status:  "error",
			Message: "source directory missing or unreadable",
		})
	} else {
		report.Checks = append(report.Checks, models.HealthCheck{
			Name:    "source_path",
			Status:  "ok",
			Message: "source directory readable",
		})
	}

	if err := validateConfig(&collection.Config); err != nil {
		report.Checks = append(report.Checks, models.HealthCheck{
			Name:    "config",
			Status:  "error",
			Message: common.ErrorMessage(err),
		})
	} else {
		report.Checks = append(report.Checks, models.HealthCheck{
			Name:    "config",
			Status:  "ok",
			Message: "configuration valid",
		})
	}

	report.Status = "healthy"
	for _, check := range report.Checks {
		if check.Status == "error" {
			report.Status = "error"
			break
		}
		if check.Status == "warning" {
			report.Status = "warning"
		}
	}
	return report, nil
}

// view attaches the derived status to a collection record.
func (s *Service) view(ctx context.Context, collection *models.Collection) (*models.CollectionView, error) {
	active, err := s.queue.ActiveForCollection(ctx, collection.Name)
	if err != nil {
		return nil, err
	}
	return &models.CollectionView{
		Collection: *collection,
		Status:     collection.DerivedStatus(active),
	}, nil
}

func (s *Service) defaultConfig() models.CollectionConfig {
	return models.CollectionConfig{
		ChunkSize:      s.config.Indexing.ChunkSize,
		ChunkOverlap:   s.config.Indexing.ChunkOverlap,
		EmbeddingModel: s.config.Embedding.Model,
		Enabled:        true,
	}
}

func mergeConfig(base models.CollectionConfig, override *models.CollectionConfigPatch) models.CollectionConfig {
	if override.ChunkSize > 0 {
		base.ChunkSize = override.ChunkSize
	}
	if override.ChunkOverlap > 0 {
		base.ChunkOverlap = override.ChunkOverlap
	}
	if override.EmbeddingModel != "" {
		base.EmbeddingModel = override.EmbeddingModel
	}
	if override.IgnorePatterns != nil {
		base.IgnorePatterns = override.IgnorePatterns
	}
	if override.Schedule != "" {
		base.Schedule = override.Schedule
	}
	if override.Enabled != nil {
		base.Enabled = *override.Enabled
	}
	return base
}

func validateConfig(cfg *models.CollectionConfig) error {
	if cfg.ChunkSize <= 0 {
		return common.InvalidArgument("chunk_size must be positive")
	}
	if cfg.ChunkOverlap < 0 || cfg.ChunkOverlap >= cfg.ChunkSize {
		return common.InvalidArgument("chunk_overlap must be non-negative and smaller than chunk_size")
	}
	return nil
}

func healthFor(documentCount int) string {
	if documentCount > 0 {
		return models.HealthHealthy
	}
	return models.HealthEmpty
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case float64:
		return int(n), true
	}
	return 0, false
}

func toStringSlice(v interface{}) ([]string, bool) {
	switch s := v.(type) {
	case []string:
		return s, true
	case []interface{}:
		out := make([]string, 0, len(s))
		for _, item := range s {
			str, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, str)
		}
		return out, true
	}
	return nil, false
}
