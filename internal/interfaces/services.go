package interfaces

import (
	"context"

	"github.com/vaultmind/vaultmind/internal/models"
)

// JobService is the job queue surface used by the registry, the watcher,
// and the API handlers.
type JobService interface {
	Create(ctx context.Context, kind, collectionName string, payload models.JobPayload, priority int) (string, error)
	Get(ctx context.Context, id string) (*models.Job, error)
	ListForCollection(ctx context.Context, name string, limit int) ([]models.Job, error)
	ListActive(ctx context.Context) ([]models.Job, error)
	ActiveForCollection(ctx context.Context, name string) (*models.Job, error)
	UpdateProgress(ctx context.Context, id string, progress models.JobProgress, status string) error
	Cancel(ctx context.Context, id string) (bool, error)
	Pause(ctx context.Context, id string) (bool, error)
	Resume(ctx context.Context, id string) (bool, error)
	Stats(ctx context.Context) (models.QueueStats, error)
	// MergeIncremental folds additional changes into a not-yet-running
	// incremental job's payload. Returns false if the job already started.
	MergeIncremental(ctx context.Context, id string, changes models.IncrementalPayload) (bool, error)
}

// RegistryService is the collection registry surface.
type RegistryService interface {
	Create(ctx context.Context, name, sourcePath, description string, config *models.CollectionConfigPatch) (*models.CollectionView, error)
	Get(ctx context.Context, name string) (*models.CollectionView, error)
	List(ctx context.Context, page, limit int) ([]models.CollectionView, models.PageMeta, error)
	UpdateConfig(ctx context.Context, name string, partial map[string]interface{}) (*models.CollectionView, error)
	ApplyJobResult(ctx context.Context, job *models.Job, outcome models.JobOutcome) error
	IssueDeletionToken(ctx context.Context, name string) (*models.DeletionToken, error)
	Delete(ctx context.Context, name, token string) (string, error)
	Health(ctx context.Context, name string) (*models.HealthReport, error)
}

// SearchService is the query path.
type SearchService interface {
	Search(ctx context.Context, collection string, req models.SearchRequest) (*models.SearchResponse, error)
}

// WatcherService converts filesystem changes into incremental update jobs.
type WatcherService interface {
	Start(ctx context.Context) error
	Stop()
	Running() bool
	AddWatch(ctx context.Context, cfg models.WatchConfig) error
	UpdateWatch(ctx context.Context, name string, cfg models.WatchConfig) error
	RemoveWatch(ctx context.Context, name string) error
	ListWatches(ctx context.Context) ([]models.WatchStatus, error)
	ScanNow(ctx context.Context, name string) (*models.IncrementalPayload, error)
}
