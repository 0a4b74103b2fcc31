// Package interfaces defines the contracts between VaultMind components.
package interfaces

import (
	"context"

	"github.com/vaultmind/vaultmind/internal/models"
)

// CollectionStore persists collection metadata. Name is the primary key.
type CollectionStore interface {
	Insert(ctx context.Context, c *models.Collection) error
	Get(ctx context.Context, name string) (*models.Collection, error)
	Update(ctx context.Context, c *models.Collection) error
	Delete(ctx context.Context, name string) error
	// List returns one page ordered by UpdatedAt descending.
	List(ctx context.Context, page, limit int) ([]models.Collection, models.PageMeta, error)
	Count(ctx context.Context) (int, error)
}

// JobStore persists job rows for the queue.
type JobStore interface {
	Insert(ctx context.Context, job *models.Job) error
	Get(ctx context.Context, id string) (*models.Job, error)
	Update(ctx context.Context, job *models.Job) error
	ListForCollection(ctx context.Context, name string, limit int) ([]models.Job, error)
	ActiveForCollection(ctx context.Context, name string) (*models.Job, error)
	// Dispatchable returns jobs in pending or queued ordered by
	// (priority DESC, created_at ASC).
	Dispatchable(ctx context.Context) ([]models.Job, error)
	ListByStatus(ctx context.Context, status string, limit int) ([]models.Job, error)
	CountByStatus(ctx context.Context) (map[string]int, error)
	// ResetRunningJobs demotes running → queued after a crash restart.
	ResetRunningJobs(ctx context.Context) (int, error)
	// PruneTerminal keeps at most keep terminal jobs per collection.
	PruneTerminal(ctx context.Context, keep int) (int, error)
}

// VectorStore is the opaque vector namespace the pipeline and query path
// talk to. One namespace per collection.
type VectorStore interface {
	CreateNamespace(ctx context.Context, namespace string, force bool) error
	DeleteNamespace(ctx context.Context, namespace string) error
	HasNamespace(ctx context.Context, namespace string) (bool, error)
	Upsert(ctx context.Context, namespace string, records []models.VectorRecord) error
	Query(ctx context.Context, namespace string, vector []float32, k int, filters map[string]string) ([]models.VectorMatch, error)
	// DeleteByIDPrefix removes every record whose id starts with prefix,
	// which is how all chunks of one file are dropped.
	DeleteByIDPrefix(ctx context.Context, namespace, prefix string) (int, error)
	GetRecord(ctx context.Context, namespace, id string) (*models.VectorRecord, error)
	Count(ctx context.Context, namespace string) (int, error)
	Health(ctx context.Context, namespace string) error
}

// WatchStateStore persists watcher configuration and scan snapshots, one
// JSON document per collection.
type WatchStateStore interface {
	Save(ctx context.Context, state *models.WatchState) error
	Load(ctx context.Context, name string) (*models.WatchState, error)
	Delete(ctx context.Context, name string) error
	ListAll(ctx context.Context) ([]models.WatchState, error)
}

// StorageManager aggregates the durable stores under one data_dir root.
type StorageManager interface {
	CollectionStore() CollectionStore
	JobStore() JobStore
	VectorStore() VectorStore
	WatchStateStore() WatchStateStore
	DataDir() string
	Close() error
}
