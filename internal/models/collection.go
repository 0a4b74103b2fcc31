// Package models defines the durable and wire-level types shared across
// VaultMind services.
package models

import (
	"regexp"
	"strings"
	"time"
)

// PerDocBytes is the fixed per-document size estimate used for
// Collection.SizeBytes. It is an estimate, not a measurement.
const PerDocBytes = 2048

// NamePattern constrains collection names.
var NamePattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,100}$`)

var namespaceSanitize = regexp.MustCompile(`[^a-z0-9_]+`)

// NamespaceFor maps a collection name to its vector namespace,
// prefix "vault_".
func NamespaceFor(name string) string {
	s := namespaceSanitize.ReplaceAllString(strings.ToLower(name), "_")
	s = strings.Trim(s, "_")
	return "vault_" + s
}

// Stored status constants — the durable lifecycle state of a collection.
const (
	StoredStatusCreated = "created"
	StoredStatusActive  = "active"
	StoredStatusError   = "error"
	StoredStatusPaused  = "paused"
)

// Health status constants.
const (
	HealthUnknown = "unknown"
	HealthEmpty   = "empty"
	HealthHealthy = "healthy"
	HealthWarning = "warning"
	HealthError   = "error"
)

// Derived status values reported while a job is active for the collection.
const (
	DerivedIndexing   = "indexing"
	DerivedReindexing = "reindexing"
	DerivedUpdating   = "updating"
	DerivedDeleting   = "deleting"
)

// CollectionConfig holds per-collection indexing configuration.
type CollectionConfig struct {
	ChunkSize      int      `json:"chunk_size"`
	ChunkOverlap   int      `json:"chunk_overlap"`
	EmbeddingModel string   `json:"embedding_model"`
	IgnorePatterns []string `json:"ignore_patterns,omitempty"`
	Schedule       string   `json:"schedule,omitempty"`
	Enabled        bool     `json:"enabled"`
}

// CollectionConfigPatch is a partial config override supplied at create
// time. Zero fields keep the defaults; Enabled is a pointer so an absent
// value stays distinguishable from an explicit false.
type CollectionConfigPatch struct {
	ChunkSize      int      `json:"chunk_size,omitempty"`
	ChunkOverlap   int      `json:"chunk_overlap,omitempty"`
	EmbeddingModel string   `json:"embedding_model,omitempty"`
	IgnorePatterns []string `json:"ignore_patterns,omitempty"`
	Schedule       string   `json:"schedule,omitempty"`
	Enabled        *bool    `json:"enabled,omitempty"`
}

// Collection is the durable record binding a name to a source directory
// and an independent vector namespace.
type Collection struct {
	Name          string           `json:"name" badgerhold:"unique"`
	SourcePath    string           `json:"source_path"`
	Description   string           `json:"description,omitempty"`
	Config        CollectionConfig `json:"config"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at" badgerhold:"index"`
	LastIndexedAt time.Time        `json:"last_indexed_at,omitempty"`
	DocumentCount int              `json:"document_count"`
	ChunkCount    int              `json:"chunk_count"`
	SizeBytes     int64            `json:"size_bytes"`
	StoredStatus  string           `json:"-"`
	HealthStatus  string           `json:"health_status"`
	LastError     string           `json:"last_error,omitempty"`
}

// DerivedStatus computes the observable status from an active job, falling
// back to the stored status. This is the only status surfaced to clients.
func (c *Collection) DerivedStatus(active *Job) string {
	if active != nil {
		switch active.Kind {
		case JobKindIndex:
			return DerivedIndexing
		case JobKindReindex:
			return DerivedReindexing
		case JobKindIncrementalUpdate:
			return DerivedUpdating
		case JobKindDelete:
			return DerivedDeleting
		}
	}
	return c.StoredStatus
}

// CollectionView is the client-facing projection of a Collection with the
// derived status attached.
type CollectionView struct {
	Collection
	Status string `json:"status"`
}

// PageMeta describes a page of a list response.
type PageMeta struct {
	CurrentPage  int  `json:"current_page"`
	TotalPages   int  `json:"total_pages"`
	TotalItems   int  `json:"total_items"`
	ItemsPerPage int  `json:"items_per_page"`
	HasNext      bool `json:"has_next"`
	HasPrevious  bool `json:"has_previous"`
}

// HealthCheck is one entry in a collection health report.
type HealthCheck struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "ok", "warning", "error"
	Message string `json:"message"`
}

// HealthReport is the on-demand composed health view of a collection.
type HealthReport struct {
	Collection string        `json:"collection"`
	Status     string        `json:"status"`
	Checks     []HealthCheck `json:"checks"`
	CheckedAt  time.Time     `json:"checked_at"`
}

// DeletionToken gates destructive collection deletion. Single-use, expires
// 300 s after issue.
type DeletionToken struct {
	Token          string    `json:"token"`
	CollectionName string    `json:"collection_name"`
	ExpiresAt      time.Time `json:"expires_at"`
}
