package models

import "time"

// Job kind constants
const (
	JobKindIndex             = "index"
	JobKindReindex           = "reindex"
	JobKindIncrementalUpdate = "incremental_update"
	JobKindDelete            = "delete"
	JobKindValidate          = "validate"
)

// Job status constants
const (
	JobStatusPending   = "pending"
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusPaused    = "paused"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// Default priorities (higher = dispatched first)
const (
	PriorityDelete      = 10
	PriorityReindex     = 8
	PriorityIndex       = 5
	PriorityIncremental = 3
	PriorityValidate    = 1
)

// DefaultPriority returns the default priority for a job kind.
func DefaultPriority(kind string) int {
	switch kind {
	case JobKindDelete:
		return PriorityDelete
	case JobKindReindex:
		return PriorityReindex
	case JobKindIndex:
		return PriorityIndex
	case JobKindIncrementalUpdate:
		return PriorityIncremental
	case JobKindValidate:
		return PriorityValidate
	default:
		return 0
	}
}

// ValidJobKind reports whether kind is a known job kind.
func ValidJobKind(kind string) bool {
	switch kind {
	case JobKindIndex, JobKindReindex, JobKindIncrementalUpdate, JobKindDelete, JobKindValidate:
		return true
	}
	return false
}

// IndexPayload parameterizes an index job.
type IndexPayload struct {
	Force bool `json:"force,omitempty"`
}

// ReindexPayload parameterizes a reindex job.
type ReindexPayload struct {
	Force bool `json:"force,omitempty"`
}

// IncrementalPayload carries the coalesced changeset for an
// incremental_update job.
type IncrementalPayload struct {
	Added    []string `json:"added,omitempty"`
	Modified []string `json:"modified,omitempty"`
	Deleted  []string `json:"deleted,omitempty"`
}

// IsEmpty reports whether the payload carries no changes.
func (p *IncrementalPayload) IsEmpty() bool {
	return len(p.Added) == 0 && len(p.Modified) == 0 && len(p.Deleted) == 0
}

// DeletePayload carries the consumed confirmation token for audit.
type DeletePayload struct {
	Token string `json:"token,omitempty"`
}

// ValidatePayload parameterizes a validate job.
type ValidatePayload struct{}

// JobPayload is a tagged union of the per-kind payload variants. Exactly one
// variant matching the job's kind is set; serialization keeps tag and body.
type JobPayload struct {
	Kind        string              `json:"kind"`
	Index       *IndexPayload       `json:"index,omitempty"`
	Reindex     *ReindexPayload     `json:"reindex,omitempty"`
	Incremental *IncrementalPayload `json:"incremental,omitempty"`
	Delete      *DeletePayload      `json:"delete,omitempty"`
	Validate    *ValidatePayload    `json:"validate,omitempty"`
}

// JobProgress is the structured progress snapshot of a running job.
// Percent is non-decreasing within a single run.
type JobProgress struct {
	Percent          float64  `json:"percent"`
	CurrentFile      string   `json:"current_file,omitempty"`
	FilesProcessed   int      `json:"files_processed"`
	TotalFiles       int      `json:"total_files"`
	DocumentsCreated int      `json:"documents_created"`
	ChunksCreated    int      `json:"chunks_created"`
	ErrorsCount      int      `json:"errors_count"`
	LastError        string   `json:"last_error,omitempty"`
	ETASeconds       int      `json:"eta_seconds,omitempty"`
	Errors           []string `json:"errors,omitempty"`
}

// Job represents a unit of background work owned by the job queue.
type Job struct {
	ID             string      `json:"id" badgerhold:"unique"`
	Kind           string      `json:"kind"`
	CollectionName string      `json:"collection_name" badgerhold:"index"`
	Status         string      `json:"status" badgerhold:"index"`
	Priority       int         `json:"priority"`
	CreatedAt      time.Time   `json:"created_at"`
	StartedAt      time.Time   `json:"started_at,omitempty"`
	CompletedAt    time.Time   `json:"completed_at,omitempty"`
	Payload        JobPayload  `json:"payload"`
	Progress       JobProgress `json:"progress"`
	LastError      string      `json:"last_error,omitempty"`
	RetryCount     int         `json:"retry_count"`
	MaxRetries     int         `json:"max_retries"`
}

// IsTerminal reports whether status is a terminal job status.
func IsTerminal(status string) bool {
	switch status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// IsActive reports whether status counts toward the per-collection
// single-active-job invariant.
func IsActive(status string) bool {
	switch status {
	case JobStatusPending, JobStatusQueued, JobStatusRunning, JobStatusPaused:
		return true
	}
	return false
}

// ActiveStatuses lists the statuses counted as active.
var ActiveStatuses = []string{JobStatusPending, JobStatusQueued, JobStatusRunning, JobStatusPaused}

// CanTransition reports whether from → to is a legal job status transition.
// Any non-terminal state may transition to cancelled. A repeated terminal
// transition is not legal here; callers treat it as an idempotent no-op.
func CanTransition(from, to string) bool {
	// retry path re-queues a failed job; otherwise terminal states are final
	if from == JobStatusFailed {
		return to == JobStatusQueued
	}
	if IsTerminal(from) {
		return false
	}
	if to == JobStatusCancelled {
		return true
	}
	switch from {
	case JobStatusPending:
		return to == JobStatusQueued
	case JobStatusQueued:
		return to == JobStatusRunning
	case JobStatusRunning:
		return to == JobStatusCompleted || to == JobStatusFailed || to == JobStatusPaused
	case JobStatusPaused:
		return to == JobStatusQueued || to == JobStatusRunning
	}
	return false
}

// JobOutcome is what a pipeline handler reports to the registry when a job
// finishes, successfully or not.
type JobOutcome struct {
	Success bool `json:"success"`
	// Absolute counters, valid for index/reindex success.
	DocumentCount int `json:"document_count,omitempty"`
	ChunkCount    int `json:"chunk_count,omitempty"`
	// Deltas, valid for incremental success.
	DeltaDocuments int  `json:"delta_documents,omitempty"`
	DeltaChunks    int  `json:"delta_chunks,omitempty"`
	Incremental    bool `json:"incremental,omitempty"`
	// Deleted marks a completed delete job; the registry row is dropped.
	Deleted bool   `json:"deleted,omitempty"`
	Error   string `json:"error,omitempty"`
}

// QueueStats is the aggregate view of the job queue.
type QueueStats struct {
	Running        int `json:"running"`
	Queued         int `json:"queued"`
	Pending        int `json:"pending"`
	Paused         int `json:"paused"`
	Failed         int `json:"failed"`
	Completed      int `json:"completed"`
	AvailableSlots int `json:"available_slots"`
	MaxConcurrent  int `json:"max_concurrent"`
}
