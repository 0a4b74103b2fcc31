package models

import "time"

// Change kind constants for filesystem change events.
const (
	ChangeCreated  = "created"
	ChangeModified = "modified"
	ChangeDeleted  = "deleted"
	ChangeMoved    = "moved"
)

// ChangeEvent is one raw filesystem observation, before debouncing.
type ChangeEvent struct {
	CollectionName string    `json:"collection_name"`
	FilePath       string    `json:"file_path"`
	Kind           string    `json:"kind"`
	OldPath        string    `json:"old_path,omitempty"` // set for moved
	Timestamp      time.Time `json:"timestamp"`
}

// WatchConfig is the persisted per-collection watch configuration.
type WatchConfig struct {
	Name         string `json:"name"`
	Path         string `json:"path"`
	Enabled      bool   `json:"enabled"`
	ScanInterval string `json:"scan_interval,omitempty"`
	Debounce     string `json:"debounce,omitempty"`
}

// FileState is one entry in the persisted scan snapshot, used by the
// periodic scanner to catch events the native watcher missed.
type FileState struct {
	Size        int64     `json:"size"`
	ModTime     time.Time `json:"mtime"`
	ContentHash string    `json:"content_hash"`
}

// WatchState is the durable document persisted per collection under
// <data_dir>/watcher/<name>.json.
type WatchState struct {
	Config   WatchConfig          `json:"config"`
	Snapshot map[string]FileState `json:"snapshot,omitempty"`
	LastScan time.Time            `json:"last_scan,omitempty"`
}

// WatchStatus is the client-facing view of one watch, with counters.
type WatchStatus struct {
	WatchConfig
	LastScan     time.Time `json:"last_scan,omitempty"`
	FilesTracked int       `json:"files_tracked"`
	EventsSeen   int64     `json:"events_seen"`
	JobsEnqueued int64     `json:"jobs_enqueued"`
}
