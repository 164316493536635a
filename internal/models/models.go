// Package models defines the value types shared between the metadata store,
// the reconciliation engine, and the transfer executor. All types are plain
// values; updates produce a new value assigned back to the store, never a
// mutation in place.
package models

import "time"

// SyncStatus is the persisted lifecycle state of a file record.
type SyncStatus string

// File record sync statuses.
const (
	StatusNotSynced       SyncStatus = "not_synced"
	StatusSynced          SyncStatus = "synced"
	StatusPendingUpload   SyncStatus = "pending_upload"
	StatusPendingDownload SyncStatus = "pending_download"
	StatusUploading       SyncStatus = "uploading"
	StatusDownloading     SyncStatus = "downloading"
	StatusConflict        SyncStatus = "conflict"
	StatusFailed          SyncStatus = "failed"
	StatusDeleted         SyncStatus = "deleted"
)

// SyncDirection records which way the last successful transfer went.
type SyncDirection string

// Transfer directions. DirectionNone means the record has never completed a
// transfer in either direction.
const (
	DirectionNone     SyncDirection = ""
	DirectionUpload   SyncDirection = "upload"
	DirectionDownload SyncDirection = "download"
)

// FileRecord is the metadata store's last-known-synced truth for one logical
// path in one account. It is the sole source of truth for "what we last knew";
// the reconciliation engine never trusts live filesystem or remote state alone
// to infer prior state.
//
// Invariant: StatusSynced implies LocalHash and ChangeTag reflect the content
// at the last successful transfer in the direction recorded by LastSyncDirection.
type FileRecord struct {
	ID                string // remote item identifier, empty until first successful upload
	AccountID         string
	Name              string
	Path              string // logical path: account-root-relative, forward-slash separated
	Size              int64
	LastModifiedUTC   time.Time
	LocalPath         string // absolute local path, empty until the file exists locally
	ChangeTag         string // opaque remote version marker, changes with remote content
	ETag              string
	LocalHash         string // content hash of the local file, empty for never-downloaded files
	SyncStatus        SyncStatus
	LastSyncDirection SyncDirection
}

// LocalFileEntry is one file observed by a local scan. Ephemeral; recomputed
// every run, never persisted.
type LocalFileEntry struct {
	Path            string // logical path
	Size            int64
	LastModifiedUTC time.Time
	LocalPath       string // absolute local path
	LocalHash       string
}

// RemoteFileEntry is one file observed by a remote listing. Ephemeral; never
// persisted.
type RemoteFileEntry struct {
	ID              string
	Path            string // logical path
	Size            int64
	LastModifiedUTC time.Time
	ChangeTag       string
	ETag            string
}

// ResolutionStrategy selects how a conflict is resolved. Conflicting files are
// never content-merged; they are resolved by whole-file strategies.
type ResolutionStrategy string

// Conflict resolution strategies.
const (
	ResolutionNone       ResolutionStrategy = "none"
	ResolutionKeepLocal  ResolutionStrategy = "keep_local"
	ResolutionKeepRemote ResolutionStrategy = "keep_remote"
	ResolutionKeepBoth   ResolutionStrategy = "keep_both"
	ResolutionKeepNewer  ResolutionStrategy = "keep_newer"
)

// SyncConflict is a persisted record of a detected, unresolved conflict:
// both sides changed the same path since the last sync. Created by the
// reconciliation engine; mutated only by the resolution workflow, which sets
// the strategy, triggers a single-file transfer, and deletes the record.
type SyncConflict struct {
	ID                 string
	AccountID          string
	FilePath           string // logical path
	LocalModifiedUTC   time.Time
	RemoteModifiedUTC  time.Time
	LocalSize          int64
	RemoteSize         int64
	DetectedUTC        time.Time
	ResolutionStrategy ResolutionStrategy
	IsResolved         bool
}

// RunStatus is the overall state of a sync run.
type RunStatus string

// Sync run statuses. Paused is reached only via cancellation, never via error,
// and is fully resumable.
const (
	RunIdle      RunStatus = "idle"
	RunRunning   RunStatus = "running"
	RunPaused    RunStatus = "paused"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// SyncState is the progress snapshot published to observers. Rebuilt fresh at
// the start of every run; the terminal value is retained until the next run.
type SyncState struct {
	AccountID         string
	Status            RunStatus
	TotalFiles        int
	CompletedFiles    int
	TotalBytes        int64
	CompletedBytes    int64
	FilesDownloading  int
	FilesUploading    int
	FilesDeleted      int
	ConflictsDetected int

	// MegabytesPerSecond is the smoothed transfer rate over a rolling window
	// of recent samples, not an instantaneous figure.
	MegabytesPerSecond float64

	// EstimatedSecondsRemaining is nil when throughput is zero or the phase
	// has no bytes left to transfer.
	EstimatedSecondsRemaining *float64

	CurrentScanningFolder string
	LastUpdateUTC         time.Time
}
