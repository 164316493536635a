package syncengine

import "github.com/joe/drivesync/internal/models"

// Event is the interface implemented by all sync engine events.
type Event interface {
	isEvent()
}

// EventEmitter is the interface for emitting events.
type EventEmitter interface {
	Emit(event Event)
}

// Scan phase events

// ScanStarted is emitted when scanning begins for a side ("local" or "remote").
type ScanStarted struct {
	AccountID string
	Side      string
}

func (ScanStarted) isEvent() {}

// ScanProgress is emitted periodically during scanning.
type ScanProgress struct {
	AccountID string
	Side      string
	Count     int
	Folder    string
}

func (ScanProgress) isEvent() {}

// ScanComplete is emitted when scanning finishes for a side.
type ScanComplete struct {
	AccountID string
	Side      string
	Count     int
}

func (ScanComplete) isEvent() {}

// Reconcile phase events

// PlanReady is emitted when reconciliation finishes with the sync plan.
type PlanReady struct {
	AccountID string
	Plan      *Plan
}

func (PlanReady) isEvent() {}

// ConflictDetected is emitted for each new conflict the plan creates.
type ConflictDetected struct {
	Conflict models.SyncConflict
}

func (ConflictDetected) isEvent() {}

// Transfer phase events

// TransferStarted is emitted when a file transfer begins.
type TransferStarted struct {
	AccountID string
	Path      string
	Size      int64
	Direction models.SyncDirection
}

func (TransferStarted) isEvent() {}

// TransferComplete is emitted when a file transfer finishes successfully.
type TransferComplete struct {
	AccountID string
	Path      string
	Direction models.SyncDirection
}

func (TransferComplete) isEvent() {}

// TransferFailed is emitted when a file transfer fails. The run continues;
// the failed record is retried on the next run.
type TransferFailed struct {
	AccountID string
	Path      string
	Direction models.SyncDirection
	Err       error
}

func (TransferFailed) isEvent() {}

// FileDeleted is emitted when a deletion is propagated to either side.
type FileDeleted struct {
	AccountID string
	Path      string
	Side      string // "local" or "remote"
}

func (FileDeleted) isEvent() {}

// Run lifecycle events

// StateUpdated carries a progress snapshot. Observers always see the latest
// snapshot; intermediate ones may be dropped.
type StateUpdated struct {
	State models.SyncState
}

func (StateUpdated) isEvent() {}

// RunComplete is emitted when a run reaches a terminal status.
type RunComplete struct {
	AccountID string
	Status    models.RunStatus
	Err       error
}

func (RunComplete) isEvent() {}

// ErrorOccurred is emitted when a non-fatal error occurs during any phase.
type ErrorOccurred struct {
	AccountID string
	Phase     string
	Err       error
}

func (ErrorOccurred) isEvent() {}

// NullEmitter discards all events.
type NullEmitter struct{}

// Emit implements EventEmitter.
func (NullEmitter) Emit(Event) {}
