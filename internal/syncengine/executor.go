package syncengine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/joe/drivesync/internal/metastore"
	"github.com/joe/drivesync/internal/models"
	"github.com/joe/drivesync/pkg/fileops"
	"github.com/joe/drivesync/pkg/remote"
)

// DefaultWorkers is the default transfer fan-out per phase.
const DefaultWorkers = 4

// TransferExecutor carries out a Plan against the remote and the local
// filesystem, persisting every state change to the metadata store as it
// happens so an interrupted run resumes cleanly.
//
// Transfers run in phases (uploads, then downloads, then deletions) with a
// bounded worker pool per phase. A failed file marks its record Failed and
// the run moves on; only cancellation stops the phase early, and in-flight
// transfers finish their current chunk before stopping.
type TransferExecutor struct {
	Store    *metastore.Store
	Client   remote.Client
	Reporter *Reporter
	Emitter  EventEmitter
	Log      *RunLog

	// Workers bounds concurrent transfers per phase (DefaultWorkers if <= 0).
	Workers int

	// DryRun logs every planned action without touching the store, the
	// filesystem, or the remote.
	DryRun bool
}

// ExecuteResult summarizes one executed plan.
type ExecuteResult struct {
	Transferred int
	Deleted     int
	Failed      int
	Cancelled   bool
}

// Execute runs the plan to completion or cancellation.
func (e *TransferExecutor) Execute(ctx context.Context, plan Plan) (ExecuteResult, error) {
	if e.DryRun {
		return e.logPlan(plan), nil
	}

	var result ExecuteResult

	// Everything already in agreement and every healed duplicate is recorded
	// first; these are pure store writes with no transfer attached.
	for _, rec := range plan.MarkSynced {
		rec.SyncStatus = models.StatusSynced
		if err := e.Store.Save(rec); err != nil {
			return result, fmt.Errorf("failed to record synced file %s: %w", rec.Path, err)
		}
	}

	if err := e.Store.SaveAll(plan.RecordRewrites); err != nil {
		return result, fmt.Errorf("failed to rewrite records: %w", err)
	}

	// Pending markers go down before any transfer starts, so a crash mid-run
	// leaves records that the next run's reconciliation retries.
	if err := e.persistPending(plan); err != nil {
		return result, err
	}

	e.runPhase(ctx, plan.Uploads, &result, e.uploadOne)
	e.runPhase(ctx, plan.Downloads, &result, e.downloadOne)

	e.runDeletes(ctx, plan, &result)

	if ctx.Err() != nil {
		result.Cancelled = true
	}

	return result, nil
}

func (e *TransferExecutor) persistPending(plan Plan) error {
	pending := make([]models.FileRecord, 0, len(plan.Uploads)+len(plan.Downloads))

	for _, rec := range plan.Uploads {
		rec.SyncStatus = models.StatusPendingUpload
		pending = append(pending, rec)
	}

	for _, rec := range plan.Downloads {
		rec.SyncStatus = models.StatusPendingDownload
		pending = append(pending, rec)
	}

	if err := e.Store.SaveAll(pending); err != nil {
		return fmt.Errorf("failed to persist pending transfers: %w", err)
	}

	return nil
}

// runPhase feeds records through a fixed pool of workers. The jobs channel is
// pre-filled and closed, so workers drain it and exit; cancellation stops
// workers between files.
func (e *TransferExecutor) runPhase(
	ctx context.Context,
	recs []models.FileRecord,
	result *ExecuteResult,
	transfer func(ctx context.Context, rec models.FileRecord) error,
) {
	if len(recs) == 0 || ctx.Err() != nil {
		return
	}

	workers := e.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	if workers > len(recs) {
		workers = len(recs)
	}

	jobs := make(chan models.FileRecord, len(recs))
	for _, rec := range recs {
		jobs <- rec
	}

	close(jobs)

	var (
		mu          sync.Mutex
		transferred int
		failed      int
		wg          sync.WaitGroup
	)

	for range workers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for rec := range jobs {
				if ctx.Err() != nil {
					return
				}

				err := transfer(ctx, rec)

				mu.Lock()
				if err != nil {
					if !errors.Is(err, context.Canceled) {
						failed++
					}
				} else {
					transferred++
				}
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	result.Transferred += transferred
	result.Failed += failed
}

func (e *TransferExecutor) uploadOne(ctx context.Context, rec models.FileRecord) error {
	rec.SyncStatus = models.StatusUploading
	if err := e.Store.Save(rec); err != nil {
		return fmt.Errorf("failed to mark %s uploading: %w", rec.Path, err)
	}

	e.Reporter.TransferStarted(models.DirectionUpload)
	e.Emitter.Emit(TransferStarted{
		AccountID: rec.AccountID,
		Path:      rec.Path,
		Size:      rec.Size,
		Direction: models.DirectionUpload,
	})

	item, err := e.Client.Upload(ctx, rec.AccountID, rec.LocalPath, rec.Path, e.progressFunc())
	if err != nil {
		return e.transferFailed(rec, models.DirectionUpload, models.StatusPendingUpload, err)
	}

	// The remote's reported time is authoritative. Stamping it onto the
	// local file too means neither side looks changed on the next run, even
	// when the remote rounded the time we pushed.
	if err := os.Chtimes(rec.LocalPath, item.ModTime, item.ModTime); err != nil {
		e.Log.Printf("upload %s: failed to set local mtime: %v", rec.Path, err)
	}

	rec.ID = item.ID
	rec.Size = item.Size
	rec.LastModifiedUTC = item.ModTime
	rec.ChangeTag = item.ChangeTag
	rec.ETag = item.ETag
	rec.SyncStatus = models.StatusSynced
	rec.LastSyncDirection = models.DirectionUpload

	if err := e.Store.Save(rec); err != nil {
		return e.transferFailed(rec, models.DirectionUpload, models.StatusPendingUpload, err)
	}

	e.Reporter.TransferFinished(models.DirectionUpload, true)
	e.Emitter.Emit(TransferComplete{AccountID: rec.AccountID, Path: rec.Path, Direction: models.DirectionUpload})

	return nil
}

func (e *TransferExecutor) downloadOne(ctx context.Context, rec models.FileRecord) error {
	rec.SyncStatus = models.StatusDownloading
	if err := e.Store.Save(rec); err != nil {
		return fmt.Errorf("failed to mark %s downloading: %w", rec.Path, err)
	}

	e.Reporter.TransferStarted(models.DirectionDownload)
	e.Emitter.Emit(TransferStarted{
		AccountID: rec.AccountID,
		Path:      rec.Path,
		Size:      rec.Size,
		Direction: models.DirectionDownload,
	})

	err := e.Client.Download(ctx, rec.AccountID, rec.ID, rec.LocalPath, e.progressFunc())
	if err != nil {
		return e.transferFailed(rec, models.DirectionDownload, models.StatusPendingDownload, err)
	}

	hash, err := fileops.ComputeFileHash(rec.LocalPath)
	if err != nil {
		return e.transferFailed(rec, models.DirectionDownload, models.StatusPendingDownload, err)
	}

	// Local mtime mirrors the remote's so the next scan sees both sides agree.
	if err := os.Chtimes(rec.LocalPath, rec.LastModifiedUTC, rec.LastModifiedUTC); err != nil {
		e.Log.Printf("download %s: failed to set local mtime: %v", rec.Path, err)
	}

	rec.LocalHash = hash
	rec.SyncStatus = models.StatusSynced
	rec.LastSyncDirection = models.DirectionDownload

	if err := e.Store.Save(rec); err != nil {
		return e.transferFailed(rec, models.DirectionDownload, models.StatusPendingDownload, err)
	}

	e.Reporter.TransferFinished(models.DirectionDownload, true)
	e.Emitter.Emit(TransferComplete{AccountID: rec.AccountID, Path: rec.Path, Direction: models.DirectionDownload})

	return nil
}

// transferFailed persists the right terminal status for a failed transfer and
// reports it. Cancellation is not failure: the record reverts to its pending
// status so the next run picks it up exactly where this one stopped.
func (e *TransferExecutor) transferFailed(
	rec models.FileRecord,
	direction models.SyncDirection,
	pendingStatus models.SyncStatus,
	cause error,
) error {
	cancelled := errors.Is(cause, context.Canceled)

	if cancelled {
		rec.SyncStatus = pendingStatus
	} else {
		rec.SyncStatus = models.StatusFailed
		rec.LastSyncDirection = direction
	}

	if err := e.Store.Save(rec); err != nil {
		e.Log.Printf("transfer %s: failed to persist status after error: %v", rec.Path, err)
	}

	e.Reporter.TransferFinished(direction, false)

	if !cancelled {
		e.Log.Printf("transfer %s (%s) failed: %v", rec.Path, direction, cause)
		e.Emitter.Emit(TransferFailed{
			AccountID: rec.AccountID,
			Path:      rec.Path,
			Direction: direction,
			Err:       cause,
		})
	}

	return cause
}

// runDeletes propagates deletions sequentially. Deletions are cheap relative
// to transfers and sequential ordering keeps the log readable.
func (e *TransferExecutor) runDeletes(ctx context.Context, plan Plan, result *ExecuteResult) {
	for _, rec := range plan.LocalDeletes {
		if ctx.Err() != nil {
			return
		}

		if err := fileops.RemoveFile(rec.LocalPath); err != nil {
			e.Log.Printf("delete local %s: %v", rec.Path, err)
			result.Failed++

			continue
		}

		if err := e.Store.Delete(rec.AccountID, rec.Path); err != nil {
			e.Log.Printf("delete record %s: %v", rec.Path, err)
			result.Failed++

			continue
		}

		result.Deleted++
		e.Reporter.FileDeleted()
		e.Emitter.Emit(FileDeleted{AccountID: rec.AccountID, Path: rec.Path, Side: "local"})
	}

	for _, rec := range plan.RemoteDelete {
		if ctx.Err() != nil {
			return
		}

		err := e.Client.Delete(ctx, rec.AccountID, rec.ID)
		if err != nil && !remote.IsNotFound(err) {
			// Transient failure: leave the record so the next run retries.
			e.Log.Printf("delete remote %s: %v", rec.Path, err)
			result.Failed++

			continue
		}

		if err := e.Store.Delete(rec.AccountID, rec.Path); err != nil {
			e.Log.Printf("delete record %s: %v", rec.Path, err)
			result.Failed++

			continue
		}

		result.Deleted++
		e.Reporter.FileDeleted()
		e.Emitter.Emit(FileDeleted{AccountID: rec.AccountID, Path: rec.Path, Side: "remote"})
	}

	for _, rec := range plan.RecordPurges {
		if ctx.Err() != nil {
			return
		}

		if err := e.Store.Delete(rec.AccountID, rec.Path); err != nil {
			e.Log.Printf("purge record %s: %v", rec.Path, err)
			result.Failed++
		}
	}
}

// progressFunc adapts the remote client's cumulative progress callback to the
// reporter's delta feed. Each transfer gets its own closure.
func (e *TransferExecutor) progressFunc() remote.ProgressFunc {
	var last int64

	return func(transferred, _ int64) {
		e.Reporter.TransferProgress(transferred - last)
		last = transferred
	}
}

func (e *TransferExecutor) logPlan(plan Plan) ExecuteResult {
	for _, rec := range plan.Uploads {
		e.Log.Printf("dry-run: would upload %s (%d bytes)", rec.Path, rec.Size)
	}

	for _, rec := range plan.Downloads {
		e.Log.Printf("dry-run: would download %s (%d bytes)", rec.Path, rec.Size)
	}

	for _, rec := range plan.LocalDeletes {
		e.Log.Printf("dry-run: would delete local %s", rec.Path)
	}

	for _, rec := range plan.RemoteDelete {
		e.Log.Printf("dry-run: would delete remote %s", rec.Path)
	}

	for _, rec := range plan.RecordPurges {
		e.Log.Printf("dry-run: would purge record %s", rec.Path)
	}

	for _, c := range plan.NewConflicts {
		e.Log.Printf("dry-run: would record conflict %s", c.FilePath)
	}

	return ExecuteResult{}
}
