package syncengine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/joe/drivesync/internal/models"
	"github.com/joe/drivesync/pkg/fileops"
	"github.com/joe/drivesync/pkg/remote"
)

// Exported variables.
var (
	// ErrSyncActive means a resolution was attempted while the account's
	// sync run was in flight.
	ErrSyncActive = errors.New("sync run active for account")
	// ErrConflictNotFound means no unresolved conflict matches the id.
	ErrConflictNotFound = errors.New("conflict not found")
)

// Resolve applies a whole-file resolution strategy to one conflict. Conflicts
// are never content-merged.
//
// KeepLocal uploads the local version over the remote. KeepRemote downloads
// the remote version over the local. KeepBoth renames the local file aside
// (it uploads as a new file on the next run) and downloads the remote into
// place. KeepNewer picks KeepLocal or KeepRemote by modification time, local
// winning ties. ResolutionNone dismisses the conflict and lets the next run
// re-evaluate the path from scratch.
//
// The chosen strategy is persisted before the transfer runs, so a crash
// mid-resolution leaves the intent on record. Once the transfer succeeds the
// conflict is marked resolved and then deleted; a failed transfer leaves it
// unresolved and listed, so it can be retried.
func (s *Service) Resolve(ctx context.Context, accountID, conflictID string, strategy models.ResolutionStrategy) error {
	acct, ok := s.accounts[accountID]
	if !ok {
		return fmt.Errorf("account %s: %w", accountID, ErrUnknownAccount)
	}

	s.mu.Lock()
	_, active := s.running[accountID]
	s.mu.Unlock()

	if active {
		return fmt.Errorf("account %s: %w", accountID, ErrSyncActive)
	}

	conflict, err := s.findConflict(accountID, conflictID)
	if err != nil {
		return err
	}

	if strategy == models.ResolutionKeepNewer {
		strategy = models.ResolutionKeepLocal
		if conflict.RemoteModifiedUTC.After(conflict.LocalModifiedUTC) {
			strategy = models.ResolutionKeepRemote
		}
	}

	conflict.ResolutionStrategy = strategy
	if err := s.store.UpdateConflict(conflict); err != nil {
		return fmt.Errorf("failed to persist resolution strategy: %w", err)
	}

	switch strategy {
	case models.ResolutionNone:
		err = s.dismissConflict(acct, conflict)
	case models.ResolutionKeepLocal:
		err = s.resolveKeepLocal(ctx, acct, conflict)
	case models.ResolutionKeepRemote:
		err = s.resolveKeepRemote(ctx, acct, conflict)
	case models.ResolutionKeepBoth:
		err = s.resolveKeepBoth(ctx, acct, conflict)
	default:
		return fmt.Errorf("unknown resolution strategy %q", strategy)
	}

	if err != nil {
		return err
	}

	conflict.IsResolved = true
	if err := s.store.UpdateConflict(conflict); err != nil {
		return fmt.Errorf("failed to mark conflict resolved: %w", err)
	}

	if err := s.store.DeleteConflict(conflict.ID); err != nil {
		return fmt.Errorf("failed to delete resolved conflict: %w", err)
	}

	s.log.Printf("conflict %s on %s resolved with %s", conflict.ID, conflict.FilePath, strategy)

	return nil
}

func (s *Service) findConflict(accountID, conflictID string) (models.SyncConflict, error) {
	conflicts, err := s.store.GetConflicts(accountID)
	if err != nil {
		return models.SyncConflict{}, err
	}

	for _, c := range conflicts {
		if c.ID == conflictID {
			return c, nil
		}
	}

	return models.SyncConflict{}, fmt.Errorf("conflict %s: %w", conflictID, ErrConflictNotFound)
}

// dismissConflict drops the conflict and resets the record so the next run
// evaluates the path as if the conflict had never been recorded.
func (s *Service) dismissConflict(acct Account, conflict models.SyncConflict) error {
	recs, err := s.store.GetByPath(acct.ID, conflict.FilePath)
	if err != nil {
		return err
	}

	if len(recs) == 0 {
		return nil
	}

	rec := recs[0]
	rec.SyncStatus = models.StatusNotSynced

	return s.store.Save(rec)
}

func (s *Service) resolveKeepLocal(ctx context.Context, acct Account, conflict models.SyncConflict) error {
	rec, err := s.localRecord(acct, conflict.FilePath)
	if err != nil {
		return err
	}

	return s.runSingleTransfer(ctx, Plan{Uploads: []models.FileRecord{rec}}, conflict.FilePath)
}

func (s *Service) resolveKeepRemote(ctx context.Context, acct Account, conflict models.SyncConflict) error {
	rec, err := s.remoteRecord(ctx, acct, conflict.FilePath)
	if err != nil {
		return err
	}

	return s.runSingleTransfer(ctx, Plan{Downloads: []models.FileRecord{rec}}, conflict.FilePath)
}

// resolveKeepBoth moves the local file aside under a conflict-copy name and
// downloads the remote version into place. The renamed copy is a brand-new
// local file to the next run, which uploads it.
func (s *Service) resolveKeepBoth(ctx context.Context, acct Account, conflict models.SyncConflict) error {
	localPath := filepath.Join(acct.LocalRoot, filepath.FromSlash(conflict.FilePath))
	copyPath := conflictCopyPath(localPath)

	if err := os.Rename(localPath, copyPath); err != nil {
		return fmt.Errorf("failed to set aside local copy of %s: %w", conflict.FilePath, err)
	}

	return s.resolveKeepRemote(ctx, acct, conflict)
}

// runSingleTransfer executes a one-file plan through the regular executor so
// resolution transfers share the normal persistence and event flow.
func (s *Service) runSingleTransfer(ctx context.Context, plan Plan, logicalPath string) error {
	reporter := s.reporters[plan.firstAccountID()]
	if reporter == nil {
		reporter = NewReporter("", s.opts.TimeProvider)
	}

	executor := &TransferExecutor{
		Store:    s.store,
		Client:   s.client,
		Reporter: reporter,
		Emitter:  s.emitter,
		Log:      s.log,
		Workers:  1,
	}

	result, err := executor.Execute(ctx, plan)
	if err != nil {
		return err
	}

	if result.Failed > 0 {
		return fmt.Errorf("resolution transfer for %s failed: %w", logicalPath, remote.ErrTransient)
	}

	if result.Cancelled {
		return context.Canceled
	}

	return nil
}

// localRecord builds the upload-ready record for a path from the stored
// record (if any) plus a fresh stat of the local file.
func (s *Service) localRecord(acct Account, logical string) (models.FileRecord, error) {
	localPath := filepath.Join(acct.LocalRoot, filepath.FromSlash(logical))

	info, err := os.Stat(localPath)
	if err != nil {
		return models.FileRecord{}, fmt.Errorf("failed to stat %s: %w", localPath, err)
	}

	entry := models.LocalFileEntry{
		Path:            logical,
		Size:            info.Size(),
		LastModifiedUTC: info.ModTime().UTC(),
		LocalPath:       localPath,
	}

	if s.opts.ComputeHashes {
		hash, err := fileops.ComputeFileHash(localPath)
		if err != nil {
			return models.FileRecord{}, err
		}

		entry.LocalHash = hash
	}

	recs, err := s.store.GetByPath(acct.ID, logical)
	if err != nil {
		return models.FileRecord{}, err
	}

	if len(recs) > 0 {
		return refreshFromLocal(recs[0], entry), nil
	}

	return newLocalRecord(entry, acct.ID), nil
}

// remoteRecord builds the download-ready record for a path from the stored
// record (if any) plus a fresh remote lookup.
func (s *Service) remoteRecord(ctx context.Context, acct Account, logical string) (models.FileRecord, error) {
	entry, err := s.lookupRemote(ctx, acct, logical)
	if err != nil {
		return models.FileRecord{}, err
	}

	opts := ReconcileOptions{AccountID: acct.ID, LocalRoot: acct.LocalRoot}

	recs, err := s.store.GetByPath(acct.ID, logical)
	if err != nil {
		return models.FileRecord{}, err
	}

	if len(recs) > 0 {
		return refreshFromRemote(recs[0], entry, opts), nil
	}

	rec := newRemoteRecord(entry, opts)
	rec.LocalPath = filepath.Join(acct.LocalRoot, filepath.FromSlash(logical))

	return rec, nil
}

// lookupRemote finds a single file on the remote by logical path.
func (s *Service) lookupRemote(ctx context.Context, acct Account, logical string) (models.RemoteFileEntry, error) {
	detector := &RemoteChangeDetector{Client: s.client, Log: s.log}

	parent := path.Dir(logical)
	if parent == "." {
		parent = ""
	}

	folderPath := joinLogical(strings.Trim(acct.RemoteFolder, "/"), parent)

	folderID, err := detector.resolveFolder(ctx, acct.ID, folderPath)
	if err != nil {
		return models.RemoteFileEntry{}, fmt.Errorf("failed to locate remote folder for %s: %w", logical, err)
	}

	items, err := s.client.GetChildren(ctx, acct.ID, folderID)
	if err != nil {
		return models.RemoteFileEntry{}, fmt.Errorf("failed to list remote folder for %s: %w", logical, err)
	}

	name := path.Base(logical)

	for _, item := range items {
		if item.IsFolder || !strings.EqualFold(item.Name, name) {
			continue
		}

		return models.RemoteFileEntry{
			ID:              item.ID,
			Path:            logical,
			Size:            item.Size,
			LastModifiedUTC: item.ModTime.UTC(),
			ChangeTag:       item.ChangeTag,
			ETag:            item.ETag,
		}, nil
	}

	return models.RemoteFileEntry{}, fmt.Errorf("remote file %s: %w", logical, remote.ErrNotFound)
}

// conflictCopyPath derives the set-aside name for a keep-both resolution:
// "report.txt" becomes "report (conflicted copy).txt".
func conflictCopyPath(localPath string) string {
	ext := filepath.Ext(localPath)
	base := strings.TrimSuffix(localPath, ext)

	candidate := base + " (conflicted copy)" + ext
	for n := 2; ; n++ {
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}

		candidate = fmt.Sprintf("%s (conflicted copy %d)%s", base, n, ext)
	}
}

// firstAccountID returns the account of the plan's first record, for wiring
// single-transfer plans to the right reporter.
func (p Plan) firstAccountID() string {
	for _, set := range [][]models.FileRecord{p.Uploads, p.Downloads} {
		if len(set) > 0 {
			return set[0].AccountID
		}
	}

	return ""
}
