package syncengine

import (
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/joe/drivesync/internal/models"
)

// Exported constants.
const (
	// DefaultFirstSyncTolerance is the modified-time window within which a
	// local file and a remote file with no stored record are treated as the
	// same content. Wide, to absorb remote timestamp rounding.
	DefaultFirstSyncTolerance = 60 * time.Second
	// DefaultRemoteChangeTolerance is the modified-time window within which
	// a remote entry is considered unchanged from the stored record.
	DefaultRemoteChangeTolerance = 1 * time.Second
)

// ReconcileOptions parameterizes a reconciliation pass. The tolerances are
// empirically chosen defaults, not hard-coded law.
type ReconcileOptions struct {
	AccountID string
	LocalRoot string // absolute local sync root, used to compute LocalPath for downloads

	FirstSyncTolerance    time.Duration // 0 → DefaultFirstSyncTolerance
	RemoteChangeTolerance time.Duration // 0 → DefaultRemoteChangeTolerance

	// DisableDeletes suppresses deletions derived from remote absence. Set
	// when the remote scan was partial, so files missing from a failed
	// traversal are not mistaken for confirmed remote deletions.
	DisableDeletes bool

	// Now stamps DetectedUTC on new conflicts. Zero means time.Now().
	Now time.Time
}

// Plan is the output of one reconciliation pass: the minimal set of actions
// that brings local, remote, and stored state back into agreement.
type Plan struct {
	Uploads      []models.FileRecord   // transfer local → remote
	Downloads    []models.FileRecord   // transfer remote → local
	LocalDeletes []models.FileRecord   // remote deleted; remove local file + record
	RemoteDelete []models.FileRecord   // local deleted; remove remote item + record
	RecordPurges []models.FileRecord   // remove stored record only; never touches file content on either side
	NewConflicts []models.SyncConflict // both sides changed; IDs assigned at persist time
	MarkSynced   []models.FileRecord   // already in agreement; record without transfer

	// RecordRewrites are surviving records for paths that held duplicate rows
	// and need no other action. Saving them collapses the duplicates.
	RecordRewrites []models.FileRecord
}

// IsEmpty reports whether the plan contains no work at all.
func (p Plan) IsEmpty() bool {
	return len(p.Uploads) == 0 && len(p.Downloads) == 0 &&
		len(p.LocalDeletes) == 0 && len(p.RemoteDelete) == 0 &&
		len(p.RecordPurges) == 0 && len(p.NewConflicts) == 0 &&
		len(p.MarkSynced) == 0 && len(p.RecordRewrites) == 0
}

// TotalTransfers returns the number of files the plan moves in either direction.
func (p Plan) TotalTransfers() int {
	return len(p.Uploads) + len(p.Downloads)
}

// Reconcile computes the sync plan from three snapshots: the current local
// listing, the current remote listing, and the stored records from the
// metadata store, plus the account's open conflicts (for idempotent conflict
// creation). It is a pure function of its inputs: no I/O, no hidden state,
// and identical inputs always produce identical plans.
//
// Duplicate stored records for one path (data corruption from a prior bug)
// are self-healed: the best record wins deterministically and the rest are
// purged via the plan.
func Reconcile(
	local []models.LocalFileEntry,
	remote []models.RemoteFileEntry,
	stored []models.FileRecord,
	openConflicts []models.SyncConflict,
	opts ReconcileOptions,
) Plan {
	if opts.FirstSyncTolerance == 0 {
		opts.FirstSyncTolerance = DefaultFirstSyncTolerance
	}

	if opts.RemoteChangeTolerance == 0 {
		opts.RemoteChangeTolerance = DefaultRemoteChangeTolerance
	}

	if opts.Now.IsZero() {
		opts.Now = time.Now().UTC()
	}

	localByPath := make(map[string]models.LocalFileEntry, len(local))
	for _, entry := range local {
		localByPath[entry.Path] = entry
	}

	remoteByPath := make(map[string]models.RemoteFileEntry, len(remote))
	for _, entry := range remote {
		remoteByPath[entry.Path] = entry
	}

	conflicted := make(map[string]bool, len(openConflicts))
	for _, c := range openConflicts {
		if !c.IsResolved {
			conflicted[c.FilePath] = true
		}
	}

	var plan Plan

	recordByPath, dupePaths := dedupeStored(stored)

	for _, p := range unionPaths(localByPath, remoteByPath, recordByPath) {
		loc, hasLocal := localByPath[p]
		rem, hasRemote := remoteByPath[p]
		rec, hasRecord := recordByPath[p]

		// A record in Deleted state carries no last-known truth anymore.
		if hasRecord && rec.SyncStatus == models.StatusDeleted {
			hasRecord = false

			if !hasLocal && !hasRemote {
				plan.RecordPurges = append(plan.RecordPurges, rec)
				continue
			}
		}

		switch {
		case !hasRecord:
			reconcileUnrecorded(&plan, loc, hasLocal, rem, hasRemote, conflicted, opts)
		default:
			reconcileRecorded(&plan, rec, loc, hasLocal, rem, hasRemote, conflicted, opts)
		}
	}

	// Paths that held duplicate rows heal through whatever write the plan
	// already makes for them; paths with no planned write get an explicit
	// rewrite of the surviving record.
	touched := touchedPaths(plan)
	for _, p := range dupePaths {
		if !touched[p] {
			plan.RecordRewrites = append(plan.RecordRewrites, recordByPath[p])
		}
	}

	sortPlan(&plan)

	return plan
}

func touchedPaths(plan Plan) map[string]bool {
	touched := make(map[string]bool)

	for _, set := range [][]models.FileRecord{
		plan.Uploads, plan.Downloads, plan.LocalDeletes,
		plan.RemoteDelete, plan.RecordPurges, plan.MarkSynced,
	} {
		for _, rec := range set {
			touched[rec.Path] = true
		}
	}

	return touched
}

// reconcileUnrecorded handles paths with no stored record: brand-new local
// files, brand-new remote files, and the first-sync case where both exist.
func reconcileUnrecorded(
	plan *Plan,
	loc models.LocalFileEntry, hasLocal bool,
	rem models.RemoteFileEntry, hasRemote bool,
	conflicted map[string]bool,
	opts ReconcileOptions,
) {
	switch {
	case hasLocal && !hasRemote:
		// Brand-new local file.
		if !conflicted[loc.Path] {
			plan.Uploads = append(plan.Uploads, newLocalRecord(loc, opts.AccountID))
		}

	case !hasLocal && hasRemote:
		// Brand-new remote file.
		if !conflicted[rem.Path] {
			plan.Downloads = append(plan.Downloads, newRemoteRecord(rem, opts))
		}

	case hasLocal && hasRemote:
		// First sync for this path: compare the two sides directly.
		sameSize := loc.Size == rem.Size
		closeEnough := within(loc.LastModifiedUTC, rem.LastModifiedUTC, opts.FirstSyncTolerance)

		if sameSize && closeEnough {
			rec := newRemoteRecord(rem, opts)
			rec.LocalPath = loc.LocalPath
			rec.LocalHash = loc.LocalHash
			rec.SyncStatus = models.StatusSynced
			plan.MarkSynced = append(plan.MarkSynced, rec)

			return
		}

		addConflict(plan, loc, rem, conflicted, opts)
	}
}

// reconcileRecorded handles paths with a stored record: retries, change
// detection on both sides, conflicts, and evidence-based deletions.
func reconcileRecorded(
	plan *Plan,
	rec models.FileRecord,
	loc models.LocalFileEntry, hasLocal bool,
	rem models.RemoteFileEntry, hasRemote bool,
	conflicted map[string]bool,
	opts ReconcileOptions,
) {
	if conflicted[rec.Path] || rec.SyncStatus == models.StatusConflict {
		// An unresolved conflict freezes the path: it must not be silently
		// re-uploaded over the remote change, nor downloaded over local work.
		return
	}

	// Interrupted or failed transfers always retry in their own direction.
	if retryUpload(rec) {
		if hasLocal {
			plan.Uploads = append(plan.Uploads, refreshFromLocal(rec, loc))
		} else if !hasRemote {
			// The local file is gone and nothing ever reached the remote, so
			// only the stale record is purged. A purge never deletes content
			// on either side.
			plan.RecordPurges = append(plan.RecordPurges, rec)
		}

		return
	}

	if retryDownload(rec) {
		if hasRemote {
			plan.Downloads = append(plan.Downloads, refreshFromRemote(rec, rem, opts))
		} else if !hasLocal && !opts.DisableDeletes {
			plan.RecordPurges = append(plan.RecordPurges, rec)
		}

		return
	}

	remoteChanged := hasRemote && remoteDiffers(rec, rem, opts.RemoteChangeTolerance)
	localChanged := hasLocal && localDiffers(rec, loc, opts.RemoteChangeTolerance)

	switch {
	case hasLocal && hasRemote:
		switch {
		case remoteChanged && localChanged:
			addConflict(plan, loc, rem, conflicted, opts)
		case remoteChanged:
			plan.Downloads = append(plan.Downloads, refreshFromRemote(rec, rem, opts))
		case localChanged:
			plan.Uploads = append(plan.Uploads, refreshFromLocal(rec, loc))
		}

	case hasLocal && !hasRemote:
		// Deleted remotely - but local edits made since the last sync win
		// over the deletion, and absence is only trusted for confirmed-synced
		// records when the remote scan was complete. Never delete local work
		// that was never uploaded.
		if localChanged {
			plan.Uploads = append(plan.Uploads, refreshFromLocal(rec, loc))
		} else if rec.SyncStatus == models.StatusSynced && !opts.DisableDeletes {
			plan.LocalDeletes = append(plan.LocalDeletes, rec)
		}

	case !hasLocal && hasRemote:
		// Deleted locally: propagate to the remote only for confirmed-synced
		// records carrying a remote id.
		if rec.SyncStatus == models.StatusSynced && rec.ID != "" {
			plan.RemoteDelete = append(plan.RemoteDelete, rec)
		}

	case !hasLocal && !hasRemote:
		// Deleted on both sides; nothing to touch beyond the record itself.
		if rec.SyncStatus == models.StatusSynced && !opts.DisableDeletes {
			plan.RecordPurges = append(plan.RecordPurges, rec)
		}
	}
}

// dedupeStored picks the best record per path and reports which paths held
// duplicates. Preference order: Synced status, then non-empty remote id, then
// non-empty change tag, then most recent LastModifiedUTC; earlier input order
// breaks remaining ties.
func dedupeStored(stored []models.FileRecord) (map[string]models.FileRecord, []string) {
	best := make(map[string]models.FileRecord, len(stored))
	dupes := make(map[string]bool)

	for _, rec := range stored {
		current, exists := best[rec.Path]
		if !exists {
			best[rec.Path] = rec
			continue
		}

		dupes[rec.Path] = true

		if betterRecord(rec, current) {
			best[rec.Path] = rec
		}
	}

	dupePaths := make([]string, 0, len(dupes))
	for p := range dupes {
		dupePaths = append(dupePaths, p)
	}

	sort.Strings(dupePaths)

	return best, dupePaths
}

func betterRecord(a, b models.FileRecord) bool {
	aSynced := a.SyncStatus == models.StatusSynced
	bSynced := b.SyncStatus == models.StatusSynced

	if aSynced != bSynced {
		return aSynced
	}

	if (a.ID != "") != (b.ID != "") {
		return a.ID != ""
	}

	if (a.ChangeTag != "") != (b.ChangeTag != "") {
		return a.ChangeTag != ""
	}

	return a.LastModifiedUTC.After(b.LastModifiedUTC)
}

func retryUpload(rec models.FileRecord) bool {
	switch rec.SyncStatus {
	case models.StatusPendingUpload, models.StatusUploading, models.StatusNotSynced:
		return true
	case models.StatusFailed:
		return rec.LastSyncDirection != models.DirectionDownload
	default:
		return false
	}
}

func retryDownload(rec models.FileRecord) bool {
	switch rec.SyncStatus {
	case models.StatusPendingDownload, models.StatusDownloading:
		return true
	case models.StatusFailed:
		return rec.LastSyncDirection == models.DirectionDownload
	default:
		return false
	}
}

// remoteDiffers reports whether the remote entry has changed relative to the
// stored record. The change tag is the primary signal; time and size back it up.
func remoteDiffers(rec models.FileRecord, rem models.RemoteFileEntry, tolerance time.Duration) bool {
	if rem.ChangeTag != rec.ChangeTag {
		return true
	}

	if rem.Size != rec.Size {
		return true
	}

	return !within(rem.LastModifiedUTC, rec.LastModifiedUTC, tolerance)
}

// localDiffers reports whether the local file has changed relative to the
// stored record. Hashes are authoritative when both are known; otherwise fall
// back to size and modified time.
func localDiffers(rec models.FileRecord, loc models.LocalFileEntry, tolerance time.Duration) bool {
	if loc.LocalHash != "" && rec.LocalHash != "" {
		return loc.LocalHash != rec.LocalHash
	}

	if loc.Size != rec.Size {
		return true
	}

	return !within(loc.LastModifiedUTC, rec.LastModifiedUTC, tolerance)
}

func addConflict(
	plan *Plan,
	loc models.LocalFileEntry,
	rem models.RemoteFileEntry,
	conflicted map[string]bool,
	opts ReconcileOptions,
) {
	// Idempotent: an unresolved conflict already covering this path is kept.
	if conflicted[loc.Path] {
		return
	}

	conflicted[loc.Path] = true

	plan.NewConflicts = append(plan.NewConflicts, models.SyncConflict{
		AccountID:          opts.AccountID,
		FilePath:           loc.Path,
		LocalModifiedUTC:   loc.LastModifiedUTC,
		RemoteModifiedUTC:  rem.LastModifiedUTC,
		LocalSize:          loc.Size,
		RemoteSize:         rem.Size,
		DetectedUTC:        opts.Now,
		ResolutionStrategy: models.ResolutionNone,
	})
}

func newLocalRecord(loc models.LocalFileEntry, accountID string) models.FileRecord {
	return models.FileRecord{
		AccountID:       accountID,
		Name:            path.Base(loc.Path),
		Path:            loc.Path,
		Size:            loc.Size,
		LastModifiedUTC: loc.LastModifiedUTC,
		LocalPath:       loc.LocalPath,
		LocalHash:       loc.LocalHash,
		SyncStatus:      models.StatusNotSynced,
	}
}

func newRemoteRecord(rem models.RemoteFileEntry, opts ReconcileOptions) models.FileRecord {
	return models.FileRecord{
		ID:              rem.ID,
		AccountID:       opts.AccountID,
		Name:            path.Base(rem.Path),
		Path:            rem.Path,
		Size:            rem.Size,
		LastModifiedUTC: rem.LastModifiedUTC,
		LocalPath:       localPathFor(opts.LocalRoot, rem.Path),
		ChangeTag:       rem.ChangeTag,
		ETag:            rem.ETag,
		SyncStatus:      models.StatusNotSynced,
	}
}

// refreshFromLocal returns the record updated with the current local
// observation, ready for upload.
func refreshFromLocal(rec models.FileRecord, loc models.LocalFileEntry) models.FileRecord {
	rec.Size = loc.Size
	rec.LastModifiedUTC = loc.LastModifiedUTC
	rec.LocalPath = loc.LocalPath
	rec.LocalHash = loc.LocalHash

	return rec
}

// refreshFromRemote returns the record updated with the current remote
// observation, ready for download.
func refreshFromRemote(rec models.FileRecord, rem models.RemoteFileEntry, opts ReconcileOptions) models.FileRecord {
	rec.ID = rem.ID
	rec.Size = rem.Size
	rec.LastModifiedUTC = rem.LastModifiedUTC
	rec.ChangeTag = rem.ChangeTag
	rec.ETag = rem.ETag

	if rec.LocalPath == "" {
		rec.LocalPath = localPathFor(opts.LocalRoot, rem.Path)
	}

	return rec
}

func localPathFor(localRoot, logicalPath string) string {
	return filepath.Join(localRoot, filepath.FromSlash(logicalPath))
}

func within(a, b time.Time, tolerance time.Duration) bool {
	diff := a.Sub(b)
	if diff < 0 {
		diff = -diff
	}

	return diff <= tolerance
}

func unionPaths(
	local map[string]models.LocalFileEntry,
	remote map[string]models.RemoteFileEntry,
	stored map[string]models.FileRecord,
) []string {
	seen := make(map[string]bool, len(local)+len(remote)+len(stored))

	for p := range local {
		seen[p] = true
	}

	for p := range remote {
		seen[p] = true
	}

	for p := range stored {
		seen[p] = true
	}

	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}

	sort.Strings(paths)

	return paths
}

func sortPlan(plan *Plan) {
	byPath := func(recs []models.FileRecord) {
		sort.Slice(recs, func(i, j int) bool { return recs[i].Path < recs[j].Path })
	}

	byPath(plan.Uploads)
	byPath(plan.Downloads)
	byPath(plan.LocalDeletes)
	byPath(plan.RemoteDelete)
	byPath(plan.RecordPurges)
	byPath(plan.MarkSynced)
	byPath(plan.RecordRewrites)
	sort.Slice(plan.NewConflicts, func(i, j int) bool {
		return plan.NewConflicts[i].FilePath < plan.NewConflicts[j].FilePath
	})
}
