//nolint:varnamelen // Test files use idiomatic short variable names (t, g, etc.)
package syncengine_test

import (
	"reflect"
	"testing"
	"time"

	. "github.com/onsi/gomega" //nolint:revive // Dot import is idiomatic for Gomega matchers

	"github.com/joe/drivesync/internal/models"
	"github.com/joe/drivesync/internal/syncengine"
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testOpts() syncengine.ReconcileOptions {
	return syncengine.ReconcileOptions{
		AccountID: "acct1",
		LocalRoot: "/data/sync",
		Now:       baseTime,
	}
}

func localEntry(path string, size int64, mtime time.Time, hash string) models.LocalFileEntry {
	return models.LocalFileEntry{
		Path:            path,
		Size:            size,
		LastModifiedUTC: mtime,
		LocalPath:       "/data/sync/" + path,
		LocalHash:       hash,
	}
}

func remoteEntry(path string, size int64, mtime time.Time, tag string) models.RemoteFileEntry {
	return models.RemoteFileEntry{
		ID:              "id-" + path,
		Path:            path,
		Size:            size,
		LastModifiedUTC: mtime,
		ChangeTag:       tag,
		ETag:            tag,
	}
}

func syncedRecord(path string, size int64, mtime time.Time, tag, hash string) models.FileRecord {
	return models.FileRecord{
		ID:                "id-" + path,
		AccountID:         "acct1",
		Name:              path,
		Path:              path,
		Size:              size,
		LastModifiedUTC:   mtime,
		LocalPath:         "/data/sync/" + path,
		ChangeTag:         tag,
		ETag:              tag,
		LocalHash:         hash,
		SyncStatus:        models.StatusSynced,
		LastSyncDirection: models.DirectionUpload,
	}
}

func TestReconcile_NewLocalFileUploads(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	local := []models.LocalFileEntry{localEntry("docs/a.txt", 100, baseTime, "h1")}

	plan := syncengine.Reconcile(local, nil, nil, nil, testOpts())

	g.Expect(plan.Uploads).To(HaveLen(1))
	g.Expect(plan.Uploads[0].Path).To(Equal("docs/a.txt"))
	g.Expect(plan.Uploads[0].SyncStatus).To(Equal(models.StatusNotSynced))
	g.Expect(plan.Uploads[0].ID).To(BeEmpty())
	g.Expect(plan.Downloads).To(BeEmpty())
	g.Expect(plan.LocalDeletes).To(BeEmpty())
	g.Expect(plan.RemoteDelete).To(BeEmpty())
}

func TestReconcile_NewRemoteFileDownloads(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	remote := []models.RemoteFileEntry{remoteEntry("docs/b.txt", 200, baseTime, "t1")}

	plan := syncengine.Reconcile(nil, remote, nil, nil, testOpts())

	g.Expect(plan.Downloads).To(HaveLen(1))
	g.Expect(plan.Downloads[0].Path).To(Equal("docs/b.txt"))
	g.Expect(plan.Downloads[0].ID).To(Equal("id-docs/b.txt"))
	g.Expect(plan.Downloads[0].LocalPath).To(Equal("/data/sync/docs/b.txt"))
	g.Expect(plan.Uploads).To(BeEmpty())
}

func TestReconcile_LocalModificationUploads(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	rec := syncedRecord("a.txt", 100, baseTime, "t1", "h1")
	local := []models.LocalFileEntry{localEntry("a.txt", 120, baseTime.Add(time.Hour), "h2")}
	remote := []models.RemoteFileEntry{remoteEntry("a.txt", 100, baseTime, "t1")}

	plan := syncengine.Reconcile(local, remote, []models.FileRecord{rec}, nil, testOpts())

	g.Expect(plan.Uploads).To(HaveLen(1))
	g.Expect(plan.Uploads[0].LocalHash).To(Equal("h2"))
	g.Expect(plan.Uploads[0].Size).To(Equal(int64(120)))
	g.Expect(plan.Downloads).To(BeEmpty())
	g.Expect(plan.NewConflicts).To(BeEmpty())
}

func TestReconcile_RemoteModificationDownloads(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	rec := syncedRecord("a.txt", 100, baseTime, "t1", "h1")
	local := []models.LocalFileEntry{localEntry("a.txt", 100, baseTime, "h1")}
	remote := []models.RemoteFileEntry{remoteEntry("a.txt", 150, baseTime.Add(time.Hour), "t2")}

	plan := syncengine.Reconcile(local, remote, []models.FileRecord{rec}, nil, testOpts())

	g.Expect(plan.Downloads).To(HaveLen(1))
	g.Expect(plan.Downloads[0].ChangeTag).To(Equal("t2"))
	g.Expect(plan.Downloads[0].Size).To(Equal(int64(150)))
	g.Expect(plan.Uploads).To(BeEmpty())
}

func TestReconcile_UnchangedFileNeedsNothing(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	rec := syncedRecord("a.txt", 100, baseTime, "t1", "h1")
	local := []models.LocalFileEntry{localEntry("a.txt", 100, baseTime, "h1")}
	remote := []models.RemoteFileEntry{remoteEntry("a.txt", 100, baseTime, "t1")}

	plan := syncengine.Reconcile(local, remote, []models.FileRecord{rec}, nil, testOpts())

	g.Expect(plan.IsEmpty()).To(BeTrue())
}

func TestReconcile_BothChangedIsConflict(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	rec := syncedRecord("a.txt", 100, baseTime, "t1", "h1")
	local := []models.LocalFileEntry{localEntry("a.txt", 110, baseTime.Add(time.Hour), "h2")}
	remote := []models.RemoteFileEntry{remoteEntry("a.txt", 130, baseTime.Add(2*time.Hour), "t2")}

	plan := syncengine.Reconcile(local, remote, []models.FileRecord{rec}, nil, testOpts())

	g.Expect(plan.NewConflicts).To(HaveLen(1))
	conflict := plan.NewConflicts[0]
	g.Expect(conflict.FilePath).To(Equal("a.txt"))
	g.Expect(conflict.LocalSize).To(Equal(int64(110)))
	g.Expect(conflict.RemoteSize).To(Equal(int64(130)))
	g.Expect(conflict.DetectedUTC).To(Equal(baseTime))
	g.Expect(conflict.ResolutionStrategy).To(Equal(models.ResolutionNone))

	// A conflicted path appears in no other set.
	g.Expect(plan.Uploads).To(BeEmpty())
	g.Expect(plan.Downloads).To(BeEmpty())
	g.Expect(plan.LocalDeletes).To(BeEmpty())
	g.Expect(plan.RemoteDelete).To(BeEmpty())
}

func TestReconcile_OpenConflictIsNotDuplicated(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	rec := syncedRecord("a.txt", 100, baseTime, "t1", "h1")
	local := []models.LocalFileEntry{localEntry("a.txt", 110, baseTime.Add(time.Hour), "h2")}
	remote := []models.RemoteFileEntry{remoteEntry("a.txt", 130, baseTime.Add(2*time.Hour), "t2")}
	open := []models.SyncConflict{{ID: "c1", AccountID: "acct1", FilePath: "a.txt"}}

	plan := syncengine.Reconcile(local, remote, []models.FileRecord{rec}, open, testOpts())

	g.Expect(plan.NewConflicts).To(BeEmpty())
	g.Expect(plan.Uploads).To(BeEmpty())
	g.Expect(plan.Downloads).To(BeEmpty())
}

func TestReconcile_RemoteDeletionRemovesLocalFile(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	rec := syncedRecord("a.txt", 100, baseTime, "t1", "h1")
	local := []models.LocalFileEntry{localEntry("a.txt", 100, baseTime, "h1")}

	plan := syncengine.Reconcile(local, nil, []models.FileRecord{rec}, nil, testOpts())

	g.Expect(plan.LocalDeletes).To(HaveLen(1))
	g.Expect(plan.LocalDeletes[0].Path).To(Equal("a.txt"))
	g.Expect(plan.Uploads).To(BeEmpty())
}

func TestReconcile_LocalEditBeatsRemoteDeletion(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	rec := syncedRecord("a.txt", 100, baseTime, "t1", "h1")
	local := []models.LocalFileEntry{localEntry("a.txt", 140, baseTime.Add(time.Hour), "h2")}

	plan := syncengine.Reconcile(local, nil, []models.FileRecord{rec}, nil, testOpts())

	g.Expect(plan.LocalDeletes).To(BeEmpty())
	g.Expect(plan.Uploads).To(HaveLen(1))
	g.Expect(plan.Uploads[0].LocalHash).To(Equal("h2"))
}

func TestReconcile_LocalDeletionRemovesRemoteItem(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	rec := syncedRecord("a.txt", 100, baseTime, "t1", "h1")
	remote := []models.RemoteFileEntry{remoteEntry("a.txt", 100, baseTime, "t1")}

	plan := syncengine.Reconcile(nil, remote, []models.FileRecord{rec}, nil, testOpts())

	g.Expect(plan.RemoteDelete).To(HaveLen(1))
	g.Expect(plan.RemoteDelete[0].ID).To(Equal("id-a.txt"))
	g.Expect(plan.Downloads).To(BeEmpty())
}

func TestReconcile_DeletedOnBothSidesPurgesRecordOnly(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	rec := syncedRecord("a.txt", 100, baseTime, "t1", "h1")

	plan := syncengine.Reconcile(nil, nil, []models.FileRecord{rec}, nil, testOpts())

	g.Expect(plan.RecordPurges).To(HaveLen(1))
	g.Expect(plan.LocalDeletes).To(BeEmpty())
	g.Expect(plan.RemoteDelete).To(BeEmpty())
}

func TestReconcile_NeverSyncedRecordIsNotDeleted(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	// The file was seen locally and queued, but no upload ever succeeded.
	// Remote absence must not delete the local file.
	rec := syncedRecord("a.txt", 100, baseTime, "", "h1")
	rec.ID = ""
	rec.SyncStatus = models.StatusPendingUpload
	local := []models.LocalFileEntry{localEntry("a.txt", 100, baseTime, "h1")}

	plan := syncengine.Reconcile(local, nil, []models.FileRecord{rec}, nil, testOpts())

	g.Expect(plan.LocalDeletes).To(BeEmpty())
	g.Expect(plan.Uploads).To(HaveLen(1))
}

func TestReconcile_AbandonedPendingUploadPurgesRecordOnly(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	// Queued for upload, then the local file vanished before anything reached
	// the remote. Only the stale record goes; no file deletion is planned.
	rec := syncedRecord("gone.txt", 100, baseTime, "", "h1")
	rec.ID = ""
	rec.SyncStatus = models.StatusPendingUpload

	plan := syncengine.Reconcile(nil, nil, []models.FileRecord{rec}, nil, testOpts())

	g.Expect(plan.RecordPurges).To(HaveLen(1))
	g.Expect(plan.RecordPurges[0].Path).To(Equal("gone.txt"))
	g.Expect(plan.LocalDeletes).To(BeEmpty())
	g.Expect(plan.RemoteDelete).To(BeEmpty())
	g.Expect(plan.Uploads).To(BeEmpty())
	g.Expect(plan.Downloads).To(BeEmpty())
}

func TestReconcile_FailedUploadRetriesAsUpload(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	rec := syncedRecord("a.txt", 100, baseTime, "t1", "h1")
	rec.SyncStatus = models.StatusFailed
	rec.LastSyncDirection = models.DirectionUpload
	local := []models.LocalFileEntry{localEntry("a.txt", 100, baseTime, "h1")}
	remote := []models.RemoteFileEntry{remoteEntry("a.txt", 90, baseTime, "t0")}

	plan := syncengine.Reconcile(local, remote, []models.FileRecord{rec}, nil, testOpts())

	g.Expect(plan.Uploads).To(HaveLen(1))
	g.Expect(plan.Downloads).To(BeEmpty())
}

func TestReconcile_FailedDownloadRetriesAsDownload(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	rec := syncedRecord("a.txt", 100, baseTime, "t1", "h1")
	rec.SyncStatus = models.StatusFailed
	rec.LastSyncDirection = models.DirectionDownload
	local := []models.LocalFileEntry{localEntry("a.txt", 100, baseTime, "h1")}
	remote := []models.RemoteFileEntry{remoteEntry("a.txt", 150, baseTime.Add(time.Hour), "t2")}

	plan := syncengine.Reconcile(local, remote, []models.FileRecord{rec}, nil, testOpts())

	g.Expect(plan.Downloads).To(HaveLen(1))
	g.Expect(plan.Uploads).To(BeEmpty())
}

func TestReconcile_InterruptedUploadResumes(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	rec := syncedRecord("a.txt", 100, baseTime, "", "h1")
	rec.SyncStatus = models.StatusPendingUpload
	local := []models.LocalFileEntry{localEntry("a.txt", 100, baseTime, "h1")}

	plan := syncengine.Reconcile(local, nil, []models.FileRecord{rec}, nil, testOpts())

	g.Expect(plan.Uploads).To(HaveLen(1))
}

func TestReconcile_FirstSyncMatchWithinToleranceMarksSynced(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	// Same size, modified times 30s apart: treated as the same content on
	// first sync, no transfer in either direction.
	local := []models.LocalFileEntry{localEntry("a.txt", 100, baseTime, "h1")}
	remote := []models.RemoteFileEntry{remoteEntry("a.txt", 100, baseTime.Add(30*time.Second), "t1")}

	plan := syncengine.Reconcile(local, remote, nil, nil, testOpts())

	g.Expect(plan.MarkSynced).To(HaveLen(1))
	g.Expect(plan.MarkSynced[0].SyncStatus).To(Equal(models.StatusSynced))
	g.Expect(plan.MarkSynced[0].ID).To(Equal("id-a.txt"))
	g.Expect(plan.MarkSynced[0].LocalHash).To(Equal("h1"))
	g.Expect(plan.Uploads).To(BeEmpty())
	g.Expect(plan.Downloads).To(BeEmpty())
	g.Expect(plan.NewConflicts).To(BeEmpty())
}

func TestReconcile_FirstSyncMismatchIsConflict(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	local := []models.LocalFileEntry{localEntry("a.txt", 100, baseTime, "h1")}
	remote := []models.RemoteFileEntry{remoteEntry("a.txt", 100, baseTime.Add(2*time.Minute), "t1")}

	plan := syncengine.Reconcile(local, remote, nil, nil, testOpts())

	g.Expect(plan.NewConflicts).To(HaveLen(1))
	g.Expect(plan.MarkSynced).To(BeEmpty())
}

func TestReconcile_FirstSyncToleranceIsConfigurable(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	local := []models.LocalFileEntry{localEntry("a.txt", 100, baseTime, "h1")}
	remote := []models.RemoteFileEntry{remoteEntry("a.txt", 100, baseTime.Add(2*time.Minute), "t1")}

	opts := testOpts()
	opts.FirstSyncTolerance = 5 * time.Minute

	plan := syncengine.Reconcile(local, remote, nil, nil, opts)

	g.Expect(plan.NewConflicts).To(BeEmpty())
	g.Expect(plan.MarkSynced).To(HaveLen(1))
}

func TestReconcile_TimestampSkewDoesNotLoop(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	// After an upload the record carries the remote-reported (rounded) time
	// and the local file was restamped to match. The next run must see
	// nothing to do even though the remote rounded what we pushed.
	rounded := baseTime.Truncate(time.Second)
	rec := syncedRecord("a.txt", 100, rounded, "100-1748779200", "h1")
	local := []models.LocalFileEntry{localEntry("a.txt", 100, rounded, "h1")}
	remote := []models.RemoteFileEntry{remoteEntry("a.txt", 100, rounded, "100-1748779200")}

	plan := syncengine.Reconcile(local, remote, []models.FileRecord{rec}, nil, testOpts())

	g.Expect(plan.IsEmpty()).To(BeTrue())
}

func TestReconcile_DisableDeletesSuppressesRemoteAbsence(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	rec := syncedRecord("a.txt", 100, baseTime, "t1", "h1")
	local := []models.LocalFileEntry{localEntry("a.txt", 100, baseTime, "h1")}

	opts := testOpts()
	opts.DisableDeletes = true

	plan := syncengine.Reconcile(local, nil, []models.FileRecord{rec}, nil, opts)

	g.Expect(plan.LocalDeletes).To(BeEmpty())
	g.Expect(plan.IsEmpty()).To(BeTrue())
}

func TestReconcile_DuplicateRecordsHealViaRewrite(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	good := syncedRecord("a.txt", 100, baseTime, "t1", "h1")
	stale := good
	stale.ID = ""
	stale.SyncStatus = models.StatusPendingUpload

	local := []models.LocalFileEntry{localEntry("a.txt", 100, baseTime, "h1")}
	remote := []models.RemoteFileEntry{remoteEntry("a.txt", 100, baseTime, "t1")}

	plan := syncengine.Reconcile(local, remote, []models.FileRecord{stale, good}, nil, testOpts())

	// The synced row wins regardless of input order; rewriting it collapses
	// the duplicate rows without any transfer.
	g.Expect(plan.RecordRewrites).To(HaveLen(1))
	g.Expect(plan.RecordRewrites[0].SyncStatus).To(Equal(models.StatusSynced))
	g.Expect(plan.RecordRewrites[0].ID).To(Equal("id-a.txt"))
	g.Expect(plan.Uploads).To(BeEmpty())
	g.Expect(plan.Downloads).To(BeEmpty())
}

func TestReconcile_IsIdempotent(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	local := []models.LocalFileEntry{
		localEntry("new.txt", 50, baseTime, "h5"),
		localEntry("changed.txt", 60, baseTime.Add(time.Hour), "h6"),
		localEntry("same.txt", 70, baseTime, "h7"),
	}
	remote := []models.RemoteFileEntry{
		remoteEntry("changed.txt", 55, baseTime, "t6"),
		remoteEntry("same.txt", 70, baseTime, "t7"),
		remoteEntry("fresh.txt", 80, baseTime, "t8"),
	}
	stored := []models.FileRecord{
		syncedRecord("changed.txt", 55, baseTime, "t6", "h6old"),
		syncedRecord("same.txt", 70, baseTime, "t7", "h7"),
		syncedRecord("gone.txt", 90, baseTime, "t9", "h9"),
	}

	first := syncengine.Reconcile(local, remote, stored, nil, testOpts())
	second := syncengine.Reconcile(local, remote, stored, nil, testOpts())

	g.Expect(reflect.DeepEqual(first, second)).To(BeTrue())

	g.Expect(first.Uploads).To(HaveLen(2))    // new.txt + changed.txt
	g.Expect(first.Downloads).To(HaveLen(1))  // fresh.txt
	g.Expect(first.RecordPurges).To(HaveLen(1)) // gone.txt, absent both sides
}

func TestReconcile_PathExclusivity(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	local := []models.LocalFileEntry{
		localEntry("up.txt", 10, baseTime, "h1"),
		localEntry("conflict.txt", 20, baseTime.Add(time.Hour), "h2"),
	}
	remote := []models.RemoteFileEntry{
		remoteEntry("down.txt", 30, baseTime, "t3"),
		remoteEntry("conflict.txt", 25, baseTime.Add(2*time.Hour), "t4"),
	}
	stored := []models.FileRecord{
		syncedRecord("conflict.txt", 15, baseTime, "t1", "h0"),
	}

	plan := syncengine.Reconcile(local, remote, stored, nil, testOpts())

	seen := make(map[string]int)

	for _, rec := range plan.Uploads {
		seen[rec.Path]++
	}

	for _, rec := range plan.Downloads {
		seen[rec.Path]++
	}

	for _, rec := range plan.LocalDeletes {
		seen[rec.Path]++
	}

	for _, rec := range plan.RemoteDelete {
		seen[rec.Path]++
	}

	for _, c := range plan.NewConflicts {
		seen[c.FilePath]++
	}

	for path, count := range seen {
		g.Expect(count).To(Equal(1), "path %s appears in %d sets", path, count)
	}

	g.Expect(seen).To(HaveKey("conflict.txt"))
}

func TestReconcile_OutputsAreSorted(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	local := []models.LocalFileEntry{
		localEntry("zeta.txt", 10, baseTime, "h1"),
		localEntry("alpha.txt", 10, baseTime, "h2"),
		localEntry("mid.txt", 10, baseTime, "h3"),
	}

	plan := syncengine.Reconcile(local, nil, nil, nil, testOpts())

	g.Expect(plan.Uploads).To(HaveLen(3))
	g.Expect(plan.Uploads[0].Path).To(Equal("alpha.txt"))
	g.Expect(plan.Uploads[1].Path).To(Equal("mid.txt"))
	g.Expect(plan.Uploads[2].Path).To(Equal("zeta.txt"))
}

func TestReconcile_ConflictRecordStatusFreezesPath(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	rec := syncedRecord("a.txt", 100, baseTime, "t1", "h1")
	rec.SyncStatus = models.StatusConflict
	local := []models.LocalFileEntry{localEntry("a.txt", 120, baseTime.Add(time.Hour), "h2")}
	remote := []models.RemoteFileEntry{remoteEntry("a.txt", 130, baseTime.Add(2*time.Hour), "t2")}

	plan := syncengine.Reconcile(local, remote, []models.FileRecord{rec}, nil, testOpts())

	g.Expect(plan.Uploads).To(BeEmpty())
	g.Expect(plan.Downloads).To(BeEmpty())
	g.Expect(plan.LocalDeletes).To(BeEmpty())
	g.Expect(plan.RemoteDelete).To(BeEmpty())
}

func TestReconcile_HashBeatsTimestampForLocalChange(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	// Touched but unmodified: mtime moved, content hash identical. No upload.
	rec := syncedRecord("a.txt", 100, baseTime, "t1", "h1")
	local := []models.LocalFileEntry{localEntry("a.txt", 100, baseTime.Add(time.Hour), "h1")}
	remote := []models.RemoteFileEntry{remoteEntry("a.txt", 100, baseTime, "t1")}

	plan := syncengine.Reconcile(local, remote, []models.FileRecord{rec}, nil, testOpts())

	g.Expect(plan.IsEmpty()).To(BeTrue())
}
