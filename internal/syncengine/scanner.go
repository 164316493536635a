package syncengine

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/joe/drivesync/internal/models"
	"github.com/joe/drivesync/pkg/fileops"
)

// LocalScanner walks an account's local sync root and produces the local
// snapshot for reconciliation. Unreadable entries are logged and skipped
// rather than failing the scan; a file we cannot read simply does not appear
// in the snapshot, and the reconciliation engine's evidence rules keep that
// from turning into a deletion elsewhere.
type LocalScanner struct {
	Filter  FileFilter
	Emitter EventEmitter
	Log     *RunLog

	// ComputeHashes controls whether each file's content hash is computed
	// during the scan. Hashes make change detection exact but cost a full
	// read per file.
	ComputeHashes bool

	// OnFolder is called with each folder's logical path as the walk enters
	// it. Used for the "currently scanning" progress display. May be nil.
	OnFolder func(logicalPath string)
}

// Scan walks root and returns one entry per regular file, sorted by logical
// path. Symlinks and other non-regular files are skipped.
func (s *LocalScanner) Scan(ctx context.Context, accountID, root string) ([]models.LocalFileEntry, error) {
	if s.Emitter != nil {
		s.Emitter.Emit(ScanStarted{AccountID: accountID, Side: "local"})
	}

	var entries []models.LocalFileEntry

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}

		if walkErr != nil {
			s.Log.Printf("scan: skipping %s: %v", p, walkErr)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		if d.IsDir() {
			logical := logicalPath(root, p)
			if s.OnFolder != nil {
				s.OnFolder(logical)
			}

			if s.Emitter != nil {
				s.Emitter.Emit(ScanProgress{
					AccountID: accountID,
					Side:      "local",
					Count:     len(entries),
					Folder:    logical,
				})
			}

			return nil
		}

		if !d.Type().IsRegular() {
			return nil
		}

		logical := logicalPath(root, p)
		if s.Filter != nil && !s.Filter.ShouldInclude(logical) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			s.Log.Printf("scan: skipping %s: %v", p, err)
			return nil
		}

		entry := models.LocalFileEntry{
			Path:            logical,
			Size:            info.Size(),
			LastModifiedUTC: info.ModTime().UTC(),
			LocalPath:       p,
		}

		if s.ComputeHashes {
			hash, err := fileops.ComputeFileHash(p)
			if err != nil {
				s.Log.Printf("scan: skipping %s: %v", p, err)
				return nil
			}

			entry.LocalHash = hash
		}

		entries = append(entries, entry)

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	if s.Emitter != nil {
		s.Emitter.Emit(ScanComplete{AccountID: accountID, Side: "local", Count: len(entries)})
	}

	return entries, nil
}

// EnsureRoot creates the local sync root if it does not exist yet.
func EnsureRoot(root string) error {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return fmt.Errorf("failed to create sync root %s: %w", root, err)
	}

	return nil
}

// logicalPath converts an absolute local path to the account-root-relative,
// forward-slash logical form shared by all three snapshots.
func logicalPath(root, p string) string {
	rel, err := filepath.Rel(root, p)
	if err != nil || rel == "." {
		return ""
	}

	return strings.TrimPrefix(filepath.ToSlash(rel), "./")
}
