package remote

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// MockClient is an in-memory Client for tests. It keeps a folder tree keyed
// by logical path, serves listings from it, and applies uploads/downloads/
// deletes against in-memory content. Operations can be forced to fail per
// path to exercise error handling.
type MockClient struct {
	mu sync.Mutex

	files   map[string]*mockFile // logical path → file
	folders map[string]bool      // logical folder paths ("" is the root)

	// ModTimeRounding, when non-zero, truncates the modification time the
	// mock reports for uploads, mimicking remote timestamp rounding.
	ModTimeRounding time.Duration

	// Clock returns the time used for upload timestamps. Defaults to time.Now.
	Clock func() time.Time

	failures map[string]error // "op path" → err

	uploads   []string // logical paths uploaded, in order
	downloads []string // item ids downloaded, in order
	deletes   []string // item ids deleted, in order
}

type mockFile struct {
	content   []byte
	modTime   time.Time
	changeTag string
	etag      string
}

// NewMockClient creates an empty mock remote with just a root folder.
func NewMockClient() *MockClient {
	return &MockClient{
		files:    make(map[string]*mockFile),
		folders:  map[string]bool{"": true},
		failures: make(map[string]error),
		Clock:    time.Now,
	}
}

// AddFolder registers a folder (and its parents) at the logical path.
func (m *MockClient) AddFolder(logicalPath string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.addFolderLocked(logicalPath)
}

// AddFile places a file at the logical path with the given content, change
// tag, and modification time. Parent folders are created implicitly.
func (m *MockClient) AddFile(logicalPath string, content []byte, changeTag string, modTime time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.addFolderLocked(parentPath(logicalPath))
	m.files[logicalPath] = &mockFile{
		content:   append([]byte(nil), content...),
		modTime:   modTime.UTC(),
		changeTag: changeTag,
		etag:      changeTag,
	}
}

// RemoveFile removes a file without recording a delete call (simulates an
// out-of-band remote change).
func (m *MockClient) RemoveFile(logicalPath string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.files, logicalPath)
}

// FailWith forces the named operation ("list", "upload", "download",
// "delete") on a path to return err.
func (m *MockClient) FailWith(op, logicalPath string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.failures[op+" "+logicalPath] = err
}

// Uploads returns the logical paths uploaded so far.
func (m *MockClient) Uploads() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]string(nil), m.uploads...)
}

// Downloads returns the item ids downloaded so far.
func (m *MockClient) Downloads() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]string(nil), m.downloads...)
}

// Deletes returns the item ids deleted so far.
func (m *MockClient) Deletes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return append([]string(nil), m.deletes...)
}

// Content returns the stored content for a logical path.
func (m *MockClient) Content(logicalPath string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.files[logicalPath]
	if !ok {
		return nil, false
	}

	return append([]byte(nil), f.content...), true
}

// GetRoot implements Client.
func (m *MockClient) GetRoot(ctx context.Context, _ string) (Item, error) {
	if err := ctx.Err(); err != nil {
		return Item{}, err
	}

	return Item{ID: mockID(""), Name: "root", IsFolder: true}, nil
}

// GetChildren implements Client.
func (m *MockClient) GetChildren(ctx context.Context, _, itemID string) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	folder := mockPath(itemID)

	if err := m.failures["list "+folder]; err != nil {
		return nil, err
	}

	if !m.folders[folder] {
		return nil, fmt.Errorf("folder %s: %w", folder, ErrNotFound)
	}

	var items []Item

	for p := range m.folders {
		if p != "" && parentPath(p) == folder && p != folder {
			items = append(items, Item{ID: mockID(p), Name: path.Base(p), IsFolder: true})
		}
	}

	for p, f := range m.files {
		if parentPath(p) == folder {
			items = append(items, Item{
				ID:        mockID(p),
				Name:      path.Base(p),
				Size:      int64(len(f.content)),
				ModTime:   f.modTime,
				ChangeTag: f.changeTag,
				ETag:      f.etag,
			})
		}
	}

	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })

	return items, nil
}

// Upload implements Client. The mock assigns its own modification time
// (truncated by ModTimeRounding) and a fresh change tag.
func (m *MockClient) Upload(ctx context.Context, _, localPath, logicalPath string, progress ProgressFunc) (Item, error) {
	if err := ctx.Err(); err != nil {
		return Item{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.failures["upload "+logicalPath]; err != nil {
		return Item{}, err
	}

	content, err := os.ReadFile(localPath) // #nosec G304 - test fixture path
	if err != nil {
		return Item{}, fmt.Errorf("upload %s: %v: %w", logicalPath, err, ErrTransient)
	}

	modTime := m.Clock().UTC()
	if m.ModTimeRounding > 0 {
		modTime = modTime.Truncate(m.ModTimeRounding)
	}

	tag := fmt.Sprintf("ctag-%d-%d", len(m.uploads)+1, len(content))

	m.addFolderLocked(parentPath(logicalPath))
	m.files[logicalPath] = &mockFile{
		content:   content,
		modTime:   modTime,
		changeTag: tag,
		etag:      tag,
	}
	m.uploads = append(m.uploads, logicalPath)

	if progress != nil {
		progress(int64(len(content)), int64(len(content)))
	}

	return Item{
		ID:        mockID(logicalPath),
		Name:      path.Base(logicalPath),
		Size:      int64(len(content)),
		ModTime:   modTime,
		ChangeTag: tag,
		ETag:      tag,
	}, nil
}

// Download implements Client.
func (m *MockClient) Download(ctx context.Context, _, itemID, localPath string, progress ProgressFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	logical := mockPath(itemID)

	if err := m.failures["download "+logical]; err != nil {
		return err
	}

	f, ok := m.files[logical]
	if !ok {
		return fmt.Errorf("download %s: %w", logical, ErrNotFound)
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0o750); err != nil {
		return fmt.Errorf("download %s: %v: %w", logical, err, ErrTransient)
	}

	if err := os.WriteFile(localPath, f.content, 0o600); err != nil {
		return fmt.Errorf("download %s: %v: %w", logical, err, ErrTransient)
	}

	m.downloads = append(m.downloads, itemID)

	if progress != nil {
		progress(int64(len(f.content)), int64(len(f.content)))
	}

	return nil
}

// Delete implements Client.
func (m *MockClient) Delete(ctx context.Context, _, itemID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	logical := mockPath(itemID)

	if err := m.failures["delete "+logical]; err != nil {
		return err
	}

	if _, ok := m.files[logical]; !ok && !m.folders[logical] {
		return fmt.Errorf("delete %s: %w", logical, ErrNotFound)
	}

	delete(m.files, logical)
	delete(m.folders, logical)

	m.deletes = append(m.deletes, itemID)

	return nil
}

func (m *MockClient) addFolderLocked(logicalPath string) {
	for p := logicalPath; p != "" && p != "."; p = parentPath(p) {
		m.folders[p] = true
	}

	m.folders[""] = true
}

// mockID converts a logical path to an item id. Ids are prefixed so tests
// catch code that conflates ids with paths.
func mockID(logicalPath string) string {
	return "id:" + logicalPath
}

func mockPath(itemID string) string {
	return strings.TrimPrefix(itemID, "id:")
}

func parentPath(p string) string {
	dir := path.Dir(p)
	if dir == "." || dir == "/" {
		return ""
	}

	return dir
}
