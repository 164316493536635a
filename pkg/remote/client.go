// Package remote defines the client interface to the remote drive and
// provides the SFTP-backed implementation used in production plus an
// in-memory implementation for tests.
package remote

import (
	"context"
	"errors"
	"time"
)

// Exported variables.
var (
	// ErrNotFound means the item or path does not exist on the remote.
	// Structural: the caller should not retry blindly.
	ErrNotFound = errors.New("remote item not found")
	// ErrTransient marks a temporary failure (network blip, dropped
	// connection). Per-file work that hits it is recorded as failed and
	// retried on the next run, never in a tight loop within the same run.
	ErrTransient = errors.New("transient remote error")
)

// Item is one entry in a remote folder listing.
type Item struct {
	ID        string
	Name      string
	Size      int64
	ModTime   time.Time
	ChangeTag string
	ETag      string
	IsFolder  bool
}

// ProgressFunc reports transfer progress: bytes moved so far out of total.
type ProgressFunc func(transferred, total int64)

// Client is the remote drive collaborator. All calls honor ctx cancellation.
// Implementations distinguish ErrNotFound from ErrTransient so callers can
// tell structural failures from retryable ones.
type Client interface {
	// GetRoot returns the account's root folder item.
	GetRoot(ctx context.Context, accountID string) (Item, error)

	// GetChildren lists the immediate children of a folder item.
	GetChildren(ctx context.Context, accountID, itemID string) ([]Item, error)

	// Upload stores the local file at the given logical path and returns the
	// resulting remote item, whose ModTime is the remote's own reported
	// modification time.
	Upload(ctx context.Context, accountID, localPath, logicalPath string, progress ProgressFunc) (Item, error)

	// Download fetches an item's content into localPath, creating parent
	// directories as needed.
	Download(ctx context.Context, accountID, itemID, localPath string, progress ProgressFunc) error

	// Delete removes an item. Deleting a folder removes its contents.
	Delete(ctx context.Context, accountID, itemID string) error
}

// IsTransient reports whether err is (or wraps) a transient remote failure.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsNotFound reports whether err is (or wraps) a remote not-found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
