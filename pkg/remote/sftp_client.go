package remote

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/kr/fs"
	"github.com/pkg/sftp"
)

// Exported constants.
const (
	// CopyBufferSize is the chunk size for remote transfers (32KB).
	CopyBufferSize = 32 * 1024
	// DefaultPoolSize is the default number of pooled SFTP clients.
	DefaultPoolSize = 4
)

// SFTPClient implements Client against an SFTP server. Item ids are remote
// absolute paths under the account's base path; change tags are synthesized
// from the remote-reported size and modification time, so any content change
// observed by the server produces a new tag.
type SFTPClient struct {
	pool     *clientPool
	basePath string // remote path of the account root
}

// NewSFTPClient connects to the remote described by parsed and builds a
// client with poolSize pooled SFTP sessions (DefaultPoolSize if <= 0).
func NewSFTPClient(parsed *ParsedURL, poolSize int) (*SFTPClient, error) {
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}

	conn, err := Connect(parsed.Host, parsed.Port, parsed.User)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s@%s:%d: %w",
			parsed.User, parsed.Host, parsed.Port, err)
	}

	pool, err := newClientPool(conn, poolSize)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create SFTP client pool: %w", err)
	}

	return &SFTPClient{pool: pool, basePath: parsed.Path}, nil
}

// Close releases all pooled sessions.
func (c *SFTPClient) Close() error {
	return c.pool.close()
}

// GetRoot returns the account root folder.
func (c *SFTPClient) GetRoot(ctx context.Context, _ string) (Item, error) {
	if err := ctx.Err(); err != nil {
		return Item{}, fmt.Errorf("get root: %w", err)
	}

	client, err := c.pool.acquire()
	if err != nil {
		return Item{}, err
	}
	defer c.pool.release(client)

	info, err := client.Stat(c.basePath)
	if err != nil {
		return Item{}, classify("stat root "+c.basePath, err)
	}

	if !info.IsDir() {
		return Item{}, fmt.Errorf("root %s is not a folder: %w", c.basePath, ErrNotFound)
	}

	return Item{
		ID:       c.basePath,
		Name:     path.Base(c.basePath),
		ModTime:  info.ModTime().UTC(),
		IsFolder: true,
	}, nil
}

// GetChildren lists the immediate children of a folder item.
func (c *SFTPClient) GetChildren(ctx context.Context, _, itemID string) ([]Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("get children: %w", err)
	}

	client, err := c.pool.acquire()
	if err != nil {
		return nil, err
	}
	defer c.pool.release(client)

	infos, err := client.ReadDir(itemID)
	if err != nil {
		return nil, classify("list "+itemID, err)
	}

	items := make([]Item, 0, len(infos))

	for _, info := range infos {
		childPath := path.Join(itemID, info.Name())
		item := Item{
			ID:       childPath,
			Name:     info.Name(),
			ModTime:  info.ModTime().UTC(),
			IsFolder: info.IsDir(),
		}

		if !info.IsDir() {
			item.Size = info.Size()
			item.ChangeTag = changeTag(info.Size(), info.ModTime().Unix())
			item.ETag = item.ChangeTag
		}

		items = append(items, item)
	}

	// Stable listing order keeps traversal (and the scan cap cutoff) deterministic.
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })

	return items, nil
}

// Upload stores localPath at the logical path under the account root. The
// local modification time is pushed to the remote, and the item returned
// carries the remote's own reported time back (the server may round it).
func (c *SFTPClient) Upload(ctx context.Context, _, localPath, logicalPath string, progress ProgressFunc) (Item, error) {
	client, err := c.pool.acquire()
	if err != nil {
		return Item{}, err
	}
	defer c.pool.release(client)

	src, err := os.Open(localPath) // #nosec G304 - path comes from the account's scan root
	if err != nil {
		return Item{}, fmt.Errorf("failed to open local file %s: %w", localPath, err)
	}
	defer src.Close()

	srcInfo, err := src.Stat()
	if err != nil {
		return Item{}, fmt.Errorf("failed to stat local file %s: %w", localPath, err)
	}

	remotePath := c.remotePath(logicalPath)

	if err := client.MkdirAll(path.Dir(remotePath)); err != nil {
		return Item{}, classify("mkdir "+path.Dir(remotePath), err)
	}

	dst, err := client.Create(remotePath)
	if err != nil {
		return Item{}, classify("create "+remotePath, err)
	}

	if err := copyChunks(ctx, dst, src, srcInfo.Size(), progress); err != nil {
		_ = dst.Close()
		return Item{}, err
	}

	if err := dst.Close(); err != nil {
		return Item{}, classify("close "+remotePath, err)
	}

	if err := client.Chtimes(remotePath, srcInfo.ModTime(), srcInfo.ModTime()); err != nil {
		return Item{}, classify("chtimes "+remotePath, err)
	}

	// Stat after the fact: the remote's reported time is authoritative and
	// may differ from what we pushed due to server-side rounding.
	info, err := client.Stat(remotePath)
	if err != nil {
		return Item{}, classify("stat "+remotePath, err)
	}

	return Item{
		ID:        remotePath,
		Name:      info.Name(),
		Size:      info.Size(),
		ModTime:   info.ModTime().UTC(),
		ChangeTag: changeTag(info.Size(), info.ModTime().Unix()),
		ETag:      changeTag(info.Size(), info.ModTime().Unix()),
	}, nil
}

// Download fetches an item's content into localPath.
func (c *SFTPClient) Download(ctx context.Context, _, itemID, localPath string, progress ProgressFunc) error {
	client, err := c.pool.acquire()
	if err != nil {
		return err
	}
	defer c.pool.release(client)

	src, err := client.Open(itemID)
	if err != nil {
		return classify("open "+itemID, err)
	}
	defer src.Close()

	srcInfo, err := src.Stat()
	if err != nil {
		return classify("stat "+itemID, err)
	}

	if err := os.MkdirAll(filepath.Dir(localPath), 0o750); err != nil {
		return fmt.Errorf("failed to create local directory for %s: %w", localPath, err)
	}

	dst, err := os.Create(localPath) // #nosec G304 - path is derived from the account's sync root
	if err != nil {
		return fmt.Errorf("failed to create local file %s: %w", localPath, err)
	}

	if err := copyChunks(ctx, dst, src, srcInfo.Size(), progress); err != nil {
		_ = dst.Close()
		return err
	}

	if err := dst.Close(); err != nil {
		return fmt.Errorf("failed to close local file %s: %w", localPath, err)
	}

	return nil
}

// Delete removes an item. Folders are removed recursively, deepest entries
// first, using the SFTP walker.
func (c *SFTPClient) Delete(ctx context.Context, _, itemID string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("delete: %w", err)
	}

	client, err := c.pool.acquire()
	if err != nil {
		return err
	}
	defer c.pool.release(client)

	info, err := client.Stat(itemID)
	if err != nil {
		return classify("stat "+itemID, err)
	}

	if !info.IsDir() {
		if err := client.Remove(itemID); err != nil {
			return classify("remove "+itemID, err)
		}

		return nil
	}

	return c.deleteTree(ctx, client, itemID)
}

// deleteTree removes a remote directory and everything under it.
func (c *SFTPClient) deleteTree(ctx context.Context, client *sftp.Client, root string) error {
	paths, err := collectTreePaths(client.Walk(root))
	if err != nil {
		return err
	}

	// Deepest first so directories are empty by the time we remove them.
	sort.Sort(sort.Reverse(byDepth(paths)))

	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("delete %s: %w", root, err)
		}

		if err := client.Remove(p); err != nil {
			return classify("remove "+p, err)
		}
	}

	return nil
}

// collectTreePaths drains a walker into the list of every path it visits.
func collectTreePaths(walker *fs.Walker) ([]string, error) {
	var paths []string

	for walker.Step() {
		if err := walker.Err(); err != nil {
			return nil, classify("walk "+walker.Path(), err)
		}

		paths = append(paths, walker.Path())
	}

	return paths, nil
}

// remotePath maps a logical path to the remote path under the base path.
func (c *SFTPClient) remotePath(logicalPath string) string {
	return path.Join(c.basePath, strings.TrimPrefix(logicalPath, "/"))
}

// byDepth sorts paths by separator count, then lexically.
type byDepth []string

func (b byDepth) Len() int      { return len(b) }
func (b byDepth) Swap(i, j int) { b[i], b[j] = b[j], b[i] }
func (b byDepth) Less(i, j int) bool {
	di, dj := strings.Count(b[i], "/"), strings.Count(b[j], "/")
	if di != dj {
		return di < dj
	}

	return b[i] < b[j]
}

// copyChunks copies src to dst in fixed-size chunks, checking ctx between
// chunks so an in-flight chunk finishes naturally rather than being torn down
// mid-write.
func copyChunks(ctx context.Context, dst io.Writer, src io.Reader, total int64, progress ProgressFunc) error {
	buf := make([]byte, CopyBufferSize)

	var transferred int64

	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("transfer cancelled: %w", err)
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			written, writeErr := dst.Write(buf[:n])
			if writeErr != nil {
				return classify("write", writeErr)
			}

			if written != n {
				return fmt.Errorf("short write: %d of %d bytes: %w", written, n, ErrTransient)
			}

			transferred += int64(n)
			if progress != nil {
				progress(transferred, total)
			}
		}

		if readErr == io.EOF {
			return nil
		}

		if readErr != nil {
			return classify("read", readErr)
		}
	}
}

// changeTag synthesizes an opaque version marker from remote size and mtime.
func changeTag(size, mtimeUnix int64) string {
	return fmt.Sprintf("%d-%d", size, mtimeUnix)
}

// classify wraps an SFTP error with the matching error kind so callers can
// distinguish a missing item from a flaky connection.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	if os.IsNotExist(err) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}

	return fmt.Errorf("%s: %v: %w", op, err, ErrTransient)
}
