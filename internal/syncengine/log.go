package syncengine

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// RunLog is an optional per-run debug log written to a file. A nil *RunLog is
// valid and discards everything, so callers never need to guard writes.
type RunLog struct {
	mu   sync.Mutex
	file *os.File
}

// OpenRunLog creates (truncating) the log file and writes the session header.
func OpenRunLog(path string) (*RunLog, error) {
	f, err := os.Create(path) // #nosec G304 - log path comes from the user's own flags
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	l := &RunLog{file: f}
	l.Printf("=== Sync Log Started: %s ===", time.Now().Format(time.RFC3339))

	return l, nil
}

// Printf writes one timestamped line to the log.
func (l *RunLog) Printf(format string, args ...any) {
	if l == nil || l.file == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	timestamp := time.Now().Format("15:04:05.000")
	fmt.Fprintf(l.file, "[%s] %s\n", timestamp, fmt.Sprintf(format, args...))
}

// Close writes the session footer and closes the file.
func (l *RunLog) Close() {
	if l == nil || l.file == nil {
		return
	}

	l.Printf("=== Sync Log Ended: %s ===", time.Now().Format(time.RFC3339))

	l.mu.Lock()
	defer l.mu.Unlock()

	_ = l.file.Close()
	l.file = nil
}
