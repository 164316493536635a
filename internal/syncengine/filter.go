package syncengine

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// FileFilter decides which logical paths participate in a sync run.
type FileFilter interface {
	// ShouldInclude returns true if the file at the given logical path should
	// be included in the sync.
	ShouldInclude(logicalPath string) bool
}

// GlobFilter implements FileFilter using glob patterns.
type GlobFilter struct {
	normalizedPattern string
	isEmpty           bool
}

// NewGlobFilter creates a new GlobFilter with the given pattern.
// Empty pattern matches all files.
func NewGlobFilter(pattern string) *GlobFilter {
	return &GlobFilter{
		normalizedPattern: strings.ToLower(pattern),
		isEmpty:           pattern == "",
	}
}

// ShouldInclude returns true if the file matches the glob pattern.
// Matching is case-insensitive.
func (f *GlobFilter) ShouldInclude(logicalPath string) bool {
	if f.isEmpty {
		return true
	}

	normalizedPath := strings.ToLower(logicalPath)

	matched, err := doublestar.Match(f.normalizedPattern, normalizedPath)
	if err != nil {
		// Invalid pattern matches nothing.
		return false
	}

	return matched
}
