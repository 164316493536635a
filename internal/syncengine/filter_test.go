//nolint:varnamelen // Test files use idiomatic short variable names (t, g, etc.)
package syncengine_test

import (
	"testing"

	. "github.com/onsi/gomega" //nolint:revive // Dot import is idiomatic for Gomega matchers

	"github.com/joe/drivesync/internal/syncengine"
)

func TestGlobFilter_InvalidPatternMatchesNothing(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	filter := syncengine.NewGlobFilter("[invalid")

	g.Expect(filter.ShouldInclude("test.txt")).To(BeFalse())
}

func TestGlobFilter_ShouldInclude(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		pattern string
		path    string
		want    bool
	}{
		{"empty pattern matches all", "", "any/file.txt", true},
		{"simple extension match", "*.txt", "notes.txt", true},
		{"simple extension no match", "*.txt", "photo.jpg", false},
		{"case insensitive pattern", "*.TXT", "notes.txt", true},
		{"case insensitive path", "*.txt", "NOTES.TXT", true},
		{"double star matches nested", "**/*.txt", "docs/deep/a.txt", true},
		{"double star matches root level", "**/*.txt", "a.txt", true},
		{"double star in middle", "docs/**/final.txt", "docs/2025/june/final.txt", true},
		{"brace expansion first option", "*.{txt,md}", "readme.txt", true},
		{"brace expansion second option", "*.{txt,md}", "readme.md", true},
		{"brace expansion no match", "*.{txt,md}", "readme.pdf", false},
		{"specific directory match", "docs/*.txt", "docs/a.txt", true},
		{"specific directory wrong dir", "docs/*.txt", "photos/a.txt", false},
		{"single star does not cross directories", "docs/*.txt", "docs/deep/a.txt", false},
		{"question mark single char", "file?.txt", "file1.txt", true},
		{"question mark multiple chars", "file?.txt", "file12.txt", false},
		{"character class", "file[0-9].txt", "file5.txt", true},
		{"character class no match", "file[0-9].txt", "filea.txt", false},
		{"empty path", "*.txt", "", false},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			g := NewWithT(t)

			filter := syncengine.NewGlobFilter(testCase.pattern)

			g.Expect(filter.ShouldInclude(testCase.path)).To(Equal(testCase.want),
				"pattern %q against path %q", testCase.pattern, testCase.path)
		})
	}
}
