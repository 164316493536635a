//nolint:varnamelen // Test files use idiomatic short variable names (t, g, etc.)
package remote_test

import (
	"testing"

	. "github.com/onsi/gomega" //nolint:revive // Dot import is idiomatic for Gomega matchers

	"github.com/joe/drivesync/pkg/remote"
)

func TestParseURL_Valid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		url      string
		wantHost string
		wantPort int
		wantUser string
		wantPath string
	}{
		{"full url with port", "sftp://joe@example.com:2222/backups", "example.com", 2222, "joe", "backups"},
		{"default port", "sftp://joe@example.com/backups", "example.com", 22, "joe", "backups"},
		{"home directory when no path", "sftp://joe@example.com", "example.com", 22, "joe", "."},
		{"trailing slash is home", "sftp://joe@example.com/", "example.com", 22, "joe", "."},
		{"double slash is absolute", "sftp://joe@example.com//var/data", "example.com", 22, "joe", "/var/data"},
		{"nested relative path", "sftp://joe@example.com/a/b/c", "example.com", 22, "joe", "a/b/c"},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			g := NewWithT(t)

			parsed, err := remote.ParseURL(testCase.url)

			g.Expect(err).ToNot(HaveOccurred())
			g.Expect(parsed.Host).To(Equal(testCase.wantHost))
			g.Expect(parsed.Port).To(Equal(testCase.wantPort))
			g.Expect(parsed.User).To(Equal(testCase.wantUser))
			g.Expect(parsed.Path).To(Equal(testCase.wantPath))
		})
	}
}

func TestParseURL_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		url  string
	}{
		{"wrong scheme", "http://joe@example.com/path"},
		{"missing scheme", "joe@example.com/path"},
		{"missing user", "sftp://example.com/path"},
		{"missing host", "sftp://joe@/path"},
		{"bad port", "sftp://joe@example.com:notaport/path"},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			g := NewWithT(t)

			_, err := remote.ParseURL(testCase.url)

			g.Expect(err).To(HaveOccurred())
		})
	}
}
