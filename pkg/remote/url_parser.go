package remote

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// ParsedURL holds the components of an sftp:// remote URL.
type ParsedURL struct {
	Host string
	Port int
	User string
	Path string // remote base path for the account root
}

// ParseURL parses a remote URL of the form sftp://user@host:port/path.
// Port is optional (defaults to 22).
// Path convention:
//   - sftp://user@host/path  → relative to home directory
//   - sftp://user@host//path → absolute path /path
//   - sftp://user@host       → home directory (.)
func ParseURL(remoteURL string) (*ParsedURL, error) {
	u, err := url.Parse(remoteURL)
	if err != nil {
		return nil, fmt.Errorf("invalid remote URL: %w", err)
	}

	if u.Scheme != "sftp" {
		return nil, fmt.Errorf("expected sftp:// scheme, got %s://", u.Scheme)
	}

	if u.User == nil || u.User.Username() == "" {
		return nil, fmt.Errorf("remote URL must include username (sftp://user@host/path)")
	}

	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("remote URL must include host")
	}

	port := 22
	if portStr := u.Port(); portStr != "" {
		p, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("invalid port number: %w", err)
		}

		port = p
	}

	remotePath := u.Path
	switch {
	case remotePath == "" || remotePath == "/":
		remotePath = "."
	case strings.HasPrefix(remotePath, "//"):
		// Absolute path: strip one /
		remotePath = remotePath[1:]
	default:
		// Relative to home: strip leading /
		remotePath = strings.TrimPrefix(remotePath, "/")
	}

	return &ParsedURL{
		Host: host,
		Port: port,
		User: u.User.Username(),
		Path: remotePath,
	}, nil
}
