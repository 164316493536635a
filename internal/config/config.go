// Package config handles application configuration: command-line argument
// parsing plus the TOML accounts file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/alexflint/go-arg"

	"github.com/joe/drivesync/pkg/remote"
)

// Defaults.
const (
	DefaultWorkers        = 4
	DefaultMaxRemoteScan  = 50000
	DefaultFirstSyncSkew  = 60 * time.Second
	DefaultRemoteSkew     = time.Second
	defaultConfigFileName = "drivesync.toml"
)

// Config holds the application configuration after flags and the accounts
// file are merged.
type Config struct {
	ConfigPath string `arg:"-c,--config" help:"Path to the accounts TOML file"`
	Account    string `arg:"-a,--account" help:"Sync only this account id (default: all accounts)"`
	Workers    int    `arg:"-w,--workers" default:"4" help:"Number of concurrent transfers per phase"`
	DryRun     bool   `arg:"--dry-run" help:"Log planned actions without transferring anything"`
	NoHash     bool   `arg:"--no-hash" help:"Skip content hashing during local scans (faster, less exact)"`
	Pattern    string `arg:"-p,--pattern" help:"Glob pattern over logical paths; only matching files sync"`
	LogFile    string `arg:"--log-file" help:"Write a per-run debug log to this path"`
	NoTUI      bool   `arg:"--no-tui" help:"Plain text output instead of the terminal UI"`

	FirstSyncToleranceSec int `arg:"--first-sync-tolerance" default:"60" help:"Seconds of mtime skew tolerated when matching files on first sync"`
	ChangeToleranceSec    int `arg:"--change-tolerance" default:"1" help:"Seconds of mtime skew tolerated when detecting remote changes"`

	Accounts []AccountConfig `arg:"-"`
}

// AccountConfig is one [[accounts]] block in the TOML file.
type AccountConfig struct {
	ID           string `toml:"id"`
	RemoteURL    string `toml:"remote_url"`
	LocalRoot    string `toml:"local_root"`
	RemoteFolder string `toml:"remote_folder"`
}

type accountsFile struct {
	Accounts []AccountConfig `toml:"accounts"`
}

// Description returns the program description for go-arg.
func (Config) Description() string {
	return "Bidirectional file sync between a local folder and a remote drive"
}

// Version returns the version string for go-arg.
func (Config) Version() string {
	return "drivesync 1.0.0"
}

// ParseFlags parses command-line flags, loads the accounts file, and
// validates the result.
func ParseFlags() (*Config, error) {
	cfg := &Config{Workers: DefaultWorkers}

	arg.MustParse(cfg)

	return PostProcessConfig(cfg)
}

// PostProcessConfig loads the accounts file named by the parsed flags and
// validates the merged configuration.
func PostProcessConfig(cfg *Config) (*Config, error) {
	path := cfg.ConfigPath
	if path == "" {
		path = defaultConfigPath()
	}

	accounts, err := LoadAccounts(path)
	if err != nil {
		return nil, err
	}

	cfg.Accounts = accounts

	if cfg.Account != "" {
		cfg.Accounts = filterAccounts(accounts, cfg.Account)
		if len(cfg.Accounts) == 0 {
			return nil, fmt.Errorf("account %q not found in %s", cfg.Account, path)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadAccounts reads and validates the [[accounts]] blocks from a TOML file.
func LoadAccounts(path string) ([]AccountConfig, error) {
	var file accountsFile

	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", path, err)
	}

	if len(file.Accounts) == 0 {
		return nil, fmt.Errorf("config %s defines no accounts", path)
	}

	return file.Accounts, nil
}

// Validate checks the merged configuration for problems a run would only
// discover later.
func (cfg *Config) Validate() error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", cfg.Workers)
	}

	seen := make(map[string]bool, len(cfg.Accounts))

	for _, acct := range cfg.Accounts {
		if acct.ID == "" {
			return fmt.Errorf("account with local_root %q has no id", acct.LocalRoot)
		}

		if seen[acct.ID] {
			return fmt.Errorf("duplicate account id %q", acct.ID)
		}

		seen[acct.ID] = true

		if acct.LocalRoot == "" {
			return fmt.Errorf("account %q has no local_root", acct.ID)
		}

		if !filepath.IsAbs(acct.LocalRoot) {
			return fmt.Errorf("account %q local_root must be absolute, got %s", acct.ID, acct.LocalRoot)
		}

		if _, err := remote.ParseURL(acct.RemoteURL); err != nil {
			return fmt.Errorf("account %q: %w", acct.ID, err)
		}
	}

	return nil
}

// FirstSyncTolerance returns the configured first-sync mtime tolerance.
func (cfg *Config) FirstSyncTolerance() time.Duration {
	if cfg.FirstSyncToleranceSec <= 0 {
		return DefaultFirstSyncSkew
	}

	return time.Duration(cfg.FirstSyncToleranceSec) * time.Second
}

// ChangeTolerance returns the configured remote-change mtime tolerance.
func (cfg *Config) ChangeTolerance() time.Duration {
	if cfg.ChangeToleranceSec <= 0 {
		return DefaultRemoteSkew
	}

	return time.Duration(cfg.ChangeToleranceSec) * time.Second
}

func filterAccounts(accounts []AccountConfig, id string) []AccountConfig {
	var matched []AccountConfig

	for _, acct := range accounts {
		if acct.ID == id {
			matched = append(matched, acct)
		}
	}

	return matched
}

func defaultConfigPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		candidate := filepath.Join(dir, "drivesync", defaultConfigFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}

	return defaultConfigFileName
}
