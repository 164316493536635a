// Package main is the entry point for the drivesync application.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term" //nolint:depguard // Required for TTY detection

	"github.com/joe/drivesync/internal/config"
	"github.com/joe/drivesync/internal/metastore"
	"github.com/joe/drivesync/internal/models"
	"github.com/joe/drivesync/internal/syncengine"
	"github.com/joe/drivesync/internal/tui"
	"github.com/joe/drivesync/pkg/formatters"
	"github.com/joe/drivesync/pkg/remote"
)

func main() {
	cfg, err := config.ParseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	var log *syncengine.RunLog

	if cfg.LogFile != "" {
		var err error

		log, err = syncengine.OpenRunLog(cfg.LogFile)
		if err != nil {
			return err
		}
		defer log.Close()
	}

	store, err := metastore.Open(statePath())
	if err != nil {
		return err
	}
	defer store.Close()

	mux := remote.NewMux()
	accounts := make([]syncengine.Account, 0, len(cfg.Accounts))

	for _, acct := range cfg.Accounts {
		parsed, err := remote.ParseURL(acct.RemoteURL)
		if err != nil {
			return err
		}

		client, err := remote.NewSFTPClient(parsed, cfg.Workers)
		if err != nil {
			return fmt.Errorf("account %s: %w", acct.ID, err)
		}
		defer client.Close()

		mux.Register(acct.ID, client)
		accounts = append(accounts, syncengine.Account{
			ID:           acct.ID,
			LocalRoot:    acct.LocalRoot,
			RemoteFolder: acct.RemoteFolder,
		})
	}

	opts := syncengine.Options{
		Workers:               cfg.Workers,
		DryRun:                cfg.DryRun,
		Pattern:               cfg.Pattern,
		ComputeHashes:         !cfg.NoHash,
		FirstSyncTolerance:    cfg.FirstSyncTolerance(),
		RemoteChangeTolerance: cfg.ChangeTolerance(),
	}

	if cfg.NoTUI || !term.IsTerminal(int(os.Stdout.Fd())) {
		service := syncengine.NewService(store, mux, accounts, nil, log, opts)
		defer service.Close()

		return runPlain(service, accounts)
	}

	bridge := tui.NewEventBridge()
	defer bridge.Close()

	service := syncengine.NewService(store, mux, accounts, bridge, log, opts)
	defer service.Close()

	model := tui.NewModel(service, bridge)

	p := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return err
	}

	return nil
}

// runPlain syncs every account once, printing a line per account, for use in
// scripts and pipelines.
func runPlain(service *syncengine.Service, accounts []syncengine.Account) error {
	failed := false

	for _, acct := range accounts {
		if !service.StartSync(acct.ID) {
			continue
		}

		service.Wait(acct.ID)

		state, err := service.State(acct.ID)
		if err != nil {
			return err
		}

		fmt.Printf("%s: %s, %d/%d files, %s transferred, %d deleted, %d conflicts\n",
			acct.ID, state.Status, state.CompletedFiles, state.TotalFiles,
			formatters.FormatBytes(state.CompletedBytes), state.FilesDeleted,
			state.ConflictsDetected)

		if state.Status == models.RunFailed {
			failed = true
		}

		conflicts, err := service.Conflicts(acct.ID)
		if err != nil {
			return err
		}

		for _, c := range conflicts {
			fmt.Printf("  conflict: %s (local %s, remote %s)\n",
				c.FilePath,
				c.LocalModifiedUTC.Format("2006-01-02 15:04:05"),
				c.RemoteModifiedUTC.Format("2006-01-02 15:04:05"))
		}
	}

	if failed {
		return fmt.Errorf("one or more accounts failed to sync")
	}

	return nil
}

// statePath picks where the metadata database lives.
func statePath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		base := filepath.Join(dir, "drivesync")
		if err := os.MkdirAll(base, 0o750); err == nil {
			return filepath.Join(base, "state.db")
		}
	}

	return "drivesync.db"
}
