package syncengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joe/drivesync/internal/metastore"
	"github.com/joe/drivesync/internal/models"
	"github.com/joe/drivesync/pkg/remote"
)

// ErrUnknownAccount is returned for account ids the service was not
// configured with.
var ErrUnknownAccount = errors.New("unknown account")

// Account pairs a local sync root with a remote folder.
type Account struct {
	ID           string
	LocalRoot    string // absolute local path of the sync root
	RemoteFolder string // account-root-relative remote folder, "" for the root
}

// Options tunes a Service. Zero values select the defaults.
type Options struct {
	Workers               int
	DryRun                bool
	Pattern               string // glob filter over logical paths, "" for all
	ComputeHashes         bool
	FirstSyncTolerance    time.Duration
	RemoteChangeTolerance time.Duration
	MaxRemoteEntries      int
	TimeProvider          TimeProvider
}

// Service owns sync runs for a set of accounts. At most one run per account
// is in flight at a time; starting a second is a no-op while the first runs.
// Runs for different accounts proceed independently.
type Service struct {
	store   *metastore.Store
	client  remote.Client
	emitter EventEmitter
	log     *RunLog
	opts    Options

	mu        sync.Mutex
	accounts  map[string]Account
	reporters map[string]*Reporter
	running   map[string]*activeRun
}

type activeRun struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// NewService builds a Service. A nil emitter discards events; a nil log
// discards log lines.
func NewService(
	store *metastore.Store,
	client remote.Client,
	accounts []Account,
	emitter EventEmitter,
	log *RunLog,
	opts Options,
) *Service {
	if emitter == nil {
		emitter = NullEmitter{}
	}

	if opts.TimeProvider == nil {
		opts.TimeProvider = &RealTimeProvider{}
	}

	byID := make(map[string]Account, len(accounts))
	reporters := make(map[string]*Reporter, len(accounts))

	for _, acct := range accounts {
		byID[acct.ID] = acct
		reporters[acct.ID] = NewReporter(acct.ID, opts.TimeProvider)
	}

	return &Service{
		store:     store,
		client:    client,
		emitter:   emitter,
		log:       log,
		opts:      opts,
		accounts:  byID,
		reporters: reporters,
		running:   make(map[string]*activeRun),
	}
}

// StartSync launches a sync run for the account in the background. Returns
// false without side effects when a run for that account is already active
// or the account is unknown.
func (s *Service) StartSync(accountID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[accountID]
	if !ok {
		return false
	}

	if _, active := s.running[accountID]; active {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	run := &activeRun{cancel: cancel, done: make(chan struct{})}
	s.running[accountID] = run

	go func() {
		defer close(run.done)
		defer func() {
			s.mu.Lock()
			delete(s.running, accountID)
			s.mu.Unlock()
		}()

		s.runSync(ctx, acct)
	}()

	return true
}

// StopSync cancels the account's active run, if any. In-flight transfers
// finish their current chunk; the run lands in Paused and is resumable.
func (s *Service) StopSync(accountID string) {
	s.mu.Lock()
	run, active := s.running[accountID]
	s.mu.Unlock()

	if active {
		run.cancel()
	}
}

// Wait blocks until the account's active run finishes. Returns immediately
// when no run is active.
func (s *Service) Wait(accountID string) {
	s.mu.Lock()
	run, active := s.running[accountID]
	s.mu.Unlock()

	if active {
		<-run.done
	}
}

// Progress returns a subscription to the account's state snapshots. The
// latest snapshot is delivered immediately; slow consumers only ever miss
// intermediate snapshots, never the latest.
func (s *Service) Progress(accountID string) (<-chan models.SyncState, error) {
	reporter, ok := s.reporters[accountID]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", accountID, ErrUnknownAccount)
	}

	return reporter.Subscribe(), nil
}

// State returns the account's current snapshot.
func (s *Service) State(accountID string) (models.SyncState, error) {
	reporter, ok := s.reporters[accountID]
	if !ok {
		return models.SyncState{}, fmt.Errorf("account %s: %w", accountID, ErrUnknownAccount)
	}

	return reporter.State(), nil
}

// Conflicts returns the account's unresolved conflicts, oldest first.
func (s *Service) Conflicts(accountID string) ([]models.SyncConflict, error) {
	return s.store.GetConflicts(accountID)
}

// Accounts returns the configured accounts in no particular order.
func (s *Service) Accounts() []Account {
	accounts := make([]Account, 0, len(s.accounts))
	for _, acct := range s.accounts {
		accounts = append(accounts, acct)
	}

	return accounts
}

// Close stops all runs, waits for them, and closes the progress channels.
func (s *Service) Close() {
	s.mu.Lock()
	runs := make([]*activeRun, 0, len(s.running))

	for _, run := range s.running {
		run.cancel()
		runs = append(runs, run)
	}
	s.mu.Unlock()

	for _, run := range runs {
		<-run.done
	}

	for _, reporter := range s.reporters {
		reporter.Close()
	}
}

// runSync is one full sync pass: scan both sides, reconcile, execute.
func (s *Service) runSync(ctx context.Context, acct Account) {
	reporter := s.reporters[acct.ID]
	reporter.BeginRun(0, 0, 0)

	s.log.Printf("sync %s: starting (root %s)", acct.ID, acct.LocalRoot)

	status, err := s.syncOnce(ctx, acct, reporter)

	reporter.EndRun(status)
	s.emitter.Emit(RunComplete{AccountID: acct.ID, Status: status, Err: err})

	if err != nil {
		s.log.Printf("sync %s: finished %s: %v", acct.ID, status, err)
	} else {
		s.log.Printf("sync %s: finished %s", acct.ID, status)
	}
}

func (s *Service) syncOnce(ctx context.Context, acct Account, reporter *Reporter) (models.RunStatus, error) {
	if err := EnsureRoot(acct.LocalRoot); err != nil {
		return models.RunFailed, err
	}

	filter := NewGlobFilter(s.opts.Pattern)

	scanner := &LocalScanner{
		Filter:        filter,
		Emitter:       s.emitter,
		Log:           s.log,
		ComputeHashes: s.opts.ComputeHashes,
		OnFolder:      reporter.SetScanningFolder,
	}

	local, err := scanner.Scan(ctx, acct.ID, acct.LocalRoot)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return models.RunPaused, nil
		}

		s.emitter.Emit(ErrorOccurred{AccountID: acct.ID, Phase: "scan", Err: err})

		return models.RunFailed, err
	}

	if prev, err := s.store.GetDeltaToken(acct.ID, acct.RemoteFolder); err == nil && prev != "" {
		s.log.Printf("sync %s: previous remote snapshot %s", acct.ID, prev)
	}

	detector := &RemoteChangeDetector{
		Client:     s.client,
		Filter:     filter,
		Emitter:    s.emitter,
		Log:        s.log,
		MaxEntries: s.opts.MaxRemoteEntries,
		Clock:      s.opts.TimeProvider.Now,
	}

	remoteEntries, token, remoteErr := detector.Scan(ctx, acct.ID, acct.RemoteFolder)
	if remoteErr != nil {
		if errors.Is(remoteErr, context.Canceled) {
			return models.RunPaused, nil
		}

		// A partial remote snapshot still drives uploads safely; only
		// deletions derived from remote absence must be suppressed.
		s.log.Printf("sync %s: remote scan incomplete, deletions disabled: %v", acct.ID, remoteErr)
		s.emitter.Emit(ErrorOccurred{AccountID: acct.ID, Phase: "scan", Err: remoteErr})
	}

	reporter.SetScanningFolder("")

	stored, err := s.store.GetByAccount(acct.ID)
	if err != nil {
		return models.RunFailed, err
	}

	openConflicts, err := s.store.GetConflicts(acct.ID)
	if err != nil {
		return models.RunFailed, err
	}

	plan := Reconcile(local, remoteEntries, stored, openConflicts, ReconcileOptions{
		AccountID:             acct.ID,
		LocalRoot:             acct.LocalRoot,
		FirstSyncTolerance:    s.opts.FirstSyncTolerance,
		RemoteChangeTolerance: s.opts.RemoteChangeTolerance,
		DisableDeletes:        remoteErr != nil,
		Now:                   s.opts.TimeProvider.Now().UTC(),
	})

	s.emitter.Emit(PlanReady{AccountID: acct.ID, Plan: &plan})
	s.log.Printf("sync %s: plan: %d up, %d down, %d del local, %d del remote, %d conflicts",
		acct.ID, len(plan.Uploads), len(plan.Downloads),
		len(plan.LocalDeletes), len(plan.RemoteDelete), len(plan.NewConflicts))

	if err := s.recordConflicts(plan.NewConflicts, local, reporter); err != nil {
		return models.RunFailed, err
	}

	var totalBytes int64

	for _, rec := range plan.Uploads {
		totalBytes += rec.Size
	}

	for _, rec := range plan.Downloads {
		totalBytes += rec.Size
	}

	reporter.SetTotals(plan.TotalTransfers(), totalBytes)

	executor := &TransferExecutor{
		Store:    s.store,
		Client:   s.client,
		Reporter: reporter,
		Emitter:  s.emitter,
		Log:      s.log,
		Workers:  s.opts.Workers,
		DryRun:   s.opts.DryRun,
	}

	result, err := executor.Execute(ctx, plan)
	if err != nil {
		return models.RunFailed, err
	}

	if result.Cancelled {
		return models.RunPaused, nil
	}

	if token != "" && !s.opts.DryRun {
		if err := s.store.SetDeltaToken(acct.ID, acct.RemoteFolder, token); err != nil {
			s.log.Printf("sync %s: failed to persist snapshot token: %v", acct.ID, err)
		}
	}

	if result.Failed > 0 {
		s.log.Printf("sync %s: %d file(s) failed, will retry next run", acct.ID, result.Failed)
	}

	return models.RunCompleted, nil
}

// recordConflicts persists the plan's new conflicts and flips the affected
// records to conflict status so later runs leave those paths alone.
func (s *Service) recordConflicts(
	conflicts []models.SyncConflict,
	local []models.LocalFileEntry,
	reporter *Reporter,
) error {
	if s.opts.DryRun {
		return nil
	}

	localByPath := make(map[string]models.LocalFileEntry, len(local))
	for _, entry := range local {
		localByPath[entry.Path] = entry
	}

	for _, conflict := range conflicts {
		conflict.ID = uuid.NewString()

		if err := s.store.AddConflict(conflict); err != nil {
			return fmt.Errorf("failed to record conflict for %s: %w", conflict.FilePath, err)
		}

		rec, err := s.conflictRecord(conflict, localByPath)
		if err != nil {
			return err
		}

		if err := s.store.Save(rec); err != nil {
			return fmt.Errorf("failed to mark %s conflicted: %w", conflict.FilePath, err)
		}

		reporter.ConflictRecorded()
		s.emitter.Emit(ConflictDetected{Conflict: conflict})
	}

	return nil
}

// conflictRecord returns the file record to persist for a conflicted path,
// reusing the stored record when one exists.
func (s *Service) conflictRecord(
	conflict models.SyncConflict,
	localByPath map[string]models.LocalFileEntry,
) (models.FileRecord, error) {
	existing, err := s.store.GetByPath(conflict.AccountID, conflict.FilePath)
	if err != nil {
		return models.FileRecord{}, fmt.Errorf("failed to load record for %s: %w", conflict.FilePath, err)
	}

	if len(existing) > 0 {
		rec := existing[0]
		rec.SyncStatus = models.StatusConflict

		return rec, nil
	}

	rec := newLocalRecord(localByPath[conflict.FilePath], conflict.AccountID)
	rec.SyncStatus = models.StatusConflict

	return rec, nil
}
