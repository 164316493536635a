package syncengine

import (
	"sync"
	"time"

	"github.com/joe/drivesync/internal/models"
)

// Exported constants.
const (
	// RateWindowSize is the number of recent samples in the rolling rate window.
	RateWindowSize = 10
	// PublishInterval is the minimum spacing between published snapshots.
	PublishInterval = 100 * time.Millisecond
	// BytesPerMegabyte converts byte rates to MB/s for display.
	BytesPerMegabyte = 1024 * 1024
)

// RateSample is a point-in-time throughput measurement. Samples live in a
// rolling window so the displayed rate tracks recent performance rather than
// the whole-run average.
type RateSample struct {
	Timestamp        time.Time
	BytesTransferred int64
}

// Reporter aggregates progress from concurrent transfer workers into
// models.SyncState snapshots and publishes them to subscribers.
//
// Publishing is conflation-based: each subscriber channel holds at most the
// latest snapshot, stale snapshots are replaced rather than queued, and a new
// subscriber immediately receives the most recent snapshot. Observers can
// therefore be arbitrarily slow without blocking transfers.
type Reporter struct {
	mu sync.Mutex

	state       models.SyncState
	samples     []RateSample
	windowBytes int64

	timeProvider TimeProvider
	lastPublish  time.Time

	subscribers []chan models.SyncState
}

// NewReporter creates a reporter for one account using tp for timestamps.
func NewReporter(accountID string, tp TimeProvider) *Reporter {
	if tp == nil {
		tp = &RealTimeProvider{}
	}

	return &Reporter{
		state: models.SyncState{
			AccountID: accountID,
			Status:    models.RunIdle,
		},
		timeProvider: tp,
	}
}

// Subscribe returns a channel that carries state snapshots. The latest
// snapshot is delivered immediately. The channel is closed by Close.
func (r *Reporter) Subscribe() <-chan models.SyncState {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch := make(chan models.SyncState, 1)
	ch <- r.snapshotLocked()
	r.subscribers = append(r.subscribers, ch)

	return ch
}

// Close closes all subscriber channels after a final publish.
func (r *Reporter) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.publishLocked(true)

	for _, ch := range r.subscribers {
		close(ch)
	}

	r.subscribers = nil
}

// State returns the current snapshot.
func (r *Reporter) State() models.SyncState {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.snapshotLocked()
}

// BeginRun resets counters for a fresh run and marks it running.
func (r *Reporter) BeginRun(totalFiles int, totalBytes int64, conflicts int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state = models.SyncState{
		AccountID:         r.state.AccountID,
		Status:            models.RunRunning,
		TotalFiles:        totalFiles,
		TotalBytes:        totalBytes,
		ConflictsDetected: conflicts,
	}
	r.samples = nil
	r.windowBytes = 0

	r.publishLocked(true)
}

// SetTotals fixes the run's transfer totals once the plan is known.
func (r *Reporter) SetTotals(totalFiles int, totalBytes int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state.TotalFiles = totalFiles
	r.state.TotalBytes = totalBytes

	r.publishLocked(true)
}

// EndRun marks the run's terminal status. The snapshot is retained for late
// subscribers until the next BeginRun.
func (r *Reporter) EndRun(status models.RunStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state.Status = status
	r.state.FilesUploading = 0
	r.state.FilesDownloading = 0
	r.state.CurrentScanningFolder = ""

	r.publishLocked(true)
}

// SetScanningFolder updates the folder shown while scans run.
func (r *Reporter) SetScanningFolder(folder string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state.CurrentScanningFolder = folder
	r.publishLocked(false)
}

// TransferStarted records a transfer going active in the given direction.
func (r *Reporter) TransferStarted(direction models.SyncDirection) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch direction {
	case models.DirectionUpload:
		r.state.FilesUploading++
	case models.DirectionDownload:
		r.state.FilesDownloading++
	case models.DirectionNone:
	}

	r.publishLocked(false)
}

// TransferProgress records delta bytes moved by one worker. Deltas feed the
// rolling rate window as well as the completed-bytes total.
func (r *Reporter) TransferProgress(deltaBytes int64) {
	if deltaBytes <= 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.state.CompletedBytes += deltaBytes
	r.addSampleLocked(deltaBytes)
	r.publishLocked(false)
}

// TransferFinished records a transfer leaving the active set. Successful
// transfers count toward CompletedFiles; failed ones only drop the active count.
func (r *Reporter) TransferFinished(direction models.SyncDirection, succeeded bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch direction {
	case models.DirectionUpload:
		if r.state.FilesUploading > 0 {
			r.state.FilesUploading--
		}
	case models.DirectionDownload:
		if r.state.FilesDownloading > 0 {
			r.state.FilesDownloading--
		}
	case models.DirectionNone:
	}

	if succeeded {
		r.state.CompletedFiles++
	}

	r.publishLocked(false)
}

// FileDeleted records one propagated deletion.
func (r *Reporter) FileDeleted() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state.FilesDeleted++
	r.publishLocked(false)
}

// ConflictRecorded bumps the detected-conflict count.
func (r *Reporter) ConflictRecorded() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.state.ConflictsDetected++
	r.publishLocked(false)
}

func (r *Reporter) addSampleLocked(deltaBytes int64) {
	r.samples = append(r.samples, RateSample{
		Timestamp:        r.timeProvider.Now(),
		BytesTransferred: deltaBytes,
	})
	r.windowBytes += deltaBytes

	if len(r.samples) > RateWindowSize {
		r.windowBytes -= r.samples[0].BytesTransferred
		r.samples = r.samples[1:]
	}
}

// rateLocked computes the smoothed transfer rate in bytes/sec over the
// rolling window. Needs at least two samples spanning nonzero time.
func (r *Reporter) rateLocked() float64 {
	if len(r.samples) < 2 {
		return 0
	}

	span := r.samples[len(r.samples)-1].Timestamp.Sub(r.samples[0].Timestamp).Seconds()
	if span <= 0 {
		return 0
	}

	return float64(r.windowBytes) / span
}

func (r *Reporter) snapshotLocked() models.SyncState {
	state := r.state

	rate := r.rateLocked()
	state.MegabytesPerSecond = rate / BytesPerMegabyte

	remaining := state.TotalBytes - state.CompletedBytes
	if rate > 0 && remaining > 0 {
		eta := float64(remaining) / rate
		state.EstimatedSecondsRemaining = &eta
	} else {
		state.EstimatedSecondsRemaining = nil
	}

	state.LastUpdateUTC = r.timeProvider.Now().UTC()

	return state
}

// publishLocked pushes the current snapshot to every subscriber, replacing
// any undelivered older snapshot. Non-forced publishes are throttled.
func (r *Reporter) publishLocked(force bool) {
	now := r.timeProvider.Now()
	if !force && now.Sub(r.lastPublish) < PublishInterval {
		return
	}

	r.lastPublish = now

	snapshot := r.snapshotLocked()

	for _, ch := range r.subscribers {
		select {
		case ch <- snapshot:
		default:
			// Drain the stale snapshot, then deliver the fresh one.
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snapshot:
			default:
			}
		}
	}
}
