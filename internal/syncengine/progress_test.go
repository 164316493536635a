//nolint:varnamelen // Test files use idiomatic short variable names (t, g, etc.)
package syncengine_test

import (
	"testing"
	"time"

	. "github.com/onsi/gomega" //nolint:revive // Dot import is idiomatic for Gomega matchers

	"github.com/joe/drivesync/internal/models"
	"github.com/joe/drivesync/internal/syncengine"
)

func TestReporter_LifecycleCounters(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	tp := &syncengine.MockTimeProvider{Time: baseTime}
	reporter := syncengine.NewReporter("acct1", tp)

	g.Expect(reporter.State().Status).To(Equal(models.RunIdle))

	reporter.BeginRun(3, 300, 1)

	state := reporter.State()
	g.Expect(state.Status).To(Equal(models.RunRunning))
	g.Expect(state.TotalFiles).To(Equal(3))
	g.Expect(state.TotalBytes).To(Equal(int64(300)))
	g.Expect(state.ConflictsDetected).To(Equal(1))

	reporter.TransferStarted(models.DirectionUpload)
	reporter.TransferStarted(models.DirectionDownload)

	state = reporter.State()
	g.Expect(state.FilesUploading).To(Equal(1))
	g.Expect(state.FilesDownloading).To(Equal(1))

	tp.Advance(time.Second)
	reporter.TransferProgress(100)
	reporter.TransferFinished(models.DirectionUpload, true)
	reporter.TransferFinished(models.DirectionDownload, false)

	state = reporter.State()
	g.Expect(state.CompletedFiles).To(Equal(1))
	g.Expect(state.CompletedBytes).To(Equal(int64(100)))
	g.Expect(state.FilesUploading).To(BeZero())
	g.Expect(state.FilesDownloading).To(BeZero())

	reporter.EndRun(models.RunCompleted)
	g.Expect(reporter.State().Status).To(Equal(models.RunCompleted))
}

func TestReporter_SmoothedRateAndETA(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	tp := &syncengine.MockTimeProvider{Time: baseTime}
	reporter := syncengine.NewReporter("acct1", tp)

	const megabyte = 1024 * 1024

	reporter.BeginRun(4, 4*megabyte, 0)

	reporter.TransferProgress(megabyte)
	tp.Advance(time.Second)
	reporter.TransferProgress(megabyte)

	state := reporter.State()

	// Two samples one second apart carrying 2 MB total.
	g.Expect(state.MegabytesPerSecond).To(BeNumerically("~", 2.0, 0.01))
	g.Expect(state.EstimatedSecondsRemaining).ToNot(BeNil())
	g.Expect(*state.EstimatedSecondsRemaining).To(BeNumerically("~", 1.0, 0.01))
}

func TestReporter_ETAIsNilWithoutThroughput(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	tp := &syncengine.MockTimeProvider{Time: baseTime}
	reporter := syncengine.NewReporter("acct1", tp)

	reporter.BeginRun(1, 100, 0)

	state := reporter.State()
	g.Expect(state.EstimatedSecondsRemaining).To(BeNil())
	g.Expect(state.MegabytesPerSecond).To(BeZero())
}

func TestReporter_ETAIsNilWhenNothingRemains(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	tp := &syncengine.MockTimeProvider{Time: baseTime}
	reporter := syncengine.NewReporter("acct1", tp)

	reporter.BeginRun(1, 100, 0)
	reporter.TransferProgress(50)
	tp.Advance(time.Second)
	reporter.TransferProgress(50)

	state := reporter.State()
	g.Expect(state.CompletedBytes).To(Equal(int64(100)))
	g.Expect(state.EstimatedSecondsRemaining).To(BeNil())
}

func TestReporter_SubscribeDeliversLatestImmediately(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	tp := &syncengine.MockTimeProvider{Time: baseTime}
	reporter := syncengine.NewReporter("acct1", tp)

	reporter.BeginRun(5, 500, 0)

	ch := reporter.Subscribe()

	var state models.SyncState

	g.Eventually(ch).Should(Receive(&state))
	g.Expect(state.Status).To(Equal(models.RunRunning))
	g.Expect(state.TotalFiles).To(Equal(5))
}

func TestReporter_SlowSubscriberSeesLatestNotBacklog(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	tp := &syncengine.MockTimeProvider{Time: baseTime}
	reporter := syncengine.NewReporter("acct1", tp)

	ch := reporter.Subscribe()

	// The subscriber never drains while several forced publishes happen.
	reporter.BeginRun(1, 100, 0)
	reporter.SetTotals(7, 700)
	reporter.EndRun(models.RunCompleted)

	var state models.SyncState

	g.Eventually(ch).Should(Receive(&state))
	g.Expect(state.Status).To(Equal(models.RunCompleted))
	g.Expect(state.TotalFiles).To(Equal(7))

	g.Consistently(ch).ShouldNot(Receive())
}

func TestReporter_CloseEndsSubscriptions(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	tp := &syncengine.MockTimeProvider{Time: baseTime}
	reporter := syncengine.NewReporter("acct1", tp)

	ch := reporter.Subscribe()

	reporter.Close()

	g.Eventually(ch).Should(BeClosed())
}
