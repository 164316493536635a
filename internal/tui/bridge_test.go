//nolint:varnamelen // Test files use idiomatic short variable names (t, g, etc.)
package tui_test

import (
	"testing"

	. "github.com/onsi/gomega" //nolint:revive // Dot import is idiomatic for Gomega matchers

	"github.com/joe/drivesync/internal/syncengine"
	"github.com/joe/drivesync/internal/tui"
)

func TestEventBridge_DeliversEventsInOrder(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	bridge := tui.NewEventBridge()
	defer bridge.Close()

	bridge.Emit(syncengine.ScanStarted{AccountID: "acct1", Side: "local"})
	bridge.Emit(syncengine.RunComplete{AccountID: "acct1"})

	first := bridge.ListenCmd()()
	msg, ok := first.(tui.EngineEventMsg)
	g.Expect(ok).To(BeTrue())
	g.Expect(msg.Event).To(BeAssignableToTypeOf(syncengine.ScanStarted{}))

	second := bridge.ListenCmd()()
	msg, ok = second.(tui.EngineEventMsg)
	g.Expect(ok).To(BeTrue())
	g.Expect(msg.Event).To(BeAssignableToTypeOf(syncengine.RunComplete{}))
}

func TestEventBridge_FullBufferDropsInsteadOfBlocking(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	bridge := tui.NewEventBridge()
	defer bridge.Close()

	// Emit far more events than the buffer holds. This must return promptly
	// rather than stalling the engine goroutine.
	for i := 0; i < 500; i++ {
		bridge.Emit(syncengine.ScanProgress{AccountID: "acct1"})
	}

	// At least one event is still deliverable.
	msg := bridge.ListenCmd()()
	g.Expect(msg).To(BeAssignableToTypeOf(tui.EngineEventMsg{}))
}

func TestEventBridge_ClosedBridgeIgnoresEmits(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)

	bridge := tui.NewEventBridge()
	bridge.Close()

	// Must not panic on a closed channel.
	bridge.Emit(syncengine.RunComplete{AccountID: "acct1"})

	msg := bridge.ListenCmd()()
	g.Expect(msg).To(BeNil())
}
