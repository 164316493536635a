package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/joe/drivesync/internal/syncengine"
)

// EngineEventMsg wraps a syncengine.Event for use as a tea.Msg.
type EngineEventMsg struct {
	Event syncengine.Event
}

// EventBridge adapts syncengine events to bubble tea messages. It implements
// syncengine.EventEmitter and feeds a channel the TUI drains via ListenCmd.
type EventBridge struct {
	eventChan chan tea.Msg
	closed    bool
}

// NewEventBridge creates a new event bridge.
func NewEventBridge() *EventBridge {
	return &EventBridge{
		eventChan: make(chan tea.Msg, 100), // Buffer to prevent blocking the engine
	}
}

// Emit implements syncengine.EventEmitter. The send never blocks; when the
// buffer is full the event is dropped, which the TUI tolerates because state
// snapshots always carry the full picture.
func (b *EventBridge) Emit(event syncengine.Event) {
	if b.closed {
		return
	}

	select {
	case b.eventChan <- EngineEventMsg{Event: event}:
	default:
	}
}

// ListenCmd returns a tea.Cmd that blocks until the next event. Re-issue it
// after handling each EngineEventMsg to keep listening.
func (b *EventBridge) ListenCmd() tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-b.eventChan
		if !ok {
			return nil
		}

		return msg
	}
}

// Close closes the event channel. Call when done with the bridge.
func (b *EventBridge) Close() {
	if !b.closed {
		b.closed = true
		close(b.eventChan)
	}
}
