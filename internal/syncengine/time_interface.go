package syncengine

import "time"

// Ticker is an interface for time.Ticker to allow mocking.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// TimeProvider provides time-related functionality for dependency injection.
type TimeProvider interface {
	Now() time.Time
	NewTicker(d time.Duration) Ticker
}

// RealTimeProvider implements TimeProvider using real time functions.
type RealTimeProvider struct{}

// Now returns the current time.
func (r *RealTimeProvider) Now() time.Time {
	return time.Now()
}

// NewTicker creates a new ticker.
func (r *RealTimeProvider) NewTicker(d time.Duration) Ticker {
	return &RealTicker{ticker: time.NewTicker(d)}
}

// RealTicker wraps time.Ticker to implement the Ticker interface.
type RealTicker struct {
	ticker *time.Ticker
}

// C returns the ticker's channel.
func (r *RealTicker) C() <-chan time.Time {
	return r.ticker.C
}

// Stop stops the ticker.
func (r *RealTicker) Stop() {
	r.ticker.Stop()
}

// MockTimeProvider is a TimeProvider for tests with a settable clock.
type MockTimeProvider struct {
	Time time.Time
}

// Now returns the mock's current time.
func (m *MockTimeProvider) Now() time.Time {
	return m.Time
}

// Advance moves the mock clock forward.
func (m *MockTimeProvider) Advance(d time.Duration) {
	m.Time = m.Time.Add(d)
}

// NewTicker returns a mock ticker whose channel the test drives directly.
func (m *MockTimeProvider) NewTicker(time.Duration) Ticker {
	return &MockTicker{TickChan: make(chan time.Time, 1)}
}

// MockTicker is a mock implementation of Ticker for testing.
type MockTicker struct {
	TickChan chan time.Time
}

// C returns the ticker's channel.
func (m *MockTicker) C() <-chan time.Time {
	return m.TickChan
}

// Stop stops the ticker.
func (m *MockTicker) Stop() {
	if m.TickChan != nil {
		close(m.TickChan)
	}
}
