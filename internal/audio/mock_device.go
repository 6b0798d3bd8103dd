package audio

import (
	"sync"
)

// MockDevice is an in-memory Device for tests. It records lifecycle calls
// and hands out MockSources without touching real audio hardware.
type MockDevice struct {
	mu sync.Mutex

	opened     bool
	sampleRate int
	channels   int
	suspended  bool
	closed     bool

	sources []*MockSource

	// Fail hooks let tests simulate device errors.
	FailOpen      error
	FailNewSource error
	FailResume    error
}

// NewMockDevice returns a fresh mock device.
func NewMockDevice() *MockDevice {
	return &MockDevice{}
}

// Open records the requested format.
func (d *MockDevice) Open(sampleRate, channels int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailOpen != nil {
		return d.FailOpen
	}
	d.opened = true
	d.sampleRate = sampleRate
	d.channels = channels
	return nil
}

// Suspend records the muted state.
func (d *MockDevice) Suspend() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.suspended = true
	return nil
}

// Resume clears the muted state.
func (d *MockDevice) Resume() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailResume != nil {
		return d.FailResume
	}
	d.suspended = false
	return nil
}

// NewSource returns a MockSource remembering the scheduled PCM.
func (d *MockDevice) NewSource(pcm []byte) (Source, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.FailNewSource != nil {
		return nil, d.FailNewSource
	}
	if !d.opened {
		return nil, ErrDeviceNotOpen
	}
	src := &MockSource{PCM: pcm}
	d.sources = append(d.sources, src)
	return src, nil
}

// Close marks the device closed.
func (d *MockDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Opened reports whether Open succeeded at least once.
func (d *MockDevice) Opened() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opened
}

// Suspended reports the current mute state.
func (d *MockDevice) Suspended() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.suspended
}

// Sources returns every source handed out, in creation order.
func (d *MockDevice) Sources() []*MockSource {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*MockSource, len(d.sources))
	copy(out, d.sources)
	return out
}

// MockSource records playback calls for assertions.
type MockSource struct {
	mu sync.Mutex

	PCM []byte

	playCalls  int
	pauseCalls int
	closed     bool
}

// Play records a play call.
func (s *MockSource) Play() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playCalls++
}

// Pause records a pause call.
func (s *MockSource) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pauseCalls++
}

// Close marks the source closed.
func (s *MockSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// PlayCalls returns how many times Play was called.
func (s *MockSource) PlayCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playCalls
}

// PauseCalls returns how many times Pause was called.
func (s *MockSource) PauseCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pauseCalls
}

// Closed reports whether the source was closed.
func (s *MockSource) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
