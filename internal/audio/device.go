// Package audio owns the output device and the single active narration
// source, and reports playback completion to the sequencer.
package audio

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/ebitengine/oto/v3"
)

var (
	// ErrDeviceNotOpen indicates a source was requested before the device
	// was opened.
	ErrDeviceNotOpen = errors.New("audio: output device not open")
	// ErrNoSource indicates there is no active source to operate on.
	ErrNoSource = errors.New("audio: no active source")
)

// Source is one scheduled stretch of audio on the device. At most one source
// is active at any time.
type Source interface {
	// Play starts or resumes output.
	Play()
	// Pause halts output without losing position.
	Pause()
	// Close releases the source. Closing twice is safe.
	Close() error
}

// Device is the single output device. It is opened lazily on the first
// user-initiated play and suspended rather than stopped when muting, so
// audibility toggles without losing playback position.
type Device interface {
	// Open readies the device for the given format. Opening an already
	// open device with the same format is a no-op.
	Open(sampleRate, channels int) error
	// Suspend silences the device, keeping source positions intact.
	Suspend() error
	// Resume reverses Suspend.
	Resume() error
	// NewSource schedules 32-bit little-endian float PCM for output.
	NewSource(pcm []byte) (Source, error)
	// Close releases the device.
	Close() error
}

// OtoDevice is the production Device backed by an oto context.
type OtoDevice struct {
	mu         sync.Mutex
	ctx        *oto.Context
	sampleRate int
	channels   int
	suspended  bool
	closed     bool
}

// NewOtoDevice returns an unopened output device.
func NewOtoDevice() *OtoDevice {
	return &OtoDevice{}
}

// Open creates the oto context on first use and waits for it to become
// ready. A mute requested before the device existed is applied here.
func (d *OtoDevice) Open(sampleRate, channels int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return errors.New("audio: output device closed")
	}
	if d.ctx != nil {
		if sampleRate != d.sampleRate || channels != d.channels {
			return fmt.Errorf("audio: device open at %d Hz/%d ch, requested %d Hz/%d ch",
				d.sampleRate, d.channels, sampleRate, channels)
		}
		return nil
	}

	op := &oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatFloat32LE,
	}
	ctx, ready, err := oto.NewContext(op)
	if err != nil {
		return fmt.Errorf("audio: create output device: %w", err)
	}
	<-ready

	d.ctx = ctx
	d.sampleRate = sampleRate
	d.channels = channels

	if d.suspended {
		if err := ctx.Suspend(); err != nil {
			return fmt.Errorf("audio: suspend output device: %w", err)
		}
	}
	return nil
}

// Suspend silences the device. Safe before the device is opened; the state
// is remembered and applied on Open.
func (d *OtoDevice) Suspend() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.suspended = true
	if d.ctx == nil {
		return nil
	}
	if err := d.ctx.Suspend(); err != nil {
		return fmt.Errorf("audio: suspend output device: %w", err)
	}
	return nil
}

// Resume reverses Suspend.
func (d *OtoDevice) Resume() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.suspended = false
	if d.ctx == nil {
		return nil
	}
	if err := d.ctx.Resume(); err != nil {
		return fmt.Errorf("audio: resume output device: %w", err)
	}
	return nil
}

// NewSource creates a player for the given float32 LE PCM. The data is
// copied so the caller may reuse its buffer.
func (d *OtoDevice) NewSource(pcm []byte) (Source, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ctx == nil {
		return nil, ErrDeviceNotOpen
	}

	// The reader's backing slice must stay alive for the whole playback,
	// otherwise oto reads freed memory and the output turns to static.
	data := make([]byte, len(pcm))
	copy(data, pcm)

	return &otoSource{
		player: d.ctx.NewPlayer(bytes.NewReader(data)),
		data:   data,
	}, nil
}

// Close releases the device. oto contexts have no close in v3; dropping the
// reference is the documented teardown.
func (d *OtoDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ctx = nil
	d.closed = true
	return nil
}

type otoSource struct {
	player *oto.Player
	data   []byte
	once   sync.Once
}

func (s *otoSource) Play() {
	s.player.Play()
}

func (s *otoSource) Pause() {
	s.player.Pause()
}

func (s *otoSource) Close() error {
	var err error
	s.once.Do(func() {
		s.player.Pause()
		err = s.player.Close()
		s.data = nil
	})
	return err
}
