package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/versecast/versecast/internal/pcm"
	"github.com/versecast/versecast/internal/scene"
)

// CompletionReason tells the completion handler why a source stopped.
type CompletionReason int

const (
	// CompletionNatural means the source played to its end.
	CompletionNatural CompletionReason = iota
	// CompletionSuperseded means a newer source replaced this one.
	CompletionSuperseded
	// CompletionUserStopped means the user halted playback.
	CompletionUserStopped
)

// String returns the reason name.
func (r CompletionReason) String() string {
	switch r {
	case CompletionNatural:
		return "natural"
	case CompletionSuperseded:
		return "superseded"
	case CompletionUserStopped:
		return "user-stopped"
	default:
		return "unknown"
	}
}

// Completion is delivered to the handler when a source stops. Token is the
// generation token the source was armed with; only a completion whose token
// still matches the engine's current token can be natural.
type Completion struct {
	Token  uint64
	Reason CompletionReason
}

// Config holds the playback engine configuration.
type Config struct {
	// SampleRate and Channels describe the narration PCM format.
	SampleRate int
	Channels   int
	// FallbackDelay is the scene length used when narration is missing or
	// undecodable, so the pipeline advances instead of stalling.
	FallbackDelay time.Duration
}

// DefaultConfig returns the engine defaults for producer-delivered
// narration: 16-bit mono at 24 kHz, and a short timed advance for scenes
// without audio.
func DefaultConfig() Config {
	return Config{
		SampleRate:    pcm.DefaultSampleRate,
		Channels:      pcm.DefaultChannels,
		FallbackDelay: 3 * time.Second,
	}
}

// Engine owns the output device and exactly one active source. Every Play
// bumps a monotonically increasing generation token; completion events carry
// the token they were armed with and are discarded when it no longer matches,
// which is what makes a stale completion from a superseded source inert.
type Engine struct {
	mu     sync.Mutex
	device Device
	cfg    Config
	token  uint64
	src    *activeSource
	onDone func(Completion)
}

// activeSource pairs the device source with its completion timer. source is
// nil when the scene has no playable narration and only the timer runs.
type activeSource struct {
	source    Source
	timer     *time.Timer
	token     uint64
	startedAt time.Time
	remaining time.Duration
	paused    bool
}

// NewEngine creates a playback engine on the given device.
func NewEngine(device Device, cfg Config) *Engine {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = pcm.DefaultSampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = pcm.DefaultChannels
	}
	if cfg.FallbackDelay <= 0 {
		cfg.FallbackDelay = DefaultConfig().FallbackDelay
	}
	return &Engine{device: device, cfg: cfg}
}

// OnCompletion registers the completion handler. Non-natural completions may
// be delivered synchronously from inside Play or Stop, so the handler must
// inspect the reason before taking any locks of its own.
func (e *Engine) OnCompletion(fn func(Completion)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onDone = fn
}

// Play schedules the scene's narration for immediate output, replacing any
// in-flight source. If the scene has no narration, or decoding fails, a
// fixed-duration completion is armed instead so the state machine still
// advances. A device failure is returned to the caller and leaves nothing
// playing; the caller may retry.
func (e *Engine) Play(sc *scene.Scene) error {
	e.mu.Lock()

	e.token++
	tok := e.token
	e.detachLocked(CompletionSuperseded)

	var (
		src Source
		d   time.Duration
	)
	if data, ok := sc.Narration(); ok {
		buf, err := pcm.Decode(data, e.cfg.SampleRate, e.cfg.Channels)
		if err != nil {
			log.Warn("narration undecodable, falling back to timed advance",
				"scene", sc.ID(), "err", err)
		} else {
			if err := e.device.Open(buf.SampleRate, buf.Channels); err != nil {
				e.mu.Unlock()
				return fmt.Errorf("play scene %s: %w", sc.ID(), err)
			}
			s, err := e.device.NewSource(buf.Bytes())
			if err != nil {
				e.mu.Unlock()
				return fmt.Errorf("play scene %s: %w", sc.ID(), err)
			}
			src = s
			d = buf.Duration()
		}
	}
	if src == nil {
		if hint, ok := sc.DurationHint(); ok {
			d = hint
		} else {
			d = e.cfg.FallbackDelay
		}
	}

	as := &activeSource{
		source:    src,
		token:     tok,
		startedAt: time.Now(),
		remaining: d,
	}
	as.timer = time.AfterFunc(d, func() { e.complete(tok) })
	e.src = as
	e.mu.Unlock()

	if src != nil {
		src.Play()
	}
	return nil
}

// Pause suspends the active source and its completion timer. Idempotent.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.src == nil || e.src.paused {
		return nil
	}
	e.src.timer.Stop()
	elapsed := time.Since(e.src.startedAt)
	if e.src.remaining -= elapsed; e.src.remaining < 0 {
		e.src.remaining = 0
	}
	if e.src.source != nil {
		e.src.source.Pause()
	}
	e.src.paused = true
	return nil
}

// Resume continues a paused source, re-arming its completion with the
// remaining time. ErrNoSource tells the caller the source is gone and play
// must be re-issued.
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.src == nil {
		return ErrNoSource
	}
	if !e.src.paused {
		return nil
	}
	if e.src.source != nil {
		e.src.source.Play()
	}
	tok := e.src.token
	e.src.startedAt = time.Now()
	e.src.paused = false
	e.src.timer = time.AfterFunc(e.src.remaining, func() { e.complete(tok) })
	return nil
}

// Stop detaches the completion handler and halts the current source.
// Idempotent when nothing is playing.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.detachLocked(CompletionUserStopped)
	return nil
}

// SetMuted suspends or resumes the output device itself rather than the
// source, so audibility toggles without losing playback position.
func (e *Engine) SetMuted(muted bool) error {
	if muted {
		return e.device.Suspend()
	}
	return e.device.Resume()
}

// Active reports whether a source (or fallback timer) is armed.
func (e *Engine) Active() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.src != nil
}

// Close stops playback and releases the device.
func (e *Engine) Close() error {
	if err := e.Stop(); err != nil {
		return err
	}
	return e.device.Close()
}

// detachLocked disarms the current source so its completion can never be
// taken for the current one, then reports the tagged reason. The handler
// contract (see OnCompletion) keeps this re-entrancy safe.
func (e *Engine) detachLocked(reason CompletionReason) {
	if e.src == nil {
		return
	}
	src := e.src
	e.src = nil
	src.timer.Stop()
	if src.source != nil {
		if err := src.source.Close(); err != nil {
			log.Debug("closing superseded source", "err", err)
		}
	}
	if e.onDone != nil {
		e.onDone(Completion{Token: src.token, Reason: reason})
	}
}

// complete fires when a source's timer elapses. The token embedded at
// schedule time is compared against the current one; a mismatch means the
// source was superseded and the event is discarded. This guard is what
// prevents a stale completion from causing a double advance.
func (e *Engine) complete(tok uint64) {
	e.mu.Lock()
	if e.src == nil || e.src.token != tok || tok != e.token {
		e.mu.Unlock()
		log.Debug("discarding stale completion", "token", tok)
		return
	}
	if e.src.paused {
		// Pause won the race against the timer; the re-armed timer will
		// deliver completion after resume.
		e.mu.Unlock()
		return
	}
	src := e.src
	e.src = nil
	onDone := e.onDone
	e.mu.Unlock()

	if src.source != nil {
		if err := src.source.Close(); err != nil {
			log.Debug("closing completed source", "err", err)
		}
	}
	if onDone != nil {
		onDone(Completion{Token: tok, Reason: CompletionNatural})
	}
}
