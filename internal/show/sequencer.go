// Package show drives scene playback: a deterministic state machine that
// advances through the deck as narration completes and responds to user
// intents from the presentation layer.
package show

import (
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/versecast/versecast/internal/audio"
	"github.com/versecast/versecast/internal/scene"
)

// Phase is the sequencer's top-level state.
type Phase int

const (
	// PhaseIdle means no playback has started.
	PhaseIdle Phase = iota
	// PhasePlaying means a scene is being presented.
	PhasePlaying
	// PhasePaused means playback is suspended at the current scene.
	PhasePaused
	// PhaseEnded means the last scene completed naturally. Absorbing until
	// an explicit play or replay intent.
	PhaseEnded
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePlaying:
		return "playing"
	case PhasePaused:
		return "paused"
	case PhaseEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Snapshot is the complete, consistent view handed to the renderer after
// every transition.
type Snapshot struct {
	Index       int
	TotalScenes int
	Playing     bool
	Muted       bool
	Ended       bool
}

// PlaybackEngine is the slice of the playback engine the sequencer drives.
// The sequencer never touches the device or source directly.
type PlaybackEngine interface {
	Play(sc *scene.Scene) error
	Pause() error
	Resume() error
	Stop() error
	SetMuted(muted bool) error
	OnCompletion(fn func(audio.Completion))
}

// Config holds sequencer settings.
type Config struct {
	// SceneGap is the pause between a natural completion and the next
	// scene. Pacing only, not a failure timeout; user navigation during
	// the gap abandons the pending advance.
	SceneGap time.Duration
}

// DefaultConfig returns the sequencer defaults.
func DefaultConfig() Config {
	return Config{SceneGap: 800 * time.Millisecond}
}

// Sequencer serializes user intents and completion events behind one mutex,
// forming the single cooperative control domain for playback state.
type Sequencer struct {
	mu     sync.Mutex
	engine PlaybackEngine
	cfg    Config

	deck  *scene.Deck
	phase Phase
	index int
	muted bool

	// gapTimer holds the pending auto-advance during the inter-scene gap.
	// nil means no advance is pending; cancelling sets it to nil so a
	// fired-but-not-yet-run timer knows it was abandoned.
	gapTimer *time.Timer

	notify func(Snapshot)
}

// New creates a sequencer driving the given engine.
func New(engine PlaybackEngine, cfg Config) *Sequencer {
	if cfg.SceneGap < 0 {
		cfg.SceneGap = 0
	}
	s := &Sequencer{engine: engine, cfg: cfg}
	engine.OnCompletion(s.onCompletion)
	return s
}

// Notify registers a hook fired after every transition with the fresh
// snapshot. The hook runs with the sequencer lock held and must not call
// back into the sequencer.
func (s *Sequencer) Notify(fn func(Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notify = fn
}

// Initialize installs the deck for a new session and resets playback.
func (s *Sequencer) Initialize(deck *scene.Deck) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cancelGapLocked()
	if err := s.engine.Stop(); err != nil {
		log.Warn("stopping playback for new session", "err", err)
	}
	s.deck = deck
	s.phase = PhaseIdle
	s.index = 0
	s.notifyLocked()
}

// Play starts the show from the beginning, resumes from a pause, or restarts
// after the show ended. A no-op while already playing.
func (s *Sequencer) Play() {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.phase {
	case PhaseIdle, PhaseEnded:
		s.playLocked(0)
	case PhasePaused:
		s.resumeLocked()
	case PhasePlaying:
		// Already playing (or waiting out the inter-scene gap).
	}
}

// Pause suspends playback at the current scene. Redundant pauses are no-ops.
func (s *Sequencer) Pause() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhasePlaying {
		return
	}
	s.cancelGapLocked()
	if err := s.engine.Pause(); err != nil {
		log.Warn("pausing playback", "err", err)
	}
	s.phase = PhasePaused
	s.notifyLocked()
}

// Next moves to the following scene. Only meaningful while playing or
// paused; a no-op at the last scene.
func (s *Sequencer) Next() {
	s.navigate(+1)
}

// Prev moves to the preceding scene. Only meaningful while playing or
// paused; a no-op at the first scene.
func (s *Sequencer) Prev() {
	s.navigate(-1)
}

func (s *Sequencer) navigate(delta int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhasePlaying && s.phase != PhasePaused {
		return
	}
	target := s.index + delta
	if s.deck == nil || target < 0 || target >= s.deck.Len() {
		return
	}
	// Manual navigation abandons any pending auto-advance and, by design,
	// skips the inter-scene gap.
	s.playLocked(target)
}

// SelectScene jumps to scene j from any state. Out-of-range is a no-op, and
// selecting the scene that is already playing does not restart its source.
func (s *Sequencer) SelectScene(j int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.deck == nil || j < 0 || j >= s.deck.Len() {
		return
	}
	if j == s.index && s.phase == PhasePlaying && s.gapTimer == nil {
		return
	}
	s.playLocked(j)
}

// ToggleMute flips audibility by suspending or resuming the output device.
// It never changes the playback position or phase.
func (s *Sequencer) ToggleMute() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.muted = !s.muted
	if err := s.engine.SetMuted(s.muted); err != nil {
		log.Warn("toggling mute", "muted", s.muted, "err", err)
	}
	s.notifyLocked()
}

// Replay restarts the show from scene zero after it has ended, preserving
// the mute setting. From any other state it is a no-op.
func (s *Sequencer) Replay() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhaseEnded {
		return
	}
	s.playLocked(0)
}

// Snapshot returns the current consistent view of the session.
func (s *Sequencer) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Sequencer) snapshotLocked() Snapshot {
	total := 0
	if s.deck != nil {
		total = s.deck.Len()
	}
	return Snapshot{
		Index:       s.index,
		TotalScenes: total,
		Playing:     s.phase == PhasePlaying,
		Muted:       s.muted,
		Ended:       s.phase == PhaseEnded,
	}
}

func (s *Sequencer) notifyLocked() {
	if s.notify != nil {
		s.notify(s.snapshotLocked())
	}
}

// playLocked issues playback of scene i. On a device failure the session
// stays recoverable: Idle if nothing had started yet, otherwise Paused at
// the target scene so the user can retry.
func (s *Sequencer) playLocked(i int) {
	s.cancelGapLocked()

	if s.deck == nil {
		return
	}
	sc, ok := s.deck.At(i)
	if !ok {
		return
	}
	s.index = i
	if err := s.engine.Play(sc); err != nil {
		log.Warn("playback failed, staying paused", "scene", sc.ID(), "err", err)
		if s.phase != PhaseIdle {
			s.phase = PhasePaused
		}
		s.notifyLocked()
		return
	}
	s.phase = PhasePlaying
	s.notifyLocked()
}

// resumeLocked continues a paused scene, re-issuing play only when the
// paused source is gone.
func (s *Sequencer) resumeLocked() {
	err := s.engine.Resume()
	switch {
	case err == nil:
		s.phase = PhasePlaying
		s.notifyLocked()
	case errors.Is(err, audio.ErrNoSource):
		s.playLocked(s.index)
	default:
		log.Warn("resuming playback", "err", err)
		s.notifyLocked()
	}
}

// onCompletion receives tagged completion events from the engine. Only
// natural completions drive transitions; superseded and user-stopped events
// return before any locking, which keeps the engine's synchronous delivery
// re-entrancy safe.
func (s *Sequencer) onCompletion(c audio.Completion) {
	if c.Reason != audio.CompletionNatural {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.phase != PhasePlaying || s.deck == nil {
		return
	}
	if s.index >= s.deck.Len()-1 {
		s.phase = PhaseEnded
		s.notifyLocked()
		return
	}

	// Advance after the pacing gap. The gap applies only to natural
	// completions, never to manual navigation.
	from := s.index
	s.gapTimer = time.AfterFunc(s.cfg.SceneGap, func() {
		s.advanceAfterGap(from)
	})
}

// advanceAfterGap performs the pending auto-advance unless it was abandoned
// by navigation, pause, or a new session in the meantime.
func (s *Sequencer) advanceAfterGap(from int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.gapTimer == nil || s.phase != PhasePlaying || s.index != from {
		return
	}
	s.gapTimer = nil
	s.playLocked(from + 1)
}

func (s *Sequencer) cancelGapLocked() {
	if s.gapTimer != nil {
		s.gapTimer.Stop()
		s.gapTimer = nil
	}
}

// Close tears the session down.
func (s *Sequencer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelGapLocked()
	if err := s.engine.Stop(); err != nil {
		log.Warn("stopping playback on close", "err", err)
	}
	s.deck = nil
	s.phase = PhaseIdle
	s.index = 0
}
