package show

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/versecast/versecast/internal/audio"
	"github.com/versecast/versecast/internal/pcm"
	"github.com/versecast/versecast/internal/scene"
)

// fakeEngine is a scriptable PlaybackEngine recording every call.
type fakeEngine struct {
	mu      sync.Mutex
	handler func(audio.Completion)

	token       uint64
	playIDs     []string
	pauseCalls  int
	resumeCalls int
	stopCalls   int
	muted       bool

	failPlay   error
	failResume error
}

func (f *fakeEngine) Play(sc *scene.Scene) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPlay != nil {
		return f.failPlay
	}
	f.token++
	f.playIDs = append(f.playIDs, sc.ID())
	return nil
}

func (f *fakeEngine) Pause() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pauseCalls++
	return nil
}

func (f *fakeEngine) Resume() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failResume != nil {
		return f.failResume
	}
	f.resumeCalls++
	return nil
}

func (f *fakeEngine) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	return nil
}

func (f *fakeEngine) SetMuted(muted bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.muted = muted
	return nil
}

func (f *fakeEngine) OnCompletion(fn func(audio.Completion)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = fn
}

// fireNatural simulates the current source completing naturally.
func (f *fakeEngine) fireNatural() {
	f.mu.Lock()
	fn := f.handler
	tok := f.token
	f.mu.Unlock()
	fn(audio.Completion{Token: tok, Reason: audio.CompletionNatural})
}

func (f *fakeEngine) plays() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.playIDs))
	copy(out, f.playIDs)
	return out
}

func testDeck(n int) *scene.Deck {
	var scenes []*scene.Scene
	for i := 0; i < n; i++ {
		scenes = append(scenes, scene.New(fmt.Sprintf("s%d", i), fmt.Sprintf("stanza %d", i), ""))
	}
	return scene.NewDeck(scenes)
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestSequencer_NaturalRunReachesEnded(t *testing.T) {
	engine := &fakeEngine{}
	seq := New(engine, Config{SceneGap: 5 * time.Millisecond})
	seq.Initialize(testDeck(3))

	seq.Play()

	for i := 0; i < 3; i++ {
		snap := seq.Snapshot()
		if !snap.Playing || snap.Index != i {
			t.Fatalf("scene %d: unexpected snapshot %+v", i, snap)
		}
		engine.fireNatural()
		if i < 2 {
			next := i + 1
			eventually(t, func() bool { return seq.Snapshot().Index == next },
				fmt.Sprintf("never advanced to scene %d", next))
		}
	}

	snap := seq.Snapshot()
	if !snap.Ended || snap.Playing {
		t.Fatalf("expected ended snapshot, got %+v", snap)
	}
	if got, want := engine.plays(), []string{"s0", "s1", "s2"}; len(got) != len(want) {
		t.Fatalf("play sequence %v, want %v", got, want)
	} else {
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("play sequence %v, want %v", got, want)
			}
		}
	}
}

func TestSequencer_EndedIsAbsorbing(t *testing.T) {
	engine := &fakeEngine{}
	seq := New(engine, Config{SceneGap: time.Millisecond})
	seq.Initialize(testDeck(1))

	seq.Play()
	engine.fireNatural()
	if snap := seq.Snapshot(); !snap.Ended {
		t.Fatalf("expected ended, got %+v", snap)
	}

	// Completion noise and navigation must not leave Ended.
	engine.fireNatural()
	seq.Next()
	seq.Prev()
	seq.Pause()
	if snap := seq.Snapshot(); !snap.Ended {
		t.Fatalf("ended state not absorbing: %+v", snap)
	}

	// An explicit play intent restarts the show.
	seq.Play()
	snap := seq.Snapshot()
	if !snap.Playing || snap.Index != 0 {
		t.Fatalf("play from ended: %+v", snap)
	}
}

func TestSequencer_GapAbandonedByNavigation(t *testing.T) {
	engine := &fakeEngine{}
	seq := New(engine, Config{SceneGap: 150 * time.Millisecond})
	seq.Initialize(testDeck(4))

	seq.Play()
	engine.fireNatural()

	// Navigate during the gap: the pending auto-advance is abandoned, not
	// raced against the manual one.
	seq.Next()
	if snap := seq.Snapshot(); snap.Index != 1 {
		t.Fatalf("expected index 1 after next, got %+v", snap)
	}

	time.Sleep(300 * time.Millisecond)
	snap := seq.Snapshot()
	if snap.Index != 1 {
		t.Fatalf("abandoned auto-advance still fired: %+v", snap)
	}
	plays := engine.plays()
	if len(plays) != 2 || plays[1] != "s1" {
		t.Fatalf("unexpected play sequence %v", plays)
	}
}

func TestSequencer_GapAbandonedByPause(t *testing.T) {
	engine := &fakeEngine{}
	seq := New(engine, Config{SceneGap: 150 * time.Millisecond})
	seq.Initialize(testDeck(3))

	seq.Play()
	engine.fireNatural()
	seq.Pause()

	time.Sleep(300 * time.Millisecond)
	snap := seq.Snapshot()
	if snap.Playing || snap.Index != 0 {
		t.Fatalf("pause did not abandon the pending advance: %+v", snap)
	}
}

func TestSequencer_SelectSceneClamping(t *testing.T) {
	engine := &fakeEngine{}
	seq := New(engine, Config{SceneGap: time.Millisecond})
	seq.Initialize(testDeck(3))
	seq.Play()

	before := seq.Snapshot()
	seq.SelectScene(-1)
	seq.SelectScene(3)
	seq.SelectScene(99)
	if after := seq.Snapshot(); after != before {
		t.Fatalf("out-of-range select changed state: %+v -> %+v", before, after)
	}

	seq.SelectScene(2)
	if snap := seq.Snapshot(); snap.Index != 2 || !snap.Playing {
		t.Fatalf("select 2: %+v", snap)
	}
}

func TestSequencer_SelectCurrentSceneIsIdempotent(t *testing.T) {
	engine := &fakeEngine{}
	seq := New(engine, Config{SceneGap: time.Millisecond})
	seq.Initialize(testDeck(3))
	seq.Play()

	seq.SelectScene(0)
	seq.SelectScene(0)
	if plays := engine.plays(); len(plays) != 1 {
		t.Fatalf("selecting the playing scene restarted it: %v", plays)
	}
}

func TestSequencer_NavigationBounds(t *testing.T) {
	engine := &fakeEngine{}
	seq := New(engine, Config{SceneGap: time.Millisecond})
	seq.Initialize(testDeck(2))

	// Navigation means nothing before playback starts.
	seq.Next()
	if snap := seq.Snapshot(); snap.Playing || snap.Index != 0 {
		t.Fatalf("next from idle: %+v", snap)
	}

	seq.Play()
	seq.Prev() // already at first scene
	if snap := seq.Snapshot(); snap.Index != 0 {
		t.Fatalf("prev at first scene moved: %+v", snap)
	}
	seq.Next()
	seq.Next() // already at last scene
	if snap := seq.Snapshot(); snap.Index != 1 {
		t.Fatalf("next at last scene moved: %+v", snap)
	}
}

func TestSequencer_ToggleMuteKeepsPosition(t *testing.T) {
	engine := &fakeEngine{}
	seq := New(engine, Config{SceneGap: time.Millisecond})
	seq.Initialize(testDeck(3))
	seq.Play()
	seq.Next()

	before := seq.Snapshot()
	seq.ToggleMute()
	snap := seq.Snapshot()
	if !snap.Muted {
		t.Error("mute flag not set")
	}
	if snap.Index != before.Index || snap.Playing != before.Playing {
		t.Fatalf("mute changed playback state: %+v -> %+v", before, snap)
	}
	if !engine.muted {
		t.Error("engine not muted")
	}

	seq.ToggleMute()
	if seq.Snapshot().Muted {
		t.Error("mute flag not cleared")
	}
}

func TestSequencer_PauseResumeKeepsSource(t *testing.T) {
	engine := &fakeEngine{}
	seq := New(engine, Config{SceneGap: time.Millisecond})
	seq.Initialize(testDeck(3))
	seq.Play()
	seq.Next()

	seq.Pause()
	if snap := seq.Snapshot(); snap.Playing || snap.Index != 1 {
		t.Fatalf("pause: %+v", snap)
	}
	if engine.pauseCalls != 1 {
		t.Fatalf("expected 1 engine pause, got %d", engine.pauseCalls)
	}

	// Resume must reuse the existing source, not re-issue play.
	seq.Play()
	if snap := seq.Snapshot(); !snap.Playing || snap.Index != 1 {
		t.Fatalf("resume: %+v", snap)
	}
	if engine.resumeCalls != 1 {
		t.Fatalf("expected 1 engine resume, got %d", engine.resumeCalls)
	}
	if plays := engine.plays(); len(plays) != 2 {
		t.Fatalf("resume re-issued play: %v", plays)
	}
}

func TestSequencer_ResumeReissuesPlayWhenSourceGone(t *testing.T) {
	engine := &fakeEngine{failResume: audio.ErrNoSource}
	seq := New(engine, Config{SceneGap: time.Millisecond})
	seq.Initialize(testDeck(2))
	seq.Play()
	seq.Pause()

	seq.Play()
	snap := seq.Snapshot()
	if !snap.Playing || snap.Index != 0 {
		t.Fatalf("resume with dead source: %+v", snap)
	}
	if plays := engine.plays(); len(plays) != 2 || plays[1] != "s0" {
		t.Fatalf("expected play re-issued for s0, got %v", plays)
	}
}

func TestSequencer_ReplayPreservesMute(t *testing.T) {
	engine := &fakeEngine{}
	seq := New(engine, Config{SceneGap: time.Millisecond})
	seq.Initialize(testDeck(1))

	seq.Play()
	seq.ToggleMute()
	engine.fireNatural()
	if snap := seq.Snapshot(); !snap.Ended {
		t.Fatalf("expected ended, got %+v", snap)
	}

	seq.Replay()
	snap := seq.Snapshot()
	if !snap.Playing || snap.Index != 0 {
		t.Fatalf("replay: %+v", snap)
	}
	if !snap.Muted {
		t.Error("replay dropped the mute setting")
	}
}

func TestSequencer_ReplayOnlyFromEnded(t *testing.T) {
	engine := &fakeEngine{}
	seq := New(engine, Config{SceneGap: time.Millisecond})
	seq.Initialize(testDeck(3))
	seq.Play()
	seq.Next()

	seq.Replay()
	if snap := seq.Snapshot(); snap.Index != 1 {
		t.Fatalf("replay mid-show restarted playback: %+v", snap)
	}
}

func TestSequencer_PlayFailureStaysRecoverable(t *testing.T) {
	engine := &fakeEngine{failPlay: errors.New("device unavailable")}
	seq := New(engine, Config{SceneGap: time.Millisecond})
	seq.Initialize(testDeck(2))

	seq.Play()
	if snap := seq.Snapshot(); snap.Playing || snap.Ended {
		t.Fatalf("failed play should not report playing: %+v", snap)
	}

	// The user retries once the device recovers.
	engine.mu.Lock()
	engine.failPlay = nil
	engine.mu.Unlock()
	seq.Play()
	if snap := seq.Snapshot(); !snap.Playing || snap.Index != 0 {
		t.Fatalf("retry after device recovery: %+v", snap)
	}
}

func TestSequencer_PlayWithoutScenes(t *testing.T) {
	engine := &fakeEngine{}
	seq := New(engine, Config{SceneGap: time.Millisecond})

	seq.Play() // no deck at all
	if snap := seq.Snapshot(); snap.Playing {
		t.Fatalf("play without deck: %+v", snap)
	}

	seq.Initialize(scene.NewDeck(nil))
	seq.Play()
	if snap := seq.Snapshot(); snap.Playing {
		t.Fatalf("play with empty deck: %+v", snap)
	}
}

// TestSequencer_MixedNarrationRun drives a real engine on a mock device:
// three scenes where narration exists for scenes 0 and 2 but not scene 1,
// which advances via the timed fallback.
func TestSequencer_MixedNarrationRun(t *testing.T) {
	device := audio.NewMockDevice()
	cfg := audio.DefaultConfig()
	cfg.FallbackDelay = 20 * time.Millisecond
	engine := audio.NewEngine(device, cfg)
	seq := New(engine, Config{SceneGap: 5 * time.Millisecond})

	short := make([]byte, 2*pcm.DefaultSampleRate/50) // 20ms of s16le mono
	s0 := scene.New("s0", "first", "")
	s0.SetNarration(short)
	s1 := scene.New("s1", "second", "") // no narration
	s2 := scene.New("s2", "third", "")
	s2.SetNarration(short)
	seq.Initialize(scene.NewDeck([]*scene.Scene{s0, s1, s2}))

	seq.Play()
	if snap := seq.Snapshot(); !snap.Playing || snap.Index != 0 {
		t.Fatalf("start: %+v", snap)
	}

	eventually(t, func() bool { return seq.Snapshot().Ended },
		"show never reached the ended state")

	// Only the two narrated scenes touched the device.
	if got := len(device.Sources()); got != 2 {
		t.Errorf("expected 2 device sources, got %d", got)
	}
}
