// Package scene models the deck of narrated, illustrated poem segments.
package scene

import (
	"sync"
	"time"
)

// Scene is one narrated, illustrated segment of the poem. Text and visual
// prompt are fixed when poem analysis completes; narration and the visual
// asset reference are filled in asynchronously as generation finishes.
// Scenes are never deleted during a session.
type Scene struct {
	id           string
	text         string
	visualPrompt string

	mu           sync.RWMutex
	narration    []byte
	visualRef    string
	hasVisual    bool
	durationHint time.Duration
	hasHint      bool
}

// New creates a scene from its immutable analysis output.
func New(id, text, visualPrompt string) *Scene {
	return &Scene{
		id:           id,
		text:         text,
		visualPrompt: visualPrompt,
	}
}

// ID returns the scene identity.
func (s *Scene) ID() string { return s.id }

// Text returns the original poem text for this scene.
func (s *Scene) Text() string { return s.text }

// VisualPrompt returns the prompt the illustration was generated from.
func (s *Scene) VisualPrompt() string { return s.visualPrompt }

// Narration returns the raw narration PCM, if it has arrived.
func (s *Scene) Narration() ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.narration, len(s.narration) > 0
}

// SetNarration stores narration bytes. Narration arriving after the scene has
// been displayed is picked up on the next play of the scene; it never forces
// a restart.
func (s *Scene) SetNarration(data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.narration = data
}

// VisualRef returns the opaque visual asset reference, if it has arrived.
func (s *Scene) VisualRef() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.visualRef, s.hasVisual
}

// SetVisualRef stores the visual asset reference.
func (s *Scene) SetVisualRef(ref string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visualRef = ref
	s.hasVisual = true
}

// DurationHint returns the producer's display-time hint, if any. It is used
// as the scene length when no narration is available.
func (s *Scene) DurationHint() (time.Duration, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.durationHint, s.hasHint
}

// SetDurationHint stores the display-time hint.
func (s *Scene) SetDurationHint(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.durationHint = d
	s.hasHint = d > 0
}

// Deck is the ordered scene collection for one session. Assets attach by
// scene ID, asynchronously and in any order.
type Deck struct {
	mu     sync.RWMutex
	scenes []*Scene
	byID   map[string]*Scene
}

// NewDeck builds a deck from ordered scenes.
func NewDeck(scenes []*Scene) *Deck {
	byID := make(map[string]*Scene, len(scenes))
	for _, sc := range scenes {
		byID[sc.ID()] = sc
	}
	return &Deck{scenes: scenes, byID: byID}
}

// Len returns the number of scenes.
func (d *Deck) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.scenes)
}

// At returns the scene at index i.
func (d *Deck) At(i int) (*Scene, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if i < 0 || i >= len(d.scenes) {
		return nil, false
	}
	return d.scenes[i], true
}

// AttachNarration stores narration PCM for the identified scene. Unknown IDs
// are ignored.
func (d *Deck) AttachNarration(id string, data []byte) bool {
	d.mu.RLock()
	sc, ok := d.byID[id]
	d.mu.RUnlock()
	if !ok {
		return false
	}
	sc.SetNarration(data)
	return true
}

// AttachVisual stores the visual asset reference for the identified scene.
func (d *Deck) AttachVisual(id, ref string) bool {
	d.mu.RLock()
	sc, ok := d.byID[id]
	d.mu.RUnlock()
	if !ok {
		return false
	}
	sc.SetVisualRef(ref)
	return true
}
