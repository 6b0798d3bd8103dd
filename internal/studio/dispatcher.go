package studio

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/versecast/versecast/internal/scene"
)

// BuildDeck turns analysis drafts into the session's deck. Scene IDs are
// assigned here; the producer never sees them.
func BuildDeck(drafts []Draft) *scene.Deck {
	scenes := make([]*scene.Scene, 0, len(drafts))
	for i, d := range drafts {
		sc := scene.New(fmt.Sprintf("scene-%d", i), d.Text, d.VisualPrompt)
		if d.DurationHint > 0 {
			sc.SetDurationHint(d.DurationHint)
		}
		scenes = append(scenes, sc)
	}
	return scene.NewDeck(scenes)
}

// Dispatcher fans asset generation out across the deck and attaches results
// as they land, in any order. Generation failures are logged and leave the
// scene's optional field empty; the sequencer's timed fallback covers the
// hole.
type Dispatcher struct {
	producer Producer
	cache    *AssetCache
	workers  int
}

// NewDispatcher creates a dispatcher with the given concurrency bound.
func NewDispatcher(producer Producer, workers int) *Dispatcher {
	if workers <= 0 {
		workers = 4
	}
	return &Dispatcher{producer: producer, workers: workers}
}

// WithCache makes the dispatcher consult cache before generating narration
// and store fresh results in it.
func (d *Dispatcher) WithCache(cache *AssetCache) *Dispatcher {
	d.cache = cache
	return d
}

// Run requests narration and a visual for every scene and blocks until all
// requests settle or ctx is cancelled. It never returns a generation error:
// a scene without assets is still presentable.
func (d *Dispatcher) Run(ctx context.Context, deck *scene.Deck) {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)

	for i := 0; i < deck.Len(); i++ {
		sc, ok := deck.At(i)
		if !ok {
			continue
		}
		g.Go(func() error {
			if d.cache != nil {
				if data, ok := d.cache.Narration(sc.Text()); ok {
					deck.AttachNarration(sc.ID(), data)
					log.Debug("narration served from cache", "scene", sc.ID(), "bytes", len(data))
					return nil
				}
			}
			data, err := d.producer.GenerateNarration(ctx, sc.Text())
			if err != nil {
				log.Warn("narration generation failed", "scene", sc.ID(), "err", err)
				return nil
			}
			deck.AttachNarration(sc.ID(), data)
			log.Debug("narration attached", "scene", sc.ID(), "bytes", len(data))
			if d.cache != nil {
				if err := d.cache.PutNarration(sc.Text(), data); err != nil {
					log.Warn("narration cache write failed", "scene", sc.ID(), "err", err)
				}
			}
			return nil
		})
		g.Go(func() error {
			if sc.VisualPrompt() == "" {
				return nil
			}
			ref, err := d.producer.GenerateVisual(ctx, sc.VisualPrompt())
			if err != nil {
				log.Warn("visual generation failed", "scene", sc.ID(), "err", err)
				return nil
			}
			deck.AttachVisual(sc.ID(), ref)
			log.Debug("visual attached", "scene", sc.ID(), "ref", ref)
			return nil
		})
	}

	_ = g.Wait()
}
