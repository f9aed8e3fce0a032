package dispatch

import (
	"context"

	"github.com/danmuck/craftctl/internal/depth"
	"github.com/danmuck/craftctl/internal/graph"
	"github.com/danmuck/craftctl/internal/observability"
	"github.com/danmuck/craftctl/internal/oracle"
	"github.com/rs/zerolog/log"
)

// Outcome is one successful oracle call waiting to be integrated.
type Outcome struct {
	Pair   graph.Pair
	Result oracle.Result
}

// Integration describes what one outcome changed in the store.
type Integration struct {
	Recipe graph.Recipe
	// Known is set when the pair was already recorded; nothing changed.
	Known          bool
	NewElement     bool
	FirstDiscovery bool
}

// Integrator writes oracle outcomes into the store one transaction at a time.
type Integrator struct {
	store *graph.Store
}

func NewIntegrator(store *graph.Store) *Integrator {
	return &Integrator{store: store}
}

// Integrate records o. Integrating the same pair twice is a no-op.
func (in *Integrator) Integrate(ctx context.Context, o Outcome) (Integration, error) {
	p := graph.Canonical(o.Pair.A, o.Pair.B)
	out := graph.Normalize(o.Result.Output)
	it := Integration{Recipe: graph.Recipe{Input1: p.A, Input2: p.B, Output: out}}

	err := in.store.Update(ctx, func(tx *graph.Tx) error {
		inserted, err := tx.InsertRecipe(ctx, it.Recipe)
		if err != nil {
			return err
		}
		if !inserted {
			it.Known = true
			return nil
		}
		if err := tx.IncrementRecipeCount(ctx, p.A, p.B); err != nil {
			return err
		}
		exists, err := tx.ElementExists(ctx, out)
		if err != nil {
			return err
		}
		if !exists {
			it.NewElement = true
			it.FirstDiscovery = o.Result.IsNew
			return insertDiscovery(ctx, tx, p, out, o.Result)
		}
		return recordRepeat(ctx, tx, p, out)
	})
	if err != nil {
		return Integration{}, err
	}

	switch {
	case it.Known:
		observability.RecordIntegration("known")
	case it.FirstDiscovery:
		observability.RecordIntegration("first_discovery")
		log.Info().Str("a", p.A).Str("b", p.B).Str("output", out).Str("glyph", o.Result.Glyph).
			Msg("dispatch.Integrator first discovery")
	case it.NewElement:
		observability.RecordIntegration("new_element")
		log.Info().Str("a", p.A).Str("b", p.B).Str("output", out).Str("glyph", o.Result.Glyph).
			Msg("dispatch.Integrator new element")
	default:
		observability.RecordIntegration("repeat")
		log.Debug().Str("a", p.A).Str("b", p.B).Str("output", out).Msg("dispatch.Integrator recipe")
	}
	return it, nil
}

func insertDiscovery(ctx context.Context, tx *graph.Tx, p graph.Pair, out string, res oracle.Result) error {
	d1, err := depth.Known(ctx, tx, p.A)
	if err != nil {
		return err
	}
	d2, err := depth.Known(ctx, tx, p.B)
	if err != nil {
		return err
	}
	d := max(d1, d2) + 1
	el := graph.Element{
		Text:            out,
		Glyph:           res.Glyph,
		FirstDiscovered: res.IsNew,
		Depth:           &d,
	}
	if counted(out) {
		if err := forEachInput(p, func(text string) error { return tx.IncrementYield(ctx, text) }); err != nil {
			return err
		}
		el.Freq = 1
	}
	if _, err := tx.InsertElement(ctx, el); err != nil {
		return err
	}
	return tx.SetShortestPath(ctx, out, p)
}

func recordRepeat(ctx context.Context, tx *graph.Tx, p graph.Pair, out string) error {
	if !counted(out) {
		return depth.Update(ctx, tx, p.A, p.B, out)
	}
	if !p.Contains(out) {
		if err := tx.IncrementFreq(ctx, out); err != nil {
			return err
		}
	}
	err := forEachInput(p, func(text string) error {
		n, err := tx.CountRecipesProducing(ctx, text, out)
		if err != nil {
			return err
		}
		if n == 1 {
			return tx.IncrementYield(ctx, text)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return depth.Update(ctx, tx, p.A, p.B, out)
}

// counted reports whether out contributes to yield and freq. The sentinel
// never does, matching depth.Recount.
func counted(out string) bool {
	return out != graph.Sentinel
}

// forEachInput visits each distinct input of p once.
func forEachInput(p graph.Pair, fn func(string) error) error {
	if err := fn(p.A); err != nil {
		return err
	}
	if p.B == p.A {
		return nil
	}
	return fn(p.B)
}
