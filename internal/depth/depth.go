// Package depth keeps element depths and shortest-path recipes consistent
// with the recipe table.
package depth

import (
	"context"
	"errors"
	"fmt"

	"github.com/danmuck/craftctl/internal/graph"
	"github.com/rs/zerolog/log"
)

// ErrInvariantViolation marks a graph state integration should never produce,
// such as a recipe whose inputs have no depth.
var ErrInvariantViolation = errors.New("depth: invariant violation")

// Recompute rebuilds every depth by layering outward from the primitives,
// then rebuilds the shortest-path table.
func Recompute(ctx context.Context, tx *graph.Tx) error {
	if err := tx.ResetDepths(ctx); err != nil {
		return err
	}
	layers := 0
	for d := 0; ; d++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		outputs, err := tx.LayerOutputs(ctx, d)
		if err != nil {
			return err
		}
		if len(outputs) == 0 {
			break
		}
		for _, out := range outputs {
			if err := tx.LowerDepth(ctx, out, d+1); err != nil {
				return err
			}
		}
		layers++
	}
	if err := RebuildShortestPaths(ctx, tx); err != nil {
		return err
	}
	log.Debug().Int("layers", layers).Msg("depth.Recompute done")
	return nil
}

// RebuildShortestPaths picks, for every output, the recipe with the smallest
// input depth sum among recipes whose inputs are both shallower than the
// output. Equal sums keep the earliest recipe.
func RebuildShortestPaths(ctx context.Context, tx *graph.Tx) error {
	if err := tx.ClearShortestPaths(ctx); err != nil {
		return err
	}
	candidates, err := tx.ShortestPathCandidates(ctx)
	if err != nil {
		return err
	}
	last := ""
	for i, c := range candidates {
		if i > 0 && c.Output == last {
			continue
		}
		last = c.Output
		if err := tx.SetShortestPath(ctx, c.Output, c.Pair()); err != nil {
			return err
		}
	}
	return nil
}

type triple struct {
	a, b, output string
}

// Update re-evaluates output after the recipe a+b=output was integrated and
// pushes any depth decrease through every recipe downstream of it.
func Update(ctx context.Context, tx *graph.Tx, a, b, output string) error {
	work := []triple{{a: a, b: b, output: output}}
	steps := 0
	for len(work) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		cur := work[0]
		work = work[1:]
		steps++

		lowered, err := relax(ctx, tx, cur)
		if err != nil {
			return err
		}
		if !lowered {
			continue
		}
		recipes, err := tx.RecipesUsing(ctx, cur.output)
		if err != nil {
			return err
		}
		for _, r := range recipes {
			work = append(work, triple{a: r.Input1, b: r.Input2, output: r.Output})
		}
	}
	if steps > 1 {
		log.Debug().Str("output", output).Int("steps", steps).Msg("depth.Update propagated")
	}
	return nil
}

// relax applies one recipe to its output and reports whether the output's
// depth decreased.
func relax(ctx context.Context, tx *graph.Tx, t triple) (bool, error) {
	p := graph.Canonical(t.a, t.b)
	d1, err := Known(ctx, tx, p.A)
	if err != nil {
		return false, err
	}
	d2, err := Known(ctx, tx, p.B)
	if err != nil {
		return false, err
	}
	d := max(d1, d2) + 1

	old, known, err := tx.Depth(ctx, t.output)
	if errors.Is(err, graph.ErrElementNotFound) {
		return false, fmt.Errorf("%w: output: %w", ErrInvariantViolation, err)
	}
	if err != nil {
		return false, err
	}

	switch {
	case known && old < d:
		return false, nil
	case known && old == d:
		return false, replaceOnShorterSum(ctx, tx, t.output, p, d1+d2)
	}
	if err := tx.SetDepth(ctx, t.output, d); err != nil {
		return false, err
	}
	if err := tx.SetShortestPath(ctx, t.output, p); err != nil {
		return false, err
	}
	return true, nil
}

func replaceOnShorterSum(ctx context.Context, tx *graph.Tx, output string, p graph.Pair, sum int) error {
	cur, ok, err := tx.ShortestPath(ctx, output)
	if err != nil {
		return err
	}
	if !ok {
		return tx.SetShortestPath(ctx, output, p)
	}
	s1, err := Known(ctx, tx, cur.A)
	if err != nil {
		return err
	}
	s2, err := Known(ctx, tx, cur.B)
	if err != nil {
		return err
	}
	if sum < s1+s2 {
		return tx.SetShortestPath(ctx, output, p)
	}
	return nil
}

// Known returns the depth of text, or ErrInvariantViolation when the element
// is missing or has no depth.
func Known(ctx context.Context, tx *graph.Tx, text string) (int, error) {
	d, known, err := tx.Depth(ctx, text)
	if err != nil {
		if errors.Is(err, graph.ErrElementNotFound) {
			return 0, fmt.Errorf("%w: %w", ErrInvariantViolation, err)
		}
		return 0, err
	}
	if !known {
		return 0, fmt.Errorf("%w: %q has no depth", ErrInvariantViolation, text)
	}
	return d, nil
}
