package depth

import (
	"context"
	"time"

	"github.com/danmuck/craftctl/internal/graph"
	"github.com/rs/zerolog/log"
)

// Recount rebuilds recipe_count, freq and yield from the recipe table.
func Recount(ctx context.Context, tx *graph.Tx) error {
	recipes, err := tx.AllRecipes(ctx)
	if err != nil {
		return err
	}
	var (
		recipeCount = make(map[string]int)
		freq        = make(map[string]int)
		products    = make(map[string]map[string]struct{})
	)
	addProduct := func(input, output string) {
		set, ok := products[input]
		if !ok {
			set = make(map[string]struct{})
			products[input] = set
		}
		set[output] = struct{}{}
	}
	for _, r := range recipes {
		recipeCount[r.Input1]++
		if r.Input2 != r.Input1 {
			recipeCount[r.Input2]++
		}
		if r.Output == graph.Sentinel {
			continue
		}
		addProduct(r.Input1, r.Output)
		addProduct(r.Input2, r.Output)
		if !r.Pair().Contains(r.Output) {
			freq[r.Output]++
		}
	}
	yield := make(map[string]int, len(products))
	for text, set := range products {
		yield[text] = len(set)
	}
	return tx.SetCounters(ctx, yield, recipeCount, freq)
}

// Options selects the passes Maintain runs.
type Options struct {
	// PurgeSentinel deletes recipes with the sentinel as an input.
	PurgeSentinel bool
	// PurgeSentinelOutputs also deletes recipes producing the sentinel.
	PurgeSentinelOutputs bool
	Recompute            bool
	Recount              bool
}

type Summary struct {
	Purged   int64
	Duration time.Duration
}

// Maintain runs the selected passes in one transaction. Purges run first so
// the recompute and recount see the trimmed recipe table.
func Maintain(ctx context.Context, store *graph.Store, opts Options) (Summary, error) {
	start := time.Now()
	var sum Summary
	err := store.Update(ctx, func(tx *graph.Tx) error {
		if opts.PurgeSentinel || opts.PurgeSentinelOutputs {
			n, err := tx.PurgeSentinel(ctx, opts.PurgeSentinelOutputs)
			if err != nil {
				return err
			}
			sum.Purged = n
		}
		if opts.Recompute {
			if err := Recompute(ctx, tx); err != nil {
				return err
			}
		}
		if opts.Recount {
			if err := Recount(ctx, tx); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Summary{}, err
	}
	sum.Duration = time.Since(start)
	log.Info().
		Int64("purged", sum.Purged).
		Bool("recompute", opts.Recompute).
		Bool("recount", opts.Recount).
		Dur("took", sum.Duration).
		Msg("depth.Maintain done")
	return sum, nil
}
