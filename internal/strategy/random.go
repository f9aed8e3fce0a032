package strategy

import (
	"context"
	"math"
	"math/rand"

	"github.com/danmuck/craftctl/internal/dispatch"
	"github.com/danmuck/craftctl/internal/graph"
)

// randomStrategy draws batch elements uniformly and proposes their untried combinations.
type randomStrategy struct {
	src   Source
	batch int
}

func (s *randomStrategy) Name() string { return AlgorithmRandom }

func (s *randomStrategy) Next(ctx context.Context) ([]graph.Pair, error) {
	picked, err := s.src.Scan(ctx, graph.Query{
		ExcludeSentinel: true,
		Order:           graph.OrderRandom,
		Limit:           s.batch,
	})
	if err != nil {
		return nil, err
	}
	return untried(ctx, s.src, combinations(picked), 0)
}

func (s *randomStrategy) Observe(context.Context, dispatch.Report) error { return nil }

// weightedStrategy samples batch elements without replacement, each weighted
// by a numeric column, and proposes their untried combinations.
type weightedStrategy struct {
	src    Source
	batch  int
	key    graph.Column
	invert bool
	rng    *rand.Rand
}

func (s *weightedStrategy) Name() string { return AlgorithmWeightedRandom }

func (s *weightedStrategy) Next(ctx context.Context) ([]graph.Pair, error) {
	elems, err := s.src.Elements(ctx, graph.Query{
		ExcludeSentinel: true,
		Order:           "depth",
	})
	if err != nil {
		return nil, err
	}
	if len(elems) == 0 {
		return nil, nil
	}
	weights := elementWeights(elems, s.key, s.invert)
	idx := weightedSample(s.rng, weights, min(s.batch, len(elems)))
	picked := make([]string, len(idx))
	for i, j := range idx {
		picked[i] = elems[j].Text
	}
	return untried(ctx, s.src, combinations(picked), 0)
}

func (s *weightedStrategy) Observe(context.Context, dispatch.Report) error { return nil }

// elementWeights returns normalised weights. The yield key scores
// (yield/(recipe_count+1))^4; unreachable depths weigh as 0.
func elementWeights(elems []graph.Element, key graph.Column, invert bool) []float64 {
	w := make([]float64, len(elems))
	for i, e := range elems {
		switch key {
		case graph.ColumnYield:
			w[i] = math.Pow(float64(e.Yield)/float64(e.RecipeCount+1), 4)
		case graph.ColumnRecipeCount:
			w[i] = float64(e.RecipeCount)
		case graph.ColumnFreq:
			w[i] = float64(e.Freq)
		default:
			if e.Depth != nil {
				w[i] = float64(*e.Depth)
			}
		}
	}
	normalize(w)
	if invert {
		eps := 1e-6 / float64(len(w))
		for i := range w {
			w[i] = 1 / (w[i] + eps)
		}
		normalize(w)
	}
	return w
}

// normalize scales w to sum to 1, or leaves it untouched when the sum is 0.
func normalize(w []float64) {
	var sum float64
	for _, v := range w {
		sum += v
	}
	if sum <= 0 {
		return
	}
	for i := range w {
		w[i] /= sum
	}
}

// weightedSample draws k distinct indexes. Once the remaining weight is
// exhausted the rest are drawn uniformly.
func weightedSample(rng *rand.Rand, weights []float64, k int) []int {
	n := len(weights)
	remaining := make([]int, n)
	for i := range remaining {
		remaining[i] = i
	}
	out := make([]int, 0, k)
	for len(out) < k && len(remaining) > 0 {
		var total float64
		for _, i := range remaining {
			total += weights[i]
		}
		pos := 0
		if total > 0 {
			r := rng.Float64() * total
			pos = len(remaining) - 1
			for p, i := range remaining {
				r -= weights[i]
				if r < 0 {
					pos = p
					break
				}
			}
		} else {
			pos = rng.Intn(len(remaining))
		}
		out = append(out, remaining[pos])
		remaining = append(remaining[:pos], remaining[pos+1:]...)
	}
	return out
}
