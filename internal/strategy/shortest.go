package strategy

import (
	"context"

	"github.com/danmuck/craftctl/internal/dispatch"
	"github.com/danmuck/craftctl/internal/graph"
)

// shortestStrategy favours short, shallow anchors that still have untried
// partners, pairing them with a random shallow sample.
type shortestStrategy struct {
	src       Source
	batch     int
	maxDepth  int
	minLength int
}

func (s *shortestStrategy) Name() string { return AlgorithmShortest }

func (s *shortestStrategy) Next(ctx context.Context) ([]graph.Pair, error) {
	partners, err := s.src.Scan(ctx, graph.Query{
		MaxDepth:        intPtr(s.maxDepth),
		ExcludeSentinel: true,
		Order:           graph.OrderRandom,
		Limit:           s.batch,
	})
	if err != nil {
		return nil, err
	}
	n, err := s.src.Count(ctx, true)
	if err != nil {
		return nil, err
	}
	anchors, err := s.src.Scan(ctx, graph.Query{
		RecipeCountBelow: intPtr(n),
		MinLength:        s.minLength,
		MaxDepth:         intPtr(s.maxDepth),
		ExcludeSentinel:  true,
		Order:            "LENGTH(text), recipe_count",
	})
	if err != nil {
		return nil, err
	}
	if len(anchors) == 0 {
		return nil, ErrExhausted
	}

	limit := s.batch * s.batch
	var out []graph.Pair
	for _, a := range anchors {
		pairs := make([]graph.Pair, len(partners))
		for i, b := range partners {
			pairs[i] = graph.Pair{A: a, B: b}
		}
		fresh, err := untried(ctx, s.src, pairs, limit-len(out))
		if err != nil {
			return nil, err
		}
		out = append(out, fresh...)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *shortestStrategy) Observe(context.Context, dispatch.Report) error { return nil }
