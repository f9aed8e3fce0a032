package strategy

import (
	"context"
	"math/rand"
	"sort"

	"github.com/danmuck/craftctl/internal/dispatch"
	"github.com/danmuck/craftctl/internal/graph"
	"github.com/rs/zerolog/log"
)

// denseRatio is the recipe_count/n share past which random partner draws
// mostly hit tried pairs and partners are enumerated instead.
const denseRatio = 0.7

// greedyStrategy ranks anchors by one statistic and pairs each anchor with
// untried partners, one anchor per batch.
type greedyStrategy struct {
	src       Source
	algorithm string
	batch     int
	rng       *rand.Rand

	queue []graph.Element
}

func newGreedy(src Source, algorithm string, batch int, rng *rand.Rand) *greedyStrategy {
	return &greedyStrategy{src: src, algorithm: algorithm, batch: batch, rng: rng}
}

func (s *greedyStrategy) Name() string { return s.algorithm }

func (s *greedyStrategy) Next(ctx context.Context) ([]graph.Pair, error) {
	n, err := s.src.Count(ctx, true)
	if err != nil {
		return nil, err
	}
	if len(s.queue) == 0 {
		if s.queue, err = s.rank(ctx, n); err != nil {
			return nil, err
		}
		if len(s.queue) == 0 {
			return nil, ErrExhausted
		}
	}
	anchor := s.queue[0]
	s.queue = s.queue[1:]

	log.Debug().
		Str("algorithm", s.algorithm).
		Str("anchor", anchor.Text).
		Int("recipe_count", anchor.RecipeCount).
		Int("elements", n).
		Msg("strategy.greedy anchor")

	if float64(anchor.RecipeCount)/float64(n) < denseRatio {
		return s.randomPartners(ctx, anchor.Text)
	}
	return s.remainingPartners(ctx, anchor.Text)
}

// rank returns the anchors for the next round, best first.
func (s *greedyStrategy) rank(ctx context.Context, n int) ([]graph.Element, error) {
	q := graph.Query{ExcludeSentinel: true, RecipeCountBelow: intPtr(n)}
	switch s.algorithm {
	case AlgorithmMaxFreq:
		q.Order = "freq DESC"
		q.Limit = s.batch
		return s.src.Elements(ctx, q)
	case AlgorithmMinUses:
		q.Order = "recipe_count ASC, text"
		elems, err := s.src.Elements(ctx, q)
		if err != nil || len(elems) == 0 {
			return nil, err
		}
		low := elems[0].RecipeCount
		end := sort.Search(len(elems), func(i int) bool { return elems[i].RecipeCount > low })
		return elems[:end], nil
	default:
		elems, err := s.src.Elements(ctx, q)
		if err != nil {
			return nil, err
		}
		score := func(e graph.Element) float64 { return float64(e.Yield) / float64(e.RecipeCount+1) }
		sort.SliceStable(elems, func(i, j int) bool { return score(elems[i]) > score(elems[j]) })
		if len(elems) > s.batch {
			elems = elems[:s.batch]
		}
		return elems, nil
	}
}

func (s *greedyStrategy) randomPartners(ctx context.Context, anchor string) ([]graph.Pair, error) {
	draws, err := s.src.Scan(ctx, graph.Query{
		ExcludeSentinel: true,
		Order:           graph.OrderRandom,
		Limit:           s.batch * 10,
	})
	if err != nil {
		return nil, err
	}
	pairs := make([]graph.Pair, len(draws))
	for i, b := range draws {
		pairs[i] = graph.Pair{A: anchor, B: b}
	}
	return untried(ctx, s.src, pairs, s.batch)
}

func (s *greedyStrategy) remainingPartners(ctx context.Context, anchor string) ([]graph.Pair, error) {
	all, err := s.src.Scan(ctx, graph.Query{ExcludeSentinel: true})
	if err != nil {
		return nil, err
	}
	used, err := s.src.Partners(ctx, anchor)
	if err != nil {
		return nil, err
	}
	skip := set(used)
	var free []string
	for _, b := range all {
		if _, ok := skip[b]; !ok {
			free = append(free, b)
		}
	}
	s.rng.Shuffle(len(free), func(i, j int) { free[i], free[j] = free[j], free[i] })
	if len(free) > s.batch {
		free = free[:s.batch]
	}
	pairs := make([]graph.Pair, len(free))
	for i, b := range free {
		pairs[i] = graph.Pair{A: anchor, B: b}
	}
	return pairs, nil
}

func (s *greedyStrategy) Observe(context.Context, dispatch.Report) error { return nil }
