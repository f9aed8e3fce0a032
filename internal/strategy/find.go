package strategy

import (
	"context"
	"math"
	"sort"

	"github.com/danmuck/craftctl/internal/dispatch"
	"github.com/danmuck/craftctl/internal/graph"
	"github.com/danmuck/craftctl/internal/similarity"
	"github.com/rs/zerolog/log"
)

// findStrategy combines the elements most similar to the targets, widening
// its pool every time a batch yields nothing outside the target set.
type findStrategy struct {
	src     Source
	sim     similarity.Similarity
	step    int
	size    int
	targets []string
	inTarg  map[string]struct{}
}

func newFind(src Source, sim similarity.Similarity, batch int, targets []string) *findStrategy {
	return &findStrategy{
		src:     src,
		sim:     sim,
		step:    max(1, batch/2),
		size:    batch,
		targets: targets,
		inTarg:  set(targets),
	}
}

func (s *findStrategy) Name() string { return AlgorithmFind }

func (s *findStrategy) Next(ctx context.Context) ([]graph.Pair, error) {
	all, err := s.src.Scan(ctx, graph.Query{ExcludeSentinel: true})
	if err != nil {
		return nil, err
	}
	candidates := make([]string, 0, len(all))
	for _, e := range all {
		if _, ok := s.inTarg[e]; !ok {
			candidates = append(candidates, e)
		}
	}
	if w, ok := s.sim.(similarity.Warmer); ok {
		if err := w.Warm(ctx, append(append([]string(nil), candidates...), s.targets...)); err != nil {
			return nil, err
		}
	}

	ranked := make([]scoredText, 0, len(candidates))
	for _, c := range candidates {
		best := math.Inf(-1)
		for _, t := range s.targets {
			v, err := s.sim.Similarity(ctx, c, t)
			if err != nil {
				return nil, err
			}
			best = math.Max(best, v)
		}
		ranked = append(ranked, scoredText{text: c, score: best})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if len(ranked) > s.size {
		ranked = ranked[:s.size]
	}
	top := make([]string, len(ranked))
	for i, r := range ranked {
		top[i] = r.text
	}
	log.Debug().Strs("targets", s.targets).Strs("top", top).Msg("strategy.find next")
	return combinations(top), nil
}

// Observe grows the pool when the batch produced nothing new.
func (s *findStrategy) Observe(_ context.Context, rep dispatch.Report) error {
	for _, r := range rep.Outputs {
		if _, ok := s.inTarg[r.Output]; !ok {
			return nil
		}
	}
	s.size += s.step
	log.Info().Int("size", s.size).Msg("strategy.find dead end, widening")
	return nil
}

type scoredText struct {
	text  string
	score float64
}
