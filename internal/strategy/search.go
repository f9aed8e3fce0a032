package strategy

import (
	"context"

	"github.com/danmuck/craftctl/internal/dispatch"
	"github.com/danmuck/craftctl/internal/graph"
	"github.com/rs/zerolog/log"
)

// searchStrategy grows a closed set of elements outward from its targets.
// Every new output joins the set and is paired with every member. Finding a
// missing target restarts the walk from the enlarged initial set.
type searchStrategy struct {
	src     Source
	batch   int
	targets []string
	exclude map[string]struct{}

	started bool
	found   []string
	inFound map[string]struct{}
	initial []string
	missing map[string]struct{}
	queue   []graph.Pair
	last    []graph.Pair
}

func newSearch(src Source, batch int, targets, exclude []string) *searchStrategy {
	return &searchStrategy{
		src:     src,
		batch:   batch,
		targets: targets,
		exclude: set(exclude),
		inFound: make(map[string]struct{}),
		missing: make(map[string]struct{}),
	}
}

func (s *searchStrategy) Name() string { return AlgorithmSearch }

func (s *searchStrategy) start(ctx context.Context) error {
	for _, t := range s.targets {
		ok, err := s.src.ElementExists(ctx, t)
		if err != nil {
			return err
		}
		if !ok {
			log.Warn().Str("element", t).Msg("strategy.search target missing, waiting for discovery")
			s.missing[t] = struct{}{}
			continue
		}
		s.add(t)
	}
	s.initial = append([]string(nil), s.found...)
	s.queue = combinations(s.initial)
	s.started = true
	return nil
}

func (s *searchStrategy) add(text string) {
	s.found = append(s.found, text)
	s.inFound[text] = struct{}{}
}

func (s *searchStrategy) Next(ctx context.Context) ([]graph.Pair, error) {
	if !s.started {
		if err := s.start(ctx); err != nil {
			return nil, err
		}
	}
	if len(s.queue) == 0 {
		return nil, ErrExhausted
	}
	n := min(s.batch, len(s.queue))
	s.last = s.queue[:n:n]
	s.queue = s.queue[n:]
	log.Debug().Int("queue", len(s.queue)).Int("batch", n).Int("found", len(s.found)).Msg("strategy.search next")
	return s.last, nil
}

// Observe reads back the outputs of the last batch, tried now or earlier.
func (s *searchStrategy) Observe(ctx context.Context, _ dispatch.Report) error {
	reset := false
	for _, p := range s.last {
		out, ok, err := s.src.RecipeOutput(ctx, p.A, p.B)
		if err != nil {
			return err
		}
		if !ok || out == graph.Sentinel {
			continue
		}
		if _, seen := s.inFound[out]; seen {
			continue
		}
		if _, skip := s.exclude[out]; skip {
			continue
		}
		if _, want := s.missing[out]; want {
			delete(s.missing, out)
			s.initial = append(s.initial, out)
			log.Info().Str("element", out).Msg("strategy.search found missing target")
			reset = true
		}
		s.add(out)
		for _, x := range s.found {
			s.queue = append(s.queue, graph.Pair{A: out, B: x})
		}
	}
	s.last = nil
	if reset {
		log.Info().Int("initial", len(s.initial)).Msg("strategy.search reset")
		s.queue = combinations(s.initial)
	}
	return nil
}
