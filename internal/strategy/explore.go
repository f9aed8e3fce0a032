package strategy

import (
	"context"

	"github.com/danmuck/craftctl/internal/dispatch"
	"github.com/danmuck/craftctl/internal/graph"
	"github.com/rs/zerolog/log"
)

// exploreStrategy pairs a fixed anchor set with every element once, in key order.
type exploreStrategy struct {
	src     Source
	batch   int
	key     graph.Column
	targets []string

	started    bool
	anchors    []string
	population []string
	pos        int
}

func newExplore(src Source, batch int, key graph.Column, targets []string) *exploreStrategy {
	return &exploreStrategy{src: src, batch: batch, key: key, targets: targets}
}

func (s *exploreStrategy) Name() string { return AlgorithmExplore }

func (s *exploreStrategy) start(ctx context.Context) error {
	var err error
	s.population, err = s.src.Scan(ctx, graph.Query{
		ExcludeSentinel: true,
		Order:           graph.Order(s.key),
	})
	if err != nil {
		return err
	}
	for _, t := range s.targets {
		ok, err := s.src.ElementExists(ctx, t)
		if err != nil {
			return err
		}
		if !ok {
			log.Warn().Str("element", t).Msg("strategy.explore anchor missing, skipping")
			continue
		}
		s.anchors = append(s.anchors, t)
	}
	s.started = true
	return nil
}

func (s *exploreStrategy) Next(ctx context.Context) ([]graph.Pair, error) {
	if !s.started {
		if err := s.start(ctx); err != nil {
			return nil, err
		}
	}
	if len(s.anchors) == 0 {
		log.Warn().Msg("strategy.explore no anchors exist")
		return nil, ErrExhausted
	}
	if s.pos >= len(s.population) {
		return nil, ErrExhausted
	}
	end := min(s.pos+s.batch, len(s.population))
	var pairs []graph.Pair
	for _, b := range s.population[s.pos:end] {
		for _, a := range s.anchors {
			pairs = append(pairs, graph.Pair{A: a, B: b})
		}
	}
	s.pos = end
	return untried(ctx, s.src, pairs, 0)
}

func (s *exploreStrategy) Observe(context.Context, dispatch.Report) error { return nil }
