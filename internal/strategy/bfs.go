package strategy

import (
	"context"

	"github.com/danmuck/craftctl/internal/dispatch"
	"github.com/danmuck/craftctl/internal/graph"
	"github.com/rs/zerolog/log"
)

// bfsStrategy walks layer d = (key == d) x (key <= d) for d = start, start+1, ...
type bfsStrategy struct {
	src   Source
	batch int
	key   graph.Column
	order graph.Order

	d        int
	loaded   bool
	anchors  []string
	partners []string
	// rank holds each anchor's index; a partner already walked as an
	// anchor has emitted this pair from the other side.
	rank map[string]int
	i, j int
}

func newBFS(src Source, batch int, key graph.Column, order graph.Order, start int) *bfsStrategy {
	return &bfsStrategy{src: src, batch: batch, key: key, order: order, d: start}
}

func (s *bfsStrategy) Name() string { return AlgorithmBFS }

func (s *bfsStrategy) Next(ctx context.Context) ([]graph.Pair, error) {
	var out []graph.Pair
	for len(out) < s.batch {
		if !s.loaded {
			if err := s.load(ctx); err != nil {
				return out, err
			}
		}
		if s.i >= len(s.anchors) {
			s.d++
			s.loaded = false
			if len(out) > 0 {
				return out, nil
			}
			continue
		}
		i, a, b := s.i, s.anchors[s.i], s.partners[s.j]
		s.j++
		if s.j >= len(s.partners) {
			s.i++
			s.j = 0
		}
		if k, ok := s.rank[b]; ok && k < i {
			continue
		}
		tried, err := s.src.HasRecipe(ctx, a, b)
		if err != nil {
			return nil, err
		}
		if !tried && a != graph.Sentinel && b != graph.Sentinel {
			out = append(out, graph.Pair{A: a, B: b})
		}
	}
	return out, nil
}

// load fetches layer s.d, or ErrExhausted once d passes the largest key value.
func (s *bfsStrategy) load(ctx context.Context) error {
	top, ok, err := s.src.MaxValue(ctx, s.key)
	if err != nil {
		return err
	}
	if !ok || s.d > top {
		return ErrExhausted
	}
	s.anchors, err = s.src.Scan(ctx, graph.Query{Key: s.key, KeyEquals: intPtr(s.d), Order: s.order})
	if err != nil {
		return err
	}
	s.partners, err = s.src.Scan(ctx, graph.Query{Key: s.key, KeyAtMost: intPtr(s.d), Order: s.order})
	if err != nil {
		return err
	}
	s.i, s.j, s.loaded = 0, 0, true
	if len(s.partners) == 0 {
		s.anchors = nil
	}
	s.rank = make(map[string]int, len(s.anchors))
	for k, a := range s.anchors {
		s.rank[a] = k
	}
	log.Info().
		Str("key", string(s.key)).
		Int("value", s.d).
		Int("anchors", len(s.anchors)).
		Int("partners", len(s.partners)).
		Msg("strategy.bfs layer")
	return nil
}

func (s *bfsStrategy) Observe(context.Context, dispatch.Report) error { return nil }
