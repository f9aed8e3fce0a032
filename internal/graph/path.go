package graph

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

var ErrNoPath = errors.New("graph: no recorded path")

// Path returns the shortest-path recipe tree of target ordered by depth.
// Primitives are leaves and produce no step.
func (s *Store) Path(ctx context.Context, target string) ([]PathStep, error) {
	target = Normalize(target)
	el, ok, err := s.Element(ctx, target)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrElementNotFound, target)
	}
	if el.Depth == nil {
		return nil, fmt.Errorf("%w: %q is unreachable", ErrNoPath, target)
	}

	var (
		steps   []PathStep
		seen    = map[string]struct{}{}
		pending = []string{target}
	)
	for len(pending) > 0 {
		text := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		if _, done := seen[text]; done {
			continue
		}
		seen[text] = struct{}{}

		cur, ok, err := lookupElement(ctx, s.reads, text)
		if err != nil {
			return nil, err
		}
		if !ok || cur.Depth == nil {
			return nil, fmt.Errorf("%w: %q has no depth", ErrNoPath, text)
		}
		if *cur.Depth == 0 {
			continue
		}
		pair, ok, err := lookupShortestPath(ctx, s.reads, text)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrNoPath, text)
		}
		steps = append(steps, PathStep{Output: text, Input1: pair.A, Input2: pair.B, Depth: *cur.Depth})
		pending = append(pending, pair.A, pair.B)
	}

	sort.SliceStable(steps, func(i, j int) bool {
		if steps[i].Depth != steps[j].Depth {
			return steps[i].Depth < steps[j].Depth
		}
		return steps[i].Output < steps[j].Output
	})
	return steps, nil
}
