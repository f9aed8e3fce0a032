// Package strategy turns graph statistics into the next batch of pairs to try.
package strategy

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/danmuck/craftctl/internal/dispatch"
	"github.com/danmuck/craftctl/internal/graph"
	"github.com/danmuck/craftctl/internal/similarity"
)

var (
	ErrUnknownAlgorithm = errors.New("strategy: unknown algorithm")
	ErrInvalidBatch     = errors.New("strategy: batch must be >= 1")
	ErrEmptySearch      = errors.New("strategy: empty search set")
	ErrInvalidKey       = errors.New("strategy: invalid key")
	// ErrExhausted is returned by Next once a finite strategy has nothing left.
	ErrExhausted = errors.New("strategy: exhausted")
)

const (
	AlgorithmBFS            = "bfs"
	AlgorithmRandom         = "random"
	AlgorithmWeightedRandom = "weighted-random"
	AlgorithmMaxYield       = "max-yield"
	AlgorithmMinUses        = "min-uses"
	AlgorithmMaxFreq        = "max-freq"
	AlgorithmSearch         = "search"
	AlgorithmFind           = "find"
	AlgorithmShortest       = "shortest"
	AlgorithmExplore        = "explore"
)

// Algorithms lists every name New accepts.
var Algorithms = []string{
	AlgorithmBFS,
	AlgorithmRandom,
	AlgorithmWeightedRandom,
	AlgorithmMaxYield,
	AlgorithmMinUses,
	AlgorithmMaxFreq,
	AlgorithmSearch,
	AlgorithmFind,
	AlgorithmShortest,
	AlgorithmExplore,
}

// Strategy proposes pairs and learns from the dispatch of each batch.
type Strategy interface {
	Name() string
	Next(ctx context.Context) ([]graph.Pair, error)
	Observe(ctx context.Context, rep dispatch.Report) error
}

// Source is the read side of the graph store strategies depend on.
type Source interface {
	Scan(ctx context.Context, q graph.Query) ([]string, error)
	Elements(ctx context.Context, q graph.Query) ([]graph.Element, error)
	ElementExists(ctx context.Context, text string) (bool, error)
	HasRecipe(ctx context.Context, a, b string) (bool, error)
	RecipeOutput(ctx context.Context, a, b string) (string, bool, error)
	Partners(ctx context.Context, text string) ([]string, error)
	MaxValue(ctx context.Context, col graph.Column) (int, bool, error)
	Count(ctx context.Context, excludeSentinel bool) (int, error)
}

// Options is the strategy configuration surface.
type Options struct {
	Algorithm string
	Batch     int
	// Key is the column bfs layers on, weighted-random weighs by and explore orders by.
	Key string
	// Sort orders the elements of a bfs layer.
	Sort      string
	BFSStart  int
	MaxDepth  int
	MinLength int
	Invert    bool
	Search    []string
	Exclude   []string
	// Seed fixes the random source; 0 seeds from the clock.
	Seed int64
}

func DefaultOptions() Options {
	return Options{
		Algorithm: AlgorithmBFS,
		Batch:     100,
		Key:       string(graph.ColumnDepth),
		Sort:      string(graph.OrderText),
		MaxDepth:  10,
	}
}

// New validates opts and builds the named strategy. sim is only used by
// find; nil selects the lexical oracle.
func New(opts Options, src Source, sim similarity.Similarity) (Strategy, error) {
	if opts.Batch < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidBatch, opts.Batch)
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	search := normalizeAll(opts.Search)

	switch strings.ToLower(strings.TrimSpace(opts.Algorithm)) {
	case AlgorithmBFS:
		key, err := numericKey(opts.Key)
		if err != nil {
			return nil, err
		}
		order, err := graph.ParseOrder(opts.Sort)
		if err != nil {
			return nil, err
		}
		return newBFS(src, opts.Batch, key, order, opts.BFSStart), nil
	case AlgorithmRandom:
		return &randomStrategy{src: src, batch: opts.Batch}, nil
	case AlgorithmWeightedRandom:
		key, err := weightKey(opts.Key)
		if err != nil {
			return nil, err
		}
		return &weightedStrategy{src: src, batch: opts.Batch, key: key, invert: opts.Invert, rng: rng}, nil
	case AlgorithmMaxYield, AlgorithmMinUses, AlgorithmMaxFreq:
		return newGreedy(src, strings.ToLower(strings.TrimSpace(opts.Algorithm)), opts.Batch, rng), nil
	case AlgorithmSearch:
		if len(search) == 0 {
			return nil, ErrEmptySearch
		}
		return newSearch(src, opts.Batch, search, normalizeAll(opts.Exclude)), nil
	case AlgorithmFind:
		if len(search) == 0 {
			return nil, ErrEmptySearch
		}
		if sim == nil {
			sim = similarity.NewLexical()
		}
		return newFind(src, sim, opts.Batch, search), nil
	case AlgorithmShortest:
		return &shortestStrategy{src: src, batch: opts.Batch, maxDepth: opts.MaxDepth, minLength: opts.MinLength}, nil
	case AlgorithmExplore:
		if len(search) == 0 {
			return nil, ErrEmptySearch
		}
		col, err := graph.ParseColumn(opts.Key)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidKey, err)
		}
		return newExplore(src, opts.Batch, col, search), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, opts.Algorithm)
}

func numericKey(raw string) (graph.Column, error) {
	col, err := graph.ParseColumn(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidKey, err)
	}
	if col == graph.ColumnText {
		return "", fmt.Errorf("%w: %q is not numeric", ErrInvalidKey, raw)
	}
	return col, nil
}

// weightKey accepts the numeric columns; word commonality weighting has no
// frequency list to draw from and is rejected.
func weightKey(raw string) (graph.Column, error) {
	if strings.EqualFold(strings.TrimSpace(raw), "commonality") {
		return "", fmt.Errorf("%w: commonality weighting is not supported", ErrInvalidKey)
	}
	return numericKey(raw)
}

func normalizeAll(texts []string) []string {
	seen := make(map[string]struct{}, len(texts))
	out := make([]string, 0, len(texts))
	for _, t := range texts {
		t = graph.Normalize(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// combinations returns every unordered pair of items, self-pairs included.
func combinations(items []string) []graph.Pair {
	out := make([]graph.Pair, 0, len(items)*(len(items)+1)/2)
	for i := range items {
		for j := i; j < len(items); j++ {
			out = append(out, graph.Pair{A: items[i], B: items[j]})
		}
	}
	return out
}

// untried keeps the pairs with no recipe yet, deduplicated, in order. A
// positive limit stops the scan early.
func untried(ctx context.Context, src Source, pairs []graph.Pair, limit int) ([]graph.Pair, error) {
	seen := make(map[graph.Pair]struct{}, len(pairs))
	var out []graph.Pair
	for _, p := range pairs {
		if limit > 0 && len(out) >= limit {
			break
		}
		c := graph.Canonical(p.A, p.B)
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		if c.Contains(graph.Sentinel) {
			continue
		}
		tried, err := src.HasRecipe(ctx, c.A, c.B)
		if err != nil {
			return nil, err
		}
		if !tried {
			out = append(out, p)
		}
	}
	return out, nil
}

func set(items []string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, it := range items {
		out[it] = struct{}{}
	}
	return out
}

func intPtr(v int) *int {
	return &v
}
