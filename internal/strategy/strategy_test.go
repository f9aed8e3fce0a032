package strategy

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/danmuck/craftctl/internal/dispatch"
	"github.com/danmuck/craftctl/internal/graph"
	"github.com/danmuck/craftctl/internal/similarity"
	"github.com/danmuck/craftctl/internal/testutil/testlog"
)

func newStore(t *testing.T, seed bool) *graph.Store {
	t.Helper()
	s, err := graph.Open(context.Background(), filepath.Join(t.TempDir(), "strategy.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if seed {
		if err := s.SeedPrimitives(context.Background()); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	return s
}

func insert(t *testing.T, s *graph.Store, elems []graph.Element, recipes ...graph.Recipe) {
	t.Helper()
	ctx := context.Background()
	err := s.Update(ctx, func(tx *graph.Tx) error {
		for _, e := range elems {
			if _, err := tx.InsertElement(ctx, e); err != nil {
				return err
			}
		}
		for _, r := range recipes {
			if _, err := tx.InsertRecipe(ctx, r); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
}

func build(t *testing.T, s *graph.Store, mutate func(*Options)) Strategy {
	t.Helper()
	opts := DefaultOptions()
	opts.Seed = 7
	mutate(&opts)
	st, err := New(opts, s, nil)
	if err != nil {
		t.Fatalf("new %s: %v", opts.Algorithm, err)
	}
	return st
}

func next(t *testing.T, st Strategy) []graph.Pair {
	t.Helper()
	batch, err := st.Next(context.Background())
	if err != nil {
		t.Fatalf("%s next: %v", st.Name(), err)
	}
	return batch
}

func observe(t *testing.T, st Strategy, rep dispatch.Report) {
	t.Helper()
	if err := st.Observe(context.Background(), rep); err != nil {
		t.Fatalf("%s observe: %v", st.Name(), err)
	}
}

func wantExhausted(t *testing.T, st Strategy) {
	t.Helper()
	batch, err := st.Next(context.Background())
	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("%s: expected ErrExhausted, got %v (batch %v)", st.Name(), err, batch)
	}
}

func canonical(pairs []graph.Pair) []graph.Pair {
	out := make([]graph.Pair, len(pairs))
	for i, p := range pairs {
		out[i] = graph.Canonical(p.A, p.B)
	}
	return out
}

// samePairs compares canonical pairs ignoring order.
func samePairs(t *testing.T, got, want []graph.Pair) {
	t.Helper()
	sorted := func(ps []graph.Pair) []graph.Pair {
		out := canonical(ps)
		slices.SortFunc(out, func(a, b graph.Pair) int {
			if c := strings.Compare(a.A, b.A); c != 0 {
				return c
			}
			return strings.Compare(a.B, b.B)
		})
		return out
	}
	g, w := sorted(got), sorted(want)
	if !slices.Equal(g, w) {
		t.Fatalf("unexpected pairs:\n got %v\nwant %v", g, w)
	}
}

func TestNewValidatesOptions(t *testing.T) {
	testlog.Start(t)
	s := newStore(t, true)

	cases := []struct {
		name   string
		mutate func(*Options)
		want   error
	}{
		{"zero batch", func(o *Options) { o.Batch = 0 }, ErrInvalidBatch},
		{"unknown algorithm", func(o *Options) { o.Algorithm = "dfs" }, ErrUnknownAlgorithm},
		{"text bfs key", func(o *Options) { o.Key = "text" }, ErrInvalidKey},
		{"bad bfs key", func(o *Options) { o.Key = "depth; DROP TABLE elements" }, ErrInvalidKey},
		{"bad sort", func(o *Options) { o.Sort = "text; --" }, graph.ErrInvalidOrder},
		{"commonality", func(o *Options) { o.Algorithm = AlgorithmWeightedRandom; o.Key = "commonality" }, ErrInvalidKey},
		{"search without targets", func(o *Options) { o.Algorithm = AlgorithmSearch }, ErrEmptySearch},
		{"find without targets", func(o *Options) { o.Algorithm = AlgorithmFind; o.Search = []string{" "} }, ErrEmptySearch},
		{"explore without targets", func(o *Options) { o.Algorithm = AlgorithmExplore }, ErrEmptySearch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			opts := DefaultOptions()
			tc.mutate(&opts)
			if _, err := New(opts, s, nil); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}

	for _, name := range Algorithms {
		st := build(t, s, func(o *Options) {
			o.Algorithm = name
			o.Search = []string{"Fire"}
		})
		if st.Name() != name {
			t.Fatalf("unexpected name %q for %q", st.Name(), name)
		}
	}
}

func TestBFSWalksLayersThenExhausts(t *testing.T) {
	testlog.Start(t)
	ctx := context.Background()
	s := newStore(t, true)
	st := build(t, s, func(o *Options) { o.Batch = 4 })

	var all []graph.Pair
	for {
		batch, err := st.Next(ctx)
		if err != nil {
			if !errors.Is(err, ErrExhausted) {
				t.Fatalf("unexpected error: %v", err)
			}
			break
		}
		if len(batch) > 4 {
			t.Fatalf("batch over limit: %d pairs", len(batch))
		}
		all = append(all, batch...)
	}
	samePairs(t, all, combinations([]string{"Earth", "Fire", "Water", "Wind"}))
}

func TestBFSSkipsTriedPairsAndMovesToNextLayer(t *testing.T) {
	testlog.Start(t)
	s := newStore(t, true)
	insert(t, s,
		[]graph.Element{{Text: "Steam", Depth: intPtr(1)}},
		graph.Recipe{Input1: "Water", Input2: "Fire", Output: "Steam"},
	)
	st := build(t, s, func(o *Options) { o.BFSStart = 1 })

	samePairs(t, next(t, st), []graph.Pair{
		{A: "Earth", B: "Steam"},
		{A: "Fire", B: "Steam"},
		{A: "Steam", B: "Steam"},
		{A: "Steam", B: "Water"},
		{A: "Steam", B: "Wind"},
	})
	wantExhausted(t, st)
}

func TestRandomProposesUntriedCombinations(t *testing.T) {
	testlog.Start(t)
	s := newStore(t, true)
	insert(t, s,
		[]graph.Element{{Text: "Steam", Depth: intPtr(1)}, {Text: graph.Sentinel}},
		graph.Recipe{Input1: "Water", Input2: "Fire", Output: "Steam"},
	)
	st := build(t, s, func(o *Options) { o.Algorithm = AlgorithmRandom })

	batch := next(t, st)
	if len(batch) != 14 {
		t.Fatalf("expected 14 untried pairs, got %d", len(batch))
	}
	for _, p := range canonical(batch) {
		if p == (graph.Pair{A: "Fire", B: "Water"}) {
			t.Fatalf("tried pair proposed again")
		}
		if p.Contains(graph.Sentinel) {
			t.Fatalf("sentinel proposed: %+v", p)
		}
	}
}

func TestWeightedRandomFallsBackToUniform(t *testing.T) {
	testlog.Start(t)
	s := newStore(t, true)
	st := build(t, s, func(o *Options) {
		o.Algorithm = AlgorithmWeightedRandom
		o.Batch = 3
	})

	if batch := next(t, st); len(batch) != 6 {
		t.Fatalf("expected 6 pairs from 3 uniform picks, got %d", len(batch))
	}
}

func TestElementWeights(t *testing.T) {
	testlog.Start(t)
	elems := []graph.Element{
		{Text: "A", Yield: 2, RecipeCount: 1, Depth: intPtr(1)},
		{Text: "B", Yield: 0, RecipeCount: 0, Depth: intPtr(3)},
		{Text: "C", Yield: 1, RecipeCount: 0},
	}
	near := func(got, want float64) bool { return math.Abs(got-want) < 1e-9 }

	w := elementWeights(elems, graph.ColumnYield, false)
	if !near(w[0], 0.5) || w[1] != 0 || !near(w[2], 0.5) {
		t.Fatalf("unexpected yield weights: %v", w)
	}

	w = elementWeights(elems, graph.ColumnDepth, false)
	if !near(w[0], 0.25) || !near(w[1], 0.75) || w[2] != 0 {
		t.Fatalf("unexpected depth weights: %v", w)
	}

	w = elementWeights(elems, graph.ColumnDepth, true)
	if !near(w[0]+w[1]+w[2], 1) {
		t.Fatalf("inverted weights must stay normalized: %v", w)
	}
	if !(w[2] > w[0] && w[0] > w[1]) {
		t.Fatalf("inversion must reverse the order: %v", w)
	}
}

func TestWeightedSampleIsDistinct(t *testing.T) {
	testlog.Start(t)
	rng := rand.New(rand.NewSource(1))

	got := weightedSample(rng, []float64{0, 0, 1, 0}, 3)
	if len(got) != 3 || got[0] != 2 {
		t.Fatalf("expected the only weighted index first, got %v", got)
	}
	seen := map[int]bool{}
	for _, i := range got {
		if seen[i] {
			t.Fatalf("index %d drawn twice: %v", i, got)
		}
		seen[i] = true
	}

	if got := weightedSample(rng, []float64{0.5, 0.5}, 5); len(got) != 2 {
		t.Fatalf("sample larger than population: %v", got)
	}
}

func TestGreedyRanksAnchors(t *testing.T) {
	testlog.Start(t)
	s := newStore(t, false)
	insert(t, s, []graph.Element{
		{Text: "A", Yield: 1, RecipeCount: 1, Freq: 1},
		{Text: "B", Yield: 4, RecipeCount: 1, Freq: 9},
		{Text: "C", Yield: 0, RecipeCount: 2, Freq: 5},
		{Text: "D", Yield: 0, RecipeCount: 9, Freq: 0},
	})

	cases := map[string]string{
		AlgorithmMaxYield: "B",
		AlgorithmMinUses:  "A",
		AlgorithmMaxFreq:  "B",
	}
	for algorithm, want := range cases {
		st := build(t, s, func(o *Options) {
			o.Algorithm = algorithm
			o.Batch = 2
		})
		batch := next(t, st)
		if len(batch) == 0 || len(batch) > 2 {
			t.Fatalf("%s: unexpected batch size %d", algorithm, len(batch))
		}
		if batch[0].A != want {
			t.Fatalf("%s: anchor got %q want %q", algorithm, batch[0].A, want)
		}
	}
}

func TestGreedyEnumeratesPartnersOfDenseAnchor(t *testing.T) {
	testlog.Start(t)
	s := newStore(t, false)
	insert(t, s,
		[]graph.Element{
			{Text: "A", RecipeCount: 3, Freq: 5},
			{Text: "B", RecipeCount: 4},
			{Text: "C", RecipeCount: 4},
			{Text: "D", RecipeCount: 4},
		},
		graph.Recipe{Input1: "A", Input2: "B", Output: "C"},
	)
	st := build(t, s, func(o *Options) { o.Algorithm = AlgorithmMaxFreq })

	samePairs(t, next(t, st), []graph.Pair{{A: "A", B: "A"}, {A: "A", B: "C"}, {A: "A", B: "D"}})
}

func TestGreedyExhaustsWhenEveryElementIsSaturated(t *testing.T) {
	testlog.Start(t)
	s := newStore(t, false)
	insert(t, s, []graph.Element{{Text: "A", RecipeCount: 1}})
	st := build(t, s, func(o *Options) { o.Algorithm = AlgorithmMinUses })

	wantExhausted(t, st)
}

func TestSearchGrowsAndResetsOnMissingTarget(t *testing.T) {
	testlog.Start(t)
	s := newStore(t, true)
	insert(t, s,
		[]graph.Element{{Text: "Steam", Depth: intPtr(1)}},
		graph.Recipe{Input1: "Water", Input2: "Fire", Output: "Steam"},
	)
	st := build(t, s, func(o *Options) {
		o.Algorithm = AlgorithmSearch
		o.Search = []string{"Water", "Fire", "Mud"}
	})

	samePairs(t, next(t, st), combinations([]string{"Water", "Fire"}))
	observe(t, st, dispatch.Report{})

	samePairs(t, next(t, st), []graph.Pair{
		{A: "Steam", B: "Water"},
		{A: "Steam", B: "Fire"},
		{A: "Steam", B: "Steam"},
	})

	insert(t, s,
		[]graph.Element{{Text: "Mud", Depth: intPtr(2)}},
		graph.Recipe{Input1: "Steam", Input2: "Water", Output: "Mud"},
	)
	observe(t, st, dispatch.Report{})

	samePairs(t, next(t, st), combinations([]string{"Water", "Fire", "Mud"}))
	observe(t, st, dispatch.Report{})
	wantExhausted(t, st)
}

func TestSearchSkipsExcludedOutputs(t *testing.T) {
	testlog.Start(t)
	s := newStore(t, true)
	insert(t, s,
		[]graph.Element{{Text: "Steam", Depth: intPtr(1)}},
		graph.Recipe{Input1: "Water", Input2: "Fire", Output: "Steam"},
	)
	st := build(t, s, func(o *Options) {
		o.Algorithm = AlgorithmSearch
		o.Search = []string{"Water", "Fire"}
		o.Exclude = []string{"Steam"}
	})

	next(t, st)
	observe(t, st, dispatch.Report{})
	wantExhausted(t, st)
}

func TestFindWidensOnDeadEnd(t *testing.T) {
	testlog.Start(t)
	s := newStore(t, true)
	insert(t, s, []graph.Element{
		{Text: "Steam", Depth: intPtr(1)},
		{Text: "Steam Engine", Depth: intPtr(2)},
		{Text: graph.Sentinel},
	})
	st, err := New(Options{Algorithm: AlgorithmFind, Batch: 1, Search: []string{"Steam"}}, s, similarity.NewLexical())
	if err != nil {
		t.Fatalf("new find: %v", err)
	}

	if got, want := next(t, st), []graph.Pair{{A: "Steam Engine", B: "Steam Engine"}}; !slices.Equal(got, want) {
		t.Fatalf("unexpected first batch: %v", got)
	}

	observe(t, st, dispatch.Report{Outputs: []graph.Recipe{{Output: "Steam"}}})
	batch := next(t, st)
	if len(batch) != 3 {
		t.Fatalf("expected widened batch of 3, got %v", batch)
	}
	for _, p := range batch {
		if p.Contains("Steam") || p.Contains(graph.Sentinel) {
			t.Fatalf("target or sentinel proposed: %+v", p)
		}
	}

	observe(t, st, dispatch.Report{Outputs: []graph.Recipe{{Output: "Boiler"}}})
	if batch := next(t, st); len(batch) != 3 {
		t.Fatalf("productive batch must not widen, got %v", batch)
	}
}

func TestShortestPrefersShortAnchors(t *testing.T) {
	testlog.Start(t)
	s := newStore(t, true)
	insert(t, s, []graph.Element{
		{Text: "Steam", Depth: intPtr(1)},
		{Text: "Deep Element", Depth: intPtr(20)},
	})
	st := build(t, s, func(o *Options) {
		o.Algorithm = AlgorithmShortest
		o.Batch = 3
		o.MinLength = 5
	})

	batch := next(t, st)
	if len(batch) == 0 || len(batch) > 9 {
		t.Fatalf("unexpected batch size %d", len(batch))
	}
	anchors := set([]string{"Water", "Earth", "Steam"})
	for _, p := range batch {
		if _, ok := anchors[p.A]; !ok {
			t.Fatalf("unexpected anchor %q", p.A)
		}
		if p.B == "Deep Element" {
			t.Fatalf("partner deeper than max depth: %+v", p)
		}
	}

	st = build(t, s, func(o *Options) {
		o.Algorithm = AlgorithmShortest
		o.MinLength = 100
	})
	wantExhausted(t, st)
}

func TestExploreMakesOnePass(t *testing.T) {
	testlog.Start(t)
	s := newStore(t, true)
	st := build(t, s, func(o *Options) {
		o.Algorithm = AlgorithmExplore
		o.Key = "text"
		o.Batch = 2
		o.Search = []string{"Fire", "Ghost"}
	})

	if got, want := next(t, st), []graph.Pair{{A: "Fire", B: "Earth"}, {A: "Fire", B: "Fire"}}; !slices.Equal(got, want) {
		t.Fatalf("unexpected first batch: %v", got)
	}
	if got, want := next(t, st), []graph.Pair{{A: "Fire", B: "Water"}, {A: "Fire", B: "Wind"}}; !slices.Equal(got, want) {
		t.Fatalf("unexpected second batch: %v", got)
	}
	wantExhausted(t, st)

	st = build(t, s, func(o *Options) {
		o.Algorithm = AlgorithmExplore
		o.Search = []string{"Ghost"}
	})
	wantExhausted(t, st)
}
