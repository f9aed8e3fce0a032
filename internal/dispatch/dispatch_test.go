package dispatch

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/craftctl/internal/depth"
	"github.com/danmuck/craftctl/internal/graph"
	"github.com/danmuck/craftctl/internal/oracle"
	"github.com/danmuck/craftctl/internal/testutil/testlog"
)

type fakeOracle struct {
	mu      sync.Mutex
	answers map[graph.Pair]oracle.Result
	fail    map[graph.Pair]bool
	calls   []graph.Pair

	delay   time.Duration
	block   bool
	onCall  func(p graph.Pair, n int)
	active  atomic.Int32
	maxSeen atomic.Int32
}

func newFakeOracle() *fakeOracle {
	return &fakeOracle{
		answers: map[graph.Pair]oracle.Result{},
		fail:    map[graph.Pair]bool{},
	}
}

func (f *fakeOracle) answer(a, b, out string, isNew bool) {
	f.answers[graph.Canonical(a, b)] = oracle.Result{Output: out, IsNew: isNew}
}

func (f *fakeOracle) Combine(ctx context.Context, a, b string) (oracle.Result, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		cur := f.maxSeen.Load()
		if n <= cur || f.maxSeen.CompareAndSwap(cur, n) {
			break
		}
	}

	p := graph.Canonical(a, b)
	f.mu.Lock()
	f.calls = append(f.calls, p)
	res, ok := f.answers[p]
	failing := f.fail[p]
	callN := len(f.calls)
	f.mu.Unlock()

	if f.onCall != nil {
		f.onCall(p, callN)
	}

	if f.block {
		<-ctx.Done()
		return oracle.Result{}, ctx.Err()
	}
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return oracle.Result{}, ctx.Err()
		case <-time.After(f.delay):
		}
	}
	if failing {
		return oracle.Result{}, oracle.ErrAttemptsExhausted
	}
	if !ok {
		res = oracle.Result{Output: graph.Sentinel}
	}
	return res, nil
}

func (f *fakeOracle) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newStore(t *testing.T) *graph.Store {
	t.Helper()
	s, err := graph.Open(context.Background(), filepath.Join(t.TempDir(), "dispatch.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.SeedPrimitives(context.Background()); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return s
}

func newDispatcher(t *testing.T, s *graph.Store, f *fakeOracle, workers int) *Dispatcher {
	t.Helper()
	d, err := New(Config{Workers: workers, SkipNumeric: true}, s, f)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	return d
}

func mustElement(t *testing.T, s *graph.Store, text string) graph.Element {
	t.Helper()
	el, ok, err := s.Element(context.Background(), text)
	if err != nil || !ok {
		t.Fatalf("element %q: ok=%v err=%v", text, ok, err)
	}
	return el
}

func TestIntegrateWaterFireSteamScenario(t *testing.T) {
	testlog.Start(t)
	s := newStore(t)
	ctx := context.Background()
	in := NewIntegrator(s)

	it, err := in.Integrate(ctx, Outcome{Pair: graph.Pair{A: "Water", B: "Fire"}, Result: oracle.Result{Output: "Steam", Glyph: "💨"}})
	if err != nil {
		t.Fatalf("integrate steam: %v", err)
	}
	if !it.NewElement || it.FirstDiscovery || it.Known {
		t.Fatalf("unexpected integration: %+v", it)
	}
	steam := mustElement(t, s, "Steam")
	if steam.Depth == nil || *steam.Depth != 1 || steam.Freq != 1 || steam.Glyph != "💨" {
		t.Fatalf("unexpected steam: %+v", steam)
	}
	for _, text := range []string{"Water", "Fire"} {
		el := mustElement(t, s, text)
		if el.Yield != 1 || el.RecipeCount != 1 {
			t.Fatalf("%s yield=%d recipe_count=%d", text, el.Yield, el.RecipeCount)
		}
	}
	path, ok, err := s.ShortestPath(ctx, "Steam")
	if err != nil || !ok || path != (graph.Pair{A: "Fire", B: "Water"}) {
		t.Fatalf("shortest path=%+v ok=%v err=%v", path, ok, err)
	}

	if _, err := in.Integrate(ctx, Outcome{Pair: graph.Pair{A: "Water", B: "Water"}, Result: oracle.Result{Output: "Steam"}}); err != nil {
		t.Fatalf("integrate repeat: %v", err)
	}
	steam = mustElement(t, s, "Steam")
	if steam.Freq != 2 || *steam.Depth != 1 {
		t.Fatalf("after repeat freq=%d depth=%d", steam.Freq, *steam.Depth)
	}
	water := mustElement(t, s, "Water")
	if water.RecipeCount != 2 || water.Yield != 1 {
		t.Fatalf("water recipe_count=%d yield=%d", water.RecipeCount, water.Yield)
	}
	path, _, _ = s.ShortestPath(ctx, "Steam")
	if path != (graph.Pair{A: "Fire", B: "Water"}) {
		t.Fatalf("equal sum must keep first path, got %+v", path)
	}
}

func TestIntegrateIsIdempotent(t *testing.T) {
	testlog.Start(t)
	s := newStore(t)
	ctx := context.Background()
	in := NewIntegrator(s)
	o := Outcome{Pair: graph.Pair{A: "Earth", B: "Fire"}, Result: oracle.Result{Output: "Lava", IsNew: true}}

	if _, err := in.Integrate(ctx, o); err != nil {
		t.Fatalf("first integrate: %v", err)
	}
	before, err := s.Elements(ctx, graph.Query{})
	if err != nil {
		t.Fatalf("elements: %v", err)
	}

	o.Pair = graph.Pair{A: "Fire", B: "Earth"}
	it, err := in.Integrate(ctx, o)
	if err != nil {
		t.Fatalf("second integrate: %v", err)
	}
	if !it.Known {
		t.Fatalf("expected known recipe on second integrate")
	}
	after, err := s.Elements(ctx, graph.Query{})
	if err != nil {
		t.Fatalf("elements: %v", err)
	}
	if len(before) != len(after) {
		t.Fatalf("element count changed %d -> %d", len(before), len(after))
	}
	for i := range before {
		b, a := before[i], after[i]
		if b.Text != a.Text || b.Yield != a.Yield || b.RecipeCount != a.RecipeCount || b.Freq != a.Freq || *b.Depth != *a.Depth {
			t.Fatalf("element changed: %+v -> %+v", b, a)
		}
	}
	if !mustElement(t, s, "Lava").FirstDiscovered {
		t.Fatalf("expected lava flagged as first discovery")
	}
}

func TestIntegrateSelfProductionSkipsFreq(t *testing.T) {
	testlog.Start(t)
	s := newStore(t)
	ctx := context.Background()
	in := NewIntegrator(s)

	if _, err := in.Integrate(ctx, Outcome{Pair: graph.Pair{A: "Water", B: "Wind"}, Result: oracle.Result{Output: "Water"}}); err != nil {
		t.Fatalf("integrate: %v", err)
	}
	water := mustElement(t, s, "Water")
	if water.Freq != 0 || water.Yield != 1 || *water.Depth != 0 {
		t.Fatalf("unexpected water: %+v", water)
	}
	wind := mustElement(t, s, "Wind")
	if wind.Yield != 1 || wind.RecipeCount != 1 {
		t.Fatalf("unexpected wind: %+v", wind)
	}
}

func TestIntegrateUnknownInputIsInvariantViolation(t *testing.T) {
	testlog.Start(t)
	s := newStore(t)
	ctx := context.Background()

	_, err := NewIntegrator(s).Integrate(ctx, Outcome{Pair: graph.Pair{A: "Ghost", B: "Water"}, Result: oracle.Result{Output: "Spirit"}})
	if !errors.Is(err, depth.ErrInvariantViolation) {
		t.Fatalf("expected invariant violation, got %v", err)
	}
	tried, err := s.HasRecipe(ctx, "Ghost", "Water")
	if err != nil || tried {
		t.Fatalf("failed integration must roll back, tried=%v err=%v", tried, err)
	}
}

func TestDispatchFiltersDedupesAndIntegrates(t *testing.T) {
	testlog.Start(t)
	s := newStore(t)
	ctx := context.Background()
	f := newFakeOracle()
	f.answer("Water", "Fire", "Steam", false)
	f.answer("Earth", "Wind", "Dust", true)
	f.answer("Water", "Earth", "Mud", false)

	if _, err := NewIntegrator(s).Integrate(ctx, Outcome{Pair: graph.Pair{A: "Water", B: "Earth"}, Result: oracle.Result{Output: "Mud"}}); err != nil {
		t.Fatalf("pre-integrate: %v", err)
	}

	d := newDispatcher(t, s, f, 4)
	rep, err := d.Dispatch(ctx, []graph.Pair{
		{A: "Water", B: "Fire"},
		{A: "Fire", B: "Water"},
		{A: graph.Sentinel, B: "Water"},
		{A: "Water", B: "Route 66"},
		{A: "Earth", B: "Water"},
		{A: "Wind", B: "Earth"},
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if rep.Requested != 6 || rep.Filtered != 2 || rep.Duplicates != 1 || rep.Known != 1 {
		t.Fatalf("unexpected filter counts: %+v", rep)
	}
	if rep.Submitted != 2 || rep.Integrated != 2 || rep.NewElements != 2 || rep.FirstDiscoveries != 1 {
		t.Fatalf("unexpected dispatch counts: %+v", rep)
	}
	if f.callCount() != 2 {
		t.Fatalf("expected 2 oracle calls, got %d", f.callCount())
	}
	if rep.Interrupted {
		t.Fatalf("unexpected interrupt")
	}
	if len(rep.Outputs) != 2 {
		t.Fatalf("expected 2 outputs, got %+v", rep.Outputs)
	}
	for _, text := range []string{"Steam", "Dust"} {
		mustElement(t, s, text)
	}
}

func TestDispatchCountsFailuresWithoutIntegrating(t *testing.T) {
	testlog.Start(t)
	s := newStore(t)
	f := newFakeOracle()
	f.answer("Water", "Fire", "Steam", false)
	f.fail[graph.Canonical("Earth", "Fire")] = true

	rep, err := newDispatcher(t, s, f, 2).Dispatch(context.Background(), []graph.Pair{
		{A: "Water", B: "Fire"},
		{A: "Earth", B: "Fire"},
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if rep.Failed != 1 || rep.Integrated != 1 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	tried, err := s.HasRecipe(context.Background(), "Earth", "Fire")
	if err != nil || tried {
		t.Fatalf("failed pair must stay untried, tried=%v err=%v", tried, err)
	}
}

func TestDispatchBoundsConcurrency(t *testing.T) {
	testlog.Start(t)
	s := newStore(t)
	f := newFakeOracle()
	f.delay = 20 * time.Millisecond

	var pairs []graph.Pair
	for i, a := range []string{"Water", "Fire", "Wind", "Earth"} {
		for _, b := range []string{"Water", "Fire", "Wind", "Earth"}[i:] {
			pairs = append(pairs, graph.Pair{A: a, B: b})
		}
	}
	rep, err := newDispatcher(t, s, f, 3).Dispatch(context.Background(), pairs)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if rep.Submitted != 10 || rep.Integrated != 10 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if got := f.maxSeen.Load(); got > 3 {
		t.Fatalf("pool exceeded: %d concurrent calls", got)
	}
	nothing := mustElement(t, s, graph.Sentinel)
	if nothing.Depth == nil || *nothing.Depth != 1 {
		t.Fatalf("unexpected sentinel depth: %+v", nothing)
	}
}

func TestDispatchThrottlesAndIntegratesDuringSubmission(t *testing.T) {
	testlog.Start(t)
	s := newStore(t)
	f := newFakeOracle()
	f.answer("Water", "Fire", "Steam", false)

	pairs := []graph.Pair{
		{A: "Water", B: "Fire"},
		{A: "Earth", B: "Wind"},
		{A: "Earth", B: "Fire"},
		{A: "Water", B: "Wind"},
	}
	first := graph.Canonical(pairs[0].A, pairs[0].B)
	var firstStored atomic.Bool
	f.onCall = func(_ graph.Pair, n int) {
		if n != len(pairs) {
			return
		}
		tried, err := s.HasRecipe(context.Background(), first.A, first.B)
		firstStored.Store(err == nil && tried)
	}

	const throttleMin = 40 * time.Millisecond
	d, err := New(Config{Workers: 2, ThrottleMin: throttleMin, ThrottleMax: 50 * time.Millisecond}, s, f)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	rep, err := d.Dispatch(context.Background(), pairs)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if rep.Submitted != 4 || rep.Integrated != 4 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	if want := time.Duration(len(pairs)-1) * throttleMin; rep.Elapsed < want {
		t.Fatalf("submissions not spaced: took %s, want >= %s", rep.Elapsed, want)
	}
	if !firstStored.Load() {
		t.Fatalf("first recipe not integrated before the last pair was submitted")
	}
}

func TestIntegrateSentinelLeavesCountersMatchingRecount(t *testing.T) {
	testlog.Start(t)
	s := newStore(t)
	ctx := context.Background()
	in := NewIntegrator(s)

	for _, o := range []Outcome{
		{Pair: graph.Pair{A: "Water", B: "Fire"}, Result: oracle.Result{Output: graph.Sentinel}},
		{Pair: graph.Pair{A: "Water", B: "Earth"}, Result: oracle.Result{Output: graph.Sentinel}},
		{Pair: graph.Pair{A: "Water", B: "Wind"}, Result: oracle.Result{Output: "Rain"}},
	} {
		if _, err := in.Integrate(ctx, o); err != nil {
			t.Fatalf("integrate %+v: %v", o.Pair, err)
		}
	}
	type counters struct{ yield, recipeCount, freq int }
	snapshot := func() map[string]counters {
		elems, err := s.Elements(ctx, graph.Query{})
		if err != nil {
			t.Fatalf("elements: %v", err)
		}
		out := make(map[string]counters, len(elems))
		for _, el := range elems {
			out[el.Text] = counters{el.Yield, el.RecipeCount, el.Freq}
		}
		return out
	}

	live := snapshot()
	if got := live["Water"]; got != (counters{yield: 1, recipeCount: 3}) {
		t.Fatalf("unexpected water counters: %+v", got)
	}
	if got := live[graph.Sentinel]; got != (counters{}) {
		t.Fatalf("sentinel must not carry counters: %+v", got)
	}

	if err := s.Update(ctx, func(tx *graph.Tx) error { return depth.Recount(ctx, tx) }); err != nil {
		t.Fatalf("recount: %v", err)
	}
	recounted := snapshot()
	for text, want := range live {
		if got := recounted[text]; got != want {
			t.Fatalf("%s: integration %+v, recount %+v", text, want, got)
		}
	}
}

func TestDispatchInterruptReturnsPartialReport(t *testing.T) {
	testlog.Start(t)
	s := newStore(t)
	f := newFakeOracle()
	f.block = true

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	rep, err := newDispatcher(t, s, f, 2).Dispatch(ctx, []graph.Pair{
		{A: "Water", B: "Fire"},
		{A: "Water", B: "Earth"},
		{A: "Water", B: "Wind"},
	})
	if err != nil {
		t.Fatalf("interrupt must not be an error: %v", err)
	}
	if !rep.Interrupted || rep.Integrated != 0 || rep.Failed != 0 {
		t.Fatalf("unexpected report: %+v", rep)
	}
	st, err := s.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Recipes != 0 {
		t.Fatalf("expected no recipes, got %d", st.Recipes)
	}
}

func TestDispatchSurfacesIntegrationErrors(t *testing.T) {
	testlog.Start(t)
	s := newStore(t)
	f := newFakeOracle()
	f.answer("Ghost", "Water", "Spirit", false)

	_, err := newDispatcher(t, s, f, 1).Dispatch(context.Background(), []graph.Pair{{A: "Ghost", B: "Water"}})
	if !errors.Is(err, depth.ErrInvariantViolation) {
		t.Fatalf("expected invariant violation, got %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	testlog.Start(t)
	if err := DefaultConfig().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	bad := []Config{
		{Workers: 0},
		{Workers: 1, ThrottleMin: time.Second, ThrottleMax: time.Millisecond},
		{Workers: 1, ThrottleMin: -time.Second},
	}
	for _, cfg := range bad {
		if err := cfg.Validate(); !errors.Is(err, ErrInvalidConfig) {
			t.Fatalf("expected ErrInvalidConfig for %+v, got %v", cfg, err)
		}
	}
}
