// Package dispatch fans candidate pairs out to the oracle and integrates the
// answers into the graph store from a single goroutine.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"
	"unicode"

	"github.com/danmuck/craftctl/internal/graph"
	"github.com/danmuck/craftctl/internal/observability"
	"github.com/danmuck/craftctl/internal/oracle"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

var ErrInvalidConfig = errors.New("dispatch: invalid config")

// Combiner is the oracle call a worker makes.
type Combiner interface {
	Combine(ctx context.Context, a, b string) (oracle.Result, error)
}

// Config bounds the worker pool and paces submissions.
type Config struct {
	Workers     int
	SkipNumeric bool
	ThrottleMin time.Duration
	ThrottleMax time.Duration
}

func DefaultConfig() Config {
	return Config{
		Workers:     20,
		ThrottleMin: 100 * time.Millisecond,
		ThrottleMax: 120 * time.Millisecond,
	}
}

func (c Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("%w: workers must be >= 1", ErrInvalidConfig)
	}
	if c.ThrottleMin < 0 || c.ThrottleMax < c.ThrottleMin {
		return fmt.Errorf("%w: throttle range [%s, %s]", ErrInvalidConfig, c.ThrottleMin, c.ThrottleMax)
	}
	return nil
}

// Report summarizes one Dispatch call.
type Report struct {
	Requested int
	// Filtered counts pairs dropped for the sentinel or digits.
	Filtered int
	// Duplicates counts repeats of a pair within the batch.
	Duplicates int
	// Known counts pairs already in the recipe table.
	Known            int
	Submitted        int
	Integrated       int
	Failed           int
	NewElements      int
	FirstDiscoveries int
	// Outputs lists every integrated recipe in integration order.
	Outputs     []graph.Recipe
	Interrupted bool
	Elapsed     time.Duration
}

// Dispatcher runs batches of oracle calls. Dispatch must not be called concurrently.
type Dispatcher struct {
	cfg        Config
	store      *graph.Store
	oracle     Combiner
	integrator *Integrator
	rng        *rand.Rand
}

func New(cfg Config, store *graph.Store, c Combiner) (*Dispatcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil || c == nil {
		return nil, fmt.Errorf("%w: store and oracle required", ErrInvalidConfig)
	}
	return &Dispatcher{
		cfg:        cfg,
		store:      store,
		oracle:     c,
		integrator: NewIntegrator(store),
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

type completion struct {
	pair   graph.Pair
	result oracle.Result
	err    error
}

// Dispatch filters pairs, calls the oracle for each remaining pair on the
// worker pool and integrates every answer before returning. Cancelling ctx
// abandons outstanding calls and returns the partial report without error.
func (d *Dispatcher) Dispatch(ctx context.Context, pairs []graph.Pair) (rep Report, err error) {
	start := time.Now()
	rep = Report{Requested: len(pairs)}
	defer func() { rep.Elapsed = time.Since(start) }()

	pending, err := d.filter(ctx, pairs, &rep)
	if err != nil {
		if ctx.Err() != nil {
			rep.Interrupted = true
			return rep, nil
		}
		return rep, err
	}
	if len(pending) == 0 {
		return rep, nil
	}
	log.Info().Int("pairs", len(pending)).Int("known", rep.Known).Msg("dispatch.Dispatcher.Dispatch batch")

	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan completion, len(pending))
	sem := semaphore.NewWeighted(int64(d.cfg.Workers))
	outstanding := 0

	handle := func(c completion) error {
		outstanding--
		return d.integrate(ctx, c, &rep)
	}

	for i, p := range pending {
		for !sem.TryAcquire(1) {
			select {
			case <-ctx.Done():
				return d.interrupted(rep, outstanding), nil
			case c := <-results:
				if err := handle(c); err != nil {
					return d.finish(ctx, rep, outstanding, err)
				}
			}
		}
		outstanding++
		rep.Submitted++
		observability.AddInFlight(1)
		go func(p graph.Pair) {
			res, err := d.oracle.Combine(callCtx, p.A, p.B)
			observability.AddInFlight(-1)
			sem.Release(1)
			results <- completion{pair: p, result: res, err: err}
		}(p)

	drain:
		for {
			select {
			case c := <-results:
				if err := handle(c); err != nil {
					return d.finish(ctx, rep, outstanding, err)
				}
			default:
				break drain
			}
		}

		if i < len(pending)-1 {
			if err := d.throttle(ctx); err != nil {
				return d.interrupted(rep, outstanding), nil
			}
		}
	}
	observability.RecordDispatch("submitted", rep.Submitted)

	for outstanding > 0 {
		select {
		case <-ctx.Done():
			return d.interrupted(rep, outstanding), nil
		case c := <-results:
			if err := handle(c); err != nil {
				return d.finish(ctx, rep, outstanding, err)
			}
		}
	}
	log.Info().
		Int("integrated", rep.Integrated).
		Int("new", rep.NewElements).
		Int("first", rep.FirstDiscoveries).
		Int("failed", rep.Failed).
		Dur("took", time.Since(start)).
		Msg("dispatch.Dispatcher.Dispatch done")
	return rep, nil
}

func (d *Dispatcher) filter(ctx context.Context, pairs []graph.Pair, rep *Report) ([]graph.Pair, error) {
	seen := make(map[graph.Pair]struct{}, len(pairs))
	out := make([]graph.Pair, 0, len(pairs))
	for _, raw := range pairs {
		p := graph.Canonical(raw.A, raw.B)
		if p.A == "" || p.B == "" || p.Contains(graph.Sentinel) ||
			(d.cfg.SkipNumeric && (hasDigit(p.A) || hasDigit(p.B))) {
			rep.Filtered++
			continue
		}
		if _, dup := seen[p]; dup {
			rep.Duplicates++
			continue
		}
		seen[p] = struct{}{}
		tried, err := d.store.HasRecipe(ctx, p.A, p.B)
		if err != nil {
			return nil, err
		}
		if tried {
			rep.Known++
			continue
		}
		out = append(out, p)
	}
	observability.RecordDispatch("filtered", rep.Filtered)
	observability.RecordDispatch("duplicate", rep.Duplicates)
	observability.RecordDispatch("known", rep.Known)
	return out, nil
}

func (d *Dispatcher) integrate(ctx context.Context, c completion, rep *Report) error {
	if c.err != nil {
		if ctx.Err() != nil {
			return nil
		}
		rep.Failed++
		observability.RecordDispatch("failed", 1)
		log.Error().Err(c.err).Str("a", c.pair.A).Str("b", c.pair.B).Msg("dispatch.Dispatcher combine failed")
		return nil
	}
	it, err := d.integrator.Integrate(ctx, Outcome{Pair: c.pair, Result: c.result})
	if err != nil {
		return fmt.Errorf("dispatch: integrate %q + %q: %w", c.pair.A, c.pair.B, err)
	}
	if it.Known {
		rep.Known++
		return nil
	}
	rep.Integrated++
	rep.Outputs = append(rep.Outputs, it.Recipe)
	if it.NewElement {
		rep.NewElements++
	}
	if it.FirstDiscovery {
		rep.FirstDiscoveries++
	}
	observability.RecordDispatch("integrated", 1)
	return nil
}

// finish turns an integration failure into the dispatch result; failures
// caused by cancellation count as an interrupt.
func (d *Dispatcher) finish(ctx context.Context, rep Report, outstanding int, err error) (Report, error) {
	if ctx.Err() != nil {
		return d.interrupted(rep, outstanding), nil
	}
	log.Error().Err(err).Int("outstanding", outstanding).Msg("dispatch.Dispatcher.Dispatch integration failed")
	return rep, err
}

func (d *Dispatcher) interrupted(rep Report, outstanding int) Report {
	rep.Interrupted = true
	log.Warn().
		Int("submitted", rep.Submitted).
		Int("integrated", rep.Integrated).
		Int("abandoned", outstanding).
		Msg("dispatch.Dispatcher.Dispatch interrupted")
	return rep
}

func (d *Dispatcher) throttle(ctx context.Context) error {
	wait := d.cfg.ThrottleMin
	if span := d.cfg.ThrottleMax - d.cfg.ThrottleMin; span > 0 {
		wait += time.Duration(d.rng.Int63n(int64(span) + 1))
	}
	if wait <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func hasDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}
