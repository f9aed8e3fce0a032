// Package crawler runs the strategy -> dispatch -> observe loop over one store.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/danmuck/craftctl/internal/dispatch"
	"github.com/danmuck/craftctl/internal/graph"
	"github.com/danmuck/craftctl/internal/observability"
	"github.com/danmuck/craftctl/internal/oracle"
	"github.com/danmuck/craftctl/internal/server"
	"github.com/danmuck/craftctl/internal/similarity"
	"github.com/danmuck/craftctl/internal/strategy"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	ErrInvalidHeartbeatInterval = errors.New("crawler: invalid heartbeat interval")
	ErrMissingStorePath         = errors.New("crawler: missing store path")
)

// ServiceConfig configures one crawl process.
type ServiceConfig struct {
	StorePath         string
	Oracle            oracle.Config
	Dispatch          dispatch.Config
	Strategy          strategy.Options
	SimilarityModel   string
	HeartbeatInterval time.Duration
	// IdleBackoff is the pause after a strategy proposes an empty batch.
	IdleBackoff     time.Duration
	AdminListenAddr string
	CORSOrigins     []string
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		StorePath:         "infinite_craft.db",
		Oracle:            oracle.DefaultConfig(),
		Dispatch:          dispatch.DefaultConfig(),
		Strategy:          strategy.DefaultOptions(),
		SimilarityModel:   similarity.ModelLexical,
		HeartbeatInterval: 30 * time.Second,
		IdleBackoff:       time.Second,
	}
}

// Totals accumulates dispatch reports over a run.
type Totals struct {
	Batches          int
	Submitted        int
	Integrated       int
	Known            int
	Failed           int
	NewElements      int
	FirstDiscoveries int
}

func (t *Totals) add(rep dispatch.Report) {
	t.Batches++
	t.Submitted += rep.Submitted
	t.Integrated += rep.Integrated
	t.Known += rep.Known
	t.Failed += rep.Failed
	t.NewElements += rep.NewElements
	t.FirstDiscoveries += rep.FirstDiscoveries
}

// Service owns the store for the length of a run.
type Service struct {
	cfg    ServiceConfig
	runID  string
	logger zerolog.Logger

	combiner dispatch.Combiner
	sim      similarity.Similarity

	mu      sync.Mutex
	totals  Totals
	started time.Time
}

func NewService() *Service {
	return NewServiceWithConfig(DefaultServiceConfig())
}

func NewServiceWithConfig(cfg ServiceConfig) *Service {
	id := uuid.NewString()
	return &Service{
		cfg:    cfg,
		runID:  id,
		logger: observability.ComponentLogger("crawler").With().Str("run_id", id).Logger(),
	}
}

// WithCombiner replaces the HTTP oracle client.
func (s *Service) WithCombiner(c dispatch.Combiner) *Service {
	s.combiner = c
	return s
}

// WithSimilarity replaces the similarity oracle built from SimilarityModel.
func (s *Service) WithSimilarity(sim similarity.Similarity) *Service {
	s.sim = sim
	return s
}

func (s *Service) RunID() string {
	return s.runID
}

func (s *Service) Totals() Totals {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totals
}

// Run blocks until SIGINT/SIGTERM or until the strategy is exhausted.
func (s *Service) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return s.RunContext(ctx)
}

// RunContext crawls until ctx is done. Cancellation is a clean exit; the
// store keeps every batch integrated so far.
func (s *Service) RunContext(ctx context.Context) (err error) {
	if s.cfg.HeartbeatInterval <= 0 {
		return ErrInvalidHeartbeatInterval
	}
	if strings.TrimSpace(s.cfg.StorePath) == "" {
		return ErrMissingStorePath
	}

	store, err := graph.Open(ctx, s.cfg.StorePath)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("crawler: close store: %w", cerr)
		}
		s.logger.Info().Str("store", s.cfg.StorePath).Msg("crawler.Service store closed")
	}()
	if err := store.SeedPrimitives(ctx); err != nil {
		return err
	}

	d, st, err := s.build(store)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	adminErr := make(chan error, 1)
	var adminDone chan struct{}
	if addr := strings.TrimSpace(s.cfg.AdminListenAddr); addr != "" {
		api := server.New(addr, store, s.cfg.CORSOrigins)
		adminDone = make(chan struct{})
		go func() {
			defer close(adminDone)
			adminErr <- api.Serve(ctx)
		}()
	}
	go s.heartbeat(ctx)

	s.mu.Lock()
	s.started = time.Now()
	s.mu.Unlock()
	s.logger.Info().
		Str("algorithm", st.Name()).
		Int("batch", s.cfg.Strategy.Batch).
		Int("workers", s.cfg.Dispatch.Workers).
		Str("store", s.cfg.StorePath).
		Msg("crawler.Service started")

	err = s.loop(ctx, d, st, adminErr)
	cancel()
	if adminDone != nil {
		<-adminDone
	}
	s.logFinal()
	return err
}

func (s *Service) build(store *graph.Store) (*dispatch.Dispatcher, strategy.Strategy, error) {
	combiner := s.combiner
	if combiner == nil {
		client, err := oracle.New(s.cfg.Oracle, nil)
		if err != nil {
			return nil, nil, err
		}
		combiner = client
	}
	d, err := dispatch.New(s.cfg.Dispatch, store, combiner)
	if err != nil {
		return nil, nil, err
	}

	sim := s.sim
	if sim == nil && strings.EqualFold(strings.TrimSpace(s.cfg.Strategy.Algorithm), strategy.AlgorithmFind) {
		if sim, err = similarity.New(s.cfg.SimilarityModel, similarity.Options{}); err != nil {
			return nil, nil, err
		}
	}
	st, err := strategy.New(s.cfg.Strategy, store, sim)
	if err != nil {
		return nil, nil, err
	}
	return d, st, nil
}

func (s *Service) loop(ctx context.Context, d *dispatch.Dispatcher, st strategy.Strategy, adminErr <-chan error) error {
	for {
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("crawler.Service interrupted")
			return nil
		case err := <-adminErr:
			if err != nil {
				return err
			}
		default:
		}

		pairs, err := st.Next(ctx)
		if errors.Is(err, strategy.ErrExhausted) {
			s.logger.Info().Str("algorithm", st.Name()).Msg("crawler.Service strategy exhausted")
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("crawler: %s next: %w", st.Name(), err)
		}
		if len(pairs) == 0 {
			if err := sleep(ctx, s.cfg.IdleBackoff); err != nil {
				return nil
			}
			continue
		}

		rep, err := d.Dispatch(ctx, pairs)
		s.record(rep)
		if err != nil {
			return err
		}
		if rep.Interrupted {
			s.logger.Info().Int("integrated", rep.Integrated).Msg("crawler.Service interrupted mid-batch")
			return nil
		}
		s.logger.Debug().
			Int("requested", rep.Requested).
			Int("submitted", rep.Submitted).
			Int("integrated", rep.Integrated).
			Int("new", rep.NewElements).
			Int("first", rep.FirstDiscoveries).
			Dur("elapsed", rep.Elapsed).
			Msg("crawler.Service batch")
		if err := st.Observe(ctx, rep); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("crawler: %s observe: %w", st.Name(), err)
		}
	}
}

func (s *Service) record(rep dispatch.Report) {
	s.mu.Lock()
	s.totals.add(rep)
	s.mu.Unlock()
}

func (s *Service) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t := s.Totals()
			s.logger.Info().
				Int("batches", t.Batches).
				Int("submitted", t.Submitted).
				Int("integrated", t.Integrated).
				Int("new", t.NewElements).
				Int("first", t.FirstDiscoveries).
				Int("failed", t.Failed).
				Msg("crawler.Service.heartbeat")
		}
	}
}

func (s *Service) logFinal() {
	s.mu.Lock()
	t, started := s.totals, s.started
	s.mu.Unlock()
	s.logger.Info().
		Int("batches", t.Batches).
		Int("integrated", t.Integrated).
		Int("known", t.Known).
		Int("new", t.NewElements).
		Int("first", t.FirstDiscoveries).
		Int("failed", t.Failed).
		Dur("uptime", time.Since(started)).
		Msg("crawler.Service stopped")
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
