package config

import (
	"maps"

	"github.com/danmuck/craftctl/internal/crawler"
	"github.com/danmuck/craftctl/internal/dispatch"
	"github.com/danmuck/craftctl/internal/oracle"
	"github.com/danmuck/craftctl/internal/strategy"
)

func (o OracleConfig) Client() oracle.Config {
	return oracle.Config{
		Endpoint:          o.Endpoint,
		MaxAttempts:       o.MaxAttempts,
		RateLimitCooldown: o.RateLimitCooldown,
		RequestTimeout:    o.RequestTimeout,
		RequestsPerSecond: o.RequestsPerSecond,
		Backoff: oracle.BackoffConfig{
			InitialDelay: o.BackoffInitial,
			Multiplier:   o.BackoffMultiplier,
			MaxDelay:     o.BackoffMax,
			Jitter:       o.BackoffJitter,
		},
		Headers: maps.Clone(o.Headers),
	}
}

func (d DispatchConfig) Dispatcher() dispatch.Config {
	return dispatch.Config{
		Workers:     d.Workers,
		SkipNumeric: d.SkipNumeric,
		ThrottleMin: d.ThrottleMin,
		ThrottleMax: d.ThrottleMax,
	}
}

func (s StrategyConfig) Options(search []string) strategy.Options {
	return strategy.Options{
		Algorithm: s.Algorithm,
		Batch:     s.Batch,
		Key:       s.Key,
		Sort:      s.Sort,
		BFSStart:  s.BFSStart,
		MaxDepth:  s.MaxDepth,
		MinLength: s.MinLength,
		Invert:    s.Invert,
		Search:    search,
		Exclude:   append([]string(nil), s.Exclude...),
		Seed:      s.Seed,
	}
}

// Service resolves search groups and builds the crawler configuration.
func (c Config) Service() (crawler.ServiceConfig, error) {
	search, err := c.SearchTargets()
	if err != nil {
		return crawler.ServiceConfig{}, err
	}
	return crawler.ServiceConfig{
		StorePath:         c.Store.Path,
		Oracle:            c.Oracle.Client(),
		Dispatch:          c.Dispatch.Dispatcher(),
		Strategy:          c.Strategy.Options(search),
		SimilarityModel:   c.Strategy.Model,
		HeartbeatInterval: c.Crawler.HeartbeatInterval,
		IdleBackoff:       c.Crawler.IdleBackoff,
		AdminListenAddr:   c.Crawler.AdminListenAddr,
		CORSOrigins:       append([]string(nil), c.Server.CORSOrigins...),
	}, nil
}
