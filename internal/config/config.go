// Package config loads the craftctl TOML file on top of built-in defaults.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/craftctl/internal/graph"
	"github.com/danmuck/craftctl/internal/oracle"
	"github.com/danmuck/craftctl/internal/strategy"
)

var (
	ErrInvalidConfig = errors.New("config: invalid config")
	ErrUnknownGroup  = errors.New("config: unknown search group")
)

type Config struct {
	Store    StoreConfig
	Oracle   OracleConfig
	Dispatch DispatchConfig
	Strategy StrategyConfig
	Crawler  CrawlerConfig
	Server   ServerConfig
	// GroupDir holds <name>.yaml search groups; inline Groups win over files.
	GroupDir string
	Groups   map[string][]string
}

type StoreConfig struct {
	Path string
}

type OracleConfig struct {
	Endpoint          string
	MaxAttempts       int
	RateLimitCooldown time.Duration
	RequestTimeout    time.Duration
	RequestsPerSecond float64
	BackoffInitial    time.Duration
	BackoffMax        time.Duration
	BackoffMultiplier float64
	BackoffJitter     bool
	Headers           map[string]string
}

type DispatchConfig struct {
	Workers     int
	SkipNumeric bool
	ThrottleMin time.Duration
	ThrottleMax time.Duration
}

type StrategyConfig struct {
	Algorithm string
	Batch     int
	Key       string
	Sort      string
	BFSStart  int
	MaxDepth  int
	MinLength int
	Invert    bool
	Search    []string
	Exclude   []string
	Groups    []string
	// Model selects the similarity oracle used by find.
	Model string
	Seed  int64
}

type CrawlerConfig struct {
	HeartbeatInterval time.Duration
	IdleBackoff       time.Duration
	// AdminListenAddr starts the read API next to the crawl when set.
	AdminListenAddr string
}

type ServerConfig struct {
	Addr        string
	CORSOrigins []string
}

func DefaultConfig() Config {
	oc := oracle.DefaultConfig()
	sc := strategy.DefaultOptions()
	return Config{
		Store: StoreConfig{Path: "infinite_craft.db"},
		Oracle: OracleConfig{
			Endpoint:          oc.Endpoint,
			MaxAttempts:       oc.MaxAttempts,
			RateLimitCooldown: oc.RateLimitCooldown,
			RequestTimeout:    oc.RequestTimeout,
			BackoffMultiplier: 2,
			Headers:           oc.Headers,
		},
		Dispatch: DispatchConfig{
			Workers:     20,
			ThrottleMin: 100 * time.Millisecond,
			ThrottleMax: 120 * time.Millisecond,
		},
		Strategy: StrategyConfig{
			Algorithm: sc.Algorithm,
			Batch:     sc.Batch,
			Key:       sc.Key,
			Sort:      sc.Sort,
			MaxDepth:  sc.MaxDepth,
			Model:     "lexical",
		},
		Crawler: CrawlerConfig{
			HeartbeatInterval: 30 * time.Second,
			IdleBackoff:       time.Second,
		},
		Server: ServerConfig{
			Addr:        ":3001",
			CORSOrigins: []string{"http://localhost:3000"},
		},
		GroupDir: "groups",
		Groups:   map[string][]string{},
	}
}

// Load applies every key defined in the file at path over DefaultConfig and
// validates the result.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%w: unknown key %q", ErrInvalidConfig, undecoded[0].String())
	}
	if err := raw.apply(meta, &cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.Store.Path) == "" {
		return fmt.Errorf("%w: store.path is required", ErrInvalidConfig)
	}
	u, err := url.Parse(c.Oracle.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: oracle.endpoint %q is not an absolute url", ErrInvalidConfig, c.Oracle.Endpoint)
	}
	if c.Oracle.MaxAttempts < 1 {
		return fmt.Errorf("%w: oracle.max_attempts must be >= 1", ErrInvalidConfig)
	}
	if c.Oracle.RateLimitCooldown < 0 || c.Oracle.RequestTimeout <= 0 || c.Oracle.RequestsPerSecond < 0 {
		return fmt.Errorf("%w: oracle timings must be positive", ErrInvalidConfig)
	}
	if err := c.Dispatch.Dispatcher().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := c.Strategy.validate(); err != nil {
		return err
	}
	if c.Crawler.HeartbeatInterval <= 0 || c.Crawler.IdleBackoff < 0 {
		return fmt.Errorf("%w: crawler intervals must be positive", ErrInvalidConfig)
	}
	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("%w: server.addr is required", ErrInvalidConfig)
	}
	return nil
}

func (s StrategyConfig) validate() error {
	algorithm := strings.ToLower(strings.TrimSpace(s.Algorithm))
	if !slices.Contains(strategy.Algorithms, algorithm) {
		return fmt.Errorf("%w: strategy.algorithm %q (want one of %s)",
			ErrInvalidConfig, s.Algorithm, strings.Join(strategy.Algorithms, ", "))
	}
	if s.Batch < 1 {
		return fmt.Errorf("%w: strategy.batch must be >= 1", ErrInvalidConfig)
	}
	if _, err := graph.ParseColumn(s.Key); err != nil {
		return fmt.Errorf("%w: strategy.key: %w", ErrInvalidConfig, err)
	}
	if _, err := graph.ParseOrder(s.Sort); err != nil {
		return fmt.Errorf("%w: strategy.sort: %w", ErrInvalidConfig, err)
	}
	switch algorithm {
	case strategy.AlgorithmSearch, strategy.AlgorithmFind, strategy.AlgorithmExplore:
		if len(s.Search) == 0 && len(s.Groups) == 0 {
			return fmt.Errorf("%w: %s needs strategy.search or strategy.groups", ErrInvalidConfig, algorithm)
		}
	}
	return nil
}
