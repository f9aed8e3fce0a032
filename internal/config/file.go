package config

import (
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	gotoml "github.com/pelletier/go-toml/v2"
)

// fileConfig is the on-disk layout. Durations are Go duration strings.
type fileConfig struct {
	GroupDir string              `toml:"group_dir"`
	Store    fileStore           `toml:"store"`
	Oracle   fileOracle          `toml:"oracle"`
	Dispatch fileDispatch        `toml:"dispatch"`
	Strategy fileStrategy        `toml:"strategy"`
	Crawler  fileCrawler         `toml:"crawler"`
	Server   fileServer          `toml:"server"`
	Groups   map[string][]string `toml:"groups"`
}

type fileStore struct {
	Path string `toml:"path"`
}

type fileOracle struct {
	Endpoint          string            `toml:"endpoint"`
	MaxAttempts       int               `toml:"max_attempts"`
	RateLimitCooldown string            `toml:"rate_limit_cooldown"`
	RequestTimeout    string            `toml:"request_timeout"`
	RequestsPerSecond float64           `toml:"requests_per_second"`
	BackoffInitial    string            `toml:"backoff_initial"`
	BackoffMax        string            `toml:"backoff_max"`
	BackoffMultiplier float64           `toml:"backoff_multiplier"`
	BackoffJitter     bool              `toml:"backoff_jitter"`
	Headers           map[string]string `toml:"headers"`
}

type fileDispatch struct {
	Workers     int    `toml:"workers"`
	SkipNumeric bool   `toml:"skip_numeric"`
	ThrottleMin string `toml:"throttle_min"`
	ThrottleMax string `toml:"throttle_max"`
}

type fileStrategy struct {
	Algorithm string   `toml:"algorithm"`
	Batch     int      `toml:"batch"`
	Key       string   `toml:"key"`
	Sort      string   `toml:"sort"`
	BFSStart  int      `toml:"bfs_start"`
	MaxDepth  int      `toml:"max_depth"`
	MinLength int      `toml:"min_length"`
	Invert    bool     `toml:"invert"`
	Search    []string `toml:"search"`
	Exclude   []string `toml:"exclude"`
	Groups    []string `toml:"groups"`
	Model     string   `toml:"model"`
	Seed      int64    `toml:"seed"`
}

type fileCrawler struct {
	HeartbeatInterval string `toml:"heartbeat_interval"`
	IdleBackoff       string `toml:"idle_backoff"`
	AdminListenAddr   string `toml:"admin_listen_addr"`
}

type fileServer struct {
	Addr        string   `toml:"addr"`
	CORSOrigins []string `toml:"cors_origins"`
}

func (f fileConfig) apply(meta toml.MetaData, cfg *Config) error {
	if meta.IsDefined("group_dir") {
		cfg.GroupDir = strings.TrimSpace(f.GroupDir)
	}
	if meta.IsDefined("groups") {
		for name, elems := range f.Groups {
			cfg.Groups[strings.TrimSpace(name)] = normalizeList(elems)
		}
	}
	if meta.IsDefined("store", "path") {
		cfg.Store.Path = strings.TrimSpace(f.Store.Path)
	}

	o := &cfg.Oracle
	if meta.IsDefined("oracle", "endpoint") {
		o.Endpoint = strings.TrimSpace(f.Oracle.Endpoint)
	}
	if meta.IsDefined("oracle", "max_attempts") {
		o.MaxAttempts = f.Oracle.MaxAttempts
	}
	if meta.IsDefined("oracle", "requests_per_second") {
		o.RequestsPerSecond = f.Oracle.RequestsPerSecond
	}
	if meta.IsDefined("oracle", "backoff_multiplier") {
		o.BackoffMultiplier = f.Oracle.BackoffMultiplier
	}
	if meta.IsDefined("oracle", "backoff_jitter") {
		o.BackoffJitter = f.Oracle.BackoffJitter
	}
	if meta.IsDefined("oracle", "headers") {
		headers := maps.Clone(o.Headers)
		if headers == nil {
			headers = map[string]string{}
		}
		for k, v := range f.Oracle.Headers {
			if v == "" {
				delete(headers, k)
				continue
			}
			headers[k] = v
		}
		o.Headers = headers
	}

	d := &cfg.Dispatch
	if meta.IsDefined("dispatch", "workers") {
		d.Workers = f.Dispatch.Workers
	}
	if meta.IsDefined("dispatch", "skip_numeric") {
		d.SkipNumeric = f.Dispatch.SkipNumeric
	}

	s := &cfg.Strategy
	if meta.IsDefined("strategy", "algorithm") {
		s.Algorithm = strings.ToLower(strings.TrimSpace(f.Strategy.Algorithm))
	}
	if meta.IsDefined("strategy", "batch") {
		s.Batch = f.Strategy.Batch
	}
	if meta.IsDefined("strategy", "key") {
		s.Key = strings.TrimSpace(f.Strategy.Key)
	}
	if meta.IsDefined("strategy", "sort") {
		s.Sort = strings.TrimSpace(f.Strategy.Sort)
	}
	if meta.IsDefined("strategy", "bfs_start") {
		s.BFSStart = f.Strategy.BFSStart
	}
	if meta.IsDefined("strategy", "max_depth") {
		s.MaxDepth = f.Strategy.MaxDepth
	}
	if meta.IsDefined("strategy", "min_length") {
		s.MinLength = f.Strategy.MinLength
	}
	if meta.IsDefined("strategy", "invert") {
		s.Invert = f.Strategy.Invert
	}
	if meta.IsDefined("strategy", "search") {
		s.Search = normalizeList(f.Strategy.Search)
	}
	if meta.IsDefined("strategy", "exclude") {
		s.Exclude = normalizeList(f.Strategy.Exclude)
	}
	if meta.IsDefined("strategy", "groups") {
		s.Groups = normalizeList(f.Strategy.Groups)
	}
	if meta.IsDefined("strategy", "model") {
		s.Model = strings.TrimSpace(f.Strategy.Model)
	}
	if meta.IsDefined("strategy", "seed") {
		s.Seed = f.Strategy.Seed
	}

	if meta.IsDefined("crawler", "admin_listen_addr") {
		cfg.Crawler.AdminListenAddr = strings.TrimSpace(f.Crawler.AdminListenAddr)
	}
	if meta.IsDefined("server", "addr") {
		cfg.Server.Addr = strings.TrimSpace(f.Server.Addr)
	}
	if meta.IsDefined("server", "cors_origins") {
		cfg.Server.CORSOrigins = normalizeList(f.Server.CORSOrigins)
	}

	durations := []struct {
		key []string
		raw string
		dst *time.Duration
	}{
		{[]string{"oracle", "rate_limit_cooldown"}, f.Oracle.RateLimitCooldown, &o.RateLimitCooldown},
		{[]string{"oracle", "request_timeout"}, f.Oracle.RequestTimeout, &o.RequestTimeout},
		{[]string{"oracle", "backoff_initial"}, f.Oracle.BackoffInitial, &o.BackoffInitial},
		{[]string{"oracle", "backoff_max"}, f.Oracle.BackoffMax, &o.BackoffMax},
		{[]string{"dispatch", "throttle_min"}, f.Dispatch.ThrottleMin, &d.ThrottleMin},
		{[]string{"dispatch", "throttle_max"}, f.Dispatch.ThrottleMax, &d.ThrottleMax},
		{[]string{"crawler", "heartbeat_interval"}, f.Crawler.HeartbeatInterval, &cfg.Crawler.HeartbeatInterval},
		{[]string{"crawler", "idle_backoff"}, f.Crawler.IdleBackoff, &cfg.Crawler.IdleBackoff},
	}
	for _, dur := range durations {
		if !meta.IsDefined(dur.key...) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(dur.raw))
		if err != nil {
			return fmt.Errorf("%w: parse %s: %w", ErrInvalidConfig, strings.Join(dur.key, "."), err)
		}
		*dur.dst = v
	}
	return nil
}

// Encode renders cfg in the file layout Load reads.
func Encode(cfg Config) ([]byte, error) {
	out, err := gotoml.Marshal(toFile(cfg))
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return out, nil
}

func toFile(cfg Config) fileConfig {
	return fileConfig{
		GroupDir: cfg.GroupDir,
		Store:    fileStore{Path: cfg.Store.Path},
		Oracle: fileOracle{
			Endpoint:          cfg.Oracle.Endpoint,
			MaxAttempts:       cfg.Oracle.MaxAttempts,
			RateLimitCooldown: cfg.Oracle.RateLimitCooldown.String(),
			RequestTimeout:    cfg.Oracle.RequestTimeout.String(),
			RequestsPerSecond: cfg.Oracle.RequestsPerSecond,
			BackoffInitial:    cfg.Oracle.BackoffInitial.String(),
			BackoffMax:        cfg.Oracle.BackoffMax.String(),
			BackoffMultiplier: cfg.Oracle.BackoffMultiplier,
			BackoffJitter:     cfg.Oracle.BackoffJitter,
			Headers:           cfg.Oracle.Headers,
		},
		Dispatch: fileDispatch{
			Workers:     cfg.Dispatch.Workers,
			SkipNumeric: cfg.Dispatch.SkipNumeric,
			ThrottleMin: cfg.Dispatch.ThrottleMin.String(),
			ThrottleMax: cfg.Dispatch.ThrottleMax.String(),
		},
		Strategy: fileStrategy{
			Algorithm: cfg.Strategy.Algorithm,
			Batch:     cfg.Strategy.Batch,
			Key:       cfg.Strategy.Key,
			Sort:      cfg.Strategy.Sort,
			BFSStart:  cfg.Strategy.BFSStart,
			MaxDepth:  cfg.Strategy.MaxDepth,
			MinLength: cfg.Strategy.MinLength,
			Invert:    cfg.Strategy.Invert,
			Search:    cfg.Strategy.Search,
			Exclude:   cfg.Strategy.Exclude,
			Groups:    cfg.Strategy.Groups,
			Model:     cfg.Strategy.Model,
			Seed:      cfg.Strategy.Seed,
		},
		Crawler: fileCrawler{
			HeartbeatInterval: cfg.Crawler.HeartbeatInterval.String(),
			IdleBackoff:       cfg.Crawler.IdleBackoff.String(),
			AdminListenAddr:   cfg.Crawler.AdminListenAddr,
		},
		Server: fileServer{
			Addr:        cfg.Server.Addr,
			CORSOrigins: cfg.Server.CORSOrigins,
		},
		Groups: cfg.Groups,
	}
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
