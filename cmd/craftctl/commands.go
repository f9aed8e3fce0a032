package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/danmuck/craftctl/internal/config"
	"github.com/danmuck/craftctl/internal/crawler"
	"github.com/danmuck/craftctl/internal/depth"
	"github.com/danmuck/craftctl/internal/graph"
	"github.com/danmuck/craftctl/internal/server"
	"github.com/danmuck/craftctl/internal/strategy"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var errNothingToDo = errors.New("craftctl: maintain needs at least one pass flag")

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:           "craftctl",
		Short:         "Crawl the Infinite Craft recipe graph into SQLite",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "config file")
	root.AddCommand(
		newCrawlCmd(&configPath),
		newServeCmd(&configPath),
		newMaintainCmd(&configPath),
		newConfigCmd(&configPath),
	)
	return root
}

// crawlFlags mirror config keys; only flags set on the command line win.
type crawlFlags struct {
	db          string
	algorithm   string
	batch       int
	key         string
	sort        string
	bfsStart    int
	maxDepth    int
	minLength   int
	skipNumeric bool
	invert      bool
	search      []string
	exclude     []string
	groups      []string
	model       string
	workers     int
	seed        int64
	admin       string
}

func (f *crawlFlags) bind(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.db, "db", "", "sqlite database path")
	fs.StringVarP(&f.algorithm, "algorithm", "a", "", "strategy: "+strings.Join(strategy.Algorithms, ", "))
	fs.IntVarP(&f.batch, "batch", "b", 0, "pairs proposed per batch")
	fs.StringVar(&f.key, "key", "", "element column for bfs layers, weighting and explore order")
	fs.StringVar(&f.sort, "sort", "", "order within a bfs layer")
	fs.IntVar(&f.bfsStart, "bfs-start", 0, "first bfs layer")
	fs.IntVar(&f.maxDepth, "max-depth", 0, "deepest element shortest may use")
	fs.IntVar(&f.minLength, "min-length", 0, "shortest anchor text length floor")
	fs.BoolVar(&f.skipNumeric, "skip-numeric", false, "drop pairs containing digits")
	fs.BoolVar(&f.invert, "invert", false, "invert weighted-random weights")
	fs.StringSliceVarP(&f.search, "search", "s", nil, "target elements for search, find and explore")
	fs.StringSliceVar(&f.exclude, "exclude", nil, "elements search never grows with")
	fs.StringSliceVarP(&f.groups, "groups", "g", nil, "named search groups")
	fs.StringVar(&f.model, "model", "", "similarity model for find")
	fs.IntVarP(&f.workers, "workers", "w", 0, "concurrent oracle calls")
	fs.Int64Var(&f.seed, "seed", 0, "random seed, 0 for the clock")
	fs.StringVar(&f.admin, "admin", "", "serve the read API on this address while crawling")
}

func (f *crawlFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("db") {
		cfg.Store.Path = strings.TrimSpace(f.db)
	}
	if changed("algorithm") {
		cfg.Strategy.Algorithm = strings.ToLower(strings.TrimSpace(f.algorithm))
	}
	if changed("batch") {
		cfg.Strategy.Batch = f.batch
	}
	if changed("key") {
		cfg.Strategy.Key = strings.TrimSpace(f.key)
	}
	if changed("sort") {
		cfg.Strategy.Sort = strings.TrimSpace(f.sort)
	}
	if changed("bfs-start") {
		cfg.Strategy.BFSStart = f.bfsStart
	}
	if changed("max-depth") {
		cfg.Strategy.MaxDepth = f.maxDepth
	}
	if changed("min-length") {
		cfg.Strategy.MinLength = f.minLength
	}
	if changed("skip-numeric") {
		cfg.Dispatch.SkipNumeric = f.skipNumeric
	}
	if changed("invert") {
		cfg.Strategy.Invert = f.invert
	}
	if changed("search") {
		cfg.Strategy.Search = f.search
	}
	if changed("exclude") {
		cfg.Strategy.Exclude = f.exclude
	}
	if changed("groups") {
		cfg.Strategy.Groups = f.groups
	}
	if changed("model") {
		cfg.Strategy.Model = strings.TrimSpace(f.model)
	}
	if changed("workers") {
		cfg.Dispatch.Workers = f.workers
	}
	if changed("seed") {
		cfg.Strategy.Seed = f.seed
	}
	if changed("admin") {
		cfg.Crawler.AdminListenAddr = strings.TrimSpace(f.admin)
	}
}

func newCrawlCmd(configPath *string) *cobra.Command {
	var flags crawlFlags
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run a strategy against the oracle until exhausted or interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, *configPath)
			if err != nil {
				return err
			}
			flags.apply(cmd, &cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			svcCfg, err := cfg.Service()
			if err != nil {
				return err
			}
			return crawler.NewServiceWithConfig(svcCfg).Run()
		},
	}
	flags.bind(cmd)
	return cmd
}

func newServeCmd(configPath *string) *cobra.Command {
	var db, addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the read-only recipe API over a crawl database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, *configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("db") {
				cfg.Store.Path = db
			}
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			store, err := graph.Open(ctx, cfg.Store.Path)
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.SeedPrimitives(ctx); err != nil {
				return err
			}
			return server.New(cfg.Server.Addr, store, cfg.Server.CORSOrigins).Serve(ctx)
		},
	}
	cmd.Flags().StringVar(&db, "db", "", "sqlite database path")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address")
	return cmd
}

func newMaintainCmd(configPath *string) *cobra.Command {
	var (
		db   string
		opts depth.Options
	)
	cmd := &cobra.Command{
		Use:   "maintain",
		Short: "Purge sentinel recipes and rebuild depths, paths and counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !opts.PurgeSentinel && !opts.PurgeSentinelOutputs && !opts.Recompute && !opts.Recount {
				return errNothingToDo
			}
			cfg, err := loadConfig(cmd, *configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("db") {
				cfg.Store.Path = db
			}
			return runMaintain(cmd.Context(), cfg.Store.Path, opts)
		},
	}
	cmd.Flags().StringVar(&db, "db", "", "sqlite database path")
	cmd.Flags().BoolVar(&opts.PurgeSentinel, "purge-sentinel", false, "delete recipes using the sentinel as an input")
	cmd.Flags().BoolVar(&opts.PurgeSentinelOutputs, "purge-outputs", false, "also delete recipes producing the sentinel")
	cmd.Flags().BoolVar(&opts.Recompute, "recompute", false, "rebuild depths and shortest paths from the primitives")
	cmd.Flags().BoolVar(&opts.Recount, "recount", false, "rebuild yield, recipe_count and freq")
	return cmd
}

func runMaintain(ctx context.Context, path string, opts depth.Options) (err error) {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	store, err := graph.Open(ctx, path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close store: %w", cerr)
		}
	}()
	if err := store.SeedPrimitives(ctx); err != nil {
		return err
	}
	sum, err := depth.Maintain(ctx, store, opts)
	if err != nil {
		return err
	}
	log.Info().
		Str("store", path).
		Int64("purged", sum.Purged).
		Dur("elapsed", sum.Duration).
		Msg("craftctl maintain done")
	return nil
}
