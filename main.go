package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bryan-buckman/feedtrak/internal/config"
	"github.com/bryan-buckman/feedtrak/internal/database"
	"github.com/bryan-buckman/feedtrak/internal/fetch"
	"github.com/bryan-buckman/feedtrak/internal/jobs"
	"github.com/bryan-buckman/feedtrak/internal/logger"
	"github.com/bryan-buckman/feedtrak/internal/opml"
	"github.com/bryan-buckman/feedtrak/internal/rss"
	"github.com/bryan-buckman/feedtrak/internal/server"
	"github.com/bryan-buckman/feedtrak/internal/youtube"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	root := &cobra.Command{
		Use:          "feedtrak",
		Short:        "RSS, Atom and YouTube feed aggregator",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")

	withApp := func(run func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, cmd, a, args)
		}
	}

	root.AddCommand(
		serveCmd(withApp),
		refreshCmd(withApp),
		thumbnailsCmd(withApp),
		importCmd(withApp),
		initConfigCmd(),
	)
	return root
}

type appRunner = func(run func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error

func serveCmd(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, job workers and scheduler",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			a.pool.Start(ctx)
			a.scheduler.Start()
			defer a.scheduler.Stop()

			srv := server.New(a.store, a.pool, a.scheduler, a.importer,
				server.Options{MaxUploadBytes: a.cfg.OPML.MaxUploadBytes}, a.log)
			return srv.Start(ctx, a.cfg.Server.Addr)
		}),
	}
}

func refreshCmd(withApp appRunner) *cobra.Command {
	var feedID int64
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Fetch all active feeds, or one feed, and wait for completion",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			a.pool.Start(ctx)
			n := 1
			if feedID > 0 {
				if err := a.scheduler.RefreshFeed(ctx, feedID); err != nil {
					return fmt.Errorf("refresh feed %d: %w", feedID, err)
				}
			} else {
				var err error
				if n, err = a.scheduler.RefreshActive(ctx); err != nil {
					return err
				}
			}
			if err := a.pool.Wait(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Refreshed %d feed(s)\n", n)
			return nil
		}),
	}
	cmd.Flags().Int64Var(&feedID, "feed", 0, "refresh only this feed ID")
	return cmd
}

func thumbnailsCmd(withApp appRunner) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "thumbnails",
		Short: "Backfill thumbnails for entries that have none",
		Args:  cobra.NoArgs,
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			a.pool.Start(ctx)
			n, err := a.thumbs.EnqueueMissing(ctx, a.pool, limit)
			if err != nil {
				return err
			}
			if err := a.pool.Wait(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Checked %d entries\n", n)
			return nil
		}),
	}
	cmd.Flags().IntVar(&limit, "limit", jobs.DefaultThumbnailBatch, "maximum entries to check")
	return cmd
}

func importCmd(withApp appRunner) *cobra.Command {
	var userID int64
	cmd := &cobra.Command{
		Use:   "import-opml FILE",
		Short: "Subscribe a user to every feed in an OPML file",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			a.pool.Start(ctx)
			summary, err := a.importer.Import(ctx, data, userID)
			if err != nil {
				return err
			}
			if err := a.pool.Wait(ctx); err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		}),
	}
	cmd.Flags().Int64Var(&userID, "user", 0, "user ID to subscribe")
	cmd.MarkFlagRequired("user")
	return cmd
}

func initConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config [PATH]",
		Short: "Write the default configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "feedtrak.yaml"
			if len(args) == 1 {
				path = args[0]
			}
			if err := config.WriteDefault(path); err != nil {
				return fmt.Errorf("write config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Generated default configuration at: %s\n", path)
			return nil
		},
	}
}

// app holds the wired components shared by the commands.
type app struct {
	cfg       *config.Config
	log       *zap.Logger
	closeLog  func() error
	store     database.Store
	cache     *youtube.BoltCache
	pool      *jobs.Pool
	scheduler *jobs.Scheduler
	thumbs    *jobs.ThumbnailFetcher
	importer  *opml.Importer
}

func newApp(cfg *config.Config) (*app, error) {
	log, closeLog, err := logger.New(cfg.LoggerConfig())
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, closeLog: closeLog}

	store, err := database.Open(cfg.Database.Driver, cfg.Database.Path, cfg.Database.DSN)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.store = store
	log.Info("database opened", zap.String("type", store.DatabaseType()))

	client := fetch.NewClient(cfg.FetchOptions())
	ytOpts := cfg.YouTubeOptions()
	if cfg.YouTube.CachePath != "" {
		cache, err := youtube.OpenBoltCache(cfg.YouTube.CachePath, youtube.DefaultCacheTTL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.cache = cache
		ytOpts.Cache = cache
	}
	discovery := rss.NewDiscovery(client, youtube.NewResolver(client, ytOpts, log), log)

	workers := cfg.Jobs.Workers
	if workers <= 0 {
		workers = jobs.WorkersFor(store)
	}
	a.pool = jobs.NewPool(workers, cfg.Jobs.QueueSize, log)
	pipeline := jobs.NewFetchFeedPipeline(store, discovery, cfg.PipelineOptions(), log)
	a.thumbs = jobs.NewThumbnailFetcher(store, client, cfg.Thumbnails.UserAgent, log)
	a.pool.Register(jobs.KindFetchFeed, pipeline.Handle, cfg.FetchPolicy())
	a.pool.Register(jobs.KindFetchThumbnail, a.thumbs.Handle, cfg.ThumbnailPolicy())

	a.scheduler = jobs.NewScheduler(store, a.pool, a.thumbs, cfg.SchedulerOptions(), log)
	a.importer = opml.NewImporter(store, discovery, a.pool, log)
	return a, nil
}

func (a *app) Close() {
	if a.pool != nil {
		a.pool.Stop()
	}
	if a.cache != nil {
		a.cache.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
	a.closeLog()
}
