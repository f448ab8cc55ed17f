package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/renderinc/drive-search/internal/config"
	"github.com/renderinc/drive-search/internal/embeddings"
	"github.com/renderinc/drive-search/internal/expansion"
	"github.com/renderinc/drive-search/internal/onedrive"
	"github.com/renderinc/drive-search/internal/rerank"
	"github.com/renderinc/drive-search/internal/search"
	"github.com/renderinc/drive-search/internal/storage"
	"github.com/renderinc/drive-search/internal/sync"
	"github.com/renderinc/drive-search/internal/web"
	"github.com/urfave/cli/v2"
	"golang.org/x/oauth2"
)

const configKey = "config"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		slog.Error("drive-search failed", "err", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	ownerFlag := &cli.Int64Flag{
		Name:     "owner",
		Aliases:  []string{"o"},
		Usage:    "Owner ID",
		Required: true,
	}

	return &cli.App{
		Name:  "drive-search",
		Usage: "Search your OneDrive documents",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a TOML config file",
				EnvVars: []string{config.EnvPrefix + "CONFIG"},
			},
			&cli.StringFlag{
				Name:  "data-dir",
				Usage: "Directory for database and index files (overrides config)",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
		},
		Before: func(c *cli.Context) error {
			if err := setupLogger(c); err != nil {
				return err
			}
			return loadConfig(c)
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Start the HTTP API and webhook receiver",
				Action: serveCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "host", Usage: "Host to bind to (overrides config)"},
					&cli.IntFlag{Name: "port", Usage: "Port to listen on (overrides config)"},
				},
			},
			{
				Name:   "sync",
				Usage:  "Sync an owner's drive into the index",
				Action: syncCommand,
				Flags:  []cli.Flag{ownerFlag},
			},
			{
				Name:      "search",
				Usage:     "Run the full search pipeline for an owner",
				ArgsUsage: "<query>",
				Action:    searchCommand,
				Flags:     []cli.Flag{ownerFlag},
			},
			{
				Name:   "status",
				Usage:  "Show an owner's sync status",
				Action: statusCommand,
				Flags:  []cli.Flag{ownerFlag},
			},
			{
				Name:   "stats",
				Usage:  "Show document and index statistics for an owner",
				Action: statsCommand,
				Flags:  []cli.Flag{ownerFlag},
			},
			{
				Name:  "owner",
				Usage: "Manage owners",
				Subcommands: []*cli.Command{
					{
						Name:   "add",
						Usage:  "Register an owner from an existing refresh token",
						Action: ownerAddCommand,
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "email", Required: true},
							&cli.StringFlag{Name: "ms-id", Usage: "Microsoft account object ID", Required: true},
							&cli.StringFlag{Name: "name"},
							&cli.StringFlag{
								Name:     "refresh-token",
								EnvVars:  []string{config.EnvPrefix + "REFRESH_TOKEN"},
								Required: true,
							},
						},
					},
					{
						Name:   "list",
						Usage:  "List registered owners",
						Action: ownerListCommand,
					},
				},
			},
		},
	}
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}

func loadConfig(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	if dir := c.String("data-dir"); dir != "" {
		cfg.DataDir = dir
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if c.App.Metadata == nil {
		c.App.Metadata = make(map[string]interface{})
	}
	c.App.Metadata[configKey] = cfg
	return nil
}

func configFrom(c *cli.Context) *config.Config {
	cfg, ok := c.App.Metadata[configKey].(*config.Config)
	if !ok {
		return config.Default()
	}
	return cfg
}

// services holds the components the commands share
type services struct {
	cfg     *config.Config
	logger  *slog.Logger
	db      *storage.DB
	indexes *search.Indexes
	oauth   *oauth2.Config
	engine  *sync.Engine
}

func openServices(cfg *config.Config) (*services, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	logger := slog.Default()
	db, err := storage.Open(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &services{
		cfg:     cfg,
		logger:  logger,
		db:      db,
		indexes: search.NewIndexes(cfg.IndexDir(), cfg.Search.ExistingScanLimit, logger),
		oauth: onedrive.NewOAuthConfig(cfg.Graph.ClientID, cfg.Graph.ClientSecret,
			cfg.Graph.Tenant, cfg.Graph.RedirectURL, cfg.Graph.Scopes),
	}

	s.engine, err = sync.NewEngine(db, s.indexes,
		func(owner *storage.Owner) sync.Remote { return s.session(owner) },
		sync.WithWorkers(cfg.Sync.Workers),
		sync.WithSource(cfg.Sync.Source),
		sync.WithLogger(logger),
	)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("create sync engine: %w", err)
	}
	return s, nil
}

func (s *services) session(owner *storage.Owner) *onedrive.Session {
	return onedrive.NewSession(s.oauth, s.db, owner, s.logger,
		onedrive.WithBaseURL(s.cfg.Graph.BaseURL),
		onedrive.WithRateLimit(s.cfg.Graph.RequestsPerSecond),
	)
}

// pipeline builds the search cascade; the model servers are only contacted
// when a search runs.
func (s *services) pipeline(ctx context.Context) (*search.Pipeline, error) {
	e := s.cfg.Embedding
	embedder, err := embeddings.NewEmbedder(e.Provider, e.URL, e.Model, e.Token)
	if err != nil {
		return nil, err
	}
	if err := embedder.Health(ctx); err != nil {
		s.logger.Warn("embedding service unavailable, searches will fail until it is up",
			"provider", e.Provider, "err", err)
	}

	dense, err := rerank.NewDense(embedder,
		rerank.WithBatchSize(e.BatchSize),
		rerank.WithCacheSize(e.CacheSize),
		rerank.WithLogger(s.logger),
	)
	if err != nil {
		return nil, err
	}

	scorer := embeddings.NewTEIScorer(s.cfg.CrossEncoder.URL)
	if err := scorer.CheckModel(ctx, s.cfg.CrossEncoder.Model); err != nil {
		s.logger.Warn("cross encoder check failed",
			"url", s.cfg.CrossEncoder.URL, "model", s.cfg.CrossEncoder.Model, "err", err)
	}
	cross, err := rerank.NewCrossEncoder(scorer,
		rerank.WithBatchSize(s.cfg.CrossEncoder.BatchSize),
		rerank.WithLogger(s.logger),
	)
	if err != nil {
		return nil, err
	}

	return search.NewPipeline(s.indexes, expansion.Expand, dense, cross, s.cfg.Stages(), s.logger), nil
}

func (s *services) Close() {
	if s.engine != nil {
		s.engine.Release()
	}
	if err := s.indexes.Close(); err != nil {
		s.logger.Warn("close indexes", "err", err)
	}
	if err := s.db.Close(); err != nil {
		s.logger.Warn("close database", "err", err)
	}
}

func serveCommand(c *cli.Context) error {
	cfg := configFrom(c)
	if host := c.String("host"); host != "" {
		cfg.Server.Host = host
	}
	if port := c.Int("port"); port != 0 {
		cfg.Server.Port = port
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := openServices(cfg)
	if err != nil {
		return err
	}
	defer svc.Close()

	pipeline, err := svc.pipeline(ctx)
	if err != nil {
		return err
	}

	server := web.NewServer(svc.db, pipeline, svc.engine,
		func(owner *storage.Owner) web.Drive { return svc.session(owner) }, svc.logger)

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		svc.logger.Info("listening", "addr", "http://"+cfg.Addr())
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	svc.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func syncCommand(c *cli.Context) error {
	svc, err := openServices(configFrom(c))
	if err != nil {
		return err
	}
	defer svc.Close()

	stats, err := svc.engine.Run(c.Context, c.Int64("owner"))
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	mode := "incremental"
	if stats.FirstRun {
		mode = "full walk"
	}
	fmt.Println()
	fmt.Println("=== Sync Complete ===")
	fmt.Printf("Run:          %s (%s)\n", stats.RunID, mode)
	fmt.Printf("Changes:      %d\n", stats.Changes)
	fmt.Printf("New:          %d\n", stats.New)
	fmt.Printf("Updated:      %d\n", stats.Updated)
	fmt.Printf("Deleted:      %d\n", stats.Deleted)
	fmt.Printf("Skipped:      %d\n", stats.Skipped)
	fmt.Printf("Unsupported:  %d\n", stats.Unsupported)
	fmt.Printf("Failed:       %d\n", stats.Failed)
	fmt.Printf("Indexed:      %d (%d failed)\n", stats.Indexed, stats.IndexFailed)
	fmt.Printf("Downloaded:   %s\n", humanize.Bytes(uint64(stats.Bytes)))
	fmt.Printf("Duration:     %v\n", stats.Duration.Round(time.Millisecond))
	return nil
}

func searchCommand(c *cli.Context) error {
	query := strings.Join(c.Args().Slice(), " ")
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("search query required")
	}

	svc, err := openServices(configFrom(c))
	if err != nil {
		return err
	}
	defer svc.Close()

	pipeline, err := svc.pipeline(c.Context)
	if err != nil {
		return err
	}

	results, err := pipeline.Run(c.Context, c.Int64("owner"), query)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	if len(results) == 0 {
		fmt.Println("No results found")
		return nil
	}

	fmt.Printf("\nFound %d results:\n\n", len(results))
	for i, r := range results {
		fmt.Printf("%d. %s\n", i+1, r.Filename)
		fmt.Printf("   ID: %s\n", r.ID)
		fmt.Printf("   Score: %.3f\n", r.Score)
		if r.Snippet != "" {
			fmt.Printf("   Preview: %s\n", r.Snippet)
		}
		fmt.Println()
	}
	return nil
}

func statusCommand(c *cli.Context) error {
	svc, err := openServices(configFrom(c))
	if err != nil {
		return err
	}
	defer svc.Close()

	status, at, err := svc.db.GetSyncStatus(c.Context, c.Int64("owner"))
	if err != nil {
		return err
	}

	updated := "never"
	if at != nil {
		updated = humanize.Time(*at)
	}
	fmt.Printf("Status:   %s\n", status)
	fmt.Printf("Updated:  %s\n", updated)
	return nil
}

func statsCommand(c *cli.Context) error {
	svc, err := openServices(configFrom(c))
	if err != nil {
		return err
	}
	defer svc.Close()

	ownerID := c.Int64("owner")
	stats, err := svc.db.Stats(c.Context, ownerID)
	if err != nil {
		return err
	}
	indexCount, err := svc.indexes.Count(ownerID)
	if err != nil {
		return err
	}

	fmt.Println("=== Index Statistics ===")
	fmt.Printf("Documents in database: %s\n", humanize.Comma(int64(stats.Documents)))
	fmt.Printf("Marked indexed:        %s\n", humanize.Comma(int64(stats.Indexed)))
	fmt.Printf("Documents in index:    %s\n", humanize.Comma(int64(indexCount)))
	fmt.Printf("Total size:            %s\n", humanize.Bytes(uint64(stats.TotalBytes)))
	return nil
}

func ownerAddCommand(c *cli.Context) error {
	svc, err := openServices(configFrom(c))
	if err != nil {
		return err
	}
	defer svc.Close()

	owner, err := svc.db.CreateOwner(c.Context, &storage.Owner{
		MSID:         c.String("ms-id"),
		Name:         c.String("name"),
		Email:        c.String("email"),
		RefreshToken: c.String("refresh-token"),
	})
	if err != nil {
		return err
	}

	fmt.Printf("Added owner %d (%s)\n", owner.ID, owner.Email)
	return nil
}

func ownerListCommand(c *cli.Context) error {
	svc, err := openServices(configFrom(c))
	if err != nil {
		return err
	}
	defer svc.Close()

	owners, err := svc.db.ListOwners(c.Context)
	if err != nil {
		return err
	}
	for _, o := range owners {
		last := "never"
		if o.SyncUpdatedAt != nil {
			last = humanize.Time(*o.SyncUpdatedAt)
		}
		fmt.Printf("%d\t%s\t%s\tlast sync %s\n", o.ID, o.Email, o.SyncStatus, last)
	}
	return nil
}
