// Command spacetraveling serves the blog or exports it as static HTML.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/spacetraveling/blog/internal/config"
	"github.com/spacetraveling/blog/internal/site"
	"github.com/spacetraveling/blog/pkg/logging"
	"github.com/spacetraveling/blog/pkg/prismic"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "spacetraveling",
		Short:         "spacetraveling blog over a headless CMS",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	root.AddCommand(newServeCmd(&configPath), newExportCmd(&configPath))
	return root
}

func newServeCmd(configPath *string) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the blog over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}

			app, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			return app.server.Run(cmd.Context(), cfg.Server.Addr())
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides PORT)")
	return cmd
}

func newExportCmd(configPath *string) *cobra.Command {
	var (
		outputDir string
		parallel  bool
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Render every page to a static directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if outputDir != "" {
				cfg.Export.OutputDir = outputDir
			}
			if cmd.Flags().Changed("parallel") {
				cfg.Export.Parallel = parallel
			}

			app, err := newApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			report, err := app.exporter(cfg.Export).Export(cmd.Context(), cfg.Export.OutputDir)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "exported %d listing pages, %d posts and %d assets to %s in %s\n",
				report.ListingPages, report.Posts, report.Assets, cfg.Export.OutputDir, report.Duration.Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().StringVarP(&outputDir, "out", "o", "", "output directory (overrides OUTPUT_DIR)")
	cmd.Flags().BoolVar(&parallel, "parallel", false, "fetch listing pages in parallel")
	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	logging.Setup(logging.Config{
		Level:   logging.LogLevel(cfg.Logging.Level),
		Pretty:  cfg.Logging.Pretty,
		Service: "spacetraveling",
		Output:  os.Stderr,
	})
	return cfg, nil
}

// app holds the wired components of one command run.
type app struct {
	redis  *redis.Client
	cms    *prismic.Client
	server *site.Server
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{}

	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		a.redis = redis.NewClient(opts)
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.redis.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		log.Info().Str("addr", opts.Addr).Msg("Connected to Redis")
	}

	clientCfg := prismic.DefaultConfig(cfg.CMS.Endpoint, a.redis, cfg.CMS.UserAgent)
	clientCfg.AccessToken = cfg.CMS.AccessToken
	clientCfg.Timeout = cfg.CMS.Timeout
	clientCfg.MaxRetries = cfg.CMS.MaxRetries

	cms, err := prismic.New(clientCfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("create cms client: %w", err)
	}
	a.cms = cms

	server, err := site.NewServer(cms, site.Options{
		PageSize:        cfg.CMS.PageSize,
		MaxPages:        cfg.Server.MaxPages,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.server = server

	return a, nil
}

func (a *app) exporter(cfg config.ExportConfig) *site.Exporter {
	if cfg.Parallel {
		return site.NewExporter(a.server, a.cms.Lister(a.server.ListingOptions()), cfg.Workers)
	}
	return site.NewExporter(a.server, nil, cfg.Workers)
}

func (a *app) Close() {
	if a.cms != nil {
		a.cms.Close()
	}
	if a.redis != nil {
		a.redis.Close()
	}
}
