package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/meetscribe/meetscribe/config"
	"github.com/meetscribe/meetscribe/pkg/artifacts"
	"github.com/meetscribe/meetscribe/pkg/db"
	"github.com/meetscribe/meetscribe/pkg/llm"
	"github.com/meetscribe/meetscribe/pkg/logging"
	"github.com/meetscribe/meetscribe/pkg/meeting"
	"github.com/meetscribe/meetscribe/pkg/observability"
	"github.com/meetscribe/meetscribe/pkg/pipeline"
	"github.com/meetscribe/meetscribe/pkg/plugin"
	"github.com/meetscribe/meetscribe/pkg/provider"
	"github.com/meetscribe/meetscribe/pkg/schedule"
	"github.com/meetscribe/meetscribe/pkg/server"
	"github.com/meetscribe/meetscribe/pkg/service"
	"github.com/meetscribe/meetscribe/pkg/tasks"
	"github.com/meetscribe/meetscribe/pkg/webhook"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the meetscribe service",
	Long: `Starts the HTTP API, the provider webhook endpoint, the scheduled
meeting executor, and the task dispatcher, and blocks until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

const retentionSweepInterval = 1 * time.Hour

func runServe(parent context.Context) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(&logging.Config{
		Level:       logging.Level(cfg.LogLevel),
		ServiceName: "meetscribe",
		JSONFormat:  cfg.LogJSON,
	})
	metrics := observability.Default()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Stores: Postgres when configured, in-memory for dev runs.
	var (
		meetings  meeting.Store
		schedules schedule.Store
	)
	if dsn := cfg.Database.ConnectionString(); dsn != "" {
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return fmt.Errorf("connecting to database: %w", err)
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			return fmt.Errorf("pinging database: %w", err)
		}
		applied, err := db.Migrate(ctx, pool)
		if err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		if len(applied) > 0 {
			logger.Info("applied migrations", logging.F("versions", applied))
		}
		meetings = meeting.NewPostgresStore(pool)
		schedules = schedule.NewPostgresStore(pool)
		logger.Info("using postgres stores", logging.F("host", cfg.Database.Host))
	} else {
		meetings = meeting.NewMemoryStore()
		schedules = schedule.NewMemoryStore()
		logger.Warn("no database configured, using in-memory stores")
	}

	// Task queue: Redis when configured, in-memory otherwise.
	var queue tasks.Queue
	if cfg.Queue.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.Addr,
			Password: cfg.Queue.Password,
			DB:       cfg.Queue.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("pinging redis: %w", err)
		}
		queue = tasks.NewRedisQueue(client, tasks.RedisConfig{
			Name:              "processing",
			VisibilityTimeout: cfg.Queue.VisibilityTimeout,
			MaxAttempts:       cfg.Queue.MaxAttempts,
		}, metrics)
		logger.Info("using redis task queue", logging.F("addr", cfg.Queue.Addr))
	} else {
		queue = tasks.NewMemoryQueue(cfg.Queue.VisibilityTimeout, cfg.Queue.MaxAttempts)
		logger.Warn("no redis configured, using in-memory task queue")
	}
	defer queue.Close()

	// Bot provider: vendor API when configured, fake for local development.
	var bots provider.BotProvider
	if cfg.Provider.APIKey != "" {
		bots = provider.NewHTTPProvider(provider.HTTPConfig{
			BaseURL: cfg.Provider.BaseURL,
			APIKey:  cfg.Provider.APIKey,
		}, logger)
	} else {
		bots = provider.NewFakeProvider()
		logger.Warn("no provider API key configured, using fake bot provider")
	}

	// Language model client.
	var model llm.Provider
	if cfg.Model.APIKey != "" {
		model = llm.NewOpenAIProvider(llm.OpenAIConfig{
			BaseURL: cfg.Model.BaseURL,
			APIKey:  cfg.Model.APIKey,
			Model:   cfg.Model.Model,
		}, logger, metrics)
	} else {
		model = llm.NewFakeProvider(`{}`)
		logger.Warn("no model API key configured, using fake model provider")
	}
	defer model.Close()

	registry := plugin.NewRegistry(plugin.NewGeneral(), plugin.NewEducational())
	runner := pipeline.NewRunner(registry, model, logger, metrics)
	sink := artifacts.NewFSSink(cfg.ArtifactsDir)

	svc := service.New(service.Config{
		BotName:       cfg.Provider.BotName,
		WebhookURL:    externalURL(cfg, "/webhook"),
		SettleDelay:   cfg.SettleDelay,
		Retention:     cfg.Retention(),
		DefaultPlugin: cfg.DefaultPlugin,
	}, meetings, queue, registry, runner, bots, sink, service.NewMemoryPrefs(), logger, metrics)

	executor := schedule.NewExecutor(schedules, svc, cfg.PollInterval, logger, metrics)
	dispatcher := tasks.NewDispatcher(queue, tasks.DispatcherConfig{
		CallbackBaseURL: internalBaseURL(cfg),
		Token:           cfg.Server.TaskToken,
		Workers:         cfg.Queue.Workers,
	}, logger, metrics)

	wh := webhook.NewHandler(cfg.Server.WebhookSecret, svc.Machine(), meetings, bots, svc, logger, metrics)
	srv := server.New(server.Config{
		ListenAddr: cfg.Server.ListenAddr,
		TaskToken:  cfg.Server.TaskToken,
	}, svc, schedules, executor, registry, wh, prometheus.DefaultGatherer, logger)

	if err := srv.Start(ctx); err != nil {
		return err
	}
	go executor.Run(ctx)
	go dispatcher.Run(ctx)
	go svc.RetentionLoop(ctx, retentionSweepInterval)

	logger.Info("meetscribe started",
		logging.F("listen_addr", cfg.Server.ListenAddr),
		logging.F("poll_interval", cfg.PollInterval),
		logging.F("default_plugin", cfg.DefaultPlugin))

	<-ctx.Done()
	logger.Info("shutting down")
	srv.Stop()
	return nil
}

// externalURL joins the configured public base URL with a path. Falls back
// to the listen address for local runs.
func externalURL(cfg *config.Config, path string) string {
	base := cfg.Server.ExternalBaseURL
	if base == "" {
		base = "http://localhost" + cfg.Server.ListenAddr
	}
	return strings.TrimRight(base, "/") + path
}

// internalBaseURL is where the dispatcher reaches the processing callback.
// Deliveries loop back over localhost; the public URL is not involved.
func internalBaseURL(cfg *config.Config) string {
	addr := cfg.Server.ListenAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr
}
