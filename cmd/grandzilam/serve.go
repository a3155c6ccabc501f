// Copyright 2024 Gran Dzilam Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/your-org/gran-dzilam/internal/api"
	"github.com/your-org/gran-dzilam/internal/chat"
	"github.com/your-org/gran-dzilam/internal/config"
	"github.com/your-org/gran-dzilam/internal/health"
	"github.com/your-org/gran-dzilam/internal/imagine"
	"github.com/your-org/gran-dzilam/internal/metrics"
	"github.com/your-org/gran-dzilam/internal/ratelimit"
	"github.com/your-org/gran-dzilam/internal/store"
	"github.com/your-org/gran-dzilam/internal/upstream"
)

func newServeCmd(configPath *string) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, *configPath, watch)
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Reload the log level when the config file changes")

	return cmd
}

func runServe(ctx context.Context, configPath string, watch bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, level, err := initializeLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	masked := cfg.MaskSensitiveValues()
	logger.Info("Configuration loaded successfully",
		zap.String("environment", os.Getenv("ENVIRONMENT")),
		zap.String("port", masked.Server.Port),
		zap.String("openai_endpoint", masked.OpenAI.Endpoint),
		zap.String("openai_api_key", masked.OpenAI.APIKey),
		zap.String("chat_model", masked.Chat.Model),
		zap.String("imagine_model", masked.Imagine.Model),
		zap.String("cache_backend", masked.Cache.Backend),
		zap.String("redis_url", masked.Cache.RedisURL),
		zap.String("db_path", masked.Storage.DBPath),
	)

	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	st, err := store.NewStore(cfg.Storage.DBPath, logger.Named("store"))
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer func() { _ = st.Close() }()
	settings := st.Settings(cfg.Finance.Settings())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(reg)

	// Each attempt is bounded by its own context, so the transport carries no timeout
	httpClient := &http.Client{}

	chatClient := upstream.NewClient(httpClient,
		upstream.WithLogger(logger.Named("upstream.chat")),
		upstream.WithMetrics(m, "chat"),
		upstream.WithDefaultTimeout(cfg.OpenAI.Timeout()))
	chatSvc := chat.NewService(chatClient, chat.Config{
		Endpoint:    cfg.OpenAI.Endpoint,
		APIKey:      cfg.OpenAI.APIKey,
		Model:       cfg.Chat.Model,
		MaxTokens:   cfg.Chat.MaxTokens,
		Temperature: cfg.Chat.Temperature,
		Timeout:     cfg.Chat.Timeout(),
		MaxAttempts: cfg.OpenAI.MaxAttempts,
	}, settings, logger.Named("chat"))

	hm := health.NewManager(serviceName, serviceVersion, logger.Named("health"))
	hm.AddChecker("database", health.PingChecker("database", "sqlite", st.Ping), true)

	memoryCache := imagine.NewMemoryCache()
	var cache imagine.Cache = memoryCache
	if cfg.Cache.Backend == "redis" {
		redisCache, err := imagine.NewRedisCache(cfg.Cache.RedisURL)
		if err != nil {
			return err
		}
		defer func() { _ = redisCache.Close() }()
		cache = redisCache
		hm.AddChecker("cache", health.PingChecker("cache", "redis", redisCache.Ping), false)
	} else {
		hm.AddChecker("cache", health.StaticChecker("cache", "memory"), false)
	}

	imagineClient := upstream.NewClient(httpClient,
		upstream.WithLogger(logger.Named("upstream.imagine")),
		upstream.WithMetrics(m, "imagine"),
		upstream.WithDefaultTimeout(cfg.OpenAI.Timeout()))
	imagineSvc := imagine.NewService(imagineClient,
		imagine.NewAssets(os.DirFS(cfg.Imagine.AssetsDir), cfg.Imagine.TemplateFile, cfg.Imagine.BaseImageFile),
		cache,
		imagine.Config{
			Endpoint:    cfg.OpenAI.Endpoint,
			APIKey:      cfg.OpenAI.APIKey,
			Model:       cfg.Imagine.Model,
			Timeout:     cfg.Imagine.Timeout(),
			MaxAttempts: cfg.OpenAI.MaxAttempts,
			CacheTTL:    cfg.Imagine.CacheTTL(),
		}, m, logger.Named("imagine"))

	limiter := ratelimit.NewLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window())

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.RateLimit.SweepSchedule, func() {
		swept := limiter.Sweep()
		purged := memoryCache.Purge()
		logger.Debug("Housekeeping done", zap.Int("rate_limit_windows", swept), zap.Int("cache_entries", purged))
	}); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", cfg.RateLimit.SweepSchedule, err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	if watch {
		err := config.WatchConfig(configPath, func(updated *config.Config) {
			level.SetLevel(parseLevel(updated.Logging.Level))
			logger.Info("Configuration reloaded", zap.String("log_level", updated.Logging.Level))
		}, func(err error) {
			logger.Warn("Ignoring invalid configuration change", zap.Error(err))
		})
		if err != nil {
			logger.Warn("Config watching disabled", zap.Error(err))
		}
	}

	router := api.NewRouter(api.Dependencies{
		Lots:       st,
		Leads:      st,
		Settings:   settings,
		Chat:       chatSvc,
		Imagine:    imagineSvc,
		Health:     hm,
		Limiter:    limiter,
		Metrics:    m,
		Gatherer:   reg,
		AdminToken: cfg.Admin.Token,
		Logger:     logger.Named("api"),
	})
	if len(cfg.Server.TrustedProxies) > 0 {
		if err := router.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
			return fmt.Errorf("invalid trusted proxies: %w", err)
		}
	}

	server := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Duration(cfg.Server.ReadTimeoutSeconds) * time.Second,
		WriteTimeout:      time.Duration(cfg.Server.WriteTimeoutSeconds) * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting server", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(),
			time.Duration(cfg.Server.ShutdownTimeoutSeconds)*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server stopped with error", zap.Error(err))
		return err
	}

	logger.Info("Server stopped")
	return nil
}
