package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/obsidianstack/prioritymq/server/internal/alerts"
	"github.com/obsidianstack/prioritymq/server/internal/api"
	"github.com/obsidianstack/prioritymq/server/internal/config"
	"github.com/obsidianstack/prioritymq/server/internal/ratelimit"
	"github.com/obsidianstack/prioritymq/server/internal/store"
	"github.com/obsidianstack/prioritymq/server/internal/ws"
)

func main() {
	configPath := flag.String("config", "", "path to config file; built-in defaults when empty")
	flag.Parse()

	var level slog.LevelVar
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			slog.Error("failed to load config", "err", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	level.Set(cfg.Server.Log.SlogLevel())

	slog.Info("prioritymq-server starting",
		"config", *configPath,
		"http_port", cfg.Server.HTTPPort,
		"cors_origins", cfg.Server.CORS.AllowedOrigins,
		"ratelimit", cfg.Server.RateLimit.Enabled,
		"stream_interval", cfg.Server.Stream.Interval,
		"alert_rules", len(cfg.Server.Alerts.Rules),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st := store.New()

	// Alerts engine: evaluates rules against store statistics.
	alertEngine := alerts.New(cfg.Server.Alerts)
	if cfg.Server.Alerts.Interval > 0 {
		go alertEngine.Run(ctx, st, cfg.Server.Alerts.Interval)
	}

	limiter := ratelimit.NewManager(cfg.Server.RateLimit)
	defer limiter.Stop()

	cors := api.NewCORS(cfg.Server.CORS)

	httpMux := http.NewServeMux()
	var opts []api.Option
	if cfg.Server.Stream.Interval > 0 {
		hub := ws.New(st, cfg.Server.Stream.Interval, cors.Allowed)
		go hub.Run(ctx)
		httpMux.Handle("/ws/queue", hub)
		opts = append(opts, api.WithStreamClients(hub))
	}
	httpMux.Handle("/", api.New(st, alertEngine, limiter, opts...))

	if *configPath != "" {
		go func() {
			err := config.Watch(ctx, *configPath, func(next *config.Config) {
				level.Set(next.Server.Log.SlogLevel())
				cors.Update(next.Server.CORS)
				alertEngine.SetRules(next.Server.Alerts)
				if next.Server.HTTPPort != cfg.Server.HTTPPort {
					slog.Warn("config: http_port change needs a restart",
						"current", cfg.Server.HTTPPort, "configured", next.Server.HTTPPort)
				}
			})
			if err != nil {
				slog.Error("config watcher stopped", "err", err)
			}
		}()
	}

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           cors.Wrap(httpMux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server stopped", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("prioritymq-server shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpSrv.Shutdown(shutdownCtx) //nolint:errcheck
}
