package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/obsidianstack/prioritymq/agent/internal/client"
	"github.com/obsidianstack/prioritymq/agent/internal/compute"
	"github.com/obsidianstack/prioritymq/agent/internal/config"
	"github.com/obsidianstack/prioritymq/agent/internal/consumer"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	var level slog.LevelVar
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	slog.Info("prioritymq-agent starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	level.Set(cfg.Agent.Log.SlogLevel())
	slog.Info("config loaded",
		"broker_endpoint", cfg.Agent.BrokerEndpoint,
		"poll_interval", cfg.Agent.PollInterval,
		"max_backoff", cfg.Agent.MaxBackoff,
		"monitor_interval", cfg.Agent.MonitorInterval,
	)

	broker, err := client.New(cfg.Agent.BrokerEndpoint, cfg.Agent.RequestTimeout)
	if err != nil {
		slog.Error("failed to create broker client", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	c := consumer.New(broker, func(_ context.Context, id string) error {
		slog.Info("message consumed", "id", id)
		return nil
	}, cfg.Agent.PollInterval, cfg.Agent.MaxBackoff)

	// Hot-reload: log level and polling bounds. The endpoint needs a restart.
	go func() {
		if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			level.Set(updated.Agent.Log.SlogLevel())
			c.SetPolling(updated.Agent.PollInterval, updated.Agent.MaxBackoff)
			if updated.Agent.BrokerEndpoint != cfg.Agent.BrokerEndpoint {
				slog.Warn("config: broker_endpoint change needs a restart",
					"current", cfg.Agent.BrokerEndpoint, "configured", updated.Agent.BrokerEndpoint)
			}
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	if cfg.Agent.MonitorInterval > 0 {
		go monitor(ctx, broker, cfg.Agent.MonitorInterval)
	}

	c.Run(ctx)

	s := c.Stats()
	slog.Info("prioritymq-agent shutting down",
		"handled", s.Handled, "failed", s.Failed,
		"empty_pops", s.EmptyPops, "pop_errors", s.PopErrors)
}

// monitor scrapes the broker's metrics every interval and logs derived health.
func monitor(ctx context.Context, broker *client.Client, interval time.Duration) {
	engine := compute.NewEngine()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t := <-ticker.C:
			var sample compute.Sample
			mfs, err := broker.Metrics(ctx)
			if err != nil {
				sample = compute.Sample{At: t, Err: err}
			} else {
				sample = compute.FromMetrics(mfs, t)
			}

			res := engine.Process(sample)
			slog.Info("broker health",
				"state", res.State,
				"score", res.Score,
				"depth", res.Depth,
				"admit_pm", res.AdmitPM,
				"pop_pm", res.PopPM,
				"reject_pct", res.RejectPct,
				"drain_pct", res.DrainPct,
				"uptime_pct", res.UptimePct,
			)
		}
	}
}
