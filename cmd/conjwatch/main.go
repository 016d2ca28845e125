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
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/orbit/conjwatch/internal/config"
	"github.com/orbit/conjwatch/internal/health"
	"github.com/orbit/conjwatch/internal/metrics"
	"github.com/orbit/conjwatch/internal/monitor"
)

func main() {
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load()

	var (
		configPath   = flag.String("config", envOr("CONJWATCH_CONFIG", "conjwatch.toml"), "path to TOML configuration file")
		forceRefresh = flag.Bool("force-refresh", false, "bypass cache staleness and fetch all sources")
		logLevel     = flag.String("log-level", envOr("CONJWATCH_LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
		watch        = flag.Bool("watch", false, "re-run the pipeline on an interval instead of exiting")
		interval     = flag.Duration("interval", envDurationOr("CONJWATCH_INTERVAL", time.Hour), "run interval in watch mode")
		metricsAddr  = flag.String("metrics-addr", envOr("CONJWATCH_METRICS_ADDR", ":9090"), "metrics/health listen address in watch mode")
	)
	flag.Parse()

	level, err := parseLevel(*logLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		return 1
	}

	logger.Info("configuration loaded",
		"sources", len(cfg.Sources),
		"horizon_hours", cfg.PredictionHorizonHours,
		"resolution", cfg.TemporalResolution,
		"collision_threshold_km", cfg.CollisionThresholdKm,
		"cell_size_km", cfg.CellSizeKm,
		"alerts_enabled", cfg.Alerts.Enabled,
	)

	mon := monitor.New(cfg, logger)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !*watch {
		res, err := mon.Run(ctx, *forceRefresh)
		if err != nil {
			logger.Error("run failed", "error", err)
			return 1
		}
		logger.Info("run complete",
			"run_id", res.RunID,
			"satellites", res.Satellites,
			"candidate_pairs", res.CandidatePairs,
			"events", len(res.Events),
		)
		// No conjunctions found is still a successful run.
		return 0
	}

	state := &health.State{}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", state.Healthz)
	mux.HandleFunc("/readyz", state.Readyz)
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: *metricsAddr, Handler: mux}

	go func() {
		logger.Info("metrics server listening", "addr", *metricsAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server listen error", "error", err)
		}
	}()

	logger.Info("watch mode started", "interval", interval.String())
	mon.Watch(ctx, *interval, *forceRefresh, func(res *monitor.Result) {
		state.MarkReady()
	})

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown error", "error", err)
	}
	return 0
}

func parseLevel(s string) (slog.Level, error) {
	switch s {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q (want debug, info, warn, or error)", s)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return fallback
}
