// Package monitor orchestrates one conjunction screening run:
// acquisition, simulation, spatial partitioning, analysis, and export,
// strictly in that order. Each run owns its intermediate data; only the
// TLE cache outlives a run.
package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/orbit/conjwatch/internal/config"
	"github.com/orbit/conjwatch/internal/conjunction"
	"github.com/orbit/conjwatch/internal/grid"
	"github.com/orbit/conjwatch/internal/metrics"
	"github.com/orbit/conjwatch/internal/orbit"
	"github.com/orbit/conjwatch/internal/report"
	"github.com/orbit/conjwatch/internal/tle"
)

// Result summarizes one completed run.
type Result struct {
	RunID          string
	Satellites     int
	CandidatePairs int
	Events         []conjunction.Event
}

// Monitor runs the screening pipeline over injected collaborators.
type Monitor struct {
	cfg    config.Config
	client *tle.Client
	sink   *report.Sink
	logger *slog.Logger
}

// New wires a Monitor from validated configuration.
func New(cfg config.Config, logger *slog.Logger) *Monitor {
	cache := tle.NewCache(cfg.CacheDir, logger)
	retry := tle.RetryPolicy{
		MaxAttempts:    cfg.Retry.MaxAttempts,
		InitialBackoff: cfg.Retry.InitialBackoff(),
		Multiplier:     cfg.Retry.Multiplier,
	}
	client := tle.NewClient(cfg.Sources, cache, retry, cfg.MaxWorkers, cfg.CacheMaxAge(), cfg.FetchTimeout(), logger)
	sink := report.NewSink(cfg.ReportPath, cfg.StatePath, cfg.Alerts.Enabled, cfg.Alerts.WebhookURL, cfg.AlertTimeout(), logger)
	return &Monitor{cfg: cfg, client: client, sink: sink, logger: logger}
}

// NewWithDeps wires a Monitor from explicit collaborators, used by tests.
func NewWithDeps(cfg config.Config, client *tle.Client, sink *report.Sink, logger *slog.Logger) *Monitor {
	return &Monitor{cfg: cfg, client: client, sink: sink, logger: logger}
}

// Run executes one full screening pass. The only returned error is a
// configuration-class failure from acquisition; absence of conjunctions
// is a normal, successful outcome.
func (m *Monitor) Run(ctx context.Context, forceRefresh bool) (*Result, error) {
	started := time.Now()
	detectionTime := started.UTC()
	runID := uuid.NewString()
	logger := m.logger.With("run_id", runID)

	records, err := m.client.FetchAll(ctx, forceRefresh)
	if err != nil {
		return nil, err
	}

	// Satellites are an unordered set keyed by name; a fresher duplicate
	// supersedes an earlier one.
	byName := make(map[string]tle.ElementSet, len(records))
	for _, rec := range records {
		byName[rec.Name] = rec
	}

	metrics.SetSatellitesTracked(len(byName))
	logger.Info("acquisition complete", "records", len(records), "satellites", len(byName))

	result := &Result{RunID: runID, Satellites: len(byName)}
	if len(byName) < 2 {
		logger.Warn("fewer than two satellites, nothing to screen", "satellites", len(byName))
		m.sink.Publish(ctx, nil, runID, len(byName))
		metrics.ObserveRunDuration(time.Since(started))
		return result, nil
	}

	unique := make([]tle.ElementSet, 0, len(byName))
	for _, rec := range byName {
		unique = append(unique, rec)
	}

	trajectories, err := orbit.SimulateAll(unique, m.cfg.TemporalResolution, m.cfg.Horizon())
	if err != nil {
		// Resolution and horizon were validated with the config; a
		// failure here is configuration-class and propagates.
		return nil, err
	}

	epochPositions := make(map[string]orbit.Position, len(trajectories))
	for name, traj := range trajectories {
		epochPositions[name] = traj[0]
	}
	index := grid.BuildIndex(epochPositions, m.cfg.CellSizeKm)
	pairs := index.CandidatePairs()
	metrics.AddCandidatePairs(len(pairs))
	result.CandidatePairs = len(pairs)

	logger.Info("spatial index built",
		"cells", index.CellCount(),
		"candidate_pairs", len(pairs),
		"cell_size_km", m.cfg.CellSizeKm,
	)

	analyzer := conjunction.NewAnalyzer(conjunction.Thresholds{
		CollisionKm: m.cfg.CollisionThresholdKm,
		HighRiskKm:  m.cfg.HighRiskThresholdKm,
		CriticalKm:  m.cfg.CriticalThresholdKm,
	}, m.cfg.Horizon(), m.cfg.TemporalResolution)

	events := analyzer.Analyze(pairs, trajectories, byName, detectionTime, detectionTime)
	result.Events = events
	for _, ev := range events {
		metrics.IncConjunctionEvent(string(ev.RiskLevel))
	}

	logger.Info("analysis complete",
		"events", len(events),
		"duration_ms", time.Since(started).Milliseconds(),
	)

	m.sink.Publish(ctx, events, runID, len(byName))
	metrics.ObserveRunDuration(time.Since(started))
	return result, nil
}

// Watch re-runs the pipeline on the given interval until ctx is done.
// The first run starts immediately. Run errors in watch mode are logged,
// not fatal: configuration was already validated at startup.
func (m *Monitor) Watch(ctx context.Context, interval time.Duration, forceRefresh bool, onRun func(*Result)) {
	run := func() {
		res, err := m.Run(ctx, forceRefresh)
		if err != nil {
			m.logger.Error("run failed", "error", err)
			return
		}
		if onRun != nil {
			onRun(res)
		}
	}

	run()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			run()
		case <-ctx.Done():
			return
		}
	}
}
