// Package report makes run results durable and actionable: an append-only
// CSV report, a webhook alert for critical events, and a run-state
// snapshot overwritten each run.
package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/orbit/conjwatch/internal/conjunction"
	"github.com/orbit/conjwatch/internal/metrics"
)

var reportColumns = []string{
	"sat1_name", "sat2_name", "sat1_catalog_id", "sat2_catalog_id",
	"time_of_closest_approach", "distance_km", "rel_velocity_kms",
	"probability_collision", "risk_level", "detection_time",
}

// Sink writes reports, alerts, and run state for one pipeline.
type Sink struct {
	reportPath    string
	statePath     string
	alertsEnabled bool
	webhookURL    string
	httpClient    *http.Client
	logger        *slog.Logger
}

// NewSink creates a Sink. The webhook client uses a bounded timeout so a
// dead endpoint cannot stall the run.
func NewSink(reportPath, statePath string, alertsEnabled bool, webhookURL string, alertTimeout time.Duration, logger *slog.Logger) *Sink {
	return &Sink{
		reportPath:    reportPath,
		statePath:     statePath,
		alertsEnabled: alertsEnabled,
		webhookURL:    webhookURL,
		httpClient:    &http.Client{Timeout: alertTimeout},
		logger:        logger,
	}
}

// Publish runs export, alerting, and state-save in order. Each step is
// independently guarded: a failure is logged and the next step still runs.
func (s *Sink) Publish(ctx context.Context, events []conjunction.Event, runID string, objectCount int) {
	if err := s.ExportRows(events); err != nil {
		s.logger.Error("report export failed", "error", err, "path", s.reportPath)
	}
	if err := s.SendAlerts(ctx, events); err != nil {
		s.logger.Error("alert delivery failed", "error", err)
	}
	if err := s.SaveRunState(events, runID, objectCount); err != nil {
		s.logger.Error("run state save failed", "error", err, "path", s.statePath)
	}
}

// ExportRows appends one CSV row per event. The header is written only
// when the report file does not exist yet; prior rows are never rewritten.
func (s *Sink) ExportRows(events []conjunction.Event) error {
	if err := os.MkdirAll(filepath.Dir(s.reportPath), 0755); err != nil {
		return fmt.Errorf("creating report dir: %w", err)
	}

	_, statErr := os.Stat(s.reportPath)
	writeHeader := os.IsNotExist(statErr)

	f, err := os.OpenFile(s.reportPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening report file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if writeHeader {
		if err := w.Write(reportColumns); err != nil {
			return fmt.Errorf("writing report header: %w", err)
		}
	}
	for _, ev := range events {
		row := []string{
			ev.Sat1Name,
			ev.Sat2Name,
			catalogIDField(ev.Sat1CatalogID),
			catalogIDField(ev.Sat2CatalogID),
			ev.TimeOfClosestApproach.UTC().Format(time.RFC3339),
			strconv.FormatFloat(ev.DistanceKm, 'f', 6, 64),
			strconv.FormatFloat(ev.RelativeVelocityKms, 'f', 6, 64),
			strconv.FormatFloat(ev.ProbabilityCollision, 'f', 6, 64),
			string(ev.RiskLevel),
			ev.DetectionTime.UTC().Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("writing report row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

func catalogIDField(id int) string {
	if id == 0 {
		return ""
	}
	return strconv.Itoa(id)
}

// alertPayload is the webhook body shape.
type alertPayload struct {
	Timestamp      string              `json:"timestamp"`
	CriticalEvents []conjunction.Event `json:"critical_events"`
}

// SendAlerts POSTs critical events to the configured webhook. Delivery
// failure is logged and counted, never fatal to the run.
func (s *Sink) SendAlerts(ctx context.Context, events []conjunction.Event) error {
	if !s.alertsEnabled || s.webhookURL == "" {
		return nil
	}

	var critical []conjunction.Event
	for _, ev := range events {
		if ev.RiskLevel == conjunction.RiskCritical {
			critical = append(critical, ev)
		}
	}
	if len(critical) == 0 {
		return nil
	}

	payload := alertPayload{
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
		CriticalEvents: critical,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding alert payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		metrics.IncAlertDelivery("failed")
		return fmt.Errorf("posting alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		metrics.IncAlertDelivery("failed")
		return fmt.Errorf("alert endpoint returned status %d", resp.StatusCode)
	}

	metrics.IncAlertDelivery("ok")
	s.logger.Info("critical alert delivered", "events", len(critical))
	return nil
}

// RunState is the snapshot overwritten wholesale at the end of each run.
type RunState struct {
	LastRun    string              `json:"last_run"`
	RunID      string              `json:"run_id"`
	Events     []conjunction.Event `json:"events"`
	Statistics RunStatistics       `json:"statistics"`
}

// RunStatistics are the aggregate counts for one run.
type RunStatistics struct {
	TotalSatellites int `json:"total_satellites"`
	EventsDetected  int `json:"events_detected"`
}

// SaveRunState overwrites the run-state snapshot via tmp-then-rename.
func (s *Sink) SaveRunState(events []conjunction.Event, runID string, objectCount int) error {
	if err := os.MkdirAll(filepath.Dir(s.statePath), 0755); err != nil {
		return fmt.Errorf("creating state dir: %w", err)
	}

	state := RunState{
		LastRun: time.Now().UTC().Format(time.RFC3339),
		RunID:   runID,
		Events:  events,
		Statistics: RunStatistics{
			TotalSatellites: objectCount,
			EventsDetected:  len(events),
		},
	}
	if state.Events == nil {
		state.Events = []conjunction.Event{}
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding run state: %w", err)
	}

	tmp := s.statePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("writing run state: %w", err)
	}
	if err := os.Rename(tmp, s.statePath); err != nil {
		return fmt.Errorf("replacing run state: %w", err)
	}
	return nil
}
