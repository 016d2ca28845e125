package report

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbit/conjwatch/internal/conjunction"
)

var testLogger = slog.New(slog.NewJSONHandler(io.Discard, nil))

func testEvents() []conjunction.Event {
	tca := time.Date(2026, 8, 29, 3, 0, 0, 0, time.UTC)
	detected := time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC)
	return []conjunction.Event{
		{
			Sat1Name: "SAT-A", Sat2Name: "SAT-B",
			Sat1CatalogID: 25544, Sat2CatalogID: 44713,
			TimeOfClosestApproach: tca,
			DistanceKm:            0.3,
			RelativeVelocityKms:   7.2,
			ProbabilityCollision:  0.011109,
			RiskLevel:             conjunction.RiskCritical,
			DetectionTime:         detected,
		},
		{
			Sat1Name: "SAT-C", Sat2Name: "SAT-D",
			TimeOfClosestApproach: tca,
			DistanceKm:            2.5,
			RelativeVelocityKms:   1.1,
			ProbabilityCollision:  0.0,
			RiskLevel:             conjunction.RiskWarning,
			DetectionTime:         detected,
		},
	}
}

func newTestSink(t *testing.T, alertsEnabled bool, webhookURL string) *Sink {
	t.Helper()
	dir := t.TempDir()
	return NewSink(
		filepath.Join(dir, "conjunctions.csv"),
		filepath.Join(dir, "run_state.json"),
		alertsEnabled, webhookURL, 2*time.Second, testLogger,
	)
}

func readReport(t *testing.T, s *Sink) [][]string {
	t.Helper()
	f, err := os.Open(s.reportPath)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestExportWritesHeaderOnlyOnce(t *testing.T) {
	s := newTestSink(t, false, "")
	events := testEvents()

	require.NoError(t, s.ExportRows(events))
	require.NoError(t, s.ExportRows(events))

	rows := readReport(t, s)
	require.Len(t, rows, 5, "header + 2 rows per export")
	assert.Equal(t, reportColumns, rows[0])
	assert.Equal(t, "SAT-A", rows[1][0])
	assert.Equal(t, "25544", rows[1][2])
	assert.Equal(t, "CRITICAL", rows[1][8])
	// Absent catalog ids are empty fields, not zeros.
	assert.Equal(t, "", rows[2][2])
}

func TestExportAppendsWithoutRewriting(t *testing.T) {
	s := newTestSink(t, false, "")
	require.NoError(t, s.ExportRows(testEvents()[:1]))
	first := readReport(t, s)

	require.NoError(t, s.ExportRows(testEvents()[1:]))
	second := readReport(t, s)

	require.Len(t, second, len(first)+1)
	assert.Equal(t, first, second[:len(first)], "prior rows must be untouched")
}

func TestExportZeroEventsStillCreatesReport(t *testing.T) {
	s := newTestSink(t, false, "")
	require.NoError(t, s.ExportRows(nil))
	rows := readReport(t, s)
	require.Len(t, rows, 1)
	assert.Equal(t, reportColumns, rows[0])
}

func TestSendAlertsPostsOnlyCriticalEvents(t *testing.T) {
	var received alertPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
	}))
	defer server.Close()

	s := newTestSink(t, true, server.URL)
	require.NoError(t, s.SendAlerts(context.Background(), testEvents()))

	require.Len(t, received.CriticalEvents, 1)
	assert.Equal(t, "SAT-A", received.CriticalEvents[0].Sat1Name)
	assert.NotEmpty(t, received.Timestamp)
}

func TestSendAlertsSkipsWhenNoCritical(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer server.Close()

	s := newTestSink(t, true, server.URL)
	require.NoError(t, s.SendAlerts(context.Background(), testEvents()[1:]))
	assert.Zero(t, hits)
}

func TestSendAlertsSkipsWhenDisabled(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
	}))
	defer server.Close()

	s := newTestSink(t, false, server.URL)
	require.NoError(t, s.SendAlerts(context.Background(), testEvents()))
	assert.Zero(t, hits)
}

func TestSendAlertsFailureIsReportedNotFatal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	s := newTestSink(t, true, server.URL)
	err := s.SendAlerts(context.Background(), testEvents())
	assert.Error(t, err)
}

func TestSaveRunStateOverwrites(t *testing.T) {
	s := newTestSink(t, false, "")

	require.NoError(t, s.SaveRunState(testEvents(), "run-1", 100))
	require.NoError(t, s.SaveRunState(nil, "run-2", 3))

	data, err := os.ReadFile(s.statePath)
	require.NoError(t, err)

	var state RunState
	require.NoError(t, json.Unmarshal(data, &state))
	assert.Equal(t, "run-2", state.RunID)
	assert.Empty(t, state.Events)
	assert.Equal(t, 3, state.Statistics.TotalSatellites)
	assert.Equal(t, 0, state.Statistics.EventsDetected)
	assert.NotEmpty(t, state.LastRun)
}

func TestPublishContinuesPastAlertFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	s := newTestSink(t, true, server.URL)
	s.Publish(context.Background(), testEvents(), "run-1", 2)

	// Export before the failing alert and state-save after it must both
	// have happened.
	rows := readReport(t, s)
	assert.Len(t, rows, 3)
	_, err := os.Stat(s.statePath)
	assert.NoError(t, err)
}
