package monitor

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbit/conjwatch/internal/config"
	"github.com/orbit/conjwatch/internal/tle"
)

var testLogger = slog.New(slog.NewJSONHandler(io.Discard, nil))

const (
	issGroup = "ISS (ZARYA)\n" +
		"1 25544U 98067A   24100.50000000  .00016717  00000-0  10270-3 0  9005\n" +
		"2 25544  51.6400 100.0000 0001000   0.0000   0.0000 15.50000000    09\n"
	starlinkGroup = "STARLINK-1007\n" +
		"1 44713U 19074A   24100.50000000  .00001000  00000-0  10000-4 0  9995\n" +
		"2 44713  53.0000 200.0000 0001500  90.0000 270.0000 15.06000000    05\n"
)

// testConfig screens with a grid and thresholds wide enough that any two
// orbiting objects produce a candidate pair and an event, making pipeline
// behavior observable without tuning seeds.
func testConfig(t *testing.T, sourceURL string) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Sources = map[string]string{"test": sourceURL}
	cfg.CacheDir = filepath.Join(dir, "cache")
	cfg.ReportPath = filepath.Join(dir, "conjunctions.csv")
	cfg.StatePath = filepath.Join(dir, "run_state.json")
	cfg.TemporalResolution = 60
	cfg.PredictionHorizonHours = 2
	cfg.CellSizeKm = 60000
	cfg.CriticalThresholdKm = 5000
	cfg.HighRiskThresholdKm = 10000
	cfg.CollisionThresholdKm = 40000
	require.NoError(t, cfg.Validate())
	return cfg
}

func tleServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestRunEndToEnd(t *testing.T) {
	server := tleServer(t, issGroup+starlinkGroup)
	cfg := testConfig(t, server.URL)

	mon := New(cfg, testLogger)
	res, err := mon.Run(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Satellites)
	assert.Equal(t, 1, res.CandidatePairs)
	require.Len(t, res.Events, 1, "wide thresholds must yield one event for the pair")
	assert.Less(t, res.Events[0].DistanceKm, cfg.CollisionThresholdKm)

	// Export, state, and cache artifacts all exist after the run.
	for _, path := range []string{cfg.ReportPath, cfg.StatePath, filepath.Join(cfg.CacheDir, "test.json")} {
		_, err := os.Stat(path)
		assert.NoError(t, err, "missing artifact %s", path)
	}
}

func TestRunFewerThanTwoSatellites(t *testing.T) {
	server := tleServer(t, issGroup)
	cfg := testConfig(t, server.URL)

	mon := New(cfg, testLogger)
	res, err := mon.Run(context.Background(), false)
	require.NoError(t, err, "an empty run is not an error")

	assert.Equal(t, 1, res.Satellites)
	assert.Zero(t, res.CandidatePairs)
	assert.Empty(t, res.Events)

	// The run-state snapshot is still written.
	_, err = os.Stat(cfg.StatePath)
	assert.NoError(t, err)
}

func TestRunServesStaleCacheWhenNetworkFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)
	cfg := testConfig(t, server.URL)
	cfg.Retry.MaxAttempts = 2
	cfg.Retry.InitialBackoffMs = 1

	// Prewarm the cache as an earlier run would have.
	cache := tle.NewCache(cfg.CacheDir, testLogger)
	seeded, err := tle.Parse(
		strings.NewReader(issGroup+starlinkGroup),
		time.Now().UTC().Add(-72*time.Hour),
		testLogger,
	)
	require.NoError(t, err)
	require.NoError(t, cache.Save("test", seeded))

	mon := New(cfg, testLogger)
	res, err := mon.Run(context.Background(), false)
	require.NoError(t, err, "network failure must degrade to cache, not raise")
	assert.Equal(t, 2, res.Satellites)
}

func TestRunIsDeterministicAcrossRuns(t *testing.T) {
	server := tleServer(t, issGroup+starlinkGroup)
	cfg := testConfig(t, server.URL)

	mon := New(cfg, testLogger)
	first, err := mon.Run(context.Background(), false)
	require.NoError(t, err)
	second, err := mon.Run(context.Background(), false)
	require.NoError(t, err)

	// Timestamps differ per run; the screened geometry may not.
	require.Len(t, second.Events, len(first.Events))
	for i := range first.Events {
		assert.Equal(t, first.Events[i].Sat1Name, second.Events[i].Sat1Name)
		assert.Equal(t, first.Events[i].Sat2Name, second.Events[i].Sat2Name)
		assert.Equal(t, first.Events[i].DistanceKm, second.Events[i].DistanceKm)
		assert.Equal(t, first.Events[i].RelativeVelocityKms, second.Events[i].RelativeVelocityKms)
		assert.Equal(t, first.Events[i].RiskLevel, second.Events[i].RiskLevel)
	}
}

func TestRunZeroSourcesIsFatal(t *testing.T) {
	cfg := testConfig(t, "http://unused.invalid")
	cfg.Sources = map[string]string{}

	mon := New(cfg, testLogger)
	_, err := mon.Run(context.Background(), false)
	assert.Error(t, err)
}

func TestWatchRunsUntilCancelled(t *testing.T) {
	server := tleServer(t, issGroup+starlinkGroup)
	cfg := testConfig(t, server.URL)

	mon := New(cfg, testLogger)
	ctx, cancel := context.WithCancel(context.Background())

	runs := make(chan *Result, 8)
	done := make(chan struct{})
	go func() {
		mon.Watch(ctx, 10*time.Millisecond, false, func(res *Result) {
			runs <- res
		})
		close(done)
	}()

	// Wait for at least two completed runs, then stop.
	for i := 0; i < 2; i++ {
		select {
		case <-runs:
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for watch runs")
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop after cancellation")
	}
}
