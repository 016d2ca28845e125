// Package orbit derives deterministic pseudo-orbit trajectories from
// element-set content. The model is a closed-form inclined circular orbit
// with seeded jitter, not a physics-grade propagator: identical input
// always yields an identical trajectory, which is what conjunction
// screening and its tests require.
package orbit

import (
	"fmt"
	"hash/fnv"
	"math"
	"math/rand"
	"time"

	"github.com/orbit/conjwatch/internal/tle"
)

// Position is a 3-vector in kilometers.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Distance returns the Euclidean separation between two positions in km.
func Distance(a, b Position) float64 {
	dx := a.X - b.X
	dy := a.Y - b.Y
	dz := a.Z - b.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Trajectory is a fixed-length sequence of positions, one per simulation
// step, read-only after construction.
type Trajectory []Position

const (
	earthRadiusKm = 6371.0
	// muEarth is the standard gravitational parameter, km^3/s^2.
	muEarth = 398600.4418

	minAltitudeKm  = 400.0
	altitudeSpanKm = 1200.0

	// jitterAmplitudeKm keeps per-step drift well under any sane cell
	// size while making relative velocity between any two trajectories
	// generically non-zero.
	jitterAmplitudeKm = 0.05
)

// SeedFor derives the deterministic seed for a record from its name and
// both element lines via FNV-1a.
func SeedFor(rec tle.ElementSet) uint64 {
	h := fnv.New64a()
	h.Write([]byte(rec.Name))
	h.Write([]byte(rec.Line1))
	h.Write([]byte(rec.Line2))
	return h.Sum64()
}

// Simulate generates resolution evenly time-spaced samples spanning
// horizon. All pseudo-orbital parameters come from the record's seed.
// resolution must be at least 2: a single sample cannot support a
// relative-velocity estimate downstream.
func Simulate(rec tle.ElementSet, resolution int, horizon time.Duration) (Trajectory, error) {
	if resolution < 2 {
		return nil, fmt.Errorf("temporal resolution must be >= 2, got %d", resolution)
	}
	if horizon <= 0 {
		return nil, fmt.Errorf("prediction horizon must be positive, got %s", horizon)
	}

	seed := SeedFor(rec)
	rng := rand.New(rand.NewSource(int64(seed))) //nolint:gosec // deterministic by design requirement, not security-sensitive

	radius := earthRadiusKm + minAltitudeKm + rng.Float64()*altitudeSpanKm
	phase := rng.Float64() * 2 * math.Pi
	inclination := rng.Float64() * math.Pi
	raan := rng.Float64() * 2 * math.Pi

	// Circular-orbit angular rate at this radius, rad/s.
	omega := math.Sqrt(muEarth / (radius * radius * radius))

	stepSeconds := horizon.Seconds() / float64(resolution)
	traj := make(Trajectory, resolution)
	for i := 0; i < resolution; i++ {
		theta := phase + omega*float64(i)*stepSeconds

		// In-plane position, then rotate by inclination and RAAN.
		xp := radius * math.Cos(theta)
		yp := radius * math.Sin(theta)

		x := xp*math.Cos(raan) - yp*math.Cos(inclination)*math.Sin(raan)
		y := xp*math.Sin(raan) + yp*math.Cos(inclination)*math.Cos(raan)
		z := yp * math.Sin(inclination)

		traj[i] = Position{
			X: x + (rng.Float64()-0.5)*2*jitterAmplitudeKm,
			Y: y + (rng.Float64()-0.5)*2*jitterAmplitudeKm,
			Z: z + (rng.Float64()-0.5)*2*jitterAmplitudeKm,
		}
	}

	return traj, nil
}

// SimulateAll builds one trajectory per record, keyed by record name.
// Later records with a duplicate name supersede earlier ones.
func SimulateAll(records []tle.ElementSet, resolution int, horizon time.Duration) (map[string]Trajectory, error) {
	trajectories := make(map[string]Trajectory, len(records))
	for _, rec := range records {
		traj, err := Simulate(rec, resolution, horizon)
		if err != nil {
			return nil, err
		}
		trajectories[rec.Name] = traj
	}
	return trajectories, nil
}
