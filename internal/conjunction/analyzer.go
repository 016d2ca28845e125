// Package conjunction evaluates candidate pairs against their full
// trajectories and emits an event for every pair whose minimum separation
// falls below the collision screening threshold.
package conjunction

import (
	"math"
	"sort"
	"time"

	"github.com/orbit/conjwatch/internal/grid"
	"github.com/orbit/conjwatch/internal/orbit"
	"github.com/orbit/conjwatch/internal/tle"
)

// RiskLevel classifies an emitted event by miss distance.
type RiskLevel string

const (
	RiskWarning  RiskLevel = "WARNING"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Event is one detected close approach. Created once per run per
// qualifying pair and never updated.
type Event struct {
	Sat1Name              string    `json:"sat1_name"`
	Sat2Name              string    `json:"sat2_name"`
	Sat1CatalogID         int       `json:"sat1_catalog_id,omitempty"`
	Sat2CatalogID         int       `json:"sat2_catalog_id,omitempty"`
	TimeOfClosestApproach time.Time `json:"time_of_closest_approach"`
	DistanceKm            float64   `json:"distance_km"`
	RelativeVelocityKms   float64   `json:"relative_velocity_kms"`
	ProbabilityCollision  float64   `json:"probability_collision"`
	RiskLevel             RiskLevel `json:"risk_level"`
	DetectionTime         time.Time `json:"detection_time"`
}

// Thresholds holds the screening and classification distances in km.
// critical < high < collision is enforced by config validation.
type Thresholds struct {
	CollisionKm float64
	HighRiskKm  float64
	CriticalKm  float64
}

// probabilitySigma is the Gaussian falloff width for collision
// probability, km.
const probabilitySigma = 0.1

// certainCollisionKm treats separations at or below this as a certain
// collision so the falloff never blows up near zero.
const certainCollisionKm = 0.001

// Analyzer scores candidate pairs. Stateless across pairs.
type Analyzer struct {
	thresholds Thresholds
	horizon    time.Duration
	resolution int
}

// NewAnalyzer creates an Analyzer for one run's horizon and resolution.
func NewAnalyzer(thresholds Thresholds, horizon time.Duration, resolution int) *Analyzer {
	return &Analyzer{
		thresholds: thresholds,
		horizon:    horizon,
		resolution: resolution,
	}
}

// Analyze scans each candidate pair's trajectories for minimum
// separation and emits one event per pair that passes the screening
// threshold. The returned events are sorted ascending by miss distance.
func (a *Analyzer) Analyze(pairs []grid.Pair, trajectories map[string]orbit.Trajectory, records map[string]tle.ElementSet, epoch, detectionTime time.Time) []Event {
	stepDelta := a.horizon.Seconds() / float64(a.resolution)

	var events []Event
	for _, pair := range pairs {
		t1, ok1 := trajectories[pair.A]
		t2, ok2 := trajectories[pair.B]
		if !ok1 || !ok2 {
			continue
		}

		minStep, minDist := closestApproach(t1, t2)
		if minDist >= a.thresholds.CollisionKm {
			continue
		}

		ev := Event{
			Sat1Name:              pair.A,
			Sat2Name:              pair.B,
			TimeOfClosestApproach: epoch.Add(time.Duration(float64(minStep) * stepDelta * float64(time.Second))),
			DistanceKm:            minDist,
			RelativeVelocityKms:   relativeVelocity(t1, t2, minStep, stepDelta),
			ProbabilityCollision:  collisionProbability(minDist),
			RiskLevel:             a.classify(minDist),
			DetectionTime:         detectionTime,
		}
		if rec, ok := records[pair.A]; ok {
			ev.Sat1CatalogID = rec.CatalogID
		}
		if rec, ok := records[pair.B]; ok {
			ev.Sat2CatalogID = rec.CatalogID
		}
		events = append(events, ev)
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].DistanceKm < events[j].DistanceKm
	})
	return events
}

// closestApproach returns the step index and value of the minimum
// separation across all paired samples.
func closestApproach(t1, t2 orbit.Trajectory) (int, float64) {
	steps := len(t1)
	if len(t2) < steps {
		steps = len(t2)
	}

	minStep := 0
	minDist := math.Inf(1)
	for i := 0; i < steps; i++ {
		d := orbit.Distance(t1[i], t2[i])
		if d < minDist {
			minDist = d
			minStep = i
		}
	}
	return minStep, minDist
}

// relativeVelocity estimates the pair's relative speed in km/s by finite
// difference between the minimum-separation step and the step before it,
// clamped to step 0 when the minimum occurs at the first sample.
func relativeVelocity(t1, t2 orbit.Trajectory, minStep int, stepDelta float64) float64 {
	prev := minStep - 1
	if prev < 0 {
		prev = 0
		minStep = 1
	}

	v1 := stepVelocity(t1[prev], t1[minStep], stepDelta)
	v2 := stepVelocity(t2[prev], t2[minStep], stepDelta)

	dx := v1[0] - v2[0]
	dy := v1[1] - v2[1]
	dz := v1[2] - v2[2]
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

func stepVelocity(from, to orbit.Position, stepDelta float64) [3]float64 {
	return [3]float64{
		(to.X - from.X) / stepDelta,
		(to.Y - from.Y) / stepDelta,
		(to.Z - from.Z) / stepDelta,
	}
}

// collisionProbability maps miss distance to [0,1] with a Gaussian
// falloff. Separations at or below certainCollisionKm are certain.
func collisionProbability(distanceKm float64) float64 {
	if distanceKm <= certainCollisionKm {
		return 1.0
	}
	p := math.Exp(-(distanceKm * distanceKm) / (2 * probabilitySigma * probabilitySigma))
	if p > 1 {
		return 1
	}
	if p < 0 {
		return 0
	}
	return p
}

func (a *Analyzer) classify(distanceKm float64) RiskLevel {
	switch {
	case distanceKm < a.thresholds.CriticalKm:
		return RiskCritical
	case distanceKm < a.thresholds.HighRiskKm:
		return RiskHigh
	default:
		return RiskWarning
	}
}
