package risk

import (
	"math"
	"time"

	"github.com/wecodeblooded/safety-engine/internal/database"
	"github.com/wecodeblooded/safety-engine/internal/geo"
)

const (
	// DefaultModelRisk is assumed when the scoring service is unreachable.
	DefaultModelRisk = 0.3

	// GeoFenceFloor is the minimum final risk inside a known risk geofence.
	GeoFenceFloor = 0.75

	modelWeight     = 0.75
	heuristicWeight = 0.25

	staleAfter     = 15 * time.Minute
	veryStaleAfter = 60 * time.Minute

	stuckRadiusMeters = 50.0
	speedLimitKmh     = 100.0
)

// HeuristicRisk derives a local risk contribution from the participant's
// recent movement pattern. points are newest first, as returned by
// RecentLocationPoints.
func HeuristicRisk(points []database.LocationPoint, now time.Time) float64 {
	risk := 0.0

	if len(points) > 0 {
		age := now.Sub(points[0].CreatedAt)
		if age > staleAfter {
			risk += 0.15
		}
		if age > veryStaleAfter {
			risk += 0.10
		}
	}

	if len(points) >= 2 {
		if maxDisplacementMeters(points) < stuckRadiusMeters {
			risk += 0.05
		}
		if peakSpeedKmh(points) > speedLimitKmh {
			risk += 0.05
		}
	}

	hour := now.Local().Hour()
	if hour >= 23 || hour < 5 {
		risk += 0.05
	}

	return clamp01(risk)
}

// maxDisplacementMeters is the farthest any point strays from the newest one.
func maxDisplacementMeters(points []database.LocationPoint) float64 {
	newest := points[0]
	max := 0.0
	for _, p := range points[1:] {
		d := geo.DistanceMeters(newest.Latitude, newest.Longitude, p.Latitude, p.Longitude)
		if d > max {
			max = d
		}
	}
	return max
}

// peakSpeedKmh is the fastest inferred speed between consecutive samples.
func peakSpeedKmh(points []database.LocationPoint) float64 {
	peak := 0.0
	for i := 0; i < len(points)-1; i++ {
		a, b := points[i], points[i+1]
		hours := a.CreatedAt.Sub(b.CreatedAt).Hours()
		if hours <= 0 {
			continue
		}
		speed := geo.DistanceKm(a.Latitude, a.Longitude, b.Latitude, b.Longitude) / hours
		if speed > peak {
			peak = speed
		}
	}
	return peak
}

// Blend combines the model score with the local heuristic. A geofence hit
// floors the result regardless of what the model said.
func Blend(modelRisk, heuristicRisk float64, geoFlag bool) float64 {
	final := clamp01(modelWeight*modelRisk + heuristicWeight*heuristicRisk)
	if geoFlag && final < GeoFenceFloor {
		final = GeoFenceFloor
	}
	return final
}

// SafetyScore maps a risk in [0,1] to the 0-100 scale operators see.
func SafetyScore(risk float64) int {
	return int(math.Round(100 * (1 - clamp01(risk))))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
