package ops

import "math"

// DefaultSurgeThreshold is the stress score at which surge mode engages.
// The boundary is a plain threshold with no hysteresis band.
const DefaultSurgeThreshold = 70

// Telemetry is the surge signal pulled from the prediction collaborator.
type Telemetry struct {
	// Velocity is the forecasted inflow in patients per hour.
	Velocity float64 `json:"velocity"`
	// MinutesRemaining is the estimated time until all beds are occupied
	// at the current velocity. Negative means stable (no exhaustion
	// forecast).
	MinutesRemaining float64 `json:"minutes_remaining"`
	// Forecast is the hour-by-hour inflow series, passed through to views.
	Forecast []ForecastPoint `json:"forecast,omitempty"`
}

// ForecastPoint is one hour of the inflow forecast series.
type ForecastPoint struct {
	Hour   string `json:"hour"`
	Inflow int    `json:"inflow"`
}

// StressSignal is the derived capacity-pressure reading. It is computed,
// never stored.
type StressSignal struct {
	Score            int     `json:"score"`
	OccupancyRatio   float64 `json:"occupancy_ratio"`
	Velocity         float64 `json:"velocity"`
	MinutesRemaining float64 `json:"minutes_remaining"`
	SurgeActive      bool    `json:"surge_active"`
}

// StressScore combines occupancy, inflow velocity, and time-to-capacity into
// a bounded 0-100 score:
//
//	round(100 * (0.5*occ + 0.3*min(v/120, 1) + 0.2*(1 - min(m/120, 1))))
//
// occupied/total outside [0, total] and negative telemetry values are
// clamped rather than rejected, so a malformed collaborator reading can
// never push the score out of range.
func StressScore(occupied, total int, velocity, minutesRemaining float64) int {
	occ := 0.0
	if total > 0 {
		occ = clamp01(float64(occupied) / float64(total))
	}
	vel := clamp01(velocity / 120)
	ttc := 1 - clamp01(minutesRemaining/120)

	score := int(math.Round(100 * (0.5*occ + 0.3*vel + 0.2*ttc)))
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// EvaluateStress computes the stress signal for a state/telemetry pair.
// Surge mode is active at score >= threshold and inactive below it.
func EvaluateStress(state *OperationalState, tel Telemetry, threshold int) StressSignal {
	if threshold <= 0 {
		threshold = DefaultSurgeThreshold
	}

	// A "stable" reading (negative minutes) means capacity is not
	// forecast to run out; treat it as the far end of the window.
	mins := tel.MinutesRemaining
	if mins < 0 {
		mins = 120
	}

	score := StressScore(state.OccupiedBeds(), state.TotalBeds(), tel.Velocity, mins)
	occ := 0.0
	if state.TotalBeds() > 0 {
		occ = float64(state.OccupiedBeds()) / float64(state.TotalBeds())
	}

	return StressSignal{
		Score:            score,
		OccupancyRatio:   occ,
		Velocity:         tel.Velocity,
		MinutesRemaining: mins,
		SurgeActive:      score >= threshold,
	}
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
