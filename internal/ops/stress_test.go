package ops

import "testing"

func TestStressScore_WorkedExample(t *testing.T) {
	// 18 of 20 beds, 60 patients/hour inbound, 30 minutes to capacity:
	// 0.5*0.9 + 0.3*0.5 + 0.2*0.75 = 0.75 -> 75.
	got := StressScore(18, 20, 60, 30)
	if got != 75 {
		t.Fatalf("expected score 75, got %d", got)
	}
}

func TestStressScore_Saturated(t *testing.T) {
	got := StressScore(20, 20, 500, 0)
	if got != 100 {
		t.Fatalf("expected saturated score 100, got %d", got)
	}
}

func TestStressScore_EmptyHospital(t *testing.T) {
	got := StressScore(0, 0, 0, 120)
	if got != 0 {
		t.Fatalf("expected score 0 for empty hospital, got %d", got)
	}
}

func TestStressScore_ClampsMalformedInputs(t *testing.T) {
	cases := []struct {
		name     string
		occupied int
		total    int
		velocity float64
		minutes  float64
	}{
		{"negative velocity", 10, 20, -50, 60},
		{"occupied above total", 25, 20, 60, 60},
		{"huge velocity", 10, 20, 10000, 60},
		{"huge minutes", 10, 20, 60, 100000},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := StressScore(tc.occupied, tc.total, tc.velocity, tc.minutes)
			if got < 0 || got > 100 {
				t.Fatalf("score %d out of [0, 100]", got)
			}
		})
	}
}

func TestStressScore_MonotonicInOccupancy(t *testing.T) {
	prev := -1
	for occupied := 0; occupied <= 20; occupied++ {
		got := StressScore(occupied, 20, 60, 60)
		if got < prev {
			t.Fatalf("score decreased from %d to %d at occupancy %d", prev, got, occupied)
		}
		prev = got
	}
}

func TestEvaluateStress_SurgeBoundary(t *testing.T) {
	state := stateWithOccupancy(14, 20) // 0.5*0.7 = 0.35

	// 0.35 + 0.3*1 + 0.2*(1-0) = 0.85 -> 85, above the default threshold.
	sig := EvaluateStress(&state, Telemetry{Velocity: 120, MinutesRemaining: 0}, 0)
	if !sig.SurgeActive {
		t.Fatalf("expected surge active at score %d", sig.Score)
	}

	// Exactly at the threshold engages surge; the boundary is inclusive.
	sig = EvaluateStress(&state, Telemetry{Velocity: 140, MinutesRemaining: 0}, 85)
	if sig.Score != 85 {
		t.Fatalf("expected score 85, got %d", sig.Score)
	}
	if !sig.SurgeActive {
		t.Fatal("expected surge active at score == threshold")
	}

	sig = EvaluateStress(&state, Telemetry{Velocity: 140, MinutesRemaining: 0}, 86)
	if sig.SurgeActive {
		t.Fatalf("expected surge inactive at score %d below threshold 86", sig.Score)
	}
}

func TestEvaluateStress_NegativeMinutesMeansStable(t *testing.T) {
	state := stateWithOccupancy(10, 20)

	sig := EvaluateStress(&state, Telemetry{Velocity: 0, MinutesRemaining: -1}, 0)
	// 0.5*0.5 + 0 + 0.2*(1-1) = 0.25 -> 25.
	if sig.Score != 25 {
		t.Fatalf("expected score 25 for stable telemetry, got %d", sig.Score)
	}
	if sig.MinutesRemaining != 120 {
		t.Fatalf("expected stable reading normalized to 120 minutes, got %f", sig.MinutesRemaining)
	}
}

func stateWithOccupancy(occupied, total int) OperationalState {
	state := OperationalState{Version: 1}
	for i := 0; i < total; i++ {
		bed := Bed{ID: bedID(i), Unit: UnitWards}
		if i < occupied {
			bed.Occupied = true
			bed.Patient = &PatientRecord{Name: "Patient", Age: 40, Condition: ConditionStable}
		}
		state.Beds = append(state.Beds, bed)
	}
	return state
}

func bedID(i int) string {
	return string(rune('A'+i/10)) + string(rune('0'+i%10))
}
