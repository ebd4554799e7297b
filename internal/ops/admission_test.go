package ops

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type mockBedWriter struct {
	mu             sync.Mutex
	admitCalls     int
	dischargeCalls int
	admitErr       error
	dischargeErr   error
	block          chan struct{} // when set, calls wait here
}

func (m *mockBedWriter) AdmitPatient(ctx context.Context, bedID, name string, age int, condition Condition) error {
	m.mu.Lock()
	m.admitCalls++
	block := m.block
	m.mu.Unlock()
	if block != nil {
		<-block
	}
	return m.admitErr
}

func (m *mockBedWriter) DischargeBed(ctx context.Context, bedID string) error {
	m.mu.Lock()
	m.dischargeCalls++
	block := m.block
	m.mu.Unlock()
	if block != nil {
		<-block
	}
	return m.dischargeErr
}

func (m *mockBedWriter) calls() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.admitCalls, m.dischargeCalls
}

func newAdmissionFixture(t *testing.T, occupied, total int) (*AdmissionController, *Reconciler, *mockBedWriter) {
	t.Helper()
	rec := NewReconciler(0, zerolog.Nop())
	snap := stateWithOccupancy(occupied, total)
	snap.Version = 100
	if err := rec.ApplySnapshot(snap); err != nil {
		t.Fatalf("fixture snapshot rejected: %v", err)
	}
	writer := &mockBedWriter{}
	return NewAdmissionController(writer, rec, zerolog.Nop()), rec, writer
}

func TestAdmit_Confirmed(t *testing.T) {
	ctrl, rec, writer := newAdmissionFixture(t, 0, 3)

	err := ctrl.Admit(context.Background(), AdmitRequest{
		BedID:     "A0",
		Name:      "John Doe",
		Age:       61,
		Condition: ConditionCritical,
	})
	if err != nil {
		t.Fatalf("unexpected admit error: %v", err)
	}

	if admits, _ := writer.calls(); admits != 1 {
		t.Fatalf("expected 1 collaborator call, got %d", admits)
	}
	st := rec.State()
	bed := st.BedByID("A0")
	if !bed.Occupied || bed.Patient == nil {
		t.Fatal("expected bed occupied after confirmed admission")
	}
	if bed.Patient.Name != "John Doe" || bed.Patient.Age != 61 || bed.Patient.Condition != ConditionCritical {
		t.Fatalf("unexpected patient record %+v", bed.Patient)
	}
}

func TestAdmit_OccupiedBedRejectedLocally(t *testing.T) {
	ctrl, _, writer := newAdmissionFixture(t, 1, 3)

	err := ctrl.Admit(context.Background(), AdmitRequest{BedID: "A0", Name: "Jane Roe", Age: 30})
	if !errors.Is(err, ErrBedOccupied) {
		t.Fatalf("expected ErrBedOccupied, got %v", err)
	}
	if admits, _ := writer.calls(); admits != 0 {
		t.Fatalf("expected no collaborator call for local rejection, got %d", admits)
	}
}

func TestAdmit_UnknownBed(t *testing.T) {
	ctrl, _, writer := newAdmissionFixture(t, 0, 3)

	err := ctrl.Admit(context.Background(), AdmitRequest{BedID: "ICU-99", Name: "Jane Roe", Age: 30})
	if !errors.Is(err, ErrUnknownBed) {
		t.Fatalf("expected ErrUnknownBed, got %v", err)
	}
	if admits, _ := writer.calls(); admits != 0 {
		t.Fatalf("expected no collaborator call, got %d", admits)
	}
}

func TestAdmit_Validation(t *testing.T) {
	ctrl, _, writer := newAdmissionFixture(t, 0, 3)
	ctx := context.Background()

	cases := []struct {
		name string
		req  AdmitRequest
	}{
		{"missing bed", AdmitRequest{Name: "A", Age: 30}},
		{"missing name", AdmitRequest{BedID: "A0", Age: 30}},
		{"zero age", AdmitRequest{BedID: "A0", Name: "A"}},
		{"negative age", AdmitRequest{BedID: "A0", Name: "A", Age: -5}},
		{"unknown condition", AdmitRequest{BedID: "A0", Name: "A", Age: 30, Condition: "Deceased"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := ctrl.Admit(ctx, tc.req); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
	if admits, _ := writer.calls(); admits != 0 {
		t.Fatalf("expected no collaborator calls for invalid requests, got %d", admits)
	}
}

func TestAdmit_ConditionDefaultsFromSuggestion(t *testing.T) {
	rec := NewReconciler(0, zerolog.Nop())
	snap := OperationalState{
		Version: 100,
		Beds: []Bed{
			{ID: "ICU-1", Unit: UnitICU, SuggestedCondition: ConditionObservation},
			{ID: "ICU-2", Unit: UnitICU},
		},
	}
	rec.ApplySnapshot(snap)
	writer := &mockBedWriter{}
	ctrl := NewAdmissionController(writer, rec, zerolog.Nop())
	ctx := context.Background()

	if err := ctrl.Admit(ctx, AdmitRequest{BedID: "ICU-1", Name: "A", Age: 40}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	st := rec.State()
	if got := st.BedByID("ICU-1").Patient.Condition; got != ConditionObservation {
		t.Fatalf("expected suggested condition to pre-fill, got %q", got)
	}

	// Without a suggestion the fallback is Stable.
	if err := ctrl.Admit(ctx, AdmitRequest{BedID: "ICU-2", Name: "B", Age: 50}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	st = rec.State()
	if got := st.BedByID("ICU-2").Patient.Condition; got != ConditionStable {
		t.Fatalf("expected Stable fallback, got %q", got)
	}
}

func TestAdmit_FailedConfirmationLeavesStateUntouched(t *testing.T) {
	ctrl, rec, writer := newAdmissionFixture(t, 0, 3)
	writer.admitErr = errors.New("service unavailable")

	err := ctrl.Admit(context.Background(), AdmitRequest{BedID: "A0", Name: "A", Age: 30})
	if err == nil {
		t.Fatal("expected error from unconfirmed admission")
	}
	st := rec.State()
	if bed := st.BedByID("A0"); bed.Occupied {
		t.Fatal("expected no optimistic state change on failure")
	}
}

func TestAdmit_SingleFlightPerBed(t *testing.T) {
	ctrl, _, writer := newAdmissionFixture(t, 0, 3)
	writer.block = make(chan struct{})

	firstDone := make(chan error, 1)
	go func() {
		firstDone <- ctrl.Admit(context.Background(), AdmitRequest{BedID: "A0", Name: "A", Age: 30})
	}()

	// Wait for the first call to reach the collaborator.
	for {
		if admits, _ := writer.calls(); admits == 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	err := ctrl.Admit(context.Background(), AdmitRequest{BedID: "A0", Name: "B", Age: 40})
	if !errors.Is(err, ErrOperationInFlight) {
		t.Fatalf("expected ErrOperationInFlight, got %v", err)
	}

	close(writer.block)
	if err := <-firstDone; err != nil {
		t.Fatalf("unexpected error from first admission: %v", err)
	}
	if admits, _ := writer.calls(); admits != 1 {
		t.Fatalf("expected the guarded attempt to skip the collaborator, got %d calls", admits)
	}
}

func TestDischarge_Confirmed(t *testing.T) {
	ctrl, rec, writer := newAdmissionFixture(t, 1, 3)

	if err := ctrl.Discharge(context.Background(), "A0", true); err != nil {
		t.Fatalf("unexpected discharge error: %v", err)
	}
	if _, discharges := writer.calls(); discharges != 1 {
		t.Fatalf("expected 1 collaborator call, got %d", discharges)
	}
	st := rec.State()
	bed := st.BedByID("A0")
	if bed.Occupied || bed.Patient != nil {
		t.Fatal("expected bed vacant after confirmed discharge")
	}
}

func TestDischarge_RequiresConfirmation(t *testing.T) {
	ctrl, _, writer := newAdmissionFixture(t, 1, 3)

	err := ctrl.Discharge(context.Background(), "A0", false)
	if !errors.Is(err, ErrNotConfirmed) {
		t.Fatalf("expected ErrNotConfirmed, got %v", err)
	}
	if _, discharges := writer.calls(); discharges != 0 {
		t.Fatalf("expected no collaborator call without confirmation, got %d", discharges)
	}
}

func TestDischarge_VacantBed(t *testing.T) {
	ctrl, _, _ := newAdmissionFixture(t, 0, 3)

	err := ctrl.Discharge(context.Background(), "A0", true)
	if !errors.Is(err, ErrBedVacant) {
		t.Fatalf("expected ErrBedVacant, got %v", err)
	}
}

func TestDischarge_ClearsBedMetadata(t *testing.T) {
	rec := NewReconciler(0, zerolog.Nop())
	snap := OperationalState{
		Version: 100,
		Beds: []Bed{{
			ID:                 "ICU-3",
			Unit:               UnitICU,
			Occupied:           true,
			Patient:            &PatientRecord{Name: "John Doe", Age: 61, Condition: ConditionCritical},
			VitalsSnapshot:     "HR 132 SpO2 88",
			SuggestedCondition: ConditionCritical,
			Ventilator:         true,
		}},
	}
	rec.ApplySnapshot(snap)
	ctrl := NewAdmissionController(&mockBedWriter{}, rec, zerolog.Nop())

	if err := ctrl.Discharge(context.Background(), "ICU-3", true); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	st := rec.State()
	bed := st.BedByID("ICU-3")
	if bed.Occupied || bed.Patient != nil || bed.VitalsSnapshot != "" || bed.SuggestedCondition != "" || bed.Ventilator {
		t.Fatalf("expected all bed metadata cleared, got %+v", bed)
	}
}
