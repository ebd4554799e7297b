// Package ops implements the operational state core of the hospital
// dashboard agent: the reconciled view of beds, fleet, and resources, the
// surge stress engine, the admission/discharge and dispatch controllers,
// and the critical-alert lifecycle.
package ops

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Modeled business-rule outcomes. Callers branch on these explicitly; they
// are rejected locally and never reach the collaborator service.
var (
	ErrStaleSnapshot     = errors.New("snapshot is older than current state")
	ErrUnknownBed        = errors.New("bed not present in current state")
	ErrBedOccupied       = errors.New("bed is already occupied")
	ErrBedVacant         = errors.New("bed is vacant")
	ErrOperationInFlight = errors.New("an operation for this resource is already in flight")
	ErrNotConfirmed      = errors.New("discharge requires explicit confirmation")
	ErrUnknownAmbulance  = errors.New("ambulance not present in current state")
	ErrNotDispatched     = errors.New("ambulance is not dispatched")
)

// Condition is the enumerated patient condition assigned at admission.
type Condition string

const (
	ConditionStable      Condition = "Stable"
	ConditionCritical    Condition = "Critical"
	ConditionObservation Condition = "Observation"
	ConditionPreSurgery  Condition = "Pre-Surgery"
)

// Valid reports whether c is a member of the enumerated condition set.
func (c Condition) Valid() bool {
	switch c {
	case ConditionStable, ConditionCritical, ConditionObservation, ConditionPreSurgery:
		return true
	}
	return false
}

// UnitType classifies a bed by the unit it belongs to.
type UnitType string

const (
	UnitICU     UnitType = "ICU"
	UnitER      UnitType = "ER"
	UnitWards   UnitType = "Wards"
	UnitSurgery UnitType = "Surgery"
)

// PatientRecord exists only while attached to an occupied bed. It is created
// atomically with admission and removed atomically with discharge.
type PatientRecord struct {
	Name      string    `json:"name"`
	Age       int       `json:"age"`
	Condition Condition `json:"condition"`
}

// Bed is a single bed slot. A bed is either vacant (Patient nil) or occupied
// (Patient set); the reconciler never stores a partially populated pair.
type Bed struct {
	ID             string         `json:"id"`
	Unit           UnitType       `json:"unit"`
	Occupied       bool           `json:"occupied"`
	Patient        *PatientRecord `json:"patient,omitempty"`
	VitalsSnapshot string         `json:"vitals_snapshot,omitempty"`
	// SuggestedCondition is the AI-suggested condition attached to the
	// bed's latest triage vitals, used to pre-fill admission forms.
	SuggestedCondition Condition `json:"suggested_condition,omitempty"`
	Ventilator         bool      `json:"ventilator_in_use,omitempty"`
}

// AmbulanceStatus is the fleet state machine: IDLE <-> DISPATCHED.
type AmbulanceStatus string

const (
	AmbulanceIdle       AmbulanceStatus = "IDLE"
	AmbulanceDispatched AmbulanceStatus = "DISPATCHED"
)

// Ambulance is a fleet unit. Invariant: status IDLE implies ETAMinutes == 0
// and Location == "".
type Ambulance struct {
	ID         string          `json:"id"`
	Status     AmbulanceStatus `json:"status"`
	Location   string          `json:"location,omitempty"`
	ETAMinutes int             `json:"eta_minutes"`
}

// DispatchStatus is the result class of a dispatch attempt.
type DispatchStatus string

const (
	DispatchDispatched DispatchStatus = "DISPATCHED"
	DispatchDiverted   DispatchStatus = "DIVERTED"
)

// DispatchOutcome is returned once per dispatch request and never stored.
// DIVERTED is a valid outcome, not an error.
type DispatchOutcome struct {
	Status     DispatchStatus `json:"status"`
	TargetUnit string         `json:"target_unit,omitempty"`
	Message    string         `json:"message"`
}

// ResourceCount tracks total versus in-use for a resource category such as
// ventilators.
type ResourceCount struct {
	Total int `json:"total"`
	InUse int `json:"in_use"`
}

// OperationalState is the aggregate hospital snapshot owned by the
// Reconciler. Version increases monotonically and decides which of two
// competing candidates wins; see Reconciler.ApplySnapshot.
type OperationalState struct {
	Version     int64                    `json:"version"`
	RetrievedAt time.Time                `json:"retrieved_at"`
	Beds        []Bed                    `json:"beds"`
	Ambulances  []Ambulance              `json:"ambulances"`
	Resources   map[string]ResourceCount `json:"resources"`
	StaffRatio  string                   `json:"staff_ratio"`
}

// TotalBeds returns the number of beds in the snapshot.
func (s *OperationalState) TotalBeds() int { return len(s.Beds) }

// OccupiedBeds counts beds with a patient in them.
func (s *OperationalState) OccupiedBeds() int {
	n := 0
	for i := range s.Beds {
		if s.Beds[i].Occupied {
			n++
		}
	}
	return n
}

// AvailableBeds counts vacant beds.
func (s *OperationalState) AvailableBeds() int {
	return s.TotalBeds() - s.OccupiedBeds()
}

// OccupancyPercent is occupied/total rounded to the nearest whole percent.
// An empty snapshot reports 0.
func (s *OperationalState) OccupancyPercent() int {
	if s.TotalBeds() == 0 {
		return 0
	}
	return int(math.Round(float64(s.OccupiedBeds()) / float64(s.TotalBeds()) * 100))
}

// BedByID returns a pointer into Beds, or nil when absent.
func (s *OperationalState) BedByID(id string) *Bed {
	for i := range s.Beds {
		if s.Beds[i].ID == id {
			return &s.Beds[i]
		}
	}
	return nil
}

// AmbulanceByID returns a pointer into Ambulances, or nil when absent.
func (s *OperationalState) AmbulanceByID(id string) *Ambulance {
	for i := range s.Ambulances {
		if s.Ambulances[i].ID == id {
			return &s.Ambulances[i]
		}
	}
	return nil
}

// Clone returns a deep copy so that readers never alias the reconciler's
// owned value.
func (s *OperationalState) Clone() OperationalState {
	out := OperationalState{
		Version:     s.Version,
		RetrievedAt: s.RetrievedAt,
		StaffRatio:  s.StaffRatio,
	}
	if s.Beds != nil {
		out.Beds = make([]Bed, len(s.Beds))
		copy(out.Beds, s.Beds)
		for i := range out.Beds {
			if p := s.Beds[i].Patient; p != nil {
				cp := *p
				out.Beds[i].Patient = &cp
			}
		}
	}
	if s.Ambulances != nil {
		out.Ambulances = make([]Ambulance, len(s.Ambulances))
		copy(out.Ambulances, s.Ambulances)
	}
	if s.Resources != nil {
		out.Resources = make(map[string]ResourceCount, len(s.Resources))
		for k, v := range s.Resources {
			out.Resources[k] = v
		}
	}
	return out
}

// Validate checks the bed occupancy invariant: occupied beds carry a patient
// record and vacant beds do not.
func (s *OperationalState) Validate() error {
	for i := range s.Beds {
		b := &s.Beds[i]
		if b.Occupied && b.Patient == nil {
			return fmt.Errorf("bed %s is occupied but has no patient record", b.ID)
		}
		if !b.Occupied && b.Patient != nil {
			return fmt.Errorf("bed %s is vacant but carries a patient record", b.ID)
		}
	}
	for i := range s.Ambulances {
		a := &s.Ambulances[i]
		if a.Status == AmbulanceIdle && (a.ETAMinutes != 0 || a.Location != "") {
			return fmt.Errorf("ambulance %s is idle but has dispatch details", a.ID)
		}
	}
	return nil
}
