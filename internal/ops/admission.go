package ops

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// BedWriter is the collaborator mutation surface for bed operations.
type BedWriter interface {
	AdmitPatient(ctx context.Context, bedID, name string, age int, condition Condition) error
	DischargeBed(ctx context.Context, bedID string) error
}

// AdmitRequest carries the validated inputs for an admission.
type AdmitRequest struct {
	BedID     string    `json:"bed_id"`
	Name      string    `json:"patient_name"`
	Age       int       `json:"age"`
	Condition Condition `json:"condition"`
}

// AdmissionController executes bed admissions and discharges against the
// collaborator and reconciles confirmed results. Mutations are
// confirmation-before-state: local state is never changed optimistically,
// and at most one operation per bed is in flight at a time.
type AdmissionController struct {
	collab BedWriter
	rec    *Reconciler
	logger zerolog.Logger

	mu       sync.Mutex
	inflight map[string]uuid.UUID // bed ID -> operation token
}

// NewAdmissionController wires the controller to its collaborator client
// and the reconciler that owns state.
func NewAdmissionController(collab BedWriter, rec *Reconciler, logger zerolog.Logger) *AdmissionController {
	return &AdmissionController{
		collab:   collab,
		rec:      rec,
		logger:   logger.With().Str("component", "admission").Logger(),
		inflight: make(map[string]uuid.UUID),
	}
}

// Admit validates the request against current state, sends it to the
// collaborator, and on confirmation installs the bed as occupied. Stale or
// conflicting requests are rejected locally without any network call.
func (c *AdmissionController) Admit(ctx context.Context, req AdmitRequest) error {
	if req.BedID == "" {
		return fmt.Errorf("bed_id is required")
	}
	if req.Name == "" {
		return fmt.Errorf("patient_name is required")
	}
	if req.Age <= 0 {
		return fmt.Errorf("age must be a positive integer")
	}

	state := c.rec.State()
	bed := state.BedByID(req.BedID)
	if bed == nil {
		return ErrUnknownBed
	}
	if bed.Occupied {
		return ErrBedOccupied
	}

	if req.Condition == "" {
		req.Condition = bed.SuggestedCondition
		if req.Condition == "" {
			req.Condition = ConditionStable
		}
	}
	if !req.Condition.Valid() {
		return fmt.Errorf("condition %q is not one of the admission conditions", req.Condition)
	}

	token, err := c.acquire(req.BedID)
	if err != nil {
		return err
	}
	defer c.release(req.BedID, token)

	if err := c.collab.AdmitPatient(ctx, req.BedID, req.Name, req.Age, req.Condition); err != nil {
		c.logger.Warn().Err(err).Str("bed", req.BedID).Msg("admission not confirmed")
		return fmt.Errorf("admit %s: %w", req.BedID, err)
	}

	_, err = c.rec.Confirm(func(st *OperationalState) error {
		b := st.BedByID(req.BedID)
		if b == nil {
			return ErrUnknownBed
		}
		b.Occupied = true
		b.Patient = &PatientRecord{Name: req.Name, Age: req.Age, Condition: req.Condition}
		return nil
	})
	if err != nil {
		return err
	}

	c.logger.Info().Str("bed", req.BedID).Str("condition", string(req.Condition)).Msg("admission confirmed")
	return nil
}

// Discharge clears an occupied bed. The confirmed flag is the explicit
// human confirmation step; without it the request is rejected before any
// network call.
func (c *AdmissionController) Discharge(ctx context.Context, bedID string, confirmed bool) error {
	if bedID == "" {
		return fmt.Errorf("bed_id is required")
	}
	if !confirmed {
		return ErrNotConfirmed
	}

	state := c.rec.State()
	bed := state.BedByID(bedID)
	if bed == nil {
		return ErrUnknownBed
	}
	if !bed.Occupied {
		return ErrBedVacant
	}

	token, err := c.acquire(bedID)
	if err != nil {
		return err
	}
	defer c.release(bedID, token)

	if err := c.collab.DischargeBed(ctx, bedID); err != nil {
		c.logger.Warn().Err(err).Str("bed", bedID).Msg("discharge not confirmed")
		return fmt.Errorf("discharge %s: %w", bedID, err)
	}

	_, err = c.rec.Confirm(func(st *OperationalState) error {
		b := st.BedByID(bedID)
		if b == nil {
			return ErrUnknownBed
		}
		b.Occupied = false
		b.Patient = nil
		b.VitalsSnapshot = ""
		b.SuggestedCondition = ""
		b.Ventilator = false
		return nil
	})
	if err != nil {
		return err
	}

	c.logger.Info().Str("bed", bedID).Msg("discharge confirmed")
	return nil
}

// acquire registers an in-flight operation for the bed, rejecting a second
// attempt while the first is pending.
func (c *AdmissionController) acquire(bedID string) (uuid.UUID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inflight[bedID]; busy {
		return uuid.Nil, ErrOperationInFlight
	}
	token := uuid.New()
	c.inflight[bedID] = token
	return token, nil
}

func (c *AdmissionController) release(bedID string, token uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight[bedID] == token {
		delete(c.inflight, bedID)
	}
}
