package ops

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Severity classes a dispatch request by the unit capability it needs.
type Severity string

const (
	SeverityRequiresICU Severity = "requires ICU"
	SeverityRequiresER  Severity = "requires ER"
)

// Valid reports whether s is a recognized severity class.
func (s Severity) Valid() bool {
	return s == SeverityRequiresICU || s == SeverityRequiresER
}

// FleetWriter is the collaborator mutation surface for ambulance
// operations. Dispatch unit selection happens on the collaborator side.
type FleetWriter interface {
	DispatchAmbulance(ctx context.Context, severity Severity, location string, etaMinutes int) (DispatchOutcome, error)
	ResetAmbulance(ctx context.Context, ambulanceID string) error
}

// DispatchRequest carries the validated inputs for a dispatch.
type DispatchRequest struct {
	Severity   Severity `json:"severity"`
	Location   string   `json:"location"`
	ETAMinutes int      `json:"eta_minutes"`
}

// DispatchController executes ambulance dispatch and reset transitions with
// the same confirmation-before-state and in-flight discipline as bed
// operations.
type DispatchController struct {
	collab FleetWriter
	rec    *Reconciler
	logger zerolog.Logger

	mu       sync.Mutex
	inflight map[string]uuid.UUID // ambulance ID -> operation token
}

// NewDispatchController wires the controller to its collaborator client and
// the reconciler.
func NewDispatchController(collab FleetWriter, rec *Reconciler, logger zerolog.Logger) *DispatchController {
	return &DispatchController{
		collab:   collab,
		rec:      rec,
		logger:   logger.With().Str("component", "dispatch").Logger(),
		inflight: make(map[string]uuid.UUID),
	}
}

// Dispatch asks the collaborator to send a unit. The unit is chosen
// remotely, so there is no local in-flight guard to key on before the call;
// the reconciler's version rule orders the confirmed result against any
// concurrent write. A DIVERTED outcome is a modeled result the caller
// branches on, not an error; state is unchanged by it.
func (c *DispatchController) Dispatch(ctx context.Context, req DispatchRequest) (DispatchOutcome, error) {
	if !req.Severity.Valid() {
		return DispatchOutcome{}, fmt.Errorf("severity %q is not a dispatch severity class", req.Severity)
	}
	if req.Location == "" {
		return DispatchOutcome{}, fmt.Errorf("location is required")
	}
	if req.ETAMinutes <= 0 {
		return DispatchOutcome{}, fmt.Errorf("eta_minutes must be a positive integer")
	}

	outcome, err := c.collab.DispatchAmbulance(ctx, req.Severity, req.Location, req.ETAMinutes)
	if err != nil {
		c.logger.Warn().Err(err).Str("location", req.Location).Msg("dispatch not confirmed")
		return DispatchOutcome{}, fmt.Errorf("dispatch: %w", err)
	}

	if outcome.Status == DispatchDiverted {
		c.logger.Info().Str("location", req.Location).Str("message", outcome.Message).Msg("dispatch diverted")
		return outcome, nil
	}

	_, err = c.rec.Confirm(func(st *OperationalState) error {
		a := st.AmbulanceByID(outcome.TargetUnit)
		if a == nil {
			// The collaborator confirmed a unit the snapshot has not
			// caught up with yet; the next poll carries it.
			return nil
		}
		a.Status = AmbulanceDispatched
		a.Location = req.Location
		a.ETAMinutes = req.ETAMinutes
		return nil
	})
	if err != nil {
		return DispatchOutcome{}, err
	}

	c.logger.Info().Str("unit", outcome.TargetUnit).Str("location", req.Location).Msg("dispatch confirmed")
	return outcome, nil
}

// Reset returns a dispatched ambulance to IDLE, clearing its location and
// ETA. Stale identifiers and not-dispatched units are rejected before any
// network call; a second reset while one is pending is rejected locally.
func (c *DispatchController) Reset(ctx context.Context, ambulanceID string) error {
	if ambulanceID == "" {
		return fmt.Errorf("ambulance_id is required")
	}

	state := c.rec.State()
	amb := state.AmbulanceByID(ambulanceID)
	if amb == nil {
		return ErrUnknownAmbulance
	}
	if amb.Status != AmbulanceDispatched {
		return ErrNotDispatched
	}

	token, err := c.acquire(ambulanceID)
	if err != nil {
		return err
	}
	defer c.release(ambulanceID, token)

	if err := c.collab.ResetAmbulance(ctx, ambulanceID); err != nil {
		c.logger.Warn().Err(err).Str("unit", ambulanceID).Msg("reset not confirmed")
		return fmt.Errorf("reset %s: %w", ambulanceID, err)
	}

	_, err = c.rec.Confirm(func(st *OperationalState) error {
		a := st.AmbulanceByID(ambulanceID)
		if a == nil {
			return ErrUnknownAmbulance
		}
		a.Status = AmbulanceIdle
		a.Location = ""
		a.ETAMinutes = 0
		return nil
	})
	if err != nil {
		return err
	}

	c.logger.Info().Str("unit", ambulanceID).Msg("reset confirmed")
	return nil
}

func (c *DispatchController) acquire(ambulanceID string) (uuid.UUID, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.inflight[ambulanceID]; busy {
		return uuid.Nil, ErrOperationInFlight
	}
	token := uuid.New()
	c.inflight[ambulanceID] = token
	return token, nil
}

func (c *DispatchController) release(ambulanceID string, token uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight[ambulanceID] == token {
		delete(c.inflight, ambulanceID)
	}
}
