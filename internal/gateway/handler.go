package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/phrelis/ops-agent/internal/collab"
	"github.com/phrelis/ops-agent/internal/ops"
)

// Collaborator is the slice of the collab client the gateway proxies
// through untouched (triage and forecasting contracts).
type Collaborator interface {
	AssessTriage(ctx context.Context, req collab.TriageRequest) (collab.TriageAssessment, error)
	PredictInflow(ctx context.Context, req collab.ForecastRequest) (json.RawMessage, error)
	PredictionHistory(ctx context.Context) (json.RawMessage, error)
}

// MutationRecorder counts write-operation outcomes for metrics.
type MutationRecorder interface {
	MutationCompleted(kind string, err error)
}

type Handler struct {
	rec       *ops.Reconciler
	alerts    *ops.AlertManager
	admission *ops.AdmissionController
	dispatch  *ops.DispatchController
	collab    Collaborator
	mutations MutationRecorder
}

func NewHandler(rec *ops.Reconciler, alerts *ops.AlertManager, admission *ops.AdmissionController, dispatch *ops.DispatchController, collaborator Collaborator) *Handler {
	return &Handler{
		rec:       rec,
		alerts:    alerts,
		admission: admission,
		dispatch:  dispatch,
		collab:    collaborator,
	}
}

// SetMutationRecorder attaches an optional outcome counter for write
// operations.
func (h *Handler) SetMutationRecorder(r MutationRecorder) {
	h.mutations = r
}

func (h *Handler) record(kind string, err error) {
	if h.mutations != nil {
		h.mutations.MutationCompleted(kind, err)
	}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/state", h.GetState)
	api.GET("/alerts", h.ListAlerts)
	api.POST("/alerts/:id/ack", h.AcknowledgeAlert)
	api.POST("/beds/:id/admit", h.AdmitPatient)
	api.POST("/beds/:id/discharge", h.DischargeBed)
	api.POST("/fleet/dispatch", h.DispatchAmbulance)
	api.POST("/fleet/:id/reset", h.ResetAmbulance)
	api.POST("/triage/assess", h.AssessTriage)
	api.POST("/predict-inflow", h.PredictInflow)
	api.GET("/predict/history", h.PredictionHistory)
}

// GetState returns the full reconciled view.
func (h *Handler) GetState(c echo.Context) error {
	return c.JSON(http.StatusOK, h.rec.View())
}

// ListAlerts returns the currently visible alerts.
func (h *Handler) ListAlerts(c echo.Context) error {
	return c.JSON(http.StatusOK, h.alerts.Active())
}

// AcknowledgeAlert clears an active alert by ID.
func (h *Handler) AcknowledgeAlert(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid alert id")
	}
	if !h.alerts.Acknowledge(id) {
		return echo.NewHTTPError(http.StatusNotFound, "alert not active")
	}
	return c.NoContent(http.StatusNoContent)
}

type admitBody struct {
	PatientName string `json:"patient_name"`
	Age         int    `json:"age"`
	Condition   string `json:"condition"`
}

// AdmitPatient admits a patient into the bed named in the path.
func (h *Handler) AdmitPatient(c echo.Context) error {
	var body admitBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	req := ops.AdmitRequest{
		BedID:     c.Param("id"),
		Name:      body.PatientName,
		Age:       body.Age,
		Condition: ops.Condition(body.Condition),
	}
	err := h.admission.Admit(c.Request().Context(), req)
	h.record("admit", err)
	if err != nil {
		return operationError(err)
	}
	return c.JSON(http.StatusOK, h.rec.View())
}

type dischargeBody struct {
	Confirm bool `json:"confirm"`
}

// DischargeBed discharges the bed named in the path. The body must carry
// confirm=true; discharge is destructive and requires the explicit step.
func (h *Handler) DischargeBed(c echo.Context) error {
	var body dischargeBody
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	err := h.admission.Discharge(c.Request().Context(), c.Param("id"), body.Confirm)
	h.record("discharge", err)
	if err != nil {
		return operationError(err)
	}
	return c.JSON(http.StatusOK, h.rec.View())
}

// DispatchAmbulance requests a unit for the given severity and location.
// A DIVERTED outcome is returned with 200; the caller branches on status.
func (h *Handler) DispatchAmbulance(c echo.Context) error {
	var req ops.DispatchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	outcome, err := h.dispatch.Dispatch(c.Request().Context(), req)
	h.record("dispatch", err)
	if err != nil {
		return operationError(err)
	}
	return c.JSON(http.StatusOK, outcome)
}

// ResetAmbulance returns the unit named in the path to idle.
func (h *Handler) ResetAmbulance(c echo.Context) error {
	err := h.dispatch.Reset(c.Request().Context(), c.Param("id"))
	h.record("reset", err)
	if err != nil {
		return operationError(err)
	}
	return c.JSON(http.StatusOK, h.rec.View())
}

// AssessTriage proxies a triage assessment to the collaborator.
func (h *Handler) AssessTriage(c echo.Context) error {
	var req collab.TriageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	out, err := h.collab.AssessTriage(c.Request().Context(), req)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSON(http.StatusOK, out)
}

// PredictInflow proxies an inflow forecast request to the collaborator.
func (h *Handler) PredictInflow(c echo.Context) error {
	var req collab.ForecastRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	out, err := h.collab.PredictInflow(c.Request().Context(), req)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSONBlob(http.StatusOK, out)
}

// PredictionHistory proxies the collaborator's stored forecast history.
func (h *Handler) PredictionHistory(c echo.Context) error {
	out, err := h.collab.PredictionHistory(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	return c.JSONBlob(http.StatusOK, out)
}

// operationError maps the core's modeled outcomes onto HTTP statuses:
// unknown resources are 404, conflicts are 409, everything else (local
// validation, unconfirmed collaborator writes) is 400.
func operationError(err error) error {
	switch {
	case errors.Is(err, ops.ErrUnknownBed), errors.Is(err, ops.ErrUnknownAmbulance):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ops.ErrBedOccupied),
		errors.Is(err, ops.ErrBedVacant),
		errors.Is(err, ops.ErrOperationInFlight),
		errors.Is(err, ops.ErrNotDispatched):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
}
