// Package collab is the client for the hospital collaborator service: the
// pull endpoints (snapshot, surge telemetry, triage, inflow forecast), the
// mutation endpoints (admit, discharge, dispatch, reset), and the vitals
// push stream. The collaborator computes everything; this package only
// normalizes its response shapes into the agent's internal schema.
package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"github.com/phrelis/ops-agent/internal/ops"
)

// DefaultTimeout bounds every collaborator request. Reads are retried on
// the next poll tick, so a short timeout beats a hung poll.
const DefaultTimeout = 10 * time.Second

// Client talks to the collaborator service over HTTP. It implements
// ops.SnapshotSource, ops.BedWriter, and ops.FleetWriter.
type Client struct {
	http   *resty.Client
	logger zerolog.Logger
}

// NewClient builds a client for the given base URL. token, when non-empty,
// is attached as a bearer token; authentication itself is the
// collaborator's concern.
func NewClient(baseURL, token string, timeout time.Duration, logger zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	http := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if token != "" {
		http.SetAuthToken(token)
	}
	return &Client{
		http:   http,
		logger: logger.With().Str("component", "collab").Logger(),
	}
}

// apiError is the collaborator's error envelope.
type apiError struct {
	Detail string `json:"detail"`
}

func (c *Client) checkStatus(resp *resty.Response) error {
	if resp.IsSuccess() {
		return nil
	}
	var e apiError
	if err := json.Unmarshal(resp.Body(), &e); err == nil && e.Detail != "" {
		return fmt.Errorf("collaborator returned %d: %s", resp.StatusCode(), e.Detail)
	}
	return fmt.Errorf("collaborator returned %d", resp.StatusCode())
}

// --- Pull: hospital snapshot ---

type statsResponse struct {
	GeneratedAt time.Time `json:"generated_at"`
	BedStats    struct {
		Total     int `json:"total"`
		Occupied  int `json:"occupied"`
		Available int `json:"available"`
	} `json:"bed_stats"`
	StaffRatio string                     `json:"staff_ratio"`
	Resources  map[string]resourcePayload `json:"resources"`
}

// resourcePayload tolerates both counting conventions the collaborator has
// used: {total, in_use} and {total, available}.
type resourcePayload struct {
	Total     int  `json:"total"`
	InUse     *int `json:"in_use"`
	Available *int `json:"available"`
}

func (p resourcePayload) count() ops.ResourceCount {
	rc := ops.ResourceCount{Total: p.Total}
	switch {
	case p.InUse != nil:
		rc.InUse = *p.InUse
	case p.Available != nil:
		rc.InUse = p.Total - *p.Available
	}
	return rc
}

type bedPayload struct {
	ID             string `json:"id"`
	Unit           string `json:"type"`
	IsOccupied     bool   `json:"is_occupied"`
	PatientName    string `json:"patient_name"`
	PatientAge     int    `json:"patient_age"`
	Condition      string `json:"condition"`
	VitalsSnapshot string `json:"vitals_snapshot"`
	Ventilator     bool   `json:"ventilator_in_use"`
}

type ambulancePayload struct {
	ID         string `json:"id"`
	Status     string `json:"status"`
	Location   string `json:"location"`
	ETAMinutes int    `json:"eta_minutes"`
}

// FetchSnapshot pulls the stats, bed, and fleet endpoints in parallel and
// normalizes them into one OperationalState candidate stamped with the
// collaborator's generation timestamp (or receipt time when absent).
func (c *Client) FetchSnapshot(ctx context.Context) (ops.OperationalState, error) {
	var (
		wg    sync.WaitGroup
		stats statsResponse
		beds  []bedPayload
		fleet []ambulancePayload
		errs  [3]error
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		errs[0] = c.getJSON(ctx, "/api/dashboard/stats", &stats)
	}()
	go func() {
		defer wg.Done()
		errs[1] = c.getJSON(ctx, "/api/erp/beds", &beds)
	}()
	go func() {
		defer wg.Done()
		errs[2] = c.getJSON(ctx, "/api/fleet/ambulances", &fleet)
	}()
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return ops.OperationalState{}, err
		}
	}

	retrieved := stats.GeneratedAt
	if retrieved.IsZero() {
		retrieved = time.Now()
	}

	state := ops.OperationalState{
		RetrievedAt: retrieved,
		Version:     retrieved.UnixMilli(),
		StaffRatio:  stats.StaffRatio,
		Beds:        make([]ops.Bed, 0, len(beds)),
		Ambulances:  make([]ops.Ambulance, 0, len(fleet)),
		Resources:   make(map[string]ops.ResourceCount, len(stats.Resources)),
	}
	for name, res := range stats.Resources {
		state.Resources[name] = res.count()
	}
	for _, b := range beds {
		bed := ops.Bed{
			ID:             b.ID,
			Unit:           ops.UnitType(b.Unit),
			Occupied:       b.IsOccupied,
			VitalsSnapshot: b.VitalsSnapshot,
			Ventilator:     b.Ventilator,
		}
		if b.IsOccupied {
			cond := ops.Condition(b.Condition)
			if !cond.Valid() {
				cond = ops.ConditionStable
			}
			bed.Patient = &ops.PatientRecord{
				Name:      b.PatientName,
				Age:       b.PatientAge,
				Condition: cond,
			}
		} else if cond := ops.Condition(b.Condition); cond.Valid() {
			// Vacant bed carrying an AI-suggested condition from triage.
			bed.SuggestedCondition = cond
		}
		state.Beds = append(state.Beds, bed)
	}
	for _, a := range fleet {
		amb := ops.Ambulance{
			ID:     a.ID,
			Status: ops.AmbulanceStatus(a.Status),
		}
		if amb.Status == ops.AmbulanceDispatched {
			amb.Location = a.Location
			amb.ETAMinutes = a.ETAMinutes
		}
		state.Ambulances = append(state.Ambulances, amb)
	}
	return state, nil
}

// --- Pull: surge telemetry ---

type telemetryResponse struct {
	Status           string              `json:"status"`
	MinutesRemaining float64             `json:"minutes_remaining"`
	Velocity         float64             `json:"velocity"`
	Forecast         []ops.ForecastPoint `json:"forecast"`
}

// FetchTelemetry pulls the time-to-capacity endpoint.
func (c *Client) FetchTelemetry(ctx context.Context) (ops.Telemetry, error) {
	var payload telemetryResponse
	if err := c.getJSON(ctx, "/api/predict/time-to-capacity", &payload); err != nil {
		return ops.Telemetry{}, err
	}
	return ops.Telemetry{
		Velocity:         payload.Velocity,
		MinutesRemaining: payload.MinutesRemaining,
		Forecast:         payload.Forecast,
	}, nil
}

// --- Pull: triage and forecast (passthrough contracts) ---

// TriageRequest carries the vitals and symptoms for a triage assessment.
type TriageRequest struct {
	SpO2      int      `json:"spo2"`
	HeartRate int      `json:"heart_rate"`
	Symptoms  []string `json:"symptoms"`
}

// TriageAssessment is the collaborator's severity verdict.
type TriageAssessment struct {
	ESILevel    int    `json:"esi_level"`
	Acuity      string `json:"acuity"`
	AssignedBed string `json:"assigned_bed"`
	Action      string `json:"action"`
}

// AssessTriage submits vitals and symptoms to the triage contract. Severity
// scoring happens entirely on the collaborator side.
func (c *Client) AssessTriage(ctx context.Context, req TriageRequest) (TriageAssessment, error) {
	var out TriageAssessment
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post("/api/triage/assess")
	if err != nil {
		return TriageAssessment{}, fmt.Errorf("assess triage: %w", err)
	}
	if err := c.checkStatus(resp); err != nil {
		return TriageAssessment{}, err
	}
	return out, nil
}

// ForecastRequest carries the context for an inflow prediction.
type ForecastRequest struct {
	Date             string `json:"date"`
	WeatherCondition string `json:"weather_condition"`
	LocalEvent       string `json:"local_event,omitempty"`
}

// PredictInflow requests an inflow forecast. The response is passed through
// to views untouched; the core does not interpret it.
func (c *Client) PredictInflow(ctx context.Context, req ForecastRequest) (json.RawMessage, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(req).
		Post("/api/predict-inflow")
	if err != nil {
		return nil, fmt.Errorf("predict inflow: %w", err)
	}
	if err := c.checkStatus(resp); err != nil {
		return nil, err
	}
	return json.RawMessage(resp.Body()), nil
}

// PredictionHistory pulls the collaborator's stored forecast snapshots,
// passed through to views untouched.
func (c *Client) PredictionHistory(ctx context.Context) (json.RawMessage, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		Get("/api/predict/history")
	if err != nil {
		return nil, fmt.Errorf("prediction history: %w", err)
	}
	if err := c.checkStatus(resp); err != nil {
		return nil, err
	}
	return json.RawMessage(resp.Body()), nil
}

// --- Mutations ---

type admitPayload struct {
	BedID       string `json:"bed_id"`
	PatientName string `json:"patient_name"`
	Age         int    `json:"age"`
	Condition   string `json:"condition"`
}

// AdmitPatient asks the collaborator to admit a patient into a bed. A
// non-2xx response (occupied server-side, unknown bed) comes back as an
// error carrying the collaborator's detail message.
func (c *Client) AdmitPatient(ctx context.Context, bedID, name string, age int, condition ops.Condition) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(admitPayload{BedID: bedID, PatientName: name, Age: age, Condition: string(condition)}).
		Post("/api/erp/admit")
	if err != nil {
		return fmt.Errorf("admit: %w", err)
	}
	return c.checkStatus(resp)
}

// DischargeBed asks the collaborator to discharge the bed's patient.
func (c *Client) DischargeBed(ctx context.Context, bedID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("bedID", bedID).
		Post("/api/erp/discharge/{bedID}")
	if err != nil {
		return fmt.Errorf("discharge: %w", err)
	}
	return c.checkStatus(resp)
}

type dispatchPayload struct {
	Severity   string `json:"severity"`
	Location   string `json:"location"`
	ETAMinutes int    `json:"eta_minutes"`
}

// DispatchAmbulance asks the collaborator to select and dispatch a unit.
// A DIVERTED outcome is delivered in-band with a 2xx status.
func (c *Client) DispatchAmbulance(ctx context.Context, severity ops.Severity, location string, etaMinutes int) (ops.DispatchOutcome, error) {
	var out ops.DispatchOutcome
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(dispatchPayload{Severity: string(severity), Location: location, ETAMinutes: etaMinutes}).
		SetResult(&out).
		Post("/api/fleet/dispatch")
	if err != nil {
		return ops.DispatchOutcome{}, fmt.Errorf("dispatch: %w", err)
	}
	if err := c.checkStatus(resp); err != nil {
		return ops.DispatchOutcome{}, err
	}
	return out, nil
}

// ResetAmbulance returns a unit to idle.
func (c *Client) ResetAmbulance(ctx context.Context, ambulanceID string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("ambulanceID", ambulanceID).
		Post("/api/fleet/reset/{ambulanceID}")
	if err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	return c.checkStatus(resp)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(out).
		Get(path)
	if err != nil {
		return fmt.Errorf("get %s: %w", path, err)
	}
	return c.checkStatus(resp)
}
