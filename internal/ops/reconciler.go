package ops

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Publisher receives change notifications for fan-out to dashboard views.
// The gateway's WebSocket hub satisfies it.
type Publisher interface {
	Publish(topic string, payload any)
}

// TopicState is the hub topic carrying reconciled view updates.
const TopicState = "state"

// MultiPublisher fans every publication out to each member in order.
type MultiPublisher []Publisher

func (m MultiPublisher) Publish(topic string, payload any) {
	for _, p := range m {
		p.Publish(topic, payload)
	}
}

// View is the immutable read model handed to everything outside the
// reconciler: the current state plus everything derived from it.
type View struct {
	State            OperationalState `json:"state"`
	Stress           StressSignal     `json:"stress"`
	OccupancyPercent int              `json:"occupancy_percent"`
	DiversionActive  bool             `json:"diversion_active"`
	StreamConnected  bool             `json:"stream_connected"`
	Degraded         bool             `json:"degraded"`
	LastSyncAt       time.Time        `json:"last_sync_at"`
	ServedAt         time.Time        `json:"served_at"`
}

// Reconciler owns the single OperationalState. Polled snapshots, confirmed
// write results, and stream connectivity all merge here; competing
// candidates are ordered by version, so a slow in-flight poll response can
// never overwrite state already advanced by a confirmed write.
type Reconciler struct {
	mu             sync.RWMutex
	state          OperationalState
	telemetry      Telemetry
	connected      bool
	degraded       bool
	lastSync       time.Time
	surgeThreshold int
	logger         zerolog.Logger
	pub            Publisher
}

// NewReconciler creates a reconciler with an empty state. threshold <= 0
// selects DefaultSurgeThreshold.
func NewReconciler(threshold int, logger zerolog.Logger) *Reconciler {
	if threshold <= 0 {
		threshold = DefaultSurgeThreshold
	}
	return &Reconciler{
		surgeThreshold: threshold,
		logger:         logger.With().Str("component", "reconciler").Logger(),
	}
}

// SetPublisher attaches an optional view publisher. Must be called before
// the poller and controllers start feeding candidates.
func (r *Reconciler) SetPublisher(pub Publisher) {
	r.mu.Lock()
	r.pub = pub
	r.mu.Unlock()
}

// ApplySnapshot offers a polled candidate. The candidate replaces current
// state only when its version is not older than the held version; an equal
// version is accepted as an idempotent no-op. A candidate older than the
// held version is dropped with ErrStaleSnapshot.
func (r *Reconciler) ApplySnapshot(candidate OperationalState) error {
	if candidate.Version == 0 && !candidate.RetrievedAt.IsZero() {
		candidate.Version = candidate.RetrievedAt.UnixMilli()
	}
	if err := candidate.Validate(); err != nil {
		r.logger.Warn().Err(err).Msg("rejecting malformed snapshot")
		return fmt.Errorf("malformed snapshot: %w", err)
	}

	r.mu.Lock()
	if candidate.Version < r.state.Version {
		r.logger.Debug().
			Int64("candidate_version", candidate.Version).
			Int64("current_version", r.state.Version).
			Msg("dropping stale snapshot")
		r.mu.Unlock()
		return ErrStaleSnapshot
	}
	r.degraded = false
	r.lastSync = time.Now()
	if candidate.Version == r.state.Version {
		// Re-application of the same version is a no-op on observable
		// state; only the sync clock advances.
		r.mu.Unlock()
		return nil
	}
	r.state = candidate
	r.mu.Unlock()

	r.publishView()
	return nil
}

// ApplyTelemetry replaces the surge telemetry used by the stress engine.
func (r *Reconciler) ApplyTelemetry(tel Telemetry) {
	r.mu.Lock()
	r.telemetry = tel
	r.mu.Unlock()
	r.publishView()
}

// NoteFetchFailure marks the view as degraded. State is held at
// last-known-good values; the failure is retried on the next poll tick.
func (r *Reconciler) NoteFetchFailure(err error) {
	r.mu.Lock()
	r.degraded = true
	r.mu.Unlock()
	r.logger.Warn().Err(err).Msg("snapshot fetch failed; holding last-known-good state")
}

// SetStreamConnected records push-channel health. Disconnection is
// non-fatal and only degrades the connectivity indicator.
func (r *Reconciler) SetStreamConnected(connected bool) {
	r.mu.Lock()
	changed := r.connected != connected
	r.connected = connected
	r.mu.Unlock()
	if changed {
		r.publishView()
	}
}

// Confirm applies the result of a collaborator-confirmed write. The mutation
// runs against a copy of the current state; on success the copy is stamped
// with a strictly newer version and installed, so it dominates any snapshot
// taken before the write. The installed state is returned.
func (r *Reconciler) Confirm(mutate func(*OperationalState) error) (OperationalState, error) {
	r.mu.Lock()
	next := r.state.Clone()
	if err := mutate(&next); err != nil {
		r.mu.Unlock()
		return OperationalState{}, err
	}
	next.Version = nextVersion(r.state.Version)
	next.RetrievedAt = time.Now()
	r.state = next
	out := next.Clone()
	r.mu.Unlock()

	r.publishView()
	return out, nil
}

// State returns a deep copy of the current state.
func (r *Reconciler) State() OperationalState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.Clone()
}

// View assembles the full read model: state copy, stress signal, occupancy
// percent, and the diversion condition (no available beds OR surge mode).
func (r *Reconciler) View() View {
	r.mu.RLock()
	state := r.state.Clone()
	tel := r.telemetry
	connected := r.connected
	degraded := r.degraded
	lastSync := r.lastSync
	threshold := r.surgeThreshold
	r.mu.RUnlock()

	stress := EvaluateStress(&state, tel, threshold)
	return View{
		State:            state,
		Stress:           stress,
		OccupancyPercent: state.OccupancyPercent(),
		DiversionActive:  state.TotalBeds() > 0 && state.AvailableBeds() == 0 || stress.SurgeActive,
		StreamConnected:  connected,
		Degraded:         degraded,
		LastSyncAt:       lastSync,
		ServedAt:         time.Now(),
	}
}

func (r *Reconciler) publishView() {
	r.mu.RLock()
	pub := r.pub
	r.mu.RUnlock()
	if pub != nil {
		pub.Publish(TopicState, r.View())
	}
}

// nextVersion returns a wall-clock version guaranteed to be strictly newer
// than current, falling back to a logical bump when the clock has not
// advanced past it.
func nextVersion(current int64) int64 {
	v := time.Now().UnixMilli()
	if v <= current {
		v = current + 1
	}
	return v
}
