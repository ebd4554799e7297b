package ops

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TopicAlerts is the hub topic carrying alert lifecycle updates.
const TopicAlerts = "alerts"

// KindCriticalVitals is the alert class raised for critical-vitals
// broadcasts from the push stream.
const KindCriticalVitals = "CRITICAL_VITALS"

// DefaultAlertTTL is the display window for an unacknowledged alert.
const DefaultAlertTTL = 10 * time.Second

// Alert is an ephemeral critical notification. At most one alert per kind is
// visible at a time; a newer event of the same kind supersedes the old one.
type Alert struct {
	ID        uuid.UUID `json:"id"`
	Kind      string    `json:"kind"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type alertEntry struct {
	alert Alert
	timer *time.Timer
	gen   uint64
}

// AlertManager runs the per-kind ABSENT -> ACTIVE -> ABSENT state machine.
// ACTIVE ends on expiry or acknowledgment, whichever comes first;
// acknowledgment cancels the pending expiry so a superseded or cleared alert
// is never removed twice.
type AlertManager struct {
	mu     sync.Mutex
	ttl    time.Duration
	active map[string]*alertEntry
	gen    uint64
	closed bool
	pub    Publisher
	logger zerolog.Logger
}

// NewAlertManager creates a manager with the given display window.
// ttl <= 0 selects DefaultAlertTTL.
func NewAlertManager(ttl time.Duration, logger zerolog.Logger) *AlertManager {
	if ttl <= 0 {
		ttl = DefaultAlertTTL
	}
	return &AlertManager{
		ttl:    ttl,
		active: make(map[string]*alertEntry),
		logger: logger.With().Str("component", "alerts").Logger(),
	}
}

// SetPublisher attaches an optional publisher notified on every lifecycle
// transition.
func (m *AlertManager) SetPublisher(pub Publisher) {
	m.mu.Lock()
	m.pub = pub
	m.mu.Unlock()
}

// Raise activates an alert of the given kind. An already-active alert of the
// same kind is superseded: its message is replaced and its expiry window
// restarts. The visible alert is returned.
func (m *AlertManager) Raise(kind, message string) Alert {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Alert{}
	}

	now := time.Now()
	alert := Alert{
		ID:        uuid.New(),
		Kind:      kind,
		Message:   message,
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
	}

	if prev, ok := m.active[kind]; ok {
		prev.timer.Stop()
	}
	m.gen++
	gen := m.gen
	entry := &alertEntry{alert: alert, gen: gen}
	entry.timer = time.AfterFunc(m.ttl, func() { m.expire(kind, gen) })
	m.active[kind] = entry
	pub := m.pub
	m.mu.Unlock()

	m.logger.Info().Str("kind", kind).Str("message", message).Msg("alert raised")
	m.notify(pub)
	return alert
}

// Acknowledge clears the alert with the given ID and cancels its expiry
// timer. Returns false when no active alert matches (already expired,
// superseded, or never raised).
func (m *AlertManager) Acknowledge(id uuid.UUID) bool {
	m.mu.Lock()
	var cleared *alertEntry
	for kind, entry := range m.active {
		if entry.alert.ID == id {
			entry.timer.Stop()
			delete(m.active, kind)
			cleared = entry
			break
		}
	}
	pub := m.pub
	m.mu.Unlock()

	if cleared == nil {
		return false
	}
	m.logger.Info().Str("kind", cleared.alert.Kind).Msg("alert acknowledged")
	m.notify(pub)
	return true
}

// Active returns the currently visible alerts, newest first.
func (m *AlertManager) Active() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Alert, 0, len(m.active))
	for _, entry := range m.active {
		out = append(out, entry.alert)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Close stops all pending timers. Raised alerts after Close are dropped.
func (m *AlertManager) Close() {
	m.mu.Lock()
	m.closed = true
	for kind, entry := range m.active {
		entry.timer.Stop()
		delete(m.active, kind)
	}
	m.mu.Unlock()
}

// expire removes an alert whose display window elapsed. The generation
// check makes a late timer callback against a superseded or acknowledged
// alert a no-op.
func (m *AlertManager) expire(kind string, gen uint64) {
	m.mu.Lock()
	entry, ok := m.active[kind]
	if !ok || entry.gen != gen {
		m.mu.Unlock()
		return
	}
	delete(m.active, kind)
	pub := m.pub
	m.mu.Unlock()

	m.logger.Info().Str("kind", kind).Msg("alert expired")
	m.notify(pub)
}

func (m *AlertManager) notify(pub Publisher) {
	if pub != nil {
		pub.Publish(TopicAlerts, m.Active())
	}
}
