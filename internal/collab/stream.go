package collab

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// StreamEvent is one decoded frame from the vitals push stream. The only
// event kind the core consumes is CRITICAL_VITALS; unknown kinds are passed
// to the handler too so future consumers can filter for themselves.
type StreamEvent struct {
	Type    string          `json:"type"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// EventHandler receives every decoded stream event.
type EventHandler func(StreamEvent)

// StatusHandler receives push-channel health transitions: true on connect,
// false on disconnect.
type StatusHandler func(connected bool)

// Reconnect backoff bounds for the push stream.
const (
	minBackoff = time.Second
	maxBackoff = 30 * time.Second
)

// StreamListener maintains the standing connection to the collaborator's
// vitals stream, decoding frames into typed events. Disconnection is
// non-fatal: the listener backs off and redials until its context ends.
type StreamListener struct {
	url      string
	onEvent  EventHandler
	onStatus StatusHandler
	dialer   *websocket.Dialer
	retryMin time.Duration
	retryMax time.Duration
	logger   zerolog.Logger
}

// NewStreamListener creates a listener for the given ws:// or wss:// URL.
// onStatus may be nil.
func NewStreamListener(url string, onEvent EventHandler, onStatus StatusHandler, logger zerolog.Logger) *StreamListener {
	return &StreamListener{
		url:      url,
		onEvent:  onEvent,
		onStatus: onStatus,
		dialer:   websocket.DefaultDialer,
		retryMin: minBackoff,
		retryMax: maxBackoff,
		logger:   logger.With().Str("component", "stream").Logger(),
	}
}

// Run dials and reads until ctx is cancelled, redialing with exponential
// backoff after every failure. The ladder restarts from the minimum once a
// dial succeeds, so a drop after a healthy connection redials promptly.
// Individual messages are not acknowledged.
func (l *StreamListener) Run(ctx context.Context) {
	backoff := l.retryMin
	for {
		if ctx.Err() != nil {
			return
		}

		connected, err := l.listen(ctx)
		l.setStatus(false)
		if ctx.Err() != nil {
			l.logger.Info().Msg("stream listener stopped")
			return
		}
		if connected {
			backoff = l.retryMin
		}

		l.logger.Warn().Err(err).Dur("retry_in", backoff).Msg("stream disconnected")
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > l.retryMax {
			backoff = l.retryMax
		}
	}
}

// listen runs one connection to completion, returning when it breaks and
// whether the dial succeeded. ctx cancellation closes the socket to unblock
// the read loop.
func (l *StreamListener) listen(ctx context.Context) (bool, error) {
	conn, _, err := l.dialer.DialContext(ctx, l.url, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	l.logger.Info().Str("url", l.url).Msg("stream connected")
	l.setStatus(true)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}

		var event StreamEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			l.logger.Warn().Err(err).Msg("discarding malformed stream frame")
			continue
		}
		if event.Type == "" {
			continue
		}
		l.onEvent(event)
	}
}

func (l *StreamListener) setStatus(connected bool) {
	if l.onStatus != nil {
		l.onStatus(connected)
	}
}
