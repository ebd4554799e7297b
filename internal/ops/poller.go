package ops

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// SnapshotSource is the collaborator pull surface the poller reads from.
type SnapshotSource interface {
	FetchSnapshot(ctx context.Context) (OperationalState, error)
	FetchTelemetry(ctx context.Context) (Telemetry, error)
}

// Instrumentation receives poll outcomes for metrics. Implementations must
// be safe for concurrent use.
type Instrumentation interface {
	PollCompleted(success bool)
	SnapshotDropped()
}

// DefaultPollInterval matches the dashboard's 2-5s polling cadence.
const DefaultPollInterval = 3 * time.Second

// Poller drives the snapshot fetcher: on every tick it pulls the hospital
// snapshot and the surge telemetry in parallel and offers the results to
// the reconciler. A failed tick mutates nothing and is retried on the next
// one.
type Poller struct {
	src      SnapshotSource
	rec      *Reconciler
	interval time.Duration
	inst     Instrumentation
	logger   zerolog.Logger
}

// NewPoller creates a poller. interval <= 0 selects DefaultPollInterval;
// inst may be nil.
func NewPoller(src SnapshotSource, rec *Reconciler, interval time.Duration, inst Instrumentation, logger zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		src:      src,
		rec:      rec,
		interval: interval,
		inst:     inst,
		logger:   logger.With().Str("component", "poller").Logger(),
	}
}

// Run polls until ctx is cancelled. The first fetch happens immediately so
// views are not blank for a full interval after startup.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("poller stopped")
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *Poller) tick(ctx context.Context) {
	var (
		wg      sync.WaitGroup
		snap    OperationalState
		tel     Telemetry
		snapErr error
		telErr  error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		snap, snapErr = p.src.FetchSnapshot(ctx)
	}()
	go func() {
		defer wg.Done()
		tel, telErr = p.src.FetchTelemetry(ctx)
	}()
	wg.Wait()

	if ctx.Err() != nil {
		// Shutdown raced the fetch; drop whatever came back.
		return
	}

	if snapErr != nil {
		p.rec.NoteFetchFailure(snapErr)
	} else if err := p.rec.ApplySnapshot(snap); err != nil {
		if p.inst != nil {
			p.inst.SnapshotDropped()
		}
	}

	if telErr != nil {
		p.rec.NoteFetchFailure(telErr)
	} else {
		p.rec.ApplyTelemetry(tel)
	}

	if p.inst != nil {
		p.inst.PollCompleted(snapErr == nil && telErr == nil)
	}
}
