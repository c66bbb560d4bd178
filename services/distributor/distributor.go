// Package distributor keeps the decision engine's rule snapshot fresh. It
// polls the registry on a fixed interval and installs each result behind an
// atomic pointer swap, so engine readers always see either the old complete
// snapshot or the new complete snapshot and nothing in between.
package distributor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/taskops/policy-core/services/engine"
	"github.com/taskops/policy-core/services/registry"
	"go.uber.org/zap"
)

// Source provides the active revision's frozen rule set. Satisfied by the
// registry service.
type Source interface {
	Current(ctx context.Context) (*registry.CurrentSnapshot, error)
}

// Reflection reports whether a published revision has reached the serving
// snapshot. A false Reflected with no error means the wait timed out; the
// publish itself still stands.
type Reflection struct {
	Reflected        bool      `json:"reflected"`
	ReflectedAt      time.Time `json:"reflected_at,omitempty"`
	ObservedRevision string    `json:"observed_revision"`
}

// Config holds distributor settings
type Config struct {
	PollInterval time.Duration
}

// Distributor polls the registry and serves the current snapshot
type Distributor struct {
	source       Source
	pollInterval time.Duration
	logger       *zap.Logger

	current atomic.Pointer[engine.Snapshot]

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a new Distributor serving the empty snapshot until the first
// successful refresh.
func New(source Source, cfg Config, logger *zap.Logger) *Distributor {
	d := &Distributor{
		source:       source,
		pollInterval: cfg.PollInterval,
		logger:       logger,
	}
	d.current.Store(engine.EmptySnapshot())
	return d
}

// Snapshot returns the currently installed snapshot. Never nil.
func (d *Distributor) Snapshot() *engine.Snapshot {
	return d.current.Load()
}

// Start begins the background poll loop after one immediate refresh. A
// failed first refresh is logged, not fatal: the engine keeps serving the
// baseline until a poll succeeds.
func (d *Distributor) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return fmt.Errorf("distributor already started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	d.started = true

	if err := d.Refresh(ctx); err != nil {
		d.logger.Warn("initial snapshot refresh failed, serving baseline", zap.Error(err))
	}

	go d.poll(ctx)

	d.logger.Info("distributor started",
		zap.Duration("poll_interval", d.pollInterval),
		zap.String("revision_id", d.Snapshot().RevisionID()))
	return nil
}

// Stop halts the poll loop and waits for it to exit
func (d *Distributor) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.started {
		return fmt.Errorf("distributor not started")
	}

	d.cancel()
	<-d.done
	d.started = false

	d.logger.Info("distributor stopped")
	return nil
}

func (d *Distributor) poll(ctx context.Context) {
	defer close(d.done)

	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.Refresh(ctx); err != nil {
				d.logger.Warn("snapshot refresh failed, keeping previous snapshot", zap.Error(err))
			}
		}
	}
}

// Refresh performs one poll and installs the result. A failure leaves the
// previous snapshot in place; the engine never serves a partial rule set.
func (d *Distributor) Refresh(ctx context.Context) error {
	current, err := d.source.Current(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch current revision: %w", err)
	}

	previous := d.current.Load()
	next := engine.NewSnapshot(current.RevisionID, current.Rules)
	d.current.Store(next)

	if previous.RevisionID() != next.RevisionID() {
		d.logger.Info("snapshot installed",
			zap.String("revision_id", next.RevisionID()),
			zap.String("previous_revision_id", previous.RevisionID()),
			zap.Int("rule_count", next.RuleCount()))
	} else {
		d.logger.Debug("snapshot refreshed",
			zap.String("revision_id", next.RevisionID()),
			zap.Int("rule_count", next.RuleCount()))
	}
	return nil
}

// WaitForReflection polls until the given revision is the one being served,
// or the attempts run out. Runs out-of-band refreshes so a publish response
// can report reflection without waiting for the next poll tick.
func (d *Distributor) WaitForReflection(ctx context.Context, revisionID string, attempts int, interval time.Duration) Reflection {
	if attempts < 1 {
		attempts = 1
	}

	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return Reflection{ObservedRevision: d.Snapshot().RevisionID()}
			case <-time.After(interval):
			}
		}

		if err := d.Refresh(ctx); err != nil {
			d.logger.Warn("refresh during reflection wait failed", zap.Error(err))
		}

		if observed := d.Snapshot().RevisionID(); observed == revisionID {
			return Reflection{
				Reflected:        true,
				ReflectedAt:      time.Now().UTC(),
				ObservedRevision: observed,
			}
		}
	}

	observed := d.Snapshot().RevisionID()
	d.logger.Warn("published revision not observed within reflection window",
		zap.String("revision_id", revisionID),
		zap.String("observed_revision", observed))
	return Reflection{ObservedRevision: observed}
}
