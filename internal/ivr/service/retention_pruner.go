package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/tetrixcorps/compliantivr/internal/ivr/store"
)

// RetentionPruner periodically purges ended sessions older than the
// retention window and revokes consents whose expiry has passed. It runs as
// a background goroutine and is stopped via its context or Stop.
//
// A retention of 0 disables session purging; expired consents are still swept.
type RetentionPruner struct {
	sessions  store.SessionStore
	consents  *ConsentLedger
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// PrunerConfig holds the parameters for NewRetentionPruner.
type PrunerConfig struct {
	// RetentionHours is how long an ended session stays queryable.
	RetentionHours int

	// IntervalMinutes is how often the pruner runs. Defaults to 30.
	IntervalMinutes int
}

// NewRetentionPruner creates a pruner but does not start it. consents may
// be nil.
func NewRetentionPruner(sessions store.SessionStore, consents *ConsentLedger, cfg PrunerConfig, logger *slog.Logger) *RetentionPruner {
	interval := time.Duration(cfg.IntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = 30 * time.Minute
	}

	return &RetentionPruner{
		sessions:  sessions,
		consents:  consents,
		retention: time.Duration(cfg.RetentionHours) * time.Hour,
		interval:  interval,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Start begins the background loop. It prunes immediately, then on every
// interval tick, until ctx is cancelled or Stop is called.
func (p *RetentionPruner) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		ctx, p.cancel = context.WithCancel(ctx)
		go p.loop(ctx)

		p.logger.Info("retention pruner started",
			"retention", p.retention.String(),
			"interval", p.interval.String(),
		)
	})
}

// Stop signals the pruner to exit and waits for it to finish. Calling Stop
// before Start, or more than once, is safe.
func (p *RetentionPruner) Stop() {
	started := true
	p.startOnce.Do(func() {
		started = false
		close(p.done)
	})
	if started && p.cancel != nil {
		p.cancel()
	}
	<-p.done
}

func (p *RetentionPruner) loop(ctx context.Context) {
	defer close(p.done)

	p.PruneOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.PruneOnce(ctx)
		}
	}
}

// PruneOnce runs a single purge and consent sweep and returns what it did.
func (p *RetentionPruner) PruneOnce(ctx context.Context) (purged int64, revoked int) {
	if p.retention > 0 {
		cutoff := time.Now().UTC().Add(-p.retention)
		n, err := p.sessions.PurgeEndedBefore(ctx, cutoff)
		if err != nil {
			p.logger.Error("session purge failed", "error", err)
		} else if n > 0 {
			p.logger.Info("purged ended sessions", "count", n, "cutoff", cutoff.Format(time.RFC3339))
		}
		purged = n
	}

	if p.consents != nil {
		n, err := p.consents.CleanupExpiredConsents(ctx)
		if err != nil {
			p.logger.Error("expired consent sweep failed", "error", err, "revoked", n)
		} else if n > 0 {
			p.logger.Info("revoked expired consents", "count", n)
		}
		revoked = n
	}
	return purged, revoked
}
