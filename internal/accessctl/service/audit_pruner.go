package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/faredeal/accessctl/internal/accessctl/store"
	"github.com/faredeal/accessctl/internal/metrics"
)

// AuditPruner periodically deletes audit entries older than a configurable
// retention period, on top of the count-based cap every backend enforces.
// It runs as a background goroutine and is stopped via its context or Stop.
//
// A retention of 0 disables pruning entirely.
type AuditPruner struct {
	backend   store.Backend
	retention time.Duration
	interval  time.Duration
	logger    *zap.Logger
	metrics   *metrics.Metrics
	now       func() time.Time

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// PrunerConfig holds the parameters for NewAuditPruner.
type PrunerConfig struct {
	// RetentionDays is how many days of audit history to keep.
	// 0 means keep everything up to the backend's capacity.
	RetentionDays int

	// IntervalHours is how often the pruner runs. Defaults to 6.
	IntervalHours int
}

// NewAuditPruner creates a pruner but does not start it.
func NewAuditPruner(b store.Backend, cfg PrunerConfig, logger *zap.Logger, m *metrics.Metrics) *AuditPruner {
	interval := time.Duration(cfg.IntervalHours) * time.Hour
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AuditPruner{
		backend:   b,
		retention: time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		interval:  interval,
		logger:    logger,
		metrics:   m,
		now:       func() time.Time { return time.Now().UTC() },
		done:      make(chan struct{}),
	}
}

// Start runs an immediate prune, then repeats on the configured interval
// until ctx is cancelled or Stop is called.
func (p *AuditPruner) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		if p.retention <= 0 {
			p.logger.Info("audit pruner disabled (retention=0)")
			close(p.done)
			return
		}

		ctx, p.cancel = context.WithCancel(ctx)
		go p.loop(ctx)

		p.logger.Info("audit pruner started",
			zap.Int("retention_days", int(p.retention.Hours()/24)),
			zap.Duration("interval", p.interval))
	})
}

// Stop signals the pruner to exit and waits for it to finish. Safe to call
// more than once, and a no-op if Start was never called.
func (p *AuditPruner) Stop() {
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

func (p *AuditPruner) loop(ctx context.Context) {
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

// PruneOnce removes entries older than the retention window and returns how
// many were deleted.
func (p *AuditPruner) PruneOnce(ctx context.Context) int64 {
	if p.retention <= 0 {
		return 0
	}
	cutoff := p.now().Add(-p.retention)
	deleted, err := p.backend.PruneAuditOlderThan(ctx, cutoff)
	if err != nil {
		p.logger.Error("audit prune failed", zap.Error(err))
		return 0
	}
	if deleted > 0 {
		p.logger.Info("audit prune",
			zap.Int64("deleted", deleted),
			zap.Time("cutoff", cutoff))
		if p.metrics != nil {
			p.metrics.AuditPruned.Add(float64(deleted))
		}
	}
	return deleted
}
