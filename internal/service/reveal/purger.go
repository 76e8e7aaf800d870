package reveal

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wikiguard/pii-scan-backend/internal/domain/pii"
)

// RetentionPurger periodically deletes audit records whose retention window
// has passed. Failures are logged and retried on the next tick.
type RetentionPurger struct {
	audits   pii.AuditRepository
	interval time.Duration
	logger   *zap.Logger

	mu      sync.Mutex
	stop    chan struct{}
	stopped chan struct{}
}

func NewRetentionPurger(audits pii.AuditRepository, interval time.Duration, logger *zap.Logger) *RetentionPurger {
	if interval <= 0 {
		interval = time.Hour
	}
	return &RetentionPurger{
		audits:   audits,
		interval: interval,
		logger:   logger,
	}
}

// Start launches the purge loop. Idempotent.
func (p *RetentionPurger) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stop != nil {
		return
	}
	p.stop = make(chan struct{})
	p.stopped = make(chan struct{})
	go p.loop(ctx, p.stop, p.stopped)
}

// Stop halts the loop and waits for it to exit. Idempotent.
func (p *RetentionPurger) Stop() {
	p.mu.Lock()
	stop, stopped := p.stop, p.stopped
	p.stop, p.stopped = nil, nil
	p.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-stopped
}

func (p *RetentionPurger) loop(ctx context.Context, stop, stopped chan struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.purge(ctx)
	for {
		select {
		case <-ticker.C:
			p.purge(ctx)
		case <-stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (p *RetentionPurger) purge(ctx context.Context) {
	purged, err := p.audits.PurgeExpired(ctx, time.Now().UTC())
	if err != nil {
		p.logger.Warn("audit retention purge failed", zap.Error(err))
		return
	}
	if purged > 0 {
		p.logger.Info("expired audit records purged", zap.Int64("count", purged))
	}
}
