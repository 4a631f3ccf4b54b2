package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/support-chat/internal/config"
	"github.com/spec-kit/support-chat/internal/domain"
	"github.com/spec-kit/support-chat/internal/observability"
)

// IdleTicketSource lists assigned tickets silent since before cutoff.
type IdleTicketSource interface {
	ListIdle(ctx context.Context, cutoff time.Time, limit int) ([]domain.Ticket, error)
}

// InactivityCloser closes a ticket if it is still idle at commit time.
type InactivityCloser interface {
	CloseInactive(ctx context.Context, ticketID string, cutoff time.Time) (bool, error)
}

// InactivityMonitor periodically closes assigned tickets nobody has
// written to within the threshold.
type InactivityMonitor struct {
	source      IdleTicketSource
	closer      InactivityCloser
	threshold   time.Duration
	interval    time.Duration
	listTimeout time.Duration
	batchSize   int
	logger      *zap.Logger
	metrics     *observability.Metrics
	now         func() time.Time
}

// SweepResult summarises one sweep.
type SweepResult struct {
	Scanned int
	Closed  int
	Failed  int
}

// NewInactivityMonitor builds a monitor from configuration.
func NewInactivityMonitor(cfg config.InactivityConfig, source IdleTicketSource, closer InactivityCloser, logger *zap.Logger, metrics *observability.Metrics) *InactivityMonitor {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 100
	}
	return &InactivityMonitor{
		source:      source,
		closer:      closer,
		threshold:   cfg.Threshold(),
		interval:    cfg.SweepInterval(),
		listTimeout: cfg.ListTimeout(),
		batchSize:   batch,
		logger:      logger.Named("inactivity"),
		metrics:     metrics,
		now:         time.Now,
	}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (m *InactivityMonitor) Run(ctx context.Context) {
	m.logger.Info("inactivity monitor started",
		zap.Duration("threshold", m.threshold),
		zap.Duration("interval", m.interval))

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("inactivity monitor stopped")
			return
		case <-ticker.C:
			m.Sweep(ctx)
		}
	}
}

// Sweep closes every ticket idle past the threshold. Per-ticket failures
// are logged and skipped.
func (m *InactivityMonitor) Sweep(ctx context.Context) SweepResult {
	cutoff := m.now().UTC().Add(-m.threshold)
	var result SweepResult
	// Tickets that failed or no longer qualified stay in later listings,
	// so each batch is widened to look past them.
	skipped := map[string]struct{}{}

	for ctx.Err() == nil {
		limit := m.batchSize + len(skipped)
		batch, err := m.listIdle(ctx, cutoff, limit)
		if err != nil {
			m.logger.Error("list idle tickets", zap.Error(err))
			return result
		}

		processed := 0
		for _, ticket := range batch {
			if _, skip := skipped[ticket.ID]; skip {
				continue
			}
			processed++
			result.Scanned++
			closed, err := m.closer.CloseInactive(ctx, ticket.ID, cutoff)
			switch {
			case err != nil:
				skipped[ticket.ID] = struct{}{}
				result.Failed++
				m.metrics.Add(observability.InactivityFailures, 1)
				m.logger.Warn("close idle ticket", zap.String("ticket_id", ticket.ID), zap.Error(err))
			case closed:
				result.Closed++
				m.metrics.Add(observability.InactivityClosures, 1)
			default:
				skipped[ticket.ID] = struct{}{}
			}
		}

		if len(batch) < limit || processed == 0 {
			break
		}
	}

	if result.Scanned > 0 {
		m.logger.Info("inactivity sweep finished",
			zap.Int("scanned", result.Scanned),
			zap.Int("closed", result.Closed),
			zap.Int("failed", result.Failed))
	}
	return result
}

func (m *InactivityMonitor) listIdle(ctx context.Context, cutoff time.Time, limit int) ([]domain.Ticket, error) {
	listCtx, cancel := context.WithTimeout(ctx, m.listTimeout)
	defer cancel()
	return m.source.ListIdle(listCtx, cutoff, limit)
}
