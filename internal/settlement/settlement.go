// Package settlement drains the outbox filled by the matching engine, order
// cancellation and swaps, applying cash credits and history records.
// Both effects are keyed by the settlement ID, so replays are harmless.
package settlement

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xtrntr/coinex/internal/metrics"
	"github.com/xtrntr/coinex/internal/models"
	"github.com/xtrntr/coinex/internal/retry"
)

// Outbox is the durable queue of pending settlements
type Outbox interface {
	Claim(ctx context.Context) (models.Settlement, string, bool, error)
	Ack(ctx context.Context, raw string) error
	Recover(ctx context.Context) (int, error)
	Pending(ctx context.Context) (int64, error)
}

// Balances credits user cash idempotently by ref
type Balances interface {
	Credit(ctx context.Context, userID int64, amount decimal.Decimal, ref string) error
}

// HistoryWriter appends a record idempotently by its Ref
type HistoryWriter interface {
	AppendHistory(ctx context.Context, h *models.TransactionHistory) error
}

// DefaultRecoverInterval is how often settlements stuck in processing are
// returned to the outbox while the worker runs
const DefaultRecoverInterval = time.Minute

type Processor struct {
	outbox       Outbox
	balances     Balances
	history      HistoryWriter
	policy       retry.Policy
	poll         time.Duration
	recoverEvery time.Duration
	wake         chan struct{}
	log          *zap.Logger
}

func NewProcessor(outbox Outbox, balances Balances, history HistoryWriter, poll time.Duration, logger *zap.Logger) *Processor {
	return &Processor{
		outbox:       outbox,
		balances:     balances,
		history:      history,
		policy:       retry.DefaultPolicy,
		poll:         poll,
		recoverEvery: DefaultRecoverInterval,
		wake:         make(chan struct{}, 1),
		log:          logger.Named("settlement"),
	}
}

// SetRecoverInterval changes how often Run retries settlements that
// exhausted their retries
func (p *Processor) SetRecoverInterval(d time.Duration) {
	if d > 0 {
		p.recoverEvery = d
	}
}

// Notify wakes the worker without blocking
func (p *Processor) Notify() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Recover returns settlements abandoned by a previous run to the outbox
func (p *Processor) Recover(ctx context.Context) error {
	n, err := p.outbox.Recover(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		p.log.Warn("recovered in-flight settlements", zap.Int("count", n))
	}
	return nil
}

// Run drains the outbox until ctx is done, periodically returning failed
// settlements to the outbox for another attempt
func (p *Processor) Run(ctx context.Context) error {
	if err := p.Recover(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()
	recovery := time.NewTicker(p.recoverEvery)
	defer recovery.Stop()
	for {
		p.Drain(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-p.wake:
		case <-ticker.C:
		case <-recovery.C:
			// Drain runs on this goroutine only, so nothing is in flight here
			if err := p.Recover(ctx); err != nil && ctx.Err() == nil {
				p.log.Error("failed to recover settlements", zap.Error(err))
			}
		}
	}
}

// Drain applies everything currently in the outbox. A settlement that fails
// is left in processing for the next Recover.
func (p *Processor) Drain(ctx context.Context) {
	for ctx.Err() == nil {
		st, raw, ok, err := p.outbox.Claim(ctx)
		if err != nil {
			p.log.Error("failed to claim settlement", zap.Error(err), zap.String("raw", raw))
			if ok {
				metrics.SettlementsFailed.Inc()
				continue
			}
			return
		}
		if !ok {
			break
		}

		if err := p.Apply(ctx, st); err != nil {
			metrics.SettlementsFailed.Inc()
			p.log.Error("settlement failed",
				zap.String("settlement_id", st.ID),
				zap.Int64("user_id", st.UserID),
				zap.Error(err),
			)
			continue
		}
		if err := p.outbox.Ack(ctx, raw); err != nil {
			p.log.Error("failed to ack settlement", zap.String("settlement_id", st.ID), zap.Error(err))
		}
		metrics.SettlementsApplied.Inc()
	}

	if n, err := p.outbox.Pending(ctx); err == nil {
		metrics.OutboxPending.Set(float64(n))
	}
}

// Apply performs the cash and history effects of one settlement
func (p *Processor) Apply(ctx context.Context, st models.Settlement) error {
	if st.Credit.IsPositive() {
		err := retry.Do(ctx, p.policy, func() error {
			return p.balances.Credit(ctx, st.UserID, st.Credit, st.ID)
		}, p.notify(st.ID, "credit"))
		if err != nil {
			return err
		}
	}

	if st.History != nil {
		h := *st.History
		if h.Ref == "" {
			h.Ref = st.ID
		}
		err := retry.Do(ctx, p.policy, func() error {
			return p.history.AppendHistory(ctx, &h)
		}, p.notify(st.ID, "history"))
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) notify(id, step string) func(error, time.Duration) {
	return func(err error, wait time.Duration) {
		p.log.Warn("retrying settlement step",
			zap.String("settlement_id", id),
			zap.String("step", step),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}
}
