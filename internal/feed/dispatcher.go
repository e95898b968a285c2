package feed

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/xtrntr/coinex/internal/metrics"
	"github.com/xtrntr/coinex/internal/models"
)

// TickSink queues trade ticks for matching, waiting for room. An error means
// the tick was not accepted.
type TickSink interface {
	Enqueue(ctx context.Context, tick models.Tick) error
}

// TickerSink stores ticker snapshots
type TickerSink interface {
	SaveTicker(ctx context.Context, t models.Ticker) error
}

// Dispatcher routes parsed events to the engine and the price cache
type Dispatcher struct {
	ticks   TickSink
	tickers TickerSink
	log     *zap.Logger
}

func NewDispatcher(ticks TickSink, tickers TickerSink, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{ticks: ticks, tickers: tickers, log: logger.Named("feed")}
}

// Handle parses and routes one raw message. Unsupported message types are
// ignored. A nil error means the message was fully accepted and may be
// acknowledged upstream; errors wrapping ErrMalformed will never succeed.
func (d *Dispatcher) Handle(ctx context.Context, raw []byte) error {
	ev, err := Parse(raw)
	if errors.Is(err, ErrUnsupported) {
		return nil
	}
	if err != nil {
		return err
	}

	switch e := ev.(type) {
	case TradeEvent:
		return d.ticks.Enqueue(ctx, e.Tick)
	case TickerEvent:
		metrics.TicksReceived.WithLabelValues("ticker").Inc()
		return d.tickers.SaveTicker(ctx, e.Ticker)
	}
	return nil
}
