// Package metrics declares the prometheus collectors of the exchange core
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "coinex"

var (
	OrdersCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orders_created_total",
		Help:      "Orders accepted, by side",
	}, []string{"side"})

	OrdersCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orders_cancelled_total",
		Help:      "Orders cancelled by their owner",
	})

	TicksReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ticks_received_total",
		Help:      "Market events received, by kind",
	}, []string{"kind"})

	TickQueueFull = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tick_queue_full_total",
		Help:      "Trade ticks that had to wait for room in the matching queue",
	})

	TicksAbandoned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ticks_abandoned_total",
		Help:      "Trade ticks not queued because the source shut down while waiting",
	})

	FillsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fills_applied_total",
		Help:      "Order fills committed, by side",
	}, []string{"side"})

	FillsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "fills_rejected_total",
		Help:      "Fills that could not be applied and were dead-lettered",
	})

	FillDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "fill_duration_seconds",
		Help:      "Time to apply one fill",
		Buckets:   prometheus.DefBuckets,
	})

	SettlementsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "settlements_applied_total",
		Help:      "Settlements whose cash and history effects were applied",
	})

	SettlementsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "settlements_failed_total",
		Help:      "Settlements left in processing after exhausting retries",
	})

	OutboxPending = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "settlement_outbox_pending",
		Help:      "Settlements waiting in the outbox",
	})

	RankingRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ranking_runs_total",
		Help:      "Leaderboard recomputations, by result",
	}, []string{"result"})
)
