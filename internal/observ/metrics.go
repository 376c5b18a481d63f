// Package observ exposes the exchange's operational metrics.
package observ

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	TradesTotal       *prometheus.CounterVec
	SweepRunsTotal    *prometheus.CounterVec
	SweepDuration     *prometheus.HistogramVec
	LiquidationsTotal prometheus.Counter
	DividendsPaid     prometheus.Counter
	PurgesTotal       prometheus.Counter
	SplitsTotal       prometheus.Counter
	EventsRolled      *prometheus.CounterVec
	GatewayEvents     *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		TradesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dsx_trades_total",
			Help: "Executed trades by kind.",
		}, []string{"kind"}),
		SweepRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dsx_sweep_runs_total",
			Help: "Reconciliation sweep runs by job and result.",
		}, []string{"job", "result"}),
		SweepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dsx_sweep_duration_seconds",
			Help:    "Wall time of one reconciliation sweep.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job"}),
		LiquidationsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "dsx_liquidations_total",
			Help: "Short positions force-closed by the margin sweep.",
		}),
		DividendsPaid: factory.NewCounter(prometheus.CounterOpts{
			Name: "dsx_dividends_paid_cents_total",
			Help: "Dividend cents credited to holders.",
		}),
		PurgesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "dsx_purges_total",
			Help: "Opted-out members removed after decaying to worthless.",
		}),
		SplitsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "dsx_splits_total",
			Help: "Stock splits executed.",
		}),
		EventsRolled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dsx_market_events_total",
			Help: "Random market events fired by type.",
		}, []string{"type"}),
		GatewayEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dsx_gateway_events_total",
			Help: "Chat gateway events consumed by kind.",
		}, []string{"kind"}),
	}
}

// Handler serves the scrape endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
