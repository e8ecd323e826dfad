package stream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the streamer's prometheus collectors.
type Metrics struct {
	TicksReceived     prometheus.Counter
	TicksDiscarded    *prometheus.CounterVec // reason: stale, invalid
	Flushes           prometheus.Counter
	RowsFlushed       prometheus.Counter
	HubFailures       prometheus.Counter
	DurableWrites     *prometheus.CounterVec // result: ok, aborted, failed
	SeedBatches       *prometheus.CounterVec // result: ok, failed
	ActiveConnections prometheus.Gauge
	Reconnects        prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		TicksReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "pricestream_ticks_received_total",
			Help: "Price frames received from the provider.",
		}),
		TicksDiscarded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pricestream_ticks_discarded_total",
			Help: "Price frames discarded, by reason.",
		}, []string{"reason"}),
		Flushes: f.NewCounter(prometheus.CounterOpts{
			Name: "pricestream_flushes_total",
			Help: "Flushes that published at least one row.",
		}),
		RowsFlushed: f.NewCounter(prometheus.CounterOpts{
			Name: "pricestream_rows_flushed_total",
			Help: "Dirty rows included in flushes.",
		}),
		HubFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "pricestream_hub_push_failures_total",
			Help: "Failed pushes to the notification hub.",
		}),
		DurableWrites: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pricestream_durable_writes_total",
			Help: "Durable snapshot write attempts, by result.",
		}, []string{"result"}),
		SeedBatches: f.NewCounterVec(prometheus.CounterOpts{
			Name: "pricestream_seed_batches_total",
			Help: "Quote seed batches, by result.",
		}, []string{"result"}),
		ActiveConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "pricestream_active_connections",
			Help: "Open provider websocket connections.",
		}),
		Reconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "pricestream_reconnects_total",
			Help: "Reconnect attempts made by the scheduler.",
		}),
	}
}
