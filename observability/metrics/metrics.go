package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the protocol collectors registered by the daemon.
type Metrics struct {
	PoolLiquidity  prometheus.Gauge
	TotalBorrowed  prometheus.Gauge
	LiveListings   prometheus.Gauge
	EventsEmitted  *prometheus.CounterVec
	RefreshRuns    prometheus.Counter
	RefreshSeconds prometheus.Histogram
}

var (
	once sync.Once
	inst *Metrics
)

// New registers the protocol collectors on the default registry. Repeated
// calls return the same instance so tests and the daemon can share it.
func New() *Metrics {
	once.Do(func() {
		inst = &Metrics{
			PoolLiquidity: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "nftlend",
				Name:      "pool_liquidity",
				Help:      "Currency currently available in the lending pool.",
			}),
			TotalBorrowed: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "nftlend",
				Name:      "total_principal_borrowed",
				Help:      "Outstanding principal across all borrowers.",
			}),
			LiveListings: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "nftlend",
				Name:      "live_listings",
				Help:      "Number of open liquidation auctions.",
			}),
			EventsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "nftlend",
				Name:      "events_emitted_total",
				Help:      "Protocol events emitted, labelled by type.",
			}, []string{"type"}),
			RefreshRuns: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "nftlend",
				Name:      "refresh_runs_total",
				Help:      "Keeper refresh invocations.",
			}),
			RefreshSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "nftlend",
				Name:      "refresh_duration_seconds",
				Help:      "Keeper refresh wall time.",
				Buckets:   prometheus.DefBuckets,
			}),
		}
		prometheus.MustRegister(
			inst.PoolLiquidity,
			inst.TotalBorrowed,
			inst.LiveListings,
			inst.EventsEmitted,
			inst.RefreshRuns,
			inst.RefreshSeconds,
		)
	})
	return inst
}
