package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns a private registry with the engine's sweep, loan and rail
// metrics.
type Collector struct {
	registry      *prometheus.Registry
	sweepRuns     *prometheus.CounterVec
	sweepDuration *prometheus.HistogramVec
	loanOutcomes  *prometheus.CounterVec
	railCharges   *prometheus.CounterVec
	railDuration  *prometheus.HistogramVec
}

func NewCollector() *Collector {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Collector{
		registry: registry,
		sweepRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loan_sweep_runs_total",
			Help: "Total number of sweep runs by sweep and result",
		}, []string{"sweep", "result"}),
		sweepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "loan_sweep_duration_seconds",
			Help:    "Time taken by a full sweep",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"sweep"}),
		loanOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "loan_sweep_loan_outcomes_total",
			Help: "Per-loan outcomes of sweeps",
		}, []string{"sweep", "outcome"}),
		railCharges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_rail_charges_total",
			Help: "Charges dispatched to payment rails by result",
		}, []string{"rail", "result"}),
		railDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "payment_rail_charge_duration_seconds",
			Help:    "Latency of payment rail charge calls",
			Buckets: prometheus.DefBuckets,
		}, []string{"rail"}),
	}
}

// ObserveSweep records a finished sweep.
func (c *Collector) ObserveSweep(sweep string, err error, elapsed time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.sweepRuns.WithLabelValues(sweep, result).Inc()
	c.sweepDuration.WithLabelValues(sweep).Observe(elapsed.Seconds())
}

// ObserveLoan records one loan's outcome within a sweep.
func (c *Collector) ObserveLoan(sweep, outcome string) {
	c.loanOutcomes.WithLabelValues(sweep, outcome).Inc()
}

// ObserveCharge records a rail call.
func (c *Collector) ObserveCharge(rail string, success bool, elapsed time.Duration) {
	result := "success"
	if !success {
		result = "failure"
	}
	c.railCharges.WithLabelValues(rail, result).Inc()
	c.railDuration.WithLabelValues(rail).Observe(elapsed.Seconds())
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
