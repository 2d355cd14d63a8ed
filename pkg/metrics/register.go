package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var registerMetrics sync.Once

const (
	// ClockTreeNamespace prefixes every metric
	ClockTreeNamespace = "clocktree"
)

var (
	// ClockRate is the rate of every clock node.
	ClockRate = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: ClockTreeNamespace,
			Name:      "clock_rate_hz",
			Help:      "Rate of the clock node in Hz, 0 when gated or stopped",
		}, []string{"board", "node"})

	// OutputRate is the rate of every clock output.
	OutputRate = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: ClockTreeNamespace,
			Name:      "clock_output_rate_hz",
			Help:      "Rate of the clock output in Hz",
		}, []string{"board", "output"})

	// StateApplied is 1 for the last state applied to an output, 0 for its
	// other states.
	StateApplied = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: ClockTreeNamespace,
			Name:      "clock_state_applied",
			Help:      "1 = last state applied to the output",
		}, []string{"board", "output", "state"})

	// ApplyErrors counts failed state applications.
	ApplyErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ClockTreeNamespace,
			Name:      "clock_apply_errors_total",
			Help:      "Number of failed state applications",
		}, []string{"board", "output", "state"})

	// RateChanges counts the observed output rate changes.
	RateChanges = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ClockTreeNamespace,
			Name:      "clock_rate_changes_total",
			Help:      "Number of observed rate changes of the output",
		}, []string{"board", "output"})

	// OutputRateStdDev is the standard deviation of the sampled output rate.
	OutputRateStdDev = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: ClockTreeNamespace,
			Name:      "clock_output_rate_stddev_hz",
			Help:      "Standard deviation of the output rate over the sampling window",
		}, []string{"board", "output"})

	// OutputRateMean is the mean of the sampled output rate.
	OutputRateMean = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: ClockTreeNamespace,
			Name:      "clock_output_rate_mean_hz",
			Help:      "Mean of the output rate over the sampling window",
		}, []string{"board", "output"})
)

// RegisterMetrics registers all the metrics with Prometheus
func RegisterMetrics(board string) {
	registerMetrics.Do(func() {
		prometheus.MustRegister(ClockRate)
		prometheus.MustRegister(OutputRate)
		prometheus.MustRegister(StateApplied)
		prometheus.MustRegister(ApplyErrors)
		prometheus.MustRegister(RateChanges)
		prometheus.MustRegister(OutputRateStdDev)
		prometheus.MustRegister(OutputRateMean)

		prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		prometheus.Unregister(collectors.NewGoCollector())

		BoardName = board
	})
}
