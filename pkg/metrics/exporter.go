package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// BoardName ...
var BoardName string // to be initialized on startup or via setter

// UpdateClockRateMetrics ...
func UpdateClockRateMetrics(node string, rate uint32) {
	ClockRate.With(prometheus.Labels{"board": BoardName, "node": node}).Set(float64(rate))
}

// UpdateOutputRateMetrics ...
func UpdateOutputRateMetrics(output string, rate uint32) {
	OutputRate.With(prometheus.Labels{"board": BoardName, "output": output}).Set(float64(rate))
}

// UpdateStateAppliedMetrics marks state as the current state of output
// among states.
func UpdateStateAppliedMetrics(output, state string, states []string) {
	for _, s := range states {
		val := 0.0
		if s == state {
			val = 1.0
		}
		StateApplied.With(prometheus.Labels{"board": BoardName, "output": output, "state": s}).Set(val)
	}
}

// UpdateApplyErrorMetrics ...
func UpdateApplyErrorMetrics(output, state string) {
	ApplyErrors.With(prometheus.Labels{"board": BoardName, "output": output, "state": state}).Inc()
}

// UpdateRateChangeMetrics ...
func UpdateRateChangeMetrics(output string, rate uint32) {
	RateChanges.With(prometheus.Labels{"board": BoardName, "output": output}).Inc()
	UpdateOutputRateMetrics(output, rate)
}

// UpdateOutputRateStats ...
func UpdateOutputRateStats(output string, mean, stddev float64) {
	OutputRateMean.With(prometheus.Labels{"board": BoardName, "output": output}).Set(mean)
	OutputRateStdDev.With(prometheus.Labels{"board": BoardName, "output": output}).Set(stddev)
}
