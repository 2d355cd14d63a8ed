package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// DeleteOutputMetrics removes every metric of output.
func DeleteOutputMetrics(output string, states []string) {
	labels := prometheus.Labels{"board": BoardName, "output": output}
	OutputRate.Delete(labels)
	RateChanges.Delete(labels)
	OutputRateMean.Delete(labels)
	OutputRateStdDev.Delete(labels)
	for _, s := range states {
		StateApplied.Delete(prometheus.Labels{"board": BoardName, "output": output, "state": s})
		ApplyErrors.Delete(prometheus.Labels{"board": BoardName, "output": output, "state": s})
	}
}

// DeleteClockRateMetrics ...
func DeleteClockRateMetrics(nodes []string) {
	for _, n := range nodes {
		ClockRate.Delete(prometheus.Labels{"board": BoardName, "node": n})
	}
}
