// Package utils holds the rate monitor sampling the clock outputs.
package utils

import (
	"sync"

	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/clock"
)

// RateStats summarises the samples of one output.
type RateStats struct {
	Output  string
	Last    uint32
	Min     uint32
	Max     uint32
	Mean    float64
	StdDev  float64
	Samples int
}

// RateMonitor keeps a window of rate samples per output.
type RateMonitor struct {
	mu      sync.Mutex
	size    int
	windows map[string]*Window
}

// NewRateMonitor returns a monitor keeping size samples per output.
func NewRateMonitor(size int) *RateMonitor {
	return &RateMonitor{size: size, windows: map[string]*Window{}}
}

// Sample records the current rate of every output of g.
func (m *RateMonitor) Sample(g *clock.Graph) []RateStats {
	outputs := g.Outputs()
	stats := make([]RateStats, 0, len(outputs))
	for _, o := range outputs {
		stats = append(stats, m.Insert(o, g.GetRate(o)))
	}
	return stats
}

// Insert records one sample of output and returns its statistics.
func (m *RateMonitor) Insert(output string, rate uint32) RateStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.windows[output]
	if !ok {
		w = NewWindow(m.size)
		m.windows[output] = w
	}
	w.Insert(float64(rate))
	mean, stddev := w.MeanStdDev()
	return RateStats{
		Output:  output,
		Last:    rate,
		Min:     uint32(w.Min()),
		Max:     uint32(w.Max()),
		Mean:    mean,
		StdDev:  stddev,
		Samples: w.Len(),
	}
}

// Reset drops the samples of output, e.g. after a state change.
func (m *RateMonitor) Reset(output string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.windows, output)
}
