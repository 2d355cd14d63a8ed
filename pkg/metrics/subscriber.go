package metrics

import (
	"github.com/k8snetworkplumbingwg/clocktree-daemon/pkg/event"
)

// Subscriber turns clock events into metric updates.
type Subscriber struct {
	// States lists the states of every output.
	States map[string][]string
}

// Notify ...
func (s *Subscriber) Notify(ev event.RateEvent) {
	switch ev.Kind {
	case event.RateChanged:
		UpdateRateChangeMetrics(ev.Output, ev.NewRate)
	case event.StateApplied:
		UpdateStateAppliedMetrics(ev.Output, ev.State, s.States[ev.Output])
		UpdateOutputRateMetrics(ev.Output, ev.NewRate)
	case event.StateFailed:
		UpdateApplyErrorMetrics(ev.Output, ev.State)
	}
}

// Topic ...
func (s *Subscriber) Topic() string {
	return event.AllOutputs
}

// ID ...
func (s *Subscriber) ID() string {
	return "metrics"
}
