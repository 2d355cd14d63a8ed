package event

import (
	"fmt"
	"sync"
)

// Subscriber receives the events of one output, or of every output when
// Topic returns AllOutputs.
type Subscriber interface {
	Notify(ev RateEvent)
	Topic() string
	ID() string
}

// Notifier ...
type Notifier interface {
	Register(s Subscriber)
	Unregister(s Subscriber)
}

// StateNotifier fans events out to the subscribers of their output. Each
// delivery runs in its own goroutine so a slow subscriber cannot hold up
// the clock graph.
type StateNotifier struct {
	sync.Mutex
	Subscribers map[string]Subscriber
	wg          sync.WaitGroup
}

func key(s Subscriber) string {
	return fmt.Sprintf("%s_%s", s.Topic(), s.ID())
}

// Register ...
func (n *StateNotifier) Register(s Subscriber) {
	n.Lock()
	defer n.Unlock()
	n.Subscribers[key(s)] = s
}

// Unregister ...
func (n *StateNotifier) Unregister(s Subscriber) {
	n.Lock()
	defer n.Unlock()
	delete(n.Subscribers, key(s))
}

// Publish delivers ev to the subscribers of ev.Output.
func (n *StateNotifier) Publish(ev RateEvent) {
	n.Lock()
	defer n.Unlock()
	for _, s := range n.Subscribers {
		if s.Topic() == ev.Output || s.Topic() == AllOutputs {
			n.wg.Add(1)
			go func(s Subscriber) {
				defer n.wg.Done()
				s.Notify(ev)
			}(s)
		}
	}
}

// Wait blocks until every delivery started so far has returned.
func (n *StateNotifier) Wait() {
	n.wg.Wait()
}

// NewStateNotifier ...
func NewStateNotifier() *StateNotifier {
	return &StateNotifier{
		Subscribers: make(map[string]Subscriber),
	}
}
