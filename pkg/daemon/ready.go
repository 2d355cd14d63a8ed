package daemon

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	utilwait "k8s.io/apimachinery/pkg/util/wait"
)

// ReadyTracker reports whether the boot states have been applied.
type ReadyTracker struct {
	mutex  sync.Mutex
	booted bool
}

// Ready ...
func (rt *ReadyTracker) Ready() (bool, string) {
	rt.mutex.Lock()
	defer rt.mutex.Unlock()

	if !rt.booted {
		return false, "Boot clock states not applied"
	}
	return true, ""
}

func (rt *ReadyTracker) setBooted(v bool) {
	rt.mutex.Lock()
	rt.booted = v
	rt.mutex.Unlock()
}

type readyHandler struct {
	tracker *ReadyTracker
}

func (h readyHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	if isReady, msg := h.tracker.Ready(); !isReady {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprintf(w, "503: %s\n", msg)
	} else {
		w.WriteHeader(http.StatusOK)
	}
}

// serve runs an HTTP server on bindAddress, restarting it if it fails.
func serve(name, bindAddress string, handler http.Handler) {
	go utilwait.Until(func() {
		err := http.ListenAndServe(bindAddress, handler)
		if err != nil {
			utilruntime.HandleError(fmt.Errorf("starting %s server failed: %v", name, err))
		}
	}, 5*time.Second, utilwait.NeverStop)
}

// StartReadyServer ...
func StartReadyServer(bindAddress string, tracker *ReadyTracker) {
	glog.Info("Starting Ready Server")
	mux := http.NewServeMux()
	mux.Handle("/ready", readyHandler{tracker: tracker})
	serve("ready", bindAddress, mux)
}

// StartMetricsServer ...
func StartMetricsServer(bindAddress string) {
	glog.Info("Starting Metrics Server")
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	serve("metrics", bindAddress, mux)
}
