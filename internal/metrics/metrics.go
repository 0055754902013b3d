// Package metrics exposes the supervisor's state machine and health-check
// activity as Prometheus collectors (SPEC_FULL.md [DOMAIN]). It keeps the
// teacher's CounterVec/GaugeVec construction and idempotent-Register shape
// from internal/metrics/metrics.go, with names/labels redefined for
// spec.md's 8-state machine and health checks instead of the teacher's
// job-oriented metrics.
package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	regOK atomic.Bool

	starts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "supervice",
			Subsystem: "process",
			Name:      "starts_total",
			Help:      "Number of spawn attempts per instance.",
		}, []string{"name"},
	)
	restarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "supervice",
			Subsystem: "process",
			Name:      "restarts_total",
			Help:      "Number of auto-restarts scheduled (EXITED -> BACKOFF transitions).",
		}, []string{"name"},
	)
	stops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "supervice",
			Subsystem: "process",
			Name:      "stops_total",
			Help:      "Number of operator-requested stops, graceful or forced.",
		}, []string{"name"},
	)
	runningInstances = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "supervice",
			Subsystem: "process",
			Name:      "running_instances",
			Help:      "Current number of instances in the RUNNING state, per group.",
		}, []string{"group"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "supervice",
			Subsystem: "process",
			Name:      "state_transitions_total",
			Help:      "Number of state transitions by instance and from/to state.",
		}, []string{"name", "from", "to"},
	)
	currentState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "supervice",
			Subsystem: "process",
			Name:      "current_state",
			Help:      "1 for the instance's current state, 0 for every other state.",
		}, []string{"name", "state"},
	)

	healthChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "supervice",
			Subsystem: "health",
			Name:      "checks_total",
			Help:      "Number of health checks run, by result.",
		}, []string{"name", "result"}, // result: pass|fail
	)
	healthFailuresGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "supervice",
			Subsystem: "health",
			Name:      "consecutive_failures",
			Help:      "Current consecutive health-check failure count.",
		}, []string{"name"},
	)

	eventbusDropped = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "supervice",
			Subsystem: "eventbus",
			Name:      "dropped_total",
			Help:      "Cumulative number of events dropped by the event bus under backpressure.",
		},
	)

	resourceCPU = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "supervice",
			Subsystem: "process",
			Name:      "cpu_percent",
			Help:      "Last-sampled CPU percent for a running instance.",
		}, []string{"name"},
	)
	resourceRSS = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "supervice",
			Subsystem: "process",
			Name:      "rss_bytes",
			Help:      "Last-sampled resident set size for a running instance.",
		}, []string{"name"},
	)
)

// Register registers every collector with r. Safe to call more than once;
// an AlreadyRegisteredError on a later call (e.g. re-registering against the
// default registry from tests) is treated as success.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		starts, restarts, stops, runningInstances, stateTransitions, currentState,
		healthChecks, healthFailuresGauge, eventbusDropped, resourceCPU, resourceRSS,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves the default Prometheus gatherer over HTTP. The caller owns
// mounting it on a route.
func Handler() http.Handler { return promhttp.Handler() }

// The following are no-ops until Register has succeeded, so callers never
// need to check whether metrics are enabled before recording.

func IncStart(name string) {
	if regOK.Load() {
		starts.WithLabelValues(name).Inc()
	}
}

func IncRestart(name string) {
	if regOK.Load() {
		restarts.WithLabelValues(name).Inc()
	}
}

func IncStop(name string) {
	if regOK.Load() {
		stops.WithLabelValues(name).Inc()
	}
}

func SetRunningInstances(group string, n int) {
	if regOK.Load() {
		runningInstances.WithLabelValues(group).Set(float64(n))
	}
}

func RecordStateTransition(name, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(name, from, to).Inc()
		currentState.WithLabelValues(name, from).Set(0)
		currentState.WithLabelValues(name, to).Set(1)
	}
}

func RecordHealthCheck(name string, healthy bool) {
	if !regOK.Load() {
		return
	}
	if healthy {
		healthChecks.WithLabelValues(name, "pass").Inc()
	} else {
		healthChecks.WithLabelValues(name, "fail").Inc()
	}
}

func SetHealthFailures(name string, n int) {
	if regOK.Load() {
		healthFailuresGauge.WithLabelValues(name).Set(float64(n))
	}
}

func SetEventbusDropped(n uint64) {
	if regOK.Load() {
		eventbusDropped.Set(float64(n))
	}
}

func SetResourceUsage(name string, cpuPercent float64, rssBytes uint64) {
	if !regOK.Load() {
		return
	}
	resourceCPU.WithLabelValues(name).Set(cpuPercent)
	resourceRSS.WithLabelValues(name).Set(float64(rssBytes))
}
