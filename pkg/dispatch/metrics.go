package dispatch

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Drop reasons used as the "reason" label of the dropped counter.
const (
	DropEmptyPayload = "empty_payload"
	DropDecode       = "decode"
	DropBlank        = "blank"
)

// Metrics holds the coordinator's Prometheus collectors. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	received        prometheus.Counter
	filtered        prometheus.Counter
	dropped         *prometheus.CounterVec
	dispatched      prometheus.Counter
	rejected        prometheus.Counter
	backendErrors   prometheus.Counter
	timeouts        prometheus.Counter
	lateCompletions prometheus.Counter
	latency         prometheus.Histogram
}

// newDispatchCounter creates a counter in the tdbridge/dispatch namespace.
func newDispatchCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "tdbridge",
		Subsystem: "dispatch",
		Name:      name,
		Help:      help,
	})
}

// registerOrReuse registers c, or returns the collector already registered
// under the same descriptor.
func registerOrReuse[T prometheus.Collector](registerer prometheus.Registerer, c T) (T, error) {
	if err := registerer.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// NewMetrics creates the collectors and registers them with registerer,
// falling back to the default registerer when nil.
func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	m := &Metrics{}
	var err error
	counters := []struct {
		dst        *prometheus.Counter
		name, help string
	}{
		{&m.received, "events_received_total", "Publish events seen by the coordinator."},
		{&m.filtered, "events_filtered_total", "Publish events ignored because the topic did not match."},
		{&m.dispatched, "statements_dispatched_total", "Statements handed to the task executor."},
		{&m.rejected, "tasks_rejected_total", "Statements the task executor refused to run."},
		{&m.backendErrors, "backend_errors_total", "Statements the backend failed to execute."},
		{&m.timeouts, "timeouts_total", "Pending operations resolved as failed by the timeout."},
		{&m.lateCompletions, "late_completions_total", "Backend calls that finished after their operation timed out."},
	}
	for _, c := range counters {
		if *c.dst, err = registerOrReuse(registerer, newDispatchCounter(c.name, c.help)); err != nil {
			return nil, err
		}
	}

	m.dropped, err = registerOrReuse(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tdbridge",
		Subsystem: "dispatch",
		Name:      "events_dropped_total",
		Help:      "Publish events dropped before dispatch, by reason.",
	}, []string{"reason"}))
	if err != nil {
		return nil, err
	}

	m.latency, err = registerOrReuse(registerer, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "tdbridge",
		Subsystem: "dispatch",
		Name:      "backend_duration_seconds",
		Help:      "Time spent executing a statement against the backend.",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	}))
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) incReceived() {
	if m != nil {
		m.received.Inc()
	}
}

func (m *Metrics) incFiltered() {
	if m != nil {
		m.filtered.Inc()
	}
}

func (m *Metrics) incDropped(reason string) {
	if m != nil {
		m.dropped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) incDispatched() {
	if m != nil {
		m.dispatched.Inc()
	}
}

func (m *Metrics) incRejected() {
	if m != nil {
		m.rejected.Inc()
	}
}

func (m *Metrics) incTimeouts() {
	if m != nil {
		m.timeouts.Inc()
	}
}

func (m *Metrics) incLateCompletions() {
	if m != nil {
		m.lateCompletions.Inc()
	}
}

func (m *Metrics) observeBackend(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.latency.Observe(d.Seconds())
	if err != nil {
		m.backendErrors.Inc()
	}
}
