package stats

import "github.com/prometheus/client_golang/prometheus"

// PrometheusSink counts engine events into a labeled Prometheus counter
// vector, the pattern the pack's own socket-stats exporters use for
// per-connection metrics (runZeroInc-conniver, runZeroInc-sockstats).
type PrometheusSink struct {
	counter *prometheus.CounterVec
}

// NewPrometheusSink builds a Sink registered under name, with one label
// ("event") carrying the stringified Event. Callers are responsible for
// registering the returned sink's Collector with a prometheus.Registerer.
func NewPrometheusSink(namespace, name string) *PrometheusSink {
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      "reliproto stack engine error events by kind",
	}, []string{"event"})
	return &PrometheusSink{counter: counter}
}

// Count implements Sink.
func (s *PrometheusSink) Count(e Event) {
	s.counter.WithLabelValues(e.String()).Inc()
}

// Collector exposes the underlying CounterVec so it can be registered with
// prometheus.MustRegister.
func (s *PrometheusSink) Collector() prometheus.Collector {
	return s.counter
}
