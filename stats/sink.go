// Package stats exposes a narrow Sink interface the engine and connection
// layers call into, backed by Prometheus collectors. Keeping the interface
// narrow means engine itself never imports the Prometheus client directly.
package stats

import "github.com/prometheus/client_golang/prometheus"

// Sink is the metrics surface the rest of the proxy writes through.
type Sink interface {
	ObserveLatency(family string, plane string, seconds float64)
	IncRequests(family string, cmd string)
	IncErrors(family string, class string)
	IncFragments(family string)
	SetPoolLive(n int)
	// ReplicationParseError records a parse failure on a replication-plane
	// (dynMode) message, tracked separately from the generic error counter
	// since a misbehaving peer warrants its own alerting signal.
	ReplicationParseError()
}

// Registry is the default Sink implementation, registering its collectors
// against a prometheus.Registerer at construction.
type Registry struct {
	latency        *prometheus.HistogramVec
	requests       *prometheus.CounterVec
	errors         *prometheus.CounterVec
	fragments      *prometheus.CounterVec
	poolLive       prometheus.Gauge
	replParseError prometheus.Counter
}

// New constructs a Registry and registers its collectors with reg.
func New(reg prometheus.Registerer) *Registry {
	var r = &Registry{
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kvmesh",
			Name:      "request_latency_seconds",
			Help:      "Round-trip latency of proxied requests.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"family", "plane"}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kvmesh",
			Name:      "requests_total",
			Help:      "Requests parsed, by family and command.",
		}, []string{"family", "cmd"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kvmesh",
			Name:      "errors_total",
			Help:      "Errors raised by the engine, by family and class.",
		}, []string{"family", "class"}),
		fragments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kvmesh",
			Name:      "fragments_total",
			Help:      "Fragment splits performed, by family.",
		}, []string{"family"}),
		poolLive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kvmesh",
			Name:      "msg_pool_live",
			Help:      "Live Msg shells outstanding in the current loop's pool.",
		}),
		replParseError: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kvmesh",
			Name:      "replication_parse_errors_total",
			Help:      "Parse failures on replication-plane messages.",
		}),
	}
	reg.MustRegister(r.latency, r.requests, r.errors, r.fragments, r.poolLive, r.replParseError)
	return r
}

func (r *Registry) ObserveLatency(family, plane string, seconds float64) {
	r.latency.WithLabelValues(family, plane).Observe(seconds)
}

func (r *Registry) IncRequests(family, cmd string) {
	r.requests.WithLabelValues(family, cmd).Inc()
}

// IncErrors counts every error class the engine raises, including parse
// errors on the replication plane -- those feed alerting the same as
// client-plane errors since a misbehaving peer is as actionable as a
// misbehaving client.
func (r *Registry) IncErrors(family, class string) {
	r.errors.WithLabelValues(family, class).Inc()
}

func (r *Registry) IncFragments(family string) {
	r.fragments.WithLabelValues(family).Inc()
}

func (r *Registry) SetPoolLive(n int) {
	r.poolLive.Set(float64(n))
}

func (r *Registry) ReplicationParseError() {
	r.replParseError.Inc()
}

// Noop is a Sink that discards every observation, useful for tests that
// don't want a Prometheus registry in the loop.
type Noop struct{}

func (Noop) ObserveLatency(string, string, float64) {}
func (Noop) IncRequests(string, string)             {}
func (Noop) IncErrors(string, string)               {}
func (Noop) IncFragments(string)                    {}
func (Noop) SetPoolLive(int)                        {}
func (Noop) ReplicationParseError()                 {}
