// Package metrics exposes the prometheus collectors the agent core's
// queues and dispatch loop report into. It does not serve an HTTP
// endpoint itself; an embedder gathers Registry.Gatherer() however it
// sees fit.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles the agent core's runtime-observability
// instruments behind their own prometheus.Registry, so an embedder
// can compose it with its own collectors without clashing with the
// default global registry.
type Registry struct {
	reg *prometheus.Registry

	// ChannelCount reports the number of channels currently attached
	// to a datapath id.
	ChannelCount *prometheus.GaugeVec

	// QueueDepth reports the number of items currently buffered in a
	// named bridge queue (data, event, event-data) for a dpid.
	QueueDepth *prometheus.GaugeVec

	// DispatchIterations counts completed passes of the dispatch
	// loop's main for-select.
	DispatchIterations prometheus.Counter

	// DroppedEvents counts items that could not be enqueued or routed
	// (a bbq.put timeout, a stale fan-out target), labeled by dpid,
	// queue and reason.
	DroppedEvents *prometheus.CounterVec
}

// New returns a Registry with every collector created and registered.
func New() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}

	r.ChannelCount = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "ofagent",
		Name:      "channels",
		Help:      "Number of channels currently attached per datapath id.",
	}, []string{"dpid"})

	r.QueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "ofagent",
		Name:      "bridge_queue_depth",
		Help:      "Number of items currently buffered in a bridge queue.",
	}, []string{"dpid", "queue"})

	r.DispatchIterations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ofagent",
		Name:      "dispatch_iterations_total",
		Help:      "Number of completed dispatch-loop iterations.",
	})

	r.DroppedEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ofagent",
		Name:      "dropped_events_total",
		Help:      "Number of events dropped instead of enqueued or routed.",
	}, []string{"dpid", "queue", "reason"})

	r.reg.MustRegister(r.ChannelCount, r.QueueDepth, r.DispatchIterations, r.DroppedEvents)
	return r
}

// Gatherer exposes the underlying prometheus.Gatherer for an embedder
// to serve (e.g. via promhttp.HandlerFor), without exposing the
// concrete *prometheus.Registry type.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }
