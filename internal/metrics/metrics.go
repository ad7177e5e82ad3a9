package metrics

import (
	"bufio"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/webthing-core/internal/notify"
	"github.com/nerrad567/webthing-core/internal/thing"
)

// Collector holds the webthingd Prometheus metrics on a private registry.
//
// It is a thing.Subscriber: add it to every hosted thing to count property
// updates, events and action transitions.
type Collector struct {
	registry *prometheus.Registry

	propertyUpdates   *prometheus.CounterVec
	events            *prometheus.CounterVec
	actionTransitions *prometheus.CounterVec
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	wsClients         prometheus.Gauge
}

// New creates a Collector whose metric names are prefixed with namespace.
func New(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		propertyUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "property_updates_total",
			Help:      "Accepted property value changes by thing and property.",
		}, []string{"thing", "property"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Events appended to thing event logs.",
		}, []string{"thing", "event"}),
		actionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "action_transitions_total",
			Help:      "Action status transitions by thing, action and new status.",
		}, []string{"thing", "action", "status"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status.",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		wsClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_clients",
			Help:      "Connected WebSocket clients across all things.",
		}),
	}

	c.registry.MustRegister(
		c.propertyUpdates,
		c.events,
		c.actionTransitions,
		c.httpRequests,
		c.httpDuration,
		c.wsClients,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Notify implements thing.Subscriber.
func (c *Collector) Notify(n thing.Notification) {
	switch n.Kind {
	case thing.KindPropertyStatus:
		c.propertyUpdates.WithLabelValues(n.ThingID, n.Name).Inc()
	case thing.KindEvent:
		c.events.WithLabelValues(n.ThingID, n.Name).Inc()
	case thing.KindActionStatus:
		status := "unknown"
		if rec, ok := n.Payload.(thing.ActionRecord); ok {
			status = string(rec.Status)
		}
		c.actionTransitions.WithLabelValues(n.ThingID, n.Name, status).Inc()
	}
}

// WatchDispatcher exports the dispatcher's counters.
func (c *Collector) WatchDispatcher(namespace string, d *notify.Dispatcher) {
	c.registry.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_dropped_total",
			Help:      "Notifications dropped because the dispatch queue was full.",
		}, func() float64 { return float64(d.Stats().Dropped) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_sink_failures_total",
			Help:      "Sink deliveries that returned an error.",
		}, func() float64 { return float64(d.Stats().Failed) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "notifications_queued",
			Help:      "Notifications waiting for delivery.",
		}, func() float64 { return float64(d.Stats().Queued) }),
	)
}

// WatchExecutor exports the action queue depth.
func (c *Collector) WatchExecutor(namespace string, e *thing.Executor) {
	c.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "actions_queued",
		Help:      "Actions waiting for an executor worker.",
	}, func() float64 { return float64(e.Queued()) }))
}

// WebSocketConnected adjusts the WebSocket client gauge by delta.
func (c *Collector) WebSocketConnected(delta int) {
	c.wsClients.Add(float64(delta))
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Middleware records request counts and latency, labelled by chi route
// pattern so path parameters do not explode cardinality.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		c.httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
		c.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap exposes the wrapped writer to http.ResponseController, which the
// WebSocket upgrade needs for hijacking.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack passes the connection through to the WebSocket upgrader.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return http.NewResponseController(r.ResponseWriter).Hijack()
}
