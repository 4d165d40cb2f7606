package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "solevents"

// Metrics holds the Prometheus collectors of one process. Components receive it
// explicitly and treat a nil *Metrics as "metrics disabled".
type Metrics struct {
	rpcCalls         *prometheus.CounterVec
	rpcLatency       *prometheus.HistogramVec
	rpcRateLimited   *prometheus.CounterVec
	rpcRetries       *prometheus.CounterVec
	rpcSignaturesPer *prometheus.HistogramVec

	notifications *prometheus.CounterVec
	resubscribes  *prometheus.CounterVec

	decoded        *prometheus.CounterVec
	dispatched     *prometheus.CounterVec
	decodeErrors   *prometheus.CounterVec
	listenerErrors *prometheus.CounterVec
	skipped        *prometheus.CounterVec

	tickLatency *prometheus.HistogramVec
	ticks       *prometheus.CounterVec
	cursorSlot  *prometheus.GaugeVec

	dbLatency *prometheus.HistogramVec
	dbOps     *prometheus.CounterVec

	httpLatency *prometheus.HistogramVec
	httpReqs    *prometheus.CounterVec
	sseClients  *prometheus.GaugeVec
	sseSent     *prometheus.CounterVec

	natsPublished *prometheus.CounterVec
	natsLatency   *prometheus.HistogramVec
}

// builder registers collectors under one subsystem of the solevents namespace.
type builder struct {
	f         promauto.Factory
	subsystem string
}

func (b builder) counter(name, help string, labels ...string) *prometheus.CounterVec {
	return b.f.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace, Subsystem: b.subsystem, Name: name, Help: help,
	}, labels)
}

func (b builder) gauge(name, help string, labels ...string) *prometheus.GaugeVec {
	return b.f.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace, Subsystem: b.subsystem, Name: name, Help: help,
	}, labels)
}

func (b builder) histogram(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return b.f.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace, Subsystem: b.subsystem, Name: name, Help: help, Buckets: buckets,
	}, labels)
}

// NewMetrics registers every collector with registry, or with
// prometheus.DefaultRegisterer when registry is nil. Registering twice on the same
// registry panics.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	f := promauto.With(registry)
	rpc := builder{f, "rpc"}
	ws := builder{f, "ws"}
	ev := builder{f, "events"}
	poll := builder{f, "poll"}
	db := builder{f, "db"}
	http := builder{f, "http"}
	nats := builder{f, "nats"}

	latency := []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	fast := []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1}

	return &Metrics{
		rpcCalls:         rpc.counter("calls_total", "Solana RPC calls by method and outcome.", "method", "status", "endpoint"),
		rpcLatency:       rpc.histogram("call_duration_seconds", "Solana RPC call latency.", latency, "method", "endpoint"),
		rpcRateLimited:   rpc.counter("rate_limited_total", "RPC responses rejected with HTTP 429.", "endpoint"),
		rpcRetries:       rpc.counter("retries_total", "Retried attempts by operation and reason.", "method", "reason"),
		rpcSignaturesPer: rpc.histogram("signatures_per_call", "Signatures returned per getSignaturesForAddress page.", []float64{0, 1, 10, 50, 100, 250, 500, 1000}, "endpoint"),

		notifications: ws.counter("log_notifications_total", "logsSubscribe notifications by outcome.", "program", "status"),
		resubscribes:  ws.counter("resubscribes_total", "Websocket resubscribe attempts.", "program", "status"),

		decoded:        ev.counter("decoded_total", "Events decoded from program logs.", "program", "event"),
		dispatched:     ev.counter("dispatched_total", "Event objects handed to listeners.", "program", "source"),
		decodeErrors:   ev.counter("decode_errors_total", "Log or instruction decode failures.", "program", "kind"),
		listenerErrors: ev.counter("listener_failures_total", "Listener calls that errored or panicked.", "program", "reason"),
		skipped:        ev.counter("transactions_skipped_total", "Transactions skipped while polling.", "program", "reason"),

		tickLatency: poll.histogram("tick_duration_seconds", "Duration of one polling tick.", []float64{0.1, 0.5, 1, 5, 10, 30, 60}, "program", "status"),
		ticks:       poll.counter("ticks_total", "Polling ticks by outcome.", "program", "status"),
		cursorSlot:  poll.gauge("cursor_slot", "Slot of the last persisted cursor.", "program"),

		dbLatency: db.histogram("query_duration_seconds", "Database query latency.", fast, "operation", "table"),
		dbOps:     db.counter("operations_total", "Database operations by outcome.", "operation", "status"),

		httpLatency: http.histogram("request_duration_seconds", "HTTP request latency by route.", []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}, "handler", "method", "status"),
		httpReqs:    http.counter("requests_total", "HTTP requests by route and status class.", "handler", "method", "status"),
		sseClients:  http.gauge("sse_active_connections", "Open SSE event streams.", "program"),
		sseSent:     http.counter("sse_events_sent_total", "Frames written to SSE clients.", "program", "event_type"),

		natsPublished: nats.counter("messages_published_total", "JetStream publishes by outcome.", "subject", "status"),
		natsLatency:   nats.histogram("publish_duration_seconds", "JetStream publish latency.", fast, "subject"),
	}
}

func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	m.rpcCalls.WithLabelValues(method, status, endpoint).Inc()
	m.rpcLatency.WithLabelValues(method, endpoint).Observe(duration)
}

func (m *Metrics) RecordRateLimitHit(endpoint string) {
	m.rpcRateLimited.WithLabelValues(endpoint).Inc()
}

// RecordRPCRetry counts a retried attempt. method names the retried operation
// ("rpc", "poll_tick"), reason is "rate_limited" or "error".
func (m *Metrics) RecordRPCRetry(method, reason string) {
	m.rpcRetries.WithLabelValues(method, reason).Inc()
}

func (m *Metrics) RecordRPCSignaturesPerCall(endpoint string, count float64) {
	m.rpcSignaturesPer.WithLabelValues(endpoint).Observe(count)
}

// RecordLogNotification counts a websocket notification; status is "ok",
// "reverted" or "ignored".
func (m *Metrics) RecordLogNotification(program, status string) {
	m.notifications.WithLabelValues(program, status).Inc()
}

func (m *Metrics) RecordResubscribe(program string, err error) {
	m.resubscribes.WithLabelValues(program, outcome(err)).Inc()
}

func (m *Metrics) RecordEventsDecoded(program, event string, count int) {
	m.decoded.WithLabelValues(program, event).Add(float64(count))
}

// RecordDispatch counts an event object dispatch; source is "live" or "poll".
func (m *Metrics) RecordDispatch(program, source string) {
	m.dispatched.WithLabelValues(program, source).Inc()
}

func (m *Metrics) RecordDecodeError(program, kind string) {
	m.decodeErrors.WithLabelValues(program, kind).Inc()
}

func (m *Metrics) RecordListenerFailure(program, reason string) {
	m.listenerErrors.WithLabelValues(program, reason).Inc()
}

func (m *Metrics) RecordTransactionsSkipped(program, reason string, count int) {
	m.skipped.WithLabelValues(program, reason).Add(float64(count))
}

func (m *Metrics) RecordPollTick(program string, duration float64, err error) {
	status := outcome(err)
	m.tickLatency.WithLabelValues(program, status).Observe(duration)
	m.ticks.WithLabelValues(program, status).Inc()
}

func (m *Metrics) RecordCursorSlot(program string, slot uint64) {
	m.cursorSlot.WithLabelValues(program).Set(float64(slot))
}

func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	m.dbLatency.WithLabelValues(operation, table).Observe(duration)
	m.dbOps.WithLabelValues(operation, outcome(err)).Inc()
}

func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	class := statusClass(statusCode)
	m.httpLatency.WithLabelValues(handler, method, class).Observe(duration)
	m.httpReqs.WithLabelValues(handler, method, class).Inc()
}

func (m *Metrics) RecordSSEConnectionChange(program string, delta float64) {
	m.sseClients.WithLabelValues(program).Add(delta)
}

func (m *Metrics) RecordSSEEventSent(program, eventType string) {
	m.sseSent.WithLabelValues(program, eventType).Inc()
}

func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsPublished.WithLabelValues(subject, status).Inc()
	m.natsLatency.WithLabelValues(subject).Observe(duration)
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// statusClass maps 204 to "2xx"; codes outside 100-599 are "unknown".
func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "unknown"
	}
	return strconv.Itoa(code/100) + "xx"
}
