package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type moduleMetrics struct {
	queueSize    *prometheus.GaugeVec
	enqueueTotal *prometheus.CounterVec
	dequeueTotal *prometheus.CounterVec
	taskDuration *prometheus.HistogramVec

	activeConversations prometheus.Gauge
	conversationExpired prometheus.Counter
	conversationTrimmed prometheus.Counter

	toolExecutionTotal    *prometheus.CounterVec
	toolExecutionDuration *prometheus.HistogramVec
	toolErrorsTotal       *prometheus.CounterVec

	agentRunTotal    *prometheus.CounterVec
	agentRunDuration *prometheus.HistogramVec
	agentRounds      prometheus.Histogram
	agentErrorsTotal *prometheus.CounterVec

	storeRequestDuration *prometheus.HistogramVec
	storeErrorsTotal     *prometheus.CounterVec

	webhookRequestsTotal *prometheus.CounterVec
	messagesRejected     *prometheus.CounterVec
	repliesSentTotal     *prometheus.CounterVec
}

var (
	metricsOnce sync.Once
	metricsInst *moduleMetrics
)

func getMetrics() *moduleMetrics {
	metricsOnce.Do(func() {
		m := &moduleMetrics{
			queueSize: prometheus.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "queue_size",
					Help: "Current queue size by lane.",
				},
				[]string{"lane"},
			),
			enqueueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "enqueue_total",
					Help: "Total enqueue operations by lane.",
				},
				[]string{"lane"},
			),
			dequeueTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "dequeue_total",
					Help: "Total dequeue/completion operations by lane and status.",
				},
				[]string{"lane", "status"},
			),
			taskDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "task_duration_seconds",
					Help:    "Task execution duration in seconds by lane.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"lane"},
			),
			activeConversations: prometheus.NewGauge(
				prometheus.GaugeOpts{
					Name: "active_conversations",
					Help: "Current active conversation thread count.",
				},
			),
			conversationExpired: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "conversation_expired_total",
					Help: "Total conversation threads discarded after the idle window.",
				},
			),
			conversationTrimmed: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "conversation_trimmed_total",
					Help: "Total conversation turns dropped by history trimming.",
				},
			),
			toolExecutionTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_execution_total",
					Help: "Total tool executions by tool and status.",
				},
				[]string{"tool", "status"},
			),
			toolExecutionDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "tool_execution_duration_seconds",
					Help:    "Tool execution duration in seconds by tool.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"tool"},
			),
			toolErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "tool_errors_total",
					Help: "Total tool execution errors by tool.",
				},
				[]string{"tool"},
			),
			agentRunTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_run_total",
					Help: "Total agent runs by provider and status.",
				},
				[]string{"provider", "status"},
			),
			agentRunDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "agent_run_duration_seconds",
					Help:    "Agent run duration in seconds by provider.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"provider"},
			),
			agentRounds: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "agent_rounds_per_run",
					Help:    "Model rounds consumed per agent run.",
					Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10},
				},
			),
			agentErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "agent_errors_total",
					Help: "Total agent errors by provider.",
				},
				[]string{"provider"},
			),
			storeRequestDuration: prometheus.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "store_request_duration_seconds",
					Help:    "Record store request duration in seconds by backend and operation.",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"backend", "operation"},
			),
			storeErrorsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "store_errors_total",
					Help: "Total record store errors by backend and operation.",
				},
				[]string{"backend", "operation"},
			),
			webhookRequestsTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "webhook_requests_total",
					Help: "Total webhook requests by route and status code.",
				},
				[]string{"route", "status"},
			),
			messagesRejected: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "messages_rejected_total",
					Help: "Total inbound messages rejected by reason.",
				},
				[]string{"reason"},
			),
			repliesSentTotal: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "replies_sent_total",
					Help: "Total outbound replies by status.",
				},
				[]string{"status"},
			),
		}

		prometheus.MustRegister(
			m.queueSize,
			m.enqueueTotal,
			m.dequeueTotal,
			m.taskDuration,
			m.activeConversations,
			m.conversationExpired,
			m.conversationTrimmed,
			m.toolExecutionTotal,
			m.toolExecutionDuration,
			m.toolErrorsTotal,
			m.agentRunTotal,
			m.agentRunDuration,
			m.agentRounds,
			m.agentErrorsTotal,
			m.storeRequestDuration,
			m.storeErrorsTotal,
			m.webhookRequestsTotal,
			m.messagesRejected,
			m.repliesSentTotal,
		)

		metricsInst = m
	})

	return metricsInst
}

// EnsureRegistered initializes and registers metrics the first time it is called.
func EnsureRegistered() {
	_ = getMetrics()
}

func MetricsHandler() http.Handler {
	EnsureRegistered()
	return promhttp.Handler()
}

func RecordQueueEnqueue(lane string, queueSize int) {
	m := getMetrics()
	m.enqueueTotal.WithLabelValues(lane).Inc()
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func RecordQueueCompletion(lane string, duration time.Duration, success bool, queueSize int) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.dequeueTotal.WithLabelValues(lane, status).Inc()
	m.taskDuration.WithLabelValues(lane).Observe(duration.Seconds())
	m.queueSize.WithLabelValues(lane).Set(float64(queueSize))
}

func SetActiveConversations(count int) {
	m := getMetrics()
	m.activeConversations.Set(float64(count))
}

func RecordConversationExpired() {
	getMetrics().conversationExpired.Inc()
}

func RecordConversationTrimmed(turns int) {
	getMetrics().conversationTrimmed.Add(float64(turns))
}

func RecordToolExecution(tool string, duration time.Duration, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.toolExecutionTotal.WithLabelValues(tool, status).Inc()
	m.toolExecutionDuration.WithLabelValues(tool).Observe(duration.Seconds())
	if !success {
		m.toolErrorsTotal.WithLabelValues(tool).Inc()
	}
}

func RecordAgentRun(provider string, duration time.Duration, rounds int, success bool) {
	m := getMetrics()
	status := "error"
	if success {
		status = "success"
	}
	m.agentRunTotal.WithLabelValues(provider, status).Inc()
	m.agentRunDuration.WithLabelValues(provider).Observe(duration.Seconds())
	m.agentRounds.Observe(float64(rounds))
	if !success {
		m.agentErrorsTotal.WithLabelValues(provider).Inc()
	}
}

func RecordStoreRequest(backend, operation string, duration time.Duration, err error) {
	m := getMetrics()
	m.storeRequestDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	if err != nil {
		m.storeErrorsTotal.WithLabelValues(backend, operation).Inc()
	}
}

// TimeStoreRequest starts a store request timer. The returned func is meant
// to be deferred with a pointer to the operation's named error return:
//
//	defer observability.TimeStoreRequest("sqlite", "query_products")(&err)
func TimeStoreRequest(backend, operation string) func(err *error) {
	start := time.Now()
	return func(err *error) {
		var opErr error
		if err != nil {
			opErr = *err
		}
		RecordStoreRequest(backend, operation, time.Since(start), opErr)
	}
}

func RecordWebhookRequest(route, status string) {
	getMetrics().webhookRequestsTotal.WithLabelValues(route, status).Inc()
}

func RecordMessageRejected(reason string) {
	getMetrics().messagesRejected.WithLabelValues(reason).Inc()
}

func RecordReplySent(success bool) {
	status := "error"
	if success {
		status = "success"
	}
	getMetrics().repliesSentTotal.WithLabelValues(status).Inc()
}
