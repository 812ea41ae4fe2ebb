package observability

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all application metrics. Methods are safe on a nil receiver
// so services can run without metrics in tests.
type Metrics struct {
	// Ledger metrics
	WebhooksTotal         *prometheus.CounterVec
	TransitionsTotal      *prometheus.CounterVec
	TransitionRejections  *prometheus.CounterVec
	ApplyDuration         prometheus.Histogram
	UnconfirmedVoidsTotal prometheus.Counter

	// Provider metrics
	ProviderCalls    *prometheus.CounterVec
	ProviderDuration *prometheus.HistogramVec

	// Subscription metrics
	SubscriptionsReconciled *prometheus.CounterVec

	// Step-up metrics
	StepUpOutcomes *prometheus.CounterVec

	// Notification metrics
	NotificationsTotal *prometheus.CounterVec

	// Inventory metrics
	ConsumptionsTotal *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Circuit breaker metrics
	CircuitBreakerState *prometheus.GaugeVec

	// Worker metrics
	WorkerMessagesProcessed  *prometheus.CounterVec
	WorkerProcessingDuration *prometheus.HistogramVec
	WorkerJobRuns            *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics against the given registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := prometheus.WrapRegistererWith(nil, reg)

	m := &Metrics{
		WebhooksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhooks_total",
				Help:      "Inbound provider notifications by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		TransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "order_transitions_total",
				Help:      "Applied order status transitions",
			},
			[]string{"from", "to"},
		),
		TransitionRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "order_transition_rejections_total",
				Help:      "Rejected order transitions by reason",
			},
			[]string{"reason"},
		),
		ApplyDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "ledger_apply_duration_seconds",
				Help:      "Ledger apply duration in seconds",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
			},
		),
		UnconfirmedVoidsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "unconfirmed_voids_total",
				Help:      "Cancellations whose provider void could not be confirmed",
			},
		),
		ProviderCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_calls_total",
				Help:      "Outbound provider calls by operation and result",
			},
			[]string{"provider", "operation", "result"},
		),
		ProviderDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_call_duration_seconds",
				Help:      "Outbound provider call duration in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"provider", "operation"},
		),
		SubscriptionsReconciled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "subscriptions_reconciled_total",
				Help:      "Subscriptions downgraded to expired, by trigger",
			},
			[]string{"trigger"},
		),
		StepUpOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stepup_outcomes_total",
				Help:      "Step-up code issue and verify outcomes",
			},
			[]string{"operation", "result"},
		),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_total",
				Help:      "Notifications by template and status",
			},
			[]string{"template", "status"},
		),
		ConsumptionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "inventory_consumptions_total",
				Help:      "Paid-order stock and coupon consumptions by result",
			},
			[]string{"result"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"name"},
		),
		WorkerMessagesProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "worker_messages_processed_total",
				Help:      "Total number of worker messages processed",
			},
			[]string{"stream", "status"},
		),
		WorkerProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "worker_processing_duration_seconds",
				Help:      "Worker message processing duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"stream"},
		),
		WorkerJobRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "worker_job_runs_total",
				Help:      "Periodic worker job runs by job and result",
			},
			[]string{"job", "result"},
		),
	}

	factory.MustRegister(
		m.WebhooksTotal,
		m.TransitionsTotal,
		m.TransitionRejections,
		m.ApplyDuration,
		m.UnconfirmedVoidsTotal,
		m.ProviderCalls,
		m.ProviderDuration,
		m.SubscriptionsReconciled,
		m.StepUpOutcomes,
		m.NotificationsTotal,
		m.ConsumptionsTotal,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.CircuitBreakerState,
		m.WorkerMessagesProcessed,
		m.WorkerProcessingDuration,
		m.WorkerJobRuns,
	)

	return m
}

func (m *Metrics) HTTPRequest(method, route string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(seconds)
}

func (m *Metrics) Webhook(provider, outcome string) {
	if m == nil {
		return
	}
	m.WebhooksTotal.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(from, to).Inc()
}

func (m *Metrics) Rejection(reason string) {
	if m == nil {
		return
	}
	m.TransitionRejections.WithLabelValues(reason).Inc()
}

func (m *Metrics) ObserveApply(seconds float64) {
	if m == nil {
		return
	}
	m.ApplyDuration.Observe(seconds)
}

func (m *Metrics) UnconfirmedVoid() {
	if m == nil {
		return
	}
	m.UnconfirmedVoidsTotal.Inc()
}

func (m *Metrics) ProviderCall(provider, operation, result string, seconds float64) {
	if m == nil {
		return
	}
	m.ProviderCalls.WithLabelValues(provider, operation, result).Inc()
	m.ProviderDuration.WithLabelValues(provider, operation).Observe(seconds)
}

func (m *Metrics) Reconciled(trigger string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.SubscriptionsReconciled.WithLabelValues(trigger).Add(float64(n))
}

func (m *Metrics) StepUp(operation, result string) {
	if m == nil {
		return
	}
	m.StepUpOutcomes.WithLabelValues(operation, result).Inc()
}

func (m *Metrics) Notification(template, status string) {
	if m == nil {
		return
	}
	m.NotificationsTotal.WithLabelValues(template, status).Inc()
}

func (m *Metrics) Consumption(result string) {
	if m == nil {
		return
	}
	m.ConsumptionsTotal.WithLabelValues(result).Inc()
}

// BreakerState records a breaker state as 0=closed, 1=half-open, 2=open.
func (m *Metrics) BreakerState(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

func (m *Metrics) JobRun(job, result string) {
	if m == nil {
		return
	}
	m.WorkerJobRuns.WithLabelValues(job, result).Inc()
}

func (m *Metrics) MessageProcessed(stream, status string, seconds float64) {
	if m == nil {
		return
	}
	m.WorkerMessagesProcessed.WithLabelValues(stream, status).Inc()
	m.WorkerProcessingDuration.WithLabelValues(stream).Observe(seconds)
}
