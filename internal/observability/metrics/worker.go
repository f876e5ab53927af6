package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/docextract/internal/core/domain"
)

// WorkerMetrics covers the extraction pipeline, model usage, retries and SLA
// risk. One instance serves a process on a private registry.
type WorkerMetrics struct {
	registry *prometheus.Registry
	service  string

	outcomeTotal    *prometheus.CounterVec
	confidence      prometheus.Histogram
	stageDuration   *prometheus.HistogramVec
	processInFlight prometheus.Gauge
	queueLag        prometheus.Histogram
	rollbackTotal   *prometheus.CounterVec
	modelTokens     *prometheus.CounterVec
	modelCost       *prometheus.CounterVec
	modelDuration   *prometheus.HistogramVec
	modelFailures   *prometheus.CounterVec
	retryTotal      *prometheus.CounterVec
	slaOpenRisk     *prometheus.GaugeVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()
	constLabels := prometheus.Labels{"service": service}

	outcomeTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "docextract",
			Subsystem:   "pipeline",
			Name:        "document_outcome_total",
			Help:        "Finished document runs by terminal status.",
			ConstLabels: constLabels,
		},
		[]string{"status"},
	)
	confidence := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   "docextract",
			Subsystem:   "pipeline",
			Name:        "confidence_score",
			Help:        "Confidence score of finished runs, 0 to 100.",
			Buckets:     []float64{10, 20, 30, 40, 50, 60, 70, 80, 85, 90, 95, 99},
			ConstLabels: constLabels,
		},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   "docextract",
			Subsystem:   "pipeline",
			Name:        "stage_duration_seconds",
			Help:        "Pipeline stage duration in seconds.",
			Buckets:     []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			ConstLabels: constLabels,
		},
		[]string{"stage", "status"},
	)
	processInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace:   "docextract",
			Subsystem:   "pipeline",
			Name:        "document_in_flight",
			Help:        "Number of in-flight document runs.",
			ConstLabels: constLabels,
		},
	)
	queueLag := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace:   "docextract",
			Subsystem:   "pipeline",
			Name:        "queue_lag_seconds",
			Help:        "Delay between document upload and processing start.",
			Buckets:     []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
			ConstLabels: constLabels,
		},
	)
	rollbackTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "docextract",
			Subsystem:   "session",
			Name:        "rollback_total",
			Help:        "Documents rolled back by session stop or cancel.",
			ConstLabels: constLabels,
		},
		[]string{"result"},
	)
	modelTokens := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "docextract",
			Subsystem:   "model",
			Name:        "tokens_total",
			Help:        "Model token usage by direction.",
			ConstLabels: constLabels,
		},
		[]string{"role", "model", "direction"},
	)
	modelCost := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "docextract",
			Subsystem:   "model",
			Name:        "cost_usd_total",
			Help:        "Estimated model spend in USD.",
			ConstLabels: constLabels,
		},
		[]string{"role", "model"},
	)
	modelDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   "docextract",
			Subsystem:   "model",
			Name:        "call_duration_seconds",
			Help:        "Model call duration in seconds.",
			Buckets:     []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60, 120},
			ConstLabels: constLabels,
		},
		[]string{"role", "model"},
	)
	modelFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "docextract",
			Subsystem:   "model",
			Name:        "call_failures_total",
			Help:        "Model call attempts without a usable response.",
			ConstLabels: constLabels,
		},
		[]string{"role", "model"},
	)
	retryTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   "docextract",
			Subsystem:   "resilience",
			Name:        "retry_total",
			Help:        "Retries scheduled by the resilience executor.",
			ConstLabels: constLabels,
		},
		[]string{"operation"},
	)
	slaOpenRisk := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace:   "docextract",
			Subsystem:   "review",
			Name:        "open_tasks",
			Help:        "Open review tasks by SLA risk level.",
			ConstLabels: constLabels,
		},
		[]string{"risk"},
	)

	registry.MustRegister(
		outcomeTotal,
		confidence,
		stageDuration,
		processInFlight,
		queueLag,
		rollbackTotal,
		modelTokens,
		modelCost,
		modelDuration,
		modelFailures,
		retryTotal,
		slaOpenRisk,
	)

	return &WorkerMetrics{
		registry:        registry,
		service:         service,
		outcomeTotal:    outcomeTotal,
		confidence:      confidence,
		stageDuration:   stageDuration,
		processInFlight: processInFlight,
		queueLag:        queueLag,
		rollbackTotal:   rollbackTotal,
		modelTokens:     modelTokens,
		modelCost:       modelCost,
		modelDuration:   modelDuration,
		modelFailures:   modelFailures,
		retryTotal:      retryTotal,
		slaOpenRisk:     slaOpenRisk,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *WorkerMetrics) StartDocument() {
	m.processInFlight.Inc()
}

func (m *WorkerMetrics) FinishDocument() {
	m.processInFlight.Dec()
}

func (m *WorkerMetrics) ObserveQueueLag(lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.Observe(lag.Seconds())
}

func (m *WorkerMetrics) ObserveStage(stage string, duration time.Duration, failed bool) {
	status := "ok"
	if failed {
		status = "error"
	}
	m.stageDuration.WithLabelValues(stage, status).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveOutcome(status domain.DocumentStatus, score float64) {
	m.outcomeTotal.WithLabelValues(string(status)).Inc()
	if status == domain.StatusApproved || status == domain.StatusNeedsReview {
		m.confidence.Observe(score)
	}
}

func (m *WorkerMetrics) ObserveRollback(rolledBack, failed int) {
	if rolledBack > 0 {
		m.rollbackTotal.WithLabelValues("rolled_back").Add(float64(rolledBack))
	}
	if failed > 0 {
		m.rollbackTotal.WithLabelValues("failed").Add(float64(failed))
	}
}

// Record implements the usage recorder port.
func (m *WorkerMetrics) Record(_ context.Context, usage domain.ModelUsage) {
	model := usage.Model
	if model == "" {
		model = "unknown"
	}
	if usage.PromptTokens > 0 {
		m.modelTokens.WithLabelValues(usage.Role, model, "in").Add(float64(usage.PromptTokens))
	}
	if usage.CompletionTokens > 0 {
		m.modelTokens.WithLabelValues(usage.Role, model, "out").Add(float64(usage.CompletionTokens))
	}
	if usage.CostUSD > 0 {
		m.modelCost.WithLabelValues(usage.Role, model).Add(usage.CostUSD)
	}
	if usage.Duration > 0 {
		m.modelDuration.WithLabelValues(usage.Role, model).Observe(usage.Duration.Seconds())
	}
	if usage.Failed {
		m.modelFailures.WithLabelValues(usage.Role, model).Inc()
	}
}

// ObserveRetry matches resilience.RetryObserver.
func (m *WorkerMetrics) ObserveRetry(operation string, _ int, _ error) {
	m.retryTotal.WithLabelValues(operation).Inc()
}

func (m *WorkerMetrics) SetOpenRisk(counts map[domain.RiskLevel]int) {
	for _, level := range []domain.RiskLevel{domain.RiskOK, domain.RiskWarning, domain.RiskBreach} {
		m.slaOpenRisk.WithLabelValues(string(level)).Set(float64(counts[level]))
	}
}
