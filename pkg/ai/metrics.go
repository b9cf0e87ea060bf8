package ai

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	aiRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dreamweaver_ai_requests_total",
			Help: "Total number of requests to the AI API.",
		},
		[]string{"model", "status", "operation"},
	)
	aiRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dreamweaver_ai_request_duration_seconds",
			Help:    "Histogram of AI API request durations.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"model", "operation"},
	)
	aiPromptTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dreamweaver_ai_prompt_tokens",
			Help:    "Histogram of prompt token counts.",
			Buckets: prometheus.LinearBuckets(250, 250, 20), // 250 ... 5000
		},
		[]string{"model", "operation"},
	)
	aiCompletionTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dreamweaver_ai_completion_tokens",
			Help:    "Histogram of completion token counts.",
			Buckets: prometheus.LinearBuckets(50, 50, 20), // 50 ... 1000
		},
		[]string{"model", "operation"},
	)
	aiTotalTokens = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dreamweaver_ai_total_tokens",
			Help:    "Histogram of total token counts (prompt + completion).",
			Buckets: prometheus.LinearBuckets(300, 300, 20), // 300 ... 6000
		},
		[]string{"model", "operation"},
	)
)

func recordAIError(model, operation, status string) {
	aiRequestsTotal.With(prometheus.Labels{"model": model, "status": status, "operation": operation}).Inc()
}

func recordAISuccess(model, operation string, duration time.Duration, usage UsageInfo) {
	status := "success"
	if usage.Estimated {
		status = "success_estimated"
	}
	labels := prometheus.Labels{"model": model, "operation": operation}
	aiRequestsTotal.With(prometheus.Labels{"model": model, "status": status, "operation": operation}).Inc()
	aiRequestDuration.With(labels).Observe(duration.Seconds())
	if usage.TotalTokens > 0 {
		aiPromptTokens.With(labels).Observe(float64(usage.PromptTokens))
		aiCompletionTokens.With(labels).Observe(float64(usage.CompletionTokens))
		aiTotalTokens.With(labels).Observe(float64(usage.TotalTokens))
	}
}
