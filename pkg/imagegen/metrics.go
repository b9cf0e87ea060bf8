package imagegen

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	imageRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dreamweaver_image_requests_total",
			Help: "Total number of illustration requests.",
		},
		[]string{"provider", "status"},
	)
	imageRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dreamweaver_image_request_duration_seconds",
			Help:    "Histogram of illustration request durations.",
			Buckets: []float64{1, 2.5, 5, 10, 20, 30, 60, 120},
		},
		[]string{"provider"},
	)
)

func recordImageRequest(provider, status string, duration time.Duration) {
	imageRequestsTotal.With(prometheus.Labels{"provider": provider, "status": status}).Inc()
	if status == "success" {
		imageRequestDuration.With(prometheus.Labels{"provider": provider}).Observe(duration.Seconds())
	}
}
