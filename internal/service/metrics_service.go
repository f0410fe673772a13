package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the API.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	uploadsTotal    prometheus.Counter
	reviewsTotal    *prometheus.CounterVec
	deliveredTotal  prometheus.Counter
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	uploadsTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "proposal_uploads_total",
		Help: "Total proposal documents uploaded",
	})

	reviewsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "proposal_reviews_total",
		Help: "Total proposal review decisions",
	}, []string{"decision"})

	deliveredTotal := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "notifications_delivered_total",
		Help: "Total notifications written to user mailboxes",
	})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, uploadsTotal, reviewsTotal, deliveredTotal, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		uploadsTotal:    uploadsTotal,
		reviewsTotal:    reviewsTotal,
		deliveredTotal:  deliveredTotal,
	}
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordProposalUpload counts a successful upload.
func (m *MetricsService) RecordProposalUpload() {
	if m == nil {
		return
	}
	m.uploadsTotal.Inc()
}

// RecordProposalReview counts a review decision.
func (m *MetricsService) RecordProposalReview(decision string) {
	if m == nil {
		return
	}
	m.reviewsTotal.WithLabelValues(decision).Inc()
}

// RecordNotificationDelivered counts a mailbox write.
func (m *MetricsService) RecordNotificationDelivered() {
	if m == nil {
		return
	}
	m.deliveredTotal.Inc()
}
