package service

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService owns the Prometheus registry and the collectors the API
// exports. Business counters sit next to the HTTP ones so the /metrics
// endpoint tells the whole story: traffic, check-ins, credit movement.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	creditMutations *prometheus.CounterVec
	creditsDebited  prometheus.Counter
	attendanceMarks *prometheus.CounterVec
}

// NewMetricsService registers the collectors on a fresh registry.
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

	creditMutations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "credit_mutations_total",
		Help: "Committed credit mutations by pool and direction",
	}, []string{"credit_type", "direction"})

	creditsDebited := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "credits_debited_total",
		Help: "Credits consumed by attendance check-ins",
	})

	attendanceMarks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "attendance_marks_total",
		Help: "Attendance marks recorded by resulting status",
	}, []string{"status"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(requestDuration, requestTotal, creditMutations, creditsDebited, attendanceMarks, goroutines)

	return &MetricsService{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestDuration: requestDuration,
		requestTotal:    requestTotal,
		creditMutations: creditMutations,
		creditsDebited:  creditsDebited,
		attendanceMarks: attendanceMarks,
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

// ObserveHTTPRequest records request timing and volume.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCreditMutation counts one committed mutation.
func (m *MetricsService) RecordCreditMutation(creditType string, changeAmount int) {
	if m == nil {
		return
	}
	direction := "credit"
	if changeAmount < 0 {
		direction = "debit"
	}
	m.creditMutations.WithLabelValues(creditType, direction).Inc()
}

// RecordCheckInDebit counts one credit consumed by a check-in.
func (m *MetricsService) RecordCheckInDebit() {
	if m == nil {
		return
	}
	m.creditsDebited.Inc()
}

// RecordAttendanceMark counts one stored mark.
func (m *MetricsService) RecordAttendanceMark(status string) {
	if m == nil {
		return
	}
	m.attendanceMarks.WithLabelValues(status).Inc()
}
