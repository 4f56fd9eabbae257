package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"forward_bot/internal/scheduler"
)

// Provider 转发与面板指标
type Provider interface {
	scheduler.Metrics

	IncRequestsTotal(endpoint string, status int)
	ObserveRequestDuration(endpoint string, duration time.Duration)

	// WatchRunning 导出运行中任务数，只应调用一次
	WatchRunning(running func() int)

	// Handler 返回 /metrics 处理器，未启用时返回 404
	Handler() http.Handler
}

// Prometheus 基于独立 Registry 的指标实现
type Prometheus struct {
	registry *prometheus.Registry

	forwardedTotal   prometheus.Counter
	skippedTotal     *prometheus.CounterVec
	sendErrorsTotal  *prometheus.CounterVec
	taskFailures     *prometheus.CounterVec
	cycleDuration    prometheus.Histogram
	requestsTotal    *prometheus.CounterVec
	requestDurations *prometheus.HistogramVec
}

// New 创建指标提供者；disabled 时返回空实现
func New(enabled bool) Provider {
	if !enabled {
		return noopProvider{}
	}
	return NewPrometheus(prometheus.NewRegistry())
}

// NewPrometheus 在指定 Registry 上注册全部指标
func NewPrometheus(reg *prometheus.Registry) *Prometheus {
	factory := promauto.With(reg)

	m := &Prometheus{
		registry: reg,

		forwardedTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "forward_bot_messages_forwarded_total",
			Help: "Total number of messages forwarded",
		}),

		skippedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "forward_bot_messages_skipped_total",
			Help: "Total number of messages skipped by dedup",
		}, []string{"reason"}),

		sendErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "forward_bot_send_errors_total",
			Help: "Total number of messages dropped after send failures",
		}, []string{"class"}),

		taskFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "forward_bot_task_failures_total",
			Help: "Total number of forwarding tasks stopped or paused by errors",
		}, []string{"reason"}),

		cycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "forward_bot_cycle_duration_seconds",
			Help:    "Duration of one fetch-filter-send cycle in seconds",
			Buckets: prometheus.DefBuckets,
		}),

		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "forward_bot_http_requests_total",
			Help: "Total number of dashboard HTTP requests",
		}, []string{"endpoint", "status"}),

		requestDurations: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "forward_bot_http_request_duration_seconds",
			Help:    "Dashboard HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
	}

	return m
}

func (m *Prometheus) WatchRunning(running func() int) {
	promauto.With(m.registry).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "forward_bot_running_tasks",
		Help: "Current number of running forwarding tasks",
	}, func() float64 {
		return float64(running())
	})
}

func (m *Prometheus) IncForwarded() {
	m.forwardedTotal.Inc()
}

func (m *Prometheus) IncSkipped(reason string) {
	m.skippedTotal.WithLabelValues(reason).Inc()
}

func (m *Prometheus) IncSendErrors(class string) {
	m.sendErrorsTotal.WithLabelValues(class).Inc()
}

func (m *Prometheus) IncTaskFailures(reason string) {
	m.taskFailures.WithLabelValues(reason).Inc()
}

func (m *Prometheus) ObserveCycle(duration time.Duration) {
	m.cycleDuration.Observe(duration.Seconds())
}

func (m *Prometheus) IncRequestsTotal(endpoint string, status int) {
	m.requestsTotal.WithLabelValues(endpoint, httpStatusBucket(status)).Inc()
}

func (m *Prometheus) ObserveRequestDuration(endpoint string, duration time.Duration) {
	m.requestDurations.WithLabelValues(endpoint).Observe(duration.Seconds())
}

func (m *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func httpStatusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

// noopProvider 未启用指标时的空实现
type noopProvider struct{}

func (noopProvider) IncForwarded()                                {}
func (noopProvider) IncSkipped(string)                            {}
func (noopProvider) IncSendErrors(string)                         {}
func (noopProvider) IncTaskFailures(string)                       {}
func (noopProvider) ObserveCycle(time.Duration)                   {}
func (noopProvider) IncRequestsTotal(string, int)                 {}
func (noopProvider) ObserveRequestDuration(string, time.Duration) {}
func (noopProvider) WatchRunning(func() int)                      {}
func (noopProvider) Handler() http.Handler                        { return http.NotFoundHandler() }
