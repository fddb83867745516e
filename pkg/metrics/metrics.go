// Package metrics 定义 Prometheus 指标
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "zoeysight"

// 会话与识别指标
var (
	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of recognition sessions currently open",
		},
	)

	SessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total recognition sessions by outcome",
		},
		[]string{"outcome"},
	)

	FramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_total",
			Help:      "Total query frames by processing status",
		},
		[]string{"status"},
	)

	FrameProcessingSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "frame_processing_seconds",
			Help:      "Time spent recognizing a single query frame",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)

	TargetsMatchedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "targets_matched_total",
			Help:      "Total targets reported as present",
		},
	)

	CatalogLoadSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "catalog_load_seconds",
			Help:      "Catalog snapshot load duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"status"},
	)
)

var registerOnce sync.Once

// Register 注册全部指标到默认 registry，可重复调用
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			SessionsActive,
			SessionsTotal,
			FramesTotal,
			FrameProcessingSeconds,
			TargetsMatchedTotal,
			CatalogLoadSeconds,
			httpRequestDuration,
			httpRequestsTotal,
		)
	})
}

// SessionObserver 将会话事件写入指标，goroutine 安全
type SessionObserver struct{}

// SessionStarted 会话开始
func (SessionObserver) SessionStarted() {
	SessionsActive.Inc()
}

// SessionEnded 会话结束
func (SessionObserver) SessionEnded(outcome string) {
	SessionsActive.Dec()
	SessionsTotal.WithLabelValues(outcome).Inc()
}

// CatalogLoaded 目录加载完成
func (SessionObserver) CatalogLoaded(elapsed time.Duration, _ int, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	CatalogLoadSeconds.WithLabelValues(status).Observe(elapsed.Seconds())
}

// FrameProcessed 单帧处理完成
func (SessionObserver) FrameProcessed(status string, elapsed time.Duration, matches int) {
	FramesTotal.WithLabelValues(status).Inc()
	FrameProcessingSeconds.Observe(elapsed.Seconds())
	if matches > 0 {
		TargetsMatchedTotal.Add(float64(matches))
	}
}
