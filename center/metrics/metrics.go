// Package metrics 慢SQL告警 Prometheus 指标
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "slowsql_alert"

var (
	// CyclesTotal 轮询周期总数
	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Total number of polling cycles",
		},
		[]string{"provider"},
	)

	// OutcomesTotal 处理单元结果，kind 为空表示成功
	OutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outcomes_total",
			Help:      "Total number of processed units by final stage and error kind",
		},
		[]string{"provider", "stage", "kind"},
	)

	// RecordsFoundTotal 获取到的慢SQL记录数
	RecordsFoundTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_found_total",
			Help:      "Total number of slow query records fetched",
		},
		[]string{"provider"},
	)

	// RecordsDeliveredTotal 已投递的慢SQL记录数
	RecordsDeliveredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_delivered_total",
			Help:      "Total number of slow query records delivered",
		},
		[]string{"provider"},
	)

	// ExportPollAttempts 每次导出任务的轮询次数
	ExportPollAttempts = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "export_poll_attempts",
			Help:      "Number of status checks per slow log export job",
			Buckets:   []float64{1, 2, 3, 5, 8, 10, 20},
		},
		[]string{"provider"},
	)

	// CycleDuration 轮询周期耗时
	CycleDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of polling cycles in seconds",
			Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"provider"},
	)

	// CursorTimestamp 实例去重游标
	CursorTimestamp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cursor_timestamp_seconds",
			Help:      "Last delivered slow query timestamp per instance",
		},
		[]string{"instance"},
	)
)

func init() {
	prometheus.MustRegister(
		CyclesTotal,
		OutcomesTotal,
		RecordsFoundTotal,
		RecordsDeliveredTotal,
		ExportPollAttempts,
		CycleDuration,
		CursorTimestamp,
	)
}

// ObserveCycle 记录一个轮询周期
func ObserveCycle(provider string, d time.Duration) {
	CyclesTotal.WithLabelValues(provider).Inc()
	CycleDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// ObserveOutcome 记录一个处理单元的结果
func ObserveOutcome(provider, stage, kind string, found, delivered, exportAttempts int) {
	OutcomesTotal.WithLabelValues(provider, stage, kind).Inc()
	if found > 0 {
		RecordsFoundTotal.WithLabelValues(provider).Add(float64(found))
	}
	if delivered > 0 {
		RecordsDeliveredTotal.WithLabelValues(provider).Add(float64(delivered))
	}
	if exportAttempts > 0 {
		ExportPollAttempts.WithLabelValues(provider).Observe(float64(exportAttempts))
	}
}

// SetCursor 更新实例游标
func SetCursor(instance string, t time.Time) {
	if t.IsZero() {
		return
	}
	CursorTimestamp.WithLabelValues(instance).Set(float64(t.Unix()))
}
