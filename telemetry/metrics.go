// Package telemetry provides Prometheus metrics and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Renamer
	RenamesScheduled   prometheus.Counter
	RenamesApplied     prometheus.Counter
	RenamesNoop        prometheus.Counter
	RenamesSuperseded  prometheus.Counter
	RenamesRateLimited prometheus.Counter
	RenamesFailed      *prometheus.CounterVec // label: kind
	RenameWorkers      prometheus.Gauge
	RenameLatency      prometheus.Observer // schedule -> applied, seconds

	// Lifecycle
	ChannelsProvisioned prometheus.Counter
	ProvisionFailures   *prometheus.CounterVec // label: stage
	ChannelsReclaimed   prometheus.Counter
	RecordsReconciled   prometheus.Counter
	TempChannelsGauge   prometheus.Gauge
	RefreshDuration     prometheus.Observer
	RefreshFailures     prometheus.Counter

	// Gateway
	GatewayEvents      *prometheus.CounterVec // label: type
	GatewayEventErrors *prometheus.CounterVec // label: type
	GatewayQueueDepth  prometheus.Gauge

	// Admin HTTP
	AdminRejections *prometheus.CounterVec // label: reason
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		RenamesScheduled = promauto.NewCounter(prometheus.CounterOpts{Name: "robotnic_renames_scheduled_total", Help: "Rename requests handed to the renamer"})
		RenamesApplied = promauto.NewCounter(prometheus.CounterOpts{Name: "robotnic_renames_applied_total", Help: "Renames applied on the platform"})
		RenamesNoop = promauto.NewCounter(prometheus.CounterOpts{Name: "robotnic_renames_noop_total", Help: "Rename attempts skipped because the channel already had the name"})
		RenamesSuperseded = promauto.NewCounter(prometheus.CounterOpts{Name: "robotnic_renames_superseded_total", Help: "Rename requests replaced by a newer request before being applied"})
		RenamesRateLimited = promauto.NewCounter(prometheus.CounterOpts{Name: "robotnic_renames_rate_limited_total", Help: "Rename attempts answered with a rate limit"})
		RenamesFailed = promauto.NewCounterVec(prometheus.CounterOpts{Name: "robotnic_renames_failed_total", Help: "Rename attempts that failed"}, []string{"kind"})
		RenameWorkers = promauto.NewGauge(prometheus.GaugeOpts{Name: "robotnic_rename_workers", Help: "Channels with an active rename worker"})
		RenameLatency = promauto.NewHistogram(prometheus.HistogramOpts{Name: "robotnic_rename_latency_seconds", Help: "Seconds from schedule to applied rename", Buckets: []float64{1, 5, 30, 60, 300, 600, 900}})

		ChannelsProvisioned = promauto.NewCounter(prometheus.CounterOpts{Name: "robotnic_channels_provisioned_total", Help: "Temp channels created and handed to a member"})
		ProvisionFailures = promauto.NewCounterVec(prometheus.CounterOpts{Name: "robotnic_provision_failures_total", Help: "Temp channel provisioning failures"}, []string{"stage"})
		ChannelsReclaimed = promauto.NewCounter(prometheus.CounterOpts{Name: "robotnic_channels_reclaimed_total", Help: "Temp channels deleted after becoming empty"})
		RecordsReconciled = promauto.NewCounter(prometheus.CounterOpts{Name: "robotnic_records_reconciled_total", Help: "Orphaned records removed by the reconciliation sweep"})
		TempChannelsGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "robotnic_temp_channels", Help: "Temp channel records seen by the last refresh"})
		RefreshDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "robotnic_refresh_duration_seconds", Help: "Bulk name refresh duration seconds", Buckets: prometheus.DefBuckets})
		RefreshFailures = promauto.NewCounter(prometheus.CounterOpts{Name: "robotnic_refresh_failures_total", Help: "Channels whose refresh failed"})

		GatewayEvents = promauto.NewCounterVec(prometheus.CounterOpts{Name: "robotnic_gateway_events_total", Help: "Platform events handled"}, []string{"type"})
		GatewayEventErrors = promauto.NewCounterVec(prometheus.CounterOpts{Name: "robotnic_gateway_event_errors_total", Help: "Platform events whose handler returned an error"}, []string{"type"})
		GatewayQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{Name: "robotnic_gateway_queue_depth", Help: "Voice events waiting to be handled"})

		AdminRejections = promauto.NewCounterVec(prometheus.CounterOpts{Name: "robotnic_admin_rejections_total", Help: "Admin API requests rejected before reaching a handler"}, []string{"reason"})
	})
}

// Inc increments c if metrics are initialized.
func Inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// IncKind increments vec for label value kind if metrics are initialized.
func IncKind(vec *prometheus.CounterVec, kind string) {
	if vec != nil {
		vec.WithLabelValues(kind).Inc()
	}
}

// SetWorkers records the number of active rename workers.
func SetWorkers(n int) {
	if RenameWorkers != nil {
		RenameWorkers.Set(float64(n))
	}
}

// SetTempChannels records the number of temp channel records.
func SetTempChannels(n int) {
	if TempChannelsGauge != nil {
		TempChannelsGauge.Set(float64(n))
	}
}

// SetQueueDepth records the number of queued gateway events.
func SetQueueDepth(n int) {
	if GatewayQueueDepth != nil {
		GatewayQueueDepth.Set(float64(n))
	}
}

// Observe records d in obs if non-nil.
func Observe(obs prometheus.Observer, d time.Duration) {
	if obs != nil {
		obs.Observe(d.Seconds())
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	Observe(obs, d)
	return d
}

// Correlation ID helpers ----------------------------------------------------
type corrKeyType struct{}

var corrKey corrKeyType

// WithCorrelation returns a new context embedding the correlation id.
func WithCorrelation(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, corrKey, id)
}

// GetCorrelation returns correlation id or empty string.
func GetCorrelation(ctx context.Context) string {
	v := ctx.Value(corrKey)
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// LoggerWithCorr returns a logger with corr attribute if present.
func LoggerWithCorr(ctx context.Context) *slog.Logger {
	if id := GetCorrelation(ctx); id != "" {
		return slog.Default().With(slog.String("corr", id))
	}
	return slog.Default()
}
