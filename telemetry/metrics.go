// Package telemetry provides Prometheus metrics, OpenTelemetry tracing and correlation-id aware logging helpers.
package telemetry

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once sync.Once

	// Counters
	PollCycles    *prometheus.CounterVec // result=ok|error|skipped
	ProbeOutcomes *prometheus.CounterVec // platform, probe=live|content, status
	Notifications *prometheus.CounterVec // kind, result=sent|failed
	StateWrites   prometheus.Counter
	HTTPRequests  *prometheus.CounterVec // method, code

	// Histograms (seconds)
	PollCycleDuration prometheus.Observer

	// Gauges
	QuotaBlockedGauge prometheus.Gauge // 1=blocked,0=clear
	SubscribedEntries *prometheus.GaugeVec
)

// Init registers metrics (idempotent).
func Init() {
	once.Do(func() {
		PollCycles = promauto.NewCounterVec(prometheus.CounterOpts{Name: "notifier_poll_cycles_total", Help: "Poll cycles by result"}, []string{"result"})
		ProbeOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{Name: "notifier_probe_outcomes_total", Help: "Platform probe outcomes"}, []string{"platform", "probe", "status"})
		Notifications = promauto.NewCounterVec(prometheus.CounterOpts{Name: "notifier_notifications_total", Help: "Notifications posted by kind and result"}, []string{"kind", "result"})
		StateWrites = promauto.NewCounter(prometheus.CounterOpts{Name: "notifier_state_writes_total", Help: "Per-tenant state records written"})
		HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{Name: "notifier_http_requests_total", Help: "API requests by method and status code"}, []string{"method", "code"})
		PollCycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{Name: "notifier_poll_cycle_duration_seconds", Help: "Poll cycle duration seconds", Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120}})
		QuotaBlockedGauge = promauto.NewGauge(prometheus.GaugeOpts{Name: "notifier_youtube_quota_blocked", Help: "YouTube Data API quota backoff active=1 clear=0"})
		SubscribedEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{Name: "notifier_subscribed_entries", Help: "Subscriptions per tenant seen by the last cycle"}, []string{"tenant"})
	})
}

// RecordPollCycle counts a finished cycle and observes its duration.
func RecordPollCycle(result string, d time.Duration) {
	if PollCycles != nil {
		PollCycles.WithLabelValues(result).Inc()
	}
	if PollCycleDuration != nil {
		PollCycleDuration.Observe(d.Seconds())
	}
}

// RecordProbe counts one probe outcome.
func RecordProbe(platform, probe, status string) {
	if ProbeOutcomes != nil {
		ProbeOutcomes.WithLabelValues(platform, probe, status).Inc()
	}
}

// RecordNotification counts a post attempt; err decides the result label.
func RecordNotification(kind string, err error) {
	if Notifications == nil {
		return
	}
	result := "sent"
	if err != nil {
		result = "failed"
	}
	Notifications.WithLabelValues(kind, result).Inc()
}

// IncStateWrites counts one persisted state record.
func IncStateWrites() {
	if StateWrites != nil {
		StateWrites.Inc()
	}
}

// RecordHTTPRequest counts an API request.
func RecordHTTPRequest(method string, code int) {
	if HTTPRequests != nil {
		HTTPRequests.WithLabelValues(method, strconv.Itoa(code)).Inc()
	}
}

// SetQuotaBlocked sets the quota gauge to 1 if blocked else 0.
func SetQuotaBlocked(blocked bool) {
	if QuotaBlockedGauge == nil {
		return
	}
	if blocked {
		QuotaBlockedGauge.Set(1)
	} else {
		QuotaBlockedGauge.Set(0)
	}
}

// SetSubscribedEntries records how many entries a tenant's cycle walked.
func SetSubscribedEntries(tenant string, n int) {
	if SubscribedEntries != nil {
		SubscribedEntries.WithLabelValues(tenant).Set(float64(n))
	}
}

// TimeFunc measures the duration of fn and records in observer if non-nil.
func TimeFunc(obs prometheus.Observer, fn func()) time.Duration {
	start := time.Now()
	fn()
	d := time.Since(start)
	if obs != nil {
		obs.Observe(d.Seconds())
	}
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
	if s, ok := ctx.Value(corrKey).(string); ok {
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
