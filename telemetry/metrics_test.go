package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestMetricsInitialized(t *testing.T) {
	Init()
	Init() // second call must be a no-op, not a duplicate registration panic

	if PollCycles == nil || ProbeOutcomes == nil || Notifications == nil || StateWrites == nil {
		t.Fatal("counters not initialized")
	}
	if PollCycleDuration == nil {
		t.Fatal("PollCycleDuration histogram not initialized")
	}
	if QuotaBlockedGauge == nil {
		t.Fatal("QuotaBlockedGauge not initialized")
	}
}

func TestRecordHelpers(t *testing.T) {
	Init()

	before := testutil.ToFloat64(ProbeOutcomes.WithLabelValues("youtube", "content", "skipped"))
	RecordProbe("youtube", "content", "skipped")
	RecordProbe("youtube", "content", "skipped")
	if got := testutil.ToFloat64(ProbeOutcomes.WithLabelValues("youtube", "content", "skipped")); got != before+2 {
		t.Errorf("probe counter = %v, want %v", got, before+2)
	}

	sent := testutil.ToFloat64(Notifications.WithLabelValues("live", "sent"))
	failed := testutil.ToFloat64(Notifications.WithLabelValues("live", "failed"))
	RecordNotification("live", nil)
	RecordNotification("live", errors.New("boom"))
	if testutil.ToFloat64(Notifications.WithLabelValues("live", "sent")) != sent+1 {
		t.Error("sent notification not counted")
	}
	if testutil.ToFloat64(Notifications.WithLabelValues("live", "failed")) != failed+1 {
		t.Error("failed notification not counted")
	}

	SetQuotaBlocked(true)
	if testutil.ToFloat64(QuotaBlockedGauge) != 1 {
		t.Error("quota gauge should be 1 when blocked")
	}
	SetQuotaBlocked(false)
	if testutil.ToFloat64(QuotaBlockedGauge) != 0 {
		t.Error("quota gauge should be 0 when clear")
	}

	writes := testutil.ToFloat64(StateWrites)
	IncStateWrites()
	if testutil.ToFloat64(StateWrites) != writes+1 {
		t.Error("state write not counted")
	}

	cycles := testutil.ToFloat64(PollCycles.WithLabelValues("ok"))
	RecordPollCycle("ok", 1500*time.Millisecond)
	if testutil.ToFloat64(PollCycles.WithLabelValues("ok")) != cycles+1 {
		t.Error("poll cycle not counted")
	}

	RecordHTTPRequest("GET", 200)
	SetSubscribedEntries("guild-1", 3)
	if testutil.ToFloat64(SubscribedEntries.WithLabelValues("guild-1")) != 3 {
		t.Error("subscribed entries gauge not set")
	}
}

func TestTimeFuncRecordsObservation(t *testing.T) {
	testHistogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "test_duration_seconds",
		Help:    "Test duration",
		Buckets: prometheus.DefBuckets,
	})

	executed := false
	duration := TimeFunc(testHistogram, func() {
		time.Sleep(10 * time.Millisecond)
		executed = true
	})

	if !executed {
		t.Error("TimeFunc did not execute provided function")
	}
	if duration < 10*time.Millisecond {
		t.Errorf("TimeFunc duration = %v, want >= 10ms", duration)
	}

	metric := &dto.Metric{}
	if err := testHistogram.Write(metric); err != nil {
		t.Fatalf("Failed to write metric: %v", err)
	}
	if metric.Histogram == nil || metric.Histogram.GetSampleCount() == 0 {
		t.Error("TimeFunc did not record observation in histogram")
	}
}

func TestCorrelationHelpers(t *testing.T) {
	ctx := context.Background()
	if GetCorrelation(ctx) != "" {
		t.Fatal("expected empty correlation on bare context")
	}
	if LoggerWithCorr(ctx) == nil {
		t.Fatal("LoggerWithCorr returned nil")
	}
	ctx = WithCorrelation(ctx, "abc-123")
	if got := GetCorrelation(ctx); got != "abc-123" {
		t.Fatalf("GetCorrelation = %q", got)
	}
}
