package youtubeapi

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/onnwee/live-notifier/clock"
	"github.com/onnwee/live-notifier/kv"
	"github.com/onnwee/live-notifier/telemetry"
)

// QuotaKey holds the epoch-millis instant until which Data API calls are suspended.
const QuotaKey = "quota:youtube:blockedUntil"

// DefaultQuotaReset is when the Data API daily quota resets.
const DefaultQuotaReset = "CRON_TZ=UTC 0 0 * * *"

// QuotaGuard is the process-wide Data API backoff marker. It is persisted so a restart
// does not burn quota again before the reset.
type QuotaGuard struct {
	store    kv.Store
	clock    clock.Clock
	schedule cron.Schedule

	mu    sync.Mutex
	until time.Time
}

// NewQuotaGuard parses resetSpec (standard cron, CRON_TZ prefix allowed).
func NewQuotaGuard(store kv.Store, clk clock.Clock, resetSpec string) (*QuotaGuard, error) {
	if resetSpec == "" {
		resetSpec = DefaultQuotaReset
	}
	sched, err := cron.ParseStandard(resetSpec)
	if err != nil {
		return nil, fmt.Errorf("parse quota reset schedule %q: %w", resetSpec, err)
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &QuotaGuard{store: store, clock: clk, schedule: sched}, nil
}

// Blocked reports whether Data API calls are suspended and until when.
// A persisted marker written by another process is honoured too.
func (g *QuotaGuard) Blocked(ctx context.Context) (time.Time, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clock.Now()
	if !g.until.IsZero() && now.Before(g.until) {
		return g.until, true
	}

	raw, ok, err := g.store.Get(ctx, QuotaKey)
	if err != nil {
		slog.Warn("quota marker read failed", slog.Any("err", err), slog.String("component", "youtube_quota"))
		return time.Time{}, false
	}
	if ok {
		if ms, perr := strconv.ParseInt(raw, 10, 64); perr == nil {
			until := time.UnixMilli(ms)
			if now.Before(until) {
				g.until = until
				telemetry.SetQuotaBlocked(true)
				return until, true
			}
		}
		// Expired or corrupt: clear it.
		if err := g.store.Delete(ctx, QuotaKey); err != nil {
			slog.Warn("quota marker clear failed", slog.Any("err", err), slog.String("component", "youtube_quota"))
		}
	}
	if !g.until.IsZero() {
		slog.Info("youtube quota backoff lifted", slog.String("component", "youtube_quota"))
	}
	g.until = time.Time{}
	telemetry.SetQuotaBlocked(false)
	return time.Time{}, false
}

// Block suspends Data API calls until the next reset boundary and returns it.
func (g *QuotaGuard) Block(ctx context.Context) time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	until := g.schedule.Next(g.clock.Now())
	g.until = until
	telemetry.SetQuotaBlocked(true)
	if err := g.store.Set(ctx, QuotaKey, strconv.FormatInt(until.UnixMilli(), 10)); err != nil {
		slog.Warn("quota marker write failed", slog.Any("err", err), slog.String("component", "youtube_quota"))
	}
	slog.Warn("youtube quota exceeded, suspending content checks",
		slog.Time("until", until),
		slog.String("component", "youtube_quota"))
	return until
}
