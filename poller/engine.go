// Package poller runs one poll cycle for a tenant: it walks the tenant's subscriptions,
// probes each channel, detects transitions against the persisted per-entry state, posts
// notifications and decides when each entry's live probe should next run.
//
// A failed live probe leaves lastLive as it was on both platforms instead of reading it
// as offline, so a stream that stays up across an API error is not announced twice.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/live-notifier/catalog"
	"github.com/onnwee/live-notifier/clock"
	"github.com/onnwee/live-notifier/kv"
	"github.com/onnwee/live-notifier/notify"
	"github.com/onnwee/live-notifier/probe"
	"github.com/onnwee/live-notifier/telemetry"
	"github.com/onnwee/live-notifier/tenant"
)

// CommitPolicy decides whether a transition is recorded when its post fails.
type CommitPolicy int

const (
	// AtMostOnce records the transition even if posting failed; a failed post is lost.
	AtMostOnce CommitPolicy = iota
	// AtLeastOnce leaves the state untouched on failure so the next cycle posts again.
	AtLeastOnce
)

func (p CommitPolicy) String() string {
	if p == AtLeastOnce {
		return "at-least-once"
	}
	return "at-most-once"
}

// ParseCommitPolicy accepts "at-most-once" (or empty) and "at-least-once".
func ParseCommitPolicy(s string) (CommitPolicy, error) {
	switch s {
	case "", "at-most-once":
		return AtMostOnce, nil
	case "at-least-once":
		return AtLeastOnce, nil
	}
	return AtMostOnce, fmt.Errorf("unknown commit policy %q", s)
}

// Cadence holds the re-poll intervals.
type Cadence struct {
	// LiveRecheck applies while the channel is live.
	LiveRecheck time.Duration
	// PremiereRecheck applies once a pending premiere's start has passed without live.
	PremiereRecheck time.Duration
	// IdleRecheck applies with nothing live or pending.
	IdleRecheck time.Duration
	// ContentEvery is the minimum gap between content probes.
	ContentEvery time.Duration
	// PremiereHorizon bounds how far ahead a scheduled premiere is tracked.
	PremiereHorizon time.Duration
}

func DefaultCadence() Cadence {
	return Cadence{
		LiveRecheck:     5 * time.Minute,
		PremiereRecheck: 2 * time.Minute,
		IdleRecheck:     30 * time.Minute,
		ContentEvery:    20 * time.Minute,
		PremiereHorizon: 365 * 24 * time.Hour,
	}
}

// next computes the next live-check time.
func (c Cadence) next(now time.Time, live bool, pending *time.Time) time.Time {
	switch {
	case live:
		return now.Add(c.LiveRecheck)
	case pending != nil && pending.After(now):
		return *pending
	case pending != nil:
		return now.Add(c.PremiereRecheck)
	default:
		return now.Add(c.IdleRecheck)
	}
}

// Subscriptions is satisfied by *catalog.Store.
type Subscriptions interface {
	ListForTenant(ctx context.Context, tenantID string) ([]catalog.Entry, error)
}

// Tenants is satisfied by *tenant.Registry.
type Tenants interface {
	Get(id string) (tenant.Overrides, bool)
}

// Options wires an Engine. Nil probes make their platform's checks skip.
type Options struct {
	Store          kv.Store
	Catalog        Subscriptions
	Tenants        Tenants
	YouTubeLive    probe.LiveProber
	YouTubeContent probe.ContentProber
	TwitchLive     probe.LiveProber
	Poster         notify.Poster
	Clock          clock.Clock
	Cadence        Cadence
	Policy         CommitPolicy
	DefaultLocale  string
	// ProbeTimeout bounds each probe call; zero disables.
	ProbeTimeout time.Duration
}

// Engine is safe for concurrent use across tenants; callers keep one cycle per tenant
// in flight at a time.
type Engine struct {
	opts Options
}

var ErrNoChannel = errors.New("tenant has no notification channel")

func New(opts Options) *Engine {
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Cadence == (Cadence{}) {
		opts.Cadence = DefaultCadence()
	}
	if opts.DefaultLocale == "" {
		opts.DefaultLocale = notify.DefaultLocale
	}
	return &Engine{opts: opts}
}

// Sent records one notification attempt.
type Sent struct {
	EntryID string        `json:"entryId"`
	Kind    notify.Kind   `json:"kind"`
	Posted  notify.Posted `json:"posted"`
	Error   string        `json:"error,omitempty"`
}

// Report summarizes a cycle.
type Report struct {
	TenantID      string        `json:"tenant"`
	CorrelationID string        `json:"correlationId"`
	Skipped       bool          `json:"skipped,omitempty"`
	Entries       int           `json:"entries"`
	Notifications []Sent        `json:"notifications"`
	ProbeErrors   int           `json:"probeErrors"`
	StateWritten  bool          `json:"stateWritten"`
	Duration      time.Duration `json:"duration"`
}

// cycle carries the per-run context shared by the entity handlers.
type cycle struct {
	tenant tenant.Overrides
	report *Report
	log    *slog.Logger
}

// RunCycle performs one pass over the tenant's subscriptions. Probe and post failures
// are absorbed; only persistence failures are returned.
func (e *Engine) RunCycle(ctx context.Context, tenantID string) (report Report, err error) {
	start := time.Now()
	report = Report{TenantID: tenantID, CorrelationID: uuid.NewString(), Notifications: []Sent{}}
	ctx = telemetry.WithCorrelation(ctx, report.CorrelationID)
	ctx, span := telemetry.StartSpan(ctx, "poller", "poll.cycle", attribute.String("tenant", tenantID))
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "poller"), slog.String("tenant", tenantID))
	defer func() {
		report.Duration = time.Since(start)
		result := "ok"
		switch {
		case err != nil:
			result = "error"
			telemetry.RecordError(span, err)
		case report.Skipped:
			result = "skipped"
		default:
			telemetry.SetSpanSuccess(span)
		}
		telemetry.RecordPollCycle(result, report.Duration)
		span.End()
	}()

	ov, _ := e.opts.Tenants.Get(tenantID)
	if ov.ChannelID == "" {
		report.Skipped = true
		log.Debug("no notification channel; skipping cycle")
		return report, nil
	}

	entries, err := e.opts.Catalog.ListForTenant(ctx, tenantID)
	if err != nil {
		return report, fmt.Errorf("list subscriptions: %w", err)
	}
	report.Entries = len(entries)
	telemetry.SetSubscribedEntries(tenantID, len(entries))

	state, err := LoadState(ctx, e.opts.Store, tenantID)
	if err != nil {
		return report, err
	}

	c := &cycle{tenant: ov, report: &report, log: log}
	dirty := false
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		if entry.Missing {
			continue
		}
		st, ok := state[entry.ID]
		if !ok {
			st = &EntityState{}
			state[entry.ID] = st
		}
		before := st.clone()
		switch entry.Platform {
		case catalog.YouTube:
			e.pollYouTube(ctx, c, entry, st)
		case catalog.Twitch:
			e.pollTwitch(ctx, c, entry, st)
		default:
			log.Warn("unknown platform", slog.String("entry", entry.ID))
		}
		if !st.equal(before) {
			dirty = true
		}
	}

	if dirty {
		if err := saveState(ctx, e.opts.Store, tenantID, state); err != nil {
			return report, err
		}
		telemetry.IncStateWrites()
		report.StateWritten = true
	}
	log.Info("poll cycle finished",
		slog.Int("entries", report.Entries),
		slog.Int("notifications", len(report.Notifications)),
		slog.Int("probe_errors", report.ProbeErrors),
		slog.Bool("state_written", report.StateWritten))
	return report, nil
}

func (e *Engine) pollYouTube(ctx context.Context, c *cycle, entry catalog.Entry, st *EntityState) {
	now := e.opts.Clock.Now()
	live := st.LastLive
	liveRan := false

	if e.opts.YouTubeLive != nil && (st.NextLiveCheckAt == nil || !now.Before(*st.NextLiveCheckAt)) {
		liveRan = true
		out := e.checkLive(ctx, e.opts.YouTubeLive, entry)
		live = e.applyLive(ctx, c, entry, st, out)
	}

	pendingChanged := false
	if e.opts.YouTubeContent != nil && (st.LastContentCheckAt == nil || now.Sub(*st.LastContentCheckAt) >= e.opts.Cadence.ContentEvery) {
		pendingChanged = e.applyContent(ctx, c, entry, st, now)
	}

	if liveRan || pendingChanged {
		st.NextLiveCheckAt = timePtr(e.opts.Cadence.next(now, live, st.PendingScheduledStartAt))
	}
}

func (e *Engine) pollTwitch(ctx context.Context, c *cycle, entry catalog.Entry, st *EntityState) {
	if e.opts.TwitchLive == nil {
		return
	}
	out := e.checkLive(ctx, e.opts.TwitchLive, entry)
	e.applyLive(ctx, c, entry, st, out)
}

func (e *Engine) checkLive(ctx context.Context, p probe.LiveProber, entry catalog.Entry) probe.LiveOutcome {
	if e.opts.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.ProbeTimeout)
		defer cancel()
	}
	return p.CheckLive(ctx, entry.ExternalID)
}

// applyLive folds a live outcome into st and reports whether the entry counts as live
// for cadence purposes. An error keeps the previous lastLive.
func (e *Engine) applyLive(ctx context.Context, c *cycle, entry catalog.Entry, st *EntityState, out probe.LiveOutcome) bool {
	switch out.Status {
	case probe.Live:
		if st.LastLive {
			if out.StreamID != "" {
				st.LastStreamID = out.StreamID
			}
			return true
		}
		url := out.URL
		if url == "" {
			url = channelURL(entry)
		}
		if e.post(ctx, c, entry, notify.KindLive, notify.Vars{URL: url, Title: out.Title}) {
			st.LastLive = true
			st.LastStreamID = out.StreamID
		}
		return true
	case probe.NotLive:
		st.LastLive = false
		return false
	case probe.LiveError:
		c.report.ProbeErrors++
		c.log.Warn("live probe failed", slog.String("entry", entry.ID), slog.Any("err", out.Err))
	case probe.LiveSkipped:
		c.log.Debug("live probe skipped", slog.String("entry", entry.ID), slog.Any("err", out.Err))
	}
	return st.LastLive
}

// applyContent runs the content probe and reports whether the pending premiere changed.
// Found and failed probes both restart the content interval; a skip does not.
func (e *Engine) applyContent(ctx context.Context, c *cycle, entry catalog.Entry, st *EntityState, now time.Time) bool {
	pctx := ctx
	if e.opts.ProbeTimeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, e.opts.ProbeTimeout)
		defer cancel()
	}
	out := e.opts.YouTubeContent.CheckLatestContent(pctx, entry.ExternalID)
	switch out.Status {
	case probe.ContentSkipped:
		c.log.Debug("content probe skipped", slog.String("entry", entry.ID), slog.String("reason", out.SkipReason))
		return false
	case probe.ContentError:
		st.LastContentCheckAt = timePtr(now)
		c.report.ProbeErrors++
		c.log.Warn("content probe failed", slog.String("entry", entry.ID), slog.Any("err", out.Err))
		return false
	}

	st.LastContentCheckAt = timePtr(now)
	vars := notify.Vars{URL: out.URL, Title: out.Title}
	var pending *time.Time
	switch out.Kind {
	case probe.KindVideo:
		if out.VideoID != "" && out.VideoID != st.LastVideoID {
			if e.post(ctx, c, entry, notify.KindVideo, vars) {
				st.LastVideoID = out.VideoID
			}
		}
	case probe.KindPremiere:
		if out.VideoID != "" && out.VideoID != st.LastPremiereID {
			if e.post(ctx, c, entry, notify.KindPremiere, vars) {
				st.LastPremiereID = out.VideoID
			}
		}
		// A premiere stays pending past its start while it is still upcoming, so the
		// tighter post-start cadence applies until it airs.
		sched := out.ScheduledStartAt
		inHorizon := !sched.IsZero() && !sched.After(now.Add(e.opts.Cadence.PremiereHorizon))
		if inHorizon && (sched.After(now) || timeEqual(&sched, st.PendingScheduledStartAt)) {
			pending = timePtr(sched)
		}
	}
	if timeEqual(pending, st.PendingScheduledStartAt) {
		return false
	}
	st.PendingScheduledStartAt = pending
	return true
}

// post renders and sends one notification and reports whether the transition should
// be committed under the configured policy.
func (e *Engine) post(ctx context.Context, c *cycle, entry catalog.Entry, kind notify.Kind, vars notify.Vars) bool {
	vars.Name = entry.DisplayName
	vars.Platform = entry.Platform.DisplayName()
	content := notify.Compose(kind, e.locale(c.tenant), c.tenant.MessageTemplate, c.tenant.MentionRoleID, vars)

	sent := Sent{EntryID: entry.ID, Kind: kind}
	var err error
	if e.opts.Poster == nil {
		err = errors.New("no poster configured")
	} else {
		sent.Posted, err = e.opts.Poster.Create(ctx, notify.Message{ChannelID: c.tenant.ChannelID, Content: content})
	}
	telemetry.RecordNotification(string(kind), err)
	if err != nil {
		sent.Error = err.Error()
		c.log.Error("notification failed",
			slog.String("entry", entry.ID), slog.String("kind", string(kind)),
			slog.String("policy", e.opts.Policy.String()), slog.Any("err", err))
	} else {
		c.log.Info("notification sent", slog.String("entry", entry.ID), slog.String("kind", string(kind)), slog.String("message_id", sent.Posted.ID))
	}
	c.report.Notifications = append(c.report.Notifications, sent)
	return err == nil || e.opts.Policy == AtMostOnce
}

func (e *Engine) locale(ov tenant.Overrides) string {
	if ov.Locale != "" {
		return ov.Locale
	}
	return e.opts.DefaultLocale
}

func channelURL(entry catalog.Entry) string {
	if entry.Platform == catalog.Twitch {
		return probe.ChannelURL(entry.DisplayName)
	}
	return "https://www.youtube.com/channel/" + entry.ExternalID + "/live"
}
