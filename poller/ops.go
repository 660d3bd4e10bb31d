package poller

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/onnwee/live-notifier/catalog"
	"github.com/onnwee/live-notifier/notify"
	"github.com/onnwee/live-notifier/probe"
	"github.com/onnwee/live-notifier/telemetry"
)

// LiveEntry is a subscribed channel that is live right now.
type LiveEntry struct {
	Entry catalog.Entry `json:"entry"`
	URL   string        `json:"url"`
	Title string        `json:"title,omitempty"`
}

// LiveReport answers "who is live". Unavailable lists platforms that could not be
// checked for lack of credentials.
type LiveReport struct {
	Live        []LiveEntry        `json:"live"`
	Unavailable []catalog.Platform `json:"unavailable,omitempty"`
}

// WhoIsLive probes every subscription now, ignoring cadence, and leaves state untouched.
func (e *Engine) WhoIsLive(ctx context.Context, tenantID string) (LiveReport, error) {
	entries, err := e.opts.Catalog.ListForTenant(ctx, tenantID)
	if err != nil {
		return LiveReport{}, fmt.Errorf("list subscriptions: %w", err)
	}
	rep := LiveReport{Live: []LiveEntry{}}
	unavailable := map[catalog.Platform]bool{}
	log := telemetry.LoggerWithCorr(ctx).With(slog.String("component", "poller"), slog.String("tenant", tenantID))
	for _, entry := range entries {
		if entry.Missing {
			continue
		}
		var p probe.LiveProber
		switch entry.Platform {
		case catalog.YouTube:
			p = e.opts.YouTubeLive
		case catalog.Twitch:
			p = e.opts.TwitchLive
		}
		if p == nil {
			unavailable[entry.Platform] = true
			continue
		}
		out := e.checkLive(ctx, p, entry)
		switch out.Status {
		case probe.Live:
			url := out.URL
			if url == "" {
				url = channelURL(entry)
			}
			rep.Live = append(rep.Live, LiveEntry{Entry: entry, URL: url, Title: out.Title})
		case probe.LiveSkipped:
			unavailable[entry.Platform] = true
		case probe.LiveError:
			log.Warn("live probe failed", slog.String("entry", entry.ID), slog.Any("err", out.Err))
		}
	}
	for p := range unavailable {
		rep.Unavailable = append(rep.Unavailable, p)
	}
	sort.Slice(rep.Unavailable, func(i, j int) bool { return rep.Unavailable[i] < rep.Unavailable[j] })
	return rep, nil
}

// UnavailableNotice renders the user-visible outage line, or "" when nothing is down.
func (r LiveReport) UnavailableNotice() string {
	if len(r.Unavailable) == 0 {
		return ""
	}
	names := make([]string, len(r.Unavailable))
	for i, p := range r.Unavailable {
		names[i] = p.DisplayName()
	}
	return "service unavailable for: " + strings.Join(names, ", ")
}

// TestResult is what TriggerTest posted.
type TestResult struct {
	Content string        `json:"content"`
	Posted  notify.Posted `json:"posted"`
}

// TriggerTest posts a synthesized live notification for name using the tenant's
// overrides. No state is read or written.
func (e *Engine) TriggerTest(ctx context.Context, tenantID string, platform catalog.Platform, name string) (TestResult, error) {
	ov, _ := e.opts.Tenants.Get(tenantID)
	if ov.ChannelID == "" {
		return TestResult{}, ErrNoChannel
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = "Test Channel"
	}
	url := "https://www.youtube.com/@" + strings.ReplaceAll(name, " ", "")
	if platform == catalog.Twitch {
		url = probe.ChannelURL(strings.ToLower(strings.ReplaceAll(name, " ", "")))
	}
	content := notify.Compose(notify.KindLive, e.locale(ov), ov.MessageTemplate, ov.MentionRoleID, notify.Vars{
		Name:     name,
		Platform: platform.DisplayName(),
		URL:      url,
		Title:    "Test notification",
	})
	if e.opts.Poster == nil {
		return TestResult{}, fmt.Errorf("no poster configured")
	}
	posted, err := e.opts.Poster.Create(ctx, notify.Message{ChannelID: ov.ChannelID, Content: content})
	telemetry.RecordNotification("test", err)
	if err != nil {
		return TestResult{Content: content}, err
	}
	return TestResult{Content: content, Posted: posted}, nil
}

// State returns the persisted state for a tenant.
func (e *Engine) State(ctx context.Context, tenantID string) (State, error) {
	return LoadState(ctx, e.opts.Store, tenantID)
}
