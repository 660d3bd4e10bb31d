package probe

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/live-notifier/telemetry"
	"github.com/onnwee/live-notifier/youtubeapi"
)

// LivePageChecker is satisfied by *youtubeapi.LivePage.
type LivePageChecker interface {
	Check(ctx context.Context, channelID string) (youtubeapi.LiveStatus, error)
}

// LatestContentFetcher is satisfied by *youtubeapi.DataClient.
type LatestContentFetcher interface {
	LatestContent(ctx context.Context, channelID string) (youtubeapi.Content, error)
}

// QuotaTracker is satisfied by *youtubeapi.QuotaGuard.
type QuotaTracker interface {
	Blocked(ctx context.Context) (time.Time, bool)
	Block(ctx context.Context) time.Time
}

// YouTubeLive checks the public /live page.
type YouTubeLive struct {
	Page LivePageChecker
}

func (p *YouTubeLive) CheckLive(ctx context.Context, channelID string) LiveOutcome {
	ctx, span := telemetry.StartSpan(ctx, "probe", "youtube.live", attribute.String("channel_id", channelID))
	defer span.End()

	st, err := p.Page.Check(ctx, channelID)
	var out LiveOutcome
	switch {
	case err != nil:
		telemetry.RecordError(span, err)
		out = LiveOutcome{Status: LiveError, Err: err}
	case st.Live:
		out = LiveOutcome{Status: Live, URL: st.URL, Title: st.Title, StreamID: st.VideoID}
	default:
		out = LiveOutcome{Status: NotLive}
	}
	telemetry.RecordProbe("youtube", "live", out.Status.String())
	return out
}

// YouTubeContent checks the newest upload through the Data API, honouring the quota
// backoff. Data may be nil when no credentials are configured.
type YouTubeContent struct {
	Data  LatestContentFetcher
	Quota QuotaTracker
}

func (p *YouTubeContent) CheckLatestContent(ctx context.Context, channelID string) ContentOutcome {
	out := p.check(ctx, channelID)
	telemetry.RecordProbe("youtube", "content", out.Status.String())
	return out
}

func (p *YouTubeContent) check(ctx context.Context, channelID string) ContentOutcome {
	if p.Data == nil {
		return ContentOutcome{Status: ContentSkipped, SkipReason: SkipCredentials}
	}
	if p.Quota != nil {
		if _, blocked := p.Quota.Blocked(ctx); blocked {
			return ContentOutcome{Status: ContentSkipped, SkipReason: SkipQuota}
		}
	}

	ctx, span := telemetry.StartSpan(ctx, "probe", "youtube.content", attribute.String("channel_id", channelID))
	defer span.End()

	c, err := p.Data.LatestContent(ctx, channelID)
	if err != nil {
		telemetry.RecordError(span, err)
		if youtubeapi.IsQuotaError(err) && p.Quota != nil {
			p.Quota.Block(ctx)
		}
		return ContentOutcome{Status: ContentError, Err: err}
	}
	out := ContentOutcome{
		Status:           ContentFound,
		Kind:             ContentKind(c.Kind),
		VideoID:          c.VideoID,
		URL:              c.URL(),
		Title:            c.Title,
		ScheduledStartAt: c.ScheduledStartAt,
	}
	if out.Kind == "" {
		out.Kind = KindNone
	}
	span.SetAttributes(attribute.String("kind", string(out.Kind)))
	return out
}
