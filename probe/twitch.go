package probe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/onnwee/live-notifier/telemetry"
	"github.com/onnwee/live-notifier/twitchapi"
)

// StreamsGetter is satisfied by *twitchapi.HelixClient.
type StreamsGetter interface {
	Available() bool
	GetStreams(ctx context.Context, user string) ([]twitchapi.Stream, error)
}

// TwitchLive checks Helix streams. Without app credentials every check is skipped.
type TwitchLive struct {
	Helix StreamsGetter
}

// Available reports whether Twitch checks can run.
func (p *TwitchLive) Available() bool { return p.Helix != nil && p.Helix.Available() }

func (p *TwitchLive) CheckLive(ctx context.Context, user string) LiveOutcome {
	if !p.Available() {
		telemetry.RecordProbe("twitch", "live", LiveSkipped.String())
		return LiveOutcome{Status: LiveSkipped, Err: twitchapi.ErrNoCredentials}
	}
	ctx, span := telemetry.StartSpan(ctx, "probe", "twitch.live", attribute.String("user", user))
	defer span.End()

	var out LiveOutcome
	streams, err := p.Helix.GetStreams(ctx, user)
	switch {
	case err != nil:
		telemetry.RecordError(span, err)
		out = LiveOutcome{Status: LiveError, Err: err}
	case len(streams) == 0 || streams[0].Type != "live" && streams[0].Type != "":
		out = LiveOutcome{Status: NotLive}
	default:
		s := streams[0]
		out = LiveOutcome{Status: Live, URL: ChannelURL(s.UserLogin), Title: s.Title, StreamID: s.ID}
	}
	telemetry.RecordProbe("twitch", "live", out.Status.String())
	return out
}

// ChannelURL is the public channel page for a login.
func ChannelURL(login string) string { return "https://www.twitch.tv/" + login }
