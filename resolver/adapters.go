package resolver

import (
	"context"
	"errors"
	"time"

	"github.com/onnwee/live-notifier/catalog"
	"github.com/onnwee/live-notifier/twitchapi"
	"github.com/onnwee/live-notifier/youtubeapi"
)

// ChannelFinder is satisfied by *youtubeapi.DataClient.
type ChannelFinder interface {
	ChannelByID(ctx context.Context, id string) (youtubeapi.Channel, error)
	ChannelByHandle(ctx context.Context, handle string) (youtubeapi.Channel, error)
	ChannelByUsername(ctx context.Context, name string) (youtubeapi.Channel, error)
	SearchChannel(ctx context.Context, query string) (youtubeapi.Channel, error)
}

// QuotaBlocker is satisfied by *youtubeapi.QuotaGuard.
type QuotaBlocker interface {
	Blocked(ctx context.Context) (time.Time, bool)
	Block(ctx context.Context) time.Time
}

// YouTubeData adapts the Data API client. A quota failure arms the shared backoff.
type YouTubeData struct {
	Finder ChannelFinder
	Quota  QuotaBlocker
}

// NewYouTubeData returns an adapter that reports unavailable when client is nil.
func NewYouTubeData(client *youtubeapi.DataClient, quota QuotaBlocker) *YouTubeData {
	y := &YouTubeData{Quota: quota}
	if client != nil {
		y.Finder = client
	}
	return y
}

// Available is false without credentials or while the daily quota is exhausted.
func (y *YouTubeData) Available() bool {
	if y.Finder == nil {
		return false
	}
	if y.Quota != nil {
		if _, blocked := y.Quota.Blocked(context.Background()); blocked {
			return false
		}
	}
	return true
}

func (y *YouTubeData) ChannelByID(ctx context.Context, id string) (Identity, bool, error) {
	return y.result(ctx)(y.Finder.ChannelByID(ctx, id))
}

func (y *YouTubeData) ChannelByHandle(ctx context.Context, handle string) (Identity, bool, error) {
	return y.result(ctx)(y.Finder.ChannelByHandle(ctx, handle))
}

// ChannelByName tries the name as a handle, then as a legacy username, then searches.
func (y *YouTubeData) ChannelByName(ctx context.Context, name string) (Identity, bool, error) {
	lookups := []func(context.Context, string) (youtubeapi.Channel, error){
		y.Finder.ChannelByHandle,
		y.Finder.ChannelByUsername,
		y.Finder.SearchChannel,
	}
	for _, lookup := range lookups {
		id, ok, err := y.result(ctx)(lookup(ctx, name))
		if err != nil || ok {
			return id, ok, err
		}
	}
	return Identity{}, false, nil
}

func (y *YouTubeData) result(ctx context.Context) func(youtubeapi.Channel, error) (Identity, bool, error) {
	return func(ch youtubeapi.Channel, err error) (Identity, bool, error) {
		switch {
		case errors.Is(err, youtubeapi.ErrChannelNotFound):
			return Identity{}, false, nil
		case err != nil:
			if youtubeapi.IsQuotaError(err) && y.Quota != nil {
				y.Quota.Block(ctx)
			}
			return Identity{}, false, err
		}
		return Identity{Platform: catalog.YouTube, ExternalID: ch.ID, DisplayName: ch.Title}, true, nil
	}
}

// UserFinder is satisfied by *twitchapi.HelixClient.
type UserFinder interface {
	Available() bool
	GetUserByID(ctx context.Context, id string) (twitchapi.User, error)
	GetUserByLogin(ctx context.Context, login string) (twitchapi.User, error)
}

// TwitchHelix adapts the Helix client. Identities carry the numeric user id.
type TwitchHelix struct {
	Finder UserFinder
}

func (t *TwitchHelix) Available() bool { return t.Finder != nil && t.Finder.Available() }

func (t *TwitchHelix) UserByID(ctx context.Context, id string) (Identity, bool, error) {
	return twitchResult(t.Finder.GetUserByID(ctx, id))
}

func (t *TwitchHelix) UserByLogin(ctx context.Context, login string) (Identity, bool, error) {
	return twitchResult(t.Finder.GetUserByLogin(ctx, login))
}

func twitchResult(u twitchapi.User, err error) (Identity, bool, error) {
	if errors.Is(err, twitchapi.ErrUserNotFound) {
		return Identity{}, false, nil
	}
	if err != nil {
		return Identity{}, false, err
	}
	name := u.DisplayName
	if name == "" {
		name = u.Login
	}
	return Identity{Platform: catalog.Twitch, ExternalID: u.ID, DisplayName: name}, true, nil
}
