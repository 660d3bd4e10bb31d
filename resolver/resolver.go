// Package resolver turns free-form admin input (URLs, handles, ids, names, with an optional
// platform hint) into a canonical channel identity.
package resolver

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/onnwee/live-notifier/catalog"
)

// Identity is a resolved channel.
type Identity struct {
	Platform    catalog.Platform `json:"platform"`
	ExternalID  string           `json:"externalId"`
	DisplayName string           `json:"displayName"`
}

// Status is the resolution outcome.
type Status int

const (
	Resolved Status = iota
	NotFound
	// Unavailable means no consulted platform had usable credentials.
	Unavailable
)

func (s Status) String() string {
	switch s {
	case Resolved:
		return "resolved"
	case NotFound:
		return "not_found"
	case Unavailable:
		return "unavailable"
	}
	return "unknown"
}

// Resolution is the result of Resolve. Unavailable lists the consulted platforms that
// lacked credentials, whatever the status.
type Resolution struct {
	Status      Status
	Identity    Identity
	Unavailable []catalog.Platform
}

// YouTubeLookup finds YouTube channels. A miss is (Identity{}, false, nil).
type YouTubeLookup interface {
	Available() bool
	ChannelByID(ctx context.Context, id string) (Identity, bool, error)
	ChannelByHandle(ctx context.Context, handle string) (Identity, bool, error)
	ChannelByName(ctx context.Context, name string) (Identity, bool, error)
}

// TwitchLookup finds Twitch users. A miss is (Identity{}, false, nil).
type TwitchLookup interface {
	Available() bool
	UserByID(ctx context.Context, id string) (Identity, bool, error)
	UserByLogin(ctx context.Context, login string) (Identity, bool, error)
}

var (
	ytChannelURL = regexp.MustCompile(`(?i)^(?:https?://)?(?:www\.|m\.)?youtube\.com/channel/(UC[A-Za-z0-9_-]{22})(?:[/?#].*)?$`)
	ytHandleURL  = regexp.MustCompile(`(?i)^(?:https?://)?(?:www\.|m\.)?youtube\.com/@([^/?#\s]+)(?:[/?#].*)?$`)
	ytCustomURL  = regexp.MustCompile(`(?i)^(?:https?://)?(?:www\.|m\.)?youtube\.com/(?:c|user)/([^/?#\s]+)(?:[/?#].*)?$`)
	twitchURL    = regexp.MustCompile(`(?i)^(?:https?://)?(?:www\.|m\.)?twitch\.tv/([A-Za-z0-9_]+)(?:[/?#].*)?$`)

	ytChannelID  = regexp.MustCompile(`^UC[A-Za-z0-9_-]{22}$`)
	twitchLogin  = regexp.MustCompile(`^[A-Za-z0-9_]{3,25}$`)
	numericInput = regexp.MustCompile(`^[0-9]+$`)
)

var hints = []struct {
	prefix   string
	platform catalog.Platform
}{
	{"youtube:", catalog.YouTube},
	{"yt:", catalog.YouTube},
	{"twitch:", catalog.Twitch},
	{"tw:", catalog.Twitch},
}

// Resolver consults the platform lookups. Either lookup may be nil.
type Resolver struct {
	YouTube YouTubeLookup
	Twitch  TwitchLookup
	Logger  *slog.Logger
}

func New(yt YouTubeLookup, tw TwitchLookup) *Resolver {
	return &Resolver{YouTube: yt, Twitch: tw, Logger: slog.Default().With(slog.String("component", "resolver"))}
}

// query is one pending lookup against a single platform.
type query struct {
	platform catalog.Platform
	run      func(ctx context.Context) (Identity, bool, error)
}

// Resolve never returns an error: lookup failures are logged and count as a miss.
func (r *Resolver) Resolve(ctx context.Context, raw string) Resolution {
	input := strings.TrimSpace(raw)
	var hint catalog.Platform
	lower := strings.ToLower(input)
	for _, h := range hints {
		if strings.HasPrefix(lower, h.prefix) {
			hint = h.platform
			input = strings.TrimSpace(input[len(h.prefix):])
			break
		}
	}
	if input == "" {
		return Resolution{Status: NotFound}
	}

	// Known URL shapes override the hint.
	if m := ytChannelURL.FindStringSubmatch(input); m != nil {
		return r.run(ctx, "", r.youtubeByID(m[1]))
	}
	if m := ytHandleURL.FindStringSubmatch(input); m != nil {
		return r.run(ctx, "", r.youtubeByHandle(m[1]))
	}
	if m := ytCustomURL.FindStringSubmatch(input); m != nil {
		return r.run(ctx, "", r.youtubeByName(m[1]))
	}
	if m := twitchURL.FindStringSubmatch(input); m != nil {
		return r.run(ctx, "", r.twitchByLogin(m[1]))
	}

	switch hint {
	case catalog.YouTube:
		switch {
		case ytChannelID.MatchString(input):
			return r.run(ctx, "", r.youtubeByID(input))
		case strings.HasPrefix(input, "@"):
			return r.run(ctx, "", r.youtubeByHandle(input))
		default:
			return r.run(ctx, "", r.youtubeByName(input))
		}
	case catalog.Twitch:
		if numericInput.MatchString(input) {
			return r.run(ctx, "", r.twitchByID(input))
		}
		return r.run(ctx, "", r.twitchByLogin(strings.TrimPrefix(input, "@")))
	}

	switch {
	case ytChannelID.MatchString(input):
		return r.run(ctx, "", r.youtubeByID(input))
	case numericInput.MatchString(input):
		return r.run(ctx, "", r.twitchByID(input))
	}

	name := strings.TrimPrefix(input, "@")
	var ytq query
	if strings.HasPrefix(input, "@") {
		ytq = r.youtubeByHandle(input)
	} else {
		ytq = r.youtubeByName(input)
	}
	if !twitchLogin.MatchString(name) {
		return r.run(ctx, "", ytq, r.twitchInvalidLogin())
	}
	return r.run(ctx, catalog.Twitch, r.twitchByLogin(name), ytq)
}

// run executes the queries concurrently. When several match, preferred wins, else the
// first query in order.
func (r *Resolver) run(ctx context.Context, preferred catalog.Platform, queries ...query) Resolution {
	var res Resolution
	consulted := 0
	type hit struct {
		id Identity
		ok bool
	}
	hits := make([]hit, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		if q.run == nil {
			res.Unavailable = append(res.Unavailable, q.platform)
			continue
		}
		consulted++
		g.Go(func() error {
			id, ok, err := q.run(gctx)
			if err != nil {
				r.logger().Warn("lookup failed", slog.String("platform", string(q.platform)), slog.Any("err", err))
				return nil
			}
			hits[i] = hit{id: id, ok: ok}
			return nil
		})
	}
	_ = g.Wait()

	if consulted == 0 {
		res.Status = Unavailable
		return res
	}
	chosen := -1
	for i, h := range hits {
		if !h.ok {
			continue
		}
		if chosen == -1 || queries[i].platform == preferred {
			chosen = i
		}
	}
	if chosen == -1 {
		res.Status = NotFound
		return res
	}
	res.Status = Resolved
	res.Identity = hits[chosen].id
	res.Identity.Platform = queries[chosen].platform
	if res.Identity.DisplayName == "" {
		res.Identity.DisplayName = res.Identity.ExternalID
	}
	return res
}

func (r *Resolver) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

func (r *Resolver) youtube() YouTubeLookup {
	if r.YouTube == nil || !r.YouTube.Available() {
		return nil
	}
	return r.YouTube
}

func (r *Resolver) twitch() TwitchLookup {
	if r.Twitch == nil || !r.Twitch.Available() {
		return nil
	}
	return r.Twitch
}

func (r *Resolver) youtubeByID(id string) query {
	q := query{platform: catalog.YouTube}
	if yt := r.youtube(); yt != nil {
		q.run = func(ctx context.Context) (Identity, bool, error) { return yt.ChannelByID(ctx, id) }
	}
	return q
}

func (r *Resolver) youtubeByHandle(handle string) query {
	q := query{platform: catalog.YouTube}
	if yt := r.youtube(); yt != nil {
		q.run = func(ctx context.Context) (Identity, bool, error) { return yt.ChannelByHandle(ctx, handle) }
	}
	return q
}

func (r *Resolver) youtubeByName(name string) query {
	q := query{platform: catalog.YouTube}
	if yt := r.youtube(); yt != nil {
		q.run = func(ctx context.Context) (Identity, bool, error) { return yt.ChannelByName(ctx, name) }
	}
	return q
}

func (r *Resolver) twitchByID(id string) query {
	q := query{platform: catalog.Twitch}
	if tw := r.twitch(); tw != nil {
		q.run = func(ctx context.Context) (Identity, bool, error) { return tw.UserByID(ctx, id) }
	}
	return q
}

// twitchInvalidLogin counts Twitch as consulted for input that cannot be a login, so
// Twitch credentials alone turn the result into NotFound rather than Unavailable.
// It never calls the API.
func (r *Resolver) twitchInvalidLogin() query {
	q := query{platform: catalog.Twitch}
	if r.twitch() != nil {
		q.run = func(context.Context) (Identity, bool, error) { return Identity{}, false, nil }
	}
	return q
}

func (r *Resolver) twitchByLogin(login string) query {
	q := query{platform: catalog.Twitch}
	if tw := r.twitch(); tw != nil {
		q.run = func(ctx context.Context) (Identity, bool, error) { return tw.UserByLogin(ctx, login) }
	}
	return q
}
