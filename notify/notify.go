// Package notify renders notification text and posts it to the tenant's channel.
//
// Channel ids carry their sink as a scheme: "webhook:<url>", "twitch:<channel>" or
// "telegram:<chat id>". The Router dispatches on that scheme.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Kind is the notification type.
type Kind string

const (
	KindLive     Kind = "live"
	KindVideo    Kind = "video"
	KindPremiere Kind = "premiere"
)

// Vars are the template substitutions.
type Vars struct {
	Name     string
	Platform string
	URL      string
	Title    string
}

// Compose renders the body for kind. A non-empty template replaces the localized
// default for live notifications only. A mention role is prepended as <@&id>.
func Compose(kind Kind, locale, template, mentionRoleID string, v Vars) string {
	tmpl := strings.TrimSpace(template)
	if kind != KindLive || tmpl == "" {
		tmpl = defaultTemplate(kind, locale)
	}
	body := strings.NewReplacer(
		"{name}", v.Name,
		"{platform}", v.Platform,
		"{url}", v.URL,
		"{title}", v.Title,
	).Replace(tmpl)
	body = strings.TrimSpace(body)
	if mentionRoleID != "" {
		body = "<@&" + mentionRoleID + "> " + body
	}
	return body
}

// Message is one post request.
type Message struct {
	ChannelID string
	Content   string
}

// Posted identifies a delivered message.
type Posted struct {
	ID        string    `json:"id"`
	ChannelID string    `json:"channelId"`
	At        time.Time `json:"at"`
}

// Poster delivers a message to a channel.
type Poster interface {
	Create(ctx context.Context, msg Message) (Posted, error)
}

var (
	ErrUnknownScheme = errors.New("notify: unknown channel scheme")
	ErrEmptyChannel  = errors.New("notify: empty channel id")
)

// SplitChannel splits "scheme:target".
func SplitChannel(channelID string) (scheme, target string, err error) {
	channelID = strings.TrimSpace(channelID)
	if channelID == "" {
		return "", "", ErrEmptyChannel
	}
	scheme, target, ok := strings.Cut(channelID, ":")
	if !ok || target == "" {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownScheme, channelID)
	}
	return strings.ToLower(scheme), target, nil
}

// Router dispatches by channel scheme. Posters receive the target without the scheme.
type Router struct {
	mu      sync.RWMutex
	posters map[string]Poster
}

func NewRouter() *Router { return &Router{posters: map[string]Poster{}} }

// Register installs p for scheme, replacing any previous poster.
func (r *Router) Register(scheme string, p Poster) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.posters[strings.ToLower(scheme)] = p
}

// Schemes lists the registered schemes.
func (r *Router) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.posters))
	for s := range r.posters {
		out = append(out, s)
	}
	return out
}

func (r *Router) Create(ctx context.Context, msg Message) (Posted, error) {
	scheme, target, err := SplitChannel(msg.ChannelID)
	if err != nil {
		return Posted{}, err
	}
	r.mu.RLock()
	p, ok := r.posters[scheme]
	r.mu.RUnlock()
	if !ok {
		return Posted{}, fmt.Errorf("%w: %q", ErrUnknownScheme, scheme)
	}
	posted, err := p.Create(ctx, Message{ChannelID: target, Content: msg.Content})
	if err != nil {
		return Posted{}, fmt.Errorf("post to %s: %w", scheme, err)
	}
	posted.ChannelID = msg.ChannelID
	return posted, nil
}
