package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	twitch "github.com/gempir/go-twitch-irc/v4"
	"github.com/google/uuid"
)

// maxChatLen is Twitch's chat message limit.
const maxChatLen = 500

// connectTimeout bounds the wait for the IRC welcome.
var connectTimeout = 15 * time.Second

var (
	ErrChatNotConfigured  = errors.New("notify: twitch chat credentials not set")
	ErrChatConnectionLost = errors.New("notify: twitch chat connection lost")
)

// IRCClient is the subset of *twitch.Client the poster uses.
type IRCClient interface {
	OnConnect(callback func())
	Join(channels ...string)
	Say(channel, text string)
	Connect() error
	Disconnect() error
}

// IRCPoster says messages in Twitch chat through one shared, lazily connected bot client.
// The target is the channel login.
type IRCPoster struct {
	Username   string
	OAuthToken string
	// TokenFunc, when set, supplies the token at each connect instead of OAuthToken.
	TokenFunc func(ctx context.Context) (string, error)
	NewClient func(username, oauth string) IRCClient

	mu     sync.Mutex
	client IRCClient
	ready  chan struct{}
	joined map[string]bool
}

func NewIRCPoster(username, oauthToken string) *IRCPoster {
	return &IRCPoster{
		Username:   username,
		OAuthToken: oauthToken,
		NewClient: func(u, o string) IRCClient {
			return twitch.NewClient(u, o)
		},
	}
}

func (p *IRCPoster) Create(ctx context.Context, msg Message) (Posted, error) {
	channel := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(msg.ChannelID), "#"))
	if channel == "" {
		return Posted{}, ErrEmptyChannel
	}
	client, err := p.connect(ctx)
	if err != nil {
		return Posted{}, err
	}

	if err := p.say(client, channel, chatLine(msg.Content)); err != nil {
		return Posted{}, err
	}
	return Posted{ID: uuid.NewString(), ChannelID: msg.ChannelID, At: time.Now().UTC()}, nil
}

// say joins channel once per connection and sends text. It fails when client is no
// longer the live connection, e.g. after a drop or Reset.
func (p *IRCPoster) say(client IRCClient, channel, text string) error {
	p.mu.Lock()
	if p.client != client || p.joined == nil {
		p.mu.Unlock()
		return ErrChatConnectionLost
	}
	if !p.joined[channel] {
		client.Join(channel)
		p.joined[channel] = true
	}
	p.mu.Unlock()

	client.Say(channel, text)
	return nil
}

// chatLine flattens content to one line within the chat limit.
func chatLine(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > maxChatLen {
		s = string(r[:maxChatLen-1]) + "…"
	}
	return s
}

func (p *IRCPoster) connect(ctx context.Context) (IRCClient, error) {
	p.mu.Lock()
	if p.Username == "" || (p.OAuthToken == "" && p.TokenFunc == nil) {
		p.mu.Unlock()
		return nil, ErrChatNotConfigured
	}
	if p.client == nil {
		token := p.OAuthToken
		if p.TokenFunc != nil {
			t, err := p.TokenFunc(ctx)
			if err != nil {
				p.mu.Unlock()
				return nil, fmt.Errorf("twitch chat token: %w", err)
			}
			token = t
		}
		if !strings.HasPrefix(token, "oauth:") {
			token = "oauth:" + token
		}
		c := p.NewClient(p.Username, token)
		ready := make(chan struct{})
		var once sync.Once
		c.OnConnect(func() { once.Do(func() { close(ready) }) })
		p.client, p.ready, p.joined = c, ready, map[string]bool{}
		go p.run(c)
	}
	client, ready := p.client, p.ready
	p.mu.Unlock()

	wait, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	select {
	case <-ready:
		return client, nil
	case <-wait.Done():
		return nil, errors.New("twitch chat: connect timed out")
	}
}

// run blocks in Connect; when the client gives up, the next post dials a fresh one.
func (p *IRCPoster) run(c IRCClient) {
	err := c.Connect()
	if err != nil && !errors.Is(err, twitch.ErrClientDisconnected) {
		slog.Warn("twitch chat connection ended", slog.Any("err", err), slog.String("component", "notify"))
	}
	p.mu.Lock()
	if p.client == c {
		p.client, p.ready, p.joined = nil, nil, nil
	}
	p.mu.Unlock()
}

// Reset drops the current connection so the next post reconnects with a fresh token.
func (p *IRCPoster) Reset() {
	p.mu.Lock()
	c := p.client
	p.client, p.ready, p.joined = nil, nil, nil
	p.mu.Unlock()
	if c != nil {
		if err := c.Disconnect(); err != nil {
			slog.Debug("twitch chat disconnect", slog.Any("err", err), slog.String("component", "notify"))
		}
	}
}

// Close disconnects the bot.
func (p *IRCPoster) Close() error {
	p.mu.Lock()
	c := p.client
	p.mu.Unlock()
	if c == nil {
		return nil
	}
	return c.Disconnect()
}
