package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestCompose(t *testing.T) {
	v := Vars{Name: "Abc", Platform: "YouTube", URL: "https://youtu.be/x", Title: "Speedrun"}
	tests := []struct {
		name     string
		kind     Kind
		locale   string
		template string
		mention  string
		want     string
	}{
		{"default live", KindLive, "en", "", "", "🔴 **Abc** is live on YouTube! Speedrun\nhttps://youtu.be/x"},
		{"custom live template", KindLive, "en", "{name} on {platform}: {url}", "", "Abc on YouTube: https://youtu.be/x"},
		{"mention prepended", KindLive, "en", "{name}", "777", "<@&777> Abc"},
		{"template ignored for video", KindVideo, "en", "{name} custom", "", "📺 **Abc** uploaded a new video: Speedrun\nhttps://youtu.be/x"},
		{"spanish premiere", KindPremiere, "es", "", "", "⏰ **Abc** programó un estreno: Speedrun\nhttps://youtu.be/x"},
		{"regional locale", KindVideo, "pt-BR", "", "", "📺 **Abc** enviou um novo vídeo: Speedrun\nhttps://youtu.be/x"},
		{"unknown locale falls back", KindLive, "fr", "", "", "🔴 **Abc** is live on YouTube! Speedrun\nhttps://youtu.be/x"},
		{"german live", KindLive, "DE", "", "1", "<@&1> 🔴 **Abc** ist jetzt live auf YouTube! Speedrun\nhttps://youtu.be/x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Compose(tt.kind, tt.locale, tt.template, tt.mention, v); got != tt.want {
				t.Fatalf("Compose = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEveryLocaleHasEveryKind(t *testing.T) {
	for _, l := range Locales() {
		for _, k := range []Kind{KindLive, KindVideo, KindPremiere} {
			if defaults[l][k] == "" {
				t.Errorf("locale %s missing %s", l, k)
			}
		}
	}
}

func TestSplitChannel(t *testing.T) {
	s, target, err := SplitChannel("webhook:https://example.com/a")
	if err != nil || s != "webhook" || target != "https://example.com/a" {
		t.Fatalf("SplitChannel = %q %q %v", s, target, err)
	}
	if _, _, err := SplitChannel(""); !errors.Is(err, ErrEmptyChannel) {
		t.Fatalf("empty = %v", err)
	}
	if _, _, err := SplitChannel("nocolon"); !errors.Is(err, ErrUnknownScheme) {
		t.Fatalf("no scheme = %v", err)
	}
}

type recordingPoster struct {
	mu   sync.Mutex
	msgs []Message
	err  error
}

func (r *recordingPoster) Create(_ context.Context, m Message) (Posted, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return Posted{}, r.err
	}
	r.msgs = append(r.msgs, m)
	return Posted{ID: "p1", ChannelID: m.ChannelID}, nil
}

func TestRouter(t *testing.T) {
	rec := &recordingPoster{}
	r := NewRouter()
	r.Register("Telegram", rec)

	posted, err := r.Create(context.Background(), Message{ChannelID: "telegram:12345", Content: "hi"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if posted.ChannelID != "telegram:12345" || posted.ID != "p1" {
		t.Fatalf("posted = %+v", posted)
	}
	if len(rec.msgs) != 1 || rec.msgs[0].ChannelID != "12345" {
		t.Fatalf("poster saw %+v", rec.msgs)
	}

	if _, err := r.Create(context.Background(), Message{ChannelID: "slack:x"}); !errors.Is(err, ErrUnknownScheme) {
		t.Fatalf("unknown scheme err = %v", err)
	}
	rec.err = errors.New("boom")
	if _, err := r.Create(context.Background(), Message{ChannelID: "telegram:1"}); err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("poster error = %v", err)
	}
}

func TestWebhookPoster(t *testing.T) {
	var got webhookPayload
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		body, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"9001","content":"x"}`))
	}))
	defer srv.Close()

	p := &WebhookPoster{HTTPClient: srv.Client()}
	posted, err := p.Create(context.Background(), Message{ChannelID: srv.URL + "/api/webhooks/1/abc", Content: "<@&5> hello"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if posted.ID != "9001" {
		t.Fatalf("ID = %q", posted.ID)
	}
	if got.Content != "<@&5> hello" || len(got.AllowedMentions.Parse) != 1 || got.AllowedMentions.Parse[0] != "roles" {
		t.Fatalf("payload = %+v", got)
	}
	if query != "wait=true" {
		t.Fatalf("query = %q", query)
	}
}

func TestWebhookPosterErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown webhook", http.StatusNotFound)
	}))
	defer srv.Close()
	p := &WebhookPoster{HTTPClient: srv.Client()}
	if _, err := p.Create(context.Background(), Message{ChannelID: srv.URL, Content: "x"}); err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("err = %v", err)
	}
	if _, err := p.Create(context.Background(), Message{ChannelID: "ftp://nope", Content: "x"}); err == nil {
		t.Fatal("expected invalid url error")
	}
}

func TestWebhookPosterNoContentResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()
	p := &WebhookPoster{HTTPClient: srv.Client(), Now: func() time.Time { return time.Unix(100, 0) }}
	posted, err := p.Create(context.Background(), Message{ChannelID: srv.URL, Content: strings.Repeat("a", 3000)})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if posted.ID == "" || !posted.At.Equal(time.Unix(100, 0)) {
		t.Fatalf("posted = %+v", posted)
	}
}

type fakeIRC struct {
	mu        sync.Mutex
	onConnect func()
	joined    []string
	said      []string
	stop      chan struct{}
	connects  int
}

func (f *fakeIRC) OnConnect(cb func()) { f.onConnect = cb }
func (f *fakeIRC) Join(ch ...string) {
	f.mu.Lock()
	f.joined = append(f.joined, ch...)
	f.mu.Unlock()
}
func (f *fakeIRC) Say(ch, text string) {
	f.mu.Lock()
	f.said = append(f.said, ch+"|"+text)
	f.mu.Unlock()
}
func (f *fakeIRC) Connect() error {
	f.mu.Lock()
	f.connects++
	f.mu.Unlock()
	f.onConnect()
	<-f.stop
	return nil
}
func (f *fakeIRC) Disconnect() error {
	close(f.stop)
	return nil
}

func TestIRCPoster(t *testing.T) {
	fake := &fakeIRC{stop: make(chan struct{})}
	var gotToken string
	p := NewIRCPoster("bot", "secret")
	p.NewClient = func(_, token string) IRCClient {
		gotToken = token
		return fake
	}
	defer p.Close()

	for i := 0; i < 2; i++ {
		if _, err := p.Create(context.Background(), Message{ChannelID: "#SomeChannel", Content: "line one\nline two"}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	fake.mu.Lock()
	defer fake.mu.Unlock()
	if gotToken != "oauth:secret" {
		t.Fatalf("token = %q", gotToken)
	}
	if len(fake.joined) != 1 || fake.joined[0] != "somechannel" {
		t.Fatalf("joined = %v", fake.joined)
	}
	if len(fake.said) != 2 || fake.said[0] != "somechannel|line one line two" {
		t.Fatalf("said = %v", fake.said)
	}
	if fake.connects != 1 {
		t.Fatalf("connects = %d, want one shared connection", fake.connects)
	}
}

func TestIRCPosterResetUsesFreshToken(t *testing.T) {
	tokens := []string{"first", "oauth:second"}
	var (
		dialed []string
		fakes  []*fakeIRC
	)
	p := NewIRCPoster("bot", "")
	p.TokenFunc = func(context.Context) (string, error) {
		tok := tokens[0]
		tokens = tokens[1:]
		return tok, nil
	}
	p.NewClient = func(_, token string) IRCClient {
		dialed = append(dialed, token)
		f := &fakeIRC{stop: make(chan struct{})}
		fakes = append(fakes, f)
		return f
	}
	defer p.Close()

	if _, err := p.Create(context.Background(), Message{ChannelID: "chan", Content: "a"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	p.Reset()
	if _, err := p.Create(context.Background(), Message{ChannelID: "chan", Content: "b"}); err != nil {
		t.Fatalf("Create after Reset: %v", err)
	}
	if len(dialed) != 2 || dialed[0] != "oauth:first" || dialed[1] != "oauth:second" {
		t.Fatalf("dialed = %v", dialed)
	}
	fakes[1].mu.Lock()
	defer fakes[1].mu.Unlock()
	if len(fakes[1].joined) != 1 {
		t.Fatalf("second client joined = %v, want rejoin", fakes[1].joined)
	}
}

// droppingIRC welcomes the bot and then loses the connection right away.
type droppingIRC struct {
	fakeIRC
}

func (f *droppingIRC) Connect() error {
	f.onConnect()
	return errors.New("connection reset")
}

func (f *droppingIRC) Disconnect() error { return nil }

func TestIRCPosterConnectionDropsBeforeSay(t *testing.T) {
	fake := &fakeIRC{stop: make(chan struct{})}
	p := NewIRCPoster("bot", "secret")
	p.NewClient = func(string, string) IRCClient { return fake }

	client, err := p.connect(context.Background())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := fake.Disconnect(); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		p.mu.Lock()
		gone := p.client == nil
		p.mu.Unlock()
		if gone {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("connection never cleared")
		}
		time.Sleep(time.Millisecond)
	}

	if err := p.say(client, "chan", "hello"); !errors.Is(err, ErrChatConnectionLost) {
		t.Fatalf("say err = %v, want ErrChatConnectionLost", err)
	}
	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.said) != 0 || len(fake.joined) != 0 {
		t.Fatalf("stale client used: joined=%v said=%v", fake.joined, fake.said)
	}
}

func TestIRCPosterFlappingConnectionDoesNotPanic(t *testing.T) {
	p := NewIRCPoster("bot", "secret")
	p.NewClient = func(string, string) IRCClient { return &droppingIRC{} }

	for i := 0; i < 500; i++ {
		_, err := p.Create(context.Background(), Message{ChannelID: "chan", Content: "hi"})
		if err != nil && !errors.Is(err, ErrChatConnectionLost) {
			t.Fatalf("post %d: %v", i, err)
		}
	}
}

func TestIRCPosterResetDuringPost(t *testing.T) {
	fake := &fakeIRC{stop: make(chan struct{})}
	p := NewIRCPoster("bot", "secret")
	p.NewClient = func(string, string) IRCClient { return fake }

	client, err := p.connect(context.Background())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	p.Reset()
	if err := p.say(client, "chan", "hello"); !errors.Is(err, ErrChatConnectionLost) {
		t.Fatalf("say err = %v, want ErrChatConnectionLost", err)
	}
}

func TestIRCPosterTokenError(t *testing.T) {
	p := NewIRCPoster("bot", "")
	p.TokenFunc = func(context.Context) (string, error) { return "", errors.New("no stored token") }
	if _, err := p.Create(context.Background(), Message{ChannelID: "x", Content: "y"}); err == nil || !strings.Contains(err.Error(), "no stored token") {
		t.Fatalf("err = %v", err)
	}
}

func TestIRCPosterNotConfigured(t *testing.T) {
	p := NewIRCPoster("", "")
	if _, err := p.Create(context.Background(), Message{ChannelID: "x", Content: "y"}); !errors.Is(err, ErrChatNotConfigured) {
		t.Fatalf("err = %v", err)
	}
}

func TestTelegramPoster(t *testing.T) {
	var path, text string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		_ = json.Unmarshal(body, &req)
		text, _ = req["text"].(string)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":42,"date":1700000000,"chat":{"id":1}}}`))
	}))
	defer srv.Close()

	p, err := NewTelegramPoster("123:abc", srv.URL, srv.Client())
	if err != nil {
		t.Fatalf("NewTelegramPoster: %v", err)
	}
	posted, err := p.Create(context.Background(), Message{ChannelID: "1", Content: "**Abc** is live"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if posted.ID != "42" || !posted.At.Equal(time.Unix(1700000000, 0)) {
		t.Fatalf("posted = %+v", posted)
	}
	if path != "/bot123:abc/sendMessage" || text != "**Abc** is live" {
		t.Fatalf("request path=%q text=%q", path, text)
	}
	if _, err := p.Create(context.Background(), Message{ChannelID: "not-a-number"}); err == nil {
		t.Fatal("expected chat id error")
	}
	if _, err := NewTelegramPoster("", "", nil); !errors.Is(err, ErrTelegramNotConfigured) {
		t.Fatalf("empty token err = %v", err)
	}
}
