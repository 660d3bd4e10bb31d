package resolver

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/onnwee/live-notifier/catalog"
	"github.com/onnwee/live-notifier/clock"
	"github.com/onnwee/live-notifier/kv"
	"github.com/onnwee/live-notifier/testutil"
	"github.com/onnwee/live-notifier/twitchapi"
	"github.com/onnwee/live-notifier/youtubeapi"
)

const ucID = "UCabcdefghijklmnopqrstuv"

type fakeYouTube struct {
	mu        sync.Mutex
	available bool
	byID      map[string]Identity
	byHandle  map[string]Identity
	byName    map[string]Identity
	err       error
	calls     []string
}

func (f *fakeYouTube) Available() bool { return f.available }

func (f *fakeYouTube) lookup(kind string, m map[string]Identity, key string) (Identity, bool, error) {
	f.mu.Lock()
	f.calls = append(f.calls, kind+":"+key)
	f.mu.Unlock()
	if f.err != nil {
		return Identity{}, false, f.err
	}
	id, ok := m[key]
	return id, ok, nil
}

func (f *fakeYouTube) ChannelByID(_ context.Context, id string) (Identity, bool, error) {
	return f.lookup("id", f.byID, id)
}

func (f *fakeYouTube) ChannelByHandle(_ context.Context, h string) (Identity, bool, error) {
	return f.lookup("handle", f.byHandle, strings.TrimPrefix(h, "@"))
}

func (f *fakeYouTube) ChannelByName(_ context.Context, n string) (Identity, bool, error) {
	return f.lookup("name", f.byName, n)
}

type fakeTwitch struct {
	mu        sync.Mutex
	available bool
	byID      map[string]Identity
	byLogin   map[string]Identity
	calls     []string
}

func (f *fakeTwitch) Available() bool { return f.available }

func (f *fakeTwitch) record(c string) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
}

func (f *fakeTwitch) UserByID(_ context.Context, id string) (Identity, bool, error) {
	f.record("id:" + id)
	v, ok := f.byID[id]
	return v, ok, nil
}

func (f *fakeTwitch) UserByLogin(_ context.Context, login string) (Identity, bool, error) {
	f.record("login:" + login)
	v, ok := f.byLogin[strings.ToLower(login)]
	return v, ok, nil
}

func newFakes() (*fakeYouTube, *fakeTwitch) {
	yt := &fakeYouTube{
		available: true,
		byID:      map[string]Identity{ucID: {ExternalID: ucID, DisplayName: "Abc"}},
		byHandle:  map[string]Identity{"abc": {ExternalID: ucID, DisplayName: "Abc"}},
		byName:    map[string]Identity{"shared": {ExternalID: "UCshared", DisplayName: "Shared YT"}, "ytonly": {ExternalID: "UCytonly", DisplayName: "YT Only"}},
	}
	tw := &fakeTwitch{
		available: true,
		byID:      map[string]Identity{"12345": {ExternalID: "12345", DisplayName: "Numbers"}},
		byLogin:   map[string]Identity{"xqc": {ExternalID: "71092938", DisplayName: "xQc"}, "shared": {ExternalID: "555", DisplayName: "Shared TW"}},
	}
	return yt, tw
}

func TestResolvePrecedence(t *testing.T) {
	tests := []struct {
		name         string
		input        string
		wantStatus   Status
		wantPlatform catalog.Platform
		wantID       string
	}{
		{"twitch url", "https://www.twitch.tv/xqc", Resolved, catalog.Twitch, "71092938"},
		{"twitch url without scheme", "twitch.tv/XQC/videos", Resolved, catalog.Twitch, "71092938"},
		{"url beats hint", "yt:twitch.tv/xqc", Resolved, catalog.Twitch, "71092938"},
		{"youtube channel url", "https://m.youtube.com/channel/" + ucID + "/videos", Resolved, catalog.YouTube, ucID},
		{"youtube handle url", "youtube.com/@abc", Resolved, catalog.YouTube, ucID},
		{"youtube custom url", "https://youtube.com/c/ytonly", Resolved, catalog.YouTube, "UCytonly"},
		{"bare channel id", ucID, Resolved, catalog.YouTube, ucID},
		{"numeric goes to twitch id", "12345", Resolved, catalog.Twitch, "12345"},
		{"youtube hint", "YouTube:shared", Resolved, catalog.YouTube, "UCshared"},
		{"twitch hint", "tw:shared", Resolved, catalog.Twitch, "555"},
		{"both match prefers twitch login", "shared", Resolved, catalog.Twitch, "555"},
		{"only youtube matches", "ytonly", Resolved, catalog.YouTube, "UCytonly"},
		{"handle input", "@abc", Resolved, catalog.YouTube, ucID},
		{"neither matches", "nobody_here", NotFound, "", ""},
		{"empty", "   ", NotFound, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			yt, tw := newFakes()
			res := New(yt, tw).Resolve(context.Background(), tt.input)
			if res.Status != tt.wantStatus {
				t.Fatalf("Status = %v, want %v (%+v)", res.Status, tt.wantStatus, res)
			}
			if res.Identity.Platform != tt.wantPlatform || res.Identity.ExternalID != tt.wantID {
				t.Fatalf("Identity = %+v", res.Identity)
			}
		})
	}
}

func TestNumericNeverQueriesYouTube(t *testing.T) {
	yt, tw := newFakes()
	res := New(yt, tw).Resolve(context.Background(), "999")
	if res.Status != NotFound {
		t.Fatalf("Status = %v", res.Status)
	}
	if len(yt.calls) != 0 {
		t.Fatalf("youtube was queried: %v", yt.calls)
	}
	if len(tw.calls) != 1 || tw.calls[0] != "id:999" {
		t.Fatalf("twitch calls = %v, want the numeric id path only", tw.calls)
	}
}

func TestTwitchURLQueriesOnlyTwitch(t *testing.T) {
	yt, tw := newFakes()
	New(yt, tw).Resolve(context.Background(), "twitch.tv/xqc")
	if len(yt.calls) != 0 {
		t.Fatalf("youtube was queried: %v", yt.calls)
	}
}

func TestInvalidTwitchLoginSkipsTwitch(t *testing.T) {
	yt, tw := newFakes()
	res := New(yt, tw).Resolve(context.Background(), "some channel name")
	if res.Status != NotFound {
		t.Fatalf("Status = %v", res.Status)
	}
	if len(tw.calls) != 0 {
		t.Fatalf("twitch queried with an invalid login: %v", tw.calls)
	}
}

func TestUnavailable(t *testing.T) {
	yt, tw := newFakes()
	yt.available = false
	tw.available = false

	res := New(yt, tw).Resolve(context.Background(), "shared")
	if res.Status != Unavailable {
		t.Fatalf("Status = %v, want Unavailable", res.Status)
	}
	if len(res.Unavailable) != 2 {
		t.Fatalf("Unavailable = %v", res.Unavailable)
	}

	// One platform without credentials is a non-match, not an outage.
	tw.available = true
	res = New(yt, tw).Resolve(context.Background(), "ytonly")
	if res.Status != NotFound {
		t.Fatalf("Status = %v, want NotFound", res.Status)
	}
	if len(res.Unavailable) != 1 || res.Unavailable[0] != catalog.YouTube {
		t.Fatalf("Unavailable = %v", res.Unavailable)
	}

	// A platform-specific query is unavailable when that platform is.
	if res := New(yt, tw).Resolve(context.Background(), ucID); res.Status != Unavailable {
		t.Fatalf("channel id with youtube down = %v", res.Status)
	}
	if res := New(nil, nil).Resolve(context.Background(), "xqc"); res.Status != Unavailable {
		t.Fatalf("nil lookups = %v", res.Status)
	}
}

func TestInvalidTwitchLoginWithOnlyTwitchCredentials(t *testing.T) {
	yt, tw := newFakes()
	yt.available = false

	res := New(yt, tw).Resolve(context.Background(), "some channel name")
	if res.Status != NotFound {
		t.Fatalf("Status = %v, want NotFound", res.Status)
	}
	if len(res.Unavailable) != 1 || res.Unavailable[0] != catalog.YouTube {
		t.Fatalf("Unavailable = %v", res.Unavailable)
	}
	if len(tw.calls) != 0 {
		t.Fatalf("twitch queried with an invalid login: %v", tw.calls)
	}

	tw.available = false
	res = New(yt, tw).Resolve(context.Background(), "some channel name")
	if res.Status != Unavailable || len(res.Unavailable) != 2 {
		t.Fatalf("res = %+v, want Unavailable on both platforms", res)
	}
}

func TestLookupErrorsAreMisses(t *testing.T) {
	yt, tw := newFakes()
	yt.err = errors.New("backend error")
	res := New(yt, tw).Resolve(context.Background(), "xqc")
	if res.Status != Resolved || res.Identity.Platform != catalog.Twitch {
		t.Fatalf("res = %+v", res)
	}
	res = New(yt, tw).Resolve(context.Background(), "yt:ytonly")
	if res.Status != NotFound {
		t.Fatalf("res = %+v, want NotFound", res)
	}
}

type fakeFinder struct {
	handle, username, search youtubeapi.Channel
	err                      error
	calls                    []string
}

func (f *fakeFinder) pick(call string, ch youtubeapi.Channel) (youtubeapi.Channel, error) {
	f.calls = append(f.calls, call)
	if f.err != nil {
		return youtubeapi.Channel{}, f.err
	}
	if ch.ID == "" {
		return youtubeapi.Channel{}, youtubeapi.ErrChannelNotFound
	}
	return ch, nil
}

func (f *fakeFinder) ChannelByID(_ context.Context, id string) (youtubeapi.Channel, error) {
	return f.pick("id", youtubeapi.Channel{ID: id, Title: "By ID"})
}
func (f *fakeFinder) ChannelByHandle(context.Context, string) (youtubeapi.Channel, error) {
	return f.pick("handle", f.handle)
}
func (f *fakeFinder) ChannelByUsername(context.Context, string) (youtubeapi.Channel, error) {
	return f.pick("username", f.username)
}
func (f *fakeFinder) SearchChannel(context.Context, string) (youtubeapi.Channel, error) {
	return f.pick("search", f.search)
}

func TestYouTubeDataChannelByNameFallsBack(t *testing.T) {
	f := &fakeFinder{search: youtubeapi.Channel{ID: "UCfound", Title: "Found"}}
	y := &YouTubeData{Finder: f}
	id, ok, err := y.ChannelByName(context.Background(), "someone")
	if err != nil || !ok || id.ExternalID != "UCfound" || id.DisplayName != "Found" || id.Platform != catalog.YouTube {
		t.Fatalf("ChannelByName = %+v %v %v", id, ok, err)
	}
	if strings.Join(f.calls, ",") != "handle,username,search" {
		t.Fatalf("calls = %v", f.calls)
	}
}

func TestYouTubeDataQuotaErrorBlocks(t *testing.T) {
	clk := clock.NewFake(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC))
	guard, err := youtubeapi.NewQuotaGuard(kv.NewMemory(), clk, "")
	if err != nil {
		t.Fatal(err)
	}
	f := &fakeFinder{err: youtubeapi.ErrQuotaExceeded}
	y := &YouTubeData{Finder: f, Quota: guard}
	if !y.Available() {
		t.Fatal("should start available")
	}
	if _, _, err := y.ChannelByID(context.Background(), ucID); err == nil {
		t.Fatal("quota error should surface")
	}
	if y.Available() {
		t.Fatal("quota exhaustion should make youtube unavailable")
	}
	if NewYouTubeData(nil, nil).Available() {
		t.Fatal("nil client must be unavailable")
	}
}

func TestTwitchHelixAdapter(t *testing.T) {
	mock := testutil.NewMockTwitchServer(t)
	ts := &twitchapi.TokenSource{ClientID: "cid", ClientSecret: "secret", HTTPClient: mock.Client()}
	ts.SetToken("tok", time.Now().Add(time.Hour))
	tw := &TwitchHelix{Finder: &twitchapi.HelixClient{AppTokenSource: ts, ClientID: "cid", HTTPClient: mock.Client()}}

	mock.MockUserResponse("71092938", "xqc", "xQc")
	id, ok, err := tw.UserByLogin(context.Background(), "xqc")
	if err != nil || !ok || id.ExternalID != "71092938" || id.DisplayName != "xQc" {
		t.Fatalf("UserByLogin = %+v %v %v", id, ok, err)
	}
	if !tw.Available() {
		t.Fatal("configured helix should be available")
	}
	if (&TwitchHelix{}).Available() {
		t.Fatal("nil finder must be unavailable")
	}
}
