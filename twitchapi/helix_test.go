package twitchapi

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/onnwee/live-notifier/testutil"
)

func newTestClient(t *testing.T, mock *testutil.MockTwitchServer) *HelixClient {
	t.Helper()
	ts := &TokenSource{ClientID: "test-client-id", ClientSecret: "test-secret", HTTPClient: mock.Client()}
	ts.SetToken("test-token", time.Now().Add(time.Hour))
	return &HelixClient{AppTokenSource: ts, ClientID: "test-client-id", HTTPClient: mock.Client()}
}

func init() {
	helixRetryBackoff = time.Millisecond
}

func TestHelixClient_Users(t *testing.T) {
	tests := []struct {
		name      string
		lookup    func(*HelixClient) (User, error)
		wantParam string
		wantValue string
	}{
		{"by login", func(c *HelixClient) (User, error) { return c.GetUserByLogin(context.Background(), "SomeStreamer") }, "login", "somestreamer"},
		{"by id", func(c *HelixClient) (User, error) { return c.GetUserByID(context.Background(), "12345") }, "id", "12345"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockTwitchServer(t)
			mock.Handle("/helix/users", func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("Client-Id") != "test-client-id" {
					t.Errorf("missing or wrong Client-Id header")
				}
				if r.Header.Get("Authorization") != "Bearer test-token" {
					t.Errorf("missing or wrong Authorization header")
				}
				if got := r.URL.Query().Get(tt.wantParam); got != tt.wantValue {
					t.Errorf("%s query param = %q, want %q", tt.wantParam, got, tt.wantValue)
				}
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(`{"data":[{"id":"12345","login":"somestreamer","display_name":"SomeStreamer"}]}`))
			})
			u, err := tt.lookup(newTestClient(t, mock))
			if err != nil {
				t.Fatalf("lookup error = %v", err)
			}
			if u.ID != "12345" || u.DisplayName != "SomeStreamer" {
				t.Errorf("user = %+v", u)
			}
		})
	}
}

func TestHelixClient_UserNotFound(t *testing.T) {
	mock := testutil.NewMockTwitchServer(t)
	mock.Handle("/helix/users", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	})
	c := newTestClient(t, mock)
	if _, err := c.GetUserByLogin(context.Background(), "nobody"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("error = %v, want ErrUserNotFound", err)
	}
	if _, err := c.GetUserByLogin(context.Background(), ""); err == nil {
		t.Error("empty login should fail")
	}
}

func TestHelixClient_GetStreams(t *testing.T) {
	tests := []struct {
		name      string
		user      string
		wantParam string
		wantValue string
		streams   []map[string]any
		wantLive  bool
	}{
		{
			name: "live by login", user: "LiveChannel", wantParam: "user_login", wantValue: "livechannel",
			streams:  []map[string]any{{"id": "s1", "user_id": "42", "user_login": "livechannel", "type": "live", "title": "Speedrun", "started_at": "2024-05-01T10:00:00Z"}},
			wantLive: true,
		},
		{name: "offline by numeric id", user: "42", wantParam: "user_id", wantValue: "42", streams: nil, wantLive: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := testutil.NewMockTwitchServer(t)
			mock.MockStreamsResponse(tt.streams)
			inner := mock.Handlers["/helix/streams"]
			mock.Handle("/helix/streams", func(w http.ResponseWriter, r *http.Request) {
				if got := r.URL.Query().Get(tt.wantParam); got != tt.wantValue {
					t.Errorf("%s = %q, want %q", tt.wantParam, got, tt.wantValue)
				}
				inner(w, r)
			})
			streams, err := newTestClient(t, mock).GetStreams(context.Background(), tt.user)
			if err != nil {
				t.Fatalf("GetStreams() error = %v", err)
			}
			if (len(streams) > 0) != tt.wantLive {
				t.Fatalf("live = %v, want %v", len(streams) > 0, tt.wantLive)
			}
			if tt.wantLive {
				s := streams[0]
				if s.ID != "s1" || s.Title != "Speedrun" || s.StartedAt.IsZero() {
					t.Errorf("stream = %+v", s)
				}
			}
		})
	}
}

func TestHelixClient_RetriesServerErrors(t *testing.T) {
	mock := testutil.NewMockTwitchServer(t)
	attempts := 0
	mock.Handle("/helix/streams", func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < helixMaxRetries {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"data":[]}`))
	})
	if _, err := newTestClient(t, mock).GetStreams(context.Background(), "x_user"); err != nil {
		t.Fatalf("GetStreams() error = %v", err)
	}
	if attempts != helixMaxRetries {
		t.Errorf("attempts = %d, want %d", attempts, helixMaxRetries)
	}
}

func TestHelixClient_GivesUpAfterMaxRetries(t *testing.T) {
	mock := testutil.NewMockTwitchServer(t)
	mock.Handle("/helix/streams", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	_, err := newTestClient(t, mock).GetStreams(context.Background(), "x_user")
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("error = %v, want wrapped 503 StatusError", err)
	}
	if n := mock.Calls("/helix/streams"); n != helixMaxRetries {
		t.Errorf("calls = %d, want %d", n, helixMaxRetries)
	}
}

func TestHelixClient_ReauthOnceOn401(t *testing.T) {
	mock := testutil.NewMockTwitchServer(t)
	mock.MockOAuthTokenResponse("fresh-token", 3600)
	mock.Handle("/helix/streams", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fresh-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"data":[]}`))
	})
	c := newTestClient(t, mock)
	if _, err := c.GetStreams(context.Background(), "x_user"); err != nil {
		t.Fatalf("GetStreams() error = %v", err)
	}
	if n := mock.Calls("/oauth2/token"); n != 1 {
		t.Errorf("token fetches = %d, want 1", n)
	}
	if n := mock.Calls("/helix/streams"); n != 2 {
		t.Errorf("stream calls = %d, want 2 (stale + fresh)", n)
	}
}

func TestHelixClient_PersistentUnauthorized(t *testing.T) {
	mock := testutil.NewMockTwitchServer(t)
	mock.MockOAuthTokenResponse("still-bad", 3600)
	mock.Handle("/helix/users", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	_, err := newTestClient(t, mock).GetUserByID(context.Background(), "1")
	var se *StatusError
	if !errors.As(err, &se) || se.StatusCode != http.StatusUnauthorized {
		t.Fatalf("error = %v, want 401 StatusError", err)
	}
	if n := mock.Calls("/oauth2/token"); n != 1 {
		t.Errorf("token fetches = %d, want exactly one re-auth", n)
	}
}

func TestHelixClient_NoCredentials(t *testing.T) {
	c := &HelixClient{AppTokenSource: &TokenSource{}}
	if c.Available() {
		t.Error("Available() = true without credentials")
	}
	if _, err := c.GetStreams(context.Background(), "someone"); !errors.Is(err, ErrNoCredentials) {
		t.Errorf("error = %v, want ErrNoCredentials", err)
	}
}
