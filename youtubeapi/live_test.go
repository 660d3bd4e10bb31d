package youtubeapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const livePageFixture = `<html><head>
<link rel="canonical" href="https://www.youtube.com/watch?v=AbCdEfGhIjK">
<meta property="og:title" content="Late night build &amp; chat">
</head><body><script>var ytInitialPlayerResponse = {"videoDetails":{"videoId":"AbCdEfGhIjK","isLiveContent":true},"microformat":{"liveBroadcastDetails":{"isLiveNow":true}}};</script></body></html>`

func TestParseLivePage(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantLive  bool
		wantID    string
		wantTitle string
	}{
		{"live with canonical link", livePageFixture, true, "AbCdEfGhIjK", "Late night build & chat"},
		{
			name:      "isLive with hls manifest and meta title",
			body:      `<meta name="title" content="Morning stream">{"isLive":true,"streamingData":{"hlsManifestUrl":"https://x"},"videoId":"ZZZZZZZZZZZ"}`,
			wantLive:  true,
			wantID:    "ZZZZZZZZZZZ",
			wantTitle: "Morning stream",
		},
		{"isLive without manifest", `{"isLive":true,"videoId":"ZZZZZZZZZZZ"}`, false, "", ""},
		{"upcoming premiere page", `{"isLiveNow":true,"isUpcoming":true,"videoId":"ZZZZZZZZZZZ"}`, false, "", ""},
		{"channel home redirect", `<html><title>Channel</title></html>`, false, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := ParseLivePage([]byte(tt.body))
			if st.Live != tt.wantLive {
				t.Fatalf("Live = %v, want %v", st.Live, tt.wantLive)
			}
			if st.VideoID != tt.wantID {
				t.Errorf("VideoID = %q, want %q", st.VideoID, tt.wantID)
			}
			if st.Title != tt.wantTitle {
				t.Errorf("Title = %q, want %q", st.Title, tt.wantTitle)
			}
			if tt.wantID != "" && st.URL != "https://www.youtube.com/watch?v="+tt.wantID {
				t.Errorf("URL = %q", st.URL)
			}
		})
	}
}

func TestLivePageCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/channel/UClive/live":
			if c, err := r.Cookie("CONSENT"); err != nil || !strings.HasPrefix(c.Value, "YES") {
				t.Errorf("consent cookie missing")
			}
			_, _ = w.Write([]byte(livePageFixture))
		case "/channel/UCoffline/live":
			_, _ = w.Write([]byte(`<html>offline</html>`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	p := &LivePage{HTTPClient: srv.Client(), BaseURL: srv.URL}
	ctx := context.Background()

	st, err := p.Check(ctx, "UClive")
	if err != nil || !st.Live || st.VideoID != "AbCdEfGhIjK" {
		t.Fatalf("Check(live) = %+v, %v", st, err)
	}
	st, err = p.Check(ctx, "UCoffline")
	if err != nil || st.Live {
		t.Fatalf("Check(offline) = %+v, %v", st, err)
	}
	if _, err := p.Check(ctx, "UCbroken"); err == nil {
		t.Fatal("Check on 500 should return an error")
	}
}
