package youtubeapi

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"regexp"
)

const defaultPageBase = "https://www.youtube.com"

// maxPageBytes caps how much of the live page is read.
const maxPageBytes = 4 << 20

var (
	canonicalRe = regexp.MustCompile(`<link rel="canonical" href="https://www\.youtube\.com/watch\?v=([A-Za-z0-9_-]{11})"`)
	videoIDRe   = regexp.MustCompile(`"videoId":"([A-Za-z0-9_-]{11})"`)
	ogTitleRe   = regexp.MustCompile(`<meta property="og:title" content="([^"]*)"`)
	metaTitleRe = regexp.MustCompile(`<meta name="title" content="([^"]*)"`)
)

// LivePage checks a channel's public /live page. No credentials or quota involved.
type LivePage struct {
	HTTPClient *http.Client
	// BaseURL overrides https://www.youtube.com (tests).
	BaseURL string
}

// LiveStatus is the parsed state of a /live page.
type LiveStatus struct {
	Live    bool
	VideoID string
	URL     string
	Title   string
}

// Check fetches /channel/<id>/live. Transport and HTTP failures are errors; a page
// without a live marker is a successful not-live result.
func (p *LivePage) Check(ctx context.Context, channelID string) (LiveStatus, error) {
	base := p.BaseURL
	if base == "" {
		base = defaultPageBase
	}
	pageURL := base + "/channel/" + channelID + "/live"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return LiveStatus{}, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36")
	req.Header.Set("Accept-Language", "en-US,en;q=0.8")
	// Skips the EU consent interstitial.
	req.AddCookie(&http.Cookie{Name: "CONSENT", Value: "YES+1"})

	hc := p.HTTPClient
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return LiveStatus{}, fmt.Errorf("youtube live page: %w", err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return LiveStatus{}, fmt.Errorf("youtube live page: %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return LiveStatus{}, fmt.Errorf("youtube live page read: %w", err)
	}
	st := ParseLivePage(body)
	if st.Live && st.URL == "" {
		st.URL = pageURL
	}
	return st, nil
}

// ParseLivePage applies the live-marker heuristics to a page body.
func ParseLivePage(body []byte) LiveStatus {
	var st LiveStatus
	live := bytes.Contains(body, []byte(`"isLiveNow":true`)) ||
		(bytes.Contains(body, []byte(`"isLive":true`)) && bytes.Contains(body, []byte(`hlsManifestUrl`)))
	if !live || bytes.Contains(body, []byte(`"isUpcoming":true`)) {
		return st
	}
	st.Live = true
	if m := canonicalRe.FindSubmatch(body); m != nil {
		st.VideoID = string(m[1])
	} else if m := videoIDRe.FindSubmatch(body); m != nil {
		st.VideoID = string(m[1])
	}
	if st.VideoID != "" {
		st.URL = WatchURL(st.VideoID)
	}
	if m := ogTitleRe.FindSubmatch(body); m != nil {
		st.Title = html.UnescapeString(string(m[1]))
	} else if m := metaTitleRe.FindSubmatch(body); m != nil {
		st.Title = html.UnescapeString(string(m[1]))
	}
	return st
}
