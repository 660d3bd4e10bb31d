// Package youtubeapi talks to YouTube two ways: the public channel live page (no
// credentials, heuristic parse) and the Data API v3 for channel lookup and the latest
// upload. Data API quota exhaustion is tracked by QuotaGuard.
package youtubeapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/googleapi/transport"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"
)

var (
	// ErrNoCredentials means neither an API key nor an OAuth refresh token is configured.
	ErrNoCredentials = errors.New("youtube data api credentials not configured")
	// ErrQuotaExceeded wraps Data API errors caused by daily quota exhaustion.
	ErrQuotaExceeded = errors.New("youtube data api quota exceeded")
	// ErrChannelNotFound is returned when a lookup matches no channel.
	ErrChannelNotFound = errors.New("youtube channel not found")
)

// readonlyScope is the only OAuth scope the notifier needs.
const readonlyScope = "https://www.googleapis.com/auth/youtube.readonly"

// Credentials for the Data API. APIKey wins when both forms are present.
type Credentials struct {
	APIKey       string
	ClientID     string
	ClientSecret string
	RefreshToken string
}

// Configured reports whether any usable credential is present.
func (c Credentials) Configured() bool {
	return c.APIKey != "" || (c.ClientID != "" && c.ClientSecret != "" && c.RefreshToken != "")
}

// ContentKind classifies a channel's most recent upload.
type ContentKind string

const (
	KindNone     ContentKind = "none"
	KindVideo    ContentKind = "video"
	KindPremiere ContentKind = "premiere"
)

// Content is the classified latest upload of a channel.
type Content struct {
	Kind             ContentKind
	VideoID          string
	Title            string
	ScheduledStartAt time.Time // set for premieres when the API reports it
}

// URL is the watch link for the content, empty for KindNone.
func (c Content) URL() string {
	if c.VideoID == "" {
		return ""
	}
	return WatchURL(c.VideoID)
}

// WatchURL builds the canonical watch link for a video id.
func WatchURL(videoID string) string { return "https://www.youtube.com/watch?v=" + videoID }

// Channel is a resolved channel identity.
type Channel struct {
	ID    string
	Title string
}

// DataClient wraps the generated youtube/v3 service.
type DataClient struct {
	svc *yt.Service
}

// NewDataClient builds a client authenticated with creds on top of base (which carries
// rate limiting, tracing and timeout). It returns ErrNoCredentials when creds are empty.
func NewDataClient(ctx context.Context, creds Credentials, base *http.Client) (*DataClient, error) {
	if !creds.Configured() {
		return nil, ErrNoCredentials
	}
	if base == nil {
		base = http.DefaultClient
	}
	rt := base.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	var hc *http.Client
	if creds.APIKey != "" {
		hc = &http.Client{Transport: &transport.APIKey{Key: creds.APIKey, Transport: rt}, Timeout: base.Timeout}
	} else {
		oc := &oauth2.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			Endpoint:     google.Endpoint,
			Scopes:       []string{readonlyScope},
		}
		// Token refreshes go through the same limited, traced client.
		tokenCtx := context.WithValue(ctx, oauth2.HTTPClient, base)
		ts := oc.TokenSource(tokenCtx, &oauth2.Token{RefreshToken: creds.RefreshToken})
		hc = &http.Client{Transport: &oauth2.Transport{Source: ts, Base: rt}, Timeout: base.Timeout}
	}
	return NewDataClientWithOptions(ctx, option.WithHTTPClient(hc))
}

// NewDataClientWithOptions builds a client from raw client options (tests point it at httptest).
func NewDataClientWithOptions(ctx context.Context, opts ...option.ClientOption) (*DataClient, error) {
	svc, err := yt.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("youtube service: %w", err)
	}
	return &DataClient{svc: svc}, nil
}

// ChannelByID looks up a channel by its UC… id.
func (d *DataClient) ChannelByID(ctx context.Context, id string) (Channel, error) {
	res, err := d.svc.Channels.List([]string{"snippet"}).Id(id).Context(ctx).Do()
	if err != nil {
		return Channel{}, wrapAPIError("channels.list", err)
	}
	return firstChannel(res)
}

// ChannelByHandle looks up a channel by @handle (the @ is optional).
func (d *DataClient) ChannelByHandle(ctx context.Context, handle string) (Channel, error) {
	handle = strings.TrimPrefix(strings.TrimSpace(handle), "@")
	if handle == "" {
		return Channel{}, ErrChannelNotFound
	}
	res, err := d.svc.Channels.List([]string{"snippet"}).ForHandle(handle).Context(ctx).Do()
	if err != nil {
		return Channel{}, wrapAPIError("channels.list", err)
	}
	return firstChannel(res)
}

// ChannelByUsername looks up a legacy /user/<name> channel.
func (d *DataClient) ChannelByUsername(ctx context.Context, name string) (Channel, error) {
	res, err := d.svc.Channels.List([]string{"snippet"}).ForUsername(name).Context(ctx).Do()
	if err != nil {
		return Channel{}, wrapAPIError("channels.list", err)
	}
	return firstChannel(res)
}

// SearchChannel returns the top channel search hit for query. Costs 100 quota units.
func (d *DataClient) SearchChannel(ctx context.Context, query string) (Channel, error) {
	res, err := d.svc.Search.List([]string{"snippet"}).Q(query).Type("channel").MaxResults(1).Context(ctx).Do()
	if err != nil {
		return Channel{}, wrapAPIError("search.list", err)
	}
	for _, item := range res.Items {
		if item.Snippet == nil {
			continue
		}
		id := item.Snippet.ChannelId
		if id == "" && item.Id != nil {
			id = item.Id.ChannelId
		}
		if id != "" {
			return Channel{ID: id, Title: item.Snippet.ChannelTitle}, nil
		}
	}
	return Channel{}, ErrChannelNotFound
}

// LatestContent classifies the newest item of the channel's uploads playlist:
// channels.list → playlistItems.list → videos.list.
func (d *DataClient) LatestContent(ctx context.Context, channelID string) (Content, error) {
	chRes, err := d.svc.Channels.List([]string{"contentDetails"}).Id(channelID).Context(ctx).Do()
	if err != nil {
		return Content{}, wrapAPIError("channels.list", err)
	}
	if len(chRes.Items) == 0 || chRes.Items[0].ContentDetails == nil || chRes.Items[0].ContentDetails.RelatedPlaylists == nil {
		return Content{}, ErrChannelNotFound
	}
	uploads := chRes.Items[0].ContentDetails.RelatedPlaylists.Uploads
	if uploads == "" {
		return Content{Kind: KindNone}, nil
	}

	plRes, err := d.svc.PlaylistItems.List([]string{"contentDetails"}).PlaylistId(uploads).MaxResults(1).Context(ctx).Do()
	if err != nil {
		return Content{}, wrapAPIError("playlistItems.list", err)
	}
	if len(plRes.Items) == 0 || plRes.Items[0].ContentDetails == nil || plRes.Items[0].ContentDetails.VideoId == "" {
		return Content{Kind: KindNone}, nil
	}
	videoID := plRes.Items[0].ContentDetails.VideoId

	vRes, err := d.svc.Videos.List([]string{"snippet", "liveStreamingDetails"}).Id(videoID).Context(ctx).Do()
	if err != nil {
		return Content{}, wrapAPIError("videos.list", err)
	}
	if len(vRes.Items) == 0 || vRes.Items[0].Snippet == nil {
		return Content{Kind: KindNone}, nil
	}
	return classifyVideo(vRes.Items[0]), nil
}

func classifyVideo(v *yt.Video) Content {
	c := Content{VideoID: v.Id, Title: v.Snippet.Title}
	switch v.Snippet.LiveBroadcastContent {
	case "upcoming":
		c.Kind = KindPremiere
		if v.LiveStreamingDetails != nil && v.LiveStreamingDetails.ScheduledStartTime != "" {
			if t, err := time.Parse(time.RFC3339, v.LiveStreamingDetails.ScheduledStartTime); err == nil {
				c.ScheduledStartAt = t
			}
		}
	case "live":
		// The live probe reports this one.
		return Content{Kind: KindNone}
	default:
		c.Kind = KindVideo
	}
	return c
}

func firstChannel(res *yt.ChannelListResponse) (Channel, error) {
	if res == nil || len(res.Items) == 0 {
		return Channel{}, ErrChannelNotFound
	}
	ch := res.Items[0]
	title := ""
	if ch.Snippet != nil {
		title = ch.Snippet.Title
	}
	return Channel{ID: ch.Id, Title: title}, nil
}

func wrapAPIError(call string, err error) error {
	if IsQuotaError(err) {
		return fmt.Errorf("%s: %w: %v", call, ErrQuotaExceeded, err)
	}
	return fmt.Errorf("%s: %w", call, err)
}

// IsQuotaError reports whether err is a Data API daily-quota failure.
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrQuotaExceeded) {
		return true
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		for _, item := range gerr.Errors {
			if item.Reason == "quotaExceeded" || item.Reason == "dailyLimitExceeded" {
				return true
			}
		}
		if strings.Contains(gerr.Body, "quotaExceeded") {
			return true
		}
	}
	return strings.Contains(err.Error(), "quotaExceeded")
}
