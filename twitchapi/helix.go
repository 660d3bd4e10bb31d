// Package twitchapi contains minimal helpers for the Twitch Helix API: user lookup
// by id or login and current stream status, authenticated with an app access token.
package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const helixBaseURL = "https://api.twitch.tv/helix"

// helixMaxRetries bounds attempts per request (5xx, transport errors and the single 401 re-auth all count).
const helixMaxRetries = 3

// helixRetryBackoff is multiplied by the attempt number between retries.
var helixRetryBackoff = 250 * time.Millisecond

// ErrUserNotFound is returned by user lookups with an empty result.
var ErrUserNotFound = errors.New("user not found")

// StatusError is a non-retryable Helix HTTP failure.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("helix request failed: %d: %s", e.StatusCode, e.Body)
}

// HelixClient provides the Helix calls the notifier needs.
type HelixClient struct {
	AppTokenSource *TokenSource
	ClientID       string
	HTTPClient     *http.Client
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

// Available reports whether Helix calls can be authenticated.
func (hc *HelixClient) Available() bool {
	return hc != nil && hc.AppTokenSource.Configured()
}

// User is a Helix user record.
type User struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
}

// Stream is a Helix stream record; only live streams are returned by the API.
type Stream struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	UserLogin string    `json:"user_login"`
	UserName  string    `json:"user_name"`
	GameName  string    `json:"game_name"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	StartedAt time.Time `json:"started_at"`
}

// GetUserByLogin resolves a login name.
func (hc *HelixClient) GetUserByLogin(ctx context.Context, login string) (User, error) {
	if login == "" {
		return User{}, fmt.Errorf("login empty")
	}
	return hc.getUser(ctx, "login", strings.ToLower(login))
}

// GetUserByID resolves a numeric user id.
func (hc *HelixClient) GetUserByID(ctx context.Context, id string) (User, error) {
	if id == "" {
		return User{}, fmt.Errorf("id empty")
	}
	return hc.getUser(ctx, "id", id)
}

func (hc *HelixClient) getUser(ctx context.Context, param, value string) (User, error) {
	var body struct {
		Data []User `json:"data"`
	}
	if err := hc.get(ctx, "/users", url.Values{param: {value}}, &body); err != nil {
		return User{}, err
	}
	if len(body.Data) == 0 {
		return User{}, ErrUserNotFound
	}
	return body.Data[0], nil
}

// GetStreams returns the live streams for user, queried by user_id when numeric and
// user_login otherwise. An empty slice means offline.
func (hc *HelixClient) GetStreams(ctx context.Context, user string) ([]Stream, error) {
	if user == "" {
		return nil, fmt.Errorf("user empty")
	}
	q := url.Values{}
	if isNumeric(user) {
		q.Set("user_id", user)
	} else {
		q.Set("user_login", strings.ToLower(user))
	}
	var body struct {
		Data []Stream `json:"data"`
	}
	if err := hc.get(ctx, "/streams", q, &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// get performs an authenticated GET, retrying 5xx and transport errors and
// re-fetching the app token once after a 401.
func (hc *HelixClient) get(ctx context.Context, path string, q url.Values, out any) error {
	reauthed := false
	var lastErr error
	for attempt := 0; attempt < helixMaxRetries; attempt++ {
		if attempt > 0 && lastErr != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * helixRetryBackoff):
			}
		}
		tok, err := hc.AppTokenSource.Get(ctx)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, helixBaseURL+path+"?"+q.Encode(), nil)
		if err != nil {
			return err
		}
		req.Header.Set("Client-Id", hc.ClientID)
		req.Header.Set("Authorization", "Bearer "+tok)
		resp, err := hc.http().Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			continue
		}
		status := resp.StatusCode
		if status == http.StatusOK {
			err := json.NewDecoder(resp.Body).Decode(out)
			closeBody(resp)
			return err
		}
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		closeBody(resp)
		switch {
		case status == http.StatusUnauthorized && !reauthed:
			slog.Debug("helix 401, refreshing app token", slog.String("path", path))
			hc.AppTokenSource.Invalidate()
			reauthed = true
			lastErr = nil
		case status >= 500:
			lastErr = &StatusError{StatusCode: status, Body: string(b)}
		default:
			return &StatusError{StatusCode: status, Body: string(b)}
		}
	}
	if lastErr == nil {
		lastErr = &StatusError{StatusCode: http.StatusUnauthorized, Body: "unauthorized after token refresh"}
	}
	return fmt.Errorf("helix %s: giving up after %d attempts: %w", path, helixMaxRetries, lastErr)
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		slog.Warn("failed to close response body", slog.Any("err", err))
	}
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
