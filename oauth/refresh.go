// Package oauth keeps a refreshable user token (the Twitch chat bot's) alive. The token
// lives in the key/value store, sealed when an Encryptor is configured, and a jittered
// loop refreshes it when expiry falls within a configured window.
package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/live-notifier/crypto"
	"github.com/onnwee/live-notifier/kv"
)

// Token is a user access token with its refresh token.
type Token struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	Scope        string    `json:"scope,omitempty"`
}

// Store persists one Token under Key.
type Store struct {
	KV kv.Store
	// Enc seals the stored JSON; nil stores it in the clear.
	Enc crypto.Encryptor
	Key string
}

// Load returns the stored token; ok is false when none was saved.
func (s *Store) Load(ctx context.Context) (tok Token, ok bool, err error) {
	raw, ok, err := s.KV.Get(ctx, s.Key)
	if err != nil || !ok {
		return Token{}, false, err
	}
	if s.Enc != nil {
		if raw, err = crypto.DecryptString(s.Enc, raw); err != nil {
			return Token{}, false, fmt.Errorf("open %s: %w", s.Key, err)
		}
	}
	if err := json.Unmarshal([]byte(raw), &tok); err != nil {
		return Token{}, false, fmt.Errorf("decode %s: %w", s.Key, err)
	}
	return tok, true, nil
}

func (s *Store) Save(ctx context.Context, tok Token) error {
	b, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	raw := string(b)
	if s.Enc != nil {
		if raw, err = crypto.EncryptString(s.Enc, raw); err != nil {
			return fmt.Errorf("seal %s: %w", s.Key, err)
		}
	}
	return s.KV.Set(ctx, s.Key, raw)
}

// RefreshFunc performs the provider-specific refresh grant.
type RefreshFunc func(ctx context.Context, refreshToken string) (Token, error)

// Refresher checks the stored token periodically and refreshes it.
type Refresher struct {
	Store    *Store
	Provider string
	// Interval is how often to wake up and check.
	Interval time.Duration
	// Window: refresh when remaining lifetime <= Window.
	Window  time.Duration
	Refresh RefreshFunc
	// OnRefresh runs after a refreshed token is persisted.
	OnRefresh func(Token)
	Now       func() time.Time

	// mu serializes refreshes; a rotated refresh token is single-use.
	mu sync.Mutex
}

func (r *Refresher) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Refresher) window() time.Duration {
	if r.Window <= 0 {
		return 15 * time.Minute
	}
	return r.Window
}

// Seed stores tok unless a token is already persisted, so a rotated refresh token
// from an earlier run wins over the one in the environment.
func (r *Refresher) Seed(ctx context.Context, tok Token) (seeded bool, err error) {
	if tok.RefreshToken == "" {
		return false, errors.New("seed token has no refresh token")
	}
	_, ok, err := r.Store.Load(ctx)
	if err != nil || ok {
		return false, err
	}
	return true, r.Store.Save(ctx, tok)
}

// AccessToken returns the current stored access token, refreshing first when it is
// inside the window.
func (r *Refresher) AccessToken(ctx context.Context) (string, error) {
	if _, err := r.Check(ctx); err != nil {
		return "", err
	}
	tok, ok, err := r.Store.Load(ctx)
	if err != nil {
		return "", err
	}
	if !ok || tok.AccessToken == "" {
		return "", errors.New("no stored token")
	}
	return tok.AccessToken, nil
}

// Check refreshes the stored token if it expires within the window and reports
// whether it did. OnRefresh runs after the lock is released so it may call back into
// AccessToken.
func (r *Refresher) Check(ctx context.Context) (bool, error) {
	next, err := r.refreshIfDue(ctx)
	if err != nil || next == nil {
		return false, err
	}
	if r.OnRefresh != nil {
		r.OnRefresh(*next)
	}
	return true, nil
}

func (r *Refresher) refreshIfDue(ctx context.Context) (*Token, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tok, ok, err := r.Store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if !ok || tok.RefreshToken == "" {
		return nil, nil
	}
	if tok.AccessToken != "" && tok.ExpiresAt.Sub(r.now()) > r.window() {
		return nil, nil
	}
	ctx2, cancel := context.WithTimeout(ctx, 15*time.Second)
	next, err := r.Refresh(ctx2, tok.RefreshToken)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("refresh %s token: %w", r.Provider, err)
	}
	if next.RefreshToken == "" {
		next.RefreshToken = tok.RefreshToken
	}
	if next.Scope == "" {
		next.Scope = tok.Scope
	}
	next.Scope = strings.TrimSpace(next.Scope)
	if err := r.Store.Save(ctx, next); err != nil {
		return nil, fmt.Errorf("persist %s token: %w", r.Provider, err)
	}
	slog.Info("token refreshed", slog.String("provider", r.Provider), slog.Time("expires_at", next.ExpiresAt))
	return &next, nil
}

// Start launches the jittered check loop until ctx is cancelled.
func (r *Refresher) Start(ctx context.Context) {
	interval := r.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	// Randomize initial delay to spread load across instances.
	//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
	initialJitter := time.Duration(rand.Int63n(int64(interval / 2)))
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(initialJitter):
		}
		for {
			if _, err := r.Check(ctx); err != nil {
				slog.Warn("token refresh failed", slog.String("provider", r.Provider), slog.Any("err", err))
			}
			// ±20% of interval.
			jitterRange := int64(interval / 5)
			//nolint:gosec // G404: math/rand is sufficient for scheduling jitter, not used for security
			jitter := time.Duration(rand.Int63n(jitterRange*2) - jitterRange)
			nextSleep := interval + jitter
			if nextSleep < interval/2 {
				nextSleep = interval / 2
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(nextSleep):
			}
		}
	}()
}
