// Package probe holds the stateless per-platform live and content checks. Every check
// returns a tagged outcome instead of an error: a failed probe never aborts a poll cycle,
// but the cause stays visible to logs, metrics and tests.
package probe

import (
	"context"
	"time"
)

// LiveStatus tags a live check result.
type LiveStatus int

const (
	NotLive LiveStatus = iota
	Live
	// LiveError means the probe failed; callers must not infer a transition from it.
	LiveError
	// LiveSkipped means the platform is unavailable (no credentials).
	LiveSkipped
)

func (s LiveStatus) String() string {
	switch s {
	case Live:
		return "live"
	case NotLive:
		return "not_live"
	case LiveError:
		return "error"
	case LiveSkipped:
		return "skipped"
	}
	return "unknown"
}

// LiveOutcome is the result of one live check.
type LiveOutcome struct {
	Status   LiveStatus
	URL      string
	Title    string
	StreamID string
	Err      error
}

// ContentStatus tags a content check result.
type ContentStatus int

const (
	ContentFound ContentStatus = iota
	ContentSkipped
	ContentError
)

func (s ContentStatus) String() string {
	switch s {
	case ContentFound:
		return "found"
	case ContentSkipped:
		return "skipped"
	case ContentError:
		return "error"
	}
	return "unknown"
}

// ContentKind classifies the newest upload.
type ContentKind string

const (
	KindNone     ContentKind = "none"
	KindVideo    ContentKind = "video"
	KindPremiere ContentKind = "premiere"
)

// Skip reasons.
const (
	SkipQuota       = "quota"
	SkipCredentials = "credentials"
)

// ContentOutcome is the result of one latest-content check. Kind is meaningful only when
// Status is ContentFound.
type ContentOutcome struct {
	Status           ContentStatus
	Kind             ContentKind
	VideoID          string
	URL              string
	Title            string
	ScheduledStartAt time.Time
	SkipReason       string
	Err              error
}

// LiveProber checks whether a channel is live right now.
type LiveProber interface {
	CheckLive(ctx context.Context, externalID string) LiveOutcome
}

// ContentProber fetches and classifies a channel's newest upload.
type ContentProber interface {
	CheckLatestContent(ctx context.Context, externalID string) ContentOutcome
}
