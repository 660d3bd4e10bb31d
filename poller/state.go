package poller

import (
	"context"
	"fmt"
	"time"

	"github.com/onnwee/live-notifier/kv"
)

// EntityState is the per (tenant, entry) memory carried across cycles.
type EntityState struct {
	LastLive                bool       `json:"lastLive"`
	LastStreamID            string     `json:"lastStreamId,omitempty"`
	LastVideoID             string     `json:"lastVideoId,omitempty"`
	LastPremiereID          string     `json:"lastPremiereId,omitempty"`
	LastContentCheckAt      *time.Time `json:"lastContentCheckAt,omitempty"`
	PendingScheduledStartAt *time.Time `json:"pendingScheduledStartAt,omitempty"`
	NextLiveCheckAt         *time.Time `json:"nextLiveCheckAt,omitempty"`
}

// State maps entry id to its EntityState for one tenant.
type State map[string]*EntityState

func stateKey(tenantID string) string { return "state:" + tenantID }

// LoadState reads a tenant's state; a missing record is an empty State.
func LoadState(ctx context.Context, store kv.Store, tenantID string) (State, error) {
	st := State{}
	if _, err := kv.GetJSON(ctx, store, stateKey(tenantID), &st); err != nil {
		return nil, fmt.Errorf("load state %s: %w", tenantID, err)
	}
	if st == nil {
		st = State{}
	}
	return st, nil
}

func saveState(ctx context.Context, store kv.Store, tenantID string, st State) error {
	if err := kv.SetJSON(ctx, store, stateKey(tenantID), st); err != nil {
		return fmt.Errorf("save state %s: %w", tenantID, err)
	}
	return nil
}

func (s *EntityState) clone() EntityState {
	c := *s
	c.LastContentCheckAt = cloneTime(s.LastContentCheckAt)
	c.PendingScheduledStartAt = cloneTime(s.PendingScheduledStartAt)
	c.NextLiveCheckAt = cloneTime(s.NextLiveCheckAt)
	return c
}

func (s *EntityState) equal(o EntityState) bool {
	return s.LastLive == o.LastLive &&
		s.LastStreamID == o.LastStreamID &&
		s.LastVideoID == o.LastVideoID &&
		s.LastPremiereID == o.LastPremiereID &&
		timeEqual(s.LastContentCheckAt, o.LastContentCheckAt) &&
		timeEqual(s.PendingScheduledStartAt, o.PendingScheduledStartAt) &&
		timeEqual(s.NextLiveCheckAt, o.NextLiveCheckAt)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func timeEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func timePtr(t time.Time) *time.Time { return &t }
