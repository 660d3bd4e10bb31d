// Package catalog stores the global channel catalog and each tenant's ordered
// subscription list on top of a kv.Store.
//
// Layout:
//
//	catalog:<platform>:<normalized id> -> {"externalId","displayName"}
//	subs:<tenant>                       -> ["<entry id>", ...]
//	streamers:<tenant>                  -> legacy [{"platform","id","name"}], migrated on first access
//
// Catalog entries are shared by every tenant and never deleted; unsubscribing only
// edits the tenant's list.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/onnwee/live-notifier/kv"
)

// Platform identifies a video platform.
type Platform string

const (
	YouTube Platform = "youtube"
	Twitch  Platform = "twitch"
)

// DisplayName is the user-facing platform name.
func (p Platform) DisplayName() string {
	switch p {
	case YouTube:
		return "YouTube"
	case Twitch:
		return "Twitch"
	}
	return string(p)
}

// ParsePlatform accepts the canonical names, case-insensitively.
func ParsePlatform(s string) (Platform, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "youtube", "yt":
		return YouTube, true
	case "twitch", "tw":
		return Twitch, true
	}
	return "", false
}

// ErrInvalidEntry is returned for an empty external id or unknown platform.
var ErrInvalidEntry = errors.New("catalog: invalid entry")

// Entry is one tracked channel.
type Entry struct {
	ID          string   `json:"id"`
	Platform    Platform `json:"platform"`
	ExternalID  string   `json:"externalId"`
	DisplayName string   `json:"displayName"`
	// Missing marks a subscribed id with no catalog record; such entries are listed
	// but never probed.
	Missing bool `json:"missing,omitempty"`
}

// Normalize is the case-insensitive form of an external id used in entry ids.
func Normalize(externalID string) string { return strings.ToLower(strings.TrimSpace(externalID)) }

// EntryID derives the catalog id. It is a pure function of its inputs.
func EntryID(p Platform, externalID string) string {
	return string(p) + ":" + Normalize(externalID)
}

// record is the persisted catalog value; the platform lives in the key.
type record struct {
	ExternalID  string `json:"externalId"`
	DisplayName string `json:"displayName"`
}

type legacyStreamer struct {
	Platform string `json:"platform"`
	ID       string `json:"id"`
	Name     string `json:"name"`
}

func catalogKey(id string) string     { return "catalog:" + id }
func subsKey(tenantID string) string   { return "subs:" + tenantID }
func legacyKey(tenantID string) string { return "streamers:" + tenantID }

// SubsKeyPrefix and LegacyKeyPrefix let tooling enumerate tenants.
const (
	SubsKeyPrefix   = "subs:"
	LegacyKeyPrefix = "streamers:"
)

// Store is the catalog and subscription store. Its mutex serializes the
// read-modify-write sequences of this process; cross-process races are accepted.
type Store struct {
	kv kv.Store
	mu sync.Mutex
}

func New(store kv.Store) *Store { return &Store{kv: store} }

// Get loads an entry by id.
func (s *Store) Get(ctx context.Context, id string) (Entry, bool, error) {
	platform, _, ok := strings.Cut(id, ":")
	if !ok {
		return Entry{}, false, nil
	}
	var rec record
	found, err := kv.GetJSON(ctx, s.kv, catalogKey(id), &rec)
	if err != nil || !found {
		return Entry{}, false, err
	}
	return Entry{ID: id, Platform: Platform(platform), ExternalID: rec.ExternalID, DisplayName: rec.DisplayName}, true, nil
}

// Upsert creates the entry on first sight and otherwise refreshes displayName when a
// different non-empty one is given. created reports whether the entry is new.
func (s *Store) Upsert(ctx context.Context, platform Platform, externalID, displayName string) (Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertLocked(ctx, platform, externalID, displayName)
}

func (s *Store) upsertLocked(ctx context.Context, platform Platform, externalID, displayName string) (Entry, bool, error) {
	externalID = strings.TrimSpace(externalID)
	displayName = strings.TrimSpace(displayName)
	if externalID == "" || (platform != YouTube && platform != Twitch) {
		return Entry{}, false, fmt.Errorf("%w: platform=%q externalId=%q", ErrInvalidEntry, platform, externalID)
	}
	id := EntryID(platform, externalID)
	existing, found, err := s.Get(ctx, id)
	if err != nil {
		return Entry{}, false, err
	}
	if found {
		if displayName == "" || displayName == existing.DisplayName {
			return existing, false, nil
		}
		existing.DisplayName = displayName
		if err := kv.SetJSON(ctx, s.kv, catalogKey(id), record{ExternalID: existing.ExternalID, DisplayName: displayName}); err != nil {
			return Entry{}, false, err
		}
		return existing, false, nil
	}
	if displayName == "" {
		displayName = externalID
	}
	e := Entry{ID: id, Platform: platform, ExternalID: externalID, DisplayName: displayName}
	if err := kv.SetJSON(ctx, s.kv, catalogKey(id), record{ExternalID: externalID, DisplayName: displayName}); err != nil {
		return Entry{}, false, err
	}
	return e, true, nil
}

// Subscribe appends entryID to the tenant's list. It returns false if already present.
func (s *Store) Subscribe(ctx context.Context, tenantID, entryID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids, err := s.subscriptionsLocked(ctx, tenantID)
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		if id == entryID {
			return false, nil
		}
	}
	ids = append(ids, entryID)
	if err := kv.SetJSON(ctx, s.kv, subsKey(tenantID), ids); err != nil {
		return false, err
	}
	return true, nil
}

// UnsubscribeByIndex removes the index-th (1-based) subscription and returns its entry.
// An out-of-range index returns nil and changes nothing.
func (s *Store) UnsubscribeByIndex(ctx context.Context, tenantID string, index int) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids, err := s.subscriptionsLocked(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if index < 1 || index > len(ids) {
		return nil, nil
	}
	id := ids[index-1]
	remaining := make([]string, 0, len(ids)-1)
	remaining = append(remaining, ids[:index-1]...)
	remaining = append(remaining, ids[index:]...)
	if err := kv.SetJSON(ctx, s.kv, subsKey(tenantID), remaining); err != nil {
		return nil, err
	}
	e, found, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found {
		e = placeholder(id)
	}
	return &e, nil
}

// placeholder stands in for a subscribed id whose catalog record is gone.
func placeholder(id string) Entry {
	platform, ext, _ := strings.Cut(id, ":")
	return Entry{ID: id, Platform: Platform(platform), ExternalID: ext, DisplayName: ext, Missing: true}
}

// Subscriptions returns the tenant's entry ids in order.
func (s *Store) Subscriptions(ctx context.Context, tenantID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscriptionsLocked(ctx, tenantID)
}

// ListForTenant resolves the tenant's subscriptions to entries, in subscription order.
// Ids without a catalog record appear as Missing placeholders so positions match
// UnsubscribeByIndex.
func (s *Store) ListForTenant(ctx context.Context, tenantID string) ([]Entry, error) {
	ids, err := s.Subscriptions(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		e, found, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if !found {
			slog.Warn("subscription without catalog entry", slog.String("tenant", tenantID), slog.String("entry", id), slog.String("component", "catalog"))
			e = placeholder(id)
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *Store) subscriptionsLocked(ctx context.Context, tenantID string) ([]string, error) {
	var ids []string
	found, err := kv.GetJSON(ctx, s.kv, subsKey(tenantID), &ids)
	if err != nil {
		return nil, err
	}
	if found {
		return ids, nil
	}
	ids, _, err = s.migrateLegacyLocked(ctx, tenantID)
	return ids, err
}

// MigrateLegacy converts a legacy streamers:<tenant> record if one exists and the tenant
// has no subscription list yet. It returns the number of entries migrated.
func (s *Store) MigrateLegacy(ctx context.Context, tenantID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, found, err := s.kv.Get(ctx, subsKey(tenantID)); err != nil || found {
		return 0, err
	}
	_, n, err := s.migrateLegacyLocked(ctx, tenantID)
	return n, err
}

func (s *Store) migrateLegacyLocked(ctx context.Context, tenantID string) ([]string, int, error) {
	var legacy []legacyStreamer
	found, err := kv.GetJSON(ctx, s.kv, legacyKey(tenantID), &legacy)
	if err != nil || !found {
		return []string{}, 0, err
	}
	ids := make([]string, 0, len(legacy))
	seen := make(map[string]bool, len(legacy))
	for _, l := range legacy {
		platform, ok := ParsePlatform(l.Platform)
		if !ok || strings.TrimSpace(l.ID) == "" {
			slog.Warn("skipping malformed legacy subscription",
				slog.String("tenant", tenantID), slog.String("platform", l.Platform), slog.String("id", l.ID),
				slog.String("component", "catalog"))
			continue
		}
		e, _, err := s.upsertLocked(ctx, platform, l.ID, l.Name)
		if err != nil {
			return nil, 0, fmt.Errorf("migrate legacy %s: %w", tenantID, err)
		}
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		ids = append(ids, e.ID)
	}
	if err := kv.SetJSON(ctx, s.kv, subsKey(tenantID), ids); err != nil {
		return nil, 0, err
	}
	if err := s.kv.Delete(ctx, legacyKey(tenantID)); err != nil {
		return nil, 0, err
	}
	slog.Info("migrated legacy subscriptions", slog.String("tenant", tenantID), slog.Int("count", len(ids)), slog.String("component", "catalog"))
	return ids, len(ids), nil
}

// FormatList renders the numbered listing shown to admins.
func FormatList(entries []Entry) string {
	var b strings.Builder
	for i, e := range entries {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%d. **%s** (%s) - `%s`", i+1, e.DisplayName, e.Platform, e.ExternalID)
	}
	return b.String()
}
