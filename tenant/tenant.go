// Package tenant holds the read-only per-tenant notification overrides, loaded from a
// YAML file and reloaded when it changes.
//
// File format:
//
//	tenants:
//	  - id: guild-1
//	    channel: webhook:https://discord.com/api/webhooks/...
//	    mention_role: "123456789"
//	    template: "{name} is live on {platform}: {url}"
//	    locale: es
package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Overrides configures notifications for one tenant.
type Overrides struct {
	TenantID        string `yaml:"id" json:"id"`
	ChannelID       string `yaml:"channel" json:"channel"`
	MentionRoleID   string `yaml:"mention_role" json:"mentionRole,omitempty"`
	MessageTemplate string `yaml:"template" json:"template,omitempty"`
	Locale          string `yaml:"locale" json:"locale,omitempty"`
}

type file struct {
	Tenants []Overrides `yaml:"tenants"`
}

// reloadDebounce absorbs the burst of events editors emit for a single save.
const reloadDebounce = 250 * time.Millisecond

// Registry is safe for concurrent use.
type Registry struct {
	path string

	mu      sync.RWMutex
	tenants map[string]Overrides
}

// Load reads path. A missing file yields an empty registry that still watches for the
// file to appear.
func Load(path string) (*Registry, error) {
	r := &Registry{path: path, tenants: map[string]Overrides{}}
	if path == "" {
		return r, nil
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// NewStatic builds a registry from literal overrides, for tests and single-tenant setups.
func NewStatic(overrides ...Overrides) *Registry {
	r := &Registry{tenants: make(map[string]Overrides, len(overrides))}
	for _, o := range overrides {
		r.tenants[o.TenantID] = o
	}
	return r
}

// Reload re-reads the file. On a parse error the previous contents are kept.
func (r *Registry) Reload() error {
	tenants, err := parseFile(r.path)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.tenants = tenants
	r.mu.Unlock()
	return nil
}

func parseFile(path string) (map[string]Overrides, error) {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		slog.Warn("tenants file not found; no tenants configured", slog.String("path", path), slog.String("component", "tenant"))
		return map[string]Overrides{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read tenants file: %w", err)
	}
	var f file
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse tenants file %s: %w", path, err)
	}
	out := make(map[string]Overrides, len(f.Tenants))
	for i, t := range f.Tenants {
		t.TenantID = strings.TrimSpace(t.TenantID)
		if t.TenantID == "" {
			return nil, fmt.Errorf("parse tenants file %s: entry %d has no id", path, i)
		}
		if _, dup := out[t.TenantID]; dup {
			return nil, fmt.Errorf("parse tenants file %s: duplicate tenant %q", path, t.TenantID)
		}
		t.ChannelID = strings.TrimSpace(t.ChannelID)
		t.Locale = strings.ToLower(strings.TrimSpace(t.Locale))
		out[t.TenantID] = t
	}
	return out, nil
}

// Get returns the overrides for id. Unknown tenants get zero overrides and false.
func (r *Registry) Get(id string) (Overrides, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.tenants[id]
	if !ok {
		return Overrides{TenantID: id}, false
	}
	return o, true
}

// IDs returns the configured tenant ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.tenants))
	for id := range r.tenants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Watch reloads the file on change and calls onChange with the new tenant ids. It
// blocks until ctx is done.
func (r *Registry) Watch(ctx context.Context, onChange func(ids []string)) error {
	if r.path == "" {
		<-ctx.Done()
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("tenants watcher: %w", err)
	}
	defer w.Close()

	dir := filepath.Dir(r.path)
	base := filepath.Base(r.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	log := slog.Default().With(slog.String("component", "tenant"), slog.String("path", r.path))

	var (
		timerMu sync.Mutex
		timer   *time.Timer
	)
	defer func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timerMu.Unlock()
	}()
	schedule := func() {
		timerMu.Lock()
		defer timerMu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(reloadDebounce, func() {
			if ctx.Err() != nil {
				return
			}
			if err := r.Reload(); err != nil {
				log.Warn("tenants reload failed; keeping previous", slog.Any("err", err))
				return
			}
			ids := r.IDs()
			log.Info("tenants reloaded", slog.Int("count", len(ids)))
			if onChange != nil {
				onChange(ids)
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				schedule()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			log.Warn("tenants watch error", slog.Any("err", err))
		}
	}
}
