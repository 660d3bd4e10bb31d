// Package scheduler provides a persisted one-shot "run at T" primitive and a recurring
// adapter that re-arms it after every run.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/live-notifier/clock"
	"github.com/onnwee/live-notifier/kv"
)

// Job is one scheduled run for a resource.
type Job struct {
	ResourceID string
	Tag        string
	Start      time.Time
}

// EventKind distinguishes normal fires from jobs found overdue at startup.
type EventKind int

const (
	Fired EventKind = iota
	Missed
)

func (k EventKind) String() string {
	if k == Missed {
		return "missed"
	}
	return "fired"
}

// Event is delivered to the handler subscribed to the job's tag.
type Event struct {
	Kind EventKind
	Job  Job
}

// OneShot schedules single runs and delivers their events by tag.
type OneShot interface {
	Create(ctx context.Context, job Job) error
	Cancel(ctx context.Context, tag, resourceID string) error
	Lookup(ctx context.Context, tag, resourceID string) (Job, bool, error)
	Resume(ctx context.Context, tag string) ([]Job, error)
	Subscribe(tag string, h func(Event))
}

// JobKey is the persisted key for a job.
func JobKey(tag, resourceID string) string { return "job:" + tag + ":" + resourceID }

type armed struct {
	timer clock.Timer
	gen   uint64
}

// TimerScheduler arms in-process timers and persists each job's start time so
// a restart can detect runs that were due while the process was down.
type TimerScheduler struct {
	store kv.Store
	clk   clock.Clock

	mu       sync.Mutex
	gen      uint64
	timers   map[string]armed
	handlers map[string]func(Event)
}

func NewTimerScheduler(store kv.Store, clk clock.Clock) *TimerScheduler {
	if clk == nil {
		clk = clock.Real{}
	}
	return &TimerScheduler{
		store:    store,
		clk:      clk,
		timers:   map[string]armed{},
		handlers: map[string]func(Event){},
	}
}

// Subscribe installs the handler for tag. Handlers run on the timer goroutine.
func (s *TimerScheduler) Subscribe(tag string, h func(Event)) {
	s.mu.Lock()
	s.handlers[tag] = h
	s.mu.Unlock()
}

// Create arms the job and persists it, replacing any job for the same tag and
// resource. The timer stays armed when persisting fails.
func (s *TimerScheduler) Create(ctx context.Context, job Job) error {
	if job.Tag == "" || job.ResourceID == "" {
		return fmt.Errorf("scheduler: job needs tag and resource id")
	}
	s.arm(job, Fired)
	key := JobKey(job.Tag, job.ResourceID)
	if err := s.store.Set(ctx, key, strconv.FormatInt(job.Start.UnixMilli(), 10)); err != nil {
		return fmt.Errorf("persist job %s: %w", key, err)
	}
	return nil
}

// Cancel disarms and forgets the job.
func (s *TimerScheduler) Cancel(ctx context.Context, tag, resourceID string) error {
	key := JobKey(tag, resourceID)
	s.mu.Lock()
	if a, ok := s.timers[key]; ok {
		a.timer.Stop()
		delete(s.timers, key)
	}
	s.mu.Unlock()
	return s.store.Delete(ctx, key)
}

// Lookup returns the persisted job, if any.
func (s *TimerScheduler) Lookup(ctx context.Context, tag, resourceID string) (Job, bool, error) {
	raw, ok, err := s.store.Get(ctx, JobKey(tag, resourceID))
	if err != nil || !ok {
		return Job{}, false, err
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return Job{}, false, fmt.Errorf("job %s: bad start %q", JobKey(tag, resourceID), raw)
	}
	return Job{ResourceID: resourceID, Tag: tag, Start: time.UnixMilli(ms).UTC()}, true, nil
}

// Resume re-arms every persisted job for tag. Jobs whose start has passed are
// delivered as Missed on the next timer tick.
func (s *TimerScheduler) Resume(ctx context.Context, tag string) ([]Job, error) {
	prefix := JobKey(tag, "")
	keys, err := s.store.Keys(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	now := s.clk.Now()
	jobs := make([]Job, 0, len(keys))
	for _, key := range keys {
		id := strings.TrimPrefix(key, prefix)
		job, ok, err := s.Lookup(ctx, tag, id)
		if err != nil {
			slog.Warn("dropping unreadable job", slog.String("key", key), slog.Any("err", err), slog.String("component", "scheduler"))
			_ = s.store.Delete(ctx, key)
			continue
		}
		if !ok {
			continue
		}
		kind := Fired
		if !job.Start.After(now) {
			kind = Missed
		}
		s.arm(job, kind)
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (s *TimerScheduler) arm(job Job, kind EventKind) {
	key := JobKey(job.Tag, job.ResourceID)
	delay := job.Start.Sub(s.clk.Now())
	if kind == Missed || delay < 0 {
		delay = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.timers[key]; ok {
		a.timer.Stop()
	}
	s.gen++
	gen := s.gen
	t := s.clk.AfterFunc(delay, func() { s.fire(key, gen, Event{Kind: kind, Job: job}) })
	s.timers[key] = armed{timer: t, gen: gen}
}

// fire delivers ev unless the job was replaced or cancelled after arming. The
// persisted record is kept so a crash inside the handler surfaces as Missed later.
func (s *TimerScheduler) fire(key string, gen uint64, ev Event) {
	s.mu.Lock()
	a, ok := s.timers[key]
	if !ok || a.gen != gen {
		s.mu.Unlock()
		return
	}
	delete(s.timers, key)
	h := s.handlers[ev.Job.Tag]
	s.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

// Armed reports how many jobs have live timers.
func (s *TimerScheduler) Armed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}
