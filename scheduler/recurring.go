package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/onnwee/live-notifier/clock"
)

// RunFunc is the domain work for one resource.
type RunFunc func(ctx context.Context, resourceID string) error

// Recurring turns the one-shot primitive into a fixed-interval loop per resource:
// every fired or missed event runs the handler and then re-arms at now+interval,
// whatever the handler did. Runs for one resource never overlap.
type Recurring struct {
	sched    OneShot
	clk      clock.Clock
	tag      string
	interval time.Duration
	run      RunFunc
	log      *slog.Logger

	mu     sync.Mutex
	ctx    context.Context
	active map[string]bool
	locks  map[string]*sync.Mutex
}

func NewRecurring(sched OneShot, clk clock.Clock, tag string, interval time.Duration, run RunFunc) *Recurring {
	if clk == nil {
		clk = clock.Real{}
	}
	r := &Recurring{
		sched:    sched,
		clk:      clk,
		tag:      tag,
		interval: interval,
		run:      run,
		log:      slog.Default().With(slog.String("component", "scheduler"), slog.String("tag", tag)),
		ctx:      context.Background(),
		active:   map[string]bool{},
		locks:    map[string]*sync.Mutex{},
	}
	sched.Subscribe(tag, r.Handle)
	return r
}

// Start resumes persisted jobs for ids, schedules an immediate first run for ids
// without one, and cancels jobs for resources no longer listed. ctx bounds every
// later run.
func (r *Recurring) Start(ctx context.Context, ids []string) error {
	r.mu.Lock()
	r.ctx = ctx
	r.active = make(map[string]bool, len(ids))
	for _, id := range ids {
		r.active[id] = true
	}
	r.mu.Unlock()

	resumed, err := r.sched.Resume(ctx, r.tag)
	if err != nil {
		return err
	}
	have := map[string]bool{}
	for _, job := range resumed {
		if !r.isActive(job.ResourceID) {
			if err := r.sched.Cancel(ctx, r.tag, job.ResourceID); err != nil {
				r.log.Warn("cancel stale job failed", slog.String("resource", job.ResourceID), slog.Any("err", err))
			}
			continue
		}
		have[job.ResourceID] = true
	}
	for _, id := range ids {
		if have[id] {
			continue
		}
		if err := r.sched.Create(ctx, Job{ResourceID: id, Tag: r.tag, Start: r.clk.Now()}); err != nil {
			return fmt.Errorf("schedule %s: %w", id, err)
		}
	}
	r.log.Info("recurring schedule started", slog.Int("resources", len(ids)), slog.Int("resumed", len(have)), slog.Duration("interval", r.interval))
	return nil
}

// Sync reconciles the active set with ids: new resources run now, removed ones are cancelled.
func (r *Recurring) Sync(ctx context.Context, ids []string) error {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	r.mu.Lock()
	var added, removed []string
	for id := range want {
		if !r.active[id] {
			added = append(added, id)
		}
	}
	for id := range r.active {
		if !want[id] {
			removed = append(removed, id)
		}
	}
	r.active = want
	r.mu.Unlock()

	for _, id := range removed {
		if err := r.sched.Cancel(ctx, r.tag, id); err != nil {
			return fmt.Errorf("cancel %s: %w", id, err)
		}
	}
	for _, id := range added {
		if err := r.sched.Create(ctx, Job{ResourceID: id, Tag: r.tag, Start: r.clk.Now()}); err != nil {
			return fmt.Errorf("schedule %s: %w", id, err)
		}
	}
	if len(added)+len(removed) > 0 {
		r.log.Info("recurring schedule synced", slog.Int("added", len(added)), slog.Int("removed", len(removed)))
	}
	return nil
}

// Handle is the one-shot event handler.
func (r *Recurring) Handle(ev Event) {
	if ev.Job.Tag != r.tag {
		return
	}
	id := ev.Job.ResourceID
	ctx := r.baseCtx()
	if !r.isActive(id) || ctx.Err() != nil {
		return
	}
	if ev.Kind == Missed {
		r.log.Info("running missed job", slog.String("resource", id), slog.Time("was_due", ev.Job.Start))
	}
	r.Exclusive(id, func() {
		defer r.rearm(ctx, id)
		if err := r.safeRun(ctx, id); err != nil {
			r.log.Error("scheduled run failed", slog.String("resource", id), slog.Any("err", err))
		}
	})
}

// Exclusive runs fn while holding the resource's lock, so on-demand runs cannot
// overlap scheduled ones.
func (r *Recurring) Exclusive(id string, fn func()) {
	r.mu.Lock()
	l, ok := r.locks[id]
	if !ok {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	r.mu.Unlock()
	l.Lock()
	defer l.Unlock()
	fn()
}

func (r *Recurring) safeRun(ctx context.Context, id string) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
			r.log.Error("scheduled run panicked", slog.String("resource", id), slog.Any("panic", p), slog.String("stack", string(debug.Stack())))
		}
	}()
	return r.run(ctx, id)
}

func (r *Recurring) rearm(ctx context.Context, id string) {
	if ctx.Err() != nil || !r.isActive(id) {
		return
	}
	next := r.clk.Now().Add(r.interval)
	if err := r.sched.Create(ctx, Job{ResourceID: id, Tag: r.tag, Start: next}); err != nil {
		r.log.Error("re-arm failed", slog.String("resource", id), slog.Any("err", err))
	}
}

func (r *Recurring) isActive(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active[id]
}

func (r *Recurring) baseCtx() context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ctx
}
