package clock

import (
	"testing"
	"time"
)

func TestFakeAdvanceFiresInOrder(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFake(start)

	var order []string
	c.AfterFunc(2*time.Minute, func() { order = append(order, "b") })
	c.AfterFunc(time.Minute, func() { order = append(order, "a") })
	stopped := c.AfterFunc(90*time.Second, func() { order = append(order, "x") })
	if !stopped.Stop() {
		t.Fatal("expected Stop to report an armed timer")
	}

	c.Advance(5 * time.Minute)

	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("unexpected firing order: %v", order)
	}
	if got := c.Now(); !got.Equal(start.Add(5 * time.Minute)) {
		t.Fatalf("Now() = %v, want %v", got, start.Add(5*time.Minute))
	}
	if c.Pending() != 0 {
		t.Fatalf("expected no pending timers, got %d", c.Pending())
	}
}

func TestFakeTimersArmedFromCallback(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	fired := 0
	var rearm func()
	rearm = func() {
		fired++
		c.AfterFunc(time.Minute, rearm)
	}
	c.AfterFunc(time.Minute, rearm)

	c.Advance(3 * time.Minute)
	if fired != 3 {
		t.Fatalf("fired = %d, want 3", fired)
	}
	at, ok := c.NextDeadline()
	if !ok || !at.Equal(time.Unix(0, 0).Add(4*time.Minute)) {
		t.Fatalf("NextDeadline = %v %v", at, ok)
	}
}

func TestFakeTimerCallbackSeesDeadlineTime(t *testing.T) {
	start := time.Unix(1000, 0)
	c := NewFake(start)
	var seen time.Time
	c.AfterFunc(30*time.Second, func() { seen = c.Now() })
	c.Advance(time.Hour)
	if !seen.Equal(start.Add(30 * time.Second)) {
		t.Fatalf("callback saw %v", seen)
	}
}
