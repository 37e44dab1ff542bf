package removal

import (
	"testing"
	"time"

	"github.com/meerkat-chat/meerkat/internal/message"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestStateThresholds(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	cases := []struct {
		age       time.Duration
		countdown int
		want      message.RemovalState
	}{
		{age: time.Hour, countdown: Disabled, want: message.Active},
		{age: 0, countdown: 10, want: message.Active},
		{age: 5 * time.Second, countdown: 10, want: message.Active},
		{age: 6 * time.Second, countdown: 10, want: message.Degraded},
		{age: 10 * time.Second, countdown: 10, want: message.Degraded},
		{age: 11 * time.Second, countdown: 10, want: message.Removed},
		{age: time.Millisecond, countdown: 0, want: message.Removed},
	}
	for _, tc := range cases {
		if got := p.State(tc.age, tc.countdown); got != tc.want {
			t.Fatalf("State(%s, %d) = %s, want %s", tc.age, tc.countdown, got, tc.want)
		}
	}
}

func TestStateIsMonotoneInCountdown(t *testing.T) {
	t.Parallel()

	p := Policy{DegradeFraction: 0.3}
	for age := time.Duration(0); age <= 120*time.Second; age += 500 * time.Millisecond {
		prev := p.State(age, 0)
		for c := 1; c <= 100; c++ {
			cur := p.State(age, c)
			if cur > prev {
				t.Fatalf("age %s: countdown %d gave %s, smaller countdown gave %s", age, c, cur, prev)
			}
			prev = cur
		}
		if p.State(age, Disabled) != message.Active {
			t.Fatalf("disabled countdown must keep messages active")
		}
	}
}

func TestInvalidFractionFallsBack(t *testing.T) {
	t.Parallel()

	p := Policy{DegradeFraction: 0}
	if got := p.State(6*time.Second, 10); got != message.Degraded {
		t.Fatalf("expected default fraction, got %s", got)
	}
}

func TestTickIsPureAndRemovedIsTerminal(t *testing.T) {
	t.Parallel()

	msgs := []message.Message{
		{ID: "old", CreatedAt: now.Add(-30 * time.Second)},
		{ID: "mid", CreatedAt: now.Add(-7 * time.Second)},
		{ID: "new", CreatedAt: now.Add(-time.Second)},
		{ID: "gone", CreatedAt: now, RemovalState: message.Removed},
	}
	out := Tick(10, msgs, now)

	want := []message.RemovalState{message.Removed, message.Degraded, message.Active, message.Removed}
	for i, m := range out {
		if m.RemovalState != want[i] {
			t.Fatalf("%s: got %s want %s", m.ID, m.RemovalState, want[i])
		}
	}
	for _, m := range msgs[:3] {
		if m.RemovalState != message.Active {
			t.Fatalf("input modified: %s is %s", m.ID, m.RemovalState)
		}
	}

	relaxed := Tick(Disabled, out, now)
	if relaxed[0].RemovalState != message.Removed || relaxed[1].RemovalState != message.Active {
		t.Fatalf("unexpected states after disabling: %s %s", relaxed[0].RemovalState, relaxed[1].RemovalState)
	}
}

func TestVisibleDropsRemoved(t *testing.T) {
	t.Parallel()

	out := Visible([]message.Message{
		{ID: "a"},
		{ID: "b", RemovalState: message.Removed},
		{ID: "c", RemovalState: message.Degraded},
	})
	if len(out) != 2 || out[0].ID != "a" || out[1].ID != "c" {
		t.Fatalf("unexpected projection: %+v", out)
	}
}
