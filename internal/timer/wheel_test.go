package timer

import (
	"testing"
	"time"
)

func TestScheduleFiresInDeadlineOrder(t *testing.T) {
	w := New()
	now := time.Unix(0, 0)

	var order []string
	w.Schedule(now, 300*time.Millisecond, func(time.Time) { order = append(order, "c") })
	w.Schedule(now, 100*time.Millisecond, func(time.Time) { order = append(order, "a") })
	w.Schedule(now, 200*time.Millisecond, func(time.Time) { order = append(order, "b") })

	fired := w.FireDue(now.Add(500 * time.Millisecond))
	if fired != 3 {
		t.Fatalf("FireDue() = %d, want 3", fired)
	}
	want := []string{"a", "b", "c"}
	for i, v := range want {
		if order[i] != v {
			t.Errorf("order[%d] = %q, want %q", i, order[i], v)
		}
	}
}

func TestFireDueOnlyFiresPastDeadlines(t *testing.T) {
	w := New()
	now := time.Unix(0, 0)

	fired := false
	w.Schedule(now, time.Second, func(time.Time) { fired = true })

	if n := w.FireDue(now.Add(500 * time.Millisecond)); n != 0 {
		t.Fatalf("FireDue() = %d, want 0", n)
	}
	if fired {
		t.Fatal("callback fired before its deadline")
	}
	if n := w.FireDue(now.Add(time.Second)); n != 1 {
		t.Fatalf("FireDue() = %d, want 1", n)
	}
	if !fired {
		t.Fatal("callback did not fire at its deadline")
	}
}

func TestCancelPreventsFiring(t *testing.T) {
	w := New()
	now := time.Unix(0, 0)

	fired := false
	h := w.Schedule(now, 100*time.Millisecond, func(time.Time) { fired = true })
	w.Cancel(h)

	if n := w.FireDue(now.Add(time.Second)); n != 0 {
		t.Fatalf("FireDue() = %d, want 0 after cancel", n)
	}
	if fired {
		t.Fatal("canceled callback fired")
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	w := New()
	now := time.Unix(0, 0)
	h := w.Schedule(now, time.Second, func(time.Time) {})
	w.Cancel(h)
	w.Cancel(h) // must not panic
}

func TestNextDeadline(t *testing.T) {
	w := New()
	now := time.Unix(0, 0)

	if _, ok := w.NextDeadline(); ok {
		t.Fatal("NextDeadline() ok = true on empty wheel")
	}

	w.Schedule(now, 2*time.Second, func(time.Time) {})
	w.Schedule(now, time.Second, func(time.Time) {})

	deadline, ok := w.NextDeadline()
	if !ok {
		t.Fatal("NextDeadline() ok = false, want true")
	}
	if want := now.Add(time.Second); !deadline.Equal(want) {
		t.Errorf("NextDeadline() = %v, want %v", deadline, want)
	}
}

func TestLenReflectsPendingCount(t *testing.T) {
	w := New()
	now := time.Unix(0, 0)
	if w.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", w.Len())
	}
	h1 := w.Schedule(now, time.Second, func(time.Time) {})
	w.Schedule(now, 2*time.Second, func(time.Time) {})
	if w.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", w.Len())
	}
	w.Cancel(h1)
	if w.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 after cancel", w.Len())
	}
}

func TestRescheduleFromWithinCallbackDoesNotFireSameRound(t *testing.T) {
	w := New()
	now := time.Unix(0, 0)

	count := 0
	var reschedule Callback
	reschedule = func(n time.Time) {
		count++
		if count < 3 {
			w.Schedule(n, 0, reschedule)
		}
	}
	w.Schedule(now, 0, reschedule)

	fired := w.FireDue(now)
	if fired != 1 {
		t.Fatalf("FireDue() first call = %d, want 1 (rescheduled work deferred to next round)", fired)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1", count)
	}

	w.FireDue(now)
	w.FireDue(now)
	if count != 3 {
		t.Fatalf("count after draining = %d, want 3", count)
	}
}
