package application

import (
	"testing"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func TestEvaluate_FirstAccessCreatesEntry(t *testing.T) {
	p := domain.Policy{Window: time.Minute, MaxRequests: 5}

	next, dec := Evaluate(domain.Entry{}, false, t0, p, nil)
	if !dec.Allowed || dec.Remaining != 4 || dec.Limit != 5 {
		t.Fatalf("unexpected decision %+v", dec)
	}
	if next.Count != 1 || !next.WindowEndsAt.Equal(t0.Add(time.Minute)) {
		t.Fatalf("unexpected entry %+v", next)
	}
}

func TestEvaluate_StaleEntryIsReplacedNotIncremented(t *testing.T) {
	p := domain.Policy{Window: time.Minute, MaxRequests: 5}
	stale := domain.Entry{Count: 42, WindowEndsAt: t0.Add(-time.Millisecond)}

	next, dec := Evaluate(stale, true, t0, p, nil)
	if !dec.Allowed || dec.Remaining != 4 {
		t.Fatalf("unexpected decision %+v", dec)
	}
	if next.Count != 1 {
		t.Fatalf("expected count reset to 1, got %d", next.Count)
	}
}

func TestEvaluate_WindowEndIsExclusive(t *testing.T) {
	p := domain.Policy{Window: time.Minute, MaxRequests: 1}
	cur := domain.Entry{Count: 1, WindowEndsAt: t0}

	next, dec := Evaluate(cur, true, t0, p, nil)
	if !dec.Allowed || next.Count != 1 {
		t.Fatalf("expected new window at exact end, got %+v %+v", dec, next)
	}
}

func TestEvaluate_DeniesAboveMaxWithRetryAfterRoundedUp(t *testing.T) {
	p := domain.Policy{Window: time.Minute, MaxRequests: 5}
	cur := domain.Entry{Count: 5, WindowEndsAt: t0.Add(30*time.Second + 200*time.Millisecond)}

	next, dec := Evaluate(cur, true, t0, p, nil)
	if dec.Allowed {
		t.Fatalf("expected deny")
	}
	if dec.RetryAfter != 31*time.Second {
		t.Fatalf("expected RetryAfter=31s, got %s", dec.RetryAfter)
	}
	if dec.Remaining != 0 || dec.Limit != 5 || dec.Blocked {
		t.Fatalf("unexpected decision %+v", dec)
	}
	if next.Count != 6 {
		t.Fatalf("expected denied attempt to be counted, got %d", next.Count)
	}
}

func TestEvaluate_EscalatesAfterFactorTimesMax(t *testing.T) {
	p := domain.Policy{Window: time.Minute, MaxRequests: 2}
	g := Guard{Factor: 3, BlockDuration: 10 * time.Minute}
	cur := domain.Entry{Count: 6, WindowEndsAt: t0.Add(20 * time.Second)}

	next, dec := Evaluate(cur, true, t0, p, g)
	if dec.Allowed || !dec.Blocked {
		t.Fatalf("expected blocked decision, got %+v", dec)
	}
	if !next.BlockedUntil.Equal(t0.Add(10 * time.Minute)) {
		t.Fatalf("unexpected BlockedUntil %s", next.BlockedUntil)
	}
	if dec.RetryAfter != 10*time.Minute {
		t.Fatalf("expected RetryAfter from block, got %s", dec.RetryAfter)
	}
}

func TestEvaluate_BlockOutlivesWindowRollover(t *testing.T) {
	p := domain.Policy{Window: time.Minute, MaxRequests: 2}
	cur := domain.Entry{
		Count:        7,
		WindowEndsAt: t0.Add(-time.Minute),
		BlockedUntil: t0.Add(5 * time.Minute),
	}

	next, dec := Evaluate(cur, true, t0, p, DefaultGuard())
	if dec.Allowed || !dec.Blocked {
		t.Fatalf("expected block to win over stale window, got %+v", dec)
	}
	if next != cur {
		t.Fatalf("expected entry untouched while blocked, got %+v", next)
	}
	if dec.RetryAfter != 5*time.Minute {
		t.Fatalf("unexpected RetryAfter %s", dec.RetryAfter)
	}
}

func TestEvaluate_AfterBlockExpiresStartsFresh(t *testing.T) {
	p := domain.Policy{Window: time.Minute, MaxRequests: 2}
	cur := domain.Entry{
		Count:        7,
		WindowEndsAt: t0.Add(-10 * time.Minute),
		BlockedUntil: t0.Add(-time.Second),
	}

	next, dec := Evaluate(cur, true, t0, p, DefaultGuard())
	if !dec.Allowed || dec.Remaining != 1 {
		t.Fatalf("expected fresh window, got %+v", dec)
	}
	if !next.BlockedUntil.IsZero() {
		t.Fatalf("expected block cleared, got %s", next.BlockedUntil)
	}
}

func TestCeilSeconds(t *testing.T) {
	cases := map[time.Duration]time.Duration{
		0:                       time.Second,
		-time.Second:            time.Second,
		time.Millisecond:        time.Second,
		time.Second:             time.Second,
		1001 * time.Millisecond: 2 * time.Second,
		60 * time.Second:        60 * time.Second,
	}
	for in, want := range cases {
		if got := ceilSeconds(in); got != want {
			t.Fatalf("ceilSeconds(%s)=%s, want %s", in, got, want)
		}
	}
}
