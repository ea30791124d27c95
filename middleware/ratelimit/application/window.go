package application

import (
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

// Evaluate aplica o contador de janela fixa sobre a entrada atual e devolve a
// próxima entrada e a decisão. Não faz I/O; os stores o executam dentro da
// sua operação atômica.
//
// esc pode ser nil (sem escalonamento).
func Evaluate(cur domain.Entry, found bool, now time.Time, p domain.Policy, esc domain.Escalation) (domain.Entry, domain.Decision) {
	if found && cur.Blocked(now) {
		return cur, domain.Decision{
			Allowed:    false,
			Remaining:  0,
			Limit:      p.MaxRequests,
			ResetAt:    cur.BlockedUntil,
			RetryAfter: ceilSeconds(cur.BlockedUntil.Sub(now)),
			Blocked:    true,
		}
	}

	if !found || !now.Before(cur.WindowEndsAt) {
		next := domain.Entry{Count: 1, WindowEndsAt: now.Add(p.Window)}
		return next, domain.Decision{
			Allowed:   true,
			Remaining: p.MaxRequests - 1,
			Limit:     p.MaxRequests,
			ResetAt:   next.WindowEndsAt,
		}
	}

	next := domain.Entry{Count: cur.Count + 1, WindowEndsAt: cur.WindowEndsAt}
	if next.Count <= p.MaxRequests {
		return next, domain.Decision{
			Allowed:   true,
			Remaining: p.MaxRequests - next.Count,
			Limit:     p.MaxRequests,
			ResetAt:   next.WindowEndsAt,
		}
	}

	dec := domain.Decision{
		Allowed:    false,
		Remaining:  0,
		Limit:      p.MaxRequests,
		ResetAt:    next.WindowEndsAt,
		RetryAfter: ceilSeconds(next.WindowEndsAt.Sub(now)),
	}
	if esc != nil && esc.ShouldBlock(next.Count, p.MaxRequests) {
		next.BlockedUntil = now.Add(esc.BlockDurationFor(p))
		dec.Blocked = true
		dec.ResetAt = next.BlockedUntil
		dec.RetryAfter = ceilSeconds(next.BlockedUntil.Sub(now))
	}
	return next, dec
}

// ceilSeconds arredonda para cima em segundos inteiros, mínimo 1s.
func ceilSeconds(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Second
	}
	secs := (d + time.Second - 1) / time.Second
	return secs * time.Second
}
