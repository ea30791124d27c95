// Package clock abstrai a fonte de tempo usada pelo rate limit.
//
// Produção usa System; testes usam Manual para avançar o tempo sem sleep
// (virada de janela, expiração de bloqueio, varredura de entradas).
package clock

import (
	"sync"
	"time"
)

type Clock interface {
	Now() time.Time
}

// System usa time.Now().
type System struct{}

func (System) Now() time.Time { return time.Now() }

// Manual é um relógio controlado manualmente. Seguro para uso concorrente.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (c *Manual) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance move o relógio para frente. Valores negativos são ignorados.
func (c *Manual) Advance(d time.Duration) {
	if d < 0 {
		return
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *Manual) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}
