package application

import (
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

const (
	DefaultEscalationFactor = 3
	DefaultBlockDuration    = 15 * time.Minute
)

// Guard implementa domain.Escalation: ao passar de Factor × MaxRequests
// tentativas dentro da mesma janela, o chamador é bloqueado por um tempo
// independente da janela.
type Guard struct {
	Factor        int
	BlockDuration time.Duration
}

func DefaultGuard() Guard {
	return Guard{Factor: DefaultEscalationFactor, BlockDuration: DefaultBlockDuration}
}

func (g Guard) ShouldBlock(count, maxRequests int) bool {
	factor := g.Factor
	if factor <= 0 {
		factor = DefaultEscalationFactor
	}
	return count > factor*maxRequests
}

// BlockDurationFor prioriza Policy.BlockDuration quando configurado.
func (g Guard) BlockDurationFor(p domain.Policy) time.Duration {
	if p.BlockDuration > 0 {
		return p.BlockDuration
	}
	if g.BlockDuration > 0 {
		return g.BlockDuration
	}
	return DefaultBlockDuration
}
