package application

import (
	"context"
	"sync/atomic"
	"time"

	"admission-gateway/middleware/ratelimit/domain"
)

// ConcurrencyService aplica o teto de requests em voo com timeout de espera,
// sem saber nada sobre HTTP.
type ConcurrencyService struct {
	pool    domain.SlotPool
	timeout time.Duration

	rejected atomic.Int64
}

// NewConcurrencyService com timeout <= 0 espera até o ctx da request cancelar.
func NewConcurrencyService(pool domain.SlotPool, timeout time.Duration) *ConcurrencyService {
	return &ConcurrencyService{pool: pool, timeout: timeout}
}

// Acquire retorna (release, ok). Com ok=false nenhuma vaga foi adquirida.
// Sem pool, tudo passa.
func (s *ConcurrencyService) Acquire(ctx context.Context) (func(), bool) {
	if s.pool == nil {
		return func() {}, true
	}

	acqCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		acqCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	release, ok := s.pool.Acquire(acqCtx)
	if !ok {
		s.rejected.Add(1)
	}
	return release, ok
}

// Rejected conta as requests recusadas por falta de vaga.
func (s *ConcurrencyService) Rejected() int64 {
	return s.rejected.Load()
}

// InFlight devolve (em uso, capacidade); (0, 0) sem pool.
func (s *ConcurrencyService) InFlight() (int, int) {
	if s.pool == nil {
		return 0, 0
	}
	return s.pool.InUse(), s.pool.Cap()
}
