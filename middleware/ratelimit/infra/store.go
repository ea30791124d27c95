package infra

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"admission-gateway/middleware/ratelimit/clock"
	"admission-gateway/middleware/ratelimit/domain"
)

// MemoryStore é o store local (um processo) de entradas de janela.
//
// Um único mutex protege o mapa inteiro: o read-modify-write de RunAtomic é
// atômico entre goroutines. A varredura de entradas vencidas é só higiene de
// memória: probabilística a cada chamada e/ou periódica via StartJanitor.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[domain.Key]domain.Entry

	clock            clock.Clock
	sweepProbability float64
	random           func() float64
	cleanupEvery     time.Duration
}

type StoreOption func(*MemoryStore)

// WithSweepProbability define a chance (0..1) de varrer o store a cada
// RunAtomic. Padrão 0.01; 0 desliga.
func WithSweepProbability(p float64) StoreOption {
	return func(s *MemoryStore) { s.sweepProbability = p }
}

// WithCleanupEvery define o intervalo do janitor. 0 desliga.
func WithCleanupEvery(d time.Duration) StoreOption {
	return func(s *MemoryStore) { s.cleanupEvery = d }
}

func WithStoreClock(c clock.Clock) StoreOption {
	return func(s *MemoryStore) { s.clock = c }
}

// WithRandom troca a fonte de aleatoriedade da varredura (testes).
func WithRandom(fn func() float64) StoreOption {
	return func(s *MemoryStore) { s.random = fn }
}

func NewMemoryStore(opts ...StoreOption) *MemoryStore {
	s := &MemoryStore{
		entries:          make(map[domain.Key]domain.Entry),
		clock:            clock.System{},
		sweepProbability: 0.01,
		random:           rand.Float64,
		cleanupEvery:     0,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) CleanupEvery() time.Duration { return s.cleanupEvery }

// RunAtomic implementa domain.AtomicStore.
func (s *MemoryStore) RunAtomic(_ context.Context, key domain.Key, fn domain.MutateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, found := s.entries[key]
	next, err := fn(cur, found)
	if err != nil {
		return err
	}
	s.entries[key] = next

	if s.sweepProbability > 0 && s.random() < s.sweepProbability {
		s.sweepLocked(s.clock.Now())
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key domain.Key) (domain.Entry, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	return e, ok, nil
}

func (s *MemoryStore) Delete(_ context.Context, key domain.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	return nil
}

func (s *MemoryStore) Clear(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clear(s.entries)
	return nil
}

func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Sweep remove entradas cuja janela e bloqueio já passaram de now.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(now)
}

// Cleanup implementa domain.Sweeper.
func (s *MemoryStore) Cleanup(_ context.Context, retention time.Duration) (int, error) {
	return s.Sweep(s.clock.Now().Add(-retention)), nil
}

func (s *MemoryStore) sweepLocked(now time.Time) int {
	n := 0
	for k, e := range s.entries {
		if e.Expired(now) {
			delete(s.entries, k)
			n++
		}
	}
	return n
}

// StartJanitor inicia uma goroutine que varre entradas vencidas periodicamente.
// Pare cancelando o contexto.
func (s *MemoryStore) StartJanitor(ctx DoneContext) {
	if s.cleanupEvery <= 0 {
		return
	}

	t := time.NewTicker(s.cleanupEvery)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				s.Sweep(s.clock.Now())
			}
		}
	}()
}

// DoneContext é o mínimo necessário para aceitar context.Context no janitor.
type DoneContext interface {
	Done() <-chan struct{}
}
