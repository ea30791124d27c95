package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"admission-gateway/middleware/ratelimit/clock"
	"admission-gateway/middleware/ratelimit/domain"

	"golang.org/x/time/rate"
)

var ErrCleanupUnsupported = errors.New("store does not support cleanup")

// Service concentra a regra de aplicação da admissão: janela fixa dentro do
// store atômico, escalonamento de abuso e fail-open.
//
// Ele não sabe nada sobre HTTP (headers/status), apenas retorna uma decisão.
type Service struct {
	store      domain.AtomicStore
	escalation domain.Escalation
	clock      clock.Clock
	logger     *slog.Logger

	failOpens  atomic.Int64
	warnSample rate.Sometimes
}

type Option func(*Service)

// WithEscalation troca a política de bloqueio por abuso. nil desliga.
func WithEscalation(e domain.Escalation) Option {
	return func(s *Service) { s.escalation = e }
}

func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithWarnInterval limita os logs de fail-open a um por intervalo
// (o contador de fail-open continua exato). d <= 0 loga toda ocorrência.
func WithWarnInterval(d time.Duration) Option {
	return func(s *Service) {
		if d <= 0 {
			s.warnSample = rate.Sometimes{Every: 1}
			return
		}
		s.warnSample = rate.Sometimes{First: 1, Interval: d}
	}
}

func NewService(store domain.AtomicStore, opts ...Option) *Service {
	s := &Service{
		store:      store,
		escalation: DefaultGuard(),
		clock:      clock.System{},
		logger:     slog.Default(),
		warnSample: rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Check decide se a request do bucket key pode prosseguir sob a política p.
//
// Nunca falha: erro (ou panic) do store vira decisão permitida com
// Remaining=MaxRequests, e um warning é logado. Política inválida é erro do
// chamador e também libera, sem tocar no store.
func (s *Service) Check(ctx context.Context, key domain.Key, p domain.Policy) (dec domain.Decision) {
	if err := p.Validate(); err != nil {
		return s.failOpen(key, p, err)
	}
	if s.store == nil {
		return s.allowAll(p)
	}

	defer func() {
		if r := recover(); r != nil {
			dec = s.failOpen(key, p, fmt.Errorf("store panic: %v", r))
		}
	}()

	var out domain.Decision
	err := s.store.RunAtomic(ctx, key, func(cur domain.Entry, found bool) (domain.Entry, error) {
		next, d := Evaluate(cur, found, s.clock.Now(), p, s.escalation)
		out = d
		return next, nil
	})
	if err != nil {
		return s.failOpen(key, p, err)
	}
	return out
}

// Peek lê a entrada sem contar uma request.
func (s *Service) Peek(ctx context.Context, key domain.Key) (domain.Entry, bool, error) {
	if s.store == nil {
		return domain.Entry{}, false, nil
	}
	return s.store.Get(ctx, key)
}

func (s *Service) Reset(ctx context.Context, key domain.Key) error {
	if s.store == nil {
		return nil
	}
	return s.store.Delete(ctx, key)
}

func (s *Service) ResetAll(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	return s.store.Clear(ctx)
}

// Cleanup delega para o store quando ele implementa domain.Sweeper.
func (s *Service) Cleanup(ctx context.Context, retention time.Duration) (int, error) {
	sw, ok := s.store.(domain.Sweeper)
	if !ok {
		return 0, ErrCleanupUnsupported
	}
	return sw.Cleanup(ctx, retention)
}

// FailOpens conta quantas decisões foram liberadas por falha do store.
func (s *Service) FailOpens() int64 {
	return s.failOpens.Load()
}

func (s *Service) failOpen(key domain.Key, p domain.Policy, err error) domain.Decision {
	n := s.failOpens.Add(1)
	s.warnSample.Do(func() {
		s.logger.Warn("rate limit check failed (fail-open)",
			"key", string(key),
			"error", err,
			"fail_opens", n,
		)
	})
	return s.allowAll(p)
}

func (s *Service) allowAll(p domain.Policy) domain.Decision {
	return domain.Decision{
		Allowed:   true,
		Remaining: max(p.MaxRequests, 0),
		Limit:     max(p.MaxRequests, 0),
		ResetAt:   s.clock.Now().Add(max(p.Window, 0)),
	}
}
