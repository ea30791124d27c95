package ratelimit

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"admission-gateway/middleware/ratelimit/application"
	"admission-gateway/middleware/ratelimit/clock"
	"admission-gateway/middleware/ratelimit/domain"
)

// Limiter é o ponto de entrada dos handlers: "esta request pode seguir?" e
// "limpe o estado do identificador X".
//
// O store (memória ou Redis) é escolha de deploy, feita uma vez na construção.
type Limiter struct {
	svc      *application.Service
	identify IdentifierFunc
}

type limiterConfig struct {
	identify IdentifierFunc
	svcOpts  []application.Option
}

type LimiterOption func(*limiterConfig)

func WithIdentifierFunc(fn IdentifierFunc) LimiterOption {
	return func(c *limiterConfig) {
		if fn != nil {
			c.identify = fn
		}
	}
}

// WithEscalation troca a regra de bloqueio por abuso; nil desliga o bloqueio.
func WithEscalation(e domain.Escalation) LimiterOption {
	return func(c *limiterConfig) { c.svcOpts = append(c.svcOpts, application.WithEscalation(e)) }
}

func WithClock(clk clock.Clock) LimiterOption {
	return func(c *limiterConfig) { c.svcOpts = append(c.svcOpts, application.WithClock(clk)) }
}

func WithLogger(l *slog.Logger) LimiterOption {
	return func(c *limiterConfig) { c.svcOpts = append(c.svcOpts, application.WithLogger(l)) }
}

func WithWarnInterval(d time.Duration) LimiterOption {
	return func(c *limiterConfig) { c.svcOpts = append(c.svcOpts, application.WithWarnInterval(d)) }
}

func New(store domain.AtomicStore, opts ...LimiterOption) *Limiter {
	cfg := limiterConfig{identify: DefaultIdentifierFunc(false)}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Limiter{
		svc:      application.NewService(store, cfg.svcOpts...),
		identify: cfg.identify,
	}
}

// Identify devolve o identificador resolvido para r.
func (l *Limiter) Identify(r *http.Request) string {
	return l.identify(r)
}

// Check conta a request no bucket namespace:identificador e decide.
// Nunca falha: problemas no store resultam em decisão permitida.
func (l *Limiter) Check(r *http.Request, p domain.Policy, namespace string) domain.Decision {
	return l.CheckIdentifier(r.Context(), l.identify(r), p, namespace)
}

// CheckIdentifier é Check para um identificador já resolvido.
func (l *Limiter) CheckIdentifier(ctx context.Context, identifier string, p domain.Policy, namespace string) domain.Decision {
	return l.svc.Check(ctx, domain.BucketKey(namespace, identifier), p)
}

// Reset remove exatamente um bucket.
func (l *Limiter) Reset(ctx context.Context, identifier, namespace string) error {
	return l.svc.Reset(ctx, domain.BucketKey(namespace, identifier))
}

// ResetAll esvazia o store inteiro.
func (l *Limiter) ResetAll(ctx context.Context) error {
	return l.svc.ResetAll(ctx)
}

// Cleanup roda a manutenção de retenção do store (fora do caminho da request).
func (l *Limiter) Cleanup(ctx context.Context, retention time.Duration) (int, error) {
	return l.svc.Cleanup(ctx, retention)
}

func (l *Limiter) FailOpens() int64 {
	return l.svc.FailOpens()
}

// Snapshot é a visão diagnóstica de um bucket.
type Snapshot struct {
	Identifier string     `json:"identifier"`
	Namespace  string     `json:"namespace"`
	Entry      *EntryView `json:"entry,omitempty"`
}

type EntryView struct {
	Count        int        `json:"count"`
	WindowEndsAt time.Time  `json:"windowEndsAt"`
	BlockedUntil *time.Time `json:"blockedUntil,omitempty"`
}

// Stats lê, sem contar, o bucket do próprio chamador em namespace.
func (l *Limiter) Stats(r *http.Request, namespace string) (Snapshot, error) {
	id := l.identify(r)
	snap := Snapshot{Identifier: id, Namespace: namespace}

	e, found, err := l.svc.Peek(r.Context(), domain.BucketKey(namespace, id))
	if err != nil {
		return snap, err
	}
	if found {
		view := &EntryView{Count: e.Count, WindowEndsAt: e.WindowEndsAt}
		if !e.BlockedUntil.IsZero() {
			bu := e.BlockedUntil
			view.BlockedUntil = &bu
		}
		snap.Entry = view
	}
	return snap, nil
}
