package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"errors"
	"fmt"
	"time"
)

// Key é a chave de um bucket: "<namespace>:<identifier>".
type Key string

func BucketKey(namespace, identifier string) Key {
	return Key(namespace + ":" + identifier)
}

var ErrInvalidPolicy = errors.New("invalid rate limit policy")

// Policy descreve uma janela fixa: no máximo MaxRequests dentro de Window.
//
// BlockDuration é opcional; quando zero, a duração do bloqueio por abuso vem
// da política de escalonamento.
type Policy struct {
	Window        time.Duration
	MaxRequests   int
	BlockDuration time.Duration
}

// Validate deve ser chamado na configuração das rotas, nunca no caminho da request.
func (p Policy) Validate() error {
	if p.MaxRequests <= 0 {
		return fmt.Errorf("%w: max requests must be > 0, got %d", ErrInvalidPolicy, p.MaxRequests)
	}
	if p.Window <= 0 {
		return fmt.Errorf("%w: window must be > 0, got %s", ErrInvalidPolicy, p.Window)
	}
	if p.BlockDuration < 0 {
		return fmt.Errorf("%w: block duration must be >= 0, got %s", ErrInvalidPolicy, p.BlockDuration)
	}
	return nil
}

// Tiers nomeados usados pelas rotas.
var (
	VeryStrict = Policy{Window: time.Minute, MaxRequests: 5}
	Strict     = Policy{Window: time.Minute, MaxRequests: 10}
	Standard   = Policy{Window: time.Minute, MaxRequests: 60}
	Generous   = Policy{Window: time.Minute, MaxRequests: 120}
)

// TierByName aceita "very-strict", "strict", "standard" e "generous".
func TierByName(name string) (Policy, bool) {
	switch name {
	case "very-strict":
		return VeryStrict, true
	case "strict":
		return Strict, true
	case "standard":
		return Standard, true
	case "generous":
		return Generous, true
	}
	return Policy{}, false
}

// Entry é o estado de um bucket.
//
// Uma entrada com WindowEndsAt no passado é considerada vencida: o próximo
// acesso substitui a entrada, nunca incrementa. BlockedUntil, quando no
// futuro, tem precedência sobre a janela.
type Entry struct {
	Count        int
	WindowEndsAt time.Time
	BlockedUntil time.Time
}

// Expired indica que nem a janela nem o bloqueio seguem ativos em now.
func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.WindowEndsAt) && !now.Before(e.BlockedUntil)
}

func (e Entry) Blocked(now time.Time) bool {
	return now.Before(e.BlockedUntil)
}

type Decision struct {
	Allowed   bool
	Remaining int
	Limit     int
	ResetAt   time.Time
	// RetryAfter é arredondado para cima em segundos inteiros.
	// Zero quando permitido.
	RetryAfter time.Duration
	// Blocked indica negação por bloqueio de abuso (não pela janela normal).
	Blocked bool
}
