package domain

import (
	"context"
	"time"
)

// MutateFunc recebe a entrada atual (found=false quando não existe) e devolve
// a próxima entrada a ser gravada.
//
// Deve ser pura: implementações distribuídas podem chamá-la mais de uma vez
// quando a transação sofre conflito e é repetida.
type MutateFunc func(cur Entry, found bool) (Entry, error)

// AtomicStore faz read-modify-write de uma entrada por chave de forma atômica.
//
// Memória: um mutex. Redis: WATCH/MULTI com retry.
type AtomicStore interface {
	RunAtomic(ctx context.Context, key Key, fn MutateFunc) error
	Get(ctx context.Context, key Key) (Entry, bool, error)
	Delete(ctx context.Context, key Key) error
	Clear(ctx context.Context) error
}

// Sweeper remove entradas cuja janela e bloqueio terminaram antes de
// now-retention. Executado fora do caminho da request.
type Sweeper interface {
	Cleanup(ctx context.Context, retention time.Duration) (int, error)
}

// Escalation decide quando o abuso sustentado vira bloqueio duro.
type Escalation interface {
	ShouldBlock(count, maxRequests int) bool
	BlockDurationFor(p Policy) time.Duration
}
