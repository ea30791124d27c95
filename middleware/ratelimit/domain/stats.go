package domain

import (
	"context"
	"time"
)

// StatsEvent representa uma decisão de admissão já tomada.
//
// Method/Path são strings genéricas; Namespace separa as políticas
// (ex.: "payment" vs "admin").
//
// Observação: cuidado com cardinalidade ao rastrear Key (um bucket por
// chamador).
type StatsEvent struct {
	Key       Key
	Namespace string
	Allowed   bool
	Blocked   bool

	Method string
	Path   string

	At time.Time
}

// StatsStore persiste estatísticas de decisões.
//
// O middleware trata erro como best-effort (não derruba a request e não muda
// a decisão).
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}
