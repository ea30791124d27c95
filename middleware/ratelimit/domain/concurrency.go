package domain

import "context"

// SlotPool limita quantas requests ficam em voo ao mesmo tempo no gateway.
//
// Acquire bloqueia até haver vaga ou até o ctx encerrar. O release devolvido
// é idempotente; chamadas extras não liberam vagas de outras requests.
type SlotPool interface {
	Acquire(ctx context.Context) (release func(), ok bool)
	InUse() int
	Cap() int
}
