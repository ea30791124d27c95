// Package application contém os casos de uso da admissão: janela fixa,
// bloqueio por abuso, fail-open e teto de concorrência.
//
// Depende apenas de domain e clock; não conhece net/http.
// Ex.: Service.Check(ctx, key, policy) retorna uma Decision (allow/deny + retry-after).
package application
