// Package ratelimit fornece adapters HTTP (net/http) para admissão de requests:
// janela fixa por chamador, bloqueio por abuso e teto de concorrência.
//
// Visão geral (camadas):
//
//   - domain: política, entrada de bucket, decisão e contratos de store
//   - application: Evaluate, Guard e Service (fail-open) sem net/http
//   - infra: stores em memória e Redis, stats, semáforo
//   - ratelimit (este pacote): Limiter, middleware, resposta 429, admin
//
// Fluxo no gateway:
//
//  1. Resolve o identificador do chamador (Bearer, X-Forwarded-For, X-Real-IP)
//  2. Limiter.Check conta a request no bucket "<namespace>:<identificador>"
//  3. Se negado, responde 429 com Retry-After e corpo JSON
//  4. Se permitido, chama o próximo handler (ex: reverse proxy)
//
// Variáveis de ambiente do binário gateway (cmd/gateway) controlam o comportamento,
// como RATE_STORE, RATE_ROUTES, REDIS_URL e CONCURRENCY_MAX.
package ratelimit
