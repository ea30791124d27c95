// Package infra contém implementações concretas dos contratos de domain.
//
//   - MemoryStore: mapa protegido por mutex, para uma única instância
//   - RedisStore: hash por bucket com WATCH/MULTI/EXEC, compartilhado entre instâncias
//   - MemoryStatsStore / RedisStatsStore: contadores de allow/deny
//   - ChanPool: semáforo para o teto de concorrência
package infra
