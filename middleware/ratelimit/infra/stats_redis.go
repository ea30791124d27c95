package infra

import (
	"context"
	"fmt"
	"strings"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/redis/go-redis/v9"
)

// RedisStatsStore agrega contadores de decisão em hashes Redis, compartilhados
// entre instâncias do gateway.
//
// Chaves (prefixo padrão "ratelimit:stats"):
//
//	<prefix>:total                       allowed/denied/blocked cumulativos
//	<prefix>:minute:<yyyymmddhhmm>       série por minuto (com TTL)
//	<prefix>:namespace                   "<ns>:allowed", "<ns>:denied", ...
//	<prefix>:route                       "<METHOD> <path>:allowed", ...
//	<prefix>:key:<bucket>                por chamador (opcional, com TTL)
type RedisStatsStore struct {
	rdb redis.UniversalClient

	prefix string
	// ttl aplica apenas em chaves de série temporal / por key.
	// total é cumulativo e não expira.
	ttl time.Duration

	bucket string // "minute" (padrão) ou "none"

	trackKeys bool
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

func WithStatsBucket(bucket string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.bucket = strings.ToLower(strings.TrimSpace(bucket)) }
}

func WithStatsTrackKeys(track bool) RedisStatsOption {
	return func(s *RedisStatsStore) { s.trackKeys = track }
}

func NewRedisStatsStore(rdb redis.UniversalClient, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "ratelimit:stats",
		ttl:    24 * time.Hour,
		bucket: "minute",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// outcomeFields devolve os campos a incrementar: bloqueio conta como denied e
// também como blocked.
func outcomeFields(ev domain.StatsEvent) []string {
	switch {
	case ev.Allowed:
		return []string{"allowed"}
	case ev.Blocked:
		return []string{"denied", "blocked"}
	default:
		return []string{"denied"}
	}
}

func (s *RedisStatsStore) Record(ctx context.Context, ev domain.StatsEvent) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	fields := outcomeFields(ev)
	pipe := s.rdb.Pipeline()

	totalKey := s.prefix + ":total"
	for _, f := range fields {
		pipe.HIncrBy(ctx, totalKey, f, 1)
	}

	if s.bucket == "minute" {
		bucketKey := fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
		for _, f := range fields {
			pipe.HIncrBy(ctx, bucketKey, f, 1)
		}
		if s.ttl > 0 {
			pipe.Expire(ctx, bucketKey, s.ttl)
		}
	}

	if ns := strings.TrimSpace(ev.Namespace); ns != "" {
		nsKey := s.prefix + ":namespace"
		for _, f := range fields {
			pipe.HIncrBy(ctx, nsKey, ns+":"+f, 1)
		}
	}

	routeField := strings.TrimSpace(strings.TrimSpace(ev.Method) + " " + strings.TrimSpace(ev.Path))
	if routeField != "" {
		routeKey := s.prefix + ":route"
		for _, f := range fields {
			pipe.HIncrBy(ctx, routeKey, routeField+":"+f, 1)
		}
	}

	if s.trackKeys {
		if k := strings.TrimSpace(string(ev.Key)); k != "" {
			keyKey := s.prefix + ":key:" + k
			for _, f := range fields {
				pipe.HIncrBy(ctx, keyKey, f, 1)
			}
			if s.ttl > 0 {
				pipe.Expire(ctx, keyKey, s.ttl)
			}
		}
	}

	_, err := pipe.Exec(ctx)
	return err
}
