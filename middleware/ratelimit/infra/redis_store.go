package infra

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"admission-gateway/middleware/ratelimit/clock"
	"admission-gateway/middleware/ratelimit/domain"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"
)

// ErrTxConflict indica que todas as tentativas da transação otimista foram
// invalidadas por escritas concorrentes na mesma chave.
var ErrTxConflict = errors.New("redis transaction conflict: retries exhausted")

// errBadEntry marca um hash que não decodifica como entrada de janela.
var errBadEntry = errors.New("undecodable window entry")

const (
	keyLockStripes = 64
	backoffBase    = 2 * time.Millisecond
	backoffMax     = 50 * time.Millisecond
)

const (
	fieldCount        = "count"
	fieldWindowEndsAt = "window_ends_at"
	fieldBlockedUntil = "blocked_until"
)

// RedisStore é o store distribuído de entradas de janela.
//
// Cada bucket é um hash Redis (count, window_ends_at, blocked_until em epoch
// ms). RunAtomic usa WATCH + MULTI/EXEC: se outra instância escrever a chave
// entre a leitura e o EXEC, a transação falha com redis.TxFailedErr e é
// repetida com backoff até o deadline do ctx. Dentro do processo, escritas na
// mesma chave passam por um lock listrado, então só instâncias diferentes
// disputam o WATCH.
type RedisStore struct {
	rdb redis.UniversalClient

	prefix  string
	timeout time.Duration
	// maxRetries <= 0: repete até o ctx encerrar.
	maxRetries int
	// retention é somada ao fim da janela/bloqueio para o PEXPIREAT da chave.
	retention time.Duration
	clock     clock.Clock
	logger    *slog.Logger

	locks []*ChanPool
}

type RedisStoreOption func(*RedisStore)

func WithRedisPrefix(prefix string) RedisStoreOption {
	return func(s *RedisStore) {
		s.prefix = strings.Trim(prefix, ":")
	}
}

// WithRedisTimeout limita cada operação no caminho da request. 0 usa apenas
// os timeouts do client.
func WithRedisTimeout(d time.Duration) RedisStoreOption {
	return func(s *RedisStore) { s.timeout = d }
}

// WithMaxRetries limita as tentativas por conflito de WATCH. n <= 0 (padrão)
// repete até o timeout da operação.
func WithMaxRetries(n int) RedisStoreOption {
	return func(s *RedisStore) { s.maxRetries = n }
}

func WithKeyRetention(d time.Duration) RedisStoreOption {
	return func(s *RedisStore) { s.retention = d }
}

func WithRedisClock(c clock.Clock) RedisStoreOption {
	return func(s *RedisStore) { s.clock = c }
}

func WithRedisLogger(l *slog.Logger) RedisStoreOption {
	return func(s *RedisStore) {
		if l != nil {
			s.logger = l
		}
	}
}

func NewRedisStore(rdb redis.UniversalClient, opts ...RedisStoreOption) *RedisStore {
	s := &RedisStore{
		rdb:       rdb,
		prefix:    "ratelimit:window",
		timeout:   2 * time.Second,
		retention: time.Hour,
		clock:     clock.System{},
		logger:    slog.Default(),
		locks:     make([]*ChanPool, keyLockStripes),
	}
	for i := range s.locks {
		s.locks[i] = NewChanPool(1)
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunAtomic implementa domain.AtomicStore.
func (s *RedisStore) RunAtomic(ctx context.Context, key domain.Key, fn domain.MutateFunc) error {
	if s == nil || s.rdb == nil {
		return errors.New("redis store not configured")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	k := s.redisKey(key)

	release, ok := s.locks[xxhash.Sum64String(k)%keyLockStripes].Acquire(ctx)
	if !ok {
		return fmt.Errorf("redis store: update %s: %w", key, ctx.Err())
	}
	defer release()

	txf := func(tx *redis.Tx) error {
		cur, found, err := readEntry(ctx, tx, k)
		if err != nil {
			return err
		}
		next, err := fn(cur, found)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, k, encodeEntry(next))
			pipe.PExpireAt(ctx, k, s.expireAt(next))
			return nil
		})
		return err
	}

	for attempt := 0; s.maxRetries <= 0 || attempt < s.maxRetries; attempt++ {
		err := s.rdb.Watch(ctx, txf, k)
		if err == nil {
			return nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return fmt.Errorf("redis store: update %s: %w", key, err)
		}
		if err := sleepCtx(ctx, backoff(attempt)); err != nil {
			return fmt.Errorf("redis store: update %s: %w: %w", key, ErrTxConflict, err)
		}
	}
	return fmt.Errorf("redis store: update %s: %w", key, ErrTxConflict)
}

// backoff cresce exponencialmente até backoffMax, com jitter de até 50%.
func backoff(attempt int) time.Duration {
	d := backoffMax
	if attempt < 5 {
		d = backoffBase << attempt
	}
	return d/2 + rand.N(d/2+1)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *RedisStore) Get(ctx context.Context, key domain.Key) (domain.Entry, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	e, found, err := readEntry(ctx, s.rdb, s.redisKey(key))
	if err != nil {
		return domain.Entry{}, false, fmt.Errorf("redis store: get %s: %w", key, err)
	}
	return e, found, nil
}

func (s *RedisStore) Delete(ctx context.Context, key domain.Key) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.rdb.Del(ctx, s.redisKey(key)).Err(); err != nil {
		return fmt.Errorf("redis store: delete %s: %w", key, err)
	}
	return nil
}

// Clear remove todas as chaves do prefixo. Operação de manutenção: percorre
// com SCAN e não usa o timeout do caminho da request.
func (s *RedisStore) Clear(ctx context.Context) error {
	var batch []string
	iter := s.rdb.Scan(ctx, 0, s.prefix+":*", 500).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 500 {
			if err := s.rdb.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("redis store: clear: %w", err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis store: clear scan: %w", err)
	}
	if len(batch) > 0 {
		if err := s.rdb.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("redis store: clear: %w", err)
		}
	}
	return nil
}

// Cleanup implementa domain.Sweeper: apaga entradas cuja janela e bloqueio
// terminaram antes de now-retention. Cada remoção é condicionada via WATCH,
// então uma chave reescrita durante a varredura é preservada. Chaves que não
// decodificam são logadas e mantidas.
func (s *RedisStore) Cleanup(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := s.clock.Now().Add(-retention)
	deleted := 0

	iter := s.rdb.Scan(ctx, 0, s.prefix+":*", 500).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		removed := false
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			e, found, err := readEntry(ctx, tx, k)
			if err != nil || !found || !e.Expired(cutoff) {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, k)
				return nil
			})
			removed = err == nil
			return err
		}, k)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, errBadEntry) {
			s.logger.Warn("rate limit cleanup skipped key", "key", k, "error", err)
			continue
		}
		if err != nil {
			return deleted, fmt.Errorf("redis store: cleanup %s: %w", k, err)
		}
		if removed {
			deleted++
		}
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("redis store: cleanup scan: %w", err)
	}
	return deleted, nil
}

func (s *RedisStore) redisKey(key domain.Key) string {
	return s.prefix + ":" + string(key)
}

func (s *RedisStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

func (s *RedisStore) expireAt(e domain.Entry) time.Time {
	last := e.WindowEndsAt
	if e.BlockedUntil.After(last) {
		last = e.BlockedUntil
	}
	return last.Add(s.retention)
}

type hashReader interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

func readEntry(ctx context.Context, r hashReader, key string) (domain.Entry, bool, error) {
	m, err := r.HGetAll(ctx, key).Result()
	if err != nil {
		if strings.HasPrefix(err.Error(), "WRONGTYPE") {
			return domain.Entry{}, false, fmt.Errorf("%w: %w", errBadEntry, err)
		}
		return domain.Entry{}, false, err
	}
	if len(m) == 0 {
		return domain.Entry{}, false, nil
	}
	return decodeEntry(m)
}

func encodeEntry(e domain.Entry) map[string]any {
	return map[string]any{
		fieldCount:        e.Count,
		fieldWindowEndsAt: toMillis(e.WindowEndsAt),
		fieldBlockedUntil: toMillis(e.BlockedUntil),
	}
}

func decodeEntry(m map[string]string) (domain.Entry, bool, error) {
	count, err := strconv.Atoi(m[fieldCount])
	if err != nil {
		return domain.Entry{}, false, fmt.Errorf("%w: %s: %w", errBadEntry, fieldCount, err)
	}
	windowEnds, err := parseMillis(m[fieldWindowEndsAt])
	if err != nil {
		return domain.Entry{}, false, fmt.Errorf("%w: %s: %w", errBadEntry, fieldWindowEndsAt, err)
	}
	blocked, err := parseMillis(m[fieldBlockedUntil])
	if err != nil {
		return domain.Entry{}, false, fmt.Errorf("%w: %s: %w", errBadEntry, fieldBlockedUntil, err)
	}
	return domain.Entry{Count: count, WindowEndsAt: windowEnds, BlockedUntil: blocked}, true, nil
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func parseMillis(v string) (time.Time, error) {
	if v == "" || v == "0" {
		return time.Time{}, nil
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms), nil
}
