package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"admission-gateway/middleware/ratelimit/domain"

	"github.com/joho/godotenv"
)

const (
	storeMemory = "memory"
	storeRedis  = "redis"
)

type config struct {
	listenAddr  string
	upstreamURL string
	logLevel    slog.Level

	rateEnabled      bool
	rateStore        string
	routes           []route
	defaultPolicy    *domain.Policy
	defaultNamespace string
	trustRemoteAddr  bool
	addHeaders       bool

	escalationFactor int
	blockDuration    time.Duration
	warnInterval     time.Duration

	sweepProbability float64
	cleanupEvery     time.Duration
	keyRetention     time.Duration

	redisURL     string
	redisPrefix  string
	redisTimeout time.Duration

	adminToken string

	concurrencyMax        int
	concurrencyTimeout    time.Duration
	concurrencyRetryAfter time.Duration

	rateStatsEnabled   bool
	rateStatsPrefix    string
	rateStatsTTL       time.Duration
	rateStatsBucket    string
	rateStatsTrackKeys bool
}

// route associa um prefixo de path a um tier e a um namespace.
type route struct {
	prefix    string
	tier      string
	policy    domain.Policy
	namespace string
}

const defaultRoutes = "/auth=very-strict:auth,/payment=very-strict:payment,/admin=strict:admin,/newsletter=strict:newsletter,/profile=standard:profile"

func readConfig() (config, error) {
	// .env é opcional
	_ = godotenv.Load()

	cfg := config{}
	env := &envParser{}
	cfg.listenAddr = getenvDefault("LISTEN_ADDR", ":8080")
	cfg.upstreamURL = os.Getenv("UPSTREAM_URL")
	if err := cfg.logLevel.UnmarshalText([]byte(getenvDefault("LOG_LEVEL", "info"))); err != nil {
		return config{}, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	cfg.rateEnabled = env.boolDefault("RATE_ENABLED", true)
	cfg.rateStore = strings.ToLower(getenvDefault("RATE_STORE", storeMemory))
	routes, err := parseRoutes(getenvDefault("RATE_ROUTES", defaultRoutes))
	if err != nil {
		return config{}, err
	}
	cfg.routes = routes
	if tier := os.Getenv("RATE_DEFAULT_TIER"); tier != "" {
		p, ok := domain.TierByName(tier)
		if !ok {
			return config{}, fmt.Errorf("invalid RATE_DEFAULT_TIER %q", tier)
		}
		cfg.defaultPolicy = &p
	}
	cfg.defaultNamespace = getenvDefault("RATE_DEFAULT_NAMESPACE", "default")
	cfg.trustRemoteAddr = env.boolDefault("TRUST_REMOTE_ADDR", true)
	cfg.addHeaders = env.boolDefault("ADD_RATELIMIT_HEADERS", true)

	cfg.escalationFactor = env.intDefault("RATE_ESCALATION_FACTOR", 3)
	cfg.blockDuration = env.durationDefault("RATE_BLOCK_DURATION", 15*time.Minute)
	cfg.warnInterval = env.durationDefault("RATE_WARN_INTERVAL", 10*time.Second)

	cfg.sweepProbability = env.floatDefault("RATE_SWEEP_PROBABILITY", 0.01)
	cfg.cleanupEvery = env.durationDefault("RATE_CLEANUP_EVERY", 0)
	cfg.keyRetention = env.durationDefault("RATE_KEY_RETENTION", time.Hour)

	cfg.redisURL = os.Getenv("REDIS_URL")
	cfg.redisPrefix = getenvDefault("RATE_REDIS_PREFIX", "ratelimit:window")
	cfg.redisTimeout = env.durationDefault("RATE_REDIS_TIMEOUT", 2*time.Second)

	cfg.adminToken = os.Getenv("ADMIN_TOKEN")

	cfg.concurrencyMax = env.intDefault("CONCURRENCY_MAX", 100)
	cfg.concurrencyTimeout = env.durationDefault("CONCURRENCY_TIMEOUT", 0)
	cfg.concurrencyRetryAfter = env.durationDefault("CONCURRENCY_RETRY_AFTER", time.Second)

	cfg.rateStatsEnabled = env.boolDefault("RATE_STATS_ENABLED", false)
	cfg.rateStatsPrefix = getenvDefault("RATE_STATS_PREFIX", "ratelimit:stats")
	cfg.rateStatsTTL = env.durationDefault("RATE_STATS_TTL", 24*time.Hour)
	cfg.rateStatsBucket = getenvDefault("RATE_STATS_BUCKET", "minute")
	cfg.rateStatsTrackKeys = env.boolDefault("RATE_STATS_TRACK_KEYS", false)

	if err := env.err(); err != nil {
		return config{}, err
	}
	if cfg.upstreamURL == "" {
		return config{}, errors.New("UPSTREAM_URL is required")
	}
	switch cfg.rateStore {
	case storeMemory:
	case storeRedis:
		if strings.TrimSpace(cfg.redisURL) == "" {
			return config{}, errors.New("REDIS_URL is required when RATE_STORE=redis")
		}
		if cfg.rateStatsEnabled && prefixesOverlap(cfg.redisPrefix, cfg.rateStatsPrefix) {
			return config{}, fmt.Errorf("RATE_REDIS_PREFIX %q and RATE_STATS_PREFIX %q must not contain one another", cfg.redisPrefix, cfg.rateStatsPrefix)
		}
	default:
		return config{}, fmt.Errorf("RATE_STORE must be %q or %q, got %q", storeMemory, storeRedis, cfg.rateStore)
	}
	if cfg.sweepProbability < 0 || cfg.sweepProbability > 1 {
		return config{}, errors.New("RATE_SWEEP_PROBABILITY must be within [0, 1]")
	}
	if cfg.escalationFactor < 0 {
		return config{}, errors.New("RATE_ESCALATION_FACTOR must be >= 0")
	}
	if cfg.concurrencyMax < 0 {
		return config{}, errors.New("CONCURRENCY_MAX must be >= 0")
	}
	return cfg, nil
}

// prefixesOverlap indica se um SCAN "a:*" alcança chaves de b (ou o inverso).
func prefixesOverlap(a, b string) bool {
	a = strings.Trim(a, ":") + ":"
	b = strings.Trim(b, ":") + ":"
	return strings.HasPrefix(a, b) || strings.HasPrefix(b, a)
}

// parseRoutes lê "prefixo=tier:namespace" separados por vírgula.
// Sem namespace, usa o prefixo sem barras ("/auth" -> "auth").
// O resultado vem ordenado do prefixo mais longo para o mais curto.
func parseRoutes(s string) ([]route, error) {
	var routes []route
	seen := make(map[string]bool)

	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		prefix, rest, ok := strings.Cut(item, "=")
		prefix = strings.TrimSpace(prefix)
		if !ok || !strings.HasPrefix(prefix, "/") {
			return nil, fmt.Errorf("invalid RATE_ROUTES entry %q: want /prefix=tier[:namespace]", item)
		}
		if prefix != "/" {
			prefix = strings.TrimRight(prefix, "/")
		}

		tier, ns, _ := strings.Cut(rest, ":")
		tier = strings.TrimSpace(tier)
		p, ok := domain.TierByName(tier)
		if !ok {
			return nil, fmt.Errorf("invalid RATE_ROUTES entry %q: unknown tier %q", item, tier)
		}

		ns = strings.TrimSpace(ns)
		if ns == "" {
			ns = strings.ReplaceAll(strings.Trim(prefix, "/"), "/", "_")
		}
		if ns == "" {
			return nil, fmt.Errorf("invalid RATE_ROUTES entry %q: namespace is required for /", item)
		}

		if seen[prefix] {
			return nil, fmt.Errorf("duplicate RATE_ROUTES prefix %q", prefix)
		}
		seen[prefix] = true

		routes = append(routes, route{prefix: prefix, tier: tier, policy: p, namespace: ns})
	}

	sort.SliceStable(routes, func(i, j int) bool { return len(routes[i].prefix) > len(routes[j].prefix) })
	return routes, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// envParser lê variáveis tipadas e acumula os erros de parse; readConfig
// devolve todos juntos.
type envParser struct {
	errs []error
}

func (p *envParser) fail(k, v string, err error) {
	p.errs = append(p.errs, fmt.Errorf("invalid %s %q: %w", k, v, err))
}

func (p *envParser) err() error {
	return errors.Join(p.errs...)
}

func (p *envParser) intDefault(k string, def int) int {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		p.fail(k, v, err)
		return def
	}
	return i
}

func (p *envParser) floatDefault(k string, def float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.fail(k, v, err)
		return def
	}
	return f
}

func (p *envParser) boolDefault(k string, def bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(k, v, err)
		return def
	}
	return b
}

func (p *envParser) durationDefault(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(k, v, err)
		return def
	}
	return d
}
