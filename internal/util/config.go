package util

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultServerAddr      = "localhost:8080"
	defaultWriteTimeout    = 10 * time.Second
	defaultReadTimeout     = 10 * time.Second
	defaultIdleTimeout     = 30 * time.Second
	defaultGracefulTimeout = 5 * time.Second

	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 24 * time.Hour
	defaultIssuer     = "sessionguard"
	defaultAudience   = "sessionguard-app"

	defaultStoreBackend  = StoreBackendRedis
	defaultStoreTimeout  = 2 * time.Second
	defaultSweepInterval = time.Hour

	defaultRateLimit     = 100
	defaultRateInterval  = 1 * time.Minute
	defaultRateBlockTime = 5 * time.Minute

	JWTLeeWay = 5 * time.Second
)

const (
	StoreBackendRedis    = "redis"
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"
)

const (
	IPPolicyRevoke = "revoke"
	IPPolicyLog    = "log"
)

var (
	ErrJWTSecretMissing   = errors.New("JWT_SECRET is not set")
	ErrUnknownStore       = errors.New("unknown credential store backend")
	ErrUnknownIPPolicy    = errors.New("unknown ip mismatch policy")
	ErrDatabaseURLMissing = errors.New("DATABASE_URL is not set")
	ErrRedisAddrMissing   = errors.New("REDIS_ADDR is not set")
	ErrNonPositiveTTL     = errors.New("duration must be positive")
)

// LoadDotEnv loads variables from path into the process environment.
// A missing file is not an error: production deployments set the environment directly.
func LoadDotEnv(path string) {
	if err := godotenv.Load(path); err != nil {
		log.Printf("Warning: could not load %s file: %v", path, err)
	}
}

type ServerConfig struct {
	ServerAddr      string
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	IdleTimeout     time.Duration
	GracefulTimeout time.Duration
}

func NewServerConfig() *ServerConfig {
	addr := os.Getenv("SERVER_ADDRESS")
	if addr == "" {
		addr = defaultServerAddr
	}

	return &ServerConfig{
		ServerAddr:      addr,
		WriteTimeout:    parseDurationOrDefault("WRITE_TIMEOUT", defaultWriteTimeout),
		ReadTimeout:     parseDurationOrDefault("READ_TIMEOUT", defaultReadTimeout),
		IdleTimeout:     parseDurationOrDefault("IDLE_TIMEOUT", defaultIdleTimeout),
		GracefulTimeout: parseDurationOrDefault("GRACEFUL_TIMEOUT", defaultGracefulTimeout),
	}
}

type TokenConfig struct {
	JwtSecretKey []byte
	Issuer       string
	Audience     string
	AccessTTL    time.Duration
	// RefreshTTL is also the refresh cookie Max-Age.
	RefreshTTL time.Duration
}

func NewTokenConfig() (*TokenConfig, error) {
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return nil, ErrJWTSecretMissing
	}
	accessTTL, err := positiveDuration("ACCESS_TOKEN_TTL", defaultAccessTTL)
	if err != nil {
		return nil, err
	}
	refreshTTL, err := positiveDuration("REFRESH_TOKEN_TTL", defaultRefreshTTL)
	if err != nil {
		return nil, err
	}
	return &TokenConfig{
		JwtSecretKey: []byte(secret),
		Issuer:       stringOrDefault("JWT_ISSUER", defaultIssuer),
		Audience:     stringOrDefault("JWT_AUDIENCE", defaultAudience),
		AccessTTL:    accessTTL,
		RefreshTTL:   refreshTTL,
	}, nil
}

type StoreConfig struct {
	Backend string
	Timeout time.Duration
}

func NewStoreConfig() (*StoreConfig, error) {
	backend := strings.ToLower(stringOrDefault("CREDENTIAL_STORE", defaultStoreBackend))
	switch backend {
	case StoreBackendRedis, StoreBackendPostgres, StoreBackendMemory:
	default:
		return nil, ErrUnknownStore
	}

	timeout, err := positiveDuration("STORE_TIMEOUT", defaultStoreTimeout)
	if err != nil {
		return nil, err
	}

	return &StoreConfig{
		Backend: backend,
		Timeout: timeout,
	}, nil
}

type RotationConfig struct {
	IPMismatchPolicy string
	SweepInterval    time.Duration
}

func NewRotationConfig() (*RotationConfig, error) {
	policy := strings.ToLower(stringOrDefault("IP_MISMATCH_POLICY", IPPolicyRevoke))
	if policy != IPPolicyRevoke && policy != IPPolicyLog {
		return nil, ErrUnknownIPPolicy
	}

	return &RotationConfig{
		IPMismatchPolicy: policy,
		SweepInterval:    parseDurationOrDefault("SWEEP_INTERVAL", defaultSweepInterval),
	}, nil
}

type RateLimiterConfig struct {
	Limit     int
	Interval  time.Duration
	BlockTime time.Duration
}

func NewRateLimiterConfig() *RateLimiterConfig {
	limitStr := os.Getenv("RATE_LIMIT_LIMIT")
	limit := defaultRateLimit
	if limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			limit = l
		} else {
			log.Printf("Invalid RATE_LIMIT_LIMIT: %s, using default %d", limitStr, defaultRateLimit)
		}
	}

	interval := parseDurationOrDefault("RATE_LIMIT_INTERVAL", defaultRateInterval)
	blockTime := parseDurationOrDefault("RATE_LIMIT_BLOCK_TIME", defaultRateBlockTime)

	return &RateLimiterConfig{
		Limit:     limit,
		Interval:  interval,
		BlockTime: blockTime,
	}
}

func GetWebhookURL() string {
	return os.Getenv("WEBHOOK_URL")
}

func GetAPIKey() string {
	return os.Getenv("AUTH_SERVICE_API_KEY")
}

func stringOrDefault(varName, def string) string {
	if v := os.Getenv(varName); v != "" {
		return v
	}
	return def
}

func parseDurationOrDefault(varName string, def time.Duration) time.Duration {
	if v := os.Getenv(varName); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		log.Printf("Invalid duration in %s: %s, using default %s", varName, v, def)
	}
	return def
}

// positiveDuration is parseDurationOrDefault for values where zero or less
// would disable the thing they bound.
func positiveDuration(varName string, def time.Duration) (time.Duration, error) {
	d := parseDurationOrDefault(varName, def)
	if d <= 0 {
		return 0, fmt.Errorf("%s=%s: %w", varName, d, ErrNonPositiveTTL)
	}
	return d, nil
}
