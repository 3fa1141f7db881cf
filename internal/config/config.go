// Package config loads server settings from flags, the environment and an
// optional .env file.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Storage backends.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

// Login limiter backends.
const (
	LimiterPostgres = "postgres"
	LimiterRedis    = "redis"
	LimiterNone     = "none"
)

// Config is the immutable server configuration.
type Config struct {
	HTTPAddr string
	GRPCAddr string

	Store string
	DSN   string

	JWTSecret string
	TokenTTL  time.Duration
	Issuer    string

	GoogleClientID string
	GoogleJWKSURL  string

	Limiter       string
	RedisURL      string
	LoginMaxFails int
	LoginWindow   time.Duration
	LoginBlock    time.Duration

	RateLimitRPS   float64
	RateLimitBurst int

	AdminEmail    string
	AdminPassword string

	TLSCert string
	TLSKey  string
	Dev     bool
}

// GoogleEnabled reports whether federated login is configured.
func (c *Config) GoogleEnabled() bool { return c.GoogleClientID != "" }

// TLSEnabled reports whether both TLS files are configured.
func (c *Config) TLSEnabled() bool { return c.TLSCert != "" && c.TLSKey != "" }

// Load reads .env (when present), then the environment, then flags in args.
func Load(args []string) (*Config, error) {
	_ = godotenv.Load()
	return LoadWith(args, os.LookupEnv)
}

// LoadWith is Load with an explicit environment lookup.
func LoadWith(args []string, lookup func(string) (string, bool)) (*Config, error) {
	env := envReader{lookup: lookup}
	cfg := &Config{}

	fs := flag.NewFlagSet("caregate-server", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	fs.StringVar(&cfg.HTTPAddr, "http-addr", env.str("HTTP_ADDR", ":8080"), "HTTP listen address")
	fs.StringVar(&cfg.GRPCAddr, "grpc-addr", env.str("GRPC_ADDR", ":9090"), "gRPC listen address (empty disables)")
	fs.StringVar(&cfg.Store, "store", env.str("STORE", StorePostgres), "storage backend: postgres|memory")
	fs.StringVar(&cfg.DSN, "dsn", env.str("DATABASE_URL", ""), "PostgreSQL DSN")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", env.str("JWT_SECRET", ""), "HS256 session signing secret (>= 32 bytes)")
	fs.DurationVar(&cfg.TokenTTL, "token-ttl", env.dur("TOKEN_TTL", 720*time.Hour), "session token lifetime")
	fs.StringVar(&cfg.Issuer, "issuer", env.str("TOKEN_ISSUER", "caregate"), "session token issuer")
	fs.StringVar(&cfg.GoogleClientID, "google-client-id", env.str("GOOGLE_CLIENT_ID", ""), "Google OAuth client id (empty disables Google login)")
	fs.StringVar(&cfg.GoogleJWKSURL, "google-jwks-url", env.str("GOOGLE_JWKS_URL", ""), "Google JWKS URL override")
	fs.StringVar(&cfg.Limiter, "limiter", env.str("LIMITER", ""), "login limiter: postgres|redis|none (default follows -store)")
	fs.StringVar(&cfg.RedisURL, "redis-url", env.str("REDIS_URL", ""), "Redis URL for the redis limiter")
	fs.IntVar(&cfg.LoginMaxFails, "login-max-fails", env.integer("LOGIN_MAX_FAILS", 5), "failed logins before lockout")
	fs.DurationVar(&cfg.LoginWindow, "login-window", env.dur("LOGIN_WINDOW", 15*time.Minute), "failed login counting window")
	fs.DurationVar(&cfg.LoginBlock, "login-block", env.dur("LOGIN_BLOCK", 15*time.Minute), "lockout duration")
	fs.Float64Var(&cfg.RateLimitRPS, "rate-limit-rps", env.float("RATE_LIMIT_RPS", 5), "per-IP request rate on /v1/auth")
	fs.IntVar(&cfg.RateLimitBurst, "rate-limit-burst", env.integer("RATE_LIMIT_BURST", 10), "per-IP burst on /v1/auth")
	fs.StringVar(&cfg.AdminEmail, "admin-email", env.str("ADMIN_EMAIL", ""), "bootstrap admin email")
	fs.StringVar(&cfg.AdminPassword, "admin-password", env.str("ADMIN_PASSWORD", ""), "bootstrap admin password")
	fs.StringVar(&cfg.TLSCert, "tls-cert", env.str("TLS_CERT", ""), "TLS certificate (PEM)")
	fs.StringVar(&cfg.TLSKey, "tls-key", env.str("TLS_KEY", ""), "TLS private key (PEM)")
	fs.BoolVar(&cfg.Dev, "dev", env.boolean("DEV", false), "development mode: console logs, gRPC reflection")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if len(env.problems) > 0 {
		return nil, errors.Join(env.problems...)
	}

	cfg.JWTSecret = strings.TrimSpace(cfg.JWTSecret)
	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))
	cfg.Limiter = strings.ToLower(strings.TrimSpace(cfg.Limiter))
	if cfg.Limiter == "" {
		cfg.Limiter = LimiterNone
		if cfg.Store == StorePostgres {
			cfg.Limiter = LimiterPostgres
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var problems []error
	add := func(format string, args ...any) { problems = append(problems, fmt.Errorf(format, args...)) }

	if c.HTTPAddr == "" {
		add("http-addr is required")
	}
	if len(c.JWTSecret) < 32 {
		add("jwt-secret must be at least 32 bytes")
	}
	if c.TokenTTL <= 0 {
		add("token-ttl must be positive")
	}
	if c.Issuer == "" {
		add("issuer is required")
	}

	switch c.Store {
	case StorePostgres:
		if c.DSN == "" {
			add("dsn is required with store=postgres")
		}
	case StoreMemory:
	default:
		add("unknown store %q", c.Store)
	}

	switch c.Limiter {
	case LimiterPostgres:
		if c.Store != StorePostgres {
			add("limiter=postgres requires store=postgres")
		}
	case LimiterRedis:
		if c.RedisURL == "" {
			add("redis-url is required with limiter=redis")
		}
	case LimiterNone:
	default:
		add("unknown limiter %q", c.Limiter)
	}
	if c.Limiter != LimiterNone {
		if c.LoginMaxFails < 1 {
			add("login-max-fails must be at least 1")
		}
		if c.LoginWindow <= 0 || c.LoginBlock <= 0 {
			add("login-window and login-block must be positive")
		}
	}

	if c.RateLimitRPS < 0 || c.RateLimitBurst < 0 {
		add("rate-limit-rps and rate-limit-burst must not be negative")
	}
	if (c.AdminEmail == "") != (c.AdminPassword == "") {
		add("admin-email and admin-password must be set together")
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		add("tls-cert and tls-key must be set together")
	}
	return errors.Join(problems...)
}

// envReader reads typed defaults from the environment and remembers bad values.
type envReader struct {
	lookup   func(string) (string, bool)
	problems []error
}

func (e *envReader) str(key, def string) string {
	if v, ok := e.lookup(key); ok {
		return v
	}
	return def
}

func (e *envReader) dur(key string, def time.Duration) time.Duration {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.problems = append(e.problems, fmt.Errorf("%s: invalid duration %q", key, v))
		return def
	}
	return d
}

func (e *envReader) integer(key string, def int) int {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.problems = append(e.problems, fmt.Errorf("%s: invalid integer %q", key, v))
		return def
	}
	return n
}

func (e *envReader) float(key string, def float64) float64 {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.problems = append(e.problems, fmt.Errorf("%s: invalid number %q", key, v))
		return def
	}
	return f
}

func (e *envReader) boolean(key string, def bool) bool {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.problems = append(e.problems, fmt.Errorf("%s: invalid boolean %q", key, v))
		return def
	}
	return b
}
