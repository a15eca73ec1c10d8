package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig
	Store    StoreConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	NATS     NATSConfig
	Notify   NotifyConfig
	Auth     AuthConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string        `mapstructure:"SERVER_HOST"`
	Port         int           `mapstructure:"SERVER_PORT"`
	ReadTimeout  time.Duration `mapstructure:"SERVER_READ_TIMEOUT"`
	WriteTimeout time.Duration `mapstructure:"SERVER_WRITE_TIMEOUT"`
	IdleTimeout  time.Duration `mapstructure:"SERVER_IDLE_TIMEOUT"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Backend   string        `mapstructure:"STORE_BACKEND"`
	TxTimeout time.Duration `mapstructure:"TX_TIMEOUT"`
	Migrate   bool          `mapstructure:"STORE_MIGRATE"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `mapstructure:"POSTGRES_HOST"`
	Port     int    `mapstructure:"POSTGRES_PORT"`
	User     string `mapstructure:"POSTGRES_USER"`
	Password string `mapstructure:"POSTGRES_PASSWORD"`
	DBName   string `mapstructure:"POSTGRES_DB"`
	SSLMode  string `mapstructure:"POSTGRES_SSLMODE"`
	MaxConns int32  `mapstructure:"POSTGRES_MAX_CONNS"`
	MinConns int32  `mapstructure:"POSTGRES_MIN_CONNS"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Host     string `mapstructure:"REDIS_HOST"`
	Port     int    `mapstructure:"REDIS_PORT"`
	Password string `mapstructure:"REDIS_PASSWORD"`
	DB       int    `mapstructure:"REDIS_DB"`
	PoolSize int    `mapstructure:"REDIS_POOL_SIZE"`
}

// NATSConfig holds NATS connection settings.
type NATSConfig struct {
	URL            string        `mapstructure:"NATS_URL"`
	Name           string        `mapstructure:"NATS_NAME"`
	ReconnectWait  time.Duration `mapstructure:"NATS_RECONNECT_WAIT"`
	MaxReconnects  int           `mapstructure:"NATS_MAX_RECONNECTS"`
	ConnectTimeout time.Duration `mapstructure:"NATS_CONNECT_TIMEOUT"`
}

// NotifyConfig picks which notifiers page units.
type NotifyConfig struct {
	// Notifiers is any of "log", "redis", "nats".
	Notifiers []string      `mapstructure:"NOTIFIERS"`
	Timeout   time.Duration `mapstructure:"NOTIFY_TIMEOUT"`
	// LastTTL is how long Redis keeps the last notification per unit.
	LastTTL time.Duration `mapstructure:"NOTIFY_LAST_TTL"`
}

// AuthConfig holds the JWT verification secret.
type AuthConfig struct {
	JWTSecret string `mapstructure:"JWT_SECRET"`
}

// DSN returns the PostgreSQL connection string.
func (p *PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.DBName, p.SSLMode,
	)
}

// Addr returns the Redis address in host:port format.
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// ServerAddr returns the HTTP listen address in host:port format.
func (s *ServerConfig) ServerAddr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Enabled reports whether the named notifier is configured.
func (n *NotifyConfig) Enabled(name string) bool {
	for _, v := range n.Notifiers {
		if v == name {
			return true
		}
	}
	return false
}

// Load reads configuration from environment variables and .env file.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName(".env")
	v.SetConfigType("env")
	v.AddConfigPath(".")
	v.AutomaticEnv()

	// ── Defaults ────────────────────────────────────────
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("SERVER_READ_TIMEOUT", "5s")
	v.SetDefault("SERVER_WRITE_TIMEOUT", "10s")
	v.SetDefault("SERVER_IDLE_TIMEOUT", "120s")

	v.SetDefault("STORE_BACKEND", BackendMemory)
	v.SetDefault("TX_TIMEOUT", "5s")
	v.SetDefault("STORE_MIGRATE", true)

	v.SetDefault("POSTGRES_HOST", "localhost")
	v.SetDefault("POSTGRES_PORT", 5432)
	v.SetDefault("POSTGRES_USER", "sos")
	v.SetDefault("POSTGRES_PASSWORD", "sos_secret")
	v.SetDefault("POSTGRES_DB", "sos_dispatch")
	v.SetDefault("POSTGRES_SSLMODE", "disable")
	v.SetDefault("POSTGRES_MAX_CONNS", 50)
	v.SetDefault("POSTGRES_MIN_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 20)

	v.SetDefault("NATS_URL", "nats://localhost:4222")
	v.SetDefault("NATS_NAME", "sos-dispatch")
	v.SetDefault("NATS_RECONNECT_WAIT", "2s")
	v.SetDefault("NATS_MAX_RECONNECTS", 10)
	v.SetDefault("NATS_CONNECT_TIMEOUT", "5s")

	v.SetDefault("NOTIFIERS", "log")
	v.SetDefault("NOTIFY_TIMEOUT", "3s")
	v.SetDefault("NOTIFY_LAST_TTL", "1h")

	v.SetDefault("JWT_SECRET", "")

	// Try to read .env file. If it doesn't exist (e.g., inside Docker),
	// env vars injected by docker-compose env_file are used instead.
	_ = v.ReadInConfig()

	cfg := &Config{}

	// ── Server ──────────────────────────────────────────
	cfg.Server = ServerConfig{
		Host:         v.GetString("SERVER_HOST"),
		Port:         v.GetInt("SERVER_PORT"),
		ReadTimeout:  v.GetDuration("SERVER_READ_TIMEOUT"),
		WriteTimeout: v.GetDuration("SERVER_WRITE_TIMEOUT"),
		IdleTimeout:  v.GetDuration("SERVER_IDLE_TIMEOUT"),
	}

	// ── Store ───────────────────────────────────────────
	cfg.Store = StoreConfig{
		Backend:   strings.ToLower(v.GetString("STORE_BACKEND")),
		TxTimeout: v.GetDuration("TX_TIMEOUT"),
		Migrate:   v.GetBool("STORE_MIGRATE"),
	}
	if cfg.Store.Backend != BackendMemory && cfg.Store.Backend != BackendPostgres {
		return nil, fmt.Errorf("config: STORE_BACKEND must be %q or %q, got %q",
			BackendMemory, BackendPostgres, cfg.Store.Backend)
	}

	// ── Postgres ────────────────────────────────────────
	cfg.Postgres = PostgresConfig{
		Host:     v.GetString("POSTGRES_HOST"),
		Port:     v.GetInt("POSTGRES_PORT"),
		User:     v.GetString("POSTGRES_USER"),
		Password: v.GetString("POSTGRES_PASSWORD"),
		DBName:   v.GetString("POSTGRES_DB"),
		SSLMode:  v.GetString("POSTGRES_SSLMODE"),
		MaxConns: v.GetInt32("POSTGRES_MAX_CONNS"),
		MinConns: v.GetInt32("POSTGRES_MIN_CONNS"),
	}

	// ── Redis ───────────────────────────────────────────
	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
		PoolSize: v.GetInt("REDIS_POOL_SIZE"),
	}

	// ── NATS ────────────────────────────────────────────
	cfg.NATS = NATSConfig{
		URL:            v.GetString("NATS_URL"),
		Name:           v.GetString("NATS_NAME"),
		ReconnectWait:  v.GetDuration("NATS_RECONNECT_WAIT"),
		MaxReconnects:  v.GetInt("NATS_MAX_RECONNECTS"),
		ConnectTimeout: v.GetDuration("NATS_CONNECT_TIMEOUT"),
	}

	// ── Notify ──────────────────────────────────────────
	cfg.Notify = NotifyConfig{
		Notifiers: splitList(v.GetString("NOTIFIERS")),
		Timeout:   v.GetDuration("NOTIFY_TIMEOUT"),
		LastTTL:   v.GetDuration("NOTIFY_LAST_TTL"),
	}
	for _, n := range cfg.Notify.Notifiers {
		switch n {
		case "log", "redis", "nats":
		default:
			return nil, fmt.Errorf("config: unknown notifier %q", n)
		}
	}

	// ── Auth ────────────────────────────────────────────
	cfg.Auth = AuthConfig{JWTSecret: v.GetString("JWT_SECRET")}
	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("config: JWT_SECRET is required")
	}

	return cfg, nil
}

// splitList parses "a, b,c" into [a b c], dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.ToLower(strings.TrimSpace(part)); p != "" {
			out = append(out, p)
		}
	}
	return out
}
