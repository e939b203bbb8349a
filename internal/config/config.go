package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	ListenAddr     string
	WSPath         string
	AdminAddr      string
	AllowedOrigins []string

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	ReconnectGrace    time.Duration
	SweepInterval     time.Duration
	WriteTimeout      time.Duration

	QueueMaxRetries int
	QueueTTL        time.Duration

	MaxNameLength int
	MessagesDir   string

	ArchiveBackend string // none | postgres | redis
	RedisURL       string
	DatabaseURL    string
}

const (
	ArchiveNone     = "none"
	ArchivePostgres = "postgres"
	ArchiveRedis    = "redis"
)

// Load reads .env (when present) and the process environment.
func Load() (*AppConfig, error) {
	// .env is optional; real env vars win because godotenv never overrides them.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds the config from environment variables only.
func FromEnv() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:        ":8080",
		WSPath:            "/ws",
		AdminAddr:         ":8081",
		HeartbeatInterval: 10 * time.Second,
		HeartbeatTimeout:  30 * time.Second,
		ReconnectGrace:    5 * time.Minute,
		SweepInterval:     30 * time.Second,
		WriteTimeout:      5 * time.Second,
		QueueMaxRetries:   3,
		QueueTTL:          time.Hour,
		MaxNameLength:     20,
		ArchiveBackend:    ArchiveNone,
	}

	if v := env("LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := env("WS_PATH"); v != "" {
		if !strings.HasPrefix(v, "/") {
			v = "/" + v
		}
		cfg.WSPath = v
	}
	if v, ok := os.LookupEnv("ADMIN_ADDR"); ok {
		cfg.AdminAddr = strings.TrimSpace(v)
	}
	cfg.AllowedOrigins = splitList(env("ALLOWED_ORIGINS"))

	var err error
	if cfg.HeartbeatInterval, err = durationEnv("HEARTBEAT_INTERVAL", cfg.HeartbeatInterval); err != nil {
		return nil, err
	}
	if cfg.HeartbeatTimeout, err = durationEnv("HEARTBEAT_TIMEOUT", cfg.HeartbeatTimeout); err != nil {
		return nil, err
	}
	if cfg.ReconnectGrace, err = durationEnv("RECONNECT_GRACE", cfg.ReconnectGrace); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = durationEnv("SWEEP_INTERVAL", cfg.SweepInterval); err != nil {
		return nil, err
	}
	if cfg.WriteTimeout, err = durationEnv("WRITE_TIMEOUT", cfg.WriteTimeout); err != nil {
		return nil, err
	}
	if cfg.QueueTTL, err = durationEnv("QUEUE_TTL", cfg.QueueTTL); err != nil {
		return nil, err
	}
	if v := env("QUEUE_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.QueueMaxRetries = n
		}
	}
	if v := env("MAX_NAME_LENGTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxNameLength = n
		}
	}
	cfg.MessagesDir = env("MESSAGES_DIR")

	cfg.RedisURL = env("REDIS_URL")
	cfg.DatabaseURL = env("DATABASE_URL")
	if v := strings.ToLower(env("ARCHIVE_BACKEND")); v != "" {
		cfg.ArchiveBackend = v
	}

	if cfg.HeartbeatTimeout <= cfg.HeartbeatInterval {
		return nil, errors.New("HEARTBEAT_TIMEOUT must exceed HEARTBEAT_INTERVAL")
	}
	switch cfg.ArchiveBackend {
	case ArchiveNone:
	case ArchivePostgres:
		if cfg.DatabaseURL == "" {
			return nil, errors.New("DATABASE_URL is required for ARCHIVE_BACKEND=postgres")
		}
	case ArchiveRedis:
		if cfg.RedisURL == "" {
			return nil, errors.New("REDIS_URL is required for ARCHIVE_BACKEND=redis")
		}
	default:
		return nil, fmt.Errorf("unknown ARCHIVE_BACKEND %q", cfg.ArchiveBackend)
	}
	return cfg, nil
}

func env(k string) string { return strings.TrimSpace(os.Getenv(k)) }

// durationEnv accepts Go durations ("15s") or bare seconds ("15").
func durationEnv(k string, def time.Duration) (time.Duration, error) {
	v := env(k)
	if v == "" {
		return def, nil
	}
	if n, err := strconv.Atoi(v); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("%s must be positive", k)
		}
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", k, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", k)
	}
	return d, nil
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
