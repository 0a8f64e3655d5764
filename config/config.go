package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	BackendTables   = "tables"
	BackendPostgres = "postgres"
)

type Config struct {
	Debug      bool
	ListenAddr string

	StorageBackend          string
	StorageConnectionString string
	BoardsTable             string
	ActivityTable           string
	ActivityQueue           string
	DatabaseURL             string

	RedisConnectionString string
	BoardCacheTTL         time.Duration
	DeduperTTL            time.Duration
	InboxSize             int
	ActivityChannel       string

	EngineMaxAttempts int
	StorageTimeout    time.Duration

	EffectWorkers        int
	EffectBuffer         int
	EffectTimeout        time.Duration
	EffectHandoffTimeout time.Duration

	AuthTestMode   bool
	AuthTestSecret string
	AuthAudience   string
	AuthDomain     string
	JWKSCacheTTL   time.Duration

	ProjectorPollInterval time.Duration
}

// Load reads the configuration from the environment. Malformed values are
// errors rather than silently replaced by defaults.
func Load() (Config, error) {
	var errs []error
	cfg := Config{
		Debug:      getenvBool("DEBUG", false, &errs),
		ListenAddr: getenv("LISTEN_ADDR", ":8080"),

		StorageBackend:          strings.ToLower(getenv("STORAGE_BACKEND", BackendTables)),
		StorageConnectionString: os.Getenv("STORAGE_CONNECTION_STRING"),
		BoardsTable:             getenv("BOARDS_TABLE", "Boards"),
		ActivityTable:           getenv("ACTIVITY_TABLE", "BoardActivity"),
		ActivityQueue:           getenv("ACTIVITY_QUEUE", "board-activity"),
		DatabaseURL:             os.Getenv("DATABASE_URL"),

		RedisConnectionString: os.Getenv("REDIS_CONNECTION_STRING"),
		BoardCacheTTL:         getenvDuration("BOARD_CACHE_TTL", 10*time.Minute, &errs),
		DeduperTTL:            getenvDuration("DEDUPER_TTL", 24*time.Hour, &errs),
		InboxSize:             getenvInt("NOTIFICATION_INBOX_SIZE", 100, &errs),
		ActivityChannel:       getenv("ACTIVITY_CHANNEL", "board-activity"),

		EngineMaxAttempts: getenvInt("ENGINE_MAX_ATTEMPTS", 3, &errs),
		StorageTimeout:    getenvDuration("STORAGE_TIMEOUT", 10*time.Second, &errs),

		EffectWorkers:        getenvInt("EFFECT_WORKERS", 8, &errs),
		EffectBuffer:         getenvInt("EFFECT_BUFFER", 1024, &errs),
		EffectTimeout:        getenvDuration("EFFECT_TIMEOUT", 30*time.Second, &errs),
		EffectHandoffTimeout: getenvDuration("EFFECT_HANDOFF_TIMEOUT", 15*time.Millisecond, &errs),

		AuthTestMode:   os.Getenv("AUTH0_TEST_MODE") == "1",
		AuthTestSecret: os.Getenv("TEST_JWT_SECRET"),
		AuthAudience:   os.Getenv("AUTH0_AUDIENCE"),
		AuthDomain:     os.Getenv("AUTH0_DOMAIN"),
		JWKSCacheTTL:   getenvDuration("JWKS_CACHE_TTL", 15*time.Minute, &errs),

		ProjectorPollInterval: getenvDuration("PROJECTOR_POLL_INTERVAL", time.Second, &errs),
	}
	if cfg.EngineMaxAttempts <= 0 {
		errs = append(errs, errors.New("ENGINE_MAX_ATTEMPTS must be greater than zero"))
	}
	if len(errs) > 0 {
		return Config{}, errors.Join(errs...)
	}
	return cfg, nil
}

// ValidateAPI checks the settings the board API cannot start without.
func (c Config) ValidateAPI() error {
	var errs []error
	switch c.StorageBackend {
	case BackendTables:
		if c.StorageConnectionString == "" || c.BoardsTable == "" {
			errs = append(errs, errors.New("missing storage config"))
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("missing DATABASE_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend))
	}
	// Activity always travels through the queue, whichever board backend is used.
	if c.StorageConnectionString == "" || c.ActivityQueue == "" {
		errs = append(errs, errors.New("missing activity queue config"))
	}
	if c.RedisConnectionString == "" {
		errs = append(errs, errors.New("missing redis config"))
	}
	if c.AuthTestMode && c.AuthTestSecret == "" {
		errs = append(errs, errors.New("TEST_JWT_SECRET must be set when AUTH0_TEST_MODE=1"))
	}
	if !c.AuthTestMode && (c.AuthAudience == "" || c.AuthDomain == "") {
		errs = append(errs, errors.New("missing Auth0 config"))
	}
	return errors.Join(errs...)
}

// ValidateProjector checks the settings the activity projector needs.
func (c Config) ValidateProjector() error {
	if c.StorageConnectionString == "" || c.ActivityQueue == "" || c.ActivityTable == "" {
		return errors.New("missing storage config")
	}
	if c.RedisConnectionString == "" {
		return errors.New("missing redis config")
	}
	return nil
}

// RedisOptions accepts either a redis:// URL or the Azure style
// "host:port,password=...,ssl=True" connection string.
func RedisOptions(conn string) (*redis.Options, error) {
	if conn == "" {
		return nil, errors.New("empty redis connection string")
	}
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts, nil
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(kv[1], "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts, nil
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int, errs *[]error) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		*errs = append(*errs, fmt.Errorf("invalid %s: %q", key, value))
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration, errs *[]error) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		*errs = append(*errs, fmt.Errorf("invalid %s: %q", key, value))
		return fallback
	}
	return d
}

func getenvBool(key string, fallback bool, errs *[]error) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("invalid %s: %q", key, value))
		return fallback
	}
	return b
}
