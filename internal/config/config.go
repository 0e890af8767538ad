// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Config is read from the environment. Binaries import godotenv/autoload so a local
// .env file is picked up first.
type Config struct {
	APIURL string // GAMEROOM_API_URL
	WSURL  string // GAMEROOM_WS_URL, derived from APIURL when empty
	Token  string // GAMEROOM_TOKEN

	CommandTimeout time.Duration // GAMEROOM_COMMAND_TIMEOUT
	ReconnectDelay time.Duration // GAMEROOM_RECONNECT_DELAY

	CredentialStore string        // GAMEROOM_CREDENTIAL_STORE: memory | redis
	CredentialTTL   time.Duration // GAMEROOM_CREDENTIAL_TTL
	RedisAddr       string        // REDIS_ADDR
	RedisDB         int           // REDIS_DB

	Port     string // PORT
	LogLevel logrus.Level

	// Ed25519 key files for signing tokens on the room server. A fresh key pair is
	// generated when either is unset.
	PrivateKeyPath string // AUTH_PRIVATE_KEY_PATH
	PublicKeyPath  string // AUTH_PUBLIC_KEY_PATH

	// DatabaseURL is built from POSTGRES_USER, POSTGRES_PASSWORD, PG_HOST, PG_PORT and
	// PG_DATABASE. Empty when PG_HOST is unset.
	DatabaseURL string
}

// Load reads the configuration, applying defaults for anything unset.
func Load() (Config, error) {
	cfg := Config{
		APIURL:          strings.TrimRight(getEnv("GAMEROOM_API_URL", "http://localhost:8080"), "/"),
		Token:           os.Getenv("GAMEROOM_TOKEN"),
		CredentialStore: getEnv("GAMEROOM_CREDENTIAL_STORE", "memory"),
		RedisAddr:       getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:         getEnvInt("REDIS_DB", 0),
		Port:            getEnv("PORT", "8080"),
		PrivateKeyPath:  os.Getenv("AUTH_PRIVATE_KEY_PATH"),
		PublicKeyPath:   os.Getenv("AUTH_PUBLIC_KEY_PATH"),
	}
	cfg.WSURL = strings.TrimRight(getEnv("GAMEROOM_WS_URL", wsFromHTTP(cfg.APIURL)), "/")

	var err error
	if cfg.CommandTimeout, err = getEnvDuration("GAMEROOM_COMMAND_TIMEOUT", 5*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.ReconnectDelay, err = getEnvDuration("GAMEROOM_RECONNECT_DELAY", 2*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.CredentialTTL, err = getEnvDuration("GAMEROOM_CREDENTIAL_TTL", 12*time.Hour); err != nil {
		return Config{}, err
	}

	cfg.LogLevel, err = logrus.ParseLevel(getEnv("LOG_LEVEL", "info"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	switch cfg.CredentialStore {
	case "memory", "redis":
	default:
		return Config{}, fmt.Errorf("invalid GAMEROOM_CREDENTIAL_STORE %q (want memory or redis)", cfg.CredentialStore)
	}

	if host := os.Getenv("PG_HOST"); host != "" {
		cfg.DatabaseURL = fmt.Sprintf(
			"postgres://%s:%s@%s:%s/%s",
			os.Getenv("POSTGRES_USER"),
			os.Getenv("POSTGRES_PASSWORD"),
			host,
			getEnv("PG_PORT", "5432"),
			os.Getenv("PG_DATABASE"),
		)
	}
	return cfg, nil
}

func wsFromHTTP(u string) string {
	switch {
	case strings.HasPrefix(u, "https://"):
		return "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		return "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u
}

// getEnv is a helper to read an environment variable or return a default value.
func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvInt is a helper to parse an environment variable as integer, else a default value.
func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func getEnvDuration(key string, def time.Duration) (time.Duration, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
