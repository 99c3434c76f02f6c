package config

import (
	"crypto/rand"
	"encoding/base64"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

type Config struct {
	ServerPort    string
	StoreDriver   string
	DBPath        string
	TokenSecret   string
	TokenTTL      time.Duration
	AdminKey      string
	StoreTimeout  time.Duration
	BcryptCost    int
	LogLevel      string
	AllowedOrigin string

	// Set when the secret or admin key had to be generated at startup.
	GeneratedTokenSecret bool
	GeneratedAdminKey    bool
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ServerPort:    getEnv("SERVER_PORT", ":8080"),
		StoreDriver:   getEnv("STORE_DRIVER", DriverSQLite),
		DBPath:        getEnv("DB_PATH", "./prizepick.db"),
		TokenSecret:   os.Getenv("TOKEN_SECRET"),
		AdminKey:      os.Getenv("ADMIN_KEY"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		AllowedOrigin: os.Getenv("ALLOWED_ORIGIN"),
	}

	var err error
	if cfg.TokenTTL, err = getDuration("TOKEN_TTL", 30*time.Minute); err != nil {
		return nil, err
	}
	if cfg.StoreTimeout, err = getDuration("STORE_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}
	if cfg.BcryptCost, err = getInt("BCRYPT_COST", 10); err != nil {
		return nil, err
	}

	if cfg.TokenSecret == "" {
		if cfg.TokenSecret, err = generateSecret(); err != nil {
			return nil, err
		}
		cfg.GeneratedTokenSecret = true
	}
	if cfg.AdminKey == "" {
		if cfg.AdminKey, err = generateSecret(); err != nil {
			return nil, err
		}
		cfg.GeneratedAdminKey = true
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return time.ParseDuration(v)
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func generateSecret() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}
