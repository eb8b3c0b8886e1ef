package bootstrap

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds everything loaded from the environment at startup.
type Config struct {
	MongoURI        string
	MongoDatabase   string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	ServerPort      string
	LogLevel        string
	AppEnv          string
	KeyPrefix       string
	RateLimitMax    int
	RateLimitWindow time.Duration
	ExecutorBackend string // "docker" or "remote"
	RemoteExecURL   string
	ExecTimeout     time.Duration
}

// LoadConfig reads configuration from the environment, with a .env file as
// an optional overlay for development.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		MongoURI:        os.Getenv("MONGO_URI"),
		MongoDatabase:   os.Getenv("MONGO_DB"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		ServerPort:      os.Getenv("SERVER_PORT"),
		LogLevel:        os.Getenv("LOG_LEVEL"),
		AppEnv:          os.Getenv("APP_ENV"),
		KeyPrefix:       os.Getenv("REDIS_KEY_PREFIX"),
		ExecutorBackend: os.Getenv("EXECUTOR_BACKEND"),
		RemoteExecURL:   os.Getenv("REMOTE_EXEC_URL"),
		RateLimitMax:    100,
		RateLimitWindow: 1 * time.Second,
		ExecTimeout:     30 * time.Second,
	}

	cfg.RedisDB, _ = strconv.Atoi(os.Getenv("REDIS_DB"))

	if v := os.Getenv("EXEC_TIMEOUT_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.ExecTimeout = time.Duration(secs) * time.Second
		}
	}

	if cfg.MongoDatabase == "" {
		cfg.MongoDatabase = "codehive"
	}
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.AppEnv == "" {
		cfg.AppEnv = "development"
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "ch:"
	}
	if cfg.ExecutorBackend == "" {
		cfg.ExecutorBackend = "docker"
	}
	if cfg.MongoURI == "" {
		return nil, fmt.Errorf("environment variable MONGO_URI must be set")
	}
	if cfg.RedisAddr == "" {
		return nil, fmt.Errorf("environment variable REDIS_ADDR must be set")
	}
	if cfg.ExecutorBackend != "docker" && cfg.ExecutorBackend != "remote" {
		return nil, fmt.Errorf("EXECUTOR_BACKEND must be 'docker' or 'remote', got %q", cfg.ExecutorBackend)
	}
	if cfg.ExecutorBackend == "remote" && cfg.RemoteExecURL == "" {
		return nil, fmt.Errorf("environment variable REMOTE_EXEC_URL must be set for the remote executor backend")
	}

	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		logrus.Warnf("Invalid LOG_LEVEL '%s', using default 'info'", cfg.LogLevel)
		cfg.LogLevel = "info"
	}

	return cfg, nil
}
