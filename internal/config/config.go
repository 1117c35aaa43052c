package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

type Config struct {
	Environment    string
	ServiceName    string
	Port           string
	GRPCAddr       string
	DBDriver       string
	DBDSN          string
	JWTSecret      string
	AMQPURL        string
	EventsExchange string
	LogsExchange   string
	LogLevel       string
	CORSOrigins    []string
}

// Load reads an optional .env file from the working directory and then the
// process environment. Variables already set in the environment win.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf(".env: %w", err)
	}
	return LoadFromEnv(os.Getenv)
}

func LoadFromEnv(getenv func(string) string) (Config, error) {
	cfg := Config{
		Environment:    getEnv(getenv, "ENVIRONMENT", "local"),
		ServiceName:    getEnv(getenv, "SERVICE_NAME", "allies-service"),
		Port:           getEnv(getenv, "PORT", "8080"),
		GRPCAddr:       getEnv(getenv, "GRPC_ADDR", ":8085"),
		DBDriver:       getEnv(getenv, "DB_DRIVER", DriverPostgres),
		DBDSN:          getenv("DB_DSN"),
		JWTSecret:      getenv("JWT_SECRET"),
		AMQPURL:        getenv("AMQP_URL"),
		EventsExchange: getEnv(getenv, "EVENTS_EXCHANGE", "app.events"),
		LogsExchange:   getEnv(getenv, "LOGS_EXCHANGE", "logs.events"),
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL")),
		CORSOrigins:    parseCSV(getenv("CORS_ORIGINS")),
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"*"}
	}

	switch cfg.Environment {
	case "local", "dev", "test", "prod":
	default:
		return Config{}, errors.New("ENVIRONMENT: must be one of local, dev, test, prod")
	}

	switch cfg.DBDriver {
	case DriverPostgres, DriverSQLite:
	default:
		return Config{}, errors.New("DB_DRIVER: must be postgres or sqlite3")
	}

	if cfg.DBDSN == "" {
		return Config{}, errors.New("DB_DSN: required")
	}
	if cfg.JWTSecret == "" {
		return Config{}, errors.New("JWT_SECRET: required")
	}
	if cfg.IsProd() && len(cfg.JWTSecret) < 32 {
		return Config{}, errors.New("JWT_SECRET: must be at least 32 bytes in prod")
	}

	return cfg, nil
}

func (c Config) IsProd() bool { return c.Environment == "prod" }

func (c Config) HTTPAddr() string { return ":" + c.Port }

func getEnv(getenv func(string) string, key, fallback string) string {
	value := strings.TrimSpace(getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func parseCSV(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	seen := make(map[string]bool, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
