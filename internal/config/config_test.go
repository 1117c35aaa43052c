package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envFrom(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadFromEnvDefaults(t *testing.T) {
	cfg, err := LoadFromEnv(envFrom(map[string]string{
		"DB_DSN":     "postgres://localhost/allies?sslmode=disable",
		"JWT_SECRET": "secret",
	}))
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.Environment)
	assert.Equal(t, "allies-service", cfg.ServiceName)
	assert.Equal(t, ":8080", cfg.HTTPAddr())
	assert.Equal(t, ":8085", cfg.GRPCAddr)
	assert.Equal(t, DriverPostgres, cfg.DBDriver)
	assert.Equal(t, "app.events", cfg.EventsExchange)
	assert.Equal(t, "logs.events", cfg.LogsExchange)
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.Empty(t, cfg.AMQPURL)
}

func TestLoadFromEnvCORSOrigins(t *testing.T) {
	cfg, err := LoadFromEnv(envFrom(map[string]string{
		"DB_DSN":       "file:allies.db",
		"DB_DRIVER":    "sqlite3",
		"JWT_SECRET":   "secret",
		"CORS_ORIGINS": " https://mumzallies.ae, ,https://app.mumzallies.ae,https://mumzallies.ae",
	}))
	require.NoError(t, err)
	assert.Equal(t, DriverSQLite, cfg.DBDriver)
	assert.Equal(t, []string{"https://mumzallies.ae", "https://app.mumzallies.ae"}, cfg.CORSOrigins)
}

func TestLoadFromEnvErrors(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"missing dsn", map[string]string{"JWT_SECRET": "s"}, "DB_DSN: required"},
		{"missing secret", map[string]string{"DB_DSN": "x"}, "JWT_SECRET: required"},
		{"bad driver", map[string]string{"DB_DSN": "x", "JWT_SECRET": "s", "DB_DRIVER": "mysql"}, "DB_DRIVER: must be postgres or sqlite3"},
		{"bad env", map[string]string{"DB_DSN": "x", "JWT_SECRET": "s", "ENVIRONMENT": "staging"}, "ENVIRONMENT: must be one of local, dev, test, prod"},
		{"short prod secret", map[string]string{"DB_DSN": "x", "JWT_SECRET": "short", "ENVIRONMENT": "prod"}, "JWT_SECRET: must be at least 32 bytes in prod"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadFromEnv(envFrom(tc.env))
			require.EqualError(t, err, tc.want)
		})
	}
}
