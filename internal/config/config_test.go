package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allKeys = []string{
	"HTTP_ADDR", "STORE_DRIVER", "SQLITE_PATH", "MONGO_URI", "MONGO_DATABASE",
	"REDIS_URL", "JWT_SECRET", "POLICY_PATH", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
}

// clearEnv blanks every key this package reads so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range allKeys {
		t.Setenv(key, "")
	}
}

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("JWT_SECRET", "s3cret")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, ":8080", cfg.HTTPAddr)
		assert.Equal(t, DriverMemory, cfg.StoreDriver)
		assert.Equal(t, "./data", cfg.SQLitePath)
		assert.Equal(t, "evcharge", cfg.MongoDatabase)
		assert.Equal(t, 10.0, cfg.RateLimitRPS)
		assert.Equal(t, 20, cfg.RateLimitBurst)
		assert.Empty(t, cfg.RedisURL)
	})

	t.Run("mongo with redis", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("JWT_SECRET", "s3cret")
		t.Setenv("STORE_DRIVER", "mongo")
		t.Setenv("MONGO_URI", "mongodb://localhost:27017")
		t.Setenv("MONGO_DATABASE", "evcharge_test")
		t.Setenv("REDIS_URL", "redis://localhost:6379/0")
		t.Setenv("RATE_LIMIT_RPS", "2.5")
		t.Setenv("RATE_LIMIT_BURST", "4")

		cfg, err := Load()
		require.NoError(t, err)
		assert.Equal(t, DriverMongo, cfg.StoreDriver)
		assert.Equal(t, "evcharge_test", cfg.MongoDatabase)
		assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
		assert.Equal(t, 2.5, cfg.RateLimitRPS)
		assert.Equal(t, 4, cfg.RateLimitBurst)
	})

	invalid := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "missing JWT_SECRET",
			env:     map[string]string{},
			wantErr: "JWT_SECRET is required",
		},
		{
			name:    "unknown driver",
			env:     map[string]string{"JWT_SECRET": "x", "STORE_DRIVER": "postgres"},
			wantErr: `unknown STORE_DRIVER "postgres"`,
		},
		{
			name:    "mongo without uri",
			env:     map[string]string{"JWT_SECRET": "x", "STORE_DRIVER": "mongo"},
			wantErr: "MONGO_URI is required",
		},
		{
			name:    "negative rps",
			env:     map[string]string{"JWT_SECRET": "x", "RATE_LIMIT_RPS": "-1"},
			wantErr: "RATE_LIMIT_RPS must be positive",
		},
		{
			name:    "malformed rps",
			env:     map[string]string{"JWT_SECRET": "x", "RATE_LIMIT_RPS": "ten"},
			wantErr: `RATE_LIMIT_RPS must be a number, got "ten"`,
		},
		{
			name:    "malformed burst",
			env:     map[string]string{"JWT_SECRET": "x", "RATE_LIMIT_BURST": "1.5"},
			wantErr: `RATE_LIMIT_BURST must be an integer, got "1.5"`,
		},
		{
			name:    "zero burst",
			env:     map[string]string{"JWT_SECRET": "x", "RATE_LIMIT_BURST": "0"},
			wantErr: "RATE_LIMIT_BURST must be positive",
		},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseNumbers(t *testing.T) {
	f, err := parseFloat("RPS", "", 3)
	require.NoError(t, err)
	assert.Equal(t, 3.0, f)
	f, err = parseFloat("RPS", "0.5", 3)
	require.NoError(t, err)
	assert.Equal(t, 0.5, f)
	_, err = parseFloat("RPS", "abc", 3)
	assert.EqualError(t, err, `RPS must be a number, got "abc"`)

	n, err := parseInt("BURST", "", 7)
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	n, err = parseInt("BURST", "12", 7)
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	_, err = parseInt("BURST", "x", 7)
	assert.EqualError(t, err, `BURST must be an integer, got "x"`)
}

func TestLoadWithFile_RealEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := dir + "/.env"
	content := "JWT_SECRET=from-file\nSTORE_DRIVER=sqlite\nSQLITE_PATH=/var/lib/evcharge\n"
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0o644))

	// godotenv.Load does NOT overwrite existing env vars, so we must unset them.
	for _, key := range allKeys {
		t.Setenv(key, "")
		_ = os.Unsetenv(key)
	}

	cfg, err := LoadWithFile(envFile)
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.JWTSecret)
	assert.Equal(t, DriverSQLite, cfg.StoreDriver)
	assert.Equal(t, "/var/lib/evcharge", cfg.SQLitePath)
}

func TestLoadWithFile_NonExistentFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := LoadWithFile("/nonexistent/.env")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.JWTSecret)
}

func TestLoadWithFile_GodotenvError(t *testing.T) {
	// A directory path causes godotenv to return a non-IsNotExist error
	dir := t.TempDir()
	_, err := LoadWithFile(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error loading .env file")
}

func TestValidate_AllFieldsSet(t *testing.T) {
	cfg := &Config{
		JWTSecret:      "x",
		StoreDriver:    DriverSQLite,
		RateLimitRPS:   1,
		RateLimitBurst: 1,
	}
	assert.NoError(t, cfg.Validate())
}
