package apikit

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"golang.org/x/crypto/bcrypt"
)

var configEnv = []string{
	"APIKIT_SERVER_ADDRESS", "DATABASE_URL", "APIKIT_DATABASE_URL",
	"JWT_SECRET", "APIKIT_JWT_SECRET", "APIKIT_JWT_EXPIRES_IN", "APIKIT_BCRYPT_COST",
	"REDIS_ADDR", "APIKIT_REDIS_ADDRESS", "APIKIT_REDIS_PASSWORD",
	"API_URL", "APIKIT_LOG_LEVEL", "APIKIT_LOG_ENCODING",
	"APIKIT_TRUSTED_PROXIES", "APIKIT_MAX_BODY_BYTES",
}

func clearConfigEnv(t *testing.T) {
	t.Helper()
	for _, key := range configEnv {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	clearConfigEnv(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, DefaultMaxBodyBytes, cfg.Server.MaxBodyBytes)
	assert.Empty(t, cfg.Server.TrustedProxies)
	assert.Equal(t, "HS256", cfg.Auth.JWT.Algorithm)
	assert.Equal(t, bcrypt.DefaultCost, cfg.Auth.BcryptCost)
	assert.Equal(t, NewPagingConfig(), cfg.Paging)
	assert.Equal(t, DefaultPoolConfig(), cfg.Database.Pool)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	clearConfigEnv(t)
	path := writeConfig(t, `
server:
  address: ":9090"
  read_timeout: 5s
  trusted_proxies: ["10.0.0.1"]
  max_body_bytes: 2048
database:
  url: postgres://file
  pool:
    max_open_connections: 7
auth:
  jwt:
    secret: from-file
    expires_in: 1h
  bcrypt_cost: 4
paging:
  default_limit: 20
  max_limit: 200
redis:
  address: localhost:6379
  key_prefix: notes
log:
  level: debug
  encoding: console
`)
	t.Setenv("APIKIT_DATABASE_URL", "postgres://env")
	t.Setenv("APIKIT_JWT_SECRET", "from-env")
	t.Setenv("APIKIT_TRUSTED_PROXIES", "10.0.0.0/8, 192.168.1.1")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 10*time.Second, cfg.Server.WriteTimeout)
	assert.Equal(t, []string{"10.0.0.0/8", "192.168.1.1"}, cfg.Server.TrustedProxies)
	assert.Equal(t, int64(2048), cfg.Server.MaxBodyBytes)
	assert.Equal(t, "postgres://env", cfg.Database.URL)
	assert.Equal(t, 7, cfg.Database.Pool.MaxOpenConnections)
	assert.Equal(t, "from-env", cfg.Auth.JWT.Secret)
	assert.Equal(t, time.Hour, cfg.Auth.JWT.ExpiresIn)
	assert.Equal(t, 4, cfg.Auth.BcryptCost)
	assert.Equal(t, PagingConfig{DefaultLimit: 20, MaxLimit: 200}, cfg.Paging)
	assert.Equal(t, "localhost:6379", cfg.Redis.Address)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Encoding)
}

func TestLoadConfig_Errors(t *testing.T) {
	tests := []struct {
		name string
		file string
		env  map[string]string
	}{
		{name: "missing file", file: "-"},
		{name: "bad yaml", file: "server: [oops"},
		{name: "bad expiry", env: map[string]string{"APIKIT_JWT_EXPIRES_IN": "soon"}},
		{name: "bad cost", env: map[string]string{"APIKIT_BCRYPT_COST": "high"}},
		{name: "cost out of range", env: map[string]string{"APIKIT_BCRYPT_COST": "99"}},
		{name: "bad level", env: map[string]string{"APIKIT_LOG_LEVEL": "loud"}},
		{name: "bad encoding", env: map[string]string{"APIKIT_LOG_ENCODING": "xml"}},
		{name: "bad trusted proxy", env: map[string]string{"APIKIT_TRUSTED_PROXIES": "not-an-ip"}},
		{name: "bad body limit", env: map[string]string{"APIKIT_MAX_BODY_BYTES": "1MB"}},
		{name: "default above max", file: "paging:\n  default_limit: 50\n  max_limit: 10\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearConfigEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			path := ""
			switch tt.file {
			case "":
			case "-":
				path = filepath.Join(t.TempDir(), "missing.yaml")
			default:
				path = writeConfig(t, tt.file)
			}
			cfg, err := LoadConfig(path)
			assert.Error(t, err)
			assert.Nil(t, cfg)
		})
	}
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(LogConfig{Level: "debug", Encoding: "console"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger, err = NewLogger(LogConfig{Level: "warn"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))

	_, err = NewLogger(LogConfig{Level: "loud"})
	assert.Error(t, err)
}
