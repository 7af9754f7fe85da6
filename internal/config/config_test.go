package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	cfg := Defaults()
	cfg.Authority.Secret = "test-secret"
	cfg.S3.AccessKey = "ak"
	cfg.S3.SecretKey = "sk"
	return cfg
}

func TestValidate_DefaultsPlusSecret(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidate_MissingAuthoritySecret(t *testing.T) {
	cfg := validConfig()
	cfg.Authority.Secret = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "authority")
}

func TestValidate_EncryptedSecretNeedsPassword(t *testing.T) {
	cfg := validConfig()
	cfg.Authority.Secret = ""
	cfg.Authority.EncryptedSecretPath = "/etc/fluster/secret.enc"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "secret_password")

	cfg.Authority.SecretPassword = "pw"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_BadMode(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "scrape"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mode")
}

func TestValidate_EngineBounds(t *testing.T) {
	cfg := validConfig()
	cfg.Engine.OracleMaxStaleness = duration{0}
	cfg.Engine.AutomationFee = 0
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "oracle_max_staleness")
	assert.Contains(t, err.Error(), "automation_fee")
}

func TestValidate_DSNSkipsHostChecks(t *testing.T) {
	cfg := validConfig()
	cfg.Postgres.DSN = "postgres://u:p@db:5432/fluster"
	cfg.Postgres.Host = ""
	cfg.Postgres.Database = ""
	assert.NoError(t, cfg.Validate())
}

func TestLoad_TOMLAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
mode = "serve"

[engine]
oracle_max_staleness = "5s"
automation_fee = 42

[authority]
secret = "file-secret"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv("FLUSTER_MODE", "dispatch")
	t.Setenv("FLUSTER_AUTHORITY_SECRET", "env-secret")
	t.Setenv("FLUSTER_ENGINE_RATE_LIMIT", "7")

	cfg, err := Load(path)
	require.NoError(t, err)

	// env beats the file, the file beats the defaults
	assert.Equal(t, "dispatch", cfg.Mode)
	assert.Equal(t, "env-secret", cfg.Authority.Secret)
	assert.Equal(t, 7, cfg.Engine.RateLimit)
	assert.Equal(t, 5*time.Second, cfg.Engine.OracleMaxStaleness.Duration)
	assert.Equal(t, uint64(42), cfg.Engine.AutomationFee)

	// untouched sections keep their defaults
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 100, cfg.Scheduler.BatchSize)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestRedactedConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Authority.Secret = "super-secret"
	cfg.Postgres.Password = "db-pass"
	cfg.Redis.Password = "redis-pass"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Authority.Secret)
	assert.Equal(t, "***", red.Postgres.Password)
	assert.Equal(t, "***", red.Redis.Password)

	// the original is left untouched
	assert.Equal(t, "super-secret", cfg.Authority.Secret)
}
