package config

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadRequiresJWTKey(t *testing.T) {
	t.Setenv("ASCMS_CONFIG_FILE", "")
	t.Setenv("ASCMS_JWT_KEY", "")
	_, err := LoadFrom("", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ASCMS_JWT_KEY")
}

func TestLoadDefaultsAndEnvOverrides(t *testing.T) {
	t.Setenv("ASCMS_CONFIG_FILE", "")
	t.Setenv("ASCMS_JWT_KEY", "test-signing-key")
	t.Setenv("ASCMS_JWT_ACCESS_TTL", "15m")
	t.Setenv("ASCMS_CORS_ORIGINS", "https://a.example,https://b.example")

	cfg, err := LoadFrom("", "")
	require.NoError(t, err)
	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, 15*time.Minute, cfg.JWT.AccessTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.JWT.RefreshTTL)
	assert.Equal(t, "AS-CMS", cfg.JWT.Issuer)
	assert.Equal(t, "AS-CMS-Users", cfg.JWT.Audience)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.HTTP.CORSOrigins)
	assert.False(t, cfg.SMTP.Enabled())
	assert.False(t, cfg.Storage.Enabled())
}

func TestYAMLFileThenEnvWins(t *testing.T) {
	path := writeFile(t, "ascms.yaml", `
env: test
http:
  addr: ":9000"
jwt:
  key: from-yaml
  refresh_ttl: 48h
storage:
  endpoint: localhost:9000
  bucket: avatars
`)
	t.Setenv("ASCMS_CONFIG_FILE", "")
	t.Setenv("ASCMS_JWT_KEY", "")
	t.Setenv("ASCMS_HTTP_ADDR", ":7000")

	cfg, err := LoadFrom("", path)
	require.NoError(t, err)
	assert.Equal(t, EnvTest, cfg.Env)
	assert.Equal(t, ":7000", cfg.HTTP.Addr)
	assert.Equal(t, "from-yaml", cfg.JWT.Key)
	assert.Equal(t, 48*time.Hour, cfg.JWT.RefreshTTL)
	assert.Equal(t, 60*time.Minute, cfg.JWT.AccessTTL)
	assert.True(t, cfg.Storage.Enabled())
}

func TestDotEnvDoesNotOverrideEnvironment(t *testing.T) {
	path := writeFile(t, ".env", "ASCMS_JWT_KEY=from-dotenv\nASCMS_TEST_DOTENV_ONLY=1\n")
	t.Setenv("ASCMS_CONFIG_FILE", "")
	t.Setenv("ASCMS_JWT_KEY", "from-env")
	t.Cleanup(func() { _ = os.Unsetenv("ASCMS_TEST_DOTENV_ONLY") })

	cfg, err := LoadFrom(path, "")
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.JWT.Key)
	assert.Equal(t, "1", os.Getenv("ASCMS_TEST_DOTENV_ONLY"))
}

func TestMissingDotEnvIsIgnored(t *testing.T) {
	t.Setenv("ASCMS_CONFIG_FILE", "")
	t.Setenv("ASCMS_JWT_KEY", "k")
	_, err := LoadFrom(filepath.Join(t.TempDir(), "absent.env"), "")
	require.NoError(t, err)
}

func TestValidate(t *testing.T) {
	base := Default()
	base.JWT.Key = "k"
	require.NoError(t, base.Validate())

	prod := base
	prod.Env = EnvProduction
	assert.ErrorContains(t, prod.Validate(), "ASCMS_PG_DSN")

	smtp := base
	smtp.SMTP.Host = "smtp.example.com"
	assert.ErrorContains(t, smtp.Validate(), "ASCMS_SMTP_FROM")

	storage := base
	storage.Storage.Endpoint = "localhost:9000"
	assert.ErrorContains(t, storage.Validate(), "ASCMS_S3_BUCKET")

	ttl := base
	ttl.JWT.AccessTTL = 0
	assert.ErrorContains(t, ttl.Validate(), "lifetimes")

	env := base
	env.Env = "staging"
	assert.ErrorContains(t, env.Validate(), "staging")
}

func TestTrustedProxies(t *testing.T) {
	t.Setenv("ASCMS_CONFIG_FILE", "")
	t.Setenv("ASCMS_JWT_KEY", "k")
	t.Setenv("ASCMS_TRUSTED_PROXIES", "10.0.0.0/8, 192.168.1.7,::ffff:172.16.0.1")

	cfg, err := LoadFrom("", "")
	require.NoError(t, err)
	prefixes, err := cfg.HTTP.TrustedProxyPrefixes()
	require.NoError(t, err)
	assert.Equal(t, []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("192.168.1.7/32"),
		netip.MustParsePrefix("172.16.0.1/32"),
	}, prefixes)

	bad := Default()
	bad.JWT.Key = "k"
	bad.HTTP.TrustedProxies = []string{"proxy.internal"}
	assert.ErrorContains(t, bad.Validate(), "ASCMS_TRUSTED_PROXIES")

	none := Default()
	prefixes, err = none.HTTP.TrustedProxyPrefixes()
	require.NoError(t, err)
	assert.Empty(t, prefixes)
}
