package config

import (
	"net/netip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/soundboard/internal/repository"
)

const testSecret = "0123456789abcdef0123"

func TestLoad_Defaults(t *testing.T) {
	v := New()
	v.Set(KeyJWTSecret, testSecret)

	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "data/soundboard.db", cfg.DBPath)
	assert.Equal(t, 24*time.Hour, cfg.JWT.Expiry)
	assert.Equal(t, 7*24*time.Hour, cfg.Session.TTL)
	assert.Equal(t, repository.CategorySetNull, cfg.Category.OnDelete)
	assert.Equal(t, 90, cfg.Audit.RetentionDays)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Empty(t, cfg.Proxy.Trusted)
}

func TestLoad_TrustedProxies(t *testing.T) {
	t.Setenv("SOUNDBOARD_JWT_SECRET", testSecret)
	t.Setenv("SOUNDBOARD_PROXY_TRUSTED", "10.1.2.3/8, 127.0.0.1")

	cfg, err := Load(New())
	require.NoError(t, err)
	assert.Equal(t, []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("127.0.0.1/32"),
	}, cfg.Proxy.Trusted)
}

func TestLoad_TrustedProxiesInvalid(t *testing.T) {
	v := New()
	v.Set(KeyJWTSecret, testSecret)
	v.Set(KeyTrustedProxies, []string{"not-an-ip"})

	_, err := Load(v)
	assert.Error(t, err)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("SOUNDBOARD_PORT", "9090")
	t.Setenv("SOUNDBOARD_JWT_SECRET", testSecret)
	t.Setenv("SOUNDBOARD_CATEGORY_ON_DELETE", "cascade")
	t.Setenv("SOUNDBOARD_REDIS_ADDR", "localhost:6379")
	t.Setenv("SOUNDBOARD_SESSION_TTL", "2h")

	cfg, err := Load(New())
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, repository.CategoryCascade, cfg.Category.OnDelete)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 2*time.Hour, cfg.Session.TTL)
}

func TestReadFile_YAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "soundboard.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
port: 7070
jwt:
  secret: from-file-secret-123
log:
  level: debug
  format: json
`), 0o600))

	v := New()
	require.NoError(t, ReadFile(v, path))
	cfg, err := Load(v)
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Port)
	assert.Equal(t, "from-file-secret-123", cfg.JWT.Secret)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestReadFile_Missing(t *testing.T) {
	assert.Error(t, ReadFile(New(), filepath.Join(t.TempDir(), "nope.yaml")))
	assert.NoError(t, ReadFile(New(), ""))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		set  map[string]any
	}{
		{"short secret", map[string]any{KeyJWTSecret: "short"}},
		{"bad port", map[string]any{KeyPort: 70000}},
		{"unknown delete policy", map[string]any{KeyCategoryOnDelete: "orphan"}},
		{"bad log format", map[string]any{KeyLogFormat: "xml"}},
		{"bad log level", map[string]any{KeyLogLevel: "loud"}},
		{"zero retention", map[string]any{KeyAuditRetention: 0}},
		{"admin without password", map[string]any{KeyAdminUsername: "root"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := New()
			v.Set(KeyJWTSecret, testSecret)
			for k, val := range tt.set {
				v.Set(k, val)
			}
			_, err := Load(v)
			assert.Error(t, err)
		})
	}
}
