// Package config loads server settings from defaults, an optional YAML file,
// SOUNDBOARD_* environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sakif/soundboard/internal/repository"
)

// EnvPrefix namespaces environment variables: SOUNDBOARD_PORT, SOUNDBOARD_JWT_SECRET, ...
const EnvPrefix = "SOUNDBOARD"

// Keys shared between flag binding and lookups.
const (
	KeyPort              = "port"
	KeyDBPath            = "db_path"
	KeyUploadDir         = "upload_dir"
	KeyLogLevel          = "log.level"
	KeyLogFormat         = "log.format"
	KeyJWTSecret         = "jwt.secret"
	KeyJWTExpiry         = "jwt.expiry"
	KeySessionTTL        = "session.ttl"
	KeyCookieSecure      = "session.cookie_secure"
	KeyRedisAddr         = "redis.addr"
	KeyRedisPassword     = "redis.password"
	KeyRedisDB           = "redis.db"
	KeyRedisPrefix       = "redis.prefix"
	KeyGitHubEnabled     = "github.enabled"
	KeyGitHubAPIURL      = "github.api_url"
	KeyAuditQueueSize    = "audit.queue_size"
	KeyAuditWorkers      = "audit.workers"
	KeyAuditRetention    = "audit.retention_days"
	KeyLoginRate         = "login.rate"
	KeyLoginBurst        = "login.burst"
	KeyCategoryOnDelete  = "category.on_delete"
	KeyAdminUsername     = "admin.username"
	KeyAdminPassword     = "admin.password"
	KeyUploadMaxBytes    = "upload.max_bytes"
	KeyShutdownTimeout   = "shutdown_timeout"
	KeyTrustedProxies    = "proxy.trusted"
)

type Config struct {
	Port            int
	DBPath          string
	UploadDir       string
	UploadMaxBytes  int64
	ShutdownTimeout time.Duration

	Log      LogConfig
	JWT      JWTConfig
	Session  SessionConfig
	Redis    RedisConfig
	GitHub   GitHubConfig
	Audit    AuditConfig
	Login    LoginConfig
	Category CategoryConfig
	Admin    AdminConfig
	Proxy    ProxyConfig
}

type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // text or json
}

type JWTConfig struct {
	Secret string
	Expiry time.Duration
}

type SessionConfig struct {
	TTL          time.Duration
	CookieSecure bool
}

// RedisConfig enables the shared session store when Addr is set.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

type GitHubConfig struct {
	Enabled bool
	APIURL  string
}

type AuditConfig struct {
	QueueSize     int
	Workers       int
	RetentionDays int
}

type LoginConfig struct {
	Rate  float64 // attempts per minute per IP
	Burst int
}

type CategoryConfig struct {
	OnDelete repository.CategoryDeletePolicy
}

// AdminConfig bootstraps a super-admin account on first start.
type AdminConfig struct {
	Username string
	Password string
}

// ProxyConfig lists the reverse proxies whose X-Forwarded-For / X-Real-IP
// headers are believed. With none, the client address is the TCP peer.
type ProxyConfig struct {
	Trusted []netip.Prefix
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyPort, 8080)
	v.SetDefault(KeyDBPath, "data/soundboard.db")
	v.SetDefault(KeyUploadDir, "uploads")
	v.SetDefault(KeyUploadMaxBytes, 10<<20)
	v.SetDefault(KeyShutdownTimeout, 30*time.Second)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")
	v.SetDefault(KeyJWTSecret, "")
	v.SetDefault(KeyJWTExpiry, 24*time.Hour)
	v.SetDefault(KeySessionTTL, 7*24*time.Hour)
	v.SetDefault(KeyCookieSecure, false)
	v.SetDefault(KeyRedisAddr, "")
	v.SetDefault(KeyRedisPassword, "")
	v.SetDefault(KeyRedisDB, 0)
	v.SetDefault(KeyRedisPrefix, "soundboard:session")
	v.SetDefault(KeyGitHubEnabled, false)
	v.SetDefault(KeyGitHubAPIURL, "https://api.github.com")
	v.SetDefault(KeyAuditQueueSize, 256)
	v.SetDefault(KeyAuditWorkers, 2)
	v.SetDefault(KeyAuditRetention, 90)
	v.SetDefault(KeyLoginRate, 10.0)
	v.SetDefault(KeyLoginBurst, 5)
	v.SetDefault(KeyCategoryOnDelete, string(repository.CategorySetNull))
	v.SetDefault(KeyAdminUsername, "")
	v.SetDefault(KeyAdminPassword, "")
	v.SetDefault(KeyTrustedProxies, []string{})
}

// New returns a viper instance with defaults and environment lookup
// configured. Nested keys map to env names with "." replaced by "_", so
// jwt.secret is read from SOUNDBOARD_JWT_SECRET.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// ReadFile merges a YAML config file into v. An empty path is a no-op.
func ReadFile(v *viper.Viper, path string) error {
	if path == "" {
		return nil
	}
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("config: reading %s: %w", path, err)
	}
	return nil
}

// Load builds a validated Config from v.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		Port:            v.GetInt(KeyPort),
		DBPath:          v.GetString(KeyDBPath),
		UploadDir:       v.GetString(KeyUploadDir),
		UploadMaxBytes:  v.GetInt64(KeyUploadMaxBytes),
		ShutdownTimeout: v.GetDuration(KeyShutdownTimeout),
		Log: LogConfig{
			Level:  strings.ToLower(v.GetString(KeyLogLevel)),
			Format: strings.ToLower(v.GetString(KeyLogFormat)),
		},
		JWT: JWTConfig{
			Secret: v.GetString(KeyJWTSecret),
			Expiry: v.GetDuration(KeyJWTExpiry),
		},
		Session: SessionConfig{
			TTL:          v.GetDuration(KeySessionTTL),
			CookieSecure: v.GetBool(KeyCookieSecure),
		},
		Redis: RedisConfig{
			Addr:     v.GetString(KeyRedisAddr),
			Password: v.GetString(KeyRedisPassword),
			DB:       v.GetInt(KeyRedisDB),
			Prefix:   v.GetString(KeyRedisPrefix),
		},
		GitHub: GitHubConfig{
			Enabled: v.GetBool(KeyGitHubEnabled),
			APIURL:  v.GetString(KeyGitHubAPIURL),
		},
		Audit: AuditConfig{
			QueueSize:     v.GetInt(KeyAuditQueueSize),
			Workers:       v.GetInt(KeyAuditWorkers),
			RetentionDays: v.GetInt(KeyAuditRetention),
		},
		Login: LoginConfig{
			Rate:  v.GetFloat64(KeyLoginRate),
			Burst: v.GetInt(KeyLoginBurst),
		},
		Category: CategoryConfig{
			OnDelete: repository.CategoryDeletePolicy(strings.ToLower(v.GetString(KeyCategoryOnDelete))),
		},
		Admin: AdminConfig{
			Username: v.GetString(KeyAdminUsername),
			Password: v.GetString(KeyAdminPassword),
		},
	}
	trusted, err := parsePrefixes(v.GetStringSlice(KeyTrustedProxies))
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", KeyTrustedProxies, err)
	}
	cfg.Proxy.Trusted = trusted

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parsePrefixes accepts CIDRs and bare addresses. Entries may also be
// comma separated, which is how a single environment variable lists them.
func parsePrefixes(entries []string) ([]netip.Prefix, error) {
	var prefixes []netip.Prefix
	for _, entry := range entries {
		for _, raw := range strings.Split(entry, ",") {
			raw = strings.TrimSpace(raw)
			if raw == "" {
				continue
			}
			if strings.Contains(raw, "/") {
				p, err := netip.ParsePrefix(raw)
				if err != nil {
					return nil, err
				}
				prefixes = append(prefixes, p.Masked())
				continue
			}
			addr, err := netip.ParseAddr(raw)
			if err != nil {
				return nil, err
			}
			prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
		}
	}
	return prefixes, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.DBPath == "" {
		errs = append(errs, errors.New("db_path is required"))
	}
	if c.UploadDir == "" {
		errs = append(errs, errors.New("upload_dir is required"))
	}
	if len(c.JWT.Secret) < 16 {
		errs = append(errs, errors.New("jwt.secret must be at least 16 characters"))
	}
	if !c.Category.OnDelete.Valid() {
		errs = append(errs, fmt.Errorf("category.on_delete %q must be set_null or cascade", c.Category.OnDelete))
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.Audit.RetentionDays < 1 {
		errs = append(errs, errors.New("audit.retention_days must be at least 1"))
	}
	if (c.Admin.Username == "") != (c.Admin.Password == "") {
		errs = append(errs, errors.New("admin.username and admin.password must be set together"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// SlogLevel parses Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("log.level %q: %w", l.Level, err)
	}
	return level, nil
}
