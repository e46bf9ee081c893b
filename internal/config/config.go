// Package config loads and validates app config from env and an optional .env file using Viper.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// MinSecretLength is the shortest JWT/pepper secret accepted when APP_ENV=production.
const MinSecretLength = 32

// Device verification modes accepted by DEVICE_VERIFICATION.
const (
	DeviceVerificationLogOnly = "log_only"
	DeviceVerificationStrict  = "strict"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	// HTTPAddr is the address the HTTP API listens on (e.g. :3000).
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	// GRPCAddr is the address of the internal gRPC server; empty disables it.
	GRPCAddr string `mapstructure:"GRPC_ADDR"`
	// Env is the application environment (e.g. "development", "production").
	Env string `mapstructure:"APP_ENV"`
	// LogLevel is the zap level name (debug, info, warn, error).
	LogLevel string `mapstructure:"LOG_LEVEL"`
	// DatabaseURL is the Postgres DSN; empty selects the in-memory user repository.
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	// RedisURL is a redis:// URL; empty selects in-memory session and setup stores.
	RedisURL string `mapstructure:"REDIS_URL"`

	JWTAccessSecret  string `mapstructure:"JWT_ACCESS_SECRET"`
	JWTRefreshSecret string `mapstructure:"JWT_REFRESH_SECRET"`
	// PasswordPepper seeds the encryption master key and the password HMAC.
	PasswordPepper string `mapstructure:"PASSWORD_PEPPER"`
	JWTIssuer      string `mapstructure:"JWT_ISSUER"`
	JWTAudience    string `mapstructure:"JWT_AUDIENCE"`
	// JWTAccessTTL is the access token lifetime (e.g. "15m").
	JWTAccessTTL string `mapstructure:"JWT_ACCESS_TTL"`
	// JWTRefreshTTL is the refresh token lifetime (e.g. "168h").
	JWTRefreshTTL string `mapstructure:"JWT_REFRESH_TTL"`

	SessionCleanupInterval string `mapstructure:"SESSION_CLEANUP_INTERVAL"`
	// SessionGrace is how long revoked or idle sessions are kept before cleanup drops them.
	SessionGrace string `mapstructure:"SESSION_GRACE"`

	// BcryptCost is the bcrypt cost factor (4–31); default 12.
	BcryptCost       int `mapstructure:"BCRYPT_COST"`
	PBKDF2Iterations int `mapstructure:"PBKDF2_ITERATIONS"`

	TOTPIssuer      string `mapstructure:"TOTP_ISSUER"`
	TOTPWindow      int    `mapstructure:"TOTP_WINDOW"`
	BackupCodeCount int    `mapstructure:"BACKUP_CODE_COUNT"`

	// DeviceVerification is log_only or strict.
	DeviceVerification string `mapstructure:"DEVICE_VERIFICATION"`
	// StrictIPValidation rejects tokens presented from an IP other than the one they were issued to.
	StrictIPValidation bool `mapstructure:"STRICT_IP_VALIDATION"`

	// Comma-separated abuse lists.
	IPBlacklist       string `mapstructure:"IP_BLACKLIST"`
	BlockedCountries  string `mapstructure:"BLOCKED_COUNTRIES"`
	BlockedUserAgents string `mapstructure:"BLOCKED_USER_AGENTS"`
	HoneypotField     string `mapstructure:"HONEYPOT_FIELD"`
	// AbusePolicyFile optionally replaces the built-in Rego abuse policy.
	AbusePolicyFile string `mapstructure:"ABUSE_POLICY_FILE"`

	RateLimitLogin       int    `mapstructure:"RATE_LIMIT_LOGIN"`
	RateLimitLoginWindow string `mapstructure:"RATE_LIMIT_LOGIN_WINDOW"`
	RateLimitAPI         int    `mapstructure:"RATE_LIMIT_API"`
	RateLimitAPIWindow   string `mapstructure:"RATE_LIMIT_API_WINDOW"`

	// OTLPEndpoint is the OTLP gRPC collector (host:port); empty keeps telemetry no-op.
	OTLPEndpoint string `mapstructure:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPInsecure bool   `mapstructure:"OTEL_EXPORTER_OTLP_INSECURE"`

	// GeneratedSecrets lists the secret keys that were empty and got a process-random value.
	GeneratedSecrets []string `mapstructure:"-"`
}

// Load reads .env (if present), then builds and validates Config from the environment via Viper.
// Missing .env is ignored (e.g. in CI). Env vars override .env.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ignore ErrConfigFileNotFound

	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":3000")
	v.SetDefault("GRPC_ADDR", ":9090")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_URL", "")
	v.SetDefault("JWT_ACCESS_SECRET", "")
	v.SetDefault("JWT_REFRESH_SECRET", "")
	v.SetDefault("PASSWORD_PEPPER", "")
	v.SetDefault("JWT_ISSUER", "portfolio-cms")
	v.SetDefault("JWT_AUDIENCE", "portfolio-cms-admin")
	v.SetDefault("JWT_ACCESS_TTL", "15m")
	v.SetDefault("JWT_REFRESH_TTL", "168h") // 7d
	v.SetDefault("SESSION_CLEANUP_INTERVAL", "1h")
	v.SetDefault("SESSION_GRACE", "24h")
	v.SetDefault("BCRYPT_COST", 12)
	v.SetDefault("PBKDF2_ITERATIONS", 100000)
	v.SetDefault("TOTP_ISSUER", "Portfolio CMS")
	v.SetDefault("TOTP_WINDOW", 2)
	v.SetDefault("BACKUP_CODE_COUNT", 10)
	v.SetDefault("DEVICE_VERIFICATION", DeviceVerificationLogOnly)
	v.SetDefault("STRICT_IP_VALIDATION", false)
	v.SetDefault("IP_BLACKLIST", "")
	v.SetDefault("BLOCKED_COUNTRIES", "")
	v.SetDefault("BLOCKED_USER_AGENTS", "")
	v.SetDefault("HONEYPOT_FIELD", "website")
	v.SetDefault("ABUSE_POLICY_FILE", "")
	v.SetDefault("RATE_LIMIT_LOGIN", 5)
	v.SetDefault("RATE_LIMIT_LOGIN_WINDOW", "15m")
	v.SetDefault("RATE_LIMIT_API", 100)
	v.SetDefault("RATE_LIMIT_API_WINDOW", "1m")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", true)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HTTPAddr == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}

	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = 12
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		return nil, errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if cfg.PBKDF2Iterations < 1000 {
		return nil, errors.New("config: PBKDF2_ITERATIONS must be at least 1000")
	}
	if cfg.TOTPWindow < 0 || cfg.TOTPWindow > 10 {
		return nil, errors.New("config: TOTP_WINDOW must be between 0 and 10")
	}
	if cfg.BackupCodeCount <= 0 {
		return nil, errors.New("config: BACKUP_CODE_COUNT must be positive")
	}

	cfg.DeviceVerification = strings.ToLower(strings.TrimSpace(cfg.DeviceVerification))
	switch cfg.DeviceVerification {
	case DeviceVerificationLogOnly, DeviceVerificationStrict:
	default:
		return nil, fmt.Errorf("config: DEVICE_VERIFICATION must be %q or %q", DeviceVerificationLogOnly, DeviceVerificationStrict)
	}

	secrets := []struct {
		key string
		val *string
	}{
		{"JWT_ACCESS_SECRET", &cfg.JWTAccessSecret},
		{"JWT_REFRESH_SECRET", &cfg.JWTRefreshSecret},
		{"PASSWORD_PEPPER", &cfg.PasswordPepper},
	}
	for _, s := range secrets {
		generated, err := ensureSecret(s.key, s.val, cfg.IsProduction())
		if err != nil {
			return nil, err
		}
		if generated {
			cfg.GeneratedSecrets = append(cfg.GeneratedSecrets, s.key)
		}
	}
	if cfg.JWTAccessSecret == cfg.JWTRefreshSecret {
		return nil, errors.New("config: JWT_ACCESS_SECRET and JWT_REFRESH_SECRET must differ")
	}

	return &cfg, nil
}

// ensureSecret fills an empty secret with a random value outside production and
// enforces MinSecretLength in production.
func ensureSecret(key string, val *string, production bool) (bool, error) {
	if production {
		if len(*val) < MinSecretLength {
			return false, fmt.Errorf("config: %s must be at least %d characters when APP_ENV=production", key, MinSecretLength)
		}
		return false, nil
	}
	if *val != "" {
		return false, nil
	}
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return false, fmt.Errorf("config: generate %s: %w", key, err)
	}
	*val = hex.EncodeToString(b)
	return true, nil
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// AccessTTL parses JWTAccessTTL as a time.Duration. Returns 15m if unset or invalid.
func (c *Config) AccessTTL() time.Duration {
	return parseDuration(c.JWTAccessTTL, 15*time.Minute)
}

// RefreshTTL parses JWTRefreshTTL as a time.Duration. Returns 168h if unset or invalid.
func (c *Config) RefreshTTL() time.Duration {
	return parseDuration(c.JWTRefreshTTL, 168*time.Hour)
}

// CleanupInterval returns how often expired sessions and blacklist entries are swept (default 1h).
func (c *Config) CleanupInterval() time.Duration {
	return parseDuration(c.SessionCleanupInterval, time.Hour)
}

// Grace returns the session retention grace window (default 24h).
func (c *Config) Grace() time.Duration {
	return parseDuration(c.SessionGrace, 24*time.Hour)
}

// LoginWindow returns the login rate limit window (default 15m).
func (c *Config) LoginWindow() time.Duration {
	return parseDuration(c.RateLimitLoginWindow, 15*time.Minute)
}

// APIWindow returns the API rate limit window (default 1m).
func (c *Config) APIWindow() time.Duration {
	return parseDuration(c.RateLimitAPIWindow, time.Minute)
}

// IPBlacklistList returns the blacklisted client IPs.
func (c *Config) IPBlacklistList() []string { return splitList(c.IPBlacklist) }

// BlockedCountriesList returns blocked ISO country codes, upper-cased.
func (c *Config) BlockedCountriesList() []string {
	out := splitList(c.BlockedCountries)
	for i := range out {
		out[i] = strings.ToUpper(out[i])
	}
	return out
}

// BlockedUserAgentsList returns the User-Agent patterns to reject.
func (c *Config) BlockedUserAgentsList() []string { return splitList(c.BlockedUserAgents) }

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
