package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultJWTSecret は開発用のデフォルト署名鍵。本番環境では必ず上書きすること。
const DefaultJWTSecret = "dev-secret-change-in-production"

// セッションストアの種別。
const (
	SessionStorePostgres = "postgres"
	SessionStoreRedis    = "redis"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Token
	JWTSecret   string
	JWTLifetime time.Duration

	// OAuth（3項目すべて設定された場合のみGoogleサインインを有効化）
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Session
	SessionMaxAge        int
	SessionStore         string
	RedisURL             string
	SessionRetentionDays int

	// Rate Limit（1分あたりのリクエスト数）
	RateLimitGeneral int
	RateLimitAuth    int

	// Logging
	LogLevel string

	// Server
	AppEnv     string
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// GoogleEnabled はGoogleサインインの設定が揃っているかどうかを返す。
func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != "" && c.GoogleRedirectURL != ""
}

// IsProduction は本番環境として起動しているかどうかを返す。
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// UsesDefaultJWTSecret は開発用の署名鍵のまま起動しているかどうかを返す。
func (c *Config) UsesDefaultJWTSecret() bool {
	return c.JWTSecret == DefaultJWTSecret
}

// Load は環境変数からConfigを読み込む。
// CONFIG_FILEが指定されている場合、環境変数で未設定のキーのみYAMLファイルの値で補う。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	src := &source{}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		values, err := readConfigFile(path)
		if err != nil {
			return nil, err
		}
		src.file = values
	}

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = src.getString("DATABASE_URL", "")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.JWTSecret = src.getString("JWT_SECRET", DefaultJWTSecret)
	cfg.JWTLifetime = src.getDuration("JWT_LIFETIME", 30*24*time.Hour)
	cfg.GoogleClientID = src.getString("GOOGLE_CLIENT_ID", "")
	cfg.GoogleClientSecret = src.getString("GOOGLE_CLIENT_SECRET", "")
	cfg.GoogleRedirectURL = src.getString("GOOGLE_REDIRECT_URL", "")
	cfg.SessionMaxAge = src.getInt("SESSION_MAX_AGE", 2592000)
	cfg.SessionStore = strings.ToLower(src.getString("SESSION_STORE", SessionStorePostgres))
	cfg.RedisURL = src.getString("REDIS_URL", "")
	cfg.SessionRetentionDays = src.getInt("SESSION_RETENTION_DAYS", 7)
	cfg.RateLimitGeneral = src.getInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitAuth = src.getInt("RATE_LIMIT_AUTH", 10)
	cfg.LogLevel = src.getString("LOG_LEVEL", "info")
	cfg.AppEnv = src.getString("APP_ENV", "development")
	cfg.ServerPort = src.getString("SERVER_PORT", "8080")
	cfg.BaseURL = src.getString("BASE_URL", "http://localhost:8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = src.getString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = src.getString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	switch cfg.SessionStore {
	case SessionStorePostgres:
	case SessionStoreRedis:
		if cfg.RedisURL == "" {
			return nil, fmt.Errorf("REDIS_URL is required when SESSION_STORE=%s", SessionStoreRedis)
		}
	default:
		return nil, fmt.Errorf("unsupported SESSION_STORE: %q", cfg.SessionStore)
	}

	return cfg, nil
}

// readConfigFile は環境変数名をキーとするフラットなYAMLファイルを読み込む。
func readConfigFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	values := make(map[string]string, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		values[strings.ToUpper(k)] = fmt.Sprint(v)
	}
	return values, nil
}

// source は環境変数と設定ファイルの値を優先順位付きで参照する。
type source struct {
	file map[string]string
}

func (s *source) lookup(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return s.file[key]
}

func (s *source) getString(key, defaultVal string) string {
	if v := s.lookup(key); v != "" {
		return v
	}
	return defaultVal
}

func (s *source) getInt(key string, defaultVal int) int {
	v := s.lookup(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

// getDuration はGoのduration表記に加え、"30d" のような日数表記を受け付ける。
func (s *source) getDuration(key string, defaultVal time.Duration) time.Duration {
	v := s.lookup(key)
	if v == "" {
		return defaultVal
	}
	d, err := ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// ParseDuration は "30d" 形式の日数表記またはtime.ParseDurationの表記を解釈する。
func ParseDuration(v string) (time.Duration, error) {
	v = strings.TrimSpace(v)
	if days, ok := strings.CutSuffix(v, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid day duration: %q", v)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive: %q", v)
	}
	return d, nil
}
