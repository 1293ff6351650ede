package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultJWTSecret is the development placeholder; it is rejected in production.
const DefaultJWTSecret = "dev-secret-change-me"

// Config holds all configuration required by the API process.
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Kafka     KafkaConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// SSLMode is kept explicit for AWS-ready posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string

	// Pool sizing. Every request that verifies fully, rotates a refresh
	// token or lists sessions takes a connection.
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
}

type RedisConfig struct {
	Host string
	Port int
}

type AuthConfig struct {
	JWTSecret        string
	JWTRefreshSecret string
	JWTIssuer        string
	JWTAudience      string
	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration

	// RequireVerified rejects logins for accounts without a verified email.
	RequireVerified bool
	// SecureCookies is forced on in production.
	SecureCookies bool
}

// Window is one fixed-window limit: Max attempts per Window.
type Window struct {
	Max    int
	Window time.Duration
}

type RateLimitConfig struct {
	// Backend selects where counters live: "memory" or "redis".
	Backend    string
	Login      Window
	Refresh    Window
	SwitchNode Window

	// API throttle, token bucket per client IP.
	APIRate  float64
	APIBurst int
}

type KafkaConfig struct {
	Brokers    []string
	AuditTopic string
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := mustInt("DB_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))
	c.DB.MaxOpenConns, parseErrs = optInt(parseErrs, "DB_MAX_OPEN_CONNS")
	c.DB.MaxIdleConns, parseErrs = optInt(parseErrs, "DB_MAX_IDLE_CONNS")
	c.DB.ConnMaxLifetime, parseErrs = optDuration(parseErrs, "DB_CONN_MAX_LIFETIME")
	c.DB.PingTimeout, parseErrs = optDuration(parseErrs, "DB_PING_TIMEOUT")

	c.RateLimit.Backend = strings.TrimSpace(os.Getenv("RATE_LIMIT_BACKEND"))
	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	if c.Redis.Host != "" {
		n, err := mustInt("REDIS_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTRefreshSecret = os.Getenv("JWT_REFRESH_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate() based on env.
	c.Auth.AccessTokenTTL, parseErrs = optDuration(parseErrs, "JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL, parseErrs = optDuration(parseErrs, "JWT_REFRESH_TTL")
	c.Auth.RequireVerified, parseErrs = optBool(parseErrs, "AUTH_REQUIRE_VERIFIED")
	c.Auth.SecureCookies, parseErrs = optBool(parseErrs, "AUTH_SECURE_COOKIES")

	c.RateLimit.Login.Max, parseErrs = optInt(parseErrs, "RATE_LIMIT_LOGIN_MAX")
	c.RateLimit.Login.Window, parseErrs = optDuration(parseErrs, "RATE_LIMIT_LOGIN_WINDOW")
	c.RateLimit.Refresh.Max, parseErrs = optInt(parseErrs, "RATE_LIMIT_REFRESH_MAX")
	c.RateLimit.Refresh.Window, parseErrs = optDuration(parseErrs, "RATE_LIMIT_REFRESH_WINDOW")
	c.RateLimit.SwitchNode.Max, parseErrs = optInt(parseErrs, "RATE_LIMIT_SWITCH_NODE_MAX")
	c.RateLimit.SwitchNode.Window, parseErrs = optDuration(parseErrs, "RATE_LIMIT_SWITCH_NODE_WINDOW")
	c.RateLimit.APIRate, parseErrs = optFloat(parseErrs, "API_THROTTLE_RPS")
	c.RateLimit.APIBurst, parseErrs = optInt(parseErrs, "API_THROTTLE_BURST")

	if v := strings.TrimSpace(os.Getenv("KAFKA_BROKERS")); v != "" {
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				c.Kafka.Brokers = append(c.Kafka.Brokers, b)
			}
		}
	}
	c.Kafka.AuditTopic = strings.TrimSpace(os.Getenv("KAFKA_AUDIT_TOPIC"))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate checks required values and fills defaults in place.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			// Local-friendly default; production must be explicit.
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}

	if c.DB.MaxOpenConns <= 0 {
		c.DB.MaxOpenConns = 10
		if c.IsProduction() {
			c.DB.MaxOpenConns = 25
		}
	}
	if c.DB.MaxIdleConns <= 0 || c.DB.MaxIdleConns > c.DB.MaxOpenConns {
		c.DB.MaxIdleConns = c.DB.MaxOpenConns
	}
	if c.DB.ConnMaxLifetime <= 0 {
		c.DB.ConnMaxLifetime = 30 * time.Minute
	}
	if c.DB.PingTimeout <= 0 {
		c.DB.PingTimeout = 5 * time.Second
	}

	if c.RateLimit.Backend == "" {
		c.RateLimit.Backend = "memory"
	}
	switch c.RateLimit.Backend {
	case "memory":
	case "redis":
		if c.Redis.Host == "" {
			errs = append(errs, errors.New("REDIS_HOST is required when RATE_LIMIT_BACKEND=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("RATE_LIMIT_BACKEND must be memory or redis, got %q", c.RateLimit.Backend))
	}
	if c.Redis.Host != "" && (c.Redis.Port <= 0 || c.Redis.Port > 65535) {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if len(c.Auth.JWTSecret) < 32 || c.Auth.JWTSecret == DefaultJWTSecret {
			errs = append(errs, errors.New("JWT_SECRET must be at least 32 characters and not the default in production"))
		}
		if c.Auth.JWTRefreshSecret != "" && len(c.Auth.JWTRefreshSecret) < 32 {
			errs = append(errs, errors.New("JWT_REFRESH_SECRET must be at least 32 characters in production"))
		}
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
		c.Auth.SecureCookies = true
	}
	if c.Auth.JWTIssuer == "" {
		c.Auth.JWTIssuer = "lms-auth"
	}
	if c.Auth.JWTAudience == "" {
		c.Auth.JWTAudience = "lms-api"
	}

	if c.Auth.AccessTokenTTL <= 0 {
		// Default: short-lived access tokens.
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 7 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	defaultWindow(&c.RateLimit.Login, 5, time.Minute)
	defaultWindow(&c.RateLimit.Refresh, 10, time.Minute)
	defaultWindow(&c.RateLimit.SwitchNode, 10, time.Minute)
	if c.RateLimit.APIRate <= 0 {
		// 100 requests per minute.
		c.RateLimit.APIRate = 100.0 / 60.0
	}
	if c.RateLimit.APIBurst <= 0 {
		c.RateLimit.APIBurst = 20
	}

	if len(c.Kafka.Brokers) > 0 && c.Kafka.AuditTopic == "" {
		c.Kafka.AuditTopic = "auth.audit"
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func defaultWindow(w *Window, max int, window time.Duration) {
	if w.Max <= 0 {
		w.Max = max
	}
	if w.Window <= 0 {
		w.Window = window
	}
}

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optInt(errs []error, key string) (int, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, errs
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, append(errs, fmt.Errorf("%s must be an integer, got %q", key, v))
	}
	return n, errs
}

func optFloat(errs []error, key string) (float64, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, errs
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, append(errs, fmt.Errorf("%s must be a number, got %q", key, v))
	}
	return f, errs
}

func optBool(errs []error, key string) (bool, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return false, errs
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, append(errs, fmt.Errorf("%s must be a boolean, got %q", key, v))
	}
	return b, errs
}

func optDuration(errs []error, key string) (time.Duration, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, errs
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, append(errs, fmt.Errorf("%s must be a duration, got %q", key, v))
	}
	return d, errs
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
