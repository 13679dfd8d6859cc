package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database  DatabaseConfig
	Server    ServerConfig
	Auth      AuthConfig
	Lockout   LockoutConfig
	RateLimit RateLimitConfig
	TwoFactor TwoFactorConfig
	Redis     RedisConfig
	Email     EmailConfig
	Telemetry TelemetryConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	MigrateOnStart    bool
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
}

type AuthConfig struct {
	JWTSecret                  string
	AccessTokenExpiry          time.Duration // also the session TTL
	RefreshTokenExpiry         time.Duration
	RefreshTokenRememberExpiry time.Duration
	BcryptCost                 int
	RequireEmailVerification   bool
	TimingDelayBaseMs          int
	TimingDelayRandomMs        int
	CleanupInterval            time.Duration
	LoginAttemptRetention      time.Duration
	SecurityEventRetention     time.Duration
	RevokedTokenRetention      time.Duration
}

type LockoutConfig struct {
	MaxAttempts   int
	AttemptWindow time.Duration
	BaseDuration  time.Duration
	MaxDuration   time.Duration
	Progressive   bool
}

// RateLimitRule is a fixed-window budget.
type RateLimitRule struct {
	Max    int
	Window time.Duration
}

type RateLimitConfig struct {
	Store                string // "memory" or "redis"
	Login                RateLimitRule
	Register             RateLimitRule
	PasswordReset        RateLimitRule
	Sensitive            RateLimitRule
	Global               RateLimitRule
	LockoutCheck         RateLimitRule
	BruteForceThreshold  int
	BruteForceWindow     time.Duration
	AddressBlockDuration time.Duration
	RiskScoreThreshold   int
}

type TwoFactorConfig struct {
	EncryptionKey        []byte
	Issuer               string
	BackupCodeCount      int
	HandshakeMaxAttempts int
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

type EmailConfig struct {
	Provider     string // "ses", "smtp" or "none"
	FromAddress  string
	AWSRegion    string
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	MaxSendRate  float64 // messages per second
}

type TelemetryConfig struct {
	MetricsEnabled bool
	OTLPEndpoint   string
	OTLPInsecure   bool
	ServiceName    string
	ExportInterval time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	encryptionKey, err := parseEncryptionKey(getEnv("TOTP_ENCRYPTION_KEY", ""))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "bastion"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			MigrateOnStart:    getEnvAsBool("DB_MIGRATE_ON_START", true),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
			TrustedProxies: parseList(getEnv("TRUSTED_PROXIES", "")),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret:                  jwtSecret,
			AccessTokenExpiry:          getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 1*time.Hour),
			RefreshTokenExpiry:         getEnvAsDuration("REFRESH_TOKEN_EXPIRY", 7*24*time.Hour),
			RefreshTokenRememberExpiry: getEnvAsDuration("REFRESH_TOKEN_REMEMBER_EXPIRY", 30*24*time.Hour),
			BcryptCost:                 getEnvAsInt("BCRYPT_COST", 14),
			RequireEmailVerification:   getEnvAsBool("REQUIRE_EMAIL_VERIFICATION", false),
			TimingDelayBaseMs:          getEnvAsInt("TIMING_DELAY_BASE_MS", 250),
			TimingDelayRandomMs:        getEnvAsInt("TIMING_DELAY_RANDOM_MS", 100),
			CleanupInterval:            getEnvAsDuration("CLEANUP_INTERVAL", 15*time.Minute),
			LoginAttemptRetention:      getEnvAsDuration("LOGIN_ATTEMPT_RETENTION", 30*24*time.Hour),
			SecurityEventRetention:     getEnvAsDuration("SECURITY_EVENT_RETENTION", 90*24*time.Hour),
			RevokedTokenRetention:      getEnvAsDuration("REVOKED_TOKEN_RETENTION", 30*24*time.Hour),
		},
		Lockout: LockoutConfig{
			MaxAttempts:   getEnvAsInt("LOCKOUT_MAX_ATTEMPTS", 5),
			AttemptWindow: getEnvAsDuration("LOCKOUT_ATTEMPT_WINDOW", 5*time.Minute),
			BaseDuration:  getEnvAsDuration("LOCKOUT_BASE_DURATION", 15*time.Minute),
			MaxDuration:   getEnvAsDuration("LOCKOUT_MAX_DURATION", 24*time.Hour),
			Progressive:   getEnvAsBool("LOCKOUT_PROGRESSIVE", true),
		},
		RateLimit: RateLimitConfig{
			Store:                getEnv("RATE_LIMIT_STORE", "memory"),
			Login:                getRule("LOGIN", 5, time.Minute),
			Register:             getRule("REGISTER", 3, time.Minute),
			PasswordReset:        getRule("PASSWORD_RESET", 3, 5*time.Minute),
			Sensitive:            getRule("SENSITIVE", 2, 5*time.Minute),
			Global:               getRule("GLOBAL", 100, time.Minute),
			LockoutCheck:         getRule("LOCKOUT_CHECK", 20, time.Minute),
			BruteForceThreshold:  getEnvAsInt("BRUTE_FORCE_THRESHOLD", 10),
			BruteForceWindow:     getEnvAsDuration("BRUTE_FORCE_WINDOW", 10*time.Minute),
			AddressBlockDuration: getEnvAsDuration("ADDRESS_BLOCK_DURATION", 24*time.Hour),
			RiskScoreThreshold:   getEnvAsInt("RISK_SCORE_THRESHOLD", 70),
		},
		TwoFactor: TwoFactorConfig{
			EncryptionKey:        encryptionKey,
			Issuer:               getEnv("TOTP_ISSUER", "Bastion"),
			BackupCodeCount:      getEnvAsInt("BACKUP_CODE_COUNT", 10),
			HandshakeMaxAttempts: getEnvAsInt("HANDSHAKE_MAX_ATTEMPTS", 5),
		},
		Redis: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", "localhost:6379"),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvAsInt("REDIS_DB", 0),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "bastion"),
		},
		Email: EmailConfig{
			Provider:     getEnv("EMAIL_PROVIDER", "none"),
			FromAddress:  getEnv("EMAIL_FROM", "security@localhost"),
			AWSRegion:    getEnv("AWS_REGION", "us-east-1"),
			SMTPHost:     getEnv("SMTP_HOST", "localhost"),
			SMTPPort:     getEnvAsInt("SMTP_PORT", 587),
			SMTPUser:     getEnv("SMTP_USER", ""),
			SMTPPassword: getEnv("SMTP_PASSWORD", ""),
			MaxSendRate:  getEnvAsFloat("EMAIL_MAX_SEND_RATE", 1),
		},
		Telemetry: TelemetryConfig{
			MetricsEnabled: getEnvAsBool("OTEL_METRICS_ENABLED", false),
			OTLPEndpoint:   getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			OTLPInsecure:   getEnvAsBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "bastion"),
			ExportInterval: getEnvAsDuration("OTEL_METRICS_EXPORT_INTERVAL", 30*time.Second),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.Lockout.MaxAttempts < 1 {
		return fmt.Errorf("LOCKOUT_MAX_ATTEMPTS must be at least 1")
	}
	if c.Lockout.BaseDuration <= 0 || c.Lockout.MaxDuration < c.Lockout.BaseDuration {
		return fmt.Errorf("LOCKOUT_MAX_DURATION must be at least LOCKOUT_BASE_DURATION")
	}
	if c.Auth.BcryptCost < 10 || c.Auth.BcryptCost > 31 {
		return fmt.Errorf("BCRYPT_COST must be between 10 and 31 (got %d)", c.Auth.BcryptCost)
	}
	switch c.RateLimit.Store {
	case "memory", "redis":
	default:
		return fmt.Errorf("RATE_LIMIT_STORE must be memory or redis (got %q)", c.RateLimit.Store)
	}
	switch c.Email.Provider {
	case "ses", "smtp", "none":
	default:
		return fmt.Errorf("EMAIL_PROVIDER must be ses, smtp or none (got %q)", c.Email.Provider)
	}
	return nil
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

// parseEncryptionKey decodes the base64 AES-256 key used for TOTP secrets
func parseEncryptionKey(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY is required")
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY must be base64: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("TOTP_ENCRYPTION_KEY must decode to 32 bytes (got %d)", len(key))
	}
	return key, nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getRule(class string, defaultMax int, defaultWindow time.Duration) RateLimitRule {
	return RateLimitRule{
		Max:    getEnvAsInt("RATE_LIMIT_"+class+"_MAX", defaultMax),
		Window: getEnvAsDuration("RATE_LIMIT_"+class+"_WINDOW", defaultWindow),
	}
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func parseList(raw string) []string {
	if raw == "" {
		return []string{}
	}
	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		return parseList(getEnv("ALLOWED_ORIGINS", ""))
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost:5173", // Vite default
		"http://127.0.0.1:3000",
		"http://127.0.0.1:8080",
		"http://127.0.0.1:5173",
	}
}
