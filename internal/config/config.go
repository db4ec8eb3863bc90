package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Guard    GuardConfig
	Alert    AlertConfig
	Store    StoreConfig
	Database DatabaseConfig
	Auth     AuthConfig
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	TrustedProxies []string
}

// GuardConfig carries every numeric knob of the abuse-mitigation core.
// All values have working defaults; Load rejects nonsensical combinations.
type GuardConfig struct {
	WindowSeconds        int
	MaxAttempts          int
	BanDuration          time.Duration
	MaxBanDuration       time.Duration
	EscalationThreshold  int
	EscalationMultiplier float64
	EscalationWindow     time.Duration

	LockWindow          time.Duration
	LockMaxFailures     int
	LockDuration        time.Duration
	LockoutTriggerLimit int // distinct account locks per source per hour

	SharedUsernameThreshold  int
	SharedSignatureThreshold int
	SharedThresholdFactor    int

	MaxTrackedKeys  int
	CleanupInterval time.Duration
	Allowlist       []string
	FailClosed      bool
}

type AlertConfig struct {
	HighPerMinute   int
	MediumPerHour   int
	SummaryInterval time.Duration
	SESRegion       string // empty disables the SES channel; alerts go to the log
	SESFrom         string
	SESTo           string
}

type StoreConfig struct {
	Backend string // "memory" or "postgres"
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
}

type AuthConfig struct {
	JWTSecret         string
	AccessTokenExpiry time.Duration

	TimingDelayBaseMs   int
	TimingDelayRandomMs int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	env := getEnv("ENV", "development")

	cfg := &Config{
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			TrustedProxies: getEnvAsList("TRUSTED_PROXIES"),
		},
		Guard: GuardConfig{
			WindowSeconds:        getEnvAsInt("WINDOW_SECONDS", 30),
			MaxAttempts:          getEnvAsInt("MAX_ATTEMPTS", 10),
			BanDuration:          getEnvAsDuration("BAN_DURATION", 15*time.Minute),
			MaxBanDuration:       getEnvAsDuration("MAX_BAN_DURATION", 24*time.Hour),
			EscalationThreshold:  getEnvAsInt("ESCALATION_THRESHOLD", 3),
			EscalationMultiplier: getEnvAsFloat("ESCALATION_MULTIPLIER", 2.0),
			EscalationWindow:     getEnvAsDuration("ESCALATION_WINDOW", 24*time.Hour),

			LockWindow:          getEnvAsDuration("LOCK_WINDOW", 5*time.Minute),
			LockMaxFailures:     getEnvAsInt("LOCK_MAX_FAILURES", 5),
			LockDuration:        getEnvAsDuration("LOCK_DURATION", 30*time.Minute),
			LockoutTriggerLimit: getEnvAsInt("LOCKOUT_TRIGGER_LIMIT", 3),

			SharedUsernameThreshold:  getEnvAsInt("SHARED_USERNAME_THRESHOLD", 50),
			SharedSignatureThreshold: getEnvAsInt("SHARED_SIGNATURE_THRESHOLD", 20),
			SharedThresholdFactor:    getEnvAsInt("SHARED_THRESHOLD_FACTOR", 5),

			MaxTrackedKeys:  getEnvAsInt("MAX_TRACKED_KEYS", 10000),
			CleanupInterval: getEnvAsDuration("CLEANUP_INTERVAL", 5*time.Minute),
			Allowlist:       getEnvAsList("ALLOWLIST"),
			FailClosed:      getEnvAsBool("FAIL_CLOSED", false),
		},
		Alert: AlertConfig{
			HighPerMinute:   getEnvAsInt("ALERT_HIGH_PER_MINUTE", 3),
			MediumPerHour:   getEnvAsInt("ALERT_MEDIUM_PER_HOUR", 10),
			SummaryInterval: getEnvAsDuration("ALERT_SUMMARY_INTERVAL", 1*time.Hour),
			SESRegion:       getEnv("ALERT_SES_REGION", ""),
			SESFrom:         getEnv("ALERT_SES_FROM", ""),
			SESTo:           getEnv("ALERT_SES_TO", ""),
		},
		Store: StoreConfig{
			Backend: getEnv("STORE_BACKEND", "memory"),
		},
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
		},
		Auth: AuthConfig{
			JWTSecret:         getEnv("JWT_SECRET", ""),
			AccessTokenExpiry: getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),

			TimingDelayBaseMs:   getEnvAsInt("TIMING_DELAY_BASE_MS", 100),
			TimingDelayRandomMs: getEnvAsInt("TIMING_DELAY_RANDOM_MS", 100),
		},
	}

	if err := cfg.Guard.Validate(); err != nil {
		return nil, err
	}

	if cfg.Store.Backend != "memory" && cfg.Store.Backend != "postgres" {
		return nil, fmt.Errorf("STORE_BACKEND must be \"memory\" or \"postgres\", got %q", cfg.Store.Backend)
	}
	if cfg.Store.Backend == "postgres" && cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required when STORE_BACKEND=postgres")
	}

	if cfg.Auth.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if err := validateJWTSecret(cfg.Auth.JWTSecret, env); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects thresholds that would make the guard math meaningless.
// Called at startup; a bad value prevents the subsystem from initializing.
func (g *GuardConfig) Validate() error {
	if g.WindowSeconds <= 0 {
		return fmt.Errorf("WINDOW_SECONDS must be positive, got %d", g.WindowSeconds)
	}
	if g.MaxAttempts <= 0 {
		return fmt.Errorf("MAX_ATTEMPTS must be positive, got %d", g.MaxAttempts)
	}
	if g.BanDuration <= 0 || g.MaxBanDuration <= 0 || g.LockWindow <= 0 ||
		g.LockDuration <= 0 || g.EscalationWindow <= 0 || g.CleanupInterval <= 0 {
		return fmt.Errorf("all guard durations must be positive")
	}
	if g.MaxBanDuration < g.BanDuration {
		return fmt.Errorf("MAX_BAN_DURATION (%s) must not be below BAN_DURATION (%s)", g.MaxBanDuration, g.BanDuration)
	}
	if g.EscalationThreshold <= 0 {
		return fmt.Errorf("ESCALATION_THRESHOLD must be positive, got %d", g.EscalationThreshold)
	}
	if g.EscalationMultiplier < 1 {
		return fmt.Errorf("ESCALATION_MULTIPLIER must be >= 1, got %g", g.EscalationMultiplier)
	}
	if g.LockMaxFailures <= 0 || g.LockoutTriggerLimit <= 0 {
		return fmt.Errorf("LOCK_MAX_FAILURES and LOCKOUT_TRIGGER_LIMIT must be positive")
	}
	if g.SharedUsernameThreshold <= 0 || g.SharedSignatureThreshold <= 0 || g.SharedThresholdFactor <= 0 {
		return fmt.Errorf("shared-address thresholds must be positive")
	}
	if g.MaxTrackedKeys <= 0 {
		return fmt.Errorf("MAX_TRACKED_KEYS must be positive, got %d", g.MaxTrackedKeys)
	}
	return nil
}

// Window returns the sliding window as a duration.
func (g *GuardConfig) Window() time.Duration {
	return time.Duration(g.WindowSeconds) * time.Second
}

// validateJWTSecret enforces minimum security standards for the JWT secret
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

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
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
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
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

func getEnvAsList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
