package config

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Environment names after normalization
const (
	EnvDev     = "dev"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

// Database drivers
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// minSecretLength is the minimum length for secrets in production
const minSecretLength = 32

// Config represents the complete application settings
type Config struct {
	AppName       string `validate:"required"`
	Version       string `validate:"required"`
	Environment   string `validate:"oneof=dev staging prod"`
	Debug         bool
	Server        ServerConfig
	Database      DatabaseConfig
	Security      SecurityConfig
	Monitoring    MonitoringConfig
	Alerting      AlertingConfig
	Observability ObservabilityConfig

	// Source records where values were read from: env_vars or env_files
	Source string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `validate:"required"`
	Port            int           `validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `validate:"gt=0"`
	WriteTimeout    time.Duration `validate:"gt=0"`
	ShutdownTimeout time.Duration `validate:"gt=0"`
	RequestTimeout  time.Duration `validate:"gt=0"`
	CORSOrigins     []string

	// Per client address on the security API; 0 disables throttling
	RateLimitPerMinute int `validate:"gte=0"`
	RateLimitBurst     int `validate:"gte=0"`
}

// DatabaseConfig holds SQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	Driver           string `validate:"oneof=postgres sqlite"`
	ConnectionString string // From DATABASE_URL when set
	SQLitePath       string
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int `validate:"gte=1"`
	MaxIdleConns     int `validate:"gte=0"`
	ConnMaxLifetime  time.Duration
}

// SecurityConfig holds secrets and token validation settings
type SecurityConfig struct {
	SecretKey   string
	JWTSecret   string
	JWTIssuer   string
	JWTAudience string
	JWTLeeway   time.Duration `validate:"gte=0"`
	AdminRole   string        `validate:"required"`
	ServiceRole string        `validate:"required"`
}

// MonitoringConfig holds the security event pipeline and detection thresholds
type MonitoringConfig struct {
	EventBufferSize       int           `validate:"gte=1"`
	WorkerCount           int           `validate:"gte=1"`
	FailedLoginThreshold  int           `validate:"gte=1"`
	FailedLoginWindow     time.Duration `validate:"gt=0"`
	LockoutDuration       time.Duration `validate:"gt=0"`
	EnumerationThreshold  int           `validate:"gte=2"`
	MultiIPThreshold      int           `validate:"gte=2"`
	RetentionDays         int           `validate:"gte=1"`
	DashboardDefaultHours int           `validate:"min=1,max=720"`
}

// AlertingConfig holds alert rule and notification settings
type AlertingConfig struct {
	Enabled         bool
	RulesFile       string
	WatchRulesFile  bool
	DefaultCooldown time.Duration `validate:"gt=0"`
	WebhookURL      string        `validate:"omitempty,url"`
	WebhookTimeout  time.Duration `validate:"gt=0"`
}

// ObservabilityConfig holds logging and metrics configuration
type ObservabilityConfig struct {
	LogLevel        string `validate:"oneof=debug info warn error"`
	LogFormat       string `validate:"oneof=json console"`
	SecurityLogFile string
	LogMaxSizeMB    int `validate:"gte=1"`
	LogMaxBackups   int `validate:"gte=0"`
	LogMaxAgeDays   int `validate:"gte=0"`
	LogCompress     bool
	MetricsEnabled  bool
}

// ValidationError lists every configuration field that failed validation
type ValidationError struct {
	Fields map[string]string
}

// Error implements the error interface
func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, k := range sortedKeys(e.Fields) {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "configuration invalid: " + strings.Join(parts, "; ")
}

func (e *ValidationError) add(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	if _, exists := e.Fields[field]; !exists {
		e.Fields[field] = message
	}
}

var validate = validator.New()

// New loads configuration from .env files and environment variables and validates it.
// The returned Config is non-nil whenever loading succeeded, even if validation failed,
// so callers such as the health endpoints can still report on it.
func New(ctx context.Context) (*Config, error) {
	cfg := Load()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Load reads .env files and the environment without validating
func Load() *Config {
	source := "env_vars"
	if godotenv.Load(".env") == nil {
		source = "env_files"
	}
	env := NormalizeEnvironment(getEnv("PROMPTCRAFT_ENVIRONMENT", getEnv("ENVIRONMENT", EnvDev)))
	if godotenv.Load(".env." + env) == nil {
		source = "env_files"
	}

	cfg := &Config{
		AppName:     getEnv("PROMPTCRAFT_APP_NAME", "PromptCraft-Hybrid"),
		Version:     getEnv("PROMPTCRAFT_VERSION", "0.1.0"),
		Environment: env,
		Debug:       getEnvAsBool("PROMPTCRAFT_DEBUG", env == EnvDev),
		Source:      source,
		Server: ServerConfig{
			Host:            getEnv("PROMPTCRAFT_API_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			RequestTimeout:  getEnvAsDuration("SERVER_REQUEST_TIMEOUT", 60*time.Second),
			CORSOrigins:     getEnvAsSlice("CORS_ORIGINS", []string{"http://localhost:*"}),

			RateLimitPerMinute: getEnvAsInt("RATE_LIMIT_PER_MINUTE", 120),
			RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 30),
		},
		Database: loadDatabaseConfig(),
		Security: SecurityConfig{
			SecretKey:   getEnv("PROMPTCRAFT_SECRET_KEY", ""),
			JWTSecret:   getEnv("JWT_SECRET", ""),
			JWTIssuer:   getEnv("JWT_ISSUER", ""),
			JWTAudience: getEnv("JWT_AUDIENCE", ""),
			JWTLeeway:   getEnvAsDuration("JWT_LEEWAY", 30*time.Second),
			AdminRole:   getEnv("SECURITY_ADMIN_ROLE", "admin"),
			ServiceRole: getEnv("SECURITY_SERVICE_ROLE", "service"),
		},
		Monitoring: MonitoringConfig{
			EventBufferSize:       getEnvAsInt("SECURITY_EVENT_BUFFER_SIZE", 10000),
			WorkerCount:           getEnvAsInt("SECURITY_WORKER_COUNT", 4),
			FailedLoginThreshold:  getEnvAsInt("SECURITY_FAILED_LOGIN_THRESHOLD", 5),
			FailedLoginWindow:     getEnvAsDuration("SECURITY_FAILED_LOGIN_WINDOW", 5*time.Minute),
			LockoutDuration:       getEnvAsDuration("SECURITY_LOCKOUT_DURATION", 30*time.Minute),
			EnumerationThreshold:  getEnvAsInt("SECURITY_ENUMERATION_THRESHOLD", 3),
			MultiIPThreshold:      getEnvAsInt("SECURITY_MULTI_IP_THRESHOLD", 3),
			RetentionDays:         getEnvAsInt("SECURITY_RETENTION_DAYS", 90),
			DashboardDefaultHours: getEnvAsInt("SECURITY_DASHBOARD_HOURS", 24),
		},
		Alerting: AlertingConfig{
			Enabled:         getEnvAsBool("ALERTING_ENABLED", true),
			RulesFile:       getEnv("ALERT_RULES_FILE", ""),
			WatchRulesFile:  getEnvAsBool("ALERT_RULES_WATCH", true),
			DefaultCooldown: getEnvAsDuration("ALERT_DEFAULT_COOLDOWN", 15*time.Minute),
			WebhookURL:      getEnv("ALERT_WEBHOOK_URL", ""),
			WebhookTimeout:  getEnvAsDuration("ALERT_WEBHOOK_TIMEOUT", 5*time.Second),
		},
		Observability: ObservabilityConfig{
			LogLevel:        strings.ToLower(getEnv("LOG_LEVEL", "info")),
			LogFormat:       strings.ToLower(getEnv("LOG_FORMAT", "json")),
			SecurityLogFile: getEnv("SECURITY_LOG_FILE", ""),
			LogMaxSizeMB:    getEnvAsInt("SECURITY_LOG_MAX_SIZE_MB", 100),
			LogMaxBackups:   getEnvAsInt("SECURITY_LOG_MAX_BACKUPS", 10),
			LogMaxAgeDays:   getEnvAsInt("SECURITY_LOG_MAX_AGE_DAYS", 30),
			LogCompress:     getEnvAsBool("SECURITY_LOG_COMPRESS", true),
			MetricsEnabled:  getEnvAsBool("METRICS_ENABLED", true),
		},
	}
	return cfg
}

// Validate checks struct constraints and environment-specific rules.
// All failures are collected into a single *ValidationError.
func (c *Config) Validate() error {
	verr := &ValidationError{}

	if err := validate.Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("config validation failed: %w", err)
		}
		for _, fe := range fieldErrs {
			verr.add(fieldPath(fe.Namespace()), describeTag(fe))
		}
	}

	// Database validation (DATABASE_URL or DB_* vars for postgres, SQLITE_PATH for sqlite)
	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.ConnectionString == "" {
			if c.Database.Host == "" {
				verr.add("Database.Host", "set DATABASE_URL or DB_HOST")
			}
			if c.Database.User == "" {
				verr.add("Database.User", "database user is required")
			}
			if c.Database.Database == "" {
				verr.add("Database.Database", "database name is required")
			}
		}
	case DriverSQLite:
		if c.Database.SQLitePath == "" {
			verr.add("Database.SQLitePath", "SQLITE_PATH is required for the sqlite driver")
		}
	}

	switch c.Environment {
	case EnvProd:
		if c.Debug {
			verr.add("Debug", "debug mode must be disabled in production")
		}
		if len(c.Security.SecretKey) < minSecretLength {
			verr.add("Security.SecretKey", fmt.Sprintf("secret key must be at least %d characters in production", minSecretLength))
		}
		if len(c.Security.JWTSecret) < minSecretLength {
			verr.add("Security.JWTSecret", fmt.Sprintf("JWT secret must be at least %d characters in production", minSecretLength))
		}
		for _, origin := range c.Server.CORSOrigins {
			if strings.Contains(origin, "*") {
				verr.add("Server.CORSOrigins", "wildcard CORS origins are not allowed in production")
				break
			}
		}
	case EnvStaging:
		if c.Security.JWTSecret == "" {
			verr.add("Security.JWTSecret", "JWT secret is required in staging")
		}
	}

	if c.Monitoring.EventBufferSize > 0 && c.Monitoring.WorkerCount > c.Monitoring.EventBufferSize {
		verr.add("Monitoring.WorkerCount", "worker count must not exceed the event buffer size")
	}

	if len(verr.Fields) > 0 {
		return verr
	}
	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProd
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == EnvDev
}

// NormalizeEnvironment maps aliases onto dev, staging or prod.
// Unknown values are returned lower-cased so validation can reject them.
func NormalizeEnvironment(env string) string {
	switch e := strings.ToLower(strings.TrimSpace(env)); e {
	case "dev", "development", "local":
		return EnvDev
	case "staging", "stage":
		return EnvStaging
	case "prod", "production":
		return EnvProd
	default:
		return e
	}
}

// DSN returns the driver connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == DriverSQLite {
		return c.SQLitePath
	}
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.Driver == DriverSQLite {
		return fmt.Sprintf("driver=sqlite path=%s", c.SQLitePath)
	}
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RetentionCutoff returns the oldest timestamp kept by the retention policy
func (c *MonitoringConfig) RetentionCutoff(now time.Time) time.Time {
	return now.Add(-time.Duration(c.RetentionDays) * 24 * time.Hour)
}

// loadDatabaseConfig loads database config from DATABASE_URL, DB_* or SQLITE_PATH env vars
func loadDatabaseConfig() DatabaseConfig {
	cfg := DatabaseConfig{
		Driver:          strings.ToLower(getEnv("DB_DRIVER", DriverPostgres)),
		SQLitePath:      getEnv("SQLITE_PATH", "promptcraft.db"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
	if dbURL := getEnv("DATABASE_URL", ""); dbURL != "" {
		cfg.ConnectionString = dbURL
		return cfg
	}
	cfg.Host = getEnv("DB_HOST", "localhost")
	cfg.Port = getEnvAsInt("DB_PORT", 5432)
	cfg.User = getEnv("DB_USER", "promptcraft")
	cfg.Password = getEnv("DB_PASSWORD", "")
	cfg.Database = getEnv("DB_NAME", "promptcraft")
	cfg.SSLMode = getEnv("DB_SSLMODE", "disable")
	return cfg
}

// Helper functions

// getPort returns the server port from PORT or PROMPTCRAFT_API_PORT env vars (default: 8000)
func getPort() int {
	for _, key := range []string{"PORT", "PROMPTCRAFT_API_PORT"} {
		if value := os.Getenv(key); value != "" {
			if p, err := strconv.Atoi(value); err == nil {
				return p
			}
		}
	}
	return 8000
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsSlice splits a comma separated env var, dropping empty items
func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// fieldPath strips the root struct name from a validator namespace (Config.Server.Port -> Server.Port)
func fieldPath(namespace string) string {
	if i := strings.Index(namespace, "."); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "min", "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max", "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "url":
		return "must be a valid URL"
	default:
		return fmt.Sprintf("failed on '%s' tag", fe.Tag())
	}
}
