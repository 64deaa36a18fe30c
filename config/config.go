package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Identity backends
const (
	IdentityMemory  = "memory"
	IdentityCognito = "cognito"
)

// Mirror sinks
const (
	MirrorNone     = "none"
	MirrorHTTP     = "http"
	MirrorAMQP     = "amqp"
	MirrorPostgres = "postgres"
)

// Access default policies for paths missing from the route table
const (
	PolicyAllowAuthenticated = "allow_authenticated"
	PolicyDenyAll            = "deny_all"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Cognito       CognitoConfig
	Identity      IdentityConfig
	Session       SessionConfig
	Mirror        MirrorConfig
	Access        AccessConfig
	Observability ObservabilityConfig
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	FrontEndURL     string // SPA origin allowed by CORS (loaded from FRONT_END_URL)
	AuthRateLimit   int    // requests per minute per IP on /api/v1/auth
	TLS             struct {
		Enabled  bool
		CertFile string
		KeyFile  string
	}
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
// The database is optional; Enabled reports whether one was configured.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
	MigrationsDir    string
}

// RedisConfig holds the profile cache connection. An empty URL selects the in-memory cache.
type RedisConfig struct {
	URL        string
	ProfileTTL time.Duration // zero keeps profiles until overwritten
}

// CognitoConfig holds AWS Cognito user pool configuration
type CognitoConfig struct {
	Region       string
	UserPoolID   string
	ClientID     string
	ClientSecret string
}

// IdentityConfig selects the identity provider backend
type IdentityConfig struct {
	Backend    string // memory or cognito
	BcryptCost int    // memory backend only
}

// SessionConfig holds per-browser-context session settings
type SessionConfig struct {
	CookieName          string
	CookieSecure        bool
	ResolveTimeout      time.Duration // first provider callback deadline before falling back to anonymous
	RecordLookupTimeout time.Duration // remote profile lookup deadline on sign-in
	IdleTTL             time.Duration
	MaxContexts         int
	CleanupInterval     time.Duration
	SignInPath          string
}

// MirrorConfig holds the remote profile mirror settings
type MirrorConfig struct {
	Sink       string // none, http, amqp or postgres
	HTTPURL    string
	AMQPURL    string
	Queue      string
	BufferSize int
	Workers    int
	Timeout    time.Duration
}

// AccessConfig holds access gate settings
type AccessConfig struct {
	DefaultPolicy string // allow_authenticated or deny_all
}

// ObservabilityConfig holds logging configuration
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string // json or console
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	_ = godotenv.Load(".env")

	environment := getEnv("ENVIRONMENT", "development")
	production := environment == "production" || environment == "prod"

	cfg := &Config{
		Environment: environment,
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			FrontEndURL:     getEnv("FRONT_END_URL", "http://localhost:5173"),
			AuthRateLimit:   getEnvAsInt("AUTH_RATE_LIMIT", 20),
			TLS: struct {
				Enabled  bool
				CertFile string
				KeyFile  string
			}{
				Enabled:  getEnvAsBool("TLS_ENABLED", false),
				CertFile: getEnv("TLS_CERT_FILE", "certs/cert.pem"),
				KeyFile:  getEnv("TLS_KEY_FILE", "certs/key.pem"),
			},
		},
		Database: loadDatabaseConfig(),
		Redis: RedisConfig{
			URL:        getEnv("REDIS_URL", ""),
			ProfileTTL: getEnvAsDuration("REDIS_PROFILE_TTL", 0),
		},
		Cognito: CognitoConfig{
			Region:       getEnv("COGNITO_REGION", "us-east-1"),
			UserPoolID:   getEnv("COGNITO_USER_POOL_ID", ""),
			ClientID:     getEnv("COGNITO_CLIENT_ID", ""),
			ClientSecret: getEnv("COGNITO_CLIENT_SECRET", ""),
		},
		Identity: IdentityConfig{
			Backend:    strings.ToLower(getEnv("IDENTITY_BACKEND", IdentityMemory)),
			BcryptCost: getEnvAsInt("IDENTITY_BCRYPT_COST", 10),
		},
		Session: SessionConfig{
			CookieName:          getEnv("SESSION_COOKIE_NAME", "stellarion_session"),
			CookieSecure:        getEnvAsBool("SESSION_COOKIE_SECURE", production),
			ResolveTimeout:      getEnvAsDuration("SESSION_RESOLVE_TIMEOUT", 10*time.Second),
			RecordLookupTimeout: getEnvAsDuration("SESSION_RECORD_LOOKUP_TIMEOUT", 3*time.Second),
			IdleTTL:             getEnvAsDuration("SESSION_IDLE_TTL", 30*time.Minute),
			MaxContexts:         getEnvAsInt("SESSION_MAX_CONTEXTS", 10000),
			CleanupInterval:     getEnvAsDuration("SESSION_CLEANUP_INTERVAL", time.Minute),
			SignInPath:          getEnv("SESSION_SIGN_IN_PATH", "/login"),
		},
		Mirror: MirrorConfig{
			Sink:       strings.ToLower(getEnv("MIRROR_SINK", MirrorNone)),
			HTTPURL:    getEnv("MIRROR_HTTP_URL", "http://localhost:3001/api/users"),
			AMQPURL:    getEnv("MIRROR_AMQP_URL", ""),
			Queue:      getEnv("MIRROR_QUEUE", "stellarion.profiles"),
			BufferSize: getEnvAsInt("MIRROR_BUFFER_SIZE", 256),
			Workers:    getEnvAsInt("MIRROR_WORKERS", 2),
			Timeout:    getEnvAsDuration("MIRROR_TIMEOUT", 5*time.Second),
		},
		Access: AccessConfig{
			DefaultPolicy: strings.ToLower(getEnv("ACCESS_DEFAULT_POLICY", PolicyAllowAuthenticated)),
		},
		Observability: ObservabilityConfig{
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogFormat: getEnv("LOG_FORMAT", "json"),
		},
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	if c.Database.Enabled() && c.Database.ConnectionString == "" {
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	switch c.Identity.Backend {
	case IdentityMemory:
		if c.IsProduction() {
			return fmt.Errorf("memory identity backend is not allowed in production")
		}
	case IdentityCognito:
		if c.Cognito.UserPoolID == "" {
			return fmt.Errorf("cognito user pool ID is required")
		}
		if c.Cognito.ClientID == "" {
			return fmt.Errorf("cognito client ID is required")
		}
	default:
		return fmt.Errorf("unknown identity backend %q", c.Identity.Backend)
	}

	switch c.Mirror.Sink {
	case MirrorNone:
	case MirrorHTTP:
		if c.Mirror.HTTPURL == "" {
			return fmt.Errorf("mirror HTTP URL is required for the http sink")
		}
	case MirrorAMQP:
		if c.Mirror.AMQPURL == "" {
			return fmt.Errorf("mirror AMQP URL is required for the amqp sink")
		}
	case MirrorPostgres:
		if !c.Database.Enabled() {
			return fmt.Errorf("postgres mirror sink requires a database")
		}
	default:
		return fmt.Errorf("unknown mirror sink %q", c.Mirror.Sink)
	}

	if c.Access.DefaultPolicy != PolicyAllowAuthenticated && c.Access.DefaultPolicy != PolicyDenyAll {
		return fmt.Errorf("unknown access default policy %q", c.Access.DefaultPolicy)
	}

	if c.Session.ResolveTimeout <= 0 {
		return fmt.Errorf("session resolve timeout must be positive")
	}
	if c.Session.CookieName == "" {
		return fmt.Errorf("session cookie name is required")
	}

	// Observability validation
	if c.Observability.LogLevel == "" {
		return fmt.Errorf("log level is required")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// Enabled reports whether a database was configured
func (c *DatabaseConfig) Enabled() bool {
	return c.ConnectionString != "" || c.Host != ""
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// URL returns the connection string in URL form, as golang-migrate expects
func (c *DatabaseConfig) URL() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + c.SSLMode,
	}
	return u.String()
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
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

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars.
// Neither being set leaves the database disabled.
func loadDatabaseConfig() DatabaseConfig {
	cfg := DatabaseConfig{
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		MigrationsDir:   getEnv("DB_MIGRATIONS_DIR", "migrations"),
	}
	if dbURL := getEnv("DATABASE_URL", ""); dbURL != "" {
		cfg.ConnectionString = dbURL
		return cfg
	}
	cfg.Host = getEnv("DB_HOST", "")
	cfg.Port = getEnvAsInt("DB_PORT", 5432)
	cfg.User = getEnv("DB_USER", "stellarion")
	cfg.Password = getEnv("DB_PASSWORD", "")
	cfg.Database = getEnv("DB_NAME", "stellarion")
	cfg.SSLMode = getEnv("DB_SSLMODE", "disable")
	return cfg
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
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
