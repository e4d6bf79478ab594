package config

import "time"

// Config represents the complete application configuration.
// Layer 1: built-in defaults (SetDefaults)
// Layer 2: optional config file ($XDG_CONFIG_HOME/keyrelay/config.yaml or --config)
// Layer 3: environment variables and runtime overrides
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Store       StoreConfig       `mapstructure:"store"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Upstream    UpstreamConfig    `mapstructure:"upstream"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Proxy       ProxyConfig       `mapstructure:"proxy"`
	Session     SessionConfig     `mapstructure:"session"`
	Usage       UsageConfig       `mapstructure:"usage"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Health      HealthConfig      `mapstructure:"health"`
	Debug       DebugConfig       `mapstructure:"debug"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// TrustProxyHeaders derives the client address from X-Forwarded-For /
	// X-Real-IP. Only enable behind a proxy that overwrites those headers.
	TrustProxyHeaders bool `mapstructure:"trust_proxy_headers"`
}

// StoreConfig contains database configuration for libsql/Turso
type StoreConfig struct {
	Driver    string `mapstructure:"driver"`
	Path      string `mapstructure:"path"`
	URL       string `mapstructure:"url"`
	AuthToken string `mapstructure:"auth_token"`
}

// RateLimitConfig configures the per-client fixed window.
type RateLimitConfig struct {
	// Backend selects the window store: store (libsql), memory, or redis.
	Backend       string        `mapstructure:"backend"`
	Limit         int           `mapstructure:"limit"`
	Window        time.Duration `mapstructure:"window"`
	IdleTTL       time.Duration `mapstructure:"idle_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	Redis         RedisConfig   `mapstructure:"redis"`
}

// RedisConfig configures the redis window backend.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// UpstreamConfig points at the upstream query service.
type UpstreamConfig struct {
	BaseURL      string        `mapstructure:"base_url"`
	IssuePath    string        `mapstructure:"issue_path"`
	IssueTimeout time.Duration `mapstructure:"issue_timeout"`
}

// CredentialsConfig controls issuance output.
type CredentialsConfig struct {
	KeyBytes        int      `mapstructure:"key_bytes"`
	Endpoints       []string `mapstructure:"endpoints"`
	ExampleEndpoint string   `mapstructure:"example_endpoint"`
	ExampleQuery    string   `mapstructure:"example_query"`
}

// ProxyConfig controls forwarding behavior of proxy definitions.
type ProxyConfig struct {
	Hosted        bool          `mapstructure:"hosted"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
	AccessLog     string        `mapstructure:"access_log"`
}

// SessionConfig holds the session signing secret and cookie settings.
type SessionConfig struct {
	Secret     string        `mapstructure:"secret"`
	CookieName string        `mapstructure:"cookie_name"`
	TTL        time.Duration `mapstructure:"ttl"`
	Secure     bool          `mapstructure:"secure"`
}

// UsageConfig sizes the asynchronous usage recorder.
type UsageConfig struct {
	Buffer int `mapstructure:"buffer"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile selects the logging complexity level
	// Valid values: SIMPLE, STRUCTURED, ENTERPRISE
	Profile string `mapstructure:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// DebugConfig contains debug and profiling configuration
type DebugConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	PprofEnabled bool `mapstructure:"pprof_enabled"`
}
