// Package config provides centralized configuration management for keyrelay.
// Values are layered as built-in defaults, an optional YAML config file,
// environment variables ({PREFIX}_{NAME}) and runtime overrides, then decoded
// into the typed Config with mapstructure.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	gfconfig "github.com/fulmenhq/gofulmen/config"
	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/keyrelay/keyrelay/internal/appid"
)

var (
	// appConfig holds the current application configuration
	appConfig *Config
	configMu  sync.RWMutex

	configFile string
	envFile    string
)

// EnvVarSpec defines environment variable mappings for config fields
// following the pattern: {PREFIX}{NAME} maps to config path
type EnvVarSpec = gfconfig.EnvVarSpec

// Environment variable types
const (
	EnvString = gfconfig.EnvString
	EnvInt    = gfconfig.EnvInt
	EnvBool   = gfconfig.EnvBool
)

// DefaultEndpoints is the endpoint catalog announced when the upstream does not
// provide one.
var DefaultEndpoints = []string{
	"adsoyad", "tc", "ad_soyad", "tc_sorgulama", "adres", "is_yeri",
	"vergi_no", "firma", "plaka2", "ip", "dns", "whois", "subdomain",
}

// SetConfigFile pins the config file used by Load. Empty restores discovery.
func SetConfigFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	configFile = strings.TrimSpace(path)
}

// SetEnvFile names a dotenv file Load must read. Empty restores the optional
// ./.env lookup.
func SetEnvFile(path string) {
	configMu.Lock()
	defer configMu.Unlock()
	envFile = strings.TrimSpace(path)
}

// loadDotEnv fills unset environment variables from a dotenv file. The real
// environment always wins.
func loadDotEnv() error {
	configMu.RLock()
	path := envFile
	configMu.RUnlock()

	if path == "" {
		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load .env: %w", err)
		}
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// SetDefaults registers every default value on v.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.trust_proxy_headers", false)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.profile", "structured")

	// Store defaults
	v.SetDefault("store.driver", "libsql")
	v.SetDefault("store.path", DefaultStorePath())
	v.SetDefault("store.url", "")
	v.SetDefault("store.auth_token", "")

	// Rate limit defaults
	v.SetDefault("rate_limit.backend", "store")
	v.SetDefault("rate_limit.limit", 10)
	v.SetDefault("rate_limit.window", "60s")
	v.SetDefault("rate_limit.idle_ttl", "10m")
	v.SetDefault("rate_limit.sweep_interval", "1m")
	v.SetDefault("rate_limit.redis.addr", "localhost:6379")
	v.SetDefault("rate_limit.redis.password", "")
	v.SetDefault("rate_limit.redis.db", 0)
	v.SetDefault("rate_limit.redis.prefix", "keyrelay:ratelimit")

	// Upstream defaults
	v.SetDefault("upstream.base_url", "https://upstream.example.com")
	v.SetDefault("upstream.issue_path", "/apiolustur")
	v.SetDefault("upstream.issue_timeout", "10s")

	// Credential defaults
	v.SetDefault("credentials.key_bytes", 16)
	v.SetDefault("credentials.endpoints", DefaultEndpoints)
	v.SetDefault("credentials.example_endpoint", "adsoyad")
	v.SetDefault("credentials.example_query", "ad=AHMET&soyad=YILMAZ")

	// Proxy defaults
	v.SetDefault("proxy.hosted", true)
	v.SetDefault("proxy.timeout", "8s")
	v.SetDefault("proxy.max_concurrent", 32)
	v.SetDefault("proxy.rate_per_second", 0)
	v.SetDefault("proxy.burst", 0)
	v.SetDefault("proxy.access_log", "")

	// Session defaults
	v.SetDefault("session.secret", "")
	v.SetDefault("session.cookie_name", "keyrelay_session")
	v.SetDefault("session.ttl", "24h")
	v.SetDefault("session.secure", false)

	// Usage recorder defaults
	v.SetDefault("usage.buffer", 256)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	// Health check defaults
	v.SetDefault("health.enabled", true)

	// Debug defaults
	v.SetDefault("debug.enabled", false)
	v.SetDefault("debug.pprof_enabled", false)
}

// Load builds the configuration from defaults, the config file, environment
// variables and runtime overrides (later layers win).
//
// This function is safe to call multiple times (e.g., for config reload)
func Load(ctx context.Context, runtimeOverrides ...map[string]any) (*Config, error) {
	identity, err := appid.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load app identity: %w", err)
	}

	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	SetDefaults(v)

	if err := readConfigFile(v, identity.ConfigName); err != nil {
		return nil, err
	}

	envOverrides, err := gfconfig.LoadEnvOverrides(getEnvSpecs())
	if err != nil {
		return nil, fmt.Errorf("failed to load environment overrides: %w", err)
	}

	allOverrides := []map[string]any{envOverrides}
	allOverrides = append(allOverrides, runtimeOverrides...)
	for _, overrides := range allOverrides {
		if len(overrides) == 0 {
			continue
		}
		if err := v.MergeConfigMap(overrides); err != nil {
			return nil, fmt.Errorf("failed to merge overrides: %w", err)
		}
	}

	cfg, err := decode(v.AllSettings())
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.Store.URL) == "" && strings.TrimSpace(cfg.Store.Path) == "" {
		cfg.Store.Path = DefaultStorePath()
	}
	if len(cfg.Credentials.Endpoints) == 0 {
		cfg.Credentials.Endpoints = append([]string(nil), DefaultEndpoints...)
	}

	setConfig(cfg)

	return cfg, nil
}

// GetConfig returns the current application configuration (thread-safe)
func GetConfig() *Config {
	configMu.RLock()
	defer configMu.RUnlock()
	return appConfig
}

// setConfig updates the current configuration (thread-safe)
func setConfig(cfg *Config) {
	configMu.Lock()
	defer configMu.Unlock()
	appConfig = cfg
}

func decode(settings map[string]any) (*Config, error) {
	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			mapstructure.StringToFloat64HookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create decoder: %w", err)
	}

	if err := decoder.Decode(settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

func readConfigFile(v *viper.Viper, configName string) error {
	configMu.RLock()
	path := configFile
	configMu.RUnlock()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		return nil
	}

	if dir := gfconfig.GetAppConfigDir(configName); strings.TrimSpace(dir) != "" {
		v.AddConfigPath(dir)
	}
	v.AddConfigPath("./config")
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// ConfigFileUsed reports the config file Load would read, if any.
func ConfigFileUsed() string {
	configMu.RLock()
	defer configMu.RUnlock()
	return configFile
}

// getEnvSpecs returns environment variable specifications for config mapping
// Maps {PREFIX}{NAME} environment variables to config paths
func getEnvSpecs() []EnvVarSpec {
	prefix := envPrefix()

	return []EnvVarSpec{
		// Server config
		{Name: prefix + "HOST", Path: []string{"server", "host"}, Type: EnvString},
		{Name: prefix + "PORT", Path: []string{"server", "port"}, Type: EnvInt},
		// Duration fields are parsed as strings and converted by mapstructure decode hook
		{Name: prefix + "READ_TIMEOUT", Path: []string{"server", "read_timeout"}, Type: EnvString},
		{Name: prefix + "WRITE_TIMEOUT", Path: []string{"server", "write_timeout"}, Type: EnvString},
		{Name: prefix + "IDLE_TIMEOUT", Path: []string{"server", "idle_timeout"}, Type: EnvString},
		{Name: prefix + "SHUTDOWN_TIMEOUT", Path: []string{"server", "shutdown_timeout"}, Type: EnvString},
		{Name: prefix + "TRUST_PROXY_HEADERS", Path: []string{"server", "trust_proxy_headers"}, Type: EnvBool},

		// Logging config
		{Name: prefix + "LOG_LEVEL", Path: []string{"logging", "level"}, Type: EnvString},
		{Name: prefix + "LOG_PROFILE", Path: []string{"logging", "profile"}, Type: EnvString},

		// Store config
		{Name: prefix + "DB_DRIVER", Path: []string{"store", "driver"}, Type: EnvString},
		{Name: prefix + "DB_PATH", Path: []string{"store", "path"}, Type: EnvString},
		{Name: prefix + "DB_URL", Path: []string{"store", "url"}, Type: EnvString},
		{Name: prefix + "DB_AUTH_TOKEN", Path: []string{"store", "auth_token"}, Type: EnvString},

		// Rate limit config
		{Name: prefix + "RATE_LIMIT_BACKEND", Path: []string{"rate_limit", "backend"}, Type: EnvString},
		{Name: prefix + "RATE_LIMIT_LIMIT", Path: []string{"rate_limit", "limit"}, Type: EnvInt},
		{Name: prefix + "RATE_LIMIT_WINDOW", Path: []string{"rate_limit", "window"}, Type: EnvString},
		{Name: prefix + "RATE_LIMIT_IDLE_TTL", Path: []string{"rate_limit", "idle_ttl"}, Type: EnvString},
		{Name: prefix + "RATE_LIMIT_SWEEP_INTERVAL", Path: []string{"rate_limit", "sweep_interval"}, Type: EnvString},
		{Name: prefix + "REDIS_ADDR", Path: []string{"rate_limit", "redis", "addr"}, Type: EnvString},
		{Name: prefix + "REDIS_PASSWORD", Path: []string{"rate_limit", "redis", "password"}, Type: EnvString},
		{Name: prefix + "REDIS_DB", Path: []string{"rate_limit", "redis", "db"}, Type: EnvInt},

		// Upstream config
		{Name: prefix + "UPSTREAM_BASE_URL", Path: []string{"upstream", "base_url"}, Type: EnvString},
		{Name: prefix + "UPSTREAM_ISSUE_PATH", Path: []string{"upstream", "issue_path"}, Type: EnvString},
		{Name: prefix + "UPSTREAM_ISSUE_TIMEOUT", Path: []string{"upstream", "issue_timeout"}, Type: EnvString},

		// Credential config
		{Name: prefix + "CREDENTIAL_KEY_BYTES", Path: []string{"credentials", "key_bytes"}, Type: EnvInt},
		{Name: prefix + "CREDENTIAL_ENDPOINTS", Path: []string{"credentials", "endpoints"}, Type: EnvString},

		// Proxy config
		{Name: prefix + "PROXY_HOSTED", Path: []string{"proxy", "hosted"}, Type: EnvBool},
		{Name: prefix + "PROXY_TIMEOUT", Path: []string{"proxy", "timeout"}, Type: EnvString},
		{Name: prefix + "PROXY_MAX_CONCURRENT", Path: []string{"proxy", "max_concurrent"}, Type: EnvInt},
		{Name: prefix + "PROXY_ACCESS_LOG", Path: []string{"proxy", "access_log"}, Type: EnvString},

		// Session config
		{Name: prefix + "SESSION_SECRET", Path: []string{"session", "secret"}, Type: EnvString},
		{Name: prefix + "SESSION_TTL", Path: []string{"session", "ttl"}, Type: EnvString},
		{Name: prefix + "SESSION_SECURE", Path: []string{"session", "secure"}, Type: EnvBool},

		// Usage recorder
		{Name: prefix + "USAGE_BUFFER", Path: []string{"usage", "buffer"}, Type: EnvInt},

		// Metrics config
		{Name: prefix + "METRICS_ENABLED", Path: []string{"metrics", "enabled"}, Type: EnvBool},
		{Name: prefix + "METRICS_PORT", Path: []string{"metrics", "port"}, Type: EnvInt},

		// Health config
		{Name: prefix + "HEALTH_ENABLED", Path: []string{"health", "enabled"}, Type: EnvBool},

		// Debug config
		{Name: prefix + "DEBUG_ENABLED", Path: []string{"debug", "enabled"}, Type: EnvBool},
		{Name: prefix + "DEBUG_PPROF_ENABLED", Path: []string{"debug", "pprof_enabled"}, Type: EnvBool},
	}
}

func envPrefix() string {
	prefix := appid.EnvPrefix
	if !strings.HasSuffix(prefix, "_") {
		prefix += "_"
	}
	return prefix
}

// DefaultConfigPath returns the XDG-compliant path to the user config file.
func DefaultConfigPath() string {
	configDir := gfconfig.GetAppConfigDir(appid.ConfigName)
	if strings.TrimSpace(configDir) == "" {
		return ""
	}
	return filepath.Join(configDir, "config.yaml")
}

// DefaultDataDir returns the XDG-compliant data directory for the app.
func DefaultDataDir() string {
	return gfconfig.GetAppDataDir(appid.ConfigName)
}

// DefaultStorePath returns the XDG-compliant path to the database file.
func DefaultStorePath() string {
	dataDir := gfconfig.GetAppDataDir(appid.ConfigName)
	if strings.TrimSpace(dataDir) == "" {
		return "./" + appid.BinaryName + ".db"
	}
	return filepath.Join(dataDir, appid.BinaryName+".db")
}
