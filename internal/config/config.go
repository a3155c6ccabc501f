// Copyright 2024 Gran Dzilam Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/your-org/gran-dzilam/internal/finance"
)

var (
	// ErrMissingRequiredField is returned when a required configuration field is missing
	ErrMissingRequiredField = errors.New("missing required configuration field")
	// ErrInvalidConfigValue is returned when a configuration value is invalid
	ErrInvalidConfigValue = errors.New("invalid configuration value")
)

const envPrefix = "GRAN_DZILAM"

// Config represents the complete application configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Chat      ChatConfig      `mapstructure:"chat"`
	Imagine   ImagineConfig   `mapstructure:"imagine"`
	Finance   FinanceConfig   `mapstructure:"finance"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Admin     AdminConfig     `mapstructure:"admin"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port                   string   `mapstructure:"port"`
	ReadTimeoutSeconds     int      `mapstructure:"read_timeout_seconds"`
	WriteTimeoutSeconds    int      `mapstructure:"write_timeout_seconds"`
	ShutdownTimeoutSeconds int      `mapstructure:"shutdown_timeout_seconds"`
	TrustedProxies         []string `mapstructure:"trusted_proxies"`
}

// OpenAIConfig contains AI provider settings shared by chat and imagine
type OpenAIConfig struct {
	APIKey         string `mapstructure:"apikey"`
	Endpoint       string `mapstructure:"endpoint"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	MaxAttempts    int    `mapstructure:"max_attempts"`
}

// ChatConfig contains chat assistant settings
type ChatConfig struct {
	Model          string  `mapstructure:"model"`
	MaxTokens      int     `mapstructure:"max_tokens"`
	Temperature    float64 `mapstructure:"temperature"`
	TimeoutSeconds int     `mapstructure:"timeout_seconds"`
}

// ImagineConfig contains "imagine your project" settings
type ImagineConfig struct {
	Model           string `mapstructure:"model"`
	AssetsDir       string `mapstructure:"assets_dir"`
	TemplateFile    string `mapstructure:"template_file"`
	BaseImageFile   string `mapstructure:"base_image_file"`
	DefaultSize     string `mapstructure:"default_size"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
	CacheTTLMinutes int    `mapstructure:"cache_ttl_minutes"`
}

// FinanceConfig contains the default user-facing financing ranges
type FinanceConfig struct {
	MinEnganche int64   `mapstructure:"min_enganche"`
	MaxEnganche int64   `mapstructure:"max_enganche"`
	MinMeses    int64   `mapstructure:"min_meses"`
	MaxMeses    int64   `mapstructure:"max_meses"`
	Interes     float64 `mapstructure:"interes"`
}

// RateLimitConfig contains fixed-window rate limiter settings
type RateLimitConfig struct {
	Requests      int    `mapstructure:"requests"`
	WindowSeconds int    `mapstructure:"window_seconds"`
	SweepSchedule string `mapstructure:"sweep_schedule"`
}

// StorageConfig contains the SQLite database location
type StorageConfig struct {
	DBPath string `mapstructure:"db_path"`
}

// CacheConfig selects the imagine result cache backend
type CacheConfig struct {
	Backend  string `mapstructure:"backend"`
	RedisURL string `mapstructure:"redis_url"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// AdminConfig contains the back-office access token
type AdminConfig struct {
	Token string `mapstructure:"token"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("configuration validation failed for field '%s': %s", e.Field, e.Message)
}

// LoadOptions contains options for configuration loading
type LoadOptions struct {
	ConfigPath       string
	EnableHotReload  bool
	Environment      string
	ValidateRequired bool
}

// Load loads configuration from file and environment variables
// Environment variables take precedence over config file values
func Load(configPath string) (*Config, error) {
	return LoadWithOptions(LoadOptions{
		ConfigPath:       configPath,
		EnableHotReload:  false,
		Environment:      getEnvironment(),
		ValidateRequired: true,
	})
}

// LoadWithOptions loads configuration with additional options
func LoadWithOptions(opts LoadOptions) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	found, err := setConfigFile(v, opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to set config file: %w", err)
	}

	// Enable environment variable overrides
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if found {
		if err := v.ReadInConfig(); err != nil {
			// Config file not found is not an error if env vars are set
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	setEnvironmentMappings(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config, opts.ValidateRequired); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout_seconds", 15)
	v.SetDefault("server.write_timeout_seconds", 150)
	v.SetDefault("server.shutdown_timeout_seconds", 10)
	v.SetDefault("server.trusted_proxies", []string{})

	v.SetDefault("openai.endpoint", "https://api.openai.com/v1")
	v.SetDefault("openai.timeout_seconds", 60)
	v.SetDefault("openai.max_attempts", 2)

	v.SetDefault("chat.model", "gpt-4o-mini")
	v.SetDefault("chat.max_tokens", 400)
	v.SetDefault("chat.temperature", 0.4)
	v.SetDefault("chat.timeout_seconds", 30)

	v.SetDefault("imagine.model", "gpt-4.1-mini")
	v.SetDefault("imagine.assets_dir", "./assets/imagine")
	v.SetDefault("imagine.template_file", "prompt.txt")
	v.SetDefault("imagine.base_image_file", "base.png")
	v.SetDefault("imagine.default_size", "1024x1024")
	v.SetDefault("imagine.timeout_seconds", 120)
	v.SetDefault("imagine.cache_ttl_minutes", 1440)

	v.SetDefault("finance.min_enganche", finance.MinEnganche)
	v.SetDefault("finance.max_enganche", finance.MaxEnganche)
	v.SetDefault("finance.min_meses", finance.MinMeses)
	v.SetDefault("finance.max_meses", finance.MaxMeses)
	v.SetDefault("finance.interes", 0.0)

	v.SetDefault("ratelimit.requests", 20)
	v.SetDefault("ratelimit.window_seconds", 60)
	v.SetDefault("ratelimit.sweep_schedule", "@every 5m")

	v.SetDefault("storage.db_path", "./grandzilam.db")

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.redis_url", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("admin.token", "")
}

// setConfigFile sets the configuration file path with fallback logic. It
// reports whether a file will be read; defaults and environment alone are valid.
func setConfigFile(v *viper.Viper, configPath string) (bool, error) {
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		if _, err := os.Stat(envPath); err != nil {
			return false, fmt.Errorf("config file specified by CONFIG_PATH does not exist: %s", envPath)
		}
		v.SetConfigFile(envPath)
		return true, nil
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			return false, fmt.Errorf("config file does not exist: %s", configPath)
		}
		v.SetConfigFile(configPath)
		return true, nil
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	for _, path := range []string{"./configs/config.yaml", "./config.yaml"} {
		if _, err := os.Stat(path); err == nil {
			return true, nil
		}
	}

	return false, nil
}

// setEnvironmentMappings sets explicit environment variable mappings
func setEnvironmentMappings(v *viper.Viper) {
	envMappings := map[string]string{
		"OPENAI_API_KEY":  "openai.apikey",
		"OPENAI_ENDPOINT": "openai.endpoint",
		"PORT":            "server.port",
		"DB_PATH":         "storage.db_path",
		"REDIS_URL":       "cache.redis_url",
		"ADMIN_TOKEN":     "admin.token",
		"LOG_LEVEL":       "logging.level",
		"LOG_FORMAT":      "logging.format",
		"LOG_OUTPUT":      "logging.output",
	}

	for envVar, configKey := range envMappings {
		if value := os.Getenv(envVar); value != "" {
			v.Set(configKey, value)
		}
	}
}

// validateConfig validates the configuration. Secrets are only required when
// requireSecrets is set, so offline commands can run without them.
func validateConfig(config *Config, requireSecrets bool) error {
	var errors []ValidationError

	if requireSecrets {
		if config.OpenAI.APIKey == "" {
			errors = append(errors, ValidationError{
				Field:   "openai.apikey",
				Message: "OpenAI API key is required. Set via config file or OPENAI_API_KEY environment variable",
			})
		}
		if config.Admin.Token == "" {
			errors = append(errors, ValidationError{
				Field:   "admin.token",
				Message: "admin token is required. Set via config file or ADMIN_TOKEN environment variable",
			})
		}
	}

	if config.Server.Port == "" {
		errors = append(errors, ValidationError{Field: "server.port", Message: "port is required"})
	}

	if config.OpenAI.Endpoint == "" {
		errors = append(errors, ValidationError{Field: "openai.endpoint", Message: "endpoint is required"})
	}

	positive := map[string]int{
		"server.read_timeout_seconds":     config.Server.ReadTimeoutSeconds,
		"server.write_timeout_seconds":    config.Server.WriteTimeoutSeconds,
		"server.shutdown_timeout_seconds": config.Server.ShutdownTimeoutSeconds,
		"openai.timeout_seconds":          config.OpenAI.TimeoutSeconds,
		"openai.max_attempts":             config.OpenAI.MaxAttempts,
		"chat.max_tokens":                 config.Chat.MaxTokens,
		"chat.timeout_seconds":            config.Chat.TimeoutSeconds,
		"imagine.timeout_seconds":         config.Imagine.TimeoutSeconds,
		"imagine.cache_ttl_minutes":       config.Imagine.CacheTTLMinutes,
		"ratelimit.requests":              config.RateLimit.Requests,
		"ratelimit.window_seconds":        config.RateLimit.WindowSeconds,
	}
	for _, field := range sortedKeys(positive) {
		if positive[field] <= 0 {
			errors = append(errors, ValidationError{
				Field:   field,
				Message: fmt.Sprintf("%s must be greater than 0", field[strings.LastIndex(field, ".")+1:]),
			})
		}
	}

	if config.Chat.Temperature < 0 || config.Chat.Temperature > 2 {
		errors = append(errors, ValidationError{
			Field:   "chat.temperature",
			Message: "temperature must be between 0 and 2",
		})
	}

	if err := config.Finance.Settings().Validate(); err != nil {
		errors = append(errors, ValidationError{Field: "finance", Message: err.Error()})
	}

	validLogLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLogLevels, config.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Message: fmt.Sprintf("log level must be one of: %s", strings.Join(validLogLevels, ", ")),
		})
	}

	validLogFormats := []string{"json", "text"}
	if !contains(validLogFormats, config.Logging.Format) {
		errors = append(errors, ValidationError{
			Field:   "logging.format",
			Message: fmt.Sprintf("log format must be one of: %s", strings.Join(validLogFormats, ", ")),
		})
	}

	validBackends := []string{"memory", "redis"}
	if !contains(validBackends, config.Cache.Backend) {
		errors = append(errors, ValidationError{
			Field:   "cache.backend",
			Message: fmt.Sprintf("cache backend must be one of: %s", strings.Join(validBackends, ", ")),
		})
	} else if config.Cache.Backend == "redis" && config.Cache.RedisURL == "" {
		errors = append(errors, ValidationError{
			Field:   "cache.redis_url",
			Message: "redis_url is required when the redis cache backend is selected",
		})
	}

	if config.Storage.DBPath == "" {
		errors = append(errors, ValidationError{
			Field:   "storage.db_path",
			Message: "database path is required",
		})
	} else if err := validateDirectoryExists(filepath.Dir(config.Storage.DBPath)); err != nil {
		errors = append(errors, ValidationError{
			Field:   "storage.db_path",
			Message: fmt.Sprintf("database directory does not exist: %s", filepath.Dir(config.Storage.DBPath)),
		})
	}

	if len(errors) > 0 {
		var errorMessages []string
		for _, err := range errors {
			errorMessages = append(errorMessages, err.Error())
		}
		return fmt.Errorf("%w:\n%s", ErrInvalidConfigValue, strings.Join(errorMessages, "\n"))
	}

	return nil
}

// Settings converts the configured ranges into finance settings
func (f FinanceConfig) Settings() finance.Settings {
	return finance.Settings{
		MinEnganche:  f.MinEnganche,
		MaxEnganche:  f.MaxEnganche,
		MinMeses:     f.MinMeses,
		MaxMeses:     f.MaxMeses,
		InteresAnual: f.Interes,
	}
}

// Timeout returns the default per-attempt timeout for AI provider calls
func (o OpenAIConfig) Timeout() time.Duration {
	return time.Duration(o.TimeoutSeconds) * time.Second
}

// Timeout returns the per-attempt timeout for chat calls
func (c ChatConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Timeout returns the per-attempt timeout for image generation calls
func (i ImagineConfig) Timeout() time.Duration {
	return time.Duration(i.TimeoutSeconds) * time.Second
}

// CacheTTL returns how long a generated image stays cached
func (i ImagineConfig) CacheTTL() time.Duration {
	return time.Duration(i.CacheTTLMinutes) * time.Minute
}

// Window returns the rate limiter window
func (r RateLimitConfig) Window() time.Duration {
	return time.Duration(r.WindowSeconds) * time.Second
}

// MaskSensitiveValues returns a copy of the config with sensitive values masked
func (c *Config) MaskSensitiveValues() *Config {
	masked := *c

	if masked.OpenAI.APIKey != "" {
		masked.OpenAI.APIKey = maskValue(masked.OpenAI.APIKey)
	}
	if masked.Admin.Token != "" {
		masked.Admin.Token = maskValue(masked.Admin.Token)
	}
	if masked.Cache.RedisURL != "" {
		masked.Cache.RedisURL = maskValue(masked.Cache.RedisURL)
	}

	return &masked
}

// maskValue masks sensitive values, showing only the first 8 characters
func maskValue(value string) string {
	if len(value) <= 8 {
		return strings.Repeat("*", len(value))
	}
	return value[:8] + strings.Repeat("*", len(value)-8)
}

// contains checks if a slice contains a specific string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// validateDirectoryExists checks if a directory exists
func validateDirectoryExists(path string) error {
	if path == "" || path == "." {
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	return nil
}

// getEnvironment returns the current environment (development, production, etc.)
func getEnvironment() string {
	if env := os.Getenv("ENVIRONMENT"); env != "" {
		return env
	}
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "development"
}

// WatchConfig reloads the configuration whenever the file changes and hands
// the new value to callback. Reload failures go to onError and keep the old config.
func WatchConfig(configPath string, callback func(*Config), onError func(error)) error {
	v := viper.New()

	found, err := setConfigFile(v, configPath)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: no config file to watch", ErrMissingRequiredField)
	}

	v.OnConfigChange(func(_ fsnotify.Event) {
		config, err := LoadWithOptions(LoadOptions{
			ConfigPath:       configPath,
			EnableHotReload:  true,
			Environment:      getEnvironment(),
			ValidateRequired: true,
		})
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}

		callback(config)
	})
	v.WatchConfig()

	return nil
}
