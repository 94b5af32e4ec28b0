// Package config handles TOML configuration parsing for the federation
// service. It loads configuration from registryfed.toml, applies
// environment variable overrides (prefixed with REGISTRYFED_), validates
// required fields, and provides sane defaults for all settings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config is the top-level configuration for a registry-federation instance.
type Config struct {
	Instance  InstanceConfig  `toml:"instance"`
	Peers     PeersConfig     `toml:"peers"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Client    ClientConfig    `toml:"client"`
	OAuth2    OAuth2Config    `toml:"oauth2"`
	HTTP      HTTPConfig      `toml:"http"`
	Logging   LoggingConfig   `toml:"logging"`
	Audit     AuditConfig     `toml:"audit"`
}

// InstanceConfig identifies this registry to its peers.
type InstanceConfig struct {
	RegistryID string `toml:"registry_id"`
	Name       string `toml:"name"`
}

// PeersConfig controls where peer configs and sync state are persisted.
type PeersConfig struct {
	DataDir                    string `toml:"data_dir"`
	SyncStateFile              string `toml:"sync_state_file"`
	DefaultSyncIntervalMinutes int    `toml:"default_sync_interval_minutes"`
}

// SchedulerConfig controls the cooperative sync scheduler (spec §5).
type SchedulerConfig struct {
	Enabled       bool   `toml:"enabled"`
	CheckInterval string `toml:"check_interval"`
}

// CheckIntervalParsed returns the scheduler's check interval as a duration.
func (s SchedulerConfig) CheckIntervalParsed() (time.Duration, error) {
	d, err := time.ParseDuration(s.CheckInterval)
	if err != nil {
		return 0, fmt.Errorf("parsing check_interval %q: %w", s.CheckInterval, err)
	}
	return d, nil
}

// ClientConfig controls the outbound HTTP client used to reach peers
// (spec §4.2).
type ClientConfig struct {
	Timeout       string `toml:"timeout"`
	RetryAttempts int    `toml:"retry_attempts"`
	HistoryLimit  int    `toml:"history_limit"`
}

// TimeoutParsed returns the client timeout as a duration.
func (c ClientConfig) TimeoutParsed() (time.Duration, error) {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 0, fmt.Errorf("parsing timeout %q: %w", c.Timeout, err)
	}
	return d, nil
}

// OAuth2Config configures the shared client-credentials token source used
// for peers that don't carry their own federation_token (spec §4.2.3).
type OAuth2Config struct {
	ClientID     string   `toml:"client_id"`
	ClientSecret string   `toml:"client_secret"`
	TokenURL     string   `toml:"token_url"`
	Scopes       []string `toml:"scopes"`
	JWTSecret    string   `toml:"jwt_secret"`
}

// HTTPConfig defines the inbound federation HTTP server settings.
type HTTPConfig struct {
	Listen      string   `toml:"listen"`
	CORSOrigins []string `toml:"cors_origins"`
}

// LoggingConfig defines structured logging settings.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// AuditConfig controls the inbound connection audit log (spec §4.4).
type AuditConfig struct {
	MaxEntries int `toml:"max_entries"`
}

// defaults returns a Config with sane default values for all fields.
func defaults() Config {
	return Config{
		Instance: InstanceConfig{
			RegistryID: "local-registry",
			Name:       "local-registry",
		},
		Peers: PeersConfig{
			DataDir:                    "./data/peers",
			SyncStateFile:              "./data/peer_sync_state.json",
			DefaultSyncIntervalMinutes: 15,
		},
		Scheduler: SchedulerConfig{
			Enabled:       true,
			CheckInterval: "30s",
		},
		Client: ClientConfig{
			Timeout:       "30s",
			RetryAttempts: 3,
			HistoryLimit:  100,
		},
		HTTP: HTTPConfig{
			Listen:      "0.0.0.0:8090",
			CORSOrigins: []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Audit: AuditConfig{
			MaxEntries: 1000,
		},
	}
}

// Load reads the configuration from the given TOML file path, applies
// defaults for missing values, and then applies environment variable
// overrides.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			if err := validate(&cfg); err != nil {
				return nil, err
			}
			return &cfg, nil
		}
		return nil, fmt.Errorf("reading config file %q: %w", path, err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	applyEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyEnvOverrides overrides config fields with environment variables when
// set. Environment variables use the prefix REGISTRYFED_ followed by the
// section and field name in uppercase with underscores (e.g.
// REGISTRYFED_OAUTH2_CLIENT_SECRET).
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("REGISTRYFED_INSTANCE_REGISTRY_ID"); v != "" {
		cfg.Instance.RegistryID = v
	}
	if v := os.Getenv("REGISTRYFED_INSTANCE_NAME"); v != "" {
		cfg.Instance.Name = v
	}

	if v := os.Getenv("REGISTRYFED_PEERS_DATA_DIR"); v != "" {
		cfg.Peers.DataDir = v
	}
	if v := os.Getenv("REGISTRYFED_PEERS_SYNC_STATE_FILE"); v != "" {
		cfg.Peers.SyncStateFile = v
	}
	if v := os.Getenv("REGISTRYFED_PEERS_DEFAULT_SYNC_INTERVAL_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Peers.DefaultSyncIntervalMinutes = n
		}
	}

	if v := os.Getenv("REGISTRYFED_SCHEDULER_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Scheduler.Enabled = b
		}
	}
	if v := os.Getenv("REGISTRYFED_SCHEDULER_CHECK_INTERVAL"); v != "" {
		cfg.Scheduler.CheckInterval = v
	}

	if v := os.Getenv("REGISTRYFED_CLIENT_TIMEOUT"); v != "" {
		cfg.Client.Timeout = v
	}
	if v := os.Getenv("REGISTRYFED_CLIENT_RETRY_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Client.RetryAttempts = n
		}
	}
	if v := os.Getenv("REGISTRYFED_CLIENT_HISTORY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Client.HistoryLimit = n
		}
	}

	if v := os.Getenv("REGISTRYFED_OAUTH2_CLIENT_ID"); v != "" {
		cfg.OAuth2.ClientID = v
	}
	if v := os.Getenv("REGISTRYFED_OAUTH2_CLIENT_SECRET"); v != "" {
		cfg.OAuth2.ClientSecret = v
	}
	if v := os.Getenv("REGISTRYFED_OAUTH2_TOKEN_URL"); v != "" {
		cfg.OAuth2.TokenURL = v
	}
	if v := os.Getenv("REGISTRYFED_OAUTH2_SCOPES"); v != "" {
		cfg.OAuth2.Scopes = strings.Split(v, ",")
	}
	if v := os.Getenv("REGISTRYFED_OAUTH2_JWT_SECRET"); v != "" {
		cfg.OAuth2.JWTSecret = v
	}

	if v := os.Getenv("REGISTRYFED_HTTP_LISTEN"); v != "" {
		cfg.HTTP.Listen = v
	}
	if v := os.Getenv("REGISTRYFED_HTTP_CORS_ORIGINS"); v != "" {
		cfg.HTTP.CORSOrigins = strings.Split(v, ",")
	}

	if v := os.Getenv("REGISTRYFED_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("REGISTRYFED_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("REGISTRYFED_AUDIT_MAX_ENTRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Audit.MaxEntries = n
		}
	}
}

// validate checks that required configuration fields are present and valid.
func validate(cfg *Config) error {
	if cfg.Instance.RegistryID == "" {
		return fmt.Errorf("config: instance.registry_id is required")
	}
	if cfg.Peers.DataDir == "" {
		return fmt.Errorf("config: peers.data_dir is required")
	}
	if cfg.Peers.SyncStateFile == "" {
		return fmt.Errorf("config: peers.sync_state_file is required")
	}
	if cfg.Peers.DefaultSyncIntervalMinutes < 5 || cfg.Peers.DefaultSyncIntervalMinutes > 1440 {
		return fmt.Errorf("config: peers.default_sync_interval_minutes must be between 5 and 1440")
	}

	if _, err := cfg.Scheduler.CheckIntervalParsed(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if _, err := cfg.Client.TimeoutParsed(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.Client.RetryAttempts < 1 {
		return fmt.Errorf("config: client.retry_attempts must be at least 1")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("config: logging.level must be one of: debug, info, warn, error (got %q)", cfg.Logging.Level)
	}
	validLogFormats := map[string]bool{"json": true, "text": true}
	if !validLogFormats[cfg.Logging.Format] {
		return fmt.Errorf("config: logging.format must be one of: json, text (got %q)", cfg.Logging.Format)
	}

	if cfg.HTTP.Listen == "" {
		return fmt.Errorf("config: http.listen is required")
	}
	if cfg.Audit.MaxEntries < 1 {
		return fmt.Errorf("config: audit.max_entries must be at least 1")
	}

	return nil
}
