package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// TOMLConfig represents the TOML configuration file structure.
type TOMLConfig struct {
	HTTP       TOMLHTTPConfig       `toml:"http"`
	Backend    TOMLBackendConfig    `toml:"backend"`
	Poller     TOMLPollerConfig     `toml:"poller"`
	Relay      TOMLRelayConfig      `toml:"relay"`
	Checkpoint TOMLCheckpointConfig `toml:"checkpoint"`
	DevMode    bool                 `toml:"dev_mode"`
}

type TOMLHTTPConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

type TOMLBackendConfig struct {
	Type        string `toml:"type"`
	SQLitePath  string `toml:"sqlite_path"`
	PostgresDSN string `toml:"postgres_dsn"`

	MongoURI      string `toml:"mongo_uri"`
	MongoDatabase string `toml:"mongo_database"`

	CircuitBreakerEnabled  bool    `toml:"circuit_breaker_enabled"`
	CircuitBreakerRequests int     `toml:"circuit_breaker_requests"`
	CircuitBreakerInterval string  `toml:"circuit_breaker_interval"`
	CircuitBreakerTimeout  string  `toml:"circuit_breaker_timeout"`
	CircuitBreakerRatio    float64 `toml:"circuit_breaker_ratio"`
}

type TOMLPollerConfig struct {
	EventsPerSecond float64 `toml:"events_per_second"`
	Burst           int     `toml:"burst"`
	PageSize        int     `toml:"page_size"`
}

type TOMLRelayConfig struct {
	Enabled bool   `toml:"enabled"`
	URL     string `toml:"url"`
	Subject string `toml:"subject"`
	DataDir string `toml:"data_dir"`
}

type TOMLCheckpointConfig struct {
	Type          string `toml:"type"`
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	RedisPrefix   string `toml:"redis_prefix"`
	RedisTTL      string `toml:"redis_ttl"`
}

// ConfigPaths lists the paths to search for a config file.
var ConfigPaths = []string{
	"config.toml",
	"eventcore.toml",
	"./config/config.toml",
	"/etc/eventcore/config.toml",
}

// LoadFromFile loads configuration from a TOML file.
func LoadFromFile(path string) (*Config, error) {
	var tc TOMLConfig
	if _, err := toml.DecodeFile(path, &tc); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return tomlConfigToConfig(&tc)
}

// LoadWithFile loads configuration from a file first, then overrides it
// with environment variables — file as base, env as override, matching the
// teacher's LoadWithFile.
func LoadWithFile() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	configPath := os.Getenv("EVENTCORE_CONFIG")
	if configPath == "" {
		for _, path := range ConfigPaths {
			if _, err := os.Stat(path); err == nil {
				configPath = path
				break
			}
		}
	}
	if configPath == "" {
		return cfg, nil
	}

	fileCfg, err := LoadFromFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
	}
	return mergeConfigs(fileCfg, cfg), nil
}

func tomlConfigToConfig(tc *TOMLConfig) (*Config, error) {
	cfg := &Config{
		HTTP: HTTPConfig{
			Port:        tc.HTTP.Port,
			CORSOrigins: tc.HTTP.CORSOrigins,
		},
		Backend: BackendConfig{
			Type:                   tc.Backend.Type,
			SQLitePath:             tc.Backend.SQLitePath,
			PostgresDSN:            tc.Backend.PostgresDSN,
			MongoURI:               tc.Backend.MongoURI,
			MongoDatabase:          tc.Backend.MongoDatabase,
			CircuitBreakerEnabled:  tc.Backend.CircuitBreakerEnabled,
			CircuitBreakerRequests: uint32(tc.Backend.CircuitBreakerRequests),
			CircuitBreakerRatio:    tc.Backend.CircuitBreakerRatio,
		},
		Poller: PollerConfig{
			EventsPerSecond: tc.Poller.EventsPerSecond,
			Burst:           tc.Poller.Burst,
			PageSize:        uint64(tc.Poller.PageSize),
		},
		Relay: RelayConfig{
			Enabled: tc.Relay.Enabled,
			URL:     tc.Relay.URL,
			Subject: tc.Relay.Subject,
			DataDir: tc.Relay.DataDir,
		},
		Checkpoint: CheckpointConfig{
			Type:          tc.Checkpoint.Type,
			RedisAddr:     tc.Checkpoint.RedisAddr,
			RedisPassword: tc.Checkpoint.RedisPassword,
			RedisDB:       tc.Checkpoint.RedisDB,
			RedisPrefix:   tc.Checkpoint.RedisPrefix,
		},
		DevMode: tc.DevMode,
	}

	if tc.Backend.CircuitBreakerInterval != "" {
		if d, err := time.ParseDuration(tc.Backend.CircuitBreakerInterval); err == nil {
			cfg.Backend.CircuitBreakerInterval = d
		}
	}
	if tc.Backend.CircuitBreakerTimeout != "" {
		if d, err := time.ParseDuration(tc.Backend.CircuitBreakerTimeout); err == nil {
			cfg.Backend.CircuitBreakerTimeout = d
		}
	}
	if tc.Checkpoint.RedisTTL != "" {
		if d, err := time.ParseDuration(tc.Checkpoint.RedisTTL); err == nil {
			cfg.Checkpoint.RedisTTL = d
		}
	}

	return cfg, nil
}

// mergeConfigs merges two configs, with override taking precedence for
// non-default values — matching the teacher's mergeConfigs.
func mergeConfigs(base, override *Config) *Config {
	result := *base

	if override.HTTP.Port != 0 && override.HTTP.Port != 8080 {
		result.HTTP.Port = override.HTTP.Port
	}
	if len(override.HTTP.CORSOrigins) > 0 {
		result.HTTP.CORSOrigins = override.HTTP.CORSOrigins
	}

	if override.Backend.Type != "" && override.Backend.Type != "memory" {
		result.Backend.Type = override.Backend.Type
	}
	if override.Backend.PostgresDSN != "" {
		result.Backend.PostgresDSN = override.Backend.PostgresDSN
	}
	if override.Backend.MongoURI != "" {
		result.Backend.MongoURI = override.Backend.MongoURI
	}

	if override.Relay.Enabled {
		result.Relay.Enabled = true
	}
	if override.Relay.URL != "" {
		result.Relay.URL = override.Relay.URL
	}

	if override.Checkpoint.Type != "" && override.Checkpoint.Type != "memory" {
		result.Checkpoint.Type = override.Checkpoint.Type
	}
	if override.Checkpoint.RedisAddr != "" {
		result.Checkpoint.RedisAddr = override.Checkpoint.RedisAddr
	}

	return &result
}
