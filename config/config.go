// Package config loads and validates the mirror's configuration: defaults,
// then an optional JSON file, then environment overrides.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/DiamondLightSource/odinmirror/errors"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "ODINMIRROR"

// Duration wraps time.Duration with JSON string encoding ("200ms", "1s").
type Duration time.Duration

// UnmarshalJSON parses a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		parsed, err := time.ParseDuration(asString)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	}

	var asNumber int64
	if err := json.Unmarshal(data, &asNumber); err != nil {
		return err
	}
	*d = Duration(asNumber)
	return nil
}

// MarshalJSON encodes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// ServerConfig addresses the odin control server being mirrored.
type ServerConfig struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	APIPrefix string `json:"api_prefix"`
	// Label names this server in log subjects and metrics.
	Label string `json:"label"`
}

// CacheConfig tunes the subtree caches.
type CacheConfig struct {
	// UpdatePeriod is the staleness budget applied to leaf reads.
	UpdatePeriod Duration `json:"update_period"`
	// TimerWindow is the rolling sample count of the fetch latency timer.
	TimerWindow int `json:"timer_window"`
}

// HTTPConfig configures the mirror's own HTTP surface.
type HTTPConfig struct {
	Listen string `json:"listen"`
}

// LoggingConfig configures local log output and optional NATS streaming.
type LoggingConfig struct {
	Level   string `json:"level"`
	NATSURL string `json:"nats_url,omitempty"`
}

// Config is the complete mirror configuration.
type Config struct {
	Server  ServerConfig  `json:"server"`
	Cache   CacheConfig   `json:"cache"`
	HTTP    HTTPConfig    `json:"http"`
	Logging LoggingConfig `json:"logging"`
}

// Default returns the configuration used when no file or overrides are given.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:      "localhost",
			Port:      8888,
			APIPrefix: "api/0.1",
			Label:     "odin",
		},
		Cache: CacheConfig{
			UpdatePeriod: Duration(200 * time.Millisecond),
			TimerWindow:  100,
		},
		HTTP: HTTPConfig{
			Listen: ":8080",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration from defaults, the optional JSON file at
// path and environment overrides, then validates it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.WrapInvalid(err, "config", "Load", "read file")
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, errors.WrapInvalid(err, "config", "Load", "parse file")
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv(EnvPrefix + "_SERVER_HOST"); val != "" {
		cfg.Server.Host = val
	}
	if val := os.Getenv(EnvPrefix + "_SERVER_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			cfg.Server.Port = port
		}
	}
	if val := os.Getenv(EnvPrefix + "_SERVER_LABEL"); val != "" {
		cfg.Server.Label = val
	}
	if val := os.Getenv(EnvPrefix + "_HTTP_LISTEN"); val != "" {
		cfg.HTTP.Listen = val
	}
	if val := os.Getenv(EnvPrefix + "_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv(EnvPrefix + "_NATS_URL"); val != "" {
		cfg.Logging.NATSURL = val
	}
	if val := os.Getenv(EnvPrefix + "_UPDATE_PERIOD"); val != "" {
		if period, err := time.ParseDuration(val); err == nil {
			cfg.Cache.UpdatePeriod = Duration(period)
		}
	}
}

// Validate checks the configuration for values the mirror cannot start with.
func (c *Config) Validate() error {
	if c.Server.Host == "" {
		return missing("server.host")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return invalid("server.port", strconv.Itoa(c.Server.Port))
	}
	if c.Server.APIPrefix == "" {
		return missing("server.api_prefix")
	}
	if c.Server.Label == "" {
		return missing("server.label")
	}
	if c.Cache.UpdatePeriod <= 0 {
		return invalid("cache.update_period", c.Cache.UpdatePeriod.Std().String())
	}
	if c.Cache.TimerWindow < 1 {
		return invalid("cache.timer_window", strconv.Itoa(c.Cache.TimerWindow))
	}
	if c.HTTP.Listen == "" {
		return missing("http.listen")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return invalid("logging.level", c.Logging.Level)
	}
	return nil
}

// LogLevel translates the configured level name into a slog level.
func (c *Config) LogLevel() slog.Level {
	switch strings.ToLower(c.Logging.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func missing(field string) error {
	return errors.WrapInvalid(
		fmt.Errorf("%w: %s", errors.ErrMissingConfig, field),
		"Config", "Validate", "check "+field)
}

func invalid(field, value string) error {
	return errors.WrapInvalid(
		fmt.Errorf("%w: %s=%q", errors.ErrInvalidConfig, field, value),
		"Config", "Validate", "check "+field)
}
