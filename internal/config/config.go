package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigPath        = "config.toml"
	DefaultAPIBaseURL        = "http://127.0.0.1:5000"
	DefaultAPITimeout        = "20s"
	DefaultSocketURL         = "ws://127.0.0.1:5000"
	DefaultSocketPath        = "/socket.io/"
	DefaultHistoryPageSize   = 50
	DefaultReconnectInterval = "3s"
	DefaultCountdownSeconds  = -1
	DefaultDegradeFraction   = 0.5
	DefaultTickInterval      = "1s"
	DefaultDevServerAddr     = ":5000"
	DefaultJWTExpiresIn      = "24h"
)

type Config struct {
	Log       LogConfig       `toml:"log" yaml:"log"`
	API       APIConfig       `toml:"api" yaml:"api"`
	Socket    SocketConfig    `toml:"socket" yaml:"socket"`
	Auth      AuthConfig      `toml:"auth" yaml:"auth"`
	Session   SessionConfig   `toml:"session" yaml:"session"`
	Removal   RemovalConfig   `toml:"removal" yaml:"removal"`
	DevServer DevServerConfig `toml:"devserver" yaml:"devserver"`
}

type LogConfig struct {
	Level  string `toml:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `toml:"format" yaml:"format" validate:"oneof=text json"`
}

type APIConfig struct {
	BaseURL string `toml:"base_url" yaml:"base_url" validate:"required,url"`
	Timeout string `toml:"timeout" yaml:"timeout"`
}

type SocketConfig struct {
	URL  string `toml:"url" yaml:"url" validate:"required,url"`
	Path string `toml:"path" yaml:"path"`
}

type AuthConfig struct {
	Token        string `toml:"token" yaml:"token"`
	JWTSecret    string `toml:"jwt_secret" yaml:"jwt_secret"`
	JWTExpiresIn string `toml:"jwt_expires_in" yaml:"jwt_expires_in"`
}

type SessionConfig struct {
	HistoryPageSize   int    `toml:"history_page_size" yaml:"history_page_size" validate:"gte=0,lte=500"`
	ReconnectInterval string `toml:"reconnect_interval" yaml:"reconnect_interval"`
}

type RemovalConfig struct {
	CountdownSeconds int     `toml:"countdown_seconds" yaml:"countdown_seconds" validate:"gte=-1"`
	DegradeFraction  float64 `toml:"degrade_fraction" yaml:"degrade_fraction" validate:"gt=0,lte=1"`
	TickInterval     string  `toml:"tick_interval" yaml:"tick_interval"`
}

type DevServerConfig struct {
	Addr string `toml:"addr" yaml:"addr"`
}

// TimeoutDuration returns the parsed API timeout, falling back to the default.
func (c APIConfig) TimeoutDuration() time.Duration {
	return parseDuration(c.Timeout, DefaultAPITimeout)
}

func (c SessionConfig) ReconnectDuration() time.Duration {
	return parseDuration(c.ReconnectInterval, DefaultReconnectInterval)
}

func (c RemovalConfig) TickDuration() time.Duration {
	return parseDuration(c.TickInterval, DefaultTickInterval)
}

func (c AuthConfig) ExpiresIn() time.Duration {
	return parseDuration(c.JWTExpiresIn, DefaultJWTExpiresIn)
}

func parseDuration(raw, fallback string) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || d <= 0 {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		API: APIConfig{
			BaseURL: DefaultAPIBaseURL,
			Timeout: DefaultAPITimeout,
		},
		Socket: SocketConfig{
			URL:  DefaultSocketURL,
			Path: DefaultSocketPath,
		},
		Auth: AuthConfig{
			JWTExpiresIn: DefaultJWTExpiresIn,
		},
		Session: SessionConfig{
			HistoryPageSize:   DefaultHistoryPageSize,
			ReconnectInterval: DefaultReconnectInterval,
		},
		Removal: RemovalConfig{
			CountdownSeconds: DefaultCountdownSeconds,
			DegradeFraction:  DefaultDegradeFraction,
			TickInterval:     DefaultTickInterval,
		},
		DevServer: DevServerConfig{
			Addr: DefaultDevServerAddr,
		},
	}
}

// Load reads a TOML (or YAML, by extension) config file over the defaults.
// A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("MEERKAT_CONFIG")
	}
	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("decode yaml config: %w", err)
		}
	default:
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, err
		}
	}

	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints declared on the config structs.
func Validate(cfg Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
