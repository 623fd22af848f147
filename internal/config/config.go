// Package config loads the chat client configuration: built-in defaults, an
// optional YAML file, then environment overrides.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Session backends.
const (
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

type Config struct {
	// ServerURL is the http(s) base of the chat server. The REST endpoints
	// and the realtime endpoint are derived from it.
	ServerURL string        `yaml:"server_url"`
	Session   SessionConfig `yaml:"session"`
	NATS      NATSConfig    `yaml:"nats"`
	Metrics   MetricsConfig `yaml:"metrics"`

	// AuthTimeout bounds each login/register request. Zero disables it.
	AuthTimeout time.Duration `yaml:"auth_timeout"`
	// DialTimeout bounds the realtime handshake. Zero disables it.
	DialTimeout time.Duration `yaml:"dial_timeout"`
	// TranscriptFile, when set, receives every rendered message as HTML.
	TranscriptFile string `yaml:"transcript_file"`
}

type SessionConfig struct {
	Backend   string `yaml:"backend"`
	File      string `yaml:"file"`
	RedisAddr string `yaml:"redis_addr"`
}

type NATSConfig struct {
	// URL enables mirroring of received messages when non-empty.
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

type MetricsConfig struct {
	// Addr enables the Prometheus endpoint when non-empty, e.g. ":9100".
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		ServerURL: "http://localhost:8080",
		Session: SessionConfig{
			Backend:   BackendFile,
			File:      defaultSessionFile(),
			RedisAddr: "localhost:6379",
		},
		NATS: NATSConfig{
			Subject: "chat.mirror",
		},
		AuthTimeout: 15 * time.Second,
		DialTimeout: 10 * time.Second,
	}
}

func defaultSessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return filepath.Join(".", ".chatclient", "session.json")
	}
	return filepath.Join(dir, "chatclient", "session.json")
}

// Load builds the configuration. A missing file at path is not an error;
// an empty path skips the file entirely.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := overrideFromEnv(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s as YAML: %w", path, err)
	}
	return nil
}

func overrideFromEnv(cfg *Config) error {
	if v := os.Getenv("CHAT_SERVER_URL"); v != "" {
		cfg.ServerURL = v
	}
	if v := os.Getenv("SESSION_BACKEND"); v != "" {
		cfg.Session.Backend = v
	}
	if v := os.Getenv("SESSION_FILE"); v != "" {
		cfg.Session.File = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Session.RedisAddr = v
	}
	if v := os.Getenv("NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("NATS_SUBJECT"); v != "" {
		cfg.NATS.Subject = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("AUTH_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: AUTH_TIMEOUT %q: %w", v, err)
		}
		cfg.AuthTimeout = d
	}
	if v := os.Getenv("DIAL_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: DIAL_TIMEOUT %q: %w", v, err)
		}
		cfg.DialTimeout = d
	}
	if v := os.Getenv("TRANSCRIPT_FILE"); v != "" {
		cfg.TranscriptFile = v
	}
	return nil
}

// Validate checks the configuration for values the client cannot run with.
func (c Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("config: server_url %q: %w", c.ServerURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config: server_url %q must be an http(s) URL with a host", c.ServerURL)
	}

	switch c.Session.Backend {
	case BackendFile:
		if strings.TrimSpace(c.Session.File) == "" {
			return fmt.Errorf("config: session.file must not be empty for the file backend")
		}
	case BackendRedis:
		if strings.TrimSpace(c.Session.RedisAddr) == "" {
			return fmt.Errorf("config: session.redis_addr must not be empty for the redis backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("config: unknown session backend %q", c.Session.Backend)
	}

	if c.NATS.URL != "" && strings.TrimSpace(c.NATS.Subject) == "" {
		return fmt.Errorf("config: nats.subject must not be empty when nats.url is set")
	}
	if c.AuthTimeout < 0 || c.DialTimeout < 0 {
		return fmt.Errorf("config: timeouts must not be negative")
	}
	return nil
}

// Origin is the scheme://host part of ServerURL; persisted sessions are
// scoped to it.
func (c Config) Origin() string {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return c.ServerURL
	}
	return u.Scheme + "://" + u.Host
}
