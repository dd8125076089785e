// Package config loads imapd's configuration from a YAML file via
// koanf, falling back to sensible defaults when no file is present.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration for the IMAP server.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	TLS      TLSConfig      `koanf:"tls"`
	Auth     AuthConfig     `koanf:"auth"`
	Logging  LoggingConfig  `koanf:"logging"`
	Metrics  MetricsConfig  `koanf:"metrics"`
	Limits   LimitsConfig   `koanf:"limits"`
}

// ServerConfig holds listener endpoint configuration.
type ServerConfig struct {
	Hostname        string `koanf:"hostname"`         // advertised in the greeting and STARTTLS cert SAN
	IMAPAddr        string `koanf:"imap_addr"`        // plaintext + STARTTLS, e.g. ":143"
	IMAPSAddr       string `koanf:"imaps_addr"`       // implicit TLS, e.g. ":993"
	ProxyAddr       string `koanf:"proxy_addr"`       // optional PROXY-PROTOCOL endpoint behind a load balancer
	ShutdownTimeout string `koanf:"shutdown_timeout"` // grace period for in-flight sessions
}

// TLSConfig holds TLS/ACME configuration.
type TLSConfig struct {
	AutoTLS  bool   `koanf:"auto_tls"`  // use Let's Encrypt via autocert
	Email    string `koanf:"email"`     // ACME account email
	CacheDir string `koanf:"cache_dir"` // autocert.DirCache path
	CertFile string `koanf:"cert_file"` // manual cert path, used when auto_tls is false
	KeyFile  string `koanf:"key_file"`  // manual key path
}

// AuthConfig controls which authentication mechanisms the server
// advertises.
type AuthConfig struct {
	AllowExternal bool `koanf:"allow_external"` // advertise AUTH=EXTERNAL (requires a verified client cert)
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`  // debug, info, warn, error
	Format string `koanf:"format"` // json, text
	Output string `koanf:"output"` // stdout, stderr, or file path
}

// MetricsConfig controls the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `koanf:"enabled"`
	Listen  string `koanf:"listen"` // e.g. "127.0.0.1:9143"
}

// LimitsConfig holds protocol-level resource limits.
type LimitsConfig struct {
	MaxLiteral      int    `koanf:"max_literal"`       // bytes, 0 means the engine default (40 MiB)
	IdleTimeout     string `koanf:"idle_timeout"`      // RFC 3501 recommends at least 30m
	IdleIdleTimeout string `koanf:"idle_idle_timeout"` // deadline while IDLE is outstanding
	AcceptTimeout   string `koanf:"accept_timeout"`    // bounds PROXY header / TLS handshake
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Hostname:        "localhost",
			IMAPAddr:        ":143",
			IMAPSAddr:       ":993",
			ShutdownTimeout: "10s",
		},
		TLS: TLSConfig{
			CacheDir: "/var/lib/imapd/autocert",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Listen:  "127.0.0.1:9143",
		},
		Limits: LimitsConfig{
			MaxLiteral:      40 << 20,
			IdleTimeout:     "30m",
			IdleIdleTimeout: "24m",
			AcceptTimeout:   "10s",
		},
	}
}

// Load reads configuration from a YAML file, returning defaults
// overlaid with whatever the file sets if path exists, or bare
// defaults if it does not.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load config file: %w", err)
	}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Server.Hostname == "" {
		return fmt.Errorf("server.hostname is required")
	}
	if c.Server.IMAPAddr == "" && c.Server.IMAPSAddr == "" {
		return fmt.Errorf("at least one of server.imap_addr or server.imaps_addr must be set")
	}

	if c.TLS.AutoTLS {
		if c.TLS.Email == "" {
			return fmt.Errorf("tls.email is required when auto_tls is enabled")
		}
		if c.TLS.CacheDir == "" {
			return fmt.Errorf("tls.cache_dir is required when auto_tls is enabled")
		}
	} else if c.Server.IMAPSAddr != "" || c.TLS.CertFile != "" || c.TLS.KeyFile != "" {
		if c.TLS.CertFile == "" || c.TLS.KeyFile == "" {
			return fmt.Errorf("tls.cert_file and tls.key_file are both required when auto_tls is disabled and TLS is in use")
		}
		if err := validateFileReadable(c.TLS.CertFile); err != nil {
			return fmt.Errorf("tls.cert_file: %w", err)
		}
		if err := validateFileReadable(c.TLS.KeyFile); err != nil {
			return fmt.Errorf("tls.key_file: %w", err)
		}
	}

	if c.Limits.MaxLiteral < 0 {
		return fmt.Errorf("limits.max_literal cannot be negative")
	}

	for _, d := range []struct{ name, val string }{
		{"server.shutdown_timeout", c.Server.ShutdownTimeout},
		{"limits.idle_timeout", c.Limits.IdleTimeout},
		{"limits.idle_idle_timeout", c.Limits.IdleIdleTimeout},
		{"limits.accept_timeout", c.Limits.AcceptTimeout},
	} {
		if d.val == "" {
			continue
		}
		dur, err := time.ParseDuration(d.val)
		if err != nil {
			return fmt.Errorf("%s is invalid: %w", d.name, err)
		}
		if dur <= 0 {
			return fmt.Errorf("%s must be positive (got: %s)", d.name, d.val)
		}
	}

	if c.Logging.Level != "" {
		valid := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
		if !valid[c.Logging.Level] {
			return fmt.Errorf("logging.level must be one of: debug, info, warn, error (got: %s)", c.Logging.Level)
		}
	}
	if c.Logging.Format != "" {
		valid := map[string]bool{"json": true, "text": true}
		if !valid[c.Logging.Format] {
			return fmt.Errorf("logging.format must be one of: json, text (got: %s)", c.Logging.Format)
		}
	}

	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return fmt.Errorf("metrics.listen is required when metrics.enabled is true")
	}

	return nil
}

// ShutdownTimeoutOr returns the configured shutdown timeout, or def if
// unset or unparsable.
func (c *Config) ShutdownTimeoutOr(def time.Duration) time.Duration {
	return durationOr(c.Server.ShutdownTimeout, def)
}

// IdleTimeoutOr returns the configured IDLE timeout, or def.
func (c *Config) IdleTimeoutOr(def time.Duration) time.Duration {
	return durationOr(c.Limits.IdleTimeout, def)
}

// IdleIdleTimeoutOr returns the configured mid-IDLE timeout, or def.
func (c *Config) IdleIdleTimeoutOr(def time.Duration) time.Duration {
	return durationOr(c.Limits.IdleIdleTimeout, def)
}

// AcceptTimeoutOr returns the configured accept-phase timeout, or def.
func (c *Config) AcceptTimeoutOr(def time.Duration) time.Duration {
	return durationOr(c.Limits.AcceptTimeout, def)
}

func durationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

func validateFileReadable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("file does not exist: %s", path)
		}
		return fmt.Errorf("cannot access file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("path is a directory, expected a file: %s", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("file is not readable: %w", err)
	}
	f.Close()
	return nil
}

// EnsureDirectories creates the directories the configuration refers
// to (currently just the autocert cache, when enabled).
func (c *Config) EnsureDirectories() error {
	if c.TLS.AutoTLS && c.TLS.CacheDir != "" {
		if err := os.MkdirAll(c.TLS.CacheDir, 0750); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", c.TLS.CacheDir, err)
		}
	}
	return nil
}
