// Package config loads configuration from environment variables, with an
// optional YAML override file for deployments that prefer files over env.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all server configuration.
type Config struct {
	// Server
	ListenAddr  string `yaml:"listen_addr"`
	MetricsAddr string `yaml:"metrics_addr"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Access control: the allow-list of directory roots. Every operation
	// is confined to these. Comma-separated in ALLOWED_DIRECTORIES.
	AllowedDirectories []string `yaml:"allowed_directories"`

	// Confirmation store backend ("file", "memory" or "postgres")
	ConfirmBackend    string `yaml:"confirm_backend"`
	ConfirmFile       string `yaml:"confirm_file"`
	ConfirmTTLSeconds int    `yaml:"confirm_ttl_seconds"`

	// Database (postgres confirmation backend only)
	DatabaseURL string `yaml:"database_url"`

	// CORS
	CORSEnabled bool `yaml:"cors_enabled"`

	// TLS (optional; if both set, server uses HTTPS)
	TLSCertFile string `yaml:"tls_cert_file"`
	TLSKeyFile  string `yaml:"tls_key_file"`
}

// Load reads configuration from the environment with defaults. A .env file
// in the working directory is honored if present. When CONFIG_FILE is set,
// non-zero values from that YAML file override the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:         envOr("LISTEN_ADDR", ":8080"),
		MetricsAddr:        envOr("METRICS_ADDR", ":9090"),
		LogLevel:           envOr("LOG_LEVEL", "info"),
		LogFormat:          envOr("LOG_FORMAT", "json"),
		AllowedDirectories: envList("ALLOWED_DIRECTORIES"),
		ConfirmBackend:     envOr("CONFIRM_BACKEND", "file"),
		ConfirmFile:        envOr("CONFIRM_FILE", ".pending_confirmations.json"),
		ConfirmTTLSeconds:  envInt("CONFIRM_TTL_SECONDS", 60),
		DatabaseURL:        envOr("DATABASE_URL", ""),
		CORSEnabled:        envBool("CORS_ENABLED", true),
		TLSCertFile:        envOr("TLS_CERT_FILE", ""),
		TLSKeyFile:         envOr("TLS_KEY_FILE", ""),
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	if len(cfg.AllowedDirectories) == 0 {
		return nil, fmt.Errorf("ALLOWED_DIRECTORIES is required")
	}
	switch cfg.ConfirmBackend {
	case "file", "memory":
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required with CONFIRM_BACKEND=postgres")
		}
	default:
		return nil, fmt.Errorf("unknown CONFIRM_BACKEND %q", cfg.ConfirmBackend)
	}
	if cfg.ConfirmTTLSeconds <= 0 {
		return nil, fmt.Errorf("CONFIRM_TTL_SECONDS must be positive")
	}

	return cfg, nil
}

// applyFile overlays non-zero values from a YAML file onto cfg.
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var override Config
	if err := yaml.Unmarshal(data, &override); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	if override.ListenAddr != "" {
		c.ListenAddr = override.ListenAddr
	}
	if override.MetricsAddr != "" {
		c.MetricsAddr = override.MetricsAddr
	}
	if override.LogLevel != "" {
		c.LogLevel = override.LogLevel
	}
	if override.LogFormat != "" {
		c.LogFormat = override.LogFormat
	}
	if len(override.AllowedDirectories) > 0 {
		c.AllowedDirectories = override.AllowedDirectories
	}
	if override.ConfirmBackend != "" {
		c.ConfirmBackend = override.ConfirmBackend
	}
	if override.ConfirmFile != "" {
		c.ConfirmFile = override.ConfirmFile
	}
	if override.ConfirmTTLSeconds != 0 {
		c.ConfirmTTLSeconds = override.ConfirmTTLSeconds
	}
	if override.DatabaseURL != "" {
		c.DatabaseURL = override.DatabaseURL
	}
	if override.TLSCertFile != "" {
		c.TLSCertFile = override.TLSCertFile
	}
	if override.TLSKeyFile != "" {
		c.TLSKeyFile = override.TLSKeyFile
	}

	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}
