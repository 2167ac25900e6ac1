package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	LogLevel    string            `yaml:"log_level"`
	BLE         BLEConfig         `yaml:"ble"`
	Permissions PermissionsConfig `yaml:"permissions"`
}

// BLEConfig holds radio and wire settings.
type BLEConfig struct {
	Device            string        `yaml:"device"` // address to connect to; empty picks the strongest scan result
	ScanDuration      time.Duration `yaml:"scan_duration"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	ServiceUUID       string        `yaml:"service_uuid"`
	NotifyCharUUID    string        `yaml:"notify_char_uuid"`
	WriteCharUUID     string        `yaml:"write_char_uuid"`
	WriteWithResponse bool          `yaml:"write_with_response"`
	WireEncoding      string        `yaml:"wire_encoding"` // "raw" or "base64"
	Framing           string        `yaml:"framing"`       // "json" or "length"
	MaxFrameBytes     int           `yaml:"max_frame_bytes"`
}

// PermissionsConfig describes the host's radio permission model.
type PermissionsConfig struct {
	Platform string   `yaml:"platform"` // "implicit" or "explicit"
	APILevel int      `yaml:"api_level"`
	Granted  []string `yaml:"granted"`
}

// maxLengthPrefixedFrame is the largest body a 2-byte length header can carry.
const maxLengthPrefixedFrame = 0xFFFF

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "canelink")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		BLE: BLEConfig{
			ScanDuration:   6 * time.Second,
			ConnectTimeout: 15 * time.Second,
			ServiceUUID:    "6e400001-b5a3-f393-e0a9-e50e24dcca9e",
			NotifyCharUUID: "6e400003-b5a3-f393-e0a9-e50e24dcca9e",
			WriteCharUUID:  "6e400002-b5a3-f393-e0a9-e50e24dcca9e",
			WireEncoding:   "raw",
			Framing:        "json",
			MaxFrameBytes:  4096,
		},
		Permissions: PermissionsConfig{
			Platform: "implicit",
			APILevel: 31,
		},
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(expandTilde(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.LogLevel = normalize(cfg.LogLevel)
	cfg.BLE.WireEncoding = normalize(cfg.BLE.WireEncoding)
	cfg.BLE.Framing = normalize(cfg.BLE.Framing)
	cfg.Permissions.Platform = normalize(cfg.Permissions.Platform)
	return cfg, nil
}

// normalize lowercases and trims an enumerated setting.
func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	if c.BLE.ScanDuration <= 0 {
		return errors.New("ble.scan_duration must be > 0")
	}
	if c.BLE.ConnectTimeout <= 0 {
		return errors.New("ble.connect_timeout must be > 0")
	}

	for _, u := range []struct{ key, value string }{
		{"ble.service_uuid", c.BLE.ServiceUUID},
		{"ble.notify_char_uuid", c.BLE.NotifyCharUUID},
		{"ble.write_char_uuid", c.BLE.WriteCharUUID},
	} {
		if _, err := uuid.Parse(u.value); err != nil {
			return fmt.Errorf("%s must be a UUID, got %q: %w", u.key, u.value, err)
		}
	}
	if strings.EqualFold(c.BLE.NotifyCharUUID, c.BLE.WriteCharUUID) {
		return errors.New("ble.notify_char_uuid and ble.write_char_uuid must differ")
	}

	switch c.BLE.WireEncoding {
	case "raw", "base64":
	default:
		return fmt.Errorf("ble.wire_encoding must be \"raw\" or \"base64\", got %q", c.BLE.WireEncoding)
	}

	switch c.BLE.Framing {
	case "json", "length":
	default:
		return fmt.Errorf("ble.framing must be \"json\" or \"length\", got %q", c.BLE.Framing)
	}

	if c.BLE.MaxFrameBytes <= 0 {
		return errors.New("ble.max_frame_bytes must be > 0")
	}
	if c.BLE.Framing == "length" && c.BLE.MaxFrameBytes > maxLengthPrefixedFrame {
		return fmt.Errorf("ble.max_frame_bytes must be <= %d with length framing, got %d", maxLengthPrefixedFrame, c.BLE.MaxFrameBytes)
	}

	switch c.Permissions.Platform {
	case "implicit":
	case "explicit":
		if c.Permissions.APILevel <= 0 {
			return errors.New("permissions.api_level must be > 0 on explicit platforms")
		}
	default:
		return fmt.Errorf("permissions.platform must be \"implicit\" or \"explicit\", got %q", c.Permissions.Platform)
	}

	return nil
}

const defaultHeader = `# canelink configuration
# Written on first run. Edit freely; missing keys fall back to defaults.
#
# ble.device: address to connect to (empty picks the strongest scan result)
# ble.wire_encoding: raw | base64
# ble.framing: json | length
# permissions.platform: implicit | explicit

`

// WriteDefault writes the default config to DefaultConfigPath if no file
// exists there yet. It returns the path written, or "" if a config was
// already present.
func WriteDefault() (string, error) {
	path := DefaultConfigPath()
	if _, err := os.Stat(path); err == nil {
		return "", nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("checking config file: %w", err)
	}

	body, err := yaml.Marshal(Default())
	if err != nil {
		return "", fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("creating config dir: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(defaultHeader), body...), 0o644); err != nil {
		return "", fmt.Errorf("writing config file: %w", err)
	}
	return path, nil
}

// ParseLogLevel maps a config string to a slog level. Unknown values are info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// expandTilde replaces a leading ~ with the user's home directory.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
