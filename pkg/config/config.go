// Package config loads the usbcrypt CLI configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default token identity (STMicroelectronics VCP IDs used by the firmware).
const (
	DefaultVendorID  = 0x0483
	DefaultProductID = 0x5740
)

// Config holds the usbcrypt configuration.
type Config struct {
	Device  Device  `yaml:"device" json:"device"`
	Timing  Timing  `yaml:"timing" json:"timing"`
	Retry   Retry   `yaml:"retry" json:"retry"`
	Logging Logging `yaml:"logging" json:"logging"`

	// Simulator configures the in-process token used with --simulate.
	Simulator Simulator `yaml:"simulator" json:"simulator"`

	// Protocol selects the opcode table: "v1" (default) or "v0".
	Protocol string `yaml:"protocol" json:"protocol"`

	// OutputFormat is table, json or yaml.
	OutputFormat string `yaml:"output_format" json:"output_format"`
}

// Device identifies which token to open.
type Device struct {
	VendorID  HexID  `yaml:"vendor_id" json:"vendor_id"`
	ProductID HexID  `yaml:"product_id" json:"product_id"`
	Interface int    `yaml:"interface" json:"interface"`
	Serial    string `yaml:"serial,omitempty" json:"serial,omitempty"`
	SysfsRoot string `yaml:"sysfs_root,omitempty" json:"sysfs_root,omitempty"`
	DevfsRoot string `yaml:"devfs_root,omitempty" json:"devfs_root,omitempty"`
}

// Timing holds per-transfer deadlines.
type Timing struct {
	Transfer time.Duration `yaml:"transfer" json:"transfer"`
	Drain    time.Duration `yaml:"drain" json:"drain"`
}

// Retry bounds how long a response is waited for.
type Retry struct {
	MaxRetries      uint64        `yaml:"max_retries" json:"max_retries"`
	InitialInterval time.Duration `yaml:"initial_interval" json:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval" json:"max_interval"`
	MaxElapsed      time.Duration `yaml:"max_elapsed" json:"max_elapsed"`
}

// Logging configures the slog handler.
type Logging struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Simulator configures the simulated token.
type Simulator struct {
	// Passphrase derives the simulated token's keys so results are
	// reproducible across runs. Empty uses a fresh random key.
	Passphrase string `yaml:"passphrase,omitempty" json:"passphrase,omitempty"`
}

// HexID is a 16-bit USB identifier written as "0x0483" or "0483" in YAML.
type HexID uint16

// UnmarshalYAML accepts hex strings as well as plain integers.
func (h *HexID) UnmarshalYAML(node *yaml.Node) error {
	v, err := ParseHexID(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*h = v
	return nil
}

// MarshalYAML writes the identifier as a 0x-prefixed hex string.
func (h HexID) MarshalYAML() (any, error) {
	return h.String(), nil
}

func (h HexID) String() string {
	return fmt.Sprintf("0x%04x", uint16(h))
}

// ParseHexID parses "0x0483", "0483" or "1155" style identifiers. Bare
// digit strings are read as hex, matching lsusb output.
func ParseHexID(s string) (HexID, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid USB id %q", s)
	}
	return HexID(v), nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Device: Device{
			VendorID:  DefaultVendorID,
			ProductID: DefaultProductID,
		},
		Timing: Timing{
			Transfer: 2 * time.Second,
			Drain:    50 * time.Millisecond,
		},
		Retry: Retry{
			MaxRetries:      12,
			InitialInterval: 5 * time.Millisecond,
			MaxInterval:     500 * time.Millisecond,
			MaxElapsed:      30 * time.Second,
		},
		Logging: Logging{
			Level:  "warn",
			Format: "text",
		},
		Protocol:     "v1",
		OutputFormat: "table",
	}
}

// DefaultPath returns the default config file path: ~/.usbcrypt/config.yaml
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".usbcrypt", "config.yaml")
	}
	return filepath.Join(home, ".usbcrypt", "config.yaml")
}

// Load reads the configuration from the given YAML file path.
// If the file does not exist, it returns the default Config with no error.
// Fields missing from the file keep their defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects settings the driver cannot run with.
func (c *Config) Validate() error {
	switch c.Protocol {
	case "v0", "v1":
	default:
		return fmt.Errorf("unknown protocol %q (want v0 or v1)", c.Protocol)
	}
	if c.Device.Interface < 0 || c.Device.Interface > 255 {
		return fmt.Errorf("device.interface %d out of range", c.Device.Interface)
	}
	if c.Timing.Transfer <= 0 {
		return fmt.Errorf("timing.transfer must be positive")
	}
	if c.Timing.Drain <= 0 {
		return fmt.Errorf("timing.drain must be positive")
	}
	if c.Retry.InitialInterval <= 0 || c.Retry.MaxInterval < c.Retry.InitialInterval {
		return fmt.Errorf("retry intervals must satisfy 0 < initial_interval <= max_interval")
	}
	return nil
}

// Marshal renders the configuration as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
