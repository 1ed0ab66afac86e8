package servo

import (
	"encoding/json"
	"fmt"
	"os"
)

const DefaultConfigFile = "servosweep.json"

// Sink backends understood by the CLI.
const (
	BackendDryRun  = "dry-run"
	BackendSysfs   = "sysfs"
	BackendFeetech = "feetech"
)

// Config holds the rig configuration
type Config struct {
	Backend     string           `json:"backend"`
	FrequencyHz int              `json:"frequency_hz"`
	Port        string           `json:"port,omitempty"`
	BaudRate    int              `json:"baud_rate,omitempty"`
	Actuators   []ActuatorConfig `json:"actuators"`
}

// ActuatorConfig holds configuration for a single actuator
type ActuatorConfig struct {
	Name    string  `json:"name"`
	Channel int     `json:"channel"`
	MinDuty float64 `json:"min_duty"`
	MaxDuty float64 `json:"max_duty"`
}

// Mapping returns the actuator's drive mapping, falling back to the default
// bounds when both are unset.
func (a ActuatorConfig) Mapping() DriveMapping {
	if a.MinDuty == 0 && a.MaxDuty == 0 {
		return DefaultMapping()
	}
	return DriveMapping{MinDuty: a.MinDuty, MaxDuty: a.MaxDuty}
}

// DefaultConfig returns the two-servo pan/tilt rig: hardware PWM channels 0
// and 1 (GPIO18 and GPIO13 with the pwm-2chan overlay) at 50 Hz.
func DefaultConfig() *Config {
	return &Config{
		Backend:     BackendDryRun,
		FrequencyHz: 50,
		Actuators: []ActuatorConfig{
			{Name: "servo1", Channel: 0, MinDuty: DefaultMinDuty, MaxDuty: DefaultMaxDuty},
			{Name: "servo2", Channel: 1, MinDuty: DefaultMinDuty, MaxDuty: DefaultMaxDuty},
		},
	}
}

// Validate checks the backend, frequency and actuator set.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendDryRun, BackendSysfs:
	case BackendFeetech:
		if c.Port == "" {
			return fmt.Errorf("backend %s requires a port", c.Backend)
		}
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if c.FrequencyHz <= 0 {
		return fmt.Errorf("invalid frequency %d Hz", c.FrequencyHz)
	}
	if len(c.Actuators) == 0 {
		return fmt.Errorf("no actuators configured")
	}
	names := make(map[string]bool, len(c.Actuators))
	channels := make(map[int]bool, len(c.Actuators))
	for _, a := range c.Actuators {
		if names[a.Name] {
			return fmt.Errorf("actuator %s: %w", a.Name, ErrDuplicateName)
		}
		if channels[a.Channel] {
			return fmt.Errorf("actuator %s: %w: %d", a.Name, ErrDuplicateChannel, a.Channel)
		}
		names[a.Name] = true
		channels[a.Channel] = true
		if err := a.Mapping().Validate(); err != nil {
			return fmt.Errorf("actuator %s: %w", a.Name, err)
		}
	}
	return nil
}

// LoadConfig loads configuration from the default config file
func LoadConfig() (*Config, error) {
	return LoadConfigFrom(DefaultConfigFile)
}

// LoadConfigFrom loads configuration from a specific file. Missing fields
// are filled from DefaultConfig.
func LoadConfigFrom(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	def := DefaultConfig()
	if cfg.Backend == "" {
		cfg.Backend = def.Backend
	}
	if cfg.FrequencyHz == 0 {
		cfg.FrequencyHz = def.FrequencyHz
	}
	if len(cfg.Actuators) == 0 {
		cfg.Actuators = def.Actuators
	}
	return &cfg, nil
}

// Save saves configuration to the default config file
func (c *Config) Save() error {
	return c.SaveTo(DefaultConfigFile)
}

// SaveTo saves configuration to a specific file
func (c *Config) SaveTo(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ConfigExists returns true if the default config file exists
func ConfigExists() bool {
	_, err := os.Stat(DefaultConfigFile)
	return err == nil
}
