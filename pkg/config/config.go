package config

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"kappa-stage/pkg/kinematics"
	"kappa-stage/pkg/safety"
)

// Confirmation modes.
const (
	ConfirmTerminal = "terminal"
	ConfirmRemote   = "ws"
	ConfirmYes      = "yes"
	ConfirmNo       = "no"
)

var (
	confirmModes = []string{ConfirmTerminal, ConfirmRemote, ConfirmYes, ConfirmNo}
	logLevels    = []string{"debug", "info", "warn", "error"}
	logFormats   = []string{"console", "json"}
)

// StageConfig is the stage configuration file.
type StageConfig struct {
	Name       string            `yaml:"name"`
	KappaAng   float64           `yaml:"kappa_ang"`
	StepLimits safety.StepLimits `yaml:"step_limits"`
	Confirm    ConfirmConfig     `yaml:"confirm"`
	Initial    PositionConfig    `yaml:"initial"`
	Sim        SimConfig         `yaml:"sim"`
	Journal    JournalConfig     `yaml:"journal"`
	Metrics    MetricsConfig     `yaml:"metrics"`
	Log        LogConfig         `yaml:"log"`
}

// ConfirmConfig selects how large moves are confirmed.
type ConfirmConfig struct {
	Mode    string        `yaml:"mode"`
	Timeout time.Duration `yaml:"timeout"` // 0 waits forever
	Listen  string        `yaml:"listen"`  // websocket address for mode "ws"
}

// PositionConfig is a native-axis position in degrees.
type PositionConfig struct {
	Eta   float64 `yaml:"eta"`
	Kappa float64 `yaml:"kappa"`
	Phi   float64 `yaml:"phi"`
}

// SimConfig configures the simulated axes.
type SimConfig struct {
	Speed float64 `yaml:"speed"` // deg/s, 0 = instantaneous
}

// JournalConfig configures the move journal.
type JournalConfig struct {
	Path string `yaml:"path"` // empty disables the journal
}

// MetricsConfig configures the metrics endpoint.
type MetricsConfig struct {
	Listen string `yaml:"listen"` // empty disables the endpoint
}

// LogConfig configures logging.
type LogConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	File       string `yaml:"file,omitempty"` // empty logs to stderr
	MaxSizeMB  int    `yaml:"max_size_mb,omitempty"`
	MaxBackups int    `yaml:"max_backups,omitempty"`
	Compress   bool   `yaml:"compress,omitempty"`
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *StageConfig {
	return &StageConfig{
		Name:       "kappa",
		KappaAng:   kinematics.DefaultKappaAng,
		StepLimits: safety.DefaultStepLimits(),
		Confirm: ConfirmConfig{
			Mode:   ConfirmTerminal,
			Listen: ":7130",
		},
		Initial: PositionConfig{},
		Sim:     SimConfig{Speed: 90},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads the configuration at path over the defaults, then applies
// KAPPA_* environment overrides and validates. An empty path uses the
// defaults alone.
func Load(path string) (*StageConfig, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, WrapError("", "", fmt.Errorf("failed to read config: %w", err))
		}
		if err := cfg.decode(data); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadBytes parses data over the defaults and validates, without
// environment overrides.
func LoadBytes(data []byte) (*StageConfig, error) {
	cfg := DefaultConfig()
	if err := cfg.decode(data); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode rejects options the stage does not know.
func (c *StageConfig) decode(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !stderrors.Is(err, io.EOF) {
		return WrapError("", "", fmt.Errorf("failed to parse config: %w", err))
	}
	return nil
}

// Save writes the configuration as YAML.
func (c *StageConfig) Save(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *StageConfig) applyEnvOverrides() error {
	if v := os.Getenv("KAPPA_NAME"); v != "" {
		c.Name = v
	}
	if v := os.Getenv("KAPPA_ANG"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return ErrInvalidValue("", "kappa_ang", v, "a number (KAPPA_ANG)")
		}
		c.KappaAng = f
	}
	if v := os.Getenv("KAPPA_CONFIRM_MODE"); v != "" {
		c.Confirm.Mode = v
	}
	if v := os.Getenv("KAPPA_CONFIRM_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return ErrInvalidValue("confirm", "timeout", v, "a duration (KAPPA_CONFIRM_TIMEOUT)")
		}
		c.Confirm.Timeout = d
	}
	if v := os.Getenv("KAPPA_CONFIRM_LISTEN"); v != "" {
		c.Confirm.Listen = v
	}
	if v := os.Getenv("KAPPA_SIM_SPEED"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return ErrInvalidValue("sim", "speed", v, "a number (KAPPA_SIM_SPEED)")
		}
		c.Sim.Speed = f
	}
	if v := os.Getenv("KAPPA_JOURNAL"); v != "" {
		c.Journal.Path = v
	}
	if v := os.Getenv("KAPPA_METRICS_LISTEN"); v != "" {
		c.Metrics.Listen = v
	}
	if v := os.Getenv("KAPPA_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("KAPPA_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv("KAPPA_LOG_FILE"); v != "" {
		c.Log.File = v
	}
	return nil
}

// Validate checks every option.
func (c *StageConfig) Validate() error {
	if c.Name == "" {
		return NewConfigError("", "name", "must be specified")
	}
	if _, err := kinematics.NewGeometry(c.KappaAng); err != nil {
		return ErrOutOfRange("", "kappa_ang", c.KappaAng, "must be in (0, 90]")
	}
	if err := c.StepLimits.Validate(); err != nil {
		return WrapError("step_limits", "", err)
	}
	if !contains(confirmModes, c.Confirm.Mode) {
		return ErrInvalidChoice("confirm", "mode", c.Confirm.Mode, confirmModes)
	}
	if c.Confirm.Timeout < 0 {
		return NewConfigError("confirm", "timeout", "must not be negative")
	}
	if c.Confirm.Mode == ConfirmRemote && c.Confirm.Listen == "" {
		return NewConfigError("confirm", "listen", "must be specified for mode 'ws'")
	}
	for _, f := range []struct {
		name string
		v    float64
	}{{"eta", c.Initial.Eta}, {"kappa", c.Initial.Kappa}, {"phi", c.Initial.Phi}} {
		if math.IsNaN(f.v) || math.IsInf(f.v, 0) {
			return ErrOutOfRange("initial", f.name, f.v, "must be finite")
		}
	}
	if math.IsNaN(c.Sim.Speed) || math.IsInf(c.Sim.Speed, 0) || c.Sim.Speed < 0 {
		return ErrOutOfRange("sim", "speed", c.Sim.Speed, "must be a finite, non-negative number")
	}
	if !contains(logLevels, c.Log.Level) {
		return ErrInvalidChoice("log", "level", c.Log.Level, logLevels)
	}
	if !contains(logFormats, c.Log.Format) {
		return ErrInvalidChoice("log", "format", c.Log.Format, logFormats)
	}
	if c.Log.MaxSizeMB < 0 {
		return NewConfigError("log", "max_size_mb", "must not be negative")
	}
	if c.Log.MaxBackups < 0 {
		return NewConfigError("log", "max_backups", "must not be negative")
	}
	return nil
}

// Geometry returns the validated stage geometry.
func (c *StageConfig) Geometry() kinematics.Geometry {
	return kinematics.Geometry{KappaAng: c.KappaAng}
}

// InitialPosition returns the simulated start position.
func (c *StageConfig) InitialPosition() kinematics.RealPosition {
	return kinematics.RealPosition{Eta: c.Initial.Eta, Kappa: c.Initial.Kappa, Phi: c.Initial.Phi}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
