// Package config loads the bench description from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/gotmc/labbench"
	"github.com/gotmc/labbench/lib/visa"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Filter      string            `yaml:"filter"`
	Serial      SerialConfig      `yaml:"serial"`
	TCP         TCPConfig         `yaml:"tcp"`
	USBTMC      USBTMCConfig      `yaml:"usbtmc"`
	GPIB        []GPIBConfig      `yaml:"gpib"`
	Static      []string          `yaml:"static"`
	Acquisition AcquisitionConfig `yaml:"acquisition"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Log         LogConfig         `yaml:"log"`
}

type SerialConfig struct {
	Baud    int           `yaml:"baud"`
	Settle  time.Duration `yaml:"settle"` // delay between opening an ASRL port and *IDN?
	Timeout time.Duration `yaml:"timeout"`
}

type TCPConfig struct {
	SocketPort  int           `yaml:"socket_port"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

type USBTMCConfig struct {
	Enable bool `yaml:"enable"`
}

// GPIBConfig is one Prologix adapter and the addresses on its bus.
type GPIBConfig struct {
	Board      int           `yaml:"board"`
	Port       string        `yaml:"port"`
	Addresses  []int         `yaml:"addresses"`
	AR488      bool          `yaml:"ar488"`
	WriteDelay time.Duration `yaml:"write_delay"`
}

type AcquisitionConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	StallTimeout int           `yaml:"stall_timeout"` // in polls
	ArmSettle    time.Duration `yaml:"arm_settle"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration of a bench without a config file.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Filter == "" {
		c.Filter = labbench.DefaultFilter
	}
	if c.Serial.Baud == 0 {
		c.Serial.Baud = 9600
	}
	if c.Serial.Settle == 0 {
		c.Serial.Settle = 2 * time.Second
	}
	if c.Serial.Timeout == 0 {
		c.Serial.Timeout = 5 * time.Second
	}
	if c.TCP.SocketPort == 0 {
		c.TCP.SocketPort = 5555
	}
	if c.TCP.DialTimeout == 0 {
		c.TCP.DialTimeout = 3 * time.Second
	}
	if c.Acquisition.PollInterval == 0 {
		c.Acquisition.PollInterval = 500 * time.Millisecond
	}
	if c.Acquisition.StallTimeout == 0 {
		c.Acquisition.StallTimeout = 5
	}
	if c.Acquisition.ArmSettle == 0 {
		c.Acquisition.ArmSettle = 500 * time.Millisecond
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) validate() error {
	if _, err := labbench.CompilePattern(c.Filter); err != nil {
		return fmt.Errorf("filter: %w", err)
	}
	if c.Serial.Baud < 0 {
		return fmt.Errorf("serial.baud must be positive")
	}
	if c.TCP.SocketPort < 0 || c.TCP.SocketPort > 65535 {
		return fmt.Errorf("tcp.socket_port %d out of range", c.TCP.SocketPort)
	}
	boards := map[int]bool{}
	for i, g := range c.GPIB {
		if g.Port == "" {
			return fmt.Errorf("gpib[%d].port is required", i)
		}
		if boards[g.Board] {
			return fmt.Errorf("gpib[%d]: board %d configured twice", i, g.Board)
		}
		boards[g.Board] = true
		for _, a := range g.Addresses {
			if a < 0 || a > 30 {
				return fmt.Errorf("gpib[%d]: primary address %d out of range 0-30", i, a)
			}
		}
	}
	for _, r := range c.Static {
		if _, err := visa.ParseAddress(r); err != nil {
			return fmt.Errorf("static: %w", err)
		}
	}
	if c.Acquisition.StallTimeout < 0 {
		return fmt.Errorf("acquisition.stall_timeout must be positive")
	}
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}
	return nil
}

// Level returns the configured log level.
func (c *Config) Level() zerolog.Level {
	l, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil {
		return zerolog.InfoLevel
	}
	return l
}

// ManagerOptions returns the visa.Manager options of the bench.
func (c *Config) ManagerOptions(logger zerolog.Logger) []visa.Option {
	opts := []visa.Option{
		visa.WithBaud(c.Serial.Baud),
		visa.WithReadTimeout(c.Serial.Timeout),
		visa.WithSocketPort(c.TCP.SocketPort),
		visa.WithDialTimeout(c.TCP.DialTimeout),
		visa.WithStatic(c.Static...),
		visa.WithUSB(c.USBTMC.Enable),
		visa.WithLogger(logger),
	}
	for _, g := range c.GPIB {
		opts = append(opts, visa.WithBus(visa.Bus{
			Board:      g.Board,
			Port:       g.Port,
			PADs:       g.Addresses,
			AR488:      g.AR488,
			WriteDelay: g.WriteDelay,
		}))
	}
	return opts
}

// RegistryOptions returns the labbench.Registry options of the bench.
func (c *Config) RegistryOptions(logger zerolog.Logger) []labbench.RegistryOption {
	return []labbench.RegistryOption{
		labbench.WithFilter(c.Filter),
		labbench.WithSettleDelay(c.Serial.Settle),
		labbench.WithLogger(logger),
	}
}
