// Package config provides configuration handling for the benchmark servers.
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/irctrakz/netbench/pkg/core"
	"github.com/irctrakz/netbench/pkg/facility"
	"github.com/irctrakz/netbench/pkg/logging"
	"gopkg.in/yaml.v3"
)

// Config represents the complete benchmark configuration.
type Config struct {
	// Server contains the benchmark server configuration.
	Server core.ServerConfig `json:"server" yaml:"server"`

	// Stack contains the socket facility configuration.
	Stack core.StackConfig `json:"stack" yaml:"stack"`

	// Logging contains the logging configuration.
	Logging LoggingConfig `json:"logging" yaml:"logging"`

	// Metrics contains the periodic metrics reporter configuration.
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`

	// Health contains the HTTP health endpoint configuration.
	Health HealthConfig `json:"health" yaml:"health"`
}

// LoggingConfig contains configuration for logging.
type LoggingConfig struct {
	// Level is the logging level (trace, debug, info, warn, error).
	Level string `json:"level" yaml:"level"`

	// Format is the output format (text, json).
	Format string `json:"format" yaml:"format"`

	// File is the log file path.
	File string `json:"file" yaml:"file"`

	// MaxSize is the maximum size of the log file in megabytes.
	MaxSize int `json:"maxSize" yaml:"maxSize"`

	// MaxBackups is the maximum number of old log files to retain.
	MaxBackups int `json:"maxBackups" yaml:"maxBackups"`

	// MaxAge is the maximum number of days to retain old log files.
	MaxAge int `json:"maxAge" yaml:"maxAge"`
}

// MetricsConfig controls the periodic metrics dump.
type MetricsConfig struct {
	// Interval between dumps; 0 disables the reporter.
	Interval time.Duration `json:"interval" yaml:"interval"`

	// Format is text or json.
	Format string `json:"format" yaml:"format"`
}

// HealthConfig controls the HTTP health endpoint.
type HealthConfig struct {
	// Listen is the HTTP listen address; empty disables the endpoint.
	Listen string `json:"listen" yaml:"listen"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: core.ServerConfig{
			ListenAddress: "0.0.0.0",
			UDPPort:       5560,
			TCPPort:       5561,
			Backlog:       1,
		},
		Stack: facility.DefaultConfig(),
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     7,
		},
		Metrics: MetricsConfig{
			Format: "text",
		},
	}
}

// LoadFromFile loads configuration from a JSON or YAML file.
func LoadFromFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", path)
	}

	return nil
}

func envTruthy(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

// LoadFromEnv overrides configuration from NETBENCH_* environment variables.
// Values that fail to parse are ignored.
func LoadFromEnv(config *Config) {
	if val := os.Getenv("NETBENCH_LISTEN_ADDRESS"); val != "" {
		config.Server.ListenAddress = val
	}
	if val := os.Getenv("NETBENCH_UDP_PORT"); val != "" {
		if port, err := strconv.ParseUint(val, 10, 16); err == nil {
			config.Server.UDPPort = uint16(port)
		}
	}
	if val := os.Getenv("NETBENCH_TCP_PORT"); val != "" {
		if port, err := strconv.ParseUint(val, 10, 16); err == nil {
			config.Server.TCPPort = uint16(port)
		}
	}
	if val := os.Getenv("NETBENCH_MAX_SOCKETS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			config.Stack.MaxSockets = n
		}
	}
	if val := os.Getenv("NETBENCH_TRANSFER_UNIT"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			config.Stack.TransferUnit = n
		}
	}
	if val := os.Getenv("NETBENCH_POLL_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			config.Stack.PollInterval = d
		}
	}
	if val := os.Getenv("NETBENCH_TOS"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			config.Stack.TOS = n
		}
	}
	if val := os.Getenv("NETBENCH_TTL"); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			config.Stack.TTL = n
		}
	}
	if val := os.Getenv("NETBENCH_REUSE_ADDR"); val != "" {
		config.Stack.ReuseAddr = envTruthy(val)
	}

	if val := os.Getenv("LOGGING_LEVEL"); val != "" {
		config.Logging.Level = val
	}
	if envTruthy(os.Getenv("DEBUG")) {
		config.Logging.Level = "debug"
	}
	if val := os.Getenv("LOGGING_FORMAT"); val != "" {
		config.Logging.Format = val
	}
	if val := os.Getenv("LOGGING_FILE"); val != "" {
		config.Logging.File = val
	}

	if val := os.Getenv("METRICS_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			config.Metrics.Interval = d
		}
	}
	if val := os.Getenv("METRICS_FORMAT"); val != "" {
		config.Metrics.Format = val
	}
	if val := os.Getenv("HEALTH_LISTEN"); val != "" {
		config.Health.Listen = val
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if net.ParseIP(c.Server.ListenAddress) == nil {
		return fmt.Errorf("invalid listen address: %s", c.Server.ListenAddress)
	}
	if c.Server.UDPPort == 0 {
		return fmt.Errorf("invalid UDP port: %d", c.Server.UDPPort)
	}
	if c.Server.TCPPort == 0 {
		return fmt.Errorf("invalid TCP port: %d", c.Server.TCPPort)
	}
	if c.Server.Backlog < 1 {
		return fmt.Errorf("invalid backlog: %d", c.Server.Backlog)
	}

	if c.Stack.MaxSockets < 1 {
		return fmt.Errorf("invalid max sockets: %d", c.Stack.MaxSockets)
	}
	for name, ip := range map[string]string{
		"address":     c.Stack.Address,
		"gateway":     c.Stack.Gateway,
		"subnet mask": c.Stack.SubnetMask,
	} {
		if net.ParseIP(ip) == nil {
			return fmt.Errorf("invalid stack %s: %s", name, ip)
		}
	}
	// The TCP pattern restarts at every buffer boundary, so the buffer must
	// hold whole 256-byte ramps.
	if c.Stack.TransferUnit < 256 || c.Stack.TransferUnit%256 != 0 {
		return fmt.Errorf("invalid transfer unit %d: must be a positive multiple of 256", c.Stack.TransferUnit)
	}
	if c.Stack.PollInterval <= 0 {
		return fmt.Errorf("invalid poll interval: %s", c.Stack.PollInterval)
	}
	if c.Stack.TOS < 0 || c.Stack.TOS > 255 {
		return fmt.Errorf("invalid TOS: %d", c.Stack.TOS)
	}
	if c.Stack.TTL < 0 || c.Stack.TTL > 255 {
		return fmt.Errorf("invalid TTL: %d", c.Stack.TTL)
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid logging format: %s", c.Logging.Format)
	}

	if c.Metrics.Interval < 0 {
		return fmt.Errorf("invalid metrics interval: %s", c.Metrics.Interval)
	}
	switch c.Metrics.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid metrics format: %s", c.Metrics.Format)
	}

	return nil
}

// ApplyLogging applies the logging configuration.
func (c *Config) ApplyLogging() error {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return err
	}
	logging.SetLevel(level)

	if err := logging.UseFormat(c.Logging.Format); err != nil {
		return err
	}

	if c.Logging.File != "" {
		err := logging.EnableFileLogging(
			filepath.Dir(c.Logging.File),
			filepath.Base(c.Logging.File),
			c.Logging.MaxSize,
			c.Logging.MaxBackups,
			c.Logging.MaxAge,
		)
		if err != nil {
			return fmt.Errorf("failed to enable file logging: %w", err)
		}
	}

	return nil
}

// SaveToFile saves the configuration to a JSON or YAML file.
func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = json.MarshalIndent(c, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config to JSON: %w", err)
		}
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to marshal config to YAML: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config file format: %s", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Load builds the effective configuration: defaults, then the optional
// file, then the environment. The result is validated.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		if err := LoadFromFile(path, cfg); err != nil {
			return nil, err
		}
	}
	LoadFromEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
