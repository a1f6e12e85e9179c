// Package config holds the connection settings shared by the host bridge and
// the remote NPU server.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the endpoint configuration of the three NPU channels.
type Config struct {
	// Host is the address of the NPU process. Default: 127.0.0.1.
	Host string `json:"host"`

	// CmdPort carries command requests and responses. Default: 6000.
	CmdPort int `json:"cmd_port"`

	// DMAReadPort carries DMA read requests issued by the NPU. Default: 6001.
	DMAReadPort int `json:"dma_read_port"`

	// DMAWritePort carries DMA write requests issued by the NPU.
	// Default: 6002.
	DMAWritePort int `json:"dma_write_port"`

	// DialTimeoutMs bounds each connection attempt. 0 means no timeout.
	// Default: 5000.
	DialTimeoutMs int `json:"dial_timeout_ms"`

	// LogLevel is one of debug, info, warn, error. Default: info.
	LogLevel string `json:"log_level"`
}

// DefaultConfig returns the loopback endpoints the NPU listens on by default.
func DefaultConfig() *Config {
	return &Config{
		Host:          "127.0.0.1",
		CmdPort:       6000,
		DMAReadPort:   6001,
		DMAWritePort:  6002,
		DialTimeoutMs: 5000,
		LogLevel:      "info",
	}
}

// LoadConfig loads a Config from a JSON file. Fields missing from the file
// keep their default values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// SaveConfig writes a Config to a JSON file.
func (c *Config) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate checks that the configuration describes three distinct,
// well-formed endpoints. Port 0 is accepted so that servers can ask the
// kernel for a free port.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host must not be empty")
	}

	ports := []struct {
		name string
		port int
	}{
		{"cmd_port", c.CmdPort},
		{"dma_read_port", c.DMAReadPort},
		{"dma_write_port", c.DMAWritePort},
	}
	for _, p := range ports {
		if p.port < 0 || p.port > 65535 {
			return fmt.Errorf("%s must be in [0, 65535], got %d", p.name, p.port)
		}
	}

	if c.CmdPort != 0 &&
		(c.CmdPort == c.DMAReadPort || c.CmdPort == c.DMAWritePort) {
		return fmt.Errorf("cmd_port must differ from the DMA ports")
	}
	if c.DMAReadPort != 0 && c.DMAReadPort == c.DMAWritePort {
		return fmt.Errorf("dma_read_port must differ from dma_write_port")
	}

	if c.DialTimeoutMs < 0 {
		return fmt.Errorf("dial_timeout_ms must be >= 0")
	}

	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}

	return nil
}

// Clone returns a copy of the Config.
func (c *Config) Clone() *Config {
	clone := *c
	return &clone
}

// CmdAddr returns host:port of the command channel.
func (c *Config) CmdAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.CmdPort))
}

// DMAReadAddr returns host:port of the DMA read channel.
func (c *Config) DMAReadAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.DMAReadPort))
}

// DMAWriteAddr returns host:port of the DMA write channel.
func (c *Config) DMAWriteAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.DMAWritePort))
}

// DialTimeout returns the connection timeout as a duration.
func (c *Config) DialTimeout() time.Duration {
	return time.Duration(c.DialTimeoutMs) * time.Millisecond
}

// SlogLevel returns the configured log level. Unknown levels map to info.
func (c *Config) SlogLevel() slog.Level {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		return slog.LevelInfo
	}
	return level
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log_level %q", s)
	}
}
