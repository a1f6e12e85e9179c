package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Environment variables recognized by ApplyEnv.
const (
	EnvHost          = "BEBOP_HOST"
	EnvCmdPort       = "BEBOP_CMD_PORT"
	EnvDMAReadPort   = "BEBOP_DMA_READ_PORT"
	EnvDMAWritePort  = "BEBOP_DMA_WRITE_PORT"
	EnvDialTimeoutMs = "BEBOP_DIAL_TIMEOUT_MS"
	EnvLogLevel      = "BEBOP_LOG_LEVEL"
)

// ApplyEnvFile overlays the settings found in a .env file.
func (c *Config) ApplyEnvFile(path string) error {
	env, err := godotenv.Read(path)
	if err != nil {
		return fmt.Errorf("failed to read env file: %w", err)
	}

	return c.ApplyEnv(env)
}

// ApplyProcessEnv overlays the settings found in the process environment.
func (c *Config) ApplyProcessEnv() error {
	env := make(map[string]string)
	for _, key := range []string{
		EnvHost, EnvCmdPort, EnvDMAReadPort,
		EnvDMAWritePort, EnvDialTimeoutMs, EnvLogLevel,
	} {
		if v, ok := os.LookupEnv(key); ok {
			env[key] = v
		}
	}

	return c.ApplyEnv(env)
}

// ApplyEnv overlays the BEBOP_* keys of env onto the config. Keys that are
// absent leave the current value untouched.
func (c *Config) ApplyEnv(env map[string]string) error {
	if v, ok := env[EnvHost]; ok {
		c.Host = v
	}

	ints := []struct {
		key string
		dst *int
	}{
		{EnvCmdPort, &c.CmdPort},
		{EnvDMAReadPort, &c.DMAReadPort},
		{EnvDMAWritePort, &c.DMAWritePort},
		{EnvDialTimeoutMs, &c.DialTimeoutMs},
	}
	for _, field := range ints {
		v, ok := env[field.key]
		if !ok {
			continue
		}

		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s=%q: %w", field.key, v, err)
		}
		*field.dst = n
	}

	if v, ok := env[EnvLogLevel]; ok {
		c.LogLevel = v
	}

	return nil
}
