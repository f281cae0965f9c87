// Package config handles configuration loading from CLI flags, environment
// variables, and TOML files.
package config

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all configuration settings.
type Config struct {
	Server  ServerConfig  `toml:"server"`
	Script  ScriptConfig  `toml:"script"`
	Batch   BatchConfig   `toml:"batch"`
	Logging LoggingConfig `toml:"logging"`
}

// ServerConfig holds devtools server settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// ScriptConfig holds scripting settings.
type ScriptConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"` // seed script run at startup
}

// BatchConfig holds change-coalescing settings.
type BatchConfig struct {
	Interval Duration `toml:"interval"` // coalescing window for batched delivery
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Verbosity int `toml:"verbosity"` // 0=none, 1=connections, 2=messages, 3=changes, 4=values
}

// verbosityCounter implements flag.Value for counting -v flags.
type verbosityCounter int

func (v *verbosityCounter) String() string {
	return fmt.Sprintf("%d", *v)
}

func (v *verbosityCounter) Set(string) error {
	*v++
	return nil
}

func (v *verbosityCounter) IsBoolFlag() bool {
	return true
}

// expandVerbosityFlags preprocesses args to expand -vvv into -v -v -v.
// This allows both "-v -v -v" and "-vvv" styles to work.
func expandVerbosityFlags(args []string) []string {
	result := make([]string, 0, len(args))
	for _, arg := range args {
		if len(arg) > 2 && arg[0] == '-' && arg[1] != '-' && arg[1] == 'v' {
			allV := true
			for _, c := range arg[1:] {
				if c != 'v' {
					allV = false
					break
				}
			}
			if allV {
				for range arg[1:] {
					result = append(result, "-v")
				}
				continue
			}
		}
		result = append(result, arg)
	}
	return result
}

// Duration is a time.Duration that can be unmarshaled from TOML strings.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler for Duration.
func (d *Duration) UnmarshalText(text []byte) error {
	duration, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(duration)
	return nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// DefaultConfig returns a Config with all default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 9180,
		},
		Script: ScriptConfig{
			Enabled: true,
		},
		Batch: BatchConfig{
			Interval: Duration(10 * time.Millisecond),
		},
		Logging: LoggingConfig{
			Verbosity: 0,
		},
	}
}

// Load loads configuration from CLI flags, environment variables, and a TOML
// file. Priority: CLI flags > env vars > TOML file > defaults.
func Load(args []string) (*Config, error) {
	cfg := DefaultConfig()

	args = expandVerbosityFlags(args)

	fs := flag.NewFlagSet("reactive", flag.ContinueOnError)
	configFile := fs.String("config", "", "TOML config file path")

	host := fs.String("host", "", "Devtools listen address")
	port := fs.Int("port", 0, "Devtools listen port")

	script := fs.Bool("script", true, "Enable Lua scripting")
	scriptPath := fs.String("script-path", "", "Seed script run at startup")

	batchInterval := fs.Duration("batch-interval", 0, "Change coalescing window")

	var verbosity verbosityCounter
	fs.Var(&verbosity, "v", "Verbosity level (use -v, -vv, or -vvv)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	configPath := "reactive.toml"
	if *configFile != "" {
		configPath = *configFile
	}
	if err := cfg.loadTOML(configPath); err != nil && !os.IsNotExist(err) {
		return nil, err
	}

	cfg.applyEnv()

	// Apply CLI flags (highest priority)
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if fs.Lookup("script").Value.String() != "true" {
		cfg.Script.Enabled = *script
	}
	if *scriptPath != "" {
		cfg.Script.Path = *scriptPath
	}
	if *batchInterval != 0 {
		cfg.Batch.Interval = Duration(*batchInterval)
	}
	if verbosity > 0 {
		cfg.Logging.Verbosity = int(verbosity)
	}

	return cfg, nil
}

// loadTOML loads configuration from a TOML file.
func (c *Config) loadTOML(path string) error {
	_, err := toml.DecodeFile(path, c)
	return err
}

// applyEnv applies environment variable overrides.
func (c *Config) applyEnv() {
	if v := os.Getenv("REACTIVE_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("REACTIVE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("REACTIVE_SCRIPT"); v != "" {
		c.Script.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("REACTIVE_SCRIPT_PATH"); v != "" {
		c.Script.Path = v
	}
	if v := os.Getenv("REACTIVE_BATCH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Batch.Interval = Duration(d)
		}
	}
	if v := os.Getenv("REACTIVE_VERBOSITY"); v != "" {
		if verbosity, err := strconv.Atoi(v); err == nil {
			c.Logging.Verbosity = verbosity
		}
	}
}

// Verbosity returns the configured verbosity level (0-4).
func (c *Config) Verbosity() int {
	return c.Logging.Verbosity
}

// Log prints a leveled message when verbosity allows it.
func (c *Config) Log(level int, format string, args ...interface{}) {
	if level > c.Logging.Verbosity {
		return
	}
	if level > 0 {
		format = fmt.Sprintf("[v%d] %s", level, format)
	}
	log.Printf(format, args...)
}
