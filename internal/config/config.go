// Package config resolves proglog settings from flags, PROGLOG_*
// environment variables and defaults, in that order of precedence.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Setting keys. Each is also a flag name and, upper-cased with dashes
// turned into underscores and prefixed with PROGLOG_, an environment
// variable.
const (
	KeyLog         = "log"
	KeyBufferSize  = "buffer-size"
	KeyLabelOutput = "label-output"
	KeyDrainOnce   = "drain-once"
	KeyDebug       = "debug"
)

// EnvPrefix prefixes every environment variable.
const EnvPrefix = "PROGLOG"

// Config holds the settings of one session.
type Config struct {
	// LogPath is the transcript file, created if missing and appended to.
	LogPath string

	// BufferSize is the maximum number of bytes taken from a stream per read.
	BufferSize int

	// LabelOutput also prefixes the child's output shown to the operator
	// with labels. The transcript is always labeled.
	LabelOutput bool

	// DrainOnce stops after a single drain pass once the child is dead.
	DrainOnce bool

	// Debug enables debug logging on stderr.
	Debug bool
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		LogPath:    "transcript",
		BufferSize: 4096,
	}
}

// RegisterFlags adds the settings as flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String(KeyLog, d.LogPath, "Transcript file to append to (env PROGLOG_LOG)")
	fs.Int(KeyBufferSize, d.BufferSize, "Bytes read from a stream at a time")
	fs.Bool(KeyLabelOutput, d.LabelOutput, "Prefix the child's output on the terminal with timestamps too")
	fs.Bool(KeyDrainOnce, d.DrainOnce, "Stop after one drain pass once the child has exited")
	fs.Bool(KeyDebug, d.Debug, "Log reactor events to stderr")
}

// SetDefaults registers default values with v.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault(KeyLog, d.LogPath)
	v.SetDefault(KeyBufferSize, d.BufferSize)
	v.SetDefault(KeyLabelOutput, d.LabelOutput)
	v.SetDefault(KeyDrainOnce, d.DrainOnce)
	v.SetDefault(KeyDebug, d.Debug)
}

// Load resolves the settings. fs may be nil.
func Load(v *viper.Viper, fs *pflag.FlagSet) (*Config, error) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	if fs != nil {
		if err := v.BindPFlags(fs); err != nil {
			return nil, fmt.Errorf("failed to bind flags: %w", err)
		}
	}

	cfg := &Config{
		LogPath:     v.GetString(KeyLog),
		BufferSize:  v.GetInt(KeyBufferSize),
		LabelOutput: v.GetBool(KeyLabelOutput),
		DrainOnce:   v.GetBool(KeyDrainOnce),
		Debug:       v.GetBool(KeyDebug),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings a session cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.LogPath) == "" {
		return fmt.Errorf("log path must not be empty")
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("buffer size must be positive, got %d", c.BufferSize)
	}
	return nil
}
