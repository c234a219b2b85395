// Package config handles mire.toml run configuration.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"

	"mire/pkg/interpreter"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Size is a byte count written in human form, e.g. "64 MiB".
type Size uint64

func (s *Size) UnmarshalText(text []byte) error {
	n, err := humanize.ParseBytes(string(text))
	if err != nil {
		return fmt.Errorf("%w: size %q: %v", ErrInvalidConfig, text, err)
	}
	*s = Size(n)
	return nil
}

func (s Size) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s Size) String() string {
	return humanize.IBytes(uint64(s))
}

// Config is the contents of a mire.toml file.
type Config struct {
	Limits Limits `toml:"limits"`
	Target Target `toml:"target"`
	Run    Run    `toml:"run"`
	Log    Log    `toml:"log"`
}

// Limits bound a single evaluation.
type Limits struct {
	Memory Size `toml:"memory"`
	Steps  int  `toml:"steps"`
	Stack  int  `toml:"stack"`
}

type Target struct {
	PointerSize uint64 `toml:"pointer_size"`
}

// Run configures which item runs and how runs are scheduled.
type Run struct {
	Entry string `toml:"entry"`
	Jobs  int    `toml:"jobs"`
	Dump  string `toml:"dump"` // CBOR memory snapshot path, empty to skip
}

type Log struct {
	Level string `toml:"level"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Limits: Limits{
			Memory: Size(interpreter.DefaultMemoryLimit),
			Steps:  interpreter.DefaultMaxSteps,
			Stack:  interpreter.DefaultStackLimit,
		},
		Target: Target{PointerSize: interpreter.DefaultPointerSize},
		Run:    Run{Entry: "main", Jobs: 4},
		Log:    Log{Level: "info"},
	}
}

// Load reads a mire.toml file on top of the defaults. Keys the
// configuration does not know are rejected.
func Load(path string) (*Config, error) {
	c := Default()
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("%w: %s: unknown keys %s", ErrInvalidConfig, path, strings.Join(keys, ", "))
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Validate checks that the values can drive an evaluation.
func (c *Config) Validate() error {
	switch {
	case c.Limits.Steps < 0:
		return fmt.Errorf("%w: limits.steps must not be negative", ErrInvalidConfig)
	case c.Limits.Stack <= 0:
		return fmt.Errorf("%w: limits.stack must be positive", ErrInvalidConfig)
	case c.Target.PointerSize != 4 && c.Target.PointerSize != 8:
		return fmt.Errorf("%w: target.pointer_size must be 4 or 8, got %d", ErrInvalidConfig, c.Target.PointerSize)
	case c.Run.Entry == "":
		return fmt.Errorf("%w: run.entry is empty", ErrInvalidConfig)
	case c.Run.Jobs <= 0:
		return fmt.Errorf("%w: run.jobs must be positive", ErrInvalidConfig)
	}
	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %v", ErrInvalidConfig, err)
	}
	return nil
}

// LogLevel returns the configured logging level.
func (c *Config) LogLevel() log.Level {
	lvl, err := log.ParseLevel(c.Log.Level)
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

// Options translates the limits into evaluation options.
func (c *Config) Options() []interpreter.Option {
	return []interpreter.Option{
		interpreter.WithMemoryLimit(uint64(c.Limits.Memory)),
		interpreter.WithMaxSteps(c.Limits.Steps),
		interpreter.WithStackLimit(c.Limits.Stack),
		interpreter.WithPointerSize(c.Target.PointerSize),
	}
}

// Encode writes c back out as TOML.
func (c *Config) Encode() (string, error) {
	var sb strings.Builder
	if err := toml.NewEncoder(&sb).Encode(c); err != nil {
		return "", err
	}
	return sb.String(), nil
}
