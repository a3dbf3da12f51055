package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/pelletier/go-toml/v2"
)

// ErrDenied marks a working directory outside the allowlist.
var ErrDenied = errors.New("workspace: directory not in allowlist")

// OverridesFile is the per-workspace configuration file name.
const OverridesFile = ".bridge.toml"

// Validator checks working directories against allowlist globs.
type Validator struct {
	globs []string
}

// NewValidator compiles an allowlist. Patterns use doublestar syntax and
// match against the cleaned absolute directory path. An invalid pattern
// is a configuration error.
func NewValidator(globs []string) (*Validator, error) {
	for _, g := range globs {
		if !doublestar.ValidatePattern(g) {
			return nil, fmt.Errorf("workspace: invalid allowlist pattern %q", g)
		}
	}
	return &Validator{globs: globs}, nil
}

// Validate reports whether dir may host a session. An empty allowlist
// admits any directory.
func (v *Validator) Validate(dir string) error {
	if len(v.globs) == 0 {
		return nil
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("workspace: resolve %q: %w", dir, err)
	}
	for _, g := range v.globs {
		if ok, _ := doublestar.Match(g, abs); ok {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrDenied, abs)
}

// Overrides are per-workspace tuning knobs read from .bridge.toml.
// Zero values mean the key was absent.
type Overrides struct {
	SessionTimeout time.Duration
	FlushInterval  time.Duration
	BufferStrategy string
}

// overridesFile is the raw TOML shape; durations are strings so the file
// can say "30m" rather than nanosecond integers.
type overridesFile struct {
	SessionTimeout string `toml:"session_timeout"`
	FlushInterval  string `toml:"flush_interval"`
	BufferStrategy string `toml:"buffer_strategy"`
}

// LoadOverrides reads dir's .bridge.toml. A missing file returns
// (nil, nil); a present but malformed file returns an error so callers
// can log it and fall back to defaults.
func LoadOverrides(dir string) (*Overrides, error) {
	data, err := os.ReadFile(filepath.Join(dir, OverridesFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("workspace: read overrides: %w", err)
	}

	var raw overridesFile
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("workspace: parse overrides: %w", err)
	}

	var o Overrides
	if raw.SessionTimeout != "" {
		if o.SessionTimeout, err = time.ParseDuration(raw.SessionTimeout); err != nil {
			return nil, fmt.Errorf("workspace: session_timeout: %w", err)
		}
	}
	if raw.FlushInterval != "" {
		if o.FlushInterval, err = time.ParseDuration(raw.FlushInterval); err != nil {
			return nil, fmt.Errorf("workspace: flush_interval: %w", err)
		}
	}
	o.BufferStrategy = raw.BufferStrategy
	return &o, nil
}
