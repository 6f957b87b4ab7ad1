package hooks

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/zhubert/plural-chat/exec"
)

// File is the parsed hooks.yaml.
type File struct {
	Hooks []ShellConfig `yaml:"hooks"`
}

// ShellConfig defines one shell hook.
type ShellConfig struct {
	Name    string   `yaml:"name"`
	Before  string   `yaml:"before"`
	After   string   `yaml:"after"`
	Timeout Duration `yaml:"timeout"`
}

// Duration is a wrapper around time.Duration that implements YAML unmarshaling
// from human-readable strings like "10s", "2m".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

// LoadFile reads and validates a hooks file. Returns nil, nil if the file
// does not exist.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read hooks file: %w", err)
	}

	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse hooks file: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid hooks file %s: %w", path, err)
	}
	return &f, nil
}

// Validate checks that each hook has a unique name and at least one command.
func (f *File) Validate() error {
	seen := make(map[string]bool, len(f.Hooks))
	var errs []error
	for i, h := range f.Hooks {
		switch {
		case h.Name == "":
			errs = append(errs, fmt.Errorf("hooks[%d]: name is required", i))
		case seen[h.Name]:
			errs = append(errs, fmt.Errorf("hooks[%d]: duplicate name %q", i, h.Name))
		}
		seen[h.Name] = true

		if h.Before == "" && h.After == "" {
			errs = append(errs, fmt.Errorf("hooks[%d]: one of before or after is required", i))
		}
		if h.Timeout.Duration < 0 {
			errs = append(errs, fmt.Errorf("hooks[%d]: timeout must not be negative", i))
		}
	}
	return errors.Join(errs...)
}

// Build turns the file's entries into hooks, in file order.
func (f *File) Build(executor exec.CommandExecutor, log *slog.Logger) []Hook {
	if f == nil {
		return nil
	}
	hs := make([]Hook, 0, len(f.Hooks))
	for _, cfg := range f.Hooks {
		hs = append(hs, NewShellHook(cfg, executor, log))
	}
	return hs
}
