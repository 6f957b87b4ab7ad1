// Package paths resolves where plural-chat keeps its files.
//
// Global files live in one of three layouts:
//
//   - Home: everything under $PLURAL_CHAT_HOME, when set
//   - Flat: everything under ~/.plural-chat/, when that directory exists or
//     no XDG variables are set
//   - XDG: config.yaml and hooks.yaml under $XDG_CONFIG_HOME/plural-chat,
//     logs under $XDG_STATE_HOME/plural-chat
//
// Per-workspace runtime data (the session continuity file) lives inside the
// workspace under RuntimeDirName so that a bridge bound to one project never
// reads another project's sessions.
package paths

import (
	"os"
	"path/filepath"
	"sync"
)

const (
	// HomeEnv overrides the home directory of the flat layout.
	HomeEnv = "PLURAL_CHAT_HOME"

	// RuntimeDirName is the workspace-relative directory for runtime data.
	RuntimeDirName = ".plural-chat"

	appName = "plural-chat"
)

// Kind names a directory layout.
type Kind string

const (
	KindHome Kind = "home"
	KindFlat Kind = "flat"
	KindXDG  Kind = "xdg"
)

// Layout is a resolved directory layout.
type Layout struct {
	Kind      Kind
	ConfigDir string
	StateDir  string
}

var (
	mu     sync.Mutex
	cached *Layout
)

// Resolve returns the layout, computing it on first use.
func Resolve() (Layout, error) {
	mu.Lock()
	defer mu.Unlock()

	if cached != nil {
		return *cached, nil
	}
	l, err := detect()
	if err != nil {
		return Layout{}, err
	}
	cached = &l
	return l, nil
}

func detect() (Layout, error) {
	if dir := os.Getenv(HomeEnv); dir != "" {
		return Layout{Kind: KindHome, ConfigDir: dir, StateDir: dir}, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return Layout{}, err
	}
	flat := Layout{Kind: KindFlat, ConfigDir: filepath.Join(home, RuntimeDirName), StateDir: filepath.Join(home, RuntimeDirName)}

	if info, err := os.Stat(flat.ConfigDir); err == nil && info.IsDir() {
		return flat, nil
	}

	xdgConfig := os.Getenv("XDG_CONFIG_HOME")
	xdgState := os.Getenv("XDG_STATE_HOME")
	if xdgConfig == "" && xdgState == "" {
		return flat, nil
	}

	if xdgConfig == "" {
		xdgConfig = filepath.Join(home, ".config")
	}
	if xdgState == "" {
		xdgState = filepath.Join(home, ".local", "state")
	}
	return Layout{
		Kind:      KindXDG,
		ConfigDir: filepath.Join(xdgConfig, appName),
		StateDir:  filepath.Join(xdgState, appName),
	}, nil
}

func inConfigDir(name string) (string, error) {
	l, err := Resolve()
	if err != nil {
		return "", err
	}
	return filepath.Join(l.ConfigDir, name), nil
}

// ConfigDir returns the directory for configuration files.
func ConfigDir() (string, error) {
	l, err := Resolve()
	return l.ConfigDir, err
}

// StateDir returns the directory for logs and other state.
func StateDir() (string, error) {
	l, err := Resolve()
	return l.StateDir, err
}

// ConfigFilePath returns the default config.yaml path.
func ConfigFilePath() (string, error) {
	return inConfigDir("config.yaml")
}

// HooksFilePath returns the default hooks.yaml path.
func HooksFilePath() (string, error) {
	return inConfigDir("hooks.yaml")
}

// LogsDir returns the directory for log files.
func LogsDir() (string, error) {
	l, err := Resolve()
	if err != nil {
		return "", err
	}
	return filepath.Join(l.StateDir, "logs"), nil
}

// RuntimeDir returns the runtime data directory inside workspace.
func RuntimeDir(workspace string) string {
	return filepath.Join(workspace, RuntimeDirName)
}

// SessionsFilePath returns the session continuity file for workspace.
func SessionsFilePath(workspace string) string {
	return filepath.Join(RuntimeDir(workspace), "sessions.toml")
}

// Reset drops the cached layout. Tests use it after changing the environment.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	cached = nil
}
