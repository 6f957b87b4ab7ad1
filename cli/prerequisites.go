// Package cli checks that the external tools the bridge shells out to are
// installed.
package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zhubert/plural-chat/exec"
)

// versionTimeout bounds each --version call.
const versionTimeout = 5 * time.Second

// Prerequisite represents a required CLI tool
type Prerequisite struct {
	Name        string // Command name or path (e.g., "claude", "/opt/bin/claude")
	Required    bool   // Whether the tool is required to run the bridge
	Description string // Human-readable description
	InstallURL  string // URL for installation instructions
}

// DefaultPrerequisites returns the CLI tools the bridge needs. claudePath is
// the configured assistant executable; needShell marks sh as required when
// shell hooks are configured.
func DefaultPrerequisites(claudePath string, needShell bool) []Prerequisite {
	if claudePath == "" {
		claudePath = "claude"
	}
	return []Prerequisite{
		{
			Name:        claudePath,
			Required:    true,
			Description: "Claude Code CLI",
			InstallURL:  "https://claude.ai/code",
		},
		{
			Name:        "sh",
			Required:    needShell,
			Description: "POSIX shell (for shell hooks)",
		},
		{
			Name:        "ps",
			Required:    false, // Only needed for stale process cleanup
			Description: "Process listing (optional, for stale process cleanup)",
		},
	}
}

// CheckResult contains the result of checking a prerequisite
type CheckResult struct {
	Prerequisite Prerequisite
	Found        bool
	Path         string // Path to the executable if found
	Version      string // Version string if available
	Error        error
}

// Checker checks tools through a command executor.
type Checker struct {
	executor exec.CommandExecutor
}

// NewChecker creates a Checker. A nil executor uses the package default.
func NewChecker(executor exec.CommandExecutor) *Checker {
	if executor == nil {
		executor = exec.GetDefaultExecutor()
	}
	return &Checker{executor: executor}
}

// Check verifies that a CLI tool is available
func (c *Checker) Check(ctx context.Context, prereq Prerequisite) CheckResult {
	result := CheckResult{Prerequisite: prereq}

	path, err := c.executor.LookPath(prereq.Name)
	if err != nil {
		result.Error = fmt.Errorf("%s not found in PATH", prereq.Name)
		return result
	}

	result.Found = true
	result.Path = path
	result.Version = c.version(ctx, path)
	return result
}

// CheckAll verifies all prerequisites and returns results
func (c *Checker) CheckAll(ctx context.Context, prereqs []Prerequisite) []CheckResult {
	results := make([]CheckResult, len(prereqs))
	for i, prereq := range prereqs {
		results[i] = c.Check(ctx, prereq)
	}
	return results
}

// ValidateRequired checks that all required prerequisites are met
// Returns nil if all required tools are found, otherwise returns an error
// describing what's missing
func (c *Checker) ValidateRequired(ctx context.Context, prereqs []Prerequisite) error {
	var missing []string

	for _, prereq := range prereqs {
		if !prereq.Required {
			continue
		}
		if result := c.Check(ctx, prereq); !result.Found {
			line := fmt.Sprintf("  - %s (%s)", prereq.Name, prereq.Description)
			if prereq.InstallURL != "" {
				line += "\n    Install: " + prereq.InstallURL
			}
			missing = append(missing, line)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required CLI tools:\n%s", strings.Join(missing, "\n"))
	}

	return nil
}

// version returns the first line of `<path> --version`, or "" when the tool
// has no such flag.
func (c *Checker) version(ctx context.Context, path string) string {
	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()

	output, err := c.executor.Output(ctx, exec.Command{Name: path, Args: []string{"--version"}})
	if err != nil {
		return ""
	}
	first, _, _ := strings.Cut(string(output), "\n")
	version := strings.TrimSpace(first)
	// Limit length to avoid overly long version strings
	if len(version) > 100 {
		version = version[:100] + "..."
	}
	return version
}

// FormatCheckResults formats check results for display
func FormatCheckResults(results []CheckResult) string {
	var sb strings.Builder

	sb.WriteString("CLI Prerequisites:\n")
	for _, r := range results {
		status := "✓"
		if !r.Found {
			if r.Prerequisite.Required {
				status = "✗"
			} else {
				status = "○"
			}
		}

		fmt.Fprintf(&sb, "  %s %s", status, r.Prerequisite.Name)
		if r.Found && r.Version != "" {
			fmt.Fprintf(&sb, " (%s)", r.Version)
		} else if !r.Found {
			if r.Prerequisite.Required {
				sb.WriteString(" [REQUIRED]")
			} else {
				sb.WriteString(" [optional]")
			}
		}
		sb.WriteString("\n")
	}

	return sb.String()
}
