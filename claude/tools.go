package claude

import "strings"

// Tool sets are composable building blocks for allowed-tool lists. Config
// entries of the form "@name" expand to the set registered under that name.

// ToolSetBase contains core file-operation tools.
var ToolSetBase = []string{
	"Read",
	"Glob",
	"Grep",
	"Edit",
	"Write",
}

// ToolSetSafeShell contains read-only shell commands.
var ToolSetSafeShell = []string{
	"Bash(ls:*)",
	"Bash(cat:*)",
	"Bash(head:*)",
	"Bash(tail:*)",
	"Bash(wc:*)",
	"Bash(pwd:*)",
}

// ToolSetShell is unrestricted Bash.
var ToolSetShell = []string{
	"Bash",
}

// ToolSetWeb contains web access tools.
var ToolSetWeb = []string{
	"WebFetch",
	"WebSearch",
}

// ToolSetProductivity contains planning, notebook and delegation tools.
var ToolSetProductivity = []string{
	"TodoWrite",
	"NotebookEdit",
	"Task",
}

var toolSets = map[string][]string{
	"base":         ToolSetBase,
	"safe-shell":   ToolSetSafeShell,
	"shell":        ToolSetShell,
	"web":          ToolSetWeb,
	"productivity": ToolSetProductivity,
}

// ComposeTools merges multiple tool sets into a single deduplicated slice.
// Order is preserved (first occurrence wins).
func ComposeTools(sets ...[]string) []string {
	seen := make(map[string]struct{})
	var result []string
	for _, set := range sets {
		for _, tool := range set {
			if _, exists := seen[tool]; !exists {
				seen[tool] = struct{}{}
				result = append(result, tool)
			}
		}
	}
	return result
}

// ExpandTools replaces "@set" references with the tools of that set and
// deduplicates the result. Unknown set names are kept verbatim so the CLI
// reports them.
func ExpandTools(entries []string) []string {
	sets := make([][]string, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if name, ok := strings.CutPrefix(e, "@"); ok {
			if set, known := toolSets[name]; known {
				sets = append(sets, set)
				continue
			}
		}
		sets = append(sets, []string{e})
	}
	return ComposeTools(sets...)
}
