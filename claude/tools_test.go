package claude

import (
	"slices"
	"testing"
)

func TestComposeTools_Empty(t *testing.T) {
	if result := ComposeTools(); len(result) != 0 {
		t.Errorf("ComposeTools() with no args should return empty, got %v", result)
	}
}

func TestComposeTools_Dedup(t *testing.T) {
	result := ComposeTools([]string{"Read", "Write"}, []string{"Read", "Bash"})

	want := []string{"Read", "Write", "Bash"}
	if !slices.Equal(result, want) {
		t.Errorf("ComposeTools = %v, want %v", result, want)
	}
}

func TestExpandTools(t *testing.T) {
	tests := []struct {
		name    string
		entries []string
		want    []string
	}{
		{"nil", nil, nil},
		{"plain names kept", []string{"Read", "Bash(git:*)"}, []string{"Read", "Bash(git:*)"}},
		{"set expands", []string{"@web"}, []string{"WebFetch", "WebSearch"}},
		{"set and duplicates", []string{"Read", "@base"}, ToolSetBase},
		{"unknown set kept verbatim", []string{"@nope"}, []string{"@nope"}},
		{"blank entries dropped", []string{" ", "", "Grep"}, []string{"Grep"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExpandTools(tt.entries); !slices.Equal(got, tt.want) {
				t.Errorf("ExpandTools(%v) = %v, want %v", tt.entries, got, tt.want)
			}
		})
	}
}

func TestToolSets_SafeShell_NoUnrestrictedBash(t *testing.T) {
	if slices.Contains(ToolSetSafeShell, "Bash") {
		t.Error("ToolSetSafeShell should not contain unrestricted Bash")
	}
	if !slices.Contains(ToolSetShell, "Bash") {
		t.Error("ToolSetShell should contain unrestricted Bash")
	}
}
