// Package status keeps a chat message updated with what the assistant is
// doing while a turn runs.
package status

import (
	"fmt"
	"strings"
	"time"

	"github.com/zhubert/plural-chat/claude"
)

// Activity is a coarse category of what the assistant is doing.
type Activity string

const (
	ActivityThinking   Activity = "thinking"
	ActivityReading    Activity = "reading"
	ActivityEditing    Activity = "editing"
	ActivitySearching  Activity = "searching"
	ActivityRunning    Activity = "running"
	ActivityWeb        Activity = "web"
	ActivityDelegating Activity = "delegating"
	ActivityExternal   Activity = "external"
	ActivityWorking    Activity = "working"
)

var labels = map[Activity]string{
	ActivityThinking:   "Thinking",
	ActivityReading:    "Reading",
	ActivityEditing:    "Editing",
	ActivitySearching:  "Searching",
	ActivityRunning:    "Running a command",
	ActivityWeb:        "Browsing the web",
	ActivityDelegating: "Delegating a sub-task",
	ActivityExternal:   "Using an external tool",
	ActivityWorking:    "Working",
}

var toolActivities = map[string]Activity{
	"Read":         ActivityReading,
	"NotebookRead": ActivityReading,
	"LS":           ActivityReading,

	"Edit":         ActivityEditing,
	"MultiEdit":    ActivityEditing,
	"Write":        ActivityEditing,
	"NotebookEdit": ActivityEditing,

	"Glob": ActivitySearching,
	"Grep": ActivitySearching,

	"Bash":       ActivityRunning,
	"BashOutput": ActivityRunning,
	"KillShell":  ActivityRunning,

	"WebFetch":  ActivityWeb,
	"WebSearch": ActivityWeb,

	"Task":  ActivityDelegating,
	"Agent": ActivityDelegating,

	"TodoWrite":    ActivityThinking,
	"ExitPlanMode": ActivityThinking,
}

// Classify maps a tool name to its activity. MCP tools are external;
// anything else unknown is generic work.
func Classify(toolName string) Activity {
	if a, ok := toolActivities[toolName]; ok {
		return a
	}
	if strings.HasPrefix(toolName, "mcp__") {
		return ActivityExternal
	}
	return ActivityWorking
}

// Label returns the human-readable text for an activity.
func (a Activity) Label() string {
	if l, ok := labels[a]; ok {
		return l
	}
	return labels[ActivityWorking]
}

// Render formats a status line: "<activity> · elapsed mm:ss". A non-empty
// detail is appended to the activity label.
func Render(a Activity, detail string, elapsed time.Duration) string {
	label := a.Label()
	if detail != "" {
		label += " " + detail
	}
	secs := int(elapsed / time.Second)
	if secs < 0 {
		secs = 0
	}
	return fmt.Sprintf("%s · elapsed %02d:%02d", label, secs/60, secs%60)
}

// InitialText is the status shown before any event has arrived.
func InitialText() string {
	return Render(ActivityThinking, "", 0)
}

// fromEvent derives the activity from a stream event. ok is false when the
// event says nothing new about the current activity.
func fromEvent(ev claude.Event) (a Activity, detail string, ok bool) {
	switch ev.Type {
	case claude.EventAssistant:
		uses := ev.ToolUses()
		if len(uses) == 0 {
			return ActivityThinking, "", true
		}
		last := uses[len(uses)-1]
		return Classify(last.Name), claude.ToolInputDescription(last.Name, last.Input), true
	case claude.EventUser:
		return ActivityThinking, "", true
	}
	return "", "", false
}
