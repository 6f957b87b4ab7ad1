package claude

import (
	"encoding/json"
	"log/slog"
	"slices"
	"strings"
)

// Event types emitted by the CLI in stream-json mode.
const (
	EventSystem    = "system"
	EventAssistant = "assistant"
	EventUser      = "user"
	EventResult    = "result"

	SubtypeInit = "init"
)

// ContentBlock is one element of an assistant or user message.
type ContentBlock struct {
	Type      string          `json:"type"` // "text", "tool_use", "tool_result", "thinking"
	ID        string          `json:"id,omitempty"`
	Text      string          `json:"text,omitempty"`
	Name      string          `json:"name,omitempty"`  // tool name
	Input     json.RawMessage `json:"input,omitempty"` // tool input
	ToolUseID string          `json:"tool_use_id,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

// Event is a single parsed line of the CLI's stream-json output.
type Event struct {
	Type            string `json:"type"`
	Subtype         string `json:"subtype,omitempty"`
	SessionID       string `json:"session_id,omitempty"`
	ParentToolUseID string `json:"parent_tool_use_id,omitempty"` // set when the message comes from a sub-agent
	Message         struct {
		Model   string         `json:"model,omitempty"`
		Content []ContentBlock `json:"content"`
	} `json:"message"`
	Result       string   `json:"result,omitempty"`
	IsError      bool     `json:"is_error,omitempty"`
	Errors       []string `json:"errors,omitempty"`
	DurationMs   int      `json:"duration_ms,omitempty"`
	NumTurns     int      `json:"num_turns,omitempty"`
	TotalCostUSD *float64 `json:"total_cost_usd,omitempty"`

	// Raw is the original line, kept for stream logs.
	Raw string `json:"-"`
}

// IsInit reports whether this is the system/init event carrying the CLI's
// session id.
func (e Event) IsInit() bool {
	return e.Type == EventSystem && e.Subtype == SubtypeInit
}

// ToolUses returns the tool_use blocks of an assistant event.
func (e Event) ToolUses() []ContentBlock {
	if e.Type != EventAssistant {
		return nil
	}
	var uses []ContentBlock
	for _, c := range e.Message.Content {
		if c.Type == "tool_use" {
			uses = append(uses, c)
		}
	}
	return uses
}

// Text returns the concatenated text blocks of an assistant event.
func (e Event) Text() string {
	if e.Type != EventAssistant {
		return ""
	}
	var sb strings.Builder
	for _, c := range e.Message.Content {
		if c.Type == "text" {
			sb.WriteString(c.Text)
		}
	}
	return sb.String()
}

// ErrorText returns the error details of a failed result event.
func (e Event) ErrorText() string {
	if len(e.Errors) > 0 {
		return strings.Join(e.Errors, "; ")
	}
	if e.IsError {
		return e.Result
	}
	return ""
}

// ParseEvent parses one line of stream-json output. ok is false for blank
// lines, non-JSON lines and JSON without a type discriminator; the CLI may
// print informational lines to stdout in verbose mode.
func ParseEvent(line string, log *slog.Logger) (Event, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Event{}, false
	}

	if !strings.HasPrefix(line, "{") {
		log.Debug("skipping non-JSON line from CLI", "line", truncateForLog(line))
		return Event{}, false
	}

	var ev Event
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		log.Debug("dropping malformed stream line", "error", err, "line", truncateForLog(line))
		return Event{}, false
	}
	if ev.Type == "" {
		log.Debug("dropping JSON line without type", "line", truncateForLog(line))
		return Event{}, false
	}
	ev.Raw = line
	return ev, true
}

// toolInputConfig describes which input field summarizes a tool call.
type toolInputConfig struct {
	Field       string
	ShortenPath bool
	MaxLen      int
}

var toolInputConfigs = map[string]toolInputConfig{
	"Read":         {Field: "file_path", ShortenPath: true},
	"Edit":         {Field: "file_path", ShortenPath: true},
	"MultiEdit":    {Field: "file_path", ShortenPath: true},
	"Write":        {Field: "file_path", ShortenPath: true},
	"NotebookEdit": {Field: "notebook_path", ShortenPath: true},

	"Glob":      {Field: "pattern"},
	"Grep":      {Field: "pattern", MaxLen: 30},
	"WebSearch": {Field: "query"},

	"Bash": {Field: "command", MaxLen: 40},

	"Task": {Field: "description"},

	"WebFetch": {Field: "url", MaxLen: 40},
}

// DefaultToolInputMaxLen is the default max length for tool descriptions.
const DefaultToolInputMaxLen = 40

// ToolInputDescription extracts a brief, human-readable description of a
// tool call from its input, e.g. the file name for Read.
func ToolInputDescription(toolName string, input json.RawMessage) string {
	if len(input) == 0 {
		return ""
	}

	var inputMap map[string]any
	if err := json.Unmarshal(input, &inputMap); err != nil {
		return ""
	}

	if cfg, ok := toolInputConfigs[toolName]; ok {
		if value, exists := inputMap[cfg.Field].(string); exists {
			if cfg.ShortenPath {
				value = shortenPath(value)
			}
			if cfg.MaxLen > 0 {
				value = truncateString(value, cfg.MaxLen)
			}
			return value
		}
		return ""
	}

	// Unknown tools: the first non-empty string field, by key order.
	keys := make([]string, 0, len(inputMap))
	for k := range inputMap {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if s, ok := inputMap[k].(string); ok && s != "" {
			return truncateString(s, DefaultToolInputMaxLen)
		}
	}
	return ""
}

// truncateString truncates a string to maxLen bytes, including "..." suffix.
// A maxLen of 0 means no limit.
func truncateString(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// shortenPath returns just the last path component
func shortenPath(path string) string {
	parts := strings.Split(path, "/")
	return parts[len(parts)-1]
}

// truncateForLog truncates long strings for log messages
func truncateForLog(s string) string {
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
