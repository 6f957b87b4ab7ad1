package claude

// Options configures how the CLI is invoked for every turn.
type Options struct {
	Executable           string // Path or name of the CLI binary
	WorkingDir           string // Directory the CLI runs in
	Model                string
	PermissionMode       string
	SystemPrompt         string // Appended to the CLI's default system prompt
	AllowedTools         []string
	DisallowedTools      []string
	AddDirs              []string
	MCPConfigPaths       []string
	StrictMCPConfig      bool
	SettingSources       string
	DisableSlashCommands bool
}

// BuildCommandArgs builds the argument list for one turn. New sessions are
// started with --session-id so the CLI adopts our id; known sessions are
// continued with --resume. The message always follows a "--" separator so
// text starting with a dash is never read as a flag.
func BuildCommandArgs(opts Options, sessionID string, isNew bool, message string) []string {
	args := []string{
		"--print",
		"--output-format", "stream-json",
		"--verbose",
	}
	if isNew {
		args = append(args, "--session-id", sessionID)
	} else {
		args = append(args, "--resume", sessionID)
	}

	if opts.PermissionMode != "" {
		args = append(args, "--permission-mode", opts.PermissionMode)
	}
	if opts.Model != "" {
		args = append(args, "--model", opts.Model)
	}
	if opts.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", opts.SystemPrompt)
	}
	if opts.DisableSlashCommands {
		args = append(args, "--disable-slash-commands")
	}
	if opts.SettingSources != "" {
		args = append(args, "--setting-sources", opts.SettingSources)
	}
	if opts.StrictMCPConfig {
		args = append(args, "--strict-mcp-config")
	}
	for _, p := range opts.MCPConfigPaths {
		args = append(args, "--mcp-config", p)
	}
	for _, tool := range ExpandTools(opts.AllowedTools) {
		args = append(args, "--allowedTools", tool)
	}
	for _, tool := range ExpandTools(opts.DisallowedTools) {
		args = append(args, "--disallowedTools", tool)
	}
	for _, dir := range opts.AddDirs {
		args = append(args, "--add-dir", dir)
	}

	return append(args, "--", message)
}
