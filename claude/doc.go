// Package claude runs the Claude Code CLI for a single chat turn.
//
// # Overview
//
// Every user message becomes one CLI process:
//
//	runner := claude.NewRunner(cfg, store, tracker, log)
//	proc, err := runner.Start(ctx, claude.Request{UserKey: "42", Message: "hello"}, onEvent)
//	if err != nil {
//	    result = claude.SpawnFailure(err, 0)
//	} else {
//	    result = proc.Wait()
//	}
//
// The process runs with --print --output-format stream-json. Its stdout is
// parsed line by line into Events; each one is recorded and handed to the
// onEvent callback as it arrives, which is how live status is driven.
//
// # Session Management
//
// The SessionStore decides between starting and continuing a conversation:
// new ids are passed with --session-id, known ones with --resume. A
// successful first turn confirms the id. If the CLI no longer knows a
// resumed id, the store is reset and the user is asked to resend.
//
// # Termination
//
// A turn ends early through its timeout or Process.Terminate. Both use the
// same two phases: SIGTERM to the process group, then SIGKILL once the grace
// period has passed.
package claude
