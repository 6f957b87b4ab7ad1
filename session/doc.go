// Package session maps chat users to CLI conversation ids.
//
// # Overview
//
// Every chat user owns exactly one conversation with the CLI. The first id a
// user gets is deterministic: a name-based (SHA-1) UUID of the user key inside
// a namespace UUID derived from the deployment namespace. Rebuilding the store
// from scratch therefore yields the same ids, and two deployments configured
// with different namespaces never share a conversation.
//
// # Lifecycle
//
//  1. GetOrCreate: the first turn for a user records the derived id as
//     provisional (unconfirmed) and reports isNew=true, so the runner starts
//     the conversation with --session-id.
//  2. Confirm: after a successful turn the record is confirmed; later turns
//     report isNew=false and the runner uses --resume.
//  3. Reset: /clear, or a resume the CLI no longer recognises, replaces the id
//     with a random UUID. The new id is provisional again.
//
// # Persistence
//
// Records are kept in a TOML file inside the workspace runtime directory.
// Every mutation rewrites the whole file through a temp file and rename before
// the call returns. The file is created with mode 0600 and its directory with
// 0700.
package session
