package hooks

import (
	"context"
	"strings"
	"sync/atomic"
)

// NotAllowedReply is sent to users outside the allowlist.
const NotAllowedReply = "Sorry, you are not allowed to use this bot."

// Allowlist denies turns from users that are not listed. An empty list
// allows everyone. The list can be replaced while turns are running.
type Allowlist struct {
	users atomic.Pointer[map[string]struct{}]
}

// NewAllowlist creates an allowlist over users.
func NewAllowlist(users []string) *Allowlist {
	a := &Allowlist{}
	a.Set(users)
	return a
}

func (a *Allowlist) Name() string { return "allowlist" }

// Set replaces the allowed users.
func (a *Allowlist) Set(users []string) {
	m := make(map[string]struct{}, len(users))
	for _, u := range users {
		if u = strings.TrimSpace(u); u != "" {
			m[u] = struct{}{}
		}
	}
	a.users.Store(&m)
}

// Allowed reports whether userID may start a turn.
func (a *Allowlist) Allowed(userID string) bool {
	m := *a.users.Load()
	if len(m) == 0 {
		return true
	}
	_, ok := m[userID]
	return ok
}

func (a *Allowlist) BeforeTurn(_ context.Context, tc *TurnContext, msg string) (Outcome, error) {
	if !a.Allowed(tc.UserID) {
		return Deny(NotAllowedReply), nil
	}
	return Continue(msg), nil
}
