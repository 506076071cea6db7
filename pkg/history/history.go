// Package history manages the persisted conversation log and prepares it
// for submission to the model service.
//
// The service requires a strictly alternating user/agent turn sequence that
// starts with a user turn and does not end on one. Persisted logs drift from
// that shape (greeting seeds, empty placeholders, duplicated roles after a
// crash), so Sanitize reduces the raw log to the longest valid prefix rather
// than failing the session.
package history

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/techfix/deskagent/internal/log"
)

// Role attributes a turn to one side of the conversation.
type Role string

const (
	// RoleUser is a turn authored by the end user.
	RoleUser Role = "user"
	// RoleAgent is a turn authored by the support agent.
	RoleAgent Role = "agent"
)

// String returns the role as a string.
func (r Role) String() string { return string(r) }

// Turn is one message in the conversation log.
type Turn struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// NewTurn creates a turn with a fresh ID.
func NewTurn(role Role, text string) Turn {
	return Turn{ID: uuid.NewString(), Role: role, Text: text}
}

// GreetingText is the canned opener shown when no history exists.
const GreetingText = "Hi! I'm the TechFix support assistant. How can I help you today?"

// Seed returns the single greeting turn used when the persisted log is
// missing or corrupt.
func Seed() []Turn {
	return []Turn{NewTurn(RoleAgent, GreetingText)}
}

// Sanitize reduces a raw turn log to the subsequence submitted as session
// history: the greeting seed and empty turns are dropped, roles must strictly
// alternate starting with user, and a trailing user turn is removed because it
// represents a prompt that never got a recorded answer.
//
// A turn that breaks alternation is dropped rather than repaired; picking
// which of two conflicting turns is authoritative risks submitting
// inconsistent context. Drops are logged, never fatal.
func Sanitize(turns []Turn) []Turn {
	return sanitize(turns, log.Component("history"))
}

func sanitize(turns []Turn, logger *slog.Logger) []Turn {
	out := make([]Turn, 0, len(turns))
	expected := RoleUser

	for i, t := range turns {
		// The seed greeting is presentation only; it never reached the model.
		if i == 0 && t.Role == RoleAgent {
			continue
		}
		if t.Text == "" {
			continue
		}
		if t.Role != expected {
			logger.Warn("dropping out-of-order turn",
				"id", t.ID, "role", t.Role.String(), "expected", expected.String())
			continue
		}
		out = append(out, t)
		if expected == RoleUser {
			expected = RoleAgent
		} else {
			expected = RoleUser
		}
	}

	// A trailing user turn is an unanswered prompt; replaying it as context
	// would desync the next real exchange.
	if n := len(out); n > 0 && out[n-1].Role == RoleUser {
		out = out[:n-1]
	}

	return out
}
