// Package chat drives the turn-based text conversation against the model
// service.
//
// The engine owns the conversation history, submits user turns, and
// assembles the model's incremental response, intercepting tool invocations
// mid-stream and relaying their results back on the same session before
// later fragments are appended.
package chat

import (
	"context"
	"errors"

	"github.com/techfix/deskagent/pkg/tools"
)

// Sentinel errors.
var (
	// ErrMissingAPIKey indicates the service API key was not provided.
	ErrMissingAPIKey = errors.New("chat: API key is required")

	// ErrStreamFailed indicates the response stream broke mid-flight.
	// Partial output already appended is kept.
	ErrStreamFailed = errors.New("chat: response stream failed")
)

// Fragment is one piece of an incremental model response. A fragment may
// carry text, tool calls, or both; when both, the tool calls' continuation
// text precedes the fragment's own text in the assembled turn.
type Fragment struct {
	Text      string
	ToolCalls []tools.Invocation
}

// Stream is a lazy, finite sequence of response fragments. Recv returns
// io.EOF when the model's turn completes.
type Stream interface {
	Recv() (*Fragment, error)
	Close() error
}

// Session is one conversation exchange surface with the model service.
// Both sends return a new stream on the same underlying session context.
type Session interface {
	// Send submits a user message and streams the model's response.
	Send(ctx context.Context, text string) (Stream, error)

	// SendToolResults acknowledges dispatched tool calls and streams any
	// continuation the model produces in response.
	SendToolResults(ctx context.Context, results []tools.Result) (Stream, error)
}

// SessionOptions configures a new session.
type SessionOptions struct {
	// SystemInstruction is the agent persona and policy prompt.
	SystemInstruction string

	// Tools declared to the model for this session.
	Tools []tools.Declaration
}

// Service creates sessions against the model service's text modality.
type Service interface {
	// NewSession opens a session seeded with the given alternating history.
	NewSession(ctx context.Context, hist []HistoryTurn, opts SessionOptions) (Session, error)
}

// HistoryTurn is the role/text pair submitted as session history.
type HistoryTurn struct {
	Role string // "user" or "agent"
	Text string
}
