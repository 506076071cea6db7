// Package voice drives the duplex audio conversation against the model
// service.
//
// The engine wires microphone capture through the wire codec to the service
// and service audio through the playback scheduler, dispatching tool calls
// intercepted mid-stream and cutting playback instantly on barge-in.
// Messages are processed strictly in arrival order; that ordering is the
// primary correctness mechanism.
package voice

import (
	"context"
	"errors"
	"fmt"

	"github.com/techfix/deskagent/pkg/tools"
)

// Sentinel errors.
var (
	// ErrMissingAPIKey indicates the service API key was not provided.
	ErrMissingAPIKey = errors.New("voice: API key is required")

	// ErrNotConnected indicates no live connection exists.
	ErrNotConnected = errors.New("voice: not connected")

	// ErrAlreadyConnected indicates Connect was called on a live session.
	ErrAlreadyConnected = errors.New("voice: already connected")
)

// ConnectionError is a transport failure on the duplex connection.
type ConnectionError struct {
	Reason string
	Cause  error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("voice: connection error: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("voice: connection error: %s", e.Reason)
}

// Unwrap returns the underlying cause.
func (e *ConnectionError) Unwrap() error { return e.Cause }

// State is the voice session lifecycle state.
type State int

const (
	// StateDisconnected means no session exists.
	StateDisconnected State = iota
	// StateConnecting means capture and transport are being acquired.
	StateConnecting
	// StateConnected means the duplex session is live.
	StateConnected
	// StateError means the session died on a transport failure.
	StateError
)

// String returns a human-readable state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// ServerMessage is one inbound message from the duplex connection, reduced
// to the fields the engine acts on. Handling order is fixed: Interrupted
// first (its bundled audio is stale and must not play), then ToolCalls,
// then Audio.
type ServerMessage struct {
	// Interrupted is the barge-in signal: the user spoke over the agent.
	Interrupted bool

	// ToolCalls carried by this message.
	ToolCalls []tools.Invocation

	// Audio is a decoded-from-wire PCM16 payload, empty if none.
	Audio []byte

	// SampleRate of the audio payload in Hz.
	SampleRate int

	// TurnComplete marks the end of the agent's spoken turn.
	TurnComplete bool
}

// Handler receives transport events. Callbacks fire on the connection's
// read goroutine, one at a time, in arrival order.
type Handler struct {
	OnMessage func(msg ServerMessage)
	OnClose   func()
	OnError   func(err error)
}

// Conn is a live duplex connection to the model service. Sends are
// fire-and-forget; delivery failures surface on the handler.
type Conn interface {
	// SendAudio sends one encoded capture frame.
	SendAudio(pcm []byte) error

	// SendText sends a synthetic user text turn (used for the greeting
	// prompt; voice sessions have no typed opener).
	SendText(text string) error

	// SendToolResults acknowledges a batch of dispatched tool calls.
	SendToolResults(results []tools.Result) error

	// Close tears the connection down. Safe to call multiple times.
	Close() error
}

// SessionConfig declares the session to the service at connect time.
type SessionConfig struct {
	SystemInstruction string
	Voice             string
	Tools             []tools.Declaration
}

// Dialer opens duplex connections. The handler must be registered before
// any inbound message can arrive.
type Dialer interface {
	Dial(ctx context.Context, cfg SessionConfig, h Handler) (Conn, error)
}
