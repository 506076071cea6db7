package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/techfix/deskagent/internal/log"
	"github.com/techfix/deskagent/pkg/history"
	"github.com/techfix/deskagent/pkg/tools"
)

// State is the engine's send cycle state.
type State int

const (
	// StateIdle means no send is in flight.
	StateIdle State = iota
	// StateSending means a user turn is being submitted.
	StateSending
	// StateStreaming means the model's response is being assembled.
	StateStreaming
)

// String returns a human-readable state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSending:
		return "sending"
	case StateStreaming:
		return "streaming"
	default:
		return "unknown"
	}
}

// Engine drives the text conversation. One engine per open chat surface.
type Engine struct {
	service    Service
	store      history.Store
	dispatcher *tools.Dispatcher
	sysPrompt  string
	logger     *slog.Logger

	mu      sync.Mutex
	state   State
	turns   []history.Turn
	loaded  bool
	session Session
	lastErr error

	// activeTurn is the ID of the placeholder turn the in-flight stream
	// fills. Deltas append only to this turn, never to "whatever is last".
	activeTurn string

	// onDelta, if set, receives each appended piece of agent text as it
	// arrives. Used by the gateway to stream the reply to the UI.
	onDelta func(turnID, delta string)
}

// NewEngine creates a chat engine. The store is read lazily on first use
// and written after every turn append.
func NewEngine(service Service, store history.Store, dispatcher *tools.Dispatcher, systemPrompt string) *Engine {
	return &Engine{
		service:    service,
		store:      store,
		dispatcher: dispatcher,
		sysPrompt:  systemPrompt,
		logger:     log.Component("chat"),
	}
}

// OnDelta sets the incremental-text callback. Must be set before Submit.
func (e *Engine) OnDelta(fn func(turnID, delta string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onDelta = fn
}

// State returns the current send-cycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Err returns the last transport error, if any. The error is recoverable:
// the user may simply re-send.
func (e *Engine) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// History returns a copy of the conversation log.
func (e *Engine) History(ctx context.Context) ([]history.Turn, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.loadLocked(ctx); err != nil {
		return nil, err
	}
	out := make([]history.Turn, len(e.turns))
	copy(out, e.turns)
	return out, nil
}

// Reset destroys the conversation: history returns to the greeting seed and
// the session is dropped.
func (e *Engine) Reset(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.turns = history.Seed()
	e.loaded = true
	e.session = nil
	e.lastErr = nil
	e.activeTurn = ""
	return e.store.Save(ctx, e.turns)
}

// loadLocked reads the persisted log once. Caller holds e.mu.
func (e *Engine) loadLocked(ctx context.Context) error {
	if e.loaded {
		return nil
	}
	turns, err := e.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("chat: load history: %w", err)
	}
	e.turns = turns
	e.loaded = true
	return nil
}

// sessionLocked returns the live session, creating one lazily from the
// sanitized history. An existing session is never recreated mid-life: doing
// so would lose an in-flight exchange's context. Caller holds e.mu.
func (e *Engine) sessionLocked(ctx context.Context) (Session, error) {
	if e.session != nil {
		return e.session, nil
	}

	hist := history.Sanitize(e.turns)
	seed := make([]HistoryTurn, len(hist))
	for i, t := range hist {
		seed[i] = HistoryTurn{Role: t.Role.String(), Text: t.Text}
	}

	sess, err := e.service.NewSession(ctx, seed, SessionOptions{
		SystemInstruction: e.sysPrompt,
		Tools:             tools.Declarations(tools.ModalityText),
	})
	if err != nil {
		return nil, err
	}
	e.session = sess
	return sess, nil
}

// Submit sends a user message and assembles the streamed reply. It is a
// no-op if the text is blank, a send is already in flight, or no service is
// configured. On transport failure, partial reply text already appended is
// kept and the error is surfaced via Err.
func (e *Engine) Submit(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" || e.service == nil {
		return nil
	}

	e.mu.Lock()
	if e.state != StateIdle {
		e.mu.Unlock()
		return nil
	}
	if err := e.loadLocked(ctx); err != nil {
		e.mu.Unlock()
		return err
	}
	e.state = StateSending
	e.lastErr = nil

	sess, err := e.sessionLocked(ctx)
	if err != nil {
		e.state = StateIdle
		e.lastErr = err
		e.mu.Unlock()
		return err
	}

	// Append the user turn and an empty agent placeholder the stream fills.
	e.turns = append(e.turns, history.NewTurn(history.RoleUser, text))
	placeholder := history.NewTurn(history.RoleAgent, "")
	e.turns = append(e.turns, placeholder)
	e.activeTurn = placeholder.ID
	e.saveLocked(ctx)
	e.mu.Unlock()

	stream, err := sess.Send(ctx, text)

	e.mu.Lock()
	if err != nil {
		e.state = StateIdle
		e.lastErr = err
		e.mu.Unlock()
		return err
	}
	e.state = StateStreaming
	e.mu.Unlock()

	err = e.consume(ctx, sess, stream)

	e.mu.Lock()
	e.state = StateIdle
	e.activeTurn = ""
	if err != nil {
		// Keep whatever partial text arrived; a partial answer is more
		// useful than none.
		e.lastErr = errors.Join(ErrStreamFailed, err)
	}
	e.mu.Unlock()
	if err != nil {
		return e.Err()
	}
	return nil
}

// consume drains a response stream into the placeholder turn, dispatching
// tool calls as they arrive. A fragment's tool continuation text is
// appended before the fragment's own text so the reply reads in narrative
// order.
func (e *Engine) consume(ctx context.Context, sess Session, stream Stream) error {
	defer stream.Close()

	for {
		frag, err := stream.Recv()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if frag == nil {
			continue
		}

		if len(frag.ToolCalls) > 0 {
			results := e.dispatcher.DispatchAll(frag.ToolCalls)
			followup, err := sess.SendToolResults(ctx, results)
			if err != nil {
				return err
			}
			// The acknowledgment's continuation may itself carry tool
			// calls, so consume it with the same rules.
			if err := e.consume(ctx, sess, followup); err != nil {
				return err
			}
		}

		if frag.Text != "" {
			e.appendDelta(ctx, frag.Text)
		}
	}
}

// appendDelta adds streamed text to the in-flight placeholder turn and
// persists. If the placeholder is gone — the conversation was reset while
// the stream was running — the delta is discarded rather than merged into
// an unrelated turn.
func (e *Engine) appendDelta(ctx context.Context, delta string) {
	e.mu.Lock()
	turnID := e.activeTurn
	appended := false
	for i := len(e.turns) - 1; turnID != "" && i >= 0; i-- {
		if e.turns[i].ID == turnID {
			e.turns[i].Text += delta
			appended = true
			break
		}
	}
	if appended {
		e.saveLocked(ctx)
	}
	fn := e.onDelta
	e.mu.Unlock()

	if fn != nil && appended {
		fn(turnID, delta)
	}
}

// saveLocked persists the log, logging rather than failing on store errors:
// a persistence hiccup must not break the live exchange. Caller holds e.mu.
func (e *Engine) saveLocked(ctx context.Context) {
	if err := e.store.Save(ctx, e.turns); err != nil {
		e.logger.Warn("failed to persist history", "error", err)
	}
}
