package voice

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/techfix/deskagent/internal/log"
	"github.com/techfix/deskagent/pkg/audio"
	"github.com/techfix/deskagent/pkg/audioio"
	"github.com/techfix/deskagent/pkg/tools"
)

// Config holds the voice session configuration.
type Config struct {
	// Voice is the prebuilt service voice name.
	Voice string

	// SystemPrompt declared to the service at connect time.
	SystemPrompt string

	// Greeting is the synthetic user prompt sent right after connecting so
	// the agent speaks first. Empty disables the opener.
	Greeting string
}

// DefaultConfig returns the standard session configuration.
func DefaultConfig() Config {
	return Config{
		Voice:    "Puck",
		Greeting: "Greet the customer and ask how you can help with their device.",
	}
}

// Engine runs one duplex voice session: capture frames go up the connection,
// service audio lands on the playback scheduler, and tool calls are
// dispatched and acknowledged in between.
type Engine struct {
	dialer     Dialer
	source     audioio.Source
	sched      *audio.Scheduler
	dispatcher *tools.Dispatcher
	cfg        Config
	logger     *slog.Logger

	mu         sync.Mutex
	state      State
	conn       Conn
	muted      bool
	captureCtx context.CancelFunc

	onState func(State)
	onLevel func(level float64)
}

// NewEngine creates a voice engine. The scheduler and source are owned by
// the caller; the engine starts and stops them around the session.
func NewEngine(dialer Dialer, source audioio.Source, sched *audio.Scheduler, dispatcher *tools.Dispatcher, cfg Config) *Engine {
	return &Engine{
		dialer:     dialer,
		source:     source,
		sched:      sched,
		dispatcher: dispatcher,
		cfg:        cfg,
		state:      StateDisconnected,
		logger:     log.Component("voice.engine"),
	}
}

// OnState registers a callback for session state changes. It fires outside
// the engine lock.
func (e *Engine) OnState(fn func(State)) {
	e.mu.Lock()
	e.onState = fn
	e.mu.Unlock()
}

// OnLevel registers a callback receiving the capture level (0..1) for each
// outbound frame. Used by hosts to render a speaking indicator.
func (e *Engine) OnLevel(fn func(level float64)) {
	e.mu.Lock()
	e.onLevel = fn
	e.mu.Unlock()
}

// State returns the current session state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Mute sets whether capture frames are dropped before encoding. The session
// stays connected either way.
func (e *Engine) Mute(muted bool) {
	e.mu.Lock()
	e.muted = muted
	e.mu.Unlock()
}

// Muted reports the mute flag.
func (e *Engine) Muted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.muted
}

// Connect acquires the capture device, dials the service and starts the
// duplex session. The microphone is acquired first: a device failure aborts
// before anything touches the network.
func (e *Engine) Connect(ctx context.Context) error {
	e.mu.Lock()
	if e.state == StateConnecting || e.state == StateConnected {
		e.mu.Unlock()
		return ErrAlreadyConnected
	}
	e.state = StateConnecting
	e.mu.Unlock()
	e.notifyState(StateConnecting)

	if err := e.source.Start(ctx); err != nil {
		e.setState(StateDisconnected)
		return fmt.Errorf("voice: capture device: %w", err)
	}

	handler := Handler{
		OnMessage: e.handleMessage,
		OnClose:   e.handleClose,
		OnError:   e.handleError,
	}
	conn, err := e.dialer.Dial(ctx, SessionConfig{
		SystemInstruction: e.cfg.SystemPrompt,
		Voice:             e.cfg.Voice,
		Tools:             tools.Declarations(tools.ModalityVoice),
	}, handler)
	if err != nil {
		if stopErr := e.source.Stop(); stopErr != nil {
			e.logger.Warn("capture stop failed", "error", stopErr)
		}
		e.setState(StateError)
		return err
	}

	captureCtx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.conn = conn
	e.captureCtx = cancel
	e.state = StateConnected
	e.mu.Unlock()

	go e.captureLoop(captureCtx, conn)

	if e.cfg.Greeting != "" {
		if err := conn.SendText(e.cfg.Greeting); err != nil {
			e.logger.Warn("greeting send failed", "error", err)
		}
	}

	e.notifyState(StateConnected)
	e.logger.Info("voice session connected",
		"source", e.source.Name(), "voice", e.cfg.Voice)
	return nil
}

// Disconnect tears the session down. Safe to call in any state, any number
// of times.
func (e *Engine) Disconnect() {
	e.teardown(StateDisconnected)
}

// captureLoop pumps frames from the source to the connection until the
// session ends. Muted frames are dropped before encoding so nothing leaves
// the process.
func (e *Engine) captureLoop(ctx context.Context, conn Conn) {
	frames := e.source.Frames()
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			if e.Muted() {
				continue
			}
			pcm := audio.EncodeFrame(frame.Samples)
			if err := conn.SendAudio(pcm); err != nil {
				e.logger.Warn("audio send failed", "error", err)
				continue
			}
			e.emitLevel(pcm)
		}
	}
}

func (e *Engine) emitLevel(pcm []byte) {
	e.mu.Lock()
	fn := e.onLevel
	e.mu.Unlock()
	if fn == nil {
		return
	}
	fn(audio.CalculateRMS(audio.BytesToSamples(pcm)))
}

// handleMessage processes one inbound message. Order matters: an interrupt
// is handled first, and any audio bundled with it is stale output from the
// cut-off turn. Tool calls bundled with an interrupt still require their
// acknowledgment; dropping them would stall the protocol.
func (e *Engine) handleMessage(msg ServerMessage) {
	if msg.Interrupted {
		e.logger.Debug("barge-in, cutting playback")
		e.sched.Interrupt()
	}

	if len(msg.ToolCalls) > 0 {
		e.handleToolCalls(msg.ToolCalls)
	}

	if msg.Interrupted {
		return
	}

	if len(msg.Audio) > 0 {
		clip := audio.DecodeClip(msg.Audio, msg.SampleRate)
		if _, err := e.sched.Schedule(clip); err != nil {
			e.logger.Warn("schedule failed", "error", err)
		}
	}
}

// handleToolCalls dispatches a batch and sends all results in one
// acknowledgment.
func (e *Engine) handleToolCalls(calls []tools.Invocation) {
	results := e.dispatcher.DispatchAll(calls)

	e.mu.Lock()
	conn := e.conn
	e.mu.Unlock()
	if conn == nil {
		e.logger.Warn("tool results dropped, no connection")
		return
	}
	if err := conn.SendToolResults(results); err != nil {
		e.logger.Warn("tool result send failed", "error", err)
	}
}

func (e *Engine) handleClose() {
	e.logger.Info("voice connection closed")
	e.teardown(StateDisconnected)
}

func (e *Engine) handleError(err error) {
	e.logger.Error("voice connection failed", "error", err)
	e.teardown(StateError)
}

// teardown releases the session best-effort: each step runs regardless of
// earlier failures, and the engine always reaches the target state.
func (e *Engine) teardown(target State) {
	e.mu.Lock()
	if e.state == StateDisconnected && target == StateDisconnected {
		e.mu.Unlock()
		return
	}
	conn := e.conn
	cancel := e.captureCtx
	e.conn = nil
	e.captureCtx = nil
	e.state = target
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if err := e.source.Stop(); err != nil {
		e.logger.Warn("capture stop failed", "error", err)
	}
	e.sched.Interrupt()
	if conn != nil {
		if err := conn.Close(); err != nil {
			e.logger.Warn("connection close failed", "error", err)
		}
	}

	e.notifyState(target)
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
	e.notifyState(s)
}

func (e *Engine) notifyState(s State) {
	e.mu.Lock()
	fn := e.onState
	e.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}
