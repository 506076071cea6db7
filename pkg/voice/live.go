package voice

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/techfix/deskagent/internal/log"
	"github.com/techfix/deskagent/pkg/tools"
)

const (
	// Gemini Live API WebSocket endpoint
	liveURL = "wss://generativelanguage.googleapis.com/ws/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	liveDefaultModel = "models/gemini-2.0-flash-exp"
	liveDefaultVoice = "Puck"

	// Output sample rate when the mime type carries none.
	defaultOutputRate = 24000
)

// LiveDialer opens Gemini Live duplex connections.
type LiveDialer struct {
	APIKey string
	Model  string

	// HandshakeTimeout bounds the websocket dial. Zero means 10s.
	HandshakeTimeout time.Duration

	logger *slog.Logger
}

// NewLiveDialer creates a dialer for the live endpoint.
func NewLiveDialer(apiKey string) (*LiveDialer, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	return &LiveDialer{
		APIKey: apiKey,
		Model:  liveDefaultModel,
		logger: log.Component("voice.live"),
	}, nil
}

// Dial implements Dialer: it connects, sends the session setup declaring
// audio-only response modality and the tool set, and starts the read loop.
func (d *LiveDialer) Dial(ctx context.Context, cfg SessionConfig, h Handler) (Conn, error) {
	timeout := d.HandshakeTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{HandshakeTimeout: timeout}

	header := make(http.Header)
	header.Set("Content-Type", "application/json")

	url := fmt.Sprintf("%s?key=%s", liveURL, d.APIKey)
	ws, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, &ConnectionError{Reason: "dial failed", Cause: err}
	}

	c := &liveConn{
		ws:      ws,
		handler: h,
		logger:  d.logger,
	}

	if err := c.sendSetup(d.Model, cfg); err != nil {
		c.Close()
		return nil, &ConnectionError{Reason: "session setup failed", Cause: err}
	}

	go c.readLoop()
	return c, nil
}

// liveConn is a live websocket connection. Writes are serialized by wsMu;
// reads happen on a single goroutine so inbound handling preserves arrival
// order.
type liveConn struct {
	ws      *websocket.Conn
	wsMu    sync.Mutex
	handler Handler
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
}

func (c *liveConn) sendSetup(model string, cfg SessionConfig) error {
	voiceName := cfg.Voice
	if voiceName == "" {
		voiceName = liveDefaultVoice
	}

	setup := map[string]any{
		"model": model,
		"generation_config": map[string]any{
			"response_modalities": []string{"AUDIO"},
			"speech_config": map[string]any{
				"voice_config": map[string]any{
					"prebuilt_voice_config": map[string]any{
						"voice_name": voiceName,
					},
				},
			},
		},
	}
	if cfg.SystemInstruction != "" {
		setup["system_instruction"] = map[string]any{
			"parts": []map[string]any{{"text": cfg.SystemInstruction}},
		}
	}
	if len(cfg.Tools) > 0 {
		setup["tools"] = []map[string]any{
			{"function_declarations": cfg.Tools},
		}
	}

	return c.sendJSON(map[string]any{"setup": setup})
}

// SendAudio implements Conn. Frames are base64 PCM16 media chunks.
func (c *liveConn) SendAudio(pcm []byte) error {
	return c.sendJSON(map[string]any{
		"realtime_input": map[string]any{
			"media_chunks": []map[string]any{
				{
					"data":      base64.StdEncoding.EncodeToString(pcm),
					"mime_type": "audio/pcm",
				},
			},
		},
	})
}

// SendText implements Conn.
func (c *liveConn) SendText(text string) error {
	return c.sendJSON(map[string]any{
		"client_content": map[string]any{
			"turns": []map[string]any{
				{
					"role":  "user",
					"parts": []map[string]any{{"text": text}},
				},
			},
			"turn_complete": true,
		},
	})
}

// SendToolResults implements Conn. All results ship in one acknowledgment.
func (c *liveConn) SendToolResults(results []tools.Result) error {
	responses := make([]map[string]any, 0, len(results))
	for _, r := range results {
		responses = append(responses, map[string]any{
			"id":       r.ID,
			"name":     r.Name,
			"response": map[string]any{"result": r.Response},
		})
	}
	return c.sendJSON(map[string]any{
		"tool_response": map[string]any{
			"function_responses": responses,
		},
	})
}

// Close implements Conn.
func (c *liveConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.ws.Close()
}

func (c *liveConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *liveConn) sendJSON(v any) error {
	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	if c.isClosed() {
		return ErrNotConnected
	}
	return c.ws.WriteJSON(v)
}

// Inbound wire format.

type serverEnvelope struct {
	SetupComplete *struct{} `json:"setupComplete"`
	ServerContent *struct {
		Interrupted  bool `json:"interrupted"`
		TurnComplete bool `json:"turnComplete"`
		ModelTurn    *struct {
			Parts []struct {
				InlineData *struct {
					MimeType string `json:"mimeType"`
					Data     string `json:"data"`
				} `json:"inlineData"`
			} `json:"parts"`
		} `json:"modelTurn"`
	} `json:"serverContent"`
	ToolCall *struct {
		FunctionCalls []struct {
			ID   string         `json:"id"`
			Name string         `json:"name"`
			Args map[string]any `json:"args"`
		} `json:"functionCalls"`
	} `json:"toolCall"`
	ToolCallCancellation *struct{} `json:"toolCallCancellation"`
}

// readLoop delivers inbound messages to the handler in arrival order.
func (c *liveConn) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.isClosed() {
				if c.handler.OnClose != nil {
					c.handler.OnClose()
				}
				return
			}
			if c.handler.OnError != nil {
				c.handler.OnError(&ConnectionError{Reason: "read failed", Cause: err})
			}
			return
		}

		var env serverEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Debug("skipping malformed message", "error", err)
			continue
		}

		msg, ok := c.reduce(env)
		if !ok {
			continue
		}
		if c.handler.OnMessage != nil {
			c.handler.OnMessage(msg)
		}
	}
}

// reduce maps a wire envelope onto the engine's message type.
func (c *liveConn) reduce(env serverEnvelope) (ServerMessage, bool) {
	if env.SetupComplete != nil {
		c.logger.Debug("live session ready")
		return ServerMessage{}, false
	}
	if env.ToolCallCancellation != nil {
		c.logger.Debug("tool call cancelled by service")
		return ServerMessage{}, false
	}

	var msg ServerMessage

	if env.ToolCall != nil {
		for _, fc := range env.ToolCall.FunctionCalls {
			msg.ToolCalls = append(msg.ToolCalls, tools.Invocation{
				ID:   fc.ID,
				Name: fc.Name,
				Args: fc.Args,
			})
		}
	}

	if sc := env.ServerContent; sc != nil {
		msg.Interrupted = sc.Interrupted
		msg.TurnComplete = sc.TurnComplete

		if sc.ModelTurn != nil {
			for _, part := range sc.ModelTurn.Parts {
				if part.InlineData == nil || !strings.HasPrefix(part.InlineData.MimeType, "audio/pcm") {
					continue
				}
				audio, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
				if err != nil || len(audio) == 0 {
					continue
				}
				msg.Audio = append(msg.Audio, audio...)
				msg.SampleRate = rateFromMime(part.InlineData.MimeType)
			}
		}
	}

	if !msg.Interrupted && !msg.TurnComplete && len(msg.ToolCalls) == 0 && len(msg.Audio) == 0 {
		return ServerMessage{}, false
	}
	return msg, true
}

// rateFromMime parses "audio/pcm;rate=24000"; missing rate defaults to the
// service's 24 kHz output.
func rateFromMime(mime string) int {
	const marker = "rate="
	if i := strings.Index(mime, marker); i >= 0 {
		if rate, err := strconv.Atoi(mime[i+len(marker):]); err == nil && rate > 0 {
			return rate
		}
	}
	return defaultOutputRate
}

var _ Conn = (*liveConn)(nil)
var _ Dialer = (*LiveDialer)(nil)
