package chat

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/techfix/deskagent/internal/httpc"
	"github.com/techfix/deskagent/internal/log"
	"github.com/techfix/deskagent/pkg/history"
	"github.com/techfix/deskagent/pkg/tools"
)

const (
	geminiBaseURL      = "https://generativelanguage.googleapis.com/v1beta"
	geminiDefaultModel = "gemini-2.0-flash"
)

// APIError is an error response from the model service.
type APIError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("chat: gemini API error (HTTP %d): %s", e.StatusCode, e.Message)
}

// GeminiService implements Service over the Gemini streamGenerateContent
// SSE endpoint. Session state is the accumulated content list; each send
// replays it, so one Session spans many exchanges.
type GeminiService struct {
	apiKey  string
	baseURL string
	model   string
	httpc   *http.Client
	logger  *slog.Logger
}

// GeminiOption configures the service.
type GeminiOption func(*GeminiService)

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) GeminiOption {
	return func(s *GeminiService) { s.baseURL = url }
}

// WithModel overrides the default model.
func WithModel(model string) GeminiOption {
	return func(s *GeminiService) { s.model = model }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) GeminiOption {
	return func(s *GeminiService) { s.httpc = c }
}

// NewGeminiService creates a Gemini-backed chat service.
func NewGeminiService(apiKey string, opts ...GeminiOption) (*GeminiService, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	s := &GeminiService{
		apiKey:  apiKey,
		baseURL: geminiBaseURL,
		model:   geminiDefaultModel,
		httpc:   httpc.NewClient(httpc.StreamTimeout),
		logger:  log.Component("chat.gemini"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Wire format for the v1beta REST API.

type gPart struct {
	Text             string             `json:"text,omitempty"`
	FunctionCall     *gFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *gFunctionResponse `json:"functionResponse,omitempty"`
}

type gFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type gFunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type gContent struct {
	Role  string  `json:"role"`
	Parts []gPart `json:"parts"`
}

// NewSession implements Service.
func (s *GeminiService) NewSession(ctx context.Context, hist []HistoryTurn, opts SessionOptions) (Session, error) {
	sess := &geminiSession{svc: s, opts: opts}
	for _, t := range hist {
		role := "user"
		if t.Role == history.RoleAgent.String() {
			role = "model"
		}
		sess.contents = append(sess.contents, gContent{
			Role:  role,
			Parts: []gPart{{Text: t.Text}},
		})
	}
	return sess, nil
}

// geminiSession accumulates the exchanged contents. Streamed model parts
// buffer in pending until the stream ends or the next send, so replayed
// contents keep functionCall parts ahead of their functionResponse.
type geminiSession struct {
	svc  *GeminiService
	opts SessionOptions

	mu       sync.Mutex
	contents []gContent
	pending  []gPart
}

// Send implements Session.
func (s *geminiSession) Send(ctx context.Context, text string) (Stream, error) {
	s.mu.Lock()
	s.flushPendingLocked()
	s.contents = append(s.contents, gContent{
		Role:  "user",
		Parts: []gPart{{Text: text}},
	})
	s.mu.Unlock()
	return s.open(ctx)
}

// SendToolResults implements Session.
func (s *geminiSession) SendToolResults(ctx context.Context, results []tools.Result) (Stream, error) {
	parts := make([]gPart, 0, len(results))
	for _, r := range results {
		parts = append(parts, gPart{
			FunctionResponse: &gFunctionResponse{
				Name:     r.Name,
				Response: map[string]any{"result": r.Response},
			},
		})
	}

	s.mu.Lock()
	s.flushPendingLocked()
	s.contents = append(s.contents, gContent{Role: "function", Parts: parts})
	s.mu.Unlock()
	return s.open(ctx)
}

// flushPendingLocked folds buffered model parts into the content list.
// Caller holds s.mu.
func (s *geminiSession) flushPendingLocked() {
	if len(s.pending) == 0 {
		return
	}
	s.contents = append(s.contents, gContent{Role: "model", Parts: s.pending})
	s.pending = nil
}

// collect buffers model parts received from an open stream.
func (s *geminiSession) collect(parts []gPart) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(s.pending, parts...)
}

// finish folds any buffered parts when a stream completes.
func (s *geminiSession) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushPendingLocked()
}

// open issues a streaming request with the current content list.
func (s *geminiSession) open(ctx context.Context) (Stream, error) {
	svc := s.svc

	s.mu.Lock()
	payload := map[string]any{
		"contents": s.contents,
	}
	s.mu.Unlock()

	if s.opts.SystemInstruction != "" {
		payload["systemInstruction"] = map[string]any{
			"parts": []map[string]any{{"text": s.opts.SystemInstruction}},
		}
	}
	if len(s.opts.Tools) > 0 {
		payload["tools"] = []map[string]any{
			{"functionDeclarations": s.opts.Tools},
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("chat: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s",
		svc.baseURL, svc.model, svc.apiKey)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("chat: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := svc.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chat: stream request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, parseAPIError(resp)
	}

	return &geminiStream{
		sess:   s,
		reader: bufio.NewReader(resp.Body),
		body:   resp.Body,
	}, nil
}

func parseAPIError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	msg := string(data)
	if json.Unmarshal(data, &parsed) == nil && parsed.Error.Message != "" {
		msg = parsed.Error.Message
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg}
}

// geminiStream parses the SSE response into fragments.
type geminiStream struct {
	sess   *geminiSession
	reader *bufio.Reader
	body   io.ReadCloser
	done   bool
}

type sseChunk struct {
	Candidates []struct {
		Content struct {
			Parts []gPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Recv implements Stream.
func (g *geminiStream) Recv() (*Fragment, error) {
	if g.done {
		return nil, io.EOF
	}

	for {
		line, err := g.reader.ReadString('\n')
		if err == io.EOF {
			g.done = true
			g.sess.finish()
			return nil, io.EOF
		}
		if err != nil {
			g.done = true
			g.sess.finish()
			return nil, fmt.Errorf("chat: read stream: %w", err)
		}

		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data: ") {
			continue
		}

		var chunk sseChunk
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &chunk); err != nil {
			g.sess.svc.logger.Debug("skipping malformed stream event", "error", err)
			continue
		}
		if len(chunk.Candidates) == 0 {
			continue
		}

		parts := chunk.Candidates[0].Content.Parts
		if len(parts) == 0 {
			continue
		}
		g.sess.collect(parts)

		frag := &Fragment{}
		for _, p := range parts {
			if p.Text != "" {
				frag.Text += p.Text
			}
			if p.FunctionCall != nil {
				// The REST API carries no call ID; synthesize one so the
				// dispatcher's exactly-once bookkeeping still applies.
				frag.ToolCalls = append(frag.ToolCalls, tools.Invocation{
					ID:   uuid.NewString(),
					Name: p.FunctionCall.Name,
					Args: p.FunctionCall.Args,
				})
			}
		}
		return frag, nil
	}
}

// Close implements Stream.
func (g *geminiStream) Close() error {
	if !g.done {
		g.done = true
		g.sess.finish()
	}
	return g.body.Close()
}

var _ Service = (*GeminiService)(nil)
