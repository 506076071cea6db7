package chat

import (
	"context"
	"io"
	"sync"

	"github.com/techfix/deskagent/pkg/tools"
)

// MockService is a scripted Service implementation for testing.
type MockService struct {
	mu sync.Mutex

	// Sessions created, in order.
	Sessions []*MockSession

	// NewSessionErr, when set, fails session creation.
	NewSessionErr error

	// Script holds the fragment sequences returned by successive Send
	// calls across all sessions.
	Script []ScriptedReply
	next   int
}

// ScriptedReply is one Send's streamed response.
type ScriptedReply struct {
	Fragments []Fragment

	// Err, when set, is returned by Recv after the fragments drain,
	// simulating a mid-stream transport failure.
	Err error

	// Continuation is returned by the next SendToolResults call.
	Continuation []Fragment
}

// NewSession implements Service.
func (m *MockService) NewSession(ctx context.Context, hist []HistoryTurn, opts SessionOptions) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.NewSessionErr != nil {
		return nil, m.NewSessionErr
	}
	sess := &MockSession{svc: m, History: hist, Opts: opts}
	m.Sessions = append(m.Sessions, sess)
	return sess, nil
}

func (m *MockService) nextReply() ScriptedReply {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.next >= len(m.Script) {
		return ScriptedReply{}
	}
	r := m.Script[m.next]
	m.next++
	return r
}

// MockSession records sends and replays the service script.
type MockSession struct {
	svc *MockService

	// History and Opts captured at creation for assertions.
	History []HistoryTurn
	Opts    SessionOptions

	mu sync.Mutex

	// Sent user messages in order.
	Sent []string

	// ToolResults batches received, in order.
	ToolResults [][]tools.Result

	pendingContinuation []Fragment
}

// Send implements Session.
func (s *MockSession) Send(ctx context.Context, text string) (Stream, error) {
	reply := s.svc.nextReply()

	s.mu.Lock()
	s.Sent = append(s.Sent, text)
	s.pendingContinuation = reply.Continuation
	s.mu.Unlock()

	return &mockStream{fragments: reply.Fragments, err: reply.Err}, nil
}

// SendToolResults implements Session.
func (s *MockSession) SendToolResults(ctx context.Context, results []tools.Result) (Stream, error) {
	s.mu.Lock()
	s.ToolResults = append(s.ToolResults, results)
	cont := s.pendingContinuation
	s.pendingContinuation = nil
	s.mu.Unlock()

	return &mockStream{fragments: cont}, nil
}

type mockStream struct {
	fragments []Fragment
	err       error
	pos       int
}

func (m *mockStream) Recv() (*Fragment, error) {
	if m.pos >= len(m.fragments) {
		if m.err != nil {
			return nil, m.err
		}
		return nil, io.EOF
	}
	f := m.fragments[m.pos]
	m.pos++
	return &f, nil
}

func (m *mockStream) Close() error { return nil }

var _ Service = (*MockService)(nil)
