package web

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/techfix/deskagent/pkg/chat"
	"github.com/techfix/deskagent/pkg/history"
	"github.com/techfix/deskagent/pkg/tools"
)

func newTestServer(t *testing.T, script []chat.ScriptedReply) *Server {
	t.Helper()
	svc := &chat.MockService{Script: script}
	store := history.NewMemoryStore()

	// The server is its own form and link collaborator, so it exists
	// before the dispatcher and engine it serves.
	s := NewServer("0")
	d := tools.NewDispatcher(s, s, "15551234567")
	s.AttachChat(chat.NewEngine(svc, store, d, "You are a desk agent."))
	return s
}

func doJSON(t *testing.T, s *Server, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.app.Test(req, 5000)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}

	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	var parsed map[string]any
	json.Unmarshal(data, &parsed)
	return resp, parsed
}

func TestChatEndpoint(t *testing.T) {
	s := newTestServer(t, []chat.ScriptedReply{
		{Fragments: []chat.Fragment{{Text: "We can fix that screen."}}},
	})

	resp, body := doJSON(t, s, "POST", "/api/chat", ChatRequest{Text: "my screen broke"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body = %v", resp.StatusCode, body)
	}
	if body["reply"] != "We can fix that screen." {
		t.Errorf("reply = %v", body["reply"])
	}
}

func TestChatEndpointRejectsBlank(t *testing.T) {
	s := newTestServer(t, nil)

	resp, _ := doJSON(t, s, "POST", "/api/chat", ChatRequest{Text: "   "})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	s := newTestServer(t, []chat.ScriptedReply{
		{Fragments: []chat.Fragment{{Text: "hello"}}},
	})
	doJSON(t, s, "POST", "/api/chat", ChatRequest{Text: "hi"})

	resp, body := doJSON(t, s, "GET", "/api/history", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	turns, ok := body["turns"].([]any)
	if !ok {
		t.Fatalf("turns missing: %v", body)
	}
	// Greeting seed + user turn + agent reply.
	if len(turns) != 3 {
		t.Errorf("expected 3 turns, got %d: %v", len(turns), turns)
	}
}

func TestResetEndpoint(t *testing.T) {
	s := newTestServer(t, []chat.ScriptedReply{
		{Fragments: []chat.Fragment{{Text: "hello"}}},
	})
	doJSON(t, s, "POST", "/api/chat", ChatRequest{Text: "hi"})

	// Leave collaborator state behind, then reset.
	s.Present(tools.BookingDraft{Name: "Sam"})
	s.Push("https://wa.me/1?text=x")

	resp, _ := doJSON(t, s, "POST", "/api/history/reset", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("reset status = %d", resp.StatusCode)
	}

	_, body := doJSON(t, s, "GET", "/api/history", nil)
	turns := body["turns"].([]any)
	if len(turns) != 1 {
		t.Errorf("expected greeting seed only, got %d turns", len(turns))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.draft != nil || s.link != "" {
		t.Error("collaborator state survived reset")
	}
}

func TestStatusEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	resp, body := doJSON(t, s, "GET", "/api/status", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if body["chat"] != "idle" {
		t.Errorf("chat state = %v", body["chat"])
	}
	if _, ok := body["voice"]; ok {
		t.Error("voice state reported without a voice engine")
	}
}

func TestPresentReplacesDraft(t *testing.T) {
	s := newTestServer(t, nil)

	s.Present(tools.BookingDraft{Name: "Sam", Phone: "555"})
	s.Present(tools.BookingDraft{Name: "Sam"})

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.draft.Phone != "" {
		t.Error("second draft merged instead of replacing")
	}
}

func TestVoiceEndpointsAbsentWithoutEngine(t *testing.T) {
	s := newTestServer(t, nil)

	resp, _ := doJSON(t, s, "POST", "/api/voice/connect", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("voice endpoint registered without engine: %d", resp.StatusCode)
	}
}
