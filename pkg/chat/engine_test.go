package chat

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/techfix/deskagent/pkg/history"
	"github.com/techfix/deskagent/pkg/tools"
)

type captureForm struct {
	drafts []tools.BookingDraft
}

func (f *captureForm) Present(d tools.BookingDraft) { f.drafts = append(f.drafts, d) }

func newTestEngine(svc Service) (*Engine, *history.MemoryStore, *captureForm) {
	store := history.NewMemoryStore()
	form := &captureForm{}
	d := tools.NewDispatcher(form, nil, "15551234567")
	return NewEngine(svc, store, d, "You are a helpful support agent."), store, form
}

func lastAgentText(t *testing.T, e *Engine) string {
	t.Helper()
	turns, err := e.History(context.Background())
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == history.RoleAgent {
			return turns[i].Text
		}
	}
	return ""
}

func TestSubmitAssemblesStreamedReply(t *testing.T) {
	svc := &MockService{Script: []ScriptedReply{
		{Fragments: []Fragment{{Text: "Hello"}, {Text: ", "}, {Text: "Sam!"}}},
	}}
	e, _, _ := newTestEngine(svc)

	if err := e.Submit(context.Background(), "hi"); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	if got := lastAgentText(t, e); got != "Hello, Sam!" {
		t.Errorf("assembled reply = %q", got)
	}
	if e.State() != StateIdle {
		t.Errorf("expected idle after submit, got %s", e.State())
	}
}

func TestSubmitNoOps(t *testing.T) {
	svc := &MockService{}
	e, _, _ := newTestEngine(svc)

	t.Run("blank text", func(t *testing.T) {
		if err := e.Submit(context.Background(), "   "); err != nil {
			t.Errorf("blank submit errored: %v", err)
		}
		if len(svc.Sessions) != 0 {
			t.Error("blank submit created a session")
		}
	})

	t.Run("nil service", func(t *testing.T) {
		noSvc, _, _ := newTestEngine(nil)
		if err := noSvc.Submit(context.Background(), "hi"); err != nil {
			t.Errorf("nil-service submit errored: %v", err)
		}
	})
}

func TestSubmitSeedsSanitizedHistory(t *testing.T) {
	store := history.NewMemoryStore()
	store.Save(context.Background(), []history.Turn{
		history.NewTurn(history.RoleAgent, "greeting"),
		history.NewTurn(history.RoleUser, "A"),
		history.NewTurn(history.RoleAgent, "B"),
		history.NewTurn(history.RoleUser, "unanswered"),
	})

	svc := &MockService{Script: []ScriptedReply{{Fragments: []Fragment{{Text: "ok"}}}}}
	d := tools.NewDispatcher(nil, nil, "1")
	e := NewEngine(svc, store, d, "")

	if err := e.Submit(context.Background(), "new question"); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	sess := svc.Sessions[0]
	if len(sess.History) != 2 {
		t.Fatalf("expected 2 seeded turns, got %d: %v", len(sess.History), sess.History)
	}
	if sess.History[0].Text != "A" || sess.History[1].Text != "B" {
		t.Errorf("seeded history mismatch: %v", sess.History)
	}
	if len(sess.Opts.Tools) != 1 || sess.Opts.Tools[0].Name != tools.ToolOpenBookingForm {
		t.Errorf("text modality tools mismatch: %v", sess.Opts.Tools)
	}
}

func TestSubmitReusesSession(t *testing.T) {
	svc := &MockService{Script: []ScriptedReply{
		{Fragments: []Fragment{{Text: "one"}}},
		{Fragments: []Fragment{{Text: "two"}}},
	}}
	e, _, _ := newTestEngine(svc)

	e.Submit(context.Background(), "first")
	e.Submit(context.Background(), "second")

	if len(svc.Sessions) != 1 {
		t.Errorf("expected 1 session across submits, got %d", len(svc.Sessions))
	}
	if len(svc.Sessions[0].Sent) != 2 {
		t.Errorf("expected 2 sends on the session, got %d", len(svc.Sessions[0].Sent))
	}
}

func TestToolCallMidStream(t *testing.T) {
	svc := &MockService{Script: []ScriptedReply{
		{
			Fragments: []Fragment{
				{Text: "Let me open that form. "},
				{
					ToolCalls: []tools.Invocation{{
						ID:   "call-1",
						Name: tools.ToolOpenBookingForm,
						Args: map[string]any{"name": "Sam"},
					}},
					Text: " Anything else?",
				},
			},
			Continuation: []Fragment{{Text: "The form is ready."}},
		},
	}}
	e, _, form := newTestEngine(svc)

	if err := e.Submit(context.Background(), "book a repair for Sam"); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	// Side effect reached the collaborator.
	if len(form.drafts) != 1 || form.drafts[0].Name != "Sam" {
		t.Fatalf("booking draft not presented: %v", form.drafts)
	}

	// Acknowledgment went back on the same session.
	sess := svc.Sessions[0]
	if len(sess.ToolResults) != 1 {
		t.Fatalf("expected 1 tool result batch, got %d", len(sess.ToolResults))
	}
	res := sess.ToolResults[0][0]
	if res.ID != "call-1" || res.Response != tools.ResultFormOpened {
		t.Errorf("unexpected tool result: %+v", res)
	}

	// Continuation text appears before the fragment's trailing text.
	want := "Let me open that form. The form is ready. Anything else?"
	if got := lastAgentText(t, e); got != want {
		t.Errorf("reply order wrong:\n got %q\nwant %q", got, want)
	}
}

func TestTransportErrorKeepsPartialText(t *testing.T) {
	transportErr := errors.New("connection reset")
	svc := &MockService{Script: []ScriptedReply{
		{Fragments: []Fragment{{Text: "partial answer"}}, Err: transportErr},
	}}
	e, _, _ := newTestEngine(svc)

	err := e.Submit(context.Background(), "hi")
	if err == nil {
		t.Fatal("expected error from broken stream")
	}
	if !errors.Is(err, ErrStreamFailed) {
		t.Errorf("expected ErrStreamFailed, got %v", err)
	}

	if got := lastAgentText(t, e); got != "partial answer" {
		t.Errorf("partial text lost: %q", got)
	}
	if e.State() != StateIdle {
		t.Errorf("expected idle after failure, got %s", e.State())
	}
	if e.Err() == nil {
		t.Error("recoverable error flag not set")
	}

	// The user may retry on the same engine.
	svc.mu.Lock()
	svc.Script = append(svc.Script, ScriptedReply{Fragments: []Fragment{{Text: "retry ok"}}})
	svc.mu.Unlock()
	if err := e.Submit(context.Background(), "again"); err != nil {
		t.Errorf("retry failed: %v", err)
	}
	if e.Err() != nil {
		t.Errorf("error flag not cleared on retry: %v", e.Err())
	}
}

func TestOnDeltaStreamsIncrementally(t *testing.T) {
	svc := &MockService{Script: []ScriptedReply{
		{Fragments: []Fragment{{Text: "a"}, {Text: "b"}}},
	}}
	e, _, _ := newTestEngine(svc)

	var deltas []string
	e.OnDelta(func(turnID, delta string) {
		if turnID == "" {
			t.Error("delta without turn id")
		}
		deltas = append(deltas, delta)
	})

	e.Submit(context.Background(), "hi")

	if len(deltas) != 2 || deltas[0] != "a" || deltas[1] != "b" {
		t.Errorf("deltas = %v", deltas)
	}
}

func TestResetDuringStreamDiscardsLateDeltas(t *testing.T) {
	svc := &MockService{Script: []ScriptedReply{
		{Fragments: []Fragment{{Text: "first"}, {Text: "second"}}},
		{Fragments: []Fragment{{Text: "fresh"}}},
	}}
	e, _, _ := newTestEngine(svc)

	// Reset fires mid-stream, after the first delta lands.
	var once sync.Once
	e.OnDelta(func(turnID, delta string) {
		once.Do(func() {
			if err := e.Reset(context.Background()); err != nil {
				t.Errorf("mid-stream reset failed: %v", err)
			}
		})
	})

	if err := e.Submit(context.Background(), "hi"); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	// The reseeded log stays pristine: later deltas must not merge into
	// the greeting.
	turns, err := e.History(context.Background())
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(turns) != 1 || turns[0].Role != history.RoleAgent {
		t.Fatalf("expected greeting seed only, got %v", turns)
	}
	if turns[0].Text != history.GreetingText {
		t.Errorf("greeting corrupted by late delta: %q", turns[0].Text)
	}

	// The engine remains usable after the mid-stream reset.
	if err := e.Submit(context.Background(), "again"); err != nil {
		t.Fatalf("post-reset submit failed: %v", err)
	}
	if got := lastAgentText(t, e); got != "fresh" {
		t.Errorf("post-reset reply = %q", got)
	}
}

func TestResetDropsSessionAndSeeds(t *testing.T) {
	svc := &MockService{Script: []ScriptedReply{
		{Fragments: []Fragment{{Text: "one"}}},
		{Fragments: []Fragment{{Text: "two"}}},
	}}
	e, _, _ := newTestEngine(svc)

	e.Submit(context.Background(), "first")
	if err := e.Reset(context.Background()); err != nil {
		t.Fatalf("reset failed: %v", err)
	}

	turns, _ := e.History(context.Background())
	if len(turns) != 1 || turns[0].Role != history.RoleAgent {
		t.Errorf("expected greeting seed after reset, got %v", turns)
	}

	e.Submit(context.Background(), "second")
	if len(svc.Sessions) != 2 {
		t.Errorf("expected fresh session after reset, got %d sessions", len(svc.Sessions))
	}
}
