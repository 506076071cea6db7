package tools

import (
	"strings"
	"testing"
)

// mockForm captures every presented draft.
type mockForm struct {
	drafts []BookingDraft
}

func (m *mockForm) Present(draft BookingDraft) {
	m.drafts = append(m.drafts, draft)
}

// mockLinks captures every pushed contact link.
type mockLinks struct {
	urls []string
}

func (m *mockLinks) Push(url string) {
	m.urls = append(m.urls, url)
}

func TestDispatchOpenBookingForm(t *testing.T) {
	form := &mockForm{}
	d := NewDispatcher(form, nil, "15551234567")

	res := d.Dispatch(Invocation{
		ID:   "call-1",
		Name: ToolOpenBookingForm,
		Args: map[string]any{
			"name":        "Sam",
			"serviceType": "Repair",
			"issue":       "screen cracked",
		},
	})

	if res.Response != ResultFormOpened {
		t.Errorf("expected %q, got %q", ResultFormOpened, res.Response)
	}
	if res.ID != "call-1" || res.Name != ToolOpenBookingForm {
		t.Errorf("result identity mismatch: %+v", res)
	}

	if len(form.drafts) != 1 {
		t.Fatalf("expected 1 draft, got %d", len(form.drafts))
	}
	draft := form.drafts[0]
	if draft.Name != "Sam" {
		t.Errorf("expected name Sam, got %q", draft.Name)
	}
	if draft.ServiceType != ServiceRepair {
		t.Errorf("expected service type Repair, got %q", draft.ServiceType)
	}
	if draft.Description != "screen cracked" {
		t.Errorf("issue did not map to description: %q", draft.Description)
	}
}

func TestDispatchReplacesDraft(t *testing.T) {
	form := &mockForm{}
	d := NewDispatcher(form, nil, "15551234567")

	d.Dispatch(Invocation{ID: "c1", Name: ToolOpenBookingForm,
		Args: map[string]any{"name": "Sam"}})
	d.Dispatch(Invocation{ID: "c2", Name: ToolOpenBookingForm,
		Args: map[string]any{"phone": "555-0100"}})

	if len(form.drafts) != 2 {
		t.Fatalf("expected 2 presentations, got %d", len(form.drafts))
	}
	// Second call replaces, never merges.
	if form.drafts[1].Name != "" {
		t.Errorf("second draft should not carry first draft's name, got %q", form.drafts[1].Name)
	}
	if form.drafts[1].Phone != "555-0100" {
		t.Errorf("expected phone 555-0100, got %q", form.drafts[1].Phone)
	}
}

func TestDispatchIdempotentReplay(t *testing.T) {
	form := &mockForm{}
	d := NewDispatcher(form, nil, "15551234567")

	inv := Invocation{ID: "c1", Name: ToolOpenBookingForm,
		Args: map[string]any{"name": "Sam"}}

	first := d.Dispatch(inv)
	second := d.Dispatch(inv)

	if len(form.drafts) != 1 {
		t.Errorf("side effect ran %d times, want exactly once", len(form.drafts))
	}
	if first != second {
		t.Errorf("replay returned different result: %+v vs %+v", first, second)
	}
}

func TestDispatchWhatsAppContext(t *testing.T) {
	links := &mockLinks{}
	d := NewDispatcher(nil, links, "15551234567")

	res := d.Dispatch(Invocation{
		ID:   "c1",
		Name: ToolUpdateWhatsAppContext,
		Args: map[string]any{"summary": "laptop won't boot & beeps"},
	})

	if res.Response == "" || res.Response == ResultUnknownTool {
		t.Errorf("unexpected response %q", res.Response)
	}
	if len(links.urls) != 1 {
		t.Fatalf("expected 1 link, got %d", len(links.urls))
	}
	url := links.urls[0]
	if !strings.HasPrefix(url, "https://wa.me/15551234567?text=") {
		t.Errorf("link does not match template: %q", url)
	}
	if strings.Contains(url, " ") || strings.Contains(url, "&b") {
		t.Errorf("summary not percent-encoded: %q", url)
	}
}

func TestDispatchUnknownTool(t *testing.T) {
	form := &mockForm{}
	links := &mockLinks{}
	d := NewDispatcher(form, links, "15551234567")

	res := d.Dispatch(Invocation{ID: "c9", Name: "reboot_mainframe"})

	if res.Response != ResultUnknownTool {
		t.Errorf("expected %q, got %q", ResultUnknownTool, res.Response)
	}
	if len(form.drafts) != 0 || len(links.urls) != 0 {
		t.Error("unknown tool triggered a side effect")
	}
}

func TestDispatchAllOrder(t *testing.T) {
	form := &mockForm{}
	d := NewDispatcher(form, nil, "15551234567")

	results := d.DispatchAll([]Invocation{
		{ID: "a", Name: ToolOpenBookingForm, Args: map[string]any{"name": "1"}},
		{ID: "b", Name: "nope"},
		{ID: "c", Name: ToolOpenBookingForm, Args: map[string]any{"name": "2"}},
	})

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[0].ID != "a" || results[1].ID != "b" || results[2].ID != "c" {
		t.Errorf("results out of order: %v", results)
	}
	if results[1].Response != ResultUnknownTool {
		t.Errorf("expected unknown tool in the middle, got %q", results[1].Response)
	}
}

func TestDraftFromArgsIgnoresBadServiceType(t *testing.T) {
	draft := DraftFromArgs(map[string]any{
		"serviceType": "Exorcism",
		"deviceType":  "laptop",
	})
	if draft.ServiceType != "" {
		t.Errorf("invalid service type forwarded: %q", draft.ServiceType)
	}
	if draft.DeviceType != "laptop" {
		t.Errorf("expected deviceType laptop, got %q", draft.DeviceType)
	}
}

func TestDeclarationsPerModality(t *testing.T) {
	text := Declarations(ModalityText)
	if len(text) != 1 || text[0].Name != ToolOpenBookingForm {
		t.Errorf("text modality tools: %v", text)
	}

	voice := Declarations(ModalityVoice)
	if len(voice) != 2 {
		t.Fatalf("expected 2 voice tools, got %d", len(voice))
	}
	if voice[1].Name != ToolUpdateWhatsAppContext {
		t.Errorf("voice modality missing whatsapp tool: %v", voice)
	}
	for _, decl := range voice {
		if decl.Parameters["type"] != "object" {
			t.Errorf("%s: parameters must be an object schema", decl.Name)
		}
	}
}
