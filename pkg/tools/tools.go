// Package tools maps model-issued tool invocations to local side effects.
//
// The model emits tool calls mid-stream; each call must trigger its effect
// exactly once and be acknowledged back to the service before the
// conversation continues. The dispatcher owns that contract: effects run
// synchronously before the result is returned, replayed invocation IDs are
// no-ops, and unknown tool names degrade to a harmless result instead of
// failing the stream.
package tools

import (
	"log/slog"
	"sync"

	"github.com/techfix/deskagent/internal/log"
)

// Known tool names. Anything else routes to the unknown-tool result.
const (
	ToolOpenBookingForm       = "open_booking_form"
	ToolUpdateWhatsAppContext = "update_whatsapp_context"
)

// Canonical result strings returned to the model.
const (
	ResultFormOpened  = "Form Opened with prefilled data."
	ResultUnknownTool = "Unknown tool"
)

// Invocation is a structured tool call emitted by the model.
type Invocation struct {
	ID   string
	Name string
	Args map[string]any
}

// Result is the acknowledgment returned to the service for one invocation.
type Result struct {
	ID       string
	Name     string
	Response string
}

// FormPresenter is the booking-form collaborator. Each call fully replaces
// the visible draft; the session never reads it back.
type FormPresenter interface {
	Present(draft BookingDraft)
}

// LinkSink is the contact-link collaborator. It receives a fully encoded
// link ready to present to the user.
type LinkSink interface {
	Push(url string)
}

// Dispatcher executes tool invocations against the local collaborators.
type Dispatcher struct {
	form   FormPresenter
	links  LinkSink
	number string // WhatsApp contact number for the link template

	mu   sync.Mutex
	seen map[string]Result

	logger *slog.Logger
}

// NewDispatcher creates a dispatcher bound to the given collaborators.
// number is the contact number embedded in the WhatsApp link template.
func NewDispatcher(form FormPresenter, links LinkSink, number string) *Dispatcher {
	return &Dispatcher{
		form:   form,
		links:  links,
		number: number,
		seen:   make(map[string]Result),
		logger: log.Component("tools"),
	}
}

// Dispatch runs the invocation's side effect and returns its acknowledgment.
// The effect completes before Dispatch returns, so the acknowledgment sent
// upstream always reflects a finished effect. A replayed ID returns the
// cached result without re-running the effect.
func (d *Dispatcher) Dispatch(inv Invocation) Result {
	d.mu.Lock()
	if prev, ok := d.seen[inv.ID]; ok && inv.ID != "" {
		d.mu.Unlock()
		d.logger.Debug("replayed tool invocation", "id", inv.ID, "tool", inv.Name)
		return prev
	}
	d.mu.Unlock()

	res := Result{ID: inv.ID, Name: inv.Name}

	switch inv.Name {
	case ToolOpenBookingForm:
		draft := DraftFromArgs(inv.Args)
		if d.form != nil {
			d.form.Present(draft)
		}
		res.Response = ResultFormOpened

	case ToolUpdateWhatsAppContext:
		summary, _ := inv.Args["summary"].(string)
		link := WhatsAppLink(d.number, summary)
		if d.links != nil {
			d.links.Push(link)
		}
		res.Response = "WhatsApp contact link updated."

	default:
		d.logger.Warn("unknown tool invoked", "tool", inv.Name, "id", inv.ID)
		res.Response = ResultUnknownTool
	}

	if inv.ID != "" {
		d.mu.Lock()
		d.seen[inv.ID] = res
		d.mu.Unlock()
	}
	return res
}

// DispatchAll dispatches a batch of invocations in order.
func (d *Dispatcher) DispatchAll(invs []Invocation) []Result {
	results := make([]Result, 0, len(invs))
	for _, inv := range invs {
		results = append(results, d.Dispatch(inv))
	}
	return results
}
