// Package hub provides a thread-safe websocket broadcast hub using the
// channel-based fan-out pattern. The gateway runs one hub per stream: chat
// deltas on one, session events on another.
package hub

import "encoding/json"

// Event kinds carried by the gateway streams.
const (
	// KindChatDelta is an incremental piece of streamed agent text.
	KindChatDelta = "chat.delta"

	// KindChatTurn marks a completed agent turn.
	KindChatTurn = "chat.turn"

	// KindStatus is a session status snapshot.
	KindStatus = "status"

	// KindBookingDraft is a booking form draft. Each event fully replaces
	// the previous draft on the client.
	KindBookingDraft = "booking.draft"

	// KindWhatsAppLink is a refreshed WhatsApp handoff link.
	KindWhatsAppLink = "whatsapp.link"
)

// Event is the envelope every stream message travels in.
type Event struct {
	Kind    string `json:"kind"`
	Payload any    `json:"payload"`
}

// Encode marshals the event for the wire.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}
