package web

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/techfix/deskagent/pkg/chat"
	"github.com/techfix/deskagent/pkg/history"
	"github.com/techfix/deskagent/pkg/hub"
)

// ChatRequest is the POST /api/chat body.
type ChatRequest struct {
	Text string `json:"text"`
}

// handleChat submits a user message and waits for the full reply. Deltas
// stream over /ws/chat while this request is in flight.
func (s *Server) handleChat(c *fiber.Ctx) error {
	var req ChatRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	if strings.TrimSpace(req.Text) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "text is required",
		})
	}
	if s.chat.State() != chat.StateIdle {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "a reply is already in flight",
		})
	}

	err := s.chat.Submit(c.Context(), req.Text)
	reply := s.lastAgentText(c)

	if err != nil {
		status := fiber.StatusBadGateway
		body := fiber.Map{"error": err.Error()}
		// A broken stream may still have produced usable text.
		if errors.Is(err, chat.ErrStreamFailed) && reply != "" {
			body["partial_reply"] = reply
		}
		return c.Status(status).JSON(body)
	}

	return c.JSON(fiber.Map{"reply": reply})
}

func (s *Server) lastAgentText(c *fiber.Ctx) string {
	turns, err := s.chat.History(c.Context())
	if err != nil {
		return ""
	}
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == history.RoleAgent {
			return turns[i].Text
		}
	}
	return ""
}

// handleHistory returns the conversation log.
func (s *Server) handleHistory(c *fiber.Ctx) error {
	turns, err := s.chat.History(c.Context())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	return c.JSON(fiber.Map{"turns": turns})
}

// handleReset destroys the conversation and reseeds the greeting.
func (s *Server) handleReset(c *fiber.Ctx) error {
	if err := s.chat.Reset(c.Context()); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
	s.mu.Lock()
	s.draft = nil
	s.link = ""
	s.mu.Unlock()
	return c.JSON(fiber.Map{"ok": true})
}

// handleStatus reports both session engines and stream subscriber counts.
func (s *Server) handleStatus(c *fiber.Ctx) error {
	status := fiber.Map{
		"chat":          s.chat.State().String(),
		"chat_clients":  s.chatHub.ClientCount(),
		"event_clients": s.eventsHub.ClientCount(),
	}
	if err := s.chat.Err(); err != nil {
		status["chat_error"] = err.Error()
	}
	if s.voice != nil {
		status["voice"] = s.voice.State().String()
		status["muted"] = s.voice.Muted()
	}
	return c.JSON(status)
}

// handleVoiceConnect starts the duplex voice session.
func (s *Server) handleVoiceConnect(c *fiber.Ctx) error {
	if err := s.voice.Connect(c.Context()); err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error": err.Error(),
			"state": s.voice.State().String(),
		})
	}
	return c.JSON(fiber.Map{"state": s.voice.State().String()})
}

// handleVoiceDisconnect tears the voice session down.
func (s *Server) handleVoiceDisconnect(c *fiber.Ctx) error {
	s.voice.Disconnect()
	return c.JSON(fiber.Map{"state": s.voice.State().String()})
}

// MuteRequest is the POST /api/voice/mute body.
type MuteRequest struct {
	Muted bool `json:"muted"`
}

// handleVoiceMute toggles capture without touching the connection.
func (s *Server) handleVoiceMute(c *fiber.Ctx) error {
	var req MuteRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "invalid request body",
		})
	}
	s.voice.Mute(req.Muted)
	return c.JSON(fiber.Map{"muted": s.voice.Muted()})
}

// handleChatWS streams incremental agent text.
func (s *Server) handleChatWS(c *websocket.Conn) {
	client := hub.NewClient(s.chatHub, c)
	client.Run()
}

// handleEventsWS streams session events. New subscribers get the current
// booking draft and WhatsApp link before live events.
func (s *Server) handleEventsWS(c *websocket.Conn) {
	client := hub.NewClient(s.eventsHub, c)

	s.mu.RLock()
	draft := s.draft
	link := s.link
	s.mu.RUnlock()

	if draft != nil {
		if data, err := (hub.Event{Kind: hub.KindBookingDraft, Payload: *draft}).Encode(); err == nil {
			client.Send(data)
		}
	}
	if link != "" {
		if data, err := (hub.Event{Kind: hub.KindWhatsAppLink, Payload: fiber.Map{"url": link}}).Encode(); err == nil {
			client.Send(data)
		}
	}

	client.Run()
}
