// Package web is the browser-facing gateway: a REST API for the chat
// session and websocket streams for incremental agent text and session
// events.
//
// The server doubles as the session's host-side collaborators. Booking form
// drafts and WhatsApp links surface here and are pushed to subscribed
// clients; each draft event fully replaces the previous one.
package web

import (
	"log/slog"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/techfix/deskagent/internal/log"
	"github.com/techfix/deskagent/pkg/chat"
	"github.com/techfix/deskagent/pkg/hub"
	"github.com/techfix/deskagent/pkg/tools"
	"github.com/techfix/deskagent/pkg/voice"
)

// Server is the gateway server. Construct it first, hand it to the tool
// dispatcher as the form and link collaborator, then attach the engines.
type Server struct {
	app    *fiber.App
	port   string
	logger *slog.Logger

	chat  *chat.Engine
	voice *voice.Engine // nil in text-only deployments

	chatHub   *hub.Hub
	eventsHub *hub.Hub

	// Latest collaborator state, replayed to new /ws/events subscribers.
	mu    sync.RWMutex
	draft *tools.BookingDraft
	link  string
}

// NewServer creates the gateway with the chat routes registered. Voice
// routes appear when a voice engine is attached.
func NewServer(port string) *Server {
	s := &Server{
		port:      port,
		logger:    log.Component("web"),
		chatHub:   hub.New("chat"),
		eventsHub: hub.New("events"),
	}

	app := fiber.New(fiber.Config{
		AppName:               "TechFix Desk Agent",
		DisableStartupMessage: true,
	})

	// CORS for local development
	app.Use(cors.New())

	app.Static("/", "./web")

	api := app.Group("/api")
	api.Post("/chat", s.handleChat)
	api.Get("/history", s.handleHistory)
	api.Post("/history/reset", s.handleReset)
	api.Get("/status", s.handleStatus)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/chat", websocket.New(s.handleChatWS))
	app.Get("/ws/events", websocket.New(s.handleEventsWS))

	s.app = app
	return s
}

// AttachChat binds the chat engine and hooks its delta stream into the chat
// hub. Must be called before Start.
func (s *Server) AttachChat(e *chat.Engine) {
	s.chat = e
	e.OnDelta(func(turnID, delta string) {
		s.chatHub.BroadcastEvent(hub.KindChatDelta, fiber.Map{
			"turn_id": turnID,
			"delta":   delta,
		})
	})
}

// AttachVoice binds the voice engine, registers the voice routes and hooks
// state changes into the events stream. Must be called before Start.
func (s *Server) AttachVoice(e *voice.Engine) {
	s.voice = e

	api := s.app.Group("/api/voice")
	api.Post("/connect", s.handleVoiceConnect)
	api.Post("/disconnect", s.handleVoiceDisconnect)
	api.Post("/mute", s.handleVoiceMute)

	e.OnState(func(state voice.State) {
		s.eventsHub.BroadcastEvent(hub.KindStatus, fiber.Map{
			"voice": state.String(),
		})
	})
}

// Present implements tools.FormPresenter: the draft replaces the previous
// one and goes out to every events subscriber.
func (s *Server) Present(draft tools.BookingDraft) {
	s.mu.Lock()
	s.draft = &draft
	s.mu.Unlock()
	s.eventsHub.BroadcastEvent(hub.KindBookingDraft, draft)
}

// Push implements tools.LinkSink.
func (s *Server) Push(url string) {
	s.mu.Lock()
	s.link = url
	s.mu.Unlock()
	s.eventsHub.BroadcastEvent(hub.KindWhatsAppLink, fiber.Map{"url": url})
}

// Start runs the hubs and listens. Blocks until shutdown.
func (s *Server) Start() error {
	go s.chatHub.Run()
	go s.eventsHub.Run()
	s.logger.Info("gateway listening", "port", s.port)
	return s.app.Listen(":" + s.port)
}

// Shutdown stops the server and disconnects all stream clients.
func (s *Server) Shutdown() error {
	s.chatHub.Stop()
	s.eventsHub.Stop()
	return s.app.Shutdown()
}

var _ tools.FormPresenter = (*Server)(nil)
var _ tools.LinkSink = (*Server)(nil)
