// Package config provides environment configuration helpers for deskagent commands.
package config

import (
	"fmt"
	"os"
)

// Defaults for the gateway and collaborators.
const (
	DefaultPort           = "8090"
	DefaultWhatsAppNumber = "15551234567"
	DefaultHistoryKey     = "deskagent:history"
)

// GeminiAPIKey returns the model service API key from GEMINI_API_KEY.
// Exits with a usage message if not set: a session cannot start without it.
func GeminiAPIKey() string {
	key := os.Getenv("GEMINI_API_KEY")
	if key == "" {
		fmt.Fprintln(os.Stderr, "Error: GEMINI_API_KEY environment variable is required")
		fmt.Fprintln(os.Stderr, "Usage: GEMINI_API_KEY=... go run ./cmd/deskagent")
		os.Exit(1)
	}
	return key
}

// Port returns the gateway listen port from PORT or the default.
func Port() string {
	if p := os.Getenv("PORT"); p != "" {
		return p
	}
	return DefaultPort
}

// RedisAddr returns the redis address from REDIS_ADDR.
// Empty means history persists in memory only.
func RedisAddr() string {
	return os.Getenv("REDIS_ADDR")
}

// WhatsAppNumber returns the contact number for the WhatsApp link template.
func WhatsAppNumber() string {
	if n := os.Getenv("WHATSAPP_NUMBER"); n != "" {
		return n
	}
	return DefaultWhatsAppNumber
}
