// TechFix desk agent - device-repair support sessions over text and voice.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/techfix/deskagent/internal/config"
	"github.com/techfix/deskagent/internal/log"
	"github.com/techfix/deskagent/pkg/audio"
	"github.com/techfix/deskagent/pkg/audioio"
	"github.com/techfix/deskagent/pkg/chat"
	"github.com/techfix/deskagent/pkg/history"
	"github.com/techfix/deskagent/pkg/tools"
	"github.com/techfix/deskagent/pkg/voice"
	"github.com/techfix/deskagent/pkg/web"
)

const systemPrompt = `You are the TechFix support agent. You help customers ` +
	`diagnose device problems, book repair appointments and hand off to a ` +
	`human over WhatsApp. Keep answers short and practical. Use the ` +
	`open_booking_form tool once you have enough details to prefill a booking.`

func main() {
	debug := flag.Bool("debug", false, "Enable verbose debug logging")
	port := flag.String("port", "", "Gateway listen port (overrides PORT env var)")
	enableVoice := flag.Bool("voice", false, "Enable the duplex voice session")
	voiceName := flag.String("voice-name", voice.DefaultConfig().Voice, "Service voice for spoken replies")
	flag.Parse()

	level := "info"
	if *debug {
		level = "debug"
	}
	log.Init(level)

	apiKey := config.GeminiAPIKey()
	listenPort := config.Port()
	if *port != "" {
		listenPort = *port
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store := buildStore(ctx)

	// The gateway is the session's form and link collaborator, so it is
	// built first and the dispatcher points at it.
	server := web.NewServer(listenPort)
	dispatcher := tools.NewDispatcher(server, server, config.WhatsAppNumber())

	chatService, err := chat.NewGeminiService(apiKey)
	if err != nil {
		log.Error("chat service init failed", "error", err)
		os.Exit(1)
	}
	server.AttachChat(chat.NewEngine(chatService, store, dispatcher, systemPrompt))

	if *enableVoice {
		engine, err := buildVoice(apiKey, *voiceName, dispatcher)
		if err != nil {
			log.Error("voice init failed", "error", err)
			os.Exit(1)
		}
		defer engine.Disconnect()
		server.AttachVoice(engine)
	}

	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		if err := server.Shutdown(); err != nil {
			log.Warn("gateway shutdown failed", "error", err)
		}
	}()

	log.Info("desk agent starting", "port", listenPort, "voice", *enableVoice)
	if err := server.Start(); err != nil {
		log.Error("gateway failed", "error", err)
		os.Exit(1)
	}
}

// buildStore selects redis-backed history when REDIS_ADDR is set, in-memory
// otherwise.
func buildStore(ctx context.Context) history.Store {
	addr := config.RedisAddr()
	if addr == "" {
		log.Info("history store: memory")
		return history.NewMemoryStore()
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn("redis unreachable, falling back to memory store",
			"addr", addr, "error", err)
		return history.NewMemoryStore()
	}
	log.Info("history store: redis", "addr", addr)
	return history.NewRedisStore(client, config.DefaultHistoryKey)
}

// buildVoice assembles the duplex session: capture source, playback sink
// behind the scheduler, and the live dialer.
func buildVoice(apiKey, voiceName string, dispatcher *tools.Dispatcher) (*voice.Engine, error) {
	dialer, err := voice.NewLiveDialer(apiKey)
	if err != nil {
		return nil, err
	}

	// Hardware backends register behind these interfaces; the mock devices
	// keep headless deployments running.
	source := audioio.NewMockSource(audioio.DefaultCaptureConfig(), log.Component("audioio"))
	sink := audioio.NewMockSink(audioio.DefaultPlaybackConfig())
	sched := audio.NewScheduler(audio.SinkOutput{Sink: sink}, nil)

	cfg := voice.DefaultConfig()
	cfg.Voice = voiceName
	cfg.SystemPrompt = systemPrompt

	return voice.NewEngine(dialer, source, sched, dispatcher, cfg), nil
}
