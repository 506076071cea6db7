package audioio

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"
)

// MockSource is a capture device for testing. It emits scripted frames if
// any were queued, otherwise synthesizes a sine wave (or silence) at the
// configured cadence.
type MockSource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	frames   chan Frame
	stopCh   chan struct{}
	scripted []Frame

	// StartErr, when set, is returned from Start to simulate an
	// unavailable device.
	StartErr error

	phase     float64
	frequency float64 // Hz, 0 = silence
	amplitude float64
}

// MockSourceOption configures a MockSource.
type MockSourceOption func(*MockSource)

// WithSineWave makes the mock synthesize a sine wave.
func WithSineWave(frequency, amplitude float64) MockSourceOption {
	return func(m *MockSource) {
		m.frequency = frequency
		m.amplitude = amplitude
	}
}

// WithScriptedFrames queues frames the mock will emit, in order, before any
// synthesized audio.
func WithScriptedFrames(frames ...Frame) MockSourceOption {
	return func(m *MockSource) {
		m.scripted = append(m.scripted, frames...)
	}
}

// NewMockSource creates a mock capture device.
func NewMockSource(cfg Config, logger *slog.Logger, opts ...MockSourceOption) *MockSource {
	if logger == nil {
		logger = slog.Default()
	}
	m := &MockSource{
		cfg:       cfg,
		logger:    logger,
		frames:    make(chan Frame, 16),
		stopCh:    make(chan struct{}),
		amplitude: 0.5,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start implements Source.
func (m *MockSource) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.StartErr != nil {
		return m.StartErr
	}
	if m.closed {
		return io.ErrClosedPipe
	}
	if m.running {
		return nil
	}

	m.running = true
	m.stopCh = make(chan struct{})
	m.frames = make(chan Frame, 16)

	go m.captureLoop(ctx)
	return nil
}

func (m *MockSource) captureLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.FrameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.Stop()
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			if !m.push(m.nextFrame()) {
				m.logger.Debug("mock source: frame dropped")
			}
		}
	}
}

func (m *MockSource) nextFrame() Frame {
	m.mu.Lock()
	if len(m.scripted) > 0 {
		frame := m.scripted[0]
		m.scripted = m.scripted[1:]
		m.mu.Unlock()
		return frame
	}
	m.mu.Unlock()

	samples := make([]float32, m.cfg.FrameSize())
	if m.frequency > 0 {
		for i := range samples {
			samples[i] = float32(m.amplitude *
				math.Sin(2*math.Pi*m.frequency*m.phase/float64(m.cfg.SampleRate)))
			m.phase++
			if m.phase >= float64(m.cfg.SampleRate) {
				m.phase = 0
			}
		}
	}
	return Frame{Samples: samples, SampleRate: m.cfg.SampleRate}
}

// EmitFrame pushes a frame directly to the stream, bypassing the ticker.
// Lets tests drive capture timing deterministically.
func (m *MockSource) EmitFrame(frame Frame) {
	m.push(frame)
}

// push delivers a frame to the stream. The running check and the send stay
// under one lock so a concurrent Stop cannot close the channel between
// them; a full buffer drops the frame instead of blocking.
func (m *MockSource) push(frame Frame) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return false
	}
	select {
	case m.frames <- frame:
		return true
	default:
		return false
	}
}

// Stop implements Source.
func (m *MockSource) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return nil
	}
	m.running = false
	close(m.stopCh)
	close(m.frames)
	return nil
}

// Frames implements Source.
func (m *MockSource) Frames() <-chan Frame { return m.frames }

// Config implements Source.
func (m *MockSource) Config() Config { return m.cfg }

// Name implements Source.
func (m *MockSource) Name() string { return "mock" }

// Close implements Source.
func (m *MockSource) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()
	return m.Stop()
}

var _ Source = (*MockSource)(nil)

// MockSink is a playback device for testing. It records every written chunk
// and counts Clear calls.
type MockSink struct {
	cfg Config

	mu      sync.Mutex
	running bool
	closed  bool

	// Written holds every chunk in write order.
	Written []Chunk

	// Cleared counts Clear calls.
	Cleared int
}

// NewMockSink creates a mock playback device.
func NewMockSink(cfg Config) *MockSink {
	return &MockSink{cfg: cfg}
}

// Start implements Sink.
func (m *MockSink) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return io.ErrClosedPipe
	}
	m.running = true
	return nil
}

// Stop implements Sink.
func (m *MockSink) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
	return nil
}

// Write implements Sink.
func (m *MockSink) Write(chunk Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return io.ErrClosedPipe
	}
	m.Written = append(m.Written, chunk)
	return nil
}

// Clear implements Sink.
func (m *MockSink) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Cleared++
	return nil
}

// WrittenCount returns the number of chunks written so far.
func (m *MockSink) WrittenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Written)
}

// Config implements Sink.
func (m *MockSink) Config() Config { return m.cfg }

// Name implements Sink.
func (m *MockSink) Name() string { return "mock" }

// Close implements Sink.
func (m *MockSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.running = false
	return nil
}

var _ Sink = (*MockSink)(nil)
