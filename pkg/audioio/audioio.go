// Package audioio provides audio capture and playback devices for the voice
// session.
//
// The capture side delivers fixed-size float32 buffers on its own timing
// domain; the playback side consumes PCM16 chunks. Hardware backends live
// behind the Source and Sink interfaces; the mock implementations carry the
// full contract for tests and headless runs.
package audioio

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Frame is one fixed-size capture buffer of raw float samples in [-1, 1].
type Frame struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the frame length in seconds.
func (f Frame) Duration() float64 {
	if f.SampleRate == 0 {
		return 0
	}
	return float64(len(f.Samples)) / float64(f.SampleRate)
}

// Chunk is one playback buffer of PCM16 samples.
type Chunk struct {
	Samples    []int16
	SampleRate int
}

// Duration returns the chunk length in seconds.
func (c Chunk) Duration() float64 {
	if c.SampleRate == 0 {
		return 0
	}
	return float64(len(c.Samples)) / float64(c.SampleRate)
}

// Config holds device configuration.
type Config struct {
	// SampleRate in Hz.
	SampleRate int

	// Channels of audio. Capture and playback are mono.
	Channels int

	// FrameDuration is the capture buffer cadence.
	FrameDuration time.Duration

	// Device is the platform-specific device identifier; empty selects the
	// system default.
	Device string
}

// DefaultCaptureConfig returns the capture configuration the model service
// expects: 16 kHz mono with ~256 ms buffers (4096 samples).
func DefaultCaptureConfig() Config {
	return Config{
		SampleRate:    16000,
		Channels:      1,
		FrameDuration: 256 * time.Millisecond,
	}
}

// DefaultPlaybackConfig returns the playback configuration matching the
// service's 24 kHz mono output.
func DefaultPlaybackConfig() Config {
	return Config{
		SampleRate:    24000,
		Channels:      1,
		FrameDuration: 20 * time.Millisecond,
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("audioio: sample rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("audioio: channels must be positive, got %d", c.Channels)
	}
	if c.FrameDuration <= 0 {
		return fmt.Errorf("audioio: frame duration must be positive, got %v", c.FrameDuration)
	}
	return nil
}

// FrameSize returns the number of samples per capture frame.
func (c *Config) FrameSize() int {
	return int(float64(c.SampleRate) * c.FrameDuration.Seconds())
}

// Source captures audio from a microphone or other input device.
type Source interface {
	// Start begins capture. A device failure surfaces here, before any
	// frame is delivered.
	Start(ctx context.Context) error

	// Stop halts capture. Safe to call multiple times.
	Stop() error

	// Frames returns the capture channel. It is closed when the source
	// stops.
	Frames() <-chan Frame

	// Config returns the device configuration.
	Config() Config

	// Name returns the backend name (e.g. "mock").
	Name() string

	// Close releases all resources. The source cannot be restarted after.
	io.Closer
}

// Sink plays PCM16 audio to a speaker or other output device.
type Sink interface {
	// Start begins playback.
	Start(ctx context.Context) error

	// Stop halts playback. Safe to call multiple times.
	Stop() error

	// Write queues a chunk for immediate playback.
	Write(chunk Chunk) error

	// Clear discards all queued audio. Used for barge-in.
	Clear() error

	// Config returns the device configuration.
	Config() Config

	// Name returns the backend name.
	Name() string

	// Close releases all resources.
	io.Closer
}
