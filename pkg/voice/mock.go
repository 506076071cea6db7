package voice

import (
	"context"
	"sync"

	"github.com/techfix/deskagent/pkg/tools"
)

// MockDialer is a scripted Dialer for tests.
type MockDialer struct {
	mu sync.Mutex

	// DialErr, when set, fails Dial.
	DialErr error

	// Conns created, in order.
	Conns []*MockConn

	// Configs captured from Dial calls.
	Configs []SessionConfig
}

// Dial implements Dialer.
func (d *MockDialer) Dial(ctx context.Context, cfg SessionConfig, h Handler) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.DialErr != nil {
		return nil, d.DialErr
	}
	conn := &MockConn{handler: h}
	d.Conns = append(d.Conns, conn)
	d.Configs = append(d.Configs, cfg)
	return conn, nil
}

// Last returns the most recent connection, or nil.
func (d *MockDialer) Last() *MockConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.Conns) == 0 {
		return nil
	}
	return d.Conns[len(d.Conns)-1]
}

// MockConn records outbound traffic and lets tests inject inbound events
// through the registered handler.
type MockConn struct {
	handler Handler

	mu sync.Mutex

	// Audio frames sent, in order.
	Audio [][]byte

	// Texts sent, in order.
	Texts []string

	// ToolResults batches sent, in order.
	ToolResults [][]tools.Result

	// SendAudioErr, when set, fails SendAudio.
	SendAudioErr error

	closed int
}

// SendAudio implements Conn.
func (c *MockConn) SendAudio(pcm []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendAudioErr != nil {
		return c.SendAudioErr
	}
	buf := make([]byte, len(pcm))
	copy(buf, pcm)
	c.Audio = append(c.Audio, buf)
	return nil
}

// SendText implements Conn.
func (c *MockConn) SendText(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Texts = append(c.Texts, text)
	return nil
}

// SendToolResults implements Conn.
func (c *MockConn) SendToolResults(results []tools.Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ToolResults = append(c.ToolResults, results)
	return nil
}

// Close implements Conn.
func (c *MockConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

// CloseCount returns how many times Close was called.
func (c *MockConn) CloseCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// AudioCount returns the number of frames sent.
func (c *MockConn) AudioCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Audio)
}

// Deliver invokes the handler with an inbound message, as the read loop
// would.
func (c *MockConn) Deliver(msg ServerMessage) {
	if c.handler.OnMessage != nil {
		c.handler.OnMessage(msg)
	}
}

// FailTransport invokes the handler's error callback.
func (c *MockConn) FailTransport(err error) {
	if c.handler.OnError != nil {
		c.handler.OnError(err)
	}
}

// CloseRemote invokes the handler's close callback.
func (c *MockConn) CloseRemote() {
	if c.handler.OnClose != nil {
		c.handler.OnClose()
	}
}

var _ Dialer = (*MockDialer)(nil)
var _ Conn = (*MockConn)(nil)
