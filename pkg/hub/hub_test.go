package hub

import (
	"encoding/json"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestBroadcastReachesRegisteredClients(t *testing.T) {
	h := New("test")
	go h.Run()
	defer h.Stop()

	client := NewClient(h, nil)
	waitFor(t, func() bool { return h.ClientCount() == 1 }, "client never registered")

	if err := h.BroadcastEvent(KindChatDelta, map[string]string{"delta": "hi"}); err != nil {
		t.Fatalf("broadcast failed: %v", err)
	}

	select {
	case data := <-client.send:
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("bad event payload: %v", err)
		}
		if ev.Kind != KindChatDelta {
			t.Errorf("kind = %q", ev.Kind)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast never delivered")
	}
}

func TestStopDisconnectsClients(t *testing.T) {
	h := New("test")
	go h.Run()

	client := NewClient(h, nil)
	waitFor(t, func() bool { return h.ClientCount() == 1 }, "client never registered")

	h.Stop()

	select {
	case _, ok := <-client.send:
		if ok {
			t.Error("expected closed send channel after stop")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("send channel not closed after stop")
	}
}

func TestNewClientAfterStopDoesNotBlock(t *testing.T) {
	h := New("test")
	go h.Run()
	h.Stop()

	created := make(chan *Client, 1)
	go func() { created <- NewClient(h, nil) }()

	select {
	case client := <-created:
		// The late client's channel is closed so its pumps exit at once.
		if _, ok := <-client.send; ok {
			t.Error("expected closed send channel on a stopped hub")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("NewClient blocked on a stopped hub")
	}
}
