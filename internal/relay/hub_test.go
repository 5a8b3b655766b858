package relay

import (
	"sync"
	"testing"
)

type recordingClient struct {
	id   ViewerID
	full bool

	mu   sync.Mutex
	msgs []Message
}

func (c *recordingClient) ID() ViewerID { return c.id }

func (c *recordingClient) Send(msg Message) bool {
	if c.full {
		return false
	}
	c.mu.Lock()
	c.msgs = append(c.msgs, msg)
	c.mu.Unlock()
	return true
}

func TestHub_Broadcast(t *testing.T) {
	hub := NewHub(testLogger())
	a := &recordingClient{id: "a"}
	b := &recordingClient{id: "b"}
	slow := &recordingClient{id: "slow", full: true}
	hub.Register(a)
	hub.Register(b)
	hub.Register(slow)

	if n := hub.Broadcast(EventMediaStopped, nil); n != 2 {
		t.Errorf("Broadcast reached %d viewers, want 2", n)
	}
	for _, c := range []*recordingClient{a, b} {
		if len(c.msgs) != 1 || c.msgs[0].Event != EventMediaStopped {
			t.Errorf("viewer %s got %+v", c.id, c.msgs)
		}
	}
}

func TestHub_Unregister(t *testing.T) {
	hub := NewHub(testLogger())
	a := &recordingClient{id: "a"}
	hub.Register(a)
	hub.Register(&recordingClient{id: "b"})

	hub.Unregister("a")
	hub.Unregister("missing")

	if hub.Count() != 1 {
		t.Errorf("Count = %d, want 1", hub.Count())
	}
	hub.Broadcast(EventMediaStopped, nil)
	if len(a.msgs) != 0 {
		t.Error("unregistered viewer received a broadcast")
	}
}
