package handlers

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"estatehub/models"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(nil, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(cancel)
	return h
}

// nextOfType reads frames from c until one of type typ arrives
func nextOfType(t *testing.T, c *Client, typ models.EventType) models.WebSocketMessage {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case data, ok := <-c.Send:
			if !ok {
				t.Fatalf("session %s closed while waiting for %s", c.ID, typ)
			}
			var msg models.WebSocketMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				t.Fatalf("unmarshal frame: %v", err)
			}
			if msg.Type == typ {
				return msg
			}
		case <-deadline:
			t.Fatalf("session %s got no %s frame", c.ID, typ)
		}
	}
}

// countOfType drains c for a short while and counts frames of type typ
func countOfType(t *testing.T, c *Client, typ models.EventType) int {
	t.Helper()
	n := 0
	for {
		select {
		case data, ok := <-c.Send:
			if !ok {
				return n
			}
			var msg models.WebSocketMessage
			if err := json.Unmarshal(data, &msg); err == nil && msg.Type == typ {
				n++
			}
		case <-time.After(100 * time.Millisecond):
			return n
		}
	}
}

func TestHubDeliversToEverySessionOfAUser(t *testing.T) {
	h := startHub(t)
	phone := NewClient("alice", nil)
	laptop := NewClient("alice", nil)
	other := NewClient("bob", nil)
	for _, c := range []*Client{phone, laptop, other} {
		h.Register(c)
	}
	if phone.ID == laptop.ID {
		t.Fatal("sessions share an id")
	}
	// Bob's announcement reaches alice only after his registration completes.
	nextOfType(t, phone, models.EventOnlineStatus)

	h.SendToUsers([]string{"alice", "alice"}, models.OutboundMessage{Type: models.EventReceiveMessage, Payload: "hi"})

	for _, c := range []*Client{phone, laptop} {
		nextOfType(t, c, models.EventReceiveMessage)
		if n := countOfType(t, c, models.EventReceiveMessage); n != 0 {
			t.Errorf("session %s got %d duplicate frames", c.ID, n)
		}
	}
	if n := countOfType(t, other, models.EventReceiveMessage); n != 0 {
		t.Error("frame leaked to a non-recipient")
	}
}

func TestHubPresence(t *testing.T) {
	h := startHub(t)
	a1 := NewClient("alice", nil)
	a2 := NewClient("alice", nil)
	watcher := NewClient("bob", nil)
	h.Register(watcher)
	h.Register(a1)
	h.Register(a2)

	nextOfType(t, watcher, models.EventOnlineStatus)
	if !h.IsUserOnline("alice") {
		t.Fatal("alice should be online")
	}

	h.Unregister(a1)
	if _, ok := <-a1.Send; ok {
		t.Error("unregistered session channel should be closed")
	}
	if !h.IsUserOnline("alice") {
		t.Error("alice still has a session")
	}

	h.Unregister(a2)
	got := nextOfType(t, watcher, models.EventOnlineStatus)
	var status models.OnlineStatus
	if err := json.Unmarshal(got.Payload, &status); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if status.Online || status.UserID != "alice" {
		t.Errorf("watcher got %+v, want alice offline", status)
	}
	if h.IsUserOnline("alice") {
		t.Error("alice should be offline")
	}
}

type fakePresence struct {
	mu        sync.Mutex
	online    map[string]bool
	joins     map[string]int
	refreshes int
}

func newFakePresence() *fakePresence {
	return &fakePresence{online: make(map[string]bool), joins: make(map[string]int)}
}

func (p *fakePresence) Join(_ context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online[userID] = true
	p.joins[userID]++
	return nil
}

func (p *fakePresence) Leave(_ context.Context, userID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.online, userID)
	return nil
}

func (p *fakePresence) Refresh(_ context.Context, userIDs []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range userIDs {
		p.online[id] = true
	}
	p.refreshes++
	return nil
}

func (p *fakePresence) Online(_ context.Context, userID string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online[userID], nil
}

func (p *fakePresence) snapshot() (online map[string]bool, joins map[string]int, refreshes int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	online = make(map[string]bool, len(p.online))
	for k, v := range p.online {
		online[k] = v
	}
	joins = make(map[string]int, len(p.joins))
	for k, v := range p.joins {
		joins[k] = v
	}
	return online, joins, p.refreshes
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubSharedPresenceLifecycle(t *testing.T) {
	h := NewHub(nil, zaptest.NewLogger(t))
	shared := newFakePresence()
	h.presence = shared
	h.heartbeat = 10 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	a1 := NewClient("alice", nil)
	a2 := NewClient("alice", nil)
	b := NewClient("bob", nil)
	for _, c := range []*Client{a1, a2, b} {
		h.Register(c)
	}

	eventually(t, "heartbeat", func() bool {
		online, _, refreshes := shared.snapshot()
		return refreshes >= 2 && online["alice"] && online["bob"]
	})
	if _, joins, _ := shared.snapshot(); joins["alice"] != 1 {
		t.Errorf("alice joined %d times, want once for two sessions", joins["alice"])
	}

	h.Unregister(a1)
	if online, _, _ := shared.snapshot(); !online["alice"] {
		t.Error("alice released while a session remains")
	}

	// A user connected to another instance is only in the shared record.
	shared.Join(context.Background(), "carol")
	if !h.IsUserOnline("carol") {
		t.Error("carol should be online through the shared record")
	}
	shared.Leave(context.Background(), "carol")

	cancel()
	<-h.done
	online, _, _ := shared.snapshot()
	if len(online) != 0 {
		t.Errorf("shutdown left presence claims %v", online)
	}
	if h.IsUserOnline("alice") || h.IsUserOnline("bob") {
		t.Error("users still reported online after shutdown")
	}
}
