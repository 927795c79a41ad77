package feed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/smartstream/internal/identity"
	"github.com/coder/websocket"
)

type fakeSubscriber struct {
	mu     sync.Mutex
	events []Event
	closed bool
}

func (f *fakeSubscriber) Deliver(ev Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *fakeSubscriber) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSubscriber) snapshot() ([]Event, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Event(nil), f.events...), f.closed
}

func TestHubRegister(t *testing.T) {
	h := NewHub(nil)
	sub := &fakeSubscriber{}

	h.Register("user123", "tab-1", sub)

	if got := h.Get("user123", "tab-1"); got != sub {
		t.Errorf("Expected subscriber %v, got %v", sub, got)
	}
}

func TestHubRegisterReplacesExisting(t *testing.T) {
	h := NewHub(nil)
	old, replacement := &fakeSubscriber{}, &fakeSubscriber{}

	h.Register("user123", "tab-1", old)
	h.Register("user123", "tab-1", replacement)

	if _, closed := old.snapshot(); !closed {
		t.Error("replaced subscriber should be closed")
	}
	if h.Get("user123", "tab-1") != replacement {
		t.Error("replacement should be active")
	}
}

func TestHubUnregisterStale(t *testing.T) {
	h := NewHub(nil)
	sub1, sub2 := &fakeSubscriber{}, &fakeSubscriber{}

	h.Register("user123", "tab-1", sub1)
	h.Register("user123", "tab-2", sub2)
	h.Unregister("user123", "tab-1", sub1)
	// Unregistering a subscriber that is no longer current is a no-op.
	h.Unregister("user123", "tab-2", sub1)

	if h.Get("user123", "tab-2") != sub2 {
		t.Error("tab-2 should remain active")
	}
	if h.Count("user123") != 1 {
		t.Errorf("Count() = %d, want 1", h.Count("user123"))
	}
}

func TestHubPublishIsPerUser(t *testing.T) {
	h := NewHub(nil)
	mine, other := &fakeSubscriber{}, &fakeSubscriber{}
	h.Register("me", "tab-1", mine)
	h.Register("you", "tab-1", other)

	h.Publish("me", Text("s1", "hello"))

	got, _ := mine.snapshot()
	if len(got) != 1 || got[0].Content != "hello" || got[0].Type != TypeText {
		t.Errorf("mine received %+v", got)
	}
	if got, _ := other.snapshot(); len(got) != 0 {
		t.Errorf("other user received %+v", got)
	}
}

func TestHubCloseUser(t *testing.T) {
	h := NewHub(nil)
	sub := &fakeSubscriber{}
	h.Register("user123", "tab-1", sub)

	h.CloseUser("user123")
	h.CloseUser("missing")

	if _, closed := sub.snapshot(); !closed {
		t.Error("subscriber should be closed")
	}
	if h.Count("user123") != 0 {
		t.Error("user should have no subscribers")
	}
}

func TestHubConcurrentAccess(t *testing.T) {
	h := NewHub(nil)
	var wg sync.WaitGroup
	wg.Add(3)

	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			h.Register("u", "tab-"+strconv.Itoa(i), &fakeSubscriber{})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			h.Get("u", "tab-"+strconv.Itoa(i))
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			h.Publish("u", Notice("", "n"))
		}
	}()
	wg.Wait()
}

func TestAsyncWriterDropsOldest(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	var sent []string

	send := func(ctx context.Context, ev Event) error {
		select {
		case <-release:
		case <-ctx.Done():
			return ctx.Err()
		}
		mu.Lock()
		sent = append(sent, ev.Content)
		mu.Unlock()
		return nil
	}
	w := NewAsyncWriter(send, "u", 2, nil)
	defer w.Close()

	// The worker picks up "0" and blocks; "1".."3" contend for two slots.
	w.Deliver(Text("", "0"))
	time.Sleep(20 * time.Millisecond)
	for _, c := range []string{"1", "2", "3"} {
		w.Deliver(Text("", c))
	}
	close(release)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(sent)
		mu.Unlock()
		if n == 3 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if strings.Join(sent, ",") != "0,2,3" {
		t.Errorf("sent = %v, want [0 2 3]", sent)
	}
	if w.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", w.Dropped())
	}
}

func TestAsyncWriterCloseIsIdempotent(t *testing.T) {
	w := NewAsyncWriter(func(context.Context, Event) error { return nil }, "u", 0, nil)
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	w.Deliver(Text("", "late"))
}

func withUser(userID string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(identity.WithUserID(r.Context(), userID)))
	})
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return ev
}

func TestHandlerStreamsSnapshotAndEvents(t *testing.T) {
	hub := NewHub(nil)
	h := NewHandler(hub, "", true, nil)
	h.SetSnapshot(func(userID string) []Event {
		return []Event{State("", "idle")}
	})
	srv := httptest.NewServer(withUser("user-1", h))
	defer srv.Close()

	ctx := context.Background()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http")+"?conn_id=tab-1", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.CloseNow()

	if ev := readEvent(t, conn); ev.Type != TypeState || ev.Content != "idle" {
		t.Fatalf("first event = %+v, want state idle", ev)
	}

	deadline := time.Now().Add(2 * time.Second)
	for hub.Count("user-1") == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	hub.Publish("user-1", Text("s1", "the chart shows a spike"))
	ev := readEvent(t, conn)
	if ev.Type != TypeText || ev.Content != "the chart shows a spike" || ev.SessionID != "s1" {
		t.Fatalf("event = %+v", ev)
	}

	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("ping: %v", err)
	}
	if ev := readEvent(t, conn); ev.Type != "pong" {
		t.Fatalf("reply to ping = %+v, want pong", ev)
	}

	_ = conn.Close(websocket.StatusNormalClosure, "")
	deadline = time.Now().Add(2 * time.Second)
	for hub.Count("user-1") != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.Count("user-1") != 0 {
		t.Error("subscriber not unregistered after disconnect")
	}
}

func TestHandlerRejectsForeignOrigin(t *testing.T) {
	h := NewHandler(NewHub(nil), "https://stream.example.com", false, nil)
	srv := httptest.NewServer(withUser("user-1", h))
	defer srv.Close()

	_, resp, err := websocket.Dial(context.Background(), "ws"+strings.TrimPrefix(srv.URL, "http"), &websocket.DialOptions{
		HTTPHeader: http.Header{"Origin": []string{"https://evil.example.com"}},
	})
	if err == nil {
		t.Fatal("dial succeeded, want rejection")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("response = %v, want 403", resp)
	}
}

func TestHandlerRequiresUser(t *testing.T) {
	h := NewHandler(NewHub(nil), "", true, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws/replies", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}
