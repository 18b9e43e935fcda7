package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// drain collects everything buffered on sub within wait.
func drain(sub *Subscription, wait time.Duration) []string {
	var out []string
	timeout := time.After(wait)
	for {
		select {
		case msg, ok := <-sub.C:
			if !ok {
				return out
			}
			out = append(out, string(msg))
		case <-timeout:
			return out
		}
	}
}

func count(msgs []string, substr string) int {
	n := 0
	for _, m := range msgs {
		if strings.Contains(m, substr) {
			n++
		}
	}
	return n
}

// syncRecorder guards the body against the handler goroutine.
type syncRecorder struct {
	mu sync.Mutex
	*httptest.ResponseRecorder
}

func (r *syncRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ResponseRecorder.Write(p)
}

func (r *syncRecorder) body() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Body.String()
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if n := b.ClientCount(); n != 0 {
		t.Fatalf("clients = %d, want 0", n)
	}
	sub := b.Subscribe("")
	if n := b.ClientCount(); n != 1 {
		t.Fatalf("clients = %d, want 1", n)
	}
	b.Unsubscribe(sub)
	if n := b.ClientCount(); n != 0 {
		t.Fatalf("clients = %d after unsubscribe, want 0", n)
	}
	if _, ok := <-sub.C; ok {
		t.Error("channel open after unsubscribe")
	}
}

func TestPublishFrame(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	sub := b.Subscribe("")
	defer b.Unsubscribe(sub)

	b.Publish(Event{Type: "session.advanced", Session: "s1", Data: map[string]any{"session_id": "s1", "index": 1}})
	b.Publish(Event{Type: "session.tick", Session: "s1", Data: map[string]int{"remaining_seconds": 3}})

	msgs := drain(sub, 100*time.Millisecond)
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2: %q", len(msgs), msgs)
	}
	first := msgs[0]
	if !strings.HasPrefix(first, "id: 1\nevent: session.advanced\ndata: ") || !strings.HasSuffix(first, "\n\n") {
		t.Errorf("bad frame %q", first)
	}
	if !strings.Contains(first, `"session_id":"s1"`) {
		t.Errorf("missing data in %q", first)
	}
	if !strings.HasPrefix(msgs[1], "id: 2\n") {
		t.Errorf("ids not increasing: %q", msgs[1])
	}
}

func TestSessionFilter(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()
	mine := b.Subscribe("s1")
	defer b.Unsubscribe(mine)
	all := b.Subscribe("")
	defer b.Unsubscribe(all)

	b.Publish(Event{Type: "session.tick", Session: "s1", Data: 1})
	b.Publish(Event{Type: "session.tick", Session: "s2", Data: 2})
	b.PublishLibraryEvent("updated", "bio/cells")

	got := drain(mine, 100*time.Millisecond)
	if count(got, "session.tick") != 1 || count(got, "data: 2") != 0 {
		t.Errorf("s1 stream = %q", got)
	}
	if count(got, "library.updated") != 1 || count(got, "graph.updated") != 1 {
		t.Errorf("s1 stream missed library events: %q", got)
	}

	if got := drain(all, 100*time.Millisecond); count(got, "session.tick") != 2 {
		t.Errorf("unfiltered stream = %q", got)
	}
}

func TestLibraryEventsThrottleGraph(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	sub := b.Subscribe("")
	defer b.Unsubscribe(sub)

	b.PublishLibraryEvent("created", "bio/cells")
	b.PublishLibraryEvent("updated", "bio/dna")

	msgs := drain(sub, 100*time.Millisecond)
	if n := count(msgs, `"note_id":"bio/`); n != 2 {
		t.Errorf("note events = %d, want 2", n)
	}
	if count(msgs, "event: library.created") != 1 || count(msgs, "event: library.updated") != 1 {
		t.Errorf("library kinds wrong: %q", msgs)
	}
	if n := count(msgs, "graph.updated"); n != 1 {
		t.Errorf("graph events = %d, want 1", n)
	}
}

func TestGraphChangeWithoutNote(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()
	sub := b.Subscribe("")
	defer b.Unsubscribe(sub)

	b.PublishGraphChange()
	b.PublishGraphChange()

	msgs := drain(sub, 100*time.Millisecond)
	if len(msgs) != 1 || !strings.Contains(msgs[0], "event: graph.updated") {
		t.Errorf("msgs = %q, want one graph.updated", msgs)
	}
}

func TestSlowClientDoesNotBlock(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	sub := b.Subscribe("")
	defer b.Unsubscribe(sub)

	for i := 0; i < 100; i++ {
		b.Publish(Event{Type: "session.tick", Data: i})
	}
	// The loop must still answer after dropping the overflow.
	if n := b.ClientCount(); n != 1 {
		t.Errorf("clients = %d, want 1", n)
	}
}

func TestHandlerStreamsSession(t *testing.T) {
	b := NewBroker(time.Hour, WithHeartbeat(0), WithRetry(time.Second))
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/events?"+SessionParam+"=s1", nil).WithContext(ctx)
	w := &syncRecorder{ResponseRecorder: httptest.NewRecorder()}

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for b.ClientCount() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	b.Publish(Event{Type: "session.completed", Session: "s1", Data: map[string]string{"phase": "completed"}})
	b.Publish(Event{Type: "session.tick", Session: "other", Data: 1})
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	body := w.body()
	if !strings.HasPrefix(body, "retry: 1000\n\n") {
		t.Errorf("missing retry hint: %q", body)
	}
	if !strings.Contains(body, "event: session.completed") || strings.Contains(body, "session.tick") {
		t.Errorf("body = %q", body)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	deadline = time.Now().Add(time.Second)
	for b.ClientCount() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if n := b.ClientCount(); n != 0 {
		t.Errorf("clients = %d after disconnect, want 0", n)
	}
}

func TestHeartbeat(t *testing.T) {
	b := NewBroker(time.Second, WithHeartbeat(10*time.Millisecond))
	defer b.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	b.ServeHTTP(w, req)

	if !strings.Contains(w.Body.String(), ": ping") {
		t.Errorf("no heartbeat in %q", w.Body.String())
	}
}

func TestCloseIsFinal(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	sub := b.Subscribe("")

	b.Close()
	b.Close()

	select {
	case _, ok := <-sub.C:
		if ok {
			t.Fatal("subscription still open after Close")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for close")
	}
	if n := b.ClientCount(); n != 0 {
		t.Fatalf("clients = %d after close", n)
	}
	if _, ok := <-b.Subscribe("").C; ok {
		t.Error("subscribe after close returned an open channel")
	}

	b.Publish(Event{Type: "session.tick", Data: 1})
	b.PublishLibraryEvent("updated", "bio/cells")
	b.PublishGraphChange()
	b.Unsubscribe(sub)
}
