// Package sse implements a Server-Sent Events broker for live session and
// library updates.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// Event types published by the broker itself.
const (
	TypeGraphUpdated = "graph.updated"
	libraryPrefix    = "library."
)

// SessionParam is the query parameter that narrows a stream to one study session.
const SessionParam = "session"

// Event represents an SSE event to broadcast. Events with a Session only
// reach streams that follow that session or no session at all.
type Event struct {
	Type    string `json:"type"`
	Session string `json:"-"`
	Data    any    `json:"data"`
}

// Subscription is one connected stream.
type Subscription struct {
	C       <-chan []byte
	ch      chan []byte
	session string
}

func (s *Subscription) wants(e Event) bool {
	return s.session == "" || e.Session == "" || e.Session == s.session
}

// libraryChange is a note change. An empty noteID only touches the graph.
type libraryChange struct {
	kind   string
	noteID string
}

// Broker fans events out to SSE streams.
//
// One loop goroutine owns the subscriptions and the graph throttle; the
// public methods only talk to it over channels.
type Broker struct {
	graphEvery time.Duration
	heartbeat  time.Duration
	retry      time.Duration

	join    chan *Subscription
	leave   chan *Subscription
	events  chan Event
	changes chan libraryChange
	counts  chan chan int

	quit    chan struct{}
	done    chan struct{}
	closing atomic.Bool
	seq     atomic.Uint64
}

// Option configures a Broker.
type Option func(*Broker)

// WithHeartbeat sets how often idle streams get a comment line to keep
// proxies from closing them. Zero disables heartbeats.
func WithHeartbeat(d time.Duration) Option {
	return func(b *Broker) { b.heartbeat = d }
}

// WithRetry sets the reconnect delay announced to clients.
func WithRetry(d time.Duration) Option {
	return func(b *Broker) { b.retry = d }
}

// NewBroker creates a broker that sends graph.updated at most once per graphThrottle.
func NewBroker(graphThrottle time.Duration, opts ...Option) *Broker {
	if graphThrottle <= 0 {
		graphThrottle = 2 * time.Second
	}

	b := &Broker{
		graphEvery: graphThrottle,
		heartbeat:  25 * time.Second,
		retry:      3 * time.Second,
		join:       make(chan *Subscription),
		leave:      make(chan *Subscription),
		events:     make(chan Event, 256),
		changes:    make(chan libraryChange, 256),
		counts:     make(chan chan int),
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}

	go b.loop()
	return b
}

func (b *Broker) frame(e Event) ([]byte, error) {
	payload, err := json.Marshal(e.Data)
	if err != nil {
		return nil, err
	}
	return fmt.Appendf(nil, "id: %d\nevent: %s\ndata: %s\n\n", b.seq.Add(1), e.Type, payload), nil
}

func (b *Broker) loop() {
	defer close(b.done)

	subs := make(map[*Subscription]struct{})
	var lastGraph time.Time

	send := func(e Event) {
		raw, err := b.frame(e)
		if err != nil {
			return
		}
		for sub := range subs {
			if !sub.wants(e) {
				continue
			}
			select {
			case sub.ch <- raw:
			default:
				// slow client, drop
			}
		}
	}

	for {
		select {
		case <-b.quit:
			for sub := range subs {
				close(sub.ch)
			}
			return

		case sub := <-b.join:
			subs[sub] = struct{}{}

		case sub := <-b.leave:
			if _, ok := subs[sub]; ok {
				delete(subs, sub)
				close(sub.ch)
			}

		case e := <-b.events:
			send(e)

		case c := <-b.changes:
			if c.noteID != "" {
				send(Event{Type: libraryPrefix + c.kind, Data: map[string]string{"note_id": c.noteID}})
			}
			if now := time.Now(); now.Sub(lastGraph) >= b.graphEvery {
				lastGraph = now
				send(Event{Type: TypeGraphUpdated, Data: map[string]string{}})
			}

		case resp := <-b.counts:
			resp <- len(subs)
		}
	}
}

// Close stops the loop and closes every subscription. It is safe to call twice.
func (b *Broker) Close() {
	if b.closing.CompareAndSwap(false, true) {
		close(b.quit)
	}
	<-b.done
}

// Subscribe adds a stream. A non-empty session limits session events to that
// session. On a closed broker the returned channel is already closed.
func (b *Broker) Subscribe(session string) *Subscription {
	ch := make(chan []byte, 64)
	sub := &Subscription{C: ch, ch: ch, session: session}
	if b.closing.Load() {
		close(ch)
		return sub
	}
	select {
	case b.join <- sub:
	case <-b.done:
		close(ch)
	}
	return sub
}

// Unsubscribe removes a stream and closes its channel.
func (b *Broker) Unsubscribe(sub *Subscription) {
	if b.closing.Load() {
		return
	}
	select {
	case b.leave <- sub:
	case <-b.done:
	}
}

// ClientCount returns the number of connected streams.
func (b *Broker) ClientCount() int {
	if b.closing.Load() {
		return 0
	}
	resp := make(chan int, 1)
	select {
	case b.counts <- resp:
	case <-b.done:
		return 0
	}
	select {
	case n := <-resp:
		return n
	case <-b.done:
		return 0
	}
}

// Publish queues an event for delivery.
func (b *Broker) Publish(event Event) {
	if b.closing.Load() {
		return
	}
	select {
	case b.events <- event:
	case <-b.done:
	}
}

// PublishLibraryEvent publishes library.<kind> for a note and a throttled
// graph.updated. kind is created, updated or deleted.
func (b *Broker) PublishLibraryEvent(kind, noteID string) {
	b.change(libraryChange{kind: kind, noteID: noteID})
}

// PublishGraphChange publishes a throttled graph.updated on its own, for
// link edits that leave notes untouched.
func (b *Broker) PublishGraphChange() {
	b.change(libraryChange{})
}

func (b *Broker) change(c libraryChange) {
	if b.closing.Load() {
		return
	}
	select {
	case b.changes <- c:
	case <-b.done:
	}
}

// ServeHTTP is the SSE endpoint handler (GET /events[?session=<id>]).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	if b.retry > 0 {
		_, _ = fmt.Fprintf(w, "retry: %d\n\n", b.retry.Milliseconds())
	}
	flusher.Flush()

	sub := b.Subscribe(r.URL.Query().Get(SessionParam))
	defer b.Unsubscribe(sub)

	var beat <-chan time.Time
	if b.heartbeat > 0 {
		t := time.NewTicker(b.heartbeat)
		defer t.Stop()
		beat = t.C
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-beat:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-sub.C:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
