// Package sse implements a Server-Sent Events broker that tells dashboards
// when a customer's history changed.
package sse

import (
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/bytedance/sonic"
)

// Note event kinds accepted by PublishNoteEvent.
const (
	KindCreated   = "created"
	KindDeleted   = "deleted"
	KindRefreshed = "refreshed"
)

// Event represents an SSE event to broadcast. An empty CustomerID reaches
// every client.
type Event struct {
	Type       string `json:"type"`
	CustomerID string `json:"-"`
	Data       any    `json:"data"`
}

type noteEventReq struct {
	kind       string
	customerID string
	date       string
}

type subscription struct {
	ch         chan []byte
	customerID string
}

// Broker manages SSE client connections and broadcasts events.
//
// A single goroutine owns the client set and the per-customer throttle
// timestamps; public methods talk to it over channels.
type Broker struct {
	timelineMin time.Duration

	subscribeCh   chan subscription
	unsubscribeCh chan chan []byte
	publishCh     chan Event
	noteEventCh   chan noteEventReq
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker that emits at most one timeline.updated event
// per customer per throttle interval.
func NewBroker(timelineThrottle time.Duration) *Broker {
	if timelineThrottle <= 0 {
		timelineThrottle = 2 * time.Second
	}

	b := &Broker{
		timelineMin:   timelineThrottle,
		subscribeCh:   make(chan subscription),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan Event, 256),
		noteEventCh:   make(chan noteEventReq, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]string)
	lastTimeline := make(map[string]time.Time)

	broadcast := func(event Event) {
		payload, err := sonic.Marshal(event.Data)
		if err != nil {
			return
		}
		raw := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, payload))

		for ch, filter := range clients {
			if filter != "" && event.CustomerID != "" && filter != event.CustomerID {
				continue
			}
			select {
			case ch <- raw:
			default:
				// Slow client; drop rather than block the loop.
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case sub := <-b.subscribeCh:
			clients[sub.ch] = sub.customerID

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case event := <-b.publishCh:
			broadcast(event)

		case req := <-b.noteEventCh:
			data := map[string]string{"customerId": req.customerID}
			if req.date != "" {
				data["date"] = req.date
			}
			broadcast(Event{Type: "note." + req.kind, CustomerID: req.customerID, Data: data})

			now := time.Now()
			if now.Sub(lastTimeline[req.customerID]) >= b.timelineMin {
				lastTimeline[req.customerID] = now
				broadcast(Event{
					Type:       "timeline.updated",
					CustomerID: req.customerID,
					Data:       map[string]string{"customerId": req.customerID},
				})
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close stops the broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a client. A non-empty customerID limits it to that
// customer's events plus global ones.
func (b *Broker) Subscribe(customerID string) chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- subscription{ch: ch, customerID: customerID}:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to all matching clients.
func (b *Broker) Publish(event Event) {
	if b.closed.Load() {
		return
	}
	select {
	case b.publishCh <- event:
	case <-b.stopped:
	}
}

// PublishNoteEvent publishes note.<kind> for a customer followed by a
// throttled timeline.updated. date may be empty.
func (b *Broker) PublishNoteEvent(kind, customerID, date string) {
	if b.closed.Load() {
		return
	}
	select {
	case b.noteEventCh <- noteEventReq{kind: kind, customerID: customerID, date: date}:
	case <-b.stopped:
	}
}

// ServeHTTP is the SSE endpoint handler. ?customerId= narrows the stream.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe(r.URL.Query().Get("customerId"))
	defer b.Unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
