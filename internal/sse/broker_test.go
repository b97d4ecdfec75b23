package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func drain(ch chan []byte) []string {
	var out []string
	for {
		select {
		case msg := <-ch:
			out = append(out, string(msg))
		default:
			return out
		}
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe("")
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestPublishDelivery(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe("")
	defer b.Unsubscribe(ch)

	b.Publish(Event{Type: "note.created", Data: map[string]string{"customerId": "c1"}})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "event: note.created") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"customerId":"c1"`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestCustomerFilter(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	mine := b.Subscribe("c1")
	defer b.Unsubscribe(mine)

	b.PublishNoteEvent(KindCreated, "c2", "2025-01-01")
	b.PublishNoteEvent(KindCreated, "c1", "2025-01-01")
	b.Publish(Event{Type: "system.notice", Data: map[string]string{}})

	time.Sleep(50 * time.Millisecond)
	msgs := drain(mine)
	for _, m := range msgs {
		if strings.Contains(m, `"customerId":"c2"`) {
			t.Errorf("received foreign customer event: %q", m)
		}
	}
	// note.created + timeline.updated for c1, plus the global notice.
	if len(msgs) != 3 {
		t.Errorf("got %d messages, want 3: %v", len(msgs), msgs)
	}
}

func TestPublishNoteEvent_TimelineThrottle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe("")
	defer b.Unsubscribe(ch)

	b.PublishNoteEvent(KindCreated, "c1", "2025-01-01")
	b.PublishNoteEvent(KindDeleted, "c1", "2025-01-01")
	b.PublishNoteEvent(KindRefreshed, "c2", "")

	time.Sleep(50 * time.Millisecond)
	timeline, notes := 0, 0
	for _, s := range drain(ch) {
		if strings.Contains(s, "timeline.updated") {
			timeline++
		} else {
			notes++
		}
	}
	if notes != 3 {
		t.Errorf("note events = %d, want 3", notes)
	}
	if timeline != 2 {
		t.Errorf("timeline events = %d, want 2 (one per customer)", timeline)
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events?customerId=c1", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client from handler")
	}

	b.PublishNoteEvent(KindDeleted, "c1", "2025-01-02")
	time.Sleep(50 * time.Millisecond)

	cancel()
	<-done

	if body := w.Body.String(); !strings.Contains(body, "event: note.deleted") {
		t.Errorf("handler output missing event: %q", body)
	}

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe("")
	defer b.Unsubscribe(ch)

	for i := 0; i < 70; i++ {
		b.Publish(Event{Type: "test", Data: map[string]string{"i": "x"}})
	}
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe("")
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	b.Publish(Event{Type: "note.created"})
	b.PublishNoteEvent(KindCreated, "c1", "")
}
