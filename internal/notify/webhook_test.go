package notify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestWebhook_DeliversEvent(t *testing.T) {
	received := make(chan Event, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("missing json content type")
		}
		if r.Header.Get("X-Delivery-Id") == "" {
			t.Errorf("missing delivery id")
		}
		if r.Header.Get("X-Event-Type") != "settled" {
			t.Errorf("event type header = %q", r.Header.Get("X-Event-Type"))
		}
		var ev Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
			t.Errorf("decode: %v", err)
		}
		received <- ev
	}))
	defer srv.Close()

	wh := NewWebhook(srv.URL, 2*time.Second)
	wh.Send(Event{Type: "settled", Timestamp: time.Now().UTC().Format(time.RFC3339), Data: map[string]string{"id": "r1"}})

	select {
	case ev := <-received:
		if ev.Type != "settled" {
			t.Errorf("delivered type = %q", ev.Type)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("webhook was not delivered")
	}
}

func TestWebhook_DisabledWithoutURL(t *testing.T) {
	wh := NewWebhook("", time.Second)
	// Must not panic or block.
	wh.Send(Event{Type: "settled"})
}

func TestDispatcher_FansOut(t *testing.T) {
	received := make(chan Event, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev Event
		json.NewDecoder(r.Body).Decode(&ev)
		received <- ev
	}))
	defer srv.Close()

	d := NewDispatcher(nil, NewWebhook(srv.URL, 2*time.Second))
	d.Dispatch("hold_created", map[string]string{"id": "h1"})

	select {
	case ev := <-received:
		if ev.Type != "hold_created" {
			t.Errorf("delivered type = %q", ev.Type)
		}
		if ev.Timestamp == "" {
			t.Error("dispatcher should stamp events")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not reach the webhook sink")
	}
}
