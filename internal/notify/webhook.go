package notify

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Webhook posts settlement events to a single configured endpoint.
// Delivery is fire-and-forget; errors are silently ignored.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook creates a webhook sender. An empty url disables delivery.
func NewWebhook(url string, timeout time.Duration) *Webhook {
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Send delivers the event asynchronously.
func (w *Webhook) Send(ev Event) {
	if w.url == "" {
		return
	}
	go w.deliver(ev)
}

func (w *Webhook) deliver(ev Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		return
	}

	req, err := http.NewRequest(http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Delivery-Id", uuid.New().String())
	req.Header.Set("X-Event-Type", ev.Type)

	resp, err := w.client.Do(req)
	if err != nil {
		return
	}
	resp.Body.Close()
}

// Dispatcher fans one event out to the WebSocket hub and the webhook
// endpoint. It satisfies the settlement service's notifier dependency.
type Dispatcher struct {
	hub     *Hub
	webhook *Webhook
}

// NewDispatcher creates a dispatcher. Either sink may be nil.
func NewDispatcher(hub *Hub, webhook *Webhook) *Dispatcher {
	return &Dispatcher{hub: hub, webhook: webhook}
}

// Dispatch broadcasts the event to every sink.
func (d *Dispatcher) Dispatch(eventType string, payload any) {
	ev := Event{
		Type:      eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Data:      payload,
	}
	if d.hub != nil {
		d.hub.Broadcast(ev)
	}
	if d.webhook != nil {
		d.webhook.Send(ev)
	}
}
