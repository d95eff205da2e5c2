package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/c360studio/semflow/engine"
)

// Envelope is the wire frame for every broadcast event. Payload is the
// fully-typed event struct; Event names its variant so consumers can
// decode without sniffing fields.
type Envelope struct {
	Event     engine.EventName `json:"event"`
	Timestamp engine.Timestamp `json:"timestamp"`
	Payload   json.RawMessage  `json:"payload"`
}

// Broadcaster subscribes to an engine's event stream and republishes
// each event on its NATS subject. Publish failures are logged and
// skipped; the event stream must never stall the engine.
type Broadcaster struct {
	conn *nats.Conn
	log  *slog.Logger

	mu     sync.Mutex
	cancel func()
	done   chan struct{}
}

// NewBroadcaster creates a broadcaster over an established connection.
func NewBroadcaster(conn *nats.Conn, log *slog.Logger) *Broadcaster {
	if log == nil {
		log = slog.Default()
	}
	return &Broadcaster{conn: conn, log: log}
}

// Start subscribes to the engine and relays events until Stop is
// called or the engine closes the subscription.
func (b *Broadcaster) Start(eng *engine.Engine) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cancel != nil {
		return fmt.Errorf("broadcaster already started")
	}
	ch, cancel := eng.Subscribe()
	b.cancel = cancel
	b.done = make(chan struct{})
	go b.relay(ch)
	return nil
}

// Stop unsubscribes from the engine and waits for the relay goroutine
// to drain.
func (b *Broadcaster) Stop() {
	b.mu.Lock()
	cancel, done := b.cancel, b.done
	b.cancel = nil
	b.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (b *Broadcaster) relay(ch <-chan engine.Event) {
	defer close(b.done)
	for ev := range ch {
		if err := b.publish(ev); err != nil {
			b.log.Warn("event publish failed",
				"event", string(ev.EventName()),
				"error", err)
		}
	}
}

func (b *Broadcaster) publish(ev engine.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	data, err := json.Marshal(Envelope{
		Event:     ev.EventName(),
		Timestamp: ev.OccurredAt(),
		Payload:   payload,
	})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := b.conn.Publish(EventSubject(ev.EventName()), data); err != nil {
		return fmt.Errorf("publish %s: %w", EventSubject(ev.EventName()), err)
	}
	return nil
}
