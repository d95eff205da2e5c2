package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"

	"github.com/c360studio/semflow/engine"
)

func TestSubjects(t *testing.T) {
	if got := EventSubject(engine.EventWorkflowPaused); got != "semflow.events.workflow.paused" {
		t.Errorf("event subject = %q", got)
	}
	if got := CommandSubject(CmdConflictResolve); got != "semflow.cmd.conflict.resolve" {
		t.Errorf("command subject = %q", got)
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	ev := engine.ConflictDetectedEvent{
		Timestamp:      engine.Now(),
		ConflictID:     "c-1",
		AgentType:      engine.AgentSecurity,
		Severity:       engine.SeverityHigh,
		Title:          "credential leak",
		AffectedModule: "auth",
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	data, err := json.Marshal(Envelope{
		Event:     ev.EventName(),
		Timestamp: ev.OccurredAt(),
		Payload:   payload,
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if env.Event != engine.EventConflictDetected {
		t.Errorf("event name = %q", env.Event)
	}
	var decoded engine.ConflictDetectedEvent
	if err := json.Unmarshal(env.Payload, &decoded); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if decoded.ConflictID != "c-1" || decoded.AffectedModule != "auth" {
		t.Errorf("payload mangled: %+v", decoded)
	}
}

// memStore is a minimal in-memory snapshot store for wiring tests.
type memStore struct {
	mu   sync.Mutex
	snap *engine.Snapshot
}

func (s *memStore) Save(ctx context.Context, snap engine.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = &snap
	return nil
}

func (s *memStore) Load(ctx context.Context) (engine.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap == nil {
		return engine.Snapshot{}, errors.New("no snapshot")
	}
	return *s.snap, nil
}

// startNATS boots an embedded server and returns a connection to it.
func startNATS(t *testing.T) *nats.Conn {
	t.Helper()
	opts := &server.Options{Port: -1, NoLog: true, NoSigs: true}
	ns, err := server.NewServer(opts)
	if err != nil {
		t.Fatalf("create embedded NATS server: %v", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(5 * time.Second) {
		t.Fatal("embedded NATS server failed to start")
	}
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})

	conn, err := nats.Connect(ns.ClientURL())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(conn.Close)
	return conn
}

func TestBroadcasterRelaysEvents(t *testing.T) {
	conn := startNATS(t)

	received := make(chan Envelope, 16)
	sub, err := conn.Subscribe(EventSubjectPrefix+">", func(msg *nats.Msg) {
		var env Envelope
		if err := json.Unmarshal(msg.Data, &env); err == nil {
			received <- env
		}
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	ctx := context.Background()
	eng, err := engine.New(engine.Options{Store: &memStore{}})
	if err != nil {
		t.Fatalf("create engine: %v", err)
	}
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("start engine: %v", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		_ = eng.Stop(stopCtx)
	}()

	b := NewBroadcaster(conn, nil)
	if err := b.Start(eng); err != nil {
		t.Fatalf("start broadcaster: %v", err)
	}
	defer b.Stop()

	if _, err := eng.ReportConflict(ctx, engine.Conflict{AffectedModule: "auth"}); err != nil {
		t.Fatalf("report conflict: %v", err)
	}

	deadline := time.After(3 * time.Second)
	seen := map[engine.EventName]bool{}
	for !seen[engine.EventConflictDetected] || !seen[engine.EventWorkflowPaused] {
		select {
		case env := <-received:
			seen[env.Event] = true
		case <-deadline:
			t.Fatalf("missing events, saw %v", seen)
		}
	}
}

// A broadcaster started before the engine relays the started event,
// the same order the server wires things up in.
func TestBroadcasterRelaysStartedEvent(t *testing.T) {
	conn := startNATS(t)

	received := make(chan Envelope, 1)
	sub, err := conn.Subscribe(EventSubject(engine.EventStarted), func(msg *nats.Msg) {
		var env Envelope
		if err := json.Unmarshal(msg.Data, &env); err == nil {
			received <- env
		}
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	ctx := context.Background()
	eng, err := engine.New(engine.Options{Store: &memStore{}})
	if err != nil {
		t.Fatalf("create engine: %v", err)
	}

	b := NewBroadcaster(conn, nil)
	if err := b.Start(eng); err != nil {
		t.Fatalf("start broadcaster: %v", err)
	}
	defer b.Stop()

	if err := eng.Start(ctx); err != nil {
		t.Fatalf("start engine: %v", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		_ = eng.Stop(stopCtx)
	}()

	select {
	case env := <-received:
		if env.Event != engine.EventStarted {
			t.Errorf("event = %q, want %q", env.Event, engine.EventStarted)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("started event never relayed")
	}
}
