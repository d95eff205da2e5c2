package main

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/c360studio/semflow/config"
	"github.com/c360studio/semflow/engine"
	"github.com/c360studio/semflow/events"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Snapshot.Path = filepath.Join(dir, "state.json")
	cfg.Signals.Dir = filepath.Join(dir, "signals")
	return cfg
}

func startApp(t *testing.T) *App {
	t.Helper()
	app := NewApp(testConfig(t), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		t.Fatalf("failed to start app: %v", err)
	}
	t.Cleanup(func() { app.Shutdown(5 * time.Second) })
	return app
}

func TestAppStartStop(t *testing.T) {
	app := startApp(t)

	if app.natsConn == nil {
		t.Error("NATS connection not initialized")
	}
	if app.js == nil {
		t.Error("JetStream not initialized")
	}
	if app.embeddedServer == nil {
		t.Error("Embedded NATS server not started")
	}
	if app.engine == nil {
		t.Error("Engine not started")
	}

	snap := app.Engine().Snapshot()
	if snap.Status != engine.StatusRunning {
		t.Errorf("expected running engine, got %s", snap.Status)
	}
}

func TestAppCommandSurface(t *testing.T) {
	app := startApp(t)

	client, err := NewClient(app.natsURL())
	if err != nil {
		t.Fatalf("connect client: %v", err)
	}
	defer client.Close()

	// Deploy an agent over the wire.
	data, err := client.Call(events.CmdDeploy, deployRequest{AgentType: engine.AgentEngineering})
	if err != nil {
		t.Fatalf("deploy: %v", err)
	}
	var agent engine.Agent
	if err := json.Unmarshal(data, &agent); err != nil {
		t.Fatalf("decode agent: %v", err)
	}
	if agent.Type != engine.AgentEngineering || !agent.IsActive {
		t.Errorf("unexpected agent: %+v", agent)
	}

	// Enqueue a task; the engine dispatches it on the same tick.
	data, err = client.Call(events.CmdEnqueue, enqueueRequest{Task: engine.Task{
		Description: "wire protocol test",
		AgentType:   engine.AgentEngineering,
	}})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	var task engine.Task
	if err := json.Unmarshal(data, &task); err != nil {
		t.Fatalf("decode task: %v", err)
	}
	if task.ID == "" {
		t.Error("expected assigned task ID")
	}

	// Report the result and observe the metrics in the status reply.
	if _, err := client.Call(events.CmdTaskResult, taskResultRequest{
		TaskID:     task.ID,
		Status:     engine.TaskStatusCompleted,
		DurationMs: 42,
	}); err != nil {
		t.Fatalf("task result: %v", err)
	}

	data, err = client.Call(events.CmdStatus, nil)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	var snap engine.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Agents[engine.AgentEngineering].Metrics.TasksCompleted != 1 {
		t.Errorf("expected 1 completed task, got %+v", snap.Agents[engine.AgentEngineering].Metrics)
	}
}

func TestAppCommandErrorsSurface(t *testing.T) {
	app := startApp(t)

	client, err := NewClient(app.natsURL())
	if err != nil {
		t.Fatalf("connect client: %v", err)
	}
	defer client.Close()

	// Advancing with nothing done must fail with a useful message.
	if _, err := client.Call(events.CmdAdvance, nil); err == nil {
		t.Error("expected advance to be refused")
	}

	// Unknown agent role is rejected.
	if _, err := client.Call(events.CmdDeploy, deployRequest{AgentType: "wizard"}); err == nil {
		t.Error("expected deploy of unknown role to fail")
	}
}
