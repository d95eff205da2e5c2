package engine

import (
	"errors"
	"math"
	"testing"
)

func TestRegisterIdempotent(t *testing.T) {
	r := NewRegistry()

	a, err := r.Register(AgentEngineering)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !a.IsActive {
		t.Error("new agent should be active")
	}

	a.Metrics.TasksCompleted = 3
	if err := r.Deactivate(AgentEngineering); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	again, err := r.Register(AgentEngineering)
	if err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if again != a {
		t.Error("re-register should return the same agent")
	}
	if !again.IsActive {
		t.Error("re-register should reactivate")
	}
	if again.Metrics.TasksCompleted != 3 {
		t.Error("re-register must not reset metrics")
	}
}

func TestRegisterUnknownRole(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Register(AgentType("wizard")); !errors.Is(err, ErrUnknownAgent) {
		t.Errorf("expected ErrUnknownAgent, got %v", err)
	}
}

func TestRecordOutcomeAveraging(t *testing.T) {
	r := NewRegistry()
	if _, err := r.Register(AgentTest); err != nil {
		t.Fatalf("register: %v", err)
	}

	for _, d := range []int64{100, 200, 300} {
		if err := r.RecordOutcome(AgentTest, true, d); err != nil {
			t.Fatalf("record outcome: %v", err)
		}
	}
	if err := r.RecordOutcome(AgentTest, false, 400); err != nil {
		t.Fatalf("record outcome: %v", err)
	}

	a, _ := r.Get(AgentTest)
	if a.Metrics.TasksCompleted != 3 || a.Metrics.TasksFailed != 1 {
		t.Errorf("counters = %d/%d, want 3/1", a.Metrics.TasksCompleted, a.Metrics.TasksFailed)
	}
	if math.Abs(a.Metrics.AverageCompletionTimeMs-250) > 1e-9 {
		t.Errorf("average = %v, want 250", a.Metrics.AverageCompletionTimeMs)
	}
	if a.Metrics.SuccessRate() != 0.75 {
		t.Errorf("success rate = %v, want 0.75", a.Metrics.SuccessRate())
	}
}

func TestRecordOutcomeOrderIndependent(t *testing.T) {
	outcomes := []struct {
		success  bool
		duration int64
	}{
		{true, 120}, {false, 80}, {true, 200}, {true, 40},
	}

	forward := NewRegistry()
	forward.Register(AgentQuality)
	for _, o := range outcomes {
		forward.RecordOutcome(AgentQuality, o.success, o.duration)
	}

	reverse := NewRegistry()
	reverse.Register(AgentQuality)
	for i := len(outcomes) - 1; i >= 0; i-- {
		reverse.RecordOutcome(AgentQuality, outcomes[i].success, outcomes[i].duration)
	}

	f, _ := forward.Get(AgentQuality)
	r, _ := reverse.Get(AgentQuality)
	if f.Metrics.SuccessRate() != r.Metrics.SuccessRate() {
		t.Errorf("success rate depends on order: %v vs %v",
			f.Metrics.SuccessRate(), r.Metrics.SuccessRate())
	}
	if math.Abs(f.Metrics.AverageCompletionTimeMs-r.Metrics.AverageCompletionTimeMs) > 1e-9 {
		t.Errorf("average depends on order: %v vs %v",
			f.Metrics.AverageCompletionTimeMs, r.Metrics.AverageCompletionTimeMs)
	}
}

func TestLeastLoaded(t *testing.T) {
	r := NewRegistry()
	a, _ := r.Register(AgentDesign)

	got, ok := r.LeastLoaded(AgentDesign, 1)
	if !ok || got != a {
		t.Fatal("expected the idle agent")
	}

	a.ActiveTasks = 1
	if _, ok := r.LeastLoaded(AgentDesign, 1); ok {
		t.Error("agent at capacity should not be selectable")
	}
	if got, ok := r.LeastLoaded(AgentDesign, 2); !ok || got != a {
		t.Error("higher capacity should make the agent selectable again")
	}

	r.Deactivate(AgentDesign)
	a.ActiveTasks = 0
	if _, ok := r.LeastLoaded(AgentDesign, 1); ok {
		t.Error("inactive agent should not be selectable")
	}
}

func TestRegistryRestoreOrder(t *testing.T) {
	r := NewRegistry()
	r.Register(AgentTest)
	r.Register(AgentBusiness)

	restored := NewRegistry()
	restored.restore(r.Snapshot())

	if len(restored.order) != 2 {
		t.Fatalf("expected 2 restored agents, got %d", len(restored.order))
	}
	// Canonical order, not map iteration order.
	if restored.order[0] != AgentBusiness || restored.order[1] != AgentTest {
		t.Errorf("unexpected restore order: %v", restored.order)
	}
}
