package engine

import (
	"reflect"
	"testing"
	"time"
)

func sampleSnapshot() Snapshot {
	phases, milestoneList := DefaultPhases()
	milestones := make(map[string]Milestone, len(milestoneList))
	for _, m := range milestoneList {
		milestones[m.ID] = m
	}
	m := milestones["plan-requirements"]
	m.Status = MilestoneCompleted
	milestones[m.ID] = m

	started := At(time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC))
	return Snapshot{
		CurrentPhase:    1,
		CompletedPhases: []int{0},
		Status:          StatusRunning,
		StartedAt:       started,
		LastUpdated:     started,
		Phases:          phases,
		Milestones:      milestones,
		Tasks: []Task{
			{ID: "t1", AgentType: AgentEngineering, Status: TaskStatusCompleted},
			{ID: "t2", AgentType: AgentEngineering, Status: TaskStatusActive},
			{ID: "t3", AgentType: AgentTest, Status: TaskStatusPending},
		},
		Agents: map[AgentType]Agent{
			AgentTest:        {Type: AgentTest, IsActive: true},
			AgentEngineering: {Type: AgentEngineering, IsActive: true, Metrics: Metrics{TasksCompleted: 1}},
		},
		Conflicts: map[string]Conflict{
			"c2": {ID: "c2", Status: ConflictActive, DetectedAt: At(started.Add(2 * time.Minute))},
			"c1": {ID: "c1", Status: ConflictActive, DetectedAt: At(started.Add(time.Minute))},
			"c0": {ID: "c0", Status: ConflictResolved, DetectedAt: started},
		},
		Validations: map[int]Validation{0: {Phase: 0, Passed: true}},
	}
}

func TestProjectSummaries(t *testing.T) {
	now := At(time.Date(2026, 5, 1, 11, 0, 0, 0, time.UTC))
	v := Project(sampleSnapshot(), now)

	if v.PhaseName != "design" {
		t.Errorf("phase name = %q, want design", v.PhaseName)
	}
	if v.OverallProgress != 1.0/6.0 {
		t.Errorf("overall progress = %v", v.OverallProgress)
	}
	if v.UptimeMs != time.Hour.Milliseconds() {
		t.Errorf("uptime = %d", v.UptimeMs)
	}

	want := TaskSummary{Pending: 1, Active: 1, Completed: 1, Total: 3}
	if v.Tasks != want {
		t.Errorf("task summary = %+v, want %+v", v.Tasks, want)
	}

	// Phase 0 had one of two milestones completed.
	if v.Phases[0].Progress != 0.5 {
		t.Errorf("phase 0 progress = %v", v.Phases[0].Progress)
	}
	if !v.Phases[0].Validated {
		t.Error("phase 0 should show validated")
	}
	if !v.Phases[1].Current {
		t.Error("phase 1 should be current")
	}
}

func TestProjectConflictsActiveOldestFirst(t *testing.T) {
	v := Project(sampleSnapshot(), Now())
	if len(v.Conflicts) != 2 {
		t.Fatalf("expected 2 active conflicts, got %d", len(v.Conflicts))
	}
	if v.Conflicts[0].ID != "c1" || v.Conflicts[1].ID != "c2" {
		t.Errorf("unexpected conflict order: %s, %s", v.Conflicts[0].ID, v.Conflicts[1].ID)
	}
}

func TestProjectAgentsCanonicalOrder(t *testing.T) {
	v := Project(sampleSnapshot(), Now())
	if len(v.Agents) != 2 {
		t.Fatalf("expected 2 agents, got %d", len(v.Agents))
	}
	if v.Agents[0].Type != AgentEngineering || v.Agents[1].Type != AgentTest {
		t.Errorf("unexpected agent order: %s, %s", v.Agents[0].Type, v.Agents[1].Type)
	}
	if v.Agents[0].SuccessRate != 1 {
		t.Errorf("success rate = %v", v.Agents[0].SuccessRate)
	}
}

func TestProjectDeterministic(t *testing.T) {
	snap := sampleSnapshot()
	now := Now()
	a := Project(snap, now)
	b := Project(snap, now)
	if !reflect.DeepEqual(a, b) {
		t.Error("same snapshot must project to the same view")
	}
}

func TestProjectDoesNotMutateSnapshot(t *testing.T) {
	snap := sampleSnapshot()
	before := len(snap.Conflicts)
	_ = Project(snap, Now())
	if len(snap.Conflicts) != before {
		t.Error("projection mutated the snapshot")
	}
	if snap.Milestones["plan-requirements"].Status != MilestoneCompleted {
		t.Error("projection mutated milestone status")
	}
}
