package engine

import (
	"context"
	"fmt"
)

// Snapshot is the complete durable state of the engine at a committed
// tick boundary. It is a pure value: safe to hand to readers, marshal,
// and reload without touching live engine internals.
type Snapshot struct {
	CurrentPhase    int    `json:"current_phase"`
	CompletedPhases []int  `json:"completed_phases"`
	Status          Status `json:"status"`

	StartedAt   Timestamp `json:"started_at"`
	LastUpdated Timestamp `json:"last_updated"`

	Phases      []Phase              `json:"phases"`
	Milestones  map[string]Milestone `json:"milestones"`
	Tasks       []Task               `json:"tasks"`
	Agents      map[AgentType]Agent  `json:"agents"`
	Conflicts   map[string]Conflict  `json:"conflicts"`
	Errors      []ErrorRecord        `json:"errors"`
	Validations map[int]Validation   `json:"validations"`
}

// SnapshotStore persists and reloads snapshots. Implementations live
// outside this package; the engine only requires these two operations.
type SnapshotStore interface {
	// Save durably writes the snapshot, replacing any previous one.
	Save(ctx context.Context, snap Snapshot) error
	// Load returns the most recent saved snapshot.
	Load(ctx context.Context) (Snapshot, error)
}

// Validate checks the structural invariants a loaded snapshot must
// satisfy before the engine will adopt it.
func (s Snapshot) Validate() error {
	if s.CurrentPhase < 0 || s.CurrentPhase > FinalPhase {
		return fmt.Errorf("current phase %d out of range: %w", s.CurrentPhase, ErrInvalidPhase)
	}
	if !s.Status.IsValid() {
		return fmt.Errorf("unknown engine status %q", s.Status)
	}
	prev := -1
	for _, p := range s.CompletedPhases {
		if p <= prev || p >= s.CurrentPhase {
			return fmt.Errorf("completed phases %v not a strictly increasing prefix below phase %d", s.CompletedPhases, s.CurrentPhase)
		}
		prev = p
	}
	for id, m := range s.Milestones {
		if id != m.ID {
			return fmt.Errorf("milestone key %q does not match ID %q", id, m.ID)
		}
		if !m.Status.IsValid() {
			return fmt.Errorf("milestone %q has unknown status %q", id, m.Status)
		}
	}
	seen := make(map[string]bool, len(s.Tasks))
	for _, t := range s.Tasks {
		if t.ID == "" {
			return fmt.Errorf("task with empty ID")
		}
		if seen[t.ID] {
			return fmt.Errorf("duplicate task %q", t.ID)
		}
		seen[t.ID] = true
		if !t.Status.IsValid() {
			return fmt.Errorf("task %q has unknown status %q", t.ID, t.Status)
		}
		if !t.AgentType.IsValid() {
			return fmt.Errorf("task %q has unknown agent type %q", t.ID, t.AgentType)
		}
	}
	for typ, a := range s.Agents {
		if typ != a.Type {
			return fmt.Errorf("agent key %q does not match type %q", typ, a.Type)
		}
		if !typ.IsValid() {
			return fmt.Errorf("unknown agent type %q", typ)
		}
		if a.Metrics.TasksCompleted < 0 || a.Metrics.TasksFailed < 0 {
			return fmt.Errorf("agent %q has negative task counters", typ)
		}
	}
	for id, c := range s.Conflicts {
		if id != c.ID {
			return fmt.Errorf("conflict key %q does not match ID %q", id, c.ID)
		}
		if c.Status != ConflictActive && c.Status != ConflictResolved {
			return fmt.Errorf("conflict %q has unknown status %q", id, c.Status)
		}
	}
	return nil
}
