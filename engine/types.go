// Package engine implements the phase-gated orchestrator engine: a
// single-writer workflow state machine that coordinates logical agent
// roles across six pipeline phases, tracks per-agent performance
// metrics, and pauses all autonomous progress while a blocking
// conflict is open.
package engine

import (
	"encoding/json"
	"fmt"
	"time"
)

// Status represents the engine's run state.
type Status string

const (
	// StatusRunning indicates the engine is accepting commands and
	// dispatching work.
	StatusRunning Status = "running"
	// StatusPaused indicates at least one conflict is active; no new
	// dispatch happens and phase transitions are refused.
	StatusPaused Status = "paused"
	// StatusStopped indicates the engine has shut down.
	StatusStopped Status = "stopped"
)

// IsValid returns true if the status is a known engine status.
func (s Status) IsValid() bool {
	switch s {
	case StatusRunning, StatusPaused, StatusStopped:
		return true
	default:
		return false
	}
}

// AgentType identifies a logical worker role.
type AgentType string

// The fixed enumeration of agent roles.
const (
	AgentBusiness    AgentType = "business"
	AgentQuality     AgentType = "quality"
	AgentSecurity    AgentType = "security"
	AgentEngineering AgentType = "engineering"
	AgentProduct     AgentType = "product"
	AgentDesign      AgentType = "design"
	AgentTest        AgentType = "test"
	AgentIntegration AgentType = "integration"
)

// AgentTypes lists all known roles in registration order.
var AgentTypes = []AgentType{
	AgentBusiness, AgentQuality, AgentSecurity, AgentEngineering,
	AgentProduct, AgentDesign, AgentTest, AgentIntegration,
}

// IsValid returns true if the agent type is a known role.
func (a AgentType) IsValid() bool {
	for _, t := range AgentTypes {
		if a == t {
			return true
		}
	}
	return false
}

// TaskStatus represents the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusActive    TaskStatus = "active"
	TaskStatusWaiting   TaskStatus = "waiting"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// IsValid returns true if the status is a known task status.
func (s TaskStatus) IsValid() bool {
	switch s {
	case TaskStatusPending, TaskStatusActive, TaskStatusWaiting,
		TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further transitions are possible.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// CanTransitionTo returns true if the status may transition to target.
func (s TaskStatus) CanTransitionTo(target TaskStatus) bool {
	switch s {
	case TaskStatusPending:
		return target == TaskStatusActive || target == TaskStatusWaiting
	case TaskStatusWaiting:
		return target == TaskStatusActive || target == TaskStatusPending
	case TaskStatusActive:
		return target == TaskStatusCompleted || target == TaskStatusFailed
	default:
		return false
	}
}

// MilestoneStatus represents the completion state of a milestone.
type MilestoneStatus string

const (
	MilestonePending    MilestoneStatus = "pending"
	MilestoneInProgress MilestoneStatus = "in_progress"
	MilestoneCompleted  MilestoneStatus = "completed"
	MilestoneFailed     MilestoneStatus = "failed"
)

// IsValid returns true if the status is a known milestone status.
func (s MilestoneStatus) IsValid() bool {
	switch s {
	case MilestonePending, MilestoneInProgress, MilestoneCompleted, MilestoneFailed:
		return true
	default:
		return false
	}
}

// Severity grades a conflict for display and prioritization. It does
// not change pause semantics: any active conflict pauses the engine.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IsValid returns true if the severity is a known grade.
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

// ConflictStatus represents the resolution state of a conflict.
type ConflictStatus string

const (
	ConflictActive   ConflictStatus = "active"
	ConflictResolved ConflictStatus = "resolved"
)

// timestampTag is the type tag written with every persisted timestamp
// so a stored value can never be silently reinterpreted as a plain
// string on load.
const timestampTag = "timestamp"

// Timestamp wraps time.Time with a tagged JSON encoding that
// round-trips exactly (RFC 3339 with nanoseconds, original location
// offset preserved).
type Timestamp struct {
	time.Time
}

// Now returns the current time as a Timestamp.
func Now() Timestamp {
	return Timestamp{time.Now()}
}

// At wraps an existing time.Time.
func At(t time.Time) Timestamp {
	return Timestamp{t}
}

type taggedTime struct {
	Type  string `json:"$type"`
	Value string `json:"value"`
}

// MarshalJSON encodes the timestamp as {"$type":"timestamp","value":...}.
// The zero value encodes as null.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(taggedTime{
		Type:  timestampTag,
		Value: t.Format(time.RFC3339Nano),
	})
}

// UnmarshalJSON decodes a tagged timestamp, rejecting untagged or
// mistyped values.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		t.Time = time.Time{}
		return nil
	}
	var tagged taggedTime
	if err := json.Unmarshal(data, &tagged); err != nil {
		return fmt.Errorf("parse tagged timestamp: %w", err)
	}
	if tagged.Type != timestampTag {
		return fmt.Errorf("unexpected timestamp tag %q", tagged.Type)
	}
	parsed, err := time.Parse(time.RFC3339Nano, tagged.Value)
	if err != nil {
		return fmt.Errorf("parse timestamp value: %w", err)
	}
	t.Time = parsed
	return nil
}

// WorkflowState is the authoritative position of the engine in the
// pipeline. It is owned by the facade and mutated only inside a tick.
type WorkflowState struct {
	// CurrentPhase is the phase the workflow currently occupies (0-5).
	CurrentPhase int `json:"current_phase"`

	// CompletedPhases lists finished phases in completion order. It is
	// always a strictly increasing prefix of the phases below
	// CurrentPhase.
	CompletedPhases []int `json:"completed_phases"`

	// Status is the engine run state.
	Status Status `json:"status"`

	// StartedAt is when the engine started.
	StartedAt Timestamp `json:"started_at"`

	// LastUpdated is when the last committed tick changed state.
	LastUpdated Timestamp `json:"last_updated"`
}

// Phase is an immutable pipeline stage definition.
type Phase struct {
	// ID is the phase index (0-5).
	ID int `json:"id"`

	// Name is the human-readable phase name.
	Name string `json:"name"`

	// Milestones lists the IDs of the milestones this phase owns, in
	// order.
	Milestones []string `json:"milestones"`
}

// Milestone is a named completion checkpoint owned by exactly one phase.
type Milestone struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Phase  int             `json:"phase"`
	Status MilestoneStatus `json:"status"`
}

// Task is a unit of work assigned to an agent role.
type Task struct {
	// ID uniquely identifies the task.
	ID string `json:"id"`

	// Description is the human-readable work description.
	Description string `json:"description"`

	// AgentType is the role required to execute the task.
	AgentType AgentType `json:"agent_type"`

	// MilestoneID is the milestone this task contributes to, if any.
	MilestoneID string `json:"milestone_id,omitempty"`

	// Status is the task lifecycle state.
	Status TaskStatus `json:"status"`

	// DependsOn lists task IDs that must be completed before this task
	// may leave pending.
	DependsOn []string `json:"depends_on,omitempty"`

	// CreatedAt is when the task was enqueued.
	CreatedAt Timestamp `json:"created_at"`

	// CompletedAt is when the task reached a terminal state.
	CompletedAt *Timestamp `json:"completed_at,omitempty"`
}

// Metrics aggregates per-agent performance counters. SuccessRate is
// always recomputed from the two counters and never stored in a way
// that can drift.
type Metrics struct {
	TasksCompleted          int64   `json:"tasks_completed"`
	TasksFailed             int64   `json:"tasks_failed"`
	AverageCompletionTimeMs float64 `json:"average_completion_time_ms"`
}

// SuccessRate returns completed/(completed+failed) clamped to [0,1],
// or 0 when no tasks have finished yet.
func (m Metrics) SuccessRate() float64 {
	total := m.TasksCompleted + m.TasksFailed
	if total == 0 {
		return 0
	}
	rate := float64(m.TasksCompleted) / float64(total)
	if rate < 0 {
		return 0
	}
	if rate > 1 {
		return 1
	}
	return rate
}

// Agent is a registered logical worker role with aggregated metrics.
type Agent struct {
	Type     AgentType `json:"type"`
	IsActive bool      `json:"is_active"`
	Metrics  Metrics   `json:"metrics"`

	// ActiveTasks counts tasks currently dispatched to this agent.
	ActiveTasks int `json:"active_tasks"`
}

// Conflict is a detected blocking issue. While any conflict is active
// the engine performs no new dispatch and refuses phase transitions.
type Conflict struct {
	ID             string         `json:"id"`
	AgentType      AgentType      `json:"agent_type"`
	Severity       Severity       `json:"severity"`
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	Recommendation string         `json:"recommendation"`
	AffectedModule string         `json:"affected_module"`
	DetectedAt     Timestamp      `json:"detected_at"`
	Status         ConflictStatus `json:"status"`
	ResolvedAt     *Timestamp     `json:"resolved_at,omitempty"`
}

// ErrorRecord is an append-only audit log entry. Records are never
// mutated after creation.
type ErrorRecord struct {
	Severity  Severity  `json:"severity"`
	Phase     int       `json:"phase"`
	Message   string    `json:"message"`
	Timestamp Timestamp `json:"timestamp"`
}

// Validation records the most recent external validation signal for a
// phase (for example, that the phase's test suite reported success).
type Validation struct {
	Phase      int       `json:"phase"`
	Passed     bool      `json:"passed"`
	ReportedAt Timestamp `json:"reported_at"`
}
