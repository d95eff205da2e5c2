package engine

// EventName identifies an outbound event variant. The set is closed:
// every event the engine emits is one of the variants below with a
// fixed, fully-typed payload.
type EventName string

const (
	EventStarted          EventName = "started"
	EventStopped          EventName = "stopped"
	EventDashboardUpdate  EventName = "dashboard-update"
	EventAgentStarted     EventName = "agent.started"
	EventAgentProgress    EventName = "agent.progress"
	EventAgentCompleted   EventName = "agent.completed"
	EventAgentError       EventName = "agent.error"
	EventConflictDetected EventName = "agent.conflict_detected"
	EventWorkflowPaused   EventName = "workflow.paused"
	EventWorkflowResumed  EventName = "workflow.resume"
)

// Event is an outbound message emitted by the tick loop for relay by
// the broadcast layer. Implementations are the closed variant set in
// this file.
type Event interface {
	// EventName returns the wire name of the variant.
	EventName() EventName
	// OccurredAt returns when the event was emitted.
	OccurredAt() Timestamp
}

// StartedEvent signals the engine has started.
type StartedEvent struct {
	Timestamp Timestamp `json:"timestamp"`
}

// StoppedEvent signals the engine has stopped.
type StoppedEvent struct {
	Timestamp Timestamp `json:"timestamp"`
}

// DashboardUpdateEvent carries the projector view after any committed
// tick that changed state.
type DashboardUpdateEvent struct {
	Timestamp Timestamp `json:"timestamp"`
	View      View      `json:"view"`
}

// AgentActivityEvent is the shared payload shape of the agent.*
// lifecycle variants.
type AgentActivityEvent struct {
	Timestamp Timestamp `json:"timestamp"`
	AgentType AgentType `json:"agent_type"`
	TaskID    string    `json:"task_id,omitempty"`
	Message   string    `json:"message"`
}

// AgentStartedEvent signals a task was dispatched to an agent.
type AgentStartedEvent struct {
	AgentActivityEvent
}

// AgentProgressEvent carries an agent's progress report.
type AgentProgressEvent struct {
	AgentActivityEvent
	Progress float64 `json:"progress"`
}

// AgentCompletedEvent signals an agent finished a task successfully.
type AgentCompletedEvent struct {
	AgentActivityEvent
	Result string `json:"result,omitempty"`
}

// AgentErrorEvent signals an agent failed a task.
type AgentErrorEvent struct {
	AgentActivityEvent
	Error string `json:"error,omitempty"`
}

// ConflictDetectedEvent signals a blocking conflict was recorded.
type ConflictDetectedEvent struct {
	Timestamp      Timestamp `json:"timestamp"`
	ConflictID     string    `json:"conflict_id"`
	AgentType      AgentType `json:"agent_type"`
	Severity       Severity  `json:"severity"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	Recommendation string    `json:"recommendation"`
	AffectedModule string    `json:"affected_module"`
}

// WorkflowPausedEvent signals autonomous progress halted. ConflictID
// names the triggering conflict.
type WorkflowPausedEvent struct {
	Timestamp  Timestamp `json:"timestamp"`
	ConflictID string    `json:"conflict_id"`
}

// WorkflowResumedEvent signals autonomous progress resumed. ConflictID
// names the resolving conflict.
type WorkflowResumedEvent struct {
	Timestamp  Timestamp `json:"timestamp"`
	ConflictID string    `json:"conflict_id"`
}

func (e StartedEvent) EventName() EventName          { return EventStarted }
func (e StartedEvent) OccurredAt() Timestamp         { return e.Timestamp }
func (e StoppedEvent) EventName() EventName          { return EventStopped }
func (e StoppedEvent) OccurredAt() Timestamp         { return e.Timestamp }
func (e DashboardUpdateEvent) EventName() EventName  { return EventDashboardUpdate }
func (e DashboardUpdateEvent) OccurredAt() Timestamp { return e.Timestamp }
func (e AgentStartedEvent) EventName() EventName     { return EventAgentStarted }
func (e AgentActivityEvent) OccurredAt() Timestamp   { return e.Timestamp }
func (e AgentProgressEvent) EventName() EventName    { return EventAgentProgress }
func (e AgentCompletedEvent) EventName() EventName   { return EventAgentCompleted }
func (e AgentErrorEvent) EventName() EventName       { return EventAgentError }
func (e ConflictDetectedEvent) EventName() EventName  { return EventConflictDetected }
func (e ConflictDetectedEvent) OccurredAt() Timestamp { return e.Timestamp }
func (e WorkflowPausedEvent) EventName() EventName    { return EventWorkflowPaused }
func (e WorkflowPausedEvent) OccurredAt() Timestamp   { return e.Timestamp }
func (e WorkflowResumedEvent) EventName() EventName   { return EventWorkflowResumed }
func (e WorkflowResumedEvent) OccurredAt() Timestamp  { return e.Timestamp }
