package engine

import "errors"

// Precondition errors returned by facade commands. A rejected command
// leaves the workflow state unchanged; callers may retry after the
// precondition is satisfied.
var (
	// ErrPhaseNotReady indicates the current phase cannot be advanced:
	// a milestone is incomplete, the phase's validation signal has not
	// reported success, or a conflict is active.
	ErrPhaseNotReady = errors.New("phase not ready to advance")

	// ErrFinalPhase indicates the workflow is already at the last phase.
	ErrFinalPhase = errors.New("already at final phase")

	// ErrInitialPhase indicates the workflow is already at phase 0.
	ErrInitialPhase = errors.New("already at initial phase")

	// ErrConflictActive indicates the engine is paused by an active
	// conflict and refuses phase transitions.
	ErrConflictActive = errors.New("conflict active, engine paused")

	// ErrDependencyCycle indicates enqueueing the task would create a
	// cycle in the dependency graph. The task is not added.
	ErrDependencyCycle = errors.New("task dependency cycle")

	// ErrDuplicateTask indicates a task with the same ID already exists.
	ErrDuplicateTask = errors.New("task already exists")

	// ErrConflictAlreadyActive indicates the affected module already has
	// an active conflict. The new detection is rejected, not queued.
	ErrConflictAlreadyActive = errors.New("module already has an active conflict")

	// ErrUnknownAgent indicates a command referenced an unregistered
	// agent type.
	ErrUnknownAgent = errors.New("unknown agent")

	// ErrUnknownTask indicates a command referenced a task that does
	// not exist.
	ErrUnknownTask = errors.New("unknown task")

	// ErrUnknownConflict indicates a command referenced a conflict that
	// does not exist.
	ErrUnknownConflict = errors.New("unknown conflict")

	// ErrTaskNotActive indicates a result was reported for a task that
	// is not currently dispatched.
	ErrTaskNotActive = errors.New("task not active")

	// ErrInvalidResultStatus indicates a reported result status other
	// than completed or failed.
	ErrInvalidResultStatus = errors.New("result status must be completed or failed")

	// ErrConflictResolved indicates the conflict was already resolved.
	ErrConflictResolved = errors.New("conflict already resolved")

	// ErrInvalidPhase indicates a phase index outside 0-5.
	ErrInvalidPhase = errors.New("invalid phase")

	// ErrEngineNotRunning indicates a command was issued before Start
	// or after Stop.
	ErrEngineNotRunning = errors.New("engine not running")

	// ErrEngineStopped indicates the engine refused a command because
	// shutdown is in progress.
	ErrEngineStopped = errors.New("engine stopped")
)
