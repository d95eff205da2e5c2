package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// MetricsSink receives operational counters from the tick loop. The
// engine only calls it from the single writer goroutine, so
// implementations need no extra locking for ordering.
type MetricsSink interface {
	TickCommitted()
	TaskDispatched(agent AgentType)
	TaskResult(agent AgentType, status TaskStatus)
	ConflictDetected(severity Severity)
	PhaseChanged(phase int)
	ActiveConflicts(count int)
}

// NopMetrics discards all metrics.
type NopMetrics struct{}

func (NopMetrics) TickCommitted()                   {}
func (NopMetrics) TaskDispatched(AgentType)         {}
func (NopMetrics) TaskResult(AgentType, TaskStatus) {}
func (NopMetrics) ConflictDetected(Severity)        {}
func (NopMetrics) PhaseChanged(int)                 {}
func (NopMetrics) ActiveConflicts(int)              {}

// Options configures a new engine. Zero-value fields fall back to
// sensible defaults.
type Options struct {
	// Logger receives structured operational logs. Defaults to
	// slog.Default.
	Logger *slog.Logger

	// Store persists snapshots at every committed tick. Required.
	Store SnapshotStore

	// Metrics receives operational counters. Defaults to NopMetrics.
	Metrics MetricsSink

	// Phases and Milestones override the built-in pipeline definition.
	// Both must be set together; when nil, DefaultPhases is used.
	Phases     []Phase
	Milestones []Milestone

	// AgentCapacity is the number of tasks an agent may run
	// concurrently. Defaults to 1.
	AgentCapacity int

	// SubscriberBuffer is the event channel depth per subscriber.
	// Defaults to 64. Slow subscribers drop events rather than block
	// the tick loop.
	SubscriberBuffer int

	// SaveRetries is how many times a failed snapshot save is retried
	// within a tick before the engine shuts down. Defaults to 3.
	SaveRetries int
}

// defaults for Options zero values.
const (
	defaultSubscriberBuffer = 64
	defaultSaveRetries      = 3
	maxErrorLog             = 1000
)

type cmdKind int

const (
	cmdGeneric cmdKind = iota
	cmdConflict
	cmdTaskResult
	cmdStop
)

type cmdResult struct {
	value any
	err   error
}

type command struct {
	kind  cmdKind
	run   func() (any, error)
	reply chan cmdResult
}

// Engine is the orchestrator facade. All mutating commands funnel
// through a single writer goroutine (the tick loop); reads are served
// lock-free from the last committed snapshot.
type Engine struct {
	log     *slog.Logger
	store   SnapshotStore
	metrics MetricsSink

	// Owned by the tick loop after Start.
	state     *WorkflowState
	phases    *PhaseController
	registry  *Registry
	scheduler *Scheduler
	conflicts *ConflictLedger
	errors    []ErrorRecord
	pending   []Event
	dirty     bool
	stopping  bool

	saveRetries int
	subBuffer   int

	cmds     chan *command
	finished chan struct{}
	started  atomic.Bool
	stopped  atomic.Bool

	current atomic.Pointer[Snapshot]

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
	dropped atomic.Int64

	now func() Timestamp
}

// New creates an engine from options. Call Restore to adopt a saved
// snapshot, then Start to begin processing commands.
func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("snapshot store is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = NopMetrics{}
	}
	phases, milestones := opts.Phases, opts.Milestones
	if phases == nil {
		phases, milestones = DefaultPhases()
	}
	if len(phases) != PhaseCount {
		return nil, fmt.Errorf("expected %d phases, got %d", PhaseCount, len(phases))
	}
	if opts.SubscriberBuffer <= 0 {
		opts.SubscriberBuffer = defaultSubscriberBuffer
	}
	if opts.SaveRetries <= 0 {
		opts.SaveRetries = defaultSaveRetries
	}

	e := &Engine{
		log:         opts.Logger,
		store:       opts.Store,
		metrics:     opts.Metrics,
		state:       &WorkflowState{Status: StatusStopped},
		registry:    NewRegistry(),
		conflicts:   NewConflictLedger(),
		saveRetries: opts.SaveRetries,
		subBuffer:   opts.SubscriberBuffer,
		cmds:        make(chan *command, 256),
		finished:    make(chan struct{}),
		subs:        make(map[int]chan Event),
		now:         Now,
	}
	e.phases = NewPhaseController(phases, milestones, e.state, e.conflicts.Paused)
	e.scheduler = NewScheduler(e.registry, e.phases, e.conflicts.Paused, opts.AgentCapacity)
	return e, nil
}

// Restore adopts a previously saved snapshot. It must be called before
// Start; a snapshot that fails validation is rejected and the engine
// keeps its fresh state.
func (e *Engine) Restore(ctx context.Context) error {
	if e.started.Load() {
		return fmt.Errorf("restore after start")
	}
	snap, err := e.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}
	if err := snap.Validate(); err != nil {
		return fmt.Errorf("validate snapshot: %w", err)
	}
	e.adopt(snap)
	e.log.Info("state restored",
		"current_phase", snap.CurrentPhase,
		"tasks", len(snap.Tasks),
		"active_conflicts", e.conflicts.ActiveCount())
	return nil
}

func (e *Engine) adopt(snap Snapshot) {
	e.state.CurrentPhase = snap.CurrentPhase
	e.state.CompletedPhases = append([]int(nil), snap.CompletedPhases...)
	e.state.Status = snap.Status
	e.state.StartedAt = snap.StartedAt
	e.state.LastUpdated = snap.LastUpdated
	if snap.Phases != nil {
		e.phases.phases = snap.Phases
	}
	e.phases.restoreMilestones(snap.Milestones)
	e.phases.restoreValidations(snap.Validations)
	e.registry.restore(snap.Agents)
	e.conflicts.restore(snap.Conflicts)
	e.scheduler.restore(snap.Tasks)
	e.errors = append([]ErrorRecord(nil), snap.Errors...)
	e.current.Store(&snap)
}

// Start begins the tick loop. The initial snapshot is persisted before
// any command is accepted, so a crash immediately after Start still
// recovers to a coherent state.
func (e *Engine) Start(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return fmt.Errorf("engine already started")
	}
	if e.state.StartedAt.IsZero() {
		e.state.StartedAt = e.now()
	}
	if e.conflicts.Paused() {
		e.state.Status = StatusPaused
	} else {
		e.state.Status = StatusRunning
	}
	e.state.LastUpdated = e.now()

	snap := e.buildSnapshot()
	if err := e.save(ctx, snap); err != nil {
		e.started.Store(false)
		return fmt.Errorf("persist initial snapshot: %w", err)
	}
	e.current.Store(&snap)

	go e.run()

	e.publish(StartedEvent{Timestamp: e.now()})
	e.log.Info("engine started", "current_phase", e.state.CurrentPhase, "status", e.state.Status)
	return nil
}

// Stop drains queued commands, persists the final snapshot, and shuts
// the tick loop down. Result reports already queued ahead of the stop
// are still applied; commands arriving afterwards are refused with
// ErrEngineStopped.
func (e *Engine) Stop(ctx context.Context) error {
	if !e.started.Load() {
		return ErrEngineNotRunning
	}
	_, err := e.do(ctx, cmdStop, func() (any, error) { return nil, nil })
	if err != nil {
		return err
	}
	select {
	case <-e.finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers an event listener and returns its channel plus a
// cancel function. The channel is buffered; when a subscriber falls
// behind, events are dropped rather than blocking the tick loop.
func (e *Engine) Subscribe() (<-chan Event, func()) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	id := e.nextSub
	e.nextSub++
	ch := make(chan Event, e.subBuffer)
	e.subs[id] = ch
	return ch, func() {
		e.subMu.Lock()
		defer e.subMu.Unlock()
		if c, ok := e.subs[id]; ok {
			delete(e.subs, id)
			close(c)
		}
	}
}

// Snapshot returns the last committed snapshot. It never blocks on the
// tick loop.
func (e *Engine) Snapshot() Snapshot {
	if s := e.current.Load(); s != nil {
		return *s
	}
	return Snapshot{Status: StatusStopped}
}

// Report projects the last committed snapshot into the dashboard view.
func (e *Engine) Report() View {
	return Project(e.Snapshot(), e.now())
}

// DroppedEvents returns the number of events discarded because a
// subscriber channel was full.
func (e *Engine) DroppedEvents() int64 {
	return e.dropped.Load()
}

// DeployAgent registers (or reactivates) the agent for a role.
func (e *Engine) DeployAgent(ctx context.Context, agentType AgentType) (Agent, error) {
	v, err := e.do(ctx, cmdGeneric, func() (any, error) {
		a, err := e.registry.Register(agentType)
		if err != nil {
			return nil, err
		}
		return *a, nil
	})
	if err != nil {
		return Agent{}, err
	}
	return v.(Agent), nil
}

// DeactivateAgent marks the agent inactive; its metrics are retained
// and it receives no further dispatches.
func (e *Engine) DeactivateAgent(ctx context.Context, agentType AgentType) error {
	_, err := e.do(ctx, cmdGeneric, func() (any, error) {
		return nil, e.registry.Deactivate(agentType)
	})
	return err
}

// EnqueueTask adds a task to the scheduler queue and returns it with
// its assigned ID.
func (e *Engine) EnqueueTask(ctx context.Context, t Task) (Task, error) {
	v, err := e.do(ctx, cmdGeneric, func() (any, error) {
		queued, err := e.scheduler.Enqueue(t)
		if err != nil {
			return nil, err
		}
		return *queued, nil
	})
	if err != nil {
		return Task{}, err
	}
	return v.(Task), nil
}

// ReportTaskResult applies an agent's terminal outcome for a task.
// Valid statuses are completed and failed.
func (e *Engine) ReportTaskResult(ctx context.Context, taskID string, status TaskStatus, durationMs int64, detail string) (Task, error) {
	v, err := e.do(ctx, cmdTaskResult, func() (any, error) {
		t, err := e.scheduler.ReportResult(taskID, status, durationMs)
		if err != nil {
			return nil, err
		}
		activity := AgentActivityEvent{
			Timestamp: e.now(),
			AgentType: t.AgentType,
			TaskID:    t.ID,
			Message:   t.Description,
		}
		if status == TaskStatusCompleted {
			e.pending = append(e.pending, AgentCompletedEvent{AgentActivityEvent: activity, Result: detail})
		} else {
			e.pending = append(e.pending, AgentErrorEvent{AgentActivityEvent: activity, Error: detail})
		}
		e.metrics.TaskResult(t.AgentType, status)
		return *t, nil
	})
	if err != nil {
		return Task{}, err
	}
	return v.(Task), nil
}

// ReportTaskProgress emits a progress event for an active task.
// Progress is informational and does not change durable state.
func (e *Engine) ReportTaskProgress(ctx context.Context, taskID string, progress float64, message string) error {
	_, err := e.do(ctx, cmdGeneric, func() (any, error) {
		t, ok := e.scheduler.Task(taskID)
		if !ok {
			return nil, ErrUnknownTask
		}
		if t.Status != TaskStatusActive {
			return nil, ErrTaskNotActive
		}
		e.pending = append(e.pending, AgentProgressEvent{
			AgentActivityEvent: AgentActivityEvent{
				Timestamp: e.now(),
				AgentType: t.AgentType,
				TaskID:    t.ID,
				Message:   message,
			},
			Progress: progress,
		})
		return nil, nil
	})
	return err
}

// ReportConflict records a blocking conflict. Within a tick batch,
// conflict reports are applied before any dispatch, so a task queued in
// the same batch as the conflict is not dispatched.
func (e *Engine) ReportConflict(ctx context.Context, c Conflict) (Conflict, error) {
	v, err := e.do(ctx, cmdConflict, func() (any, error) {
		wasPaused := e.conflicts.Paused()
		recorded, err := e.conflicts.Record(c)
		if err != nil {
			return nil, err
		}
		e.pending = append(e.pending, ConflictDetectedEvent{
			Timestamp:      recorded.DetectedAt,
			ConflictID:     recorded.ID,
			AgentType:      recorded.AgentType,
			Severity:       recorded.Severity,
			Title:          recorded.Title,
			Description:    recorded.Description,
			Recommendation: recorded.Recommendation,
			AffectedModule: recorded.AffectedModule,
		})
		if !wasPaused {
			e.pending = append(e.pending, WorkflowPausedEvent{
				Timestamp:  e.now(),
				ConflictID: recorded.ID,
			})
			e.log.Warn("workflow paused",
				"conflict_id", recorded.ID,
				"severity", recorded.Severity,
				"affected_module", recorded.AffectedModule)
		}
		e.metrics.ConflictDetected(recorded.Severity)
		return *recorded, nil
	})
	if err != nil {
		return Conflict{}, err
	}
	return v.(Conflict), nil
}

// ResolveConflict marks a conflict resolved. When the last active
// conflict resolves, autonomous progress resumes on the same tick.
func (e *Engine) ResolveConflict(ctx context.Context, id string) (Conflict, error) {
	v, err := e.do(ctx, cmdGeneric, func() (any, error) {
		resolved, err := e.conflicts.Resolve(id)
		if err != nil {
			return nil, err
		}
		if !e.conflicts.Paused() {
			e.pending = append(e.pending, WorkflowResumedEvent{
				Timestamp:  e.now(),
				ConflictID: resolved.ID,
			})
			e.log.Info("workflow resumed", "conflict_id", resolved.ID)
		}
		return *resolved, nil
	})
	if err != nil {
		return Conflict{}, err
	}
	return v.(Conflict), nil
}

// AdvancePhase moves the workflow to the next phase when every gate of
// the current phase is satisfied.
func (e *Engine) AdvancePhase(ctx context.Context) error {
	_, err := e.do(ctx, cmdGeneric, func() (any, error) {
		if err := e.phases.Advance(); err != nil {
			return nil, err
		}
		e.metrics.PhaseChanged(e.state.CurrentPhase)
		e.log.Info("phase advanced",
			"current_phase", e.state.CurrentPhase,
			"phase_name", e.phases.CurrentPhase().Name)
		return nil, nil
	})
	return err
}

// RollbackPhase moves the workflow back one phase.
func (e *Engine) RollbackPhase(ctx context.Context) error {
	_, err := e.do(ctx, cmdGeneric, func() (any, error) {
		if err := e.phases.Rollback(); err != nil {
			return nil, err
		}
		e.metrics.PhaseChanged(e.state.CurrentPhase)
		e.log.Info("phase rolled back",
			"current_phase", e.state.CurrentPhase,
			"phase_name", e.phases.CurrentPhase().Name)
		return nil, nil
	})
	return err
}

// RecordValidation records an external validation signal for a phase.
func (e *Engine) RecordValidation(ctx context.Context, phase int, passed bool) error {
	_, err := e.do(ctx, cmdGeneric, func() (any, error) {
		return nil, e.phases.RecordValidation(phase, passed)
	})
	return err
}

// RecordError appends an entry to the audit error log. The log is
// append-only; older entries are trimmed only when the bound is hit.
func (e *Engine) RecordError(ctx context.Context, rec ErrorRecord) error {
	_, err := e.do(ctx, cmdGeneric, func() (any, error) {
		if !rec.Severity.IsValid() {
			rec.Severity = SeverityMedium
		}
		if rec.Timestamp.IsZero() {
			rec.Timestamp = e.now()
		}
		e.errors = append(e.errors, rec)
		if len(e.errors) > maxErrorLog {
			e.errors = e.errors[len(e.errors)-maxErrorLog:]
		}
		return nil, nil
	})
	return err
}

// do submits a command to the tick loop and waits for its reply.
func (e *Engine) do(ctx context.Context, kind cmdKind, run func() (any, error)) (any, error) {
	if !e.started.Load() {
		return nil, ErrEngineNotRunning
	}
	if e.stopped.Load() {
		return nil, ErrEngineStopped
	}
	c := &command{kind: kind, run: run, reply: make(chan cmdResult, 1)}
	select {
	case e.cmds <- c:
	case <-e.finished:
		return nil, ErrEngineStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case r := <-c.reply:
		return r.value, r.err
	case <-e.finished:
		// The loop replies to every drained command before closing
		// finished, so a missing reply means the command never ran.
		select {
		case r := <-c.reply:
			return r.value, r.err
		default:
			return nil, ErrEngineStopped
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// run is the single writer goroutine. Each iteration drains all
// immediately available commands into one batch and processes them as
// one tick.
func (e *Engine) run() {
	defer close(e.finished)
	for c := range e.cmds {
		batch := e.drainFrom(c)
		e.tick(batch)
		if e.stopping {
			e.drainRemaining()
			return
		}
	}
}

func (e *Engine) drainFrom(first *command) []*command {
	batch := []*command{first}
	for {
		select {
		case c := <-e.cmds:
			batch = append(batch, c)
		default:
			return batch
		}
	}
}

// drainRemaining refuses any command that raced in behind the stop.
func (e *Engine) drainRemaining() {
	for {
		select {
		case c := <-e.cmds:
			c.reply <- cmdResult{err: ErrEngineStopped}
		default:
			return
		}
	}
}

// tick applies one batch of commands, runs dispatch, and commits the
// resulting snapshot. Conflict reports are reordered to the front of
// the batch so no task queued alongside a conflict gets dispatched.
// A stop fences the reordering: only conflicts that arrived ahead of
// the first stop are hoisted, anything behind it is refused.
func (e *Engine) tick(batch []*command) {
	cut := len(batch)
	for i, c := range batch {
		if c.kind == cmdStop {
			cut = i + 1
			break
		}
	}

	ordered := make([]*command, 0, len(batch))
	for _, c := range batch[:cut] {
		if c.kind == cmdConflict {
			ordered = append(ordered, c)
		}
	}
	for _, c := range batch[:cut] {
		if c.kind != cmdConflict {
			ordered = append(ordered, c)
		}
	}
	ordered = append(ordered, batch[cut:]...)

	for _, c := range ordered {
		if e.stopping {
			c.reply <- cmdResult{err: ErrEngineStopped}
			continue
		}
		if c.kind == cmdStop {
			e.stopping = true
			e.dirty = true
			c.reply <- cmdResult{}
			continue
		}
		v, err := c.run()
		if err == nil {
			e.dirty = true
		}
		c.reply <- cmdResult{value: v, err: err}
	}

	if !e.stopping {
		for _, t := range e.scheduler.Dispatch() {
			e.pending = append(e.pending, AgentStartedEvent{AgentActivityEvent{
				Timestamp: e.now(),
				AgentType: t.AgentType,
				TaskID:    t.ID,
				Message:   t.Description,
			}})
			e.metrics.TaskDispatched(t.AgentType)
			e.dirty = true
		}
	}

	if e.dirty {
		e.commit()
	}

	for _, ev := range e.pending {
		e.publish(ev)
	}
	e.pending = e.pending[:0]

	if e.stopping {
		e.publish(StoppedEvent{Timestamp: e.now()})
		e.stopped.Store(true)
		e.log.Info("engine stopped")
	}
}

// commit recomputes derived status, persists the snapshot with bounded
// retries, and publishes it for lock-free readers. A save that keeps
// failing is fatal: the engine shuts down rather than run ahead of its
// durable state.
func (e *Engine) commit() {
	switch {
	case e.stopping:
		e.state.Status = StatusStopped
	case e.conflicts.Paused():
		e.state.Status = StatusPaused
	default:
		e.state.Status = StatusRunning
	}
	e.state.LastUpdated = e.now()

	snap := e.buildSnapshot()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	err := e.save(ctx, snap)
	cancel()
	if err != nil {
		e.log.Error("snapshot save failed, shutting down", "error", err)
		e.errors = append(e.errors, ErrorRecord{
			Severity:  SeverityCritical,
			Phase:     e.state.CurrentPhase,
			Message:   fmt.Sprintf("snapshot save failed: %v", err),
			Timestamp: e.now(),
		})
		e.stopping = true
		e.state.Status = StatusStopped
		snap = e.buildSnapshot()
	}
	e.current.Store(&snap)
	e.dirty = false

	e.pending = append(e.pending, DashboardUpdateEvent{
		Timestamp: e.now(),
		View:      Project(snap, e.now()),
	})
	e.metrics.TickCommitted()
	e.metrics.ActiveConflicts(e.conflicts.ActiveCount())
}

// save retries a failing store a bounded number of times.
func (e *Engine) save(ctx context.Context, snap Snapshot) error {
	var err error
	for attempt := 1; attempt <= e.saveRetries; attempt++ {
		if err = e.store.Save(ctx, snap); err == nil {
			return nil
		}
		e.log.Warn("snapshot save attempt failed",
			"attempt", attempt,
			"max_attempts", e.saveRetries,
			"error", err)
	}
	return err
}

func (e *Engine) buildSnapshot() Snapshot {
	return Snapshot{
		CurrentPhase:    e.state.CurrentPhase,
		CompletedPhases: append([]int(nil), e.state.CompletedPhases...),
		Status:          e.state.Status,
		StartedAt:       e.state.StartedAt,
		LastUpdated:     e.state.LastUpdated,
		Phases:          e.phases.Phases(),
		Milestones:      e.phases.milestonesSnapshot(),
		Tasks:           e.scheduler.Snapshot(),
		Agents:          e.registry.Snapshot(),
		Conflicts:       e.conflicts.Snapshot(),
		Errors:          append([]ErrorRecord(nil), e.errors...),
		Validations:     e.phases.Validations(),
	}
}

// publish fans an event out to all subscribers without blocking.
func (e *Engine) publish(ev Event) {
	e.subMu.Lock()
	defer e.subMu.Unlock()
	for _, ch := range e.subs {
		select {
		case ch <- ev:
		default:
			if n := e.dropped.Add(1); n%100 == 1 {
				e.log.Warn("subscriber behind, dropping events",
					"event", string(ev.EventName()),
					"dropped_total", n)
			}
		}
	}
}
