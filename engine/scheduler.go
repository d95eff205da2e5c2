package engine

import "github.com/google/uuid"

// Scheduler assigns queued tasks to idle agents honoring dependency
// order. Dispatch decisions happen only inside a tick; while any
// conflict is active no new dispatch happens at all, though in-flight
// active tasks may still report results.
type Scheduler struct {
	tasks    map[string]*Task
	order    []string
	assigned map[string]AgentType // task ID -> dispatched agent

	registry *Registry
	phases   *PhaseController
	paused   func() bool
	capacity int
	now      func() Timestamp
}

// NewScheduler creates a scheduler over the given registry and phase
// controller. capacity is the number of tasks an agent may run
// concurrently; zero or negative means one.
func NewScheduler(registry *Registry, phases *PhaseController, paused func() bool, capacity int) *Scheduler {
	if paused == nil {
		paused = func() bool { return false }
	}
	if capacity <= 0 {
		capacity = 1
	}
	return &Scheduler{
		tasks:    make(map[string]*Task),
		assigned: make(map[string]AgentType),
		registry: registry,
		phases:   phases,
		paused:   paused,
		capacity: capacity,
		now:      Now,
	}
}

// Enqueue adds a task to the queue. Adding a task whose dependencies
// would create a cycle is rejected with ErrDependencyCycle before
// insertion; nothing is partially applied. Dependencies may reference
// tasks that do not exist yet; such tasks simply stay pending until
// the referenced tasks are enqueued and completed.
func (s *Scheduler) Enqueue(t Task) (*Task, error) {
	if !t.AgentType.IsValid() {
		return nil, ErrUnknownAgent
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if _, exists := s.tasks[t.ID]; exists {
		return nil, ErrDuplicateTask
	}
	// Cycle check runs against a copy of the graph including the
	// candidate, so a rejected task leaves the queue untouched.
	graph := make(map[string][]string, len(s.tasks)+1)
	for id, existing := range s.tasks {
		graph[id] = existing.DependsOn
	}
	graph[t.ID] = t.DependsOn
	if err := validateAcyclic(graph); err != nil {
		return nil, err
	}
	t.Status = TaskStatusPending
	t.CreatedAt = s.now()
	t.CompletedAt = nil
	s.tasks[t.ID] = &t
	s.order = append(s.order, t.ID)
	return &t, nil
}

// Dispatch assigns every ready task to the least-loaded idle agent of
// its required type, in enqueue order. Ready tasks with no matching
// idle agent are marked waiting to signal backpressure instead of
// staying silently pending. Returns the dispatched tasks. While paused
// it dispatches nothing.
func (s *Scheduler) Dispatch() []*Task {
	if s.paused() {
		return nil
	}
	var dispatched []*Task
	for _, id := range s.order {
		t := s.tasks[id]
		if t.Status != TaskStatusPending && t.Status != TaskStatusWaiting {
			continue
		}
		if !s.dependenciesMet(t) {
			continue
		}
		agent, ok := s.registry.LeastLoaded(t.AgentType, s.capacity)
		if !ok {
			t.Status = TaskStatusWaiting
			continue
		}
		t.Status = TaskStatusActive
		agent.ActiveTasks++
		s.assigned[t.ID] = agent.Type
		if t.MilestoneID != "" {
			if m, ok := s.phases.Milestone(t.MilestoneID); ok && m.Status == MilestonePending {
				m.Status = MilestoneInProgress
			}
		}
		dispatched = append(dispatched, t)
	}
	return dispatched
}

// ReportResult applies an agent's outcome message for an active task,
// forwards it to the metrics aggregator, and updates the owning
// milestone: completed when every one of its tasks has succeeded,
// failed as soon as any task fails.
func (s *Scheduler) ReportResult(taskID string, status TaskStatus, durationMs int64) (*Task, error) {
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrUnknownTask
	}
	if status != TaskStatusCompleted && status != TaskStatusFailed {
		return nil, ErrInvalidResultStatus
	}
	if !t.Status.CanTransitionTo(status) {
		return nil, ErrTaskNotActive
	}
	t.Status = status
	at := s.now()
	t.CompletedAt = &at

	if agentType, ok := s.assigned[t.ID]; ok {
		if a, found := s.registry.Get(agentType); found && a.ActiveTasks > 0 {
			a.ActiveTasks--
		}
		delete(s.assigned, t.ID)
	}
	if err := s.registry.RecordOutcome(t.AgentType, status == TaskStatusCompleted, durationMs); err != nil {
		return t, err
	}

	if t.MilestoneID != "" {
		s.updateMilestone(t.MilestoneID)
	}
	return t, nil
}

// updateMilestone recomputes a milestone's status from its tasks.
func (s *Scheduler) updateMilestone(milestoneID string) {
	m, ok := s.phases.Milestone(milestoneID)
	if !ok {
		return
	}
	total, completed := 0, 0
	for _, id := range s.order {
		t := s.tasks[id]
		if t.MilestoneID != milestoneID {
			continue
		}
		total++
		switch t.Status {
		case TaskStatusFailed:
			m.Status = MilestoneFailed
			return
		case TaskStatusCompleted:
			completed++
		}
	}
	if total > 0 && completed == total {
		m.Status = MilestoneCompleted
	}
}

// Task returns the task with the given ID.
func (s *Scheduler) Task(id string) (*Task, bool) {
	t, ok := s.tasks[id]
	return t, ok
}

// ActiveCount returns the number of tasks currently dispatched.
func (s *Scheduler) ActiveCount() int {
	n := 0
	for _, t := range s.tasks {
		if t.Status == TaskStatusActive {
			n++
		}
	}
	return n
}

// Summary returns task counts by status.
func (s *Scheduler) Summary() map[TaskStatus]int {
	out := make(map[TaskStatus]int)
	for _, t := range s.tasks {
		out[t.Status]++
	}
	return out
}

// Snapshot returns a value copy of all tasks in enqueue order.
func (s *Scheduler) Snapshot() []Task {
	out := make([]Task, 0, len(s.order))
	for _, id := range s.order {
		t := *s.tasks[id]
		if s.tasks[id].CompletedAt != nil {
			at := *s.tasks[id].CompletedAt
			t.CompletedAt = &at
		}
		out = append(out, t)
	}
	return out
}

// restore replaces the queue from a snapshot. Dispatch assignments for
// active tasks are rebuilt against the registry.
func (s *Scheduler) restore(tasks []Task) {
	s.tasks = make(map[string]*Task, len(tasks))
	s.order = make([]string, 0, len(tasks))
	s.assigned = make(map[string]AgentType)
	for _, t := range tasks {
		copied := t
		if t.CompletedAt != nil {
			at := *t.CompletedAt
			copied.CompletedAt = &at
		}
		s.tasks[t.ID] = &copied
		s.order = append(s.order, t.ID)
		if t.Status == TaskStatusActive {
			s.assigned[t.ID] = t.AgentType
		}
	}
}

func (s *Scheduler) dependenciesMet(t *Task) bool {
	for _, dep := range t.DependsOn {
		d, ok := s.tasks[dep]
		if !ok || d.Status != TaskStatusCompleted {
			return false
		}
	}
	return true
}

// validateAcyclic rejects a dependency graph containing a cycle.
// Dangling references are ignored; they cannot form a cycle.
func validateAcyclic(graph map[string][]string) error {
	visiting := map[string]bool{}
	visited := map[string]bool{}
	var dfs func(string) error
	dfs = func(id string) error {
		if visited[id] {
			return nil
		}
		if visiting[id] {
			return ErrDependencyCycle
		}
		visiting[id] = true
		for _, dep := range graph[id] {
			if _, ok := graph[dep]; !ok {
				continue
			}
			if err := dfs(dep); err != nil {
				return err
			}
		}
		visiting[id] = false
		visited[id] = true
		return nil
	}
	for id := range graph {
		if err := dfs(id); err != nil {
			return err
		}
	}
	return nil
}
