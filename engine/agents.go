package engine

// Registry tracks registered agents and aggregates their performance
// metrics. Agents are never removed; deactivation only flips IsActive.
type Registry struct {
	agents map[AgentType]*Agent
	order  []AgentType
}

// NewRegistry creates an empty agent registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[AgentType]*Agent)}
}

// Register idempotently creates an agent entry for the given role and
// marks it active. Registering an existing agent reactivates it
// without touching its metrics.
func (r *Registry) Register(agentType AgentType) (*Agent, error) {
	if !agentType.IsValid() {
		return nil, ErrUnknownAgent
	}
	if a, ok := r.agents[agentType]; ok {
		a.IsActive = true
		return a, nil
	}
	a := &Agent{Type: agentType, IsActive: true}
	r.agents[agentType] = a
	r.order = append(r.order, agentType)
	return a, nil
}

// Deactivate flips the agent's IsActive flag off. Its metrics and
// history are retained.
func (r *Registry) Deactivate(agentType AgentType) error {
	a, ok := r.agents[agentType]
	if !ok {
		return ErrUnknownAgent
	}
	a.IsActive = false
	return nil
}

// Get returns the agent for the given role.
func (r *Registry) Get(agentType AgentType) (*Agent, bool) {
	a, ok := r.agents[agentType]
	return a, ok
}

// RecordOutcome increments the matching counter for the agent and
// folds the duration into the running average completion time.
// SuccessRate is always derived from the counters, so equivalent
// outcome sequences produce identical metrics regardless of order.
func (r *Registry) RecordOutcome(agentType AgentType, success bool, durationMs int64) error {
	a, ok := r.agents[agentType]
	if !ok {
		return ErrUnknownAgent
	}
	finished := a.Metrics.TasksCompleted + a.Metrics.TasksFailed
	if success {
		a.Metrics.TasksCompleted++
	} else {
		a.Metrics.TasksFailed++
	}
	// Running average over all finished tasks, successful or not.
	a.Metrics.AverageCompletionTimeMs =
		(a.Metrics.AverageCompletionTimeMs*float64(finished) + float64(durationMs)) / float64(finished+1)
	return nil
}

// LeastLoaded selects the idle agent of the given type with the fewest
// active tasks; ties are broken by registration order. Returns false
// when no matching active agent has spare capacity.
func (r *Registry) LeastLoaded(agentType AgentType, capacity int) (*Agent, bool) {
	if capacity <= 0 {
		capacity = 1
	}
	var best *Agent
	for _, t := range r.order {
		a := r.agents[t]
		if a.Type != agentType || !a.IsActive || a.ActiveTasks >= capacity {
			continue
		}
		if best == nil || a.ActiveTasks < best.ActiveTasks {
			best = a
		}
	}
	return best, best != nil
}

// Snapshot returns an immutable copy of all agents keyed by type.
func (r *Registry) Snapshot() map[AgentType]Agent {
	out := make(map[AgentType]Agent, len(r.agents))
	for t, a := range r.agents {
		out[t] = *a
	}
	return out
}

// restore replaces the registry contents from a snapshot. Registration
// order follows the canonical role order so tie-breaking stays stable
// across restarts.
func (r *Registry) restore(agents map[AgentType]Agent) {
	r.agents = make(map[AgentType]*Agent, len(agents))
	r.order = nil
	for _, t := range AgentTypes {
		if a, ok := agents[t]; ok {
			copied := a
			r.agents[t] = &copied
			r.order = append(r.order, t)
		}
	}
}
