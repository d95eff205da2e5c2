package engine

// FinalPhase is the index of the last pipeline phase.
const FinalPhase = 5

// PhaseCount is the number of pipeline phases.
const PhaseCount = 6

// DefaultPhases returns the built-in six-phase pipeline with its
// default milestones. Deployments can override the names and
// milestones via configuration; the phase count is fixed.
func DefaultPhases() ([]Phase, []Milestone) {
	phases := []Phase{
		{ID: 0, Name: "planning", Milestones: []string{"plan-requirements", "plan-architecture"}},
		{ID: 1, Name: "design", Milestones: []string{"design-api", "design-data-model"}},
		{ID: 2, Name: "implementation", Milestones: []string{"impl-core", "impl-services"}},
		{ID: 3, Name: "testing", Milestones: []string{"test-unit", "test-e2e"}},
		{ID: 4, Name: "integration", Milestones: []string{"integ-pipeline", "integ-review"}},
		{ID: 5, Name: "deployment", Milestones: []string{"deploy-staging", "deploy-production"}},
	}
	names := map[string]string{
		"plan-requirements": "Requirements captured",
		"plan-architecture": "Architecture outline agreed",
		"design-api":        "API surface designed",
		"design-data-model": "Data model designed",
		"impl-core":         "Core modules implemented",
		"impl-services":     "Service layer implemented",
		"test-unit":         "Unit tests passing",
		"test-e2e":          "End-to-end tests passing",
		"integ-pipeline":    "Pipeline integration complete",
		"integ-review":      "Integration review signed off",
		"deploy-staging":    "Staging deployment verified",
		"deploy-production": "Production deployment verified",
	}
	var milestones []Milestone
	for _, p := range phases {
		for _, id := range p.Milestones {
			milestones = append(milestones, Milestone{
				ID:     id,
				Name:   names[id],
				Phase:  p.ID,
				Status: MilestonePending,
			})
		}
	}
	return phases, milestones
}

// PhaseController gates progression through the pipeline phases. It
// owns the workflow position, the milestone table, and the per-phase
// external validation signals. The paused callback reports whether a
// blocking conflict is active; while paused both Advance and Rollback
// are refused.
type PhaseController struct {
	phases      []Phase
	milestones  map[string]*Milestone
	state       *WorkflowState
	validations map[int]Validation
	paused      func() bool
	now         func() Timestamp
}

// NewPhaseController creates a controller over the given phase
// definitions and milestone table.
func NewPhaseController(phases []Phase, milestones []Milestone, state *WorkflowState, paused func() bool) *PhaseController {
	table := make(map[string]*Milestone, len(milestones))
	for i := range milestones {
		m := milestones[i]
		table[m.ID] = &m
	}
	if paused == nil {
		paused = func() bool { return false }
	}
	return &PhaseController{
		phases:      phases,
		milestones:  table,
		state:       state,
		validations: make(map[int]Validation),
		paused:      paused,
		now:         Now,
	}
}

// Phases returns the immutable phase definitions.
func (c *PhaseController) Phases() []Phase {
	return c.phases
}

// Milestone returns the milestone with the given ID.
func (c *PhaseController) Milestone(id string) (*Milestone, bool) {
	m, ok := c.milestones[id]
	return m, ok
}

// CurrentPhase returns the definition of the phase the workflow
// currently occupies.
func (c *PhaseController) CurrentPhase() Phase {
	return c.phases[c.state.CurrentPhase]
}

// RecordValidation records the latest external validation signal for a
// phase. Advancement out of a phase requires its last signal to have
// reported success.
func (c *PhaseController) RecordValidation(phase int, passed bool) error {
	if phase < 0 || phase > FinalPhase {
		return ErrInvalidPhase
	}
	c.validations[phase] = Validation{
		Phase:      phase,
		Passed:     passed,
		ReportedAt: c.now(),
	}
	return nil
}

// Validations returns a copy of the recorded validation signals.
func (c *PhaseController) Validations() map[int]Validation {
	out := make(map[int]Validation, len(c.validations))
	for k, v := range c.validations {
		out[k] = v
	}
	return out
}

// CanAdvance returns true iff every milestone of the current phase is
// completed, the phase's validation signal last reported success, and
// no conflict is active.
func (c *PhaseController) CanAdvance() bool {
	return c.advanceCheck() == nil
}

func (c *PhaseController) advanceCheck() error {
	if c.state.CurrentPhase >= FinalPhase {
		return ErrFinalPhase
	}
	if c.paused() {
		return ErrConflictActive
	}
	for _, id := range c.CurrentPhase().Milestones {
		if m, ok := c.milestones[id]; !ok || m.Status != MilestoneCompleted {
			return ErrPhaseNotReady
		}
	}
	v, ok := c.validations[c.state.CurrentPhase]
	if !ok || !v.Passed {
		return ErrPhaseNotReady
	}
	return nil
}

// Advance moves the workflow to the next phase. On success the old
// phase is appended to CompletedPhases, CurrentPhase is incremented,
// and the new phase's milestones are reset to pending. On failure the
// workflow state is unchanged.
func (c *PhaseController) Advance() error {
	if err := c.advanceCheck(); err != nil {
		return err
	}
	old := c.state.CurrentPhase
	c.state.CompletedPhases = append(c.state.CompletedPhases, old)
	c.state.CurrentPhase = old + 1
	for _, id := range c.CurrentPhase().Milestones {
		if m, ok := c.milestones[id]; ok {
			m.Status = MilestonePending
		}
	}
	return nil
}

// Rollback moves the workflow to the previous phase. The re-entered
// phase is removed from CompletedPhases; its milestone statuses are
// kept so already-finished checkpoints are not redone.
func (c *PhaseController) Rollback() error {
	if c.state.CurrentPhase <= 0 {
		return ErrInitialPhase
	}
	if c.paused() {
		return ErrConflictActive
	}
	c.state.CurrentPhase--
	// CompletedPhases stays a strictly increasing prefix below
	// CurrentPhase.
	kept := c.state.CompletedPhases[:0]
	for _, p := range c.state.CompletedPhases {
		if p < c.state.CurrentPhase {
			kept = append(kept, p)
		}
	}
	c.state.CompletedPhases = kept
	return nil
}

// milestonesSnapshot returns a value copy of the milestone table.
func (c *PhaseController) milestonesSnapshot() map[string]Milestone {
	out := make(map[string]Milestone, len(c.milestones))
	for id, m := range c.milestones {
		out[id] = *m
	}
	return out
}

// restoreMilestones replaces the milestone table from a snapshot.
func (c *PhaseController) restoreMilestones(milestones map[string]Milestone) {
	c.milestones = make(map[string]*Milestone, len(milestones))
	for id, m := range milestones {
		copied := m
		c.milestones[id] = &copied
	}
}

// restoreValidations replaces the validation table from a snapshot.
func (c *PhaseController) restoreValidations(validations map[int]Validation) {
	c.validations = make(map[int]Validation, len(validations))
	for phase, v := range validations {
		c.validations[phase] = v
	}
}
