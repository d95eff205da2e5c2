package engine

import "sort"

// View is the read-only dashboard projection of a snapshot. It is
// derived data: regenerating it from the same snapshot always yields
// the same view (up to GeneratedAt).
type View struct {
	GeneratedAt Timestamp `json:"generated_at"`

	Status          Status    `json:"status"`
	CurrentPhase    int       `json:"current_phase"`
	PhaseName       string    `json:"phase_name"`
	StartedAt       Timestamp `json:"started_at"`
	LastUpdated     Timestamp `json:"last_updated"`
	UptimeMs        int64     `json:"uptime_ms"`
	OverallProgress float64   `json:"overall_progress"`

	Phases    []PhaseView   `json:"phases"`
	Agents    []AgentView   `json:"agents"`
	Tasks     TaskSummary   `json:"tasks"`
	Conflicts []Conflict    `json:"conflicts"`
	Errors    []ErrorRecord `json:"errors"`
}

// PhaseView is a phase with its milestone states and derived progress.
type PhaseView struct {
	ID         int         `json:"id"`
	Name       string      `json:"name"`
	Completed  bool        `json:"completed"`
	Current    bool        `json:"current"`
	Progress   float64     `json:"progress"`
	Validated  bool        `json:"validated"`
	Milestones []Milestone `json:"milestones"`
}

// AgentView is an agent with its derived success rate.
type AgentView struct {
	Type        AgentType `json:"type"`
	IsActive    bool      `json:"is_active"`
	ActiveTasks int       `json:"active_tasks"`
	Metrics     Metrics   `json:"metrics"`
	SuccessRate float64   `json:"success_rate"`
}

// TaskSummary counts tasks by lifecycle state.
type TaskSummary struct {
	Pending   int `json:"pending"`
	Active    int `json:"active"`
	Waiting   int `json:"waiting"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}

// maxViewErrors bounds the error tail carried in a view.
const maxViewErrors = 20

// Project derives the dashboard view from a snapshot. It is a pure
// function of its arguments and never mutates the snapshot.
func Project(snap Snapshot, now Timestamp) View {
	v := View{
		GeneratedAt:  now,
		Status:       snap.Status,
		CurrentPhase: snap.CurrentPhase,
		StartedAt:    snap.StartedAt,
		LastUpdated:  snap.LastUpdated,
	}
	if !snap.StartedAt.IsZero() {
		v.UptimeMs = now.Sub(snap.StartedAt.Time).Milliseconds()
		if v.UptimeMs < 0 {
			v.UptimeMs = 0
		}
	}

	completed := make(map[int]bool, len(snap.CompletedPhases))
	for _, p := range snap.CompletedPhases {
		completed[p] = true
	}
	if len(snap.Phases) > 0 {
		v.OverallProgress = float64(len(snap.CompletedPhases)) / float64(len(snap.Phases))
	}

	for _, p := range snap.Phases {
		pv := PhaseView{
			ID:        p.ID,
			Name:      p.Name,
			Completed: completed[p.ID],
			Current:   p.ID == snap.CurrentPhase,
		}
		if val, ok := snap.Validations[p.ID]; ok {
			pv.Validated = val.Passed
		}
		done := 0
		for _, id := range p.Milestones {
			m, ok := snap.Milestones[id]
			if !ok {
				continue
			}
			pv.Milestones = append(pv.Milestones, m)
			if m.Status == MilestoneCompleted {
				done++
			}
		}
		if n := len(pv.Milestones); n > 0 {
			pv.Progress = float64(done) / float64(n)
		}
		if p.ID == snap.CurrentPhase {
			v.PhaseName = p.Name
		}
		v.Phases = append(v.Phases, pv)
	}

	// Agents appear in canonical role order regardless of map order.
	for _, t := range AgentTypes {
		a, ok := snap.Agents[t]
		if !ok {
			continue
		}
		v.Agents = append(v.Agents, AgentView{
			Type:        a.Type,
			IsActive:    a.IsActive,
			ActiveTasks: a.ActiveTasks,
			Metrics:     a.Metrics,
			SuccessRate: a.Metrics.SuccessRate(),
		})
	}

	for _, t := range snap.Tasks {
		v.Tasks.Total++
		switch t.Status {
		case TaskStatusPending:
			v.Tasks.Pending++
		case TaskStatusActive:
			v.Tasks.Active++
		case TaskStatusWaiting:
			v.Tasks.Waiting++
		case TaskStatusCompleted:
			v.Tasks.Completed++
		case TaskStatusFailed:
			v.Tasks.Failed++
		}
	}

	// Active conflicts only, oldest first.
	for _, c := range snap.Conflicts {
		if c.Status == ConflictActive {
			v.Conflicts = append(v.Conflicts, c)
		}
	}
	sort.Slice(v.Conflicts, func(i, j int) bool {
		if v.Conflicts[i].DetectedAt.Equal(v.Conflicts[j].DetectedAt.Time) {
			return v.Conflicts[i].ID < v.Conflicts[j].ID
		}
		return v.Conflicts[i].DetectedAt.Before(v.Conflicts[j].DetectedAt.Time)
	})

	errs := snap.Errors
	if len(errs) > maxViewErrors {
		errs = errs[len(errs)-maxViewErrors:]
	}
	v.Errors = append(v.Errors, errs...)

	return v
}
