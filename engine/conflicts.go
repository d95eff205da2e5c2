package engine

import "github.com/google/uuid"

// ConflictLedger records detected conflicts and implements the global
// pause policy: while any conflict is active the scheduler performs no
// new dispatch and the phase controller refuses transitions. Severity
// is carried for display only and never changes pause semantics.
type ConflictLedger struct {
	conflicts map[string]*Conflict
	byModule  map[string]string // affected module -> active conflict ID
	now       func() Timestamp
}

// NewConflictLedger creates an empty ledger.
func NewConflictLedger() *ConflictLedger {
	return &ConflictLedger{
		conflicts: make(map[string]*Conflict),
		byModule:  make(map[string]string),
		now:       Now,
	}
}

// Record registers a new conflict and returns it with an assigned ID.
// A second detection for a module that already has an active conflict
// is rejected with ErrConflictAlreadyActive, not queued silently.
func (l *ConflictLedger) Record(c Conflict) (*Conflict, error) {
	if !c.Severity.IsValid() {
		c.Severity = SeverityMedium
	}
	if _, busy := l.byModule[c.AffectedModule]; busy {
		return nil, ErrConflictAlreadyActive
	}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.Status = ConflictActive
	c.DetectedAt = l.now()
	c.ResolvedAt = nil
	l.conflicts[c.ID] = &c
	l.byModule[c.AffectedModule] = c.ID
	return &c, nil
}

// Resolve marks the conflict resolved. Resolving an unknown ID returns
// ErrUnknownConflict; resolving an already-resolved conflict returns
// ErrConflictResolved and does not change any counter.
func (l *ConflictLedger) Resolve(id string) (*Conflict, error) {
	c, ok := l.conflicts[id]
	if !ok {
		return nil, ErrUnknownConflict
	}
	if c.Status == ConflictResolved {
		return nil, ErrConflictResolved
	}
	c.Status = ConflictResolved
	at := l.now()
	c.ResolvedAt = &at
	delete(l.byModule, c.AffectedModule)
	return c, nil
}

// ActiveCount returns the number of unresolved conflicts.
func (l *ConflictLedger) ActiveCount() int {
	return len(l.byModule)
}

// Paused returns true while any conflict is active.
func (l *ConflictLedger) Paused() bool {
	return len(l.byModule) > 0
}

// Get returns the conflict with the given ID.
func (l *ConflictLedger) Get(id string) (*Conflict, bool) {
	c, ok := l.conflicts[id]
	return c, ok
}

// Snapshot returns an immutable copy of all conflicts keyed by ID.
func (l *ConflictLedger) Snapshot() map[string]Conflict {
	out := make(map[string]Conflict, len(l.conflicts))
	for id, c := range l.conflicts {
		copied := *c
		if c.ResolvedAt != nil {
			at := *c.ResolvedAt
			copied.ResolvedAt = &at
		}
		out[id] = copied
	}
	return out
}

// restore replaces the ledger contents from a snapshot.
func (l *ConflictLedger) restore(conflicts map[string]Conflict) {
	l.conflicts = make(map[string]*Conflict, len(conflicts))
	l.byModule = make(map[string]string)
	for id, c := range conflicts {
		copied := c
		l.conflicts[id] = &copied
		if c.Status == ConflictActive {
			l.byModule[c.AffectedModule] = id
		}
	}
}
