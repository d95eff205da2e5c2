// Package events relays engine events onto NATS subjects and defines
// the subject namespace shared by the server and CLI clients.
package events

import "github.com/c360studio/semflow/engine"

const (
	// EventSubjectPrefix is the namespace for broadcast events.
	EventSubjectPrefix = "semflow.events."

	// CommandSubjectPrefix is the namespace for request/reply commands.
	CommandSubjectPrefix = "semflow.cmd."
)

// EventSubject returns the broadcast subject for an event name.
func EventSubject(name engine.EventName) string {
	return EventSubjectPrefix + string(name)
}

// CommandSubject returns the request/reply subject for a command verb.
func CommandSubject(verb string) string {
	return CommandSubjectPrefix + verb
}

// Command verbs served over request/reply.
const (
	CmdStatus          = "status"
	CmdReport          = "report"
	CmdAdvance         = "advance"
	CmdRollback        = "rollback"
	CmdDeploy          = "deploy"
	CmdEnqueue         = "enqueue"
	CmdTaskResult      = "task.result"
	CmdTaskProgress    = "task.progress"
	CmdConflictReport  = "conflict.report"
	CmdConflictResolve = "conflict.resolve"
	CmdValidation      = "validation"
)
