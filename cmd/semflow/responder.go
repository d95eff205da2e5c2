package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360studio/semflow/engine"
	"github.com/c360studio/semflow/events"
)

// commandTimeout bounds how long a single request may occupy the
// engine before the responder gives up.
const commandTimeout = 10 * time.Second

// Reply is the wire frame for every command response.
type Reply struct {
	OK    bool            `json:"ok"`
	Error string          `json:"error,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Request payloads per command verb.
type (
	deployRequest struct {
		AgentType engine.AgentType `json:"agent_type"`
	}
	enqueueRequest struct {
		Task engine.Task `json:"task"`
	}
	taskResultRequest struct {
		TaskID     string            `json:"task_id"`
		Status     engine.TaskStatus `json:"status"`
		DurationMs int64             `json:"duration_ms"`
		Detail     string            `json:"detail,omitempty"`
	}
	taskProgressRequest struct {
		TaskID   string  `json:"task_id"`
		Progress float64 `json:"progress"`
		Message  string  `json:"message,omitempty"`
	}
	conflictReportRequest struct {
		Conflict engine.Conflict `json:"conflict"`
	}
	conflictResolveRequest struct {
		ConflictID string `json:"conflict_id"`
	}
	validationRequest struct {
		Phase  int  `json:"phase"`
		Passed bool `json:"passed"`
	}
)

// Responder serves the semflow.cmd.* request/reply surface, mapping
// each verb onto an engine facade call.
type Responder struct {
	conn   *nats.Conn
	engine *engine.Engine
	logger *slog.Logger
	subs   []*nats.Subscription
}

// NewResponder creates a responder over an established connection.
func NewResponder(conn *nats.Conn, eng *engine.Engine, logger *slog.Logger) *Responder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Responder{conn: conn, engine: eng, logger: logger}
}

// Start subscribes every command verb.
func (r *Responder) Start() error {
	handlers := map[string]nats.MsgHandler{
		events.CmdStatus:          r.handleStatus,
		events.CmdReport:          r.handleReport,
		events.CmdAdvance:         r.handleAdvance,
		events.CmdRollback:        r.handleRollback,
		events.CmdDeploy:          r.handleDeploy,
		events.CmdEnqueue:         r.handleEnqueue,
		events.CmdTaskResult:      r.handleTaskResult,
		events.CmdTaskProgress:    r.handleTaskProgress,
		events.CmdConflictReport:  r.handleConflictReport,
		events.CmdConflictResolve: r.handleConflictResolve,
		events.CmdValidation:      r.handleValidation,
	}
	for verb, handler := range handlers {
		sub, err := r.conn.Subscribe(events.CommandSubject(verb), handler)
		if err != nil {
			r.Stop()
			return err
		}
		r.subs = append(r.subs, sub)
	}
	return nil
}

// Stop unsubscribes all verbs.
func (r *Responder) Stop() {
	for _, sub := range r.subs {
		if err := sub.Unsubscribe(); err != nil {
			r.logger.Warn("unsubscribe failed", "subject", sub.Subject, "error", err)
		}
	}
	r.subs = nil
}

func (r *Responder) respond(msg *nats.Msg, data any, err error) {
	reply := Reply{OK: err == nil}
	if err != nil {
		reply.Error = err.Error()
	} else if data != nil {
		encoded, marshalErr := json.Marshal(data)
		if marshalErr != nil {
			reply = Reply{Error: "encode response: " + marshalErr.Error()}
		} else {
			reply.Data = encoded
		}
	}
	payload, marshalErr := json.Marshal(reply)
	if marshalErr != nil {
		r.logger.Error("marshal reply failed", "error", marshalErr)
		return
	}
	if respondErr := msg.Respond(payload); respondErr != nil {
		r.logger.Warn("respond failed", "subject", msg.Subject, "error", respondErr)
	}
}

func (r *Responder) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), commandTimeout)
}

func (r *Responder) handleStatus(msg *nats.Msg) {
	r.respond(msg, r.engine.Snapshot(), nil)
}

func (r *Responder) handleReport(msg *nats.Msg) {
	r.respond(msg, r.engine.Report(), nil)
}

func (r *Responder) handleAdvance(msg *nats.Msg) {
	ctx, cancel := r.ctx()
	defer cancel()
	err := r.engine.AdvancePhase(ctx)
	r.respond(msg, r.engine.Snapshot(), err)
}

func (r *Responder) handleRollback(msg *nats.Msg) {
	ctx, cancel := r.ctx()
	defer cancel()
	err := r.engine.RollbackPhase(ctx)
	r.respond(msg, r.engine.Snapshot(), err)
}

func (r *Responder) handleDeploy(msg *nats.Msg) {
	var req deployRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		r.respond(msg, nil, err)
		return
	}
	ctx, cancel := r.ctx()
	defer cancel()
	agent, err := r.engine.DeployAgent(ctx, req.AgentType)
	r.respond(msg, agent, err)
}

func (r *Responder) handleEnqueue(msg *nats.Msg) {
	var req enqueueRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		r.respond(msg, nil, err)
		return
	}
	ctx, cancel := r.ctx()
	defer cancel()
	task, err := r.engine.EnqueueTask(ctx, req.Task)
	r.respond(msg, task, err)
}

func (r *Responder) handleTaskResult(msg *nats.Msg) {
	var req taskResultRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		r.respond(msg, nil, err)
		return
	}
	ctx, cancel := r.ctx()
	defer cancel()
	task, err := r.engine.ReportTaskResult(ctx, req.TaskID, req.Status, req.DurationMs, req.Detail)
	r.respond(msg, task, err)
}

func (r *Responder) handleTaskProgress(msg *nats.Msg) {
	var req taskProgressRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		r.respond(msg, nil, err)
		return
	}
	ctx, cancel := r.ctx()
	defer cancel()
	err := r.engine.ReportTaskProgress(ctx, req.TaskID, req.Progress, req.Message)
	r.respond(msg, nil, err)
}

func (r *Responder) handleConflictReport(msg *nats.Msg) {
	var req conflictReportRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		r.respond(msg, nil, err)
		return
	}
	ctx, cancel := r.ctx()
	defer cancel()
	conflict, err := r.engine.ReportConflict(ctx, req.Conflict)
	r.respond(msg, conflict, err)
}

func (r *Responder) handleConflictResolve(msg *nats.Msg) {
	var req conflictResolveRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		r.respond(msg, nil, err)
		return
	}
	ctx, cancel := r.ctx()
	defer cancel()
	conflict, err := r.engine.ResolveConflict(ctx, req.ConflictID)
	r.respond(msg, conflict, err)
}

func (r *Responder) handleValidation(msg *nats.Msg) {
	var req validationRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		r.respond(msg, nil, err)
		return
	}
	ctx, cancel := r.ctx()
	defer cancel()
	err := r.engine.RecordValidation(ctx, req.Phase, req.Passed)
	r.respond(msg, nil, err)
}
