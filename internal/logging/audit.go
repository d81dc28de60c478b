package logging

import (
	"time"

	"go.uber.org/zap"
)

// AuditEventType names a recorded action.
type AuditEventType string

const (
	AuditToolInvoke   AuditEventType = "tool_invoke"
	AuditToolComplete AuditEventType = "tool_complete"
	AuditToolError    AuditEventType = "tool_error"

	AuditTaskCreate AuditEventType = "task_create"
	AuditTaskUpdate AuditEventType = "task_update"
	AuditTaskDelete AuditEventType = "task_delete"

	AuditLLMResponse AuditEventType = "llm_response"
	AuditLLMError    AuditEventType = "llm_error"

	AuditTurnEnd AuditEventType = "turn_end"
)

// AuditEvent is one structured audit record.
type AuditEvent struct {
	EventType AuditEventType
	ActorID   string
	Target    string // task id or tool name
	Action    string
	Success   bool
	Duration  time.Duration
	Error     string
	Fields    map[string]interface{}
}

// AuditLogger writes audit events under the audit category.
type AuditLogger struct {
	actorID string
}

// Audit returns an audit logger without actor context.
func Audit() *AuditLogger {
	return &AuditLogger{}
}

// AuditFor returns an audit logger bound to an actor.
func AuditFor(actorID string) *AuditLogger {
	return &AuditLogger{actorID: actorID}
}

// Log writes the event as structured fields.
func (a *AuditLogger) Log(e AuditEvent) {
	if e.ActorID == "" {
		e.ActorID = a.actorID
	}
	fields := []zap.Field{
		zap.String("event", string(e.EventType)),
		zap.Bool("success", e.Success),
	}
	if e.ActorID != "" {
		fields = append(fields, zap.String("actor", e.ActorID))
	}
	if e.Target != "" {
		fields = append(fields, zap.String("target", e.Target))
	}
	if e.Action != "" {
		fields = append(fields, zap.String("action", e.Action))
	}
	if e.Duration > 0 {
		fields = append(fields, zap.Duration("duration", e.Duration))
	}
	if e.Error != "" {
		fields = append(fields, zap.String("error", e.Error))
	}
	for k, v := range e.Fields {
		fields = append(fields, zap.Any(k, v))
	}

	l := Get(CategoryAudit).Zap()
	if e.Success {
		l.Info("audit", fields...)
	} else {
		l.Warn("audit", fields...)
	}
}

// ToolExec records the completion of one tool invocation.
func (a *AuditLogger) ToolExec(toolName string, d time.Duration, success bool, errMsg string) {
	ev := AuditToolComplete
	if !success {
		ev = AuditToolError
	}
	a.Log(AuditEvent{EventType: ev, Target: toolName, Action: "execute", Success: success, Duration: d, Error: errMsg})
}

// TaskMutation records a create/update/delete against the store.
func (a *AuditLogger) TaskMutation(ev AuditEventType, taskID string) {
	a.Log(AuditEvent{EventType: ev, Target: taskID, Success: true})
}

// LLMCall records one model round trip.
func (a *AuditLogger) LLMCall(model string, tokens int, d time.Duration, success bool, errMsg string) {
	ev := AuditLLMResponse
	if !success {
		ev = AuditLLMError
	}
	a.Log(AuditEvent{
		EventType: ev,
		Target:    model,
		Success:   success,
		Duration:  d,
		Error:     errMsg,
		Fields:    map[string]interface{}{"tokens": tokens},
	})
}

// TurnEnd records the end of a conversation request.
func (a *AuditLogger) TurnEnd(modelCalls, toolCalls int, exhausted bool, d time.Duration) {
	a.Log(AuditEvent{
		EventType: AuditTurnEnd,
		Success:   !exhausted,
		Duration:  d,
		Fields:    map[string]interface{}{"model_calls": modelCalls, "tool_calls": toolCalls, "exhausted": exhausted},
	})
}
