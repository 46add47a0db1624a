// Audit logging: a JSONL trail of everything the agent did to a workspace.
// Each line is one event; the file lives next to the category logs and is
// only written in debug mode.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditEventType identifies what kind of event a line records.
type AuditEventType string

const (
	// Session lifecycle
	AuditSessionStart AuditEventType = "session_start"
	AuditSessionEnd   AuditEventType = "session_end"
	AuditTurnStart    AuditEventType = "turn_start"
	AuditTurnEnd      AuditEventType = "turn_end"

	// LLM API events
	AuditLLMRequest  AuditEventType = "llm_request"
	AuditLLMResponse AuditEventType = "llm_response"
	AuditLLMError    AuditEventType = "llm_error"

	// Tool execution
	AuditToolInvoke   AuditEventType = "tool_invoke"
	AuditToolComplete AuditEventType = "tool_complete"
	AuditToolError    AuditEventType = "tool_error"

	// Tool-name correction (fuzzy fallback match applied)
	AuditToolCorrected AuditEventType = "tool_corrected"

	// Confirmation gate decisions
	AuditConfirmApprove AuditEventType = "confirm_approve"
	AuditConfirmDeny    AuditEventType = "confirm_deny"
	AuditConfirmAbort   AuditEventType = "confirm_abort"

	// Context management
	AuditCompaction AuditEventType = "compaction"
	AuditTruncation AuditEventType = "truncation"

	// Config hot-reload
	AuditConfigReload AuditEventType = "config_reload"
)

// AuditEvent is one JSONL line in the audit log.
type AuditEvent struct {
	Timestamp  int64                  `json:"ts"` // Unix milliseconds
	EventType  AuditEventType         `json:"event"`
	SessionID  string                 `json:"session,omitempty"`
	Target     string                 `json:"target,omitempty"` // tool name, model, file path
	Action     string                 `json:"action,omitempty"`
	Success    bool                   `json:"success"`
	DurationMs int64                  `json:"dur_ms,omitempty"`
	Error      string                 `json:"error,omitempty"`
	Message    string                 `json:"msg,omitempty"`
	Fields     map[string]interface{} `json:"fields,omitempty"`
}

var (
	auditFile   *os.File
	auditMu     sync.Mutex
	auditLogger *AuditLogger
)

// AuditLogger writes structured audit events, optionally scoped to a session.
type AuditLogger struct {
	sessionID string
}

// InitAudit opens the audit log file. No-op outside debug mode.
func InitAudit() error {
	if !IsDebugMode() {
		return nil
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		return nil // Already initialized
	}

	loggersMu.RLock()
	dir := logsDir
	loggersMu.RUnlock()
	if dir == "" {
		return fmt.Errorf("logging not initialized")
	}

	date := time.Now().Format("2006-01-02")
	auditPath := filepath.Join(dir, fmt.Sprintf("%s_audit.jsonl", date))

	file, err := os.OpenFile(auditPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	auditFile = file
	return nil
}

// CloseAudit closes the audit log file.
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// Audit returns the global audit logger.
func Audit() *AuditLogger {
	if auditLogger == nil {
		auditLogger = &AuditLogger{}
	}
	return auditLogger
}

// AuditWithSession returns an audit logger scoped to a session.
func AuditWithSession(sessionID string) *AuditLogger {
	return &AuditLogger{sessionID: sessionID}
}

// Log writes an audit event. Safe to call when auditing is disabled.
func (a *AuditLogger) Log(event AuditEvent) {
	if !IsDebugMode() || auditFile == nil {
		return
	}

	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	if event.SessionID == "" && a.sessionID != "" {
		event.SessionID = a.sessionID
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	data, err := json.Marshal(event)
	if err == nil {
		auditFile.WriteString(string(data) + "\n")
	}
}

// SessionStart logs session start.
func (a *AuditLogger) SessionStart(sessionID string) {
	a.Log(AuditEvent{
		EventType: AuditSessionStart,
		SessionID: sessionID,
		Success:   true,
		Message:   fmt.Sprintf("Session started: %s", sessionID),
	})
}

// SessionEnd logs session end.
func (a *AuditLogger) SessionEnd(sessionID string, turnCount int, durationMs int64) {
	a.Log(AuditEvent{
		EventType:  AuditSessionEnd,
		SessionID:  sessionID,
		Success:    true,
		DurationMs: durationMs,
		Fields:     map[string]interface{}{"turn_count": turnCount},
	})
}

// TurnStart logs the beginning of a chat turn.
func (a *AuditLogger) TurnStart(turnNum, inputLen int) {
	a.Log(AuditEvent{
		EventType: AuditTurnStart,
		Success:   true,
		Fields:    map[string]interface{}{"turn": turnNum, "input_len": inputLen},
	})
}

// TurnEnd logs the end of a chat turn with its iteration and tool counts.
func (a *AuditLogger) TurnEnd(turnNum, iterations, toolCalls int, durationMs int64, success bool) {
	a.Log(AuditEvent{
		EventType:  AuditTurnEnd,
		Success:    success,
		DurationMs: durationMs,
		Fields: map[string]interface{}{
			"turn":       turnNum,
			"iterations": iterations,
			"tool_calls": toolCalls,
		},
	})
}

// LLMCall logs one model round trip.
func (a *AuditLogger) LLMCall(model string, inputTokens, outputTokens int, durationMs int64, success bool, errMsg string) {
	eventType := AuditLLMResponse
	if !success {
		eventType = AuditLLMError
	}
	a.Log(AuditEvent{
		EventType:  eventType,
		Target:     model,
		Success:    success,
		DurationMs: durationMs,
		Error:      errMsg,
		Fields: map[string]interface{}{
			"input_tokens":  inputTokens,
			"output_tokens": outputTokens,
		},
	})
}

// ToolExec logs a completed tool execution.
func (a *AuditLogger) ToolExec(toolName, action string, durationMs int64, success bool, errMsg string) {
	eventType := AuditToolComplete
	if !success {
		eventType = AuditToolError
	}
	a.Log(AuditEvent{
		EventType:  eventType,
		Target:     toolName,
		Action:     action,
		Success:    success,
		DurationMs: durationMs,
		Error:      errMsg,
	})
}

// ToolCorrected logs a fuzzy tool-name correction.
func (a *AuditLogger) ToolCorrected(requested, matched string, score float64) {
	a.Log(AuditEvent{
		EventType: AuditToolCorrected,
		Target:    matched,
		Action:    requested,
		Success:   true,
		Fields:    map[string]interface{}{"score": score},
		Message:   fmt.Sprintf("Corrected tool name %q -> %q", requested, matched),
	})
}

// Confirmation logs a confirmation-gate decision.
func (a *AuditLogger) Confirmation(toolName string, decision string) {
	var eventType AuditEventType
	switch decision {
	case "deny":
		eventType = AuditConfirmDeny
	case "abort":
		eventType = AuditConfirmAbort
	default:
		eventType = AuditConfirmApprove
	}
	a.Log(AuditEvent{
		EventType: eventType,
		Target:    toolName,
		Success:   eventType == AuditConfirmApprove,
	})
}

// Compaction logs a history compaction with before/after token estimates.
func (a *AuditLogger) Compaction(beforeTokens, afterTokens, messagesBefore, messagesAfter int) {
	a.Log(AuditEvent{
		EventType: AuditCompaction,
		Success:   true,
		Fields: map[string]interface{}{
			"tokens_before":   beforeTokens,
			"tokens_after":    afterTokens,
			"messages_before": messagesBefore,
			"messages_after":  messagesAfter,
		},
	})
}

// Truncation logs in-place tool-result truncation.
func (a *AuditLogger) Truncation(replaced int, savedChars int) {
	a.Log(AuditEvent{
		EventType: AuditTruncation,
		Success:   true,
		Fields: map[string]interface{}{
			"results_replaced": replaced,
			"chars_saved":      savedChars,
		},
	})
}

// ConfigReload logs a config hot-reload.
func (a *AuditLogger) ConfigReload(path string, success bool, errMsg string) {
	a.Log(AuditEvent{
		EventType: AuditConfigReload,
		Target:    path,
		Success:   success,
		Error:     errMsg,
	})
}
