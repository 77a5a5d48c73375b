// Package logging provides audit logging that outputs grep-friendly trace
// facts. Audit logs are structured events covering the full answer pipeline:
// derivation, routing, solving, narration, and grounding. Each event carries
// both a JSON body and a compact predicate-style trace line.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// AUDIT EVENT TYPES - Maps to trace predicates
// =============================================================================

// AuditEventType defines the type of audit event (maps to a trace predicate)
type AuditEventType string

const (
	// Request lifecycle events -> request_event/5
	AuditRequestStart    AuditEventType = "request_start"
	AuditRequestComplete AuditEventType = "request_complete"
	AuditRequestError    AuditEventType = "request_error"

	// Fact derivation events -> facts_event/5
	AuditFactsDerived AuditEventType = "facts_derived"
	AuditFactsWarning AuditEventType = "facts_warning"

	// Intent routing events -> intent_event/5
	AuditIntentRouted AuditEventType = "intent_routed"
	AuditIntentNone   AuditEventType = "intent_none"

	// Solver events -> solver_event/6
	AuditSolverRun       AuditEventType = "solver_run"
	AuditSolverUnbounded AuditEventType = "solver_unbounded"

	// Plan events -> plan_event/4
	AuditPlanBuilt AuditEventType = "plan_built"
	AuditPlanError AuditEventType = "plan_error"

	// LLM narration events -> llm_call/6
	AuditLLMRequest  AuditEventType = "llm_request"
	AuditLLMResponse AuditEventType = "llm_response"
	AuditLLMError    AuditEventType = "llm_error"

	// Fallback composition -> fallback_event/4
	AuditFallbackUsed AuditEventType = "fallback_used"

	// Grounding validation -> grounding_event/6
	AuditGroundingPass AuditEventType = "grounding_pass"
	AuditGroundingFail AuditEventType = "grounding_fail"

	// Policy lifecycle -> policy_event/5
	AuditPolicyLoaded   AuditEventType = "policy_loaded"
	AuditPolicyReloaded AuditEventType = "policy_reloaded"
	AuditPolicyInvalid  AuditEventType = "policy_invalid"

	// Performance -> perf_metric/4
	AuditPerfMetric AuditEventType = "perf_metric"
	AuditPerfSlow   AuditEventType = "perf_slow"

	// Error events -> error_event/4
	AuditErrorGeneric  AuditEventType = "error_generic"
	AuditErrorCritical AuditEventType = "error_critical"
	AuditErrorRecovery AuditEventType = "error_recovery"
)

// =============================================================================
// AUDIT EVENT STRUCTURE
// =============================================================================

// AuditEvent represents a structured audit log entry.
// Format: predicate(timestamp, category, ...args)
type AuditEvent struct {
	Timestamp  int64                  `json:"ts"`      // Unix milliseconds
	EventType  AuditEventType         `json:"event"`   // Maps to trace predicate
	Category   string                 `json:"cat"`     // Log category
	RequestID  string                 `json:"req"`     // Request correlation
	Target     string                 `json:"target"`  // Target of operation
	Action     string                 `json:"action"`  // Action being performed
	Success    bool                   `json:"success"` // Operation succeeded
	DurationMs int64                  `json:"dur_ms"`  // Duration in milliseconds
	Error      string                 `json:"error"`   // Error message if failed
	Message    string                 `json:"msg"`     // Human-readable message
	Fields     map[string]interface{} `json:"fields"`  // Additional structured fields
	Trace      string                 `json:"trace"`   // Pre-formatted trace fact
}

// =============================================================================
// AUDIT LOGGER
// =============================================================================

var (
	auditFile   *os.File
	auditMu     sync.Mutex
	auditLogger *AuditLogger
)

// AuditLogger handles structured audit logging with trace fact generation
type AuditLogger struct {
	requestID string
	category  Category
}

// InitAudit initializes the audit logging system
func InitAudit() error {
	if !IsDebugMode() {
		return nil
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		return nil // Already initialized
	}

	date := time.Now().Format("2006-01-02")
	auditPath := filepath.Join(logsDir, fmt.Sprintf("%s_audit.log", date))

	file, err := os.OpenFile(auditPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	auditFile = file

	header := fmt.Sprintf("# Audit log started at %s\n# Format: structured pipeline events, one JSON object per line\n", time.Now().Format(time.RFC3339))
	auditFile.WriteString(header)

	return nil
}

// CloseAudit closes the audit log file
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// Audit returns the global audit logger
func Audit() *AuditLogger {
	if auditLogger == nil {
		auditLogger = &AuditLogger{}
	}
	return auditLogger
}

// AuditWithRequest creates an audit logger scoped to a request
func AuditWithRequest(requestID string) *AuditLogger {
	return &AuditLogger{requestID: requestID}
}

// AuditWithContext creates a fully-scoped audit logger
func AuditWithContext(requestID string, category Category) *AuditLogger {
	return &AuditLogger{
		requestID: requestID,
		category:  category,
	}
}

// =============================================================================
// AUDIT LOGGING METHODS
// =============================================================================

// Log writes an audit event
func (a *AuditLogger) Log(event AuditEvent) {
	if !IsDebugMode() || auditFile == nil {
		return
	}

	// Fill in defaults
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	if event.RequestID == "" && a.requestID != "" {
		event.RequestID = a.requestID
	}
	if event.Category == "" && a.category != "" {
		event.Category = string(a.category)
	}
	if event.Fields == nil {
		event.Fields = make(map[string]interface{})
	}

	event.Trace = generateTrace(event)

	auditMu.Lock()
	defer auditMu.Unlock()

	data, err := json.Marshal(event)
	if err == nil {
		auditFile.WriteString(string(data) + "\n")
	}
}

// generateTrace creates a predicate-style fact string from an event
func generateTrace(e AuditEvent) string {
	switch e.EventType {
	case AuditRequestStart, AuditRequestComplete, AuditRequestError:
		return fmt.Sprintf("request_event(%d, /%s, \"%s\", %v, %d).",
			e.Timestamp, e.EventType, e.RequestID, e.Success, e.DurationMs)

	case AuditFactsDerived, AuditFactsWarning:
		facts := 0
		if f, ok := e.Fields["facts"].(int); ok {
			facts = f
		}
		warnings := 0
		if w, ok := e.Fields["warnings"].(int); ok {
			warnings = w
		}
		return fmt.Sprintf("facts_event(%d, /%s, \"%s\", %d, %d).",
			e.Timestamp, e.EventType, e.RequestID, facts, warnings)

	case AuditIntentRouted, AuditIntentNone:
		return fmt.Sprintf("intent_event(%d, /%s, \"%s\", \"%s\", %v).",
			e.Timestamp, e.EventType, e.RequestID, e.Target, e.Success)

	case AuditSolverRun, AuditSolverUnbounded:
		years := 0.0
		if y, ok := e.Fields["years"].(float64); ok {
			years = y
		}
		return fmt.Sprintf("solver_event(%d, /%s, \"%s\", \"%s\", %.2f, %d).",
			e.Timestamp, e.EventType, e.RequestID, e.Target, years, e.DurationMs)

	case AuditPlanBuilt, AuditPlanError:
		return fmt.Sprintf("plan_event(%d, /%s, %v, %d).",
			e.Timestamp, e.EventType, e.Success, e.DurationMs)

	case AuditLLMRequest, AuditLLMResponse, AuditLLMError:
		tokens := 0
		if t, ok := e.Fields["tokens"].(int); ok {
			tokens = t
		}
		return fmt.Sprintf("llm_call(%d, /%s, \"%s\", %v, %d, %d).",
			e.Timestamp, e.EventType, e.Target, e.Success, e.DurationMs, tokens)

	case AuditFallbackUsed:
		return fmt.Sprintf("fallback_event(%d, \"%s\", \"%s\").",
			e.Timestamp, e.RequestID, escapeString(e.Message))

	case AuditGroundingPass, AuditGroundingFail:
		confidence := ""
		if c, ok := e.Fields["confidence"].(string); ok {
			confidence = c
		}
		violations := 0
		if v, ok := e.Fields["violations"].(int); ok {
			violations = v
		}
		return fmt.Sprintf("grounding_event(%d, /%s, \"%s\", \"%s\", %d, %v).",
			e.Timestamp, e.EventType, e.RequestID, confidence, violations, e.Success)

	case AuditPolicyLoaded, AuditPolicyReloaded, AuditPolicyInvalid:
		return fmt.Sprintf("policy_event(%d, /%s, \"%s\", %v, \"%s\").",
			e.Timestamp, e.EventType, e.Target, e.Success, escapeString(e.Error))

	case AuditPerfMetric, AuditPerfSlow:
		return fmt.Sprintf("perf_metric(%d, \"%s\", \"%s\", %d).",
			e.Timestamp, e.Category, e.Action, e.DurationMs)

	case AuditErrorGeneric, AuditErrorCritical, AuditErrorRecovery:
		return fmt.Sprintf("error_event(%d, /%s, \"%s\", \"%s\").",
			e.Timestamp, e.EventType, e.Category, escapeString(e.Error))

	default:
		return fmt.Sprintf("audit_event(%d, /%s, \"%s\", \"%s\", %v).",
			e.Timestamp, e.EventType, e.Category, escapeString(e.Message), e.Success)
	}
}

func escapeString(s string) string {
	// Escape quotes and backslashes for trace strings.
	// strings.Builder keeps this single-allocation for typical messages.
	var b strings.Builder
	b.Grow(len(s) + len(s)/10)

	for _, c := range s {
		switch c {
		case '"':
			b.WriteString("\\\"")
		case '\\':
			b.WriteString("\\\\")
		case '\n':
			b.WriteString("\\n")
		case '\r':
			b.WriteString("\\r")
		case '\t':
			b.WriteString("\\t")
		default:
			b.WriteRune(c)
		}
	}
	return b.String()
}

// =============================================================================
// CONVENIENCE METHODS FOR COMMON EVENTS
// =============================================================================

// RequestStart logs the beginning of an answer request
func (a *AuditLogger) RequestStart(requestID, query string) {
	a.Log(AuditEvent{
		EventType: AuditRequestStart,
		Category:  string(CategoryEngine),
		RequestID: requestID,
		Message:   query,
		Success:   true,
	})
}

// RequestComplete logs the end of an answer request
func (a *AuditLogger) RequestComplete(requestID string, durationMs int64, success bool, errMsg string) {
	eventType := AuditRequestComplete
	if !success {
		eventType = AuditRequestError
	}
	a.Log(AuditEvent{
		EventType:  eventType,
		Category:   string(CategoryEngine),
		RequestID:  requestID,
		Success:    success,
		DurationMs: durationMs,
		Error:      errMsg,
	})
}

// FactsDerived logs a completed fact derivation
func (a *AuditLogger) FactsDerived(requestID string, factCount, warningCount int) {
	eventType := AuditFactsDerived
	if warningCount > 0 {
		eventType = AuditFactsWarning
	}
	a.Log(AuditEvent{
		EventType: eventType,
		Category:  string(CategoryFacts),
		RequestID: requestID,
		Success:   true,
		Fields: map[string]interface{}{
			"facts":    factCount,
			"warnings": warningCount,
		},
	})
}

// IntentRouted logs a calculation routing decision
func (a *AuditLogger) IntentRouted(requestID, calcType, matched string) {
	eventType := AuditIntentRouted
	routed := calcType != ""
	if !routed {
		eventType = AuditIntentNone
	}
	a.Log(AuditEvent{
		EventType: eventType,
		Category:  string(CategoryIntent),
		RequestID: requestID,
		Target:    calcType,
		Action:    matched,
		Success:   routed,
	})
}

// SolverRun logs a solver invocation
func (a *AuditLogger) SolverRun(requestID, metric string, years float64, unbounded bool, durationMs int64) {
	eventType := AuditSolverRun
	if unbounded {
		eventType = AuditSolverUnbounded
	}
	a.Log(AuditEvent{
		EventType:  eventType,
		Category:   string(CategorySolver),
		RequestID:  requestID,
		Target:     metric,
		Success:    !unbounded,
		DurationMs: durationMs,
		Fields: map[string]interface{}{
			"years": years,
		},
	})
}

// PlanBuilt logs a plan construction
func (a *AuditLogger) PlanBuilt(durationMs int64, success bool, errMsg string) {
	eventType := AuditPlanBuilt
	if !success {
		eventType = AuditPlanError
	}
	a.Log(AuditEvent{
		EventType:  eventType,
		Category:   string(CategoryPlan),
		Success:    success,
		DurationMs: durationMs,
		Error:      errMsg,
	})
}

// LLMCall logs an LLM narration call
func (a *AuditLogger) LLMCall(model string, tokens int, durationMs int64, success bool, errMsg string) {
	eventType := AuditLLMResponse
	if !success {
		eventType = AuditLLMError
	}
	a.Log(AuditEvent{
		EventType:  eventType,
		Category:   string(CategoryNarrator),
		Target:     model,
		Success:    success,
		DurationMs: durationMs,
		Error:      errMsg,
		Fields: map[string]interface{}{
			"tokens": tokens,
		},
	})
}

// FallbackUsed logs a deterministic fallback composition
func (a *AuditLogger) FallbackUsed(requestID, reason string) {
	a.Log(AuditEvent{
		EventType: AuditFallbackUsed,
		Category:  string(CategoryNarrator),
		RequestID: requestID,
		Message:   reason,
		Success:   true,
	})
}

// GroundingChecked logs a grounding validation outcome
func (a *AuditLogger) GroundingChecked(requestID string, valid bool, confidence string, violations int) {
	eventType := AuditGroundingPass
	if !valid {
		eventType = AuditGroundingFail
	}
	a.Log(AuditEvent{
		EventType: eventType,
		Category:  string(CategoryGrounding),
		RequestID: requestID,
		Success:   valid,
		Fields: map[string]interface{}{
			"confidence": confidence,
			"violations": violations,
		},
	})
}

// PolicyEvent logs a policy load, reload, or rejection
func (a *AuditLogger) PolicyEvent(eventType AuditEventType, path string, success bool, errMsg string) {
	a.Log(AuditEvent{
		EventType: eventType,
		Category:  string(CategoryConfig),
		Target:    path,
		Success:   success,
		Error:     errMsg,
	})
}

// PerfMetric logs a performance measurement
func (a *AuditLogger) PerfMetric(operation string, durationMs int64, threshold int64) {
	eventType := AuditPerfMetric
	if durationMs > threshold {
		eventType = AuditPerfSlow
	}
	a.Log(AuditEvent{
		EventType:  eventType,
		Action:     operation,
		Success:    durationMs <= threshold,
		DurationMs: durationMs,
	})
}

// Error logs an error event
func (a *AuditLogger) Error(category string, err error, critical bool) {
	eventType := AuditErrorGeneric
	if critical {
		eventType = AuditErrorCritical
	}
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	a.Log(AuditEvent{
		EventType: eventType,
		Category:  category,
		Success:   false,
		Error:     errMsg,
	})
}
