// Audit logging that outputs Mangle-queryable facts.
// Each event becomes one fact line so `alia query` can load a run's audit
// trail alongside a working-memory dump.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// =============================================================================
// AUDIT EVENT TYPES - Maps to Mangle predicates
// =============================================================================

// AuditEventType defines the type of audit event (maps to Mangle predicate)
type AuditEventType string

const (
	// Exchange cycle -> cycle_event/4
	AuditCycleSense AuditEventType = "cycle_sense"
	AuditCycleThink AuditEventType = "cycle_think"
	AuditCycleQuit  AuditEventType = "cycle_quit"

	// Focus lifecycle -> focus_event/4
	AuditFocusAdd     AuditEventType = "focus_add"
	AuditFocusDone    AuditEventType = "focus_done"
	AuditFocusFail    AuditEventType = "focus_fail"
	AuditFocusReplace AuditEventType = "focus_replace"

	// Kernel calls -> kernel_call/5
	AuditKernelStart AuditEventType = "kernel_start"
	AuditKernelStop  AuditEventType = "kernel_stop"
	AuditKernelFail  AuditEventType = "kernel_fail"

	// Knowledge growth -> learned/4
	AuditRuleLearned AuditEventType = "rule_learned"
	AuditOpLearned   AuditEventType = "op_learned"
	AuditRuleMerged  AuditEventType = "rule_consolidated"

	// Dialog -> utterance/4
	AuditHeard AuditEventType = "heard"
	AuditSaid  AuditEventType = "said"

	// Error events -> error_event/4
	AuditErrorFatal AuditEventType = "error_fatal"
)

// AuditEvent represents a structured audit log entry that can be parsed to Mangle.
type AuditEvent struct {
	Timestamp  int64          // Unix milliseconds
	EventType  AuditEventType // Maps to Mangle predicate
	Cycle      int64          // Exchange cycle number
	Target     string         // Focus, kernel function, rule name
	Success    bool
	DurationMs int64
	Text       string
}

// =============================================================================
// AUDIT LOGGER
// =============================================================================

var (
	auditFile *os.File
	auditMu   sync.Mutex
)

// InitAudit opens the audit fact file for today. No-op unless debug mode.
func InitAudit() error {
	if !IsDebugMode() {
		return nil
	}

	auditMu.Lock()
	defer auditMu.Unlock()
	if auditFile != nil {
		return nil
	}

	mu.RLock()
	dir := logsDir
	mu.RUnlock()

	path := filepath.Join(dir, fmt.Sprintf("%s_audit.mg", time.Now().Format("2006-01-02")))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	auditFile = file
	fmt.Fprintf(auditFile, "# audit started %s\n", time.Now().Format(time.RFC3339))
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

// AuditPath returns the currently open audit file, or "" when auditing is off.
func AuditPath() string {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditFile == nil {
		return ""
	}
	return auditFile.Name()
}

// Audit writes one event as a Mangle fact line.
func Audit(e AuditEvent) {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditFile == nil {
		return
	}
	if e.Timestamp == 0 {
		e.Timestamp = time.Now().UnixMilli()
	}
	auditFile.WriteString(MangleFact(e) + "\n")
}

// MangleFact formats an event as a Mangle fact.
func MangleFact(e AuditEvent) string {
	switch e.EventType {
	case AuditCycleSense, AuditCycleThink, AuditCycleQuit:
		return fmt.Sprintf("cycle_event(%d, /%s, %d, %d).",
			e.Timestamp, e.EventType, e.Cycle, e.DurationMs)

	case AuditFocusAdd, AuditFocusDone, AuditFocusFail, AuditFocusReplace:
		return fmt.Sprintf("focus_event(%d, /%s, %d, \"%s\").",
			e.Timestamp, e.EventType, e.Cycle, escapeString(e.Target))

	case AuditKernelStart, AuditKernelStop, AuditKernelFail:
		ok := "/false"
		if e.Success {
			ok = "/true"
		}
		return fmt.Sprintf("kernel_call(%d, /%s, %d, \"%s\", %s).",
			e.Timestamp, e.EventType, e.Cycle, escapeString(e.Target), ok)

	case AuditRuleLearned, AuditOpLearned, AuditRuleMerged:
		return fmt.Sprintf("learned(%d, /%s, \"%s\", \"%s\").",
			e.Timestamp, e.EventType, escapeString(e.Target), escapeString(e.Text))

	case AuditHeard, AuditSaid:
		return fmt.Sprintf("utterance(%d, /%s, %d, \"%s\").",
			e.Timestamp, e.EventType, e.Cycle, escapeString(e.Text))

	default:
		return fmt.Sprintf("error_event(%d, /%s, %d, \"%s\").",
			e.Timestamp, e.EventType, e.Cycle, escapeString(e.Text))
	}
}

func escapeString(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
