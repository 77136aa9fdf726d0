package observability

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// AuditEventType categorizes audit events.
type AuditEventType string

const (
	AuditEventDocumentIngest AuditEventType = "document.ingest"
	AuditEventDocumentDelete AuditEventType = "document.delete"
	AuditEventQuestionAnswer AuditEventType = "question.answer"
)

// AuditEvent represents a single audit log entry, written as one JSON line.
type AuditEvent struct {
	Timestamp   time.Time      `json:"timestamp"`
	EventType   AuditEventType `json:"event_type"`
	SessionID   string         `json:"session_id"`
	Source      string         `json:"source,omitempty"`
	Success     bool           `json:"success"`
	Duration    time.Duration  `json:"duration_ms,omitempty"`
	Message     string         `json:"message,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	ErrorDetail string         `json:"error_detail,omitempty"`
}

// AuditLogger handles audit event logging.
type AuditLogger struct {
	mu        sync.Mutex
	writer    io.Writer
	sessionID string
	enabled   bool
}

// AuditConfig configures the audit logger.
type AuditConfig struct {
	Enabled    bool
	OutputPath string // File path or "stdout"/"stderr"
	SessionID  string
}

// NewAuditLogger creates a new audit logger. A nil config yields a disabled
// logger whose methods are no-ops.
func NewAuditLogger(config *AuditConfig) (*AuditLogger, error) {
	if config == nil || !config.Enabled {
		return &AuditLogger{enabled: false}, nil
	}

	var writer io.Writer
	switch config.OutputPath {
	case "stdout", "":
		writer = os.Stdout
	case "stderr":
		writer = os.Stderr
	default:
		f, err := os.OpenFile(config.OutputPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		writer = f
	}

	sessionID := config.SessionID
	if sessionID == "" {
		sessionID = fmt.Sprintf("session-%d", time.Now().UnixNano())
	}

	return &AuditLogger{
		writer:    writer,
		sessionID: sessionID,
		enabled:   true,
	}, nil
}

// Log writes an audit event.
func (l *AuditLogger) Log(event *AuditEvent) error {
	if !l.enabled {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.SessionID == "" {
		event.SessionID = l.sessionID
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	_, err = fmt.Fprintf(l.writer, "%s\n", data)
	return err
}

// LogIngest logs a document ingestion.
func (l *AuditLogger) LogIngest(source string, chunkCount int, duration time.Duration, err error) {
	event := &AuditEvent{
		EventType: AuditEventDocumentIngest,
		Source:    source,
		Success:   err == nil,
		Duration:  duration,
		Message:   fmt.Sprintf("Ingested %s: %d chunks", source, chunkCount),
		Details: map[string]any{
			"chunk_count": chunkCount,
		},
	}
	if err != nil {
		event.Message = fmt.Sprintf("Ingestion of %s failed", source)
		event.ErrorDetail = err.Error()
	}
	l.Log(event)
}

// LogDelete logs the removal of a source document.
func (l *AuditLogger) LogDelete(source string, err error) {
	event := &AuditEvent{
		EventType: AuditEventDocumentDelete,
		Source:    source,
		Success:   err == nil,
		Message:   fmt.Sprintf("Deleted %s", source),
	}
	if err != nil {
		event.Message = fmt.Sprintf("Deletion of %s failed", source)
		event.ErrorDetail = err.Error()
	}
	l.Log(event)
}

// LogAnswer logs an answered question. The question text itself is not
// recorded, only the shape of the request.
func (l *AuditLogger) LogAnswer(sourceFilter string, questionLen int, duration time.Duration, err error) {
	event := &AuditEvent{
		EventType: AuditEventQuestionAnswer,
		Source:    sourceFilter,
		Success:   err == nil,
		Duration:  duration,
		Message:   "Question answered",
		Details: map[string]any{
			"question_chars": questionLen,
		},
	}
	if err != nil {
		event.Message = "Question failed"
		event.ErrorDetail = err.Error()
	}
	l.Log(event)
}

// Close closes the audit logger (if using a file).
func (l *AuditLogger) Close() error {
	if closer, ok := l.writer.(io.Closer); ok {
		if closer != os.Stdout && closer != os.Stderr {
			return closer.Close()
		}
	}
	return nil
}
