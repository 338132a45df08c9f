package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

// AuditEventType represents the type of audit event.
type AuditEventType string

// Audit event types.
const (
	AuditEventCommitment   AuditEventType = "commitment_built"
	AuditEventVerification AuditEventType = "verification"
	AuditEventRemote       AuditEventType = "remote_verification"
	AuditEventKeyGenerated AuditEventType = "key_generated"
	AuditEventKeyLoaded    AuditEventType = "key_loaded"
	AuditEventConfigChange AuditEventType = "config_change"
	AuditEventError        AuditEventType = "error"
	AuditEventStartup      AuditEventType = "startup"
	AuditEventShutdown     AuditEventType = "shutdown"
)

// Audit results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// AuditEvent represents a security-relevant event.
type AuditEvent struct {
	Timestamp  time.Time              `json:"timestamp"`
	EventType  AuditEventType         `json:"event_type"`
	Component  string                 `json:"component"`
	Action     string                 `json:"action"`
	Resource   string                 `json:"resource,omitempty"`
	Result     string                 `json:"result"`
	Details    map[string]interface{} `json:"details,omitempty"`
	SourceIP   string                 `json:"source_ip,omitempty"`
	SourceFile string                 `json:"source_file,omitempty"`
	SourceLine int                    `json:"source_line,omitempty"`
	Error      string                 `json:"error,omitempty"`
	RequestID  string                 `json:"request_id,omitempty"`
}

// AuditLoggerConfig holds configuration for the audit logger.
type AuditLoggerConfig struct {
	// FilePath is the path to the audit log file.
	FilePath string

	// MaxSize is the maximum size in MB before rotation.
	MaxSize int

	// MaxAge is the maximum age in days before deletion.
	MaxAge int

	// MaxBackups is the maximum number of rotated files to keep.
	MaxBackups int

	Compress bool

	// Component is the component name for audit events.
	Component string

	// Writer, when set, replaces the rotated file.
	Writer io.Writer
}

// DefaultAuditConfig returns default audit logger configuration.
func DefaultAuditConfig() *AuditLoggerConfig {
	return &AuditLoggerConfig{
		FilePath:   filepath.Join(defaultLogDir(), "audit.log"),
		MaxSize:    50,
		MaxAge:     90,
		MaxBackups: 10,
		Compress:   true,
		Component:  "typeproof",
	}
}

// AuditLogger appends one JSON object per line for every commitment,
// verification and key event.
type AuditLogger struct {
	config *AuditLoggerConfig
	w      io.Writer
	closer io.Closer
	mu     sync.Mutex
}

// NewAuditLogger creates a new AuditLogger.
func NewAuditLogger(cfg *AuditLoggerConfig) (*AuditLogger, error) {
	if cfg == nil {
		cfg = DefaultAuditConfig()
	}
	a := &AuditLogger{config: cfg}
	if cfg.Writer != nil {
		a.w = cfg.Writer
		return a, nil
	}
	if cfg.FilePath == "" {
		return nil, fmt.Errorf("audit log path is required")
	}
	f := newRotatingFile(cfg.FilePath, cfg.MaxSize, cfg.MaxAge, cfg.MaxBackups, cfg.Compress)
	a.w = f
	a.closer = f
	return a, nil
}

// Log writes an audit event.
func (a *AuditLogger) Log(ctx context.Context, event AuditEvent) error {
	if a == nil {
		return nil
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.Component == "" {
		event.Component = a.config.Component
	}
	if event.RequestID == "" {
		event.RequestID = RequestIDFromContext(ctx)
	}
	if event.SourceFile == "" {
		if _, file, line, ok := runtime.Caller(2); ok {
			event.SourceFile = filepath.Base(file)
			event.SourceLine = line
		}
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	data = append(data, '\n')

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := a.w.Write(data); err != nil {
		return fmt.Errorf("write audit event: %w", err)
	}
	return nil
}

func result(ok bool) string {
	if ok {
		return ResultSuccess
	}
	return ResultFailure
}

// LogCommitment records a built commitment.
func (a *AuditLogger) LogCommitment(ctx context.Context, referenceID string, human bool, details map[string]interface{}) error {
	if details == nil {
		details = map[string]interface{}{}
	}
	details["human_verified"] = human
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventCommitment,
		Action:    "build",
		Resource:  referenceID,
		Result:    ResultSuccess,
		Details:   details,
	})
}

// LogVerification records a local verification run.
func (a *AuditLogger) LogVerification(ctx context.Context, referenceID string, consistent bool, details map[string]interface{}) error {
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventVerification,
		Action:    "verify",
		Resource:  referenceID,
		Result:    result(consistent),
		Details:   details,
	})
}

// LogRemote records a ledger submission.
func (a *AuditLogger) LogRemote(ctx context.Context, ledger, referenceID string, err error) error {
	event := AuditEvent{
		EventType: AuditEventRemote,
		Action:    "submit",
		Resource:  referenceID,
		Result:    result(err == nil),
		Details:   map[string]interface{}{"ledger": ledger},
	}
	if err != nil {
		event.Error = err.Error()
	}
	return a.Log(ctx, event)
}

// LogKeyGenerated records creation of a builder key.
func (a *AuditLogger) LogKeyGenerated(ctx context.Context, fingerprint, path string) error {
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventKeyGenerated,
		Action:    "generate",
		Resource:  fingerprint,
		Result:    ResultSuccess,
		Details:   map[string]interface{}{"path": path},
	})
}

// LogKeyLoaded records a builder key being loaded.
func (a *AuditLogger) LogKeyLoaded(ctx context.Context, fingerprint string, err error) error {
	event := AuditEvent{
		EventType: AuditEventKeyLoaded,
		Action:    "load",
		Resource:  fingerprint,
		Result:    result(err == nil),
	}
	if err != nil {
		event.Error = err.Error()
	}
	return a.Log(ctx, event)
}

// LogConfigChange records a hot-reloaded configuration.
func (a *AuditLogger) LogConfigChange(ctx context.Context, path string) error {
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventConfigChange,
		Action:    "reload",
		Resource:  path,
		Result:    ResultSuccess,
	})
}

// LogError records a failed operation.
func (a *AuditLogger) LogError(ctx context.Context, operation string, err error) error {
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventError,
		Action:    operation,
		Result:    ResultFailure,
		Error:     err.Error(),
	})
}

// LogStartup records daemon startup.
func (a *AuditLogger) LogStartup(ctx context.Context, version string, details map[string]interface{}) error {
	if details == nil {
		details = map[string]interface{}{}
	}
	details["version"] = version
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventStartup,
		Action:    "start",
		Result:    ResultSuccess,
		Details:   details,
	})
}

// LogShutdown records daemon shutdown.
func (a *AuditLogger) LogShutdown(ctx context.Context, reason string) error {
	return a.Log(ctx, AuditEvent{
		EventType: AuditEventShutdown,
		Action:    "stop",
		Result:    ResultSuccess,
		Details:   map[string]interface{}{"reason": reason},
	})
}

// Close closes the audit file.
func (a *AuditLogger) Close() error {
	if a == nil || a.closer == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closer.Close()
}
