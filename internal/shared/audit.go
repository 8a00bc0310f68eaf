package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/garmentflow/garmentflow/internal/platform/db"
)

// AuditLog represents a record stored in audit_logs.
type AuditLog struct {
	ActorID    int64          `json:"actorId"`
	Action     string         `json:"action"`
	EntityType string         `json:"entityType"`
	EntityID   string         `json:"entityId"`
	Details    map[string]any `json:"details,omitempty"`
	At         time.Time      `json:"timestamp"`
}

// Validate ensures the mandatory audit fields are present.
func (l AuditLog) Validate() error {
	if l.Action == "" || l.EntityType == "" || l.EntityID == "" {
		return errors.New("audit log requires action/entity_type/entity_id")
	}
	return nil
}

// AuditSink consumes audit records. Implementations must not block the caller for long.
type AuditSink interface {
	Record(ctx context.Context, log AuditLog) error
}

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	db db.DBTX
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(conn db.DBTX) *AuditLogger {
	return &AuditLogger{db: conn}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.db == nil {
		return errors.New("audit logger not initialised")
	}
	if err := log.Validate(); err != nil {
		return err
	}
	detailsJSON, err := json.Marshal(log.Details)
	if err != nil {
		return err
	}
	if log.At.IsZero() {
		log.At = time.Now().UTC()
	}
	_, err = l.db.Exec(ctx, `INSERT INTO audit_logs (actor_id, action, entity_type, entity_id, details, occurred_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		log.ActorID, log.Action, log.EntityType, log.EntityID, detailsJSON, log.At)
	return err
}
