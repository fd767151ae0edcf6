package shared

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// AuditLog is one ledger event stored in audit_logs. ActorID 0 marks a
// system action.
type AuditLog struct {
	ActorID  int64
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// AuditLogger appends ledger events to audit_logs.
type AuditLogger struct {
	q Querier
}

// NewAuditLogger returns an AuditLogger writing through q, usually the pool.
func NewAuditLogger(q Querier) *AuditLogger {
	return &AuditLogger{q: q}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil || l.q == nil {
		return fmt.Errorf("audit: logger not initialised")
	}
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return Validationf("audit log requires action, entity and entity id")
	}
	meta := log.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("audit: encode meta: %w", err)
	}
	var at *time.Time
	if !log.At.IsZero() {
		utc := log.At.UTC()
		at = &utc
	}
	if _, err := l.q.Exec(ctx, `INSERT INTO audit_logs (actor_id, action, entity, entity_id, meta, occurred_at)
VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`, log.ActorID, log.Action, log.Entity, log.EntityID, metaJSON, at); err != nil {
		return fmt.Errorf("audit: insert %s: %w", log.Action, err)
	}
	return nil
}
