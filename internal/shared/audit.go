package shared

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/fleetmaint/backoffice/internal/platform/db"
)

// QuerierSource resolves the querier for ctx, joining an open unit of work.
type QuerierSource interface {
	Querier(ctx context.Context) db.Querier
}

// AuditLog represents a record stored in audit_logs.
type AuditLog struct {
	Actor    string
	Action   string
	Entity   string
	EntityID string
	Meta     map[string]any
	At       time.Time
}

// AuditLogger writes records into audit_logs.
type AuditLogger struct {
	db QuerierSource
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(src QuerierSource) *AuditLogger {
	return &AuditLogger{db: src}
}

// Record persists the log entry. Called inside a unit of work the row commits
// with the transition it describes.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil {
		return errors.New("audit logger not initialised")
	}
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		return errors.New("audit log requires action/entity/entity_id")
	}
	metaJSON, err := json.Marshal(log.Meta)
	if err != nil {
		return err
	}
	var at *time.Time
	if !log.At.IsZero() {
		at = &log.At
	}
	_, err = l.db.Querier(ctx).Exec(ctx, `INSERT INTO audit_logs (actor, action, entity, entity_id, meta, occurred_at) VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()))`, log.Actor, log.Action, log.Entity, log.EntityID, metaJSON, at)
	return err
}
