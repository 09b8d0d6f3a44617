// api/internal/core/domain/audit.go
package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// SystemAlert is a single audit/security event raised by the platform
// (deployment failures, application health changes). The cluster tunnel
// fabric does not raise alerts.
type SystemAlert struct {
	ID         uuid.UUID      `json:"id" db:"id"`
	Severity   string         `json:"severity" db:"severity"` // info, warning, critical
	Category   string         `json:"category" db:"category"`
	ResourceID string         `json:"resource_id" db:"resource_id"`
	Message    string         `json:"message" db:"message"`
	IsResolved bool           `json:"is_resolved" db:"is_resolved"`
	Metadata   map[string]any `json:"metadata" db:"metadata"`
	CreatedAt  time.Time      `json:"created_at" db:"created_at"`
}

// AlertFilter narrows GetFilteredAlerts. A zero value means "no filter" for
// that field.
type AlertFilter struct {
	IsResolved *bool
	Severity   string
	TraceID    string
	Limit      int
	Offset     int
}

// AuditRepository persists and queries system alerts.
type AuditRepository interface {
	CreateAlert(ctx context.Context, alert *SystemAlert) error
	GetFilteredAlerts(ctx context.Context, filter AlertFilter) ([]SystemAlert, int, error)
	ResolveAlert(ctx context.Context, alertID uuid.UUID, resolverID uuid.UUID) error
}
