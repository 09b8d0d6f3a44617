// api/internal/core/domain/profile.go
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// SystemProfile dictates the global defaults for the Kari control panel.
// By loading this as data, the Go API never hardcodes business rules.
// Version backs optimistic concurrency control in the repository layer.
type SystemProfile struct {
	ID                     uuid.UUID         `json:"id"`
	DefaultStackRegistry   map[string]string `json:"default_stack_registry"` // e.g. {"nodejs": "20", "php": "8.3"}
	SSLStrategy            string            `json:"ssl_strategy"`           // "letsencrypt", "zerossl", "custom_pki"
	MaxMemoryPerAppMB      int               `json:"max_memory_per_app_mb"`
	MaxCPUPercentPerApp    int               `json:"max_cpu_percent_per_app"`
	DefaultFirewallPolicy  string            `json:"default_firewall_policy"` // e.g. "deny_all_inbound"
	AppUserUIDRangeStart   int               `json:"app_user_uid_range_start"`
	AppUserUIDRangeEnd     int               `json:"app_user_uid_range_end"`
	BackupRetentionDays    int               `json:"backup_retention_days"`
	Version                int               `json:"version"`
	UpdatedAt              time.Time         `json:"updated_at"`
}

// Validate enforces the invariants UpdateProfile refuses to persist without.
func (p *SystemProfile) Validate() error {
	if p.MaxMemoryPerAppMB < 128 {
		return errors.New("domain validation failed: max_memory_per_app_mb must be at least 128")
	}
	if p.MaxCPUPercentPerApp <= 0 || p.MaxCPUPercentPerApp > 100 {
		return errors.New("domain validation failed: max_cpu_percent_per_app must be between 1 and 100")
	}
	if p.AppUserUIDRangeStart <= 0 || p.AppUserUIDRangeEnd <= p.AppUserUIDRangeStart {
		return errors.New("domain validation failed: app_user_uid_range_end must exceed app_user_uid_range_start")
	}
	if p.BackupRetentionDays < 0 {
		return errors.New("domain validation failed: backup_retention_days cannot be negative")
	}
	return nil
}

// SystemProfileRepository defines the SLA for fetching the active profile.
type SystemProfileRepository interface {
	GetActiveProfile(ctx context.Context) (*SystemProfile, error)
	UpdateProfile(ctx context.Context, profile *SystemProfile) error
}
