package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Domain is a hostname routed to one application. SSLStatus tracks the
// simulated certificate lifecycle (none -> provisioning -> active).
type Domain struct {
	ID           uuid.UUID `json:"id" db:"id"`
	UserID       uuid.UUID `json:"user_id" db:"user_id"`
	AppID        uuid.UUID `json:"app_id" db:"app_id"`
	DomainName   string    `json:"domain_name" db:"domain_name"`
	DocumentRoot string    `json:"document_root" db:"document_root"`
	TargetPort   int       `json:"target_port" db:"target_port"`
	Status       string    `json:"status" db:"status"`
	SSLStatus    string    `json:"ssl_status" db:"ssl_status"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// DomainRepository persists hostname routing records.
type DomainRepository interface {
	Create(ctx context.Context, d *Domain) error
	GetByID(ctx context.Context, id uuid.UUID) (*Domain, error)
	GetByUserID(ctx context.Context, userID uuid.UUID) ([]Domain, error)
	GetByAppID(ctx context.Context, appID uuid.UUID) ([]Domain, error)
	UpdateStatus(ctx context.Context, name string, status string) error
	UpdateSSLStatus(ctx context.Context, id uuid.UUID, sslStatus string) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// DomainService owns domain lifecycle and the (simulated) SSL issuance flow.
type DomainService interface {
	ListDomains(ctx context.Context, userID uuid.UUID) ([]Domain, error)
	CreateDomain(ctx context.Context, d *Domain) (*Domain, error)
	DeleteDomain(ctx context.Context, id uuid.UUID, userID uuid.UUID) error
	TriggerSSLProvisioning(ctx context.Context, id uuid.UUID, userID uuid.UUID) error
}
