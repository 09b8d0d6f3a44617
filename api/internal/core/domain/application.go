package domain

import (
	"context"
	"time"
	"github.com/google/uuid"
)

// Application represents the core deployment entity.
type Application struct {
	ID            uuid.UUID         `json:"id"`
	DomainID      uuid.UUID         `json:"domain_id"`
	AppType       string            `json:"app_type"`
	DomainName    string            `json:"domain_name,omitempty"` // eagerly loaded for the webhook flow
	OwnerID       uuid.UUID         `json:"owner_id"`              // for IDOR & rank checks
	AppUser       string            `json:"app_user"`              // OS-level jail identity
	RepoURL       string            `json:"repo_url"`
	Branch        string            `json:"branch"`
	BuildCommand  string            `json:"build_command"`
	StartCommand  string            `json:"start_command"`
	EnvVars       map[string]string `json:"env_vars"` // JSONB GIN-indexed
	WebhookSecret string            `json:"-"`
	Port          int               `json:"port"`
	Status        string            `json:"status"` // enum: stopped, starting, running, failed
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// ApplicationMetadata is a "Value Object" used specifically for high-performance 
// Authorization checks in the Service layer.
type ApplicationMetadata struct {
	ID         uuid.UUID
	Name       string
	DomainID   uuid.UUID
	DomainName string
	OwnerID    uuid.UUID
	OwnerRank  int // 🛡️ Injected via SQL Join for Rank-based security
}

// ApplicationRepository defines the platform-agnostic contract.
type ApplicationRepository interface {
	Create(ctx context.Context, app *Application) error

	// GetByID handles standard tenant-isolated lookups
	GetByID(ctx context.Context, id uuid.UUID, userID uuid.UUID) (*Application, error)

	// GetByIDSystem fetches an application without a tenant check, for
	// system-initiated flows such as webhook delivery.
	GetByIDSystem(ctx context.Context, id uuid.UUID) (*Application, error)

	// GetByIDWithMetadata supports the Rank-Based Deletion flow
	GetByIDWithMetadata(ctx context.Context, id uuid.UUID) (*ApplicationMetadata, error)

	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]Application, error)

	// ListAllActive returns every application not in a terminal stopped state,
	// for the background health monitor.
	ListAllActive(ctx context.Context) ([]Application, error)

	UpdateStatus(ctx context.Context, id uuid.UUID, status string) error
	UpdateEnvVars(ctx context.Context, id uuid.UUID, envVars map[string]string) error

	// Delete handles the atomic removal of the record
	Delete(ctx context.Context, id uuid.UUID) error
}

// AppService is the application-facing business logic the HTTP handlers
// drive. Deployment is simulated locally: there is no external build agent
// in this deployment of Kari, so TriggerManualDeployment/TriggerSystemDeployment
// flip status through the same state machine a real builder would.
type AppService interface {
	CreateApplication(ctx context.Context, ownerID uuid.UUID, app *Application) (*Application, error)
	ListApplications(ctx context.Context, ownerID uuid.UUID) ([]Application, error)
	GetApplication(ctx context.Context, id uuid.UUID, ownerID uuid.UUID) (*Application, error)
	GetApplicationSystem(ctx context.Context, id uuid.UUID) (*Application, error)
	UpdateEnvironmentVariables(ctx context.Context, id uuid.UUID, ownerID uuid.UUID, envVars map[string]string) (*Application, error)
	TriggerManualDeployment(ctx context.Context, id uuid.UUID, ownerID uuid.UUID) (*Application, error)
	TriggerSystemDeployment(ctx context.Context, id uuid.UUID) error
}
