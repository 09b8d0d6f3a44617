package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"kari/api/internal/core/domain"
)

type DomainRepository struct {
	db *sqlx.DB
}

func NewDomainRepository(db *sqlx.DB) *DomainRepository {
	return &DomainRepository{db: db}
}

// Create persists the domain intent and ensures global uniqueness.
func (r *DomainRepository) Create(ctx context.Context, d *domain.Domain) error {
	query := `
		INSERT INTO domains (id, user_id, app_id, domain_name, document_root, target_port, status, ssl_status, created_at, updated_at)
		VALUES (:id, :user_id, :app_id, :domain_name, :document_root, :target_port, :status, :ssl_status, :created_at, :updated_at)
	`
	d.ID = uuid.New()
	d.CreatedAt = time.Now()
	d.UpdatedAt = time.Now()

	_, err := r.db.NamedExecContext(ctx, query, d)
	if err != nil {
		return fmt.Errorf("domain already registered or database error: %w", err)
	}
	return nil
}

func (r *DomainRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Domain, error) {
	var d domain.Domain
	query := `SELECT * FROM domains WHERE id = $1`
	if err := r.db.GetContext(ctx, &d, query, id); err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *DomainRepository) GetByUserID(ctx context.Context, userID uuid.UUID) ([]domain.Domain, error) {
	var domains []domain.Domain
	query := `SELECT * FROM domains WHERE user_id = $1 ORDER BY created_at DESC`
	err := r.db.SelectContext(ctx, &domains, query, userID)
	return domains, err
}

// GetByAppID retrieves all routing entries for a specific application.
func (r *DomainRepository) GetByAppID(ctx context.Context, appID uuid.UUID) ([]domain.Domain, error) {
	var domains []domain.Domain
	query := `SELECT * FROM domains WHERE app_id = $1 ORDER BY created_at DESC`
	err := r.db.SelectContext(ctx, &domains, query, appID)
	return domains, err
}

// UpdateStatus tracks the transition from 'provisioning' to 'active' or 'failed'.
func (r *DomainRepository) UpdateStatus(ctx context.Context, name string, status string) error {
	query := `UPDATE domains SET status = $1, updated_at = NOW() WHERE domain_name = $2`
	_, err := r.db.ExecContext(ctx, query, status, name)
	return err
}

func (r *DomainRepository) UpdateSSLStatus(ctx context.Context, id uuid.UUID, sslStatus string) error {
	query := `UPDATE domains SET ssl_status = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, sslStatus, id)
	return err
}

func (r *DomainRepository) Delete(ctx context.Context, id uuid.UUID) error {
	query := `DELETE FROM domains WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, id)
	return err
}

var _ domain.DomainRepository = (*DomainRepository)(nil)
