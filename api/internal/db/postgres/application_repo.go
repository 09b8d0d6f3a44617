package postgres

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"kari/api/internal/core/domain"
)

// ApplicationRepo implements domain.ApplicationRepository for PostgreSQL.
type ApplicationRepo struct {
	pool *pgxpool.Pool
}

func NewApplicationRepo(pool *pgxpool.Pool) *ApplicationRepo {
	return &ApplicationRepo{pool: pool}
}

func (r *ApplicationRepo) Create(ctx context.Context, app *domain.Application) error {
	query := `
		INSERT INTO applications (domain_id, owner_id, app_type, app_user, repo_url, branch, build_command, start_command, env_vars, webhook_secret, port)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, status, created_at, updated_at
	`

	envVarsJSON, err := json.Marshal(app.EnvVars)
	if err != nil {
		return err
	}

	return r.pool.QueryRow(ctx, query,
		app.DomainID,
		app.OwnerID,
		app.AppType,
		app.AppUser,
		app.RepoURL,
		app.Branch,
		app.BuildCommand,
		app.StartCommand,
		envVarsJSON,
		app.WebhookSecret,
		app.Port,
	).Scan(&app.ID, &app.Status, &app.CreatedAt, &app.UpdatedAt)
}

// GetByID fetches an application, ensuring the tenant actually owns it.
func (r *ApplicationRepo) GetByID(ctx context.Context, id uuid.UUID, userID uuid.UUID) (*domain.Application, error) {
	return r.scanOne(ctx, "WHERE a.id = $1 AND a.owner_id = $2", id, userID)
}

// GetByIDSystem fetches an application with no tenant check, for
// system-initiated flows (webhook delivery) that authenticate via HMAC
// instead of a user session.
func (r *ApplicationRepo) GetByIDSystem(ctx context.Context, id uuid.UUID) (*domain.Application, error) {
	return r.scanOne(ctx, "WHERE a.id = $1", id)
}

func (r *ApplicationRepo) scanOne(ctx context.Context, where string, args ...any) (*domain.Application, error) {
	query := `
		SELECT a.id, a.domain_id, a.owner_id, a.app_type, a.app_user, a.repo_url, a.branch,
		       a.build_command, a.start_command, a.env_vars, a.webhook_secret, a.port, a.status, a.created_at, a.updated_at
		FROM applications a
		` + where

	var app domain.Application
	var envVarsJSON []byte

	err := r.pool.QueryRow(ctx, query, args...).Scan(
		&app.ID, &app.DomainID, &app.OwnerID, &app.AppType, &app.AppUser, &app.RepoURL, &app.Branch,
		&app.BuildCommand, &app.StartCommand, &envVarsJSON, &app.WebhookSecret, &app.Port,
		&app.Status, &app.CreatedAt, &app.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	if len(envVarsJSON) > 0 {
		if err := json.Unmarshal(envVarsJSON, &app.EnvVars); err != nil {
			return nil, err
		}
	}

	return &app, nil
}

func (r *ApplicationRepo) GetByIDWithMetadata(ctx context.Context, id uuid.UUID) (*domain.ApplicationMetadata, error) {
	query := `
		SELECT a.id, d.name, a.domain_id, d.name, a.owner_id, r.rank
		FROM applications a
		JOIN domains d ON a.domain_id = d.id
		JOIN users u ON a.owner_id = u.id
		JOIN roles r ON u.role_id = r.id
		WHERE a.id = $1
	`
	var meta domain.ApplicationMetadata
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&meta.ID, &meta.Name, &meta.DomainID, &meta.DomainName, &meta.OwnerID, &meta.OwnerRank,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &meta, nil
}

func (r *ApplicationRepo) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]domain.Application, error) {
	query := `
		SELECT a.id, a.domain_id, a.owner_id, a.app_type, a.app_user, a.repo_url, a.branch,
		       a.build_command, a.start_command, a.env_vars, a.webhook_secret, a.port, a.status, a.created_at, a.updated_at
		FROM applications a
		WHERE a.owner_id = $1
		ORDER BY a.created_at DESC
	`
	rows, err := r.pool.Query(ctx, query, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var apps []domain.Application
	for rows.Next() {
		var app domain.Application
		var envVarsJSON []byte
		if err := rows.Scan(
			&app.ID, &app.DomainID, &app.OwnerID, &app.AppType, &app.AppUser, &app.RepoURL, &app.Branch,
			&app.BuildCommand, &app.StartCommand, &envVarsJSON, &app.WebhookSecret, &app.Port,
			&app.Status, &app.CreatedAt, &app.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if len(envVarsJSON) > 0 {
			_ = json.Unmarshal(envVarsJSON, &app.EnvVars)
		}
		apps = append(apps, app)
	}
	return apps, rows.Err()
}

// ListAllActive returns every application not already stopped, for the
// background health monitor.
func (r *ApplicationRepo) ListAllActive(ctx context.Context) ([]domain.Application, error) {
	query := `
		SELECT a.id, a.domain_id, a.owner_id, a.app_type, a.app_user, a.repo_url, a.branch,
		       a.build_command, a.start_command, a.env_vars, a.webhook_secret, a.port, a.status, a.created_at, a.updated_at
		FROM applications a
		WHERE a.status != 'stopped'
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var apps []domain.Application
	for rows.Next() {
		var app domain.Application
		var envVarsJSON []byte
		if err := rows.Scan(
			&app.ID, &app.DomainID, &app.OwnerID, &app.AppType, &app.AppUser, &app.RepoURL, &app.Branch,
			&app.BuildCommand, &app.StartCommand, &envVarsJSON, &app.WebhookSecret, &app.Port,
			&app.Status, &app.CreatedAt, &app.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if len(envVarsJSON) > 0 {
			_ = json.Unmarshal(envVarsJSON, &app.EnvVars)
		}
		apps = append(apps, app)
	}
	return apps, rows.Err()
}

func (r *ApplicationRepo) UpdateStatus(ctx context.Context, id uuid.UUID, status string) error {
	_, err := r.pool.Exec(ctx, `UPDATE applications SET status = $1, updated_at = NOW() WHERE id = $2`, status, id)
	return err
}

func (r *ApplicationRepo) UpdateEnvVars(ctx context.Context, id uuid.UUID, envVars map[string]string) error {
	envVarsJSON, err := json.Marshal(envVars)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `UPDATE applications SET env_vars = $1, updated_at = NOW() WHERE id = $2`, envVarsJSON, id)
	return err
}

func (r *ApplicationRepo) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM applications WHERE id = $1`, id)
	return err
}

var _ domain.ApplicationRepository = (*ApplicationRepo)(nil)
