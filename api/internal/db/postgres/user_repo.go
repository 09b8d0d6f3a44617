package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"kari/api/internal/core/domain"
)

type UserRepo struct {
	pool *pgxpool.Pool
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

// HasPermission utilizes a 3-way join to verify access in a single atomic query.
func (r *UserRepo) HasPermission(ctx context.Context, userID uuid.UUID, resource string, action string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM users u
			JOIN roles r ON u.role_id = r.id
			JOIN role_permissions rp ON r.id = rp.role_id
			JOIN permissions p ON rp.permission_id = p.id
			WHERE u.id = $1
			  AND u.is_active = true
			  AND p.resource = $2
			  AND p.action = $3
		)
	`

	var exists bool
	err := r.pool.QueryRow(ctx, query, userID, resource, action).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to verify permissions: %w", err)
	}

	return exists, nil
}

// RoleHasPermission checks a permission by role directly, for callers that
// already hold a verified RoleID (e.g. JWT claims) and don't need a second
// user-table round trip.
func (r *UserRepo) RoleHasPermission(ctx context.Context, roleID uuid.UUID, resource string, action string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1
			FROM role_permissions rp
			JOIN permissions p ON rp.permission_id = p.id
			WHERE rp.role_id = $1
			  AND p.resource = $2
			  AND p.action = $3
		)
	`

	var exists bool
	err := r.pool.QueryRow(ctx, query, roleID, resource, action).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to verify role permissions: %w", err)
	}

	return exists, nil
}

// FindByID fetches the user and eagerly loads their role metadata.
func (r *UserRepo) FindByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return r.scanOne(ctx, "WHERE u.id = $1", id)
}

// GetByEmail fetches the user by login identity.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.scanOne(ctx, "WHERE u.email = $1", email)
}

func (r *UserRepo) scanOne(ctx context.Context, where string, arg any) (*domain.User, error) {
	query := fmt.Sprintf(`
		SELECT u.id, u.email, u.password_hash, u.is_active, u.role_id, u.created_at, u.updated_at,
		       r.id, r.name, r.rank
		FROM users u
		JOIN roles r ON u.role_id = r.id
		%s
	`, where)

	var user domain.User
	var role domain.Role

	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.IsActive, &user.RoleID, &user.CreatedAt, &user.UpdatedAt,
		&role.ID, &role.Name, &role.Rank,
	)

	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}

	user.Role = role
	return &user, nil
}

// Create inserts a new user row with an already-hashed password.
func (r *UserRepo) Create(ctx context.Context, user *domain.User) error {
	query := `
		INSERT INTO users (email, password_hash, role_id, is_active)
		VALUES ($1, $2, $3, true)
		RETURNING id, created_at, updated_at
	`
	return r.pool.QueryRow(ctx, query, user.Email, user.PasswordHash, user.RoleID).
		Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
}

// UpdateRefreshToken persists the rotated refresh token as given (not hashed).
func (r *UserRepo) UpdateRefreshToken(ctx context.Context, userID uuid.UUID, refreshToken string) error {
	query := `UPDATE users SET refresh_token = $1, updated_at = NOW() WHERE id = $2`
	_, err := r.pool.Exec(ctx, query, refreshToken, userID)
	return err
}

var _ domain.UserRepository = (*UserRepo)(nil)
