package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by repositories when a lookup finds no row.
var ErrNotFound = errors.New("resource not found")

// Role is the RBAC grouping a user belongs to.
type Role struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	Rank int       `json:"rank"`
}

// User is the authenticated principal behind every request.
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	IsActive     bool      `json:"is_active"`
	RoleID       uuid.UUID `json:"role_id"`
	Role         Role      `json:"role"`
	Rank         string    `json:"rank"`
	Permissions  []string  `json:"permissions,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// UserRepository persists users and their credential state.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	FindByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	UpdateRefreshToken(ctx context.Context, userID uuid.UUID, refreshToken string) error
	HasPermission(ctx context.Context, userID uuid.UUID, resource, action string) (bool, error)
}

// userContextKeyType avoids collisions with other packages' context keys.
type userContextKeyType struct{}

// UserContextKey is the request-context key middleware stores *UserClaims under.
var UserContextKey = userContextKeyType{}

// UserClaims is the decoded, verified identity carried on the request context
// after RequireAuthentication runs. AuthService.ValidateAccessToken builds it
// from the token's KariClaims.
type UserClaims struct {
	Subject     uuid.UUID `json:"sub"`
	RoleID      uuid.UUID `json:"role_id"`
	Email       string    `json:"email"`
	Rank        string    `json:"rank"`
	Permissions []string  `json:"permissions"`
}

// AuthService authenticates credentials and validates bearer tokens.
type AuthService interface {
	Login(ctx context.Context, email, password string) (accessToken, refreshToken string, err error)
	ValidateAccessToken(ctx context.Context, tokenString string) (*UserClaims, error)
}

// RoleService answers "can this role do X to Y" without the caller knowing
// whether that's backed by a database join or an in-memory map.
type RoleService interface {
	RoleHasPermission(ctx context.Context, roleID uuid.UUID, resource, action string) (bool, error)
}
