package services

import (
	"context"

	"github.com/google/uuid"

	"kari/api/internal/core/domain"
)

// RoleService implements domain.RoleService on top of the same permission
// join the user repository already exposes, keyed by role rather than user
// so RequirePermission doesn't need to re-resolve the caller's user row.
type RoleService struct {
	repo RolePermissionRepository
}

// RolePermissionRepository is the narrow slice of postgres.UserRepo this
// service actually needs.
type RolePermissionRepository interface {
	RoleHasPermission(ctx context.Context, roleID uuid.UUID, resource, action string) (bool, error)
}

func NewRoleService(repo RolePermissionRepository) *RoleService {
	return &RoleService{repo: repo}
}

func (s *RoleService) RoleHasPermission(ctx context.Context, roleID uuid.UUID, resource, action string) (bool, error) {
	return s.repo.RoleHasPermission(ctx, roleID, resource, action)
}

var _ domain.RoleService = (*RoleService)(nil)
