package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"kari/api/internal/core/domain"
)

// DomainService owns hostname routing and a locally-simulated SSL issuance
// flow. There is no ACME client in this deployment of Kari: provisioning
// moves the SSL status none -> provisioning -> active on a 2s timer. No
// path sets a failed status; a failed final write is only logged.
type DomainService struct {
	repo   domain.DomainRepository
	logger *slog.Logger
}

func NewDomainService(repo domain.DomainRepository, logger *slog.Logger) *DomainService {
	return &DomainService{repo: repo, logger: logger}
}

func (s *DomainService) ListDomains(ctx context.Context, userID uuid.UUID) ([]domain.Domain, error) {
	return s.repo.GetByUserID(ctx, userID)
}

func (s *DomainService) CreateDomain(ctx context.Context, d *domain.Domain) (*domain.Domain, error) {
	d.Status = "active"
	if d.SSLStatus == "" {
		d.SSLStatus = "none"
	}
	if err := s.repo.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("failed to create domain: %w", err)
	}
	return d, nil
}

func (s *DomainService) DeleteDomain(ctx context.Context, id uuid.UUID, userID uuid.UUID) error {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if d.UserID != userID {
		return domain.ErrNotFound
	}
	return s.repo.Delete(ctx, id)
}

func (s *DomainService) TriggerSSLProvisioning(ctx context.Context, id uuid.UUID, userID uuid.UUID) error {
	d, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if d.UserID != userID {
		return domain.ErrNotFound
	}
	if d.SSLStatus == "provisioning" || d.SSLStatus == "active" {
		return errors.New("ssl already provisioned or in progress")
	}

	if err := s.repo.UpdateSSLStatus(ctx, id, "provisioning"); err != nil {
		return fmt.Errorf("failed to mark ssl provisioning: %w", err)
	}

	go func() {
		time.Sleep(2 * time.Second)
		if err := s.repo.UpdateSSLStatus(context.Background(), id, "active"); err != nil {
			s.logger.Error("ssl provisioning failed", slog.String("domain_id", id.String()), slog.String("error", err.Error()))
		}
	}()

	return nil
}

var _ domain.DomainService = (*DomainService)(nil)
