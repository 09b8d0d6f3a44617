package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"kari/api/internal/core/domain"
	"kari/api/internal/telemetry"
)

// ApplicationService owns application CRUD and the deployment state
// machine. There is no external build agent in this deployment of Kari:
// both manual and webhook-triggered deployments are simulated locally by
// walking the status through the same states a real builder would produce,
// while streaming progress lines onto the telemetry hub the WebSocket
// handler already reads from.
type ApplicationService struct {
	repo      domain.ApplicationRepository
	auditRepo domain.AuditRepository
	envVars   *EnvVarService
	hub       *telemetry.Hub
	logger    *slog.Logger
}

func NewApplicationService(
	repo domain.ApplicationRepository,
	auditRepo domain.AuditRepository,
	envVars *EnvVarService,
	hub *telemetry.Hub,
	logger *slog.Logger,
) *ApplicationService {
	return &ApplicationService{repo: repo, auditRepo: auditRepo, envVars: envVars, hub: hub, logger: logger}
}

func (s *ApplicationService) CreateApplication(ctx context.Context, ownerID uuid.UUID, app *domain.Application) (*domain.Application, error) {
	app.OwnerID = ownerID
	app.Status = "stopped"
	secret, err := randomHex(32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate webhook secret: %w", err)
	}
	app.WebhookSecret = secret

	if err := s.repo.Create(ctx, app); err != nil {
		return nil, fmt.Errorf("failed to create application: %w", err)
	}
	return app, nil
}

func (s *ApplicationService) ListApplications(ctx context.Context, ownerID uuid.UUID) ([]domain.Application, error) {
	return s.repo.ListByOwner(ctx, ownerID)
}

func (s *ApplicationService) GetApplication(ctx context.Context, id uuid.UUID, ownerID uuid.UUID) (*domain.Application, error) {
	return s.repo.GetByID(ctx, id, ownerID)
}

func (s *ApplicationService) GetApplicationSystem(ctx context.Context, id uuid.UUID) (*domain.Application, error) {
	return s.repo.GetByIDSystem(ctx, id)
}

func (s *ApplicationService) UpdateEnvironmentVariables(ctx context.Context, id uuid.UUID, ownerID uuid.UUID, envVars map[string]string) (*domain.Application, error) {
	if _, err := s.repo.GetByID(ctx, id, ownerID); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateEnvVars(ctx, id, envVars); err != nil {
		return nil, fmt.Errorf("failed to update env vars: %w", err)
	}
	return s.repo.GetByID(ctx, id, ownerID)
}

func (s *ApplicationService) TriggerManualDeployment(ctx context.Context, id uuid.UUID, ownerID uuid.UUID) (*domain.Application, error) {
	app, err := s.repo.GetByID(ctx, id, ownerID)
	if err != nil {
		return nil, err
	}
	s.runDeployment(app)
	return app, nil
}

func (s *ApplicationService) TriggerSystemDeployment(ctx context.Context, id uuid.UUID) error {
	app, err := s.repo.GetByIDSystem(ctx, id)
	if err != nil {
		return err
	}
	s.runDeployment(app)
	return nil
}

// runDeployment walks the app through starting -> running, broadcasting
// each line on the telemetry hub keyed by a fresh trace ID so the WebSocket
// handler can stream it to a connected browser. If the running update fails
// it raises a critical alert and broadcasts "deployment failed"; the status
// is left as it was.
func (s *ApplicationService) runDeployment(app *domain.Application) {
	traceID := fmt.Sprintf("dep-%s-%d", app.ID.String()[:8], time.Now().UnixNano())

	if err := s.repo.UpdateStatus(context.Background(), app.ID, "starting"); err != nil {
		s.logger.Error("failed to mark application starting", slog.String("app_id", app.ID.String()), slog.String("error", err.Error()))
	}

	go func() {
		ctx := context.Background()
		s.hub.Broadcast(traceID, fmt.Sprintf("cloning %s (branch %s)", app.RepoURL, app.Branch))
		time.Sleep(50 * time.Millisecond)
		s.hub.Broadcast(traceID, fmt.Sprintf("running build: %s", app.BuildCommand))
		time.Sleep(50 * time.Millisecond)
		s.hub.Broadcast(traceID, fmt.Sprintf("starting: %s", app.StartCommand))

		if err := s.repo.UpdateStatus(ctx, app.ID, "running"); err != nil {
			s.logger.Error("failed to mark application running", slog.String("app_id", app.ID.String()), slog.String("error", err.Error()))
			_ = s.auditRepo.CreateAlert(ctx, &domain.SystemAlert{
				Severity:   "critical",
				Category:   "deployment",
				ResourceID: app.ID.String(),
				Message:    fmt.Sprintf("deployment failed for %s: %v", app.ID, err),
				Metadata:   map[string]any{"trace_id": traceID},
			})
			s.hub.Broadcast(traceID, "deployment failed")
			return
		}

		s.hub.Broadcast(traceID, "deployment complete")
	}()
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

var _ domain.AppService = (*ApplicationService)(nil)
