package services

import (
	"context"

	"github.com/google/uuid"

	"kari/api/internal/core/domain"
	"kari/api/internal/telemetry"
)

// DeploymentStreamService adapts the in-memory telemetry.Hub (plain string
// broadcast channels) to the typed domain.LogChunk stream the WebSocket
// handler consumes.
type DeploymentStreamService struct {
	hub *telemetry.Hub
}

func NewDeploymentStreamService(hub *telemetry.Hub) *DeploymentStreamService {
	return &DeploymentStreamService{hub: hub}
}

// SubscribeToDeploymentLogs hands back a channel of LogChunk for the given
// trace ID. Trace IDs are minted server-side by ApplicationService and
// handed to an already-authenticated caller, so no further ownership check
// is performed here beyond the RequireAuthentication middleware having run.
func (s *DeploymentStreamService) SubscribeToDeploymentLogs(ctx context.Context, traceID string, ownerID uuid.UUID) (<-chan domain.LogChunk, error) {
	raw := s.hub.Subscribe(traceID)
	out := make(chan domain.LogChunk)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				s.hub.Unsubscribe(traceID, raw)
				return
			case line, ok := <-raw:
				if !ok {
					return
				}
				out <- domain.LogChunk{TraceID: traceID, Line: line, Stream: "stdout"}
			}
		}
	}()

	return out, nil
}

var _ domain.DeploymentStreamService = (*DeploymentStreamService)(nil)
