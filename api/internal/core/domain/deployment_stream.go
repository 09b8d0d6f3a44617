// api/internal/core/domain/deployment_stream.go
package domain

import (
	"context"

	"github.com/google/uuid"
)

// LogChunk is one line (or final marker) of a deployment's build/run output.
type LogChunk struct {
	TraceID   string `json:"trace_id"`
	Line      string `json:"line"`
	Stream    string `json:"stream"` // "stdout" or "stderr"
	IsEOF     bool   `json:"is_eof"`
}

// DeploymentStreamService bridges the in-memory telemetry hub to the
// WebSocket handler. It does not check that the caller owns the
// deployment behind the trace ID.
type DeploymentStreamService interface {
	SubscribeToDeploymentLogs(ctx context.Context, traceID string, ownerID uuid.UUID) (<-chan LogChunk, error)
}
