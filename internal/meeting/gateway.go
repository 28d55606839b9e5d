package meeting

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

var ErrGatewayUnavailable = errors.New("video session gateway unavailable")

// SessionGateway is the boundary to the external video-session provider. The
// orchestrator only needs these three contracts; provider internals stay on
// the other side.
type SessionGateway interface {
	CreateSession(ctx context.Context, appointmentID uuid.UUID) (string, error)
	IssueToken(ctx context.Context, sessionID string, participantID uuid.UUID, role string) (string, error)
	EndSession(ctx context.Context, sessionID string) error
}
