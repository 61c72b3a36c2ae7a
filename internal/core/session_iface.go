package core

import (
	"context"

	"github.com/dkeye/Stream/internal/domain"
)

// SessionControl is what the outer surfaces (REST, WebSocket) drive.
type SessionControl interface {
	Start(ctx context.Context, endpoint string) error
	Stop(ctx context.Context) error
	Snapshot() domain.SessionSnapshot
}
