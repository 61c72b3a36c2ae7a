package lifecycle

import (
	"context"
	"time"

	"github.com/dkeye/Stream/internal/core"
	"github.com/dkeye/Stream/internal/domain"
	"github.com/sourcegraph/conc"
)

// session is the single active session of a controller. All fields are
// guarded by Controller.mu.
type session struct {
	id       domain.SessionID
	epoch    uint64
	endpoint string

	handle    core.Handle
	media     core.MediaResource
	startedAt time.Time
	metrics   domain.Metrics
	rate      rateEstimator

	// ctx bounds every task of this session; cancel is called on teardown.
	ctx    context.Context
	cancel context.CancelFunc
	tasks  *conc.WaitGroup
}

func newSession(id domain.SessionID, epoch uint64, endpoint string) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		id:       id,
		epoch:    epoch,
		endpoint: endpoint,
		ctx:      ctx,
		cancel:   cancel,
		tasks:    conc.NewWaitGroup(),
	}
}
