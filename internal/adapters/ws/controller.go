// Package ws streams session events to WebSocket observers and accepts
// start/stop/status commands from them.
package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/dkeye/Stream/internal/app/events"
	"github.com/dkeye/Stream/internal/core"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type Controller struct {
	Session core.SessionControl
	Hub     *events.Hub
	Limiter *CommandRateLimiter
	Buffer  int
	// CommandTimeout bounds start/stop issued over the socket.
	CommandTimeout time.Duration
}

func NewController(session core.SessionControl, hub *events.Hub, buffer int) *Controller {
	return &Controller{
		Session:        session,
		Hub:            hub,
		Limiter:        NewCommandRateLimiter(5, 10*time.Second),
		Buffer:         buffer,
		CommandTimeout: 15 * time.Second,
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (ctl *Controller) HandleEvents(ctx context.Context, c *gin.Context) {
	token := c.GetString("client_token")
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("ws upgrade")
		return
	}
	ctl.Serve(ctx, token, ws)
}

// Serve runs the pumps for an upgraded connection and returns immediately.
func (ctl *Controller) Serve(ctx context.Context, token string, raw WSConn) {
	id := core.ObserverID(token + "/" + uuid.NewString()[:8])
	conn := NewObserverConn(raw, ctl.Buffer)
	log.Info().Str("module", "ws").Str("observer", string(id)).Msg("new WS observer")

	ctx, cancel := context.WithCancel(ctx)
	ctl.Hub.Subscribe(id, conn)

	go ctl.writePump(ctx, id, conn)
	go ctl.readPump(ctx, cancel, token, id, conn)
}
