package ws

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dkeye/Stream/internal/core"
	"github.com/dkeye/Stream/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

func (ctl *Controller) writePump(ctx context.Context, id core.ObserverID, c *ObserverConn) {
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "ws").Str("observer", string(id)).Msg("writePump ctx done")
			c.Close()
			return
		case data, ok := <-c.send:
			if !ok {
				log.Debug().Str("module", "ws").Str("observer", string(id)).Msg("writePump channel closed")
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "ws").Msg("writePump set deadline")
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "ws").Str("observer", string(id)).Msg("writePump write error")
				c.Close()
				return
			}
		}
	}
}

func (ctl *Controller) readPump(ctx context.Context, cancel context.CancelFunc, token string, id core.ObserverID, c *ObserverConn) {
	defer func() {
		log.Info().Str("module", "ws").Str("observer", string(id)).Msg("readPump closing")
		ctl.Hub.Unsubscribe(id, c)
		cancel()
		c.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Debug().Err(err).Str("module", "ws").Str("observer", string(id)).Msg("readPump read error")
				return
			}
			ctl.handleMessage(ctx, token, c, data)
		}
	}
}

type command struct {
	Type     string `json:"type"`
	Endpoint string `json:"endpoint,omitempty"`
}

type reply struct {
	Type    string                  `json:"type"`
	Op      string                  `json:"op,omitempty"`
	Message string                  `json:"message,omitempty"`
	Session *domain.SessionSnapshot `json:"session,omitempty"`
}

func (ctl *Controller) handleMessage(ctx context.Context, token string, c *ObserverConn, data []byte) {
	var cmd command
	if err := json.Unmarshal(data, &cmd); err != nil {
		log.Warn().Err(err).Str("module", "ws").Msg("bad json")
		ctl.sendJSON(c, reply{Type: "error", Message: "bad json"})
		return
	}

	switch cmd.Type {
	case "ping":
		ctl.sendJSON(c, reply{Type: "pong"})
	case "status":
		snap := ctl.Session.Snapshot()
		ctl.sendJSON(c, reply{Type: "status", Session: &snap})
	case "start", "stop":
		if !ctl.Limiter.Allow(token) {
			ctl.sendJSON(c, reply{Type: "error", Op: cmd.Type, Message: "rate limited"})
			return
		}
		ctl.handleCommand(ctx, c, cmd)
	default:
		log.Warn().Str("module", "ws").Str("type", cmd.Type).Msg("unknown message")
		ctl.sendJSON(c, reply{Type: "error", Message: "unknown message type"})
	}
}

func (ctl *Controller) handleCommand(ctx context.Context, c *ObserverConn, cmd command) {
	ctx, cancel := context.WithTimeout(ctx, ctl.CommandTimeout)
	defer cancel()

	var err error
	if cmd.Type == "start" {
		err = ctl.Session.Start(ctx, cmd.Endpoint)
	} else {
		err = ctl.Session.Stop(ctx)
	}
	snap := ctl.Session.Snapshot()
	switch {
	case err == nil:
		ctl.sendJSON(c, reply{Type: "ack", Op: cmd.Type, Session: &snap})
	case cmd.Type == "stop" && errors.Is(err, domain.ErrTerminate):
		ctl.sendJSON(c, reply{Type: "ack", Op: cmd.Type, Message: err.Error(), Session: &snap})
	default:
		ctl.sendJSON(c, reply{Type: "error", Op: cmd.Type, Message: err.Error(), Session: &snap})
	}
}

func (ctl *Controller) sendJSON(c *ObserverConn, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "ws").Msg("sendJSON marshal")
		return
	}
	_ = c.trySendRaw(b)
}
