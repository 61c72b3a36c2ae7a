package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/dkeye/Stream/internal/adapters/ws"
	"github.com/dkeye/Stream/internal/config"
	"github.com/dkeye/Stream/internal/core"
	"github.com/dkeye/Stream/internal/domain"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const clientTokenKey = "client_token"

func genClientToken() string {
	return uuid.NewString()
}

// ClientTokenMiddleware keeps a stable per-browser token in the cookie session.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		s := sessions.Default(c)
		token, _ := s.Get(clientTokenKey).(string)
		if token == "" {
			token = genClientToken()
			s.Set(clientTokenKey, token)
			if err := s.Save(); err != nil {
				log.Warn().Err(err).Str("module", "adapters.http").Msg("save session")
			}
		}
		c.Set(clientTokenKey, token)
		c.Next()
	}
}

func SetupRouter(ctx context.Context, cfg *config.Config, session core.SessionControl, wsCtl *ws.Controller) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: 3600 * 24 * 7, HttpOnly: true})
	r.Use(sessions.Sessions("StreamSessions", store))
	r.Use(ClientTokenMiddleware())

	r.Static("/static", cfg.StaticPath)
	r.GET("/", func(c *gin.Context) {
		c.File(cfg.StaticPath + "/index.html")
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("router setup")

	api := r.Group("/api")
	h := &handlers{session: session}
	api.GET("/session", h.snapshot)
	api.POST("/session/start", h.start)
	api.POST("/session/stop", h.stop)

	api.GET("/ws/events", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("sid", c.GetString(clientTokenKey)).Msg("ws events endpoint hit")
		wsCtl.HandleEvents(ctx, c)
	})

	return r
}

type handlers struct {
	session core.SessionControl
}

type startRequest struct {
	Endpoint string `json:"endpoint"`
}

func (h *handlers) snapshot(c *gin.Context) {
	c.JSON(http.StatusOK, h.session.Snapshot())
}

func (h *handlers) start(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid body"})
		return
	}
	if err := h.session.Start(c.Request.Context(), req.Endpoint); err != nil {
		log.Warn().Err(err).Str("module", "adapters.http").Str("sid", c.GetString(clientTokenKey)).Msg("start rejected")
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "session": h.session.Snapshot()})
		return
	}
	c.JSON(http.StatusAccepted, h.session.Snapshot())
}

func (h *handlers) stop(c *gin.Context) {
	err := h.session.Stop(c.Request.Context())
	switch {
	case err == nil:
		c.JSON(http.StatusOK, h.session.Snapshot())
	case errors.Is(err, domain.ErrTerminate):
		c.JSON(http.StatusAccepted, gin.H{"warning": err.Error(), "session": h.session.Snapshot()})
	default:
		c.JSON(statusFor(err), gin.H{"error": err.Error(), "session": h.session.Snapshot()})
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidEndpoint):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrAlreadyActive), errors.Is(err, domain.ErrStartAborted):
		return http.StatusConflict
	case errors.Is(err, domain.ErrConnectFailed):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
