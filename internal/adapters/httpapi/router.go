// Package httpapi wires the REST session API and the websocket
// signaling endpoint.
package httpapi

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/mentorlink/sessiond/internal/adapters/signalws"
	"github.com/mentorlink/sessiond/internal/app"
	"github.com/mentorlink/sessiond/internal/auth"
	"github.com/mentorlink/sessiond/internal/config"
)

func SetupRouter(ctx context.Context, cfg *config.Config, orch *app.Orchestrator) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	validator := auth.NewValidator(cfg.JWTSecret)
	h := &SessionHandler{Orch: orch}
	ws := signalws.NewController(orch, cfg.ReadLimit, cfg.PingPeriod, cfg.WriteWait)

	api := r.Group("/api", validator.Middleware())

	api.POST("/sessions", h.Create)
	api.GET("/sessions/mentor", h.ListMentor)
	api.GET("/sessions/learner", h.ListLearner)
	api.GET("/sessions/room/:roomId", h.GetByRoom)
	api.PATCH("/sessions/:sessionId/status", h.UpdateStatus)
	api.PATCH("/sessions/:sessionId/cancel", h.Cancel)

	api.GET("/ws/signal", func(c *gin.Context) {
		ws.HandleSignal(ctx, c)
	})

	log.Info().Str("module", "httpapi").Msg("router setup")
	return r
}
