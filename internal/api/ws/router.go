package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/roomsync/internal/app/session"
	"github.com/osa030/roomsync/internal/domain/room"
	"github.com/osa030/roomsync/internal/infra/logger"
	"github.com/osa030/roomsync/internal/infra/metrics"
)

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

// RouterConfig configures the HTTP surface.
type RouterConfig struct {
	Secret         string
	AllowedOrigins []string
	Debug          bool
	Checks         map[string]HealthCheck
}

type createRoomRequest struct {
	ControlMode      room.ControlMode `json:"control_mode"`
	AdSyncMode       room.AdSyncMode  `json:"ad_sync_mode"`
	AutoadvanceOnEnd bool             `json:"autoadvance_on_end"`
	RotateOnRetire   bool             `json:"rotate_on_retire"`
}

// NewRouter builds the gin engine serving /ws, /api/v1, /healthz and /metrics.
func NewRouter(cfg RouterConfig, mgr *session.Manager, h *Handler, m *metrics.Metrics) *gin.Engine {
	if cfg.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.LoggerWithWriter(logger.Writer("debug")), gin.RecoveryWithWriter(logger.Writer("error")))

	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) == 0 {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	router.GET("/healthz", healthHandler(cfg.Checks))
	if m != nil {
		router.GET("/metrics", gin.WrapH(m.Handler()))
	}

	auth := RequireAuth(cfg.Secret)
	router.GET("/ws", auth, h.Serve)

	v1 := router.Group("/api/v1", auth)
	v1.POST("/rooms", createRoomHandler(mgr))
	v1.GET("/rooms/:id", snapshotHandler(mgr))

	return router
}

func healthHandler(checks map[string]HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		result := gin.H{}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				zlog.Warn().Msgf("health check failed: check=%s error=%v", name, err)
				result[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			result[name] = "ok"
		}
		c.JSON(status, gin.H{"status": http.StatusText(status), "checks": result})
	}
}

func createRoomHandler(mgr *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createRoomRequest
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				writeError(c, mgr, errors.Mark(err, session.ErrInvalidRequest))
				return
			}
		}

		view, err := mgr.CreateRoom(c.Request.Context(), c.GetString(ctxUserID), c.GetString(ctxUserName), session.RoomOptions{
			ControlMode:      req.ControlMode,
			AdSyncMode:       req.AdSyncMode,
			AutoadvanceOnEnd: req.AutoadvanceOnEnd,
			RotateOnRetire:   req.RotateOnRetire,
		})
		if err != nil {
			writeError(c, mgr, err)
			return
		}
		c.JSON(http.StatusCreated, view)
	}
}

func snapshotHandler(mgr *session.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		view, err := mgr.Snapshot(c.Request.Context(), c.GetString(ctxUserID), c.Param("id"))
		if err != nil {
			writeError(c, mgr, err)
			return
		}
		c.JSON(http.StatusOK, view)
	}
}

// writeError maps an error to a status and the caller-facing payload.
func writeError(c *gin.Context, mgr *session.Manager, err error) {
	code, message := mgr.Message(err)
	c.JSON(httpStatus(code), session.ErrorPayload{Trigger: c.FullPath(), Code: code, Message: message})
}

func httpStatus(code string) int {
	switch code {
	case session.CodeNotFound:
		return http.StatusNotFound
	case session.CodeNotMember, session.CodeForbidden:
		return http.StatusForbidden
	case session.CodeStoreContention:
		return http.StatusServiceUnavailable
	case session.CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}
