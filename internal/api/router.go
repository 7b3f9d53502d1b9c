// Package api serves the optional local admin endpoints: health,
// status snapshot, and a catalog reload trigger mirroring SIGUSR1.
package api

import (
	"github.com/gin-gonic/gin"

	"github.com/tomasv/fedipost/internal/api/handler"
	"github.com/tomasv/fedipost/internal/api/middleware"
	"github.com/tomasv/fedipost/internal/daemon"
	"github.com/tomasv/fedipost/internal/logger"
	"github.com/tomasv/fedipost/internal/repository"
)

// SetupRouter configures the Gin router with all admin routes.
// Parameters:
//   - loop: running driver loop.
//   - history: publish history repository; nil when history is disabled.
//   - log: base logger for the request middleware.
//   - mode: gin mode (release, test, debug).
// Returns:
//   - *gin.Engine: configured router.
func SetupRouter(loop *daemon.Loop, history *repository.PublishRecordRepository, log *logger.Logger, mode string) *gin.Engine {
	if log == nil {
		log = logger.GetDefault()
	}

	switch mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.Logger(log))

	healthHandler := handler.NewHealthHandler()
	statusHandler := handler.NewStatusHandler(loop, history)

	r.GET("/health", healthHandler.Health)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/status", statusHandler.Status)
		v1.GET("/history", statusHandler.History)
		v1.POST("/reload", statusHandler.Reload)
	}

	return r
}
