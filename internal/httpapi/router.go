package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"taskpulse/internal/logger"
	"taskpulse/internal/observability"
)

type RouterConfig struct {
	Log         *logger.Logger
	Auth        *Auth
	CORSOrigins []string

	Procrastination *ProcrastinationHandler
	Tasks           *TaskHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	log := cfg.Log
	if log == nil {
		log = logger.Nop()
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(observability.ServiceName))
	r.Use(RequestLogger(log.With("component", "http")))
	r.Use(CORS(cfg.CORSOrigins))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	if cfg.Auth != nil {
		api.Use(cfg.Auth.RequireAuth())
	}

	if cfg.Procrastination != nil {
		api.GET("/procrastination/check", cfg.Procrastination.Check)
		api.POST("/procrastination/skip", cfg.Procrastination.Skip)
		api.POST("/coaching/trigger", cfg.Procrastination.Trigger)
		api.POST("/coaching/feedback", cfg.Procrastination.Feedback)
	}

	if cfg.Tasks != nil {
		api.GET("/tasks", cfg.Tasks.List)
		api.POST("/tasks", cfg.Tasks.Create)
		api.POST("/tasks/:id/complete", cfg.Tasks.Complete)
		api.POST("/tasks/:id/reopen", cfg.Tasks.Reopen)
		api.DELETE("/tasks/:id", cfg.Tasks.Delete)
		api.GET("/tasks/:id/events", cfg.Tasks.Events)
	}

	return r
}
