package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/activitylog-backend/internal/http/handlers"
	httpMW "github.com/yungbote/activitylog-backend/internal/http/middleware"
	"github.com/yungbote/activitylog-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log         *logger.Logger
	// ServiceName names the server spans. Defaults to "activitylog".
	ServiceName string
	CORSOrigins []string

	HealthHandler   *httpH.HealthHandler
	ActivityHandler *httpH.ActivityHandler
	BacklogHandler  *httpH.BacklogHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "activitylog"
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware(serviceName))
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics())
	if len(cfg.CORSOrigins) > 0 {
		r.Use(httpMW.CORS(cfg.CORSOrigins))
	}

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.IsAlive)
		r.GET("/isalive", cfg.HealthHandler.IsAlive)
		r.GET("/isready", cfg.HealthHandler.IsReady)
	}
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		if cfg.ActivityHandler != nil {
			api.GET("/persons/:ident/activities", cfg.ActivityHandler.ListByPerson)
			api.GET("/counts", cfg.ActivityHandler.Counts)
		}

		// Backlog
		if cfg.BacklogHandler != nil {
			api.GET("/backlog/:queue", cfg.BacklogHandler.Stats)
		}
	}

	return r
}
