package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	httpH "github.com/yungbote/dgnl-backend/internal/http/handlers"
	httpMW "github.com/yungbote/dgnl-backend/internal/http/middleware"
	"github.com/yungbote/dgnl-backend/internal/platform/logger"
)

type RouterConfig struct {
	Log            *logger.Logger
	ServiceName    string
	AllowedOrigins []string
	AdminAuth      *httpMW.AdminAuth

	HealthHandler     *httpH.HealthHandler
	SubmissionHandler *httpH.SubmissionHandler
	TrialHandler      *httpH.TrialHandler
	IRTHandler        *httpH.IRTHandler
	AdminHandler      *httpH.AdminHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.CORS(cfg.AllowedOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/healthcheck", cfg.HealthHandler.HealthCheck)
	}

	api := r.Group("/api")
	{
		if cfg.SubmissionHandler != nil {
			api.POST("/submissions", cfg.SubmissionHandler.Submit)
		}
		if cfg.TrialHandler != nil {
			api.POST("/trials", cfg.TrialHandler.Start)
			api.GET("/trials/:id", cfg.TrialHandler.Get)
		}
	}

	admin := api.Group("/")
	{
		if cfg.AdminAuth != nil {
			admin.Use(cfg.AdminAuth.RequireAdmin())
		}
		if cfg.IRTHandler != nil {
			admin.POST("/tests/:id/calculate-irt", cfg.IRTHandler.Calculate)
		}
		if cfg.TrialHandler != nil {
			admin.POST("/trials/:id/rescore", cfg.TrialHandler.Rescore)
		}
		if cfg.AdminHandler != nil {
			admin.GET("/admin/queues", cfg.AdminHandler.Queues)
		}
	}

	return r
}
