package app

import (
	apphttp "github.com/yungbote/dgnl-backend/internal/http"
	httpH "github.com/yungbote/dgnl-backend/internal/http/handlers"
	httpMW "github.com/yungbote/dgnl-backend/internal/http/middleware"
	"github.com/yungbote/dgnl-backend/internal/platform/logger"
)

type Handlers struct {
	Health     *httpH.HealthHandler
	Submission *httpH.SubmissionHandler
	Trial      *httpH.TrialHandler
	IRT        *httpH.IRTHandler
	Admin      *httpH.AdminHandler
}

func wireHandlers(log *logger.Logger, s Services) Handlers {
	log.Info("Wiring handlers...")
	return Handlers{
		Health:     httpH.NewHealthHandler(),
		Submission: httpH.NewSubmissionHandler(s.Submissions),
		Trial:      httpH.NewTrialHandler(s.Trials),
		IRT:        httpH.NewIRTHandler(s.IRT),
		Admin:      httpH.NewAdminHandler(s.Jobs),
	}
}

func wireServer(log *logger.Logger, cfg Config, h Handlers) *apphttp.Server {
	serviceName := ""
	if cfg.OTel.Enabled {
		serviceName = cfg.OTel.ServiceName
	}
	return apphttp.NewServer(cfg.HTTP.Addr, apphttp.RouterConfig{
		Log:               log.With("component", "HTTP"),
		ServiceName:       serviceName,
		AllowedOrigins:    cfg.HTTP.AllowedOrigins,
		AdminAuth:         httpMW.NewAdminAuth(log, cfg.HTTP.AdminJWTSecret),
		HealthHandler:     h.Health,
		SubmissionHandler: h.Submission,
		TrialHandler:      h.Trial,
		IRTHandler:        h.IRT,
		AdminHandler:      h.Admin,
	})
}
