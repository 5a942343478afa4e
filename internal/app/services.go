package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/dgnl-backend/internal/platform/logger"
	"github.com/yungbote/dgnl-backend/internal/platform/queue"
	"github.com/yungbote/dgnl-backend/internal/services"
)

type Services struct {
	Jobs        services.JobService
	Submissions services.SubmissionService
	Trials      services.TrialService
	IRT         services.IRTService
}

func wireServices(db *gorm.DB, log *logger.Logger, r Repos, q *queue.Queue) Services {
	log.Info("Wiring services...")
	jobs := services.NewJobService(log, q)
	return Services{
		Jobs:        jobs,
		Submissions: services.NewSubmissionService(db, log, r.Trial, r.Question, r.Response),
		Trials:      services.NewTrialService(log, r.Test, r.Trial, jobs),
		IRT:         services.NewIRTService(log, r.Test, jobs),
	}
}
