package trial_score

import (
	"gorm.io/gorm"

	"github.com/yungbote/dgnl-backend/internal/data/repos"
	"github.com/yungbote/dgnl-backend/internal/platform/logger"
	"github.com/yungbote/dgnl-backend/internal/services"
)

type Pipeline struct {
	db  *gorm.DB
	log *logger.Logger

	trials    repos.TrialRepo
	questions repos.QuestionRepo
}

func New(db *gorm.DB, baseLog *logger.Logger, trials repos.TrialRepo, questions repos.QuestionRepo) *Pipeline {
	return &Pipeline{
		db:        db,
		log:       baseLog.With("job", services.JobTypeTrialScore),
		trials:    trials,
		questions: questions,
	}
}

func (p *Pipeline) Type() string { return services.JobTypeTrialScore }
