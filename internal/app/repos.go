package app

import (
	"gorm.io/gorm"

	"github.com/yungbote/dgnl-backend/internal/data/repos"
	"github.com/yungbote/dgnl-backend/internal/platform/logger"
)

type Repos struct {
	Test     repos.TestRepo
	Question repos.QuestionRepo
	Trial    repos.TrialRepo
	Response repos.ResponseRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		Test:     repos.NewTestRepo(db, log),
		Question: repos.NewQuestionRepo(db, log),
		Trial:    repos.NewTrialRepo(db, log),
		Response: repos.NewResponseRepo(db, log),
	}
}
