package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/dgnl-backend/internal/data/repos/exam"
	"github.com/yungbote/dgnl-backend/internal/platform/logger"
)

type TestRepo = exam.TestRepo
type QuestionRepo = exam.QuestionRepo
type TrialRepo = exam.TrialRepo
type ResponseRepo = exam.ResponseRepo

type IRTCandidate = exam.IRTCandidate

func NewTestRepo(db *gorm.DB, baseLog *logger.Logger) TestRepo { return exam.NewTestRepo(db, baseLog) }

func NewQuestionRepo(db *gorm.DB, baseLog *logger.Logger) QuestionRepo {
	return exam.NewQuestionRepo(db, baseLog)
}

func NewTrialRepo(db *gorm.DB, baseLog *logger.Logger) TrialRepo {
	return exam.NewTrialRepo(db, baseLog)
}

func NewResponseRepo(db *gorm.DB, baseLog *logger.Logger) ResponseRepo {
	return exam.NewResponseRepo(db, baseLog)
}

var IsUniqueViolation = exam.IsUniqueViolation
