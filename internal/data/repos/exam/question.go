package exam

import (
	"gorm.io/gorm"

	types "github.com/yungbote/dgnl-backend/internal/domain"
	"github.com/yungbote/dgnl-backend/internal/platform/dbctx"
	"github.com/yungbote/dgnl-backend/internal/platform/logger"
)

type QuestionRepo interface {
	Create(dbc dbctx.Context, questions []*types.Question) ([]*types.Question, error)
	// ListByTest orders by question id ascending.
	ListByTest(dbc dbctx.Context, testID string) ([]*types.Question, error)
}

type questionRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewQuestionRepo(db *gorm.DB, baseLog *logger.Logger) QuestionRepo {
	return &questionRepo{
		db:  db,
		log: baseLog.With("repo", "QuestionRepo"),
	}
}

func (r *questionRepo) Create(dbc dbctx.Context, questions []*types.Question) ([]*types.Question, error) {
	if len(questions) == 0 {
		return []*types.Question{}, nil
	}
	if err := dbc.DB(r.db).Create(&questions).Error; err != nil {
		return nil, err
	}
	return questions, nil
}

func (r *questionRepo) ListByTest(dbc dbctx.Context, testID string) ([]*types.Question, error) {
	var out []*types.Question
	if testID == "" {
		return out, nil
	}
	if err := dbc.DB(r.db).
		Where("test_id = ?", testID).
		Order("id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
