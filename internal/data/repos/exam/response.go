package exam

import (
	"gorm.io/gorm"

	types "github.com/yungbote/dgnl-backend/internal/domain"
	"github.com/yungbote/dgnl-backend/internal/platform/dbctx"
	"github.com/yungbote/dgnl-backend/internal/platform/logger"
)

type ResponseRepo interface {
	// ReplaceForTrial deletes every response of the trial and inserts the
	// given set. Pass a transaction in dbc.Tx to make it atomic with other writes.
	ReplaceForTrial(dbc dbctx.Context, trialID string, responses []*types.Response) error
	ListByTrial(dbc dbctx.Context, trialID string) ([]*types.Response, error)
}

type responseRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewResponseRepo(db *gorm.DB, baseLog *logger.Logger) ResponseRepo {
	return &responseRepo{
		db:  db,
		log: baseLog.With("repo", "ResponseRepo"),
	}
}

func (r *responseRepo) ReplaceForTrial(dbc dbctx.Context, trialID string, responses []*types.Response) error {
	transaction := dbc.DB(r.db)
	if err := transaction.Where("trial_id = ?", trialID).Delete(&types.Response{}).Error; err != nil {
		return err
	}
	if len(responses) == 0 {
		return nil
	}
	for _, resp := range responses {
		resp.TrialID = trialID
	}
	return transaction.CreateInBatches(responses, 200).Error
}

func (r *responseRepo) ListByTrial(dbc dbctx.Context, trialID string) ([]*types.Response, error) {
	var out []*types.Response
	if trialID == "" {
		return out, nil
	}
	if err := dbc.DB(r.db).
		Where("trial_id = ?", trialID).
		Order("question_id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
