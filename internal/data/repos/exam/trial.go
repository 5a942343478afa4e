package exam

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/yungbote/dgnl-backend/internal/domain"
	"github.com/yungbote/dgnl-backend/internal/platform/dbctx"
	"github.com/yungbote/dgnl-backend/internal/platform/logger"
)

type TrialRepo interface {
	// Create inserts the trial. When ExamKey collides with an existing exam
	// attempt the existing row is returned with created=false.
	Create(dbc dbctx.Context, trial *types.Trial) (out *types.Trial, created bool, err error)
	GetByID(dbc dbctx.Context, id string) (*types.Trial, error)
	GetWithResponses(dbc dbctx.Context, id string) (*types.Trial, error)
	GetByExamKey(dbc dbctx.Context, examKey string) (*types.Trial, error)
	ListByTestWithResponses(dbc dbctx.Context, testID string) ([]*types.Trial, error)
	CountUnscored(dbc dbctx.Context, testID string) (int64, error)
	UpdateRawScore(dbc dbctx.Context, id string, raw datatypes.JSON, endTime *time.Time) error
	UpdateProcessedScore(dbc dbctx.Context, id string, processed datatypes.JSON) error
}

type trialRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTrialRepo(db *gorm.DB, baseLog *logger.Logger) TrialRepo {
	return &trialRepo{
		db:  db,
		log: baseLog.With("repo", "TrialRepo"),
	}
}

// Create must not run inside a caller transaction on Postgres: the failed
// insert would abort it before the existing row can be read back.
func (r *trialRepo) Create(dbc dbctx.Context, trial *types.Trial) (*types.Trial, bool, error) {
	if trial == nil {
		return nil, false, fmt.Errorf("nil trial")
	}
	err := dbc.DB(r.db).Create(trial).Error
	if err == nil {
		return trial, true, nil
	}
	if !IsUniqueViolation(err) || trial.ExamKey == nil {
		return nil, false, err
	}
	existing, getErr := r.GetByExamKey(dbc, *trial.ExamKey)
	if getErr != nil {
		return nil, false, getErr
	}
	if existing == nil {
		return nil, false, err
	}
	r.log.Debug("Exam trial already exists", "exam_key", *trial.ExamKey, "trial_id", existing.ID)
	return existing, false, nil
}

func (r *trialRepo) first(tx *gorm.DB, out *types.Trial) (*types.Trial, error) {
	err := tx.First(out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *trialRepo) GetByID(dbc dbctx.Context, id string) (*types.Trial, error) {
	if id == "" {
		return nil, nil
	}
	return r.first(dbc.DB(r.db).Where("id = ?", id), &types.Trial{})
}

func (r *trialRepo) GetWithResponses(dbc dbctx.Context, id string) (*types.Trial, error) {
	if id == "" {
		return nil, nil
	}
	tx := dbc.DB(r.db).
		Preload("Responses", func(db *gorm.DB) *gorm.DB { return db.Order("question_id ASC") }).
		Where("id = ?", id)
	return r.first(tx, &types.Trial{})
}

func (r *trialRepo) GetByExamKey(dbc dbctx.Context, examKey string) (*types.Trial, error) {
	if examKey == "" {
		return nil, nil
	}
	return r.first(dbc.DB(r.db).Where("exam_key = ?", examKey), &types.Trial{})
}

func (r *trialRepo) ListByTestWithResponses(dbc dbctx.Context, testID string) ([]*types.Trial, error) {
	var out []*types.Trial
	if testID == "" {
		return out, nil
	}
	if err := dbc.DB(r.db).
		Preload("Responses").
		Where("test_id = ?", testID).
		Order("created_at ASC, id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *trialRepo) CountUnscored(dbc dbctx.Context, testID string) (int64, error) {
	var n int64
	err := dbc.DB(r.db).
		Model(&types.Trial{}).
		Where("test_id = ? AND processed_score IS NULL", testID).
		Count(&n).Error
	return n, err
}

func (r *trialRepo) UpdateRawScore(dbc dbctx.Context, id string, raw datatypes.JSON, endTime *time.Time) error {
	updates := map[string]interface{}{
		"raw_score":  raw,
		"updated_at": time.Now().UTC(),
	}
	if endTime != nil {
		updates["end_time"] = endTime.UTC()
	}
	res := dbc.DB(r.db).Model(&types.Trial{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (r *trialRepo) UpdateProcessedScore(dbc dbctx.Context, id string, processed datatypes.JSON) error {
	res := dbc.DB(r.db).
		Model(&types.Trial{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"processed_score": processed,
			"updated_at":      time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
