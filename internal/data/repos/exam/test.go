package exam

import (
	"errors"
	"time"

	"gorm.io/gorm"

	types "github.com/yungbote/dgnl-backend/internal/domain"
	"github.com/yungbote/dgnl-backend/internal/platform/dbctx"
	"github.com/yungbote/dgnl-backend/internal/platform/logger"
)

// IRTCandidate is a test the scheduler should enqueue, with the number of
// its trials still lacking a processed score.
type IRTCandidate struct {
	Test          *types.Test
	PendingTrials int64
}

type TestRepo interface {
	Create(dbc dbctx.Context, tests []*types.Test) ([]*types.Test, error)
	GetByID(dbc dbctx.Context, id string) (*types.Test, error)
	ListIRTEligible(dbc dbctx.Context, now time.Time, staleBefore time.Time) ([]*IRTCandidate, error)
	ClaimIRT(dbc dbctx.Context, id string, now time.Time, staleBefore time.Time) (bool, error)
	SetIRTStatus(dbc dbctx.Context, id string, status string) error
}

type testRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewTestRepo(db *gorm.DB, baseLog *logger.Logger) TestRepo {
	return &testRepo{
		db:  db,
		log: baseLog.With("repo", "TestRepo"),
	}
}

func (r *testRepo) Create(dbc dbctx.Context, tests []*types.Test) ([]*types.Test, error) {
	if len(tests) == 0 {
		return []*types.Test{}, nil
	}
	if err := dbc.DB(r.db).Create(&tests).Error; err != nil {
		return nil, err
	}
	return tests, nil
}

// GetByID returns (nil, nil) when the test does not exist.
func (r *testRepo) GetByID(dbc dbctx.Context, id string) (*types.Test, error) {
	if id == "" {
		return nil, nil
	}
	var t types.Test
	err := dbc.DB(r.db).Where("id = ?", id).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListIRTEligible finds exams past their due time that still have at least
// one unscored trial and are not currently claimed by a live worker.
func (r *testRepo) ListIRTEligible(dbc dbctx.Context, now time.Time, staleBefore time.Time) ([]*IRTCandidate, error) {
	transaction := dbc.DB(r.db)
	var tests []*types.Test
	err := transaction.
		Where("type = ? AND due_time IS NOT NULL AND due_time <= ?", types.TestTypeExam, now).
		Where("(irt_status <> ? OR irt_claimed_at IS NULL OR irt_claimed_at < ?)", types.IRTStatusInFlight, staleBefore).
		Where("EXISTS (SELECT 1 FROM trial WHERE trial.test_id = test.id AND trial.processed_score IS NULL)").
		Order("due_time ASC, id ASC").
		Find(&tests).Error
	if err != nil {
		return nil, err
	}
	if len(tests) == 0 {
		return []*IRTCandidate{}, nil
	}

	ids := make([]string, 0, len(tests))
	for _, t := range tests {
		ids = append(ids, t.ID)
	}
	var counts []struct {
		TestID  string
		Pending int64
	}
	err = dbc.DB(r.db).
		Model(&types.Trial{}).
		Select("test_id, COUNT(*) AS pending").
		Where("test_id IN ? AND processed_score IS NULL", ids).
		Group("test_id").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}
	byTest := make(map[string]int64, len(counts))
	for _, c := range counts {
		byTest[c.TestID] = c.Pending
	}

	out := make([]*IRTCandidate, 0, len(tests))
	for _, t := range tests {
		out = append(out, &IRTCandidate{Test: t, PendingTrials: byTest[t.ID]})
	}
	return out, nil
}

// ClaimIRT moves the test to in_flight unless a live claim exists. A claim
// older than staleBefore is considered abandoned and may be taken over.
func (r *testRepo) ClaimIRT(dbc dbctx.Context, id string, now time.Time, staleBefore time.Time) (bool, error) {
	res := dbc.DB(r.db).
		Model(&types.Test{}).
		Where("id = ?", id).
		Where("(irt_status <> ? OR irt_claimed_at IS NULL OR irt_claimed_at < ?)", types.IRTStatusInFlight, staleBefore).
		Updates(map[string]interface{}{
			"irt_status":     types.IRTStatusInFlight,
			"irt_claimed_at": now,
			"updated_at":     now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *testRepo) SetIRTStatus(dbc dbctx.Context, id string, status string) error {
	updates := map[string]interface{}{
		"irt_status": status,
		"updated_at": time.Now().UTC(),
	}
	if status != types.IRTStatusInFlight {
		updates["irt_claimed_at"] = nil
	}
	return dbc.DB(r.db).
		Model(&types.Test{}).
		Where("id = ?", id).
		Updates(updates).Error
}
