package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/yungbote/dgnl-backend/internal/domain"
	"github.com/yungbote/dgnl-backend/internal/domain/exam"
)

func Ptr[T any](v T) *T { return &v }

// SeedTest creates a test with the given type and due time and questions
// "{id}_1".."{id}_n" whose correct options cycle through answers.
func SeedTest(tb testing.TB, ctx context.Context, tx *gorm.DB, testType string, due *time.Time, answers []string) *types.Test {
	tb.Helper()
	t := &types.Test{
		ID:       "t-" + uuid.NewString()[:8],
		Title:    "Mock exam",
		Type:     testType,
		DueTime:  due,
		Duration: 150,
		Status:   "published",
	}
	if err := tx.WithContext(ctx).Create(t).Error; err != nil {
		tb.Fatalf("seed test: %v", err)
	}
	if len(answers) == 0 {
		return t
	}
	qs := make([]*types.Question, 0, len(answers))
	for i, a := range answers {
		q := &types.Question{ID: exam.QuestionID(t.ID, i+1), TestID: t.ID, RelativeScore: 1}
		if a != "" {
			q.CorrectOption = Ptr(a)
		}
		qs = append(qs, q)
	}
	if err := tx.WithContext(ctx).Create(&qs).Error; err != nil {
		tb.Fatalf("seed questions: %v", err)
	}
	return t
}

func SeedTrial(tb testing.TB, ctx context.Context, tx *gorm.DB, testID string, studentID string) *types.Trial {
	tb.Helper()
	tr := &types.Trial{
		StudentID: studentID,
		TestID:    testID,
		StartTime: time.Now().UTC().Add(-time.Hour),
	}
	if err := tx.WithContext(ctx).Create(tr).Error; err != nil {
		tb.Fatalf("seed trial: %v", err)
	}
	return tr
}

// SeedResponses stores one response per chosen option, keyed to question
// ordinals 1..n. An empty string records an unanswered question.
func SeedResponses(tb testing.TB, ctx context.Context, tx *gorm.DB, trial *types.Trial, chosen []string) []*types.Response {
	tb.Helper()
	out := make([]*types.Response, 0, len(chosen))
	for i, c := range chosen {
		r := &types.Response{
			TrialID:      trial.ID,
			QuestionID:   exam.QuestionID(trial.TestID, i+1),
			ResponseTime: float64(10 + i),
		}
		if c != "" {
			r.ChosenOption = Ptr(c)
		}
		out = append(out, r)
	}
	if len(out) == 0 {
		return out
	}
	if err := tx.WithContext(ctx).Create(&out).Error; err != nil {
		tb.Fatalf("seed responses: %v", err)
	}
	return out
}

func MarkScored(tb testing.TB, ctx context.Context, tx *gorm.DB, trialID string) {
	tb.Helper()
	err := tx.WithContext(ctx).Model(&types.Trial{}).
		Where("id = ?", trialID).
		Update("processed_score", datatypes.JSON(`{"name":"`+trialID+`"}`)).Error
	if err != nil {
		tb.Fatalf("mark scored: %v", err)
	}
}
