package services

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/dgnl-backend/internal/data/repos"
	types "github.com/yungbote/dgnl-backend/internal/domain"
	"github.com/yungbote/dgnl-backend/internal/observability"
	"github.com/yungbote/dgnl-backend/internal/platform/dbctx"
	"github.com/yungbote/dgnl-backend/internal/platform/logger"
)

type ResponseInput struct {
	QuestionID   string  `json:"questionId" validate:"required"`
	ChosenOption *string `json:"chosenOption" validate:"omitempty,len=1,alpha"`
	ResponseTime float64 `json:"responseTime" validate:"gte=0"`
}

type SubmitInput struct {
	TrialID   string          `json:"trialId" validate:"required"`
	Responses []ResponseInput `json:"responses" validate:"required,min=1,dive"`
}

// SubmitResult is returned to the student. Total is the number of correct
// answers; Scores.Total carries the "{correct}/{questions}" string.
type SubmitResult struct {
	Count  int            `json:"count"`
	Scores types.RawScore `json:"scores"`
	Total  int            `json:"total"`
}

type SubmissionService interface {
	Submit(dbc dbctx.Context, in SubmitInput) (*SubmitResult, error)
}

type submissionService struct {
	db        *gorm.DB
	log       *logger.Logger
	trials    repos.TrialRepo
	questions repos.QuestionRepo
	responses repos.ResponseRepo
	now       func() time.Time
}

func NewSubmissionService(
	db *gorm.DB,
	baseLog *logger.Logger,
	trials repos.TrialRepo,
	questions repos.QuestionRepo,
	responses repos.ResponseRepo,
) SubmissionService {
	return &submissionService{
		db:        db,
		log:       baseLog.With("service", "SubmissionService"),
		trials:    trials,
		questions: questions,
		responses: responses,
		now:       time.Now,
	}
}

// Submit grades the response set and replaces the trial's stored responses
// with it. The response rows, raw_score and end_time land in one transaction.
func (s *submissionService) Submit(dbc dbctx.Context, in SubmitInput) (*SubmitResult, error) {
	in.TrialID = strings.TrimSpace(in.TrialID)
	for i := range in.Responses {
		in.Responses[i].QuestionID = strings.TrimSpace(in.Responses[i].QuestionID)
		if c := in.Responses[i].ChosenOption; c != nil && strings.TrimSpace(*c) == "" {
			in.Responses[i].ChosenOption = nil
		}
	}
	if err := validateStruct(in); err != nil {
		return nil, err
	}

	trial, err := s.trials.GetByID(dbctx.Context{Ctx: dbc.Ctx}, in.TrialID)
	if err != nil {
		return nil, fmt.Errorf("load trial: %w", err)
	}
	if trial == nil {
		return nil, notFound("trial", in.TrialID)
	}

	questions, qErr := s.questions.ListByTest(dbctx.Context{Ctx: dbc.Ctx}, trial.TestID)
	questionCount := len(questions)
	if qErr != nil {
		// Grade with no answer key rather than block the submission.
		observability.ReportDataQuality(dbc.Ctx, s.log, "grader", "question_lookup_failed", map[string]any{
			"trial_id": trial.ID,
			"test_id":  trial.TestID,
			"error":    qErr.Error(),
		})
		questions = nil
		questionCount = len(in.Responses)
	}

	rows := make([]*types.Response, 0, len(in.Responses))
	for _, r := range in.Responses {
		rows = append(rows, &types.Response{
			TrialID:      trial.ID,
			QuestionID:   r.QuestionID,
			ChosenOption: r.ChosenOption,
			ResponseTime: r.ResponseTime,
		})
	}

	graded := GradeResponses(questions, rows, questionCount)
	if len(graded.Unbucketed) > 0 {
		observability.ReportDataQuality(dbc.Ctx, s.log, "grader", "ordinal_out_of_range", map[string]any{
			"trial_id":     trial.ID,
			"test_id":      trial.TestID,
			"question_ids": graded.Unbucketed,
		})
	}
	raw, err := graded.Score.JSON()
	if err != nil {
		return nil, fmt.Errorf("encode raw_score: %w", err)
	}

	end := s.now().UTC()
	err = s.db.WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		inner := dbctx.Context{Ctx: dbc.Ctx, Tx: tx}
		if err := s.responses.ReplaceForTrial(inner, trial.ID, rows); err != nil {
			return fmt.Errorf("replace responses: %w", err)
		}
		if err := s.trials.UpdateRawScore(inner, trial.ID, raw, &end); err != nil {
			return fmt.Errorf("update raw_score: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("Submission graded",
		"trial_id", trial.ID,
		"test_id", trial.TestID,
		"student_id", trial.StudentID,
		"responses", len(rows),
		"correct", graded.Score.Correct(),
		"total", graded.Score.Total,
	)
	return &SubmitResult{
		Count:  len(rows),
		Scores: graded.Score,
		Total:  graded.Score.Correct(),
	}, nil
}
