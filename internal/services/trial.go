package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/jinzhu/copier"

	"github.com/yungbote/dgnl-backend/internal/data/repos"
	types "github.com/yungbote/dgnl-backend/internal/domain"
	"github.com/yungbote/dgnl-backend/internal/domain/exam"
	"github.com/yungbote/dgnl-backend/internal/platform/dbctx"
	"github.com/yungbote/dgnl-backend/internal/platform/logger"
	"github.com/yungbote/dgnl-backend/internal/platform/queue"
)

const (
	ScoreStatusProcessing = "processing"
	ScoreStatusScored     = "scored"
)

type StartTrialInput struct {
	StudentID string `json:"studentId" validate:"required"`
	TestID    string `json:"testId" validate:"required"`
}

// TrialResult is the read model for a trial's scores.
type TrialResult struct {
	ID          string                `json:"id"`
	StudentID   string                `json:"studentId"`
	TestID      string                `json:"testId"`
	StartTime   time.Time             `json:"startTime"`
	EndTime     *time.Time            `json:"endTime,omitempty"`
	Scores      *types.RawScore       `json:"scores,omitempty"`
	IRT         *types.ProcessedScore `json:"irt,omitempty"`
	ScoreStatus string                `json:"scoreStatus"`
}

type TrialService interface {
	// Start returns the student's exam trial, creating it on first call.
	// Practice tests get a new trial every time.
	Start(dbc dbctx.Context, in StartTrialInput) (trial *types.Trial, created bool, err error)
	GetResult(dbc dbctx.Context, trialID string) (*TrialResult, error)
	// Rescore queues a regrade of the stored responses on scoring-queue.
	Rescore(dbc dbctx.Context, trialID string) (*queue.Job, error)
}

type trialService struct {
	log    *logger.Logger
	tests  repos.TestRepo
	trials repos.TrialRepo
	jobs   JobService
	now    func() time.Time
}

func NewTrialService(baseLog *logger.Logger, tests repos.TestRepo, trials repos.TrialRepo, jobs JobService) TrialService {
	return &trialService{
		log:    baseLog.With("service", "TrialService"),
		tests:  tests,
		trials: trials,
		jobs:   jobs,
		now:    time.Now,
	}
}

func (s *trialService) Start(dbc dbctx.Context, in StartTrialInput) (*types.Trial, bool, error) {
	in.StudentID = strings.TrimSpace(in.StudentID)
	in.TestID = strings.TrimSpace(in.TestID)
	if err := validateStruct(in); err != nil {
		return nil, false, err
	}
	test, err := s.tests.GetByID(dbctx.Context{Ctx: dbc.Ctx}, in.TestID)
	if err != nil {
		return nil, false, fmt.Errorf("load test: %w", err)
	}
	if test == nil {
		return nil, false, notFound("test", in.TestID)
	}

	trial := &types.Trial{
		StudentID: in.StudentID,
		TestID:    test.ID,
		StartTime: s.now().UTC(),
	}
	if test.IsExam() {
		key := exam.ExamKey(in.StudentID, test.ID)
		trial.ExamKey = &key
	}
	out, created, err := s.trials.Create(dbctx.Context{Ctx: dbc.Ctx}, trial)
	if err != nil {
		return nil, false, fmt.Errorf("create trial: %w", err)
	}
	if created {
		s.log.Info("Trial started", "trial_id", out.ID, "test_id", test.ID, "student_id", in.StudentID)
	}
	return out, created, nil
}

func (s *trialService) GetResult(dbc dbctx.Context, trialID string) (*TrialResult, error) {
	trialID = strings.TrimSpace(trialID)
	if trialID == "" {
		return nil, invalid("id", "required")
	}
	trial, err := s.trials.GetByID(dbctx.Context{Ctx: dbc.Ctx}, trialID)
	if err != nil {
		return nil, fmt.Errorf("load trial: %w", err)
	}
	if trial == nil {
		return nil, notFound("trial", trialID)
	}

	var out TrialResult
	if err := copier.Copy(&out, trial); err != nil {
		return nil, fmt.Errorf("map trial: %w", err)
	}
	if out.Scores, err = exam.DecodeRawScore(trial.RawScore); err != nil {
		return nil, err
	}
	if out.IRT, err = exam.DecodeProcessedScore(trial.ProcessedScore); err != nil {
		return nil, err
	}
	out.ScoreStatus = ScoreStatusProcessing
	if out.IRT != nil {
		out.ScoreStatus = ScoreStatusScored
	}
	return &out, nil
}

func (s *trialService) Rescore(dbc dbctx.Context, trialID string) (*queue.Job, error) {
	trialID = strings.TrimSpace(trialID)
	if trialID == "" {
		return nil, invalid("id", "required")
	}
	trial, err := s.trials.GetByID(dbctx.Context{Ctx: dbc.Ctx}, trialID)
	if err != nil {
		return nil, fmt.Errorf("load trial: %w", err)
	}
	if trial == nil {
		return nil, notFound("trial", trialID)
	}
	return s.jobs.Enqueue(dbc, queue.ScoringQueue, JobTypeTrialScore, map[string]any{"trialId": trial.ID})
}
