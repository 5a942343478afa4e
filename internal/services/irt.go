package services

import (
	"fmt"
	"strings"

	"github.com/yungbote/dgnl-backend/internal/data/repos"
	"github.com/yungbote/dgnl-backend/internal/platform/dbctx"
	"github.com/yungbote/dgnl-backend/internal/platform/logger"
	"github.com/yungbote/dgnl-backend/internal/platform/queue"
)

type IRTService interface {
	// Trigger enqueues one IRT calculation for the test.
	Trigger(dbc dbctx.Context, testID string) (*queue.Job, error)
}

type irtService struct {
	log   *logger.Logger
	tests repos.TestRepo
	jobs  JobService
}

func NewIRTService(baseLog *logger.Logger, tests repos.TestRepo, jobs JobService) IRTService {
	return &irtService{
		log:   baseLog.With("service", "IRTService"),
		tests: tests,
		jobs:  jobs,
	}
}

func (s *irtService) Trigger(dbc dbctx.Context, testID string) (*queue.Job, error) {
	testID = strings.TrimSpace(testID)
	if testID == "" {
		return nil, invalid("id", "required")
	}
	test, err := s.tests.GetByID(dbctx.Context{Ctx: dbc.Ctx}, testID)
	if err != nil {
		return nil, fmt.Errorf("load test: %w", err)
	}
	if test == nil {
		return nil, notFound("test", testID)
	}
	job, err := s.jobs.Enqueue(dbc, queue.IRTQueue, JobTypeIRTCalculate, map[string]any{"testId": test.ID})
	if err != nil {
		return nil, err
	}
	s.log.Info("IRT calculation requested", "test_id", test.ID, "title", test.Title, "job_id", job.ID)
	return job, nil
}
