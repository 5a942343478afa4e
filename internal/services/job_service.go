package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/yungbote/dgnl-backend/internal/platform/ctxutil"
	"github.com/yungbote/dgnl-backend/internal/platform/dbctx"
	"github.com/yungbote/dgnl-backend/internal/platform/logger"
	"github.com/yungbote/dgnl-backend/internal/platform/queue"
)

const (
	JobTypeIRTCalculate = "irt_calculate"
	JobTypeTrialScore   = "trial_score"
)

// JobQueue is the broker surface services need.
type JobQueue interface {
	Enqueue(ctx context.Context, queueName string, jobType string, payload any) (*queue.Job, error)
	Stats(ctx context.Context, queueName string) (queue.Stats, error)
}

type JobService interface {
	Enqueue(dbc dbctx.Context, queueName string, jobType string, payload map[string]any) (*queue.Job, error)
	Stats(ctx context.Context) ([]queue.Stats, error)
}

type jobService struct {
	log    *logger.Logger
	queue  JobQueue
	queues []string
}

func NewJobService(baseLog *logger.Logger, q JobQueue) JobService {
	return &jobService{
		log:    baseLog.With("service", "JobService"),
		queue:  q,
		queues: []string{queue.IRTQueue, queue.ScoringQueue},
	}
}

// Enqueue stamps the caller's trace and request ids onto the payload so the
// worker's logs correlate with the request that produced the job.
func (s *jobService) Enqueue(dbc dbctx.Context, queueName string, jobType string, payload map[string]any) (*queue.Job, error) {
	if strings.TrimSpace(queueName) == "" {
		return nil, fmt.Errorf("missing queue name")
	}
	if strings.TrimSpace(jobType) == "" {
		return nil, fmt.Errorf("missing job_type")
	}
	if s.queue == nil {
		return nil, fmt.Errorf("job queue not configured (REDIS_URL)")
	}
	if payload == nil {
		payload = map[string]any{}
	}
	if td := ctxutil.GetTraceData(dbc.Ctx); td != nil {
		if td.TraceID != "" {
			if _, ok := payload["trace_id"]; !ok {
				payload["trace_id"] = td.TraceID
			}
		}
		if td.RequestID != "" {
			if _, ok := payload["request_id"]; !ok {
				payload["request_id"] = td.RequestID
			}
		}
	}
	job, err := s.queue.Enqueue(ctxutil.Default(dbc.Ctx), queueName, jobType, payload)
	if err != nil {
		return nil, fmt.Errorf("enqueue %s: %w", jobType, err)
	}
	s.log.Info("Job enqueued", "queue", queueName, "job_type", jobType, "job_id", job.ID)
	return job, nil
}

func (s *jobService) Stats(ctx context.Context) ([]queue.Stats, error) {
	if s.queue == nil {
		return nil, fmt.Errorf("job queue not configured (REDIS_URL)")
	}
	out := make([]queue.Stats, 0, len(s.queues))
	for _, name := range s.queues {
		st, err := s.queue.Stats(ctx, name)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}
