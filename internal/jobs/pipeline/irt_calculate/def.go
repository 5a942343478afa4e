package irt_calculate

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/dgnl-backend/internal/clients/irt"
	"github.com/yungbote/dgnl-backend/internal/data/repos"
	"github.com/yungbote/dgnl-backend/internal/platform/logger"
	"github.com/yungbote/dgnl-backend/internal/services"
)

// Scorer is the external IRT estimation service.
type Scorer interface {
	Calculate(ctx context.Context, req irt.Request) (*irt.Result, error)
}

type Options struct {
	// StaleAfter is how long an in_flight claim is honored before another
	// run may take the test over.
	StaleAfter time.Duration
	// WriteConcurrency bounds parallel processed_score updates.
	WriteConcurrency int
}

type Pipeline struct {
	db  *gorm.DB
	log *logger.Logger

	tests     repos.TestRepo
	questions repos.QuestionRepo
	trials    repos.TrialRepo
	scorer    Scorer

	opts Options
	now  func() time.Time
}

func New(
	db *gorm.DB,
	baseLog *logger.Logger,
	tests repos.TestRepo,
	questions repos.QuestionRepo,
	trials repos.TrialRepo,
	scorer Scorer,
	opts Options,
) *Pipeline {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 30 * time.Minute
	}
	if opts.WriteConcurrency < 1 {
		opts.WriteConcurrency = 8
	}
	return &Pipeline{
		db:        db,
		log:       baseLog.With("job", services.JobTypeIRTCalculate),
		tests:     tests,
		questions: questions,
		trials:    trials,
		scorer:    scorer,
		opts:      opts,
		now:       time.Now,
	}
}

func (p *Pipeline) Type() string { return services.JobTypeIRTCalculate }
