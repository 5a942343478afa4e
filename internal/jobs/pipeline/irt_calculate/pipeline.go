package irt_calculate

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"github.com/yungbote/dgnl-backend/internal/clients/irt"
	types "github.com/yungbote/dgnl-backend/internal/domain"
	"github.com/yungbote/dgnl-backend/internal/domain/exam"
	jobrt "github.com/yungbote/dgnl-backend/internal/jobs/runtime"
	"github.com/yungbote/dgnl-backend/internal/platform/dbctx"
	"github.com/yungbote/dgnl-backend/internal/platform/logger"
)

type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return e.stage + ": " + e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

func fail(stage string, err error) error { return &stageError{stage: stage, err: err} }

func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil || jc.Job == nil {
		return nil
	}
	testID, ok := jc.PayloadString("testId")
	if !ok {
		jc.Fail("validate", fmt.Errorf("missing testId"))
		return nil
	}
	log := p.log.With("test_id", testID, "job_id", jc.Job.ID, "attempt", jc.Job.Attempts)

	jc.Progress("claim", 5, "Claiming test for IRT")
	test, err := p.tests.GetByID(dbctx.Context{Ctx: jc.Ctx}, testID)
	if err != nil {
		jc.Fail("load_test", err)
		return nil
	}
	if test == nil {
		jc.Fail("load_test", fmt.Errorf("test %s not found", testID))
		return nil
	}
	now := p.now().UTC()
	claimed, err := p.tests.ClaimIRT(dbctx.Context{Ctx: jc.Ctx}, testID, now, now.Add(-p.opts.StaleAfter))
	if err != nil {
		jc.Fail("claim", err)
		return nil
	}
	if !claimed {
		log.Info("IRT already in flight for test, skipping")
		jc.Succeed("skipped", map[string]any{"testId": testID, "skipped": "in_flight"})
		return nil
	}

	result, runErr := p.score(jc, log, test)

	// The claim is released even when the job context is already cancelled.
	releaseCtx := context.WithoutCancel(jc.Ctx)
	status := types.IRTStatusPending
	if runErr == nil {
		remaining, err := p.trials.CountUnscored(dbctx.Context{Ctx: releaseCtx}, testID)
		if err != nil {
			log.Warn("Counting unscored trials failed", "error", err)
		} else if remaining == 0 {
			status = types.IRTStatusScored
		}
		result["remaining"] = remaining
	}
	if err := p.tests.SetIRTStatus(dbctx.Context{Ctx: releaseCtx}, testID, status); err != nil {
		log.Error("Releasing IRT claim failed", "status", status, "error", err)
	}

	if runErr != nil {
		var se *stageError
		if errors.As(runErr, &se) {
			jc.Fail(se.stage, se.err)
		} else {
			jc.Fail("run", runErr)
		}
		return nil
	}
	result["irtStatus"] = status
	jc.Succeed("done", result)
	return nil
}

func (p *Pipeline) score(jc *jobrt.Context, log *logger.Logger, test *types.Test) (map[string]any, error) {
	dbc := dbctx.Context{Ctx: jc.Ctx}

	jc.Progress("load", 10, "Loading questions and trials")
	questions, err := p.questions.ListByTest(dbc, test.ID)
	if err != nil {
		return nil, fail("load_questions", err)
	}
	if len(questions) == 0 {
		return nil, fail("load_questions", fmt.Errorf("test %s has no questions", test.ID))
	}
	trials, err := p.trials.ListByTestWithResponses(dbc, test.ID)
	if err != nil {
		return nil, fail("load_trials", err)
	}
	if len(trials) == 0 {
		log.Info("No trials for test, nothing to score")
		return map[string]any{"testId": test.ID, "result": "no trials", "trials": 0}, nil
	}

	jc.Progress("matrix", 30, "Building response matrix")
	req := BuildMatrix(questions, trials)
	log.Info("Calling IRT service", "students", len(req.Names), "items", len(questions))

	jc.Progress("calculate", 50, "Waiting for IRT estimation")
	res, err := p.scorer.Calculate(jc.Ctx, req)
	if err != nil {
		return nil, fail("calculate", err)
	}

	writes, err := matchStudents(trials, res)
	if err != nil {
		return nil, fail("validate_response", err)
	}
	if missing := len(trials) - len(writes); missing > 0 {
		log.Warn("IRT service omitted some trials", "missing", missing)
	}

	jc.Progress("persist", 80, "Writing processed scores")
	g, gctx := errgroup.WithContext(jc.Ctx)
	g.SetLimit(p.opts.WriteConcurrency)
	for trialID, raw := range writes {
		trialID, raw := trialID, raw
		g.Go(func() error {
			if err := p.trials.UpdateProcessedScore(dbctx.Context{Ctx: gctx}, trialID, raw); err != nil {
				return fmt.Errorf("trial %s: %w", trialID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fail("persist", err)
	}

	log.Info("IRT scores stored", "trials", len(trials), "scored", len(writes))
	return map[string]any{
		"testId": test.ID,
		"trials": len(trials),
		"scored": len(writes),
	}, nil
}

// matchStudents maps every returned student object onto its trial. Any name
// that is not a trial of this test rejects the whole response before writes.
func matchStudents(trials []*types.Trial, res *irt.Result) (map[string]datatypes.JSON, error) {
	if res == nil {
		return nil, fmt.Errorf("%w: empty result", irt.ErrMalformedResponse)
	}
	known := make(map[string]struct{}, len(trials))
	for _, tr := range trials {
		known[tr.ID] = struct{}{}
	}
	out := make(map[string]datatypes.JSON, len(res.Students))
	for i, s := range res.Students {
		if _, ok := known[s.Name]; !ok {
			return nil, fmt.Errorf("%w: students[%d] name %q is not a trial of this test", irt.ErrMalformedResponse, i, s.Name)
		}
		if _, dup := out[s.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate student %q", irt.ErrMalformedResponse, s.Name)
		}
		if _, err := exam.DecodeProcessedScore(datatypes.JSON(s.Raw)); err != nil {
			return nil, fmt.Errorf("%w: students[%d]: %v", irt.ErrMalformedResponse, i, err)
		}
		out[s.Name] = datatypes.JSON(s.Raw)
	}
	return out, nil
}
