package trial_score

import (
	"fmt"

	types "github.com/yungbote/dgnl-backend/internal/domain"
	jobrt "github.com/yungbote/dgnl-backend/internal/jobs/runtime"
	"github.com/yungbote/dgnl-backend/internal/observability"
	"github.com/yungbote/dgnl-backend/internal/platform/dbctx"
	"github.com/yungbote/dgnl-backend/internal/services"
)

// Run regrades a trial from its stored responses and rewrites raw_score.
// end_time is left as submitted.
func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil || jc.Job == nil {
		return nil
	}
	trialID, ok := jc.PayloadString("trialId")
	if !ok {
		jc.Fail("validate", fmt.Errorf("missing trialId"))
		return nil
	}
	dbc := dbctx.Context{Ctx: jc.Ctx}

	trial, err := p.trials.GetWithResponses(dbc, trialID)
	if err != nil {
		jc.Fail("load_trial", err)
		return nil
	}
	if trial == nil {
		jc.Fail("load_trial", fmt.Errorf("trial %s not found", trialID))
		return nil
	}
	jc.Progress("load_trial", 25, "Trial loaded")

	questions, err := p.questions.ListByTest(dbc, trial.TestID)
	if err != nil {
		jc.Fail("load_questions", err)
		return nil
	}
	jc.Progress("load_questions", 50, "Answer key loaded")

	responses := make([]*types.Response, 0, len(trial.Responses))
	for i := range trial.Responses {
		responses = append(responses, &trial.Responses[i])
	}
	graded := services.GradeResponses(questions, responses, len(questions))
	if len(graded.Unbucketed) > 0 {
		observability.ReportDataQuality(jc.Ctx, p.log, "trial_score", "ordinal_out_of_range", map[string]any{
			"trial_id":     trial.ID,
			"test_id":      trial.TestID,
			"question_ids": graded.Unbucketed,
		})
	}
	jc.Progress("grade", 75, "Responses graded")

	raw, err := graded.Score.JSON()
	if err != nil {
		jc.Fail("encode", err)
		return nil
	}
	if err := p.trials.UpdateRawScore(dbc, trial.ID, raw, nil); err != nil {
		jc.Fail("persist", err)
		return nil
	}
	p.log.Info("Trial rescored",
		"trial_id", trial.ID,
		"test_id", trial.TestID,
		"correct", graded.Score.Correct(),
		"total", graded.Score.Total,
	)
	jc.Progress("persist", 100, "Score stored")

	jc.Succeed("done", map[string]any{
		"trialId": trial.ID,
		"scores":  graded.Score,
		"total":   graded.Score.Correct(),
	})
	return nil
}
