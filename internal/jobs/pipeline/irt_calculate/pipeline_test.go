package irt_calculate

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/dgnl-backend/internal/clients/irt"
	"github.com/yungbote/dgnl-backend/internal/data/repos"
	"github.com/yungbote/dgnl-backend/internal/data/repos/testutil"
	types "github.com/yungbote/dgnl-backend/internal/domain"
	jobrt "github.com/yungbote/dgnl-backend/internal/jobs/runtime"
	"github.com/yungbote/dgnl-backend/internal/platform/queue"
)

type fakeScorer struct {
	mu    sync.Mutex
	calls []irt.Request
	fn    func(req irt.Request) (*irt.Result, error)
}

func (f *fakeScorer) Calculate(_ context.Context, req irt.Request) (*irt.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return f.fn(req)
}

// echoScores returns one well-formed student object per requested name.
func echoScores(req irt.Request) (*irt.Result, error) {
	out := &irt.Result{}
	for i, name := range req.Names {
		correct := 0
		for _, v := range req.Responses[i] {
			correct += v
		}
		raw := fmt.Sprintf(`{"name":%q,"theta_vi":%d.5,"score0_300_vi":%d}`, name, correct, 100+correct*10)
		out.Students = append(out.Students, irt.StudentResult{Name: name, Raw: json.RawMessage(raw)})
	}
	return out, nil
}

type recordingStore struct {
	result map[string]any
	failed error
}

func (s *recordingStore) UpdateProgress(context.Context, *queue.Job, int) error { return nil }

func (s *recordingStore) Complete(_ context.Context, _ *queue.Job, result any) error {
	s.result, _ = result.(map[string]any)
	return nil
}

func (s *recordingStore) Fail(_ context.Context, _ *queue.Job, cause error) error {
	s.failed = cause
	return nil
}

type fixture struct {
	db       *gorm.DB
	pipeline *Pipeline
	scorer   *fakeScorer
}

func newFixture(t *testing.T, fn func(irt.Request) (*irt.Result, error)) *fixture {
	t.Helper()
	db := testutil.SQLite(t)
	log := testutil.Logger(t)
	scorer := &fakeScorer{fn: fn}
	p := New(db, log,
		repos.NewTestRepo(db, log),
		repos.NewQuestionRepo(db, log),
		repos.NewTrialRepo(db, log),
		scorer,
		Options{StaleAfter: 10 * time.Minute, WriteConcurrency: 2},
	)
	return &fixture{db: db, pipeline: p, scorer: scorer}
}

func (f *fixture) run(t *testing.T, testID string) *recordingStore {
	t.Helper()
	store := &recordingStore{}
	job := &queue.Job{
		ID:       "job-1",
		Queue:    queue.IRTQueue,
		Type:     f.pipeline.Type(),
		Payload:  json.RawMessage(fmt.Sprintf(`{"testId":%q}`, testID)),
		Attempts: 1,
	}
	jc := jobrt.NewContext(context.Background(), job, store, testutil.Logger(t))
	if err := f.pipeline.Run(jc); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !jc.Terminal() {
		t.Fatalf("Run must end the job")
	}
	return store
}

func (f *fixture) trial(t *testing.T, id string) *types.Trial {
	t.Helper()
	var tr types.Trial
	if err := f.db.Where("id = ?", id).First(&tr).Error; err != nil {
		t.Fatalf("load trial: %v", err)
	}
	return &tr
}

func (f *fixture) test(t *testing.T, id string) *types.Test {
	t.Helper()
	var out types.Test
	if err := f.db.Where("id = ?", id).First(&out).Error; err != nil {
		t.Fatalf("load test: %v", err)
	}
	return &out
}

func pastDue() *time.Time {
	d := time.Now().UTC().Add(-time.Hour)
	return &d
}

func TestRunScoresEveryTrial(t *testing.T) {
	f := newFixture(t, echoScores)
	ctx := context.Background()
	test := testutil.SeedTest(t, ctx, f.db, types.TestTypeExam, pastDue(), []string{"A", "B", "C", "D"})
	partial := testutil.SeedTrial(t, ctx, f.db, test.ID, "s1")
	testutil.SeedResponses(t, ctx, f.db, partial, []string{"A", "B", "X", ""})
	perfect := testutil.SeedTrial(t, ctx, f.db, test.ID, "s2")
	testutil.SeedResponses(t, ctx, f.db, perfect, []string{"A", "B", "C", "D"})

	store := f.run(t, test.ID)
	if store.failed != nil {
		t.Fatalf("job failed: %v", store.failed)
	}
	if len(f.scorer.calls) != 1 {
		t.Fatalf("expected one IRT call, got %d", len(f.scorer.calls))
	}
	req := f.scorer.calls[0]
	rows := map[string][]int{}
	for i, name := range req.Names {
		rows[name] = req.Responses[i]
	}
	if fmt.Sprint(rows[partial.ID]) != "[1 1 0 0]" || fmt.Sprint(rows[perfect.ID]) != "[1 1 1 1]" {
		t.Fatalf("matrix rows = %v", rows)
	}

	got := f.trial(t, partial.ID)
	var stored map[string]any
	if err := json.Unmarshal(got.ProcessedScore, &stored); err != nil {
		t.Fatalf("processed_score: %v", err)
	}
	if stored["name"] != partial.ID || stored["score0_300_vi"] != float64(120) {
		t.Fatalf("processed_score not stored verbatim: %v", stored)
	}
	if st := f.test(t, test.ID); st.IRTStatus != types.IRTStatusScored || st.IRTClaimedAt != nil {
		t.Fatalf("test status = %s claimed_at=%v", st.IRTStatus, st.IRTClaimedAt)
	}
	if store.result["scored"] != 2 {
		t.Fatalf("result = %v", store.result)
	}
}

func TestRunWithoutTrialsSkipsExternalCall(t *testing.T) {
	f := newFixture(t, echoScores)
	ctx := context.Background()
	test := testutil.SeedTest(t, ctx, f.db, types.TestTypeExam, pastDue(), []string{"A"})

	store := f.run(t, test.ID)
	if store.failed != nil {
		t.Fatalf("job failed: %v", store.failed)
	}
	if store.result["result"] != "no trials" {
		t.Fatalf("result = %v", store.result)
	}
	if len(f.scorer.calls) != 0 {
		t.Fatalf("IRT service must not be called, got %d calls", len(f.scorer.calls))
	}
}

func TestRunFailsOnMalformedResponse(t *testing.T) {
	cases := map[string]func(irt.Request) (*irt.Result, error){
		"missing students": func(irt.Request) (*irt.Result, error) {
			return nil, fmt.Errorf("%w: missing students", irt.ErrMalformedResponse)
		},
		"unknown name": func(req irt.Request) (*irt.Result, error) {
			res, _ := echoScores(req)
			res.Students[len(res.Students)-1].Name = "somebody-else"
			return res, nil
		},
	}
	for name, fn := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, fn)
			ctx := context.Background()
			test := testutil.SeedTest(t, ctx, f.db, types.TestTypeExam, pastDue(), []string{"A", "B"})
			a := testutil.SeedTrial(t, ctx, f.db, test.ID, "s1")
			b := testutil.SeedTrial(t, ctx, f.db, test.ID, "s2")

			store := f.run(t, test.ID)
			if store.failed == nil {
				t.Fatalf("job should fail")
			}
			for _, id := range []string{a.ID, b.ID} {
				if tr := f.trial(t, id); len(tr.ProcessedScore) != 0 && string(tr.ProcessedScore) != "null" {
					t.Fatalf("trial %s was updated: %s", id, tr.ProcessedScore)
				}
			}
			if st := f.test(t, test.ID); st.IRTStatus != types.IRTStatusPending {
				t.Fatalf("failed run must release the claim, status=%s", st.IRTStatus)
			}
		})
	}
}

func TestRunFailsWithoutQuestions(t *testing.T) {
	f := newFixture(t, echoScores)
	ctx := context.Background()
	test := testutil.SeedTest(t, ctx, f.db, types.TestTypeExam, pastDue(), nil)
	testutil.SeedTrial(t, ctx, f.db, test.ID, "s1")

	store := f.run(t, test.ID)
	if store.failed == nil {
		t.Fatalf("a test without questions must fail the job")
	}
	if len(f.scorer.calls) != 0 {
		t.Fatalf("IRT service must not be called")
	}
}

func TestRerunAfterPartialFailureIncludesScoredTrials(t *testing.T) {
	f := newFixture(t, echoScores)
	ctx := context.Background()
	test := testutil.SeedTest(t, ctx, f.db, types.TestTypeExam, pastDue(), []string{"A", "B"})
	scored := testutil.SeedTrial(t, ctx, f.db, test.ID, "s1")
	pending := testutil.SeedTrial(t, ctx, f.db, test.ID, "s2")
	testutil.MarkScored(t, ctx, f.db, scored.ID)

	store := f.run(t, test.ID)
	if store.failed != nil {
		t.Fatalf("job failed: %v", store.failed)
	}
	if n := len(f.scorer.calls[0].Names); n != 2 {
		t.Fatalf("matrix must include every trial, got %d rows", n)
	}
	if tr := f.trial(t, pending.ID); len(tr.ProcessedScore) == 0 {
		t.Fatalf("pending trial was not scored")
	}
	if st := f.test(t, test.ID); st.IRTStatus != types.IRTStatusScored {
		t.Fatalf("status = %s", st.IRTStatus)
	}
}

func TestRunLeavesTestPendingWhenStudentsAreOmitted(t *testing.T) {
	f := newFixture(t, func(req irt.Request) (*irt.Result, error) {
		res, _ := echoScores(req)
		res.Students = res.Students[:1]
		return res, nil
	})
	ctx := context.Background()
	test := testutil.SeedTest(t, ctx, f.db, types.TestTypeExam, pastDue(), []string{"A"})
	testutil.SeedTrial(t, ctx, f.db, test.ID, "s1")
	testutil.SeedTrial(t, ctx, f.db, test.ID, "s2")

	store := f.run(t, test.ID)
	if store.failed != nil {
		t.Fatalf("job failed: %v", store.failed)
	}
	if store.result["remaining"] != int64(1) {
		t.Fatalf("result = %v", store.result)
	}
	if st := f.test(t, test.ID); st.IRTStatus != types.IRTStatusPending {
		t.Fatalf("status = %s", st.IRTStatus)
	}
}

func TestRunSkipsTestAlreadyInFlight(t *testing.T) {
	f := newFixture(t, echoScores)
	ctx := context.Background()
	test := testutil.SeedTest(t, ctx, f.db, types.TestTypeExam, pastDue(), []string{"A"})
	testutil.SeedTrial(t, ctx, f.db, test.ID, "s1")

	setClaim := func(at time.Time) {
		err := f.db.Model(&types.Test{}).Where("id = ?", test.ID).Updates(map[string]any{
			"irt_status":     types.IRTStatusInFlight,
			"irt_claimed_at": at,
		}).Error
		if err != nil {
			t.Fatalf("set claim: %v", err)
		}
	}

	setClaim(time.Now().UTC())
	store := f.run(t, test.ID)
	if store.failed != nil || store.result["skipped"] != "in_flight" {
		t.Fatalf("live claim should skip: result=%v failed=%v", store.result, store.failed)
	}
	if len(f.scorer.calls) != 0 {
		t.Fatalf("skipped run must not call the IRT service")
	}

	setClaim(time.Now().UTC().Add(-time.Hour))
	store = f.run(t, test.ID)
	if store.failed != nil || store.result["skipped"] != nil {
		t.Fatalf("stale claim should be taken over: result=%v failed=%v", store.result, store.failed)
	}
	if len(f.scorer.calls) != 1 {
		t.Fatalf("expected one IRT call after takeover, got %d", len(f.scorer.calls))
	}
}

func TestRunRejectsMissingTestID(t *testing.T) {
	f := newFixture(t, echoScores)
	store := &recordingStore{}
	jc := jobrt.NewContext(context.Background(), &queue.Job{ID: "j", Payload: json.RawMessage(`{}`)}, store, nil)
	if err := f.pipeline.Run(jc); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if store.failed == nil {
		t.Fatalf("missing testId must fail")
	}
}
