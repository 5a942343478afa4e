package services

import (
	types "github.com/yungbote/dgnl-backend/internal/domain"
	"github.com/yungbote/dgnl-backend/internal/domain/exam"
)

// GradeResult is the outcome of grading one response set.
type GradeResult struct {
	Score types.RawScore
	// Unbucketed holds answered question ids whose ordinal falls outside
	// every subject section; they never count.
	Unbucketed []string
}

// GradeResponses counts correct answers per subject. A response counts when
// its chosen option equals the question's correct option; the subject comes
// from the question id's ordinal alone. questionCount is the denominator of
// the "total" string.
func GradeResponses(questions []*types.Question, responses []*types.Response, questionCount int) GradeResult {
	byID := make(map[string]*types.Question, len(questions))
	for _, q := range questions {
		if q != nil {
			byID[q.ID] = q
		}
	}
	var out GradeResult
	for _, r := range responses {
		if r == nil {
			continue
		}
		subject, ok := exam.SubjectForQuestionID(r.QuestionID)
		if !ok {
			out.Unbucketed = append(out.Unbucketed, r.QuestionID)
			continue
		}
		if byID[r.QuestionID].Matches(r.ChosenOption) {
			out.Score.Add(subject)
		}
	}
	out.Score.Finalize(questionCount)
	return out
}
