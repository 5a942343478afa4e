package irt_calculate

import (
	"github.com/yungbote/dgnl-backend/internal/clients/irt"
	types "github.com/yungbote/dgnl-backend/internal/domain"
)

// BuildMatrix produces one 0/1 row per trial with one column per question,
// in the order given. A cell is 1 only when the trial answered that question
// with its correct option. Rows are labelled with trial ids so results map
// back to the attempt, not the student.
func BuildMatrix(questions []*types.Question, trials []*types.Trial) irt.Request {
	req := irt.Request{
		Responses: make([][]int, 0, len(trials)),
		Names:     make([]string, 0, len(trials)),
	}
	for _, tr := range trials {
		if tr == nil {
			continue
		}
		chosen := make(map[string]*string, len(tr.Responses))
		for i := range tr.Responses {
			chosen[tr.Responses[i].QuestionID] = tr.Responses[i].ChosenOption
		}
		row := make([]int, len(questions))
		for col, q := range questions {
			c, answered := chosen[q.ID]
			if answered && q.Matches(c) {
				row[col] = 1
			}
		}
		req.Responses = append(req.Responses, row)
		req.Names = append(req.Names, tr.ID)
	}
	return req
}
