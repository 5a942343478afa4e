package irt_calculate

import (
	"reflect"
	"testing"

	types "github.com/yungbote/dgnl-backend/internal/domain"
)

func strp(s string) *string { return &s }

func TestBuildMatrix(t *testing.T) {
	questions := []*types.Question{
		{ID: "t1_1", CorrectOption: strp("A")},
		{ID: "t1_2", CorrectOption: strp("B")},
		{ID: "t1_3"},
	}
	trials := []*types.Trial{
		{ID: "tr-a", Responses: []types.Response{
			{QuestionID: "t1_1", ChosenOption: strp("A")},
			{QuestionID: "t1_2", ChosenOption: strp("C")},
			{QuestionID: "t1_3", ChosenOption: strp("A")},
		}},
		{ID: "tr-b", Responses: []types.Response{
			{QuestionID: "t1_2", ChosenOption: strp("B")},
			{QuestionID: "t9_1", ChosenOption: strp("A")},
		}},
		{ID: "tr-c"},
	}

	req := BuildMatrix(questions, trials)
	wantRows := [][]int{{1, 0, 0}, {0, 1, 0}, {0, 0, 0}}
	if !reflect.DeepEqual(req.Responses, wantRows) {
		t.Fatalf("rows = %v, want %v", req.Responses, wantRows)
	}
	if !reflect.DeepEqual(req.Names, []string{"tr-a", "tr-b", "tr-c"}) {
		t.Fatalf("names = %v", req.Names)
	}
}
