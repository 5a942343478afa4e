package exam

import (
	"strconv"
	"strings"
)

// Question ids follow "{test_id}_{ordinal}" with ordinal 1..N. The ordinal
// decides which subject section the question scores into.
type Question struct {
	ID            string  `gorm:"column:id;primaryKey" json:"id"`
	TestID        string  `gorm:"column:test_id;not null;index" json:"test_id"`
	CorrectOption *string `gorm:"column:correct_option" json:"correct_option,omitempty"`
	RelativeScore float64 `gorm:"column:relative_score;not null;default:1" json:"relative_score"`
}

func (Question) TableName() string { return "question" }

// QuestionID builds the conventional id for the given ordinal.
func QuestionID(testID string, ordinal int) string {
	return testID + "_" + strconv.Itoa(ordinal)
}

// OrdinalFromQuestionID parses the unsigned decimal after the last underscore.
func OrdinalFromQuestionID(id string) (int, bool) {
	i := strings.LastIndex(id, "_")
	if i < 0 || i == len(id)-1 {
		return 0, false
	}
	digits := id[i+1:]
	for j := 0; j < len(digits); j++ {
		if digits[j] < '0' || digits[j] > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Matches reports whether chosen equals the question's correct option.
// An unset correct option never matches.
func (q *Question) Matches(chosen *string) bool {
	if q == nil || q.CorrectOption == nil || chosen == nil {
		return false
	}
	return *chosen == *q.CorrectOption
}
