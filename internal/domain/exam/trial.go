package exam

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Trial is one student's attempt at one test. RawScore is written at submit
// time; ProcessedScore stays NULL until the IRT pipeline writes it.
type Trial struct {
	ID             string         `gorm:"column:id;primaryKey" json:"id"`
	StudentID      string         `gorm:"column:student_id;not null;index" json:"student_id"`
	TestID         string         `gorm:"column:test_id;not null;index" json:"test_id"`
	StartTime      time.Time      `gorm:"column:start_time;not null" json:"start_time"`
	EndTime        *time.Time     `gorm:"column:end_time" json:"end_time,omitempty"`
	RawScore       datatypes.JSON `gorm:"column:raw_score" json:"raw_score,omitempty"`
	ProcessedScore datatypes.JSON `gorm:"column:processed_score" json:"processed_score,omitempty"`
	Tactic         datatypes.JSON `gorm:"column:tactic" json:"tactic,omitempty"`
	// ExamKey is "{student_id}:{test_id}" for exam-type tests and NULL for
	// practice, so the unique index allows one exam attempt per student.
	ExamKey   *string   `gorm:"column:exam_key;uniqueIndex" json:"-"`
	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`

	Responses []Response `gorm:"foreignKey:TrialID" json:"responses,omitempty"`
}

func (Trial) TableName() string { return "trial" }

func (t *Trial) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

func ExamKey(studentID, testID string) string { return studentID + ":" + testID }

// Response is one answer within a trial. The full set is replaced on every
// submission.
type Response struct {
	ID           string    `gorm:"column:id;primaryKey" json:"id"`
	TrialID      string    `gorm:"column:trial_id;not null;index" json:"trial_id"`
	QuestionID   string    `gorm:"column:question_id;not null;index" json:"question_id"`
	ChosenOption *string   `gorm:"column:chosen_option" json:"chosen_option,omitempty"`
	ResponseTime float64   `gorm:"column:response_time;not null;default:0" json:"response_time"`
	CreatedAt    time.Time `gorm:"not null" json:"created_at"`
}

func (Response) TableName() string { return "response" }

func (r *Response) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}
