package exam

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	TestTypeExam     = "exam"
	TestTypePractice = "practice"
)

// IRT lifecycle of an exam. A worker moves pending -> in_flight with a
// conditional update and leaves it as scored or pending when done.
const (
	IRTStatusPending  = "pending"
	IRTStatusInFlight = "in_flight"
	IRTStatusScored   = "scored"
)

type Test struct {
	ID           string     `gorm:"column:id;primaryKey" json:"id"`
	Title        string     `gorm:"column:title;not null" json:"title"`
	Type         string     `gorm:"column:type;not null;index" json:"type"`
	DueTime      *time.Time `gorm:"column:due_time;index" json:"due_time,omitempty"`
	Duration     int        `gorm:"column:duration;not null;default:0" json:"duration"`
	Status       string     `gorm:"column:status" json:"status,omitempty"`
	IRTStatus    string     `gorm:"column:irt_status;not null;default:'pending';index" json:"irt_status"`
	IRTClaimedAt *time.Time `gorm:"column:irt_claimed_at" json:"irt_claimed_at,omitempty"`
	CreatedAt    time.Time  `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"not null" json:"updated_at"`

	Questions []Question `gorm:"foreignKey:TestID" json:"questions,omitempty"`
}

func (Test) TableName() string { return "test" }

func (t *Test) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.IRTStatus == "" {
		t.IRTStatus = IRTStatusPending
	}
	return nil
}

func (t *Test) IsExam() bool { return t != nil && t.Type == TestTypeExam }
