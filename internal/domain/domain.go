package domain

import "github.com/yungbote/dgnl-backend/internal/domain/exam"

type (
	Test           = exam.Test
	Question       = exam.Question
	Trial          = exam.Trial
	Response       = exam.Response
	RawScore       = exam.RawScore
	ProcessedScore = exam.ProcessedScore
	SubjectScore   = exam.SubjectScore
	Subject        = exam.Subject
)

const (
	TestTypeExam     = exam.TestTypeExam
	TestTypePractice = exam.TestTypePractice

	IRTStatusPending  = exam.IRTStatusPending
	IRTStatusInFlight = exam.IRTStatusInFlight
	IRTStatusScored   = exam.IRTStatusScored
)
