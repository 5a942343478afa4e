package exam

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"gorm.io/datatypes"
)

type Subject string

const (
	SubjectVietnamese Subject = "Vie"
	SubjectEnglish    Subject = "Eng"
	SubjectMath       Subject = "Mth"
	SubjectScience    Subject = "Sci"
)

// Subjects in section order.
var Subjects = []Subject{SubjectVietnamese, SubjectEnglish, SubjectMath, SubjectScience}

const (
	SectionSize = 30
	MaxOrdinal  = SectionSize * 4
)

// SubjectForOrdinal maps 1-30, 31-60, 61-90 and 91-120 to the four sections.
// Anything else belongs to no section.
func SubjectForOrdinal(n int) (Subject, bool) {
	if n < 1 || n > MaxOrdinal {
		return "", false
	}
	return Subjects[(n-1)/SectionSize], true
}

// SubjectForQuestionID combines OrdinalFromQuestionID and SubjectForOrdinal.
func SubjectForQuestionID(id string) (Subject, bool) {
	n, ok := OrdinalFromQuestionID(id)
	if !ok {
		return "", false
	}
	return SubjectForOrdinal(n)
}

// RawScore is the trial.raw_score column. The JSON keys are read by the
// result pages and must not change.
type RawScore struct {
	Total string `json:"total"`
	Vie   int    `json:"Vie_score"`
	Eng   int    `json:"Eng_score"`
	Mth   int    `json:"Mth_score"`
	Sci   int    `json:"Sci_score"`
}

func (r *RawScore) Add(s Subject) {
	switch s {
	case SubjectVietnamese:
		r.Vie++
	case SubjectEnglish:
		r.Eng++
	case SubjectMath:
		r.Mth++
	case SubjectScience:
		r.Sci++
	}
}

func (r RawScore) Of(s Subject) int {
	switch s {
	case SubjectVietnamese:
		return r.Vie
	case SubjectEnglish:
		return r.Eng
	case SubjectMath:
		return r.Mth
	case SubjectScience:
		return r.Sci
	}
	return 0
}

// Correct is the number of correct answers across all sections.
func (r RawScore) Correct() int { return r.Vie + r.Eng + r.Mth + r.Sci }

// Finalize sets Total to "{correct}/{questionCount}".
func (r *RawScore) Finalize(questionCount int) {
	r.Total = fmt.Sprintf("%d/%d", r.Correct(), questionCount)
}

func (r RawScore) JSON() (datatypes.JSON, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

// DecodeRawScore returns nil for a NULL column.
func DecodeRawScore(raw datatypes.JSON) (*RawScore, error) {
	if isNullJSON(raw) {
		return nil, nil
	}
	var out RawScore
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode raw_score: %w", err)
	}
	return &out, nil
}

const (
	thetaPrefix  = "theta_"
	scaledPrefix = "score0_300_"
)

// SubjectScore holds one subject's IRT ability estimate and its 0-300 scaled
// score. Either may be absent in the service output.
type SubjectScore struct {
	Theta  *float64 `json:"theta,omitempty"`
	Scaled *float64 `json:"scaled,omitempty"`
}

// ProcessedScore is the per-student object returned by the IRT service and
// stored verbatim in trial.processed_score. theta_* and score0_300_* keys are
// folded into Subjects by their suffix (e.g. "vi"); every other key is kept
// in Extra so re-encoding reproduces the stored object.
type ProcessedScore struct {
	Name     string
	Subjects map[string]SubjectScore
	Extra    map[string]json.RawMessage
}

func (p *ProcessedScore) UnmarshalJSON(b []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(b, &m); err != nil {
		return err
	}
	p.Name = ""
	p.Subjects = map[string]SubjectScore{}
	p.Extra = map[string]json.RawMessage{}
	for k, v := range m {
		switch {
		case k == "name":
			if err := json.Unmarshal(v, &p.Name); err != nil {
				p.Extra[k] = v
			}
		case strings.HasPrefix(k, thetaPrefix) && len(k) > len(thetaPrefix):
			if f, ok := decodeFloat(v); ok {
				code := k[len(thetaPrefix):]
				s := p.Subjects[code]
				s.Theta = &f
				p.Subjects[code] = s
			} else {
				p.Extra[k] = v
			}
		case strings.HasPrefix(k, scaledPrefix) && len(k) > len(scaledPrefix):
			if f, ok := decodeFloat(v); ok {
				code := k[len(scaledPrefix):]
				s := p.Subjects[code]
				s.Scaled = &f
				p.Subjects[code] = s
			} else {
				p.Extra[k] = v
			}
		default:
			p.Extra[k] = v
		}
	}
	return nil
}

func (p ProcessedScore) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(p.Extra)+2*len(p.Subjects)+1)
	for k, v := range p.Extra {
		m[k] = v
	}
	if p.Name != "" {
		m["name"] = p.Name
	}
	for code, s := range p.Subjects {
		if s.Theta != nil {
			m[thetaPrefix+code] = *s.Theta
		}
		if s.Scaled != nil {
			m[scaledPrefix+code] = *s.Scaled
		}
	}
	return json.Marshal(m)
}

// SubjectCodes lists the subject suffixes present, sorted.
func (p *ProcessedScore) SubjectCodes() []string {
	out := make([]string, 0, len(p.Subjects))
	for code := range p.Subjects {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}

// DecodeProcessedScore returns nil for a NULL column.
func DecodeProcessedScore(raw datatypes.JSON) (*ProcessedScore, error) {
	if isNullJSON(raw) {
		return nil, nil
	}
	var out ProcessedScore
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode processed_score: %w", err)
	}
	return &out, nil
}

func decodeFloat(v json.RawMessage) (float64, bool) {
	var f float64
	if err := json.Unmarshal(v, &f); err != nil {
		return 0, false
	}
	return f, true
}

func isNullJSON(raw []byte) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}
