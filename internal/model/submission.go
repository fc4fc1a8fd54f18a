package model

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// Answer is a tagged variant. The historical wire format stored either a
// raw string (the selected option id or free text) or an object carrying
// the text plus grading fields. Both shapes decode into this struct; it
// re-serializes as a plain string until a score or comment exists.
type Answer struct {
	ID      string   `json:"id,omitempty"`
	Text    string   `json:"texto"`
	Score   *float64 `json:"nota,omitempty"`
	Comment string   `json:"comentario,omitempty"`
}

// UnmarshalJSON accepts both the raw-string and the object shape.
func (a *Answer) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*a = Answer{Text: s}
		return nil
	}
	type plain Answer
	var p plain
	if err := json.Unmarshal(trimmed, &p); err != nil {
		return err
	}
	*a = Answer(p)
	return nil
}

// MarshalJSON keeps unscored answers in the compact string shape and
// upgrades to the object shape once grading fields exist.
func (a Answer) MarshalJSON() ([]byte, error) {
	if a.ID == "" && a.Score == nil && a.Comment == "" {
		return json.Marshal(a.Text)
	}
	type plain Answer
	return json.Marshal(plain(a))
}

// MatchesAlternative reports whether this answer selects the given
// alternative. Ids win when both sides have one; otherwise the comparison
// falls back to exact trimmed text equality.
func (a Answer) MatchesAlternative(alt Alternative) bool {
	if a.ID != "" && alt.ID != "" {
		return a.ID == alt.ID
	}
	answer := strings.TrimSpace(a.Text)
	if alt.ID != "" && answer == alt.ID {
		return true
	}
	return answer == strings.TrimSpace(alt.Text)
}

// SubmissionID derives the submission identifier for one (student, exam)
// attempt.
func SubmissionID(examID, studentID string) string {
	return examID + "_" + studentID
}

// Submission is the immutable answer record written exactly once when a
// student finalizes. Only grading fields change afterwards, and only
// through the grading coordinator.
type Submission struct {
	ID           string            `json:"id"`
	RoomID       string            `json:"roomId"`
	ExamID       string            `json:"examId"`
	StudentID    string            `json:"studentId"`
	StudentName  string            `json:"studentName"`
	Answers      map[string]Answer `json:"answers"`
	StartedAt    time.Time         `json:"startedAt"`
	FinishedAt   time.Time         `json:"finishedAt"`
	TimeUsedSecs int               `json:"timeUsedSecs"`
	OverallScore *float64          `json:"overallScore,omitempty"`
	GradedAt     *time.Time        `json:"gradedAt,omitempty"`
}

// ScoredCount returns how many answers carry a score.
func (s Submission) ScoredCount() int {
	n := 0
	for _, a := range s.Answers {
		if a.Score != nil {
			n++
		}
	}
	return n
}

// FinishedMarker mirrors a submission under the room so the professor can
// enumerate finishers without scanning the global submission collection.
// The submission stays the source of truth; the marker is a best-effort
// cache updated after it.
type FinishedMarker struct {
	StudentID    string     `json:"studentId"`
	StudentName  string     `json:"studentName"`
	SubmissionID string     `json:"submissionId"`
	FinishedAt   time.Time  `json:"finishedAt"`
	OverallScore *float64   `json:"overallScore,omitempty"`
	GradedAt     *time.Time `json:"gradedAt,omitempty"`
}
