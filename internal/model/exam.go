package model

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// QuestionType enumerates the two kinds of exam question.
type QuestionType string

const (
	QuestionObjective  QuestionType = "objetiva"
	QuestionDiscursive QuestionType = "discursiva"
)

// Alternative is one option of an objective question. The JSON tags match
// the encoded payload format the mobile clients already speak.
type Alternative struct {
	ID      string `json:"id"`
	Text    string `json:"texto"`
	Correct bool   `json:"correta"`
}

// Question is a single exam question. Objective questions carry
// alternatives; discursive questions carry a model answer used as the
// grading rubric.
type Question struct {
	ID           string        `json:"id"`
	Text         string        `json:"texto"`
	Type         QuestionType  `json:"tipo"`
	Alternatives []Alternative `json:"alternativas,omitempty"`
	ModelAnswer  string        `json:"respostaCorreta,omitempty"`
}

// CorrectAlternative returns the alternative flagged correct, if any.
func (q Question) CorrectAlternative() (Alternative, bool) {
	for _, alt := range q.Alternatives {
		if alt.Correct {
			return alt, true
		}
	}
	return Alternative{}, false
}

// ExamContent is the full authored exam. It travels as an opaque encoded
// blob (see Encode); the exam-taking flow treats it as read-only.
type ExamContent struct {
	Title       string     `json:"titulo"`
	Description string     `json:"descricao"`
	Questions   []Question `json:"questoes"`
}

// Encode serializes the content to JSON and base64-encodes it. This is
// reversible obfuscation, not encryption; any store reader can decode it.
func (c ExamContent) Encode() (string, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode exam content: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeExamContent reverses Encode. Malformed blobs map onto ErrDecode so
// callers can surface a decode failure without touching exam state.
func DecodeExamContent(blob string) (ExamContent, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return ExamContent{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	var c ExamContent
	if err := json.Unmarshal(raw, &c); err != nil {
		return ExamContent{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return c, nil
}

// ExamRecord is the stored exam document: the encoded content plus the
// ownership and timestamp fields kept outside the blob.
type ExamRecord struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	ProfessorID string    `json:"professorId"`
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Decode unpacks the record's encoded content.
func (r ExamRecord) Decode() (ExamContent, error) {
	return DecodeExamContent(r.Content)
}
