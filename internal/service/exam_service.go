package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Giuseph66/Avaliacoes-seguras/internal/model"
	"github.com/Giuseph66/Avaliacoes-seguras/internal/store"
)

// GenerationRequest describes what the professor wants generated.
type GenerationRequest struct {
	Subject           string `json:"subject" binding:"required,max=120"`
	Topic             string `json:"topic" binding:"required,max=200"`
	Level             string `json:"level" binding:"required,max=60"`
	Count             int    `json:"count" binding:"required,min=1,max=20"`
	QuestionTypeMix   string `json:"question_type_mix" binding:"omitempty,oneof=objetiva discursiva mista"`
	ExtraInstructions string `json:"extra_instructions" binding:"max=500"`
}

// QuestionGenerator produces exam questions from a prompt. Failures must
// be surfaced, never silently replaced with fabricated content.
type QuestionGenerator interface {
	GenerateQuestions(ctx context.Context, req GenerationRequest) ([]model.Question, error)
}

// ExamService handles exam authoring: drafts, publishing, listing and
// AI-assisted question generation.
type ExamService struct {
	store     store.Store
	generator QuestionGenerator
	log       zerolog.Logger

	draftMu sync.Mutex
	drafts  map[string]*ExamDraft
}

// NewExamService creates an ExamService. generator may be nil, which
// disables AI-assisted authoring.
func NewExamService(st store.Store, generator QuestionGenerator, log zerolog.Logger) *ExamService {
	return &ExamService{
		store:     st,
		generator: generator,
		log:       log.With().Str("component", "exam_service").Logger(),
		drafts:    make(map[string]*ExamDraft),
	}
}

// ExamDraft is one professor's in-progress exam. All mutation goes
// through setters so the handler layer never pokes fields directly.
type ExamDraft struct {
	mu        sync.Mutex
	title     string
	desc      string
	questions []model.Question
}

// SetTitle sets the draft title.
func (d *ExamDraft) SetTitle(title string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.title = title
}

// SetDescription sets the draft description.
func (d *ExamDraft) SetDescription(desc string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.desc = desc
}

// AddQuestion appends a question, assigning an id when missing.
func (d *ExamDraft) AddQuestion(q model.Question) model.Question {
	d.mu.Lock()
	defer d.mu.Unlock()
	if q.ID == "" {
		q.ID = fmt.Sprintf("%d", len(d.questions)+1)
	}
	d.questions = append(d.questions, q)
	return q
}

// UpdateQuestion replaces the question with the same id.
func (d *ExamDraft) UpdateQuestion(q model.Question) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.questions {
		if d.questions[i].ID == q.ID {
			d.questions[i] = q
			return nil
		}
	}
	return fmt.Errorf("question %s: %w", q.ID, model.ErrNotFound)
}

// RemoveQuestion drops the question with the given id.
func (d *ExamDraft) RemoveQuestion(questionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	kept := d.questions[:0]
	for _, q := range d.questions {
		if q.ID != questionID {
			kept = append(kept, q)
		}
	}
	d.questions = kept
}

// Snapshot copies the draft into publishable content.
func (d *ExamDraft) Snapshot() model.ExamContent {
	d.mu.Lock()
	defer d.mu.Unlock()
	questions := make([]model.Question, len(d.questions))
	copy(questions, d.questions)
	return model.ExamContent{Title: d.title, Description: d.desc, Questions: questions}
}

// Draft returns the professor's current draft, creating one if needed.
func (s *ExamService) Draft(professorID string) *ExamDraft {
	s.draftMu.Lock()
	defer s.draftMu.Unlock()
	d, ok := s.drafts[professorID]
	if !ok {
		d = &ExamDraft{}
		s.drafts[professorID] = d
	}
	return d
}

// DiscardDraft throws the professor's draft away.
func (s *ExamService) DiscardDraft(professorID string) {
	s.draftMu.Lock()
	defer s.draftMu.Unlock()
	delete(s.drafts, professorID)
}

// Publish encodes the content and writes the exam record. An empty examID
// creates a new exam; a non-empty one overwrites the blob in place, which
// is safe for in-flight attempts because released rooms carry their own
// content snapshot.
func (s *ExamService) Publish(ctx context.Context, professorID, examID string, content model.ExamContent) (model.ExamRecord, error) {
	if strings.TrimSpace(content.Title) == "" {
		return model.ExamRecord{}, fmt.Errorf("exam needs a title: %w", model.ErrPreconditionFailed)
	}
	if len(content.Questions) == 0 {
		return model.ExamRecord{}, fmt.Errorf("exam needs at least one question: %w", model.ErrPreconditionFailed)
	}

	blob, err := content.Encode()
	if err != nil {
		return model.ExamRecord{}, err
	}

	now := time.Now()
	record := model.ExamRecord{
		ID:          examID,
		Title:       content.Title,
		ProfessorID: professorID,
		Content:     blob,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if examID == "" {
		record.ID = uuid.New().String()
	} else {
		existing, err := s.GetExam(ctx, examID)
		if err != nil {
			return model.ExamRecord{}, err
		}
		if existing.ProfessorID != professorID {
			return model.ExamRecord{}, fmt.Errorf("exam %s belongs to another professor: %w", examID, model.ErrInvalidState)
		}
		record.CreatedAt = existing.CreatedAt
	}

	fields, err := store.Encode(record)
	if err != nil {
		return model.ExamRecord{}, fmt.Errorf("encode exam: %w", err)
	}
	if err := s.store.Set(ctx, examPath(record.ID), fields, false); err != nil {
		return model.ExamRecord{}, fmt.Errorf("publish exam: %w", err)
	}

	s.log.Info().Str("exam_id", record.ID).Str("professor_id", professorID).Msg("Exam published")
	return record, nil
}

// GetExam loads one exam record.
func (s *ExamService) GetExam(ctx context.Context, examID string) (model.ExamRecord, error) {
	doc, err := s.store.Get(ctx, examPath(examID))
	if errors.Is(err, store.ErrNotFound) {
		return model.ExamRecord{}, fmt.Errorf("exam %s: %w", examID, model.ErrNotFound)
	}
	if err != nil {
		return model.ExamRecord{}, fmt.Errorf("get exam: %w", err)
	}
	var record model.ExamRecord
	if err := store.Decode(doc, &record); err != nil {
		return model.ExamRecord{}, fmt.Errorf("decode exam: %w", err)
	}
	return record, nil
}

// ListByProfessor returns a professor's exams, newest first.
func (s *ExamService) ListByProfessor(ctx context.Context, professorID string) ([]model.ExamRecord, error) {
	docs, err := s.store.List(ctx, store.Query{
		Collection: "exams",
		Where:      []store.Cond{{Field: "professorId", Equals: professorID}},
	})
	if err != nil {
		return nil, fmt.Errorf("list exams: %w", err)
	}
	records := make([]model.ExamRecord, 0, len(docs))
	for _, doc := range docs {
		var r model.ExamRecord
		if err := store.Decode(doc, &r); err != nil {
			s.log.Warn().Err(err).Str("path", doc.Path).Msg("Skipping malformed exam record")
			continue
		}
		records = append(records, r)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

// Delete removes an exam record after an ownership check.
func (s *ExamService) Delete(ctx context.Context, professorID, examID string) error {
	existing, err := s.GetExam(ctx, examID)
	if err != nil {
		return err
	}
	if existing.ProfessorID != professorID {
		return fmt.Errorf("exam %s belongs to another professor: %w", examID, model.ErrInvalidState)
	}
	if err := s.store.Delete(ctx, examPath(examID)); err != nil {
		return fmt.Errorf("delete exam: %w", err)
	}
	return nil
}

// Generate asks the external service for questions and appends them to
// the professor's draft.
func (s *ExamService) Generate(ctx context.Context, professorID string, req GenerationRequest) ([]model.Question, error) {
	if s.generator == nil {
		return nil, fmt.Errorf("no generator configured: %w", model.ErrExternalService)
	}

	questions, err := s.generator.GenerateQuestions(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrExternalService, err)
	}

	draft := s.Draft(professorID)
	added := make([]model.Question, 0, len(questions))
	for _, q := range questions {
		added = append(added, draft.AddQuestion(q))
	}
	s.log.Info().Str("professor_id", professorID).Int("count", len(added)).Msg("Questions generated")
	return added, nil
}
