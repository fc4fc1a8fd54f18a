package service

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Giuseph66/Avaliacoes-seguras/internal/model"
	"github.com/Giuseph66/Avaliacoes-seguras/internal/store"
)

func newExamService(generator QuestionGenerator) *ExamService {
	return NewExamService(store.NewMemoryStore(), generator, zerolog.Nop())
}

type fakeGenerator struct {
	questions []model.Question
	err       error
}

func (f *fakeGenerator) GenerateQuestions(_ context.Context, _ GenerationRequest) ([]model.Question, error) {
	return f.questions, f.err
}

func TestDraftLifecycle(t *testing.T) {
	svc := newExamService(nil)
	draft := svc.Draft(testProfessorID)
	draft.SetTitle("Prova de História")
	draft.SetDescription("Brasil Colônia")

	q1 := draft.AddQuestion(model.Question{Text: "Quem foi Tiradentes?", Type: model.QuestionDiscursive})
	assert.NotEmpty(t, q1.ID, "questions without an id get one assigned")
	q2 := draft.AddQuestion(model.Question{ID: "custom", Text: "Em que ano?", Type: model.QuestionDiscursive})
	assert.Equal(t, "custom", q2.ID)

	q1.Text = "Quem liderou a Inconfidência Mineira?"
	require.NoError(t, draft.UpdateQuestion(q1))
	assert.ErrorIs(t, draft.UpdateQuestion(model.Question{ID: "missing"}), model.ErrNotFound)

	draft.RemoveQuestion("custom")

	snap := draft.Snapshot()
	assert.Equal(t, "Prova de História", snap.Title)
	require.Len(t, snap.Questions, 1)
	assert.Equal(t, "Quem liderou a Inconfidência Mineira?", snap.Questions[0].Text)

	// The same professor gets the same draft back; discard resets it.
	assert.Same(t, draft, svc.Draft(testProfessorID))
	svc.DiscardDraft(testProfessorID)
	assert.NotSame(t, draft, svc.Draft(testProfessorID))
}

func TestPublishPreconditions(t *testing.T) {
	svc := newExamService(nil)
	ctx := context.Background()

	_, err := svc.Publish(ctx, testProfessorID, "", model.ExamContent{
		Questions: testContent().Questions,
	})
	assert.ErrorIs(t, err, model.ErrPreconditionFailed, "title required")

	_, err = svc.Publish(ctx, testProfessorID, "", model.ExamContent{Title: "Prova"})
	assert.ErrorIs(t, err, model.ErrPreconditionFailed, "at least one question required")
}

func TestPublishAndRepublish(t *testing.T) {
	svc := newExamService(nil)
	ctx := context.Background()

	record, err := svc.Publish(ctx, testProfessorID, "", testContent())
	require.NoError(t, err)
	assert.NotEmpty(t, record.ID)

	loaded, err := svc.GetExam(ctx, record.ID)
	require.NoError(t, err)
	content, err := loaded.Decode()
	require.NoError(t, err)
	assert.Equal(t, "Prova de Matemática", content.Title)

	// Republishing overwrites in place and keeps the creation time.
	updated := testContent()
	updated.Title = "Prova de Matemática (revisada)"
	again, err := svc.Publish(ctx, testProfessorID, record.ID, updated)
	require.NoError(t, err)
	assert.Equal(t, record.ID, again.ID)
	assert.Equal(t, record.CreatedAt.Unix(), again.CreatedAt.Unix())

	// Another professor cannot overwrite it.
	_, err = svc.Publish(ctx, "prof-2", record.ID, updated)
	assert.ErrorIs(t, err, model.ErrInvalidState)
}

func TestListByProfessorFilters(t *testing.T) {
	svc := newExamService(nil)
	ctx := context.Background()

	mine, err := svc.Publish(ctx, testProfessorID, "", testContent())
	require.NoError(t, err)
	_, err = svc.Publish(ctx, "prof-2", "", testContent())
	require.NoError(t, err)

	records, err := svc.ListByProfessor(ctx, testProfessorID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, mine.ID, records[0].ID)
}

func TestDeleteChecksOwnership(t *testing.T) {
	svc := newExamService(nil)
	ctx := context.Background()

	record, err := svc.Publish(ctx, testProfessorID, "", testContent())
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Delete(ctx, "prof-2", record.ID), model.ErrInvalidState)
	require.NoError(t, svc.Delete(ctx, testProfessorID, record.ID))
	_, err = svc.GetExam(ctx, record.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestGenerateAppendsToDraft(t *testing.T) {
	gen := &fakeGenerator{questions: []model.Question{
		{Text: "Questão gerada 1", Type: model.QuestionDiscursive},
		{Text: "Questão gerada 2", Type: model.QuestionObjective},
	}}
	svc := newExamService(gen)

	added, err := svc.Generate(context.Background(), testProfessorID, GenerationRequest{
		Subject: "Matemática", Topic: "Equações", Level: "fundamental", Count: 2,
	})
	require.NoError(t, err)
	require.Len(t, added, 2)
	assert.NotEmpty(t, added[0].ID)
	assert.Len(t, svc.Draft(testProfessorID).Snapshot().Questions, 2)
}

func TestGenerateFailures(t *testing.T) {
	ctx := context.Background()
	req := GenerationRequest{Subject: "x", Topic: "y", Level: "z", Count: 1}

	svc := newExamService(nil)
	_, err := svc.Generate(ctx, testProfessorID, req)
	assert.ErrorIs(t, err, model.ErrExternalService)

	svc = newExamService(&fakeGenerator{err: errors.New("rate limited")})
	_, err = svc.Generate(ctx, testProfessorID, req)
	assert.ErrorIs(t, err, model.ErrExternalService)
	assert.Empty(t, svc.Draft(testProfessorID).Snapshot().Questions, "a failed generation leaves the draft untouched")
}
