package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Giuseph66/Avaliacoes-seguras/internal/model"
	"github.com/Giuseph66/Avaliacoes-seguras/internal/store"
)

// fakeGrader returns a canned batch, or an error when broken.
type fakeGrader struct {
	results []GradingResult
	err     error
	gotIDs  []string
}

func (f *fakeGrader) GradeBatch(_ context.Context, items []GradingItem) ([]GradingResult, error) {
	f.gotIDs = f.gotIDs[:0]
	for _, it := range items {
		f.gotIDs = append(f.gotIDs, it.ID)
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

// finishedSubmission walks a full attempt so grading has something real
// to work with.
func finishedSubmission(t *testing.T, env *testEnv, answers map[string]model.Answer) model.Room {
	t.Helper()
	ctx := context.Background()
	room := releasedRoom(t, env, time.Now().Add(time.Hour))
	admittedStudent(t, env, room.ID)

	ctrl := env.sessions.NewSession(room.ID, testStudentID, testStudentName)
	require.NoError(t, ctrl.Start(ctx))
	defer ctrl.Close()
	for qid, a := range answers {
		require.NoError(t, ctrl.Answer(qid, a))
	}
	_, err := ctrl.Submit(ctx)
	require.NoError(t, err)
	return room
}

func TestObjectiveScore(t *testing.T) {
	q := testContent().Questions[0]

	assert.Equal(t, 10.0, ObjectiveScore(q, &model.Answer{Text: "1b"}), "option id match")
	assert.Equal(t, 10.0, ObjectiveScore(q, &model.Answer{ID: "1b"}), "structured id match")
	assert.Equal(t, 10.0, ObjectiveScore(q, &model.Answer{Text: "x = 4"}), "option text match")
	assert.Equal(t, 0.0, ObjectiveScore(q, &model.Answer{Text: "1a"}))
	assert.Equal(t, 0.0, ObjectiveScore(q, &model.Answer{Text: "x=4"}), "text match is exact after trimming")
	assert.Equal(t, 0.0, ObjectiveScore(q, nil))

	noCorrect := model.Question{
		ID:   "q9",
		Type: model.QuestionObjective,
		Alternatives: []model.Alternative{
			{ID: "a", Text: "1"},
			{ID: "b", Text: "2"},
		},
	}
	assert.Equal(t, 0.0, ObjectiveScore(noCorrect, &model.Answer{Text: "a"}))
}

func TestParseManualScore(t *testing.T) {
	cases := []struct {
		raw  string
		want float64
	}{
		{"7.5", 7.5},
		{"7,5", 7.5},
		{" 8.25 ", 8.25},
		{"10", 10},
		{"11", 10},
		{"-2", 0},
		{"abc", 0},
		{"", 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, ParseManualScore(tc.raw), "input %q", tc.raw)
	}
}

func TestOverallScore(t *testing.T) {
	score := func(v float64) *float64 { return &v }

	assert.Equal(t, 0.0, OverallScore(model.Submission{}), "no answers")
	assert.Equal(t, 0.0, OverallScore(model.Submission{
		Answers: map[string]model.Answer{"q1": {Text: "x"}},
	}), "no scored answers")

	// Unscored answers are excluded from the mean, not counted as zero.
	assert.Equal(t, 5.0, OverallScore(model.Submission{
		Answers: map[string]model.Answer{
			"q1": {Score: score(10)},
			"q2": {Score: score(0)},
			"q3": {Text: "ainda sem nota"},
		},
	}))

	assert.Equal(t, 8.8, OverallScore(model.Submission{
		Answers: map[string]model.Answer{
			"q1": {Score: score(10)},
			"q2": {Score: score(7.5)},
		},
	}), "mean rounds to one decimal")
}

func TestListFinishedSortedEarliestFirst(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	room := releasedRoom(t, env, time.Now().Add(time.Hour))

	base := time.Now()
	for i, id := range []string{"s2", "s1", "s3"} {
		marker := model.FinishedMarker{
			StudentID:    id,
			SubmissionID: "sub-" + id,
			FinishedAt:   base.Add(time.Duration(i) * time.Minute),
		}
		fields, err := store.Encode(marker)
		require.NoError(t, err)
		require.NoError(t, env.store.Set(ctx, finisherPath(room.ID, id), fields, false))
	}

	markers, err := env.grading.ListFinished(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, markers, 3)
	assert.Equal(t, "s2", markers[0].StudentID)
	assert.Equal(t, "s1", markers[1].StudentID)
	assert.Equal(t, "s3", markers[2].StudentID)
}

func TestOpenForGradingKeepsExamOrder(t *testing.T) {
	env := newTestEnv(t)
	room := finishedSubmission(t, env, map[string]model.Answer{
		"q2": {Text: "Dividir por 2."},
	})

	view, err := env.grading.OpenForGrading(context.Background(), room.ID, testStudentID)
	require.NoError(t, err)
	require.Len(t, view.Questions, 2)
	assert.Equal(t, "q1", view.Questions[0].Question.ID)
	assert.Nil(t, view.Questions[0].Answer, "unanswered question carries no answer")
	assert.Equal(t, "q2", view.Questions[1].Question.ID)
	require.NotNil(t, view.Questions[1].Answer)
	assert.Equal(t, "Dividir por 2.", view.Questions[1].Answer.Text)
}

func TestScoreObjectivePersists(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	room := finishedSubmission(t, env, map[string]model.Answer{
		"q1": {Text: "1b"},
	})

	sub, err := env.grading.ScoreObjective(ctx, room.ID, testStudentID, "q1")
	require.NoError(t, err)
	require.NotNil(t, sub.Answers["q1"].Score)
	assert.Equal(t, 10.0, *sub.Answers["q1"].Score)
	require.NotNil(t, sub.OverallScore)
	assert.Equal(t, 10.0, *sub.OverallScore)

	// Both the submission document and the finished marker mirror carry
	// the result.
	stored, err := env.sessions.GetSubmission(ctx, sub.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.OverallScore)
	assert.Equal(t, 10.0, *stored.OverallScore)

	doc, err := env.store.Get(ctx, finisherPath(room.ID, testStudentID))
	require.NoError(t, err)
	var marker model.FinishedMarker
	require.NoError(t, store.Decode(doc, &marker))
	require.NotNil(t, marker.OverallScore)
	assert.Equal(t, 10.0, *marker.OverallScore)
}

func TestScoreObjectiveRejectsDiscursiveQuestion(t *testing.T) {
	env := newTestEnv(t)
	room := finishedSubmission(t, env, map[string]model.Answer{
		"q2": {Text: "texto livre"},
	})

	_, err := env.grading.ScoreObjective(context.Background(), room.ID, testStudentID, "q2")
	assert.ErrorIs(t, err, model.ErrInvalidState)

	_, err = env.grading.ScoreObjective(context.Background(), room.ID, testStudentID, "q99")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestScoreDiscursiveManual(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	room := finishedSubmission(t, env, map[string]model.Answer{
		"q1": {Text: "1a"},
		"q2": {Text: "Dividir por 2."},
	})

	_, err := env.grading.ScoreObjective(ctx, room.ID, testStudentID, "q1")
	require.NoError(t, err)

	sub, err := env.grading.ScoreDiscursiveManual(ctx, room.ID, testStudentID, "q2", "7,5", "Boa explicação")
	require.NoError(t, err)
	require.NotNil(t, sub.Answers["q2"].Score)
	assert.Equal(t, 7.5, *sub.Answers["q2"].Score)
	assert.Equal(t, "Boa explicação", sub.Answers["q2"].Comment)

	// q1 scored 0 earlier, q2 now 7.5: overall (0 + 7.5) / 2 = 3.8.
	require.NotNil(t, sub.OverallScore)
	assert.Equal(t, 3.8, *sub.OverallScore)
}

func TestScoreDiscursiveAI(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	room := finishedSubmission(t, env, map[string]model.Answer{
		"q2": {Text: "Dividir por 2."},
	})

	grader := &fakeGrader{results: []GradingResult{
		{ID: "q2", Score: 12.5, Comment: "Correto"},
	}}
	env.grading.grader = grader

	sub, err := env.grading.ScoreDiscursiveAI(ctx, room.ID, testStudentID)
	require.NoError(t, err)
	assert.Equal(t, []string{"q2"}, grader.gotIDs, "only answered discursive questions go to the grader")
	require.NotNil(t, sub.Answers["q2"].Score)
	assert.Equal(t, 10.0, *sub.Answers["q2"].Score, "grader scores are clamped to 0-10")
	assert.Equal(t, "Correto", sub.Answers["q2"].Comment)
}

func TestScoreDiscursiveAIPartialBatchPreserved(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Two discursive questions, grader only returns one verdict.
	content := testContent()
	content.Questions = append(content.Questions, model.Question{
		ID:          "q3",
		Text:        "Dê um exemplo de equação linear.",
		Type:        model.QuestionDiscursive,
		ModelAnswer: "y = 2x + 1",
	})
	encoded, err := content.Encode()
	require.NoError(t, err)
	seedExam(t, env, testExamID, testProfessorID)
	require.NoError(t, env.store.Set(ctx, examPath(testExamID), map[string]interface{}{"content": encoded}, true))

	room := releasedRoom2(t, env)
	admittedStudent(t, env, room.ID)
	ctrl := env.sessions.NewSession(room.ID, testStudentID, testStudentName)
	require.NoError(t, ctrl.Start(ctx))
	defer ctrl.Close()
	require.NoError(t, ctrl.Answer("q2", model.Answer{Text: "Dividir por 2."}))
	require.NoError(t, ctrl.Answer("q3", model.Answer{Text: "y = 2x + 1"}))
	_, err = ctrl.Submit(ctx)
	require.NoError(t, err)

	env.grading.grader = &fakeGrader{results: []GradingResult{
		{ID: "q3", Score: 9},
	}}

	sub, err := env.grading.ScoreDiscursiveAI(ctx, room.ID, testStudentID)
	require.NoError(t, err)
	require.NotNil(t, sub.Answers["q3"].Score)
	assert.Equal(t, 9.0, *sub.Answers["q3"].Score)
	assert.Nil(t, sub.Answers["q2"].Score, "missing verdicts stay ungraded, not zeroed")
}

// releasedRoom2 creates and releases the room for the already-seeded exam.
func releasedRoom2(t *testing.T, env *testEnv) model.Room {
	t.Helper()
	ctx := context.Background()
	room, err := env.rooms.CreateRoom(ctx, testExamID, testProfessorID)
	require.NoError(t, err)
	_, err = env.rooms.SetDeadlineAndInstructions(ctx, room.ID, time.Now().Add(time.Hour), "instruções")
	require.NoError(t, err)
	room, err = env.rooms.Release(ctx, room.ID)
	require.NoError(t, err)
	return room
}

func TestScoreDiscursiveAIFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	room := finishedSubmission(t, env, map[string]model.Answer{
		"q2": {Text: "Dividir por 2."},
	})

	// No grader configured at all.
	_, err := env.grading.ScoreDiscursiveAI(ctx, room.ID, testStudentID)
	assert.ErrorIs(t, err, model.ErrExternalService)

	// Grader wired but down.
	env.grading = NewGradingService(env.store, env.sessions, &fakeGrader{err: errors.New("timeout")}, zerolog.Nop())
	_, err = env.grading.ScoreDiscursiveAI(ctx, room.ID, testStudentID)
	assert.ErrorIs(t, err, model.ErrExternalService)
}
