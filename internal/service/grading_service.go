package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Giuseph66/Avaliacoes-seguras/internal/model"
	"github.com/Giuseph66/Avaliacoes-seguras/internal/store"
)

// GradingItem is one discursive answer sent to the external grader.
type GradingItem struct {
	ID            string `json:"id"`
	Prompt        string `json:"prompt"`
	ModelAnswer   string `json:"model_answer"`
	StudentAnswer string `json:"student_answer"`
}

// GradingResult is the grader's verdict for one item.
type GradingResult struct {
	ID      string  `json:"id"`
	Score   float64 `json:"score"`
	Comment string  `json:"comment,omitempty"`
}

// DiscursiveGrader scores a batch of discursive answers. Implementations
// may fail wholesale or return a partial batch; callers keep whatever
// succeeded.
type DiscursiveGrader interface {
	GradeBatch(ctx context.Context, items []GradingItem) ([]GradingResult, error)
}

// GradingService is the professor-side coordinator: it enumerates
// finishers, reconstructs per-question views, scores objective questions
// deterministically and orchestrates discursive scoring.
type GradingService struct {
	store    store.Store
	sessions *ExamSessionService
	grader   DiscursiveGrader
	log      zerolog.Logger
}

// NewGradingService creates a GradingService. grader may be nil, which
// disables external discursive scoring.
func NewGradingService(st store.Store, sessions *ExamSessionService, grader DiscursiveGrader, log zerolog.Logger) *GradingService {
	return &GradingService{
		store:    st,
		sessions: sessions,
		grader:   grader,
		log:      log.With().Str("component", "grading_service").Logger(),
	}
}

// ListFinished returns the room's finishers, earliest first.
func (s *GradingService) ListFinished(ctx context.Context, roomID string) ([]model.FinishedMarker, error) {
	docs, err := s.store.List(ctx, store.Query{Collection: finishersCollection(roomID)})
	if err != nil {
		return nil, fmt.Errorf("list finishers: %w", err)
	}
	markers := make([]model.FinishedMarker, 0, len(docs))
	for _, doc := range docs {
		var m model.FinishedMarker
		if err := store.Decode(doc, &m); err != nil {
			s.log.Warn().Err(err).Str("path", doc.Path).Msg("Skipping malformed finished marker")
			continue
		}
		markers = append(markers, m)
	}
	sort.Slice(markers, func(i, j int) bool {
		return markers[i].FinishedAt.Before(markers[j].FinishedAt)
	})
	return markers, nil
}

// SubscribeFinished streams finisher changes so the grading screen
// live-updates as students submit.
func (s *GradingService) SubscribeFinished(ctx context.Context, roomID string) (<-chan store.Change, func(), error) {
	return s.store.SubscribeCollection(ctx, finishersCollection(roomID))
}

// GradedQuestion pairs a question with the student's answer, if any.
type GradedQuestion struct {
	Question model.Question `json:"question"`
	Answer   *model.Answer  `json:"answer,omitempty"`
}

// GradingView is everything the professor needs to grade one submission.
type GradingView struct {
	Submission model.Submission  `json:"submission"`
	Content    model.ExamContent `json:"content"`
	Questions  []GradedQuestion  `json:"questions"`
}

// OpenForGrading loads a finisher's submission and the exam content and
// reconstructs the per-question view in exam order.
func (s *GradingService) OpenForGrading(ctx context.Context, roomID, studentID string) (GradingView, error) {
	room, err := s.getRoom(ctx, roomID)
	if err != nil {
		return GradingView{}, err
	}
	sub, err := s.sessions.GetSubmission(ctx, model.SubmissionID(room.ExamID, studentID))
	if err != nil {
		return GradingView{}, err
	}
	content, err := s.sessions.loadContent(ctx, room)
	if err != nil {
		return GradingView{}, err
	}

	view := GradingView{Submission: sub, Content: content}
	for _, q := range content.Questions {
		gq := GradedQuestion{Question: q}
		if a, ok := sub.Answers[q.ID]; ok {
			answer := a
			gq.Answer = &answer
		}
		view.Questions = append(view.Questions, gq)
	}
	return view, nil
}

// ObjectiveScore deterministically scores one objective answer: 10 when
// the selected option is the one flagged correct, 0 otherwise. A missing
// answer scores 0.
func ObjectiveScore(q model.Question, a *model.Answer) float64 {
	if a == nil {
		return 0
	}
	correct, ok := q.CorrectAlternative()
	if !ok {
		return 0
	}
	if a.MatchesAlternative(correct) {
		return 10
	}
	return 0
}

// ScoreObjective scores a single objective question of a submission and
// persists the result.
func (s *GradingService) ScoreObjective(ctx context.Context, roomID, studentID, questionID string) (model.Submission, error) {
	view, err := s.OpenForGrading(ctx, roomID, studentID)
	if err != nil {
		return model.Submission{}, err
	}

	var question *model.Question
	for i := range view.Content.Questions {
		if view.Content.Questions[i].ID == questionID {
			question = &view.Content.Questions[i]
			break
		}
	}
	if question == nil {
		return model.Submission{}, fmt.Errorf("question %s: %w", questionID, model.ErrNotFound)
	}
	if question.Type != model.QuestionObjective {
		return model.Submission{}, fmt.Errorf("question %s is discursive: %w", questionID, model.ErrInvalidState)
	}

	answer := view.Submission.Answers[questionID]
	score := ObjectiveScore(*question, &answer)
	return s.applyScores(ctx, roomID, view.Submission, map[string]GradingResult{
		questionID: {ID: questionID, Score: score},
	})
}

// ParseManualScore turns professor input into a 0-10 score. Invalid input
// counts as 0; out-of-range values are clamped.
func ParseManualScore(raw string) float64 {
	score, err := strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(raw, ",", ".")), 64)
	if err != nil {
		return 0
	}
	return math.Max(0, math.Min(10, score))
}

// ScoreDiscursiveManual records a professor-entered score for one
// discursive answer.
func (s *GradingService) ScoreDiscursiveManual(ctx context.Context, roomID, studentID, questionID, rawScore, comment string) (model.Submission, error) {
	view, err := s.OpenForGrading(ctx, roomID, studentID)
	if err != nil {
		return model.Submission{}, err
	}
	return s.applyScores(ctx, roomID, view.Submission, map[string]GradingResult{
		questionID: {ID: questionID, Score: ParseManualScore(rawScore), Comment: comment},
	})
}

// ScoreDiscursiveAI sends every discursive answer of a submission to the
// external grader as one batch. A partial batch is saved as-is; only the
// returned items are applied.
func (s *GradingService) ScoreDiscursiveAI(ctx context.Context, roomID, studentID string) (model.Submission, error) {
	if s.grader == nil {
		return model.Submission{}, fmt.Errorf("no grader configured: %w", model.ErrExternalService)
	}

	view, err := s.OpenForGrading(ctx, roomID, studentID)
	if err != nil {
		return model.Submission{}, err
	}

	var items []GradingItem
	for _, gq := range view.Questions {
		if gq.Question.Type != model.QuestionDiscursive || gq.Answer == nil {
			continue
		}
		items = append(items, GradingItem{
			ID:            gq.Question.ID,
			Prompt:        gq.Question.Text,
			ModelAnswer:   gq.Question.ModelAnswer,
			StudentAnswer: gq.Answer.Text,
		})
	}
	if len(items) == 0 {
		return view.Submission, nil
	}

	results, err := s.grader.GradeBatch(ctx, items)
	if err != nil {
		return model.Submission{}, fmt.Errorf("%w: %v", model.ErrExternalService, err)
	}

	updates := make(map[string]GradingResult, len(results))
	for _, r := range results {
		r.Score = math.Max(0, math.Min(10, r.Score))
		updates[r.ID] = r
	}
	if len(updates) < len(items) {
		s.log.Warn().Int("requested", len(items)).Int("returned", len(updates)).Msg("Partial grading batch, saving what succeeded")
	}
	return s.applyScores(ctx, roomID, view.Submission, updates)
}

// OverallScore is the arithmetic mean of the scores assigned so far,
// rounded to one decimal. No scores yet means 0.
func OverallScore(sub model.Submission) float64 {
	var sum float64
	var n int
	for _, a := range sub.Answers {
		if a.Score != nil {
			sum += *a.Score
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return math.Round(sum/float64(n)*10) / 10
}

// applyScores merges score updates into the submission, recomputes the
// overall score and persists. The submission document is written first as
// the source of truth; the finished marker follows as a best-effort
// mirror.
func (s *GradingService) applyScores(ctx context.Context, roomID string, sub model.Submission, updates map[string]GradingResult) (model.Submission, error) {
	if sub.Answers == nil {
		sub.Answers = make(map[string]model.Answer)
	}
	for qid, r := range updates {
		answer := sub.Answers[qid]
		score := r.Score
		answer.Score = &score
		if r.Comment != "" {
			answer.Comment = r.Comment
		}
		sub.Answers[qid] = answer
	}

	overall := OverallScore(sub)
	now := time.Now()
	sub.OverallScore = &overall
	sub.GradedAt = &now

	fields, err := store.Encode(sub)
	if err != nil {
		return model.Submission{}, fmt.Errorf("encode submission: %w", err)
	}
	if err := s.store.Set(ctx, submissionPath(sub.ID), fields, false); err != nil {
		return model.Submission{}, fmt.Errorf("persist scores: %w", err)
	}

	err = s.store.Set(ctx, finisherPath(roomID, sub.StudentID), map[string]interface{}{
		"overallScore": overall,
		"gradedAt":     now.Format(time.RFC3339Nano),
	}, true)
	if err != nil {
		s.log.Warn().Err(err).Str("submission_id", sub.ID).Msg("Finished marker update failed")
	}

	s.log.Info().Str("submission_id", sub.ID).Float64("overall", overall).Msg("Scores persisted")
	return sub, nil
}

func (s *GradingService) getRoom(ctx context.Context, roomID string) (model.Room, error) {
	doc, err := s.store.Get(ctx, roomPath(roomID))
	if errors.Is(err, store.ErrNotFound) {
		return model.Room{}, fmt.Errorf("room %s: %w", roomID, model.ErrNotFound)
	}
	if err != nil {
		return model.Room{}, fmt.Errorf("get room: %w", err)
	}
	var room model.Room
	if err := store.Decode(doc, &room); err != nil {
		return model.Room{}, fmt.Errorf("decode room: %w", err)
	}
	return room, nil
}
