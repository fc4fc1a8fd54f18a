package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Giuseph66/Avaliacoes-seguras/internal/model"
	"github.com/Giuseph66/Avaliacoes-seguras/internal/store"
)

// SubmissionArchiver queues finished submissions for durable archival
// outside the document store. Best-effort; the store copy is the source
// of truth.
type SubmissionArchiver interface {
	EnqueueSubmission(ctx context.Context, sub model.Submission) error
}

// SessionEventKind tags events emitted by a running session.
type SessionEventKind string

const (
	SessionEventTick     SessionEventKind = "tick"
	SessionEventFinished SessionEventKind = "finished"
	SessionEventAborted  SessionEventKind = "aborted"
)

// SessionEvent is pushed to the student's connection while an attempt is
// in flight.
type SessionEvent struct {
	Kind       SessionEventKind  `json:"kind"`
	Remaining  int               `json:"remaining,omitempty"`
	Reason     model.FlagReason  `json:"reason,omitempty"`
	Submission *model.Submission `json:"submission,omitempty"`
}

// ExamSessionService builds session controllers, one per student attempt.
type ExamSessionService struct {
	store    store.Store
	rooms    *RoomService
	presence *PresenceService
	archiver SubmissionArchiver
	log      zerolog.Logger

	// tickInterval is one second in production; tests shrink it.
	tickInterval time.Duration
	now          func() time.Time
}

// NewExamSessionService creates an ExamSessionService. archiver may be nil
// when no archival backend is configured.
func NewExamSessionService(st store.Store, rooms *RoomService, presence *PresenceService, archiver SubmissionArchiver, log zerolog.Logger) *ExamSessionService {
	return &ExamSessionService{
		store:        st,
		rooms:        rooms,
		presence:     presence,
		archiver:     archiver,
		log:          log.With().Str("component", "exam_session").Logger(),
		tickInterval: time.Second,
		now:          time.Now,
	}
}

// SessionController drives one student's timed attempt through
// not_started, loading, running, submitting and the two terminal states.
// All mutation goes through the controller's mutex; the countdown and the
// flag path both funnel into the same finalize latch so the attempt can
// never produce two submissions.
type SessionController struct {
	svc         *ExamSessionService
	roomID      string
	studentID   string
	studentName string

	mu        sync.Mutex
	state     model.SessionState
	content   model.ExamContent
	deadline  time.Time
	answers   map[string]model.Answer
	startedAt time.Time
	finalized bool
	flagLatch bool
	stopTick  chan struct{}

	events chan SessionEvent
}

// NewSession creates a controller in not_started for the given attempt.
func (s *ExamSessionService) NewSession(roomID, studentID, studentName string) *SessionController {
	return &SessionController{
		svc:         s,
		roomID:      roomID,
		studentID:   studentID,
		studentName: studentName,
		state:       model.SessionNotStarted,
		answers:     make(map[string]model.Answer),
		events:      make(chan SessionEvent, 16),
	}
}

// Events is the stream of countdown ticks and terminal notifications.
func (c *SessionController) Events() <-chan SessionEvent { return c.events }

// State returns the current session state.
func (c *SessionController) State() model.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Remaining returns whole seconds left until the deadline, never negative.
func (c *SessionController) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remainingLocked()
}

func (c *SessionController) remainingLocked() int {
	left := c.deadline.Sub(c.svc.now())
	if left < 0 {
		return 0
	}
	return int(left / time.Second)
}

// Start loads the exam content and the room deadline, moves the roster
// record to in_exam and begins the countdown. If the deadline has already
// passed at load time the attempt finalizes immediately with zero answers
// and the roster record is still cleaned up.
func (c *SessionController) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != model.SessionNotStarted {
		c.mu.Unlock()
		return fmt.Errorf("session already started: %w", model.ErrInvalidState)
	}
	c.state = model.SessionLoading
	c.mu.Unlock()

	room, err := c.svc.rooms.GetRoom(ctx, c.roomID)
	if err != nil {
		return c.failLoad(err)
	}
	if room.Status != model.RoomReleased {
		return c.failLoad(fmt.Errorf("room %s is %s: %w", c.roomID, room.Status, model.ErrInvalidState))
	}
	if room.Deadline == nil {
		return c.failLoad(fmt.Errorf("room %s has no deadline: %w", c.roomID, model.ErrPreconditionFailed))
	}

	content, err := c.svc.loadContent(ctx, room)
	if err != nil {
		return c.failLoad(err)
	}

	c.mu.Lock()
	c.content = content
	c.deadline = *room.Deadline
	c.startedAt = c.svc.now()
	c.mu.Unlock()

	if room.Expired(c.svc.now()) {
		// Too late to run: record an empty attempt and route to history.
		_, err := c.finalize(ctx)
		return err
	}

	if _, err := c.svc.rooms.StartExam(ctx, c.roomID, c.studentID); err != nil {
		return c.failLoad(err)
	}
	c.svc.presence.Remove(ctx, c.roomID, c.studentID)

	c.mu.Lock()
	c.state = model.SessionRunning
	c.stopTick = make(chan struct{})
	stop := c.stopTick
	c.mu.Unlock()

	go c.countdown(stop)
	c.svc.log.Info().Str("room_id", c.roomID).Str("student_id", c.studentID).Msg("Exam session started")
	return nil
}

// failLoad surfaces a load error and resets the controller so the student
// lands back on the previous screen with a usable session.
func (c *SessionController) failLoad(err error) error {
	c.mu.Lock()
	c.state = model.SessionNotStarted
	c.mu.Unlock()
	return err
}

// Content returns the loaded exam content.
func (c *SessionController) Content() model.ExamContent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.content
}

// countdown ticks once per second. Reaching zero triggers the automatic
// submit exactly once; the finalize latch absorbs any race with a manual
// submit arriving at the same moment.
func (c *SessionController) countdown(stop chan struct{}) {
	ticker := time.NewTicker(c.svc.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.state != model.SessionRunning {
				c.mu.Unlock()
				return
			}
			remaining := c.remainingLocked()
			c.mu.Unlock()

			c.emit(SessionEvent{Kind: SessionEventTick, Remaining: remaining})
			if remaining == 0 {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				if _, err := c.Submit(ctx); err != nil {
					c.svc.log.Error().Err(err).Str("student_id", c.studentID).Msg("Automatic submit failed")
				}
				cancel()
				return
			}
		}
	}
}

// Answer records the latest value for one question. Earlier values are
// overwritten; there is no answer history.
func (c *SessionController) Answer(questionID string, answer model.Answer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != model.SessionRunning {
		return fmt.Errorf("session is %s: %w", c.state, model.ErrInvalidState)
	}
	c.answers[questionID] = answer
	return nil
}

// Submit finalizes the attempt. Idempotent: the timer-expiry path and a
// manual tap can both call it; whichever arrives second observes the
// latch and returns the already-written submission.
func (c *SessionController) Submit(ctx context.Context) (model.Submission, error) {
	return c.finalize(ctx)
}

func (c *SessionController) finalize(ctx context.Context) (model.Submission, error) {
	c.mu.Lock()
	if c.finalized {
		sub := c.buildSubmissionLocked()
		c.mu.Unlock()
		return sub, nil
	}
	c.finalized = true
	c.state = model.SessionSubmitting
	if c.stopTick != nil {
		close(c.stopTick)
		c.stopTick = nil
	}
	sub := c.buildSubmissionLocked()
	c.mu.Unlock()

	if err := c.svc.writeSubmission(ctx, sub); err != nil {
		// Losing a finished exam is the worst failure mode, so the latch
		// rolls back and the caller must retry.
		c.mu.Lock()
		c.finalized = false
		c.state = model.SessionRunning
		c.mu.Unlock()
		return model.Submission{}, err
	}

	c.svc.afterSubmission(ctx, sub)

	c.mu.Lock()
	c.state = model.SessionFinished
	c.mu.Unlock()

	c.emit(SessionEvent{Kind: SessionEventFinished, Submission: &sub})
	c.svc.log.Info().Str("submission_id", sub.ID).Str("student_id", c.studentID).Msg("Submission recorded")
	return sub, nil
}

func (c *SessionController) buildSubmissionLocked() model.Submission {
	now := c.svc.now()
	answers := make(map[string]model.Answer, len(c.answers))
	for k, v := range c.answers {
		answers[k] = v
	}
	started := c.startedAt
	if started.IsZero() {
		started = now
	}
	return model.Submission{
		ID:           model.SubmissionID(c.roomExamID(), c.studentID),
		RoomID:       c.roomID,
		ExamID:       c.roomExamID(),
		StudentID:    c.studentID,
		StudentName:  c.studentName,
		Answers:      answers,
		StartedAt:    started,
		FinishedAt:   now,
		TimeUsedSecs: int(now.Sub(started) / time.Second),
	}
}

// roomExamID recovers the exam id from the composite room id.
func (c *SessionController) roomExamID() string {
	for i := len(c.roomID) - 1; i >= 0; i-- {
		if c.roomID[i] == '_' {
			return c.roomID[:i]
		}
	}
	return c.roomID
}

// emit pushes an event without ever blocking the state machine.
func (c *SessionController) emit(ev SessionEvent) {
	select {
	case c.events <- ev:
	default:
	}
}

// Close releases the countdown timer. Safe to call at any point; an
// unfinished attempt simply stops ticking (the student can rejoin and a
// new controller takes over).
func (c *SessionController) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopTick != nil {
		close(c.stopTick)
		c.stopTick = nil
	}
}

// loadContent prefers the content snapshot frozen at release time and
// falls back to the live exam record for rooms released before snapshots
// existed.
func (s *ExamSessionService) loadContent(ctx context.Context, room model.Room) (model.ExamContent, error) {
	if room.ContentSnapshot != "" {
		return model.DecodeExamContent(room.ContentSnapshot)
	}

	doc, err := s.store.Get(ctx, examPath(room.ExamID))
	if errors.Is(err, store.ErrNotFound) {
		return model.ExamContent{}, fmt.Errorf("exam %s: %w", room.ExamID, model.ErrNotFound)
	}
	if err != nil {
		return model.ExamContent{}, fmt.Errorf("get exam: %w", err)
	}
	var exam model.ExamRecord
	if err := store.Decode(doc, &exam); err != nil {
		return model.ExamContent{}, fmt.Errorf("decode exam: %w", err)
	}
	return exam.Decode()
}

// writeSubmission durably records the answers. The document write is
// retried before giving up; answers must not be lost once the student has
// finished.
func (s *ExamSessionService) writeSubmission(ctx context.Context, sub model.Submission) error {
	fields, err := store.Encode(sub)
	if err != nil {
		return fmt.Errorf("encode submission: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if lastErr = s.store.Set(ctx, submissionPath(sub.ID), fields, false); lastErr == nil {
			return nil
		}
		s.log.Warn().Err(lastErr).Int("attempt", attempt+1).Str("submission_id", sub.ID).Msg("Submission write failed, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 200 * time.Millisecond):
		}
	}
	return fmt.Errorf("write submission %s: %w", sub.ID, lastErr)
}

// afterSubmission runs the post-write bookkeeping: finished marker,
// roster cleanup, presence cleanup, archive queue. All best-effort; the
// submission document is already safe.
func (s *ExamSessionService) afterSubmission(ctx context.Context, sub model.Submission) {
	marker := model.FinishedMarker{
		StudentID:    sub.StudentID,
		StudentName:  sub.StudentName,
		SubmissionID: sub.ID,
		FinishedAt:   sub.FinishedAt,
	}
	if fields, err := store.Encode(marker); err == nil {
		if err := s.store.Set(ctx, finisherPath(sub.RoomID, sub.StudentID), fields, false); err != nil {
			s.log.Warn().Err(err).Str("submission_id", sub.ID).Msg("Finished marker write failed")
		}
	}

	if err := s.rooms.RemoveParticipant(ctx, sub.RoomID, sub.StudentID); err != nil {
		s.log.Warn().Err(err).Str("student_id", sub.StudentID).Msg("Participant cleanup failed")
	}
	s.presence.Remove(ctx, sub.RoomID, sub.StudentID)

	if s.archiver != nil {
		if err := s.archiver.EnqueueSubmission(ctx, sub); err != nil {
			s.log.Warn().Err(err).Str("submission_id", sub.ID).Msg("Archive enqueue failed")
		}
	}
}

// GetSubmission loads one submission document.
func (s *ExamSessionService) GetSubmission(ctx context.Context, submissionID string) (model.Submission, error) {
	doc, err := s.store.Get(ctx, submissionPath(submissionID))
	if errors.Is(err, store.ErrNotFound) {
		return model.Submission{}, fmt.Errorf("submission %s: %w", submissionID, model.ErrNotFound)
	}
	if err != nil {
		return model.Submission{}, fmt.Errorf("get submission: %w", err)
	}
	var sub model.Submission
	if err := store.Decode(doc, &sub); err != nil {
		return model.Submission{}, fmt.Errorf("decode submission: %w", err)
	}
	return sub, nil
}

// ListStudentSubmissions returns a student's history, newest first.
func (s *ExamSessionService) ListStudentSubmissions(ctx context.Context, studentID string) ([]model.Submission, error) {
	docs, err := s.store.List(ctx, store.Query{
		Collection: "submissions",
		Where:      []store.Cond{{Field: "studentId", Equals: studentID}},
	})
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	subs := make([]model.Submission, 0, len(docs))
	for _, doc := range docs {
		var sub model.Submission
		if err := store.Decode(doc, &sub); err != nil {
			s.log.Warn().Err(err).Str("path", doc.Path).Msg("Skipping malformed submission")
			continue
		}
		subs = append(subs, sub)
	}
	sort.Slice(subs, func(i, j int) bool {
		return subs[i].FinishedAt.After(subs[j].FinishedAt)
	})
	return subs, nil
}
