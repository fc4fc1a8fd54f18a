package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Giuseph66/Avaliacoes-seguras/internal/model"
	"github.com/Giuseph66/Avaliacoes-seguras/internal/store"
)

// RoomService owns the room lifecycle and the participant roster. Only
// professors reach the room-level mutations; students only ever touch
// their own participant record, which keeps the write sets disjoint.
type RoomService struct {
	store store.Store
	log   zerolog.Logger
}

// NewRoomService creates a new RoomService.
func NewRoomService(st store.Store, log zerolog.Logger) *RoomService {
	return &RoomService{
		store: st,
		log:   log.With().Str("component", "room_service").Logger(),
	}
}

// GetRoom loads one room by id.
func (s *RoomService) GetRoom(ctx context.Context, roomID string) (model.Room, error) {
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

// CreateRoom creates the room for (exam, professor), or returns the
// existing one unchanged. The composite id makes the operation idempotent
// without any store-side transaction.
func (s *RoomService) CreateRoom(ctx context.Context, examID, professorID string) (model.Room, error) {
	roomID := model.RoomID(examID, professorID)

	if existing, err := s.GetRoom(ctx, roomID); err == nil {
		return existing, nil
	} else if !errors.Is(err, model.ErrNotFound) {
		return model.Room{}, err
	}

	if _, err := s.store.Get(ctx, examPath(examID)); errors.Is(err, store.ErrNotFound) {
		return model.Room{}, fmt.Errorf("exam %s: %w", examID, model.ErrNotFound)
	} else if err != nil {
		return model.Room{}, fmt.Errorf("get exam: %w", err)
	}

	room := model.Room{
		ID:          roomID,
		ExamID:      examID,
		ProfessorID: professorID,
		Status:      model.RoomOpen,
		CreatedAt:   time.Now(),
	}
	fields, err := store.Encode(room)
	if err != nil {
		return model.Room{}, fmt.Errorf("encode room: %w", err)
	}
	if err := s.store.Set(ctx, roomPath(roomID), fields, false); err != nil {
		return model.Room{}, fmt.Errorf("create room: %w", err)
	}

	s.log.Info().Str("room_id", roomID).Str("exam_id", examID).Msg("Room created")
	return room, nil
}

// SetDeadlineAndInstructions configures the fields release depends on.
// Rejected once the room is closed.
func (s *RoomService) SetDeadlineAndInstructions(ctx context.Context, roomID string, deadline time.Time, instructions string) (model.Room, error) {
	room, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return model.Room{}, err
	}
	if room.Status == model.RoomClosed {
		return model.Room{}, fmt.Errorf("room %s is closed: %w", roomID, model.ErrInvalidState)
	}

	room.Deadline = &deadline
	room.Instructions = instructions
	err = s.store.Set(ctx, roomPath(roomID), map[string]interface{}{
		"deadline":     deadline.Format(time.RFC3339Nano),
		"instructions": instructions,
	}, true)
	if err != nil {
		return model.Room{}, fmt.Errorf("update room: %w", err)
	}
	return room, nil
}

// Release arms the room: students may start the exam from here on. The
// exam content is snapshotted onto the room so later edits to the exam
// never reach attempts already in flight.
func (s *RoomService) Release(ctx context.Context, roomID string) (model.Room, error) {
	room, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return model.Room{}, err
	}
	if room.Status == model.RoomClosed {
		return model.Room{}, fmt.Errorf("room %s is closed: %w", roomID, model.ErrInvalidState)
	}
	if room.Deadline == nil {
		return model.Room{}, fmt.Errorf("release requires a deadline: %w", model.ErrPreconditionFailed)
	}
	if strings.TrimSpace(room.Instructions) == "" {
		return model.Room{}, fmt.Errorf("release requires instructions: %w", model.ErrPreconditionFailed)
	}

	exam, err := s.getExam(ctx, room.ExamID)
	if err != nil {
		return model.Room{}, err
	}

	room.Status = model.RoomReleased
	room.ContentSnapshot = exam.Content
	err = s.store.Set(ctx, roomPath(roomID), map[string]interface{}{
		"status":          string(model.RoomReleased),
		"contentSnapshot": exam.Content,
	}, true)
	if err != nil {
		return model.Room{}, fmt.Errorf("release room: %w", err)
	}

	s.log.Info().Str("room_id", roomID).Time("deadline", *room.Deadline).Msg("Room released")
	return room, nil
}

// Close ends the session. Participant and submission data stay untouched.
func (s *RoomService) Close(ctx context.Context, roomID string) (model.Room, error) {
	return s.setStatus(ctx, roomID, model.RoomClosed, model.RoomOpen, model.RoomReleased)
}

// Reopen is the explicit recovery path back from closed.
func (s *RoomService) Reopen(ctx context.Context, roomID string) (model.Room, error) {
	return s.setStatus(ctx, roomID, model.RoomOpen, model.RoomClosed)
}

func (s *RoomService) setStatus(ctx context.Context, roomID string, to model.RoomStatus, from ...model.RoomStatus) (model.Room, error) {
	room, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return model.Room{}, err
	}
	allowed := false
	for _, f := range from {
		if room.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return model.Room{}, fmt.Errorf("room %s is %s: %w", roomID, room.Status, model.ErrInvalidState)
	}

	room.Status = to
	err = s.store.Set(ctx, roomPath(roomID), map[string]interface{}{"status": string(to)}, true)
	if err != nil {
		return model.Room{}, fmt.Errorf("set room status: %w", err)
	}
	s.log.Info().Str("room_id", roomID).Str("status", string(to)).Msg("Room status changed")
	return room, nil
}

// GetParticipant loads one participant record.
func (s *RoomService) GetParticipant(ctx context.Context, roomID, studentID string) (model.Participant, error) {
	doc, err := s.store.Get(ctx, participantPath(roomID, studentID))
	if errors.Is(err, store.ErrNotFound) {
		return model.Participant{}, fmt.Errorf("participant %s: %w", studentID, model.ErrNotFound)
	}
	if err != nil {
		return model.Participant{}, fmt.Errorf("get participant: %w", err)
	}
	var p model.Participant
	if err := store.Decode(doc, &p); err != nil {
		return model.Participant{}, fmt.Errorf("decode participant: %w", err)
	}
	return p, nil
}

// ListParticipants returns the roster sorted by join time. The store
// offers no server-side ordering, so sorting happens here.
func (s *RoomService) ListParticipants(ctx context.Context, roomID string) ([]model.Participant, error) {
	docs, err := s.store.List(ctx, store.Query{Collection: participantsCollection(roomID)})
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	participants := make([]model.Participant, 0, len(docs))
	for _, doc := range docs {
		var p model.Participant
		if err := store.Decode(doc, &p); err != nil {
			s.log.Warn().Err(err).Str("path", doc.Path).Msg("Skipping malformed participant record")
			continue
		}
		participants = append(participants, p)
	}
	sort.Slice(participants, func(i, j int) bool {
		return participants[i].JoinedAt.Before(participants[j].JoinedAt)
	})
	return participants, nil
}

// Admit creates or resurrects the participant record for a joining
// student. Expelled students are refused until the professor clears them;
// flagged students keep their flagged record and go to the holding flow.
func (s *RoomService) Admit(ctx context.Context, roomID, studentID, name string) (model.Participant, error) {
	room, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return model.Participant{}, err
	}
	if room.Status == model.RoomClosed {
		return model.Participant{}, fmt.Errorf("room %s is closed: %w", roomID, model.ErrInvalidState)
	}

	existing, err := s.GetParticipant(ctx, roomID, studentID)
	if err == nil {
		switch existing.Status {
		case model.StatusExpelled:
			return model.Participant{}, fmt.Errorf("student %s: %w", studentID, model.ErrExpelled)
		case model.StatusFlagged:
			return existing, nil
		default:
			return existing, nil
		}
	}
	if !errors.Is(err, model.ErrNotFound) {
		return model.Participant{}, err
	}

	now := time.Now()
	p := model.Participant{
		StudentID: studentID,
		Name:      name,
		Status:    model.StatusWaiting,
		JoinedAt:  now,
		UpdatedAt: now,
	}
	if err := s.writeParticipant(ctx, roomID, p); err != nil {
		return model.Participant{}, err
	}
	s.log.Info().Str("room_id", roomID).Str("student_id", studentID).Msg("Student admitted")
	return p, nil
}

// StartExam moves a participant into the exam. Flagged and expelled
// students are rejected by the transition table.
func (s *RoomService) StartExam(ctx context.Context, roomID, studentID string) (model.Participant, error) {
	return s.applyEvent(ctx, roomID, studentID, model.EventStartExam, "")
}

// Expel removes a student from play. Professor-only; rejected once the
// room is closed.
func (s *RoomService) Expel(ctx context.Context, roomID, studentID string) (model.Participant, error) {
	room, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return model.Participant{}, err
	}
	if room.Status == model.RoomClosed {
		return model.Participant{}, fmt.Errorf("room %s is closed: %w", roomID, model.ErrInvalidState)
	}
	return s.applyEvent(ctx, roomID, studentID, model.EventExpel, "")
}

// Readmit clears a flag, returning the student to the waiting room.
func (s *RoomService) Readmit(ctx context.Context, roomID, studentID string) (model.Participant, error) {
	return s.applyEvent(ctx, roomID, studentID, model.EventReadmit, "")
}

// Flag marks an anti-cheat violation. Safe against duplicate signals: a
// participant already flagged or expelled is left exactly as found.
func (s *RoomService) Flag(ctx context.Context, roomID, studentID string, reason model.FlagReason) (model.Participant, error) {
	return s.applyEvent(ctx, roomID, studentID, model.EventFlag, reason)
}

func (s *RoomService) applyEvent(ctx context.Context, roomID, studentID string, event model.ParticipantEvent, reason model.FlagReason) (model.Participant, error) {
	p, err := s.GetParticipant(ctx, roomID, studentID)
	if err != nil {
		return model.Participant{}, err
	}

	next, err := model.ApplyParticipantEvent(p.Status, event)
	if err != nil {
		return p, err
	}
	if next == p.Status {
		// Idempotent no-op, nothing to write.
		return p, nil
	}

	p.Status = next
	p.UpdatedAt = time.Now()
	switch event {
	case model.EventFlag:
		p.Reason = reason
	case model.EventReadmit:
		p.Reason = ""
	}
	if err := s.writeParticipant(ctx, roomID, p); err != nil {
		return model.Participant{}, err
	}

	s.log.Info().
		Str("room_id", roomID).
		Str("student_id", studentID).
		Str("event", string(event)).
		Str("status", string(next)).
		Msg("Participant transition")
	return p, nil
}

// RemoveParticipant deletes the live record. Used when a student finishes
// normally; the submission remains as the durable trace.
func (s *RoomService) RemoveParticipant(ctx context.Context, roomID, studentID string) error {
	if err := s.store.Delete(ctx, participantPath(roomID, studentID)); err != nil {
		return fmt.Errorf("remove participant: %w", err)
	}
	return nil
}

func (s *RoomService) writeParticipant(ctx context.Context, roomID string, p model.Participant) error {
	fields, err := store.Encode(p)
	if err != nil {
		return fmt.Errorf("encode participant: %w", err)
	}
	if err := s.store.Set(ctx, participantPath(roomID, p.StudentID), fields, false); err != nil {
		return fmt.Errorf("write participant: %w", err)
	}
	return nil
}

func (s *RoomService) getExam(ctx context.Context, examID string) (model.ExamRecord, error) {
	doc, err := s.store.Get(ctx, examPath(examID))
	if errors.Is(err, store.ErrNotFound) {
		return model.ExamRecord{}, fmt.Errorf("exam %s: %w", examID, model.ErrNotFound)
	}
	if err != nil {
		return model.ExamRecord{}, fmt.Errorf("get exam: %w", err)
	}
	var exam model.ExamRecord
	if err := store.Decode(doc, &exam); err != nil {
		return model.ExamRecord{}, fmt.Errorf("decode exam: %w", err)
	}
	return exam, nil
}

// SubscribeParticipants streams roster changes for one room.
func (s *RoomService) SubscribeParticipants(ctx context.Context, roomID string) (<-chan store.Change, func(), error) {
	return s.store.SubscribeCollection(ctx, participantsCollection(roomID))
}

// SubscribeParticipant streams changes of one student's own record. A nil
// document in the stream means the record was deleted, which subscribers
// must treat as a valid transition, not an error.
func (s *RoomService) SubscribeParticipant(ctx context.Context, roomID, studentID string) (<-chan store.Change, func(), error) {
	return s.store.Subscribe(ctx, participantPath(roomID, studentID))
}

// SubscribeRoom streams room-level changes (status, deadline,
// instructions).
func (s *RoomService) SubscribeRoom(ctx context.Context, roomID string) (<-chan store.Change, func(), error) {
	return s.store.Subscribe(ctx, roomPath(roomID))
}
