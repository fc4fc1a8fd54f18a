package model

import "fmt"

// ParticipantStatus enumerates the participant lifecycle inside a room.
type ParticipantStatus string

const (
	StatusWaiting  ParticipantStatus = "waiting"
	StatusInExam   ParticipantStatus = "in_exam"
	StatusFlagged  ParticipantStatus = "flagged"
	StatusExpelled ParticipantStatus = "expelled"
	StatusFinished ParticipantStatus = "finished"
)

// ParticipantEvent is an input to the participant state machine.
type ParticipantEvent string

const (
	EventStartExam ParticipantEvent = "start_exam"
	EventFlag      ParticipantEvent = "flag"
	EventReadmit   ParticipantEvent = "readmit"
	EventExpel     ParticipantEvent = "expel"
	EventFinish    ParticipantEvent = "finish"
)

type transition struct {
	from  ParticipantStatus
	event ParticipantEvent
}

// participantTransitions is the authoritative transition table. Anything
// not listed here and not covered by an idempotency rule is rejected.
var participantTransitions = map[transition]ParticipantStatus{
	{StatusWaiting, EventStartExam}: StatusInExam,
	// Self-transition so a student whose connection dropped mid-exam can
	// re-enter the attempt instead of being locked out.
	{StatusInExam, EventStartExam}: StatusInExam,
	{StatusInExam, EventFlag}:      StatusFlagged,
	{StatusFlagged, EventReadmit}:  StatusWaiting,
	{StatusWaiting, EventExpel}:    StatusExpelled,
	{StatusInExam, EventExpel}:     StatusExpelled,
	{StatusFlagged, EventExpel}:    StatusExpelled,
	{StatusInExam, EventFinish}:    StatusFinished,
}

// ApplyParticipantEvent resolves one event against the current status.
// Duplicate flags are absorbed: flagging an already-flagged participant is
// a no-op, and flagging an expelled participant must never downgrade the
// expulsion. Every other unlisted combination is an ErrInvalidState.
func ApplyParticipantEvent(current ParticipantStatus, event ParticipantEvent) (ParticipantStatus, error) {
	if event == EventFlag && (current == StatusFlagged || current == StatusExpelled) {
		return current, nil
	}
	next, ok := participantTransitions[transition{current, event}]
	if !ok {
		return current, fmt.Errorf("%w: cannot apply %q while %q", ErrInvalidState, event, current)
	}
	return next, nil
}
