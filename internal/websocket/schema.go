package websocket

import "github.com/Giuseph66/Avaliacoes-seguras/internal/model"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionJoinWaiting Action = "join_waiting"
	ActionSay         Action = "say"
	ActionSetColor    Action = "set_color"
	ActionStartExam   Action = "start_exam"
	ActionAnswer      Action = "answer"
	ActionSubmit      Action = "submit"
	ActionCheat       Action = "cheat"
	ActionPing        Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// SayRequest attaches transient speech to the student's avatar.
type SayRequest struct {
	Action Action `json:"action"`
	Text   string `json:"text"`
}

// SetColorRequest repaints the student's avatar.
type SetColorRequest struct {
	Action Action `json:"action"`
	Color  string `json:"color"`
}

// AnswerRequest records the latest answer for one question.
type AnswerRequest struct {
	Action     Action       `json:"action"`
	QuestionID string       `json:"question_id"`
	Answer     model.Answer `json:"answer"`
}

// SubmitRequest finalizes the attempt.
type SubmitRequest struct {
	Action Action `json:"action"`
}

// CheatRequest reports an anti-cheat signal from the device.
type CheatRequest struct {
	Action Action `json:"action"`
	Reason string `json:"reason"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventRoomState     Event = "room_state"
	EventParticipant   Event = "participant"
	EventRoster        Event = "roster"
	EventPresenceFrame Event = "presence_frame"
	EventExamPayload   Event = "exam_payload"
	EventTick          Event = "tick"
	EventFinished      Event = "finished"
	EventAborted       Event = "aborted"
	EventReadmitted    Event = "readmitted"
	EventExpelled      Event = "expelled"
	EventError         Event = "error"
	EventPong          Event = "pong"
)

// RoomStateResponse mirrors the room document on every change.
type RoomStateResponse struct {
	Event Event      `json:"event"`
	Room  model.Room `json:"room"`
}

// ParticipantResponse mirrors the student's own roster record. A nil
// Participant means the record was deleted.
type ParticipantResponse struct {
	Event       Event              `json:"event"`
	Participant *model.Participant `json:"participant"`
}

// RosterResponse carries the full participant list, sorted by join time.
// Sent to room monitors on every roster change.
type RosterResponse struct {
	Event        Event               `json:"event"`
	Participants []model.Participant `json:"participants"`
}

// PresenceFrameResponse is one waiting-room animation frame.
type PresenceFrameResponse struct {
	Event   Event                 `json:"event"`
	Entries []model.PresenceEntry `json:"entries"`
}

// ExamPayloadResponse delivers the decoded exam content and the remaining
// seconds when the attempt starts.
type ExamPayloadResponse struct {
	Event     Event             `json:"event"`
	Content   model.ExamContent `json:"content"`
	Remaining int               `json:"remaining"`
}

// TickResponse is the one-second countdown heartbeat.
type TickResponse struct {
	Event     Event `json:"event"`
	Remaining int   `json:"remaining"`
}

// FinishedResponse confirms the submission was durably written.
type FinishedResponse struct {
	Event        Event  `json:"event"`
	SubmissionID string `json:"submission_id"`
}

// AbortedResponse routes the student to the holding screen.
type AbortedResponse struct {
	Event  Event  `json:"event"`
	Reason string `json:"reason"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
