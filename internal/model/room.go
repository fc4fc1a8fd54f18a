package model

import "time"

// RoomStatus enumerates the room lifecycle.
type RoomStatus string

const (
	RoomOpen     RoomStatus = "open"
	RoomReleased RoomStatus = "released"
	RoomClosed   RoomStatus = "closed"
)

// RoomID derives the composite room identifier. One professor gets at most
// one room per exam, which is what makes createRoom idempotent.
func RoomID(examID, professorID string) string {
	return examID + "_" + professorID
}

// Room is one bounded exam-taking session. Only the owning professor
// writes room-level fields; students write only their own participant
// sub-records.
type Room struct {
	ID           string     `json:"id"`
	ExamID       string     `json:"examId"`
	ProfessorID  string     `json:"professorId"`
	Status       RoomStatus `json:"status"`
	Deadline     *time.Time `json:"deadline,omitempty"`
	Instructions string     `json:"instructions"`
	// ContentSnapshot freezes the exam content at release time so edits
	// to the exam never change what in-progress attempts see.
	ContentSnapshot string    `json:"contentSnapshot,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Expired reports whether the room deadline has passed at the given
// instant. A room with no deadline never expires.
func (r Room) Expired(now time.Time) bool {
	return r.Deadline != nil && !now.Before(*r.Deadline)
}

// FlagReason identifies the anti-cheat signal that flagged a participant.
type FlagReason string

const (
	ReasonHardwareBack  FlagReason = "hardware_back"
	ReasonAppBackground FlagReason = "app_background"
	ReasonFocusLost     FlagReason = "focus_lost"
	ReasonScreenshot    FlagReason = "screenshot"
)

// Participant is a student's live membership record within a room. The
// record is deleted when the student finishes normally; the submission
// takes over as the durable trace.
type Participant struct {
	StudentID string            `json:"studentId"`
	Name      string            `json:"name"`
	Status    ParticipantStatus `json:"status"`
	Reason    FlagReason        `json:"reason,omitempty"`
	JoinedAt  time.Time         `json:"joinedAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}
