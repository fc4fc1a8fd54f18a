package service

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Giuseph66/Avaliacoes-seguras/internal/model"
	"github.com/Giuseph66/Avaliacoes-seguras/internal/store"
)

// AntiCheatMonitor observes one running session. Device signals often
// fire in bursts (backgrounding also drops focus), so a per-episode latch
// collapses the burst into a single flag. A fresh monitor is attached
// whenever a readmitted student starts a new session, which is what
// resets the episode.
type AntiCheatMonitor struct {
	session *SessionController
	rooms   *RoomService
	log     zerolog.Logger

	mu      sync.Mutex
	latched bool
}

// NewAntiCheatMonitor attaches a monitor to a session.
func NewAntiCheatMonitor(session *SessionController, rooms *RoomService, log zerolog.Logger) *AntiCheatMonitor {
	return &AntiCheatMonitor{
		session: session,
		rooms:   rooms,
		log:     log.With().Str("component", "anticheat").Logger(),
	}
}

// Signal reports a device violation. Only the first signal of an episode
// does anything; signals outside the running state are ignored. When the
// deadline has already passed, expiry wins: the attempt finalizes as a
// normal timeout instead of flagging.
func (m *AntiCheatMonitor) Signal(ctx context.Context, reason model.FlagReason) {
	c := m.session
	c.mu.Lock()
	running := c.state == model.SessionRunning
	expired := running && c.remainingLocked() == 0
	c.mu.Unlock()
	if !running {
		return
	}

	m.mu.Lock()
	if m.latched {
		m.mu.Unlock()
		return
	}
	m.latched = true
	m.mu.Unlock()

	if expired {
		if _, err := c.Submit(ctx); err != nil {
			m.log.Error().Err(err).Str("student_id", c.studentID).Msg("Finalize after expiry failed")
		}
		return
	}

	// The flag write is best-effort: a failure is logged and swallowed,
	// never surfaced to the student mid-exam.
	if _, err := m.rooms.Flag(ctx, c.roomID, c.studentID, reason); err != nil {
		m.log.Warn().Err(err).
			Str("room_id", c.roomID).
			Str("student_id", c.studentID).
			Str("reason", string(reason)).
			Msg("Flag write failed")
	}

	c.mu.Lock()
	if c.state == model.SessionRunning {
		c.state = model.SessionAbortedFlagged
		if c.stopTick != nil {
			close(c.stopTick)
			c.stopTick = nil
		}
	}
	c.mu.Unlock()

	c.emit(SessionEvent{Kind: SessionEventAborted, Reason: reason})
	m.log.Info().
		Str("room_id", c.roomID).
		Str("student_id", c.studentID).
		Str("reason", string(reason)).
		Msg("Session aborted by anti-cheat")
}

// HoldingOutcome is the result of waiting on a flagged participant
// record.
type HoldingOutcome string

const (
	HoldingReadmitted HoldingOutcome = "readmitted"
	HoldingExpelled   HoldingOutcome = "expelled"
	HoldingFinished   HoldingOutcome = "finished"
)

// WatchHolding blocks while a flagged student sits on the holding screen,
// watching their own participant record. It returns once the professor
// clears the flag, expels them, or the record disappears. A deleted
// record counts as a readmit unless the student already finished, in
// which case finishing wins and the student must not be revived.
func (s *ExamSessionService) WatchHolding(ctx context.Context, roomID, studentID string) (HoldingOutcome, error) {
	changes, cancel, err := s.store.Subscribe(ctx, participantPath(roomID, studentID))
	if err != nil {
		return "", err
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case change, ok := <-changes:
			if !ok {
				return "", ctx.Err()
			}
			if change.Doc == nil {
				if s.hasFinished(ctx, roomID, studentID) {
					return HoldingFinished, nil
				}
				return HoldingReadmitted, nil
			}
			var p model.Participant
			if err := store.Decode(change.Doc, &p); err != nil {
				s.log.Warn().Err(err).Str("path", change.Path).Msg("Skipping malformed participant change")
				continue
			}
			switch p.Status {
			case model.StatusWaiting:
				return HoldingReadmitted, nil
			case model.StatusExpelled:
				return HoldingExpelled, nil
			case model.StatusFinished:
				return HoldingFinished, nil
			}
		}
	}
}

func (s *ExamSessionService) hasFinished(ctx context.Context, roomID, studentID string) bool {
	_, err := s.store.Get(ctx, finisherPath(roomID, studentID))
	return err == nil
}
