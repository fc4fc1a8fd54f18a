package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Giuseph66/Avaliacoes-seguras/internal/model"
)

func runningSession(t *testing.T, env *testEnv, deadline time.Time) (*SessionController, model.Room) {
	t.Helper()
	room := releasedRoom(t, env, deadline)
	admittedStudent(t, env, room.ID)

	ctrl := env.sessions.NewSession(room.ID, testStudentID, testStudentName)
	require.NoError(t, ctrl.Start(context.Background()))
	t.Cleanup(ctrl.Close)
	return ctrl, room
}

func TestSignalAbortsRunningSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ctrl, room := runningSession(t, env, time.Now().Add(time.Hour))
	monitor := NewAntiCheatMonitor(ctrl, env.rooms, env.sessions.log)

	monitor.Signal(ctx, model.ReasonAppBackground)

	assert.Equal(t, model.SessionAbortedFlagged, ctrl.State())
	ev := waitEvent(t, ctrl, SessionEventAborted)
	assert.Equal(t, model.ReasonAppBackground, ev.Reason)

	p, err := env.rooms.GetParticipant(ctx, room.ID, testStudentID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFlagged, p.Status)
	assert.Equal(t, model.ReasonAppBackground, p.Reason)
}

func TestSignalBurstCollapsesToOneFlag(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ctrl, room := runningSession(t, env, time.Now().Add(time.Hour))
	monitor := NewAntiCheatMonitor(ctrl, env.rooms, env.sessions.log)

	// Backgrounding the app also drops focus; the burst must land as one
	// flag carrying the first reason.
	monitor.Signal(ctx, model.ReasonAppBackground)
	monitor.Signal(ctx, model.ReasonFocusLost)
	monitor.Signal(ctx, model.ReasonFocusLost)

	p, err := env.rooms.GetParticipant(ctx, room.ID, testStudentID)
	require.NoError(t, err)
	assert.Equal(t, model.ReasonAppBackground, p.Reason)

	aborted := 0
	for {
		select {
		case ev := <-ctrl.Events():
			if ev.Kind == SessionEventAborted {
				aborted++
			}
			continue
		default:
		}
		break
	}
	assert.Equal(t, 1, aborted)
}

func TestSignalIgnoredBeforeStart(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	room := releasedRoom(t, env, time.Now().Add(time.Hour))
	admittedStudent(t, env, room.ID)

	ctrl := env.sessions.NewSession(room.ID, testStudentID, testStudentName)
	monitor := NewAntiCheatMonitor(ctrl, env.rooms, env.sessions.log)

	monitor.Signal(ctx, model.ReasonScreenshot)

	assert.Equal(t, model.SessionNotStarted, ctrl.State())
	p, err := env.rooms.GetParticipant(ctx, room.ID, testStudentID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusWaiting, p.Status)
}

func TestSignalIgnoredAfterFinish(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ctrl, _ := runningSession(t, env, time.Now().Add(time.Hour))
	monitor := NewAntiCheatMonitor(ctrl, env.rooms, env.sessions.log)

	_, err := ctrl.Submit(ctx)
	require.NoError(t, err)

	monitor.Signal(ctx, model.ReasonScreenshot)
	assert.Equal(t, model.SessionFinished, ctrl.State())
}

func TestSignalAfterExpirySubmitsInstead(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ctrl, room := runningSession(t, env, time.Now().Add(time.Hour))
	monitor := NewAntiCheatMonitor(ctrl, env.rooms, env.sessions.log)

	require.NoError(t, ctrl.Answer("q1", model.Answer{Text: "1b"}))

	// The deadline races the signal and wins: the attempt ends as a
	// normal timeout, never as a flag.
	env.sessions.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	monitor.Signal(ctx, model.ReasonAppBackground)

	assert.Equal(t, model.SessionFinished, ctrl.State())
	sub, err := env.sessions.GetSubmission(ctx, model.SubmissionID(testExamID, testStudentID))
	require.NoError(t, err)
	assert.Equal(t, "1b", sub.Answers["q1"].Text)

	// The roster record was removed by the finish path, not flagged.
	_, err = env.rooms.GetParticipant(ctx, room.ID, testStudentID)
	assert.ErrorIs(t, err, model.ErrNotFound)
}
