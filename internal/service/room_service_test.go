package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Giuseph66/Avaliacoes-seguras/internal/model"
)

func TestCreateRoomIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedExam(t, env, testExamID, testProfessorID)

	first, err := env.rooms.CreateRoom(ctx, testExamID, testProfessorID)
	require.NoError(t, err)
	assert.Equal(t, model.RoomID(testExamID, testProfessorID), first.ID)
	assert.Equal(t, model.RoomOpen, first.Status)

	// Walk the room forward, then recreate: the existing room must come
	// back unchanged instead of being reset to open.
	_, err = env.rooms.SetDeadlineAndInstructions(ctx, first.ID, time.Now().Add(time.Hour), "instruções")
	require.NoError(t, err)
	_, err = env.rooms.Release(ctx, first.ID)
	require.NoError(t, err)

	again, err := env.rooms.CreateRoom(ctx, testExamID, testProfessorID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, model.RoomReleased, again.Status)
}

func TestCreateRoomUnknownExam(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.rooms.CreateRoom(context.Background(), "missing-exam", testProfessorID)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestReleaseRequiresDeadlineAndInstructions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedExam(t, env, testExamID, testProfessorID)

	room, err := env.rooms.CreateRoom(ctx, testExamID, testProfessorID)
	require.NoError(t, err)

	_, err = env.rooms.Release(ctx, room.ID)
	assert.ErrorIs(t, err, model.ErrPreconditionFailed)

	_, err = env.rooms.SetDeadlineAndInstructions(ctx, room.ID, time.Now().Add(time.Hour), "   ")
	require.NoError(t, err)
	_, err = env.rooms.Release(ctx, room.ID)
	assert.ErrorIs(t, err, model.ErrPreconditionFailed, "blank instructions must not count")

	_, err = env.rooms.SetDeadlineAndInstructions(ctx, room.ID, time.Now().Add(time.Hour), "Boa prova!")
	require.NoError(t, err)
	released, err := env.rooms.Release(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RoomReleased, released.Status)
	assert.NotEmpty(t, released.ContentSnapshot, "release must freeze the exam content")
}

func TestReleaseSnapshotIgnoresLaterExamEdits(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	room := releasedRoom(t, env, time.Now().Add(time.Hour))

	// Mutate the exam after release; attempts must still see the frozen
	// content.
	tampered := testContent()
	tampered.Title = "Prova alterada depois da liberação"
	encoded, err := tampered.Encode()
	require.NoError(t, err)
	require.NoError(t, env.store.Set(ctx, examPath(testExamID), map[string]interface{}{"content": encoded}, true))

	fresh, err := env.rooms.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	content, err := model.DecodeExamContent(fresh.ContentSnapshot)
	require.NoError(t, err)
	assert.Equal(t, "Prova de Matemática", content.Title)
}

func TestCloseAndReopen(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	room := releasedRoom(t, env, time.Now().Add(time.Hour))

	closed, err := env.rooms.Close(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RoomClosed, closed.Status)

	// Closed rooms refuse configuration and release.
	_, err = env.rooms.SetDeadlineAndInstructions(ctx, room.ID, time.Now().Add(time.Hour), "x")
	assert.ErrorIs(t, err, model.ErrInvalidState)
	_, err = env.rooms.Release(ctx, room.ID)
	assert.ErrorIs(t, err, model.ErrInvalidState)
	_, err = env.rooms.Close(ctx, room.ID)
	assert.ErrorIs(t, err, model.ErrInvalidState)

	reopened, err := env.rooms.Reopen(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RoomOpen, reopened.Status)

	// Reopen from a non-closed room is rejected.
	_, err = env.rooms.Reopen(ctx, room.ID)
	assert.ErrorIs(t, err, model.ErrInvalidState)
}

func TestAdmitCreatesWaitingParticipant(t *testing.T) {
	env := newTestEnv(t)
	room := releasedRoom(t, env, time.Now().Add(time.Hour))

	p := admittedStudent(t, env, room.ID)
	assert.Equal(t, model.StatusWaiting, p.Status)
	assert.Equal(t, testStudentName, p.Name)

	// Rejoining returns the same record rather than resetting it.
	again, err := env.rooms.Admit(context.Background(), room.ID, testStudentID, testStudentName)
	require.NoError(t, err)
	assert.Equal(t, p.JoinedAt.Unix(), again.JoinedAt.Unix())
}

func TestAdmitRefusedForClosedRoom(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	room := releasedRoom(t, env, time.Now().Add(time.Hour))
	_, err := env.rooms.Close(ctx, room.ID)
	require.NoError(t, err)

	_, err = env.rooms.Admit(ctx, room.ID, testStudentID, testStudentName)
	assert.ErrorIs(t, err, model.ErrInvalidState)
}

func TestAdmitRefusedForExpelledStudent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	room := releasedRoom(t, env, time.Now().Add(time.Hour))
	admittedStudent(t, env, room.ID)

	_, err := env.rooms.Expel(ctx, room.ID, testStudentID)
	require.NoError(t, err)

	_, err = env.rooms.Admit(ctx, room.ID, testStudentID, testStudentName)
	assert.ErrorIs(t, err, model.ErrExpelled)
}

func TestAdmitFlaggedStudentKeepsRecord(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	room := releasedRoom(t, env, time.Now().Add(time.Hour))
	admittedStudent(t, env, room.ID)

	_, err := env.rooms.StartExam(ctx, room.ID, testStudentID)
	require.NoError(t, err)
	flagged, err := env.rooms.Flag(ctx, room.ID, testStudentID, model.ReasonAppBackground)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFlagged, flagged.Status)

	// The rejoin lands on the holding flow, not back in waiting.
	p, err := env.rooms.Admit(ctx, room.ID, testStudentID, testStudentName)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFlagged, p.Status)
	assert.Equal(t, model.ReasonAppBackground, p.Reason)
}

func TestFlagIsIdempotentThroughService(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	room := releasedRoom(t, env, time.Now().Add(time.Hour))
	admittedStudent(t, env, room.ID)

	_, err := env.rooms.StartExam(ctx, room.ID, testStudentID)
	require.NoError(t, err)

	first, err := env.rooms.Flag(ctx, room.ID, testStudentID, model.ReasonFocusLost)
	require.NoError(t, err)
	second, err := env.rooms.Flag(ctx, room.ID, testStudentID, model.ReasonScreenshot)
	require.NoError(t, err)

	assert.Equal(t, model.StatusFlagged, second.Status)
	assert.Equal(t, first.Reason, second.Reason, "the first reason must survive duplicate flags")
}

func TestFlagNeverDowngradesExpelledParticipant(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	room := releasedRoom(t, env, time.Now().Add(time.Hour))
	admittedStudent(t, env, room.ID)

	_, err := env.rooms.Expel(ctx, room.ID, testStudentID)
	require.NoError(t, err)

	p, err := env.rooms.Flag(ctx, room.ID, testStudentID, model.ReasonHardwareBack)
	require.NoError(t, err)
	assert.Equal(t, model.StatusExpelled, p.Status)
}

func TestReadmitClearsFlag(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	room := releasedRoom(t, env, time.Now().Add(time.Hour))
	admittedStudent(t, env, room.ID)

	_, err := env.rooms.StartExam(ctx, room.ID, testStudentID)
	require.NoError(t, err)
	_, err = env.rooms.Flag(ctx, room.ID, testStudentID, model.ReasonFocusLost)
	require.NoError(t, err)

	p, err := env.rooms.Readmit(ctx, room.ID, testStudentID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusWaiting, p.Status)
	assert.Empty(t, p.Reason)
}

func TestExpelRefusedInClosedRoom(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	room := releasedRoom(t, env, time.Now().Add(time.Hour))
	admittedStudent(t, env, room.ID)
	_, err := env.rooms.Close(ctx, room.ID)
	require.NoError(t, err)

	_, err = env.rooms.Expel(ctx, room.ID, testStudentID)
	assert.ErrorIs(t, err, model.ErrInvalidState)
}

func TestListParticipantsSortedByJoinTime(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	room := releasedRoom(t, env, time.Now().Add(time.Hour))

	for _, id := range []string{"s3", "s1", "s2"} {
		_, err := env.rooms.Admit(ctx, room.ID, id, "Aluno "+id)
		require.NoError(t, err)
		time.Sleep(2 * time.Millisecond)
	}

	roster, err := env.rooms.ListParticipants(ctx, room.ID)
	require.NoError(t, err)
	require.Len(t, roster, 3)
	assert.Equal(t, "s3", roster[0].StudentID)
	assert.Equal(t, "s1", roster[1].StudentID)
	assert.Equal(t, "s2", roster[2].StudentID)
}
