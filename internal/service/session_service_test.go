package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Giuseph66/Avaliacoes-seguras/internal/model"
	"github.com/Giuseph66/Avaliacoes-seguras/internal/store"
)

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	room := releasedRoom(t, env, time.Now().Add(time.Hour))
	admittedStudent(t, env, room.ID)

	ctrl := env.sessions.NewSession(room.ID, testStudentID, testStudentName)
	defer ctrl.Close()
	require.NoError(t, ctrl.Start(ctx))
	assert.Equal(t, model.SessionRunning, ctrl.State())
	assert.Equal(t, "Prova de Matemática", ctrl.Content().Title)
	assert.Greater(t, ctrl.Remaining(), 0)

	// The roster record moved to in_exam when the attempt began.
	p, err := env.rooms.GetParticipant(ctx, room.ID, testStudentID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusInExam, p.Status)

	require.NoError(t, ctrl.Answer("q1", model.Answer{Text: "1b"}))
	require.NoError(t, ctrl.Answer("q2", model.Answer{Text: "rascunho"}))
	require.NoError(t, ctrl.Answer("q2", model.Answer{Text: "Dividir por 2."}))

	sub, err := ctrl.Submit(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.SubmissionID(testExamID, testStudentID), sub.ID)
	assert.Equal(t, testExamID, sub.ExamID)
	assert.Equal(t, "Dividir por 2.", sub.Answers["q2"].Text, "latest answer wins")
	assert.Equal(t, model.SessionFinished, ctrl.State())

	// The participant record is gone; the finished marker and the archive
	// queue carry the trace.
	_, err = env.rooms.GetParticipant(ctx, room.ID, testStudentID)
	assert.ErrorIs(t, err, model.ErrNotFound)
	_, err = env.store.Get(ctx, finisherPath(room.ID, testStudentID))
	assert.NoError(t, err)
	assert.Len(t, env.archiver.all(), 1)

	stored, err := env.sessions.GetSubmission(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, testStudentName, stored.StudentName)
}

func TestReconnectResumesExamAfterDrop(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	room := releasedRoom(t, env, time.Now().Add(time.Hour))
	admittedStudent(t, env, room.ID)

	first := env.sessions.NewSession(room.ID, testStudentID, testStudentName)
	require.NoError(t, first.Start(ctx))
	require.NoError(t, first.Answer("q1", model.Answer{Text: "1b"}))

	// The connection drops: the controller is torn down but the roster
	// record stays in_exam.
	first.Close()
	p, err := env.rooms.GetParticipant(ctx, room.ID, testStudentID)
	require.NoError(t, err)
	require.Equal(t, model.StatusInExam, p.Status)

	// Reconnect: admit hands back the existing record and a fresh
	// controller must be able to enter the attempt again.
	p, err = env.rooms.Admit(ctx, room.ID, testStudentID, testStudentName)
	require.NoError(t, err)
	assert.Equal(t, model.StatusInExam, p.Status)

	second := env.sessions.NewSession(room.ID, testStudentID, testStudentName)
	defer second.Close()
	require.NoError(t, second.Start(ctx))
	assert.Equal(t, model.SessionRunning, second.State())

	require.NoError(t, second.Answer("q1", model.Answer{Text: "1b"}))
	sub, err := second.Submit(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1b", sub.Answers["q1"].Text)
}

func TestStartRequiresReleasedRoom(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	seedExam(t, env, testExamID, testProfessorID)
	room, err := env.rooms.CreateRoom(ctx, testExamID, testProfessorID)
	require.NoError(t, err)
	admittedStudent(t, env, room.ID)

	ctrl := env.sessions.NewSession(room.ID, testStudentID, testStudentName)
	err = ctrl.Start(ctx)
	assert.ErrorIs(t, err, model.ErrInvalidState)
	assert.Equal(t, model.SessionNotStarted, ctrl.State(), "a failed load must leave the session reusable")

	// The same controller succeeds once the room is released.
	_, err = env.rooms.SetDeadlineAndInstructions(ctx, room.ID, time.Now().Add(time.Hour), "instruções")
	require.NoError(t, err)
	_, err = env.rooms.Release(ctx, room.ID)
	require.NoError(t, err)
	require.NoError(t, ctrl.Start(ctx))
	defer ctrl.Close()
	assert.Equal(t, model.SessionRunning, ctrl.State())
}

func TestStartExpiredRoomFinalizesImmediately(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	room := releasedRoom(t, env, time.Now().Add(time.Hour))
	admittedStudent(t, env, room.ID)

	// The deadline passes between release and the student tapping start.
	env.sessions.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	ctrl := env.sessions.NewSession(room.ID, testStudentID, testStudentName)
	require.NoError(t, ctrl.Start(ctx))
	assert.Equal(t, model.SessionFinished, ctrl.State())

	sub, err := env.sessions.GetSubmission(ctx, model.SubmissionID(testExamID, testStudentID))
	require.NoError(t, err)
	assert.Empty(t, sub.Answers)

	// The roster record never entered in_exam and was still cleaned up.
	_, err = env.rooms.GetParticipant(ctx, room.ID, testStudentID)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestDoubleSubmitYieldsOneSubmission(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	room := releasedRoom(t, env, time.Now().Add(time.Hour))
	admittedStudent(t, env, room.ID)

	ctrl := env.sessions.NewSession(room.ID, testStudentID, testStudentName)
	defer ctrl.Close()
	require.NoError(t, ctrl.Start(ctx))
	require.NoError(t, ctrl.Answer("q1", model.Answer{Text: "1b"}))

	var wg sync.WaitGroup
	results := make([]model.Submission, 8)
	for i := 0; i < len(results); i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sub, err := ctrl.Submit(ctx)
			assert.NoError(t, err)
			results[i] = sub
		}(i)
	}
	wg.Wait()

	for _, sub := range results {
		assert.Equal(t, results[0].ID, sub.ID)
		assert.Equal(t, "1b", sub.Answers["q1"].Text)
	}
	assert.Len(t, env.archiver.all(), 1, "only the winner of the race may archive")
}

func TestAnswerAfterSubmitRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	room := releasedRoom(t, env, time.Now().Add(time.Hour))
	admittedStudent(t, env, room.ID)

	ctrl := env.sessions.NewSession(room.ID, testStudentID, testStudentName)
	defer ctrl.Close()
	require.NoError(t, ctrl.Start(ctx))
	_, err := ctrl.Submit(ctx)
	require.NoError(t, err)

	err = ctrl.Answer("q1", model.Answer{Text: "tarde demais"})
	assert.ErrorIs(t, err, model.ErrInvalidState)
}

func TestCountdownAutoSubmitsAtZero(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	room := releasedRoom(t, env, time.Now().Add(150*time.Millisecond))
	admittedStudent(t, env, room.ID)

	ctrl := env.sessions.NewSession(room.ID, testStudentID, testStudentName)
	defer ctrl.Close()
	require.NoError(t, ctrl.Start(ctx))
	require.NoError(t, ctrl.Answer("q1", model.Answer{Text: "1b"}))

	ev := waitEvent(t, ctrl, SessionEventFinished)
	require.NotNil(t, ev.Submission)
	assert.Equal(t, "1b", ev.Submission.Answers["q1"].Text)
	waitState(t, ctrl, model.SessionFinished)
}

func TestSubmitFailureRollsBackAndRetries(t *testing.T) {
	flaky := &flakyStore{Store: store.NewMemoryStore(), fails: 3}
	env := newTestEnvWithStore(t, flaky)
	ctx := context.Background()
	room := releasedRoom(t, env, time.Now().Add(time.Hour))
	admittedStudent(t, env, room.ID)

	ctrl := env.sessions.NewSession(room.ID, testStudentID, testStudentName)
	defer ctrl.Close()
	require.NoError(t, ctrl.Start(ctx))
	require.NoError(t, ctrl.Answer("q1", model.Answer{Text: "1b"}))

	_, err := ctrl.Submit(ctx)
	require.Error(t, err)
	assert.Equal(t, model.SessionRunning, ctrl.State(), "a lost write must not strand the attempt")

	// The store recovers and the retry lands the same submission.
	sub, err := ctrl.Submit(ctx)
	require.NoError(t, err)
	assert.Equal(t, "1b", sub.Answers["q1"].Text)
	assert.Equal(t, model.SessionFinished, ctrl.State())
	assert.Len(t, env.archiver.all(), 1)
}

func TestListStudentSubmissionsNewestFirst(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	write := func(id string, finished time.Time) {
		sub := model.Submission{
			ID:         id,
			StudentID:  testStudentID,
			FinishedAt: finished,
		}
		fields, err := store.Encode(sub)
		require.NoError(t, err)
		require.NoError(t, env.store.Set(ctx, submissionPath(id), fields, false))
	}
	base := time.Now()
	write("sub-old", base.Add(-2*time.Hour))
	write("sub-new", base)
	write("sub-mid", base.Add(-time.Hour))

	// A different student's submission must not leak into the history.
	other := model.Submission{ID: "sub-other", StudentID: "someone-else", FinishedAt: base}
	fields, err := store.Encode(other)
	require.NoError(t, err)
	require.NoError(t, env.store.Set(ctx, submissionPath(other.ID), fields, false))

	subs, err := env.sessions.ListStudentSubmissions(ctx, testStudentID)
	require.NoError(t, err)
	require.Len(t, subs, 3)
	assert.Equal(t, "sub-new", subs[0].ID)
	assert.Equal(t, "sub-mid", subs[1].ID)
	assert.Equal(t, "sub-old", subs[2].ID)
}

func TestWatchHoldingReadmitted(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	room := releasedRoom(t, env, time.Now().Add(time.Hour))
	admittedStudent(t, env, room.ID)

	_, err := env.rooms.StartExam(ctx, room.ID, testStudentID)
	require.NoError(t, err)
	_, err = env.rooms.Flag(ctx, room.ID, testStudentID, model.ReasonFocusLost)
	require.NoError(t, err)

	outcome := make(chan HoldingOutcome, 1)
	go func() {
		o, err := env.sessions.WatchHolding(ctx, room.ID, testStudentID)
		assert.NoError(t, err)
		outcome <- o
	}()

	time.Sleep(20 * time.Millisecond)
	_, err = env.rooms.Readmit(ctx, room.ID, testStudentID)
	require.NoError(t, err)

	select {
	case o := <-outcome:
		assert.Equal(t, HoldingReadmitted, o)
	case <-time.After(2 * time.Second):
		t.Fatal("holding watch never resolved")
	}
}

func TestWatchHoldingExpelled(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	room := releasedRoom(t, env, time.Now().Add(time.Hour))
	admittedStudent(t, env, room.ID)

	_, err := env.rooms.StartExam(ctx, room.ID, testStudentID)
	require.NoError(t, err)
	_, err = env.rooms.Flag(ctx, room.ID, testStudentID, model.ReasonScreenshot)
	require.NoError(t, err)

	outcome := make(chan HoldingOutcome, 1)
	go func() {
		o, err := env.sessions.WatchHolding(ctx, room.ID, testStudentID)
		assert.NoError(t, err)
		outcome <- o
	}()

	time.Sleep(20 * time.Millisecond)
	_, err = env.rooms.Expel(ctx, room.ID, testStudentID)
	require.NoError(t, err)

	select {
	case o := <-outcome:
		assert.Equal(t, HoldingExpelled, o)
	case <-time.After(2 * time.Second):
		t.Fatal("holding watch never resolved")
	}
}

func TestWatchHoldingDeletedRecordChecksFinisher(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	room := releasedRoom(t, env, time.Now().Add(time.Hour))
	admittedStudent(t, env, room.ID)

	// A finished marker already exists: the record deletion means the
	// student finished, not that they were readmitted.
	marker := model.FinishedMarker{StudentID: testStudentID, SubmissionID: "sub-1", FinishedAt: time.Now()}
	fields, err := store.Encode(marker)
	require.NoError(t, err)
	require.NoError(t, env.store.Set(ctx, finisherPath(room.ID, testStudentID), fields, false))

	outcome := make(chan HoldingOutcome, 1)
	go func() {
		o, err := env.sessions.WatchHolding(ctx, room.ID, testStudentID)
		assert.NoError(t, err)
		outcome <- o
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, env.rooms.RemoveParticipant(ctx, room.ID, testStudentID))

	select {
	case o := <-outcome:
		assert.Equal(t, HoldingFinished, o)
	case <-time.After(2 * time.Second):
		t.Fatal("holding watch never resolved")
	}
}
