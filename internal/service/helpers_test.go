package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Giuseph66/Avaliacoes-seguras/internal/model"
	"github.com/Giuseph66/Avaliacoes-seguras/internal/store"
)

const (
	testExamID      = "exam-1"
	testProfessorID = "prof-1"
	testStudentID   = "student-1"
	testStudentName = "Maria Souza"
)

// fakeArchiver records every submission handed to the archive queue.
type fakeArchiver struct {
	mu   sync.Mutex
	subs []model.Submission
}

func (f *fakeArchiver) EnqueueSubmission(_ context.Context, sub model.Submission) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs = append(f.subs, sub)
	return nil
}

func (f *fakeArchiver) all() []model.Submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Submission, len(f.subs))
	copy(out, f.subs)
	return out
}

// flakyStore refuses a configurable number of submission writes, letting
// tests exercise the finalize retry and rollback paths.
type flakyStore struct {
	store.Store
	mu    sync.Mutex
	fails int
}

func (f *flakyStore) Set(ctx context.Context, path string, fields map[string]interface{}, merge bool) error {
	if strings.HasPrefix(path, "submissions/") {
		f.mu.Lock()
		if f.fails > 0 {
			f.fails--
			f.mu.Unlock()
			return errors.New("write refused")
		}
		f.mu.Unlock()
	}
	return f.Store.Set(ctx, path, fields, merge)
}

type testEnv struct {
	store    store.Store
	rooms    *RoomService
	presence *PresenceService
	sessions *ExamSessionService
	grading  *GradingService
	archiver *fakeArchiver
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithStore(t, store.NewMemoryStore())
}

func newTestEnvWithStore(t *testing.T, st store.Store) *testEnv {
	t.Helper()
	log := zerolog.Nop()
	rooms := NewRoomService(st, log)
	presence := NewPresenceService(st, 5, 5*time.Millisecond, log)
	archiver := &fakeArchiver{}
	sessions := NewExamSessionService(st, rooms, presence, archiver, log)
	sessions.tickInterval = 10 * time.Millisecond
	grading := NewGradingService(st, sessions, nil, log)
	return &testEnv{
		store:    st,
		rooms:    rooms,
		presence: presence,
		sessions: sessions,
		grading:  grading,
		archiver: archiver,
	}
}

func testContent() model.ExamContent {
	return model.ExamContent{
		Title:       "Prova de Matemática",
		Description: "Avaliação bimestral",
		Questions: []model.Question{
			{
				ID:   "q1",
				Text: "Qual o valor de x em 2x = 8?",
				Type: model.QuestionObjective,
				Alternatives: []model.Alternative{
					{ID: "1a", Text: "x = 2"},
					{ID: "1b", Text: "x = 4", Correct: true},
					{ID: "1c", Text: "x = 8"},
				},
			},
			{
				ID:          "q2",
				Text:        "Explique a resolução da equação.",
				Type:        model.QuestionDiscursive,
				ModelAnswer: "Dividir ambos os lados por 2.",
			},
		},
	}
}

func seedExam(t *testing.T, env *testEnv, examID, professorID string) model.ExamRecord {
	t.Helper()
	content, err := testContent().Encode()
	require.NoError(t, err)

	record := model.ExamRecord{
		ID:          examID,
		Title:       "Prova de Matemática",
		ProfessorID: professorID,
		Content:     content,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}
	fields, err := store.Encode(record)
	require.NoError(t, err)
	require.NoError(t, env.store.Set(context.Background(), examPath(examID), fields, false))
	return record
}

// releasedRoom seeds the exam, creates the room and walks it to released
// with the given deadline.
func releasedRoom(t *testing.T, env *testEnv, deadline time.Time) model.Room {
	t.Helper()
	ctx := context.Background()
	seedExam(t, env, testExamID, testProfessorID)

	room, err := env.rooms.CreateRoom(ctx, testExamID, testProfessorID)
	require.NoError(t, err)
	_, err = env.rooms.SetDeadlineAndInstructions(ctx, room.ID, deadline, "Leia cada questão com atenção.")
	require.NoError(t, err)
	room, err = env.rooms.Release(ctx, room.ID)
	require.NoError(t, err)
	return room
}

func admittedStudent(t *testing.T, env *testEnv, roomID string) model.Participant {
	t.Helper()
	p, err := env.rooms.Admit(context.Background(), roomID, testStudentID, testStudentName)
	require.NoError(t, err)
	return p
}

// waitState polls the controller until it reaches the wanted state.
func waitState(t *testing.T, c *SessionController, want model.SessionState) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("controller never reached %s, stuck in %s", want, c.State())
}

// waitEvent drains the controller's event stream until an event of the
// wanted kind shows up.
func waitEvent(t *testing.T, c *SessionController, kind SessionEventKind) SessionEvent {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev := <-c.Events():
			if ev.Kind == kind {
				return ev
			}
		case <-timeout:
			t.Fatalf("no %s event within deadline", kind)
		}
	}
}
