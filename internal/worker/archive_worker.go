package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Giuseph66/Avaliacoes-seguras/internal/config"
	"github.com/Giuseph66/Avaliacoes-seguras/internal/model"
)

const (
	ArchiveBatchSize    = 50
	ArchiveBatchTimeout = 2 * time.Second
	ArchivePollTimeout  = 1 * time.Second
)

// ArchiveQueue is the producer side: finished submissions are pushed here
// and the worker drains them into PostgreSQL.
type ArchiveQueue struct {
	rdb *redis.Client
}

// NewArchiveQueue creates the producer handle.
func NewArchiveQueue(rdb *redis.Client) *ArchiveQueue {
	return &ArchiveQueue{rdb: rdb}
}

// EnqueueSubmission pushes one submission onto the archive queue.
func (q *ArchiveQueue) EnqueueSubmission(ctx context.Context, sub model.Submission) error {
	raw, err := json.Marshal(sub)
	if err != nil {
		return err
	}
	return q.rdb.RPush(ctx, config.WorkerKey.ArchiveSubmissionsQueue, raw).Err()
}

// ArchiveWorker consumes the archive queue and UPSERTs submissions into
// PostgreSQL in batches. The document store stays the source of truth;
// the archive feeds reporting and survives store cleanups.
type ArchiveWorker struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewArchiveWorker creates a new ArchiveWorker.
func NewArchiveWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *ArchiveWorker {
	return &ArchiveWorker{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "archive_worker").Logger(),
	}
}

// Start begins the worker loop with batching. Call in a goroutine.
func (w *ArchiveWorker) Start(ctx context.Context) {
	w.log.Info().Msg("ArchiveWorker started")

	batch := make([]*model.Submission, 0, ArchiveBatchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= ArchiveBatchSize || time.Since(lastFlush) >= ArchiveBatchTimeout) {

			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Flushing remaining batch...")
			w.flushSafe(context.Background(), batch)
			return

		default:
			item, err := w.rdb.BLPop(ctx, ArchivePollTimeout, config.WorkerKey.ArchiveSubmissionsQueue).Result()
			if err != nil {
				if err != redis.Nil && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}

			if len(item) < 2 {
				continue
			}

			var sub model.Submission
			if err := json.Unmarshal([]byte(item[1]), &sub); err != nil {
				w.log.Error().Err(err).Msg("Invalid JSON payload")
				continue
			}

			batch = append(batch, &sub)
		}
	}
}

func (w *ArchiveWorker) flushSafe(ctx context.Context, batch []*model.Submission) {
	if len(batch) == 0 {
		return
	}

	if err := w.bulkArchive(ctx, batch); err != nil {
		w.log.Warn().Err(err).Msg("bulk archive failed, using fallback")

		for _, sub := range batch {
			if err := w.archiveSingle(ctx, sub); err != nil {
				w.log.Error().Err(err).Str("submission_id", sub.ID).Msg("archiveSingle failed, requeueing")
				raw, _ := json.Marshal(sub)
				w.rdb.RPush(ctx, config.WorkerKey.ArchiveSubmissionsQueue, raw)
			}
		}
	}
}

// bulkArchive UPSERTs the whole batch in one statement via UNNEST.
func (w *ArchiveWorker) bulkArchive(ctx context.Context, batch []*model.Submission) error {
	n := len(batch)

	ids := make([]string, 0, n)
	roomIDs := make([]string, 0, n)
	examIDs := make([]string, 0, n)
	studentIDs := make([]string, 0, n)
	studentNames := make([]string, 0, n)
	answers := make([]string, 0, n)
	startedAts := make([]time.Time, 0, n)
	finishedAts := make([]time.Time, 0, n)
	timeUsed := make([]int, 0, n)

	for _, sub := range batch {
		raw, err := json.Marshal(sub.Answers)
		if err != nil {
			return err
		}
		ids = append(ids, sub.ID)
		roomIDs = append(roomIDs, sub.RoomID)
		examIDs = append(examIDs, sub.ExamID)
		studentIDs = append(studentIDs, sub.StudentID)
		studentNames = append(studentNames, sub.StudentName)
		answers = append(answers, string(raw))
		startedAts = append(startedAts, sub.StartedAt)
		finishedAts = append(finishedAts, sub.FinishedAt)
		timeUsed = append(timeUsed, sub.TimeUsedSecs)
	}

	_, err := w.pool.Exec(ctx, `
		INSERT INTO submission_archive
			(id, room_id, exam_id, student_id, student_name, answers, started_at, finished_at, time_used_secs)
		SELECT * FROM UNNEST(
			$1::text[], $2::text[], $3::text[], $4::text[], $5::text[],
			$6::jsonb[], $7::timestamptz[], $8::timestamptz[], $9::int[]
		)
		ON CONFLICT (id) DO UPDATE SET
			answers      = EXCLUDED.answers,
			finished_at  = EXCLUDED.finished_at,
			time_used_secs = EXCLUDED.time_used_secs`,
		ids, roomIDs, examIDs, studentIDs, studentNames,
		answers, startedAts, finishedAts, timeUsed,
	)
	return err
}

func (w *ArchiveWorker) archiveSingle(ctx context.Context, sub *model.Submission) error {
	raw, err := json.Marshal(sub.Answers)
	if err != nil {
		return err
	}
	_, err = w.pool.Exec(ctx, `
		INSERT INTO submission_archive
			(id, room_id, exam_id, student_id, student_name, answers, started_at, finished_at, time_used_secs)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			answers      = EXCLUDED.answers,
			finished_at  = EXCLUDED.finished_at,
			time_used_secs = EXCLUDED.time_used_secs`,
		sub.ID, sub.RoomID, sub.ExamID, sub.StudentID, sub.StudentName,
		string(raw), sub.StartedAt, sub.FinishedAt, sub.TimeUsedSecs,
	)
	return err
}
