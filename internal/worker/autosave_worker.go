package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/skolastik/skolastik-backend/internal/config"
	"github.com/skolastik/skolastik-backend/internal/model"
)

const (
	AutosaveBatchSize   = 50
	AutosavePollTimeout = 1 * time.Second
)

// AutosaveWorker drains persist_answers_queue and merges answer
// patches into exam_sessions. The status guard in every statement
// means a patch that raced finalization is silently dropped, so a
// terminal session is never resurrected by a late autosave.
type AutosaveWorker struct {
	pool          *pgxpool.Pool
	rdb           *redis.Client
	flushInterval time.Duration
	log           zerolog.Logger
}

// NewAutosaveWorker creates a new AutosaveWorker.
func NewAutosaveWorker(pool *pgxpool.Pool, rdb *redis.Client, flushInterval time.Duration, log zerolog.Logger) *AutosaveWorker {
	return &AutosaveWorker{
		pool:          pool,
		rdb:           rdb,
		flushInterval: flushInterval,
		log:           log.With().Str("component", "autosave_worker").Logger(),
	}
}

type answerPayload struct {
	SessionID  string          `json:"session_id"`
	QuestionID string          `json:"question_id"`
	Answer     json.RawMessage `json:"answer"`
}

// Start begins the worker loop with batching. Call in a goroutine.
func (w *AutosaveWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	batch := make([]*answerPayload, 0, AutosaveBatchSize)
	lastFlush := time.Now()

	for {
		if len(batch) > 0 &&
			(len(batch) >= AutosaveBatchSize || time.Since(lastFlush) >= w.flushInterval) {

			w.flushSafe(ctx, batch)
			batch = batch[:0]
			lastFlush = time.Now()
		}

		select {
		case <-ctx.Done():
			w.log.Info().Msg("Shutdown requested. Flushing remaining batch...")
			w.flushSafe(context.Background(), batch)
			w.drain(context.Background())
			w.log.Info().Msg("Worker stopped")
			return

		default:
			item, err := w.rdb.BLPop(ctx, AutosavePollTimeout, config.WorkerKey.PersistAnswersQueue).Result()
			if err != nil {
				if err != redis.Nil && ctx.Err() == nil {
					w.log.Error().Err(err).Msg("BLPop error")
				}
				continue
			}

			if len(item) < 2 {
				continue
			}

			var p answerPayload
			if err := json.Unmarshal([]byte(item[1]), &p); err != nil {
				w.log.Error().Err(err).Msg("Invalid JSON payload")
				continue
			}

			batch = append(batch, &p)
		}
	}
}

func (w *AutosaveWorker) flushSafe(ctx context.Context, batch []*answerPayload) {
	if len(batch) == 0 {
		return
	}

	if err := w.bulkMerge(ctx, batch); err != nil {
		w.log.Warn().Err(err).Msg("Bulk answer merge failed, using fallback")

		for _, p := range batch {
			if err := w.persistSingle(ctx, p); err != nil {
				w.log.Error().Err(err).Str("session_id", p.SessionID).Msg("persistSingle failed, requeueing")
				raw, _ := json.Marshal(p)
				w.rdb.RPush(ctx, config.WorkerKey.PersistAnswersQueue, raw)
			}
		}
	}
}

// bulkMerge combines the batch into one jsonb patch per session (an
// UPDATE joins each target row at most once, so two answers for the
// same session must arrive as a single patch) and applies them all in
// one UNNEST statement.
func (w *AutosaveWorker) bulkMerge(ctx context.Context, batch []*answerPayload) error {
	patches := make(map[string]model.AnswerMap)
	for _, p := range batch {
		if _, ok := patches[p.SessionID]; !ok {
			patches[p.SessionID] = model.AnswerMap{}
		}
		patches[p.SessionID][p.QuestionID] = p.Answer
	}

	sessionIDs := make([]uuid.UUID, 0, len(patches))
	patchBytes := make([][]byte, 0, len(patches))
	for sid, patch := range patches {
		id, err := uuid.Parse(sid)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(patch)
		if err != nil {
			return err
		}
		sessionIDs = append(sessionIDs, id)
		patchBytes = append(patchBytes, raw)
	}

	query := `
		UPDATE exam_sessions AS s
		SET answers = s.answers || t.patch,
		    last_activity_at = now()
		FROM (
			SELECT u.session_id, u.patch
			FROM UNNEST($1::uuid[], $2::jsonb[]) AS u (session_id, patch)
		) AS t
		WHERE s.id = t.session_id
		  AND s.status IN ('IN_PROGRESS', 'PAUSED')
	`

	_, err := w.pool.Exec(ctx, query, sessionIDs, patchBytes)
	return err
}

func (w *AutosaveWorker) persistSingle(ctx context.Context, p *answerPayload) error {
	sessionID, err := uuid.Parse(p.SessionID)
	if err != nil {
		return err
	}

	patch, err := json.Marshal(model.AnswerMap{p.QuestionID: p.Answer})
	if err != nil {
		return err
	}

	_, err = w.pool.Exec(ctx,
		`UPDATE exam_sessions
		 SET answers = answers || $1::jsonb, last_activity_at = now()
		 WHERE id = $2 AND status IN ('IN_PROGRESS', 'PAUSED')`,
		patch, sessionID,
	)
	return err
}

// drain processes all remaining items in the queue before shutdown.
func (w *AutosaveWorker) drain(ctx context.Context) {
	drained := 0
	for {
		result, err := w.rdb.LPop(ctx, config.WorkerKey.PersistAnswersQueue).Result()
		if err != nil {
			break
		}

		var payload answerPayload
		if err := json.Unmarshal([]byte(result), &payload); err != nil {
			w.log.Error().Err(err).Msg("Drain unmarshal error")
			continue
		}

		if err := w.persistSingle(ctx, &payload); err != nil {
			w.log.Error().Err(err).Msg("Drain persist error")
			w.rdb.RPush(ctx, config.WorkerKey.PersistAnswersQueue, result)
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}
