package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/skolastik/skolastik-backend/internal/model"
)

const sessionColumns = `id, exam_id, student_id, started_at, expires_at, status,
	answers, question_order, answer_orders, pause_code_hash, pause_code_used,
	paused_at, last_activity_at`

// SessionRepository handles exam session data access. A partial unique
// index on (exam_id, student_id) WHERE status IN ('IN_PROGRESS','PAUSED')
// backs the single-active-session invariant.
type SessionRepository struct {
	pool *pgxpool.Pool
}

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(pool *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{pool: pool}
}

func scanSession(row pgx.Row) (*model.ExamSession, error) {
	s := &model.ExamSession{}
	var answersRaw, orderRaw, answerOrdersRaw []byte
	err := row.Scan(&s.ID, &s.ExamID, &s.StudentID, &s.StartedAt, &s.ExpiresAt,
		&s.Status, &answersRaw, &orderRaw, &answerOrdersRaw, &s.PauseCodeHash,
		&s.PauseCodeUsed, &s.PausedAt, &s.LastActivityAt)
	if err != nil {
		return nil, err
	}
	if len(answersRaw) > 0 {
		if err := json.Unmarshal(answersRaw, &s.Answers); err != nil {
			return nil, fmt.Errorf("decode answers: %w", err)
		}
	}
	if s.Answers == nil {
		s.Answers = model.AnswerMap{}
	}
	if len(orderRaw) > 0 {
		if err := json.Unmarshal(orderRaw, &s.QuestionOrder); err != nil {
			return nil, fmt.Errorf("decode question order: %w", err)
		}
	}
	if len(answerOrdersRaw) > 0 {
		if err := json.Unmarshal(answerOrdersRaw, &s.AnswerOrders); err != nil {
			return nil, fmt.Errorf("decode answer orders: %w", err)
		}
	}
	return s, nil
}

// Create inserts a new session in IN_PROGRESS with its permutations
// already computed. The partial unique index makes a concurrent start
// for the same (exam, student) lose with pgx.ErrNoRows, in which case
// the caller fetches the winner's row instead.
func (r *SessionRepository) Create(ctx context.Context, s *model.ExamSession) error {
	orderRaw, _ := json.Marshal(s.QuestionOrder)
	answerOrdersRaw, _ := json.Marshal(s.AnswerOrders)

	return r.pool.QueryRow(ctx,
		`INSERT INTO exam_sessions
		   (exam_id, student_id, started_at, expires_at, status,
		    answers, question_order, answer_orders, last_activity_at)
		 VALUES ($1, $2, $3, $4, $5, '{}'::jsonb, $6, $7, $3)
		 ON CONFLICT (exam_id, student_id)
		   WHERE status IN ('IN_PROGRESS', 'PAUSED')
		 DO NOTHING
		 RETURNING id`,
		s.ExamID, s.StudentID, s.StartedAt, s.ExpiresAt,
		model.SessionStatusInProgress, orderRaw, answerOrdersRaw,
	).Scan(&s.ID)
}

// GetByID retrieves a session by id.
func (r *SessionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ExamSession, error) {
	return scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM exam_sessions WHERE id = $1`, id))
}

// GetActive retrieves the IN_PROGRESS or PAUSED session for an
// (exam, student) pair, if one exists.
func (r *SessionRepository) GetActive(ctx context.Context, examID uuid.UUID, studentID int) (*model.ExamSession, error) {
	return scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+`
		 FROM exam_sessions
		 WHERE exam_id = $1 AND student_id = $2
		   AND status IN ('IN_PROGRESS', 'PAUSED')`, examID, studentID))
}

// ReplaceAnswers writes the full answer map (bulk autosave,
// last-write-wins), guarded against terminal sessions.
func (r *SessionRepository) ReplaceAnswers(ctx context.Context, sessionID uuid.UUID, answers model.AnswerMap) error {
	raw, err := json.Marshal(answers)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx,
		`UPDATE exam_sessions
		 SET answers = $1::jsonb, last_activity_at = now()
		 WHERE id = $2 AND status IN ('IN_PROGRESS', 'PAUSED')`,
		raw, sessionID)
	return err
}

// FinalizeIntoResult atomically transitions an active session to the
// given terminal status and creates its result row. Exactly one of any
// number of concurrent finalizers wins the claiming UPDATE; the rest
// get claimed=false and must read the winner's result. On success the
// result's ID and SubmittedAt are filled in.
func (r *SessionRepository) FinalizeIntoResult(ctx context.Context, terminal model.SessionStatus, res *model.ExamResult) (bool, error) {
	answersRaw, err := json.Marshal(res.Answers)
	if err != nil {
		return false, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		`UPDATE exam_sessions
		 SET status = $1, answers = $2::jsonb, last_activity_at = now()
		 WHERE id = $3 AND status IN ('IN_PROGRESS', 'PAUSED')`,
		terminal, answersRaw, res.SessionID)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO exam_results
		   (session_id, exam_id, student_id, answers, score, auto_submitted,
		    grading_status, notification_state)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id, submitted_at`,
		res.SessionID, res.ExamID, res.StudentID, answersRaw, res.Score,
		res.AutoSubmitted, res.GradingStatus, res.NotificationState,
	).Scan(&res.ID, &res.SubmittedAt)
	if err != nil {
		return false, err
	}

	return true, tx.Commit(ctx)
}

// Pause moves an IN_PROGRESS session to PAUSED and stores the bcrypt
// hash of the one-time resume code.
func (r *SessionRepository) Pause(ctx context.Context, sessionID uuid.UUID, codeHash string, pausedAt time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE exam_sessions
		 SET status = $1, pause_code_hash = $2, pause_code_used = FALSE,
		     paused_at = $3, last_activity_at = now()
		 WHERE id = $4 AND status = $5`,
		model.SessionStatusPaused, codeHash, pausedAt,
		sessionID, model.SessionStatusInProgress)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ResumeFromPause moves a PAUSED session back to IN_PROGRESS, marks
// the code used and pushes the expiry forward by the paused duration.
func (r *SessionRepository) ResumeFromPause(ctx context.Context, sessionID uuid.UUID, newExpiresAt time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE exam_sessions
		 SET status = $1, expires_at = $2, pause_code_used = TRUE,
		     paused_at = NULL, last_activity_at = now()
		 WHERE id = $3 AND status = $4`,
		model.SessionStatusInProgress, newExpiresAt,
		sessionID, model.SessionStatusPaused)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListOverdue returns ids of active sessions whose deadline has passed,
// for the background sweep. PAUSED sessions are included only when the
// exam's absolute deadline (if any) has passed as well, since a pause
// freezes the per-attempt clock.
func (r *SessionRepository) ListOverdue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT s.id
		 FROM exam_sessions s
		 LEFT JOIN exams e ON e.id = s.exam_id
		 WHERE (s.status = 'IN_PROGRESS' AND s.expires_at < $1)
		    OR (s.status = 'PAUSED' AND e.deadline IS NOT NULL AND e.deadline < $1)
		 ORDER BY s.expires_at ASC
		 LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
