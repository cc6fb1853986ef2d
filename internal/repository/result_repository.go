package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/skolastik/skolastik-backend/internal/model"
)

const resultColumns = `id, session_id, exam_id, student_id, answers, score,
	auto_submitted, submitted_at, grading_status, manual_scores, feedbacks,
	graded_by, graded_at, notification_state`

// ResultRepository handles the append-only results table. session_id
// carries a unique constraint so concurrent finalizers can never
// produce two results for one attempt.
type ResultRepository struct {
	pool *pgxpool.Pool
}

// NewResultRepository creates a new ResultRepository.
func NewResultRepository(pool *pgxpool.Pool) *ResultRepository {
	return &ResultRepository{pool: pool}
}

func scanResult(row pgx.Row) (*model.ExamResult, error) {
	res := &model.ExamResult{}
	var answersRaw []byte
	err := row.Scan(&res.ID, &res.SessionID, &res.ExamID, &res.StudentID,
		&answersRaw, &res.Score, &res.AutoSubmitted, &res.SubmittedAt,
		&res.GradingStatus, &res.ManualScores, &res.Feedbacks,
		&res.GradedBy, &res.GradedAt, &res.NotificationState)
	if err != nil {
		return nil, err
	}
	if len(answersRaw) > 0 {
		if err := json.Unmarshal(answersRaw, &res.Answers); err != nil {
			return nil, fmt.Errorf("decode answers: %w", err)
		}
	}
	return res, nil
}

// GetBySessionID retrieves the result created for a session.
func (r *ResultRepository) GetBySessionID(ctx context.Context, sessionID uuid.UUID) (*model.ExamResult, error) {
	return scanResult(r.pool.QueryRow(ctx,
		`SELECT `+resultColumns+` FROM exam_results WHERE session_id = $1`, sessionID))
}

// GetByID retrieves a result by its own id.
func (r *ResultRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ExamResult, error) {
	return scanResult(r.pool.QueryRow(ctx,
		`SELECT `+resultColumns+` FROM exam_results WHERE id = $1`, id))
}

// ListByExam retrieves results for an exam, optionally filtered by
// student, newest first, with pagination.
func (r *ResultRepository) ListByExam(ctx context.Context, examID uuid.UUID, studentID *int, page, perPage int) ([]model.ExamResult, int64, error) {
	offset := (page - 1) * perPage

	baseQuery := ` FROM exam_results WHERE exam_id = $1`
	args := []any{examID}
	if studentID != nil {
		args = append(args, *studentID)
		baseQuery += fmt.Sprintf(" AND student_id = $%d", len(args))
	}

	var total int64
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*)"+baseQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := "SELECT " + resultColumns + baseQuery +
		fmt.Sprintf(" ORDER BY submitted_at DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, perPage, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var results []model.ExamResult
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, 0, err
		}
		results = append(results, *res)
	}
	return results, total, rows.Err()
}

// UpdateManualGrade applies proctor grading fields to a result and
// marks it GRADED.
func (r *ResultRepository) UpdateManualGrade(ctx context.Context, id uuid.UUID, score *float64, manualScores, feedbacks json.RawMessage, gradedBy int) (*model.ExamResult, error) {
	return scanResult(r.pool.QueryRow(ctx,
		`UPDATE exam_results
		 SET score = COALESCE($1, score),
		     manual_scores = COALESCE($2, manual_scores),
		     feedbacks = COALESCE($3, feedbacks),
		     graded_by = $4,
		     graded_at = now(),
		     grading_status = $5
		 WHERE id = $6
		 RETURNING `+resultColumns,
		score, manualScores, feedbacks, gradedBy, model.GradingStatusGraded, id))
}

// MarkDelivered advances the result's notification lifecycle once the
// client has shown the grade dialog, so reloads never re-trigger it.
func (r *ResultRepository) MarkDelivered(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE exam_results
		 SET notification_state = $1
		 WHERE id = $2 AND notification_state = $3`,
		model.NotificationStateDelivered, id, model.NotificationStatePending)
	return err
}
