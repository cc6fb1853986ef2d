package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/skolastik/skolastik-backend/internal/model"
)

// ExamRepository reads exam definitions. The session engine never
// writes them; authoring is an external concern.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

// GetByID retrieves an exam by its UUID.
func (r *ExamRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	e := &model.Exam{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, duration_minutes, deadline, randomize_questions,
		        randomize_answers, allow_retake, status, created_at, updated_at
		 FROM exams
		 WHERE id = $1`, id,
	).Scan(&e.ID, &e.Title, &e.DurationMinutes, &e.Deadline, &e.RandomizeQuestions,
		&e.RandomizeAnswers, &e.AllowRetake, &e.Status, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// ListPublished retrieves all published exams, used to prewarm the
// payload cache at startup.
func (r *ExamRepository) ListPublished(ctx context.Context) ([]model.Exam, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, title, duration_minutes, deadline, randomize_questions,
		        randomize_answers, allow_retake, status, created_at, updated_at
		 FROM exams
		 WHERE status = $1`, model.ExamStatusPublished,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var exams []model.Exam
	for rows.Next() {
		var e model.Exam
		if err := rows.Scan(&e.ID, &e.Title, &e.DurationMinutes, &e.Deadline,
			&e.RandomizeQuestions, &e.RandomizeAnswers, &e.AllowRetake,
			&e.Status, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}
		exams = append(exams, e)
	}
	return exams, rows.Err()
}

// ListQuestions retrieves an exam's questions in authored order.
// Options and pairs are stored as jsonb and decoded here.
func (r *ExamRepository) ListQuestions(ctx context.Context, examID uuid.UUID) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, exam_id, prompt, question_type, points, partial_scoring,
		        options, pairs, order_num
		 FROM questions
		 WHERE exam_id = $1
		 ORDER BY order_num ASC`, examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var q model.Question
		var optionsRaw, pairsRaw []byte
		if err := rows.Scan(&q.ID, &q.ExamID, &q.Prompt, &q.Type, &q.Points,
			&q.PartialScoring, &optionsRaw, &pairsRaw, &q.OrderNum); err != nil {
			return nil, err
		}
		if len(optionsRaw) > 0 {
			if err := json.Unmarshal(optionsRaw, &q.Options); err != nil {
				return nil, fmt.Errorf("decode options for question %s: %w", q.ID, err)
			}
		}
		if len(pairsRaw) > 0 {
			if err := json.Unmarshal(pairsRaw, &q.Pairs); err != nil {
				return nil, fmt.Errorf("decode pairs for question %s: %w", q.ID, err)
			}
		}
		questions = append(questions, q)
	}
	return questions, rows.Err()
}
