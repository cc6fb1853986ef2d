package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/skolastik/skolastik-backend/internal/model"
	"github.com/skolastik/skolastik-backend/internal/repository"
)

var ErrResultNotFound = errors.New("result not found")

// ResultService covers the post-finalization surface: manual grading
// and the notification lifecycle. Score computation itself happens
// during finalization and is never repeated here.
type ResultService struct {
	results *repository.ResultRepository
	log     zerolog.Logger
}

// NewResultService creates a new ResultService.
func NewResultService(results *repository.ResultRepository, log zerolog.Logger) *ResultService {
	return &ResultService{
		results: results,
		log:     log.With().Str("component", "result_service").Logger(),
	}
}

// GetByID fetches a single result.
func (s *ResultService) GetByID(ctx context.Context, id uuid.UUID) (*model.ExamResult, error) {
	res, err := s.results.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrResultNotFound
		}
		return nil, err
	}
	return res, nil
}

// ApplyManualGrade overrides grading fields on a result and marks it
// GRADED. Omitted fields keep their current values.
func (s *ResultService) ApplyManualGrade(ctx context.Context, id uuid.UUID, req *model.ManualGradeRequest, gradedBy int) (*model.ExamResult, error) {
	res, err := s.results.UpdateManualGrade(ctx, id, req.Score, req.ManualScores, req.Feedbacks, gradedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrResultNotFound
		}
		return nil, fmt.Errorf("update manual grade: %w", err)
	}

	s.log.Info().
		Str("result_id", id.String()).
		Int("graded_by", gradedBy).
		Msg("Manual grade applied")

	return res, nil
}

// AcknowledgeNotification marks a result's grade dialog as shown.
// Idempotent: only a PENDING result transitions.
func (s *ResultService) AcknowledgeNotification(ctx context.Context, id uuid.UUID, studentID int) error {
	res, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if res.StudentID != studentID {
		return ErrResultNotFound
	}
	return s.results.MarkDelivered(ctx, id)
}
