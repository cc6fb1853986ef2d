package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sort"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/skolastik/skolastik-backend/internal/config"
	"github.com/skolastik/skolastik-backend/internal/model"
	"github.com/skolastik/skolastik-backend/internal/repository"
	"github.com/skolastik/skolastik-backend/internal/shuffle"
)

// Domain errors
var (
	ErrExamNotAvailable = errors.New("exam is not available")
	ErrNoQuestions      = errors.New("exam has no questions")
)

// ExamService serves exam definitions and the redacted student
// payload, cached in Redis so the exam-taking hot path skips PostgreSQL.
type ExamService struct {
	examRepo *repository.ExamRepository
	rdb      *redis.Client
	log      zerolog.Logger
}

// NewExamService creates a new ExamService.
func NewExamService(examRepo *repository.ExamRepository, rdb *redis.Client, log zerolog.Logger) *ExamService {
	return &ExamService{
		examRepo: examRepo,
		rdb:      rdb,
		log:      log.With().Str("component", "exam_service").Logger(),
	}
}

// GetByID retrieves an exam by its UUID.
func (s *ExamService) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	return s.examRepo.GetByID(ctx, id)
}

// ListQuestions retrieves the full question definitions (answer keys
// included). Only the scoring path and payload builder may see these.
func (s *ExamService) ListQuestions(ctx context.Context, examID uuid.UUID) ([]model.Question, error) {
	return s.examRepo.ListQuestions(ctx, examID)
}

// buildPayload redacts the questions into the student-facing payload,
// in authored order. Per-session reordering happens in PayloadForSession.
func buildPayload(exam *model.Exam, questions []model.Question) *model.ExamPayload {
	payload := &model.ExamPayload{
		ExamID:    exam.ID,
		Title:     exam.Title,
		Duration:  exam.DurationMinutes,
		Questions: make([]model.QuestionForStudent, 0, len(questions)),
	}
	for i := range questions {
		q := &questions[i]
		qs := model.QuestionForStudent{
			ID:     q.ID,
			Prompt: q.Prompt,
			Type:   q.Type,
			Points: q.EffectivePoints(),
		}
		for _, o := range q.Options {
			qs.Options = append(qs.Options, model.OptionDisplay{ID: o.ID, Text: o.Text})
		}
		for _, p := range q.Pairs {
			qs.Pairs = append(qs.Pairs, model.PairDisplay{ID: p.ID, Left: p.Left})
			qs.RightSidePool = append(qs.RightSidePool, p.Right)
		}
		// Sort the pool so the cached payload never encodes the
		// canonical pairing by position. Sessions reshuffle it for display.
		sort.Strings(qs.RightSidePool)
		payload.Questions = append(payload.Questions, qs)
	}
	return payload
}

// WarmExamCache builds and stores the redacted payload for one exam.
func (s *ExamService) WarmExamCache(ctx context.Context, exam *model.Exam) error {
	questions, err := s.examRepo.ListQuestions(ctx, exam.ID)
	if err != nil {
		return fmt.Errorf("list questions: %w", err)
	}
	if len(questions) == 0 {
		return ErrNoQuestions
	}

	raw, err := json.Marshal(buildPayload(exam, questions))
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	key := config.CacheKey.ExamPayloadKey(exam.ID.String())
	if err := s.rdb.Set(ctx, key, raw, 0).Err(); err != nil {
		return fmt.Errorf("cache payload: %w", err)
	}
	return nil
}

// PrewarmAllCaches loads every published exam's payload into Redis.
// Run before accepting traffic so a thundering herd never races the
// lazy fill.
func (s *ExamService) PrewarmAllCaches(ctx context.Context) error {
	exams, err := s.examRepo.ListPublished(ctx)
	if err != nil {
		return fmt.Errorf("list published: %w", err)
	}
	for i := range exams {
		if err := s.WarmExamCache(ctx, &exams[i]); err != nil {
			s.log.Warn().Err(err).Str("exam_id", exams[i].ID.String()).Msg("Prewarm skipped exam")
			continue
		}
	}
	s.log.Info().Int("count", len(exams)).Msg("Exam payload cache prewarmed")
	return nil
}

// GetExamPayload reads the cached payload, falling back to PostgreSQL
// and self-healing the cache on a miss.
func (s *ExamService) GetExamPayload(ctx context.Context, examID uuid.UUID) (*model.ExamPayload, error) {
	key := config.CacheKey.ExamPayloadKey(examID.String())

	raw, err := s.rdb.Get(ctx, key).Result()
	if err == nil {
		payload := &model.ExamPayload{}
		if err := json.Unmarshal([]byte(raw), payload); err == nil {
			return payload, nil
		}
		// Corrupt cache entry: rebuild below.
	} else if err != redis.Nil {
		return nil, fmt.Errorf("redis error getting payload: %w", err)
	}

	exam, err := s.examRepo.GetByID(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("exam not found in cache or db: %w", err)
	}
	if exam.Status != model.ExamStatusPublished {
		return nil, ErrExamNotAvailable
	}
	if err := s.WarmExamCache(ctx, exam); err != nil {
		return nil, err
	}

	questions, err := s.examRepo.ListQuestions(ctx, examID)
	if err != nil {
		return nil, err
	}
	return buildPayload(exam, questions), nil
}

// PayloadForSession reorders a payload to the session's persisted
// permutations. The stored order arrays are replayed verbatim;
// nothing here consumes randomness except the matching display pool,
// which is derived from the session id so it stays stable across
// reloads without being persisted.
func PayloadForSession(payload *model.ExamPayload, sess *model.ExamSession) *model.ExamPayload {
	byID := make(map[string]*model.QuestionForStudent, len(payload.Questions))
	for i := range payload.Questions {
		byID[payload.Questions[i].ID.String()] = &payload.Questions[i]
	}

	out := &model.ExamPayload{
		ExamID:   payload.ExamID,
		Title:    payload.Title,
		Duration: payload.Duration,
	}

	for _, qid := range sess.QuestionOrder {
		src, ok := byID[qid]
		if !ok {
			continue
		}
		q := *src

		if order, ok := sess.AnswerOrders[qid]; ok && len(q.Options) > 0 {
			optByID := make(map[string]model.OptionDisplay, len(q.Options))
			for _, o := range q.Options {
				optByID[o.ID] = o
			}
			reordered := make([]model.OptionDisplay, 0, len(order))
			for _, oid := range order {
				if o, ok := optByID[oid]; ok {
					reordered = append(reordered, o)
				}
			}
			if len(reordered) == len(q.Options) {
				q.Options = reordered
			}
		}

		if q.Type == model.QuestionTypeMatching && len(q.RightSidePool) > 0 {
			q.RightSidePool = displayPool(sess.ID, qid, q.RightSidePool)
		}

		out.Questions = append(out.Questions, q)
	}
	return out
}

// displayPool shuffles the matching right-side values with a seed
// derived from (session, question) so every reload shows the same
// arrangement while different students see different ones. Display
// only: the canonical pairs are never touched.
func displayPool(sessionID uuid.UUID, questionID string, rights []string) []string {
	if len(rights) == 0 {
		return nil
	}
	seed := int64(0)
	for _, b := range sessionID[:] {
		seed = seed*31 + int64(b)
	}
	for _, b := range []byte(questionID) {
		seed = seed*31 + int64(b)
	}
	rng := rand.New(rand.NewSource(seed))
	return shuffle.IDs(rights, rng)
}
