package service

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	mrand "math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/skolastik/skolastik-backend/internal/model"
	"github.com/skolastik/skolastik-backend/internal/scoring"
	"github.com/skolastik/skolastik-backend/internal/shuffle"
	"github.com/skolastik/skolastik-backend/internal/timeauth"
	"golang.org/x/crypto/bcrypt"
)

// Domain errors
var (
	ErrSessionAlreadyActive = errors.New("an active session already exists, resume it instead")
	ErrSessionNotFound      = errors.New("session not found")
	ErrSessionNotActive     = errors.New("session is not in progress")
	ErrInvalidPauseCode     = errors.New("invalid or already used pause code")
	ErrRetakeNotAllowed     = errors.New("a completed attempt already exists for this exam")
)

const (
	// finalizeRetries bounds how long a losing finalizer waits for the
	// winner's result row to become visible.
	finalizeRetries    = 5
	finalizeRetryDelay = 100 * time.Millisecond

	// storageRetries bounds transient-failure retries on writes.
	storageRetries    = 3
	storageRetryDelay = 200 * time.Millisecond

	pauseCodeDigits = 6
)

// SessionStore is the persistence surface the session manager needs.
// *repository.SessionRepository implements it.
type SessionStore interface {
	Create(ctx context.Context, s *model.ExamSession) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.ExamSession, error)
	GetActive(ctx context.Context, examID uuid.UUID, studentID int) (*model.ExamSession, error)
	ReplaceAnswers(ctx context.Context, sessionID uuid.UUID, answers model.AnswerMap) error
	FinalizeIntoResult(ctx context.Context, terminal model.SessionStatus, res *model.ExamResult) (bool, error)
	Pause(ctx context.Context, sessionID uuid.UUID, codeHash string, pausedAt time.Time) (bool, error)
	ResumeFromPause(ctx context.Context, sessionID uuid.UUID, newExpiresAt time.Time) (bool, error)
	ListOverdue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
}

// ResultStore is the result persistence surface the session manager
// needs. *repository.ResultRepository implements it.
type ResultStore interface {
	GetBySessionID(ctx context.Context, sessionID uuid.UUID) (*model.ExamResult, error)
	ListByExam(ctx context.Context, examID uuid.UUID, studentID *int, page, perPage int) ([]model.ExamResult, int64, error)
}

// ExamStore is the exam-definition surface the session manager needs.
// *repository.ExamRepository implements it.
type ExamStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error)
	ListQuestions(ctx context.Context, examID uuid.UUID) ([]model.Question, error)
}

// SessionService owns the attempt state machine: start, resume,
// incremental answers, pause/resume and exactly-once finalization.
type SessionService struct {
	sessions SessionStore
	results  ResultStore
	exams    ExamStore
	cache    AnswerCache
	clock    timeauth.Clock
	log      zerolog.Logger

	mu  sync.Mutex
	rng *mrand.Rand
}

// NewSessionService creates a new SessionService.
func NewSessionService(
	sessions SessionStore,
	results ResultStore,
	exams ExamStore,
	cache AnswerCache,
	clock timeauth.Clock,
	log zerolog.Logger,
) *SessionService {
	return &SessionService{
		sessions: sessions,
		results:  results,
		exams:    exams,
		cache:    cache,
		clock:    clock,
		log:      log.With().Str("component", "session_service").Logger(),
		rng:      mrand.New(mrand.NewSource(time.Now().UnixNano())),
	}
}

// Start creates a new attempt. It fails with ErrSessionAlreadyActive
// when an active session exists for this (exam, student): the existing
// attempt must be resumed, never recreated, or its permutations and
// answers would be lost.
func (s *SessionService) Start(ctx context.Context, examID uuid.UUID, studentID int) (*model.ExamSession, error) {
	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrExamNotAvailable
		}
		// A storage failure is not "exam does not exist"; let it
		// surface as retryable.
		return nil, fmt.Errorf("get exam: %w", err)
	}
	if exam.Status != model.ExamStatusPublished {
		return nil, ErrExamNotAvailable
	}

	if _, err := s.sessions.GetActive(ctx, examID, studentID); err == nil {
		return nil, ErrSessionAlreadyActive
	} else if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("check existing session: %w", err)
	}

	if !exam.AllowRetake {
		_, total, err := s.results.ListByExam(ctx, examID, &studentID, 1, 1)
		if err != nil {
			return nil, fmt.Errorf("check prior attempts: %w", err)
		}
		if total > 0 {
			return nil, ErrRetakeNotAllowed
		}
	}

	// Fail closed: no trusted clock, no session.
	now, err := s.clock.Now(ctx)
	if err != nil {
		return nil, err
	}

	expiresAt := timeauth.ComputeExpiry(now, exam.DurationMinutes)
	if exam.Deadline != nil && exam.Deadline.Before(expiresAt) {
		expiresAt = *exam.Deadline
	}

	questions, err := s.exams.ListQuestions(ctx, examID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	if len(questions) == 0 {
		return nil, ErrNoQuestions
	}

	// Randomness is consumed here, exactly once per attempt. Every
	// later read replays the arrays persisted on the session row.
	s.mu.Lock()
	orders := shuffle.ForExam(exam, questions, s.rng)
	s.mu.Unlock()

	sess := &model.ExamSession{
		ExamID:        examID,
		StudentID:     studentID,
		StartedAt:     now,
		ExpiresAt:     expiresAt,
		Status:        model.SessionStatusInProgress,
		Answers:       model.AnswerMap{},
		QuestionOrder: orders.QuestionOrder,
		AnswerOrders:  orders.AnswerOrders,
	}

	if err := s.sessions.Create(ctx, sess); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Lost a concurrent start for the same pair.
			return nil, ErrSessionAlreadyActive
		}
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.log.Info().
		Str("session_id", sess.ID.String()).
		Str("exam_id", examID.String()).
		Int("student_id", studentID).
		Time("expires_at", expiresAt).
		Msg("Session started")

	return sess, nil
}

// Resume returns the active session's state for redisplay: persisted
// orderings, autosaved answers, remaining seconds. If the deadline has
// already passed it finalizes first (with the latest autosaved
// answers, never an empty set) and returns the result instead.
func (s *SessionService) Resume(ctx context.Context, examID uuid.UUID, studentID int) (*model.SessionState, *model.ExamResult, error) {
	sess, err := s.sessions.GetActive(ctx, examID, studentID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrSessionNotFound
		}
		return nil, nil, fmt.Errorf("get active session: %w", err)
	}

	now, err := s.clock.Now(ctx)
	if err != nil {
		return nil, nil, err
	}

	// A paused session's clock is frozen at paused_at.
	effectiveNow := now
	if sess.Status == model.SessionStatusPaused && sess.PausedAt != nil {
		effectiveNow = *sess.PausedAt
	}
	remaining := timeauth.Remaining(sess.ExpiresAt, effectiveNow)

	if remaining <= 0 && sess.Status == model.SessionStatusInProgress {
		res, err := s.Finalize(ctx, sess.ID, nil, true)
		if err != nil {
			return nil, nil, err
		}
		return nil, res, nil
	}

	return &model.SessionState{
		SessionID:        sess.ID,
		ExamID:           sess.ExamID,
		StudentID:        sess.StudentID,
		Status:           sess.Status,
		QuestionOrder:    sess.QuestionOrder,
		AnswerOrders:     sess.AnswerOrders,
		AutosavedAnswers: s.latestAnswers(ctx, sess),
		RemainingSeconds: remaining.Seconds(),
	}, nil, nil
}

// GetByID fetches a session row.
func (s *SessionService) GetByID(ctx context.Context, sessionID uuid.UUID) (*model.ExamSession, error) {
	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return sess, nil
}

// RecordAnswer stores one answer. It lands in the cache immediately
// and is queued for write-behind persistence; status never changes.
// Values arriving after the deadline but before finalization are still
// accepted; the authoritative finalize reads the latest saved set.
func (s *SessionService) RecordAnswer(ctx context.Context, sessionID uuid.UUID, questionID string, value json.RawMessage) error {
	if err := s.cache.SaveAnswer(ctx, sessionID.String(), questionID, value); err != nil {
		return fmt.Errorf("cache answer: %w", err)
	}

	payload, err := json.Marshal(persistAnswerPayload{
		SessionID:  sessionID.String(),
		QuestionID: questionID,
		Answer:     value,
	})
	if err != nil {
		return err
	}
	if err := s.cache.EnqueuePersist(ctx, payload); err != nil {
		return fmt.Errorf("enqueue persist: %w", err)
	}
	return nil
}

// persistAnswerPayload is the write-behind queue item consumed by the
// autosave worker.
type persistAnswerPayload struct {
	SessionID  string          `json:"session_id"`
	QuestionID string          `json:"question_id"`
	Answer     json.RawMessage `json:"answer"`
}

// Autosave bulk-writes the full current answer map. Idempotent,
// last-write-wins; the repository guard makes it a no-op once the
// session reached a terminal state.
func (s *SessionService) Autosave(ctx context.Context, sessionID uuid.UUID, answers model.AnswerMap) error {
	if err := s.cache.SaveAll(ctx, sessionID.String(), answers); err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Autosave cache write failed")
	}
	return s.withRetry(ctx, "autosave", func() error {
		return s.sessions.ReplaceAnswers(ctx, sessionID, answers)
	})
}

// Finalize scores the attempt and transitions the session to a
// terminal state, creating exactly one result. Safe to call multiple
// times and from racing callers: losers observe the winner's result,
// same id and score. extra answers (from a manual submit payload) are
// merged over the latest autosaved set.
func (s *SessionService) Finalize(ctx context.Context, sessionID uuid.UUID, extra model.AnswerMap, autoSubmitted bool) (*model.ExamResult, error) {
	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}

	if sess.Status.IsTerminal() {
		return s.awaitResult(ctx, sessionID)
	}

	answers := s.latestAnswers(ctx, sess)
	for qid, v := range extra {
		answers[qid] = v
	}

	questions, err := s.exams.ListQuestions(ctx, sess.ExamID)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}

	summary := scoring.Grade(questions, answers)

	terminal := model.SessionStatusCompleted
	if autoSubmitted {
		terminal = model.SessionStatusExpired
	}

	res := &model.ExamResult{
		SessionID:         sess.ID,
		ExamID:            sess.ExamID,
		StudentID:         sess.StudentID,
		Answers:           answers,
		Score:             summary.Score,
		AutoSubmitted:     autoSubmitted,
		GradingStatus:     model.GradingStatusAuto,
		NotificationState: model.NotificationStatePending,
	}

	var claimed bool
	err = s.withRetry(ctx, "finalize", func() error {
		var ferr error
		claimed, ferr = s.sessions.FinalizeIntoResult(ctx, terminal, res)
		return ferr
	})
	if err != nil {
		return nil, fmt.Errorf("finalize session: %w", err)
	}

	if !claimed {
		// A concurrent finalizer won; surface its result.
		return s.awaitResult(ctx, sessionID)
	}

	if err := s.cache.Clear(ctx, sessionID.String()); err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Clear answer cache failed")
	}
	s.publishResult(ctx, res)

	s.log.Info().
		Str("session_id", sess.ID.String()).
		Float64("score", summary.Score).
		Bool("auto_submitted", autoSubmitted).
		Msg("Session finalized")

	return res, nil
}

// awaitResult reads the result created by a concurrent finalizer. The
// winner's transaction may not have committed yet, so a few short
// retries cover the visibility window.
func (s *SessionService) awaitResult(ctx context.Context, sessionID uuid.UUID) (*model.ExamResult, error) {
	var lastErr error
	for i := 0; i < finalizeRetries; i++ {
		res, err := s.results.GetBySessionID(ctx, sessionID)
		if err == nil {
			return res, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(finalizeRetryDelay):
		}
	}
	return nil, fmt.Errorf("result not visible after finalize race: %w", lastErr)
}

// latestAnswers merges the cache snapshot over the persisted map; the
// cache is fresher when both disagree. A cache failure degrades to the
// persisted answers rather than losing the attempt.
func (s *SessionService) latestAnswers(ctx context.Context, sess *model.ExamSession) model.AnswerMap {
	merged := make(model.AnswerMap, len(sess.Answers))
	for qid, v := range sess.Answers {
		merged[qid] = v
	}

	cached, err := s.cache.Answers(ctx, sess.ID.String())
	if err != nil {
		s.log.Warn().Err(err).Str("session_id", sess.ID.String()).Msg("Answer cache read failed, using persisted answers")
		return merged
	}
	for qid, v := range cached {
		merged[qid] = v
	}
	return merged
}

// Pause suspends an in-progress session under proctor supervision and
// returns the plain one-time resume code. Only its bcrypt hash is stored.
func (s *SessionService) Pause(ctx context.Context, sessionID uuid.UUID, bcryptCost int) (string, error) {
	code, err := generatePauseCode()
	if err != nil {
		return "", fmt.Errorf("generate pause code: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash pause code: %w", err)
	}

	now, err := s.clock.Now(ctx)
	if err != nil {
		return "", err
	}

	paused, err := s.sessions.Pause(ctx, sessionID, string(hash), now)
	if err != nil {
		return "", fmt.Errorf("pause session: %w", err)
	}
	if !paused {
		return "", ErrSessionNotActive
	}

	s.log.Info().Str("session_id", sessionID.String()).Msg("Session paused")
	return code, nil
}

// ResumeWithCode resumes a paused session when the correct unused code
// is presented. The expiry shifts forward by the paused duration so
// total working time is preserved; a code that matched once is marked
// used and never accepted again.
func (s *SessionService) ResumeWithCode(ctx context.Context, sessionID uuid.UUID, code string) (*model.ExamSession, error) {
	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	if sess.Status != model.SessionStatusPaused || sess.PausedAt == nil ||
		sess.PauseCodeHash == nil || sess.PauseCodeUsed {
		return nil, ErrInvalidPauseCode
	}
	if bcrypt.CompareHashAndPassword([]byte(*sess.PauseCodeHash), []byte(code)) != nil {
		return nil, ErrInvalidPauseCode
	}

	now, err := s.clock.Now(ctx)
	if err != nil {
		return nil, err
	}

	pausedFor := now.Sub(*sess.PausedAt)
	if pausedFor < 0 {
		pausedFor = 0
	}
	newExpiry := sess.ExpiresAt.Add(pausedFor)

	resumed, err := s.sessions.ResumeFromPause(ctx, sessionID, newExpiry)
	if err != nil {
		return nil, fmt.Errorf("resume session: %w", err)
	}
	if !resumed {
		return nil, ErrInvalidPauseCode
	}

	s.log.Info().
		Str("session_id", sessionID.String()).
		Dur("paused_for", pausedFor).
		Msg("Session resumed from pause")

	return s.sessions.GetByID(ctx, sessionID)
}

// TryAttach claims the single-client stream lock for a session. The
// lock is leased: the holder must keep refreshing it or it lapses and
// another client may attach.
func (s *SessionService) TryAttach(ctx context.Context, sessionID uuid.UUID, ttl time.Duration) (bool, error) {
	return s.cache.TryAttach(ctx, sessionID.String(), ttl)
}

// RefreshAttach extends the stream lock lease.
func (s *SessionService) RefreshAttach(ctx context.Context, sessionID uuid.UUID, ttl time.Duration) {
	if err := s.cache.RefreshAttach(ctx, sessionID.String(), ttl); err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Attach lease refresh failed")
	}
}

// Detach releases the stream lock.
func (s *SessionService) Detach(ctx context.Context, sessionID uuid.UUID) {
	if err := s.cache.Detach(ctx, sessionID.String()); err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Detach failed")
	}
}

// RemainingFor reports how much working time a session has left, and
// its current status. A paused session reports the time frozen at the
// moment it was paused.
func (s *SessionService) RemainingFor(ctx context.Context, sessionID uuid.UUID) (time.Duration, model.SessionStatus, error) {
	sess, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, "", ErrSessionNotFound
		}
		return 0, "", err
	}

	now, err := s.clock.Now(ctx)
	if err != nil {
		return 0, "", err
	}
	if sess.Status == model.SessionStatusPaused && sess.PausedAt != nil {
		now = *sess.PausedAt
	}
	return timeauth.Remaining(sess.ExpiresAt, now), sess.Status, nil
}

// SweepOverdue finalizes sessions whose deadline passed with no client
// attached, so no attempt dangles forever. Returns how many were swept.
func (s *SessionService) SweepOverdue(ctx context.Context, limit int) (int, error) {
	now, err := s.clock.Now(ctx)
	if err != nil {
		return 0, err
	}

	ids, err := s.sessions.ListOverdue(ctx, now, limit)
	if err != nil {
		return 0, fmt.Errorf("list overdue: %w", err)
	}

	swept := 0
	for _, id := range ids {
		if _, err := s.Finalize(ctx, id, nil, true); err != nil {
			s.log.Error().Err(err).Str("session_id", id.String()).Msg("Sweep finalize failed")
			continue
		}
		swept++
	}
	return swept, nil
}

// ListResults returns finalized results for reporting.
func (s *SessionService) ListResults(ctx context.Context, examID uuid.UUID, studentID *int, page, perPage int) ([]model.ExamResult, int64, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 20
	}
	if perPage > 100 {
		perPage = 100
	}
	return s.results.ListByExam(ctx, examID, studentID, page, perPage)
}

// ResultEvent is published on the exam's result channel for live
// proctoring views. Optional: the engine is correct without any
// subscriber.
type ResultEvent struct {
	SessionID     string  `json:"session_id"`
	ExamID        string  `json:"exam_id"`
	StudentID     int     `json:"student_id"`
	Score         float64 `json:"score"`
	AutoSubmitted bool    `json:"auto_submitted"`
}

func (s *SessionService) publishResult(ctx context.Context, res *model.ExamResult) {
	raw, err := json.Marshal(ResultEvent{
		SessionID:     res.SessionID.String(),
		ExamID:        res.ExamID.String(),
		StudentID:     res.StudentID,
		Score:         res.Score,
		AutoSubmitted: res.AutoSubmitted,
	})
	if err != nil {
		return
	}
	if err := s.cache.PublishResult(ctx, res.ExamID.String(), raw); err != nil {
		s.log.Warn().Err(err).Msg("Publish result event failed")
	}
}

// withRetry applies bounded retries with a flat delay to transient
// storage failures. Business-rule failures surface immediately since
// they are returned by value, not by error, from the store methods.
func (s *SessionService) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt < storageRetries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		s.log.Warn().Err(err).Str("op", op).Int("attempt", attempt+1).Msg("Storage write failed, retrying")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(storageRetryDelay * time.Duration(attempt+1)):
		}
	}
	return err
}

// generatePauseCode produces a zero-padded numeric code from crypto/rand.
func generatePauseCode() (string, error) {
	max := big.NewInt(1)
	for i := 0; i < pauseCodeDigits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", pauseCodeDigits, n), nil
}
