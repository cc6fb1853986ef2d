package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/skolastik/skolastik-backend/internal/model"
	"golang.org/x/crypto/bcrypt"
)

// ─── In-memory fakes ────────────────────────────────────────────────

// fakeBackend holds sessions and results behind one mutex so the
// concurrency tests exercise real interleavings against a store whose
// claim-then-insert step is atomic, like the SQL transaction it stands
// in for.
type fakeBackend struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*model.ExamSession
	results  map[uuid.UUID]*model.ExamResult // keyed by session id
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		sessions: make(map[uuid.UUID]*model.ExamSession),
		results:  make(map[uuid.UUID]*model.ExamResult),
	}
}

func copySession(s *model.ExamSession) *model.ExamSession {
	cp := *s
	cp.Answers = make(model.AnswerMap, len(s.Answers))
	for k, v := range s.Answers {
		cp.Answers[k] = v
	}
	return &cp
}

type fakeSessionStore struct{ b *fakeBackend }

func (f *fakeSessionStore) Create(ctx context.Context, s *model.ExamSession) error {
	f.b.mu.Lock()
	defer f.b.mu.Unlock()
	for _, existing := range f.b.sessions {
		if existing.ExamID == s.ExamID && existing.StudentID == s.StudentID && existing.Status.IsActive() {
			return pgx.ErrNoRows // partial unique index: insert skipped
		}
	}
	s.ID = uuid.New()
	s.LastActivityAt = s.StartedAt
	f.b.sessions[s.ID] = copySession(s)
	return nil
}

func (f *fakeSessionStore) GetByID(ctx context.Context, id uuid.UUID) (*model.ExamSession, error) {
	f.b.mu.Lock()
	defer f.b.mu.Unlock()
	s, ok := f.b.sessions[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	return copySession(s), nil
}

func (f *fakeSessionStore) GetActive(ctx context.Context, examID uuid.UUID, studentID int) (*model.ExamSession, error) {
	f.b.mu.Lock()
	defer f.b.mu.Unlock()
	for _, s := range f.b.sessions {
		if s.ExamID == examID && s.StudentID == studentID && s.Status.IsActive() {
			return copySession(s), nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (f *fakeSessionStore) ReplaceAnswers(ctx context.Context, sessionID uuid.UUID, answers model.AnswerMap) error {
	f.b.mu.Lock()
	defer f.b.mu.Unlock()
	s, ok := f.b.sessions[sessionID]
	if !ok || !s.Status.IsActive() {
		return nil
	}
	s.Answers = make(model.AnswerMap, len(answers))
	for k, v := range answers {
		s.Answers[k] = v
	}
	return nil
}

func (f *fakeSessionStore) FinalizeIntoResult(ctx context.Context, terminal model.SessionStatus, res *model.ExamResult) (bool, error) {
	f.b.mu.Lock()
	defer f.b.mu.Unlock()
	s, ok := f.b.sessions[res.SessionID]
	if !ok || !s.Status.IsActive() {
		return false, nil
	}
	s.Status = terminal
	res.ID = uuid.New()
	res.SubmittedAt = time.Now()
	cp := *res
	f.b.results[res.SessionID] = &cp
	return true, nil
}

func (f *fakeSessionStore) Pause(ctx context.Context, sessionID uuid.UUID, codeHash string, pausedAt time.Time) (bool, error) {
	f.b.mu.Lock()
	defer f.b.mu.Unlock()
	s, ok := f.b.sessions[sessionID]
	if !ok || s.Status != model.SessionStatusInProgress {
		return false, nil
	}
	s.Status = model.SessionStatusPaused
	s.PauseCodeHash = &codeHash
	s.PauseCodeUsed = false
	t := pausedAt
	s.PausedAt = &t
	return true, nil
}

func (f *fakeSessionStore) ResumeFromPause(ctx context.Context, sessionID uuid.UUID, newExpiresAt time.Time) (bool, error) {
	f.b.mu.Lock()
	defer f.b.mu.Unlock()
	s, ok := f.b.sessions[sessionID]
	if !ok || s.Status != model.SessionStatusPaused {
		return false, nil
	}
	s.Status = model.SessionStatusInProgress
	s.ExpiresAt = newExpiresAt
	s.PauseCodeUsed = true
	s.PausedAt = nil
	return true, nil
}

func (f *fakeSessionStore) ListOverdue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	f.b.mu.Lock()
	defer f.b.mu.Unlock()
	var ids []uuid.UUID
	for id, s := range f.b.sessions {
		if s.Status == model.SessionStatusInProgress && s.ExpiresAt.Before(now) {
			ids = append(ids, id)
			if len(ids) == limit {
				break
			}
		}
	}
	return ids, nil
}

type fakeResultStore struct{ b *fakeBackend }

func (f *fakeResultStore) GetBySessionID(ctx context.Context, sessionID uuid.UUID) (*model.ExamResult, error) {
	f.b.mu.Lock()
	defer f.b.mu.Unlock()
	res, ok := f.b.results[sessionID]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *res
	return &cp, nil
}

func (f *fakeResultStore) ListByExam(ctx context.Context, examID uuid.UUID, studentID *int, page, perPage int) ([]model.ExamResult, int64, error) {
	f.b.mu.Lock()
	defer f.b.mu.Unlock()
	var out []model.ExamResult
	for _, res := range f.b.results {
		if res.ExamID != examID {
			continue
		}
		if studentID != nil && res.StudentID != *studentID {
			continue
		}
		out = append(out, *res)
	}
	return out, int64(len(out)), nil
}

type fakeExamStore struct {
	exam      *model.Exam
	questions []model.Question
	err       error
}

func (f *fakeExamStore) GetByID(ctx context.Context, id uuid.UUID) (*model.Exam, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.exam == nil || f.exam.ID != id {
		return nil, pgx.ErrNoRows
	}
	cp := *f.exam
	return &cp, nil
}

func (f *fakeExamStore) ListQuestions(ctx context.Context, examID uuid.UUID) ([]model.Question, error) {
	return f.questions, nil
}

type fakeCache struct {
	mu      sync.Mutex
	answers map[string]model.AnswerMap
	queue   [][]byte
	attach  map[string]bool
}

func newFakeCache() *fakeCache {
	return &fakeCache{
		answers: make(map[string]model.AnswerMap),
		attach:  make(map[string]bool),
	}
}

func (c *fakeCache) SaveAnswer(ctx context.Context, sessionID, questionID string, raw json.RawMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.answers[sessionID] == nil {
		c.answers[sessionID] = model.AnswerMap{}
	}
	c.answers[sessionID][questionID] = raw
	return nil
}

func (c *fakeCache) SaveAll(ctx context.Context, sessionID string, answers model.AnswerMap) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.answers[sessionID] == nil {
		c.answers[sessionID] = model.AnswerMap{}
	}
	for k, v := range answers {
		c.answers[sessionID][k] = v
	}
	return nil
}

func (c *fakeCache) Answers(ctx context.Context, sessionID string) (model.AnswerMap, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(model.AnswerMap, len(c.answers[sessionID]))
	for k, v := range c.answers[sessionID] {
		out[k] = v
	}
	return out, nil
}

func (c *fakeCache) Clear(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.answers, sessionID)
	return nil
}

func (c *fakeCache) EnqueuePersist(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = append(c.queue, payload)
	return nil
}

func (c *fakeCache) PublishResult(ctx context.Context, examID string, payload []byte) error {
	return nil
}

func (c *fakeCache) TryAttach(ctx context.Context, sessionID string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.attach[sessionID] {
		return false, nil
	}
	c.attach[sessionID] = true
	return true, nil
}

func (c *fakeCache) RefreshAttach(ctx context.Context, sessionID string, ttl time.Duration) error {
	return nil
}

func (c *fakeCache) Detach(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.attach, sessionID)
	return nil
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
	err error
}

func (c *fakeClock) Now(ctx context.Context) (time.Time, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now, c.err
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// ─── Test harness ───────────────────────────────────────────────────

type testEnv struct {
	svc     *SessionService
	backend *fakeBackend
	cache   *fakeCache
	clock   *fakeClock
	exam    *model.Exam
}

func newTestEnv(t *testing.T, mutate func(*model.Exam)) *testEnv {
	t.Helper()

	examID := uuid.New()
	exam := &model.Exam{
		ID:              examID,
		Title:           "Algebra Midterm",
		DurationMinutes: 30,
		Status:          model.ExamStatusPublished,
		AllowRetake:     true,
	}
	if mutate != nil {
		mutate(exam)
	}

	q1 := uuid.New()
	q2 := uuid.New()
	questions := []model.Question{
		{
			ID: q1, ExamID: examID, Type: model.QuestionTypeSingleChoice, Points: 10,
			Options: []model.Option{
				{ID: "a", Text: "4", IsCorrect: true},
				{ID: "b", Text: "5"},
			},
		},
		{
			ID: q2, ExamID: examID, Type: model.QuestionTypeSingleChoice, Points: 10,
			Options: []model.Option{
				{ID: "c", Text: "9"},
				{ID: "d", Text: "16", IsCorrect: true},
			},
		},
	}

	backend := newFakeBackend()
	cache := newFakeCache()
	clock := &fakeClock{now: time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)}

	svc := NewSessionService(
		&fakeSessionStore{b: backend},
		&fakeResultStore{b: backend},
		&fakeExamStore{exam: exam, questions: questions},
		cache,
		clock,
		zerolog.Nop(),
	)

	return &testEnv{svc: svc, backend: backend, cache: cache, clock: clock, exam: exam}
}

func (e *testEnv) questionID(t *testing.T, idx int) string {
	t.Helper()
	store := e.svc.exams.(*fakeExamStore)
	return store.questions[idx].ID.String()
}

// ─── Tests ──────────────────────────────────────────────────────────

func TestStart_SecondStartRejected(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	if _, err := env.svc.Start(ctx, env.exam.ID, 1); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if _, err := env.svc.Start(ctx, env.exam.ID, 1); !errors.Is(err, ErrSessionAlreadyActive) {
		t.Fatalf("second start: got %v, want ErrSessionAlreadyActive", err)
	}

	// A different student is unaffected.
	if _, err := env.svc.Start(ctx, env.exam.ID, 2); err != nil {
		t.Fatalf("other student start: %v", err)
	}
}

func TestStart_UnknownExamVsStorageFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	t.Run("missing exam", func(t *testing.T) {
		if _, err := env.svc.Start(ctx, uuid.New(), 1); !errors.Is(err, ErrExamNotAvailable) {
			t.Fatalf("got %v, want ErrExamNotAvailable", err)
		}
	})

	t.Run("storage failure is not a 404", func(t *testing.T) {
		dbErr := errors.New("connection refused")
		env.svc.exams.(*fakeExamStore).err = dbErr
		defer func() { env.svc.exams.(*fakeExamStore).err = nil }()

		_, err := env.svc.Start(ctx, env.exam.ID, 1)
		if errors.Is(err, ErrExamNotAvailable) {
			t.Fatal("transient storage failure reported as exam-not-available")
		}
		if !errors.Is(err, dbErr) {
			t.Fatalf("underlying error discarded: %v", err)
		}
	})
}

func TestStart_ClockFailureFailsClosed(t *testing.T) {
	env := newTestEnv(t, nil)
	env.clock.err = errors.New("db down")

	if _, err := env.svc.Start(context.Background(), env.exam.ID, 1); err == nil {
		t.Fatal("expected error when clock is unavailable")
	}
	if len(env.backend.sessions) != 0 {
		t.Fatalf("no session should be created, got %d", len(env.backend.sessions))
	}
}

func TestStart_RetakeNotAllowed(t *testing.T) {
	env := newTestEnv(t, func(e *model.Exam) { e.AllowRetake = false })
	ctx := context.Background()

	sess, err := env.svc.Start(ctx, env.exam.ID, 1)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := env.svc.Finalize(ctx, sess.ID, nil, false); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	if _, err := env.svc.Start(ctx, env.exam.ID, 1); !errors.Is(err, ErrRetakeNotAllowed) {
		t.Fatalf("restart after completion: got %v, want ErrRetakeNotAllowed", err)
	}
}

func TestStart_DeadlineClampsExpiry(t *testing.T) {
	deadline := time.Date(2026, 3, 9, 8, 10, 0, 0, time.UTC)
	env := newTestEnv(t, func(e *model.Exam) { e.Deadline = &deadline })

	sess, err := env.svc.Start(context.Background(), env.exam.ID, 1)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !sess.ExpiresAt.Equal(deadline) {
		t.Fatalf("expires_at = %v, want clamped to deadline %v", sess.ExpiresAt, deadline)
	}
}

func TestResume_ReplaysPersistedOrders(t *testing.T) {
	env := newTestEnv(t, func(e *model.Exam) {
		e.RandomizeQuestions = true
		e.RandomizeAnswers = true
	})
	ctx := context.Background()

	sess, err := env.svc.Start(ctx, env.exam.ID, 1)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	first, _, err := env.svc.Resume(ctx, env.exam.ID, 1)
	if err != nil {
		t.Fatalf("first resume: %v", err)
	}
	second, _, err := env.svc.Resume(ctx, env.exam.ID, 1)
	if err != nil {
		t.Fatalf("second resume: %v", err)
	}

	if len(first.QuestionOrder) != len(sess.QuestionOrder) {
		t.Fatalf("question order length %d, want %d", len(first.QuestionOrder), len(sess.QuestionOrder))
	}
	for i := range first.QuestionOrder {
		if first.QuestionOrder[i] != second.QuestionOrder[i] {
			t.Fatalf("question order changed between resumes at %d: %q vs %q",
				i, first.QuestionOrder[i], second.QuestionOrder[i])
		}
		if first.QuestionOrder[i] != sess.QuestionOrder[i] {
			t.Fatalf("resume order differs from the one persisted at start")
		}
	}
	for qid, order := range first.AnswerOrders {
		for i := range order {
			if second.AnswerOrders[qid][i] != order[i] {
				t.Fatalf("answer order for %s changed between resumes", qid)
			}
		}
	}
}

func TestResume_ExpiredFinalizesWithAutosavedAnswers(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	sess, err := env.svc.Start(ctx, env.exam.ID, 1)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// One correct autosaved answer, then the student disappears.
	if err := env.svc.RecordAnswer(ctx, sess.ID, env.questionID(t, 0), json.RawMessage(`"a"`)); err != nil {
		t.Fatalf("record answer: %v", err)
	}
	env.clock.Advance(31 * time.Minute)

	state, result, err := env.svc.Resume(ctx, env.exam.ID, 1)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if state != nil {
		t.Fatal("expected no live state after the deadline")
	}
	if result == nil {
		t.Fatal("expected a result for the expired attempt")
	}
	if !result.AutoSubmitted {
		t.Error("result should be marked auto-submitted")
	}
	if result.Score != 50 {
		t.Errorf("score = %v, want 50 (one of two questions correct)", result.Score)
	}

	stored := env.backend.sessions[sess.ID]
	if stored.Status != model.SessionStatusExpired {
		t.Errorf("session status = %s, want EXPIRED", stored.Status)
	}
}

func TestFinalize_Idempotent(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	sess, err := env.svc.Start(ctx, env.exam.ID, 1)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	answers := model.AnswerMap{
		env.questionID(t, 0): json.RawMessage(`"a"`),
		env.questionID(t, 1): json.RawMessage(`"d"`),
	}

	first, err := env.svc.Finalize(ctx, sess.ID, answers, false)
	if err != nil {
		t.Fatalf("first finalize: %v", err)
	}
	second, err := env.svc.Finalize(ctx, sess.ID, answers, false)
	if err != nil {
		t.Fatalf("second finalize: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("result ids differ: %s vs %s", first.ID, second.ID)
	}
	if first.Score != second.Score || first.Score != 100 {
		t.Errorf("scores differ or wrong: %v vs %v, want 100", first.Score, second.Score)
	}
	if len(env.backend.results) != 1 {
		t.Errorf("result rows = %d, want exactly 1", len(env.backend.results))
	}
}

func TestFinalize_ConcurrentExactlyOnce(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	sess, err := env.svc.Start(ctx, env.exam.ID, 1)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := env.svc.RecordAnswer(ctx, sess.ID, env.questionID(t, 0), json.RawMessage(`"a"`)); err != nil {
		t.Fatalf("record answer: %v", err)
	}

	// Manual submit and deadline auto-submit race.
	const callers = 8
	results := make([]*model.ExamResult, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = env.svc.Finalize(ctx, sess.ID, nil, i%2 == 0)
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i].ID != results[0].ID {
			t.Fatalf("caller %d observed result %s, caller 0 observed %s", i, results[i].ID, results[0].ID)
		}
		if results[i].Score != 50 {
			t.Fatalf("caller %d score = %v, want 50", i, results[i].Score)
		}
	}
	if len(env.backend.results) != 1 {
		t.Fatalf("result rows = %d, want exactly 1", len(env.backend.results))
	}
}

func TestPause_ShiftsExpiryByPausedDuration(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	sess, err := env.svc.Start(ctx, env.exam.ID, 1)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	originalExpiry := sess.ExpiresAt

	code, err := env.svc.Pause(ctx, sess.ID, bcrypt.MinCost)
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if len(code) != pauseCodeDigits {
		t.Fatalf("code length = %d, want %d", len(code), pauseCodeDigits)
	}

	env.clock.Advance(10 * time.Minute)

	t.Run("wrong code rejected", func(t *testing.T) {
		if _, err := env.svc.ResumeWithCode(ctx, sess.ID, "000000"); !errors.Is(err, ErrInvalidPauseCode) {
			// The real code could be 000000 with probability 1e-6; the
			// generator is crypto/rand so a collision here means a bug.
			if code != "000000" {
				t.Fatalf("got %v, want ErrInvalidPauseCode", err)
			}
		}
	})

	resumed, err := env.svc.ResumeWithCode(ctx, sess.ID, code)
	if err != nil {
		t.Fatalf("resume with code: %v", err)
	}

	wantExpiry := originalExpiry.Add(10 * time.Minute)
	if !resumed.ExpiresAt.Equal(wantExpiry) {
		t.Errorf("expires_at = %v, want %v (shifted by paused duration)", resumed.ExpiresAt, wantExpiry)
	}
	if resumed.Status != model.SessionStatusInProgress {
		t.Errorf("status = %s, want IN_PROGRESS", resumed.Status)
	}

	t.Run("code is single use", func(t *testing.T) {
		if _, err := env.svc.ResumeWithCode(ctx, sess.ID, code); !errors.Is(err, ErrInvalidPauseCode) {
			t.Fatalf("got %v, want ErrInvalidPauseCode", err)
		}
	})
}

func TestPause_FreezesRemainingTime(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	sess, err := env.svc.Start(ctx, env.exam.ID, 1)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := env.svc.Pause(ctx, sess.ID, bcrypt.MinCost); err != nil {
		t.Fatalf("pause: %v", err)
	}

	before, _, err := env.svc.RemainingFor(ctx, sess.ID)
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}
	env.clock.Advance(2 * time.Hour)
	after, status, err := env.svc.RemainingFor(ctx, sess.ID)
	if err != nil {
		t.Fatalf("remaining: %v", err)
	}

	if status != model.SessionStatusPaused {
		t.Fatalf("status = %s, want PAUSED", status)
	}
	if before != after {
		t.Errorf("remaining time moved while paused: %v vs %v", before, after)
	}
}

func TestAutosave_NoopAfterFinalize(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	sess, err := env.svc.Start(ctx, env.exam.ID, 1)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	res, err := env.svc.Finalize(ctx, sess.ID, model.AnswerMap{
		env.questionID(t, 0): json.RawMessage(`"a"`),
	}, false)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}

	late := model.AnswerMap{env.questionID(t, 1): json.RawMessage(`"d"`)}
	if err := env.svc.Autosave(ctx, sess.ID, late); err != nil {
		t.Fatalf("autosave after finalize: %v", err)
	}

	stored := env.backend.sessions[sess.ID]
	if _, ok := stored.Answers[env.questionID(t, 1)]; ok {
		t.Error("late autosave must not modify a finalized session")
	}
	if got, _ := env.backend.results[sess.ID], res; got.Score != res.Score {
		t.Errorf("result score changed after late autosave: %v vs %v", got.Score, res.Score)
	}
}

func TestSweepOverdue_FinalizesAbandonedSessions(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	s1, err := env.svc.Start(ctx, env.exam.ID, 1)
	if err != nil {
		t.Fatalf("start 1: %v", err)
	}
	s2, err := env.svc.Start(ctx, env.exam.ID, 2)
	if err != nil {
		t.Fatalf("start 2: %v", err)
	}

	env.clock.Advance(31 * time.Minute)

	swept, err := env.svc.SweepOverdue(ctx, 10)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if swept != 2 {
		t.Fatalf("swept = %d, want 2", swept)
	}

	for _, id := range []uuid.UUID{s1.ID, s2.ID} {
		if env.backend.sessions[id].Status != model.SessionStatusExpired {
			t.Errorf("session %s status = %s, want EXPIRED", id, env.backend.sessions[id].Status)
		}
		if env.backend.results[id] == nil {
			t.Errorf("session %s has no result after sweep", id)
		}
	}
}

func TestRecordAnswer_CachesAndQueues(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	sess, err := env.svc.Start(ctx, env.exam.ID, 1)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	qid := env.questionID(t, 0)
	if err := env.svc.RecordAnswer(ctx, sess.ID, qid, json.RawMessage(`"b"`)); err != nil {
		t.Fatalf("record: %v", err)
	}
	// Last write wins.
	if err := env.svc.RecordAnswer(ctx, sess.ID, qid, json.RawMessage(`"a"`)); err != nil {
		t.Fatalf("record: %v", err)
	}

	cached, _ := env.cache.Answers(ctx, sess.ID.String())
	if string(cached[qid]) != `"a"` {
		t.Errorf("cached answer = %s, want \"a\"", cached[qid])
	}
	if len(env.cache.queue) != 2 {
		t.Errorf("queued payloads = %d, want 2", len(env.cache.queue))
	}

	var payload persistAnswerPayload
	if err := json.Unmarshal(env.cache.queue[1], &payload); err != nil {
		t.Fatalf("decode queue payload: %v", err)
	}
	if payload.SessionID != sess.ID.String() || payload.QuestionID != qid {
		t.Errorf("payload = %+v, want session %s question %s", payload, sess.ID, qid)
	}
}
