package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SessionStatus enumerates exam session states. A session that was
// never started has no row at all; IN_PROGRESS and PAUSED are the two
// active states, COMPLETED and EXPIRED the terminal ones.
type SessionStatus string

const (
	SessionStatusInProgress SessionStatus = "IN_PROGRESS"
	SessionStatusPaused     SessionStatus = "PAUSED"
	SessionStatusCompleted  SessionStatus = "COMPLETED"
	SessionStatusExpired    SessionStatus = "EXPIRED"
)

// IsActive reports whether the status still accepts answers.
func (s SessionStatus) IsActive() bool {
	return s == SessionStatusInProgress || s == SessionStatusPaused
}

// IsTerminal reports whether the session has been finalized.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusExpired
}

// AnswerMap maps question id to the raw submitted value. The value
// shape depends on the question type: a single option id string, an
// array of option ids, or a pair-index→right-value object. Values are
// kept raw so a malformed shape degrades to zero credit at scoring
// time instead of failing the whole session.
type AnswerMap map[string]json.RawMessage

// ExamSession is one student's attempt at an exam while it is live.
// ExpiresAt is the authoritative deadline: remaining time is always
// derived from it and a fresh clock sample, never from a client-held
// countdown.
type ExamSession struct {
	ID             uuid.UUID           `json:"id"`
	ExamID         uuid.UUID           `json:"exam_id"`
	StudentID      int                 `json:"student_id"`
	StartedAt      time.Time           `json:"started_at"`
	ExpiresAt      time.Time           `json:"expires_at"`
	Status         SessionStatus       `json:"status"`
	Answers        AnswerMap           `json:"answers"`
	QuestionOrder  []string            `json:"question_order"`
	AnswerOrders   map[string][]string `json:"answer_orders"`
	PauseCodeHash  *string             `json:"-"`
	PauseCodeUsed  bool                `json:"pause_code_used"`
	PausedAt       *time.Time          `json:"paused_at,omitempty"`
	LastActivityAt time.Time           `json:"last_activity_at"`
}

// SessionState is what a reconnecting client needs to redraw the exam:
// persisted orderings, autosaved answers and the remaining seconds.
type SessionState struct {
	SessionID        uuid.UUID           `json:"session_id"`
	ExamID           uuid.UUID           `json:"exam_id"`
	StudentID        int                 `json:"student_id"`
	Status           SessionStatus       `json:"status"`
	QuestionOrder    []string            `json:"question_order"`
	AnswerOrders     map[string][]string `json:"answer_orders"`
	AutosavedAnswers AnswerMap           `json:"autosaved_answers"`
	RemainingSeconds float64             `json:"remaining_seconds"`
}
