package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamStatus enumerates the possible states of an exam.
type ExamStatus string

const (
	ExamStatusDraft     ExamStatus = "DRAFT"
	ExamStatusPublished ExamStatus = "PUBLISHED"
	ExamStatusArchived  ExamStatus = "ARCHIVED"
)

// Exam is an immutable assessment template. Once PUBLISHED it is
// read-only to the session engine; authoring happens elsewhere.
type Exam struct {
	ID                 uuid.UUID  `json:"id"`
	Title              string     `json:"title"`
	DurationMinutes    int        `json:"duration_minutes"`
	Deadline           *time.Time `json:"deadline,omitempty"`
	RandomizeQuestions bool       `json:"randomize_questions"`
	RandomizeAnswers   bool       `json:"randomize_answers"`
	AllowRetake        bool       `json:"allow_retake"`
	Status             ExamStatus `json:"status"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// ExamPayload is the Redis-cached exam sent to students. Options carry
// no correctness flags; the handler reorders questions and options to
// the session's persisted permutations before sending.
type ExamPayload struct {
	ExamID    uuid.UUID            `json:"exam_id"`
	Title     string               `json:"title"`
	Duration  int                  `json:"duration_minutes"`
	Questions []QuestionForStudent `json:"questions"`
}

// QuestionForStudent is a question stripped of its answer key.
type QuestionForStudent struct {
	ID            uuid.UUID       `json:"id"`
	Prompt        string          `json:"prompt"`
	Type          QuestionType    `json:"type"`
	Points        float64         `json:"points"`
	Options       []OptionDisplay `json:"options,omitempty"`
	Pairs         []PairDisplay   `json:"pairs,omitempty"`
	RightSidePool []string        `json:"right_side_pool,omitempty"`
}

// OptionDisplay is an answer option without the is_correct flag.
type OptionDisplay struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// PairDisplay is the left side of a matching pair. The right-side
// values are delivered through the shuffled RightSidePool so their
// position never reveals the canonical order.
type PairDisplay struct {
	ID   string `json:"id"`
	Left string `json:"left"`
}
