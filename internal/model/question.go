package model

import (
	"github.com/google/uuid"
)

// QuestionType is the tagged-union discriminator for questions.
type QuestionType string

const (
	QuestionTypeSingleChoice   QuestionType = "SINGLE_CHOICE"
	QuestionTypeTrueFalse      QuestionType = "TRUE_FALSE"
	QuestionTypeMultipleChoice QuestionType = "MULTIPLE_CHOICE"
	QuestionTypeMatching       QuestionType = "MATCHING"
)

// DefaultQuestionPoints applies when a question row has no points set.
const DefaultQuestionPoints float64 = 10

// Option is a selectable answer for choice-type questions.
// Exactly one option has IsCorrect for SINGLE_CHOICE and TRUE_FALSE;
// one or more for MULTIPLE_CHOICE.
type Option struct {
	ID        string `json:"id"`
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
}

// MatchPair is one row of a MATCHING question. Right holds the
// canonical correct match for Left; the stored order is never shuffled.
type MatchPair struct {
	ID    string `json:"id"`
	Left  string `json:"left"`
	Right string `json:"right"`
}

// Question is one exam question. Options is populated for choice
// types, Pairs for MATCHING; the other slice stays nil.
type Question struct {
	ID             uuid.UUID    `json:"id"`
	ExamID         uuid.UUID    `json:"exam_id"`
	Prompt         string       `json:"prompt"`
	Type           QuestionType `json:"type"`
	Points         float64      `json:"points"`
	PartialScoring bool         `json:"partial_scoring"`
	Options        []Option     `json:"options,omitempty"`
	Pairs          []MatchPair  `json:"pairs,omitempty"`
	OrderNum       int          `json:"order_num"`
}

// EffectivePoints returns the question's weight, falling back to the
// default when authoring left points unset or non-positive.
func (q *Question) EffectivePoints() float64 {
	if q.Points <= 0 {
		return DefaultQuestionPoints
	}
	return q.Points
}

// OptionIDs returns the option ids in stored order.
func (q *Question) OptionIDs() []string {
	ids := make([]string, len(q.Options))
	for i, o := range q.Options {
		ids[i] = o.ID
	}
	return ids
}
