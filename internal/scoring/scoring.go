// Package scoring converts a set of raw answers into a numeric grade.
// Everything here is pure: the same (questions, answers) input yields
// the same output whether it runs for a live submit, an auto-submit or
// a post-hoc re-grade.
package scoring

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/skolastik/skolastik-backend/internal/model"
)

// QuestionScore is the per-question contribution breakdown.
type QuestionScore struct {
	QuestionID    string  `json:"question_id"`
	Earned        float64 `json:"earned"`
	Max           float64 `json:"max"`
	Answered      bool    `json:"answered"`
	ShapeMismatch bool    `json:"shape_mismatch,omitempty"`
}

// Summary is the full grading output. Score is normalized to [0,100].
type Summary struct {
	Score     float64         `json:"score"`
	Earned    float64         `json:"earned"`
	MaxScore  float64         `json:"max_score"`
	Questions []QuestionScore `json:"questions"`
}

// Grade scores every question and normalizes the total. An exam whose
// questions carry no points grades to zero rather than dividing by it.
func Grade(questions []model.Question, answers model.AnswerMap) Summary {
	s := Summary{Questions: make([]QuestionScore, 0, len(questions))}

	for i := range questions {
		q := &questions[i]
		qs := gradeQuestion(q, answers[q.ID.String()])
		s.MaxScore += qs.Max
		s.Earned += qs.Earned
		s.Questions = append(s.Questions, qs)
	}

	if s.MaxScore > 0 {
		s.Score = 100 * s.Earned / s.MaxScore
	}
	return s
}

// Score is the scalar form of Grade.
func Score(questions []model.Question, answers model.AnswerMap) float64 {
	return Grade(questions, answers).Score
}

func gradeQuestion(q *model.Question, raw json.RawMessage) QuestionScore {
	qs := QuestionScore{
		QuestionID: q.ID.String(),
		Max:        q.EffectivePoints(),
	}

	if len(raw) == 0 || string(raw) == "null" {
		return qs
	}
	qs.Answered = true

	switch q.Type {
	case model.QuestionTypeSingleChoice, model.QuestionTypeTrueFalse:
		qs.Earned, qs.ShapeMismatch = gradeSingle(q, raw, qs.Max)
	case model.QuestionTypeMultipleChoice:
		qs.Earned, qs.ShapeMismatch = gradeMultiple(q, raw, qs.Max)
	case model.QuestionTypeMatching:
		qs.Earned, qs.ShapeMismatch = gradeMatching(q, raw, qs.Max)
	default:
		qs.ShapeMismatch = true
	}
	return qs
}

// gradeSingle awards all or nothing: the submitted id must equal the
// unique correct option id.
func gradeSingle(q *model.Question, raw json.RawMessage, points float64) (float64, bool) {
	var selected string
	if err := json.Unmarshal(raw, &selected); err != nil {
		return 0, true
	}

	for _, o := range q.Options {
		if o.IsCorrect {
			if o.ID == selected {
				return points, false
			}
			return 0, false
		}
	}
	return 0, false
}

// gradeMultiple grades strict set-equality when partial scoring is
// off. With partial scoring each option position is worth
// points/len(options), credited when the student's inclusion or
// exclusion of that option matches its correctness flag.
func gradeMultiple(q *model.Question, raw json.RawMessage, points float64) (float64, bool) {
	var selectedList []string
	if err := json.Unmarshal(raw, &selectedList); err != nil {
		return 0, true
	}
	if len(q.Options) == 0 {
		return 0, false
	}

	known := make(map[string]bool, len(q.Options))
	for _, o := range q.Options {
		known[o.ID] = true
	}
	selected := make(map[string]bool, len(selectedList))
	for _, id := range selectedList {
		selected[id] = true
	}

	if !q.PartialScoring {
		// Exact set equality with the correct ids: an id that matches
		// no option breaks equality just like a missing correct one.
		for id := range selected {
			if !known[id] {
				return 0, false
			}
		}
		for _, o := range q.Options {
			if selected[o.ID] != o.IsCorrect {
				return 0, false
			}
		}
		return points, false
	}

	w := points / float64(len(q.Options))
	earned := 0.0
	for _, o := range q.Options {
		if selected[o.ID] == o.IsCorrect {
			earned += w
		}
	}
	return earned, false
}

// gradeMatching compares the submitted right-hand value at each pair
// index against the canonical one, case-insensitive and trimmed.
// Strict mode requires every pair to match; partial mode awards
// points/len(pairs) per matched pair.
func gradeMatching(q *model.Question, raw json.RawMessage, points float64) (float64, bool) {
	var submitted map[string]string
	if err := json.Unmarshal(raw, &submitted); err != nil {
		return 0, true
	}
	if len(q.Pairs) == 0 {
		return 0, false
	}

	matched := 0
	for i, p := range q.Pairs {
		v, ok := submitted[strconv.Itoa(i)]
		if ok && matchValueEqual(v, p.Right) {
			matched++
		}
	}

	if !q.PartialScoring {
		if matched == len(q.Pairs) {
			return points, false
		}
		return 0, false
	}

	w := points / float64(len(q.Pairs))
	return w * float64(matched), false
}

func matchValueEqual(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
