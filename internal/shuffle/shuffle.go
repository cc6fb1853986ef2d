// Package shuffle computes the persisted question and option
// permutations for an attempt. Randomness is consumed exactly once per
// session, at creation; every later read replays the stored arrays.
package shuffle

import (
	"math/rand"

	"github.com/skolastik/skolastik-backend/internal/model"
)

// IDs returns a uniformly shuffled copy of ids (Fisher-Yates). The
// input slice is never mutated.
func IDs(ids []string, rng *rand.Rand) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	for i := len(out) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Orders holds the permutations persisted on a new session.
type Orders struct {
	// QuestionOrder is the shuffled (or stored) sequence of question ids.
	QuestionOrder []string
	// AnswerOrders maps question id to its shuffled option id sequence.
	// Only questions whose options were shuffled appear here.
	AnswerOrders map[string][]string
}

// ForExam computes the orderings for a fresh attempt. Questions are
// shuffled when the exam asks for it, otherwise kept in authored
// order. Option orders are computed independently per choice question.
// MATCHING pairs are never reordered here; their right-side display
// pool is shuffled at render time without touching the canonical pairs.
func ForExam(exam *model.Exam, questions []model.Question, rng *rand.Rand) Orders {
	qids := make([]string, len(questions))
	for i := range questions {
		qids[i] = questions[i].ID.String()
	}

	orders := Orders{
		QuestionOrder: qids,
		AnswerOrders:  make(map[string][]string),
	}

	if exam.RandomizeQuestions {
		orders.QuestionOrder = IDs(qids, rng)
	}

	if exam.RandomizeAnswers {
		for i := range questions {
			q := &questions[i]
			switch q.Type {
			case model.QuestionTypeSingleChoice, model.QuestionTypeMultipleChoice:
				orders.AnswerOrders[q.ID.String()] = IDs(q.OptionIDs(), rng)
			case model.QuestionTypeTrueFalse:
				// True/false keeps its natural order.
			case model.QuestionTypeMatching:
				// Canonical pairs stay put; only the display pool shuffles.
			}
		}
	}

	return orders
}

// RightSidePool returns the matching question's right-hand values in a
// display-only shuffled order. Safe to call on every render: it reads
// the canonical pairs and never writes anything back.
func RightSidePool(q *model.Question, rng *rand.Rand) []string {
	pool := make([]string, len(q.Pairs))
	for i, p := range q.Pairs {
		pool[i] = p.Right
	}
	return IDs(pool, rng)
}
