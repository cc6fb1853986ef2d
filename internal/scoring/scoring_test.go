package scoring

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/google/uuid"
	"github.com/skolastik/skolastik-backend/internal/model"
)

const eps = 1e-9

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < eps
}

func singleChoice(points float64) model.Question {
	return model.Question{
		ID:     uuid.New(),
		Type:   model.QuestionTypeSingleChoice,
		Points: points,
		Options: []model.Option{
			{ID: "a", Text: "Jakarta"},
			{ID: "b", Text: "Bandung", IsCorrect: true},
			{ID: "c", Text: "Surabaya"},
		},
	}
}

func multipleChoice(points float64, partial bool, optionCount int, correct ...string) model.Question {
	correctSet := map[string]bool{}
	for _, id := range correct {
		correctSet[id] = true
	}
	opts := make([]model.Option, optionCount)
	for i := range opts {
		id := string(rune('a' + i))
		opts[i] = model.Option{ID: id, IsCorrect: correctSet[id]}
	}
	return model.Question{
		ID:             uuid.New(),
		Type:           model.QuestionTypeMultipleChoice,
		Points:         points,
		PartialScoring: partial,
		Options:        opts,
	}
}

func matching(points float64, partial bool, rights ...string) model.Question {
	pairs := make([]model.MatchPair, len(rights))
	for i, r := range rights {
		pairs[i] = model.MatchPair{ID: uuid.NewString(), Left: "L", Right: r}
	}
	return model.Question{
		ID:             uuid.New(),
		Type:           model.QuestionTypeMatching,
		Points:         points,
		PartialScoring: partial,
		Pairs:          pairs,
	}
}

func answer(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal answer: %v", err)
	}
	return raw
}

func TestScore_EmptyAnswers(t *testing.T) {
	questions := []model.Question{
		singleChoice(10),
		multipleChoice(10, true, 4, "a", "c"),
		matching(10, true, "x", "y", "z"),
	}

	if got := Score(questions, model.AnswerMap{}); got != 0 {
		t.Fatalf("expected 0 for empty answers, got %v", got)
	}
}

func TestScore_ZeroMaxScore(t *testing.T) {
	// No questions at all: maxScore is zero, so the division is guarded.
	if got := Score(nil, model.AnswerMap{}); got != 0 {
		t.Fatalf("expected 0 for empty exam, got %v", got)
	}
}

func TestGrade_SingleChoice(t *testing.T) {
	q := singleChoice(10)

	tests := []struct {
		name   string
		value  any
		earned float64
	}{
		{"correct id", "b", 10},
		{"wrong id", "a", 0},
		{"unknown id", "zz", 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Grade([]model.Question{q}, model.AnswerMap{
				q.ID.String(): answer(t, tc.value),
			})
			if !almostEqual(got.Earned, tc.earned) {
				t.Fatalf("expected earned=%v, got %v", tc.earned, got.Earned)
			}
		})
	}
}

func TestGrade_TrueFalse(t *testing.T) {
	q := model.Question{
		ID:     uuid.New(),
		Type:   model.QuestionTypeTrueFalse,
		Points: 10,
		Options: []model.Option{
			{ID: "true", IsCorrect: true},
			{ID: "false"},
		},
	}

	got := Grade([]model.Question{q}, model.AnswerMap{q.ID.String(): answer(t, "true")})
	if !almostEqual(got.Score, 100) {
		t.Fatalf("expected 100, got %v", got.Score)
	}

	got = Grade([]model.Question{q}, model.AnswerMap{q.ID.String(): answer(t, "false")})
	if !almostEqual(got.Score, 0) {
		t.Fatalf("expected 0, got %v", got.Score)
	}
}

func TestGrade_MultipleChoice_Strict(t *testing.T) {
	q := multipleChoice(10, false, 4, "a", "c")

	tests := []struct {
		name   string
		value  []string
		earned float64
	}{
		{"exact set any order", []string{"c", "a"}, 10},
		{"missing one", []string{"a"}, 0},
		{"extra one", []string{"a", "c", "b"}, 0},
		{"disjoint", []string{"b", "d"}, 0},
		{"correct set plus unknown id", []string{"a", "c", "zz"}, 0},
		{"only unknown ids", []string{"zz", "yy"}, 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Grade([]model.Question{q}, model.AnswerMap{
				q.ID.String(): answer(t, tc.value),
			})
			if !almostEqual(got.Earned, tc.earned) {
				t.Fatalf("expected earned=%v, got %v", tc.earned, got.Earned)
			}
		})
	}
}

func TestGrade_MultipleChoice_PartialWeights(t *testing.T) {
	t.Run("two options both positions correct", func(t *testing.T) {
		q := multipleChoice(10, true, 2, "a")
		got := Grade([]model.Question{q}, model.AnswerMap{
			q.ID.String(): answer(t, []string{"a"}),
		})
		if !almostEqual(got.Earned, 10) {
			t.Fatalf("expected 10, got %v", got.Earned)
		}
	})

	t.Run("two options both positions wrong", func(t *testing.T) {
		q := multipleChoice(10, true, 2, "a")
		got := Grade([]model.Question{q}, model.AnswerMap{
			q.ID.String(): answer(t, []string{"b"}),
		})
		if !almostEqual(got.Earned, 0) {
			t.Fatalf("expected 0, got %v", got.Earned)
		}
	})

	t.Run("four options two positions correct", func(t *testing.T) {
		// Correct set {a,c}; student selects {a,b}: a correctly included,
		// d correctly excluded, b wrongly included, c wrongly excluded.
		q := multipleChoice(10, true, 4, "a", "c")
		got := Grade([]model.Question{q}, model.AnswerMap{
			q.ID.String(): answer(t, []string{"a", "b"}),
		})
		if !almostEqual(got.Earned, 5) {
			t.Fatalf("expected 5, got %v", got.Earned)
		}
	})
}

func TestGrade_Matching(t *testing.T) {
	twoOfThree := map[string]string{"0": "water", "1": "salt", "2": "wrong"}

	t.Run("strict two of three scores zero", func(t *testing.T) {
		q := matching(10, false, "water", "salt", "sugar")
		got := Grade([]model.Question{q}, model.AnswerMap{
			q.ID.String(): answer(t, twoOfThree),
		})
		if !almostEqual(got.Earned, 0) {
			t.Fatalf("expected 0, got %v", got.Earned)
		}
	})

	t.Run("partial two of three scores two thirds", func(t *testing.T) {
		q := matching(10, true, "water", "salt", "sugar")
		got := Grade([]model.Question{q}, model.AnswerMap{
			q.ID.String(): answer(t, twoOfThree),
		})
		if !almostEqual(got.Earned, 10.0*2/3) {
			t.Fatalf("expected %v, got %v", 10.0*2/3, got.Earned)
		}
	})

	t.Run("comparison trims and ignores case", func(t *testing.T) {
		q := matching(10, false, "Water", "Salt")
		got := Grade([]model.Question{q}, model.AnswerMap{
			q.ID.String(): answer(t, map[string]string{"0": "  water ", "1": "SALT"}),
		})
		if !almostEqual(got.Earned, 10) {
			t.Fatalf("expected 10, got %v", got.Earned)
		}
	})
}

func TestGrade_ShapeMismatch(t *testing.T) {
	tests := []struct {
		name  string
		q     model.Question
		value any
	}{
		{"string where array expected", multipleChoice(10, true, 4, "a"), "a"},
		{"array where string expected", singleChoice(10), []string{"b"}},
		{"number where object expected", matching(10, true, "x"), 42},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Grade([]model.Question{tc.q}, model.AnswerMap{
				tc.q.ID.String(): answer(t, tc.value),
			})
			if !almostEqual(got.Earned, 0) {
				t.Fatalf("expected zero credit, got %v", got.Earned)
			}
			if !got.Questions[0].ShapeMismatch {
				t.Fatalf("expected shape mismatch flag on breakdown")
			}
		})
	}
}

func TestGrade_DefaultPoints(t *testing.T) {
	q := singleChoice(0) // unset points falls back to the default
	got := Grade([]model.Question{q}, model.AnswerMap{q.ID.String(): answer(t, "b")})

	if !almostEqual(got.MaxScore, model.DefaultQuestionPoints) {
		t.Fatalf("expected max %v, got %v", model.DefaultQuestionPoints, got.MaxScore)
	}
	if !almostEqual(got.Score, 100) {
		t.Fatalf("expected 100, got %v", got.Score)
	}
}

func TestGrade_Deterministic(t *testing.T) {
	questions := []model.Question{
		singleChoice(10),
		multipleChoice(20, true, 4, "a", "c"),
		matching(15, true, "x", "y", "z"),
	}
	answers := model.AnswerMap{
		questions[0].ID.String(): answer(t, "b"),
		questions[1].ID.String(): answer(t, []string{"a", "b"}),
		questions[2].ID.String(): answer(t, map[string]string{"0": "x", "2": "z"}),
	}

	first := Grade(questions, answers)
	for i := 0; i < 10; i++ {
		again := Grade(questions, answers)
		if !almostEqual(again.Score, first.Score) {
			t.Fatalf("re-invocation changed score: %v vs %v", again.Score, first.Score)
		}
	}
}
