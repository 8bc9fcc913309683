package grading

import "github.com/mind-engage/mindengage-exams/internal/exam"

// Result is the outcome of grading a single question response.
type Result struct {
	QuestionID  string  `json:"question_id"`
	Earned      float64 `json:"earned"`
	Max         float64 `json:"max"`
	Correct     bool    `json:"correct"`                // full marks awarded
	NeedsManual bool    `json:"needs_manual,omitempty"` // long_text
	Unknown     bool    `json:"unknown,omitempty"`      // unrecognised type tag
}

// Evaluate returns the marks a raw answer earns on q. Scoring is
// all-or-nothing: either q.Marks or 0.
func Evaluate(q exam.Question, raw []string) float64 {
	return Grade(q, raw).Earned
}

// Grade evaluates raw against q. It never fails: unknown or missing keys
// simply earn nothing.
func Grade(q exam.Question, raw []string) Result {
	res := Result{QuestionID: q.ID, Max: q.Marks}

	switch k := q.Key.(type) {
	case exam.SingleChoice:
		res.Correct = len(raw) == 1 && contains(k.Correct, raw[0])
	case exam.MultiChoice:
		res.Correct = setEqual(toSet(raw), toSet(k.Correct))
	case exam.ShortText:
		res.Correct = len(raw) > 0 && foldText(raw[0]) == foldText(k.Expected)
	case exam.Numeric:
		res.Correct = len(raw) > 0 && trimNumeric(raw[0]) == trimNumeric(k.Expected)
	case exam.LongText:
		res.NeedsManual = true
	case exam.UnknownKind, nil:
		res.Unknown = true
	}

	if res.Correct {
		res.Earned = q.Marks
	}
	return res
}

// helpers

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}

func toSet(arr []string) map[string]struct{} {
	m := make(map[string]struct{}, len(arr))
	for _, s := range arr {
		m[s] = struct{}{}
	}
	return m
}

func setEqual(a, b map[string]struct{}) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			return false
		}
	}
	return true
}
