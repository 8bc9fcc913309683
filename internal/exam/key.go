package exam

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Question type tags as they appear in stored documents and API payloads.
const (
	KindMCQSingle   = "mcq_single"
	KindMCQMulti    = "mcq_multi"
	KindMCQMultiple = "mcq_multiple" // older spelling of mcq_multi
	KindShortText   = "short_text"
	KindNumeric     = "numeric"
	KindLongText    = "long_text"
)

// AnswerKey is the closed set of question shapes. Only types in this package
// implement it, so graders can switch over it exhaustively.
type AnswerKey interface {
	Kind() string
	isAnswerKey()
}

type SingleChoice struct {
	Options []string
	Correct []string
}

type MultiChoice struct {
	Options []string
	Correct []string
}

type ShortText struct{ Expected string }

type Numeric struct{ Expected string }

// LongText is graded manually; it never earns automatic marks.
type LongText struct{}

// UnknownKind keeps a tag we could not recognise so it round-trips through storage.
type UnknownKind struct{ Tag string }

func (SingleChoice) Kind() string  { return KindMCQSingle }
func (MultiChoice) Kind() string   { return KindMCQMulti }
func (ShortText) Kind() string     { return KindShortText }
func (Numeric) Kind() string       { return KindNumeric }
func (LongText) Kind() string      { return KindLongText }
func (u UnknownKind) Kind() string { return u.Tag }

func (SingleChoice) isAnswerKey() {}
func (MultiChoice) isAnswerKey()  {}
func (ShortText) isAnswerKey()    {}
func (Numeric) isAnswerKey()      {}
func (LongText) isAnswerKey()     {}
func (UnknownKind) isAnswerKey()  {}

// KeyFields is the flat document shape every store persists a question key as.
type KeyFields struct {
	Type     string   `json:"type" bson:"type"`
	Options  []string `json:"options,omitempty" bson:"options,omitempty"`
	Corrects []string `json:"corrects,omitempty" bson:"corrects,omitempty"`
	Expected string   `json:"expected,omitempty" bson:"expected,omitempty"`
}

// DecodeKey maps a stored document onto an AnswerKey. Unrecognised tags are
// kept as UnknownKind rather than rejected.
func DecodeKey(f KeyFields) AnswerKey {
	switch strings.TrimSpace(f.Type) {
	case KindMCQSingle:
		return SingleChoice{Options: f.Options, Correct: f.Corrects}
	case KindMCQMulti, KindMCQMultiple:
		return MultiChoice{Options: f.Options, Correct: f.Corrects}
	case KindShortText:
		return ShortText{Expected: f.Expected}
	case KindNumeric:
		return Numeric{Expected: f.Expected}
	case KindLongText:
		return LongText{}
	default:
		return UnknownKind{Tag: f.Type}
	}
}

// EncodeKey is the inverse of DecodeKey.
func EncodeKey(k AnswerKey) KeyFields {
	switch v := k.(type) {
	case SingleChoice:
		return KeyFields{Type: KindMCQSingle, Options: v.Options, Corrects: v.Correct}
	case MultiChoice:
		return KeyFields{Type: KindMCQMulti, Options: v.Options, Corrects: v.Correct}
	case ShortText:
		return KeyFields{Type: KindShortText, Expected: v.Expected}
	case Numeric:
		return KeyFields{Type: KindNumeric, Expected: v.Expected}
	case LongText:
		return KeyFields{Type: KindLongText}
	case UnknownKind:
		return KeyFields{Type: v.Tag}
	default:
		return KeyFields{}
	}
}

// ParseMarks converts a stored marks value into a weight. Values that are not
// finite non-negative numbers yield 0 with ok=false so the caller can report
// the defect without failing the operation.
func ParseMarks(v any) (marks float64, ok bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int32:
		f = float64(t)
	case int64:
		f = float64(t)
	case json.Number:
		p, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = p
	case string:
		p, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = p
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0, false
	}
	return f, true
}

// StudentView renders q for the student taking the test: options are kept,
// correct answers and expected strings are not.
func StudentView(q Question) map[string]any {
	out := map[string]any{
		"id":    q.ID,
		"text":  q.Text,
		"type":  q.Kind(),
		"marks": q.Marks,
	}
	switch v := q.Key.(type) {
	case SingleChoice:
		out["options"] = v.Options
	case MultiChoice:
		out["options"] = v.Options
	}
	return out
}

// MarshalJSON renders the question with its key flattened in, as faculty see it.
func (q Question) MarshalJSON() ([]byte, error) {
	type plain Question
	return json.Marshal(struct {
		plain
		KeyFields
	}{plain(q), EncodeKey(q.Key)})
}

func decodeMarks(q *Question, raw any) {
	m, ok := ParseMarks(raw)
	q.Marks = m
	if !ok {
		q.Defect = fmt.Sprintf("marks %v is not a non-negative number", raw)
	}
}
