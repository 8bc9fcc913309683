// Package performance rolls submissions up into dashboards and reports.
// Nothing here is persisted; every figure is recomputed from submissions.
package performance

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/mind-engage/mindengage-exams/internal/assignment"
	"github.com/mind-engage/mindengage-exams/internal/exam"
	"github.com/mind-engage/mindengage-exams/internal/grading"
	"github.com/mind-engage/mindengage-exams/internal/submission"
)

// UnknownLabel stands in for a student or test that no longer resolves.
const UnknownLabel = "Unknown"

type Aggregator struct {
	store    exam.Store
	resolver *assignment.Resolver
}

func New(store exam.Store) *Aggregator {
	return &Aggregator{store: store, resolver: assignment.New(store)}
}

// TestSummary is one row of a student's dashboard.
type TestSummary struct {
	Test exam.Test `json:"test"`
	// LivePossible is the sum of the test's current question marks.
	LivePossible float64 `json:"live_possible"`
	// Submission is nil until the student has submitted. Its Possible is the
	// total frozen at submission time and may differ from LivePossible.
	Submission *exam.Submission `json:"submission,omitempty"`
}

// Possible is the total to display next to the test.
func (s TestSummary) Possible() float64 {
	if s.Submission != nil {
		return s.Submission.Possible
	}
	return s.LivePossible
}

type Summary struct {
	Tests         []TestSummary `json:"tests"`
	TotalScored   float64       `json:"total_scored"`
	TotalPossible float64       `json:"total_possible"`
	Percentage    *float64      `json:"percentage,omitempty"`
}

// StudentSummary builds the dashboard for u over every test visible to them.
// Totals only count submitted tests.
func (a *Aggregator) StudentSummary(ctx context.Context, u exam.User) (Summary, error) {
	tests, err := a.resolver.VisibleTests(ctx, u.Username)
	if err != nil {
		return Summary{}, err
	}
	subs, err := a.store.ListSubmissions(ctx, exam.SubmissionFilter{StudentID: u.ID})
	if err != nil {
		return Summary{}, err
	}
	byTest := make(map[string]exam.Submission, len(subs))
	for _, s := range subs {
		byTest[s.TestID] = s
	}

	out := Summary{Tests: make([]TestSummary, 0, len(tests))}
	for _, t := range tests {
		live, err := a.livePossible(ctx, t.ID)
		if err != nil {
			return Summary{}, err
		}
		row := TestSummary{Test: t, LivePossible: live}
		if s, ok := byTest[t.ID]; ok {
			s := s
			row.Submission = &s
			out.TotalScored += s.Score
			out.TotalPossible += s.Possible
		}
		out.Tests = append(out.Tests, row)
	}
	out.Percentage = Percent(out.TotalScored, out.TotalPossible)
	return out, nil
}

func (a *Aggregator) livePossible(ctx context.Context, testID string) (float64, error) {
	qs, err := a.store.FindQuestionsByTestID(ctx, testID)
	if err != nil {
		return 0, err
	}
	var sum float64
	for _, q := range qs {
		sum += q.Marks
	}
	return sum, nil
}

type ScoreRow struct {
	StudentLabel string    `json:"student"`
	Score        float64   `json:"score"`
	Possible     float64   `json:"possible"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

// TestScores lists every submission for testID, oldest first.
func (a *Aggregator) TestScores(ctx context.Context, testID string) ([]ScoreRow, error) {
	_, subs, err := a.testSubmissions(ctx, testID)
	if err != nil {
		return nil, err
	}
	labels := newStudentLabels(a.store)
	rows := make([]ScoreRow, 0, len(subs))
	for _, s := range subs {
		label, err := labels.get(ctx, s.StudentID)
		if err != nil {
			return nil, err
		}
		rows = append(rows, ScoreRow{
			StudentLabel: label,
			Score:        s.Score,
			Possible:     s.Possible,
			SubmittedAt:  s.SubmittedAt,
		})
	}
	return rows, nil
}

// Scorer regrades stored answers against a test's current questions.
type Scorer interface {
	Breakdown(t exam.Test, questions []exam.Question, answers map[string][]string) submission.Sheet
}

// SubmissionDetail is one student's stored answers with a per-question
// breakdown. Score and Possible are the recorded, frozen figures; Results
// reflect the questions as they are now.
type SubmissionDetail struct {
	StudentLabel string              `json:"student"`
	Answers      map[string][]string `json:"answers"`
	Score        float64             `json:"score"`
	Possible     float64             `json:"possible"`
	SubmittedAt  time.Time           `json:"submitted_at"`
	Results      []grading.Result    `json:"results"`
}

// TestSubmissions lists every submission for testID, oldest first, with the
// raw answers and a regraded breakdown.
func (a *Aggregator) TestSubmissions(ctx context.Context, testID string, scorer Scorer) ([]SubmissionDetail, error) {
	t, subs, err := a.testSubmissions(ctx, testID)
	if err != nil {
		return nil, err
	}
	questions, err := a.store.FindQuestionsByTestID(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	labels := newStudentLabels(a.store)
	out := make([]SubmissionDetail, 0, len(subs))
	for _, s := range subs {
		label, err := labels.get(ctx, s.StudentID)
		if err != nil {
			return nil, err
		}
		out = append(out, SubmissionDetail{
			StudentLabel: label,
			Answers:      s.Answers,
			Score:        s.Score,
			Possible:     s.Possible,
			SubmittedAt:  s.SubmittedAt,
			Results:      scorer.Breakdown(t, questions, s.Answers).Results,
		})
	}
	return out, nil
}

func (a *Aggregator) testSubmissions(ctx context.Context, testID string) (exam.Test, []exam.Submission, error) {
	t, err := a.store.FindTestByID(ctx, testID)
	if err != nil {
		return exam.Test{}, nil, err
	}
	subs, err := a.store.ListSubmissions(ctx, exam.SubmissionFilter{TestID: testID})
	if err != nil {
		return exam.Test{}, nil, err
	}
	sort.SliceStable(subs, func(i, j int) bool { return subs[i].SubmittedAt.Before(subs[j].SubmittedAt) })
	return t, subs, nil
}

// studentLabels resolves student IDs to usernames, memoised per request.
type studentLabels struct {
	store exam.Store
	names map[string]string
}

func newStudentLabels(store exam.Store) *studentLabels {
	return &studentLabels{store: store, names: map[string]string{}}
}

func (l *studentLabels) get(ctx context.Context, studentID string) (string, error) {
	if label, ok := l.names[studentID]; ok {
		return label, nil
	}
	label := UnknownLabel
	u, err := l.store.FindUserByID(ctx, studentID)
	switch {
	case err == nil:
		label = u.Username
	case !errors.Is(err, exam.ErrNotFound):
		return "", err
	}
	l.names[studentID] = label
	return label, nil
}

type HistoryEntry struct {
	TestID      string    `json:"test_id"`
	TestTitle   string    `json:"test_title"`
	TestType    string    `json:"test_type"`
	Score       float64   `json:"score"`
	Possible    float64   `json:"possible"`
	SubmittedAt time.Time `json:"submitted_at"`
}

type History struct {
	Entries       []HistoryEntry `json:"entries"`
	TotalScored   float64        `json:"total_scored"`
	TotalPossible float64        `json:"total_possible"`
	Percentage    *float64       `json:"percentage,omitempty"`
}

// History lists all of a student's submissions, newest first, with the
// percentage rounded to two decimals.
func (a *Aggregator) History(ctx context.Context, studentID string) (History, error) {
	subs, err := a.store.ListSubmissions(ctx, exam.SubmissionFilter{StudentID: studentID})
	if err != nil {
		return History{}, err
	}
	sort.SliceStable(subs, func(i, j int) bool { return subs[i].SubmittedAt.After(subs[j].SubmittedAt) })

	h := History{Entries: make([]HistoryEntry, 0, len(subs))}
	for _, s := range subs {
		e := HistoryEntry{
			TestID:      s.TestID,
			TestTitle:   UnknownLabel,
			Score:       s.Score,
			Possible:    s.Possible,
			SubmittedAt: s.SubmittedAt,
		}
		t, err := a.store.FindTestByID(ctx, s.TestID)
		switch {
		case err == nil:
			e.TestTitle, e.TestType = t.Title, t.Type
		case !errors.Is(err, exam.ErrNotFound):
			return History{}, err
		}
		h.Entries = append(h.Entries, e)
		h.TotalScored += s.Score
		h.TotalPossible += s.Possible
	}
	if p := Percent(h.TotalScored, h.TotalPossible); p != nil {
		r := math.Round(*p*100) / 100
		h.Percentage = &r
	}
	return h, nil
}

// ReportRow is one line of the exported performance report.
type ReportRow struct {
	TestTitle string
	TestType  string
	Score     float64
	Possible  float64
}

// ReportRows flattens a student's submissions for export, skipping those
// whose test has been deleted.
func (a *Aggregator) ReportRows(ctx context.Context, studentID string) ([]ReportRow, error) {
	subs, err := a.store.ListSubmissions(ctx, exam.SubmissionFilter{StudentID: studentID})
	if err != nil {
		return nil, err
	}
	rows := make([]ReportRow, 0, len(subs))
	for _, s := range subs {
		t, err := a.store.FindTestByID(ctx, s.TestID)
		if errors.Is(err, exam.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, ReportRow{TestTitle: t.Title, TestType: t.Type, Score: s.Score, Possible: s.Possible})
	}
	return rows, nil
}

// Percent returns scored/possible*100, or nil when nothing was possible.
func Percent(scored, possible float64) *float64 {
	if possible <= 0 {
		return nil
	}
	p := scored / possible * 100
	return &p
}
