package submission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mind-engage/mindengage-exams/internal/exam"
	"github.com/mind-engage/mindengage-exams/internal/grading"
	"github.com/mind-engage/mindengage-exams/internal/metrics"
	syncx "github.com/mind-engage/mindengage-exams/internal/sync"
)

// Policy decides what happens when a student submits a test twice.
type Policy string

const (
	// PolicyReject keeps the first submission and refuses later ones.
	PolicyReject Policy = "reject"
	// PolicyReplace overwrites the stored submission (last write wins).
	PolicyReplace Policy = "replace"
)

func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyReject:
		return PolicyReject, nil
	case PolicyReplace:
		return PolicyReplace, nil
	default:
		return "", fmt.Errorf("unknown submission policy %q", s)
	}
}

// Recorder receives an audit event for every stored submission. owner is
// the faculty ID of the test the event concerns.
type Recorder interface {
	Record(ctx context.Context, typ, key, owner string, data any) error
}

type Engine struct {
	store   exam.Store
	locker  Locker
	policy  Policy
	log     *zap.Logger
	metrics *metrics.Metrics
	events  Recorder
	now     func() time.Time
}

type Option func(*Engine)

func WithLocker(l Locker) Option            { return func(e *Engine) { e.locker = l } }
func WithPolicy(p Policy) Option            { return func(e *Engine) { e.policy = p } }
func WithLogger(l *zap.Logger) Option       { return func(e *Engine) { e.log = l } }
func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }
func WithRecorder(r Recorder) Option        { return func(e *Engine) { e.events = r } }
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

func New(store exam.Store, opts ...Option) *Engine {
	e := &Engine{
		store:  store,
		locker: NewLocalLocker(),
		policy: PolicyReject,
		log:    zap.NewNop(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Submit grades answers for testID and stores the result for studentID.
//
// Under PolicyReject a second submission fails with *exam.AlreadySubmittedError
// and nothing is graded or written. A missing test fails with exam.ErrNotFound.
func (e *Engine) Submit(ctx context.Context, testID, studentID string, answers map[string][]string) (exam.Submission, error) {
	t, err := e.store.FindTestByID(ctx, testID)
	if err != nil {
		e.metrics.Submission(metrics.OutcomeError)
		return exam.Submission{}, err
	}

	unlock, err := e.locker.Lock(ctx, t.ID+"/"+studentID)
	if err != nil {
		e.metrics.Submission(metrics.OutcomeError)
		return exam.Submission{}, err
	}
	defer unlock()

	prev, err := e.store.FindSubmission(ctx, t.ID, studentID)
	exists := err == nil
	if err != nil && !errors.Is(err, exam.ErrNotFound) {
		e.metrics.Submission(metrics.OutcomeError)
		return exam.Submission{}, err
	}
	if exists && e.policy == PolicyReject {
		e.metrics.Submission(metrics.OutcomeRejected)
		e.log.Info("duplicate submission rejected",
			zap.String("test_id", t.ID), zap.String("student_id", studentID), zap.Float64("score", prev.Score))
		return exam.Submission{}, &exam.AlreadySubmittedError{Previous: prev}
	}

	questions, err := e.store.FindQuestionsByTestID(ctx, t.ID)
	if err != nil {
		e.metrics.Submission(metrics.OutcomeError)
		return exam.Submission{}, err
	}

	sheet := e.Score(t, questions, answers)
	sub := exam.Submission{
		TestID:      t.ID,
		StudentID:   studentID,
		Answers:     sheet.Answers,
		Score:       sheet.Score,
		Possible:    sheet.Possible,
		SubmittedAt: e.now(),
	}

	outcome, event := metrics.OutcomeAccepted, syncx.TypeSubmissionRecorded
	if e.policy == PolicyReplace {
		if exists {
			sub.ID = prev.ID
			outcome, event = metrics.OutcomeReplaced, syncx.TypeSubmissionReplaced
		}
		err = e.store.ReplaceSubmission(ctx, sub)
	} else {
		err = e.store.InsertSubmission(ctx, sub)
	}
	if errors.Is(err, exam.ErrDuplicateSubmission) {
		// Lost a race with a writer outside our lock (another replica without Redis).
		winner, ferr := e.store.FindSubmission(ctx, t.ID, studentID)
		if ferr != nil {
			e.metrics.Submission(metrics.OutcomeError)
			return exam.Submission{}, ferr
		}
		e.metrics.Submission(metrics.OutcomeRejected)
		return exam.Submission{}, &exam.AlreadySubmittedError{Previous: winner}
	}
	if err != nil {
		e.metrics.Submission(metrics.OutcomeError)
		return exam.Submission{}, err
	}

	// Re-read so the caller gets the stored ID.
	stored, err := e.store.FindSubmission(ctx, t.ID, studentID)
	if err != nil {
		e.metrics.Submission(metrics.OutcomeError)
		return exam.Submission{}, err
	}
	e.metrics.Submission(outcome)
	e.log.Info("submission graded",
		zap.String("test_id", t.ID), zap.String("student_id", studentID),
		zap.String("submission_id", stored.ID),
		zap.Float64("score", stored.Score), zap.Float64("possible", stored.Possible),
		zap.String("outcome", outcome))

	if e.events != nil {
		if err := e.events.Record(ctx, event, stored.ID, t.OwnerID, map[string]any{
			"test_id":    stored.TestID,
			"student_id": stored.StudentID,
			"score":      stored.Score,
			"possible":   stored.Possible,
		}); err != nil {
			e.log.Warn("event log append failed", zap.String("submission_id", stored.ID), zap.Error(err))
		}
	}
	return stored, nil
}

// Sheet is the graded form of one answer set, before it is stored.
type Sheet struct {
	Answers  map[string][]string
	Score    float64
	Possible float64
	Results  []grading.Result
}

// Score grades answers against questions without touching the store.
// Answers to questions outside the test are dropped; unanswered questions are
// recorded with an empty answer list. Malformed questions are logged and
// counted.
func (e *Engine) Score(t exam.Test, questions []exam.Question, answers map[string][]string) Sheet {
	return e.score(t, questions, answers, true)
}

// Breakdown regrades stored answers for display. It is Score without the
// defect logging and metrics.
func (e *Engine) Breakdown(t exam.Test, questions []exam.Question, answers map[string][]string) Sheet {
	return e.score(t, questions, answers, false)
}

func (e *Engine) score(t exam.Test, questions []exam.Question, answers map[string][]string, report bool) Sheet {
	sheet := Sheet{
		Answers: make(map[string][]string, len(questions)),
		Results: make([]grading.Result, 0, len(questions)),
	}
	for _, q := range questions {
		if report && q.Defect != "" {
			e.metrics.Defect("marks")
			e.log.Warn("malformed question graded with zero marks",
				zap.String("test_id", t.ID), zap.String("question_id", q.ID), zap.String("defect", q.Defect))
		}
		given := answers[q.ID]
		if given == nil {
			given = []string{}
		}
		res := grading.Grade(q, given)
		if report && res.Unknown {
			e.metrics.Defect("type")
			e.log.Warn("unknown question type graded as zero",
				zap.String("test_id", t.ID), zap.String("question_id", q.ID), zap.String("type", q.Kind()))
		}
		sheet.Answers[q.ID] = append([]string(nil), given...)
		sheet.Score += res.Earned
		sheet.Possible += q.Marks
		sheet.Results = append(sheet.Results, res)
	}
	return sheet
}
