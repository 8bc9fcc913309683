package submission

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mind-engage/mindengage-exams/internal/exam"
	"github.com/mind-engage/mindengage-exams/internal/metrics"
)

type fakeRecorder struct {
	mu     sync.Mutex
	events []string
}

func (f *fakeRecorder) Record(_ context.Context, typ, key, owner string, _ any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, typ+":"+key+"@"+owner)
	return nil
}

func seedTest(t *testing.T, store exam.Store) exam.Test {
	t.Helper()
	ctx := context.Background()
	tst, err := store.CreateTest(ctx, exam.Test{Title: "Quiz 1", Type: "quiz", Audience: exam.AudienceAll, OwnerID: "fac"})
	if err != nil {
		t.Fatalf("CreateTest: %v", err)
	}
	qs := []exam.Question{
		{ID: "q1", TestID: tst.ID, Text: "Pick B", Marks: 2, Key: exam.SingleChoice{Options: []string{"A", "B"}, Correct: []string{"B"}}},
		{ID: "q2", TestID: tst.ID, Text: "5+5", Marks: 1, Key: exam.Numeric{Expected: "10"}},
	}
	for _, q := range qs {
		if _, err := store.AddQuestion(ctx, q); err != nil {
			t.Fatalf("AddQuestion: %v", err)
		}
	}
	return tst
}

func fixedClock() func() time.Time {
	at := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time { return at }
}

func TestSubmit_GradesAndRejectsSecond(t *testing.T) {
	ctx := context.Background()
	store := exam.NewMemoryStore()
	tst := seedTest(t, store)
	rec := &fakeRecorder{}
	eng := New(store, WithClock(fixedClock()), WithRecorder(rec), WithMetrics(metrics.New()))

	sub, err := eng.Submit(ctx, tst.ID, "stu", map[string][]string{"q1": {"B"}, "q2": {"10"}})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if sub.Score != 3 || sub.Possible != 3 {
		t.Fatalf("score = %v/%v, want 3/3", sub.Score, sub.Possible)
	}
	if sub.ID == "" {
		t.Fatalf("stored submission has no id")
	}
	if len(rec.events) != 1 {
		t.Fatalf("events = %v, want one", rec.events)
	}

	_, err = eng.Submit(ctx, tst.ID, "stu", map[string][]string{"q1": {"A"}, "q2": {"9"}})
	var already *exam.AlreadySubmittedError
	if !errors.As(err, &already) {
		t.Fatalf("second submit err = %v, want AlreadySubmittedError", err)
	}
	if !errors.Is(err, exam.ErrAlreadySubmitted) {
		t.Fatalf("error does not wrap ErrAlreadySubmitted")
	}
	if already.Previous.Score != 3 || already.Previous.ID != sub.ID {
		t.Fatalf("previous = %+v, want the first submission", already.Previous)
	}

	stored, err := store.FindSubmission(ctx, tst.ID, "stu")
	if err != nil {
		t.Fatalf("FindSubmission: %v", err)
	}
	if stored.Score != 3 || stored.Answers["q1"][0] != "B" {
		t.Fatalf("stored submission changed: %+v", stored)
	}
}

func TestSubmit_TestNotFoundWritesNothing(t *testing.T) {
	ctx := context.Background()
	store := exam.NewMemoryStore()
	eng := New(store)

	_, err := eng.Submit(ctx, "missing", "stu", map[string][]string{"q1": {"B"}})
	if !errors.Is(err, exam.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	subs, _ := store.ListSubmissions(ctx, exam.SubmissionFilter{})
	if len(subs) != 0 {
		t.Fatalf("submissions = %d, want 0", len(subs))
	}
}

func TestSubmit_MissingAnswersScoreZero(t *testing.T) {
	ctx := context.Background()
	store := exam.NewMemoryStore()
	tst := seedTest(t, store)
	eng := New(store)

	sub, err := eng.Submit(ctx, tst.ID, "stu", map[string][]string{"q1": {"B"}, "extra": {"x"}})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if sub.Score != 2 || sub.Possible != 3 {
		t.Fatalf("score = %v/%v, want 2/3", sub.Score, sub.Possible)
	}
	if got, ok := sub.Answers["q2"]; !ok || len(got) != 0 {
		t.Fatalf("answers[q2] = %v, want empty entry", got)
	}
	if _, ok := sub.Answers["extra"]; ok {
		t.Fatalf("answer to unknown question was stored")
	}
}

func TestSubmit_EmptyTest(t *testing.T) {
	ctx := context.Background()
	store := exam.NewMemoryStore()
	tst, _ := store.CreateTest(ctx, exam.Test{Title: "Empty", Audience: exam.AudienceAll})
	eng := New(store)

	sub, err := eng.Submit(ctx, tst.ID, "stu", nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if sub.Score != 0 || sub.Possible != 0 {
		t.Fatalf("score = %v/%v, want 0/0", sub.Score, sub.Possible)
	}
}

func TestSubmit_DefectiveQuestionsEarnZero(t *testing.T) {
	ctx := context.Background()
	store := exam.NewMemoryStore()
	tst, _ := store.CreateTest(ctx, exam.Test{Title: "Broken", Audience: exam.AudienceAll})
	_, _ = store.AddQuestion(ctx, exam.Question{ID: "bad-marks", TestID: tst.ID, Marks: 0,
		Defect: "marks abc is not a non-negative number", Key: exam.ShortText{Expected: "x"}})
	_, _ = store.AddQuestion(ctx, exam.Question{ID: "bad-type", TestID: tst.ID, Marks: 4,
		Key: exam.UnknownKind{Tag: "essay_v2"}})
	_, _ = store.AddQuestion(ctx, exam.Question{ID: "ok", TestID: tst.ID, Marks: 1,
		Key: exam.ShortText{Expected: "Paris"}})
	m := metrics.New()
	eng := New(store, WithMetrics(m))

	sub, err := eng.Submit(ctx, tst.ID, "stu", map[string][]string{
		"bad-marks": {"x"}, "bad-type": {"anything"}, "ok": {" paris "},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if sub.Score != 1 || sub.Possible != 5 {
		t.Fatalf("score = %v/%v, want 1/5", sub.Score, sub.Possible)
	}
}

func TestSubmit_ReplacePolicy(t *testing.T) {
	ctx := context.Background()
	store := exam.NewMemoryStore()
	tst := seedTest(t, store)
	rec := &fakeRecorder{}
	eng := New(store, WithPolicy(PolicyReplace), WithRecorder(rec))

	first, err := eng.Submit(ctx, tst.ID, "stu", map[string][]string{"q1": {"B"}, "q2": {"10"}})
	if err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	second, err := eng.Submit(ctx, tst.ID, "stu", map[string][]string{"q1": {"A"}, "q2": {"10"}})
	if err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	if second.Score != 1 {
		t.Fatalf("replaced score = %v, want 1", second.Score)
	}
	if second.ID != first.ID {
		t.Fatalf("replace changed id %s -> %s", first.ID, second.ID)
	}
	subs, _ := store.ListSubmissions(ctx, exam.SubmissionFilter{TestID: tst.ID})
	if len(subs) != 1 {
		t.Fatalf("submissions = %d, want 1", len(subs))
	}
	if len(rec.events) != 2 || rec.events[1] != "SubmissionReplaced:"+first.ID+"@fac" {
		t.Fatalf("events = %v", rec.events)
	}
}

func TestSubmit_ConcurrentSingleRecord(t *testing.T) {
	ctx := context.Background()
	store := exam.NewMemoryStore()
	tst := seedTest(t, store)
	eng := New(store)

	const n = 16
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		accepted int
		rejected int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := eng.Submit(ctx, tst.ID, "stu", map[string][]string{"q1": {"B"}})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, exam.ErrAlreadySubmitted):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if accepted != 1 || rejected != n-1 {
		t.Fatalf("accepted=%d rejected=%d, want 1/%d", accepted, rejected, n-1)
	}
	subs, _ := store.ListSubmissions(ctx, exam.SubmissionFilter{TestID: tst.ID, StudentID: "stu"})
	if len(subs) != 1 {
		t.Fatalf("submissions = %d, want 1", len(subs))
	}
}

// racingStore reports a duplicate on insert as if another replica won.
type racingStore struct {
	exam.Store
	winner exam.Submission
	raced  bool
}

func (r *racingStore) FindSubmission(ctx context.Context, testID, studentID string) (exam.Submission, error) {
	if r.raced {
		return r.winner, nil
	}
	return r.Store.FindSubmission(ctx, testID, studentID)
}

func (r *racingStore) InsertSubmission(context.Context, exam.Submission) error {
	r.raced = true
	return exam.ErrDuplicateSubmission
}

func TestSubmit_StoreDuplicateBecomesAlreadySubmitted(t *testing.T) {
	ctx := context.Background()
	base := exam.NewMemoryStore()
	tst := seedTest(t, base)
	store := &racingStore{Store: base, winner: exam.Submission{ID: "w", TestID: tst.ID, StudentID: "stu", Score: 1, Possible: 3}}
	eng := New(store)

	_, err := eng.Submit(ctx, tst.ID, "stu", map[string][]string{"q1": {"B"}})
	var already *exam.AlreadySubmittedError
	if !errors.As(err, &already) || already.Previous.ID != "w" {
		t.Fatalf("err = %v, want AlreadySubmittedError with winner", err)
	}
}

func TestParsePolicy(t *testing.T) {
	for in, want := range map[string]Policy{"": PolicyReject, "reject": PolicyReject, "replace": PolicyReplace} {
		got, err := ParsePolicy(in)
		if err != nil || got != want {
			t.Fatalf("ParsePolicy(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParsePolicy("merge"); err == nil {
		t.Fatalf("expected error for unknown policy")
	}
}

func TestLocalLocker_Serialises(t *testing.T) {
	l := NewLocalLocker()
	ctx := context.Background()
	unlock, _ := l.Lock(ctx, "k")

	acquired := make(chan struct{})
	go func() {
		u, _ := l.Lock(ctx, "k")
		close(acquired)
		u()
	}()
	select {
	case <-acquired:
		t.Fatalf("second lock acquired while first held")
	case <-time.After(20 * time.Millisecond):
	}
	unlock()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatalf("second lock never acquired")
	}
}

func TestLocalLocker_WaiterHonoursContext(t *testing.T) {
	l := NewLocalLocker()
	unlock, err := l.Lock(context.Background(), "k")
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		_, err := l.Lock(ctx, "k")
		done <- err
	}()
	select {
	case err := <-done:
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("err = %v, want DeadlineExceeded", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("waiter still blocked after its deadline")
	}

	l.mu.Lock()
	refs := l.locks["k"].refs
	l.mu.Unlock()
	if refs != 1 {
		t.Fatalf("refs = %d after abandoned wait, want 1", refs)
	}
}

func TestSubmit_LockTimeoutIsError(t *testing.T) {
	store := exam.NewMemoryStore()
	tst := seedTest(t, store)
	l := NewLocalLocker()
	unlock, _ := l.Lock(context.Background(), tst.ID+"/stu")
	defer unlock()
	eng := New(store, WithLocker(l))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := eng.Submit(ctx, tst.ID, "stu", nil); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
	if subs, _ := store.ListSubmissions(context.Background(), exam.SubmissionFilter{}); len(subs) != 0 {
		t.Fatalf("submission written despite lock timeout")
	}
}

func TestBreakdown_ResultsWithoutDefectMetrics(t *testing.T) {
	m := metrics.New()
	eng := New(exam.NewMemoryStore(), WithMetrics(m))
	tst := exam.Test{ID: "t"}
	qs := []exam.Question{
		{ID: "a", Marks: 2, Key: exam.Numeric{Expected: "4"}},
		{ID: "b", Marks: 0, Defect: "marks x is not a non-negative number", Key: exam.ShortText{Expected: "x"}},
		{ID: "c", Marks: 1, Key: exam.UnknownKind{Tag: "drawing"}},
	}
	answers := map[string][]string{"a": {"4"}, "c": {"?"}}

	sheet := eng.Breakdown(tst, qs, answers)
	if len(sheet.Results) != 3 || !sheet.Results[0].Correct || !sheet.Results[2].Unknown {
		t.Fatalf("results = %+v", sheet.Results)
	}
	if sheet.Score != 2 || sheet.Possible != 3 {
		t.Fatalf("score = %v/%v, want 2/3", sheet.Score, sheet.Possible)
	}
	if n, err := testutil.GatherAndCount(m.Registry(), "exam_question_defects_total"); err != nil || n != 0 {
		t.Fatalf("defect series after Breakdown = %d (%v), want 0", n, err)
	}

	eng.Score(tst, qs, answers)
	if n, _ := testutil.GatherAndCount(m.Registry(), "exam_question_defects_total"); n != 2 {
		t.Fatalf("defect series after Score = %d, want 2", n)
	}
}
