package exam_test

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mind-engage/mindengage-exams/internal/db"
	"github.com/mind-engage/mindengage-exams/internal/exam"
)

func openSQLite(t *testing.T) (*exam.SQLStore, *sql.DB) {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dbh, err := db.Open(context.Background(), db.DriverSQLite, "file:"+name+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = dbh.Close() })
	return exam.NewSQLStore(dbh, string(db.DriverSQLite)), dbh
}

func TestSQLStore_TestsAndQuestions(t *testing.T) {
	ctx := context.Background()
	s, _ := openSQLite(t)
	dur := 30
	at := time.Date(2024, 2, 1, 8, 0, 0, 0, time.UTC)

	a, err := s.CreateTest(ctx, exam.Test{Title: "A", Type: "quiz", Audience: exam.AudienceAll, OwnerID: "f1", DurationMinutes: &dur, CreatedAt: at})
	if err != nil {
		t.Fatalf("CreateTest: %v", err)
	}
	b, _ := s.CreateTest(ctx, exam.Test{Title: "B", Audience: "alice", OwnerID: "f1", CreatedAt: at})
	_, _ = s.CreateTest(ctx, exam.Test{Title: "C", Audience: "bob", OwnerID: "f2", CreatedAt: at})
	if b.Seq <= a.Seq {
		t.Fatalf("seq not increasing: %d then %d", a.Seq, b.Seq)
	}

	got, err := s.FindTestByID(ctx, a.ID)
	if err != nil {
		t.Fatalf("FindTestByID: %v", err)
	}
	if got.DurationMinutes == nil || *got.DurationMinutes != 30 || got.SecondsPerQuestion != nil || !got.CreatedAt.Equal(at) {
		t.Fatalf("test round trip = %+v", got)
	}

	visible, _ := s.ListTests(ctx, exam.TestFilter{Audiences: []string{exam.AudienceAll, "alice"}})
	if len(visible) != 2 || visible[0].Title != "A" || visible[1].Title != "B" {
		t.Fatalf("ListTests(audience) = %+v", visible)
	}
	owned, _ := s.ListTests(ctx, exam.TestFilter{OwnerID: "f1"})
	if len(owned) != 2 {
		t.Fatalf("ListTests(owner) = %d, want 2", len(owned))
	}

	keys := []exam.AnswerKey{
		exam.SingleChoice{Options: []string{"x", "y"}, Correct: []string{"y"}},
		exam.MultiChoice{Options: []string{"1", "2", "3"}, Correct: []string{"1", "2"}},
		exam.Numeric{Expected: "10"},
	}
	for i, k := range keys {
		if _, err := s.AddQuestion(ctx, exam.Question{TestID: a.ID, Text: "q", Marks: float64(i + 1), Key: k}); err != nil {
			t.Fatalf("AddQuestion: %v", err)
		}
	}
	qs, err := s.FindQuestionsByTestID(ctx, a.ID)
	if err != nil {
		t.Fatalf("FindQuestionsByTestID: %v", err)
	}
	if len(qs) != 3 {
		t.Fatalf("questions = %d, want 3", len(qs))
	}
	mc, ok := qs[1].Key.(exam.MultiChoice)
	if !ok || len(mc.Correct) != 2 || qs[1].Marks != 2 {
		t.Fatalf("question 2 = %+v", qs[1])
	}

	if _, err := s.AddQuestion(ctx, exam.Question{TestID: "missing", Key: exam.LongText{}}); !errors.Is(err, exam.ErrNotFound) {
		t.Fatalf("AddQuestion on missing test err = %v", err)
	}
	if err := s.SetAudience(ctx, b.ID, exam.AudienceAll); err != nil {
		t.Fatalf("SetAudience: %v", err)
	}
	if err := s.SetAudience(ctx, "missing", exam.AudienceAll); !errors.Is(err, exam.ErrNotFound) {
		t.Fatalf("SetAudience missing err = %v", err)
	}
}

func TestSQLStore_MalformedMarksDecodeToZero(t *testing.T) {
	ctx := context.Background()
	s, dbh := openSQLite(t)
	tst, _ := s.CreateTest(ctx, exam.Test{Title: "T", Audience: exam.AudienceAll})
	q, _ := s.AddQuestion(ctx, exam.Question{TestID: tst.ID, Text: "q", Marks: 2, Key: exam.ShortText{Expected: "a"}})
	if _, err := dbh.ExecContext(ctx, `UPDATE questions SET marks='two', type='matrix' WHERE id=$1`, q.ID); err != nil {
		t.Fatalf("corrupt row: %v", err)
	}

	qs, err := s.FindQuestionsByTestID(ctx, tst.ID)
	if err != nil {
		t.Fatalf("FindQuestionsByTestID: %v", err)
	}
	if qs[0].Marks != 0 || qs[0].Defect == "" {
		t.Fatalf("question = %+v, want zero marks with defect", qs[0])
	}
	if qs[0].Kind() != "matrix" {
		t.Fatalf("kind = %q, want the stored unknown tag", qs[0].Kind())
	}
}

func TestSQLStore_Submissions(t *testing.T) {
	ctx := context.Background()
	s, _ := openSQLite(t)
	tst, _ := s.CreateTest(ctx, exam.Test{Title: "T", Audience: exam.AudienceAll})
	at := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)

	sub := exam.Submission{TestID: tst.ID, StudentID: "s1", Answers: map[string][]string{"q1": {"B"}}, Score: 3, Possible: 3, SubmittedAt: at}
	if err := s.InsertSubmission(ctx, sub); err != nil {
		t.Fatalf("InsertSubmission: %v", err)
	}
	if err := s.InsertSubmission(ctx, sub); !errors.Is(err, exam.ErrDuplicateSubmission) {
		t.Fatalf("duplicate insert err = %v", err)
	}
	first, err := s.FindSubmission(ctx, tst.ID, "s1")
	if err != nil {
		t.Fatalf("FindSubmission: %v", err)
	}
	if first.Answers["q1"][0] != "B" || !first.SubmittedAt.Equal(at) {
		t.Fatalf("submission round trip = %+v", first)
	}

	sub.Score = 1
	sub.SubmittedAt = at.Add(time.Minute)
	if err := s.ReplaceSubmission(ctx, sub); err != nil {
		t.Fatalf("ReplaceSubmission: %v", err)
	}
	replaced, _ := s.FindSubmission(ctx, tst.ID, "s1")
	if replaced.Score != 1 || replaced.ID != first.ID {
		t.Fatalf("replace = %+v, want score 1 keeping id %s", replaced, first.ID)
	}

	_ = s.InsertSubmission(ctx, exam.Submission{TestID: tst.ID, StudentID: "s0", Score: 2, Possible: 3, SubmittedAt: at.Add(-time.Hour)})
	list, _ := s.ListSubmissions(ctx, exam.SubmissionFilter{TestID: tst.ID})
	if len(list) != 2 || list[0].StudentID != "s0" {
		t.Fatalf("ListSubmissions = %+v", list)
	}
	if _, err := s.FindSubmission(ctx, tst.ID, "ghost"); !errors.Is(err, exam.ErrNotFound) {
		t.Fatalf("missing submission err = %v", err)
	}
}

func TestSQLStore_DeleteCascade(t *testing.T) {
	ctx := context.Background()
	s, _ := openSQLite(t)
	keep, _ := s.CreateTest(ctx, exam.Test{Title: "keep", Audience: exam.AudienceAll})
	drop, _ := s.CreateTest(ctx, exam.Test{Title: "drop", Audience: exam.AudienceAll})
	now := time.Now().UTC()
	for _, id := range []string{keep.ID, drop.ID} {
		_, _ = s.AddQuestion(ctx, exam.Question{TestID: id, Text: "q", Marks: 1, Key: exam.Numeric{Expected: "1"}})
		_ = s.InsertSubmission(ctx, exam.Submission{TestID: id, StudentID: "s1", Score: 1, Possible: 1, SubmittedAt: now})
	}

	if err := s.DeleteTestCascade(ctx, drop.ID); err != nil {
		t.Fatalf("DeleteTestCascade: %v", err)
	}
	if _, err := s.FindTestByID(ctx, drop.ID); !errors.Is(err, exam.ErrNotFound) {
		t.Fatalf("deleted test still found: %v", err)
	}
	if qs, _ := s.FindQuestionsByTestID(ctx, drop.ID); len(qs) != 0 {
		t.Fatalf("questions survived cascade: %d", len(qs))
	}
	if subs, _ := s.ListSubmissions(ctx, exam.SubmissionFilter{TestID: drop.ID}); len(subs) != 0 {
		t.Fatalf("submissions survived cascade: %d", len(subs))
	}
	if qs, _ := s.FindQuestionsByTestID(ctx, keep.ID); len(qs) != 1 {
		t.Fatalf("unrelated questions removed")
	}
	if err := s.DeleteTestCascade(ctx, drop.ID); !errors.Is(err, exam.ErrNotFound) {
		t.Fatalf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestSQLStore_Users(t *testing.T) {
	ctx := context.Background()
	s, _ := openSQLite(t)
	u, err := s.CreateUser(ctx, exam.User{Username: "zed", Role: exam.RoleStudent, PasswordHash: "h"})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	_, _ = s.CreateUser(ctx, exam.User{Username: "amy", Role: exam.RoleStudent, PasswordHash: "h"})
	_, _ = s.CreateUser(ctx, exam.User{Username: "prof", Role: exam.RoleFaculty, PasswordHash: "h"})
	if _, err := s.CreateUser(ctx, exam.User{Username: "zed", Role: exam.RoleFaculty, PasswordHash: "h"}); !errors.Is(err, exam.ErrUsernameTaken) {
		t.Fatalf("duplicate username err = %v", err)
	}

	byID, err := s.FindUserByID(ctx, u.ID)
	if err != nil || byID.Username != "zed" || byID.PasswordHash != "h" {
		t.Fatalf("FindUserByID = %+v, %v", byID, err)
	}
	students, _ := s.ListUsersByRole(ctx, exam.RoleStudent)
	if len(students) != 2 || students[0].Username != "amy" {
		t.Fatalf("ListUsersByRole = %+v", students)
	}
}
