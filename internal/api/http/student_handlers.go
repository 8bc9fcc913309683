package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mind-engage/mindengage-exams/internal/assignment"
	authmw "github.com/mind-engage/mindengage-exams/internal/auth/middleware"
	"github.com/mind-engage/mindengage-exams/internal/exam"
	"github.com/mind-engage/mindengage-exams/internal/performance"
	"github.com/mind-engage/mindengage-exams/internal/report"
	"github.com/mind-engage/mindengage-exams/internal/submission"
)

func currentUser(r *http.Request) exam.User {
	return exam.User{
		ID:       authmw.SubjectFromContext(r.Context()),
		Username: authmw.UsernameFromContext(r.Context()),
		Role:     exam.RoleStudent,
	}
}

// assignedTest loads the {testID} path test and checks it is addressed to the caller.
func assignedTest(r *http.Request, store exam.Store) (exam.Test, error) {
	t, err := store.FindTestByID(r.Context(), chi.URLParam(r, "testID"))
	if err != nil {
		return exam.Test{}, err
	}
	if t.Audience != exam.AudienceAll && t.Audience != authmw.UsernameFromContext(r.Context()) {
		return exam.Test{}, exam.ErrForbidden
	}
	return t, nil
}

type testListing struct {
	exam.Test
	Submitted bool `json:"submitted"`
}

// GET /me/tests
func MyTestsHandler(resolver *assignment.Resolver, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u := currentUser(r)
		tests, err := resolver.VisibleTests(r.Context(), u.Username)
		if err != nil {
			respondError(w, log, err)
			return
		}
		out := make([]testListing, 0, len(tests))
		for _, t := range tests {
			done, err := resolver.HasSubmitted(r.Context(), t.ID, u.ID)
			if err != nil {
				respondError(w, log, err)
				return
			}
			out = append(out, testListing{Test: t, Submitted: done})
		}
		respondJSON(w, http.StatusOK, out)
	}
}

// GET /tests/{testID}/take: the test with answer keys stripped. A test the
// caller already submitted answers 409 with the recorded score.
func TakeTestHandler(store exam.Store, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := assignedTest(r, store)
		if err != nil {
			respondError(w, log, err)
			return
		}
		prev, err := store.FindSubmission(r.Context(), t.ID, currentUser(r).ID)
		switch {
		case err == nil:
			respondError(w, log, &exam.AlreadySubmittedError{Previous: prev})
			return
		case !errors.Is(err, exam.ErrNotFound):
			respondError(w, log, err)
			return
		}
		qs, err := store.FindQuestionsByTestID(r.Context(), t.ID)
		if err != nil {
			respondError(w, log, err)
			return
		}
		views := make([]map[string]any, 0, len(qs))
		for _, q := range qs {
			views = append(views, exam.StudentView(q))
		}
		respondJSON(w, http.StatusOK, map[string]any{"test": t, "questions": views})
	}
}

// POST /tests/{testID}/submit  { "answers": { "<questionID>": ["..."] } }
func SubmitHandler(store exam.Store, engine *submission.Engine, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := assignedTest(r, store)
		if err != nil {
			respondError(w, log, err)
			return
		}
		var req struct {
			Answers map[string][]string `json:"answers"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		sub, err := engine.Submit(r.Context(), t.ID, currentUser(r).ID, req.Answers)
		if err != nil {
			respondError(w, log, err)
			return
		}
		respondJSON(w, http.StatusCreated, sub)
	}
}

// GET /me/summary
func MySummaryHandler(agg *performance.Aggregator, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := agg.StudentSummary(r.Context(), currentUser(r))
		if err != nil {
			respondError(w, log, err)
			return
		}
		respondJSON(w, http.StatusOK, s)
	}
}

// GET /me/performance
func MyPerformanceHandler(agg *performance.Aggregator, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h, err := agg.History(r.Context(), currentUser(r).ID)
		if err != nil {
			respondError(w, log, err)
			return
		}
		respondJSON(w, http.StatusOK, h)
	}
}

// GET /me/report.pdf
func MyReportHandler(agg *performance.Aggregator, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u := currentUser(r)
		rows, err := agg.ReportRows(r.Context(), u.ID)
		if err != nil {
			respondError(w, log, err)
			return
		}
		var buf bytes.Buffer
		if err := report.WritePDF(&buf, u.Username, rows); err != nil {
			respondError(w, log, err)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="performance_%s.pdf"`, u.Username))
		_, _ = w.Write(buf.Bytes())
	}
}
