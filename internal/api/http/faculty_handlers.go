package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mind-engage/mindengage-exams/internal/assignment"
	authmw "github.com/mind-engage/mindengage-exams/internal/auth/middleware"
	"github.com/mind-engage/mindengage-exams/internal/exam"
	"github.com/mind-engage/mindengage-exams/internal/performance"
	"github.com/mind-engage/mindengage-exams/internal/submission"
	syncx "github.com/mind-engage/mindengage-exams/internal/sync"
)

// ownedTest loads the {testID} path test and checks the caller owns it.
func ownedTest(r *http.Request, store exam.Store) (exam.Test, error) {
	t, err := store.FindTestByID(r.Context(), chi.URLParam(r, "testID"))
	if err != nil {
		return exam.Test{}, err
	}
	if t.OwnerID != authmw.SubjectFromContext(r.Context()) {
		return exam.Test{}, exam.ErrForbidden
	}
	return t, nil
}

var errBadAudience = errors.New("audience must be \"all\" or a student username")

// checkAudience accepts "all" or the username of an existing student. A
// rejected audience wraps errBadAudience; store failures pass through.
func checkAudience(r *http.Request, store exam.Store, audience string) error {
	if audience == exam.AudienceAll {
		return nil
	}
	u, err := store.FindUserByUsername(r.Context(), audience)
	if errors.Is(err, exam.ErrNotFound) {
		return fmt.Errorf("unknown student %q: %w", audience, errBadAudience)
	}
	if err != nil {
		return err
	}
	if u.Role != exam.RoleStudent {
		return fmt.Errorf("%q is not a student: %w", audience, errBadAudience)
	}
	return nil
}

func respondAudienceError(w http.ResponseWriter, log *zap.Logger, err error) {
	if errors.Is(err, errBadAudience) {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	respondError(w, log, err)
}

type createTestRequest struct {
	Title              string `json:"title"`
	Type               string `json:"type"`
	Audience           string `json:"audience"`
	DurationMinutes    *int   `json:"duration_minutes"`
	SecondsPerQuestion *int   `json:"seconds_per_question"`
}

// POST /tests
func CreateTestHandler(store exam.Store, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createTestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		req.Title = strings.TrimSpace(req.Title)
		if req.Title == "" {
			http.Error(w, "title required", http.StatusBadRequest)
			return
		}
		if req.Type = strings.TrimSpace(req.Type); req.Type == "" {
			req.Type = "assignment"
		}
		if req.Audience = strings.TrimSpace(req.Audience); req.Audience == "" {
			req.Audience = exam.AudienceAll
		}
		for _, n := range []*int{req.DurationMinutes, req.SecondsPerQuestion} {
			if n != nil && *n <= 0 {
				http.Error(w, "time limits must be positive", http.StatusBadRequest)
				return
			}
		}
		if err := checkAudience(r, store, req.Audience); err != nil {
			respondAudienceError(w, log, err)
			return
		}

		t, err := store.CreateTest(r.Context(), exam.Test{
			Title:              req.Title,
			Type:               req.Type,
			Audience:           req.Audience,
			OwnerID:            authmw.SubjectFromContext(r.Context()),
			DurationMinutes:    req.DurationMinutes,
			SecondsPerQuestion: req.SecondsPerQuestion,
		})
		if err != nil {
			respondError(w, log, err)
			return
		}
		log.Info("test created", zap.String("test_id", t.ID), zap.String("owner_id", t.OwnerID))
		respondJSON(w, http.StatusCreated, t)
	}
}

// GET /tests: the caller's own tests, newest first.
func ListOwnedTestsHandler(resolver *assignment.Resolver, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tests, err := resolver.OwnedTests(r.Context(), authmw.SubjectFromContext(r.Context()))
		if err != nil {
			respondError(w, log, err)
			return
		}
		respondJSON(w, http.StatusOK, tests)
	}
}

// PATCH /tests/{testID}/audience  { "audience": "all" | "<student username>" }
func SetAudienceHandler(store exam.Store, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := ownedTest(r, store)
		if err != nil {
			respondError(w, log, err)
			return
		}
		var req struct {
			Audience string `json:"audience"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		audience := strings.TrimSpace(req.Audience)
		if audience == "" {
			http.Error(w, "audience required", http.StatusBadRequest)
			return
		}
		if err := checkAudience(r, store, audience); err != nil {
			respondAudienceError(w, log, err)
			return
		}
		if err := store.SetAudience(r.Context(), t.ID, audience); err != nil {
			respondError(w, log, err)
			return
		}
		t.Audience = audience
		respondJSON(w, http.StatusOK, t)
	}
}

// DELETE /tests/{testID}: removes the test with its questions and submissions.
func DeleteTestHandler(store exam.Store, events submission.Recorder, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := ownedTest(r, store)
		if err != nil {
			respondError(w, log, err)
			return
		}
		if err := store.DeleteTestCascade(r.Context(), t.ID); err != nil {
			respondError(w, log, err)
			return
		}
		log.Info("test deleted", zap.String("test_id", t.ID))
		if events != nil {
			if err := events.Record(r.Context(), syncx.TypeTestDeleted, t.ID, t.OwnerID, map[string]string{
				"title": t.Title,
			}); err != nil {
				log.Warn("event log append failed", zap.String("test_id", t.ID), zap.Error(err))
			}
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type addQuestionRequest struct {
	Text     string   `json:"text"`
	Type     string   `json:"type"`
	Marks    any      `json:"marks"`
	Options  []string `json:"options"`
	Corrects []string `json:"corrects"`
	Expected string   `json:"expected"`
}

// POST /tests/{testID}/questions
//
// Marks that do not parse as a non-negative number default to 1.
func AddQuestionHandler(store exam.Store, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := ownedTest(r, store)
		if err != nil {
			respondError(w, log, err)
			return
		}
		var req addQuestionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
		text := strings.TrimSpace(req.Text)
		if text == "" {
			http.Error(w, "text required", http.StatusBadRequest)
			return
		}
		key := exam.DecodeKey(exam.KeyFields{
			Type:     req.Type,
			Options:  cleanList(req.Options),
			Corrects: cleanList(req.Corrects),
			Expected: strings.TrimSpace(req.Expected),
		})
		if _, unknown := key.(exam.UnknownKind); unknown {
			http.Error(w, "unsupported question type: "+req.Type, http.StatusBadRequest)
			return
		}
		marks, ok := exam.ParseMarks(req.Marks)
		if !ok {
			marks = 1
		}

		q, err := store.AddQuestion(r.Context(), exam.Question{TestID: t.ID, Text: text, Marks: marks, Key: key})
		if err != nil {
			respondError(w, log, err)
			return
		}
		respondJSON(w, http.StatusCreated, q)
	}
}

// GET /tests/{testID}/questions: full questions including answer keys.
func ListQuestionsHandler(store exam.Store, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := ownedTest(r, store)
		if err != nil {
			respondError(w, log, err)
			return
		}
		qs, err := store.FindQuestionsByTestID(r.Context(), t.ID)
		if err != nil {
			respondError(w, log, err)
			return
		}
		respondJSON(w, http.StatusOK, qs)
	}
}

// GET /tests/{testID}/scores
func TestScoresHandler(store exam.Store, agg *performance.Aggregator, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := ownedTest(r, store)
		if err != nil {
			respondError(w, log, err)
			return
		}
		rows, err := agg.TestScores(r.Context(), t.ID)
		if err != nil {
			respondError(w, log, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"test": t, "scores": rows})
	}
}

// GET /tests/{testID}/submissions: each student's stored answers with a
// per-question breakdown against the current questions.
func TestSubmissionsHandler(store exam.Store, agg *performance.Aggregator, scorer performance.Scorer, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		t, err := ownedTest(r, store)
		if err != nil {
			respondError(w, log, err)
			return
		}
		rows, err := agg.TestSubmissions(r.Context(), t.ID, scorer)
		if err != nil {
			respondError(w, log, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"test": t, "submissions": rows})
	}
}

// GET /events?type=&limit=: the caller's audit trail, newest first.
func EventsHandler(events EventLog, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := syncx.EventQuery{
			Type:    r.URL.Query().Get("type"),
			OwnerID: authmw.SubjectFromContext(r.Context()),
		}
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 || n > 500 {
				http.Error(w, "limit must be between 1 and 500", http.StatusBadRequest)
				return
			}
			q.Limit = n
		}
		evs, err := events.Recent(r.Context(), q)
		if err != nil {
			respondError(w, log, err)
			return
		}
		respondJSON(w, http.StatusOK, evs)
	}
}

// GET /students: candidates for a single-student audience.
func ListStudentsHandler(store exam.Store, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		users, err := store.ListUsersByRole(r.Context(), exam.RoleStudent)
		if err != nil {
			respondError(w, log, err)
			return
		}
		respondJSON(w, http.StatusOK, users)
	}
}

func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
