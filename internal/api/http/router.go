package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/mind-engage/mindengage-exams/internal/assignment"
	authmw "github.com/mind-engage/mindengage-exams/internal/auth/middleware"
	"github.com/mind-engage/mindengage-exams/internal/exam"
	"github.com/mind-engage/mindengage-exams/internal/logging"
	"github.com/mind-engage/mindengage-exams/internal/metrics"
	"github.com/mind-engage/mindengage-exams/internal/performance"
	"github.com/mind-engage/mindengage-exams/internal/rbac"
	"github.com/mind-engage/mindengage-exams/internal/submission"
	syncx "github.com/mind-engage/mindengage-exams/internal/sync"
)

// EventLog records audit events and reads them back per owner.
type EventLog interface {
	submission.Recorder
	Recent(ctx context.Context, q syncx.EventQuery) ([]syncx.Event, error)
}

type Deps struct {
	Store   exam.Store
	Engine  *submission.Engine
	Auth    *authmw.AuthService
	Log     *zap.Logger
	Metrics *metrics.Metrics
	// Events receives TestDeleted audit records and serves /events; optional.
	Events EventLog

	RateLimitPerMinute int
	CORSOrigins        []string
}

func NewRouter(d Deps) chi.Router {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	resolver := assignment.New(d.Store)
	agg := performance.New(d.Store)
	authLimiter := authmw.NewIPLimiter(d.RateLimitPerMinute)
	submitLimiter := authmw.NewIPLimiter(d.RateLimitPerMinute)
	log := d.Log

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, logging.RequestLogger(log), middleware.Recoverer)
	r.Use(d.Metrics.Middleware)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   d.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}

	r.Group(func(ar chi.Router) {
		ar.Use(authLimiter.Middleware)
		ar.Post("/auth/register", authmw.RegisterHandler(d.Auth, d.Store, log))
		ar.Post("/auth/login", authmw.LoginHandler(d.Auth, d.Store, log))
	})

	// Protected API (JWT → stored account → RBAC)
	r.Group(func(pr chi.Router) {
		pr.Use(authmw.JWTMiddleware(d.Auth))
		pr.Use(authmw.AttachUserFromStore(d.Store, log))

		// Faculty
		pr.With(rbac.Require(rbac.TestCreate)).
			Post("/tests", CreateTestHandler(d.Store, log))
		pr.With(rbac.Require(rbac.TestViewOwn)).
			Get("/tests", ListOwnedTestsHandler(resolver, log))
		pr.With(rbac.Require(rbac.TestManageOwn)).
			Patch("/tests/{testID}/audience", SetAudienceHandler(d.Store, log))
		pr.With(rbac.Require(rbac.TestManageOwn)).
			Delete("/tests/{testID}", DeleteTestHandler(d.Store, d.Events, log))
		pr.With(rbac.Require(rbac.QuestionCreate)).
			Post("/tests/{testID}/questions", AddQuestionHandler(d.Store, log))
		pr.With(rbac.Require(rbac.QuestionView)).
			Get("/tests/{testID}/questions", ListQuestionsHandler(d.Store, log))
		pr.With(rbac.Require(rbac.ScoresView)).
			Get("/tests/{testID}/scores", TestScoresHandler(d.Store, agg, log))
		pr.With(rbac.Require(rbac.ScoresView)).
			Get("/tests/{testID}/submissions", TestSubmissionsHandler(d.Store, agg, d.Engine, log))
		pr.With(rbac.Require(rbac.UsersList)).
			Get("/students", ListStudentsHandler(d.Store, log))
		if d.Events != nil {
			pr.With(rbac.Require(rbac.EventsView)).
				Get("/events", EventsHandler(d.Events, log))
		}

		// Student
		pr.With(rbac.Require(rbac.TestViewAssigned)).
			Get("/me/tests", MyTestsHandler(resolver, log))
		pr.With(rbac.Require(rbac.TestTake)).
			Get("/tests/{testID}/take", TakeTestHandler(d.Store, log))
		pr.With(rbac.Require(rbac.SubmissionCreate), submitLimiter.Middleware).
			Post("/tests/{testID}/submit", SubmitHandler(d.Store, d.Engine, log))
		pr.With(rbac.Require(rbac.SubmissionViewOwn)).
			Get("/me/summary", MySummaryHandler(agg, log))
		pr.With(rbac.Require(rbac.SubmissionViewOwn)).
			Get("/me/performance", MyPerformanceHandler(agg, log))
		pr.With(rbac.Require(rbac.ReportExportOwn)).
			Get("/me/report.pdf", MyReportHandler(agg, log))
	})

	return r
}
