package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	api "github.com/mind-engage/mindengage-exams/internal/api/http"
	auth "github.com/mind-engage/mindengage-exams/internal/auth/middleware"
	"github.com/mind-engage/mindengage-exams/internal/bootstrap"
	"github.com/mind-engage/mindengage-exams/internal/config"
	"github.com/mind-engage/mindengage-exams/internal/logging"
	"github.com/mind-engage/mindengage-exams/internal/metrics"
	"github.com/mind-engage/mindengage-exams/internal/submission"
	syncx "github.com/mind-engage/mindengage-exams/internal/sync"
)

func main() {
	configDir := flag.String("config", ".", "directory containing config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configDir)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("examd stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// --- Store ---
	store, err := bootstrap.OpenStore(ctx, cfg.DB, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	locker, closeLocker, err := bootstrap.NewLocker(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer closeLocker()

	policy, err := submission.ParsePolicy(cfg.Submission.Policy)
	if err != nil {
		return err
	}

	m := metrics.New()
	opts := []submission.Option{
		submission.WithLocker(locker),
		submission.WithPolicy(policy),
		submission.WithLogger(logger.Named("submission")),
		submission.WithMetrics(m),
	}
	var events api.EventLog
	if store.SQL != nil {
		repo := syncx.NewEventRepo(store.SQL, "")
		events = repo
		opts = append(opts, submission.WithRecorder(repo))
	}

	router := api.NewRouter(api.Deps{
		Store:              store,
		Engine:             submission.New(store, opts...),
		Auth:               auth.NewAuthService(cfg.Auth.HMACSecret, cfg.Auth.TokenTTL),
		Log:                logger,
		Metrics:            m,
		Events:             events,
		RateLimitPerMinute: cfg.RateLimit.PerMinute,
		CORSOrigins:        cfg.CORS.Origins,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("mode", string(cfg.Mode)),
			zap.String("db", cfg.DB.Driver),
			zap.String("policy", string(policy)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case s := <-sig:
		logger.Info("shutting down", zap.String("signal", s.String()))
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 15*time.Second)
	defer stop()
	return srv.Shutdown(shutdownCtx)
}
