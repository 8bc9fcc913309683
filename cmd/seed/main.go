// Command seed loads sample accounts and a sample quiz into the configured store.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	auth "github.com/mind-engage/mindengage-exams/internal/auth/middleware"
	"github.com/mind-engage/mindengage-exams/internal/bootstrap"
	"github.com/mind-engage/mindengage-exams/internal/config"
	"github.com/mind-engage/mindengage-exams/internal/exam"
	"github.com/mind-engage/mindengage-exams/internal/logging"
)

const samplePassword = "password123"

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

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := bootstrap.OpenStore(ctx, cfg.DB, logger)
	if err != nil {
		logger.Fatal("open store", zap.Error(err))
	}
	defer store.Close()

	if err := seed(ctx, store, logger); err != nil {
		logger.Fatal("seed", zap.Error(err))
	}
}

func seed(ctx context.Context, store exam.Store, logger *zap.Logger) error {
	faculty, err := ensureUser(ctx, store, "faculty1", exam.RoleFaculty)
	if err != nil {
		return err
	}
	if _, err := ensureUser(ctx, store, "student1", exam.RoleStudent); err != nil {
		return err
	}

	existing, err := store.ListTests(ctx, exam.TestFilter{OwnerID: faculty.ID})
	if err != nil {
		return err
	}
	for _, t := range existing {
		if t.Title == "Sample Quiz" {
			logger.Info("sample quiz already present", zap.String("test_id", t.ID))
			return nil
		}
	}

	quiz, err := store.CreateTest(ctx, exam.Test{
		Title:    "Sample Quiz",
		Type:     "quiz",
		Audience: exam.AudienceAll,
		OwnerID:  faculty.ID,
	})
	if err != nil {
		return err
	}
	questions := []exam.Question{
		{Text: "What is 2+2?", Marks: 1, Key: exam.Numeric{Expected: "4"}},
		{Text: "Select prime numbers", Marks: 2, Key: exam.MultiChoice{
			Options: []string{"2", "3", "4", "6"}, Correct: []string{"2", "3"}}},
		{Text: "Capital of France?", Marks: 1, Key: exam.ShortText{Expected: "paris"}},
		{Text: "Choose the color red", Marks: 1, Key: exam.SingleChoice{
			Options: []string{"red", "blue", "green"}, Correct: []string{"red"}}},
	}
	for _, q := range questions {
		q.TestID = quiz.ID
		if _, err := store.AddQuestion(ctx, q); err != nil {
			return err
		}
	}
	logger.Info("sample data inserted", zap.String("test_id", quiz.ID), zap.Int("questions", len(questions)))
	return nil
}

func ensureUser(ctx context.Context, store exam.Store, username, role string) (exam.User, error) {
	u, err := store.FindUserByUsername(ctx, username)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, exam.ErrNotFound) {
		return exam.User{}, err
	}
	hash, err := auth.HashPassword(samplePassword)
	if err != nil {
		return exam.User{}, err
	}
	return store.CreateUser(ctx, exam.User{Username: username, Role: role, PasswordHash: hash})
}
