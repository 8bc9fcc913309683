// Package assignment decides which tests a student can see and whether they
// have already taken them.
package assignment

import (
	"context"
	"errors"
	"sort"

	"github.com/mind-engage/mindengage-exams/internal/exam"
)

type Resolver struct {
	store exam.Store
}

func New(store exam.Store) *Resolver { return &Resolver{store: store} }

// VisibleTests returns the tests open to everyone plus those addressed to
// username exactly, newest first. Tests created at the same instant keep
// their insertion order.
func (r *Resolver) VisibleTests(ctx context.Context, username string) ([]exam.Test, error) {
	audiences := []string{exam.AudienceAll}
	if username != "" && username != exam.AudienceAll {
		audiences = append(audiences, username)
	}
	tests, err := r.store.ListTests(ctx, exam.TestFilter{Audiences: audiences})
	if err != nil {
		return nil, err
	}
	newestFirst(tests)
	return tests, nil
}

// OwnedTests lists the tests a faculty member created, newest first.
func (r *Resolver) OwnedTests(ctx context.Context, facultyID string) ([]exam.Test, error) {
	tests, err := r.store.ListTests(ctx, exam.TestFilter{OwnerID: facultyID})
	if err != nil {
		return nil, err
	}
	newestFirst(tests)
	return tests, nil
}

func (r *Resolver) HasSubmitted(ctx context.Context, testID, studentID string) (bool, error) {
	_, err := r.store.FindSubmission(ctx, testID, studentID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, exam.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

// newestFirst expects tests in insertion order, which the store guarantees.
func newestFirst(tests []exam.Test) {
	sort.SliceStable(tests, func(i, j int) bool {
		return tests[i].CreatedAt.After(tests[j].CreatedAt)
	})
}
