package exam

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadySubmitted = errors.New("test already submitted")
	ErrUsernameTaken    = errors.New("username already exists")
	ErrForbidden        = errors.New("forbidden")

	// ErrDuplicateSubmission is returned by InsertSubmission when a submission
	// for the same (test, student) pair already exists.
	ErrDuplicateSubmission = errors.New("duplicate submission")
)

// AlreadySubmittedError carries the submission that is already on record so
// the caller can show its score instead of an error page.
type AlreadySubmittedError struct {
	Previous Submission
}

func (e *AlreadySubmittedError) Error() string {
	return fmt.Sprintf("test %s already submitted by %s (score %g/%g)",
		e.Previous.TestID, e.Previous.StudentID, e.Previous.Score, e.Previous.Possible)
}

func (e *AlreadySubmittedError) Unwrap() error { return ErrAlreadySubmitted }

func notFound(what, id string) error {
	return fmt.Errorf("%s %q: %w", what, id, ErrNotFound)
}
