package exam

import "context"

type TestFilter struct {
	Audiences []string // match any of these selectors; empty means no audience filter
	OwnerID   string
}

type SubmissionFilter struct {
	TestID    string
	StudentID string
}

// Store is the document store the engine runs against. Implementations must
// make InsertSubmission atomic with respect to the (TestID, StudentID) pair.
type Store interface {
	CreateTest(ctx context.Context, t Test) (Test, error)
	FindTestByID(ctx context.Context, id string) (Test, error)
	// ListTests returns matching tests in insertion order.
	ListTests(ctx context.Context, f TestFilter) ([]Test, error)
	SetAudience(ctx context.Context, testID, audience string) error
	// DeleteTestCascade removes the test, its questions and its submissions.
	DeleteTestCascade(ctx context.Context, testID string) error

	AddQuestion(ctx context.Context, q Question) (Question, error)
	FindQuestionsByTestID(ctx context.Context, testID string) ([]Question, error)

	FindSubmission(ctx context.Context, testID, studentID string) (Submission, error)
	InsertSubmission(ctx context.Context, s Submission) error
	// ReplaceSubmission upserts on (TestID, StudentID), keeping the stored ID.
	ReplaceSubmission(ctx context.Context, s Submission) error
	ListSubmissions(ctx context.Context, f SubmissionFilter) ([]Submission, error)

	CreateUser(ctx context.Context, u User) (User, error)
	FindUserByID(ctx context.Context, id string) (User, error)
	FindUserByUsername(ctx context.Context, username string) (User, error)
	ListUsersByRole(ctx context.Context, role string) ([]User, error)
}

var (
	_ Store = (*memoryStore)(nil)
	_ Store = (*SQLStore)(nil)
	_ Store = (*MongoStore)(nil)
)
