package rbac

import "github.com/mind-engage/mindengage-exams/internal/exam"

// Permission names one guarded action, written as "resource:action".
type Permission string

const (
	TestViewAssigned  Permission = "test:view-assigned"
	TestTake          Permission = "test:take"
	SubmissionCreate  Permission = "submission:create"
	SubmissionViewOwn Permission = "submission:view-own"
	ReportExportOwn   Permission = "report:export-own"

	TestCreate     Permission = "test:create"
	TestViewOwn    Permission = "test:view-own"
	TestManageOwn  Permission = "test:manage-own"
	QuestionCreate Permission = "question:create"
	QuestionView   Permission = "question:view"
	ScoresView     Permission = "scores:view"
	UsersList      Permission = "users:list"
	EventsView     Permission = "events:view"
)

// RolePermissions is the default policy. A trailing "*" grants every
// permission sharing the prefix.
var RolePermissions = map[string][]Permission{
	exam.RoleStudent: {
		TestViewAssigned,
		TestTake,
		SubmissionCreate,
		SubmissionViewOwn,
		ReportExportOwn,
	},
	exam.RoleFaculty: {
		TestCreate,
		TestViewOwn,
		TestManageOwn,
		"question:*",
		ScoresView,
		UsersList,
		EventsView,
	},
}
