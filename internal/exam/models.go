package exam

import "time"

// AudienceAll is the audience selector that makes a test visible to every student.
const AudienceAll = "all"

const (
	RoleFaculty = "faculty"
	RoleStudent = "student"
)

type Test struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Type     string `json:"type"`     // free-form: quiz, assignment, ...
	Audience string `json:"audience"` // "all" or a student username
	OwnerID  string `json:"owner_id"`

	DurationMinutes    *int `json:"duration_minutes,omitempty"`
	SecondsPerQuestion *int `json:"seconds_per_question,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	Seq       int64     `json:"-"` // insertion order, assigned by the store
}

type Question struct {
	ID     string    `json:"id"`
	TestID string    `json:"test_id"`
	Text   string    `json:"text"`
	Marks  float64   `json:"marks"`
	Key    AnswerKey `json:"-"`

	// Defect describes a malformed stored value that was replaced by a safe
	// default while decoding (e.g. non-numeric marks). Empty when clean.
	Defect string `json:"-"`
}

// Kind returns the stored type tag of the question.
func (q Question) Kind() string {
	if q.Key == nil {
		return ""
	}
	return q.Key.Kind()
}

type Submission struct {
	ID          string              `json:"id"`
	TestID      string              `json:"test_id"`
	StudentID   string              `json:"student_id"`
	Answers     map[string][]string `json:"answers"` // questionID -> raw answers
	Score       float64             `json:"score"`
	Possible    float64             `json:"possible"` // frozen at submission time
	SubmittedAt time.Time           `json:"submitted_at"`
}

type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	Role         string    `json:"role"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
