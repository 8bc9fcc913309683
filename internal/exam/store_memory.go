package exam

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryStore struct {
	mu          sync.RWMutex
	seq         int64
	tests       map[string]Test
	questions   map[string][]Question // testID -> questions in insertion order
	submissions map[string]Submission // subKey(test, student) -> submission
	users       map[string]User
}

// NewMemoryStore returns a Store kept entirely in process memory.
func NewMemoryStore() Store {
	return &memoryStore{
		tests:       map[string]Test{},
		questions:   map[string][]Question{},
		submissions: map[string]Submission{},
		users:       map[string]User{},
	}
}

func subKey(testID, studentID string) string { return testID + "\x00" + studentID }

func newID() string { return uuid.NewString() }

func (m *memoryStore) CreateTest(_ context.Context, t Test) (Test, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == "" {
		t.ID = newID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	m.seq++
	t.Seq = m.seq
	m.tests[t.ID] = t
	return t, nil
}

func (m *memoryStore) FindTestByID(_ context.Context, id string) (Test, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tests[id]
	if !ok {
		return Test{}, notFound("test", id)
	}
	return t, nil
}

func (m *memoryStore) ListTests(_ context.Context, f TestFilter) ([]Test, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Test, 0, len(m.tests))
	for _, t := range m.tests {
		if f.OwnerID != "" && t.OwnerID != f.OwnerID {
			continue
		}
		if len(f.Audiences) > 0 && !contains(f.Audiences, t.Audience) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (m *memoryStore) SetAudience(_ context.Context, testID, audience string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tests[testID]
	if !ok {
		return notFound("test", testID)
	}
	t.Audience = audience
	m.tests[testID] = t
	return nil
}

func (m *memoryStore) DeleteTestCascade(_ context.Context, testID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tests[testID]; !ok {
		return notFound("test", testID)
	}
	delete(m.tests, testID)
	delete(m.questions, testID)
	for k, s := range m.submissions {
		if s.TestID == testID {
			delete(m.submissions, k)
		}
	}
	return nil
}

func (m *memoryStore) AddQuestion(_ context.Context, q Question) (Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tests[q.TestID]; !ok {
		return Question{}, notFound("test", q.TestID)
	}
	if q.ID == "" {
		q.ID = newID()
	}
	m.questions[q.TestID] = append(m.questions[q.TestID], q)
	return q, nil
}

func (m *memoryStore) FindQuestionsByTestID(_ context.Context, testID string) ([]Question, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	qs := m.questions[testID]
	out := make([]Question, len(qs))
	copy(out, qs)
	return out, nil
}

func (m *memoryStore) FindSubmission(_ context.Context, testID, studentID string) (Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.submissions[subKey(testID, studentID)]
	if !ok {
		return Submission{}, notFound("submission", testID+"/"+studentID)
	}
	return cloneSubmission(s), nil
}

func (m *memoryStore) InsertSubmission(_ context.Context, s Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := subKey(s.TestID, s.StudentID)
	if _, ok := m.submissions[k]; ok {
		return ErrDuplicateSubmission
	}
	if s.ID == "" {
		s.ID = newID()
	}
	m.submissions[k] = cloneSubmission(s)
	return nil
}

func (m *memoryStore) ReplaceSubmission(_ context.Context, s Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := subKey(s.TestID, s.StudentID)
	if prev, ok := m.submissions[k]; ok {
		s.ID = prev.ID
	} else if s.ID == "" {
		s.ID = newID()
	}
	m.submissions[k] = cloneSubmission(s)
	return nil
}

func (m *memoryStore) ListSubmissions(_ context.Context, f SubmissionFilter) ([]Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Submission{}
	for _, s := range m.submissions {
		if f.TestID != "" && s.TestID != f.TestID {
			continue
		}
		if f.StudentID != "" && s.StudentID != f.StudentID {
			continue
		}
		out = append(out, cloneSubmission(s))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out, nil
}

func (m *memoryStore) CreateUser(_ context.Context, u User) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Username == u.Username {
			return User{}, ErrUsernameTaken
		}
	}
	if u.ID == "" {
		u.ID = newID()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	m.users[u.ID] = u
	return u, nil
}

func (m *memoryStore) FindUserByID(_ context.Context, id string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, notFound("user", id)
	}
	return u, nil
}

func (m *memoryStore) FindUserByUsername(_ context.Context, username string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Username == username {
			return u, nil
		}
	}
	return User{}, notFound("user", username)
}

func (m *memoryStore) ListUsersByRole(_ context.Context, role string) ([]User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []User{}
	for _, u := range m.users {
		if u.Role == role {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func contains(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}

func cloneSubmission(s Submission) Submission {
	ans := make(map[string][]string, len(s.Answers))
	for k, v := range s.Answers {
		ans[k] = append([]string(nil), v...)
	}
	s.Answers = ans
	return s
}
