package exam

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

type SQLStore struct {
	db     *sql.DB
	driver string // "sqlite" or "postgres"
}

func NewSQLStore(db *sql.DB, driver string) *SQLStore {
	return &SQLStore{db: db, driver: driver}
}

func (s *SQLStore) CreateTest(ctx context.Context, t Test) (Test, error) {
	if t.ID == "" {
		t.ID = newID()
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	err := s.db.QueryRowContext(ctx, `INSERT INTO tests
		(id, seq, title, type, audience, owner_id, duration_minutes, seconds_per_question, created_at)
		VALUES ($1, (SELECT COALESCE(MAX(seq),0)+1 FROM tests), $2, $3, $4, $5, $6, $7, $8)
		RETURNING seq`,
		t.ID, t.Title, t.Type, t.Audience, t.OwnerID,
		nullInt(t.DurationMinutes), nullInt(t.SecondsPerQuestion), t.CreatedAt.UnixNano(),
	).Scan(&t.Seq)
	if err != nil {
		return Test{}, fmt.Errorf("insert test: %w", err)
	}
	return t, nil
}

const testColumns = `id, seq, title, type, audience, owner_id, duration_minutes, seconds_per_question, created_at`

func scanTest(sc interface{ Scan(...any) error }) (Test, error) {
	var (
		t        Test
		dur, spq sql.NullInt64
		created  int64
	)
	if err := sc.Scan(&t.ID, &t.Seq, &t.Title, &t.Type, &t.Audience, &t.OwnerID, &dur, &spq, &created); err != nil {
		return Test{}, err
	}
	t.DurationMinutes = intPtr(dur)
	t.SecondsPerQuestion = intPtr(spq)
	t.CreatedAt = time.Unix(0, created).UTC()
	return t, nil
}

func (s *SQLStore) FindTestByID(ctx context.Context, id string) (Test, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+testColumns+` FROM tests WHERE id=$1`, id)
	t, err := scanTest(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Test{}, notFound("test", id)
		}
		return Test{}, err
	}
	return t, nil
}

func (s *SQLStore) ListTests(ctx context.Context, f TestFilter) ([]Test, error) {
	var (
		where []string
		args  []any
	)
	if f.OwnerID != "" {
		args = append(args, f.OwnerID)
		where = append(where, "owner_id=$"+strconv.Itoa(len(args)))
	}
	if len(f.Audiences) > 0 {
		ph := make([]string, 0, len(f.Audiences))
		for _, a := range f.Audiences {
			args = append(args, a)
			ph = append(ph, "$"+strconv.Itoa(len(args)))
		}
		where = append(where, "audience IN ("+strings.Join(ph, ",")+")")
	}
	q := `SELECT ` + testColumns + ` FROM tests`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY seq ASC"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Test{}
	for rows.Next() {
		t, err := scanTest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLStore) SetAudience(ctx context.Context, testID, audience string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tests SET audience=$1 WHERE id=$2`, audience, testID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return notFound("test", testID)
	}
	return nil
}

func (s *SQLStore) DeleteTestCascade(ctx context.Context, testID string) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	// foreign_keys is a per-connection pragma in sqlite, so cascade explicitly.
	if _, err = tx.ExecContext(ctx, `DELETE FROM submissions WHERE test_id=$1`, testID); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM questions WHERE test_id=$1`, testID); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM tests WHERE id=$1`, testID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		err = notFound("test", testID)
	}
	return err
}

func (s *SQLStore) AddQuestion(ctx context.Context, q Question) (Question, error) {
	if _, err := s.FindTestByID(ctx, q.TestID); err != nil {
		return Question{}, err
	}
	if q.ID == "" {
		q.ID = newID()
	}
	kf := EncodeKey(q.Key)
	opts, _ := json.Marshal(kf.Options)
	corr, _ := json.Marshal(kf.Corrects)
	_, err := s.db.ExecContext(ctx, `INSERT INTO questions
		(id, test_id, seq, text, type, marks, options_json, corrects_json, expected)
		VALUES ($1, $2, (SELECT COALESCE(MAX(seq),0)+1 FROM questions WHERE test_id=$2), $3, $4, $5, $6, $7, $8)`,
		q.ID, q.TestID, q.Text, kf.Type, strconv.FormatFloat(q.Marks, 'f', -1, 64),
		string(opts), string(corr), kf.Expected)
	if err != nil {
		return Question{}, fmt.Errorf("insert question: %w", err)
	}
	return q, nil
}

func (s *SQLStore) FindQuestionsByTestID(ctx context.Context, testID string) ([]Question, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, test_id, text, type, marks, options_json, corrects_json, expected
		FROM questions WHERE test_id=$1 ORDER BY seq ASC`, testID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Question{}
	for rows.Next() {
		var (
			q                 Question
			kf                KeyFields
			marks, opts, corr string
		)
		if err := rows.Scan(&q.ID, &q.TestID, &q.Text, &kf.Type, &marks, &opts, &corr, &kf.Expected); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(opts), &kf.Options)
		_ = json.Unmarshal([]byte(corr), &kf.Corrects)
		q.Key = DecodeKey(kf)
		decodeMarks(&q, marks)
		out = append(out, q)
	}
	return out, rows.Err()
}

const submissionColumns = `id, test_id, student_id, answers_json, score, possible, submitted_at`

func scanSubmission(sc interface{ Scan(...any) error }) (Submission, error) {
	var (
		sub     Submission
		ajson   string
		created int64
	)
	if err := sc.Scan(&sub.ID, &sub.TestID, &sub.StudentID, &ajson, &sub.Score, &sub.Possible, &created); err != nil {
		return Submission{}, err
	}
	if err := json.Unmarshal([]byte(ajson), &sub.Answers); err != nil || sub.Answers == nil {
		sub.Answers = map[string][]string{}
	}
	sub.SubmittedAt = time.Unix(0, created).UTC()
	return sub, nil
}

func (s *SQLStore) FindSubmission(ctx context.Context, testID, studentID string) (Submission, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+submissionColumns+` FROM submissions
		WHERE test_id=$1 AND student_id=$2`, testID, studentID)
	sub, err := scanSubmission(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Submission{}, notFound("submission", testID+"/"+studentID)
		}
		return Submission{}, err
	}
	return sub, nil
}

func (s *SQLStore) InsertSubmission(ctx context.Context, sub Submission) error {
	if sub.ID == "" {
		sub.ID = newID()
	}
	buf, err := json.Marshal(sub.Answers)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO submissions (`+submissionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		sub.ID, sub.TestID, sub.StudentID, string(buf), sub.Score, sub.Possible, sub.SubmittedAt.UnixNano())
	if err != nil {
		if s.isUniqueViolation(err) {
			return ErrDuplicateSubmission
		}
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

func (s *SQLStore) ReplaceSubmission(ctx context.Context, sub Submission) error {
	if sub.ID == "" {
		sub.ID = newID()
	}
	buf, err := json.Marshal(sub.Answers)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO submissions (`+submissionColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (test_id, student_id) DO UPDATE SET
			answers_json=EXCLUDED.answers_json,
			score=EXCLUDED.score,
			possible=EXCLUDED.possible,
			submitted_at=EXCLUDED.submitted_at`,
		sub.ID, sub.TestID, sub.StudentID, string(buf), sub.Score, sub.Possible, sub.SubmittedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("replace submission: %w", err)
	}
	return nil
}

func (s *SQLStore) ListSubmissions(ctx context.Context, f SubmissionFilter) ([]Submission, error) {
	var (
		where []string
		args  []any
	)
	if f.TestID != "" {
		args = append(args, f.TestID)
		where = append(where, "test_id=$"+strconv.Itoa(len(args)))
	}
	if f.StudentID != "" {
		args = append(args, f.StudentID)
		where = append(where, "student_id=$"+strconv.Itoa(len(args)))
	}
	q := `SELECT ` + submissionColumns + ` FROM submissions`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY submitted_at ASC"

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Submission{}
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *SQLStore) CreateUser(ctx context.Context, u User) (User, error) {
	if u.ID == "" {
		u.ID = newID()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO users (id, username, password_hash, role, created_at)
		VALUES ($1,$2,$3,$4,$5)`, u.ID, u.Username, u.PasswordHash, u.Role, u.CreatedAt.Unix())
	if err != nil {
		if s.isUniqueViolation(err) {
			return User{}, ErrUsernameTaken
		}
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return u, nil
}

func (s *SQLStore) findUser(ctx context.Context, where, arg string) (User, error) {
	var (
		u       User
		created int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT id, username, password_hash, role, created_at FROM users WHERE `+where, arg).
		Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Role, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, notFound("user", arg)
		}
		return User{}, err
	}
	u.CreatedAt = time.Unix(created, 0).UTC()
	return u, nil
}

func (s *SQLStore) FindUserByID(ctx context.Context, id string) (User, error) {
	return s.findUser(ctx, "id=$1", id)
}

func (s *SQLStore) FindUserByUsername(ctx context.Context, username string) (User, error) {
	return s.findUser(ctx, "username=$1", username)
}

func (s *SQLStore) ListUsersByRole(ctx context.Context, role string) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, username, role, created_at FROM users WHERE role=$1 ORDER BY username`, role)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []User{}
	for rows.Next() {
		var (
			u       User
			created int64
		)
		if err := rows.Scan(&u.ID, &u.Username, &u.Role, &created); err != nil {
			return nil, err
		}
		u.CreatedAt = time.Unix(created, 0).UTC()
		out = append(out, u)
	}
	return out, rows.Err()
}

func (s *SQLStore) isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed") // sqlite
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
