package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	_ "modernc.org/sqlite" // driver: sqlite
)

type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
	DriverMongo    Driver = "mongo"
	DriverMemory   Driver = "memory"
)

// Open opens a SQL database and ensures the schema exists.
func Open(ctx context.Context, driver Driver, dsn string) (*sql.DB, error) {
	var drvName string
	switch driver {
	case DriverSQLite:
		drvName = "sqlite" // modernc driver
		if dsn == "" {
			dsn = "file:exams.db?cache=shared&mode=rwc&_pragma=busy_timeout(5000)"
		}
	case DriverPostgres:
		drvName = "pgx" // pgx stdlib driver
		if dsn == "" {
			dsn = "postgres://localhost:5432/exams?sslmode=disable"
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", driver)
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := ensureSchema(ctx, db, driver); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema: %w", err)
	}
	return db, nil
}

// OpenMongo connects to uri and returns the named database.
func OpenMongo(ctx context.Context, uri, name string) (*mongo.Client, *mongo.Database, error) {
	if uri == "" {
		uri = "mongodb://localhost:27017"
	}
	if name == "" {
		name = "exams"
	}
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, nil, err
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, err
	}
	return client, client.Database(name), nil
}

func ensureSchema(ctx context.Context, db *sql.DB, driver Driver) error {
	var schema string
	switch driver {
	case DriverSQLite:
		schema = schemaSQLite
	case DriverPostgres:
		schema = schemaPostgres
	}
	_, err := db.ExecContext(ctx, schema)
	return err
}

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  username TEXT NOT NULL UNIQUE,
  password_hash TEXT NOT NULL,
  role TEXT NOT NULL,
  created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tests (
  id TEXT PRIMARY KEY,
  seq INTEGER NOT NULL,
  title TEXT NOT NULL,
  type TEXT NOT NULL DEFAULT 'assignment',
  audience TEXT NOT NULL DEFAULT 'all',
  owner_id TEXT NOT NULL,
  duration_minutes INTEGER,
  seconds_per_question INTEGER,
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS tests_audience_idx ON tests(audience);
CREATE INDEX IF NOT EXISTS tests_owner_idx ON tests(owner_id);

CREATE TABLE IF NOT EXISTS questions (
  id TEXT PRIMARY KEY,
  test_id TEXT NOT NULL REFERENCES tests(id) ON DELETE CASCADE,
  seq INTEGER NOT NULL,
  text TEXT NOT NULL,
  type TEXT NOT NULL,
  marks TEXT NOT NULL,
  options_json TEXT NOT NULL DEFAULT '[]',
  corrects_json TEXT NOT NULL DEFAULT '[]',
  expected TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS questions_test_idx ON questions(test_id, seq);

CREATE TABLE IF NOT EXISTS submissions (
  id TEXT PRIMARY KEY,
  test_id TEXT NOT NULL REFERENCES tests(id) ON DELETE CASCADE,
  student_id TEXT NOT NULL,
  answers_json TEXT NOT NULL,
  score REAL NOT NULL DEFAULT 0,
  possible REAL NOT NULL DEFAULT 0,
  submitted_at INTEGER NOT NULL,
  UNIQUE (test_id, student_id)
);
CREATE INDEX IF NOT EXISTS submissions_student_idx ON submissions(student_id);

CREATE TABLE IF NOT EXISTS event_log (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  site_id TEXT NOT NULL DEFAULT 'local',
  typ TEXT NOT NULL,                     -- e.g., SubmissionRecorded
  key TEXT NOT NULL,                     -- natural key: submission or test id
  owner_id TEXT NOT NULL DEFAULT '',     -- faculty owning the test
  data TEXT NOT NULL,                    -- JSON payload
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS event_log_owner_idx ON event_log(owner_id, id);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  username TEXT NOT NULL UNIQUE,
  password_hash TEXT NOT NULL,
  role TEXT NOT NULL,
  created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS tests (
  id TEXT PRIMARY KEY,
  seq BIGINT NOT NULL,
  title TEXT NOT NULL,
  type TEXT NOT NULL DEFAULT 'assignment',
  audience TEXT NOT NULL DEFAULT 'all',
  owner_id TEXT NOT NULL,
  duration_minutes INTEGER,
  seconds_per_question INTEGER,
  created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS tests_audience_idx ON tests(audience);
CREATE INDEX IF NOT EXISTS tests_owner_idx ON tests(owner_id);

CREATE TABLE IF NOT EXISTS questions (
  id TEXT PRIMARY KEY,
  test_id TEXT NOT NULL REFERENCES tests(id) ON DELETE CASCADE,
  seq BIGINT NOT NULL,
  text TEXT NOT NULL,
  type TEXT NOT NULL,
  marks TEXT NOT NULL,
  options_json TEXT NOT NULL DEFAULT '[]',
  corrects_json TEXT NOT NULL DEFAULT '[]',
  expected TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS questions_test_idx ON questions(test_id, seq);

CREATE TABLE IF NOT EXISTS submissions (
  id TEXT PRIMARY KEY,
  test_id TEXT NOT NULL REFERENCES tests(id) ON DELETE CASCADE,
  student_id TEXT NOT NULL,
  answers_json TEXT NOT NULL,
  score DOUBLE PRECISION NOT NULL DEFAULT 0,
  possible DOUBLE PRECISION NOT NULL DEFAULT 0,
  submitted_at BIGINT NOT NULL,
  UNIQUE (test_id, student_id)
);
CREATE INDEX IF NOT EXISTS submissions_student_idx ON submissions(student_id);

CREATE TABLE IF NOT EXISTS event_log (
  id BIGSERIAL PRIMARY KEY,
  site_id TEXT NOT NULL DEFAULT 'local',
  typ TEXT NOT NULL,
  key TEXT NOT NULL,
  owner_id TEXT NOT NULL DEFAULT '',
  data TEXT NOT NULL,
  created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS event_log_owner_idx ON event_log(owner_id, id);
`
