package syncx

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	TypeSubmissionRecorded = "SubmissionRecorded"
	TypeSubmissionReplaced = "SubmissionReplaced"
	TypeTestDeleted        = "TestDeleted"
)

type Event struct {
	Offset    int64           `json:"offset"`
	SiteID    string          `json:"site_id"`
	Type      string          `json:"type"`
	Key       string          `json:"key"`
	OwnerID   string          `json:"owner_id"`
	Data      json.RawMessage `json:"data"`
	CreatedAt int64           `json:"created_at"`
}

// EventQuery filters Recent. Empty fields match everything.
type EventQuery struct {
	Type    string
	OwnerID string
	Limit   int
}

type EventRepo struct {
	db     *sql.DB
	siteID string
}

func NewEventRepo(db *sql.DB, siteID string) *EventRepo {
	if siteID == "" {
		siteID = "local"
	}
	return &EventRepo{db: db, siteID: siteID}
}

func (r *EventRepo) Append(ctx context.Context, e Event) error {
	if e.SiteID == "" {
		e.SiteID = r.siteID
	}
	if len(e.Data) == 0 {
		e.Data = json.RawMessage("null")
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO event_log (site_id, typ, key, owner_id, data, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		e.SiteID, e.Type, e.Key, e.OwnerID, string(e.Data), time.Now().Unix())
	return err
}

// Record marshals data and appends it under typ/key for owner.
func (r *EventRepo) Record(ctx context.Context, typ, key, owner string, data any) error {
	buf, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return r.Append(ctx, Event{Type: typ, Key: key, OwnerID: owner, Data: buf})
}

// Recent returns the newest events matching q, newest first. Limit defaults
// to 100.
func (r *EventRepo) Recent(ctx context.Context, q EventQuery) ([]Event, error) {
	if q.Limit <= 0 {
		q.Limit = 100
	}
	var (
		where []string
		args  []any
	)
	if q.Type != "" {
		args = append(args, q.Type)
		where = append(where, fmt.Sprintf("typ=$%d", len(args)))
	}
	if q.OwnerID != "" {
		args = append(args, q.OwnerID)
		where = append(where, fmt.Sprintf("owner_id=$%d", len(args)))
	}
	stmt := `SELECT id, site_id, typ, key, owner_id, data, created_at FROM event_log`
	if len(where) > 0 {
		stmt += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, q.Limit)
	stmt += fmt.Sprintf(` ORDER BY id DESC LIMIT $%d`, len(args))

	rows, err := r.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Event{}
	for rows.Next() {
		var (
			e    Event
			data string
		)
		if err := rows.Scan(&e.Offset, &e.SiteID, &e.Type, &e.Key, &e.OwnerID, &data, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Data = json.RawMessage(data)
		out = append(out, e)
	}
	return out, rows.Err()
}
