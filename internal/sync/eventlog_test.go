package syncx

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mind-engage/mindengage-exams/internal/db"
)

func TestEventRepo_RecordAndRecent(t *testing.T) {
	ctx := context.Background()
	dbh, err := db.Open(ctx, db.DriverSQLite, "file:eventlog_test?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer dbh.Close()

	repo := NewEventRepo(dbh, "")
	if err := repo.Record(ctx, TypeSubmissionRecorded, "sub-1", "fac-a", map[string]any{"score": 3}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := repo.Record(ctx, TypeTestDeleted, "test-1", "fac-b", map[string]string{"title": "Quiz"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := repo.Record(ctx, TypeSubmissionRecorded, "sub-2", "fac-a", map[string]any{"score": 1}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	all, err := repo.Recent(ctx, EventQuery{Limit: 10})
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(all) != 3 || all[0].Key != "sub-2" || all[0].SiteID != "local" {
		t.Fatalf("Recent = %+v", all)
	}

	subs, _ := repo.Recent(ctx, EventQuery{Type: TypeSubmissionRecorded, Limit: 1})
	if len(subs) != 1 || subs[0].Key != "sub-2" || subs[0].OwnerID != "fac-a" {
		t.Fatalf("Recent(type, 1) = %+v", subs)
	}
	var payload map[string]float64
	if err := json.Unmarshal(subs[0].Data, &payload); err != nil || payload["score"] != 1 {
		t.Fatalf("payload = %s", subs[0].Data)
	}

	mine, _ := repo.Recent(ctx, EventQuery{OwnerID: "fac-b"})
	if len(mine) != 1 || mine[0].Type != TypeTestDeleted {
		t.Fatalf("Recent(owner) = %+v", mine)
	}
	none, _ := repo.Recent(ctx, EventQuery{Type: TypeTestDeleted, OwnerID: "fac-a"})
	if none == nil || len(none) != 0 {
		t.Fatalf("Recent(type, owner) = %+v, want empty slice", none)
	}
}
