package model_test

import (
	"context"
	"database/sql"
	"testing"

	"mail2cal/src-daemon/model"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func TestSyncRecord(t *testing.T) {
	// init db
	db, err := sql.Open(sqliteshim.ShimName, ":memory:")
	if err != nil {
		t.Error(err)
	}
	bundb := bun.NewDB(db, sqlitedialect.New())

	if err := model.CreateSchema(context.Background(), bundb); err != nil {
		t.Error(err)
	}

	// insert a record
	record := model.SyncRecord{
		ID:            uuid.NewString(),
		MessageID:     "<test@example.com>",
		Subject:       "Meeting Request: weekly sync",
		Outcome:       "created",
		Backend:       "caldav",
		NativeEventID: uuid.NewString(),
		Score:         0.0,
	}
	if err := record.Insert(context.Background(), bundb); err != nil {
		t.Error(err)
	}
	if record.CreatedAt == 0 {
		t.Error("insert should stamp created_at")
	}

	// case: record round-trips
	func() {
		found := new(model.SyncRecord)
		if err := bundb.NewSelect().
			Model(found).
			Where("message_id = ?", record.MessageID).
			Scan(context.Background()); err != nil {
			t.Error(err)
		}
		if found.Outcome != "created" || found.Backend != "caldav" {
			t.Error("unexpected record", found)
		}
	}()

	// case: blank outcome rejected
	func() {
		bad := model.SyncRecord{
			ID:        uuid.NewString(),
			MessageID: "<other@example.com>",
		}
		if err := bad.Insert(context.Background(), bundb); err == nil {
			t.Error("blank outcome should be rejected")
		}
	}()
}
