package model

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// SyncRecord is one row of operator-facing history: what happened to one
// email. It is never read back by the reconciliation path; in-flight
// de-duplication state lives in memory only.
type SyncRecord struct {
	bun.BaseModel `bun:"table:sync_records"`

	ID            string  `bun:"id,pk,notnull"`
	MessageID     string  `bun:"message_id,notnull"`
	Subject       string  `bun:"subject"`
	Outcome       string  `bun:"outcome,notnull"`
	Backend       string  `bun:"backend"`
	NativeEventID string  `bun:"native_event_id"`
	Score         float64 `bun:"score"`
	CreatedAt     int64   `bun:"created_at,notnull"`
}

func (r *SyncRecord) Insert(ctx context.Context, db bun.IDB) error {
	if db == nil {
		return fmt.Errorf("SyncRecord.Insert: db is nil")
	}
	if r.ID == "" {
		return fmt.Errorf("SyncRecord.Insert: id is blank")
	}
	if r.Outcome == "" {
		return fmt.Errorf("SyncRecord.Insert: outcome is blank")
	}
	if r.CreatedAt == 0 {
		r.CreatedAt = time.Now().UTC().Unix()
	}
	if _, err := db.NewInsert().
		Model(r).
		Exec(ctx); err != nil {
		return fmt.Errorf("SyncRecord.Insert: %w", err)
	}
	return nil
}
