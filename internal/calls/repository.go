package calls

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// LogRepo persists terminal call records in Postgres. The upsert is keyed by
// the provider call id, which makes the terminal write-through idempotent
// under at-least-once webhook delivery.
type LogRepo struct {
	db    *sql.DB
	clock func() time.Time
}

func NewLogRepo(db *sql.DB) *LogRepo {
	return &LogRepo{db: db, clock: time.Now}
}

func (r *LogRepo) UpsertCompleted(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		return errors.New("calls: record id required")
	}
	now := r.clock().UTC()

	// A redelivered terminal webhook can arrive after the in-memory record
	// was evicted, in which case it re-finalizes a freshly created record
	// that carries the sentinel owner and a near-zero computed duration.
	// The conflict clause must not let that replay degrade the row already
	// written for the real call.
	const q = `
INSERT INTO call_logs (
	call_id, direction, status, owner_email, counterpart_number,
	started_at, ended_at, duration_seconds, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (call_id) DO UPDATE SET
	status = EXCLUDED.status,
	owner_email = CASE
		WHEN EXCLUDED.owner_email = $10 THEN call_logs.owner_email
		ELSE EXCLUDED.owner_email
	END,
	ended_at = EXCLUDED.ended_at,
	duration_seconds = CASE
		WHEN EXCLUDED.duration_seconds = 0 THEN call_logs.duration_seconds
		ELSE EXCLUDED.duration_seconds
	END,
	updated_at = EXCLUDED.updated_at`

	var endedAt *time.Time
	if rec.EndedAt != nil {
		t := rec.EndedAt.UTC()
		endedAt = &t
	}

	_, err := r.db.ExecContext(ctx, q,
		rec.ID,
		string(rec.Direction),
		string(rec.Status),
		rec.OwnerEmail,
		rec.CounterpartNumber,
		rec.StartedAt.UTC(),
		endedAt,
		rec.DurationSeconds,
		now,
		OwnerUnknown,
	)
	return err
}

// ListRecent returns persisted calls for an owner (or all owners when email
// is empty), newest first. Backs the history view once records have been
// evicted from the in-memory registry.
func (r *LogRepo) ListRecent(ctx context.Context, email string, limit int) ([]Record, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	const base = `
SELECT call_id, direction, status, owner_email, counterpart_number,
       started_at, ended_at, duration_seconds
FROM call_logs`

	var rows *sql.Rows
	var err error
	if email == "" {
		rows, err = r.db.QueryContext(ctx, base+` ORDER BY started_at DESC LIMIT $1`, limit)
	} else {
		rows, err = r.db.QueryContext(ctx, base+` WHERE owner_email = $1 ORDER BY started_at DESC LIMIT $2`, email, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var dir, status string
		var endedAt sql.NullTime
		if err := rows.Scan(&rec.ID, &dir, &status, &rec.OwnerEmail, &rec.CounterpartNumber,
			&rec.StartedAt, &endedAt, &rec.DurationSeconds); err != nil {
			return nil, err
		}
		rec.Direction = Direction(dir)
		rec.Status = Status(status)
		if endedAt.Valid {
			t := endedAt.Time
			rec.EndedAt = &t
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
