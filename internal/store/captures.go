package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/rollcall/internal/codec"
)

// CaptureRecord is one applied capture event in the log.
type CaptureRecord struct {
	Seq        int64     `json:"seq"`
	ID         string    `json:"id"`
	Slot       int       `json:"slot"`
	SlotLabel  string    `json:"slot_label"`
	Recognized []string  `json:"recognized"`
	Unknown    []string  `json:"unknown"`
	CapturedAt time.Time `json:"captured_at"`
}

// WriteCapture appends a capture record. Seq is assigned by the store.
// Writing the same ID twice is a no-op.
func (s *Store) WriteCapture(ctx context.Context, rec CaptureRecord) error {
	recognized, err := codec.Marshal(nonNil(rec.Recognized))
	if err != nil {
		return fmt.Errorf("write capture: %w", err)
	}
	unknown, err := codec.Marshal(nonNil(rec.Unknown))
	if err != nil {
		return fmt.Errorf("write capture: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO captures (id, slot, slot_label, recognized, unknown, captured_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		rec.ID,
		rec.Slot,
		rec.SlotLabel,
		string(recognized),
		string(unknown),
		rec.CapturedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("write capture: %w", err)
	}
	return nil
}

// ListCaptures returns logged captures ordered by seq ASC, id ASC.
// If slot is non-nil only captures for that slot are returned.
// Returns an empty slice (not nil) when nothing matches.
func (s *Store) ListCaptures(ctx context.Context, slot *int) ([]CaptureRecord, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if slot != nil {
		rows, err = s.db.QueryContext(ctx, `
			SELECT seq, id, slot, slot_label, recognized, unknown, captured_at
			FROM captures
			WHERE slot = ?
			ORDER BY seq ASC, id COLLATE BINARY ASC
		`, *slot)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT seq, id, slot, slot_label, recognized, unknown, captured_at
			FROM captures
			ORDER BY seq ASC, id COLLATE BINARY ASC
		`)
	}
	if err != nil {
		return nil, fmt.Errorf("query captures: %w", err)
	}
	defer rows.Close()

	records := []CaptureRecord{}
	for rows.Next() {
		rec, err := scanCapture(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate captures: %w", err)
	}
	return records, nil
}

func scanCapture(rows *sql.Rows) (CaptureRecord, error) {
	var (
		rec        CaptureRecord
		recognized string
		unknown    string
		capturedAt string
	)
	if err := rows.Scan(&rec.Seq, &rec.ID, &rec.Slot, &rec.SlotLabel, &recognized, &unknown, &capturedAt); err != nil {
		return CaptureRecord{}, fmt.Errorf("scan capture: %w", err)
	}
	if err := json.Unmarshal([]byte(recognized), &rec.Recognized); err != nil {
		return CaptureRecord{}, fmt.Errorf("capture %s: recognized: %w", rec.ID, err)
	}
	if err := json.Unmarshal([]byte(unknown), &rec.Unknown); err != nil {
		return CaptureRecord{}, fmt.Errorf("capture %s: unknown: %w", rec.ID, err)
	}
	t, err := time.Parse(time.RFC3339Nano, capturedAt)
	if err != nil {
		return CaptureRecord{}, fmt.Errorf("capture %s: captured_at: %w", rec.ID, err)
	}
	rec.CapturedAt = t
	return rec, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
