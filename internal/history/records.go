package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes plain messages from derived call outcome records.
type Kind string

const (
	KindMessage Kind = "message"
	KindCall    Kind = "call"
)

// DefaultListLimit bounds List when no limit is given.
const DefaultListLimit = 100

// Record is one item of the notification history list.
type Record struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Data      map[string]string `json:"data"`
	Kind      Kind              `json:"kind"`
	CallID    string            `json:"call_id,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Append adds a record. A missing id or timestamp is filled in.
func (s *Store) Append(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}
	if rec.Kind == "" {
		rec.Kind = KindMessage
	}
	if rec.Data == nil {
		rec.Data = map[string]string{}
	}

	data, err := json.Marshal(rec.Data)
	if err != nil {
		return Record{}, fmt.Errorf("encoding record data: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO notifications (id, title, body, data, kind, call_id, received_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Title, rec.Body, string(data), string(rec.Kind), rec.CallID, rec.Timestamp.UnixMilli(),
	)
	if err != nil {
		return Record{}, fmt.Errorf("inserting history record: %w", err)
	}
	return rec, nil
}

// List returns up to limit records, newest first. A read failure is logged
// and reported as an empty history.
func (s *Store) List(ctx context.Context, limit int) []Record {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return s.query(ctx,
		`SELECT id, title, body, data, kind, call_id, received_at
		 FROM notifications ORDER BY received_at DESC, rowid DESC LIMIT ?`, limit,
	)
}

// ForCall returns the derived records for one call, newest first.
func (s *Store) ForCall(ctx context.Context, callID string) []Record {
	return s.query(ctx,
		`SELECT id, title, body, data, kind, call_id, received_at
		 FROM notifications WHERE call_id = ? AND kind = ? ORDER BY received_at DESC, rowid DESC`,
		callID, string(KindCall),
	)
}

func (s *Store) query(ctx context.Context, q string, args ...any) []Record {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		s.logger.Error("querying history", "error", err)
		return []Record{}
	}
	defer rows.Close()

	records := []Record{}
	for rows.Next() {
		var (
			rec  Record
			data string
			kind string
			ms   int64
		)
		if err := rows.Scan(&rec.ID, &rec.Title, &rec.Body, &data, &kind, &rec.CallID, &ms); err != nil {
			s.logger.Error("scanning history row", "error", err)
			return []Record{}
		}
		if err := json.Unmarshal([]byte(data), &rec.Data); err != nil {
			s.logger.Warn("decoding history record data", "id", rec.ID, "error", err)
			rec.Data = map[string]string{}
		}
		rec.Kind = Kind(kind)
		rec.Timestamp = time.UnixMilli(ms)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		s.logger.Error("iterating history rows", "error", err)
		return []Record{}
	}
	return records
}

// Count returns the number of records, or 0 on failure.
func (s *Store) Count(ctx context.Context) int {
	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM notifications").Scan(&n); err != nil {
		s.logger.Error("counting history", "error", err)
		return 0
	}
	return n
}

// Clear removes every record.
func (s *Store) Clear(ctx context.Context) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM notifications")
	if err != nil {
		return fmt.Errorf("clearing history: %w", err)
	}
	n, _ := res.RowsAffected()
	s.logger.Info("history cleared", "removed", n)
	return nil
}
