package events

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Op names the kind of write recorded in the change log.
type Op string

const (
	OpPut    Op = "put"
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Change is one row of the change log.
type Change struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Collection string `json:"collection"`
	DocID      string `json:"doc_id"`
	Op         Op     `json:"op"`
}

// Writer appends to the change log inside the caller's transaction so the
// log never disagrees with the documents it describes.
type Writer struct {
	Now func() time.Time
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, collection, docID string, op Op) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ts := now().UTC().Format(time.RFC3339Nano)
	if _, err := tx.ExecContext(ctx, `INSERT INTO changes(ts,collection,doc_id,op) VALUES (?,?,?,?)`,
		ts, collection, docID, string(op)); err != nil {
		return fmt.Errorf("append change %s/%s: %w", collection, docID, err)
	}
	return nil
}

// Reader tails the change log.
type Reader struct {
	DB *sql.DB
}

// After returns up to limit changes with id greater than cursor, oldest first.
func (r Reader) After(ctx context.Context, cursor int64, limit int) ([]Change, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,ts,collection,doc_id,op FROM changes WHERE id>? ORDER BY id ASC LIMIT ?`, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Change
	for rows.Next() {
		var c Change
		var op string
		if err := rows.Scan(&c.ID, &c.TS, &c.Collection, &c.DocID, &op); err != nil {
			return nil, err
		}
		c.Op = Op(op)
		res = append(res, c)
	}
	return res, rows.Err()
}

// Latest returns the newest change id, or 0 for an empty log.
func (r Reader) Latest(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM changes`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}
