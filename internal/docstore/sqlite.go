package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"teamdeck/internal/events"
)

// Listener is told the collection name after each committed write.
type Listener func(collection string)

// SQLite implements Store on the documents table.
type SQLite struct {
	DB     *sql.DB
	Events events.Writer
	Now    func() time.Time
	NewID  func() string

	mu        sync.RWMutex
	listeners map[int]Listener
	nextID    int
}

func New(db *sql.DB) *SQLite {
	return &SQLite{
		DB:        db,
		Now:       time.Now,
		NewID:     uuid.NewString,
		listeners: map[int]Listener{},
	}
}

func (s *SQLite) now() string {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return now().UTC().Format(TimeFormat)
}

// OnChange registers fn for committed writes and returns its removal func.
func (s *SQLite) OnChange(fn Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listeners == nil {
		s.listeners = map[int]Listener{}
	}
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *SQLite) notify(collection string) {
	s.mu.RLock()
	fns := make([]Listener, 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()
	for _, fn := range fns {
		fn(collection)
	}
}

func (s *SQLite) Get(ctx context.Context, collection, id string) (Document, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT id,data_json,created_at,updated_at FROM documents WHERE collection=? AND id=?`, collection, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	return doc, err
}

func (s *SQLite) Put(ctx context.Context, collection, id string, record any) error {
	if collection == "" || strings.TrimSpace(id) == "" {
		return errors.New("collection and id required")
	}
	data, err := encodeRecord(record)
	if err != nil {
		return err
	}
	now := s.now()
	return s.write(ctx, collection, id, events.OpPut, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO documents(collection,id,data_json,created_at,updated_at) VALUES (?,?,?,?,?)
ON CONFLICT(collection,id) DO UPDATE SET data_json=excluded.data_json, updated_at=excluded.updated_at`,
			collection, id, data, now, now)
		return err
	})
}

// Create writes record under id only if no document holds it yet.
func (s *SQLite) Create(ctx context.Context, collection, id string, record any) error {
	if collection == "" || strings.TrimSpace(id) == "" {
		return errors.New("collection and id required")
	}
	data, err := encodeRecord(record)
	if err != nil {
		return err
	}
	now := s.now()
	return s.write(ctx, collection, id, events.OpInsert, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `INSERT INTO documents(collection,id,data_json,created_at,updated_at) VALUES (?,?,?,?,?)
ON CONFLICT(collection,id) DO NOTHING`,
			collection, id, data, now, now)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrConflict
		}
		return nil
	})
}

func (s *SQLite) Insert(ctx context.Context, collection string, record any) (string, error) {
	if collection == "" {
		return "", errors.New("collection required")
	}
	data, err := encodeRecord(record)
	if err != nil {
		return "", err
	}
	newID := uuid.NewString
	if s.NewID != nil {
		newID = s.NewID
	}
	id := newID()
	now := s.now()
	err = s.write(ctx, collection, id, events.OpInsert, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO documents(collection,id,data_json,created_at,updated_at) VALUES (?,?,?,?,?)`,
			collection, id, data, now, now)
		return err
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Update applies patch as a JSON merge patch; a nil value removes the field.
func (s *SQLite) Update(ctx context.Context, collection, id string, patch map[string]any) error {
	if len(patch) == 0 {
		return nil
	}
	for k := range patch {
		if k == FieldID || k == FieldCreatedAt || k == FieldUpdatedAt {
			return fmt.Errorf("field %s is managed by the store", k)
		}
	}
	data, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("marshal patch: %w", err)
	}
	now := s.now()
	return s.write(ctx, collection, id, events.OpUpdate, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE documents SET data_json=json_patch(data_json, ?), updated_at=? WHERE collection=? AND id=?`,
			string(data), now, collection, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *SQLite) Delete(ctx context.Context, collection, id string) error {
	return s.write(ctx, collection, id, events.OpDelete, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE collection=? AND id=?`, collection, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (s *SQLite) Query(ctx context.Context, q Query) ([]Document, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	clauses := []string{"collection=?"}
	args := []any{q.Collection}
	for _, f := range q.Filters {
		// Field names are validated identifiers.
		expr := fmt.Sprintf("json_extract(data_json, '$.%s')", f.Field)
		if f.Value == nil {
			clauses = append(clauses, expr+" IS NULL")
			continue
		}
		clauses = append(clauses, expr+"=?")
		args = append(args, f.Value)
	}
	query := `SELECT id,data_json,created_at,updated_at FROM documents WHERE ` + strings.Join(clauses, " AND ")
	switch {
	case q.OrderBy.Field == FieldCreatedAt && q.OrderBy.Dir == Desc:
		query += ` ORDER BY created_at DESC, rowid DESC`
	case q.OrderBy.Field == FieldCreatedAt:
		query += ` ORDER BY created_at ASC, rowid ASC`
	default:
		query += ` ORDER BY rowid ASC`
	}
	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, doc)
	}
	return res, rows.Err()
}

// ChangesAfter returns change log rows newer than cursor.
func (s *SQLite) ChangesAfter(ctx context.Context, cursor int64, limit int) ([]events.Change, error) {
	return events.Reader{DB: s.DB}.After(ctx, cursor, limit)
}

// LatestChangeID returns the newest change log id.
func (s *SQLite) LatestChangeID(ctx context.Context) (int64, error) {
	return events.Reader{DB: s.DB}.Latest(ctx)
}

func (s *SQLite) write(ctx context.Context, collection, id string, op events.Op, fn func(*sql.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	if err := s.Events.Append(ctx, tx, collection, id, op); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.notify(collection)
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (Document, error) {
	var (
		doc                  Document
		data                 string
		createdAt, updatedAt string
	)
	if err := row.Scan(&doc.ID, &data, &createdAt, &updatedAt); err != nil {
		return Document{}, err
	}
	doc.Data = json.RawMessage(data)
	var err error
	if doc.CreatedAt, err = time.Parse(TimeFormat, createdAt); err != nil {
		return Document{}, fmt.Errorf("parse created_at: %w", err)
	}
	if doc.UpdatedAt, err = time.Parse(TimeFormat, updatedAt); err != nil {
		return Document{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return doc, nil
}

var _ Store = (*SQLite)(nil)
