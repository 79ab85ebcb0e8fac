// Package docstore is a small collection/document store on top of SQLite's
// JSON1 functions. Every write is recorded in the change log and announced to
// in-process listeners once committed.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict reports a Create on an id that already exists.
	ErrConflict = errors.New("document already exists")
)

// TimeFormat is the fixed-width UTC layout used for stored timestamps, so
// lexical order equals chronological order.
const TimeFormat = "2006-01-02T15:04:05.000000000Z"

// Metadata keys owned by the store. They are stripped from written records
// and filled back in by Decode.
const (
	FieldID        = "id"
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
)

var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Filter is an equality predicate on a top-level document field.
type Filter struct {
	Field string
	Value any
}

func Eq(field string, value any) Filter {
	return Filter{Field: field, Value: value}
}

type Direction int

const (
	Asc Direction = iota
	Desc
)

// Order selects the result ordering. Only FieldCreatedAt is orderable; the
// zero value keeps insertion order.
type Order struct {
	Field string
	Dir   Direction
}

// NewestFirst orders by server-assigned creation time, newest first.
var NewestFirst = Order{Field: FieldCreatedAt, Dir: Desc}

type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    Order
}

func (q Query) Validate() error {
	if q.Collection == "" {
		return errors.New("collection required")
	}
	for _, f := range q.Filters {
		if !fieldPattern.MatchString(f.Field) {
			return fmt.Errorf("invalid filter field %q", f.Field)
		}
	}
	switch q.OrderBy.Field {
	case "", FieldCreatedAt:
	default:
		return fmt.Errorf("unsupported order field %q", q.OrderBy.Field)
	}
	return nil
}

// Matches reports whether the query covers documents of collection.
func (q Query) Matches(collection string) bool {
	return q.Collection == collection
}

// Document is a stored record plus its store-assigned metadata.
type Document struct {
	ID        string
	Data      json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Decode unmarshals the document into v with id, createdAt and updatedAt
// merged into the payload.
func (d Document) Decode(v any) error {
	fields := map[string]json.RawMessage{}
	if len(d.Data) > 0 {
		if err := json.Unmarshal(d.Data, &fields); err != nil {
			return fmt.Errorf("decode document %s: %w", d.ID, err)
		}
	}
	fields[FieldID], _ = json.Marshal(d.ID)
	fields[FieldCreatedAt], _ = json.Marshal(d.CreatedAt)
	fields[FieldUpdatedAt], _ = json.Marshal(d.UpdatedAt)
	merged, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	return json.Unmarshal(merged, v)
}

// Store is the document store boundary used by the data-access layer.
type Store interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	Put(ctx context.Context, collection, id string, record any) error
	Create(ctx context.Context, collection, id string, record any) error
	Insert(ctx context.Context, collection string, record any) (string, error)
	Update(ctx context.Context, collection, id string, patch map[string]any) error
	Delete(ctx context.Context, collection, id string) error
	Query(ctx context.Context, q Query) ([]Document, error)
}

// encodeRecord marshals record to a JSON object without store metadata.
func encodeRecord(record any) (string, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("marshal record: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return "", fmt.Errorf("record must encode to a JSON object: %w", err)
	}
	if fields == nil {
		return "", errors.New("record must encode to a JSON object")
	}
	delete(fields, FieldID)
	delete(fields, FieldCreatedAt)
	delete(fields, FieldUpdatedAt)
	out, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
