// Package repo is the typed data access layer over the document store: the
// invite ledger, the company registry and the workspace collections.
package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"teamdeck/internal/docstore"
	"teamdeck/internal/livesync"
)

type Repo struct {
	Store docstore.Store
	Hub   *livesync.Hub
}

var (
	ErrNotFound = docstore.ErrNotFound
	ErrConflict = docstore.ErrConflict
)

// ErrInvalidInput marks rejected arguments.
var ErrInvalidInput = errors.New("invalid input")

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

func required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return invalid("%s required", field)
	}
	return nil
}

func getAs[T any](ctx context.Context, store docstore.Store, collection, id string) (T, error) {
	var out T
	doc, err := store.Get(ctx, collection, id)
	if err != nil {
		return out, err
	}
	if err := doc.Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}

func queryAs[T any](ctx context.Context, store docstore.Store, q docstore.Query) ([]T, error) {
	docs, err := store.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	return decodeAll[T](docs)
}

func decodeAll[T any](docs []docstore.Document) ([]T, error) {
	res := make([]T, 0, len(docs))
	for _, doc := range docs {
		var item T
		if err := doc.Decode(&item); err != nil {
			return nil, err
		}
		res = append(res, item)
	}
	return res, nil
}

func byCompany(collection, companyID string, extra ...docstore.Filter) docstore.Query {
	return docstore.Query{
		Collection: collection,
		Filters:    append([]docstore.Filter{docstore.Eq("companyId", companyID)}, extra...),
		OrderBy:    docstore.NewestFirst,
	}
}
