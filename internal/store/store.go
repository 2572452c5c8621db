package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/max-knox/PashaCapacitor-sub000/internal/meeting"
)

var (
	// ErrNotFound is returned when no record exists for a meeting id
	ErrNotFound = errors.New("meeting record not found")

	// ErrExists is returned by Create when the record is already present
	ErrExists = errors.New("meeting record already exists")
)

// Fields is a set of top-level document fields to write
type Fields map[string]any

// TxFunc inspects the current record inside a transaction and returns the fields
// to write. rec is nil when the record does not exist yet; returning nil fields
// leaves the document untouched. A TxFunc may be invoked more than once when a
// backend retries after a write conflict, so it must not have side effects.
type TxFunc func(rec *meeting.Record) (Fields, error)

// Store is the meeting document store
type Store interface {
	Get(ctx context.Context, id string) (*meeting.Record, error)
	Create(ctx context.Context, rec *meeting.Record) error
	Update(ctx context.Context, id string, fields Fields) error
	RunTransaction(ctx context.Context, id string, fn TxFunc) error
	ArrayUnion(ctx context.Context, id, field string, items ...any) error
	Close() error
}

// mutateFunc receives the raw document (nil when missing) and returns the
// replacement document, or nil to skip the write
type mutateFunc func(doc []byte) ([]byte, error)

// engine is the backend-specific part of a store
type engine interface {
	load(ctx context.Context, id string) ([]byte, error)
	mutate(ctx context.Context, id string, fn mutateFunc) error
}

// documents implements Store on top of an engine
type documents struct {
	engine engine
}

// Get loads and decodes a meeting record
func (d documents) Get(ctx context.Context, id string) (*meeting.Record, error) {
	doc, err := d.engine.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return decodeRecord(id, doc)
}

// Create writes a new record, failing with ErrExists if one is present
func (d documents) Create(ctx context.Context, rec *meeting.Record) error {
	if rec == nil || rec.ID == "" {
		return fmt.Errorf("create record: missing id")
	}
	return d.engine.mutate(ctx, rec.ID, func(doc []byte) ([]byte, error) {
		if doc != nil {
			return nil, fmt.Errorf("create %s: %w", rec.ID, ErrExists)
		}
		return json.Marshal(rec)
	})
}

// Update merges fields into an existing record
func (d documents) Update(ctx context.Context, id string, fields Fields) error {
	return d.engine.mutate(ctx, id, func(doc []byte) ([]byte, error) {
		if doc == nil {
			return nil, fmt.Errorf("update %s: %w", id, ErrNotFound)
		}
		return mergeFields(doc, fields)
	})
}

// RunTransaction runs fn against the current record and writes its result atomically.
// When the record is missing and fn returns fields, the record is created.
func (d documents) RunTransaction(ctx context.Context, id string, fn TxFunc) error {
	return d.engine.mutate(ctx, id, func(doc []byte) ([]byte, error) {
		var rec *meeting.Record
		if doc != nil {
			decoded, err := decodeRecord(id, doc)
			if err != nil {
				return nil, err
			}
			rec = decoded
		}

		fields, err := fn(rec)
		if err != nil {
			return nil, err
		}
		if fields == nil {
			return nil, nil
		}

		if doc == nil {
			doc = []byte(`{}`)
			fields[meeting.FieldID] = id
		}
		return mergeFields(doc, fields)
	})
}

// ArrayUnion appends items to an array field, skipping items already present
func (d documents) ArrayUnion(ctx context.Context, id, field string, items ...any) error {
	return d.engine.mutate(ctx, id, func(doc []byte) ([]byte, error) {
		if doc == nil {
			return nil, fmt.Errorf("array union %s: %w", id, ErrNotFound)
		}
		return unionArray(doc, field, items)
	})
}

func decodeRecord(id string, doc []byte) (*meeting.Record, error) {
	var rec meeting.Record
	if err := json.Unmarshal(doc, &rec); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", id, err)
	}
	if rec.ID == "" {
		rec.ID = id
	}
	return &rec, nil
}

func mergeFields(doc []byte, fields Fields) ([]byte, error) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(doc, &root); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if root == nil {
		root = make(map[string]json.RawMessage)
	}

	for name, value := range fields {
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode field %s: %w", name, err)
		}
		root[name] = raw
	}

	return json.Marshal(root)
}

func unionArray(doc []byte, field string, items []any) ([]byte, error) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(doc, &root); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}

	var current []json.RawMessage
	if raw, ok := root[field]; ok && string(raw) != "null" {
		if err := json.Unmarshal(raw, &current); err != nil {
			return nil, fmt.Errorf("field %s is not an array: %w", field, err)
		}
	}

	seen := make(map[string]bool, len(current)+len(items))
	for _, elem := range current {
		key, err := canonical(elem)
		if err != nil {
			return nil, err
		}
		seen[key] = true
	}

	for _, item := range items {
		raw, err := json.Marshal(item)
		if err != nil {
			return nil, fmt.Errorf("encode %s element: %w", field, err)
		}
		key, err := canonical(raw)
		if err != nil {
			return nil, err
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		current = append(current, raw)
	}

	encoded, err := json.Marshal(current)
	if err != nil {
		return nil, fmt.Errorf("encode field %s: %w", field, err)
	}
	root[field] = encoded

	return json.Marshal(root)
}

// canonical re-encodes a JSON value so that object keys are sorted
func canonical(raw []byte) (string, error) {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", fmt.Errorf("decode array element: %w", err)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(out), nil
}
