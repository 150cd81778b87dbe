// Package docstore is a small key-document store abstraction: named
// collections of documents addressed by string id, equality queries, and
// batches that commit indivisibly.
package docstore

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
)

var (
	ErrNotFound      = errors.New("document not found")
	ErrAlreadyExists = errors.New("document already exists")
	ErrPrecondition  = errors.New("document does not match precondition")
)

// StoreError wraps a failure of the backing database or a document that could
// not be decoded.
type StoreError struct {
	Op         string
	Collection string
	Err        error
}

func (e *StoreError) Error() string {
	if e.Collection == "" {
		return fmt.Sprintf("docstore %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("docstore %s %s: %v", e.Op, e.Collection, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Document is a stored document. Data always carries the id under "_id".
type Document struct {
	Collection string
	ID         string
	Data       bson.Raw
}

// Fields is a set of field writes. Values may be plain values, Increment(n)
// or Remove().
type Fields map[string]any

type increment struct{ n int64 }

type remove struct{}

// Increment adds n to a numeric field, treating a missing field as zero.
func Increment(n int64) any { return increment{n: n} }

// Remove deletes the field from the document.
func Remove() any { return remove{} }

// Filter is an equality predicate. A nil Value matches null and missing fields.
type Filter struct {
	Field string
	Value any
}

func Eq(field string, value any) Filter {
	return Filter{Field: field, Value: value}
}

type Store interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	Query(ctx context.Context, collection string, filters ...Filter) ([]Document, error)
	Create(ctx context.Context, collection, id string, fields Fields) error
	Set(ctx context.Context, collection, id string, fields Fields) error
	Update(ctx context.Context, collection, id string, fields Fields) error
	Delete(ctx context.Context, collection, id string) error
	Batch() *Batch
}

// SplitFields separates fields into $set, $inc and $unset groups.
func SplitFields(fields Fields) (set bson.M, inc bson.M, unset bson.M) {
	set, inc, unset = bson.M{}, bson.M{}, bson.M{}
	for k, v := range fields {
		switch val := v.(type) {
		case increment:
			inc[k] = val.n
		case remove:
			unset[k] = ""
		default:
			set[k] = v
		}
	}
	return set, inc, unset
}

// NewDocument builds the full document body written by Create and Set.
// Increments are stored as their delta and removals are dropped.
func NewDocument(id string, fields Fields) bson.M {
	doc := bson.M{"_id": id}
	for k, v := range fields {
		switch val := v.(type) {
		case increment:
			doc[k] = val.n
		case remove:
		default:
			doc[k] = v
		}
	}
	return doc
}
