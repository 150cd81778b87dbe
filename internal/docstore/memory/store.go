// Package memory is an in-process docstore.Store used for local development
// and tests. Documents are held as BSON so they round-trip through the same
// codec as the MongoDB backend.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"

	"github.com/IgorGrieder/zurl/internal/docstore"
	"go.mongodb.org/mongo-driver/bson"
)

type Store struct {
	mu          sync.RWMutex
	collections map[string]map[string]bson.Raw

	// failCommit, when set, is returned by the next commit after all ops
	// were staged. Used to exercise all-or-nothing behaviour.
	failCommit error
}

func New() *Store {
	return &Store{collections: make(map[string]map[string]bson.Raw)}
}

// FailNextCommit makes the next write fail with err after staging.
func (s *Store) FailNextCommit(err error) {
	s.mu.Lock()
	s.failCommit = err
	s.mu.Unlock()
}

func (s *Store) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return docstore.Document{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, ok := s.collections[collection][id]
	if !ok {
		return docstore.Document{}, docstore.ErrNotFound
	}
	return docstore.Document{Collection: collection, ID: id, Data: raw}, nil
}

func (s *Store) Query(ctx context.Context, collection string, filters ...docstore.Filter) ([]docstore.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	coll := s.collections[collection]
	ids := make([]string, 0, len(coll))
	for id, raw := range coll {
		if matches(raw, filters) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	out := make([]docstore.Document, 0, len(ids))
	for _, id := range ids {
		out = append(out, docstore.Document{Collection: collection, ID: id, Data: coll[id]})
	}
	return out, nil
}

func (s *Store) Create(ctx context.Context, collection, id string, fields docstore.Fields) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.collections[collection][id]; exists {
		return docstore.ErrAlreadyExists
	}
	t := s.begin()
	if err := t.set(collection, id, fields); err != nil {
		return err
	}
	return s.finish(t)
}

func (s *Store) Set(ctx context.Context, collection, id string, fields docstore.Fields) error {
	return s.apply(ctx, []docstore.Op{{Kind: docstore.OpSet, Collection: collection, ID: id, Fields: fields}})
}

func (s *Store) Update(ctx context.Context, collection, id string, fields docstore.Fields) error {
	return s.apply(ctx, []docstore.Op{{Kind: docstore.OpUpdate, Collection: collection, ID: id, Fields: fields}})
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	return s.apply(ctx, []docstore.Op{{Kind: docstore.OpDelete, Collection: collection, ID: id}})
}

func (s *Store) Batch() *docstore.Batch {
	return docstore.NewBatch(s.apply)
}

// Count returns the number of documents in a collection.
func (s *Store) Count(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collections[collection])
}

func (s *Store) apply(ctx context.Context, ops []docstore.Op) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.begin()
	for _, op := range ops {
		if err := t.apply(op); err != nil {
			return err
		}
	}
	return s.finish(t)
}

func (s *Store) begin() *txn {
	return &txn{base: s.collections, dirty: make(map[string]map[string]bson.Raw)}
}

func (s *Store) finish(t *txn) error {
	if s.failCommit != nil {
		err := s.failCommit
		s.failCommit = nil
		return &docstore.StoreError{Op: "commit", Err: err}
	}
	for name, coll := range t.dirty {
		s.collections[name] = coll
	}
	return nil
}

// txn stages writes on copies of the touched collections; nothing is visible
// until finish swaps them in.
type txn struct {
	base  map[string]map[string]bson.Raw
	dirty map[string]map[string]bson.Raw
}

func (t *txn) read(collection string) map[string]bson.Raw {
	if coll, ok := t.dirty[collection]; ok {
		return coll
	}
	return t.base[collection]
}

func (t *txn) write(collection string) map[string]bson.Raw {
	if coll, ok := t.dirty[collection]; ok {
		return coll
	}
	coll := maps.Clone(t.base[collection])
	if coll == nil {
		coll = make(map[string]bson.Raw)
	}
	t.dirty[collection] = coll
	return coll
}

func (t *txn) apply(op docstore.Op) error {
	switch op.Kind {
	case docstore.OpSet:
		return t.set(op.Collection, op.ID, op.Fields)
	case docstore.OpCreate:
		if _, exists := t.read(op.Collection)[op.ID]; exists {
			return docstore.ErrAlreadyExists
		}
		return t.set(op.Collection, op.ID, op.Fields)
	case docstore.OpUpdate:
		return t.update(op.Collection, op.ID, op.Fields, nil)
	case docstore.OpUpdateIf:
		return t.update(op.Collection, op.ID, op.Fields, op.Filters)
	case docstore.OpUpdateWhere:
		for id, raw := range t.read(op.Collection) {
			if !matches(raw, op.Filters) {
				continue
			}
			if err := t.update(op.Collection, id, op.Fields, nil); err != nil {
				return err
			}
		}
		return nil
	case docstore.OpDelete:
		if _, ok := t.read(op.Collection)[op.ID]; ok {
			delete(t.write(op.Collection), op.ID)
		}
		return nil
	default:
		return fmt.Errorf("memory: unsupported op %v", op.Kind)
	}
}

func (t *txn) set(collection, id string, fields docstore.Fields) error {
	raw, err := bson.Marshal(docstore.NewDocument(id, fields))
	if err != nil {
		return &docstore.StoreError{Op: "set", Collection: collection, Err: err}
	}
	t.write(collection)[id] = raw
	return nil
}

func (t *txn) update(collection, id string, fields docstore.Fields, filters []docstore.Filter) error {
	current, ok := t.read(collection)[id]
	if !ok {
		return docstore.ErrNotFound
	}
	if !matches(current, filters) {
		return docstore.ErrPrecondition
	}

	var doc bson.M
	if err := bson.Unmarshal(current, &doc); err != nil {
		return &docstore.StoreError{Op: "update", Collection: collection, Err: err}
	}

	set, inc, unset := docstore.SplitFields(fields)
	for k, v := range set {
		doc[k] = v
	}
	for k := range unset {
		delete(doc, k)
	}
	for k, delta := range inc {
		n, err := addInt(doc[k], delta.(int64))
		if err != nil {
			return &docstore.StoreError{Op: "update", Collection: collection, Err: fmt.Errorf("field %q: %w", k, err)}
		}
		doc[k] = n
	}

	raw, err := bson.Marshal(doc)
	if err != nil {
		return &docstore.StoreError{Op: "update", Collection: collection, Err: err}
	}
	t.write(collection)[id] = raw
	return nil
}

func addInt(current any, delta int64) (any, error) {
	switch v := current.(type) {
	case nil:
		return delta, nil
	case int32:
		return int64(v) + delta, nil
	case int64:
		return v + delta, nil
	case float64:
		return v + float64(delta), nil
	default:
		return nil, fmt.Errorf("cannot increment %T", current)
	}
}

func matches(raw bson.Raw, filters []docstore.Filter) bool {
	for _, f := range filters {
		rv, err := raw.LookupErr(f.Field)
		missing := err != nil

		if f.Value == nil {
			if !missing && rv.Type != bson.TypeNull {
				return false
			}
			continue
		}

		t, data, err := bson.MarshalValue(f.Value)
		if err != nil {
			return false
		}
		if t == bson.TypeNull {
			if !missing && rv.Type != bson.TypeNull {
				return false
			}
			continue
		}
		if missing || rv.Type != t || !bytes.Equal(rv.Value, data) {
			return false
		}
	}
	return true
}
