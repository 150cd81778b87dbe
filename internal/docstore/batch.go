package docstore

import "context"

type OpKind int

const (
	OpSet OpKind = iota + 1
	OpUpdate
	OpUpdateIf
	OpUpdateWhere
	OpDelete
	OpCreate
)

func (k OpKind) String() string {
	switch k {
	case OpSet:
		return "set"
	case OpUpdate:
		return "update"
	case OpUpdateIf:
		return "update_if"
	case OpUpdateWhere:
		return "update_where"
	case OpDelete:
		return "delete"
	case OpCreate:
		return "create"
	default:
		return "unknown"
	}
}

// Op is one queued mutation of a Batch.
type Op struct {
	Kind       OpKind
	Collection string
	ID         string
	Fields     Fields
	Filters    []Filter
}

// CommitFunc applies ops all-or-nothing.
type CommitFunc func(ctx context.Context, ops []Op) error

// Batch queues mutations and hands them to the store on Commit. Either every
// op is applied or none is. A Batch is not safe for concurrent use.
type Batch struct {
	ops    []Op
	commit CommitFunc
}

func NewBatch(commit CommitFunc) *Batch {
	return &Batch{commit: commit}
}

// Create fails the batch with ErrAlreadyExists when the id is taken.
func (b *Batch) Create(collection, id string, fields Fields) *Batch {
	b.ops = append(b.ops, Op{Kind: OpCreate, Collection: collection, ID: id, Fields: fields})
	return b
}

func (b *Batch) Set(collection, id string, fields Fields) *Batch {
	b.ops = append(b.ops, Op{Kind: OpSet, Collection: collection, ID: id, Fields: fields})
	return b
}

// Update fails the batch with ErrNotFound when the document is missing.
func (b *Batch) Update(collection, id string, fields Fields) *Batch {
	b.ops = append(b.ops, Op{Kind: OpUpdate, Collection: collection, ID: id, Fields: fields})
	return b
}

// UpdateIf fails the batch with ErrPrecondition when the document does not
// match filters at commit time, or ErrNotFound when it is missing.
func (b *Batch) UpdateIf(collection, id string, fields Fields, filters ...Filter) *Batch {
	b.ops = append(b.ops, Op{Kind: OpUpdateIf, Collection: collection, ID: id, Fields: fields, Filters: filters})
	return b
}

// UpdateWhere updates every document matching filters at commit time.
func (b *Batch) UpdateWhere(collection string, fields Fields, filters ...Filter) *Batch {
	b.ops = append(b.ops, Op{Kind: OpUpdateWhere, Collection: collection, Fields: fields, Filters: filters})
	return b
}

func (b *Batch) Delete(collection, id string) *Batch {
	b.ops = append(b.ops, Op{Kind: OpDelete, Collection: collection, ID: id})
	return b
}

func (b *Batch) Len() int { return len(b.ops) }

func (b *Batch) Ops() []Op { return b.ops }

func (b *Batch) Commit(ctx context.Context) error {
	if len(b.ops) == 0 {
		return nil
	}
	return b.commit(ctx, b.ops)
}
