package mongo

import (
	"context"
	"errors"
	"time"

	"github.com/IgorGrieder/zurl/internal/docstore"
	"github.com/IgorGrieder/zurl/internal/infrastructure/db"
	"github.com/IgorGrieder/zurl/internal/processing/clicks"
	"github.com/IgorGrieder/zurl/internal/processing/folders"
	"github.com/IgorGrieder/zurl/internal/processing/links"
	"github.com/IgorGrieder/zurl/internal/storage/limiter"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// DocumentStore implements docstore.Store on MongoDB. Batches commit inside a
// session transaction.
type DocumentStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// IndexSpec declares secondary indexes to create at startup.
type IndexSpec struct {
	Collection string
	Models     []mongo.IndexModel
}

func NewDocumentStore(m *db.Mongo, indexes ...IndexSpec) (*DocumentStore, error) {
	s := &DocumentStore{client: m.Client, db: m.Database}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, spec := range indexes {
		if len(spec.Models) == 0 {
			continue
		}
		if _, err := s.db.Collection(spec.Collection).Indexes().CreateMany(ctx, spec.Models); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// DefaultIndexes covers the owner and folder queries issued by the links and
// folders services, plus expiry of rate limit windows and applied click
// markers.
func DefaultIndexes() []IndexSpec {
	return []IndexSpec{
		{
			Collection: links.Collection,
			Models: []mongo.IndexModel{
				{
					Keys:    bson.D{{Key: "ownerId", Value: 1}, {Key: "folderId", Value: 1}},
					Options: options.Index().SetName("owner_folder"),
				},
				{
					Keys:    bson.D{{Key: "folderId", Value: 1}},
					Options: options.Index().SetName("folder"),
				},
			},
		},
		{
			Collection: folders.Collection,
			Models: []mongo.IndexModel{
				{
					Keys:    bson.D{{Key: "ownerId", Value: 1}, {Key: "createdAt", Value: -1}},
					Options: options.Index().SetName("owner_createdAt_desc"),
				},
			},
		},
		{
			Collection: limiter.Collection,
			Models: []mongo.IndexModel{
				{
					Keys:    bson.D{{Key: "expiresAt", Value: 1}},
					Options: options.Index().SetName("expiresAt_ttl").SetExpireAfterSeconds(0),
				},
			},
		},
		{
			Collection: clicks.AppliedCollection,
			Models: []mongo.IndexModel{
				{
					Keys:    bson.D{{Key: "expiresAt", Value: 1}},
					Options: options.Index().SetName("expiresAt_ttl").SetExpireAfterSeconds(0),
				},
			},
		},
	}
}

func (s *DocumentStore) Get(ctx context.Context, collection, id string) (docstore.Document, error) {
	raw, err := s.db.Collection(collection).FindOne(ctx, bson.M{"_id": id}).Raw()
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return docstore.Document{}, docstore.ErrNotFound
		}
		return docstore.Document{}, storeErr("get", collection, err)
	}
	return docstore.Document{Collection: collection, ID: id, Data: raw}, nil
}

func (s *DocumentStore) Query(ctx context.Context, collection string, filters ...docstore.Filter) ([]docstore.Document, error) {
	cur, err := s.db.Collection(collection).Find(
		ctx,
		filterDoc(filters),
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, storeErr("query", collection, err)
	}
	defer cur.Close(ctx)

	out := make([]docstore.Document, 0)
	for cur.Next(ctx) {
		raw := make(bson.Raw, len(cur.Current))
		copy(raw, cur.Current)

		id, _ := raw.Lookup("_id").StringValueOK()
		out = append(out, docstore.Document{Collection: collection, ID: id, Data: raw})
	}
	if err := cur.Err(); err != nil {
		return nil, storeErr("query", collection, err)
	}
	return out, nil
}

func (s *DocumentStore) Create(ctx context.Context, collection, id string, fields docstore.Fields) error {
	_, err := s.db.Collection(collection).InsertOne(ctx, docstore.NewDocument(id, fields))
	if err == nil {
		return nil
	}
	if mongo.IsDuplicateKeyError(err) {
		return docstore.ErrAlreadyExists
	}
	return storeErr("create", collection, err)
}

func (s *DocumentStore) Set(ctx context.Context, collection, id string, fields docstore.Fields) error {
	if err := applyOp(ctx, s.db, docstore.Op{Kind: docstore.OpSet, Collection: collection, ID: id, Fields: fields}); err != nil {
		return wrapOpErr("set", collection, err)
	}
	return nil
}

func (s *DocumentStore) Update(ctx context.Context, collection, id string, fields docstore.Fields) error {
	if err := applyOp(ctx, s.db, docstore.Op{Kind: docstore.OpUpdate, Collection: collection, ID: id, Fields: fields}); err != nil {
		return wrapOpErr("update", collection, err)
	}
	return nil
}

func (s *DocumentStore) Delete(ctx context.Context, collection, id string) error {
	if err := applyOp(ctx, s.db, docstore.Op{Kind: docstore.OpDelete, Collection: collection, ID: id}); err != nil {
		return wrapOpErr("delete", collection, err)
	}
	return nil
}

func (s *DocumentStore) Batch() *docstore.Batch {
	return docstore.NewBatch(s.commit)
}

func (s *DocumentStore) commit(ctx context.Context, ops []docstore.Op) error {
	ctx, span := otel.Tracer("docstore").Start(ctx, "docstore.commit")
	defer span.End()
	span.SetAttributes(attribute.Int("docstore.batch.ops", len(ops)))

	sess, err := s.client.StartSession()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "start session failed")
		return storeErr("commit", "", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		for _, op := range ops {
			if err := applyOp(sc, s.db, op); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch commit failed")
		return wrapOpErr("commit", "", err)
	}
	return nil
}

// applyOp runs a single op. Inside a transaction ctx is the session context.
func applyOp(ctx context.Context, database *mongo.Database, op docstore.Op) error {
	coll := database.Collection(op.Collection)

	switch op.Kind {
	case docstore.OpSet:
		_, err := coll.ReplaceOne(
			ctx,
			bson.M{"_id": op.ID},
			docstore.NewDocument(op.ID, op.Fields),
			options.Replace().SetUpsert(true),
		)
		return err

	case docstore.OpCreate:
		_, err := coll.InsertOne(ctx, docstore.NewDocument(op.ID, op.Fields))
		if mongo.IsDuplicateKeyError(err) {
			return docstore.ErrAlreadyExists
		}
		return err

	case docstore.OpUpdate, docstore.OpUpdateIf:
		filter := bson.D{{Key: "_id", Value: op.ID}}
		if op.Kind == docstore.OpUpdateIf {
			filter = append(filter, filterDoc(op.Filters)...)
		}

		update := updateDoc(op.Fields)
		var matched int64
		if len(update) == 0 {
			n, err := coll.CountDocuments(ctx, filter)
			if err != nil {
				return err
			}
			matched = n
		} else {
			res, err := coll.UpdateOne(ctx, filter, update)
			if err != nil {
				return err
			}
			matched = res.MatchedCount
		}
		if matched > 0 {
			return nil
		}

		var exists bool
		if op.Kind == docstore.OpUpdateIf {
			n, err := coll.CountDocuments(ctx, bson.M{"_id": op.ID})
			if err != nil {
				return err
			}
			exists = n > 0
		}
		return unmatchedErr(op.Kind, exists)

	case docstore.OpUpdateWhere:
		update := updateDoc(op.Fields)
		if len(update) == 0 {
			return nil
		}
		_, err := coll.UpdateMany(ctx, filterDoc(op.Filters), update)
		return err

	case docstore.OpDelete:
		_, err := coll.DeleteOne(ctx, bson.M{"_id": op.ID})
		return err

	default:
		return errors.New("mongo: unsupported docstore op " + op.Kind.String())
	}
}

// unmatchedErr maps an update that matched nothing to a store sentinel: a
// guarded update of an existing document failed its filters, anything else
// means the document is missing.
func unmatchedErr(kind docstore.OpKind, exists bool) error {
	if kind == docstore.OpUpdateIf && exists {
		return docstore.ErrPrecondition
	}
	return docstore.ErrNotFound
}

func filterDoc(filters []docstore.Filter) bson.D {
	out := make(bson.D, 0, len(filters))
	for _, f := range filters {
		out = append(out, bson.E{Key: f.Field, Value: f.Value})
	}
	return out
}

func updateDoc(fields docstore.Fields) bson.M {
	set, inc, unset := docstore.SplitFields(fields)
	update := bson.M{}
	if len(set) > 0 {
		update["$set"] = set
	}
	if len(inc) > 0 {
		update["$inc"] = inc
	}
	if len(unset) > 0 {
		update["$unset"] = unset
	}
	return update
}

func wrapOpErr(op, collection string, err error) error {
	if errors.Is(err, docstore.ErrNotFound) ||
		errors.Is(err, docstore.ErrPrecondition) ||
		errors.Is(err, docstore.ErrAlreadyExists) {
		return err
	}
	var se *docstore.StoreError
	if errors.As(err, &se) {
		return err
	}
	return storeErr(op, collection, err)
}

func storeErr(op, collection string, err error) error {
	return &docstore.StoreError{Op: op, Collection: collection, Err: err}
}
