package mongo

import (
	"context"
	"errors"
	"time"

	"github.com/IgorGrieder/zurl/internal/events"
	"github.com/IgorGrieder/zurl/internal/infrastructure/db"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const (
	outboxCollectionName   = "click_outbox"
	outboxStatusPending    = "pending"
	outboxStatusProcessing = "processing"
	outboxStatusSent       = "sent"
)

var ErrOutboxClaimLost = errors.New("outbox event is no longer claimed by this worker")

type ClickOutboxRepository struct {
	coll *mongo.Collection
	now  func() time.Time
}

type outboxDoc struct {
	ID             primitive.ObjectID `bson:"_id,omitempty"`
	EventType      string             `bson:"eventType"`
	LinkID         string             `bson:"linkId"`
	OccurredAt     time.Time          `bson:"occurredAt"`
	TraceParent    string             `bson:"traceparent,omitempty"`
	TraceState     string             `bson:"tracestate,omitempty"`
	Baggage        string             `bson:"baggage,omitempty"`
	Status         string             `bson:"status"`
	Attempts       int                `bson:"attempts"`
	NextAttemptAt  time.Time          `bson:"nextAttemptAt"`
	ClaimedBy      string             `bson:"claimedBy,omitempty"`
	ClaimExpiresAt *time.Time         `bson:"claimExpiresAt,omitempty"`
	LastError      string             `bson:"lastError,omitempty"`
	CreatedAt      time.Time          `bson:"createdAt"`
	UpdatedAt      time.Time          `bson:"updatedAt"`
	SentAt         *time.Time         `bson:"sentAt,omitempty"`
}

type OutboxClickEvent struct {
	ID          string
	LinkID      string
	OccurredAt  time.Time
	TraceParent string
	TraceState  string
	Baggage     string
	Attempts    int
}

func NewClickOutboxRepository(m *db.Mongo) (*ClickOutboxRepository, error) {
	repo := &ClickOutboxRepository{coll: m.Collection(outboxCollectionName), now: time.Now}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := repo.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "nextAttemptAt", Value: 1}, {Key: "createdAt", Value: 1}},
			Options: options.Index().SetName("status_nextAttempt_createdAt"),
		},
		{
			Keys:    bson.D{{Key: "status", Value: 1}, {Key: "claimExpiresAt", Value: 1}},
			Options: options.Index().SetName("status_claimExpiresAt"),
		},
	})
	if err != nil {
		return nil, err
	}

	return repo, nil
}

// RecordClick stores a click.recorded event for the outbox worker, carrying
// the caller's trace context.
func (r *ClickOutboxRepository) RecordClick(ctx context.Context, linkID string, occurredAt time.Time) error {
	now := r.now().UTC()
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	doc := outboxDoc{
		EventType:     events.ClickRecordedType,
		LinkID:        linkID,
		OccurredAt:    occurredAt.UTC(),
		TraceParent:   carrier.Get("traceparent"),
		TraceState:    carrier.Get("tracestate"),
		Baggage:       carrier.Get("baggage"),
		Status:        outboxStatusPending,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	_, err := r.coll.InsertOne(ctx, doc)
	return err
}

// ClaimPending leases up to limit due events to workerID. Events whose lease
// expired (a worker died mid-batch) are claimable again.
func (r *ClickOutboxRepository) ClaimPending(ctx context.Context, now time.Time, limit int64, workerID string, lease time.Duration) ([]OutboxClickEvent, error) {
	if limit <= 0 {
		limit = 1
	}
	now = now.UTC()
	expires := now.Add(lease)

	filter := bson.M{
		"$or": bson.A{
			bson.M{"status": outboxStatusPending, "nextAttemptAt": bson.M{"$lte": now}},
			bson.M{"status": outboxStatusProcessing, "claimExpiresAt": bson.M{"$lte": now}},
		},
	}
	update := bson.M{"$set": bson.M{
		"status":         outboxStatusProcessing,
		"claimedBy":      workerID,
		"claimExpiresAt": expires,
		"updatedAt":      now,
	}}
	opts := options.FindOneAndUpdate().
		SetSort(bson.D{{Key: "createdAt", Value: 1}}).
		SetReturnDocument(options.After)

	events := make([]OutboxClickEvent, 0, limit)
	for int64(len(events)) < limit {
		var doc outboxDoc
		err := r.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			break
		}
		if err != nil {
			return events, err
		}
		events = append(events, OutboxClickEvent{
			ID:          doc.ID.Hex(),
			LinkID:      doc.LinkID,
			OccurredAt:  doc.OccurredAt,
			TraceParent: doc.TraceParent,
			TraceState:  doc.TraceState,
			Baggage:     doc.Baggage,
			Attempts:    doc.Attempts,
		})
	}

	return events, nil
}

func (r *ClickOutboxRepository) MarkSent(ctx context.Context, id, workerID string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return err
	}

	now := r.now().UTC()
	res, err := r.coll.UpdateOne(
		ctx,
		bson.M{"_id": oid, "claimedBy": workerID},
		bson.M{
			"$set": bson.M{
				"status":    outboxStatusSent,
				"updatedAt": now,
				"sentAt":    now,
			},
			"$unset": bson.M{"lastError": "", "claimExpiresAt": ""},
		},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrOutboxClaimLost
	}
	return nil
}

func (r *ClickOutboxRepository) MarkRetry(ctx context.Context, id, workerID, lastError string, nextAttemptAt time.Time) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return err
	}

	now := r.now().UTC()
	res, err := r.coll.UpdateOne(
		ctx,
		bson.M{"_id": oid, "claimedBy": workerID},
		bson.M{
			"$set": bson.M{
				"status":        outboxStatusPending,
				"lastError":     lastError,
				"nextAttemptAt": nextAttemptAt.UTC(),
				"updatedAt":     now,
			},
			"$unset": bson.M{"claimedBy": "", "claimExpiresAt": ""},
			"$inc":   bson.M{"attempts": 1},
		},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrOutboxClaimLost
	}
	return nil
}
