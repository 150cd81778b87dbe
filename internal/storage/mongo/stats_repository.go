package mongo

import (
	"context"
	"time"

	"github.com/IgorGrieder/zurl/internal/infrastructure/db"
	"github.com/IgorGrieder/zurl/internal/processing/clicks"
	"github.com/IgorGrieder/zurl/internal/processing/links"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// ClickStatsRepository upserts the daily counters that clicks.DocumentStats
// reads and writes through the document store, using the same ids, so either
// can serve a deployment's stats.
type ClickStatsRepository struct {
	coll *mongo.Collection
}

type clickDailyDoc struct {
	LinkID string `bson:"linkId"`
	Date   string `bson:"date"`
	Count  int64  `bson:"count"`
}

func NewClickStatsRepository(m *db.Mongo) (*ClickStatsRepository, error) {
	repo := &ClickStatsRepository{coll: m.Collection(clicks.DailyCollection)}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := repo.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "linkId", Value: 1}, {Key: "date", Value: 1}},
		Options: options.Index().SetName("link_date"),
	})
	if err != nil {
		return nil, err
	}

	return repo, nil
}

// IncDaily is a single upsert, so concurrent consumers never race on the
// first click of a day.
func (r *ClickStatsRepository) IncDaily(ctx context.Context, linkID string, at time.Time) error {
	_, err := r.coll.UpdateByID(ctx, clicks.DailyID(linkID, at),
		bson.M{
			"$inc":         bson.M{"count": int64(1)},
			"$setOnInsert": bson.M{"linkId": linkID, "date": clicks.Day(at)},
		},
		options.Update().SetUpsert(true),
	)
	return err
}

func (r *ClickStatsRepository) GetDaily(ctx context.Context, linkID string, from, to time.Time) ([]links.DailyCount, error) {
	cur, err := r.coll.Find(ctx,
		bson.M{
			"linkId": linkID,
			"date":   bson.M{"$gte": clicks.Day(from), "$lte": clicks.Day(to)},
		},
		options.Find().SetSort(bson.D{{Key: "date", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}

	var docs []clickDailyDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}

	out := make([]links.DailyCount, 0, len(docs))
	for _, doc := range docs {
		out = append(out, links.DailyCount{Date: doc.Date, Count: doc.Count})
	}
	return out, nil
}

// DeleteByLink drops the counters of a deleted link.
func (r *ClickStatsRepository) DeleteByLink(ctx context.Context, linkID string) error {
	_, err := r.coll.DeleteMany(ctx, bson.M{"linkId": linkID})
	return err
}
