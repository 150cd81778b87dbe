package clicks

import (
	"context"
	"errors"
	"time"

	"github.com/IgorGrieder/zurl/internal/docstore"
	"github.com/IgorGrieder/zurl/internal/processing/links"
)

// DailyCollection holds one counter document per link and UTC day.
const DailyCollection = "clicks_daily"

type dailyDoc struct {
	LinkID string `bson:"linkId" validate:"required"`
	Date   string `bson:"date" validate:"required"`
	Count  int64  `bson:"count" validate:"gte=0"`
}

// DocumentStats keeps daily click counters in a docstore. The MongoDB
// deployment uses the upserting repository in storage/mongo instead.
type DocumentStats struct {
	store docstore.Store
}

func NewDocumentStats(store docstore.Store) *DocumentStats {
	return &DocumentStats{store: store}
}

func (s *DocumentStats) IncDaily(ctx context.Context, linkID string, at time.Time) error {
	date := Day(at)
	id := DailyID(linkID, at)
	inc := docstore.Fields{"count": docstore.Increment(1)}

	err := s.store.Update(ctx, DailyCollection, id, inc)
	if !errors.Is(err, docstore.ErrNotFound) {
		return err
	}

	err = s.store.Create(ctx, DailyCollection, id, docstore.Fields{
		"linkId": linkID,
		"date":   date,
		"count":  int64(1),
	})
	if errors.Is(err, docstore.ErrAlreadyExists) {
		return s.store.Update(ctx, DailyCollection, id, inc)
	}
	return err
}

// GetDaily returns the stored counters with from <= date <= to, ordered by
// date. Days without clicks are absent.
func (s *DocumentStats) GetDaily(ctx context.Context, linkID string, from, to time.Time) ([]links.DailyCount, error) {
	docs, err := s.store.Query(ctx, DailyCollection, docstore.Eq("linkId", linkID))
	if err != nil {
		return nil, err
	}

	lo, hi := Day(from), Day(to)
	var out []links.DailyCount
	for _, doc := range docs {
		var d dailyDoc
		if err := docstore.Decode(doc, &d); err != nil {
			return nil, err
		}
		if d.Date < lo || d.Date > hi {
			continue
		}
		out = append(out, links.DailyCount{Date: d.Date, Count: d.Count})
	}
	return out, nil
}

func (s *DocumentStats) DeleteByLink(ctx context.Context, linkID string) error {
	docs, err := s.store.Query(ctx, DailyCollection, docstore.Eq("linkId", linkID))
	if err != nil {
		return err
	}

	batch := s.store.Batch()
	for _, doc := range docs {
		batch.Delete(DailyCollection, doc.ID)
	}
	return batch.Commit(ctx)
}

// Day returns the UTC calendar day of t as YYYY-MM-DD.
func Day(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}

// DailyID is the document id of the counter for linkID on the UTC day of at.
// Both storage backends key counters this way.
func DailyID(linkID string, at time.Time) string {
	return linkID + ":" + Day(at)
}
