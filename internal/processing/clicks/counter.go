// Package clicks applies accepted redirects to link counters and daily
// statistics.
package clicks

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/IgorGrieder/zurl/internal/docstore"
	"github.com/IgorGrieder/zurl/internal/events"
	"github.com/IgorGrieder/zurl/internal/infrastructure/logger"
	"github.com/IgorGrieder/zurl/internal/processing/links"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var clicksApplied = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "link_clicks_applied_total",
		Help: "Clicks applied to link counters, by result",
	},
	[]string{"result"},
)

type DailyCounter interface {
	IncDaily(ctx context.Context, linkID string, at time.Time) error
}

// AppliedCollection records the click events already counted, keyed by event
// id, so a redelivered event is not counted twice.
const AppliedCollection = "clicks_applied"

// appliedRetention bounds how long a redelivery is recognised.
const appliedRetention = 7 * 24 * time.Hour

type appliedDoc struct {
	LinkID       string `bson:"linkId" validate:"required"`
	DailyCounted bool   `bson:"dailyCounted"`
}

// Counter increments a link's clickCount and its daily counter. It is used
// by the Kafka consumer and, in memory mode, directly as the API's
// links.ClickRecorder.
type Counter struct {
	store docstore.Store
	daily DailyCounter
	now   func() time.Time
}

func NewCounter(store docstore.Store, daily DailyCounter) *Counter {
	return &Counter{store: store, daily: daily, now: time.Now}
}

// Apply records the click identified by eventID. The link counter and the
// event marker are written in one batch, and the daily counter is bumped at
// most once per marker, so applying the same event again is a no-op once it
// has fully succeeded. A click for a link that no longer exists is dropped
// without error.
func (c *Counter) Apply(ctx context.Context, eventID, linkID string, at time.Time) error {
	fields := []zap.Field{zap.String("event_id", eventID), zap.String("link_id", linkID)}

	err := c.store.Batch().
		Create(AppliedCollection, eventID, docstore.Fields{
			"linkId":       linkID,
			"dailyCounted": false,
			"expiresAt":    c.now().UTC().Add(appliedRetention),
		}).
		Update(links.Collection, linkID, docstore.Fields{
			"clickCount": docstore.Increment(1),
		}).
		Commit(ctx)
	switch {
	case err == nil:
	case errors.Is(err, docstore.ErrNotFound):
		clicksApplied.WithLabelValues("skipped").Inc()
		logger.Debug("click skipped for missing link", fields...)
		return nil
	case errors.Is(err, docstore.ErrAlreadyExists):
		done, err := c.dailyCounted(ctx, eventID)
		if err != nil {
			clicksApplied.WithLabelValues("error").Inc()
			return err
		}
		if done {
			clicksApplied.WithLabelValues("duplicate").Inc()
			logger.Debug("click already applied", fields...)
			return nil
		}
	default:
		clicksApplied.WithLabelValues("error").Inc()
		return err
	}

	if err := c.daily.IncDaily(ctx, linkID, at); err != nil {
		clicksApplied.WithLabelValues("error").Inc()
		return err
	}

	// The click is fully counted at this point; a lost marker only matters if
	// the same event is delivered again.
	if err := c.store.Update(ctx, AppliedCollection, eventID, docstore.Fields{"dailyCounted": true}); err != nil {
		logger.Warn("failed to mark click as counted", append(fields, zap.Error(err))...)
	}
	clicksApplied.WithLabelValues("applied").Inc()
	return nil
}

func (c *Counter) dailyCounted(ctx context.Context, eventID string) (bool, error) {
	doc, err := c.store.Get(ctx, AppliedCollection, eventID)
	if err != nil {
		return false, err
	}
	var marker appliedDoc
	if err := docstore.Decode(doc, &marker); err != nil {
		return false, err
	}
	return marker.DailyCounted, nil
}

// RecordClick satisfies links.ClickRecorder. Each call is a new click.
func (c *Counter) RecordClick(ctx context.Context, linkID string, at time.Time) error {
	return c.Apply(ctx, uuid.NewString(), linkID, at)
}

// ApplyEvent applies a click.recorded event. Events without a link id are
// dropped; a malformed timestamp falls back to the current time.
func (c *Counter) ApplyEvent(ctx context.Context, evt events.ClickRecorded) error {
	if strings.TrimSpace(evt.LinkID) == "" {
		logger.Warn("click event missing link id, skipping", zap.String("event_id", evt.EventID))
		return nil
	}

	at, ok := evt.Time(c.now())
	if !ok {
		logger.Warn("invalid event occurredAt, using current time",
			zap.String("event_id", evt.EventID),
			zap.String("occurred_at", evt.OccurredAt),
		)
	}

	eventID := evt.EventID
	if strings.TrimSpace(eventID) == "" {
		eventID = uuid.NewString()
		logger.Warn("click event missing event id, applying without deduplication",
			zap.String("link_id", evt.LinkID),
		)
	}
	return c.Apply(ctx, eventID, evt.LinkID, at)
}
