package limiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IgorGrieder/zurl/internal/docstore"
	"github.com/IgorGrieder/zurl/internal/infrastructure/logger"
	"go.uber.org/zap"
)

// Collection holds one counter document per key and window.
const Collection = "rate_windows"

type windowDoc struct {
	Count int64 `bson:"count" validate:"gte=0"`
}

// FixedWindow counts events per key in fixed time windows, one document per
// (key, window). Documents carry expiresAt so a TTL index can reap them.
type FixedWindow struct {
	store  docstore.Store
	prefix string
	window time.Duration
	now    func() time.Time
}

func NewFixedWindow(store docstore.Store, prefix string, window time.Duration) *FixedWindow {
	if prefix == "" {
		prefix = "rate"
	}
	if window < time.Second {
		window = time.Minute
	}
	return &FixedWindow{
		store:  store,
		prefix: prefix,
		window: window,
		now:    time.Now,
	}
}

// Incr increments the counter for (key, current window) and returns the
// count seen after the increment.
func (l *FixedWindow) Incr(ctx context.Context, key string) (int64, error) {
	if key == "" {
		key = "unknown"
	}

	windowSeconds := int64(l.window / time.Second)
	now := l.now().UTC()
	bucket := now.Unix() / windowSeconds
	id := l.docID(key, bucket)
	inc := docstore.Fields{"count": docstore.Increment(1)}

	err := l.store.Update(ctx, Collection, id, inc)
	if errors.Is(err, docstore.ErrNotFound) {
		err = l.store.Create(ctx, Collection, id, docstore.Fields{
			"count":     int64(1),
			"expiresAt": time.Unix((bucket+2)*windowSeconds, 0).UTC(),
		})
		switch {
		case err == nil:
			// Previous window is no longer read; the TTL index reaps it if
			// this delete fails.
			prev := l.docID(key, bucket-1)
			if err := l.store.Delete(ctx, Collection, prev); err != nil {
				logger.Debug("failed to delete previous rate window",
					zap.String("window_id", prev),
					zap.Error(err),
				)
			}
			return 1, nil
		case errors.Is(err, docstore.ErrAlreadyExists):
			err = l.store.Update(ctx, Collection, id, inc)
		}
	}
	if err != nil {
		return 0, err
	}

	doc, err := l.store.Get(ctx, Collection, id)
	if err != nil {
		return 0, err
	}
	var w windowDoc
	if err := docstore.Decode(doc, &w); err != nil {
		return 0, err
	}
	return w.Count, nil
}

func (l *FixedWindow) docID(key string, bucket int64) string {
	return fmt.Sprintf("%s:%s:%d", l.prefix, key, bucket)
}
