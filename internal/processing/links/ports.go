package links

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("link not found")
	ErrInactive      = errors.New("link inactive")
	ErrInvalidURL    = errors.New("invalid url")
	ErrInvalidOwner  = errors.New("owner is required")
	ErrInvalidSlug   = errors.New("invalid slug")
	ErrSlugTaken     = errors.New("slug taken")
	ErrInvalidSecret = errors.New("invalid unlock secret")
	ErrInvalidRange  = errors.New("invalid date range")
)

type StatsRepository interface {
	GetDaily(ctx context.Context, linkID string, from, to time.Time) ([]DailyCount, error)
	DeleteByLink(ctx context.Context, linkID string) error
}

// ClickRecorder accepts a click after a successful redirect. Implementations
// own clickCount; the links service never writes it.
type ClickRecorder interface {
	RecordClick(ctx context.Context, linkID string, at time.Time) error
}

type Slugger interface {
	Generate(length int) (string, error)
}
