package events

import (
	"strings"
	"time"
)

const ClickRecordedType = "click.recorded"

// ClickRecorded is emitted when a redirect to a link's destination succeeds.
type ClickRecorded struct {
	EventID    string `json:"eventId"`
	LinkID     string `json:"linkId"`
	OccurredAt string `json:"occurredAt"`
}

func NewClickRecorded(eventID, linkID string, at time.Time) ClickRecorded {
	return ClickRecorded{
		EventID:    eventID,
		LinkID:     linkID,
		OccurredAt: at.UTC().Format(time.RFC3339Nano),
	}
}

// Time parses OccurredAt, falling back when it is empty or malformed.
func (e ClickRecorded) Time(fallback time.Time) (time.Time, bool) {
	if strings.TrimSpace(e.OccurredAt) == "" {
		return fallback.UTC(), false
	}
	t, err := time.Parse(time.RFC3339Nano, e.OccurredAt)
	if err != nil {
		return fallback.UTC(), false
	}
	return t.UTC(), true
}
