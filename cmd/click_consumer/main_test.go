package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

type appliedClick struct {
	eventID string
	linkID  string
	at      time.Time
}

type mockApplier struct {
	applied []appliedClick
	err     error
}

func (m *mockApplier) Apply(_ context.Context, eventID, linkID string, at time.Time) error {
	if m.err != nil {
		return m.err
	}
	m.applied = append(m.applied, appliedClick{eventID: eventID, linkID: linkID, at: at})
	return nil
}

func TestProcessMessage(t *testing.T) {
	kafkaTime := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	eventTime := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)

	tests := []struct {
		name        string
		value       string
		wantApplied []appliedClick
	}{
		{
			name:        "applies event time",
			value:       `{"eventId":"ev-1","linkId":"link-a","occurredAt":"2026-03-01T23:59:00Z"}`,
			wantApplied: []appliedClick{{eventID: "ev-1", linkID: "link-a", at: eventTime}},
		},
		{
			name:        "falls back to kafka timestamp",
			value:       `{"eventId":"ev-2","linkId":"link-a","occurredAt":"yesterday"}`,
			wantApplied: []appliedClick{{eventID: "ev-2", linkID: "link-a", at: kafkaTime}},
		},
		{
			name:        "missing event id uses log position",
			value:       `{"linkId":"link-a","occurredAt":"2026-03-01T23:59:00Z"}`,
			wantApplied: []appliedClick{{eventID: "clicks.recorded/2/41", linkID: "link-a", at: eventTime}},
		},
		{
			name:  "skips missing link id",
			value: `{"eventId":"ev-3","occurredAt":"2026-03-01T23:59:00Z"}`,
		},
		{
			name:  "skips invalid payload",
			value: `not-json`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			applier := &mockApplier{}
			msg := kafka.Message{Topic: "clicks.recorded", Partition: 2, Offset: 41, Value: []byte(tt.value), Time: kafkaTime}

			if err := processMessage(context.Background(), msg, applier, time.Second); err != nil {
				t.Fatalf("processMessage returned error: %v", err)
			}
			if len(applier.applied) != len(tt.wantApplied) {
				t.Fatalf("applied %d clicks, want %d", len(applier.applied), len(tt.wantApplied))
			}
			for i, want := range tt.wantApplied {
				got := applier.applied[i]
				if got.eventID != want.eventID || got.linkID != want.linkID || !got.at.Equal(want.at) {
					t.Fatalf("applied[%d] = %+v, want %+v", i, got, want)
				}
			}
		})
	}
}

func TestProcessMessage_ApplyErrorPropagates(t *testing.T) {
	applier := &mockApplier{err: errors.New("mongo unavailable")}
	msg := kafka.Message{Value: []byte(`{"eventId":"ev-1","linkId":"link-a"}`), Time: time.Now()}

	if err := processMessage(context.Background(), msg, applier, time.Second); err == nil {
		t.Fatal("expected apply error to be returned")
	}
}

type fakeReader struct {
	queue       []kafka.Message
	committed   []int64
	failCommits int
	drained     func()
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(r.queue) == 0 {
		r.drained()
		return kafka.Message{}, ctx.Err()
	}
	msg := r.queue[0]
	r.queue = r.queue[1:]
	return msg, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	if r.failCommits > 0 {
		r.failCommits--
		return errors.New("group rebalancing")
	}
	for _, msg := range msgs {
		r.committed = append(r.committed, msg.Offset)
	}
	return nil
}

// flakyApplier fails every click for failLink until it has failed failures
// times. onFailure runs after each failed attempt.
type flakyApplier struct {
	failLink  string
	failures  int
	attempts  int
	applied   []string
	onFailure func(attempts int)
}

func (a *flakyApplier) Apply(_ context.Context, _, linkID string, _ time.Time) error {
	if linkID == a.failLink {
		a.attempts++
		if a.failures < 0 || a.attempts <= a.failures {
			if a.onFailure != nil {
				a.onFailure(a.attempts)
			}
			return errors.New("write conflict")
		}
	}
	a.applied = append(a.applied, linkID)
	return nil
}

func consumeQueue() []kafka.Message {
	return []kafka.Message{
		{Offset: 1, Value: []byte(`{"eventId":"ev-1","linkId":"link-a"}`), Time: time.Now()},
		{Offset: 2, Value: []byte(`garbage`), Time: time.Now()},
		{Offset: 3, Value: []byte(`{"eventId":"ev-3","linkId":"link-broken"}`), Time: time.Now()},
		{Offset: 4, Value: []byte(`{"eventId":"ev-4","linkId":"link-b"}`), Time: time.Now()},
	}
}

func runConsume(t *testing.T, ctx context.Context, reader *fakeReader, applier clickApplier) {
	t.Helper()
	cfg := consumerConfig{operationTTL: time.Second, consumeBackoff: time.Millisecond}

	done := make(chan struct{})
	go func() {
		consume(ctx, reader, applier, cfg)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consume did not stop after cancellation")
	}
}

func equalOffsets(got, want []int64) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range want {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func TestConsume(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &fakeReader{queue: consumeQueue(), failCommits: 1, drained: cancel}
	applier := &flakyApplier{failLink: "link-broken", failures: 2}

	runConsume(t, ctx, reader, applier)

	if want := []int64{1, 2, 3, 4}; !equalOffsets(reader.committed, want) {
		t.Fatalf("committed offsets = %v, want %v", reader.committed, want)
	}
	if applier.attempts != 3 {
		t.Errorf("link-broken attempts = %d, want 3", applier.attempts)
	}
	want := []string{"link-a", "link-broken", "link-b"}
	if len(applier.applied) != len(want) {
		t.Fatalf("applied = %v, want %v", applier.applied, want)
	}
	for i := range want {
		if applier.applied[i] != want[i] {
			t.Fatalf("applied = %v, want %v", applier.applied, want)
		}
	}
}

// A message that never applies holds the partition: nothing after it is
// fetched or committed.
func TestConsume_FailingMessageBlocksLaterOffsets(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &fakeReader{queue: consumeQueue(), drained: cancel}
	applier := &flakyApplier{
		failLink: "link-broken",
		failures: -1,
		onFailure: func(attempts int) {
			if attempts == 5 {
				cancel()
			}
		},
	}

	runConsume(t, ctx, reader, applier)

	if want := []int64{1, 2}; !equalOffsets(reader.committed, want) {
		t.Fatalf("committed offsets = %v, want %v", reader.committed, want)
	}
	if applier.attempts != 5 {
		t.Errorf("link-broken attempts = %d, want 5", applier.attempts)
	}
	if len(reader.queue) != 1 || reader.queue[0].Offset != 4 {
		t.Errorf("offset 4 was fetched past an unapplied message; queue = %v", reader.queue)
	}
	if len(applier.applied) != 1 || applier.applied[0] != "link-a" {
		t.Errorf("applied = %v, want [link-a]", applier.applied)
	}
}

func TestSleep(t *testing.T) {
	if !sleep(context.Background(), time.Millisecond) {
		t.Fatal("expected sleep to complete")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if sleep(ctx, time.Hour) {
		t.Fatal("expected cancelled sleep to report false")
	}
}

func TestContextFromKafkaHeaders(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	defer otel.SetTextMapPropagator(prev)

	ctx := contextFromKafkaHeaders(context.Background(), []kafka.Header{
		{Key: " Traceparent ", Value: []byte("00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")},
		{Key: "", Value: []byte("ignored")},
	})

	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		t.Fatal("expected a valid remote span context")
	}
	if got := sc.TraceID().String(); got != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Fatalf("trace id = %s", got)
	}
}
