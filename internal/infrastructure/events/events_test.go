package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

type producerFake struct {
	records []*kgo.Record
	err     error
}

func (p *producerFake) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	out := make(kgo.ProduceResults, 0, len(rs))
	for _, r := range rs {
		p.records = append(p.records, r)
		out = append(out, kgo.ProduceResult{Record: r, Err: p.err})
	}
	return out
}

func TestKafkaNotifierKeysByEntity(t *testing.T) {
	producer := &producerFake{}
	notifier := NewKafkaNotifier(producer, "docextract.events")
	notifier.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	err := notifier.Notify(context.Background(), "review.approved", map[string]any{"task_id": "t-1", "document_id": "d-1"})
	if err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if len(producer.records) != 1 {
		t.Fatalf("expected one record, got %d", len(producer.records))
	}
	rec := producer.records[0]
	if rec.Topic != "docextract.events" || string(rec.Key) != "d-1" {
		t.Fatalf("unexpected record topic=%s key=%s", rec.Topic, rec.Key)
	}
	var env Envelope
	if err := json.Unmarshal(rec.Value, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Event != "review.approved" || !env.OccurredAt.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected envelope %+v", env)
	}
	if len(rec.Headers) != 1 || string(rec.Headers[0].Value) != "review.approved" {
		t.Fatalf("unexpected headers %+v", rec.Headers)
	}
}

func TestKafkaNotifierReturnsProduceError(t *testing.T) {
	producer := &producerFake{err: errors.New("broker down")}
	notifier := NewKafkaNotifier(producer, "events")
	if err := notifier.Notify(context.Background(), "session.stopped", nil); err == nil {
		t.Fatal("expected produce error")
	}
	if string(producer.records[0].Key) != "session.stopped" {
		t.Fatalf("expected event name as key, got %s", producer.records[0].Key)
	}
}

type notifierFunc func(context.Context, string, any) error

func (f notifierFunc) Notify(ctx context.Context, event string, payload any) error {
	return f(ctx, event, payload)
}

func TestMultiCallsEveryNotifier(t *testing.T) {
	calls := 0
	ok := notifierFunc(func(context.Context, string, any) error { calls++; return nil })
	failing := notifierFunc(func(context.Context, string, any) error { calls++; return errors.New("down") })

	err := Multi{failing, nil, ok, NewLogNotifier(nil)}.Notify(context.Background(), "document.approved", map[string]any{})
	if err == nil {
		t.Fatal("expected joined error")
	}
	if calls != 2 {
		t.Fatalf("expected both notifiers called, got %d", calls)
	}
}

func TestNewKafkaClientRequiresBrokers(t *testing.T) {
	if _, err := NewKafkaClient(" , ", "docextract"); err == nil {
		t.Fatal("expected error for empty broker list")
	}
}
