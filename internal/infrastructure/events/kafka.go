package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Producer is the part of *kgo.Client the notifier uses.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// Envelope is the JSON body of every published event.
type Envelope struct {
	Event      string    `json:"event"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

// KafkaNotifier publishes domain events to one topic. Records are keyed by
// the document, session or task they concern so one entity stays ordered
// within a partition.
type KafkaNotifier struct {
	producer Producer
	topic    string
	now      func() time.Time
}

func NewKafkaNotifier(producer Producer, topic string) *KafkaNotifier {
	return &KafkaNotifier{producer: producer, topic: topic, now: time.Now}
}

// NewKafkaClient builds a franz-go client for a comma separated broker list.
func NewKafkaClient(brokers, clientID string) (*kgo.Client, error) {
	seeds := make([]string, 0)
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			seeds = append(seeds, b)
		}
	}
	if len(seeds) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(seeds...),
		kgo.ClientID(clientID),
		kgo.ProducerLinger(10*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return client, nil
}

func (n *KafkaNotifier) Notify(ctx context.Context, event string, payload any) error {
	body, err := json.Marshal(Envelope{Event: event, OccurredAt: n.now().UTC(), Payload: payload})
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event, err)
	}
	record := &kgo.Record{
		Topic:   n.topic,
		Key:     []byte(partitionKey(event, payload)),
		Value:   body,
		Headers: []kgo.RecordHeader{{Key: "event", Value: []byte(event)}},
	}
	if err := n.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("publish event %s: %w", event, err)
	}
	return nil
}

func partitionKey(event string, payload any) string {
	fields, ok := payload.(map[string]any)
	if !ok {
		return event
	}
	for _, name := range []string{"document_id", "session_id", "task_id"} {
		if v, ok := fields[name].(string); ok && v != "" {
			return v
		}
	}
	return event
}
