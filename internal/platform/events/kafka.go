package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/totebags/api/internal/services"
)

// recordProducer is the subset of *kgo.Client the publisher needs.
type recordProducer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// KafkaPublisher publishes domain events to a Kafka topic keyed by aggregate id,
// so every event of one order lands on the same partition.
type KafkaPublisher struct {
	producer recordProducer
	client   *kgo.Client
	topic    string
}

var _ services.EventPublisher = (*KafkaPublisher)(nil)

// NewKafkaPublisher dials the brokers and returns a synchronous publisher.
func NewKafkaPublisher(brokers []string, topic string, opts ...kgo.Opt) (*KafkaPublisher, error) {
	seeds := make([]string, 0, len(brokers))
	for _, broker := range brokers {
		if b := strings.TrimSpace(broker); b != "" {
			seeds = append(seeds, b)
		}
	}
	if len(seeds) == 0 {
		return nil, errors.New("kafka publisher: at least one broker is required")
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, errors.New("kafka publisher: topic is required")
	}

	clientOpts := append([]kgo.Opt{
		kgo.SeedBrokers(seeds...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}, opts...)
	client, err := kgo.NewClient(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("kafka publisher: new client: %w", err)
	}
	return &KafkaPublisher{producer: client, client: client, topic: topic}, nil
}

// Publish writes the event and waits for the broker acknowledgement.
func (p *KafkaPublisher) Publish(ctx context.Context, event services.DomainEvent) error {
	if p == nil || p.producer == nil {
		return errors.New("kafka publisher: not initialised")
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	record := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(event.AggregateID),
		Value: data,
	}
	for key, value := range eventAttributes(event) {
		record.Headers = append(record.Headers, kgo.RecordHeader{Key: key, Value: []byte(value)})
	}

	if err := p.producer.ProduceSync(ctx, record).FirstErr(); err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}

// Ping checks broker connectivity for readiness probes.
func (p *KafkaPublisher) Ping(ctx context.Context) error {
	if p == nil || p.client == nil {
		return errors.New("kafka publisher: not initialised")
	}
	return p.client.Ping(ctx)
}

// Close flushes buffered records and releases the client.
func (p *KafkaPublisher) Close() error {
	if p != nil && p.client != nil {
		p.client.Close()
	}
	return nil
}
