package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/dshills/audira-commerce/internal/logkey"
)

// KafkaNotifier produces each event as a JSON record keyed by order id,
// so every event for one order lands on the same partition.
type KafkaNotifier struct {
	client *kgo.Client
	topic  string
	logger *slog.Logger
}

// NewKafkaNotifier connects a producer to the given brokers
func NewKafkaNotifier(brokers []string, topic string, logger *slog.Logger) (*KafkaNotifier, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("kafka notifier: no brokers configured")
	}
	if logger == nil {
		logger = slog.Default()
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka notifier: %w", err)
	}
	return &KafkaNotifier{client: client, topic: topic, logger: logger}, nil
}

// Notify hands the record to the producer and returns immediately.
// Failures are logged from the produce callback.
func (k *KafkaNotifier) Notify(ctx context.Context, ev Event) {
	record, err := newRecord(k.topic, ev)
	if err != nil {
		k.logger.Error("failed to encode event", slog.String(logkey.Event, string(ev.Type)), slog.Any(logkey.Error, err))
		return
	}

	// the request context ends before the broker acknowledges
	k.client.Produce(context.WithoutCancel(ctx), record, func(r *kgo.Record, err error) {
		if err != nil {
			k.logger.Error("failed to produce event",
				slog.String(logkey.Event, string(ev.Type)),
				slog.Int64(logkey.OrderID, ev.OrderID),
				slog.Any(logkey.Error, err))
		}
	})
}

// Close flushes buffered records and closes the client
func (k *KafkaNotifier) Close(ctx context.Context) error {
	err := k.client.Flush(ctx)
	k.client.Close()
	return err
}

func newRecord(topic string, ev Event) (*kgo.Record, error) {
	value, err := ev.Encode()
	if err != nil {
		return nil, err
	}
	return &kgo.Record{
		Topic: topic,
		Key:   []byte(strconv.FormatInt(ev.OrderID, 10)),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "event-type", Value: []byte(ev.Type)},
		},
	}, nil
}
