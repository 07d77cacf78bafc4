package notify

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	kgo "github.com/segmentio/kafka-go"
)

const defaultPublishTimeout = 3 * time.Second

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kgo.Message) error
	Close() error
}

// KafkaSink publishes each notification as JSON keyed by task id, so all
// messages for one task land on the same partition in order.
type KafkaSink struct {
	writer  messageWriter
	timeout time.Duration
}

func NewKafkaSink(brokers []string, topic string) (*KafkaSink, error) {
	brokers = compact(brokers)
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers are required")
	}
	if topic == "" {
		return nil, errors.New("kafka topic is required")
	}
	w := &kgo.Writer{
		Addr:         kgo.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kgo.Hash{},
		RequiredAcks: kgo.RequireOne,
	}
	return &KafkaSink{writer: w, timeout: defaultPublishTimeout}, nil
}

func (k *KafkaSink) Name() string { return "kafka" }

func (k *KafkaSink) Deliver(ctx context.Context, n Notification) error {
	b, err := json.Marshal(n)
	if err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	return k.writer.WriteMessages(cctx, kgo.Message{
		Key:   []byte(n.TaskID),
		Value: b,
		Time:  n.At,
	})
}

func (k *KafkaSink) Close() error { return k.writer.Close() }

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
