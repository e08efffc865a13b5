package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"estatehub/config"
	"estatehub/metrics"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes push requests and domain events to Kafka topics
type KafkaNotifier struct {
	writer            messageWriter
	notificationTopic string
	entitlementTopic  string
	logger            *zap.Logger
}

// NewKafkaNotifier creates a synchronous writer so each call reports its
// own delivery outcome.
func NewKafkaNotifier(cfg config.KafkaConfig, logger *zap.Logger) *KafkaNotifier {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		BatchTimeout: 10 * time.Millisecond,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		Compression:  kafka.Snappy,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Debug(fmt.Sprintf(msg, args...))
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Warn(fmt.Sprintf(msg, args...))
		}),
	}
	return newKafkaNotifier(writer, cfg, logger)
}

func newKafkaNotifier(w messageWriter, cfg config.KafkaConfig, logger *zap.Logger) *KafkaNotifier {
	return &KafkaNotifier{
		writer:            w,
		notificationTopic: cfg.NotificationTopic,
		entitlementTopic:  cfg.EntitlementTopic,
		logger:            logger,
	}
}

// Push publishes push requests keyed by user id in a single write
func (n *KafkaNotifier) Push(ctx context.Context, reqs ...PushRequest) error {
	if len(reqs) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(reqs))
	for _, req := range reqs {
		msg, err := encode("push", n.notificationTopic, req.UserID, req)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	return n.write(ctx, "push", n.notificationTopic, msgs...)
}

// Publish emits a domain event keyed by user id
func (n *KafkaNotifier) Publish(ctx context.Context, evt Event) error {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	msg, err := encode(evt.Type, n.entitlementTopic, evt.UserID, evt)
	if err != nil {
		return err
	}
	return n.write(ctx, evt.Type, n.entitlementTopic, msg)
}

// Close flushes and closes the writer
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

func encode(kind, topic, key string, v interface{}) (kafka.Message, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode %s: %w", kind, err)
	}
	return kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: body,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(kind)},
		},
	}, nil
}

func (n *KafkaNotifier) write(ctx context.Context, kind, topic string, msgs ...kafka.Message) error {
	if err := n.writer.WriteMessages(ctx, msgs...); err != nil {
		metrics.Notifications.WithLabelValues(kind, "failed").Add(float64(len(msgs)))
		n.logger.Error("failed to publish to Kafka",
			zap.String("kind", kind),
			zap.String("topic", topic),
			zap.Int("messages", len(msgs)),
			zap.Error(err),
		)
		return fmt.Errorf("publish %s: %w", kind, err)
	}

	metrics.Notifications.WithLabelValues(kind, "accepted").Add(float64(len(msgs)))
	n.logger.Debug("published to Kafka", zap.String("kind", kind), zap.String("topic", topic), zap.Int("messages", len(msgs)))
	return nil
}

// LogNotifier records notifications in the log when Kafka is disabled
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a notifier that only logs
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Push logs the push requests
func (n *LogNotifier) Push(ctx context.Context, reqs ...PushRequest) error {
	for _, req := range reqs {
		metrics.Notifications.WithLabelValues("push", "logged").Inc()
		n.logger.Debug("push notification",
			zap.String("user_id", req.UserID),
			zap.Bool("has_device_token", req.DeviceToken != ""),
			zap.String("title", req.Title),
		)
	}
	return nil
}

// Publish logs the domain event
func (n *LogNotifier) Publish(ctx context.Context, evt Event) error {
	metrics.Notifications.WithLabelValues(evt.Type, "logged").Inc()
	n.logger.Debug("domain event",
		zap.String("type", evt.Type),
		zap.String("user_id", evt.UserID),
		zap.Any("data", evt.Data),
	)
	return nil
}
