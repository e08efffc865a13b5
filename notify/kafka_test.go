package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap/zaptest"

	"estatehub/config"
)

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

var testKafkaConfig = config.KafkaConfig{
	NotificationTopic: "push",
	EntitlementTopic:  "entitlements",
}

func TestKafkaNotifierRoutesByTopic(t *testing.T) {
	w := &fakeWriter{}
	n := newKafkaNotifier(w, testKafkaConfig, zaptest.NewLogger(t))
	ctx := context.Background()

	if err := n.Push(ctx, PushRequest{UserID: "u1", Title: "New message"}); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := n.Publish(ctx, Event{Type: EventBannerPaid, UserID: "u1"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	if len(w.msgs) != 2 {
		t.Fatalf("wrote %d messages, want 2", len(w.msgs))
	}
	if w.msgs[0].Topic != "push" || w.msgs[1].Topic != "entitlements" {
		t.Fatalf("topics = %s, %s", w.msgs[0].Topic, w.msgs[1].Topic)
	}
	if string(w.msgs[1].Key) != "u1" {
		t.Fatalf("key = %s", w.msgs[1].Key)
	}

	var evt Event
	if err := json.Unmarshal(w.msgs[1].Value, &evt); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if evt.Type != EventBannerPaid || evt.OccurredAt.IsZero() {
		t.Fatalf("event = %+v", evt)
	}
}

func TestKafkaNotifierReportsFailure(t *testing.T) {
	boom := errors.New("broker down")
	n := newKafkaNotifier(&fakeWriter{err: boom}, testKafkaConfig, zaptest.NewLogger(t))

	err := n.Push(context.Background(), PushRequest{UserID: "u1"})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped broker error", err)
	}
}

type countingWriter struct {
	fakeWriter
	calls int
}

func (w *countingWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.calls++
	return w.fakeWriter.WriteMessages(ctx, msgs...)
}

func TestKafkaNotifierBatchesPushes(t *testing.T) {
	w := &countingWriter{}
	n := newKafkaNotifier(w, testKafkaConfig, zaptest.NewLogger(t))

	err := n.Push(context.Background(),
		PushRequest{UserID: "u1", DeviceToken: "t1"},
		PushRequest{UserID: "u2", DeviceToken: "t2"},
		PushRequest{UserID: "u3", DeviceToken: "t3"},
	)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if w.calls != 1 || len(w.msgs) != 3 {
		t.Fatalf("writes = %d, messages = %d, want 1 and 3", w.calls, len(w.msgs))
	}
	for i, m := range w.msgs {
		if m.Topic != "push" || string(m.Key) != []string{"u1", "u2", "u3"}[i] {
			t.Errorf("message %d = topic %s key %s", i, m.Topic, m.Key)
		}
	}

	if err := n.Push(context.Background()); err != nil || w.calls != 1 {
		t.Errorf("empty push err = %v, writes = %d", err, w.calls)
	}
}
