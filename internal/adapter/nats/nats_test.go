package nats

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/ChangeGuard/internal/logger"
	"github.com/Strob0t/ChangeGuard/internal/port/messagequeue"
)

func connectOrSkip(t *testing.T) *Queue {
	t.Helper()
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}
	q, err := Connect(context.Background(), url, "")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = q.Close() })
	return q
}

// testSubject is captured by the stream and has no schema.
func testSubject(t *testing.T) string {
	return "evaluations.test." + strings.ReplaceAll(t.Name(), "/", "_")
}

// watchRaw delivers every new message on subject without validation.
func watchRaw(t *testing.T, q *Queue, subject string) <-chan jetstream.Msg {
	t.Helper()
	ctx := context.Background()
	c, err := q.js.CreateOrUpdateConsumer(ctx, q.stream, jetstream.ConsumerConfig{
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		t.Fatalf("raw consumer %s: %v", subject, err)
	}
	out := make(chan jetstream.Msg, 16)
	cc, err := c.Consume(func(m jetstream.Msg) {
		_ = m.Ack()
		select {
		case out <- m:
		default:
		}
	})
	if err != nil {
		t.Fatalf("raw consume %s: %v", subject, err)
	}
	t.Cleanup(cc.Stop)
	return out
}

func waitMsg(t *testing.T, ch <-chan jetstream.Msg, match func(jetstream.Msg) bool, within time.Duration) jetstream.Msg {
	t.Helper()
	deadline := time.After(within)
	for {
		select {
		case m := <-ch:
			if match(m) {
				return m
			}
		case <-deadline:
			t.Fatal("timed out waiting for message")
			return nil
		}
	}
}

func TestQueue_CompletedEventCarriesRequestID(t *testing.T) {
	q := connectOrSkip(t)
	subject := testSubject(t)

	want := messagequeue.EvaluationCompletedPayload{
		EvaluationKey: "acme/api:7:abc:h:v1",
		RepoFullName:  "acme/api",
		PRNumber:      7,
		Attempt:       1,
		Status:        "COMPLIANT",
		CompletedAt:   time.Now().UTC().Truncate(time.Second),
	}
	data, err := json.Marshal(want)
	if err != nil {
		t.Fatal(err)
	}

	type delivery struct {
		reqID string
		got   messagequeue.EvaluationCompletedPayload
	}
	done := make(chan delivery, 1)
	stop, err := q.Subscribe(context.Background(), subject, func(ctx context.Context, _ string, d []byte) error {
		var p messagequeue.EvaluationCompletedPayload
		if err := json.Unmarshal(d, &p); err != nil {
			return err
		}
		select {
		case done <- delivery{reqID: logger.RequestID(ctx), got: p}:
		default:
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer stop()

	ctx := logger.WithRequestID(context.Background(), "req-eval-7")
	if err := q.Publish(ctx, subject, data); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case d := <-done:
		if d.reqID != "req-eval-7" {
			t.Errorf("request id = %q", d.reqID)
		}
		if d.got.EvaluationKey != want.EvaluationKey || d.got.Status != want.Status || !d.got.CompletedAt.Equal(want.CompletedAt) {
			t.Errorf("payload = %+v, want %+v", d.got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("handler not called")
	}
}

func TestQueue_SchemaViolationsAreDeadLettered(t *testing.T) {
	q := connectOrSkip(t)

	tests := []struct {
		name    string
		subject string
		data    string
	}{
		{"requested not json", messagequeue.SubjectEvaluationRequested, "not-json"},
		{"requested without pull request", messagequeue.SubjectEvaluationRequested, `{"event":{"action":"opened"}}`},
		{"completed without key", messagequeue.SubjectEvaluationCompleted, `{"status":"COMPLIANT"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var handled atomic.Int32
			dlq := watchRaw(t, q, tt.subject+dlqSuffix)
			stop, err := q.Subscribe(context.Background(), tt.subject, func(context.Context, string, []byte) error {
				handled.Add(1)
				return nil
			})
			if err != nil {
				t.Fatalf("Subscribe: %v", err)
			}
			defer stop()

			if err := q.Publish(context.Background(), tt.subject, []byte(tt.data)); err != nil {
				t.Fatalf("Publish: %v", err)
			}
			m := waitMsg(t, dlq, func(m jetstream.Msg) bool { return string(m.Data()) == tt.data }, 10*time.Second)
			if m.Headers().Get(headerDLQReason) == "" {
				t.Error("dead letter has no reason header")
			}
		})
	}
}

func TestQueue_FailingHandlerIsRetriedThenDeadLettered(t *testing.T) {
	q := connectOrSkip(t)
	subject := testSubject(t)
	dlq := watchRaw(t, q, subject+dlqSuffix)

	var calls atomic.Int32
	stop, err := q.Subscribe(context.Background(), subject, func(context.Context, string, []byte) error {
		calls.Add(1)
		return errors.New("evaluation ended in ERROR")
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer stop()

	payload := `{"pr":"acme/api#7"}`
	if err := q.Publish(context.Background(), subject, []byte(payload)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	waitMsg(t, dlq, func(m jetstream.Msg) bool { return string(m.Data()) == payload }, 20*time.Second)

	if got := calls.Load(); got != maxRetries+1 {
		t.Errorf("handler calls = %d, want %d", got, maxRetries+1)
	}
}

func TestQueue_KeyValue(t *testing.T) {
	q := connectOrSkip(t)
	ctx := context.Background()

	kv, err := q.KeyValue(ctx, "test-policies-"+strings.ReplaceAll(t.Name(), "/", "-"), time.Minute)
	if err != nil {
		t.Fatalf("KeyValue: %v", err)
	}
	if _, err := kv.Put(ctx, "acme_api.v1", []byte("policy_version: v1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	e, err := kv.Get(ctx, "acme_api.v1")
	if err != nil || string(e.Value()) != "policy_version: v1" {
		t.Fatalf("Get = %v, %v", e, err)
	}
	if err := kv.Delete(ctx, "acme_api.v1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := kv.Get(ctx, "acme_api.v1"); err == nil {
		t.Error("Get after Delete succeeded")
	}
	if !q.IsConnected() {
		t.Error("IsConnected() = false")
	}
}

func TestDurableName(t *testing.T) {
	tests := map[string]string{
		"evaluations.requested": "changeguard-evaluations-requested",
		"evaluations.>":         "changeguard-evaluations-all",
		"evaluations.*.dlq":     "changeguard-evaluations-any-dlq",
	}
	for subject, want := range tests {
		if got := durableName(subject); got != want {
			t.Errorf("durableName(%q) = %q, want %q", subject, got, want)
		}
	}
}
