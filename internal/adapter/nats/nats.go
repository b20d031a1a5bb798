// Package nats implements the message queue port using NATS JetStream.
package nats

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/ChangeGuard/internal/logger"
	"github.com/Strob0t/ChangeGuard/internal/port/messagequeue"
)

// DefaultStream is the JetStream stream capturing all evaluation subjects.
const DefaultStream = "CHANGEGUARD"

const (
	headerRequestID  = "X-Request-ID"
	headerRetryCount = "Retry-Count"
	headerDLQReason  = "DLQ-Reason"
	maxRetries       = 3
	dlqSuffix        = ".dlq"
)

// Queue implements messagequeue.Queue using NATS JetStream.
type Queue struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	stream string
}

// Connect establishes a connection to NATS and ensures the JetStream stream
// exists. An empty stream name selects DefaultStream.
func Connect(ctx context.Context, url, stream string) (*Queue, error) {
	if stream == "" {
		stream = DefaultStream
	}
	nc, err := nats.Connect(url,
		nats.Name("changeguard"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	// Ensure the stream exists with subjects matching our topic patterns.
	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     stream,
		Subjects: []string{"evaluations.>"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	slog.Info("nats connected", "url", url, "stream", stream)
	return &Queue{nc: nc, js: js, stream: stream}, nil
}

// Publish sends a message to the given subject. The request ID in ctx, if
// any, travels as a header.
func (q *Queue) Publish(ctx context.Context, subject string, data []byte) error {
	msg := &nats.Msg{Subject: subject, Data: data, Header: nats.Header{}}
	if id := logger.RequestID(ctx); id != "" {
		msg.Header.Set(headerRequestID, id)
	}
	if _, err := q.js.PublishMsg(ctx, msg); err != nil {
		return fmt.Errorf("nats publish %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers a durable consumer for subject. Messages failing
// schema validation go straight to <subject>.dlq; handler failures are
// redelivered until maxRetries is reached and then dead-lettered.
func (q *Queue) Subscribe(ctx context.Context, subject string, handler messagequeue.Handler) (func(), error) {
	consumer, err := q.js.CreateOrUpdateConsumer(ctx, q.stream, jetstream.ConsumerConfig{
		Durable:       durableName(subject),
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("nats consumer create: %w", err)
	}

	cons, err := consumer.Consume(func(msg jetstream.Msg) {
		q.handle(msg, handler)
	})
	if err != nil {
		return nil, fmt.Errorf("nats consume: %w", err)
	}

	return cons.Stop, nil
}

func (q *Queue) handle(msg jetstream.Msg, handler messagequeue.Handler) {
	subject := msg.Subject()
	if err := messagequeue.Validate(subject, msg.Data()); err != nil {
		slog.Error("message rejected", "subject", subject, "error", err)
		q.moveToDLQ(msg, err)
		return
	}

	ctx := context.Background()
	if id := msg.Headers().Get(headerRequestID); id != "" {
		ctx = logger.WithRequestID(ctx, id)
	}

	if err := handler(ctx, subject, msg.Data()); err != nil {
		retries := retryCount(msg)
		slog.Error("message handler failed", "subject", subject, "retries", retries, "error", err)
		if retries >= maxRetries {
			q.moveToDLQ(msg, err)
			return
		}
		if nakErr := msg.NakWithDelay(time.Duration(retries+1) * time.Second); nakErr != nil {
			slog.Error("nats nak failed", "error", nakErr)
		}
		return
	}
	if ackErr := msg.Ack(); ackErr != nil {
		slog.Error("nats ack failed", "error", ackErr)
	}
}

// moveToDLQ republishes the message to the dead-letter subject and acks
// the original so it is not redelivered.
func (q *Queue) moveToDLQ(msg jetstream.Msg, reason error) {
	dlq := &nats.Msg{Subject: msg.Subject() + dlqSuffix, Data: msg.Data(), Header: nats.Header{}}
	for k, vs := range msg.Headers() {
		for _, v := range vs {
			dlq.Header.Add(k, v)
		}
	}
	dlq.Header.Set(headerDLQReason, reason.Error())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := q.js.PublishMsg(ctx, dlq); err != nil {
		slog.Error("nats dlq publish failed", "subject", dlq.Subject, "error", err)
		_ = msg.Nak()
		return
	}
	if err := msg.Ack(); err != nil {
		slog.Error("nats ack failed", "error", err)
	}
}

// retryCount returns how often the message was already retried, from the
// Retry-Count header or the delivery count, whichever is higher.
func retryCount(msg jetstream.Msg) int {
	n := 0
	if v := msg.Headers().Get(headerRetryCount); v != "" {
		if h, err := strconv.Atoi(v); err == nil {
			n = h
		}
	}
	if meta, err := msg.Metadata(); err == nil && int(meta.NumDelivered)-1 > n {
		n = int(meta.NumDelivered) - 1
	}
	return n
}

func durableName(subject string) string {
	return "changeguard-" + strings.NewReplacer(".", "-", "*", "any", ">", "all").Replace(subject)
}

// KeyValue opens or creates a JetStream KV bucket. A ttl of zero keeps
// entries until they are deleted.
func (q *Queue) KeyValue(ctx context.Context, bucket string, ttl time.Duration) (jetstream.KeyValue, error) {
	kv, err := q.js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: bucket,
		TTL:    ttl,
	})
	if err != nil {
		return nil, fmt.Errorf("nats kv %s: %w", bucket, err)
	}
	return kv, nil
}

// Drain gracefully drains all subscriptions and closes the connection.
func (q *Queue) Drain() error {
	return q.nc.Drain()
}

// IsConnected reports whether the NATS connection is up.
func (q *Queue) IsConnected() bool {
	return q.nc.IsConnected()
}

// Close shuts down the NATS connection.
func (q *Queue) Close() error {
	q.nc.Close()
	return nil
}
