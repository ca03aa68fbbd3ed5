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

	"github.com/Strob0t/ModGuard/internal/logger"
	"github.com/Strob0t/ModGuard/internal/port/messagequeue"
)

const (
	streamName = "MODGUARD"

	headerRequestID  = "X-Request-ID"
	headerRetryCount = "Retry-Count"
	dlqSuffix        = ".dlq"

	// maxRetries is how many times a failing message is redelivered before
	// it is moved to the dead-letter subject.
	maxRetries = 3
)

// Queue implements messagequeue.Queue using NATS JetStream.
type Queue struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// Connect establishes a connection to NATS and ensures the JetStream stream exists.
func Connect(ctx context.Context, url string) (*Queue, error) {
	nc, err := nats.Connect(url,
		nats.Name("modguard"),
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

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{"moderation.>", "appeals.>"},
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	slog.Info("nats connected", "url", url, "stream", streamName)
	return &Queue{nc: nc, js: js}, nil
}

// Publish sends a message to the given subject, carrying the request ID
// from ctx as a header.
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

// Subscribe registers a durable handler for messages on the given subject.
// Messages that fail validation go straight to subject+".dlq"; handler
// failures are retried up to maxRetries times before the same happens.
func (q *Queue) Subscribe(ctx context.Context, subject string, handler messagequeue.Handler) (func(), error) {
	consumer, err := q.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		Durable:       consumerName(subject),
		FilterSubject: subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
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
	hdrs := msg.Headers()

	ctx := context.Background()
	if id := hdrs.Get(headerRequestID); id != "" {
		ctx = logger.WithRequestID(ctx, id)
	}

	if err := messagequeue.Validate(subject, msg.Data()); err != nil {
		slog.ErrorContext(ctx, "message validation failed", "subject", subject, "error", err)
		q.moveToDLQ(ctx, msg)
		return
	}

	if err := handler(ctx, subject, msg.Data()); err != nil {
		n := retryCount(hdrs)
		if n >= maxRetries {
			slog.ErrorContext(ctx, "message retries exhausted", "subject", subject, "retries", n, "error", err)
			q.moveToDLQ(ctx, msg)
			return
		}
		slog.WarnContext(ctx, "message handler failed, retrying", "subject", subject, "retry", n+1, "error", err)
		q.republish(ctx, msg, n+1)
		return
	}
	if err := msg.Ack(); err != nil {
		slog.ErrorContext(ctx, "nats ack failed", "error", err)
	}
}

// republish acks the original and publishes a copy with an incremented
// retry count, so the count survives redelivery.
func (q *Queue) republish(ctx context.Context, msg jetstream.Msg, retry int) {
	out := &nats.Msg{Subject: msg.Subject(), Data: msg.Data(), Header: copyHeader(msg.Headers())}
	out.Header.Set(headerRetryCount, strconv.Itoa(retry))
	if _, err := q.js.PublishMsg(ctx, out); err != nil {
		slog.ErrorContext(ctx, "nats republish failed", "subject", msg.Subject(), "error", err)
		if nakErr := msg.NakWithDelay(time.Second); nakErr != nil {
			slog.ErrorContext(ctx, "nats nak failed", "error", nakErr)
		}
		return
	}
	if err := msg.Ack(); err != nil {
		slog.ErrorContext(ctx, "nats ack failed", "error", err)
	}
}

func (q *Queue) moveToDLQ(ctx context.Context, msg jetstream.Msg) {
	out := &nats.Msg{Subject: msg.Subject() + dlqSuffix, Data: msg.Data(), Header: copyHeader(msg.Headers())}
	if _, err := q.js.PublishMsg(ctx, out); err != nil {
		slog.ErrorContext(ctx, "nats dlq publish failed", "subject", out.Subject, "error", err)
		if nakErr := msg.Nak(); nakErr != nil {
			slog.ErrorContext(ctx, "nats nak failed", "error", nakErr)
		}
		return
	}
	if err := msg.Term(); err != nil {
		slog.ErrorContext(ctx, "nats term failed", "error", err)
	}
}

// KeyValue returns the named JetStream KV bucket, creating it if needed.
// A zero ttl keeps entries forever.
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

// Drain processes in-flight messages, then closes the connection.
func (q *Queue) Drain() error {
	if err := q.nc.Drain(); err != nil {
		return fmt.Errorf("nats drain: %w", err)
	}
	return nil
}

// Close shuts down the NATS connection.
func (q *Queue) Close() error {
	q.nc.Close()
	return nil
}

// IsConnected reports whether the underlying connection is up.
func (q *Queue) IsConnected() bool {
	return q.nc.IsConnected()
}

func retryCount(h nats.Header) int {
	n, err := strconv.Atoi(h.Get(headerRetryCount))
	if err != nil {
		return 0
	}
	return n
}

func copyHeader(h nats.Header) nats.Header {
	out := nats.Header{}
	for k, v := range h {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// consumerName derives a durable name; NATS forbids '.', '*' and '>' in names.
func consumerName(subject string) string {
	r := strings.NewReplacer(".", "_", "*", "any", ">", "all")
	return "modguard_" + r.Replace(subject)
}
