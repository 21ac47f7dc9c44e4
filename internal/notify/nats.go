package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"leverage-sync/internal/observability"
)

// Stream defaults for outbound notifications.
const (
	DefaultStreamName    = "LEVERAGE_EVENTS"
	DefaultSubjectPrefix = "leverage.events"
)

// NATSPublisher publishes notifications to JetStream under
// <prefix>.<kind>. The deterministic event id is sent as Nats-Msg-Id so
// the stream drops redelivered events within its duplicate window.
type NATSPublisher struct {
	js      jetstream.JetStream
	prefix  string
	log     zerolog.Logger
	metrics *observability.Metrics
}

// NewNATSPublisher creates a publisher. An empty prefix uses DefaultSubjectPrefix.
func NewNATSPublisher(js jetstream.JetStream, prefix string, log zerolog.Logger, metrics *observability.Metrics) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSPublisher{
		js:      js,
		prefix:  strings.TrimSuffix(prefix, "."),
		log:     log,
		metrics: metrics,
	}
}

// Name implements Sink.
func (p *NATSPublisher) Name() string { return "nats" }

// Run implements Sink. Publish failures are logged and counted; the
// stream is best-effort and never blocks the engine.
func (p *NATSPublisher) Run(ctx context.Context, in <-chan Notification) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-in:
			if !ok {
				return nil
			}
			if err := p.Publish(ctx, n); err != nil {
				p.metrics.RecordSinkError(p.Name())
				p.log.Warn().Err(err).Str("kind", string(n.Kind)).Str("event_id", n.EventID).Msg("outbound publish failed")
			}
		}
	}
}

// Publish sends one notification.
func (p *NATSPublisher) Publish(ctx context.Context, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	var opts []jetstream.PublishOpt
	if n.EventID != "" {
		opts = append(opts, jetstream.WithMsgID(n.EventID))
	}

	if _, err := p.js.Publish(ctx, p.Subject(n.Kind), data, opts...); err != nil {
		return fmt.Errorf("publish %s: %w", n.Kind, err)
	}
	return nil
}

// Subject returns the subject for a notification kind.
func (p *NATSPublisher) Subject(kind Kind) string {
	return p.prefix + "." + string(kind)
}

// EnsureStream creates or updates the outbound stream.
func EnsureStream(ctx context.Context, js jetstream.JetStream, name, prefix string) error {
	if name == "" {
		name = DefaultStreamName
	}
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       name,
		Subjects:   []string{strings.TrimSuffix(prefix, ".") + ".>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     72 * time.Hour,
		Duplicates: 10 * time.Minute,
		Replicas:   1,
	})
	if err != nil {
		return fmt.Errorf("create outbound stream: %w", err)
	}
	return nil
}

// ConnectNATS connects with unlimited reconnects and returns a JetStream
// handle on the connection.
func ConnectNATS(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("leverage-sync"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}
