package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"datahub.migas.id/clearinghouse/internal/config"
	"datahub.migas.id/clearinghouse/internal/domain"
	"datahub.migas.id/clearinghouse/internal/pkg/logger"
	"datahub.migas.id/clearinghouse/internal/pkg/metrics"
)

const (
	headerMsgID     = "Nats-Msg-Id"
	headerEventType = "X-Event-Type"
	streamMaxAge    = 7 * 24 * time.Hour
)

// JetStreamPublisher publishes domain events to a NATS JetStream stream.
// The event id is sent as Nats-Msg-Id so redeliveries are deduplicated by
// the server.
type JetStreamPublisher struct {
	conn    *nats.Conn
	js      jetstream.JetStream
	stream  string
	prefix  string
	timeout time.Duration
}

// NewJetStreamPublisher connects to cfg.NATSURL and ensures the stream exists.
func NewJetStreamPublisher(ctx context.Context, cfg config.EventsConfig) (*JetStreamPublisher, error) {
	conn, err := nats.Connect(cfg.NATSURL,
		nats.Name("clearinghouse"),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Named("events").Warn("NATS disconnected", zap.Error(err))
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Named("events").Info("NATS reconnected", zap.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	p := &JetStreamPublisher{
		conn:    conn,
		js:      js,
		stream:  cfg.Stream,
		prefix:  cfg.SubjectPrefix,
		timeout: cfg.PublishTimeout,
	}
	if err := p.ensureStream(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return p, nil
}

func (p *JetStreamPublisher) ensureStream(ctx context.Context) error {
	streamCfg := jetstream.StreamConfig{
		Name:       p.stream,
		Subjects:   []string{p.prefix + ".>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     streamMaxAge,
		Discard:    jetstream.DiscardOld,
		Duplicates: 2 * time.Minute,
		MaxMsgs:    -1,
		MaxBytes:   -1,
	}

	_, err := p.js.Stream(ctx, p.stream)
	switch {
	case errors.Is(err, jetstream.ErrStreamNotFound):
		if _, err := p.js.CreateStream(ctx, streamCfg); err != nil {
			return fmt.Errorf("create stream %s: %w", p.stream, err)
		}
		logger.Info("Created JetStream stream", zap.String("stream", p.stream))
	case err != nil:
		return fmt.Errorf("lookup stream %s: %w", p.stream, err)
	default:
		if _, err := p.js.UpdateStream(ctx, streamCfg); err != nil {
			return fmt.Errorf("update stream %s: %w", p.stream, err)
		}
	}
	return nil
}

// Publish sends event and waits for the stream acknowledgement.
func (p *JetStreamPublisher) Publish(ctx context.Context, event *domain.DomainEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", event.EventID, err)
	}

	msg := &nats.Msg{
		Subject: Subject(p.prefix, event),
		Data:    data,
		Header:  make(nats.Header),
	}
	msg.Header.Set(headerMsgID, event.EventID)
	msg.Header.Set(headerEventType, string(event.EventType))

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	if _, err := p.js.PublishMsg(ctx, msg); err != nil {
		metrics.EventsPublished.WithLabelValues("error").Inc()
		return fmt.Errorf("publish %s: %w", msg.Subject, err)
	}
	metrics.EventsPublished.WithLabelValues("ok").Inc()
	return nil
}

// Close drains the connection so in-flight publishes complete.
func (p *JetStreamPublisher) Close() error {
	if p.conn == nil {
		return nil
	}
	return p.conn.Drain()
}
