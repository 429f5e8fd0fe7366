// Package natsbroker fans row-change events out over NATS. Publishing goes
// through a JetStream stream when one is configured so late consumers can
// replay recent changes; subscribers use plain core subscriptions.
package natsbroker

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/capitalize-ai/commerce-sync/internal/backend"
	"github.com/capitalize-ai/commerce-sync/internal/broker"
	"github.com/capitalize-ai/commerce-sync/pkg/logger"
	"github.com/capitalize-ai/commerce-sync/pkg/metrics"
)

const name = "nats"

// Config holds NATS connection configuration.
type Config struct {
	URL      string
	CAFile   string
	CertFile string
	KeyFile  string
	Token    string
	// Stream, when set, names the JetStream stream change events are
	// persisted to.
	Stream string
	// MaxAge bounds how long the stream keeps events.
	MaxAge time.Duration
}

// Broker implements backend.Realtime and backend.Publisher on NATS.
type Broker struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	logger *logger.Logger
}

// Connect establishes a connection to the NATS server and, when cfg.Stream
// is set, makes sure the stream exists.
func Connect(ctx context.Context, cfg Config, log *logger.Logger) (*Broker, error) {
	log = log.Named("natsbroker")
	opts := []nats.Option{
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.ReconnectBufSize(8 * 1024 * 1024),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			log.Error("NATS error", zap.String("subject", subject), zap.Error(err))
		}),
	}

	if cfg.CAFile != "" && cfg.CertFile != "" && cfg.KeyFile != "" {
		tlsConfig, err := createTLSConfig(cfg.CAFile, cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
		opts = append(opts, nats.Secure(tlsConfig))
	}

	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	b := &Broker{conn: nc, logger: log}
	if cfg.Stream != "" {
		js, err := jetstream.New(nc)
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("failed to create JetStream context: %w", err)
		}
		if err := ensureStream(ctx, js, cfg.Stream, cfg.MaxAge); err != nil {
			nc.Close()
			return nil, err
		}
		b.js = js
	}
	return b, nil
}

func ensureStream(ctx context.Context, js jetstream.JetStream, stream string, maxAge time.Duration) error {
	if _, err := js.Stream(ctx, stream); err == nil {
		return nil
	} else if !errors.Is(err, jetstream.ErrStreamNotFound) {
		return fmt.Errorf("failed to look up stream %s: %w", stream, err)
	}

	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	_, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        stream,
		Subjects:    []string{broker.SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      maxAge,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Description: "Row changes of the commerce sync tables",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream %s: %w", stream, err)
	}
	return nil
}

// Publish sends ev on the subject of its table.
func (b *Broker) Publish(ctx context.Context, ev backend.ChangeEvent) error {
	data, err := broker.Encode(ev)
	if err != nil {
		return err
	}
	subject := broker.Subject(ev.Table)
	if b.js != nil {
		if _, err := b.js.Publish(ctx, subject, data); err != nil {
			return fmt.Errorf("publish to %s: %w", subject, err)
		}
	} else if err := b.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	metrics.BrokerPublishedTotal.WithLabelValues(name, ev.Table).Inc()
	return nil
}

// OpenChannel subscribes to the subject of filter.Table, or to every table
// when it is empty. The flush round trip confirms the server registered the
// subscription before OpenChannel returns.
func (b *Broker) OpenChannel(ctx context.Context, topic string, filter backend.EventFilter, handler func(backend.ChangeEvent)) (backend.Channel, error) {
	subject := broker.SubjectPrefix + ".>"
	if filter.Table != "" {
		subject = broker.Subject(filter.Table)
	}

	d := broker.NewDispatcher(name, topic, filter, handler, b.logger)
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		d.Receive(msg.Subject, msg.Data)
	})
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", subject, err)
	}
	if err := b.conn.FlushWithContext(ctx); err != nil {
		_ = sub.Unsubscribe()
		d.Close()
		return nil, fmt.Errorf("confirm subscription to %s: %w", subject, err)
	}
	return &channel{sub: sub, dispatcher: d}, nil
}

// IsConnected returns true if connected to NATS.
func (b *Broker) IsConnected() bool {
	return b.conn != nil && b.conn.IsConnected()
}

// Ping reports whether the connection is usable.
func (b *Broker) Ping(ctx context.Context) error {
	if !b.IsConnected() {
		return errors.New("nats: not connected")
	}
	return b.conn.FlushWithContext(ctx)
}

// Close drains subscriptions and closes the connection.
func (b *Broker) Close() {
	if b.conn == nil {
		return
	}
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
}

type channel struct {
	sub        *nats.Subscription
	dispatcher *broker.Dispatcher
}

func (c *channel) Topic() string {
	return c.dispatcher.Topic()
}

func (c *channel) Close() error {
	err := c.sub.Unsubscribe()
	c.dispatcher.Close()
	if err != nil && !errors.Is(err, nats.ErrConnectionClosed) && !errors.Is(err, nats.ErrBadSubscription) {
		return fmt.Errorf("unsubscribe %s: %w", c.sub.Subject, err)
	}
	return nil
}

func createTLSConfig(caFile, certFile, keyFile string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA certificate")
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load client cert: %w", err)
	}

	return &tls.Config{
		RootCAs:      caCertPool,
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}
