// Package relay broadcasts notification-index advances over NATS
// JetStream, so other processes (or other regions) can react to new
// events without polling the Log backend themselves. Grounded in the
// teacher's internal/queue/nats package: a JetStream publisher, an
// embedded-server option for local/dev use, and a durable stream.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"go.eventcore.dev"
)

// Advance is the payload broadcast each time the notification index moves
// forward: the inclusive range of newly assigned notification ids.
type Advance struct {
	From uint64 `json:"from"`
	To   uint64 `json:"to"`
}

// Relay publishes Advance messages to a JetStream subject.
type Relay struct {
	js         jetstream.JetStream
	subject    string
	streamName string
}

// Config configures a Relay connecting to an already-running NATS server.
type Config struct {
	URL        string
	Subject    string
	StreamName string
}

// Connect dials an external NATS server and ensures the backing stream
// exists.
func Connect(ctx context.Context, cfg Config) (*Relay, error) {
	conn, err := nats.Connect(cfg.URL,
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("relay: connect: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("relay: jetstream: %w", err)
	}

	return newRelay(ctx, js, cfg)
}

func newRelay(ctx context.Context, js jetstream.JetStream, cfg Config) (*Relay, error) {
	streamName := cfg.StreamName
	if streamName == "" {
		streamName = "EVENTCORE_NOTIFICATIONS"
	}
	streamCfg := jetstream.StreamConfig{
		Name:      streamName,
		Subjects:  []string{cfg.Subject},
		Storage:   jetstream.FileStorage,
		Retention: jetstream.LimitsPolicy,
		MaxAge:    24 * time.Hour,
	}
	if _, err := js.Stream(ctx, streamName); err != nil {
		if _, err := js.CreateStream(ctx, streamCfg); err != nil {
			return nil, fmt.Errorf("relay: create stream: %w", err)
		}
	}
	return &Relay{js: js, subject: cfg.Subject, streamName: streamName}, nil
}

// EmbeddedConfig configures a local, self-hosted NATS server for
// development and single-process deployments.
type EmbeddedConfig struct {
	DataDir string
	Host    string
	Port    int
	Subject string
}

// EmbeddedServer wraps an in-process NATS server plus a Relay publishing
// to it, mirroring the teacher's EmbeddedServer.
type EmbeddedServer struct {
	*Relay
	server *server.Server
	conn   *nats.Conn
}

// StartEmbedded launches an in-process NATS/JetStream server and returns a
// Relay publishing against it.
func StartEmbedded(ctx context.Context, cfg EmbeddedConfig) (*EmbeddedServer, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 4222
	}
	if cfg.Subject == "" {
		cfg.Subject = "eventcore.notifications"
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("relay: create data dir: %w", err)
	}

	ns, err := server.NewServer(&server.Options{
		Host:      cfg.Host,
		Port:      cfg.Port,
		JetStream: true,
		StoreDir:  cfg.DataDir,
		NoLog:     true,
		NoSigs:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("relay: create server: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		ns.Shutdown()
		return nil, fmt.Errorf("relay: embedded server did not become ready")
	}

	url := fmt.Sprintf("nats://%s:%d", cfg.Host, cfg.Port)
	conn, err := nats.Connect(url)
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("relay: connect to embedded server: %w", err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		ns.Shutdown()
		return nil, fmt.Errorf("relay: jetstream: %w", err)
	}

	r, err := newRelay(ctx, js, Config{Subject: cfg.Subject})
	if err != nil {
		conn.Close()
		ns.Shutdown()
		return nil, err
	}

	return &EmbeddedServer{Relay: r, server: ns, conn: conn}, nil
}

// Close shuts down the embedded server and its connection.
func (e *EmbeddedServer) Close() error {
	e.conn.Close()
	e.server.Shutdown()
	e.server.WaitForShutdown()
	return nil
}

// Publish broadcasts that the notification index has advanced over
// [from, to]. Deduplicated at the JetStream level by encoding the range
// into the message id, so a redelivered Publish call after a transient
// network error never double-counts.
func (r *Relay) Publish(ctx context.Context, advance Advance) error {
	data, err := json.Marshal(advance)
	if err != nil {
		return fmt.Errorf("relay: encode advance: %w", err)
	}
	msg := &nats.Msg{Subject: r.subject, Data: data, Header: make(nats.Header)}
	msg.Header.Set("Nats-Msg-Id", fmt.Sprintf("%d-%d", advance.From, advance.To))
	_, err = r.js.PublishMsg(ctx, msg)
	if err != nil {
		return &eventcore.BackendError{Op: "relay_publish", Err: err}
	}
	return nil
}

// Subscribe delivers every Advance on the relay's subject, calling handler
// for each: first those still retained in the stream, then new ones as
// they are published. It runs until ctx is canceled.
func (r *Relay) Subscribe(ctx context.Context, handler func(Advance)) error {
	consumer, err := r.js.OrderedConsumer(ctx, r.streamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{r.subject},
	})
	if err != nil {
		return fmt.Errorf("relay: create consumer: %w", err)
	}

	iter, err := consumer.Messages()
	if err != nil {
		return fmt.Errorf("relay: consume: %w", err)
	}
	defer iter.Stop()

	for {
		msg, err := iter.Next()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("relay: next message: %w", err)
		}
		var advance Advance
		if err := json.Unmarshal(msg.Data(), &advance); err == nil {
			handler(advance)
		}
		_ = msg.Ack()
	}
}
