// Package relayevents publishes a best-effort stream of executor-pass
// summaries to NATS JetStream for downstream dashboards and auditing
// (cmd/relay-audit consumes this stream into Postgres). It is adapted from
// internal/nats.Publisher: same connect/reconnect/dedup-window shape, a
// different payload (RelayEvent instead of an indexed on-chain log) and a
// path-scoped subject instead of a contract-address one.
//
// Telemetry in this design is best-effort and never back-pressures the
// worker (§6): a publish failure is logged and dropped, never retried
// inline, since the relay itself already made progress by the time this
// is called.
package relayevents

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

const (
	streamName           = "IBC_RELAYER"
	streamSubjectPattern  = "IBC_RELAYER.*"
	streamCreateTimeout   = 10 * time.Second
	defaultDuplicateWindow = 20 * time.Minute
)

// RelayEvent is one completed executor pass, published for the audit
// consumer: which OD was broadcast, to which path, with what outcome.
type RelayEvent struct {
	SrcChainID   string    `json:"src_chain_id"`
	SrcPortID    string    `json:"src_port_id"`
	SrcChannelID string    `json:"src_channel_id"`
	DstChainID   string    `json:"dst_chain_id"`
	MessageKind  string    `json:"message_kind"`
	Sequence     uint64    `json:"sequence"`
	TxHashes     []string  `json:"tx_hashes"`
	Outcome      string    `json:"outcome"` // "broadcast", "dropped", "expired"
	ObservedAt   time.Time `json:"observed_at"`
}

// Publisher publishes RelayEvents to NATS JetStream with deduplication.
type Publisher struct {
	js     jetstream.JetStream
	nc     *nats.Conn
	logger zerolog.Logger
	prefix string
}

// NewPublisher connects to NATS and ensures the relayer's JetStream stream
// exists.
func NewPublisher(natsURL string, persistDuration time.Duration, subjectPrefix string, logger zerolog.Logger) (*Publisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("ibc-relayer"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Error().Err(err).Msg("nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), streamCreateTimeout)
	defer cancel()

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:       streamName,
		Subjects:   []string{streamSubjectPattern},
		MaxAge:     persistDuration,
		Storage:    jetstream.FileStorage,
		Duplicates: defaultDuplicateWindow,
		Retention:  jetstream.LimitsPolicy,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	logger.Info().
		Str("stream", streamName).
		Dur("max_age", persistDuration).
		Msg("relay event publisher initialized")

	return &Publisher{js: js, nc: nc, logger: logger, prefix: subjectPrefix}, nil
}

// Publish publishes one RelayEvent, deduplicated on (path, kind, sequence,
// outcome) so a retried tick publishing the same outcome twice collapses
// into one stream entry.
func (p *Publisher) Publish(ctx context.Context, ev RelayEvent) error {
	subject := fmt.Sprintf("%s.%s.%s", p.prefix, ev.SrcChainID, ev.MessageKind)

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal relay event: %w", err)
	}

	msgID := fmt.Sprintf("%s-%s-%s-%d-%s", ev.SrcChainID, ev.SrcChannelID, ev.MessageKind, ev.Sequence, ev.Outcome)

	if _, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(msgID)); err != nil {
		p.logger.Warn().
			Err(err).
			Str("subject", subject).
			Str("msg_id", msgID).
			Msg("failed to publish relay event, continuing without telemetry")
		return fmt.Errorf("failed to publish to NATS: %w", err)
	}

	return nil
}

// Close closes the NATS connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info().Msg("relay event publisher closed")
	}
}

// Healthy reports whether the NATS connection is currently up.
func (p *Publisher) Healthy() bool {
	return p.nc != nil && p.nc.IsConnected()
}
