// Relay audit consumer - reads relay events from NATS and writes them to
// Postgres for long-term history, since internal/audit's bbolt ledger only
// keeps the most recent record per path.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/0xkanth/ibc-relayer/internal/relayevents"
	"github.com/0xkanth/ibc-relayer/internal/util"
)

var (
	eventsConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_audit_events_consumed_total",
		Help: "Total number of relay events consumed from NATS.",
	}, []string{"message_kind"})

	eventsStored = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_audit_events_stored_total",
		Help: "Total number of relay events stored in the database.",
	}, []string{"message_kind"})

	consumeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_audit_consume_errors_total",
		Help: "Total number of consume errors.",
	}, []string{"error_type"})

	processingLag = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_audit_consumer_lag_seconds",
		Help: "Time lag between a relay event's observed_at and processing.",
	})
)

const serviceName = "relay-audit"

func main() {
	logger := util.InitLogger()
	logger.Info().Msg("starting relay audit consumer")

	cfg := util.InitConfig(logger, "config.toml")
	util.UpdateLogLevel(cfg, logger)

	dbConfig := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.String("postgres.host"),
		cfg.Int("postgres.port"),
		cfg.String("postgres.user"),
		cfg.String("postgres.password"),
		cfg.String("postgres.database"),
		cfg.String("postgres.sslmode"),
	)

	pool, err := pgxpool.New(context.Background(), dbConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()

	if err := pool.Ping(context.Background()); err != nil {
		logger.Fatal().Err(err).Msg("failed to ping database")
	}
	logger.Info().
		Str("host", cfg.String("postgres.host")).
		Str("database", cfg.String("postgres.database")).
		Msg("connected to database")

	nc, err := nats.Connect(cfg.String("nats.url"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to nats")
	}
	defer nc.Close()
	logger.Info().Str("url", cfg.String("nats.url")).Msg("connected to nats")

	js, err := jetstream.New(nc)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create jetstream context")
	}

	streamName := cfg.String("nats.stream_name")
	consumerName := cfg.String("nats.consumer_name")

	consumer, err := js.CreateOrUpdateConsumer(context.Background(), streamName, jetstream.ConsumerConfig{
		Name:          consumerName,
		Durable:       consumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		MaxDeliver:    3,
		AckWait:       30 * time.Second,
		FilterSubject: fmt.Sprintf("%s.>", cfg.String("nats.subject_prefix")),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create consumer")
	}
	logger.Info().
		Str("stream", streamName).
		Str("consumer", consumerName).
		Msg("created consumer")

	metricsAddr := cfg.String("metrics.address")
	metricsServer := &http.Server{
		Addr:    metricsAddr,
		Handler: promhttp.Handler(),
	}

	go func() {
		logger.Info().Str("address", metricsAddr).Msg("starting metrics server")
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	consCtx, err := consumer.Consume(func(msg jetstream.Msg) {
		if err := processMessage(ctx, pool, msg, *logger); err != nil {
			consumeErrors.WithLabelValues("process_message").Inc()
			logger.Error().Err(err).Str("subject", msg.Subject()).Msg("failed to process relay event")
			msg.Nak()
			return
		}
		msg.Ack()
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start consuming")
	}
	defer consCtx.Stop()

	logger.Info().Msg("relay audit consumer started, waiting for messages")

	sig := <-sigChan
	logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	logger.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("metrics server shutdown error")
	}

	logger.Info().Msg("shutdown complete")
}

func processMessage(ctx context.Context, pool *pgxpool.Pool, msg jetstream.Msg, logger zerolog.Logger) error {
	var ev relayevents.RelayEvent
	if err := json.Unmarshal(msg.Data(), &ev); err != nil {
		return fmt.Errorf("failed to unmarshal relay event: %w", err)
	}

	lag := time.Since(ev.ObservedAt)
	processingLag.Set(lag.Seconds())
	eventsConsumed.WithLabelValues(ev.MessageKind).Inc()

	logger.Debug().
		Str("message_kind", ev.MessageKind).
		Str("src_chain", ev.SrcChainID).
		Uint64("sequence", ev.Sequence).
		Str("outcome", ev.Outcome).
		Msg("processing relay event")

	if err := storeRelayEvent(ctx, pool, ev); err != nil {
		return fmt.Errorf("failed to store relay event: %w", err)
	}

	eventsStored.WithLabelValues(ev.MessageKind).Inc()
	return nil
}

func storeRelayEvent(ctx context.Context, pool *pgxpool.Pool, ev relayevents.RelayEvent) error {
	txHashesJSON, err := json.Marshal(ev.TxHashes)
	if err != nil {
		return fmt.Errorf("failed to marshal tx hashes: %w", err)
	}

	query := `
		INSERT INTO relay_events (
			src_chain_id, src_port_id, src_channel_id, dst_chain_id,
			message_kind, sequence, tx_hashes, outcome, observed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (src_chain_id, src_channel_id, message_kind, sequence, outcome) DO NOTHING
	`

	_, err = pool.Exec(ctx, query,
		ev.SrcChainID,
		ev.SrcPortID,
		ev.SrcChannelID,
		ev.DstChainID,
		ev.MessageKind,
		ev.Sequence,
		txHashesJSON,
		ev.Outcome,
		ev.ObservedAt,
	)

	return err
}
