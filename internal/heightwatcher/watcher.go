// Package heightwatcher is the (external, per §1/§2) event source: it
// polls one chain's height, fetches the IBC events a new block produced,
// and dispatches WorkerCmds into every worker relaying a path rooted at
// that chain. It is adapted from internal/syncer.Syncer's dual-mode
// backfill/realtime strategy, keeping the same shape — fast batch catch-up
// when far behind, low-latency single-height polling once caught up — but
// driving relayer command dispatch instead of an indexer's block
// processor.
package heightwatcher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/0xkanth/ibc-relayer/internal/chainhandle"
	"github.com/0xkanth/ibc-relayer/pkg/relaytypes"
)

var (
	watcherHeight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "relayer_watcher_height",
		Help: "Last chain height this watcher has dispatched commands for.",
	}, []string{"chain_id"})

	chainHeadHeight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "relayer_chain_head_height",
		Help: "Latest height observed on chain.",
	}, []string{"chain_id"})

	watcherErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relayer_watcher_errors_total",
		Help: "Errors encountered while watching a chain, by error type.",
	}, []string{"chain_id", "error_type"})
)

// errFellBehind marks a realtime sync that found the safe head too far ahead
// for single-height polling; runRealtime hands over to runBackfill on it.
var errFellBehind = errors.New("fell behind chain head")

// CommandSink is anything that accepts a WorkerCmd for one directed path —
// satisfied by *internal/worker.Worker. Dispatch is decoupled from the
// concrete worker type so the watcher can fan one chain's events out to
// every path rooted at it without importing internal/worker.
type CommandSink interface {
	Enqueue(ctx context.Context, cmd relaytypes.WorkerCmd) error
}

// EventFetcher retrieves the IBC-relevant events a chain emitted at a
// given height. It is the "event source" §1 names as an external
// collaborator out of scope for the core; heightwatcher is its concrete
// home, backed by whatever block/tx-search RPC the chain handle's
// implementation wraps.
type EventFetcher interface {
	FetchEvents(ctx context.Context, height relaytypes.Height) (relaytypes.EventBatch, error)
}

// Config mirrors internal/syncer.Config's shape: batch size and poll
// interval govern the backfill/realtime switch, confirmations bound how
// close to the chain head the watcher is willing to dispatch from.
type Config struct {
	ChainID       string
	BatchSize     uint64
	PollInterval  time.Duration
	Confirmations uint64
	StartHeight   uint64
}

// Watcher polls one chain and fans its new blocks out to every path rooted
// there.
type Watcher struct {
	logger  zerolog.Logger
	chain   chainhandle.ChainHandle
	fetcher EventFetcher
	cfg     Config

	sinks []CommandSink

	current uint64
}

// New constructs a Watcher for one chain. Register sinks (one per path
// rooted at this chain) via AddSink before calling Start.
func New(chain chainhandle.ChainHandle, fetcher EventFetcher, cfg Config, logger zerolog.Logger) *Watcher {
	return &Watcher{
		logger:  logger.With().Str("component", "heightwatcher").Str("chain_id", cfg.ChainID).Logger(),
		chain:   chain,
		fetcher: fetcher,
		cfg:     cfg,
		current: cfg.StartHeight,
	}
}

// AddSink registers a path worker to receive commands derived from this
// chain's new blocks.
func (w *Watcher) AddSink(sink CommandSink) {
	w.sinks = append(w.sinks, sink)
}

// Start runs until ctx is canceled, switching between backfill and
// realtime strategies exactly as Syncer.Start does.
func (w *Watcher) Start(ctx context.Context) error {
	w.logger.Info().Msg("starting height watcher")

	latest, err := w.chain.QueryLatestHeight(ctx)
	if err != nil {
		return fmt.Errorf("failed to query initial chain height: %w", err)
	}
	chainHeadHeight.WithLabelValues(w.cfg.ChainID).Set(float64(latest.RevisionHeight))

	behind := latest.RevisionHeight - w.cfg.Confirmations - w.current
	if w.cfg.BatchSize > 0 && behind > w.cfg.BatchSize*2 {
		w.logger.Info().Uint64("behind", behind).Msg("behind chain head, starting backfill")
		return w.runBackfill(ctx)
	}

	w.logger.Info().Msg("near chain head, starting realtime watch")
	return w.runRealtime(ctx)
}

// runBackfill dispatches every height from current+1 up to the safe head
// as fast as the event fetcher and sinks can keep up, then falls through
// to realtime once caught up.
func (w *Watcher) runBackfill(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		latest, err := w.chain.QueryLatestHeight(ctx)
		if err != nil {
			watcherErrors.WithLabelValues(w.cfg.ChainID, "query_latest_height").Inc()
			w.logger.Error().Err(err).Msg("failed to query chain height")
			time.Sleep(5 * time.Second)
			continue
		}
		chainHeadHeight.WithLabelValues(w.cfg.ChainID).Set(float64(latest.RevisionHeight))

		safeHead := latest.RevisionHeight
		if safeHead > w.cfg.Confirmations {
			safeHead -= w.cfg.Confirmations
		}

		if w.current >= safeHead {
			w.logger.Info().Uint64("current", w.current).Uint64("safe_head", safeHead).
				Msg("caught up, switching to realtime watch")
			return w.runRealtime(ctx)
		}

		if err := w.dispatchHeight(ctx, relaytypes.NewHeight(latest.RevisionNumber, w.current+1)); err != nil {
			watcherErrors.WithLabelValues(w.cfg.ChainID, "dispatch").Inc()
			w.logger.Error().Err(err).Uint64("height", w.current+1).Msg("failed to dispatch height")
			time.Sleep(5 * time.Second)
			continue
		}

		w.current++
		watcherHeight.WithLabelValues(w.cfg.ChainID).Set(float64(w.current))
	}
}

// runRealtime polls for new blocks at cfg.PollInterval and dispatches each
// one as it becomes confirmed.
func (w *Watcher) runRealtime(ctx context.Context) error {
	interval := w.cfg.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.syncToHead(ctx); err != nil {
				if errors.Is(err, errFellBehind) {
					w.logger.Info().Err(err).Msg("switching to backfill")
					return w.runBackfill(ctx)
				}
				watcherErrors.WithLabelValues(w.cfg.ChainID, "sync_to_head").Inc()
				w.logger.Error().Err(err).Msg("failed to sync to head")
			}
		}
	}
}

func (w *Watcher) syncToHead(ctx context.Context) error {
	latest, err := w.chain.QueryLatestHeight(ctx)
	if err != nil {
		return fmt.Errorf("querying latest height: %w", err)
	}
	chainHeadHeight.WithLabelValues(w.cfg.ChainID).Set(float64(latest.RevisionHeight))

	safeHead := latest.RevisionHeight
	if safeHead > w.cfg.Confirmations {
		safeHead -= w.cfg.Confirmations
	}

	if w.cfg.BatchSize > 0 && safeHead > w.current+w.cfg.BatchSize*2 {
		return fmt.Errorf("%w by more than %d blocks, backfill should take over", errFellBehind, w.cfg.BatchSize*2)
	}

	for h := w.current + 1; h <= safeHead; h++ {
		if err := w.dispatchHeight(ctx, relaytypes.NewHeight(latest.RevisionNumber, h)); err != nil {
			return err
		}
		w.current = h
		watcherHeight.WithLabelValues(w.cfg.ChainID).Set(float64(w.current))
	}

	return nil
}

// dispatchHeight sends a NewBlock command to every registered sink, then
// fetches and dispatches that height's IBC events as an IbcEvents command
// if any were emitted.
func (w *Watcher) dispatchHeight(ctx context.Context, height relaytypes.Height) error {
	newBlockCmd := relaytypes.WorkerCmd{
		Kind:     relaytypes.CmdNewBlock,
		Height:   height,
		NewBlock: relaytypes.NewBlockEvent{Height: height},
	}
	for _, sink := range w.sinks {
		if err := sink.Enqueue(ctx, newBlockCmd); err != nil {
			return fmt.Errorf("dispatching NewBlock to sink: %w", err)
		}
	}

	batch, err := w.fetcher.FetchEvents(ctx, height)
	if err != nil {
		return fmt.Errorf("fetching events at height %s: %w", height, err)
	}
	if len(batch.Events) == 0 {
		return nil
	}

	eventsCmd := relaytypes.WorkerCmd{Kind: relaytypes.CmdIbcEvents, Batch: batch}
	for _, sink := range w.sinks {
		if err := sink.Enqueue(ctx, eventsCmd); err != nil {
			return fmt.Errorf("dispatching IbcEvents to sink: %w", err)
		}
	}

	return nil
}
