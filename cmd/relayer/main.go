// Relayer service - spawns one worker per configured path and watches each
// path's source chain for new blocks and IBC events.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"
	"unicode"

	sdkmath "cosmossdk.io/math"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/0xkanth/ibc-relayer/internal/audit"
	"github.com/0xkanth/ibc-relayer/internal/chainhandle"
	"github.com/0xkanth/ibc-relayer/internal/heightwatcher"
	"github.com/0xkanth/ibc-relayer/internal/pathlink"
	"github.com/0xkanth/ibc-relayer/internal/relayevents"
	"github.com/0xkanth/ibc-relayer/internal/util"
	"github.com/0xkanth/ibc-relayer/internal/worker"
	"github.com/0xkanth/ibc-relayer/pkg/config"
)

const serviceName = "relayer"

const workerInboxSize = 64

func main() {
	logger := util.InitLogger()
	logger.Info().Msg("starting ibc relayer")

	cfg := util.InitConfig(logger, "config.toml")
	util.UpdateLogLevel(cfg, logger)

	chainConfigs, err := config.LoadConfig("config/chains.json")
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load chains.json")
	}

	pathsConfig, err := config.LoadPaths("config/paths.json")
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load paths.json")
	}
	logger.Info().Int("paths", len(pathsConfig.Paths)).Msg("loaded path configuration")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	chains, err := dialChains(ctx, chainConfigs, *logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to dial configured chains")
	}

	ledger, err := audit.Open(cfg.String("audit.db_path"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open audit ledger")
	}
	defer ledger.Close()

	var publisher *relayevents.Publisher
	if natsURL := cfg.String("nats.url"); natsURL != "" {
		publisher, err = relayevents.NewPublisher(natsURL, cfg.Duration("nats.max_age"), cfg.String("nats.subject_prefix"), *logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create relay event publisher")
		}
		defer publisher.Close()
	}

	var pub worker.EventPublisher
	if publisher != nil {
		pub = publisher
	}

	workers, watchers, err := buildWorkers(pathsConfig, chains, *logger, pub)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build workers")
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(workers)+len(watchers))

	for _, w := range workers {
		w := w
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Run(ctx); err != nil {
				ledger.RecordTermination(w.Path().String(), audit.TerminationRecord{
					Reason: "fatal_error",
					Err:    err.Error(),
				})
				errCh <- fmt.Errorf("worker %s terminated: %w", w.Path(), err)
			}
		}()
	}

	for _, watcher := range watchers {
		watcher := watcher
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := watcher.Start(ctx); err != nil && ctx.Err() == nil {
				errCh <- fmt.Errorf("height watcher error: %w", err)
			}
		}()
	}

	metricsAddr := cfg.String("metrics.address")
	metricsServer := &http.Server{Addr: metricsAddr, Handler: promhttp.Handler()}
	go func() {
		logger.Info().Str("address", metricsAddr).Msg("starting metrics server")
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()

	healthAddr := cfg.String("health.address")
	healthServer := &http.Server{
		Addr:    healthAddr,
		Handler: http.HandlerFunc(healthCheckHandler(workers)),
	}
	go func() {
		logger.Info().Str("address", healthAddr).Msg("starting health check server")
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("health check server error")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case err := <-errCh:
		logger.Error().Err(err).Msg("worker or watcher failed")
	}

	logger.Info().Msg("shutting down")
	cancel()
	for _, w := range workers {
		w.Close()
	}
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("metrics server shutdown error")
	}
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("health server shutdown error")
	}

	logger.Info().Msg("shutdown complete")
}

// dialChains connects to every chain configured in chains.json, keyed by
// its short config name.
func dialChains(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (map[string]chainhandle.ChainHandle, error) {
	chains := make(map[string]chainhandle.ChainHandle, len(cfg.Chains))
	for name, cc := range cfg.Chains {
		gasPrice, denom, err := parseGasPrice(cc.GasPrice)
		if err != nil {
			return nil, fmt.Errorf("chain %s: %w", name, err)
		}

		handle, err := chainhandle.NewCosmosHandle(ctx, chainhandle.ChainConfig{
			ChainID:       cc.ChainID,
			RPCAddr:       cc.RPCAddr,
			KeyName:       cc.KeyName,
			GasPrice:      gasPrice,
			Denom:         denom,
			GasAdjustment: cc.GasAdjustment,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("dialing chain %s: %w", name, err)
		}
		chains[name] = handle
		logger.Info().Str("chain", name).Str("chain_id", cc.ChainID).Str("rpc", cc.RPCAddr).Msg("dialed chain")
	}
	return chains, nil
}

// parseGasPrice splits a "0.025uatom"-shaped config value into its decimal
// amount and denom, the same format the Cosmos SDK CLI's --gas-prices flag
// takes.
func parseGasPrice(s string) (sdkmath.LegacyDec, string, error) {
	i := strings.IndexFunc(s, func(r rune) bool {
		return !unicode.IsDigit(r) && r != '.'
	})
	if i <= 0 {
		return sdkmath.LegacyDec{}, "", fmt.Errorf("gas price %q missing a numeric amount or denom suffix", s)
	}

	amount, denom := s[:i], s[i:]
	dec, err := sdkmath.LegacyNewDecFromStr(amount)
	if err != nil {
		return sdkmath.LegacyDec{}, "", fmt.Errorf("parsing gas price amount %q: %w", amount, err)
	}
	return dec, denom, nil
}

// buildWorkers constructs a pathlink.Link + worker.Worker per configured
// path, and one heightwatcher.Watcher per distinct source chain, wiring
// every path rooted at a chain as a sink of that chain's watcher.
func buildWorkers(cfg *config.PathsConfig, chains map[string]chainhandle.ChainHandle, logger zerolog.Logger, pub worker.EventPublisher) ([]*worker.Worker, []*heightwatcher.Watcher, error) {
	watchersByChain := make(map[string]*heightwatcher.Watcher)
	var workers []*worker.Worker
	var watchers []*heightwatcher.Watcher

	for _, pd := range cfg.Paths {
		srcChain, ok := chains[pd.SrcChain]
		if !ok {
			return nil, nil, fmt.Errorf("path references unknown source chain %q", pd.SrcChain)
		}
		dstChain, ok := chains[pd.DstChain]
		if !ok {
			return nil, nil, fmt.Errorf("path references unknown destination chain %q", pd.DstChain)
		}

		link := pathlink.New(pathlink.Config{
			Path:               pd.ToPathEnd(),
			ChainSrc:           srcChain,
			ChainDst:           dstChain,
			ShouldClearOnStart: pd.ClearOnStart,
			ClearInterval:      pd.ClearInterval,
			Logger:             logger,
		})
		w := worker.New(link, workerInboxSize, logger, pub)
		workers = append(workers, w)

		watcher, ok := watchersByChain[pd.SrcChain]
		if !ok {
			fetcher, ok := srcChain.(heightwatcher.EventFetcher)
			if !ok {
				return nil, nil, fmt.Errorf("chain handle for %q does not implement event fetching", pd.SrcChain)
			}
			watcher = heightwatcher.New(srcChain, fetcher, heightwatcher.Config{
				ChainID:       pd.SrcChain,
				BatchSize:     20,
				PollInterval:  2 * time.Second,
				Confirmations: 1,
			}, logger)
			watchersByChain[pd.SrcChain] = watcher
			watchers = append(watchers, watcher)
		}
		watcher.AddSink(w)
	}

	return workers, watchers, nil
}

// healthCheckHandler reports unhealthy if any worker has terminated.
func healthCheckHandler(workers []*worker.Worker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for _, wk := range workers {
			if wk.State() == worker.StateTerminated {
				w.WriteHeader(http.StatusServiceUnavailable)
				fmt.Fprintf(w, "unhealthy: path %s terminated: %v\n", wk.Path(), wk.Err())
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "healthy\nworkers: %d\n", len(workers))
	}
}
