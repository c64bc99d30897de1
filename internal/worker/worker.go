// Package worker implements C4, the per-path background task that owns a
// pathlink.Link and drives it to completion: a tick task and a command
// task, cooperating over the Link's own internal lock exactly as §4.4
// describes. It plays the role internal/syncer.Syncer plays for the
// indexer — the long-running loop main.go starts and waits on — adapted
// from a single self-driving loop into two cooperating tasks because the
// relayer has two independent timing sources (periodic refresh vs.
// inbound commands) instead of one.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"github.com/0xkanth/ibc-relayer/internal/errclass"
	"github.com/0xkanth/ibc-relayer/internal/pathlink"
	"github.com/0xkanth/ibc-relayer/internal/relayevents"
	"github.com/0xkanth/ibc-relayer/internal/telemetry"
	"github.com/0xkanth/ibc-relayer/pkg/relaytypes"
)

// EventPublisher is the best-effort telemetry sink a Worker reports
// completed executor passes to. *relayevents.Publisher satisfies it; tests
// supply a fake. A nil EventPublisher is valid and simply means no
// telemetry is published for that worker.
type EventPublisher interface {
	Publish(ctx context.Context, ev relayevents.RelayEvent) error
}

var (
	workerTerminated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relayer_worker_terminated_total",
		Help: "Workers that reached the Terminated state, by reason.",
	}, []string{"src_chain", "src_channel", "src_port", "reason"})

	tickDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name: "relayer_tick_duration_seconds",
		Help: "Wall time of a completed tick (refresh + execute + process_pending_txs).",
	}, []string{"src_chain", "src_channel", "src_port"})
)

// State is the worker lifecycle state machine of §4.4.
type State int

const (
	StateStart State = iota
	StateRunning
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateRunning:
		return "running"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

const (
	tickPeriod    = 1000 * time.Millisecond
	commandPeriod = 200 * time.Millisecond
)

// Worker drives one path link's tick and command tasks. One Worker exists
// per directed channel endpoint a supervisor has decided should be
// relayed; the supervisor itself is out of scope (§1).
type Worker struct {
	link   *pathlink.Link
	inbox  chan relaytypes.WorkerCmd
	logger zerolog.Logger
	pub    EventPublisher

	state State

	labels  [3]string // src_chain, src_channel, src_port, for metrics
	done    chan struct{}
	lastErr error
}

// New constructs a Worker over link with a bounded command inbox, per §3
// "Worker state": "one command inbox (bounded)". pub may be nil, in which
// case executed ODs are not published anywhere beyond the Prometheus
// counters in internal/telemetry.
func New(link *pathlink.Link, inboxSize int, logger zerolog.Logger, pub EventPublisher) *Worker {
	p := link.Path()
	return &Worker{
		link:   link,
		inbox:  make(chan relaytypes.WorkerCmd, inboxSize),
		logger: logger.With().Str("component", "worker").Str("path", p.String()).Logger(),
		pub:    pub,
		state:  StateStart,
		labels: [3]string{p.SrcChainID, p.SrcChannelID, p.SrcPortID},
		done:   make(chan struct{}),
	}
}

// Enqueue delivers a command to the worker's inbox. It blocks if the inbox
// is full, giving the supervisor natural backpressure (§4.4 "There is no
// Pause state; backpressure is implicit in the lock and in the bounded
// command inbox").
func (w *Worker) Enqueue(ctx context.Context, cmd relaytypes.WorkerCmd) error {
	select {
	case w.inbox <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the command inbox. Per §3 Lifecycle, this is one of the
// worker's own termination triggers: the command task observes the closed
// channel and transitions to Terminated.
func (w *Worker) Close() {
	close(w.inbox)
}

// State reports the worker's current lifecycle state.
func (w *Worker) State() State {
	return w.state
}

// Path returns the directed path this worker relays, for logging and
// health reporting by the process that owns it.
func (w *Worker) Path() relaytypes.PathEnd {
	return w.link.Path()
}

// Done is closed when the worker reaches Terminated.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Err returns the fatal error that caused termination, or nil if the
// worker terminated because its inbox closed or its context was canceled.
func (w *Worker) Err() error {
	return w.lastErr
}

// Run starts the tick task and the command task and blocks until both
// have exited, which happens when the worker reaches Terminated (§4.4
// state machine). It is the equivalent of Syncer.Start: the single call
// cmd/relayer's main loop makes per configured path, run inside its own
// goroutine.
func (w *Worker) Run(ctx context.Context) error {
	w.state = StateRunning
	w.logger.Info().Msg("worker started")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	fatalCh := make(chan error, 2)

	go w.runTickTask(ctx, fatalCh)
	go w.runCommandTask(ctx, fatalCh)

	var fatal error
	select {
	case fatal = <-fatalCh:
		cancel()
		// drain the second task's exit so Run doesn't return before both
		// goroutines have observed cancellation.
		<-fatalCh
	case <-ctx.Done():
		<-fatalCh
		<-fatalCh
	}

	w.lastErr = fatal
	w.state = StateTerminated
	close(w.done)

	reason := "inbox_closed"
	if fatal != nil {
		reason = "fatal_error"
	}
	workerTerminated.WithLabelValues(w.labels[0], w.labels[1], w.labels[2], reason).Inc()
	w.logger.Info().Err(fatal).Msg("worker terminated")

	if fatal != nil && !errors.Is(fatal, context.Canceled) {
		return fatal
	}
	return nil
}

// runTickTask is the tick task of §4.4: fires every ~1000ms, calls
// refresh_schedule + execute_schedule + process_pending_txs under the
// link's own lock, and reports a fatal error (client expired/frozen) on
// fatalCh to end the worker.
func (w *Worker) runTickTask(ctx context.Context, fatalCh chan<- error) {
	ticker := time.NewTicker(tickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fatalCh <- nil
			return
		case <-ticker.C:
			// §5 Cancellation: if a tick is still running when the next
			// fires, the next is skipped, not queued — the ticker channel
			// already drops ticks nobody drains, so a single-goroutine tick
			// loop gets this for free.
			if fatal := w.runOneTick(ctx); fatal != nil {
				fatalCh <- fatal
				return
			}
		}
	}
}

func (w *Worker) runOneTick(ctx context.Context) error {
	start := time.Now()
	defer func() {
		tickDuration.WithLabelValues(w.labels[0], w.labels[1], w.labels[2]).Observe(time.Since(start).Seconds())
	}()

	ready, err := w.link.Tick(ctx)
	if err != nil {
		return w.handleLinkError(err)
	}
	for _, od := range ready {
		telemetry.RecordExecuted(w.labels[0], w.labels[1], w.labels[2], kindOf(od))
		w.publishExecuted(ctx, od)
	}

	return nil
}

// publishExecuted best-effort publishes a broadcast OD to w.pub. A publish
// failure is logged and dropped (§6): telemetry never holds up relaying.
func (w *Worker) publishExecuted(ctx context.Context, od *relaytypes.OperationalData) {
	if w.pub == nil {
		return
	}
	ev := relayevents.RelayEvent{
		SrcChainID:   w.labels[0],
		SrcChannelID: w.labels[1],
		SrcPortID:    w.labels[2],
		MessageKind:  kindOf(od),
		Sequence:     soleSequenceOf(od),
		Outcome:      "broadcast",
		ObservedAt:   time.Now(),
	}
	if err := w.pub.Publish(ctx, ev); err != nil {
		w.logger.Debug().Err(err).Msg("failed to publish relay event")
	}
}

func soleSequenceOf(od *relaytypes.OperationalData) uint64 {
	if len(od.Messages) == 0 {
		return 0
	}
	return od.Messages[0].Sequence
}

func kindOf(od *relaytypes.OperationalData) string {
	if len(od.Messages) == 0 {
		return "unknown"
	}
	return od.Messages[0].Kind.String()
}

// runCommandTask is the command task of §4.4: fires every ~200ms, attempts
// a non-blocking read from the inbox, and on a pending command dispatches
// per the table in §4.4. The command is not consumed until its handler
// returns nil: since Go channels have no non-destructive read, it is
// received into a local slot and re-dispatched from there on later ticks,
// and the next command is read from the inbox only once it succeeds.
func (w *Worker) runCommandTask(ctx context.Context, fatalCh chan<- error) {
	ticker := time.NewTicker(commandPeriod)
	defer ticker.Stop()

	var pending *relaytypes.WorkerCmd

	for {
		select {
		case <-ctx.Done():
			fatalCh <- nil
			return
		case <-ticker.C:
			if pending == nil {
				select {
				case cmd, ok := <-w.inbox:
					if !ok {
						fatalCh <- nil
						return
					}
					pending = &cmd
				default:
					continue
				}
			}

			if err := w.dispatch(ctx, *pending); err != nil {
				if fatal := w.handleLinkError(err); fatal != nil {
					fatalCh <- fatal
					return
				}
				// retained for retry on the next command-task tick: the
				// command is "not consumed until Ok" (§4.4).
				continue
			}
			pending = nil
		}
	}
}

// dispatch executes one command per the table in §4.4.
func (w *Worker) dispatch(ctx context.Context, cmd relaytypes.WorkerCmd) error {
	switch cmd.Kind {
	case relaytypes.CmdIbcEvents:
		ready, err := w.link.HandleIbcEvents(ctx, cmd.Batch)
		if err != nil {
			return err
		}
		for _, od := range ready {
			telemetry.RecordExecuted(w.labels[0], w.labels[1], w.labels[2], kindOf(od))
			w.publishExecuted(ctx, od)
		}
		return nil

	case relaytypes.CmdNewBlock:
		return w.dispatchNewBlock(ctx, cmd.Height)

	case relaytypes.CmdClearPendingPackets:
		return w.link.SchedulePacketClearing(ctx, nil)

	default:
		w.logger.Warn().Int("kind", int(cmd.Kind)).Msg("unrecognized worker command, dropped")
		return nil
	}
}

// dispatchNewBlock implements the NewBlock row of §4.4's table: clear on
// start takes priority, and the latch is cleared only on success (§8
// invariant 3); otherwise periodic clearing fires when height is a
// multiple of the configured interval; otherwise it is a no-op.
func (w *Worker) dispatchNewBlock(ctx context.Context, height relaytypes.Height) error {
	return w.link.RunClearPendingPackets(ctx, height)
}

// handleLinkError runs C5 over an error raised by the link. Fatal errors
// are returned for the caller to propagate and terminate the worker;
// Continue dispositions are logged and swallowed (§4.5, §7 Propagation
// policy).
func (w *Worker) handleLinkError(err error) error {
	verdict := errclass.Classify(err)

	var le *errclass.LinkError
	if errors.As(err, &le) && verdict.Disposition == errclass.Fatal {
		w.logger.Error().Err(err).Str("kind", le.Kind.String()).Msg("fatal error, worker terminating")
		return err
	}

	w.logger.Trace().Err(err).Msg("continuable error")
	return nil
}
