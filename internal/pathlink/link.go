// Package pathlink implements C1, the Path Link: the single piece of
// mutable state a per-path worker owns. It holds the operational-data
// queue, the in-flight tx tracker, and the last-observed heights/sequences
// for one directed channel endpoint, and exposes the five operations
// internal/worker composes on every tick and command (§4.1).
//
// A Link is mutably borrowed under its own mutex for the duration of each
// call; the mutex exists only to serialize the worker's tick task against
// its command task (§3 Ownership, §5 Shared resources) — external packages
// never reach into a Link's queue directly. This mirrors the exclusive
// lock internal/syncer.Syncer holds over its cursor state, generalized
// from one writer to two cooperating ones.
package pathlink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/0xkanth/ibc-relayer/internal/chainhandle"
	"github.com/0xkanth/ibc-relayer/internal/errclass"
	"github.com/0xkanth/ibc-relayer/internal/executor"
	"github.com/0xkanth/ibc-relayer/internal/scheduler"
	"github.com/0xkanth/ibc-relayer/pkg/relaytypes"
)

// ordered tracks the highest sequence number this Link has observed
// committed in a given direction, used to gate ordered-channel promotion
// (§4.2 rule 4).
type ordered struct {
	lastCommittedToDestination uint64
	lastCommittedToSource      uint64
}

// Link is the per-path mutable state described in §3 "Worker state": one
// queue, one pending-tx set, one clear latch, one clear interval, one
// derived resubmit policy. Exported methods acquire mu internally; callers
// never need to lock explicitly.
type Link struct {
	mu sync.Mutex

	path  relaytypes.PathEnd
	chainSrc chainhandle.ChainHandle
	chainDst chainhandle.ChainHandle

	sched   *scheduler.Scheduler
	exec    *executor.Executor
	logger  zerolog.Logger

	queue   []*relaytypes.OperationalData
	pending []*relaytypes.PendingTx
	order   ordered

	clientHeightDst relaytypes.Height // destination's current view of the source's client

	shouldClearOnStart bool
	clearInterval      uint64
	resubmit           relaytypes.ResubmitPolicy

	lastClearingUnreceivedDst map[uint64]struct{}
}

// Config bundles the construction-time parameters for a Link.
type Config struct {
	Path               relaytypes.PathEnd
	ChainSrc           chainhandle.ChainHandle
	ChainDst           chainhandle.ChainHandle
	ShouldClearOnStart bool
	ClearInterval      uint64 // blocks; 0 disables periodic clearing
	Logger             zerolog.Logger
}

// New constructs a Link. The resubmit policy is derived from ClearInterval
// per §4.3 / §9's chosen default: Never when the interval is 0, otherwise
// FromInterval(k) with k equal to the interval.
func New(cfg Config) *Link {
	resubmit := relaytypes.ResubmitPolicy{MaxAttempts: 0}
	if cfg.ClearInterval != 0 {
		resubmit = relaytypes.ResubmitFromClearInterval(cfg.ClearInterval)
	}

	return &Link{
		path:               cfg.Path,
		chainSrc:           cfg.ChainSrc,
		chainDst:           cfg.ChainDst,
		sched:              scheduler.New(),
		exec:               executor.New(cfg.Logger),
		logger:             cfg.Logger.With().Str("component", "pathlink").Str("path", cfg.Path.String()).Logger(),
		shouldClearOnStart: cfg.ShouldClearOnStart,
		clearInterval:      cfg.ClearInterval,
		resubmit:           resubmit,
	}
}

// Path returns the immutable path descriptor this Link serves.
func (l *Link) Path() relaytypes.PathEnd { return l.path }

// UpdateSchedule ingests a batch of source-chain events: classifies each
// via the scheduler, dedups against the queue, and appends the resulting
// ODs (§4.1 update_schedule). An event above the destination's tracked
// client height first gets an UpdateClient OD queued ahead of it. It fails
// with a LinkError if an event cannot be classified, if the destination's
// client is frozen, or if no update height covering the event can be chosen.
func (l *Link) UpdateSchedule(ctx context.Context, batch relaytypes.EventBatch) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.updateScheduleLocked(ctx, batch)
}

// updateScheduleLocked is UpdateSchedule's body, callable by combined
// orchestration methods that already hold l.mu for their whole pass.
func (l *Link) updateScheduleLocked(ctx context.Context, batch relaytypes.EventBatch) error {
	for _, ev := range batch.Events {
		od, err := l.sched.ClassifyEvent(ev)
		if err != nil {
			return errclass.NewLinkError(errclass.KindRegistry, l.path.String(),
				"classifying event", err)
		}
		od.ID = od.DedupKey()
		od.ScheduledAt = time.Now()
		od.Resubmit = l.resubmit

		if scheduler.NeedsClientUpdate(od.AssemblyHeight, l.clientHeightDst) {
			updateHeight, uErr := l.prependClientUpdate(ctx, od.AssemblyHeight)
			if uErr != nil {
				if errclass.IsExpiredOrFrozen(uErr) {
					return uErr
				}
				return errclass.NewLinkError(errclass.KindHeightMismatch, l.path.String(),
					"selecting client update height", uErr)
			}
			l.logger.Debug().
				Str("update_height", updateHeight.String()).
				Msg("client update prepended ahead of OD")
		}

		if scheduler.Dedup(l.queue, od) {
			l.logger.Trace().Uint64("sequence", ev.Sequence).Msg("duplicate OD discarded")
			continue
		}

		l.queue = append(l.queue, &od)
	}

	return nil
}

// prependClientUpdate resolves the trusted height an UpdateClient OD should
// target before h, per §4.2 rule 1. It queries the source's latest height
// and the destination's trust-period ceiling via the destination's client
// state, then enqueues the UpdateClient OD itself.
func (l *Link) prependClientUpdate(ctx context.Context, h relaytypes.Height) (relaytypes.Height, error) {
	srcLatest, err := l.chainSrc.QueryLatestHeight(ctx)
	if err != nil {
		return relaytypes.Height{}, fmt.Errorf("querying source latest height: %w", err)
	}

	clientState, err := l.chainDst.QueryClientState(ctx, l.path.DstClientID, relaytypes.ZeroHeight)
	if err != nil {
		return relaytypes.Height{}, fmt.Errorf("querying destination client state: %w", err)
	}
	if clientState.Frozen {
		return relaytypes.Height{}, errclass.NewLinkError(errclass.KindClientFrozen, l.path.String(),
			"destination's client of source is frozen", nil)
	}

	target, err := scheduler.SelectTrustedUpdateHeight(srcLatest, h, clientState.LatestHeight)
	if err != nil {
		return relaytypes.Height{}, err
	}

	l.queue = append(l.queue, &relaytypes.OperationalData{
		ID:             relaytypes.Key{Target: relaytypes.SideDestination, Kind: relaytypes.MsgUpdateClient, Height: target},
		Target:         relaytypes.SideDestination,
		AssemblyHeight: target,
		ScheduledAt:    time.Now(),
		Resubmit:       l.resubmit,
		Messages: []relaytypes.PacketMessage{
			{Kind: relaytypes.MsgUpdateClient},
		},
	})
	l.clientHeightDst = target

	return target, nil
}

// SchedulePacketClearing reconciles on-chain state: queries the
// destination's unreceived-packet set and the source's unacknowledged-
// sequence set for this channel, and schedules the minimal ODs to close
// both gaps (§4.1 schedule_packet_clearing). heightHint of nil queries at
// latest height, per §4.1.
//
// Testable property §8.2: on success, the returned unreceived-on-
// destination set is always a subset of the prior call's — callers that
// need to check this should compare LastClearingUnreceivedDestination
// before and after.
func (l *Link) SchedulePacketClearing(ctx context.Context, heightHint *relaytypes.Height) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.schedulePacketClearingLocked(ctx, heightHint)
}

// schedulePacketClearingLocked is SchedulePacketClearing's body, callable by
// combined orchestration methods that already hold l.mu for their whole pass.
func (l *Link) schedulePacketClearingLocked(ctx context.Context, heightHint *relaytypes.Height) error {
	commitmentSeqs, commitHeight, err := l.chainSrc.QueryPacketCommitments(ctx, l.path.SrcPortID, l.path.SrcChannelID)
	if err != nil {
		return errclass.NewLinkError(errclass.KindPacketNotFound, l.path.String(),
			"querying source packet commitments", err)
	}
	if heightHint != nil {
		commitHeight = *heightHint
	}

	unreceivedDst, err := l.chainDst.QueryUnreceivedPackets(ctx, l.path.DstPortID, l.path.DstChannelID, commitmentSeqs)
	if err != nil {
		return errclass.NewLinkError(errclass.KindPacketNotFound, l.path.String(),
			"querying destination unreceived packets", err)
	}

	for seq := range unreceivedDst {
		od := relaytypes.OperationalData{
			Target:         relaytypes.SideDestination,
			AssemblyHeight: commitHeight,
			ScheduledAt:    time.Now(),
			Resubmit:       l.resubmit,
			Messages: []relaytypes.PacketMessage{
				{Kind: relaytypes.MsgRecvPacket, Sequence: seq},
			},
		}
		od.ID = od.DedupKey()
		if !scheduler.Dedup(l.queue, od) {
			l.queue = append(l.queue, &od)
		}
	}

	unacked, err := l.chainSrc.QueryUnreceivedAcks(ctx, l.path.SrcPortID, l.path.SrcChannelID, commitmentSeqs)
	if err != nil {
		return errclass.NewLinkError(errclass.KindPacketNotFound, l.path.String(),
			"querying source unacknowledged sequences", err)
	}
	for seq := range unacked {
		od := relaytypes.OperationalData{
			Target:         relaytypes.SideSource,
			AssemblyHeight: commitHeight,
			ScheduledAt:    time.Now(),
			Resubmit:       l.resubmit,
			Messages: []relaytypes.PacketMessage{
				{Kind: relaytypes.MsgAckPacket, Sequence: seq},
			},
		}
		od.ID = od.DedupKey()
		if !scheduler.Dedup(l.queue, od) {
			l.queue = append(l.queue, &od)
		}
	}

	l.lastClearingUnreceivedDst = unreceivedDst

	l.logger.Info().
		Int("unreceived_destination", len(unreceivedDst)).
		Int("unacked_source", len(unacked)).
		Msg("packet clearing scheduled")

	return nil
}

// LastClearingUnreceivedDestination exposes the destination-unreceived set
// observed by the most recent successful SchedulePacketClearing call, for
// the subset-monotonicity property in §8.2.
func (l *Link) LastClearingUnreceivedDestination() map[uint64]struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastClearingUnreceivedDst
}

// staleAfter bounds how long a built-but-unbroadcast OD's proof is trusted
// before refresh_schedule drops it in favor of a fresh rebuild (§4.1
// refresh_schedule "drops ODs whose proofs have aged past staleness").
const staleAfter = 2 * time.Minute

// RefreshSchedule re-evaluates time-based conditions over the queue:
// drops ODs whose proofs have aged out, and promotes the ODs that are
// ready for the executor given channel ordering (§4.1 refresh_schedule,
// §4.2 rule 4). It returns the set of ODs now ready for ExecuteSchedule.
func (l *Link) RefreshSchedule() []*relaytypes.OperationalData {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.refreshScheduleLocked()
}

// refreshScheduleLocked is RefreshSchedule's body, callable by combined
// orchestration methods that already hold l.mu for their whole pass.
func (l *Link) refreshScheduleLocked() []*relaytypes.OperationalData {
	now := time.Now()
	kept := l.queue[:0]
	var ready []*relaytypes.OperationalData

	for _, od := range l.queue {
		if od.Attempts() == 0 && now.Sub(od.ScheduledAt) > staleAfter {
			l.logger.Trace().Str("od", od.ID.String()).Msg("dropping stale OD, will be regenerated by clearing")
			continue
		}
		kept = append(kept, od)

		lastSeq := l.order.lastCommittedToDestination
		if od.Target == relaytypes.SideSource {
			lastSeq = l.order.lastCommittedToSource
		}
		seq := soleSequence(od)
		if scheduler.ReadyForOrderedPromotion(l.path.Order, seq, lastSeq) {
			ready = append(ready, od)
		}
	}
	l.queue = kept

	return ready
}

// soleSequence returns the sequence number of an OD's single packet
// message, or 0 for UpdateClient ODs (which carry no sequence and are
// always ready).
func soleSequence(od *relaytypes.OperationalData) uint64 {
	if len(od.Messages) == 0 {
		return 0
	}
	return od.Messages[0].Sequence
}

// ExecuteSchedule invokes C3 on every OD RefreshSchedule marked ready
// (§4.1 execute_schedule). A failed broadcast is handled per the Link's
// resubmit policy: Never drops the OD immediately; FromInterval(k) retains
// it until k attempts elapse.
func (l *Link) ExecuteSchedule(ctx context.Context, ready []*relaytypes.OperationalData) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.executeScheduleLocked(ctx, ready)
}

// executeScheduleLocked is ExecuteSchedule's body, callable by combined
// orchestration methods that already hold l.mu for their whole pass. Every
// sub-step through the pending-tx append/queue removal runs under that same
// acquisition, so a concurrent tick or command pass can never observe an OD
// as still-ready and broadcast it a second time (§8 invariant 5).
func (l *Link) executeScheduleLocked(ctx context.Context, ready []*relaytypes.OperationalData) error {
	for _, od := range ready {
		target := l.targetChain(od)
		proofChain := l.proofChain(od)

		clientState, err := l.destinationClientState(ctx, od)
		if err != nil {
			return err
		}

		if err := l.exec.BuildMessages(ctx, proofChain, od, l.trustedHeightForLocked(od), clientState); err != nil {
			l.onBroadcastFailureLocked(od, err)
			continue
		}

		if _, err := l.exec.SimulateFee(ctx, target, od); err != nil {
			l.logger.Debug().Err(err).Str("od", od.ID.String()).Msg("fee simulation failed, broadcasting without a simulated estimate")
		}

		pending, err := l.exec.Broadcast(ctx, target, od, executor.DefaultPendingTxTimeout)
		if err != nil {
			l.onBroadcastFailureLocked(od, err)
			continue
		}

		l.pending = append(l.pending, pending)
		l.removeFromQueue(od)
	}

	return nil
}

func (l *Link) destinationClientState(ctx context.Context, od *relaytypes.OperationalData) (chainhandle.ClientState, error) {
	if od.Target == relaytypes.SideDestination {
		return l.chainDst.QueryClientState(ctx, l.path.DstClientID, relaytypes.ZeroHeight)
	}
	return l.chainSrc.QueryClientState(ctx, l.path.SrcClientID, relaytypes.ZeroHeight)
}

func (l *Link) trustedHeightForLocked(od *relaytypes.OperationalData) relaytypes.Height {
	return l.clientHeightDst
}

func (l *Link) targetChain(od *relaytypes.OperationalData) chainhandle.ChainHandle {
	if od.Target == relaytypes.SideDestination {
		return l.chainDst
	}
	return l.chainSrc
}

func (l *Link) proofChain(od *relaytypes.OperationalData) chainhandle.ChainHandle {
	// The proof for a message delivered to the destination is built
	// against the source (and vice versa): a message always carries a
	// proof of state on the chain it did NOT originate to be broadcast on.
	if od.Target == relaytypes.SideDestination {
		return l.chainSrc
	}
	return l.chainDst
}

// onBroadcastFailureLocked applies the Resubmit policy (§4.3) to a failed
// OD: Never drops it outright; FromInterval(k) retains it until attempts
// are exhausted. Callers must already hold l.mu.
func (l *Link) onBroadcastFailureLocked(od *relaytypes.OperationalData, cause error) {
	l.logger.Debug().
		Err(cause).
		Str("od", od.ID.String()).
		Int("attempts", od.Attempts()).
		Msg("OD broadcast attempt failed")

	if od.Resubmit.Exhausted(od.Attempts()) {
		l.removeFromQueue(od)
		l.logger.Debug().Str("od", od.ID.String()).Msg("OD dropped, deferred to next clearing pass")
	}
	// otherwise the OD stays in the queue and is retried on the next tick.
}

func (l *Link) removeFromQueue(od *relaytypes.OperationalData) {
	for i, q := range l.queue {
		if q == od {
			l.queue = append(l.queue[:i], l.queue[i+1:]...)
			return
		}
	}
}

// ProcessPendingTxs polls in-flight txs for receipts (§4.1
// process_pending_txs). On expiry, the pending entry is classified via
// C5 as a TxTimeout, whatever its message kind, and its OD is put back on
// the queue unless the Resubmit policy's attempt bound, the same one
// execute_schedule enforces, is already used up.
func (l *Link) ProcessPendingTxs(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.processPendingTxsLocked(ctx)
}

// processPendingTxsLocked is ProcessPendingTxs's body, callable by combined
// orchestration methods that already hold l.mu for their whole pass. The
// §6 capability set has no standalone "query tx by hash", so confirmation
// re-drives SendMessagesAndWaitCommit for each pending entry — safe under
// the Idempotence guarantee (§4.3: duplicate broadcast is always safe) —
// and on success feeds the observed sequence into ObserveCommitted, which
// is what unblocks ordered-channel promotion of the next sequence (§4.2
// rule 4, §5 Ordering guarantees).
func (l *Link) processPendingTxsLocked(ctx context.Context) error {
	stillPending := l.pending[:0]
	expired := make([]*relaytypes.PendingTx, 0)
	now := time.Now()

	for _, p := range l.pending {
		target := l.targetChain(p.OD)
		_, confirmErr := target.SendMessagesAndWaitCommit(ctx, p.OD.Messages)

		switch executor.PollReceipt(p, now, confirmErr == nil) {
		case executor.ReceiptCommitted:
			l.observeCommittedLocked(p.OD.Target, soleSequence(p.OD))
			l.logger.Debug().
				Str("od", p.OD.ID.String()).
				Strs("tx_hashes", p.TxHashes).
				Msg("pending tx committed")
		case executor.ReceiptExpired:
			expired = append(expired, p)
		default:
			if confirmErr != nil {
				l.logger.Trace().Err(confirmErr).Str("od", p.OD.ID.String()).Msg("commit confirmation not yet observed")
			}
			stillPending = append(stillPending, p)
		}
	}
	l.pending = stillPending

	for _, p := range expired {
		disposition := errclass.Classify(executor.ClassifyExpiry())
		l.logger.Debug().
			Str("od", p.OD.ID.String()).
			Strs("tx_hashes", p.TxHashes).
			Msg("pending tx expired")

		if disposition.Retry && !p.OD.Resubmit.Exhausted(p.OD.Attempts()) {
			l.queue = append(l.queue, p.OD)
		}
	}

	return nil
}

// ObserveCommitted records a sequence number as committed in a direction,
// unblocking ordered-channel promotion of the next sequence (§4.2 rule 4,
// §5 Ordering guarantees). ProcessPendingTxs records commits itself once
// SendMessagesAndWaitCommit confirms inclusion; this exported form is for
// callers that observe a commit some other way.
func (l *Link) ObserveCommitted(target relaytypes.Side, seq uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observeCommittedLocked(target, seq)
}

func (l *Link) observeCommittedLocked(target relaytypes.Side, seq uint64) {
	if target == relaytypes.SideDestination {
		l.order.lastCommittedToDestination = maxUint64(l.order.lastCommittedToDestination, seq)
	} else {
		l.order.lastCommittedToSource = maxUint64(l.order.lastCommittedToSource, seq)
	}
}

// ShouldClearOnStart reports the current state of the clear-on-start
// latch. §8 invariant 3: false if and only if a successful clearing has
// happened since worker start.
func (l *Link) ShouldClearOnStart() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.shouldClearOnStart
}

// ClearOnStartSucceeded clears the should_clear_on_start latch. It must
// only be called after a SchedulePacketClearing call returns nil — the
// latch is cleared on Ok, never speculatively (§4.2, §8 invariant 3, §9
// Open Questions: "succeeded once", not "converged").
func (l *Link) ClearOnStartSucceeded() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.shouldClearOnStart = false
}

// ClearInterval returns the configured periodic-clearing interval in
// blocks. 0 disables periodic clearing (§8 invariant 4).
func (l *Link) ClearInterval() uint64 {
	return l.clearInterval
}

// Tick runs one full tick-task pass (refresh_schedule, execute_schedule,
// process_pending_txs) under a single lock acquisition, the coarse-grained
// critical section §4.4/§5 requires so the command task's dispatch can
// never interleave mid-pass and read the same not-yet-removed OD as ready
// (§8 invariant 5: no OD is broadcast twice in the same tick).
func (l *Link) Tick(ctx context.Context) ([]*relaytypes.OperationalData, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ready := l.refreshScheduleLocked()
	if err := l.executeScheduleLocked(ctx, ready); err != nil {
		return ready, err
	}
	if err := l.processPendingTxsLocked(ctx); err != nil {
		return ready, err
	}
	return ready, nil
}

// HandleIbcEvents runs one full command-task pass for a CmdIbcEvents
// dispatch (update_schedule, refresh_schedule, execute_schedule) under a
// single lock acquisition, for the same reason Tick does (§4.4/§5, §8
// invariant 5).
func (l *Link) HandleIbcEvents(ctx context.Context, batch relaytypes.EventBatch) ([]*relaytypes.OperationalData, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.updateScheduleLocked(ctx, batch); err != nil {
		return nil, err
	}
	ready := l.refreshScheduleLocked()
	if err := l.executeScheduleLocked(ctx, ready); err != nil {
		return ready, err
	}
	return ready, nil
}

// RunClearPendingPackets implements the NewBlock command row of §4.4:
// clear-on-start takes priority and its latch is cleared only on success
// (§8 invariant 3); otherwise periodic clearing fires when height is a
// multiple of the configured interval. The check, the clearing call, and
// the latch update all run under one lock acquisition so a concurrent tick
// pass can't interleave with the latch flip.
func (l *Link) RunClearPendingPackets(ctx context.Context, height relaytypes.Height) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.shouldClearOnStart {
		if err := l.schedulePacketClearingLocked(ctx, &height); err != nil {
			return err
		}
		l.shouldClearOnStart = false
		return nil
	}

	if l.clearInterval != 0 && height.RevisionHeight%l.clearInterval == 0 {
		return l.schedulePacketClearingLocked(ctx, &height)
	}

	return nil
}

func maxUint64(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
