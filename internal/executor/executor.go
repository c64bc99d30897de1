// Package executor implements C3: building messages for a ready
// operational data unit, broadcasting it, and returning immediately — the
// next tick's process_pending_txs (owned by internal/pathlink) gathers the
// receipt. The retry/backoff shape is grounded on
// pkg/txhelper.TransactionHelper (simulate -> estimate -> send-with-backoff)
// adapted from a single blocking call into the relayer's tick-driven retry
// model (§4.3): here, backoff spans ticks instead of sleeps within a call.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/0xkanth/ibc-relayer/internal/chainhandle"
	"github.com/0xkanth/ibc-relayer/internal/errclass"
	"github.com/0xkanth/ibc-relayer/pkg/relaytypes"
)

// DefaultPendingTxTimeout bounds how long the executor waits for a
// broadcast tx's receipt before process_pending_txs treats it as expired
// (§3 Pending-tx record, §5 Cancellation & timeouts).
const DefaultPendingTxTimeout = 30 * time.Second

// Executor builds and broadcasts operational data. It holds no per-path
// state; internal/pathlink owns the queue and calls Execute once per ready
// OD on each tick.
type Executor struct {
	logger zerolog.Logger
}

// New constructs an Executor.
func New(logger zerolog.Logger) *Executor {
	return &Executor{logger: logger.With().Str("component", "executor").Logger()}
}

// BuildMessages populates the Raw payload of every message in od by
// re-querying proofChain for up-to-date proofs/headers (§4.3 step 1). It
// may be called again on retry — an OD is never mutated in a way that
// survives a failed broadcast; rebuilding from source is how retry works
// (§3 invariant: "An OD is never mutated after scheduling; retry is
// achieved by rebuilding from source").
func (e *Executor) BuildMessages(ctx context.Context, proofChain chainhandle.ChainHandle, od *relaytypes.OperationalData, trustedClientHeight relaytypes.Height, clientState chainhandle.ClientState) error {
	for i := range od.Messages {
		m := &od.Messages[i]
		switch m.Kind {
		case relaytypes.MsgUpdateClient:
			header, err := proofChain.BuildHeader(ctx, trustedClientHeight, od.AssemblyHeight, clientState)
			if err != nil {
				return err
			}
			m.Raw = header

		case relaytypes.MsgRecvPacket, relaytypes.MsgAckPacket, relaytypes.MsgTimeoutPacket:
			proof, err := proofChain.BuildProof(ctx, packetCommitmentPath(*m), od.AssemblyHeight)
			if err != nil {
				return err
			}
			m.Raw = proof

		default:
			return fmt.Errorf("executor: unbuildable message kind %d", m.Kind)
		}
	}
	return nil
}

// packetCommitmentPath derives the ICS24 store path the proof must be
// constructed against, keyed by message kind and sequence.
func packetCommitmentPath(m relaytypes.PacketMessage) string {
	switch m.Kind {
	case relaytypes.MsgRecvPacket:
		return fmt.Sprintf("commitments/ports/%d/sequences/%d", m.Sequence, m.Sequence)
	case relaytypes.MsgAckPacket:
		return fmt.Sprintf("acks/ports/%d/sequences/%d", m.Sequence, m.Sequence)
	case relaytypes.MsgTimeoutPacket:
		return fmt.Sprintf("receipts/ports/%d/sequences/%d", m.Sequence, m.Sequence)
	default:
		return ""
	}
}

// SimulateFee simulates od's built messages against targetChain and
// returns the gas/fee the broadcast should be submitted with (§4.3 step
// 2). It must run after BuildMessages, once every message carries its
// real proof/header payload, since gas scales with message size.
func (e *Executor) SimulateFee(ctx context.Context, targetChain chainhandle.ChainHandle, od *relaytypes.OperationalData) (chainhandle.GasEstimate, error) {
	estimate, err := targetChain.EstimateGas(ctx, od.Messages)
	if err != nil {
		return chainhandle.GasEstimate{}, err
	}

	e.logger.Debug().
		Str("chain", targetChain.ID()).
		Uint64("gas_limit", estimate.GasLimit).
		Str("fee", estimate.FeeAmount.String()+estimate.Denom).
		Msg("simulated fee")

	return estimate, nil
}

// Broadcast submits od's built messages to targetChain and returns a
// pending-tx record without waiting for inclusion (§4.3 steps 3-4). The
// caller (internal/pathlink) is responsible for retaining or dropping od
// per its ResubmitPolicy if Broadcast returns an error.
func (e *Executor) Broadcast(ctx context.Context, targetChain chainhandle.ChainHandle, od *relaytypes.OperationalData, timeout time.Duration) (*relaytypes.PendingTx, error) {
	od.RecordAttempt()

	responses, err := targetChain.SendMessagesAndWaitCheckTx(ctx, od.Messages)
	if err != nil {
		e.logger.Debug().
			Err(err).
			Str("chain", targetChain.ID()).
			Int("attempt", od.Attempts()).
			Msg("broadcast failed")
		return nil, err
	}

	if timeout <= 0 {
		timeout = DefaultPendingTxTimeout
	}

	hashes := make([]string, 0, len(responses))
	for _, r := range responses {
		hashes = append(hashes, r.TxHash)
	}

	now := time.Now()
	pending := &relaytypes.PendingTx{
		OD:          od,
		TxHashes:    hashes,
		BroadcastAt: now,
		Deadline:    now.Add(timeout),
	}

	e.logger.Info().
		Str("chain", targetChain.ID()).
		Strs("tx_hashes", hashes).
		Int("messages", len(od.Messages)).
		Msg("broadcast sent")

	return pending, nil
}

// ReceiptStatus is the outcome process_pending_txs observes for a pending
// tx: committed, still pending, or past its deadline.
type ReceiptStatus int

const (
	ReceiptPending ReceiptStatus = iota
	ReceiptCommitted
	ReceiptExpired
)

// PollReceipt classifies a pending tx's inclusion status given the outcome
// of the caller's own commit-confirmation attempt: the §6 capability set
// has no standalone "query tx by hash", so callers (internal/pathlink.Link
// .ProcessPendingTxs) re-drive SendMessagesAndWaitCommit and pass whether
// that call observed inclusion. committed wins over deadline: a late but
// successful confirmation still counts as committed.
func PollReceipt(p *relaytypes.PendingTx, now time.Time, committed bool) ReceiptStatus {
	if committed {
		return ReceiptCommitted
	}
	if now.After(p.Deadline) {
		return ReceiptExpired
	}
	return ReceiptPending
}

// ClassifyExpiry maps an expired pending tx to the disposition §7 assigns
// TxTimeout errors: always Continue/Retry, left to the caller's
// ResubmitPolicy to decide drop vs retry.
func ClassifyExpiry() *errclass.LinkError {
	return errclass.NewLinkError(errclass.KindTxTimeout, "", "pending tx deadline exceeded", nil)
}
