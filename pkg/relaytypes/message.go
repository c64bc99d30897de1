package relaytypes

import (
	"fmt"
	"time"
)

// MessageKind tags the cross-chain messages an operational data unit may
// carry.
type MessageKind int

const (
	MsgUpdateClient MessageKind = iota
	MsgRecvPacket
	MsgAckPacket
	MsgTimeoutPacket
)

func (k MessageKind) String() string {
	switch k {
	case MsgUpdateClient:
		return "UpdateClient"
	case MsgRecvPacket:
		return "RecvPacket"
	case MsgAckPacket:
		return "AckPacket"
	case MsgTimeoutPacket:
		return "TimeoutPacket"
	default:
		return "Unknown"
	}
}

// PacketMessage is one cross-chain message inside an operational data unit.
// Sequence is meaningless for MsgUpdateClient.
type PacketMessage struct {
	Kind     MessageKind
	Sequence uint64
	// Raw is the payload the executor builds immediately before broadcast:
	// the chainhandle.Header for MsgUpdateClient, the chainhandle.Proof for
	// packet messages. It is nil until BuildMessages populates it, since OD
	// construction and message building are deliberately separate steps
	// (§4.3 step 1 may re-query the source for an up-to-date proof).
	Raw any
}

// OperationalData (OD) is a batch of cross-chain messages all targeting the
// same destination, to be submitted as a single transaction (§3).
//
// After scheduling, an OD's target, heights and message list stay fixed.
// Each attempt rebuilds the messages' Raw payloads from source via the
// executor, overwriting those of the previous attempt, and increments the
// attempt counter.
type OperationalData struct {
	ID             Key
	Target         Side
	AssemblyHeight Height
	Messages       []PacketMessage
	ScheduledAt    time.Time
	Resubmit       ResubmitPolicy
	attempts       int
}

// Attempts reports how many broadcast attempts this OD has had.
func (od *OperationalData) Attempts() int { return od.attempts }

// RecordAttempt increments the attempt counter; called by the executor
// immediately before each broadcast.
func (od *OperationalData) RecordAttempt() { od.attempts++ }

// Key identifies an OD for deduplication purposes: same target side, same
// message kind, same sequence (§4.2 rule 3). UpdateClient ODs dedup on
// AssemblyHeight instead of sequence since they carry no packet sequence.
type Key struct {
	Target   Side
	Kind     MessageKind
	Sequence uint64
	Height   Height
}

func (k Key) String() string {
	if k.Kind == MsgUpdateClient {
		return fmt.Sprintf("%s/%s@%s", k.Target, k.Kind, k.Height)
	}
	return fmt.Sprintf("%s/%s#%d", k.Target, k.Kind, k.Sequence)
}

// DedupKey returns the Key used by the scheduler to discard a newly built OD
// when an equivalent one is already queued and unbroadcast.
func (od *OperationalData) DedupKey() Key {
	if len(od.Messages) == 0 {
		return Key{Target: od.Target}
	}
	m := od.Messages[0]
	if m.Kind == MsgUpdateClient {
		return Key{Target: od.Target, Kind: m.Kind, Height: od.AssemblyHeight}
	}
	return Key{Target: od.Target, Kind: m.Kind, Sequence: m.Sequence}
}

// ResubmitPolicy governs the executor's behavior after a broadcast failure
// (§4.3). It is derived once, from the worker's clear_interval, and handed
// down to every OD the scheduler produces.
type ResubmitPolicy struct {
	// MaxAttempts is 0 for Resubmit::Never (a failed OD is dropped
	// immediately, reclaimed by the next clearing pass) or clear_interval
	// for Resubmit::FromInterval(k), the neutral default chosen for the
	// open question on k (§9).
	MaxAttempts int
}

// ResubmitFromClearInterval derives the resubmit policy from the worker's
// configured clear_interval, matching Resubmit::from_clear_interval.
func ResubmitFromClearInterval(clearInterval uint64) ResubmitPolicy {
	return ResubmitPolicy{MaxAttempts: int(clearInterval)}
}

// Never reports whether this is the Resubmit::Never policy.
func (r ResubmitPolicy) Never() bool { return r.MaxAttempts == 0 }

// Exhausted reports whether od has used up its retry budget under r.
func (r ResubmitPolicy) Exhausted(attempts int) bool {
	if r.Never() {
		return attempts >= 1
	}
	return attempts >= r.MaxAttempts
}
