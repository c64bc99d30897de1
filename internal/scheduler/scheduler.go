// Package scheduler implements C2 of the design: turning a batch of source
// events plus the destination's current view into operational data units,
// in the priority order §4.2 describes. It is deliberately stateless over
// any one call — internal/pathlink owns the queue and the
// last-observed-committed-sequence state scheduler's ordering rule depends
// on, the same separation kept between router.EventLogHandlerRouter
// (stateless dispatch) and processor.BlockEventsProcessor (owns the
// metrics/state around it).
package scheduler

import (
	"fmt"

	"github.com/0xkanth/ibc-relayer/pkg/relaytypes"
)

// Scheduler holds no mutable state; it is safe for concurrent use and is
// typically a single package-level instance per worker.
type Scheduler struct{}

// New constructs a Scheduler.
func New() *Scheduler { return &Scheduler{} }

// ClassifyEvent maps a single decoded chain event to the operational data
// it produces (§4.2 rule 2):
//
//	SendPacket              on source      -> RecvPacket OD targeting destination
//	WriteAcknowledgement    on destination -> AckPacket OD targeting source
//	elapsed packet timeout                 -> TimeoutPacket OD targeting source
//
// The returned OD carries exactly one message; building multiple events
// from the same batch into a single tx is the caller's job (scheduling does
// not decide batching, only classification).
func (s *Scheduler) ClassifyEvent(ev relaytypes.PacketEvent) (relaytypes.OperationalData, error) {
	switch ev.Kind {
	case relaytypes.EventSendPacket:
		return relaytypes.OperationalData{
			Target:         relaytypes.SideDestination,
			AssemblyHeight: ev.Height,
			Messages: []relaytypes.PacketMessage{
				{Kind: relaytypes.MsgRecvPacket, Sequence: ev.Sequence},
			},
		}, nil

	case relaytypes.EventWriteAcknowledgement:
		return relaytypes.OperationalData{
			Target:         relaytypes.SideSource,
			AssemblyHeight: ev.Height,
			Messages: []relaytypes.PacketMessage{
				{Kind: relaytypes.MsgAckPacket, Sequence: ev.Sequence},
			},
		}, nil

	case relaytypes.EventTimeoutElapsed:
		return relaytypes.OperationalData{
			Target:         relaytypes.SideSource,
			AssemblyHeight: ev.Height,
			Messages: []relaytypes.PacketMessage{
				{Kind: relaytypes.MsgTimeoutPacket, Sequence: ev.Sequence},
			},
		}, nil

	default:
		return relaytypes.OperationalData{}, fmt.Errorf("unclassifiable event kind %d", ev.Kind)
	}
}

// NeedsClientUpdate reports whether a message requiring a proof at height h
// cannot be satisfied by the destination's current view of the source's
// client, which sits at dstClientHeight (§4.2 rule 1): true when
// dstClientHeight is below h.
func NeedsClientUpdate(h, dstClientHeight relaytypes.Height) bool {
	return dstClientHeight.LT(h)
}

// SelectTrustedUpdateHeight picks the target height for an UpdateClient OD:
// the highest header the source already has above minHeight, but never
// exceeding maxTrustedHeight (the destination's trust-period ceiling) —
// §4.2 rule 1's "subject to the destination's trust-period constraint".
func SelectTrustedUpdateHeight(sourceLatest, minHeight, maxTrustedHeight relaytypes.Height) (relaytypes.Height, error) {
	target := sourceLatest
	if target.LT(minHeight) {
		return relaytypes.Height{}, fmt.Errorf(
			"source latest height %s is below the minimum required height %s", sourceLatest, minHeight)
	}
	if target.GT(maxTrustedHeight) {
		target = maxTrustedHeight
	}
	if target.LT(minHeight) {
		return relaytypes.Height{}, fmt.Errorf(
			"trust period ceiling %s is below the minimum required height %s: client update impossible",
			maxTrustedHeight, minHeight)
	}
	return target, nil
}

// Dedup reports whether candidate should be discarded because an
// equivalent, not-yet-broadcast OD is already queued (§4.2 rule 3).
func Dedup(queued []*relaytypes.OperationalData, candidate relaytypes.OperationalData) bool {
	key := candidate.DedupKey()
	for _, q := range queued {
		if q.Attempts() > 0 {
			// already broadcast at least once: a duplicate is a retry
			// concern (internal/executor), not a dedup concern.
			continue
		}
		if q.DedupKey() == key {
			return true
		}
	}
	return false
}

// ReadyForOrderedPromotion reports whether an OD targeting seq may be
// promoted to the executor's ready queue, given the highest sequence number
// already observed committed in the same direction. For unordered channels
// sequence order is a hint only and every OD is immediately ready
// (§4.2 rule 4, §8 invariant 1).
func ReadyForOrderedPromotion(order relaytypes.ChannelOrder, seq, lastCommittedSeq uint64) bool {
	if order == relaytypes.Unordered {
		return true
	}
	return seq == lastCommittedSeq+1
}
