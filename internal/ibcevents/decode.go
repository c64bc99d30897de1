// Package ibcevents decodes the ABCI events a Cosmos SDK chain emits for
// packet lifecycle actions into relaytypes.PacketEvent. It plays the role
// internal/handler's per-signature ABI decoders play for go-ethereum logs,
// but keyed by IBC event type/attribute name instead of an event topic
// hash.
package ibcevents

import (
	"fmt"
	"strconv"

	"github.com/0xkanth/ibc-relayer/pkg/relaytypes"
)

// Event type and attribute names emitted by ibc-go's core IBC module for
// packet lifecycle events (modules/core/04-channel/types/events.go).
const (
	EventTypeSendPacket            = "send_packet"
	EventTypeWriteAcknowledgement  = "write_acknowledgement"
	EventTypeTimeoutPacket         = "timeout_packet"

	AttrKeySequence         = "packet_sequence"
	AttrKeySrcPort          = "packet_src_port"
	AttrKeySrcChannel       = "packet_src_channel"
	AttrKeyDstPort          = "packet_dst_port"
	AttrKeyDstChannel       = "packet_dst_channel"
	AttrKeyTimeoutHeight    = "packet_timeout_height"
	AttrKeyTimeoutTimestamp = "packet_timeout_timestamp"
	AttrKeyData             = "packet_data"
)

// Attr is a single ABCI event attribute (key/value), deliberately untyped
// so this package doesn't depend on a specific ABCI client library's event
// representation.
type Attr struct {
	Key   string
	Value string
}

// RawEvent is a chain event as returned by a block/tx query: a type plus
// its attributes.
type RawEvent struct {
	Type  string
	Attrs []Attr
}

func attr(e RawEvent, key string) (string, bool) {
	for _, a := range e.Attrs {
		if a.Key == key {
			return a.Value, true
		}
	}
	return "", false
}

// Decode converts a RawEvent into a PacketEvent if it is one of the three
// event types the scheduler classifies (§4.2 rule 2); it returns ok=false
// for any event type the relayer doesn't act on, mirroring
// EventLogHandlerRouter.RouteLog's "no handler registered, skip" path.
func Decode(e RawEvent, height relaytypes.Height) (relaytypes.PacketEvent, bool, error) {
	var kind relaytypes.IbcEventKind
	switch e.Type {
	case EventTypeSendPacket:
		kind = relaytypes.EventSendPacket
	case EventTypeWriteAcknowledgement:
		kind = relaytypes.EventWriteAcknowledgement
	case EventTypeTimeoutPacket:
		kind = relaytypes.EventTimeoutElapsed
	default:
		return relaytypes.PacketEvent{}, false, nil
	}

	seqStr, ok := attr(e, AttrKeySequence)
	if !ok {
		return relaytypes.PacketEvent{}, false, fmt.Errorf("%s event missing %s", e.Type, AttrKeySequence)
	}
	seq, err := strconv.ParseUint(seqStr, 10, 64)
	if err != nil {
		return relaytypes.PacketEvent{}, false, fmt.Errorf("invalid sequence %q: %w", seqStr, err)
	}

	srcPort, _ := attr(e, AttrKeySrcPort)
	srcChannel, _ := attr(e, AttrKeySrcChannel)
	dstPort, _ := attr(e, AttrKeyDstPort)
	dstChannel, _ := attr(e, AttrKeyDstChannel)
	data, _ := attr(e, AttrKeyData)

	pe := relaytypes.PacketEvent{
		Kind:         kind,
		Sequence:     seq,
		Height:       height,
		SrcPortID:    srcPort,
		SrcChannelID: srcChannel,
		DstPortID:    dstPort,
		DstChannelID: dstChannel,
		Data:         []byte(data),
	}

	if timeoutHeight, ok := attr(e, AttrKeyTimeoutHeight); ok {
		pe.TimeoutHeight = parseHeight(timeoutHeight)
	}
	if timeoutTS, ok := attr(e, AttrKeyTimeoutTimestamp); ok {
		if ts, err := strconv.ParseUint(timeoutTS, 10, 64); err == nil {
			pe.TimeoutTimestamp = ts
		}
	}

	return pe, true, nil
}

// DecodeBatch decodes every recognized event in a set of RawEvents,
// skipping (not erroring on) unrecognized event types, matching
// BlockEventsProcessor.processLog's "continue processing other logs"
// behavior on a single bad log.
func DecodeBatch(events []RawEvent, height relaytypes.Height) ([]relaytypes.PacketEvent, []error) {
	var out []relaytypes.PacketEvent
	var errs []error
	for _, e := range events {
		pe, ok, err := Decode(e, height)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok {
			continue
		}
		out = append(out, pe)
	}
	return out, errs
}

func parseHeight(s string) relaytypes.Height {
	// ibc-go encodes timeout height as "revision-height".
	var rev, h uint64
	if _, err := fmt.Sscanf(s, "%d-%d", &rev, &h); err != nil {
		return relaytypes.Height{}
	}
	return relaytypes.NewHeight(rev, h)
}
