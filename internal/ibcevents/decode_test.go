package ibcevents

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xkanth/ibc-relayer/pkg/relaytypes"
)

func TestDecodeSendPacket(t *testing.T) {
	raw := RawEvent{
		Type: EventTypeSendPacket,
		Attrs: []Attr{
			{Key: AttrKeySequence, Value: "12"},
			{Key: AttrKeySrcPort, Value: "transfer"},
			{Key: AttrKeySrcChannel, Value: "channel-0"},
			{Key: AttrKeyDstPort, Value: "transfer"},
			{Key: AttrKeyDstChannel, Value: "channel-7"},
			{Key: AttrKeyTimeoutHeight, Value: "1-500"},
			{Key: AttrKeyTimeoutTimestamp, Value: "1700000000"},
			{Key: AttrKeyData, Value: "payload"},
		},
	}

	pe, ok, err := Decode(raw, relaytypes.NewHeight(1, 100))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, relaytypes.EventSendPacket, pe.Kind)
	assert.Equal(t, uint64(12), pe.Sequence)
	assert.Equal(t, "channel-0", pe.SrcChannelID)
	assert.Equal(t, "channel-7", pe.DstChannelID)
	assert.Equal(t, relaytypes.NewHeight(1, 500), pe.TimeoutHeight)
	assert.Equal(t, uint64(1700000000), pe.TimeoutTimestamp)
	assert.Equal(t, []byte("payload"), pe.Data)
}

func TestDecodeUnrecognizedEventTypeSkipped(t *testing.T) {
	raw := RawEvent{Type: "message", Attrs: []Attr{{Key: "action", Value: "transfer"}}}
	_, ok, err := Decode(raw, relaytypes.ZeroHeight)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDecodeMissingSequenceErrors(t *testing.T) {
	raw := RawEvent{Type: EventTypeWriteAcknowledgement, Attrs: []Attr{{Key: AttrKeySrcPort, Value: "transfer"}}}
	_, _, err := Decode(raw, relaytypes.ZeroHeight)
	assert.Error(t, err)
}

func TestDecodeInvalidSequenceErrors(t *testing.T) {
	raw := RawEvent{Type: EventTypeTimeoutPacket, Attrs: []Attr{{Key: AttrKeySequence, Value: "not-a-number"}}}
	_, _, err := Decode(raw, relaytypes.ZeroHeight)
	assert.Error(t, err)
}

func TestDecodeBatchSkipsBadEventsButKeepsGoodOnes(t *testing.T) {
	events := []RawEvent{
		{Type: EventTypeSendPacket, Attrs: []Attr{{Key: AttrKeySequence, Value: "1"}}},
		{Type: EventTypeWriteAcknowledgement, Attrs: nil}, // missing sequence: error
		{Type: "unrelated", Attrs: nil},                   // unrecognized: skipped, not an error
		{Type: EventTypeTimeoutPacket, Attrs: []Attr{{Key: AttrKeySequence, Value: "2"}}},
	}

	decoded, errs := DecodeBatch(events, relaytypes.NewHeight(1, 10))
	require.Len(t, errs, 1)
	require.Len(t, decoded, 2)
	assert.Equal(t, relaytypes.EventSendPacket, decoded[0].Kind)
	assert.Equal(t, relaytypes.EventTimeoutElapsed, decoded[1].Kind)
}
