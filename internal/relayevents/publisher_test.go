package relayevents

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelayEventRoundTripsThroughJSON(t *testing.T) {
	ev := RelayEvent{
		SrcChainID:   "chain-a",
		SrcPortID:    "transfer",
		SrcChannelID: "channel-0",
		DstChainID:   "chain-b",
		MessageKind:  "RecvPacket",
		Sequence:     7,
		TxHashes:     []string{"ABC123"},
		Outcome:      "broadcast",
		ObservedAt:   time.Unix(1700000000, 0).UTC(),
	}

	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var out RelayEvent
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, ev, out)
}

func TestPublisherHealthyIsFalseOnZeroValue(t *testing.T) {
	var p Publisher
	assert.False(t, p.Healthy(), "a Publisher with no live nats connection is never healthy")
}
