package pathlink_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xkanth/ibc-relayer/internal/chainhandle"
	"github.com/0xkanth/ibc-relayer/internal/pathlink"
	"github.com/0xkanth/ibc-relayer/pkg/relaytypes"
)

// fakeChainHandle is a minimal, hand-wired ChainHandle double: each query
// method returns whatever the test configured on the struct, a table-driven
// fake rather than a mocking-framework generated one.
type fakeChainHandle struct {
	id string

	latestHeight relaytypes.Height
	clientState  chainhandle.ClientState

	unreceivedPackets map[uint64]struct{}
	unreceivedAcks    map[uint64]struct{}
	commitSeqs        []uint64
	commitHeight      relaytypes.Height

	sendResponses []chainhandle.TxResponse
	sendErr       error
}

func (f *fakeChainHandle) ID() string                            { return f.id }
func (f *fakeChainHandle) Config() chainhandle.ChainConfig        { return chainhandle.ChainConfig{ChainID: f.id} }
func (f *fakeChainHandle) QueryLatestHeight(ctx context.Context) (relaytypes.Height, error) {
	return f.latestHeight, nil
}
func (f *fakeChainHandle) QueryClientState(ctx context.Context, clientID string, height relaytypes.Height) (chainhandle.ClientState, error) {
	return f.clientState, nil
}
func (f *fakeChainHandle) QueryConsensusState(ctx context.Context, clientID string, height relaytypes.Height) (chainhandle.ConsensusState, error) {
	return chainhandle.ConsensusState{}, nil
}
func (f *fakeChainHandle) QueryUnreceivedPackets(ctx context.Context, portID, channelID string, sequences []uint64) (map[uint64]struct{}, error) {
	return f.unreceivedPackets, nil
}
func (f *fakeChainHandle) QueryUnreceivedAcks(ctx context.Context, portID, channelID string, sequences []uint64) (map[uint64]struct{}, error) {
	return f.unreceivedAcks, nil
}
func (f *fakeChainHandle) QueryPacketCommitments(ctx context.Context, portID, channelID string) ([]uint64, relaytypes.Height, error) {
	return f.commitSeqs, f.commitHeight, nil
}
func (f *fakeChainHandle) BuildHeader(ctx context.Context, trustedHeight, targetHeight relaytypes.Height, clientState chainhandle.ClientState) (chainhandle.Header, error) {
	return chainhandle.Header{TrustedHeight: trustedHeight, TargetHeight: targetHeight}, nil
}
func (f *fakeChainHandle) BuildProof(ctx context.Context, path string, height relaytypes.Height) (chainhandle.Proof, error) {
	return chainhandle.Proof{Height: height}, nil
}
func (f *fakeChainHandle) EstimateGas(ctx context.Context, messages []relaytypes.PacketMessage) (chainhandle.GasEstimate, error) {
	return chainhandle.GasEstimate{GasLimit: 100_000}, nil
}
func (f *fakeChainHandle) SendMessagesAndWaitCheckTx(ctx context.Context, messages []relaytypes.PacketMessage) ([]chainhandle.TxResponse, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return f.sendResponses, nil
}
func (f *fakeChainHandle) SendMessagesAndWaitCommit(ctx context.Context, messages []relaytypes.PacketMessage) ([]chainhandle.IbcEventWithHeight, error) {
	return nil, nil
}

func testPath() relaytypes.PathEnd {
	return relaytypes.PathEnd{
		SrcChainID: "chain-a", SrcPortID: "transfer", SrcChannelID: "channel-0",
		DstChainID: "chain-b", DstPortID: "transfer", DstChannelID: "channel-7",
		Order: relaytypes.Unordered, SrcClientID: "07-tendermint-0", DstClientID: "07-tendermint-1",
	}
}

func newTestLink(src, dst *fakeChainHandle) *pathlink.Link {
	return pathlink.New(pathlink.Config{
		Path:     testPath(),
		ChainSrc: src,
		ChainDst: dst,
		Logger:   zerolog.Nop(),
	})
}

func TestUpdateScheduleAppendsClassifiedOD(t *testing.T) {
	src := &fakeChainHandle{id: "chain-a", latestHeight: relaytypes.NewHeight(1, 100)}
	dst := &fakeChainHandle{id: "chain-b", clientState: chainhandle.ClientState{LatestHeight: relaytypes.NewHeight(1, 100)}}
	link := newTestLink(src, dst)

	// Event height is the zero height so UpdateSchedule's client-update
	// check (dst's tracked client height starts at zero too) doesn't also
	// enqueue an UpdateClient OD, keeping this test focused on
	// classification alone.
	batch := relaytypes.EventBatch{
		ChainID: "chain-a",
		Height:  relaytypes.ZeroHeight,
		Events: []relaytypes.PacketEvent{
			{Kind: relaytypes.EventSendPacket, Sequence: 1, Height: relaytypes.ZeroHeight},
		},
	}

	err := link.UpdateSchedule(context.Background(), batch)
	require.NoError(t, err)

	ready := link.RefreshSchedule()
	require.Len(t, ready, 1)
	assert.Equal(t, relaytypes.SideDestination, ready[0].Target)
}

func TestUpdateScheduleDedupsRepeatedEvent(t *testing.T) {
	src := &fakeChainHandle{id: "chain-a", latestHeight: relaytypes.NewHeight(1, 100)}
	dst := &fakeChainHandle{id: "chain-b", clientState: chainhandle.ClientState{LatestHeight: relaytypes.NewHeight(1, 100)}}
	link := newTestLink(src, dst)

	batch := relaytypes.EventBatch{
		Events: []relaytypes.PacketEvent{
			{Kind: relaytypes.EventSendPacket, Sequence: 1, Height: relaytypes.ZeroHeight},
			{Kind: relaytypes.EventSendPacket, Sequence: 1, Height: relaytypes.ZeroHeight},
		},
	}

	require.NoError(t, link.UpdateSchedule(context.Background(), batch))
	ready := link.RefreshSchedule()
	assert.Len(t, ready, 1, "duplicate send_packet event should be deduped")
}

func TestSchedulePacketClearingQueuesBothDirections(t *testing.T) {
	src := &fakeChainHandle{
		id:           "chain-a",
		commitSeqs:   []uint64{1, 2},
		commitHeight: relaytypes.NewHeight(1, 100),
		unreceivedAcks: map[uint64]struct{}{2: {}},
	}
	dst := &fakeChainHandle{
		id:                "chain-b",
		unreceivedPackets: map[uint64]struct{}{1: {}},
	}
	link := newTestLink(src, dst)

	require.NoError(t, link.SchedulePacketClearing(context.Background(), nil))

	unreceived := link.LastClearingUnreceivedDestination()
	assert.Len(t, unreceived, 1)

	ready := link.RefreshSchedule()
	require.Len(t, ready, 2, "one RecvPacket for the destination gap, one AckPacket for the source gap")
}

func TestExecuteScheduleBroadcastsAndDrainsQueue(t *testing.T) {
	src := &fakeChainHandle{id: "chain-a", latestHeight: relaytypes.NewHeight(1, 100)}
	dst := &fakeChainHandle{
		id:            "chain-b",
		clientState:   chainhandle.ClientState{LatestHeight: relaytypes.NewHeight(1, 100)},
		sendResponses: []chainhandle.TxResponse{{TxHash: "ABC123"}},
	}
	link := newTestLink(src, dst)

	batch := relaytypes.EventBatch{
		Events: []relaytypes.PacketEvent{
			{Kind: relaytypes.EventSendPacket, Sequence: 1, Height: relaytypes.ZeroHeight},
		},
	}
	require.NoError(t, link.UpdateSchedule(context.Background(), batch))
	ready := link.RefreshSchedule()
	require.Len(t, ready, 1)

	require.NoError(t, link.ExecuteSchedule(context.Background(), ready))

	// the OD is now pending, not queued for re-execution.
	assert.Empty(t, link.RefreshSchedule())
}

func TestClearOnStartLatch(t *testing.T) {
	src := &fakeChainHandle{id: "chain-a", commitHeight: relaytypes.NewHeight(1, 1)}
	dst := &fakeChainHandle{id: "chain-b"}
	link := pathlink.New(pathlink.Config{
		Path:               testPath(),
		ChainSrc:           src,
		ChainDst:           dst,
		ShouldClearOnStart: true,
		Logger:             zerolog.Nop(),
	})

	assert.True(t, link.ShouldClearOnStart())
	require.NoError(t, link.SchedulePacketClearing(context.Background(), nil))
	link.ClearOnStartSucceeded()
	assert.False(t, link.ShouldClearOnStart())
}

func TestObserveCommittedGatesOrderedPromotion(t *testing.T) {
	path := testPath()
	path.Order = relaytypes.Ordered
	src := &fakeChainHandle{id: "chain-a", latestHeight: relaytypes.NewHeight(1, 100)}
	dst := &fakeChainHandle{id: "chain-b", clientState: chainhandle.ClientState{LatestHeight: relaytypes.NewHeight(1, 100)}}
	link := pathlink.New(pathlink.Config{Path: path, ChainSrc: src, ChainDst: dst, Logger: zerolog.Nop()})

	batch := relaytypes.EventBatch{
		Events: []relaytypes.PacketEvent{
			{Kind: relaytypes.EventSendPacket, Sequence: 2, Height: relaytypes.NewHeight(1, 50)},
		},
	}
	require.NoError(t, link.UpdateSchedule(context.Background(), batch))

	// sequence 2 is not ready yet: nothing committed before it on an
	// ordered channel.
	assert.Empty(t, link.RefreshSchedule())

	link.ObserveCommitted(relaytypes.SideDestination, 1)
	ready := link.RefreshSchedule()
	require.Len(t, ready, 1)
	assert.Equal(t, uint64(2), ready[0].Messages[0].Sequence)
}

func TestProcessPendingTxsObservesCommitAndUnblocksNextSequence(t *testing.T) {
	path := testPath()
	path.Order = relaytypes.Ordered
	src := &fakeChainHandle{id: "chain-a", latestHeight: relaytypes.NewHeight(1, 100)}
	dst := &fakeChainHandle{
		id:            "chain-b",
		clientState:   chainhandle.ClientState{LatestHeight: relaytypes.NewHeight(1, 100)},
		sendResponses: []chainhandle.TxResponse{{TxHash: "ABC123"}},
	}
	link := pathlink.New(pathlink.Config{Path: path, ChainSrc: src, ChainDst: dst, Logger: zerolog.Nop()})

	batch := relaytypes.EventBatch{
		Events: []relaytypes.PacketEvent{
			{Kind: relaytypes.EventSendPacket, Sequence: 1, Height: relaytypes.ZeroHeight},
		},
	}
	require.NoError(t, link.UpdateSchedule(context.Background(), batch))
	ready := link.RefreshSchedule()
	require.Len(t, ready, 1, "sequence 1 is always ready: nothing precedes it")
	require.NoError(t, link.ExecuteSchedule(context.Background(), ready))

	// process_pending_txs re-drives commit confirmation; the fake's
	// SendMessagesAndWaitCommit succeeds unconditionally, so this should
	// observe sequence 1 as committed and drop it from pending.
	require.NoError(t, link.ProcessPendingTxs(context.Background()))

	batch2 := relaytypes.EventBatch{
		Events: []relaytypes.PacketEvent{
			{Kind: relaytypes.EventSendPacket, Sequence: 2, Height: relaytypes.ZeroHeight},
		},
	}
	require.NoError(t, link.UpdateSchedule(context.Background(), batch2))
	ready2 := link.RefreshSchedule()
	require.Len(t, ready2, 1, "sequence 2 should now be ready: sequence 1 was observed committed")
	assert.Equal(t, uint64(2), ready2[0].Messages[0].Sequence)
}

func TestTickRunsRefreshExecuteAndProcessUnderOneLock(t *testing.T) {
	src := &fakeChainHandle{id: "chain-a", latestHeight: relaytypes.NewHeight(1, 100)}
	dst := &fakeChainHandle{
		id:            "chain-b",
		clientState:   chainhandle.ClientState{LatestHeight: relaytypes.NewHeight(1, 100)},
		sendResponses: []chainhandle.TxResponse{{TxHash: "ABC123"}},
	}
	link := newTestLink(src, dst)

	batch := relaytypes.EventBatch{
		Events: []relaytypes.PacketEvent{
			{Kind: relaytypes.EventSendPacket, Sequence: 1, Height: relaytypes.ZeroHeight},
		},
	}
	require.NoError(t, link.UpdateSchedule(context.Background(), batch))

	ready, err := link.Tick(context.Background())
	require.NoError(t, err)
	require.Len(t, ready, 1)

	// the tick already broadcast and confirmed the OD: nothing left queued
	// or pending.
	assert.Empty(t, link.RefreshSchedule())
}
