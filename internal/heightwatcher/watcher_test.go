package heightwatcher

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xkanth/ibc-relayer/internal/chainhandle"
	"github.com/0xkanth/ibc-relayer/pkg/relaytypes"
)

// fakeChain implements chainhandle.ChainHandle; only QueryLatestHeight is
// exercised by this package, the rest are unreachable stubs.
type fakeChain struct {
	latest relaytypes.Height
}

func (f *fakeChain) ID() string                     { return "chain-a" }
func (f *fakeChain) Config() chainhandle.ChainConfig { return chainhandle.ChainConfig{ChainID: "chain-a"} }
func (f *fakeChain) QueryLatestHeight(ctx context.Context) (relaytypes.Height, error) {
	return f.latest, nil
}
func (f *fakeChain) QueryClientState(ctx context.Context, clientID string, height relaytypes.Height) (chainhandle.ClientState, error) {
	return chainhandle.ClientState{}, nil
}
func (f *fakeChain) QueryConsensusState(ctx context.Context, clientID string, height relaytypes.Height) (chainhandle.ConsensusState, error) {
	return chainhandle.ConsensusState{}, nil
}
func (f *fakeChain) QueryUnreceivedPackets(ctx context.Context, portID, channelID string, sequences []uint64) (map[uint64]struct{}, error) {
	return nil, nil
}
func (f *fakeChain) QueryUnreceivedAcks(ctx context.Context, portID, channelID string, sequences []uint64) (map[uint64]struct{}, error) {
	return nil, nil
}
func (f *fakeChain) QueryPacketCommitments(ctx context.Context, portID, channelID string) ([]uint64, relaytypes.Height, error) {
	return nil, relaytypes.Height{}, nil
}
func (f *fakeChain) BuildHeader(ctx context.Context, trustedHeight, targetHeight relaytypes.Height, clientState chainhandle.ClientState) (chainhandle.Header, error) {
	return chainhandle.Header{}, nil
}
func (f *fakeChain) BuildProof(ctx context.Context, path string, height relaytypes.Height) (chainhandle.Proof, error) {
	return chainhandle.Proof{}, nil
}
func (f *fakeChain) EstimateGas(ctx context.Context, messages []relaytypes.PacketMessage) (chainhandle.GasEstimate, error) {
	return chainhandle.GasEstimate{}, nil
}
func (f *fakeChain) SendMessagesAndWaitCheckTx(ctx context.Context, messages []relaytypes.PacketMessage) ([]chainhandle.TxResponse, error) {
	return nil, nil
}
func (f *fakeChain) SendMessagesAndWaitCommit(ctx context.Context, messages []relaytypes.PacketMessage) ([]chainhandle.IbcEventWithHeight, error) {
	return nil, nil
}

type fakeFetcher struct {
	events map[uint64][]relaytypes.PacketEvent
}

func (f *fakeFetcher) FetchEvents(ctx context.Context, height relaytypes.Height) (relaytypes.EventBatch, error) {
	return relaytypes.EventBatch{ChainID: "chain-a", Height: height, Events: f.events[height.RevisionHeight]}, nil
}

type fakeSink struct {
	cmds []relaytypes.WorkerCmd
}

func (f *fakeSink) Enqueue(ctx context.Context, cmd relaytypes.WorkerCmd) error {
	f.cmds = append(f.cmds, cmd)
	return nil
}

func TestDispatchHeightSendsNewBlockThenEvents(t *testing.T) {
	sink := &fakeSink{}
	fetcher := &fakeFetcher{events: map[uint64][]relaytypes.PacketEvent{
		10: {{Kind: relaytypes.EventSendPacket, Sequence: 1}},
	}}
	w := New(&fakeChain{}, fetcher, Config{ChainID: "chain-a"}, zerolog.Nop())
	w.AddSink(sink)

	err := w.dispatchHeight(context.Background(), relaytypes.NewHeight(1, 10))
	require.NoError(t, err)

	require.Len(t, sink.cmds, 2)
	assert.Equal(t, relaytypes.CmdNewBlock, sink.cmds[0].Kind)
	assert.Equal(t, relaytypes.CmdIbcEvents, sink.cmds[1].Kind)
	assert.Len(t, sink.cmds[1].Batch.Events, 1)
}

func TestDispatchHeightSkipsEventsCommandWhenNoneEmitted(t *testing.T) {
	sink := &fakeSink{}
	fetcher := &fakeFetcher{events: map[uint64][]relaytypes.PacketEvent{}}
	w := New(&fakeChain{}, fetcher, Config{ChainID: "chain-a"}, zerolog.Nop())
	w.AddSink(sink)

	require.NoError(t, w.dispatchHeight(context.Background(), relaytypes.NewHeight(1, 5)))
	require.Len(t, sink.cmds, 1, "only the NewBlock command, no empty IbcEvents command")
}

func TestSyncToHeadAdvancesCurrentAndDispatchesEachHeight(t *testing.T) {
	sink := &fakeSink{}
	fetcher := &fakeFetcher{events: map[uint64][]relaytypes.PacketEvent{}}
	chain := &fakeChain{latest: relaytypes.NewHeight(1, 13)}
	w := New(chain, fetcher, Config{ChainID: "chain-a", Confirmations: 2, StartHeight: 10}, zerolog.Nop())
	w.AddSink(sink)

	require.NoError(t, w.syncToHead(context.Background()))

	// safe head = 13 - 2 = 11, so heights 11 dispatched (current was 10).
	assert.Equal(t, uint64(11), w.current)
	assert.Len(t, sink.cmds, 1, "one NewBlock command for height 11")
}

func TestSyncToHeadErrorsWhenTooFarBehindForBatchSize(t *testing.T) {
	sink := &fakeSink{}
	fetcher := &fakeFetcher{}
	chain := &fakeChain{latest: relaytypes.NewHeight(1, 1000)}
	w := New(chain, fetcher, Config{ChainID: "chain-a", BatchSize: 5, StartHeight: 0}, zerolog.Nop())
	w.AddSink(sink)

	err := w.syncToHead(context.Background())
	assert.Error(t, err, "too far behind for realtime catch-up, backfill should take over")
}
