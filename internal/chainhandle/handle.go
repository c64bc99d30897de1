// Package chainhandle defines the ChainHandle capability set the relayer
// core consumes (§6) and provides a CometBFT/Cosmos SDK implementation of
// it, playing the role internal/chain.OnChainClient plays for go-ethereum
// in a blockchain indexer.
package chainhandle

import (
	"context"

	sdkmath "cosmossdk.io/math"

	"github.com/0xkanth/ibc-relayer/pkg/relaytypes"
)

// ClientState is the destination chain's verifiable view of the source
// chain's consensus (§6). Frozen reports a frozen client; the struct has
// no expiry flag, and CosmosHandle leaves Frozen false.
type ClientState struct {
	ClientID       string
	TrustingPeriod  int64 // seconds
	LatestHeight    relaytypes.Height
	Frozen          bool
	FrozenHeight    relaytypes.Height
}

// ConsensusState is the light client's recorded view of the counterparty at
// a given height.
type ConsensusState struct {
	Height    relaytypes.Height
	Timestamp int64
}

// Header is an opaque, chain-specific header value (a Tendermint light
// client header, for the Cosmos implementation) sufficient to update a
// light client's trusted state.
type Header struct {
	TrustedHeight relaytypes.Height
	TargetHeight  relaytypes.Height
	Raw           any
}

// Proof is an opaque Merkle commitment proof for a value at a path and
// height.
type Proof struct {
	Height relaytypes.Height
	Raw    any
}

// TxResponse is the result of a check-tx or deliver-tx call.
type TxResponse struct {
	TxHash string
	Code   uint32
	RawLog string
	Height int64
}

// IbcEventWithHeight pairs a decoded event with the height it was observed
// at, as returned by a broadcast-and-wait call.
type IbcEventWithHeight struct {
	Event  relaytypes.PacketEvent
	Height relaytypes.Height
}

// ChainConfig is the subset of per-chain configuration the core needs to
// identify, address, and fee a chain.
type ChainConfig struct {
	ChainID       string
	RPCAddr       string
	KeyName       string
	GasPrice      sdkmath.LegacyDec // e.g. 0.025, denominated in Denom
	Denom         string
	GasAdjustment float64 // multiplier applied to a simulated gas estimate, e.g. 1.5
}

// GasEstimate is the result of simulating a message batch against its
// target chain before broadcast (§4.3 step 2): the gas limit to submit
// with, and the fee that limit costs at the chain's configured gas price.
type GasEstimate struct {
	GasLimit  uint64
	FeeAmount sdkmath.Int
	Denom     string
}

// ChainHandle is the capability set §6 requires of each of the two chains
// a worker talks to. Implementations must be safe for concurrent use
// (§5 "Shared resources": chain handles may be shared across workers).
type ChainHandle interface {
	ID() string
	Config() ChainConfig

	QueryLatestHeight(ctx context.Context) (relaytypes.Height, error)
	QueryClientState(ctx context.Context, clientID string, height relaytypes.Height) (ClientState, error)
	QueryConsensusState(ctx context.Context, clientID string, height relaytypes.Height) (ConsensusState, error)

	QueryUnreceivedPackets(ctx context.Context, portID, channelID string, sequences []uint64) (map[uint64]struct{}, error)
	QueryUnreceivedAcks(ctx context.Context, portID, channelID string, sequences []uint64) (map[uint64]struct{}, error)
	QueryPacketCommitments(ctx context.Context, portID, channelID string) (sequences []uint64, height relaytypes.Height, err error)

	BuildHeader(ctx context.Context, trustedHeight, targetHeight relaytypes.Height, clientState ClientState) (Header, error)
	BuildProof(ctx context.Context, path string, height relaytypes.Height) (Proof, error)

	// EstimateGas simulates messages against this chain and returns the gas
	// limit and fee the executor should submit with (§4.3 step 2).
	EstimateGas(ctx context.Context, messages []relaytypes.PacketMessage) (GasEstimate, error)

	SendMessagesAndWaitCheckTx(ctx context.Context, messages []relaytypes.PacketMessage) ([]TxResponse, error)
	SendMessagesAndWaitCommit(ctx context.Context, messages []relaytypes.PacketMessage) ([]IbcEventWithHeight, error)
}
