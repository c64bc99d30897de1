package chainhandle

import (
	"context"
	"fmt"

	abci "github.com/cometbft/cometbft/abci/types"

	"github.com/0xkanth/ibc-relayer/internal/errclass"
	"github.com/0xkanth/ibc-relayer/internal/ibcevents"
	"github.com/0xkanth/ibc-relayer/pkg/relaytypes"
)

// FetchEvents retrieves the ABCI events a block produced and decodes the
// ones relevant to packet relaying, implementing internal/heightwatcher's
// EventFetcher. It plays the role internal/handler's per-log ABI decoding
// plays against go-ethereum's filter logs, but against CometBFT's
// block-results RPC response instead of an eth_getLogs result.
func (c *CosmosHandle) FetchEvents(ctx context.Context, height relaytypes.Height) (relaytypes.EventBatch, error) {
	h := int64(height.RevisionHeight)
	results, err := c.rpc.BlockResults(ctx, &h)
	if err != nil {
		return relaytypes.EventBatch{}, errclass.NewLinkError(errclass.KindTxBroadcast, c.chainID,
			fmt.Sprintf("query block results at height %s", height), err)
	}

	raw := make([]ibcevents.RawEvent, 0, len(results.FinalizeBlockEvents))
	for _, ev := range results.FinalizeBlockEvents {
		raw = append(raw, toRawEvent(ev))
	}
	for _, txResult := range results.TxsResults {
		for _, ev := range txResult.Events {
			raw = append(raw, toRawEvent(ev))
		}
	}

	decoded, decodeErrs := ibcevents.DecodeBatch(raw, height)
	for _, e := range decodeErrs {
		c.logger.Warn().Err(e).Str("height", height.String()).Msg("skipping undecodable ibc event")
	}

	return relaytypes.EventBatch{ChainID: c.chainID, Height: height, Events: decoded}, nil
}

func toRawEvent(ev abci.Event) ibcevents.RawEvent {
	out := ibcevents.RawEvent{Type: ev.Type, Attrs: make([]ibcevents.Attr, 0, len(ev.Attributes))}
	for _, a := range ev.Attributes {
		out.Attrs = append(out.Attrs, ibcevents.Attr{Key: a.Key, Value: a.Value})
	}
	return out
}
