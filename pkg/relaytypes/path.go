package relaytypes

import "fmt"

// ChannelOrder distinguishes ordered channels (strict sequence delivery)
// from unordered channels (sequence is a hint only).
type ChannelOrder int

const (
	Unordered ChannelOrder = iota
	Ordered
)

func (o ChannelOrder) String() string {
	if o == Ordered {
		return "ordered"
	}
	return "unordered"
}

// PathEnd is the 6-tuple identity of a directed relay path: the channel
// endpoint on the source chain paired with its counterparty on the
// destination chain. Immutable for the lifetime of a worker (§3).
type PathEnd struct {
	SrcChainID    string
	SrcPortID     string
	SrcChannelID  string
	DstChainID    string
	DstPortID     string
	DstChannelID  string
	Order         ChannelOrder
	SrcClientID   string
	DstClientID   string
}

// String renders a compact identity used in log fields and error context.
func (p PathEnd) String() string {
	return fmt.Sprintf("%s/%s/%s->%s/%s/%s",
		p.SrcChainID, p.SrcPortID, p.SrcChannelID,
		p.DstChainID, p.DstPortID, p.DstChannelID)
}

// Side identifies which chain of a path an operational data unit targets.
type Side int

const (
	SideDestination Side = iota
	SideSource
)

func (s Side) String() string {
	if s == SideSource {
		return "source"
	}
	return "destination"
}
