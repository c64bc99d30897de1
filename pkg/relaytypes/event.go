package relaytypes

// IbcEventKind tags the chain events the scheduler classifies into
// operational data (§4.2 rule 2).
type IbcEventKind int

const (
	EventSendPacket IbcEventKind = iota
	EventWriteAcknowledgement
	EventTimeoutElapsed
)

// PacketEvent is a single decoded chain event relevant to packet relaying.
// Height is the height at which the event was observed on its origin chain;
// it becomes an OD's AssemblyHeight once classified.
type PacketEvent struct {
	Kind            IbcEventKind
	Sequence        uint64
	Height          Height
	SrcPortID       string
	SrcChannelID    string
	DstPortID       string
	DstChannelID    string
	TimeoutHeight   Height
	TimeoutTimestamp uint64
	Data            []byte
}

// EventBatch is a batch of events observed on one chain at one height,
// delivered to a worker's command inbox by the (external) event source.
type EventBatch struct {
	ChainID string
	Height  Height
	Events  []PacketEvent
}

// NewBlockEvent carries the metadata of a newly observed block on the
// source chain; it is opaque to the worker beyond the height it carries
// (§6).
type NewBlockEvent struct {
	Height Height
}

// WorkerCmdKind tags the three commands a worker's inbox accepts (§4.4, §6).
type WorkerCmdKind int

const (
	CmdIbcEvents WorkerCmdKind = iota
	CmdNewBlock
	CmdClearPendingPackets
)

// WorkerCmd is the tagged union a worker's command inbox carries.
type WorkerCmd struct {
	Kind     WorkerCmdKind
	Batch    EventBatch    // valid when Kind == CmdIbcEvents
	Height   Height        // valid when Kind == CmdNewBlock
	NewBlock NewBlockEvent // valid when Kind == CmdNewBlock
}
