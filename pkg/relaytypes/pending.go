package relaytypes

import "time"

// PendingTx records a broadcast-but-unconfirmed transaction (§3). The
// executor creates one per successful broadcast; process_pending_txs polls
// for its receipt on every tick until it commits, expires, or is dropped.
type PendingTx struct {
	OD          *OperationalData
	TxHashes    []string
	BroadcastAt time.Time
	Deadline    time.Time
}

// Expired reports whether the pending tx's deadline has passed as of now.
func (p PendingTx) Expired(now time.Time) bool {
	return now.After(p.Deadline)
}
