// Package audit keeps a local, operator-facing record of clearing passes
// and terminations for each path, for diagnostics and for the "at least
// one clearing since start" property (§8 invariant 3) to survive a
// process restart as a human-readable trail. It is explicitly
// non-authoritative: per §6 "Persisted state: None", the worker itself
// never reads this store to decide what to do — restart always re-derives
// state by re-clearing against on-chain state, never by replaying this
// ledger. Adapted from internal/db.CheckpointDB: same bbolt
// bucket-per-concern, JSON-marshaled-value shape, swapped from a block
// cursor to a clearing/termination history.
package audit

import (
	"encoding/json"
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const (
	clearingBucket    = "clearing_runs"
	terminationBucket = "terminations"
)

// ClearingRecord is one completed schedule_packet_clearing pass.
type ClearingRecord struct {
	Path               string    `json:"path"`
	AtHeight           uint64    `json:"at_height"`
	UnreceivedCleared  int       `json:"unreceived_cleared"`
	UnackedCleared     int       `json:"unacked_cleared"`
	Succeeded          bool      `json:"succeeded"`
	RecordedAt         time.Time `json:"recorded_at"`
}

// TerminationRecord is one worker reaching the Terminated state.
type TerminationRecord struct {
	Path       string    `json:"path"`
	Reason     string    `json:"reason"`
	Err        string    `json:"error,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Ledger is a bbolt-backed append-ish store: each path's most recent
// record is kept under its path key, overwriting the previous one, since
// this ledger answers "what happened most recently", not "what is the
// full history" (a full history belongs in cmd/relay-audit's Postgres
// sink, fed by internal/relayevents).
type Ledger struct {
	db *bbolt.DB
}

// Open opens (creating if necessary) the audit ledger at dbPath.
func Open(dbPath string) (*Ledger, error) {
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open audit ledger: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(clearingBucket)); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(terminationBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create audit buckets: %w", err)
	}

	return &Ledger{db: db}, nil
}

// RecordClearing persists the outcome of one schedule_packet_clearing
// call for a path.
func (l *Ledger) RecordClearing(path string, rec ClearingRecord) error {
	rec.Path = path
	rec.RecordedAt = time.Now()

	return l.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(clearingBucket))
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal clearing record: %w", err)
		}
		return b.Put([]byte(path), data)
	})
}

// LastClearing returns the most recently recorded clearing outcome for a
// path, or an error if none has been recorded yet.
func (l *Ledger) LastClearing(path string) (ClearingRecord, error) {
	var rec ClearingRecord
	err := l.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(clearingBucket))
		data := b.Get([]byte(path))
		if data == nil {
			return fmt.Errorf("no clearing record for path %s", path)
		}
		return json.Unmarshal(data, &rec)
	})
	return rec, err
}

// RecordTermination persists a worker's terminal outcome, for operators
// diagnosing why a path stopped making progress (§7 "User-visible
// behavior").
func (l *Ledger) RecordTermination(path string, rec TerminationRecord) error {
	rec.Path = path
	rec.RecordedAt = time.Now()

	return l.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(terminationBucket))
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal termination record: %w", err)
		}
		return b.Put([]byte(path), data)
	})
}

// Close closes the underlying bbolt database.
func (l *Ledger) Close() error {
	return l.db.Close()
}
