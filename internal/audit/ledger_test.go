package audit

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.db")
	l, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRecordAndLoadClearing(t *testing.T) {
	l := openTestLedger(t)

	err := l.RecordClearing("chain-a/transfer/channel-0->chain-b/transfer/channel-1", ClearingRecord{
		AtHeight:          100,
		UnreceivedCleared: 3,
		UnackedCleared:    1,
		Succeeded:         true,
	})
	require.NoError(t, err)

	rec, err := l.LastClearing("chain-a/transfer/channel-0->chain-b/transfer/channel-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(100), rec.AtHeight)
	assert.Equal(t, 3, rec.UnreceivedCleared)
	assert.True(t, rec.Succeeded)
	assert.False(t, rec.RecordedAt.IsZero())
}

func TestLastClearingOverwritesPreviousRecord(t *testing.T) {
	l := openTestLedger(t)
	path := "path-a"

	require.NoError(t, l.RecordClearing(path, ClearingRecord{AtHeight: 1}))
	require.NoError(t, l.RecordClearing(path, ClearingRecord{AtHeight: 2}))

	rec, err := l.LastClearing(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rec.AtHeight)
}

func TestLastClearingMissingPathErrors(t *testing.T) {
	l := openTestLedger(t)
	_, err := l.LastClearing("never-recorded")
	assert.Error(t, err)
}

func TestRecordTermination(t *testing.T) {
	l := openTestLedger(t)

	err := l.RecordTermination("path-a", TerminationRecord{
		Reason: "fatal_error",
		Err:    "client frozen",
	})
	require.NoError(t, err)
}
