package errclass

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyNilError(t *testing.T) {
	v := Classify(nil)
	assert.Equal(t, Continue, v.Disposition)
	assert.False(t, v.Retry)
}

func TestClassifyUnwrappedError(t *testing.T) {
	v := Classify(errors.New("some plain error"))
	assert.Equal(t, Continue, v.Disposition)
	assert.True(t, v.Retry)
}

func TestClassifyFatalKinds(t *testing.T) {
	for _, kind := range []Kind{KindClientExpired, KindClientFrozen} {
		err := NewLinkError(kind, "chain-a", "client no longer usable", nil)
		v := Classify(err)
		assert.Equal(t, Fatal, v.Disposition, "kind %s should be fatal", kind)
	}
}

func TestClassifyRetryableKinds(t *testing.T) {
	for _, kind := range []Kind{KindInvalidProof, KindHeightMismatch, KindTxBroadcast, KindTxTimeout} {
		err := NewLinkError(kind, "chain-a", "transient", nil)
		v := Classify(err)
		assert.Equal(t, Continue, v.Disposition)
		assert.True(t, v.Retry, "kind %s should retry", kind)
	}
}

func TestClassifyPacketNotFoundDropsSilently(t *testing.T) {
	err := NewLinkError(KindPacketNotFound, "chain-a", "already relayed", nil)
	v := Classify(err)
	assert.Equal(t, Continue, v.Disposition)
	assert.False(t, v.Retry)
}

func TestIsExpiredOrFrozen(t *testing.T) {
	require.True(t, IsExpiredOrFrozen(NewLinkError(KindClientExpired, "", "", nil)))
	require.True(t, IsExpiredOrFrozen(NewLinkError(KindClientFrozen, "", "", nil)))
	require.False(t, IsExpiredOrFrozen(NewLinkError(KindTxTimeout, "", "", nil)))
	require.False(t, IsExpiredOrFrozen(errors.New("not a link error")))
}

func TestLinkErrorUnwrap(t *testing.T) {
	cause := errors.New("rpc dial failed")
	err := NewLinkError(KindTxBroadcast, "path-a", "broadcast failed", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "path-a")
}

func TestClassifyBroadcastErrorNeverErrorsOnNil(t *testing.T) {
	assert.Equal(t, KindUnknown, ClassifyBroadcastError(nil))
	assert.Equal(t, KindTxBroadcast, ClassifyBroadcastError(errors.New("insufficient funds")))
	assert.Equal(t, KindTxBroadcast, ClassifyBroadcastError(errors.New("connection refused")))
}
