package account

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeBalanceRequestIncludesAddrAndDenom(t *testing.T) {
	raw, err := encodeBalanceRequest("cosmos1abc", "uatom")
	require.NoError(t, err)
	assert.Equal(t, "address=cosmos1abc&denom=uatom", string(raw))
}

func TestEncodeAccountRequestIncludesAddr(t *testing.T) {
	raw, err := encodeAccountRequest("cosmos1abc")
	require.NoError(t, err)
	assert.Equal(t, "address=cosmos1abc", string(raw))
}

func TestDecodeSequenceParsesDigits(t *testing.T) {
	seq, err := decodeSequence([]byte("42"))
	require.NoError(t, err)
	assert.Equal(t, uint64(42), seq)
}

func TestDecodeSequenceErrorsOnNonNumeric(t *testing.T) {
	_, err := decodeSequence([]byte("not-a-number"))
	assert.Error(t, err)
}
