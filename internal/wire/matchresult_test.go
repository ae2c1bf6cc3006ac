package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeMatchResult_LiteralVectors(t *testing.T) {
	assert.Equal(t, []byte{0x00}, EncodeMatchResult(false, false, 0))
	assert.Equal(t, []byte{0x01}, EncodeMatchResult(true, false, 0))
	assert.Equal(t, []byte{0x02, 0x00, 0x00, 0x00, 0x00}, EncodeMatchResult(true, true, 0))
	assert.Equal(t, []byte{0x02, 0x2a, 0x00, 0x00, 0x00}, EncodeMatchResult(true, true, 42))
}

func TestDecodeMatchResult_RoundTrip(t *testing.T) {
	cases := []struct {
		decided, matched bool
		index            uint32
	}{
		{false, false, 0},
		{true, false, 0},
		{true, true, 0},
		{true, true, 1},
		{true, true, 4096},
	}
	for _, c := range cases {
		encoded := EncodeMatchResult(c.decided, c.matched, c.index)
		decided, matched, index, err := DecodeMatchResult(encoded)
		require.NoError(t, err)
		assert.Equal(t, c.decided, decided)
		assert.Equal(t, c.matched, matched)
		assert.Equal(t, c.index, index)
	}
}

func TestDecodeMatchResult_Errors(t *testing.T) {
	_, _, _, err := DecodeMatchResult(nil)
	assert.Error(t, err)

	_, _, _, err = DecodeMatchResult([]byte{0x02, 0x01})
	assert.Error(t, err)

	_, _, _, err = DecodeMatchResult([]byte{0xff})
	assert.Error(t, err)
}
