package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeEnrollStep_LiteralVectors(t *testing.T) {
	assert.Equal(t,
		[]byte{7, 0, 0, 0, 0, 50},
		EncodeEnrollStep(EnrollStepReply{ID: 7, InProgress: true, Percent: 50}))

	assert.Equal(t,
		[]byte{1, 0, 0, 0, 1, 3, 0, 0, 0, 0xde, 0xad, 0xbe},
		EncodeEnrollStep(EnrollStepReply{ID: 1, Complete: true, Template: []byte{0xde, 0xad, 0xbe}}))

	assert.Equal(t, []byte{9, 0, 0, 0, 2}, EncodeEnrollStep(EnrollStepReply{ID: 9, GenericErr: true}))
	assert.Equal(t, []byte{9, 0, 0, 0, 3}, EncodeEnrollStep(EnrollStepReply{ID: 9, LowQuality: true}))
}

func TestEnrollStep_RoundTrip(t *testing.T) {
	cases := []EnrollStepReply{
		{ID: 0, InProgress: true, Percent: 0},
		{ID: 1, InProgress: true, Percent: 100},
		{ID: 2, Complete: true, Template: []byte{1, 2, 3, 4}},
		{ID: 3, Complete: true, Template: nil},
		{ID: 4, GenericErr: true},
		{ID: 5, LowQuality: true},
	}
	for _, c := range cases {
		encoded := EncodeEnrollStep(c)
		decoded, err := DecodeEnrollStep(encoded)
		require.NoError(t, err)
		assert.Equal(t, c.ID, decoded.ID)
		assert.Equal(t, c.InProgress, decoded.InProgress)
		assert.Equal(t, c.Percent, decoded.Percent)
		assert.Equal(t, c.Complete, decoded.Complete)
		assert.Equal(t, c.Template, decoded.Template)
		assert.Equal(t, c.GenericErr, decoded.GenericErr)
		assert.Equal(t, c.LowQuality, decoded.LowQuality)
	}
}

func TestDecodeEnrollStep_Errors(t *testing.T) {
	_, err := DecodeEnrollStep([]byte{1, 2, 3})
	assert.Error(t, err)

	_, err = DecodeEnrollStep([]byte{0, 0, 0, 0, 0xff})
	assert.Error(t, err)

	_, err = DecodeEnrollStep([]byte{0, 0, 0, 0, 1, 5, 0, 0, 0, 1, 2})
	assert.Error(t, err)
}
