package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	ref := []byte{0, 0, 1, 0}
	pending := [][]byte{
		{0, 0, 0, 0},
		{0, 0, 0, 0},
		{0, 0, 0, 0},
		{0, 0, 0, 0},
		{0, 0, 0, 0},
	}

	encoded, err := Encode(ref, pending)
	require.NoError(t, err)

	decoded, err := Decode(ref, encoded, len(ref))
	require.NoError(t, err)

	require.Len(t, decoded, len(pending))
	for i, want := range pending {
		assert.True(t, bytes.Equal(want, decoded[i]), "input %d mismatch: got %v want %v", i, decoded[i], want)
	}
}

func TestEncodeDecodeRoundTripWithVariedInputs(t *testing.T) {
	ref := []byte{0xFF, 0x00, 0xAB, 0x01}
	pending := [][]byte{
		{0xFE, 0x01, 0xAB, 0x01},
		{0x00, 0x00, 0x00, 0x00},
		{0xFF, 0x00, 0xAB, 0x02},
	}

	encoded, err := Encode(ref, pending)
	require.NoError(t, err)

	decoded, err := Decode(ref, encoded, len(ref))
	require.NoError(t, err)

	for i, want := range pending {
		assert.True(t, bytes.Equal(want, decoded[i]))
	}
}

func TestEncodeRejectsOversizedPayload(t *testing.T) {
	ref := make([]byte, 64)
	pending := make([][]byte, 64)
	for i := range pending {
		in := make([]byte, 64)
		// alternating bytes defeat run-length compression, forcing the
		// encoded size above MaxPayloadBytes.
		for j := range in {
			if j%2 == 0 {
				in[j] = 0xAA
			} else {
				in[j] = 0x55
			}
		}
		pending[i] = in
	}

	_, err := Encode(ref, pending)
	require.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestRLERoundTrip(t *testing.T) {
	data := []byte{0, 0, 0, 0, 1, 1, 0, 2, 2, 2, 2, 2}
	encoded := rleEncode(data)
	decoded, err := rleDecode(encoded)
	require.NoError(t, err)
	assert.Equal(t, data, decoded)
}
