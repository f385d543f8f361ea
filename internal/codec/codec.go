// Package codec implements the wire compression for batches of input: an
// XOR delta against a reference input (inputs tend to repeat frame to
// frame, so the delta is mostly zero bytes) followed by a run-length
// encoding that collapses those zero runs. Both directions are inverses of
// each other; nothing here is a general-purpose compressor.
package codec

import (
	"fmt"

	ggrs "github.com/gschup/ggrs-sub000"
)

// ErrPayloadTooLarge is returned by Encode when the compressed result would
// not fit in a single unfragmented datagram.
var ErrPayloadTooLarge = fmt.Errorf("codec: encoded payload exceeds %d bytes", ggrs.MaxPayloadBytes)

// DeltaEncode XORs each entry of pending against reference, byte for byte.
// All entries, including reference, must be the same length.
func DeltaEncode(reference []byte, pending [][]byte) []byte {
	out := make([]byte, 0, len(pending)*len(reference))
	for _, input := range pending {
		if len(input) != len(reference) {
			panic("codec: input size does not match reference size")
		}
		for i, b := range reference {
			out = append(out, b^input[i])
		}
	}
	return out
}

// DeltaDecode inverts DeltaEncode, splitting data back into inputSize-byte
// inputs and XORing each against reference.
func DeltaDecode(reference []byte, data []byte, inputSize int) [][]byte {
	if inputSize == 0 || len(data)%inputSize != 0 {
		panic("codec: delta-encoded data is not a multiple of the input size")
	}
	count := len(data) / inputSize
	out := make([][]byte, count)
	for n := 0; n < count; n++ {
		buf := make([]byte, inputSize)
		for i, b := range reference {
			buf[i] = b ^ data[inputSize*n+i]
		}
		out[n] = buf
	}
	return out
}

// Encode delta-encodes pending against reference and run-length-compresses
// the result, returning an error rather than a silently truncated payload if
// the result does not fit under ggrs.MaxPayloadBytes.
func Encode(reference []byte, pending [][]byte) ([]byte, error) {
	delta := DeltaEncode(reference, pending)
	encoded := rleEncode(delta)
	if len(encoded) > ggrs.MaxPayloadBytes {
		return nil, ErrPayloadTooLarge
	}
	return encoded, nil
}

// Decode inverts Encode: it RLE-decompresses data and then delta-decodes
// the result back into inputSize-byte inputs.
func Decode(reference []byte, data []byte, inputSize int) ([][]byte, error) {
	delta, err := rleDecode(data)
	if err != nil {
		return nil, err
	}
	return DeltaDecode(reference, delta, inputSize), nil
}
