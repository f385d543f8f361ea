// Package wire encodes and decodes ggrs.Message values for transmission,
// using CBOR tags to round-trip the MessageBody union through its concrete
// variant without a hand-rolled type-and-payload envelope.
package wire

import (
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	ggrs "github.com/gschup/ggrs-sub000"
)

// Tag numbers are picked from CBOR's unassigned range, the same way
// katzenpost's cborplugin protocol tags its own request/response union.
const (
	tagSyncRequest     = 41001
	tagSyncReply       = 41002
	tagInput           = 41003
	tagInputAck        = 41004
	tagQualityReport   = 41005
	tagQualityReply    = 41006
	tagChecksumReport  = 41007
	tagKeepAlive       = 41008
)

var tagSet = buildTagSet()

func buildTagSet() cbor.TagSet {
	ts := cbor.NewTagSet()
	opts := cbor.TagOptions{EncTag: cbor.EncTagRequired, DecTag: cbor.DecTagRequired}
	register := func(tag uint64, v any) {
		if err := ts.Add(opts, reflect.TypeOf(v), tag); err != nil {
			panic(fmt.Sprintf("wire: failed to register cbor tag %d: %v", tag, err))
		}
	}
	register(tagSyncRequest, ggrs.SyncRequestBody{})
	register(tagSyncReply, ggrs.SyncReplyBody{})
	register(tagInput, ggrs.InputBody{})
	register(tagInputAck, ggrs.InputAckBody{})
	register(tagQualityReport, ggrs.QualityReportBody{})
	register(tagQualityReply, ggrs.QualityReplyBody{})
	register(tagChecksumReport, ggrs.ChecksumReportBody{})
	register(tagKeepAlive, ggrs.KeepAliveBody{})
	return ts
}

var (
	encMode = mustEncMode()
	decMode = mustDecMode()
)

func mustEncMode() cbor.EncMode {
	m, err := cbor.EncOptions{}.EncModeWithTags(tagSet)
	if err != nil {
		panic(fmt.Sprintf("wire: building cbor encode mode: %v", err))
	}
	return m
}

func mustDecMode() cbor.DecMode {
	m, err := cbor.DecOptions{}.DecModeWithTags(tagSet)
	if err != nil {
		panic(fmt.Sprintf("wire: building cbor decode mode: %v", err))
	}
	return m
}

// HeaderSize is the byte length EncodeHeader always produces and
// DecodeHeader always consumes.
const HeaderSize = 2

// EncodeHeader serializes a MessageHeader to its fixed two-byte wire form,
// kept separate from the cbor-encoded body so a transport can send the two
// as a scatter-gather vector instead of concatenating them into one buffer
// first (see transport.UDPSocket).
func EncodeHeader(h ggrs.MessageHeader) []byte {
	return []byte{byte(h.Magic), byte(h.Magic >> 8)}
}

// DecodeHeader parses the fixed-size header prefix a transport stripped off
// the front of a received packet.
func DecodeHeader(data []byte) (ggrs.MessageHeader, error) {
	if len(data) < HeaderSize {
		return ggrs.MessageHeader{}, fmt.Errorf("wire: header requires %d bytes, got %d", HeaderSize, len(data))
	}
	return ggrs.MessageHeader{Magic: uint16(data[0]) | uint16(data[1])<<8}, nil
}

// EncodeBody cbor-encodes body alone, tagged so DecodeBody can recover its
// concrete type.
func EncodeBody(body ggrs.MessageBody) ([]byte, error) {
	data, err := encMode.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("wire: encode body: %w", err)
	}
	return data, nil
}

// DecodeBody parses a cbor-encoded body produced by EncodeBody.
func DecodeBody(data []byte) (ggrs.MessageBody, error) {
	var v any
	if err := decMode.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("wire: decode body: %w", err)
	}
	body, ok := v.(ggrs.MessageBody)
	if !ok {
		return nil, fmt.Errorf("wire: decoded body has unexpected type %T", v)
	}
	return body, nil
}

// Encode serializes msg as a single buffer: the fixed header followed by
// the cbor-encoded body. Most NonBlockingSocket implementations only need
// this; UDPSocket additionally uses EncodeHeader/EncodeBody directly to
// avoid the concatenation when its underlying writer supports vectorised
// I/O.
func Encode(msg ggrs.Message) ([]byte, error) {
	body, err := EncodeBody(msg.Body)
	if err != nil {
		return nil, err
	}
	return append(EncodeHeader(msg.Header), body...), nil
}

// Decode parses bytes received off the wire back into a ggrs.Message.
func Decode(data []byte) (ggrs.Message, error) {
	header, err := DecodeHeader(data)
	if err != nil {
		return ggrs.Message{}, err
	}
	body, err := DecodeBody(data[HeaderSize:])
	if err != nil {
		return ggrs.Message{}, err
	}
	return ggrs.Message{Header: header, Body: body}, nil
}
