package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ggrs "github.com/gschup/ggrs-sub000"
)

func roundTrip(t *testing.T, msg ggrs.Message) ggrs.Message {
	t.Helper()
	data, err := Encode(msg)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	return got
}

func TestRoundTripAllBodies(t *testing.T) {
	header := ggrs.MessageHeader{Magic: 0xBEEF}

	cases := []ggrs.MessageBody{
		ggrs.SyncRequestBody{RandomRequest: 42},
		ggrs.SyncReplyBody{RandomReply: 42},
		ggrs.InputBody{
			PeerConnectStatus:   []ggrs.ConnectionStatus{{Disconnected: false, LastFrame: 10}},
			DisconnectRequested: false,
			StartFrame:          5,
			AckFrame:            4,
			Bytes:               []byte{1, 2, 3},
		},
		ggrs.InputAckBody{AckFrame: 7},
		ggrs.QualityReportBody{FrameAdvantage: -3, PingSentMillis: 1000},
		ggrs.QualityReplyBody{PongMillis: 1000},
		ggrs.ChecksumReportBody{Checksum: 0xDEADBEEF, Frame: 99},
		ggrs.KeepAliveBody{},
	}

	for _, body := range cases {
		got := roundTrip(t, ggrs.Message{Header: header, Body: body})
		assert.Equal(t, header, got.Header)
		assert.Equal(t, body, got.Body)
	}
}

func TestHeaderAndBodySplitMatchesSingleBufferEncode(t *testing.T) {
	msg := ggrs.Message{
		Header: ggrs.MessageHeader{Magic: 0x1234},
		Body:   ggrs.InputAckBody{AckFrame: 11},
	}

	combined, err := Encode(msg)
	require.NoError(t, err)

	headerBytes := EncodeHeader(msg.Header)
	bodyBytes, err := EncodeBody(msg.Body)
	require.NoError(t, err)

	require.Equal(t, combined, append(append([]byte{}, headerBytes...), bodyBytes...))

	gotHeader, err := DecodeHeader(headerBytes)
	require.NoError(t, err)
	assert.Equal(t, msg.Header, gotHeader)

	gotBody, err := DecodeBody(bodyBytes)
	require.NoError(t, err)
	assert.Equal(t, msg.Body, gotBody)
}
