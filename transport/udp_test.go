package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ggrs "github.com/gschup/ggrs-sub000"
)

func TestUDPSocketRoundTrip(t *testing.T) {
	a, err := Bind(0, nil)
	require.NoError(t, err)
	defer a.Close()

	b, err := Bind(0, nil)
	require.NoError(t, err)
	defer b.Close()

	msg := ggrs.Message{
		Header: ggrs.MessageHeader{Magic: 0xBEEF},
		Body:   ggrs.KeepAliveBody{},
	}
	a.SendTo(msg, b.conn.LocalAddr())

	var got []ggrs.ReceivedMessage
	for i := 0; i < 1000 && len(got) == 0; i++ {
		got = b.ReceiveAll()
	}

	require.Len(t, got, 1)
	assert.Equal(t, uint16(0xBEEF), got[0].Msg.Header.Magic)
	_, ok := got[0].Msg.Body.(ggrs.KeepAliveBody)
	assert.True(t, ok)
}

func TestReceiveAllDrainsWithoutBlocking(t *testing.T) {
	a, err := Bind(0, nil)
	require.NoError(t, err)
	defer a.Close()

	// Nothing was sent; ReceiveAll must return immediately with no messages
	// rather than blocking on the non-blocking UDP socket.
	got := a.ReceiveAll()
	assert.Empty(t, got)
}

func TestSendToUndecodablePeerIsIgnoredByReceiver(t *testing.T) {
	a, err := Bind(0, nil)
	require.NoError(t, err)
	defer a.Close()

	b, err := Bind(0, nil)
	require.NoError(t, err)
	defer b.Close()

	_, err = a.conn.WriteTo([]byte("not a valid cbor envelope"), b.conn.LocalAddr())
	require.NoError(t, err)

	var got []ggrs.ReceivedMessage
	for i := 0; i < 1000; i++ {
		got = b.ReceiveAll()
		if len(got) > 0 {
			break
		}
	}
	assert.Empty(t, got)
}
