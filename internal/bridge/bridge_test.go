package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altruist-gg/altruist/internal/codec"
	"github.com/altruist-gg/altruist/internal/packet"
)

// A process that pushed InterprocessPacket{processId=P} must discard the
// same message if it later pops it. Exercised at the wrap/decode boundary,
// without a live Redis.
func TestInterprocessPacket_LoopbackRoundTrip(t *testing.T) {
	c := codec.NewJSONCodec(codec.NewRegistry())

	inner := &packet.SuccessPacket{Message: "hi"}
	inner.SetReceiver("client-b")
	innerFrame, err := c.Encode(inner)
	require.NoError(t, err)

	wrapper := &packet.InterprocessPacket{ProcessID: "process-a", InnerType: inner.Type(), Inner: innerFrame}
	outerFrame, err := c.Encode(wrapper)
	require.NoError(t, err)

	decodedOuter, err := c.Decode(outerFrame)
	require.NoError(t, err)
	got, ok := decodedOuter.(*packet.InterprocessPacket)
	require.True(t, ok)

	b := New(nil, c, "process-a", nil, nil, nil)
	assert.True(t, b.isOwnMessage(got), "process A must recognize its own pushed message")

	bOnOtherProcess := New(nil, c, "process-b", nil, nil, nil)
	assert.False(t, bOnOtherProcess.isOwnMessage(got), "process B must not discard A's message")

	decodedInner, err := c.Decode(got.Inner)
	require.NoError(t, err)
	assert.Equal(t, "client-b", decodedInner.GetHeader().Receiver)
	assert.Equal(t, "hi", decodedInner.(*packet.SuccessPacket).Message)
}
