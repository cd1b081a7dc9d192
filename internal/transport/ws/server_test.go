package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altruist-gg/altruist/internal/codec"
	"github.com/altruist-gg/altruist/internal/packet"
	"github.com/altruist-gg/altruist/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *Server, *store.Store) {
	t.Helper()
	reg := codec.NewRegistry()
	c := codec.NewJSONCodec(reg)
	st := store.New(4, nil, nil)
	gates := NewGateRegistry()

	srv := NewServer(c, st, gates, nil, nil, nil)
	err := gates.Register(packet.TypeHandshake, func(ctx context.Context, connectionID string, p packet.Packet) error {
		frame, encErr := c.Encode(&packet.SuccessPacket{Message: connectionID, SuccessType: "handshake"})
		if encErr != nil {
			return encErr
		}
		conn, ok := st.Get(connectionID)
		if !ok {
			return nil
		}
		return conn.Sender.Send(frame)
	})
	require.NoError(t, err)

	ts := httptest.NewServer(http.HandlerFunc(srv.ServeHTTP))
	return ts, srv, st
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func TestServer_HandshakeRoundTrip(t *testing.T) {
	ts, _, st := newTestServer(t)
	defer ts.Close()

	conn := dial(t, ts)
	defer conn.Close()

	reg := codec.NewRegistry()
	c := codec.NewJSONCodec(reg)
	frame, err := c.Encode(&packet.HandshakePacket{AuthDetails: "token"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, reply, err := conn.ReadMessage()
	require.NoError(t, err)

	got, err := c.Decode(reply)
	require.NoError(t, err)
	success, ok := got.(*packet.SuccessPacket)
	require.True(t, ok)
	assert.Equal(t, "handshake", success.SuccessType)
	assert.NotEmpty(t, success.Message)

	assert.Eventually(t, func() bool {
		return st.Exists(success.Message)
	}, time.Second, 10*time.Millisecond)
}

func TestServer_MalformedFrameKeepsConnectionOpen(t *testing.T) {
	ts, _, _ := newTestServer(t)
	defer ts.Close()

	conn := dial(t, ts)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))

	reg := codec.NewRegistry()
	c := codec.NewJSONCodec(reg)
	frame, err := c.Encode(&packet.HandshakePacket{AuthDetails: "token"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, reply, err := conn.ReadMessage()
	require.NoError(t, err, "connection must survive a malformed frame and still answer the valid one")

	got, err := c.Decode(reply)
	require.NoError(t, err)
	assert.Equal(t, packet.TypeSuccess, got.Type())
}

func TestServer_DisconnectRemovesConnectionFromStore(t *testing.T) {
	ts, _, st := newTestServer(t)
	defer ts.Close()

	conn := dial(t, ts)

	reg := codec.NewRegistry()
	c := codec.NewJSONCodec(reg)
	frame, err := c.Encode(&packet.HandshakePacket{AuthDetails: "token"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, frame))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, reply, err := conn.ReadMessage()
	require.NoError(t, err)
	got, err := c.Decode(reply)
	require.NoError(t, err)
	connectionID := got.(*packet.SuccessPacket).Message

	require.NoError(t, conn.Close())

	assert.Eventually(t, func() bool {
		return !st.Exists(connectionID)
	}, time.Second, 10*time.Millisecond)
}
