package transport

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"toolgate/internal/config"
	"toolgate/internal/observability"
	"toolgate/internal/protocol"
)

func newDispatcher(t *testing.T) *protocol.Dispatcher {
	t.Helper()
	d := protocol.NewDispatcher(protocol.ServerInfo{Name: "toolgate-test", Version: "0.0.0"}, zap.NewNop().Sugar())
	d.Register("ping", func(_ context.Context, _ *protocol.Session, _ map[string]any) (any, error) {
		return map[string]any{"pong": true}, nil
	})
	return d
}

func frame(t *testing.T, id any, method string, params map[string]any) []byte {
	t.Helper()
	msg := map[string]any{"jsonrpc": "2.0", "method": method}
	if id != nil {
		msg["id"] = id
	}
	if params != nil {
		msg["params"] = params
	}
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	return raw
}

type reply struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  map[string]any  `json:"result"`
	Error   *protocol.Error `json:"error"`
	ID      json.RawMessage `json:"id"`
}

func parseReply(t *testing.T, raw []byte) reply {
	t.Helper()
	var r reply
	require.NoError(t, json.Unmarshal(raw, &r), "reply must be valid JSON: %s", raw)
	return r
}

// --- stdio ---

func TestStdio_ServesLines(t *testing.T) {
	var in bytes.Buffer
	in.Write(frame(t, 1, "initialize", nil))
	in.WriteByte('\n')
	in.Write(frame(t, 2, "ping", nil))
	in.WriteByte('\n')

	var out bytes.Buffer
	tr := NewStdio(newDispatcher(t), &in, &out, config.DefaultMaxFrameBytes, nil, zap.NewNop().Sugar())

	require.NoError(t, tr.Start(context.Background()), "EOF ends the transport cleanly")

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)

	first := parseReply(t, []byte(lines[0]))
	require.Nil(t, first.Error)
	assert.Equal(t, protocol.Version, first.Result["protocolVersion"])

	second := parseReply(t, []byte(lines[1]))
	require.Nil(t, second.Error)
	assert.Equal(t, true, second.Result["pong"])
}

func TestStdio_NotificationsGetNoReply(t *testing.T) {
	var in bytes.Buffer
	in.Write(frame(t, nil, "initialize", nil)) // no id
	in.WriteByte('\n')

	var out bytes.Buffer
	tr := NewStdio(newDispatcher(t), &in, &out, config.DefaultMaxFrameBytes, nil, zap.NewNop().Sugar())

	require.NoError(t, tr.Start(context.Background()))
	assert.Empty(t, out.String())
}

func TestStdio_ParseErrorReplies32700(t *testing.T) {
	in := strings.NewReader("{nope\n")
	var out bytes.Buffer
	tr := NewStdio(newDispatcher(t), in, &out, config.DefaultMaxFrameBytes, nil, zap.NewNop().Sugar())

	require.NoError(t, tr.Start(context.Background()))

	r := parseReply(t, out.Bytes())
	require.NotNil(t, r.Error)
	assert.Equal(t, protocol.CodeParseError, r.Error.Code)
	assert.Equal(t, "null", string(r.ID))
}

func TestStdio_OversizeLineReplies32700AndStops(t *testing.T) {
	const maxLine = 256
	var in bytes.Buffer
	in.Write(bytes.Repeat([]byte("x"), maxLine+1))
	in.WriteByte('\n')

	var out bytes.Buffer
	tr := NewStdio(newDispatcher(t), &in, &out, maxLine, nil, zap.NewNop().Sugar())

	err := tr.Start(context.Background())
	require.ErrorIs(t, err, ErrFrameTooLarge)

	r := parseReply(t, out.Bytes())
	require.NotNil(t, r.Error)
	assert.Equal(t, protocol.CodeParseError, r.Error.Code)
	assert.Equal(t, "null", string(r.ID))
}

// --- tcp ---

func startTCP(t *testing.T) (*TCP, net.Conn) {
	t.Helper()
	tr := NewTCP(newDispatcher(t), config.TCPConfig{
		Host:                "127.0.0.1",
		Port:                0,
		ReadTimeoutSeconds:  5,
		WriteTimeoutSeconds: 5,
	}, config.DefaultMaxFrameBytes, nil, zap.NewNop().Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("tcp transport did not stop")
		}
	})

	require.Eventually(t, func() bool { return tr.Addr() != nil }, 2*time.Second, 10*time.Millisecond)

	conn, err := net.Dial("tcp", tr.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return tr, conn
}

func sendTCP(t *testing.T, conn net.Conn, payload []byte) {
	t.Helper()
	require.NoError(t, writeFrame(conn, payload))
}

func recvTCP(t *testing.T, conn net.Conn) []byte {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	raw, err := readFrame(conn, config.DefaultMaxFrameBytes)
	require.NoError(t, err)
	return raw
}

func TestTCP_RoundTrip(t *testing.T) {
	_, conn := startTCP(t)

	sendTCP(t, conn, frame(t, 1, "initialize", nil))
	r := parseReply(t, recvTCP(t, conn))
	require.Nil(t, r.Error)
	assert.Equal(t, protocol.Version, r.Result["protocolVersion"])

	sendTCP(t, conn, frame(t, 2, "ping", nil))
	r = parseReply(t, recvTCP(t, conn))
	require.Nil(t, r.Error)
	assert.Equal(t, true, r.Result["pong"])
}

func TestTCP_ParseErrorKeepsConnection(t *testing.T) {
	_, conn := startTCP(t)

	sendTCP(t, conn, []byte("{not json"))
	r := parseReply(t, recvTCP(t, conn))
	require.NotNil(t, r.Error)
	assert.Equal(t, protocol.CodeParseError, r.Error.Code)
	assert.Equal(t, "null", string(r.ID))

	// The connection survives a parse error.
	sendTCP(t, conn, frame(t, 1, "initialize", nil))
	r = parseReply(t, recvTCP(t, conn))
	require.Nil(t, r.Error)
}

func TestTCP_OversizeFrameClosesPeer(t *testing.T) {
	tr := NewTCP(newDispatcher(t), config.TCPConfig{Host: "127.0.0.1"}, 1024, nil, zap.NewNop().Sugar())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = tr.Start(ctx) }()
	require.Eventually(t, func() bool { return tr.Addr() != nil }, 2*time.Second, 10*time.Millisecond)

	conn, err := net.Dial("tcp", tr.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], 1<<30)
	_, err = conn.Write(header[:])
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err = io.ReadAll(conn)
	require.NoError(t, err, "server closes the connection without replying")
}

func TestTCP_RepliesPreserveRequestOrder(t *testing.T) {
	_, conn := startTCP(t)

	sendTCP(t, conn, frame(t, 1, "initialize", nil))
	for i := 2; i <= 5; i++ {
		sendTCP(t, conn, frame(t, i, "ping", nil))
	}

	for i := 1; i <= 5; i++ {
		r := parseReply(t, recvTCP(t, conn))
		assert.Equal(t, fmt.Sprintf("%d", i), string(r.ID))
	}
}

// --- websocket ---

func startWS(t *testing.T) *websocket.Conn {
	t.Helper()
	health := observability.NewHealth(zap.NewNop().Sugar())
	tr := NewWS(newDispatcher(t), config.WSConfig{}, config.DefaultMaxFrameBytes, nil, nil, health, zap.NewNop().Sugar())

	srv := httptest.NewServer(tr.Router())
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func TestWS_RoundTrip(t *testing.T) {
	conn := startWS(t)
	ctx := context.Background()

	require.NoError(t, conn.Write(ctx, websocket.MessageText, frame(t, 1, "initialize", nil)))
	typ, raw, err := conn.Read(ctx)
	require.NoError(t, err)
	require.Equal(t, websocket.MessageText, typ)
	r := parseReply(t, raw)
	require.Nil(t, r.Error)
	assert.Equal(t, protocol.Version, r.Result["protocolVersion"])

	require.NoError(t, conn.Write(ctx, websocket.MessageText, frame(t, 2, "ping", nil)))
	_, raw, err = conn.Read(ctx)
	require.NoError(t, err)
	r = parseReply(t, raw)
	assert.Equal(t, true, r.Result["pong"])
}

func TestWS_HTTPEndpoints(t *testing.T) {
	health := observability.NewHealth(zap.NewNop().Sugar())
	metrics := observability.NewMetrics(zap.NewNop().Sugar())
	tr := NewWS(newDispatcher(t), config.WSConfig{}, config.DefaultMaxFrameBytes, metrics, nil, health, zap.NewNop().Sugar())

	srv := httptest.NewServer(tr.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	hint, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(hint), "connect to /ws")

	resp, err = http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "toolgate_uptime_seconds")
}
