package relay_test

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ha1tch/friendgraph/pkg/relay"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/friendws" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func TestRelay_GreetsAndEchoes(t *testing.T) {
	srv := httptest.NewServer(relay.New(zerolog.Nop()))
	defer srv.Close()

	conn := dial(t, srv, "?user=Ada")

	mt, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, mt)
	assert.Equal(t, relay.Greeting, string(data))

	for _, msg := range []string{"hi", "second message"} {
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))
		_, data, err = conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, msg, string(data))
	}
}

func TestRelay_AnswersPing(t *testing.T) {
	srv := httptest.NewServer(relay.New(zerolog.Nop()))
	defer srv.Close()

	conn := dial(t, srv, "?user=Ada")
	_, _, err := conn.ReadMessage()
	require.NoError(t, err)

	pongs := make(chan string, 1)
	conn.SetPongHandler(func(data string) error {
		pongs <- data
		return nil
	})

	require.NoError(t, conn.WriteControl(websocket.PingMessage, []byte("are you there"), time.Now().Add(time.Second)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("after ping")))

	// The pong is delivered while reading the echo
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "after ping", string(data))

	select {
	case got := <-pongs:
		assert.Equal(t, "are you there", got)
	default:
		t.Fatal("no pong received")
	}
}

func TestRelay_IgnoresBinaryFrames(t *testing.T) {
	srv := httptest.NewServer(relay.New(zerolog.Nop()))
	defer srv.Close()

	conn := dial(t, srv, "?user=Ada")
	_, _, err := conn.ReadMessage()
	require.NoError(t, err)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3}))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("text")))

	mt, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, mt)
	assert.Equal(t, "text", string(data))
}

func TestRelay_RequiresUser(t *testing.T) {
	srv := httptest.NewServer(relay.New(zerolog.Nop()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/friendws")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "Error: No user specified\n", string(body))
}

func TestRelay_PlainRequestIsRejected(t *testing.T) {
	srv := httptest.NewServer(relay.New(zerolog.Nop()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/friendws?user=Ada")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRelay_ClosesWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := httptest.NewUnstartedServer(relay.New(zerolog.Nop()))
	srv.Config.BaseContext = func(net.Listener) context.Context { return ctx }
	srv.Start()
	defer srv.Close()

	conn := dial(t, srv, "?user=Ada")
	_, _, err := conn.ReadMessage()
	require.NoError(t, err)

	cancel()

	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
}
