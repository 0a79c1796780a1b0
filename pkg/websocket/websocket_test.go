package websocketPkg

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDialer(t *testing.T, handler http.HandlerFunc) *realtimeDialer {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	return &realtimeDialer{
		log:              logger,
		url:              "ws" + strings.TrimPrefix(srv.URL, "http"),
		model:            "gpt-realtime",
		handshakeTimeout: time.Second,
		pingInterval:     time.Hour,
		writeTimeout:     time.Second,
	}
}

func TestDialSendsBearerAndModel(t *testing.T) {
	upgrader := websocket.Upgrader{}
	received := make(chan string, 1)

	d := newTestDialer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer ek_test", r.Header.Get("Authorization"))
		assert.Equal(t, "gpt-realtime", r.URL.Query().Get("model"))

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		received <- string(msg)

		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"session.created"}`))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
	})

	conn, err := d.Dial(context.Background(), "ek_test")
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Send(map[string]string{"type": "response.create"}))

	select {
	case msg := <-received:
		assert.JSONEq(t, `{"type":"response.create"}`, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive message")
	}

	msg, err := conn.Read()
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"session.created"}`, string(msg))

	_, err = conn.Read()
	assert.ErrorIs(t, err, ErrStreamClosed)
}

func TestDialRejected(t *testing.T) {
	d := newTestDialer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := d.Dial(context.Background(), "ek_bad")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestSendAfterClose(t *testing.T) {
	upgrader := websocket.Upgrader{}
	d := newTestDialer(t, func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	conn, err := d.Dial(context.Background(), "ek_test")
	require.NoError(t, err)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close())

	assert.ErrorIs(t, conn.Send(map[string]string{"type": "response.create"}), ErrStreamClosed)

	_, err = conn.Read()
	assert.ErrorIs(t, err, ErrStreamClosed)
}
