package hub

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/srg/eegbuds/headset"
	"github.com/srg/eegbuds/internal/collector"
)

func newServer(t *testing.T, onCommand CommandFunc) (*Hub, string) {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	h := New(logger, onCommand)
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return h, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func TestBroadcast(t *testing.T) {
	h, url := newServer(t, nil)
	a := dial(t, url)
	b := dial(t, url)
	require.Eventually(t, func() bool { return h.Clients() == 2 }, time.Second, time.Millisecond)

	require.NoError(t, h.Write([]collector.Record{
		{Time: time.Now(), Event: headset.Event{Kind: headset.EventWearStatus, Status: headset.RightLost}},
	}))

	for _, c := range []*websocket.Conn{a, b} {
		m := read(t, c)
		assert.Equal(t, "wear_status", m["kind"])
		assert.Equal(t, "right_lost", m["status"])
	}
}

func TestClientGoneIsUnregistered(t *testing.T) {
	h, url := newServer(t, nil)
	c := dial(t, url)
	require.Eventually(t, func() bool { return h.Clients() == 1 }, time.Second, time.Millisecond)

	require.NoError(t, c.Close(websocket.StatusNormalClosure, ""))
	assert.Eventually(t, func() bool { return h.Clients() == 0 }, time.Second, time.Millisecond)
}

func TestCommands(t *testing.T) {
	var got []string
	_, url := newServer(t, func(_ context.Context, cmd string) error {
		got = append(got, cmd)
		if cmd != "start" && cmd != "stop" {
			return errors.New("unknown command " + cmd)
		}
		return nil
	})
	c := dial(t, url)
	ctx := context.Background()

	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte(`{"cmd":"start"}`)))
	assert.Equal(t, true, read(t, c)["ok"])

	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte(`{"cmd":"reboot"}`)))
	m := read(t, c)
	assert.Equal(t, false, m["ok"])
	assert.Equal(t, "unknown command reboot", m["error"])

	require.NoError(t, c.Write(ctx, websocket.MessageText, []byte(`not json`)))
	assert.Equal(t, false, read(t, c)["ok"])

	assert.Equal(t, []string{"start", "reboot"}, got)
}

func TestSlowClientDropsInsteadOfBlocking(t *testing.T) {
	h := New(nil, nil)
	h.bufSize = 2
	c := h.register()

	for i := 0; i < 5; i++ {
		h.Broadcast([]byte("x"))
	}
	assert.Len(t, c.send, 2)
	assert.Equal(t, 3, c.dropped)
}
