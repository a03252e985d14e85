package ws

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHub() *Hub {
	return NewHub(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func receive(t *testing.T, conn *Connection) Message {
	t.Helper()
	select {
	case data := <-conn.Send:
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
	return Message{}
}

func TestBroadcastReachesEveryTab(t *testing.T) {
	h := newTestHub()
	tab1 := &Connection{ResponseID: "r1", UserID: "u1", Send: make(chan []byte, 4), Hub: h}
	tab2 := &Connection{ResponseID: "r1", UserID: "u1", Send: make(chan []byte, 4), Hub: h}
	other := &Connection{ResponseID: "r2", UserID: "u2", Send: make(chan []byte, 4), Hub: h}
	h.Register(tab1)
	h.Register(tab2)
	h.Register(other)

	h.BroadcastToResponse("r1", "draft_saved", map[string]int{"saved": 3})

	for _, c := range []*Connection{tab1, tab2} {
		msg := receive(t, c)
		assert.Equal(t, MessageType("draft_saved"), msg.Type)
		assert.JSONEq(t, `{"saved":3}`, string(msg.Payload))
	}
	select {
	case <-other.Send:
		t.Fatal("unrelated response received the event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestUnregisterClosesSend(t *testing.T) {
	h := newTestHub()
	conn := &Connection{ResponseID: "r1", Send: make(chan []byte, 1), Hub: h}
	h.Register(conn)
	assert.Eventually(t, func() bool { return h.Connections("r1") == 1 }, time.Second, 5*time.Millisecond)

	h.Unregister(conn)
	assert.Eventually(t, func() bool { return h.Connections("r1") == 0 }, time.Second, 5*time.Millisecond)
	_, open := <-conn.Send
	assert.False(t, open)
}
