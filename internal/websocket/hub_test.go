package websocket

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"covidseir/internal/infrastructure"
	"covidseir/internal/shared/testutil"
)

func startHub(t *testing.T) (*Hub, *testutil.CaptureHandler) {
	t.Helper()
	logger, capture := testutil.NewTestLogger(t)
	hub := NewHub(logger, nil)
	hub.Start()
	t.Cleanup(hub.Stop)
	return hub, capture
}

func receive(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case data, ok := <-c.send:
		require.True(t, ok, "send channel closed")
		var msg Message
		require.NoError(t, json.Unmarshal(data, &msg))
		return msg
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
		return Message{}
	}
}

func TestHub_RegisterUnregister(t *testing.T) {
	hub, capture := startHub(t)
	client := NewClient(hub, newMockConnection(), "trace-1", nil)

	hub.Register(client)
	msg := receive(t, client)
	assert.Equal(t, TypeConnection, msg.Type)
	assert.Equal(t, "trace-1", msg.TraceID)
	data := msg.Data.(map[string]interface{})
	assert.Equal(t, "connected", data["status"])
	assert.Equal(t, client.ID(), data["client_id"])
	assert.Equal(t, 1, hub.ClientCount())

	hub.Unregister(client)
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
	_, open := <-client.send
	assert.False(t, open, "send channel closed on unregister")
	assert.True(t, capture.ContainsMessage("client unregistered"))
}

func TestHub_Broadcast(t *testing.T) {
	hub, _ := startHub(t)

	clients := make([]*Client, 3)
	for i := range clients {
		clients[i] = NewClient(hub, newMockConnection(), "", nil)
		hub.Register(clients[i])
		receive(t, clients[i])
	}

	ctx := infrastructure.WithTraceID(context.Background(), "trace-42")
	hub.Broadcast(ctx, TypeJobProgress, map[string]interface{}{"job_id": "j1", "step": 10})

	for _, c := range clients {
		msg := receive(t, c)
		assert.Equal(t, TypeJobProgress, msg.Type)
		assert.Equal(t, "trace-42", msg.TraceID)
		assert.Equal(t, "j1", msg.Data.(map[string]interface{})["job_id"])
		assert.NotEmpty(t, msg.Timestamp)
	}
	require.Eventually(t, func() bool { return hub.Stats()["messages_sent"] == 3 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(3), hub.Stats()["total_connections"])
}

func TestHub_SlowClientDisconnected(t *testing.T) {
	hub, capture := startHub(t)

	slow := &Client{
		hub:         hub,
		conn:        newMockConnection(),
		send:        make(chan []byte),
		id:          "slow",
		connectedAt: time.Now(),
		logger:      infrastructure.GetLogger(),
	}
	hub.Register(slow)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.Broadcast(context.Background(), TypeJobComplete, "done")
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
	assert.True(t, capture.ContainsMessage("client send buffer full, disconnecting"))
}

func TestClient_Pumps(t *testing.T) {
	hub, _ := startHub(t)
	conn := newMockConnection()
	client := NewClient(hub, conn, "", nil)

	hub.Register(client)
	go client.WritePump()
	go client.ReadPump()

	hub.Broadcast(context.Background(), TypeJobComplete, map[string]string{"job_id": "j2"})
	require.Eventually(t, func() bool { return len(conn.messages()) >= 2 }, time.Second, 5*time.Millisecond)

	var first, second Message
	msgs := conn.messages()
	require.NoError(t, json.Unmarshal(msgs[0], &first))
	require.NoError(t, json.Unmarshal(msgs[1], &second))
	assert.Equal(t, TypeConnection, first.Type)
	assert.Equal(t, TypeJobComplete, second.Type)
	require.Eventually(t, func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		return conn.readLimit == maxMessageSize
	}, time.Second, 5*time.Millisecond)

	conn.push(`{"type":"heartbeat"}`)
	conn.Close()
	require.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
	assert.True(t, conn.isClosed())
}

func TestHub_StopIsIdempotent(t *testing.T) {
	logger, _ := testutil.NewTestLogger(t)
	hub := NewHub(logger, nil)
	hub.Start()
	hub.Start()

	client := NewClient(hub, newMockConnection(), "", nil)
	hub.Register(client)
	receive(t, client)

	hub.Stop()
	hub.Stop()
	assert.Equal(t, 0, hub.ClientCount())

	done := make(chan struct{})
	go func() {
		hub.Register(NewClient(hub, newMockConnection(), "", nil))
		hub.Broadcast(context.Background(), TypeJobFailed, nil)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("hub calls blocked after stop")
	}
}
