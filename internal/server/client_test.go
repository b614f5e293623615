package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-chatrelay/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_queueMessage(t *testing.T) {
	t.Run("successful queue", func(t *testing.T) {
		c := &Client{
			send: make(chan *ServerMessage, 1),
			log:  testutil.TestLogger(t),
		}

		res := c.queueMessage(&ServerMessage{})
		assert.True(t, res, "expected queueMessage to return true when channel is not full")

		select {
		case msg := <-c.send:
			assert.NotNil(t, msg, "expected a message to be sent to the client")
		default:
			t.Error("expected a message to be sent to the client, but none was sent")
		}
	})
	t.Run("channel full", func(t *testing.T) {
		c := &Client{
			send: make(chan *ServerMessage, 1),
			log:  testutil.TestLogger(t),
		}

		c.send <- &ServerMessage{} // Pre-fill the send channel to simulate a full channel
		res := c.queueMessage(&ServerMessage{})
		assert.False(t, res, "expected queueMessage to return false when channel is full")
	})
}

func Test_serializeMessage(t *testing.T) {
	message := &ServerMessage{
		BaseMessage: BaseMessage{
			Timestamp: Now(),
		},
		Kicked: &Removal{Reason: "spam"},
	}

	expected := `{"timestamp":"` + message.Timestamp.Format(time.RFC3339Nano) +
		`","kicked":{"reason":"spam"}}`

	bytes, err := serializeMessage(message)
	assert.NoError(t, err, "expected no error during serialization")
	assert.Equal(t, expected, string(bytes), "expected serialized message to carry only the set event")
}

func Test_stopClient(t *testing.T) {
	c := &Client{
		stop: make(chan struct{}),
	}

	c.stopClient()
	assert.NotPanics(t, c.stopClient, "expected stopClient to be idempotent")

	select {
	case <-c.stop:
		// Channel is closed as expected
	default:
		t.Error("expected stop channel to be closed")
	}
}

func Test_clientState_String(t *testing.T) {
	assert.Equal(t, "connected", stateConnected.String())
	assert.Equal(t, "joined", stateJoined.String())
	assert.Equal(t, "disconnected", stateDisconnected.String())
	assert.Equal(t, "unknown", clientState(42).String())
}

func TestNewClient(t *testing.T) {
	cs := newTestChatServer(t, newTestStats())

	a, err := NewClient(nil, cs, cs.log)
	require.NoError(t, err)
	b, err := NewClient(nil, cs, cs.log)
	require.NoError(t, err)

	assert.NotEmpty(t, a.Id())
	assert.NotEqual(t, a.Id(), b.Id(), "expected unique connection ids")
	assert.Equal(t, sendBufferSize, cap(a.send))
	assert.Equal(t, stateConnected, a.state)
}

// startWsServer runs cs behind a websocket endpoint with a short grace delay.
func startWsServer(t *testing.T, cs *ChatServer) string {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		c, err := NewClient(conn, cs, cs.log)
		if err != nil {
			conn.Close()
			return
		}
		if err := cs.RegisterClient(c); err != nil {
			conn.Close()
			return
		}

		go c.Write()
		go c.Read()
	}))

	go cs.Run()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		cs.Shutdown(ctx)
		srv.Close()
	})

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msg any) {
	require.NoError(t, conn.WriteJSON(msg))
}

// readUntil reads frames until match returns true and returns the matching
// frame.
func readUntil(t *testing.T, conn *websocket.Conn, match func(*ServerMessage) bool) *ServerMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err, "expected a matching message before the connection ended")

		var msg ServerMessage
		require.NoError(t, json.Unmarshal(raw, &msg))
		if match(&msg) {
			return &msg
		}
	}
}

func isWelcome(m *ServerMessage) bool { return m.SystemMessage != nil }

func TestClient_KickOverWebsocket(t *testing.T) {
	cs := newTestChatServer(t, newTestStats(), "s1", "s2", "s3")
	cs.graceDelay = 50 * time.Millisecond
	cs.afterFunc = func(d time.Duration, f func()) { time.AfterFunc(d, f) }
	url := startWsServer(t, cs)

	admin := dial(t, url)
	send(t, admin, ClientMessage{Join: &Join{Username: "moderator", Room: "general", SessionId: "s1"}})
	readUntil(t, admin, isWelcome)

	bob := dial(t, url)
	send(t, bob, ClientMessage{Join: &Join{Username: "bob", Room: "general", SessionId: "s2"}})
	readUntil(t, bob, isWelcome)

	carol := dial(t, url)
	send(t, carol, ClientMessage{Join: &Join{Username: "carol", Room: "general", SessionId: "s3"}})
	readUntil(t, carol, isWelcome)

	send(t, admin, ClientMessage{AdminCommand: &AdminCommand{Command: "kick", Target: "bob", Reason: "flooding"}})

	kicked := readUntil(t, bob, func(m *ServerMessage) bool { return m.Kicked != nil })
	assert.Equal(t, "flooding", kicked.Kicked.Reason)

	bob.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := bob.ReadMessage(); err != nil {
			assert.False(t, websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure),
				"expected a normal close, got %v", err)
			break
		}
	}

	snapshot := readUntil(t, carol, func(m *ServerMessage) bool {
		return m.RoomUsers != nil && len(m.RoomUsers.Users) == 2
	})
	for _, u := range snapshot.RoomUsers.Users {
		assert.NotEqual(t, "bob", u.Username)
	}

	left := readUntil(t, admin, func(m *ServerMessage) bool { return m.UserLeft != nil })
	assert.Equal(t, "bob", left.UserLeft.Username)
}

func TestClient_VerificationRequiredOverWebsocket(t *testing.T) {
	cs := newTestChatServer(t, newTestStats())
	url := startWsServer(t, cs)

	conn := dial(t, url)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	send(t, conn, ClientMessage{Join: &Join{Username: "alice", Room: "general", SessionId: "nope"}})

	msg := readUntil(t, conn, func(m *ServerMessage) bool { return true })
	assert.NotNil(t, msg.VerificationRequired, "expected malformed frames to be skipped silently")
}

func TestClient_LongMessagesKeepConnectionOpen(t *testing.T) {
	cs := newTestChatServer(t, newTestStats(), "s1")
	url := startWsServer(t, cs)

	conn := dial(t, url)
	send(t, conn, ClientMessage{Join: &Join{Username: "alice", Room: "general", SessionId: "s1"}})
	readUntil(t, conn, isWelcome)

	send(t, conn, ClientMessage{SendMessage: &SendMessage{Message: strings.Repeat("a", 5000)}})
	tooLong := readUntil(t, conn, func(m *ServerMessage) bool { return m.MessageError != nil })
	assert.Equal(t, "Message must be between 1 and 500 characters", tooLong.MessageError.Message)

	send(t, conn, ClientMessage{SendMessage: &SendMessage{Message: "hello"}})
	hello := readUntil(t, conn, func(m *ServerMessage) bool { return m.ReceiveMessage != nil })
	assert.Equal(t, "hello", hello.ReceiveMessage.Message)

	// 500 characters, each escaped as a surrogate pair
	escaped := `{"send_message":{"message":"` + strings.Repeat(`\ud83d\ude00`, 500) + `"}}`
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(escaped)))
	emoji := readUntil(t, conn, func(m *ServerMessage) bool { return m.ReceiveMessage != nil })
	assert.Equal(t, strings.Repeat("\U0001F600", 500), emoji.ReceiveMessage.Message)
}
