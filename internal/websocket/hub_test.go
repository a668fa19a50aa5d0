package websocket

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newHubServer registers every upgraded connection with hub under the user
// named by ?user=, and reports each Register result on registered.
func newHubServer(t *testing.T, hub *Hub) (string, <-chan *Client) {
	t.Helper()

	registered := make(chan *Client, 8)
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		registered <- hub.Register(r.URL.Query().Get("user"), conn)
	}))
	t.Cleanup(server.Close)

	return "ws" + server.URL[4:], registered
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestHubSendReachesEveryConnectionOfUser(t *testing.T) {
	hub := NewHub(10)
	url, registered := newHubServer(t, hub)

	first := dial(t, url+"?user=u1")
	second := dial(t, url+"?user=u1")
	other := dial(t, url+"?user=u2")
	for range 3 {
		require.NotNil(t, <-registered)
	}
	assert.Equal(t, 2, hub.ActiveConnections("u1"))
	assert.Equal(t, 1, hub.ActiveConnections("u2"))

	hub.Send("u1", []byte(`{"type":"message.received"}`))

	for _, conn := range []*websocket.Conn{first, second} {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.JSONEq(t, `{"type":"message.received"}`, string(msg))
	}

	require.NoError(t, other.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err := other.ReadMessage()
	assert.Error(t, err, "u2 must not receive u1's events")
}

func TestHubSendWithoutConnectionsIsNoop(t *testing.T) {
	hub := NewHub(10)
	hub.Send("nobody", []byte("x"))
	assert.Equal(t, 0, hub.ActiveConnections("nobody"))
}

func TestHubEnforcesPerUserLimit(t *testing.T) {
	hub := NewHub(1)
	url, registered := newHubServer(t, hub)

	dial(t, url+"?user=u1")
	require.NotNil(t, <-registered)

	rejected := dial(t, url+"?user=u1")
	assert.Nil(t, <-registered)
	assert.Equal(t, 1, hub.ActiveConnections("u1"))

	require.NoError(t, rejected.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := rejected.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
}

func TestHubUnregister(t *testing.T) {
	hub := NewHub(10)
	url, registered := newHubServer(t, hub)

	dial(t, url+"?user=u1")
	client := <-registered
	require.NotNil(t, client)

	hub.Unregister("u1", client)
	assert.Equal(t, 0, hub.ActiveConnections("u1"))

	hub.Unregister("u1", nil)
	hub.Unregister("u1", client)
	assert.Equal(t, 0, hub.ActiveConnections("u1"))
}
