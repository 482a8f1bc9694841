package dashboard

import (
	"net"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func pickAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().String()
}

func TestPublishReachesConnectedClient(t *testing.T) {
	addr := pickAddr(t)
	d := New(addr)
	require.NoError(t, d.Start())
	defer d.Stop()

	time.Sleep(20 * time.Millisecond)
	u := url.URL{Scheme: "ws", Host: addr, Path: "/ws"}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	require.NoError(t, err)
	defer conn.Close()

	d.Publish(Snapshot{Decided: map[int64]string{0: "A"}, Leader: 1, HasLeader: true})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Contains(t, string(msg), `"A"`)
}

func TestPublishNeverBlocksWithoutClients(t *testing.T) {
	addr := pickAddr(t)
	d := New(addr)
	require.NoError(t, d.Start())
	defer d.Stop()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			d.Publish(Snapshot{Decided: map[int64]string{int64(i): "x"}})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked with no connected clients")
	}
}
