// Package dashboard is the optional, read-only status surface of spec
// section 4.7: a second listener, independent of the Paxos TCP port,
// that pushes decided-slot and peer-liveness snapshots to connected
// WebSocket clients. It never touches Paxos state directly and never
// locks the state machine's mutex — callers hand it a Snapshot copy
// over Publish, built from the node's own public, independently
// locked accessors.
//
// Adapted from the teacher corpus's websocket.Server: the upgrade,
// client registry, and broadcast-loop shape are kept, narrowed from a
// bidirectional echo/chat server to a one-way push of a single
// evolving snapshot, and the bare net/http.ListenAndServe is replaced
// with an explicit net.Listener wrapped in golang.org/x/net/netutil's
// connection cap.
package dashboard

import (
	"encoding/json"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/net/netutil"
)

// maxConns bounds concurrent dashboard connections so a leaked
// browser tab cannot exhaust file descriptors on an otherwise
// long-running node.
const maxConns = 32

// Snapshot is the read-only view pushed to every connected client.
type Snapshot struct {
	Decided  map[int64]string `json:"decided"`
	Peers    map[int]int64    `json:"peers"` // num -> last seen, unix millis
	Leader   int              `json:"leader"`
	HasLeader bool            `json:"hasLeader"`
}

// Dashboard owns the second listener and the set of connected
// WebSocket clients.
type Dashboard struct {
	addr     string
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]bool

	publish  chan Snapshot
	quit     chan struct{}
	wg       sync.WaitGroup
	listener net.Listener
}

// New constructs a Dashboard bound to addr. It does not start
// listening until Start is called.
func New(addr string) *Dashboard {
	return &Dashboard{
		addr: addr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]bool),
		publish: make(chan Snapshot, 1),
	}
}

// Start opens the listening socket, wrapped in a connection limiter,
// and begins serving GET / and GET /ws.
func (d *Dashboard) Start() error {
	ln, err := net.Listen("tcp", d.addr)
	if err != nil {
		return err
	}
	d.listener = netutil.LimitListener(ln, maxConns)
	d.quit = make(chan struct{})

	mux := http.NewServeMux()
	mux.HandleFunc("/", d.handleHome)
	mux.HandleFunc("/ws", d.handleWebSocket)

	srv := &http.Server{Handler: mux}

	d.wg.Add(2)
	go func() {
		defer d.wg.Done()
		if err := srv.Serve(d.listener); err != nil && err != http.ErrServerClosed {
			log.Printf("[dashboard] serve: %v", err)
		}
	}()
	go d.publishLoop()

	log.Printf("[dashboard] listening on %s", d.addr)
	return nil
}

// Stop closes the listener and drops every connected client.
func (d *Dashboard) Stop() {
	if d.listener != nil {
		d.listener.Close()
	}
	if d.quit != nil {
		close(d.quit)
	}
	d.wg.Wait()

	d.mu.Lock()
	for c := range d.clients {
		c.Close()
	}
	d.clients = make(map[*websocket.Conn]bool)
	d.mu.Unlock()
}

// Publish hands a fresh snapshot to the broadcast loop. It never
// blocks: if the single-slot buffer is full, the stale snapshot is
// dropped in favor of the new one, since only the latest state
// matters to an observer.
func (d *Dashboard) Publish(snap Snapshot) {
	select {
	case d.publish <- snap:
	default:
		select {
		case <-d.publish:
		default:
		}
		select {
		case d.publish <- snap:
		default:
		}
	}
}

func (d *Dashboard) publishLoop() {
	defer d.wg.Done()
	for {
		select {
		case <-d.quit:
			return
		case snap := <-d.publish:
			d.broadcast(snap)
		}
	}
}

func (d *Dashboard) broadcast(snap Snapshot) {
	body, err := json.Marshal(snap)
	if err != nil {
		log.Printf("[dashboard] encode snapshot: %v", err)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for c := range d.clients {
		c.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := c.WriteMessage(websocket.TextMessage, body); err != nil {
			log.Printf("[dashboard] write fault, dropping client: %v", err)
			c.Close()
			delete(d.clients, c)
		}
	}
}

func (d *Dashboard) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[dashboard] upgrade failed: %v", err)
		return
	}

	d.mu.Lock()
	d.clients[conn] = true
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		delete(d.clients, conn)
		d.mu.Unlock()
		conn.Close()
	}()

	// Clients never send anything meaningful; this loop only exists to
	// notice when one disconnects.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (d *Dashboard) handleHome(w http.ResponseWriter, r *http.Request) {
	const page = `<!DOCTYPE html>
<html>
<head><title>quorumnode status</title></head>
<body>
<h1>quorumnode status</h1>
<pre id="status">connecting...</pre>
<script>
  const ws = new WebSocket('ws://' + window.location.host + '/ws');
  ws.onmessage = function(event) {
    document.getElementById('status').textContent =
      JSON.stringify(JSON.parse(event.data), null, 2);
  };
  ws.onclose = function() {
    document.getElementById('status').textContent = 'disconnected';
  };
</script>
</body>
</html>`
	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte(page))
}
