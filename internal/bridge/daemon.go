package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/actionplane/browserctl/internal/eventlog"
	"github.com/actionplane/browserctl/internal/transport"
)

// client is one connected socket, either the single registered
// extension or one of N CLI callers.
type client struct {
	id   string
	role Role
	ws   *transport.WS
}

type pendingEntry struct {
	originClientID string
	originCliID    uint64
}

// Daemon is the BridgeState singleton described in spec.md §3: it owns
// the client table, the pending bridge_id->cli_id map, and the
// monotonic bridge_id counter. Each connected client's read loop runs
// on its own goroutine and reads and mutates the maps under mu; the
// bridge_id counter is advanced atomically.
type Daemon struct {
	Port  int
	Token string // empty means no token enforcement

	// OnExtensionChange, if set, is called with true when the single
	// extension slot fills and false when it empties, for a control
	// surface to track connection flapping.
	OnExtensionChange func(online bool)

	// AllowCliRequest, if set, gates every forwarded CLI request by
	// client id; a false return short-circuits with a rate-limit error
	// instead of reaching the extension. Nil means no rate limiting.
	AllowCliRequest func(clientID string) bool

	upgrader websocket.Upgrader
	server   *http.Server
	listener net.Listener

	mu          sync.Mutex
	clients     map[string]*client
	extensionID string // empty when no extension registered
	pending     map[uint64]pendingEntry
	nextBridge  uint64

	shutdownOnce sync.Once
	done         chan struct{}
	ready        chan struct{}
	readyOnce    sync.Once
}

func New(port int, token string) *Daemon {
	return &Daemon{
		Port:     port,
		Token:    token,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		clients:  make(map[string]*client),
		pending:  make(map[uint64]pendingEntry),
		done:     make(chan struct{}),
		ready:    make(chan struct{}),
	}
}

// Ready closes once ListenAndServe has bound its listener and resolved
// the final port (relevant when the caller requested port 0).
func (d *Daemon) Ready() <-chan struct{} { return d.ready }

// ListenAndServe binds the WebSocket listener and blocks until Shutdown
// is called or the listener errors.
func (d *Daemon) ListenAndServe() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", d.handleConn)

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", d.Port))
	if err != nil {
		return err
	}
	d.listener = ln
	d.Port = ln.Addr().(*net.TCPAddr).Port
	d.server = &http.Server{Handler: mux}
	d.readyOnce.Do(func() { close(d.ready) })

	eventlog.BridgeEvent("started", "", map[string]interface{}{"port": d.Port})
	err = d.server.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown closes the listener and every connected client socket.
func (d *Daemon) Shutdown(ctx context.Context) {
	d.shutdownOnce.Do(func() {
		close(d.done)
		if d.server != nil {
			d.server.Shutdown(ctx)
		}
		d.mu.Lock()
		for _, c := range d.clients {
			c.ws.Close()
		}
		d.mu.Unlock()
		eventlog.BridgeEvent("stopped", "", nil)
	})
}

// Stats is a point-in-time snapshot of daemon occupancy, consumed by
// the control surface's /metrics endpoint.
type Stats struct {
	CliCount       int
	ExtensionOnline bool
	PendingBridges int
}

func (d *Daemon) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	cli := len(d.clients)
	if d.extensionID != "" {
		cli--
	}
	return Stats{
		CliCount:        cli,
		ExtensionOnline: d.extensionID != "",
		PendingBridges:  len(d.pending),
	}
}

func (d *Daemon) handleConn(w http.ResponseWriter, r *http.Request) {
	conn, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	ws := transport.NewWS(conn)
	c := &client{id: uuid.NewString(), ws: ws}

	ctx := r.Context()
	frame, err := ws.Recv(ctx)
	if err != nil {
		ws.Close()
		return
	}
	var hs Handshake
	if err := json.Unmarshal(frame, &hs); err != nil {
		ws.Close()
		return
	}

	switch hs.Type {
	case "shutdown":
		ws.Close()
		go d.Shutdown(context.Background())
		return
	case string(RoleExtension):
		if !d.registerExtension(c) {
			d.sendResponse(ws, &Response{Error: &ResponseError{Message: "extension already registered"}})
			ws.Close()
			return
		}
		defer d.unregisterExtension(c.id)
	case string(RoleCli):
		if d.Token != "" && hs.Token != d.Token {
			ws.Close()
			return
		}
		c.role = RoleCli
		d.registerCli(c)
		defer d.unregisterCli(c.id)
		// The handshake frame may also carry the CLI's first request.
		var first CliRequest
		if err := json.Unmarshal(frame, &first); err == nil && first.Method != "" {
			d.handleCliFrame(c, frame)
		}
	default:
		ws.Close()
		return
	}

	d.readLoop(ctx, c)
}

func (d *Daemon) registerExtension(c *client) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.extensionID != "" {
		return false
	}
	c.role = RoleExtension
	d.extensionID = c.id
	d.clients[c.id] = c
	eventlog.BridgeEvent("extension_connected", "", nil)
	if d.OnExtensionChange != nil {
		d.OnExtensionChange(true)
	}
	return true
}

func (d *Daemon) unregisterExtension(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.clients, id)
	if d.extensionID == id {
		d.extensionID = ""
	}
	eventlog.BridgeEvent("extension_disconnected", "", nil)
	if d.OnExtensionChange != nil {
		d.OnExtensionChange(false)
	}
}

func (d *Daemon) registerCli(c *client) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clients[c.id] = c
}

func (d *Daemon) unregisterCli(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.clients, id)
	for bridgeID, p := range d.pending {
		if p.originClientID == id {
			delete(d.pending, bridgeID)
		}
	}
}

func (d *Daemon) readLoop(ctx context.Context, c *client) {
	for {
		frame, err := c.ws.Recv(ctx)
		if err != nil {
			return
		}
		if c.role == RoleExtension {
			d.handleExtensionFrame(frame)
		} else {
			d.handleCliFrame(c, frame)
		}
	}
}

func (d *Daemon) handleCliFrame(c *client, frame []byte) {
	var req CliRequest
	if err := json.Unmarshal(frame, &req); err != nil {
		return
	}

	if d.AllowCliRequest != nil && !d.AllowCliRequest(c.id) {
		d.sendResponse(c.ws, &Response{ID: req.ID, Error: &ResponseError{Message: errRateLimited}})
		return
	}

	d.mu.Lock()
	extID := d.extensionID
	var ext *client
	if extID != "" {
		ext = d.clients[extID]
	}
	d.mu.Unlock()

	if ext == nil {
		d.sendResponse(c.ws, &Response{ID: req.ID, Error: &ResponseError{Message: errExtensionNotConnected}})
		return
	}

	bridgeID := atomic.AddUint64(&d.nextBridge, 1)

	d.mu.Lock()
	d.pending[bridgeID] = pendingEntry{originClientID: c.id, originCliID: req.ID}
	d.mu.Unlock()

	fwd := ForwardedRequest{ID: bridgeID, Method: req.Method, Params: req.Params}
	data, err := json.Marshal(fwd)
	if err != nil {
		return
	}
	if err := ext.ws.Send(data); err != nil {
		d.mu.Lock()
		delete(d.pending, bridgeID)
		d.mu.Unlock()
		d.sendResponse(c.ws, &Response{ID: req.ID, Error: &ResponseError{Message: "failed to forward to extension"}})
	}
}

func (d *Daemon) handleExtensionFrame(frame []byte) {
	var resp Response
	if err := json.Unmarshal(frame, &resp); err != nil {
		return
	}

	d.mu.Lock()
	entry, ok := d.pending[resp.ID]
	if ok {
		delete(d.pending, resp.ID)
	}
	var origin *client
	if ok {
		origin = d.clients[entry.originClientID]
	}
	d.mu.Unlock()

	if !ok {
		eventlog.BridgeEvent("unknown_bridge_id", "", map[string]interface{}{"id": resp.ID})
		return
	}
	if origin == nil {
		return // CLI disconnected before the response arrived
	}

	rewritten := Response{ID: entry.originCliID, Result: resp.Result, Error: resp.Error}
	d.sendResponse(origin.ws, &rewritten)
}

func (d *Daemon) sendResponse(ws *transport.WS, resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		return
	}
	_ = ws.Send(data)
}
