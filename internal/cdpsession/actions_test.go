package cdpsession

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/actionplane/browserctl/internal/berrors"
)

// fakeCDP is a minimal CDP endpoint: it accepts one connection and
// dispatches incoming rpcRequests to per-method responders registered
// by the test, mirroring the shape real Chrome responses take.
type fakeCDP struct {
	t        *testing.T
	upgrader websocket.Upgrader
	srv      *httptest.Server

	mu        sync.Mutex
	responder map[string]func(req rpcRequest) (json.RawMessage, *rpcError)
	conn      *websocket.Conn
}

func newFakeCDP(t *testing.T) *fakeCDP {
	t.Helper()
	f := &fakeCDP{
		t:         t,
		upgrader:  websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
		responder: make(map[string]func(req rpcRequest) (json.RawMessage, *rpcError)),
	}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeCDP) wsURL() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

// on registers a canned response for method, used for the next call to
// that method (and every subsequent one, if not overwritten).
func (f *fakeCDP) on(method string, result any) {
	b, err := json.Marshal(result)
	require.NoError(f.t, err)
	f.mu.Lock()
	f.responder[method] = func(rpcRequest) (json.RawMessage, *rpcError) { return b, nil }
	f.mu.Unlock()
}

func (f *fakeCDP) onError(method string, msg string) {
	f.mu.Lock()
	f.responder[method] = func(rpcRequest) (json.RawMessage, *rpcError) {
		return nil, &rpcError{Code: -32000, Message: msg}
	}
	f.mu.Unlock()
}

func (f *fakeCDP) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	f.mu.Lock()
	f.conn = conn
	f.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req rpcRequest
		if err := json.Unmarshal(data, &req); err != nil {
			continue
		}
		f.mu.Lock()
		h := f.responder[req.Method]
		f.mu.Unlock()

		resp := rpcResponse{ID: req.ID}
		if h != nil {
			result, rpcErr := h(req)
			resp.Result = result
			resp.Error = rpcErr
		} else {
			resp.Error = &rpcError{Code: -32601, Message: "no responder for " + req.Method}
		}
		out, _ := json.Marshal(resp)
		conn.WriteMessage(websocket.TextMessage, out)
	}
}

// emit pushes an unsolicited CDP event frame, e.g. Page.loadEventFired.
func (f *fakeCDP) emit(method string) {
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	if conn == nil {
		return
	}
	frame, _ := json.Marshal(rpcResponse{Method: method, Params: json.RawMessage("{}")})
	conn.WriteMessage(websocket.TextMessage, frame)
}

func connectFake(t *testing.T, f *fakeCDP) *Manager {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	mgr, err := Connect(ctx, "test-profile", f.wsURL())
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close(context.Background()) })
	return mgr
}

func TestOpenAttachesAndSetsActiveTarget(t *testing.T) {
	f := newFakeCDP(t)
	f.on("Target.createTarget", map[string]any{"targetId": "tgt-1"})
	f.on("Target.attachToTarget", map[string]any{"sessionId": "sess-1"})
	f.on("Page.enable", map[string]any{})
	f.on("Runtime.evaluate", map[string]any{"result": map[string]any{"type": "string", "value": "Example Domain"}})

	mgr := connectFake(t, f)
	result, err := mgr.Open(context.Background(), "https://example.com")
	require.NoError(t, err)
	require.Equal(t, "https://example.com", result.URL)
	require.Equal(t, "Example Domain", result.Title)

	mgr.mu.Lock()
	active := mgr.activeTarget
	mgr.mu.Unlock()
	require.Equal(t, "tgt-1", active)
}

func TestEvalReturnsExceptionAsError(t *testing.T) {
	f := newFakeCDP(t)
	f.on("Target.createTarget", map[string]any{"targetId": "tgt-1"})
	f.on("Target.attachToTarget", map[string]any{"sessionId": "sess-1"})
	f.on("Page.enable", map[string]any{})
	f.on("Runtime.evaluate", map[string]any{"result": map[string]any{}})

	mgr := connectFake(t, f)
	_, err := mgr.Open(context.Background(), "https://example.com")
	require.NoError(t, err)

	f.on("Runtime.evaluate", map[string]any{
		"exceptionDetails": map[string]any{"text": "ReferenceError: x is not defined"},
	})
	_, err = mgr.Eval(context.Background(), "", "x.y")
	require.Error(t, err)
	require.Contains(t, err.Error(), "ReferenceError")
}

func TestEvalIntoDistinguishesNullFromMissingElement(t *testing.T) {
	f := newFakeCDP(t)
	f.on("Target.createTarget", map[string]any{"targetId": "tgt-1"})
	f.on("Target.attachToTarget", map[string]any{"sessionId": "sess-1"})
	f.on("Page.enable", map[string]any{})
	f.on("Runtime.evaluate", map[string]any{"result": map[string]any{}})

	mgr := connectFake(t, f)
	_, err := mgr.Open(context.Background(), "https://example.com")
	require.NoError(t, err)

	// JS returned null: evalInto must report ok=false, not unmarshal error.
	f.on("Runtime.evaluate", map[string]any{"result": map[string]any{"type": "object", "value": nil}})
	var box struct {
		X float64 `json:"x"`
	}
	ok, err := mgr.evalInto(context.Background(), "sess-1", "expr", &box)
	require.NoError(t, err)
	require.False(t, ok)

	// JS returned a real object: evalInto must decode it and report ok=true.
	f.on("Runtime.evaluate", map[string]any{"result": map[string]any{"type": "object", "value": map[string]any{"x": 12.5}}})
	ok, err = mgr.evalInto(context.Background(), "sess-1", "expr", &box)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 12.5, box.X)
}

func TestClickDispatchesMoveDownUpAtElementCenter(t *testing.T) {
	f := newFakeCDP(t)
	f.on("Target.createTarget", map[string]any{"targetId": "tgt-1"})
	f.on("Target.attachToTarget", map[string]any{"sessionId": "sess-1"})
	f.on("Page.enable", map[string]any{})
	f.on("Runtime.evaluate", map[string]any{"result": map[string]any{}})

	mgr := connectFake(t, f)
	_, err := mgr.Open(context.Background(), "https://example.com")
	require.NoError(t, err)

	f.on("Runtime.evaluate", map[string]any{"result": map[string]any{"type": "object", "value": map[string]any{"x": 10, "y": 20}}})

	var mouseEvents []string
	var mu sync.Mutex
	f.mu.Lock()
	f.responder["Input.dispatchMouseEvent"] = func(req rpcRequest) (json.RawMessage, *rpcError) {
		var p map[string]any
		json.Unmarshal(req.Params, &p)
		mu.Lock()
		mouseEvents = append(mouseEvents, fmt.Sprintf("%v", p["type"]))
		mu.Unlock()
		return json.RawMessage(`{}`), nil
	}
	f.mu.Unlock()

	err = mgr.Click(context.Background(), "", "#submit")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"mouseMoved", "mousePressed", "mouseReleased"}, mouseEvents)
}

func TestClickMissingElementReturnsElementNotFound(t *testing.T) {
	f := newFakeCDP(t)
	f.on("Target.createTarget", map[string]any{"targetId": "tgt-1"})
	f.on("Target.attachToTarget", map[string]any{"sessionId": "sess-1"})
	f.on("Page.enable", map[string]any{})
	f.on("Runtime.evaluate", map[string]any{"result": map[string]any{}})

	mgr := connectFake(t, f)
	_, err := mgr.Open(context.Background(), "https://example.com")
	require.NoError(t, err)

	f.on("Runtime.evaluate", map[string]any{"result": map[string]any{"type": "object", "value": nil}})
	err = mgr.Click(context.Background(), "", "#missing")
	require.Error(t, err)
	require.True(t, berrors.Is(err, berrors.ElementNotFound))
}

func TestGotoWaitsForLoadEventThenReturns(t *testing.T) {
	f := newFakeCDP(t)
	f.on("Target.createTarget", map[string]any{"targetId": "tgt-1"})
	f.on("Target.attachToTarget", map[string]any{"sessionId": "sess-1"})
	f.on("Page.enable", map[string]any{})
	f.on("Runtime.evaluate", map[string]any{"result": map[string]any{}})

	mgr := connectFake(t, f)
	_, err := mgr.Open(context.Background(), "https://example.com")
	require.NoError(t, err)

	f.on("Page.navigate", map[string]any{"frameId": "frame-1"})

	done := make(chan error, 1)
	go func() { done <- mgr.Goto(context.Background(), "tgt-1", "https://example.com/next", 2000) }()

	time.Sleep(100 * time.Millisecond)
	f.emit("Page.loadEventFired")

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Goto did not return after loadEventFired")
	}
}

func TestGotoTimesOutWithoutLoadEvent(t *testing.T) {
	f := newFakeCDP(t)
	f.on("Target.createTarget", map[string]any{"targetId": "tgt-1"})
	f.on("Target.attachToTarget", map[string]any{"sessionId": "sess-1"})
	f.on("Page.enable", map[string]any{})
	f.on("Runtime.evaluate", map[string]any{"result": map[string]any{}})

	mgr := connectFake(t, f)
	_, err := mgr.Open(context.Background(), "https://example.com")
	require.NoError(t, err)

	f.on("Page.navigate", map[string]any{"frameId": "frame-1"})

	err = mgr.Goto(context.Background(), "tgt-1", "https://example.com/next", 200)
	require.Error(t, err)
	require.True(t, berrors.Is(err, berrors.Timeout))
}

func TestGotoPropagatesNavigateErrorText(t *testing.T) {
	f := newFakeCDP(t)
	f.on("Target.createTarget", map[string]any{"targetId": "tgt-1"})
	f.on("Target.attachToTarget", map[string]any{"sessionId": "sess-1"})
	f.on("Page.enable", map[string]any{})
	f.on("Runtime.evaluate", map[string]any{"result": map[string]any{}})

	mgr := connectFake(t, f)
	_, err := mgr.Open(context.Background(), "https://example.com")
	require.NoError(t, err)

	f.on("Page.navigate", map[string]any{"errorText": "net::ERR_NAME_NOT_RESOLVED"})
	err = mgr.Goto(context.Background(), "tgt-1", "https://bad.invalid", 2000)
	require.Error(t, err)
	require.Contains(t, err.Error(), "ERR_NAME_NOT_RESOLVED")
}

func TestResolveTargetErrorsWhenNoActivePage(t *testing.T) {
	f := newFakeCDP(t)
	mgr := connectFake(t, f)

	err := mgr.Reload(context.Background(), "")
	require.Error(t, err)
}

func TestSwitchAttachesUnknownTargetThenSetsActive(t *testing.T) {
	f := newFakeCDP(t)
	f.on("Target.attachToTarget", map[string]any{"sessionId": "sess-2"})

	mgr := connectFake(t, f)
	err := mgr.Switch(context.Background(), "tgt-2")
	require.NoError(t, err)

	mgr.mu.Lock()
	active := mgr.activeTarget
	_, known := mgr.targets["tgt-2"]
	mgr.mu.Unlock()
	require.Equal(t, "tgt-2", active)
	require.True(t, known)
}

func TestBackUsesNavigationHistoryEntry(t *testing.T) {
	f := newFakeCDP(t)
	f.on("Target.createTarget", map[string]any{"targetId": "tgt-1"})
	f.on("Target.attachToTarget", map[string]any{"sessionId": "sess-1"})
	f.on("Page.enable", map[string]any{})
	f.on("Runtime.evaluate", map[string]any{"result": map[string]any{}})

	mgr := connectFake(t, f)
	_, err := mgr.Open(context.Background(), "https://example.com")
	require.NoError(t, err)

	f.on("Page.getNavigationHistory", map[string]any{
		"currentIndex": 1,
		"entries": []map[string]any{
			{"id": 10, "url": "https://example.com/a"},
			{"id": 20, "url": "https://example.com/b"},
		},
	})

	var navigatedTo int64
	f.mu.Lock()
	f.responder["Page.navigateToHistoryEntry"] = func(req rpcRequest) (json.RawMessage, *rpcError) {
		var p struct {
			EntryID int64 `json:"entryId"`
		}
		json.Unmarshal(req.Params, &p)
		navigatedTo = p.EntryID
		return json.RawMessage(`{}`), nil
	}
	f.mu.Unlock()

	require.NoError(t, mgr.Back(context.Background(), "tgt-1"))
	require.Equal(t, int64(10), navigatedTo)
}

func TestBackErrorsAtStartOfHistory(t *testing.T) {
	f := newFakeCDP(t)
	f.on("Target.createTarget", map[string]any{"targetId": "tgt-1"})
	f.on("Target.attachToTarget", map[string]any{"sessionId": "sess-1"})
	f.on("Page.enable", map[string]any{})
	f.on("Runtime.evaluate", map[string]any{"result": map[string]any{}})

	mgr := connectFake(t, f)
	_, err := mgr.Open(context.Background(), "https://example.com")
	require.NoError(t, err)

	f.on("Page.getNavigationHistory", map[string]any{
		"currentIndex": 0,
		"entries":      []map[string]any{{"id": 10, "url": "https://example.com/a"}},
	})
	err = mgr.Back(context.Background(), "tgt-1")
	require.Error(t, err)
}

func TestGetCookiesDecodesFields(t *testing.T) {
	f := newFakeCDP(t)
	f.on("Target.createTarget", map[string]any{"targetId": "tgt-1"})
	f.on("Target.attachToTarget", map[string]any{"sessionId": "sess-1"})
	f.on("Page.enable", map[string]any{})
	f.on("Runtime.evaluate", map[string]any{"result": map[string]any{}})

	mgr := connectFake(t, f)
	_, err := mgr.Open(context.Background(), "https://example.com")
	require.NoError(t, err)

	f.on("Network.getCookies", map[string]any{
		"cookies": []map[string]any{
			{"name": "sid", "value": "abc", "domain": "example.com", "path": "/", "httpOnly": true, "secure": true},
		},
	})
	cookies, err := mgr.GetCookies(context.Background(), "tgt-1")
	require.NoError(t, err)
	require.Len(t, cookies, 1)
	require.Equal(t, "sid", cookies[0].Name)
	require.True(t, cookies[0].HTTPOnly)
}

func TestClearCookiesDeletesEachReturnedCookie(t *testing.T) {
	f := newFakeCDP(t)
	f.on("Target.createTarget", map[string]any{"targetId": "tgt-1"})
	f.on("Target.attachToTarget", map[string]any{"sessionId": "sess-1"})
	f.on("Page.enable", map[string]any{})
	f.on("Runtime.evaluate", map[string]any{"result": map[string]any{}})

	mgr := connectFake(t, f)
	_, err := mgr.Open(context.Background(), "https://example.com")
	require.NoError(t, err)

	f.on("Network.getCookies", map[string]any{
		"cookies": []map[string]any{
			{"name": "a", "value": "1", "domain": "example.com", "path": "/"},
			{"name": "b", "value": "2", "domain": "example.com", "path": "/"},
		},
	})
	var deleted []string
	var mu sync.Mutex
	f.mu.Lock()
	f.responder["Network.deleteCookies"] = func(req rpcRequest) (json.RawMessage, *rpcError) {
		var p struct {
			Name string `json:"name"`
		}
		json.Unmarshal(req.Params, &p)
		mu.Lock()
		deleted = append(deleted, p.Name)
		mu.Unlock()
		return json.RawMessage(`{}`), nil
	}
	f.mu.Unlock()

	require.NoError(t, mgr.ClearCookies(context.Background(), "tgt-1"))
	mu.Lock()
	defer mu.Unlock()
	require.ElementsMatch(t, []string{"a", "b"}, deleted)
}

func TestViewportErrorsWithoutLayoutViewport(t *testing.T) {
	f := newFakeCDP(t)
	f.on("Target.createTarget", map[string]any{"targetId": "tgt-1"})
	f.on("Target.attachToTarget", map[string]any{"sessionId": "sess-1"})
	f.on("Page.enable", map[string]any{})
	f.on("Runtime.evaluate", map[string]any{"result": map[string]any{}})

	mgr := connectFake(t, f)
	_, err := mgr.Open(context.Background(), "https://example.com")
	require.NoError(t, err)

	f.on("Page.getLayoutMetrics", map[string]any{})
	_, err = mgr.Viewport(context.Background(), "tgt-1")
	require.Error(t, err)
}

func TestViewportDecodesClientDimensions(t *testing.T) {
	f := newFakeCDP(t)
	f.on("Target.createTarget", map[string]any{"targetId": "tgt-1"})
	f.on("Target.attachToTarget", map[string]any{"sessionId": "sess-1"})
	f.on("Page.enable", map[string]any{})
	f.on("Runtime.evaluate", map[string]any{"result": map[string]any{}})

	mgr := connectFake(t, f)
	_, err := mgr.Open(context.Background(), "https://example.com")
	require.NoError(t, err)

	f.on("Page.getLayoutMetrics", map[string]any{
		"cssLayoutViewport": map[string]any{"clientWidth": 1280, "clientHeight": 720},
		"layoutViewport":    map[string]any{"clientWidth": 1280, "clientHeight": 720},
	})
	vp, err := mgr.Viewport(context.Background(), "tgt-1")
	require.NoError(t, err)
	require.Equal(t, 1280, vp.Width)
	require.Equal(t, 720, vp.Height)
}
