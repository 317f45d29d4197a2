// Package extbackend implements the Extension Backend (C6): a
// BrowserBackend that speaks the bridge daemon's CLI-side JSON-RPC
// protocol over WebSocket, so actions are actually carried out by the
// browser extension on the other end of the bridge.
package extbackend

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/actionplane/browserctl/internal/backend"
	"github.com/actionplane/browserctl/internal/berrors"
	"github.com/actionplane/browserctl/internal/bridge"
	"github.com/actionplane/browserctl/internal/transport"
	"github.com/actionplane/browserctl/internal/urlnorm"
)

// Backend dials the bridge daemon as a CLI client and issues
// Extension.<Verb> calls, each keyed by a private monotonic id.
type Backend struct {
	ws     *transport.WS
	nextID uint64

	mu        sync.Mutex
	pending   map[uint64]chan bridge.Response
	activeTab string
}

// Connect performs the CLI handshake against the bridge daemon at
// 127.0.0.1:port, presenting token if the daemon requires one.
func Connect(ctx context.Context, port int, token string) (*Backend, error) {
	url := fmt.Sprintf("ws://127.0.0.1:%d", port)
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, berrors.Wrap(berrors.BridgeUnreachable, url, err)
	}

	b := &Backend{
		ws:      transport.NewWS(conn),
		pending: make(map[uint64]chan bridge.Response),
	}

	hs := bridge.Handshake{Type: string(bridge.RoleCli), Token: token}
	data, err := json.Marshal(hs)
	if err != nil {
		conn.Close()
		return nil, berrors.Wrap(berrors.Parse, "marshal handshake", err)
	}
	if err := b.ws.Send(data); err != nil {
		conn.Close()
		return nil, berrors.Wrap(berrors.BridgeUnreachable, "send handshake", err)
	}

	go b.readLoop()
	return b, nil
}

func (b *Backend) readLoop() {
	ctx := context.Background()
	for {
		data, err := b.ws.Recv(ctx)
		if err != nil {
			b.mu.Lock()
			for id, ch := range b.pending {
				close(ch)
				delete(b.pending, id)
			}
			b.mu.Unlock()
			return
		}
		var resp bridge.Response
		if err := json.Unmarshal(data, &resp); err != nil {
			continue
		}
		b.mu.Lock()
		ch, ok := b.pending[resp.ID]
		if ok {
			delete(b.pending, resp.ID)
		}
		b.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

// call invokes an Extension.<verb> method and decodes the result.
func (b *Backend) call(ctx context.Context, method string, params any, out any) error {
	id := atomic.AddUint64(&b.nextID, 1)

	var raw json.RawMessage
	if params != nil {
		p, err := json.Marshal(params)
		if err != nil {
			return berrors.Wrap(berrors.Parse, "marshal params", err)
		}
		raw = p
	}

	req := bridge.CliRequest{ID: id, Method: method, Params: raw}
	data, err := json.Marshal(req)
	if err != nil {
		return berrors.Wrap(berrors.Parse, "marshal request", err)
	}

	ch := make(chan bridge.Response, 1)
	b.mu.Lock()
	b.pending[id] = ch
	b.mu.Unlock()

	if err := b.ws.Send(data); err != nil {
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
		return berrors.Wrap(berrors.BridgeUnreachable, method, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return berrors.New(berrors.BridgeUnreachable, "bridge connection closed")
		}
		if resp.Error != nil {
			if resp.Error.Message == "extension not connected" {
				return berrors.New(berrors.ExtensionNotConnected, method)
			}
			return berrors.New(berrors.BrowserOperation, resp.Error.Message)
		}
		if out != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, out); err != nil {
				return berrors.Wrap(berrors.Parse, "unmarshal result", err)
			}
		}
		return nil
	case <-ctx.Done():
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
		return berrors.NewTimeout(method, 0)
	}
}

func tabPageID(tabID int) string { return fmt.Sprintf("tab:%d", tabID) }

// resolvePageID defaults to the active tab when pageID is empty,
// mirroring the CDP manager's per-profile default target.
func (b *Backend) resolvePageID(pageID string) string {
	if pageID != "" {
		return pageID
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.activeTab
}

func (b *Backend) setActive(pageID string) {
	b.mu.Lock()
	b.activeTab = pageID
	b.mu.Unlock()
}

func (b *Backend) Close(ctx context.Context) error {
	return b.ws.Close()
}

func (b *Backend) Open(ctx context.Context, rawURL string) (backend.OpenResult, error) {
	navURL, err := urlnorm.Normalize(rawURL)
	if err != nil {
		return backend.OpenResult{}, err
	}
	var ret struct {
		TabID int    `json:"tabId"`
		Title string `json:"title"`
		URL   string `json:"url"`
	}
	if err := b.call(ctx, "Extension.open", map[string]string{"url": navURL}, &ret); err != nil {
		return backend.OpenResult{}, err
	}
	b.setActive(tabPageID(ret.TabID))
	return backend.OpenResult{Title: ret.Title, URL: ret.URL}, nil
}

func (b *Backend) Restart(ctx context.Context) error {
	return b.call(ctx, "Extension.restart", nil, nil)
}

func (b *Backend) Goto(ctx context.Context, pageID, rawURL string, timeoutMs int64) error {
	navURL, err := urlnorm.Normalize(rawURL)
	if err != nil {
		return err
	}
	pageID = b.resolvePageID(pageID)
	return b.call(ctx, "Extension.goto", map[string]any{"pageId": pageID, "url": navURL, "timeoutMs": timeoutMs}, nil)
}

func (b *Backend) Back(ctx context.Context, pageID string) error {
	pageID = b.resolvePageID(pageID)
	return b.call(ctx, "Extension.back", map[string]string{"pageId": pageID}, nil)
}

func (b *Backend) Forward(ctx context.Context, pageID string) error {
	pageID = b.resolvePageID(pageID)
	return b.call(ctx, "Extension.forward", map[string]string{"pageId": pageID}, nil)
}

func (b *Backend) Reload(ctx context.Context, pageID string) error {
	pageID = b.resolvePageID(pageID)
	return b.call(ctx, "Extension.reload", map[string]string{"pageId": pageID}, nil)
}

func (b *Backend) Pages(ctx context.Context) ([]backend.PageEntry, error) {
	var ret []struct {
		TabID int    `json:"tabId"`
		Title string `json:"title"`
		URL   string `json:"url"`
	}
	if err := b.call(ctx, "Extension.pages", nil, &ret); err != nil {
		return nil, err
	}
	pages := make([]backend.PageEntry, 0, len(ret))
	for _, p := range ret {
		pages = append(pages, backend.PageEntry{ID: tabPageID(p.TabID), Title: p.Title, URL: p.URL})
	}
	return pages, nil
}

func (b *Backend) Switch(ctx context.Context, pageID string) error {
	if err := b.call(ctx, "Extension.switch", map[string]string{"pageId": pageID}, nil); err != nil {
		return err
	}
	b.setActive(pageID)
	return nil
}

func (b *Backend) WaitFor(ctx context.Context, pageID, selector string, timeoutMs int64) error {
	pageID = b.resolvePageID(pageID)
	return b.call(ctx, "Extension.waitFor", map[string]any{"pageId": pageID, "selector": selector, "timeoutMs": timeoutMs}, nil)
}

func (b *Backend) WaitNav(ctx context.Context, pageID string, timeoutMs int64) error {
	pageID = b.resolvePageID(pageID)
	return b.call(ctx, "Extension.waitNav", map[string]any{"pageId": pageID, "timeoutMs": timeoutMs}, nil)
}

func (b *Backend) Click(ctx context.Context, pageID, selector string) error {
	pageID = b.resolvePageID(pageID)
	return b.call(ctx, "Extension.click", map[string]string{"pageId": pageID, "selector": selector}, nil)
}

func (b *Backend) Hover(ctx context.Context, pageID, selector string) error {
	pageID = b.resolvePageID(pageID)
	return b.call(ctx, "Extension.hover", map[string]string{"pageId": pageID, "selector": selector}, nil)
}

func (b *Backend) Focus(ctx context.Context, pageID, selector string) error {
	pageID = b.resolvePageID(pageID)
	return b.call(ctx, "Extension.focus", map[string]string{"pageId": pageID, "selector": selector}, nil)
}

func (b *Backend) TypeText(ctx context.Context, pageID, selector, text string) error {
	pageID = b.resolvePageID(pageID)
	return b.call(ctx, "Extension.typeText", map[string]string{"pageId": pageID, "selector": selector, "text": text}, nil)
}

func (b *Backend) Fill(ctx context.Context, pageID, selector, value string) error {
	pageID = b.resolvePageID(pageID)
	return b.call(ctx, "Extension.fill", map[string]string{"pageId": pageID, "selector": selector, "value": value}, nil)
}

func (b *Backend) Select(ctx context.Context, pageID, selector, value string) error {
	pageID = b.resolvePageID(pageID)
	return b.call(ctx, "Extension.select", map[string]string{"pageId": pageID, "selector": selector, "value": value}, nil)
}

func (b *Backend) Press(ctx context.Context, pageID, selector, key string) error {
	pageID = b.resolvePageID(pageID)
	return b.call(ctx, "Extension.press", map[string]string{"pageId": pageID, "selector": selector, "key": key}, nil)
}

func (b *Backend) Screenshot(ctx context.Context, pageID string, fullPage bool) ([]byte, error) {
	pageID = b.resolvePageID(pageID)
	var ret struct {
		DataBase64 []byte `json:"data"`
	}
	if err := b.call(ctx, "Extension.screenshot", map[string]any{"pageId": pageID, "fullPage": fullPage}, &ret); err != nil {
		return nil, err
	}
	return ret.DataBase64, nil
}

func (b *Backend) PDF(ctx context.Context, pageID string) ([]byte, error) {
	return nil, berrors.NewUnsupported("pdf", "extension")
}

func (b *Backend) Eval(ctx context.Context, pageID, expression string) (any, error) {
	pageID = b.resolvePageID(pageID)
	var ret struct {
		Value any `json:"value"`
	}
	if err := b.call(ctx, "Extension.eval", map[string]string{"pageId": pageID, "expression": expression}, &ret); err != nil {
		return nil, err
	}
	return ret.Value, nil
}

func (b *Backend) HTML(ctx context.Context, pageID, selector string) (string, error) {
	pageID = b.resolvePageID(pageID)
	var ret struct {
		HTML string `json:"html"`
	}
	if err := b.call(ctx, "Extension.html", map[string]string{"pageId": pageID, "selector": selector}, &ret); err != nil {
		return "", err
	}
	return ret.HTML, nil
}

func (b *Backend) Text(ctx context.Context, pageID, selector string) (string, error) {
	pageID = b.resolvePageID(pageID)
	var ret struct {
		Text string `json:"text"`
	}
	if err := b.call(ctx, "Extension.text", map[string]string{"pageId": pageID, "selector": selector}, &ret); err != nil {
		return "", err
	}
	return ret.Text, nil
}

func (b *Backend) Snapshot(ctx context.Context, pageID string) (backend.Snapshot, error) {
	pageID = b.resolvePageID(pageID)
	var ret backend.Snapshot
	if err := b.call(ctx, "Extension.snapshot", map[string]string{"pageId": pageID}, &ret); err != nil {
		return backend.Snapshot{}, err
	}
	return ret, nil
}

func (b *Backend) Inspect(ctx context.Context, pageID string, x, y int) (backend.InspectResult, error) {
	pageID = b.resolvePageID(pageID)
	var ret backend.InspectResult
	if err := b.call(ctx, "Extension.inspect", map[string]any{"pageId": pageID, "x": x, "y": y}, &ret); err != nil {
		return backend.InspectResult{}, err
	}
	return ret, nil
}

func (b *Backend) Viewport(ctx context.Context, pageID string) (backend.Viewport, error) {
	pageID = b.resolvePageID(pageID)
	var ret backend.Viewport
	if err := b.call(ctx, "Extension.viewport", map[string]string{"pageId": pageID}, &ret); err != nil {
		return backend.Viewport{}, err
	}
	return ret, nil
}

func (b *Backend) GetCookies(ctx context.Context, pageID string) ([]backend.Cookie, error) {
	pageID = b.resolvePageID(pageID)
	var ret []backend.Cookie
	if err := b.call(ctx, "Extension.getCookies", map[string]string{"pageId": pageID}, &ret); err != nil {
		return nil, err
	}
	return ret, nil
}

func (b *Backend) SetCookie(ctx context.Context, pageID string, cookie backend.Cookie) error {
	pageID = b.resolvePageID(pageID)
	return b.call(ctx, "Extension.setCookie", map[string]any{"pageId": pageID, "cookie": cookie}, nil)
}

func (b *Backend) DeleteCookie(ctx context.Context, pageID, name string) error {
	pageID = b.resolvePageID(pageID)
	return b.call(ctx, "Extension.deleteCookie", map[string]string{"pageId": pageID, "name": name}, nil)
}

func (b *Backend) ClearCookies(ctx context.Context, pageID string) error {
	pageID = b.resolvePageID(pageID)
	return b.call(ctx, "Extension.clearCookies", map[string]string{"pageId": pageID}, nil)
}

var _ backend.BrowserBackend = (*Backend)(nil)
