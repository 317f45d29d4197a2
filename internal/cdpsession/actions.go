package cdpsession

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"

	"github.com/actionplane/browserctl/internal/backend"
	"github.com/actionplane/browserctl/internal/berrors"
	"github.com/actionplane/browserctl/internal/snapshot"
	"github.com/actionplane/browserctl/internal/urlnorm"
)

func (m *Manager) Open(ctx context.Context, rawURL string) (backend.OpenResult, error) {
	navURL, err := urlnorm.Normalize(rawURL)
	if err != nil {
		return backend.OpenResult{}, err
	}

	var created target.CreateTargetReturns
	if err := m.client.Call(ctx, "", "Target.createTarget", target.NewCreateTarget(navURL), &created); err != nil {
		return backend.OpenResult{}, err
	}

	sid, err := m.attach(ctx, created.TargetID)
	if err != nil {
		return backend.OpenResult{}, err
	}

	if err := m.client.Call(ctx, string(sid), "Page.enable", page.NewEnable(), nil); err != nil {
		return backend.OpenResult{}, err
	}
	m.setActive(string(created.TargetID))

	title, _ := m.evalString(ctx, string(created.TargetID), "document.title")
	return backend.OpenResult{Title: title, URL: navURL}, nil
}

func (m *Manager) Restart(ctx context.Context) error {
	_, sid, err := m.resolveTarget("")
	if err != nil {
		return err
	}
	return m.client.Call(ctx, string(sid), "Page.reload", page.NewReload(), nil)
}

func (m *Manager) Goto(ctx context.Context, pageID, rawURL string, timeoutMs int64) error {
	navURL, err := urlnorm.Normalize(rawURL)
	if err != nil {
		return err
	}
	_, sid, err := m.resolveTarget(pageID)
	if err != nil {
		return err
	}

	if timeoutMs <= 0 {
		timeoutMs = 30000
	}
	navCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
	defer cancel()

	loaded := make(chan struct{}, 1)
	off := m.client.On("Page.loadEventFired", func(json.RawMessage) {
		select {
		case loaded <- struct{}{}:
		default:
		}
	})
	defer off()

	var ret page.NavigateReturns
	if err := m.client.Call(ctx, string(sid), "Page.navigate", page.NewNavigate(navURL), &ret); err != nil {
		return err
	}
	if ret.ErrorText != "" {
		return berrors.New(berrors.BrowserOperation, ret.ErrorText)
	}

	select {
	case <-loaded:
		return nil
	case <-navCtx.Done():
		return berrors.NewTimeout("goto", timeoutMs)
	}
}

func (m *Manager) Back(ctx context.Context, pageID string) error {
	return m.navigateHistory(ctx, pageID, -1)
}

func (m *Manager) Forward(ctx context.Context, pageID string) error {
	return m.navigateHistory(ctx, pageID, 1)
}

func (m *Manager) navigateHistory(ctx context.Context, pageID string, direction int) error {
	_, sid, err := m.resolveTarget(pageID)
	if err != nil {
		return err
	}
	var hist page.GetNavigationHistoryReturns
	if err := m.client.Call(ctx, string(sid), "Page.getNavigationHistory", page.NewGetNavigationHistory(), &hist); err != nil {
		return err
	}
	idx := int(hist.CurrentIndex) + direction
	if idx < 0 || idx >= len(hist.Entries) {
		return berrors.New(berrors.BrowserOperation, "no history entry in that direction")
	}
	entryID := hist.Entries[idx].ID
	return m.client.Call(ctx, string(sid), "Page.navigateToHistoryEntry", page.NewNavigateToHistoryEntry(entryID), nil)
}

func (m *Manager) Reload(ctx context.Context, pageID string) error {
	_, sid, err := m.resolveTarget(pageID)
	if err != nil {
		return err
	}
	return m.client.Call(ctx, string(sid), "Page.reload", page.NewReload(), nil)
}

func (m *Manager) Pages(ctx context.Context) ([]backend.PageEntry, error) {
	var ret target.GetTargetsReturns
	if err := m.client.Call(ctx, "", "Target.getTargets", target.NewGetTargets(), &ret); err != nil {
		return nil, err
	}
	var pages []backend.PageEntry
	for _, info := range ret.TargetInfos {
		if info.Type != "page" {
			continue
		}
		pages = append(pages, backend.PageEntry{ID: string(info.TargetID), Title: info.Title, URL: info.URL})
	}
	return pages, nil
}

func (m *Manager) Switch(ctx context.Context, pageID string) error {
	m.mu.Lock()
	_, ok := m.targets[pageID]
	m.mu.Unlock()
	if !ok {
		if _, err := m.attach(ctx, target.ID(pageID)); err != nil {
			return err
		}
	}
	m.setActive(pageID)
	return nil
}

func (m *Manager) WaitFor(ctx context.Context, pageID, selector string, timeoutMs int64) error {
	if timeoutMs <= 0 {
		timeoutMs = 30000
	}
	_, sid, err := m.resolveTarget(pageID)
	if err != nil {
		return err
	}
	deadline := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
	expr := fmt.Sprintf("document.querySelector(%q) !== null", selector)
	for time.Now().Before(deadline) {
		found, err := m.evalBool(ctx, string(sid), expr)
		if err == nil && found {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
	return berrors.NewTimeout("wait_for", timeoutMs)
}

func (m *Manager) WaitNav(ctx context.Context, pageID string, timeoutMs int64) error {
	if timeoutMs <= 0 {
		timeoutMs = 30000
	}
	navCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMs)*time.Millisecond)
	defer cancel()

	navigated := make(chan struct{}, 1)
	off := m.client.On("Page.frameNavigated", func(json.RawMessage) {
		select {
		case navigated <- struct{}{}:
		default:
		}
	})
	defer off()

	select {
	case <-navigated:
		return nil
	case <-navCtx.Done():
		return berrors.NewTimeout("wait_nav", timeoutMs)
	}
}

func (m *Manager) boundingBoxClick(ctx context.Context, sid, selector string) (x, y float64, err error) {
	expr := fmt.Sprintf(`(function(){const el=document.querySelector(%q); if(!el) return null; const r=el.getBoundingClientRect(); return {x:r.x+r.width/2, y:r.y+r.height/2};})()`, selector)
	var box struct {
		X float64 `json:"x"`
		Y float64 `json:"y"`
	}
	ok, err := m.evalInto(ctx, sid, expr, &box)
	if err != nil {
		return 0, 0, err
	}
	if !ok {
		return 0, 0, berrors.New(berrors.ElementNotFound, selector)
	}
	return box.X, box.Y, nil
}

func (m *Manager) Click(ctx context.Context, pageID, selector string) error {
	_, sid, err := m.resolveTarget(pageID)
	if err != nil {
		return err
	}
	x, y, err := m.boundingBoxClick(ctx, string(sid), selector)
	if err != nil {
		return err
	}
	for _, evtType := range []input.MouseType{input.MouseMoved, input.MousePressed, input.MouseReleased} {
		p := input.NewDispatchMouseEvent(evtType, x, y)
		if evtType != input.MouseMoved {
			p = p.WithButton(input.Left).WithClickCount(1)
		}
		if err := m.client.Call(ctx, string(sid), "Input.dispatchMouseEvent", p, nil); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) Hover(ctx context.Context, pageID, selector string) error {
	_, sid, err := m.resolveTarget(pageID)
	if err != nil {
		return err
	}
	x, y, err := m.boundingBoxClick(ctx, string(sid), selector)
	if err != nil {
		return err
	}
	return m.client.Call(ctx, string(sid), "Input.dispatchMouseEvent", input.NewDispatchMouseEvent(input.MouseMoved, x, y), nil)
}

func (m *Manager) Focus(ctx context.Context, pageID, selector string) error {
	_, sid, err := m.resolveTarget(pageID)
	if err != nil {
		return err
	}
	expr := fmt.Sprintf(`(function(){const el=document.querySelector(%q); if(!el) return false; el.focus(); return true;})()`, selector)
	found, err := m.evalBool(ctx, string(sid), expr)
	if err != nil {
		return err
	}
	if !found {
		return berrors.New(berrors.ElementNotFound, selector)
	}
	return nil
}

func (m *Manager) TypeText(ctx context.Context, pageID, selector, text string) error {
	if err := m.Focus(ctx, pageID, selector); err != nil {
		return err
	}
	_, sid, err := m.resolveTarget(pageID)
	if err != nil {
		return err
	}
	return m.client.Call(ctx, string(sid), "Input.insertText", input.NewInsertText(text), nil)
}

func (m *Manager) Fill(ctx context.Context, pageID, selector, value string) error {
	_, sid, err := m.resolveTarget(pageID)
	if err != nil {
		return err
	}
	expr := fmt.Sprintf(`(function(){const el=document.querySelector(%q); if(!el) return false; el.value=%q; el.dispatchEvent(new Event('input',{bubbles:true})); el.dispatchEvent(new Event('change',{bubbles:true})); return true;})()`, selector, value)
	found, err := m.evalBool(ctx, string(sid), expr)
	if err != nil {
		return err
	}
	if !found {
		return berrors.New(berrors.ElementNotFound, selector)
	}
	return nil
}

func (m *Manager) Select(ctx context.Context, pageID, selector, value string) error {
	_, sid, err := m.resolveTarget(pageID)
	if err != nil {
		return err
	}
	expr := fmt.Sprintf(`(function(){const el=document.querySelector(%q); if(!el) return false; el.value=%q; el.dispatchEvent(new Event('change',{bubbles:true})); return true;})()`, selector, value)
	found, err := m.evalBool(ctx, string(sid), expr)
	if err != nil {
		return err
	}
	if !found {
		return berrors.New(berrors.ElementNotFound, selector)
	}
	return nil
}

func (m *Manager) Press(ctx context.Context, pageID, selector, key string) error {
	if selector != "" {
		if err := m.Focus(ctx, pageID, selector); err != nil {
			return err
		}
	}
	_, sid, err := m.resolveTarget(pageID)
	if err != nil {
		return err
	}
	down := input.NewDispatchKeyEvent(input.KeyDown).WithKey(key)
	up := input.NewDispatchKeyEvent(input.KeyUp).WithKey(key)
	if err := m.client.Call(ctx, string(sid), "Input.dispatchKeyEvent", down, nil); err != nil {
		return err
	}
	return m.client.Call(ctx, string(sid), "Input.dispatchKeyEvent", up, nil)
}

func (m *Manager) Screenshot(ctx context.Context, pageID string, fullPage bool) ([]byte, error) {
	_, sid, err := m.resolveTarget(pageID)
	if err != nil {
		return nil, err
	}
	params := page.NewCaptureScreenshot().WithCaptureBeyondViewport(fullPage)
	var ret page.CaptureScreenshotReturns
	if err := m.client.Call(ctx, string(sid), "Page.captureScreenshot", params, &ret); err != nil {
		return nil, err
	}
	return ret.Data, nil
}

func (m *Manager) PDF(ctx context.Context, pageID string) ([]byte, error) {
	_, sid, err := m.resolveTarget(pageID)
	if err != nil {
		return nil, err
	}
	var ret page.PrintToPDFReturns
	if err := m.client.Call(ctx, string(sid), "Page.printToPDF", page.NewPrintToPDF(), &ret); err != nil {
		return nil, err
	}
	return ret.Data, nil
}

func (m *Manager) Eval(ctx context.Context, pageID, expression string) (any, error) {
	_, sid, err := m.resolveTarget(pageID)
	if err != nil {
		return nil, err
	}
	var ret runtime.EvaluateReturns
	params := runtime.NewEvaluate(expression).WithReturnByValue(true)
	if err := m.client.Call(ctx, string(sid), "Runtime.evaluate", params, &ret); err != nil {
		return nil, err
	}
	if ret.ExceptionDetails != nil {
		return nil, berrors.New(berrors.BrowserOperation, ret.ExceptionDetails.Text)
	}
	if ret.Result == nil || len(ret.Result.Value) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(ret.Result.Value, &v); err != nil {
		return nil, berrors.Wrap(berrors.Parse, "eval result", err)
	}
	return v, nil
}

func (m *Manager) HTML(ctx context.Context, pageID, selector string) (string, error) {
	_, sid, err := m.resolveTarget(pageID)
	if err != nil {
		return "", err
	}
	var expr string
	if selector != "" {
		expr = fmt.Sprintf(`(function(){const el=document.querySelector(%q); return el ? el.outerHTML : null;})()`, selector)
	} else {
		expr = "document.documentElement.outerHTML"
	}
	return m.evalString(ctx, string(sid), expr)
}

func (m *Manager) Text(ctx context.Context, pageID, selector string) (string, error) {
	_, sid, err := m.resolveTarget(pageID)
	if err != nil {
		return "", err
	}
	var expr string
	if selector != "" {
		expr = fmt.Sprintf(`(function(){const el=document.querySelector(%q); return el ? el.textContent : null;})()`, selector)
	} else {
		expr = "document.body.textContent"
	}
	return m.evalString(ctx, string(sid), expr)
}

func (m *Manager) Snapshot(ctx context.Context, pageID string) (backend.Snapshot, error) {
	_, sid, err := m.resolveTarget(pageID)
	if err != nil {
		return backend.Snapshot{}, err
	}
	var raw struct {
		Tree     backend.AccessibilityNode `json:"tree"`
		RefCount int                       `json:"refCount"`
	}
	if _, err := m.evalInto(ctx, string(sid), snapshot.Script, &raw); err != nil {
		return backend.Snapshot{}, err
	}
	return backend.Snapshot{Tree: raw.Tree, RefCount: raw.RefCount}, nil
}

func (m *Manager) Inspect(ctx context.Context, pageID string, x, y int) (backend.InspectResult, error) {
	_, sid, err := m.resolveTarget(pageID)
	if err != nil {
		return backend.InspectResult{}, err
	}
	if x < 0 || y < 0 {
		return backend.InspectResult{Found: false}, nil
	}

	var loc dom.GetNodeForLocationReturns
	params := dom.NewGetNodeForLocation(int64(x), int64(y))
	if err := m.client.Call(ctx, string(sid), "DOM.getNodeForLocation", params, &loc); err != nil {
		return backend.InspectResult{Found: false}, nil
	}

	var described dom.DescribeNodeReturns
	descParams := dom.NewDescribeNode().WithBackendNodeID(loc.BackendNodeID)
	if err := m.client.Call(ctx, string(sid), "DOM.describeNode", descParams, &described); err != nil {
		return backend.InspectResult{Found: false}, nil
	}

	attrs := map[string]string{}
	for i := 0; i+1 < len(described.Node.Attributes); i += 2 {
		attrs[described.Node.Attributes[i]] = described.Node.Attributes[i+1]
	}
	return backend.InspectResult{
		Found: true,
		Node:  backend.AccessibilityNode{Role: described.Node.LocalName},
		Attrs: attrs,
	}, nil
}

func (m *Manager) Viewport(ctx context.Context, pageID string) (backend.Viewport, error) {
	_, sid, err := m.resolveTarget(pageID)
	if err != nil {
		return backend.Viewport{}, err
	}
	var ret page.GetLayoutMetricsReturns
	if err := m.client.Call(ctx, string(sid), "Page.getLayoutMetrics", page.NewGetLayoutMetrics(), &ret); err != nil {
		return backend.Viewport{}, err
	}
	if ret.LayoutViewport == nil {
		return backend.Viewport{}, berrors.New(berrors.BrowserOperation, "no layout viewport")
	}
	return backend.Viewport{Width: int(ret.LayoutViewport.ClientWidth), Height: int(ret.LayoutViewport.ClientHeight)}, nil
}

func (m *Manager) GetCookies(ctx context.Context, pageID string) ([]backend.Cookie, error) {
	_, sid, err := m.resolveTarget(pageID)
	if err != nil {
		return nil, err
	}
	var ret network.GetCookiesReturns
	if err := m.client.Call(ctx, string(sid), "Network.getCookies", network.NewGetCookies(), &ret); err != nil {
		return nil, err
	}
	cookies := make([]backend.Cookie, 0, len(ret.Cookies))
	for _, c := range ret.Cookies {
		cookies = append(cookies, backend.Cookie{
			Name: c.Name, Value: c.Value, Domain: c.Domain, Path: c.Path,
			Expires: int64(c.Expires), HTTPOnly: c.HTTPOnly, Secure: c.Secure,
		})
	}
	return cookies, nil
}

func (m *Manager) SetCookie(ctx context.Context, pageID string, cookie backend.Cookie) error {
	_, sid, err := m.resolveTarget(pageID)
	if err != nil {
		return err
	}
	params := network.NewSetCookie(cookie.Name, cookie.Value).
		WithDomain(cookie.Domain).WithPath(cookie.Path).
		WithHTTPOnly(cookie.HTTPOnly).WithSecure(cookie.Secure)
	return m.client.Call(ctx, string(sid), "Network.setCookie", params, nil)
}

func (m *Manager) DeleteCookie(ctx context.Context, pageID, name string) error {
	_, sid, err := m.resolveTarget(pageID)
	if err != nil {
		return err
	}
	return m.client.Call(ctx, string(sid), "Network.deleteCookies", network.NewDeleteCookies(name), nil)
}

func (m *Manager) ClearCookies(ctx context.Context, pageID string) error {
	_, sid, err := m.resolveTarget(pageID)
	if err != nil {
		return err
	}
	cookies, err := m.GetCookies(ctx, pageID)
	if err != nil {
		return err
	}
	for _, c := range cookies {
		if err := m.DeleteCookie(ctx, pageID, c.Name); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) evalString(ctx context.Context, sid, expr string) (string, error) {
	var s string
	_, err := m.evalInto(ctx, sid, expr, &s)
	return s, err
}

func (m *Manager) evalBool(ctx context.Context, sid, expr string) (bool, error) {
	var b bool
	ok, err := m.evalInto(ctx, sid, expr, &b)
	return ok && b, err
}

// evalInto runs expr and decodes a non-null result into out. ok is
// false when the JS result was null/undefined.
func (m *Manager) evalInto(ctx context.Context, sid, expr string, out any) (bool, error) {
	var ret runtime.EvaluateReturns
	params := runtime.NewEvaluate(expr).WithReturnByValue(true)
	if err := m.client.Call(ctx, sid, "Runtime.evaluate", params, &ret); err != nil {
		return false, err
	}
	if ret.ExceptionDetails != nil {
		return false, berrors.New(berrors.BrowserOperation, ret.ExceptionDetails.Text)
	}
	if ret.Result == nil || len(ret.Result.Value) == 0 || string(ret.Result.Value) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(ret.Result.Value, out); err != nil {
		return false, berrors.Wrap(berrors.Parse, "unmarshal eval result", err)
	}
	return true, nil
}
