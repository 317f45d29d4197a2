// Package camoufox implements the Camoufox Backend (C7): an HTTP client
// against a remote camofox-browser server, exposing the uniform
// BrowserBackend action set for the subset of actions its REST API
// supports. Grounded on original_source's camofox/client.rs and
// camofox/session.rs, replacing reqwest with the shared retrying HTTP
// client used by every other transport primitive.
package camoufox

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/actionplane/browserctl/internal/backend"
	"github.com/actionplane/browserctl/internal/berrors"
	"github.com/actionplane/browserctl/internal/snapshot"
	"github.com/actionplane/browserctl/internal/transport"
	"github.com/actionplane/browserctl/internal/urlnorm"
)

var elementRefPattern = regexp.MustCompile(`^e\d+$`)

const snapshotTTL = 5 * time.Second

type snapshotCache struct {
	tree      backend.AccessibilityNode
	refCount  int
	fetchedAt time.Time
}

func (c *snapshotCache) isFresh() bool {
	return c != nil && time.Since(c.fetchedAt) < snapshotTTL
}

// Backend talks to one camofox-browser server on behalf of one
// session_key, tracking the active tab and a short-lived snapshot
// cache used to resolve CSS-like selectors to element refs.
type Backend struct {
	http      *transport.HTTPClient
	baseURL   string
	userID    string
	sessionKey string

	mu            sync.Mutex
	activeTab     string
	cache         *snapshotCache
}

// Connect verifies the server is reachable and returns a session bound
// to userID/sessionKey, matching original_source's CamofoxSession::connect.
func Connect(ctx context.Context, baseURL, userID, sessionKey string) (*Backend, error) {
	b := &Backend{
		http:       transport.NewHTTPClient(),
		baseURL:    baseURL,
		userID:     userID,
		sessionKey: sessionKey,
	}
	url := fmt.Sprintf("%s/health", baseURL)
	if !transport.Probe(ctx, url, 5*time.Second) {
		return nil, berrors.New(berrors.CamoufoxUnreachable, baseURL)
	}
	return b, nil
}

func (b *Backend) activeTabID() (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.activeTab == "" {
		return "", berrors.New(berrors.TabNotFound, "no active tab")
	}
	return b.activeTab, nil
}

func (b *Backend) invalidateCache() {
	b.mu.Lock()
	b.cache = nil
	b.mu.Unlock()
}

type createTabRequest struct {
	UserID     string `json:"userId"`
	SessionKey string `json:"sessionKey"`
	URL        string `json:"url"`
}

type createTabResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

func (b *Backend) Open(ctx context.Context, rawURL string) (backend.OpenResult, error) {
	navURL, err := urlnorm.Normalize(rawURL)
	if err != nil {
		return backend.OpenResult{}, err
	}

	var resp createTabResponse
	body := createTabRequest{UserID: b.userID, SessionKey: b.sessionKey, URL: navURL}
	if err := b.http.PostJSON(ctx, b.baseURL+"/tabs", body, &resp); err != nil {
		return backend.OpenResult{}, berrors.Wrap(berrors.BrowserOperation, "create tab", err)
	}

	b.mu.Lock()
	b.activeTab = resp.ID
	b.cache = nil
	b.mu.Unlock()

	return backend.OpenResult{URL: resp.URL}, nil
}

func (b *Backend) Close(ctx context.Context) error {
	return nil
}

func (b *Backend) Restart(ctx context.Context) error {
	return berrors.NewUnsupported("restart", "camofox")
}

// snapshotResponse mirrors the server's /tabs/{id}/snapshot shape.
type snapshotResponse struct {
	Tree     backend.AccessibilityNode `json:"tree"`
	RefCount int                       `json:"refCount"`
}

func (b *Backend) refreshSnapshot(ctx context.Context, tabID string) (*snapshotCache, error) {
	var resp snapshotResponse
	url := fmt.Sprintf("%s/tabs/%s/snapshot?user_id=%s", b.baseURL, tabID, b.userID)
	if err := b.http.Get(ctx, url, &resp); err != nil {
		return nil, berrors.Wrap(berrors.BrowserOperation, "get snapshot", err)
	}
	cache := &snapshotCache{tree: resp.Tree, refCount: resp.RefCount, fetchedAt: time.Now()}
	b.mu.Lock()
	b.cache = cache
	b.mu.Unlock()
	return cache, nil
}

// resolveSelector implements the four-phase algorithm from spec.md
// §4.7: element-ref fast path, fresh-cache lookup, refresh and retry,
// then ElementRefResolution.
func (b *Backend) resolveSelector(ctx context.Context, tabID, selector string) (string, error) {
	if elementRefPattern.MatchString(selector) {
		return selector, nil
	}

	b.mu.Lock()
	cache := b.cache
	b.mu.Unlock()
	if cache.isFresh() {
		if ref, ok := snapshot.FindMatching(cache.tree, selector); ok {
			return ref, nil
		}
	}

	fresh, err := b.refreshSnapshot(ctx, tabID)
	if err != nil {
		return "", err
	}
	if ref, ok := snapshot.FindMatching(fresh.tree, selector); ok {
		return ref, nil
	}
	return "", berrors.New(berrors.ElementRefResolution, selector)
}

func (b *Backend) Goto(ctx context.Context, pageID, rawURL string, timeoutMs int64) error {
	navURL, err := urlnorm.Normalize(rawURL)
	if err != nil {
		return err
	}
	tabID, err := b.resolveTab(pageID)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/tabs/%s/navigate", b.baseURL, tabID)
	body := map[string]string{"userId": b.userID, "url": navURL}
	if err := b.http.PostJSON(ctx, url, body, nil); err != nil {
		return berrors.Wrap(berrors.BrowserOperation, "navigate", err)
	}
	b.invalidateCache()
	return nil
}

func (b *Backend) resolveTab(pageID string) (string, error) {
	if pageID != "" {
		return pageID, nil
	}
	return b.activeTabID()
}

func (b *Backend) Back(ctx context.Context, pageID string) error {
	return berrors.NewUnsupported("back", "camofox")
}

func (b *Backend) Forward(ctx context.Context, pageID string) error {
	return berrors.NewUnsupported("forward", "camofox")
}

func (b *Backend) Reload(ctx context.Context, pageID string) error {
	return berrors.NewUnsupported("reload", "camofox")
}

func (b *Backend) Pages(ctx context.Context) ([]backend.PageEntry, error) {
	tabID, err := b.activeTabID()
	if err != nil {
		return nil, err
	}
	return []backend.PageEntry{{ID: tabID}}, nil
}

func (b *Backend) Switch(ctx context.Context, pageID string) error {
	b.mu.Lock()
	b.activeTab = pageID
	b.cache = nil
	b.mu.Unlock()
	return nil
}

func (b *Backend) WaitFor(ctx context.Context, pageID, selector string, timeoutMs int64) error {
	tabID, err := b.resolveTab(pageID)
	if err != nil {
		return err
	}
	if timeoutMs <= 0 {
		timeoutMs = 30000
	}
	deadline := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
	for time.Now().Before(deadline) {
		fresh, err := b.refreshSnapshot(ctx, tabID)
		if err == nil {
			if _, ok := snapshot.FindMatching(fresh.tree, selector); ok {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
	return berrors.NewTimeout("wait_for", timeoutMs)
}

func (b *Backend) WaitNav(ctx context.Context, pageID string, timeoutMs int64) error {
	return berrors.NewUnsupported("wait_nav", "camofox")
}

func (b *Backend) Click(ctx context.Context, pageID, selector string) error {
	tabID, err := b.resolveTab(pageID)
	if err != nil {
		return err
	}
	ref, err := b.resolveSelector(ctx, tabID, selector)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/tabs/%s/click", b.baseURL, tabID)
	body := map[string]string{"userId": b.userID, "elementRef": ref}
	if err := b.http.PostJSON(ctx, url, body, nil); err != nil {
		return berrors.Wrap(berrors.BrowserOperation, "click", err)
	}
	b.invalidateCache()
	return nil
}

func (b *Backend) TypeText(ctx context.Context, pageID, selector, text string) error {
	tabID, err := b.resolveTab(pageID)
	if err != nil {
		return err
	}
	ref, err := b.resolveSelector(ctx, tabID, selector)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/tabs/%s/type", b.baseURL, tabID)
	body := map[string]string{"userId": b.userID, "elementRef": ref, "text": text}
	if err := b.http.PostJSON(ctx, url, body, nil); err != nil {
		return berrors.Wrap(berrors.BrowserOperation, "type", err)
	}
	b.invalidateCache()
	return nil
}

func (b *Backend) Fill(ctx context.Context, pageID, selector, value string) error {
	return b.TypeText(ctx, pageID, selector, value)
}

func (b *Backend) Select(ctx context.Context, pageID, selector, value string) error {
	return berrors.NewUnsupported("select", "camofox")
}

func (b *Backend) Hover(ctx context.Context, pageID, selector string) error {
	return berrors.NewUnsupported("hover", "camofox")
}

func (b *Backend) Focus(ctx context.Context, pageID, selector string) error {
	return berrors.NewUnsupported("focus", "camofox")
}

func (b *Backend) Press(ctx context.Context, pageID, selector, key string) error {
	return berrors.NewUnsupported("press", "camofox")
}

type screenshotResponse struct {
	Data []byte `json:"data"`
}

func (b *Backend) Screenshot(ctx context.Context, pageID string, fullPage bool) ([]byte, error) {
	tabID, err := b.resolveTab(pageID)
	if err != nil {
		return nil, err
	}
	var resp screenshotResponse
	url := fmt.Sprintf("%s/tabs/%s/screenshot?user_id=%s", b.baseURL, tabID, b.userID)
	if err := b.http.Get(ctx, url, &resp); err != nil {
		return nil, berrors.Wrap(berrors.BrowserOperation, "screenshot", err)
	}
	return resp.Data, nil
}

func (b *Backend) PDF(ctx context.Context, pageID string) ([]byte, error) {
	return nil, berrors.NewUnsupported("pdf", "camofox")
}

func (b *Backend) Eval(ctx context.Context, pageID, expression string) (any, error) {
	return nil, berrors.NewUnsupported("eval", "camofox")
}

func (b *Backend) HTML(ctx context.Context, pageID, selector string) (string, error) {
	return "", berrors.NewUnsupported("html", "camofox")
}

func (b *Backend) Text(ctx context.Context, pageID, selector string) (string, error) {
	return "", berrors.NewUnsupported("text", "camofox")
}

func (b *Backend) Snapshot(ctx context.Context, pageID string) (backend.Snapshot, error) {
	tabID, err := b.resolveTab(pageID)
	if err != nil {
		return backend.Snapshot{}, err
	}
	fresh, err := b.refreshSnapshot(ctx, tabID)
	if err != nil {
		return backend.Snapshot{}, err
	}
	return backend.Snapshot{Tree: fresh.tree, RefCount: fresh.refCount}, nil
}

func (b *Backend) Inspect(ctx context.Context, pageID string, x, y int) (backend.InspectResult, error) {
	return backend.InspectResult{}, berrors.NewUnsupported("inspect", "camofox")
}

func (b *Backend) Viewport(ctx context.Context, pageID string) (backend.Viewport, error) {
	return backend.Viewport{}, berrors.NewUnsupported("viewport", "camofox")
}

func (b *Backend) GetCookies(ctx context.Context, pageID string) ([]backend.Cookie, error) {
	return nil, berrors.NewUnsupported("cookies", "camofox")
}

func (b *Backend) SetCookie(ctx context.Context, pageID string, cookie backend.Cookie) error {
	return berrors.NewUnsupported("cookies", "camofox")
}

func (b *Backend) DeleteCookie(ctx context.Context, pageID, name string) error {
	return berrors.NewUnsupported("cookies", "camofox")
}

func (b *Backend) ClearCookies(ctx context.Context, pageID string) error {
	return berrors.NewUnsupported("cookies", "camofox")
}

var _ backend.BrowserBackend = (*Backend)(nil)
