package backend

import "context"

// BrowserBackend is the uniform action-surface contract every transport
// implements. Implementations share no code via inheritance, only via
// the small transport helpers in internal/transport.
type BrowserBackend interface {
	Open(ctx context.Context, url string) (OpenResult, error)
	Close(ctx context.Context) error
	Restart(ctx context.Context) error

	Goto(ctx context.Context, pageID, url string, timeoutMs int64) error
	Back(ctx context.Context, pageID string) error
	Forward(ctx context.Context, pageID string) error
	Reload(ctx context.Context, pageID string) error

	Pages(ctx context.Context) ([]PageEntry, error)
	Switch(ctx context.Context, pageID string) error

	WaitFor(ctx context.Context, pageID, selector string, timeoutMs int64) error
	WaitNav(ctx context.Context, pageID string, timeoutMs int64) error

	Click(ctx context.Context, pageID, selector string) error
	TypeText(ctx context.Context, pageID, selector, text string) error
	Fill(ctx context.Context, pageID, selector, value string) error
	Select(ctx context.Context, pageID, selector, value string) error
	Hover(ctx context.Context, pageID, selector string) error
	Focus(ctx context.Context, pageID, selector string) error
	Press(ctx context.Context, pageID, selector, key string) error

	Screenshot(ctx context.Context, pageID string, fullPage bool) ([]byte, error)
	PDF(ctx context.Context, pageID string) ([]byte, error)
	Eval(ctx context.Context, pageID, expression string) (any, error)
	HTML(ctx context.Context, pageID, selector string) (string, error)
	Text(ctx context.Context, pageID, selector string) (string, error)
	Snapshot(ctx context.Context, pageID string) (Snapshot, error)
	Inspect(ctx context.Context, pageID string, x, y int) (InspectResult, error)
	Viewport(ctx context.Context, pageID string) (Viewport, error)

	GetCookies(ctx context.Context, pageID string) ([]Cookie, error)
	SetCookie(ctx context.Context, pageID string, cookie Cookie) error
	DeleteCookie(ctx context.Context, pageID, name string) error
	ClearCookies(ctx context.Context, pageID string) error
}
