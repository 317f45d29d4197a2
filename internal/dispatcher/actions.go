package dispatcher

import (
	"context"

	"github.com/actionplane/browserctl/internal/backend"
)

// Session implements backend.BrowserBackend by delegating every uniform
// action to the resolved backend and tagging any resulting
// *berrors.BackendError with the session's Kind (spec.md §7), so a
// caller dispatching through Session never sees an untagged error.
var _ backend.BrowserBackend = (*Session)(nil)

func (s *Session) Open(ctx context.Context, url string) (backend.OpenResult, error) {
	r, err := s.Backend.Open(ctx, url)
	return r, s.tagError(err)
}

func (s *Session) Restart(ctx context.Context) error {
	return s.tagError(s.Backend.Restart(ctx))
}

func (s *Session) Goto(ctx context.Context, pageID, url string, timeoutMs int64) error {
	return s.tagError(s.Backend.Goto(ctx, pageID, url, timeoutMs))
}

func (s *Session) Back(ctx context.Context, pageID string) error {
	return s.tagError(s.Backend.Back(ctx, pageID))
}

func (s *Session) Forward(ctx context.Context, pageID string) error {
	return s.tagError(s.Backend.Forward(ctx, pageID))
}

func (s *Session) Reload(ctx context.Context, pageID string) error {
	return s.tagError(s.Backend.Reload(ctx, pageID))
}

func (s *Session) Pages(ctx context.Context) ([]backend.PageEntry, error) {
	p, err := s.Backend.Pages(ctx)
	return p, s.tagError(err)
}

func (s *Session) Switch(ctx context.Context, pageID string) error {
	return s.tagError(s.Backend.Switch(ctx, pageID))
}

func (s *Session) WaitFor(ctx context.Context, pageID, selector string, timeoutMs int64) error {
	return s.tagError(s.Backend.WaitFor(ctx, pageID, selector, timeoutMs))
}

func (s *Session) WaitNav(ctx context.Context, pageID string, timeoutMs int64) error {
	return s.tagError(s.Backend.WaitNav(ctx, pageID, timeoutMs))
}

func (s *Session) Click(ctx context.Context, pageID, selector string) error {
	return s.tagError(s.Backend.Click(ctx, pageID, selector))
}

func (s *Session) TypeText(ctx context.Context, pageID, selector, text string) error {
	return s.tagError(s.Backend.TypeText(ctx, pageID, selector, text))
}

func (s *Session) Fill(ctx context.Context, pageID, selector, value string) error {
	return s.tagError(s.Backend.Fill(ctx, pageID, selector, value))
}

func (s *Session) Select(ctx context.Context, pageID, selector, value string) error {
	return s.tagError(s.Backend.Select(ctx, pageID, selector, value))
}

func (s *Session) Hover(ctx context.Context, pageID, selector string) error {
	return s.tagError(s.Backend.Hover(ctx, pageID, selector))
}

func (s *Session) Focus(ctx context.Context, pageID, selector string) error {
	return s.tagError(s.Backend.Focus(ctx, pageID, selector))
}

func (s *Session) Press(ctx context.Context, pageID, selector, key string) error {
	return s.tagError(s.Backend.Press(ctx, pageID, selector, key))
}

func (s *Session) Screenshot(ctx context.Context, pageID string, fullPage bool) ([]byte, error) {
	b, err := s.Backend.Screenshot(ctx, pageID, fullPage)
	return b, s.tagError(err)
}

func (s *Session) PDF(ctx context.Context, pageID string) ([]byte, error) {
	b, err := s.Backend.PDF(ctx, pageID)
	return b, s.tagError(err)
}

func (s *Session) Eval(ctx context.Context, pageID, expression string) (any, error) {
	v, err := s.Backend.Eval(ctx, pageID, expression)
	return v, s.tagError(err)
}

func (s *Session) HTML(ctx context.Context, pageID, selector string) (string, error) {
	v, err := s.Backend.HTML(ctx, pageID, selector)
	return v, s.tagError(err)
}

func (s *Session) Text(ctx context.Context, pageID, selector string) (string, error) {
	v, err := s.Backend.Text(ctx, pageID, selector)
	return v, s.tagError(err)
}

func (s *Session) Snapshot(ctx context.Context, pageID string) (backend.Snapshot, error) {
	v, err := s.Backend.Snapshot(ctx, pageID)
	return v, s.tagError(err)
}

func (s *Session) Inspect(ctx context.Context, pageID string, x, y int) (backend.InspectResult, error) {
	v, err := s.Backend.Inspect(ctx, pageID, x, y)
	return v, s.tagError(err)
}

func (s *Session) Viewport(ctx context.Context, pageID string) (backend.Viewport, error) {
	v, err := s.Backend.Viewport(ctx, pageID)
	return v, s.tagError(err)
}

func (s *Session) GetCookies(ctx context.Context, pageID string) ([]backend.Cookie, error) {
	v, err := s.Backend.GetCookies(ctx, pageID)
	return v, s.tagError(err)
}

func (s *Session) SetCookie(ctx context.Context, pageID string, cookie backend.Cookie) error {
	return s.tagError(s.Backend.SetCookie(ctx, pageID, cookie))
}

func (s *Session) DeleteCookie(ctx context.Context, pageID, name string) error {
	return s.tagError(s.Backend.DeleteCookie(ctx, pageID, name))
}

func (s *Session) ClearCookies(ctx context.Context, pageID string) error {
	return s.tagError(s.Backend.ClearCookies(ctx, pageID))
}
