package cdpsession

import (
	"context"
	"sync"

	"github.com/chromedp/cdproto/target"

	"github.com/actionplane/browserctl/internal/backend"
	"github.com/actionplane/browserctl/internal/berrors"
)

// Manager owns one CDP connection for a profile and the set of page
// targets attached through it. It implements backend.BrowserBackend.
type Manager struct {
	client  *Client
	profile string

	mu           sync.Mutex
	targets      map[string]target.SessionID // target id -> flat session id
	activeTarget string
}

// Connect dials wsURL and wraps the connection as a Manager for
// profile. Callers obtain wsURL from the Session Registry (C3) or the
// Browser Launcher (C2).
func Connect(ctx context.Context, profile, wsURL string) (*Manager, error) {
	c, err := Dial(ctx, wsURL)
	if err != nil {
		return nil, err
	}
	return &Manager{
		client:  c,
		profile: profile,
		targets: make(map[string]target.SessionID),
	}, nil
}

func (m *Manager) Close(ctx context.Context) error {
	return m.client.Close()
}

// resolveTarget returns the flat session id for pageID, or the active
// target if pageID is empty.
func (m *Manager) resolveTarget(pageID string) (string, target.SessionID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := pageID
	if id == "" {
		id = m.activeTarget
	}
	if id == "" {
		return "", "", berrors.New(berrors.TabNotFound, "no active page")
	}
	sid, ok := m.targets[id]
	if !ok {
		return "", "", berrors.New(berrors.TabNotFound, id)
	}
	return id, sid, nil
}

func (m *Manager) attach(ctx context.Context, targetID target.ID) (target.SessionID, error) {
	params := target.NewAttachToTarget(targetID).WithFlatten(true)
	var ret target.AttachToTargetReturns
	if err := m.client.Call(ctx, "", "Target.attachToTarget", params, &ret); err != nil {
		return "", err
	}
	m.mu.Lock()
	m.targets[string(targetID)] = ret.SessionID
	m.mu.Unlock()
	return ret.SessionID, nil
}

func (m *Manager) setActive(id string) {
	m.mu.Lock()
	m.activeTarget = id
	m.mu.Unlock()
}

var _ backend.BrowserBackend = (*Manager)(nil)
