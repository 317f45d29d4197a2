// Package dispatcher implements the Backend Dispatcher (C8): it resolves
// which backend a profile should use, constructs it, and owns the
// process- and daemon-lifecycle accounting that only close() triggers.
// Grounded on original_source's router.rs BrowserDriver::from_config,
// generalized from its two-way Cdp/Camofox switch to the three-way
// Cdp/Extension/Camofox split this repository's backend.Kind carries.
package dispatcher

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/actionplane/browserctl/internal/backend"
	"github.com/actionplane/browserctl/internal/berrors"
	"github.com/actionplane/browserctl/internal/bridge"
	"github.com/actionplane/browserctl/internal/camoufox"
	"github.com/actionplane/browserctl/internal/cdpsession"
	"github.com/actionplane/browserctl/internal/config"
	"github.com/actionplane/browserctl/internal/extbackend"
	"github.com/actionplane/browserctl/internal/launcher"
	"github.com/actionplane/browserctl/internal/registry"
	"github.com/actionplane/browserctl/internal/transport"
)

// Override carries the per-call resolution inputs that take priority
// over profile and global configuration: an explicit --camofox/--cdp
// style flag, and (for Cdp) a caller-supplied endpoint to connect to
// instead of launching.
type Override struct {
	Backend   backend.Kind // empty means "no explicit flag"
	CdpTarget string       // ws:// endpoint of an already-running browser; empty means launch fresh
}

// ProfileConfig is the subset of per-profile settings the dispatcher
// consults. Profiles without an explicit backend fall through to the
// dispatcher's global DispatcherConfig default.
type ProfileConfig struct {
	Name    string
	Backend backend.Kind // empty means "use global default"
}

// Session wraps a constructed backend with the bookkeeping needed to
// tear it down correctly: whether this dispatcher invocation launched
// the underlying process/daemon, so close() only stops what it started.
// Session itself implements backend.BrowserBackend, tagging every error
// the wrapped backend returns with its originating Kind (spec.md §7)
// before handing it back to the caller.
type Session struct {
	Backend     backend.BrowserBackend
	Kind        backend.Kind
	autoStarted bool
	launchedPID int
	cfg         config.DispatcherConfig
	profile     string
	reg         *registry.Registry
}

// tagError wraps err with the session's backend kind when it is a
// *berrors.BackendError, leaving any other error untouched.
func (s *Session) tagError(err error) error {
	var be *berrors.BackendError
	if errors.As(err, &be) {
		return be.WithBackend(string(s.Kind))
	}
	return err
}

// SpawnBridgeDaemon is supplied by the host; the dispatcher does not
// know its own executable path or daemon subcommand.
type SpawnBridgeDaemon func(port int) error

// Resolve implements the priority chain from spec.md §4.8: explicit
// override, then per-profile config, then global config, else Cdp.
func Resolve(override Override, profile ProfileConfig, cfg config.DispatcherConfig) backend.Kind {
	if override.Backend != "" {
		return override.Backend
	}
	if profile.Backend != "" {
		return profile.Backend
	}
	if cfg.DefaultBackend != "" {
		return cfg.DefaultBackend
	}
	return backend.Cdp
}

// Open constructs the resolved backend and returns a Session wrapping
// it, ready for uniform-action dispatch.
func Open(ctx context.Context, override Override, profile ProfileConfig, cfg config.DispatcherConfig, spawnBridge SpawnBridgeDaemon) (*Session, error) {
	kind := Resolve(override, profile, cfg)
	switch kind {
	case backend.Cdp:
		return openCdp(ctx, override, profile, cfg)
	case backend.Extension:
		return openExtension(ctx, cfg, spawnBridge)
	case backend.Camoufox:
		return openCamoufox(ctx, cfg)
	default:
		return nil, berrors.New(berrors.Unsupported, string(kind))
	}
}

func openCdp(ctx context.Context, override Override, profile ProfileConfig, cfg config.DispatcherConfig) (*Session, error) {
	reg := registry.New(cfg.SessionsDir())

	if override.CdpTarget != "" {
		mgr, err := cdpsession.Connect(ctx, profile.Name, override.CdpTarget)
		if err != nil {
			return nil, err
		}
		_ = reg.SaveExternal(profile.Name, portOf(override.CdpTarget), override.CdpTarget)
		return &Session{Backend: mgr, Kind: backend.Cdp, cfg: cfg, profile: profile.Name, reg: reg}, nil
	}

	status, err := reg.GetStatus(ctx, profile.Name)
	if err != nil {
		return nil, err
	}
	if status == registry.Running {
		rec, err := reg.Load(profile.Name)
		if err != nil {
			return nil, err
		}
		mgr, err := cdpsession.Connect(ctx, profile.Name, rec.CdpWsURL)
		if err != nil {
			return nil, err
		}
		return &Session{Backend: mgr, Kind: backend.Cdp, cfg: cfg, profile: profile.Name, reg: reg}, nil
	}

	result, err := launcher.Launch(ctx, launcher.Options{
		Profile:  profile.Name,
		Port:     cfg.CdpPort,
		StateDir: cfg.StateDir,
		Headless: true,
	})
	if err != nil {
		return nil, err
	}
	mgr, err := cdpsession.Connect(ctx, profile.Name, result.CdpWsURL)
	if err != nil {
		return nil, err
	}
	_ = reg.SaveLaunched(profile.Name, result.CdpPort, result.CdpWsURL, result.Process.Pid)

	return &Session{
		Backend: mgr, Kind: backend.Cdp, autoStarted: true,
		launchedPID: result.Process.Pid, cfg: cfg, profile: profile.Name, reg: reg,
	}, nil
}

// portOf extracts the numeric port from a ws:// endpoint for the
// registry's liveness probe; returns 0 if absent or unparseable, which
// GetStatus then reports as Stale rather than Running.
func portOf(wsURL string) int {
	u, err := url.Parse(wsURL)
	if err != nil {
		return 0
	}
	p, err := strconv.Atoi(u.Port())
	if err != nil {
		return 0
	}
	return p
}

func openExtension(ctx context.Context, cfg config.DispatcherConfig, spawnBridge SpawnBridgeDaemon) (*Session, error) {
	autoStarted, err := bridge.EnsureRunning(ctx, cfg.BridgePort, bridge.SpawnFunc(spawnBridge))
	if err != nil {
		return nil, err
	}

	var token string
	if cfg.BridgeTokenRequired {
		if t, ok := bridge.ReadTokenFile(cfg.BridgeTokenFile()); ok {
			token = t
		}
	}

	b, err := extbackend.Connect(ctx, cfg.BridgePort, token)
	if err != nil {
		return nil, err
	}
	return &Session{Backend: b, Kind: backend.Extension, autoStarted: autoStarted, cfg: cfg}, nil
}

func openCamoufox(ctx context.Context, cfg config.DispatcherConfig) (*Session, error) {
	b, err := camoufox.Connect(ctx, cfg.CamoufoxURL, "browserctl-user", uuid.NewString())
	if err != nil {
		return nil, err
	}
	return &Session{Backend: b, Kind: backend.Camoufox, cfg: cfg}, nil
}

// Close implements the auto-start accounting invariant from spec.md
// §4.8: stop_bridge only fires when this dispatcher invocation both
// started the daemon/process AND the action is close.
func (s *Session) Close(ctx context.Context) error {
	switch s.Kind {
	case backend.Extension:
		return s.tagError(s.closeExtension(ctx))
	case backend.Cdp:
		return s.tagError(s.closeCdp(ctx))
	default:
		return s.tagError(s.Backend.Close(ctx))
	}
}

func (s *Session) closeExtension(ctx context.Context) error {
	if !bridge.IsRunning(ctx, s.cfg.BridgePort) {
		return nil
	}
	_ = s.Backend.Close(ctx)
	if s.autoStarted {
		return bridge.Stop(ctx, s.cfg.BridgePort)
	}
	return nil
}

var processMu sync.Mutex

func (s *Session) closeCdp(ctx context.Context) error {
	err := s.Backend.Close(ctx)
	if s.autoStarted && s.launchedPID != 0 {
		processMu.Lock()
		if transport.Alive(s.launchedPID) {
			transport.Terminate(s.launchedPID, 2*time.Second)
		}
		processMu.Unlock()
		if s.reg != nil {
			_ = s.reg.Clear(s.profile)
		}
	}
	return err
}
