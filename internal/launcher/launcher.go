// Package launcher implements the Browser Launcher (C2): discovering a
// Chromium-family executable, composing its argv, spawning it with a
// dedicated profile directory, and polling its CDP endpoint until ready.
package launcher

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"github.com/actionplane/browserctl/internal/berrors"
	"github.com/actionplane/browserctl/internal/eventlog"
	"github.com/actionplane/browserctl/internal/transport"
)

// candidates lists executable names to probe via exec.LookPath, in
// preference order, when no explicit path is configured.
var candidates = []string{
	"google-chrome-stable", "google-chrome", "chromium-browser", "chromium",
	"microsoft-edge-stable", "microsoft-edge", "brave-browser", "brave",
}

// Options configures one launch.
type Options struct {
	Profile       string
	Port          int
	StateDir      string
	Headless      bool
	ExecutablePath string
	ExtensionDir  string
	StealthArgs   []string
}

// Result is what callers need to drive the new instance.
type Result struct {
	Process      *os.Process
	CdpPort      int
	CdpWsURL     string
	UserDataDir  string
}

// userDataDir returns the deterministic profile directory for profile,
// rooted under stateDir.
func userDataDir(stateDir, profile string) string {
	return filepath.Join(stateDir, "profiles", profile)
}

// discoverExecutable returns opts.ExecutablePath if set, else the first
// candidate resolvable on PATH.
func discoverExecutable(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	for _, name := range candidates {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", berrors.New(berrors.BrowserOperation, "no Chromium-family browser found on PATH")
}

func buildArgv(exePath string, opts Options, dataDir string) []string {
	argv := []string{
		exePath,
		fmt.Sprintf("--remote-debugging-port=%d", opts.Port),
		"--user-data-dir=" + dataDir,
		"--no-first-run",
		"--no-default-browser-check",
	}
	if opts.Headless {
		argv = append(argv, "--headless=new")
	}
	if opts.ExtensionDir != "" {
		argv = append(argv,
			"--load-extension="+opts.ExtensionDir,
			"--disable-extensions-except="+opts.ExtensionDir,
		)
	}
	argv = append(argv, opts.StealthArgs...)
	return argv
}

type versionInfo struct {
	WebSocketDebuggerUrl string `json:"webSocketDebuggerUrl"`
}

// Launch spawns a browser per opts and blocks until its CDP endpoint
// accepts connections, or the 15s readiness window elapses.
func Launch(ctx context.Context, opts Options) (*Result, error) {
	exePath, err := discoverExecutable(opts.ExecutablePath)
	if err != nil {
		return nil, err
	}

	dataDir := userDataDir(opts.StateDir, opts.Profile)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, berrors.Wrap(berrors.Io, "mkdir profile dir", err)
	}

	argv := buildArgv(exePath, opts, dataDir)
	proc, err := transport.Spawn(argv, os.Environ())
	if err != nil {
		return nil, err
	}
	eventlog.LauncherEvent(opts.Profile, "spawned", map[string]interface{}{
		"pid": proc.Pid, "port": opts.Port,
	})

	wsURL, err := awaitReady(ctx, opts.Port, 15*time.Second)
	if err != nil {
		transport.Terminate(proc.Pid, 2*time.Second)
		return nil, err
	}

	return &Result{Process: proc, CdpPort: opts.Port, CdpWsURL: wsURL, UserDataDir: dataDir}, nil
}

// awaitReady polls the CDP version endpoint every 200ms until it
// returns 2xx, returning the advertised WebSocket URL. A single
// best-effort GET per tick is used rather than transport.HTTPClient's
// retry policy, since retry backoff would blow past the 200ms cadence.
func awaitReady(ctx context.Context, port int, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	url := "http://127.0.0.1:" + strconv.Itoa(port) + "/json/version"
	client := &http.Client{Timeout: 500 * time.Millisecond}
	for time.Now().Before(deadline) {
		if info, ok := fetchVersion(ctx, client, url); ok {
			return info.WebSocketDebuggerUrl, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(200 * time.Millisecond):
		}
	}
	return "", berrors.NewTimeout("launch", timeout.Milliseconds())
}

func fetchVersion(ctx context.Context, client *http.Client, url string) (versionInfo, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return versionInfo{}, false
	}
	resp, err := client.Do(req)
	if err != nil {
		return versionInfo{}, false
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return versionInfo{}, false
	}
	var info versionInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil || info.WebSocketDebuggerUrl == "" {
		return versionInfo{}, false
	}
	return info, true
}

// IsAlive implements the aliveness test from spec.md §4.2: the
// profile's SingletonLock file must exist and the CDP endpoint must
// respond, so a stale record pointing at a recycled port is not
// mistaken for a live instance.
func IsAlive(ctx context.Context, stateDir, profile string, port int) bool {
	dataDir := userDataDir(stateDir, profile)
	if _, err := os.Stat(filepath.Join(dataDir, "SingletonLock")); err != nil {
		return false
	}
	url := "http://127.0.0.1:" + strconv.Itoa(port) + "/json/version"
	return transport.Probe(ctx, url, 2*time.Second)
}
