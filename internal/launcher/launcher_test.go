package launcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBuildArgvHeadlessAndExtension(t *testing.T) {
	opts := Options{Port: 9222, Headless: true, ExtensionDir: "/tmp/ext"}
	argv := buildArgv("/usr/bin/chrome", opts, "/tmp/profile")

	require.Contains(t, argv, "--remote-debugging-port=9222")
	require.Contains(t, argv, "--user-data-dir=/tmp/profile")
	require.Contains(t, argv, "--headless=new")
	require.Contains(t, argv, "--load-extension=/tmp/ext")
}

func TestBuildArgvVisibleNoExtension(t *testing.T) {
	opts := Options{Port: 9333}
	argv := buildArgv("/usr/bin/chrome", opts, "/tmp/profile")

	for _, a := range argv {
		require.NotEqual(t, "--headless=new", a)
	}
}

func TestDiscoverExecutableExplicitWins(t *testing.T) {
	p, err := discoverExecutable("/custom/chrome")
	require.NoError(t, err)
	require.Equal(t, "/custom/chrome", p)
}

func TestAwaitReadyReturnsWebSocketURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{
			"webSocketDebuggerUrl": "ws://127.0.0.1:1234/devtools/browser/abc",
		})
	}))
	defer srv.Close()

	u, _ := url.Parse(srv.URL)
	port, _ := strconv.Atoi(u.Port())

	wsURL, err := awaitReady(context.Background(), port, 2*time.Second)
	require.NoError(t, err)
	require.Equal(t, "ws://127.0.0.1:1234/devtools/browser/abc", wsURL)
}

func TestAwaitReadyTimesOutWhenNeverReady(t *testing.T) {
	_, err := awaitReady(context.Background(), 1, 300*time.Millisecond)
	require.Error(t, err)
}

func TestIsAliveFalseWithoutLockFile(t *testing.T) {
	require.False(t, IsAlive(context.Background(), t.TempDir(), "default", 9222))
}
