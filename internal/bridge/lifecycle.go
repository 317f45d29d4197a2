package bridge

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/actionplane/browserctl/internal/berrors"
	"github.com/actionplane/browserctl/internal/eventlog"
	"github.com/actionplane/browserctl/internal/transport"
)

// GenerateToken returns a random 32-byte hex token for bridge.token.
func GenerateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", berrors.Wrap(berrors.Io, "generate bridge token", err)
	}
	return hex.EncodeToString(buf), nil
}

// WritePortFile and WriteTokenFile persist the daemon's discoverable
// state atomically; DeletePortFile/DeleteTokenFile remove it on clean
// shutdown, including signal paths (the caller is expected to call
// these from a deferred cleanup, matching original_source's
// serve_isolated teardown sequence).
func WritePortFile(path string, port int) error {
	return transport.WriteAtomic(path, []byte(strconv.Itoa(port)), 0o644)
}

func WriteTokenFile(path string, token string) error {
	return transport.WriteAtomic(path, []byte(token), 0o600)
}

func DeletePortFile(path string) { os.Remove(path) }
func DeleteTokenFile(path string) { os.Remove(path) }

// ReadPortFile returns the port recorded in path, if any.
func ReadPortFile(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	port, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}
	return port, true
}

// ReadTokenFile returns the token recorded in path, if any.
func ReadTokenFile(path string) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(data)), true
}

// IsRunning reports true iff a bare WebSocket handshake to port
// succeeds within 2s. It does not register as extension or CLI; it
// just proves the daemon accepts connections.
func IsRunning(ctx context.Context, port int) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	url := fmt.Sprintf("ws://127.0.0.1:%d", port)
	dialer := websocket.Dialer{HandshakeTimeout: 2 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// SpawnDetached is provided by the caller (the host knows its own
// executable path and daemon subcommand); EnsureRunning below takes it
// as a parameter rather than hard-coding os.Args[0] assumptions here.
type SpawnFunc func(port int) error

// EnsureRunning implements spec.md §4.5: if the daemon is already
// running, return autoStarted=false; otherwise invoke spawn, poll
// IsRunning for up to 30s, and return autoStarted=true once it flips.
func EnsureRunning(ctx context.Context, port int, spawn SpawnFunc) (autoStarted bool, err error) {
	if IsRunning(ctx, port) {
		return false, nil
	}

	if err := spawn(port); err != nil {
		return false, berrors.Wrap(berrors.BridgeUnreachable, "spawn bridge daemon", err)
	}

	deadline := time.Now().Add(30 * time.Second)
	for time.Now().Before(deadline) {
		if IsRunning(ctx, port) {
			eventlog.BridgeEvent("auto_started", "", map[string]interface{}{"port": port})
			return true, nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return false, berrors.NewTimeout("bridge daemon start", 30000)
}

// Stop sends a shutdown control message and waits for the connection to
// close. Only the process that set autoStarted=true from EnsureRunning
// should call this, per the ownership invariant in spec.md §4.8.
func Stop(ctx context.Context, port int) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	url := fmt.Sprintf("ws://127.0.0.1:%d", port)
	dialer := websocket.Dialer{HandshakeTimeout: 2 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return berrors.Wrap(berrors.BridgeUnreachable, "dial bridge for shutdown", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"type": "shutdown"}); err != nil {
		return berrors.Wrap(berrors.BridgeUnreachable, "send shutdown", err)
	}
	_, _, _ = conn.ReadMessage() // drain until close
	return nil
}
