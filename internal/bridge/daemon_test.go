package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func startTestDaemon(t *testing.T) *Daemon {
	t.Helper()
	d := New(0, "")
	errCh := make(chan error, 1)
	go func() { errCh <- d.ListenAndServe() }()

	require.Eventually(t, func() bool { return d.Port != 0 }, 2*time.Second, 10*time.Millisecond)
	t.Cleanup(func() {
		d.Shutdown(context.Background())
	})
	return d
}

func wsDial(t *testing.T, port int) *websocket.Conn {
	t.Helper()
	url := fmt.Sprintf("ws://127.0.0.1:%d", port)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

func recvJSON(t *testing.T, conn *websocket.Conn, timeout time.Duration) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(timeout))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var v map[string]any
	require.NoError(t, json.Unmarshal(data, &v))
	return v
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

func TestCliWithoutExtensionGetsError(t *testing.T) {
	d := startTestDaemon(t)
	cli := wsDial(t, d.Port)
	defer cli.Close()

	sendJSON(t, cli, map[string]any{
		"type": "cli", "id": 1, "method": "Page.navigate",
		"params": map[string]any{"url": "https://example.com"},
	})

	resp := recvJSON(t, cli, 3*time.Second)
	errObj, ok := resp["error"].(map[string]any)
	require.True(t, ok, "expected error field")
	require.Contains(t, errObj["message"], "not connected")
}

func TestFullRoundtripExtensionToCli(t *testing.T) {
	d := startTestDaemon(t)

	ext := wsDial(t, d.Port)
	defer ext.Close()
	sendJSON(t, ext, map[string]any{"type": "extension"})
	time.Sleep(50 * time.Millisecond)

	cli := wsDial(t, d.Port)
	defer cli.Close()
	sendJSON(t, cli, map[string]any{
		"type": "cli", "id": 42, "method": "Runtime.evaluate",
		"params": map[string]any{"expression": "1+1"},
	})

	extMsg := recvJSON(t, ext, 3*time.Second)
	require.Equal(t, "Runtime.evaluate", extMsg["method"])
	bridgeID := extMsg["id"].(float64)

	sendJSON(t, ext, map[string]any{
		"id":     bridgeID,
		"result": map[string]any{"result": map[string]any{"type": "number", "value": 2}},
	})

	cliResp := recvJSON(t, cli, 3*time.Second)
	require.Equal(t, float64(42), cliResp["id"])
	result, ok := cliResp["result"].(map[string]any)
	require.True(t, ok)
	inner := result["result"].(map[string]any)
	require.Equal(t, float64(2), inner["value"])
}

func TestExtensionErrorForwardedToCli(t *testing.T) {
	d := startTestDaemon(t)

	ext := wsDial(t, d.Port)
	defer ext.Close()
	sendJSON(t, ext, map[string]any{"type": "extension"})
	time.Sleep(50 * time.Millisecond)

	cli := wsDial(t, d.Port)
	defer cli.Close()
	sendJSON(t, cli, map[string]any{
		"type": "cli", "id": 7, "method": "Page.navigate",
		"params": map[string]any{"url": "chrome://invalid"},
	})

	extMsg := recvJSON(t, ext, 3*time.Second)
	bridgeID := extMsg["id"].(float64)

	sendJSON(t, ext, map[string]any{
		"id":    bridgeID,
		"error": map[string]any{"code": -32000, "message": "Cannot navigate to chrome:// URLs"},
	})

	cliResp := recvJSON(t, cli, 3*time.Second)
	require.Equal(t, float64(7), cliResp["id"])
	errObj := cliResp["error"].(map[string]any)
	require.Contains(t, errObj["message"], "chrome://")
}

func TestConcurrentCliUniqueBridgeIDs(t *testing.T) {
	d := startTestDaemon(t)

	ext := wsDial(t, d.Port)
	defer ext.Close()
	sendJSON(t, ext, map[string]any{"type": "extension"})
	time.Sleep(50 * time.Millisecond)

	cli1 := wsDial(t, d.Port)
	defer cli1.Close()
	sendJSON(t, cli1, map[string]any{
		"type": "cli", "id": 1, "method": "Page.navigate",
		"params": map[string]any{"url": "https://a.com"},
	})
	msg1 := recvJSON(t, ext, 3*time.Second)
	id1 := msg1["id"].(float64)

	cli2 := wsDial(t, d.Port)
	defer cli2.Close()
	sendJSON(t, cli2, map[string]any{
		"type": "cli", "id": 1, "method": "Page.navigate",
		"params": map[string]any{"url": "https://b.com"},
	})
	msg2 := recvJSON(t, ext, 3*time.Second)
	id2 := msg2["id"].(float64)

	require.NotEqual(t, id1, id2)

	sendJSON(t, ext, map[string]any{"id": id2, "result": map[string]any{"url": "https://b.com"}})
	sendJSON(t, ext, map[string]any{"id": id1, "result": map[string]any{"url": "https://a.com"}})

	resp2 := recvJSON(t, cli2, 3*time.Second)
	result2 := resp2["result"].(map[string]any)
	require.Equal(t, "https://b.com", result2["url"])

	resp1 := recvJSON(t, cli1, 3*time.Second)
	result1 := resp1["result"].(map[string]any)
	require.Equal(t, "https://a.com", result1["url"])
}

func TestIsRunning(t *testing.T) {
	d := startTestDaemon(t)
	require.True(t, IsRunning(context.Background(), d.Port))
}

func TestIsRunningFalseWhenNoServer(t *testing.T) {
	require.False(t, IsRunning(context.Background(), 19))
}

func TestDuplicateExtensionRejected(t *testing.T) {
	d := startTestDaemon(t)

	ext1 := wsDial(t, d.Port)
	defer ext1.Close()
	sendJSON(t, ext1, map[string]any{"type": "extension"})
	time.Sleep(50 * time.Millisecond)

	ext2 := wsDial(t, d.Port)
	defer ext2.Close()
	sendJSON(t, ext2, map[string]any{"type": "extension"})

	resp := recvJSON(t, ext2, 3*time.Second)
	errObj, ok := resp["error"].(map[string]any)
	require.True(t, ok)
	require.Contains(t, errObj["message"], "already registered")
}

func TestTokenMismatchRejectsCli(t *testing.T) {
	d := New(0, "secret-token")
	go d.ListenAndServe()
	require.Eventually(t, func() bool { return d.Port != 0 }, 2*time.Second, 10*time.Millisecond)
	t.Cleanup(func() { d.Shutdown(context.Background()) })

	cli := wsDial(t, d.Port)
	defer cli.Close()
	sendJSON(t, cli, map[string]any{"type": "cli", "token": "wrong"})

	cli.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
	_, _, err := cli.ReadMessage()
	require.Error(t, err) // connection closed by daemon
}

func TestReadyClosesOncePortIsBound(t *testing.T) {
	d := New(0, "")
	go d.ListenAndServe()
	t.Cleanup(func() { d.Shutdown(context.Background()) })

	select {
	case <-d.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("Ready() never closed")
	}
	require.NotZero(t, d.Port)
}

func TestStatsReflectsExtensionAndCliOccupancy(t *testing.T) {
	d := startTestDaemon(t)

	stats := d.Stats()
	require.False(t, stats.ExtensionOnline)
	require.Zero(t, stats.CliCount)

	ext := wsDial(t, d.Port)
	defer ext.Close()
	sendJSON(t, ext, map[string]any{"type": "extension"})
	time.Sleep(50 * time.Millisecond)

	cli := wsDial(t, d.Port)
	defer cli.Close()
	sendJSON(t, cli, map[string]any{"type": "cli"})
	time.Sleep(50 * time.Millisecond)

	stats = d.Stats()
	require.True(t, stats.ExtensionOnline)
	require.Equal(t, 1, stats.CliCount)
}

func TestAllowCliRequestGatesForwardingToExtension(t *testing.T) {
	d := startTestDaemon(t)
	d.AllowCliRequest = func(clientID string) bool { return false }

	ext := wsDial(t, d.Port)
	defer ext.Close()
	sendJSON(t, ext, map[string]any{"type": "extension"})
	time.Sleep(50 * time.Millisecond)

	cli := wsDial(t, d.Port)
	defer cli.Close()
	sendJSON(t, cli, map[string]any{
		"type": "cli", "id": 1, "method": "Page.navigate",
		"params": map[string]any{"url": "https://example.com"},
	})

	resp := recvJSON(t, cli, 3*time.Second)
	errObj, ok := resp["error"].(map[string]any)
	require.True(t, ok, "expected rate-limit error")
	require.Contains(t, errObj["message"], "rate limit")
}

func TestOnExtensionChangeFiresOnConnectAndDisconnect(t *testing.T) {
	d := startTestDaemon(t)

	events := make(chan bool, 2)
	d.OnExtensionChange = func(online bool) { events <- online }

	ext := wsDial(t, d.Port)
	sendJSON(t, ext, map[string]any{"type": "extension"})

	select {
	case online := <-events:
		require.True(t, online)
	case <-time.After(2 * time.Second):
		t.Fatal("did not observe connect event")
	}

	ext.Close()

	select {
	case online := <-events:
		require.False(t, online)
	case <-time.After(2 * time.Second):
		t.Fatal("did not observe disconnect event")
	}
}
