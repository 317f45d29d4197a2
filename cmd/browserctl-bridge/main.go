// Command browserctl-bridge is the detached daemon process the
// Extension Backend connects to: a single WebSocket endpoint pairing
// one browser extension with N CLI clients, plus an HTTP control
// surface for health and metrics. Lifecycle orchestration (port/token
// file bookkeeping, signal-driven teardown) is grounded on
// original_source's serve_isolated sequence.
package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/actionplane/browserctl/internal/bridge"
	"github.com/actionplane/browserctl/internal/bridgectl"
	"github.com/actionplane/browserctl/internal/config"
)

const controlShutdownGrace = 5 * time.Second

// awaitBound blocks until ListenAndServe has bound its listener and
// resolved the final port (relevant when port 0 was requested).
func awaitBound(d *bridge.Daemon, timeout time.Duration) int {
	select {
	case <-d.Ready():
	case <-time.After(timeout):
	}
	return d.Port
}

func main() {
	cfg := config.FromEnv()

	port := cfg.BridgePort
	if v := os.Getenv("BROWSERCTL_BRIDGE_LISTEN_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			port = p
		}
	}

	if err := os.MkdirAll(cfg.StateDir, 0o755); err != nil {
		log.Fatalf("bridge: create state dir: %v", err)
	}

	bridge.DeletePortFile(cfg.BridgePortFile())
	bridge.DeleteTokenFile(cfg.BridgeTokenFile())

	var token string
	if cfg.BridgeTokenRequired {
		t, err := bridge.GenerateToken()
		if err != nil {
			log.Fatalf("bridge: generate token: %v", err)
		}
		token = t
		if err := bridge.WriteTokenFile(cfg.BridgeTokenFile(), token); err != nil {
			log.Printf("bridge: failed to write token file: %v", err)
		}
	}

	d := bridge.New(port, token)
	ctl := bridgectl.New(d)
	d.OnExtensionChange = func(online bool) {
		if online {
			ctl.NoteExtensionConnect()
		} else {
			ctl.NoteExtensionDisconnect()
		}
	}
	d.AllowCliRequest = ctl.AllowRequest

	controlPort := port + 1
	if v := os.Getenv("BROWSERCTL_BRIDGE_CONTROL_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			controlPort = p
		}
	}
	controlLn, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(controlPort))
	if err != nil {
		log.Fatalf("bridge: listen control port: %v", err)
	}
	controlSrv := &http.Server{Handler: ctl}
	go func() {
		if err := controlSrv.Serve(controlLn); err != nil && err != http.ErrServerClosed {
			log.Printf("bridge: control server: %v", err)
		}
	}()

	serveErr := make(chan error, 1)
	go func() { serveErr <- d.ListenAndServe() }()

	boundPort := awaitBound(d, 5*time.Second)
	if err := bridge.WritePortFile(cfg.BridgePortFile(), boundPort); err != nil {
		log.Printf("bridge: failed to write port file: %v", err)
	}

	log.Printf("browserctl-bridge: listening on ws://127.0.0.1:%d, control on http://127.0.0.1:%d", d.Port, controlPort)
	if token != "" {
		log.Printf("browserctl-bridge: token required, written to %s", cfg.BridgeTokenFile())
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("browserctl-bridge: received %s, shutting down", sig)
	case err := <-serveErr:
		if err != nil {
			log.Printf("browserctl-bridge: listener exited: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), controlShutdownGrace)
	defer cancel()
	controlSrv.Shutdown(ctx)
	d.Shutdown(ctx)

	bridge.DeletePortFile(cfg.BridgePortFile())
	bridge.DeleteTokenFile(cfg.BridgeTokenFile())
}
