// Package config defines the host-facing configuration struct the
// dispatcher consumes. File-format and CLI-flag parsing remain outside
// this repository's scope (spec.md Non-goals); the host is expected to
// populate DispatcherConfig however it likes and pass it in.
package config

import (
	"os"
	"path/filepath"
	"strconv"

	"github.com/actionplane/browserctl/internal/backend"
)

// DispatcherConfig carries the resolved defaults C8 needs: which
// backend to prefer absent an explicit override, the ports each
// transport listens on, whether the bridge requires token auth, and
// where on-disk state lives.
type DispatcherConfig struct {
	DefaultBackend      backend.Kind
	CdpPort             int
	IsolatedCdpPort     int
	BridgePort          int
	CamoufoxURL         string
	BridgeTokenRequired bool
	StateDir            string
}

const (
	DefaultCdpPort         = 9222
	DefaultIsolatedCdpPort = 9333
	DefaultBridgePort      = 19222
	DefaultCamoufoxURL     = "http://localhost:9377"
)

// Default returns the zero-configuration posture: CDP backend, standard
// ports, token enforcement on, state under the user's home directory.
func Default() DispatcherConfig {
	return DispatcherConfig{
		DefaultBackend:      backend.Cdp,
		CdpPort:             DefaultCdpPort,
		IsolatedCdpPort:     DefaultIsolatedCdpPort,
		BridgePort:          DefaultBridgePort,
		CamoufoxURL:         DefaultCamoufoxURL,
		BridgeTokenRequired: true,
		StateDir:            defaultStateDir(),
	}
}

// FromEnv overlays environment variables onto Default(), matching the
// teacher's posture of reading configuration via os.Getenv rather than
// a config-file library.
func FromEnv() DispatcherConfig {
	cfg := Default()
	if v := os.Getenv("BROWSERCTL_BACKEND"); v != "" {
		cfg.DefaultBackend = backend.Kind(v)
	}
	if v := os.Getenv("BROWSERCTL_CDP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.CdpPort = p
		}
	}
	if v := os.Getenv("BROWSERCTL_BRIDGE_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.BridgePort = p
		}
	}
	if v := os.Getenv("BROWSERCTL_CAMOUFOX_URL"); v != "" {
		cfg.CamoufoxURL = v
	}
	if v := os.Getenv("BROWSERCTL_STATE_DIR"); v != "" {
		cfg.StateDir = v
	}
	return cfg
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".browserctl")
}

func (c DispatcherConfig) SessionsDir() string {
	return filepath.Join(c.StateDir, "sessions")
}

func (c DispatcherConfig) BridgePortFile() string {
	return filepath.Join(c.StateDir, "bridge.port")
}

func (c DispatcherConfig) BridgeTokenFile() string {
	return filepath.Join(c.StateDir, "bridge.token")
}

func (c DispatcherConfig) ExtensionDir() string {
	return filepath.Join(c.StateDir, "extension")
}
