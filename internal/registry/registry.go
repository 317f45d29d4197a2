// Package registry implements the per-profile Session Registry (C3):
// one SessionRecord file per browser profile, with atomic writes and a
// liveness probe against the recorded CDP endpoint.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/actionplane/browserctl/internal/berrors"
	"github.com/actionplane/browserctl/internal/transport"
)

// SessionRecord is the on-disk shape for one profile's active CDP
// endpoint. At most one record exists per profile name.
type SessionRecord struct {
	ProfileName string    `json:"profile_name"`
	CdpPort     int       `json:"cdp_port"`
	CdpWsURL    string    `json:"cdp_ws_url"`
	PID         *int      `json:"pid,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Status is the result of GetStatus.
type Status string

const (
	Running    Status = "running"
	Stale      Status = "stale"
	NotRunning Status = "not_running"
)

// Registry stores SessionRecords under sessionsDir, one JSON file per
// profile, named "<profile>.json".
type Registry struct {
	sessionsDir string
}

func New(sessionsDir string) *Registry {
	return &Registry{sessionsDir: sessionsDir}
}

func (r *Registry) path(profile string) string {
	return filepath.Join(r.sessionsDir, profile+".json")
}

func (r *Registry) write(rec SessionRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return berrors.Wrap(berrors.Parse, "marshal session record", err)
	}
	return transport.WriteAtomic(r.path(rec.ProfileName), data, 0o644)
}

// SaveExternal records a user-provided CDP endpoint (no pid, since we
// did not launch it).
func (r *Registry) SaveExternal(profile string, port int, wsURL string) error {
	return r.write(SessionRecord{
		ProfileName: profile,
		CdpPort:     port,
		CdpWsURL:    wsURL,
		CreatedAt:   time.Now().UTC(),
	})
}

// SaveLaunched records an endpoint this process launched and owns the
// pid for.
func (r *Registry) SaveLaunched(profile string, port int, wsURL string, pid int) error {
	return r.write(SessionRecord{
		ProfileName: profile,
		CdpPort:     port,
		CdpWsURL:    wsURL,
		PID:         &pid,
		CreatedAt:   time.Now().UTC(),
	})
}

// Load reads the record for profile, if any.
func (r *Registry) Load(profile string) (*SessionRecord, error) {
	data, err := os.ReadFile(r.path(profile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, berrors.Wrap(berrors.Io, "read session record", err)
	}
	var rec SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, berrors.Wrap(berrors.Parse, "unmarshal session record", err)
	}
	return &rec, nil
}

// GetStatus reports Running/Stale/NotRunning per spec.md §4.3: Running
// if a record exists and its endpoint probes OK, Stale if the file
// exists but the probe fails, NotRunning if there is no file.
func (r *Registry) GetStatus(ctx context.Context, profile string) (Status, error) {
	rec, err := r.Load(profile)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return NotRunning, nil
	}
	probeURL := fmt.Sprintf("http://127.0.0.1:%d/json/version", rec.CdpPort)
	if transport.Probe(ctx, probeURL, 2*time.Second) {
		return Running, nil
	}
	return Stale, nil
}

// Clear removes the record for profile, if any.
func (r *Registry) Clear(profile string) error {
	err := os.Remove(r.path(profile))
	if err != nil && !os.IsNotExist(err) {
		return berrors.Wrap(berrors.Io, "remove session record", err)
	}
	return nil
}
