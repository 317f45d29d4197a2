package transport

import (
	"os"
	"os/exec"
	"time"

	"golang.org/x/sys/unix"

	"github.com/actionplane/browserctl/internal/berrors"
)

// Spawn starts argv[0] with the remaining entries as arguments, detached
// from the controlling terminal's stdio, and returns the handle.
func Spawn(argv []string, env []string) (*os.Process, error) {
	if len(argv) == 0 {
		return nil, berrors.New(berrors.Io, "empty argv")
	}
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Env = env
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return nil, berrors.Wrap(berrors.Io, "spawn "+argv[0], err)
	}
	return cmd.Process, nil
}

// Alive reports whether pid is still running, using a signal-0 probe
// rather than inspecting /proc, so it behaves the same across the
// process-kill helpers below.
func Alive(pid int) bool {
	return unix.Kill(pid, 0) == nil
}

// Terminate sends SIGTERM, waits up to grace for the process to exit
// (polling Alive), then sends SIGKILL if it is still running. It never
// shells out to an external kill binary, matching the discipline in
// original_source's terminate_chrome.
func Terminate(pid int, grace time.Duration) {
	_ = unix.Kill(pid, unix.SIGTERM)

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !Alive(pid) {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}

	if Alive(pid) {
		_ = unix.Kill(pid, unix.SIGKILL)
	}
}
