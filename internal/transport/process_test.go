package transport

import (
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAliveReflectsRunningProcess(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())
	defer cmd.Process.Kill()

	require.True(t, Alive(cmd.Process.Pid))
}

func TestAliveFalseForExitedProcess(t *testing.T) {
	cmd := exec.Command("true")
	require.NoError(t, cmd.Start())
	require.NoError(t, cmd.Wait())

	require.False(t, Alive(cmd.Process.Pid))
}

func TestTerminateStopsProcessWithinGrace(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	require.NoError(t, cmd.Start())

	done := make(chan struct{})
	go func() { cmd.Wait(); close(done) }()

	Terminate(cmd.Process.Pid, 2*time.Second)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("process was not reaped after Terminate")
	}
	require.False(t, Alive(cmd.Process.Pid))
}

func TestSpawnRejectsEmptyArgv(t *testing.T) {
	_, err := Spawn(nil, nil)
	require.Error(t, err)
}

func TestSpawnStartsProcess(t *testing.T) {
	proc, err := Spawn([]string{"sleep", "30"}, nil)
	require.NoError(t, err)
	defer proc.Kill()
	require.True(t, Alive(proc.Pid))
}
