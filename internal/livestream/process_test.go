//go:build unix

package livestream

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func lookPath(t *testing.T, name string) string {
	t.Helper()
	p, err := exec.LookPath(name)
	if err != nil {
		t.Skipf("%s not available: %v", name, err)
	}
	return p
}

func waitDone(t *testing.T, p Process) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process was not reaped")
	}
}

func TestExecLauncher_kill_reaps_process(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	sleep := lookPath(t, "sleep")
	logPath := filepath.Join(t.TempDir(), "abc.log")

	p, err := ExecLauncher{}.Launch(Invocation{Path: sleep, Args: []string{"30"}, LogPath: logPath})
	require.NoError(t, err)
	require.Greater(t, p.Pid(), 0)

	select {
	case <-p.Done():
		t.Fatal("process exited before kill")
	default:
	}

	require.NoError(t, p.Kill())
	waitDone(t, p)

	var exitErr *exec.ExitError
	assert.ErrorAs(t, p.Err(), &exitErr, "killed process should report a signal exit")
	assert.NoError(t, p.Kill(), "kill after exit is a no-op")

	_, err = os.Stat(logPath)
	assert.NoError(t, err, "log file should be created")
}

func TestExecLauncher_kills_process_group(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	sh := lookPath(t, "sh")
	logPath := filepath.Join(t.TempDir(), "group.log")

	// The shell forks a background child and reports its pid; both must die
	// with the group.
	p, err := ExecLauncher{}.Launch(Invocation{Path: sh, Args: []string{"-c", "sleep 30 & echo $!; wait"}, LogPath: logPath})
	require.NoError(t, err)

	var childPID int
	require.Eventually(t, func() bool {
		b, _ := os.ReadFile(logPath)
		line, _, ok := strings.Cut(string(b), "\n")
		if !ok {
			return false
		}
		pid, perr := strconv.Atoi(strings.TrimSpace(line))
		childPID = pid
		return perr == nil
	}, 5*time.Second, 20*time.Millisecond)
	require.NotEqual(t, p.Pid(), childPID)
	require.False(t, processGone(childPID), "background child should be running before kill")

	require.NoError(t, p.Kill())
	waitDone(t, p)

	require.Eventually(t, func() bool { return processGone(childPID) }, 5*time.Second, 20*time.Millisecond,
		"background child %d survived the kill", childPID)
}

// processGone reports whether pid no longer runs. A zombie waiting for a
// non-reaping init counts as gone.
func processGone(pid int) bool {
	if err := syscall.Kill(pid, 0); errors.Is(err, syscall.ESRCH) {
		return true
	}
	b, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return false
	}
	// The state follows the parenthesised command name.
	if i := strings.LastIndexByte(string(b), ')'); i >= 0 && i+2 < len(b) {
		return b[i+2] == 'Z'
	}
	return false
}

func TestExecLauncher_output_goes_to_log_file(t *testing.T) {
	sh := lookPath(t, "sh")
	logPath := filepath.Join(t.TempDir(), "out.log")

	p, err := ExecLauncher{}.Launch(Invocation{Path: sh, Args: []string{"-c", "echo to-stdout; echo to-stderr >&2"}, LogPath: logPath})
	require.NoError(t, err)
	waitDone(t, p)
	assert.NoError(t, p.Err())

	b, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(b), "to-stdout")
	assert.Contains(t, string(b), "to-stderr")
}

func TestExecLauncher_spawn_failure(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "abc.log")
	_, err := ExecLauncher{}.Launch(Invocation{Path: filepath.Join(t.TempDir(), "no-such-ffmpeg"), LogPath: logPath})
	assert.ErrorIs(t, err, ErrSpawn)
}

func TestExecLauncher_log_open_failure(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "missing-dir", "abc.log")
	_, err := ExecLauncher{}.Launch(Invocation{Path: "sleep", Args: []string{"1"}, LogPath: logPath})
	assert.ErrorIs(t, err, ErrIO)
}

func TestController_with_real_process(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	sleep := lookPath(t, "sleep")
	// sleep stands in for ffmpeg: keep the built log path, swap the command.
	launcher := launcherFunc(func(inv Invocation) (Process, error) {
		inv.Path, inv.Args = sleep, []string{"30"}
		return ExecLauncher{}.Launch(inv)
	})
	ctl, table, root := newTestController(t, launcher)

	info, err := ctl.StartSession("abc")
	require.NoError(t, err)
	first := table.Get("abc")
	require.NotNil(t, first)

	_, err = ctl.StartSession("abc")
	require.NoError(t, err)
	assert.True(t, first.Exited(), "replaced transcoder should be reaped within the kill timeout")
	assert.Equal(t, 1, table.Len())

	assert.True(t, ctl.StopSession("abc"))
	assert.Equal(t, 0, table.Len())
	assert.FileExists(t, filepath.Join(root, "abc", "logs", "abc.log"))
	assert.Equal(t, filepath.Join(root, "abc"), info.OutputDir)
}

type launcherFunc func(inv Invocation) (Process, error)

func (f launcherFunc) Launch(inv Invocation) (Process, error) { return f(inv) }
