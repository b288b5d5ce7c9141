package livestream

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Process is a running transcoder as seen by the supervisor.
type Process interface {
	Pid() int
	// Kill forcibly terminates the process. It does not wait for exit.
	Kill() error
	// Done is closed once the process has exited and been reaped.
	Done() <-chan struct{}
	// Err returns the exit error. Only meaningful after Done is closed.
	Err() error
}

// Invocation is a fully built transcoder command line.
type Invocation struct {
	Path    string
	Args    []string
	LogPath string
}

// String renders the command line for logs.
func (inv Invocation) String() string {
	return inv.Path + " " + strings.Join(inv.Args, " ")
}

// Launcher starts transcoder processes.
type Launcher interface {
	Launch(inv Invocation) (Process, error)
}

// ExecLauncher launches the transcoder as an OS subprocess. Its combined
// stdout and stderr are appended to inv.LogPath, never to the server's logs.
type ExecLauncher struct{}

// Launch starts inv. A log file that cannot be opened yields ErrIO; a process
// that cannot be started yields ErrSpawn.
func (ExecLauncher) Launch(inv Invocation) (Process, error) {
	logFile, err := os.OpenFile(inv.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: open transcoder log: %v", ErrIO, err)
	}

	// #nosec G204 -- path and arguments come from startup configuration and an allow-listed key
	cmd := exec.Command(inv.Path, inv.Args...)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		_ = logFile.Close()
		return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go p.reap(logFile)
	return p, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
}

func (p *execProcess) reap(logFile *os.File) {
	err := p.cmd.Wait()
	_ = logFile.Close()
	p.err = err
	close(p.done)
}

func (p *execProcess) Pid() int {
	return p.cmd.Process.Pid
}

func (p *execProcess) Kill() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	return killProcessGroup(p.cmd.Process)
}

func (p *execProcess) Done() <-chan struct{} {
	return p.done
}

func (p *execProcess) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}
