package livestream

import (
	"errors"
	"sync"
)

// fakeProcess is a Process that exits when killed unless ignoreKill is set.
type fakeProcess struct {
	pid        int
	ignoreKill bool

	mu     sync.Mutex
	kills  int
	done   chan struct{}
	once   sync.Once
	exitEr error
}

func newFakeProcess(pid int) *fakeProcess {
	return &fakeProcess{pid: pid, done: make(chan struct{})}
}

func (p *fakeProcess) Pid() int { return p.pid }

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	p.kills++
	p.mu.Unlock()
	if !p.ignoreKill {
		p.exit(errors.New("signal: killed"))
	}
	return nil
}

func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitEr
}

func (p *fakeProcess) exit(err error) {
	p.once.Do(func() {
		p.mu.Lock()
		p.exitEr = err
		p.mu.Unlock()
		close(p.done)
	})
}

func (p *fakeProcess) killCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.kills
}

// fakeLauncher hands out fakeProcesses and records every invocation.
type fakeLauncher struct {
	mu          sync.Mutex
	nextPID     int
	err         error
	ignoreKill  bool
	invocations []Invocation
	procs       []*fakeProcess
}

func (l *fakeLauncher) Launch(inv Invocation) (Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.invocations = append(l.invocations, inv)
	if l.err != nil {
		return nil, l.err
	}
	l.nextPID++
	p := newFakeProcess(1000 + l.nextPID)
	p.ignoreKill = l.ignoreKill
	l.procs = append(l.procs, p)
	return p, nil
}

func (l *fakeLauncher) launched() []*fakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*fakeProcess, len(l.procs))
	copy(out, l.procs)
	return out
}

// exitAll releases any process still running so watch goroutines finish.
func (l *fakeLauncher) exitAll() {
	for _, p := range l.launched() {
		p.exit(nil)
	}
}
