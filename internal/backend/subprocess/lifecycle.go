package subprocess

import (
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// liveProcess owns one spawned child for the duration of one Execute
// call. terminate is idempotent and safe to call from Cancel(), from
// the ctx-cancellation watcher, and from the run loop's own cleanup —
// exactly one of those callers does the actual signaling.
type liveProcess struct {
	cmd  *exec.Cmd
	done chan struct{}

	mu         sync.Mutex
	terminated bool
}

// terminate sends a graceful termination signal to the whole process
// group, waits up to gracePeriod, then escalates to a forceful kill
// (§4.3 Termination / Cancel).
func (p *liveProcess) terminate() {
	p.mu.Lock()
	if p.terminated {
		p.mu.Unlock()
		return
	}
	p.terminated = true
	p.mu.Unlock()

	if p.cmd.Process == nil {
		return
	}
	pgid := p.cmd.Process.Pid
	_ = syscall.Kill(-pgid, syscall.SIGTERM)

	select {
	case <-p.done:
		return
	case <-time.After(gracePeriod):
	}

	_ = syscall.Kill(-pgid, syscall.SIGKILL)
	<-p.done
}
