package nixmate

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// RunOutcome is the terminal condition of a supervised process.
type RunOutcome int

const (
	RunSucceeded RunOutcome = iota
	RunFailed
	RunCancelled
)

// ExitStatus reports how the supervised process group ended.
type ExitStatus struct {
	Outcome   RunOutcome
	Code      int    // exit code, -1 when signal-terminated
	Err       error  // wait error for failed runs, nil otherwise
	StreamErr error  // non-nil if the output pipe broke before EOF
}

// StreamMsg is one message on the supervisor's output channel: either a raw
// chunk of merged stdout+stderr, or the single final Exit message.
type StreamMsg struct {
	Chunk []byte
	Exit  *ExitStatus
}

// SpawnError means the command could not be started at all. No BuildRun
// exists for a spawn failure and it is never retried automatically.
type SpawnError struct {
	Cmd string
	Err error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to spawn %s: %v", e.Cmd, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Supervisor spawns the privileged rebuild command in its own process group
// and streams its merged output. Cancel signals the whole group so sudo's
// descendants (nix, activation scripts) die with it.
type Supervisor struct {
	Grace time.Duration // SIGTERM -> SIGKILL escalation window
}

func NewSupervisor(grace time.Duration) *Supervisor {
	if grace <= 0 {
		grace = defaultCancelGrace * time.Second
	}
	return &Supervisor{Grace: grace}
}

// RunHandle identifies one supervised process group.
type RunHandle struct {
	pgid      int
	msgs      chan StreamMsg
	done      chan struct{} // closed once Wait returns
	cancelled atomic.Bool
}

// Events returns the single-consumer message channel. It carries raw output
// chunks in arrival order and is closed after exactly one Exit message.
func (h *RunHandle) Events() <-chan StreamMsg { return h.msgs }

// Start launches name args... as a new process group leader with stdout and
// stderr merged into one ordered pipe. It returns without waiting for the
// process; output and the exit condition arrive on the handle's channel.
func (s *Supervisor) Start(name string, args ...string) (*RunHandle, error) {
	cmd := exec.Command(name, args...)

	// One pipe for both streams keeps interleaving in true arrival order,
	// unlike separate StdoutPipe/StderrPipe readers.
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, &SpawnError{Cmd: name, Err: err}
	}
	cmd.Stdout = pw
	cmd.Stderr = pw

	// Process group isolation so Cancel can signal descendants too.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		pr.Close()
		pw.Close()
		return nil, &SpawnError{Cmd: name, Err: err}
	}
	// The child holds its own copy of the write end.
	pw.Close()

	h := &RunHandle{
		pgid: cmd.Process.Pid,
		msgs: make(chan StreamMsg, 128),
		done: make(chan struct{}),
	}

	go s.stream(cmd, pr, h)
	return h, nil
}

// stream pumps the merged pipe into the handle channel, then waits for the
// process and delivers the final Exit message.
func (s *Supervisor) stream(cmd *exec.Cmd, pr *os.File, h *RunHandle) {
	var streamErr error
	buf := make([]byte, 32*1024)
	for {
		n, err := pr.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			h.msgs <- StreamMsg{Chunk: chunk}
		}
		if err != nil {
			if err != io.EOF {
				streamErr = err
			}
			break
		}
	}
	pr.Close()

	waitErr := cmd.Wait()
	close(h.done)

	h.msgs <- StreamMsg{Exit: s.classifyExit(waitErr, streamErr, h.cancelled.Load())}
	close(h.msgs)
}

func (s *Supervisor) classifyExit(waitErr, streamErr error, cancelled bool) *ExitStatus {
	st := &ExitStatus{StreamErr: streamErr}

	switch {
	case cancelled:
		// Termination following our own cancel request, whatever the
		// process reported.
		st.Outcome = RunCancelled
		st.Code = exitCode(waitErr)
	case waitErr == nil && streamErr == nil:
		st.Outcome = RunSucceeded
	default:
		st.Outcome = RunFailed
		st.Code = exitCode(waitErr)
		st.Err = waitErr
		if st.Err == nil {
			st.Err = streamErr
		}
	}
	return st
}

func exitCode(waitErr error) int {
	if waitErr == nil {
		return 0
	}
	if ee, ok := waitErr.(*exec.ExitError); ok {
		return ee.ExitCode()
	}
	return -1
}

// Cancel sends SIGTERM to the whole process group and escalates to SIGKILL
// after the grace period unless the group exits first. It returns immediately;
// the effect is observed through the Exit message. Calling Cancel more than
// once is harmless.
func (s *Supervisor) Cancel(h *RunHandle) {
	if h == nil || !h.cancelled.CompareAndSwap(false, true) {
		return
	}
	_ = unix.Kill(-h.pgid, unix.SIGTERM)

	go func() {
		select {
		case <-h.done:
			// Group exited within the grace period.
		case <-time.After(s.Grace):
			_ = unix.Kill(-h.pgid, unix.SIGKILL)
		}
	}()
}
