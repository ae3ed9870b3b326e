// Package ptyproc wraps a child process attached to a pseudoterminal.
//
// It is grounded on the teacher's own PTY glue (internal/terminal/wrapper.go
// and internal/virtualterminal/vt.go, both of which call
// pty.StartWithSize/pty.Setsize from github.com/creack/pty) generalized to
// the spec's take_reader/take_writer/resize/take_child contract: the
// reader and writer are each consumed exactly once by a dedicated
// blocking worker thread, and the child handle is consumed once by the
// wait thread.
package ptyproc

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"

	"github.com/creack/pty"
)

// SpawnCommand selects what to run inside the PTY: either the user's
// shell, or an explicit command line. Exactly one of ShellCmd/ExecCmd
// should be set; NewShellCommand/NewExecCommand construct valid values.
type SpawnCommand struct {
	ShellCmd *ShellCommand
	ExecCmd  *ExecCommand
}

// ShellCommand launches the user's shell (or an explicit override).
type ShellCommand struct {
	Interactive bool
	Shell       string // empty means resolve from $SHELL, falling back to /bin/sh
}

// ExecCommand launches an explicit command line via the shell's -c.
type ExecCommand struct {
	Command     string
	Interactive bool
}

// NewShellCommand builds a SpawnCommand that runs the user's shell (or
// shell, if non-empty), passing -i when interactive is set.
func NewShellCommand(shell string, interactive bool) SpawnCommand {
	return SpawnCommand{ShellCmd: &ShellCommand{Shell: shell, Interactive: interactive}}
}

// NewExecCommand builds a SpawnCommand that runs an explicit command line.
func NewExecCommand(command string, interactive bool) SpawnCommand {
	return SpawnCommand{ExecCmd: &ExecCommand{Command: command, Interactive: interactive}}
}

func (sc SpawnCommand) argv() (path string, args []string, err error) {
	switch {
	case sc.ExecCmd != nil:
		shell := resolveShell("")
		args = []string{"-c", sc.ExecCmd.Command}
		if sc.ExecCmd.Interactive {
			args = append([]string{"-i"}, args...)
		}
		return shell, args, nil
	case sc.ShellCmd != nil:
		shell := resolveShell(sc.ShellCmd.Shell)
		if sc.ShellCmd.Interactive {
			return shell, []string{"-i"}, nil
		}
		return shell, nil, nil
	default:
		return "", nil, fmt.Errorf("ptyproc: SpawnCommand has neither ShellCmd nor ExecCmd set")
	}
}

func resolveShell(override string) string {
	if override != "" {
		return override
	}
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	return "/bin/sh"
}

// Pty owns a PTY master/slave pair and the child process attached to its
// slave end. The child runs in its own session (setsid), so signaling it
// and its descendants means signaling the process group, not just the PID.
type Pty struct {
	ptm *os.File
	cmd *exec.Cmd

	readerTaken sync.Once
	writerTaken sync.Once
	childTaken  sync.Once
}

// Spawn starts cmd's child inside a new PTY of the given size, applying
// cwd and env overrides. The child becomes its own session leader so
// force_kill/send_sighup can signal the whole process group.
func Spawn(rows, cols int, command SpawnCommand, cwd string, env map[string]string) (*Pty, error) {
	path, args, err := command.argv()
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(path, args...)
	if cwd != "" {
		cmd.Dir = cwd
	}
	if len(env) > 0 {
		cmd.Env = mergeEnv(os.Environ(), env)
	}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	ptm, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
	if err != nil {
		return nil, fmt.Errorf("ptyproc: start command: %w", err)
	}

	return &Pty{ptm: ptm, cmd: cmd}, nil
}

func mergeEnv(base []string, overrides map[string]string) []string {
	env := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		key := kv
		if idx := indexByte(kv, '='); idx >= 0 {
			key = kv[:idx]
		}
		if _, overridden := overrides[key]; !overridden {
			env = append(env, kv)
		}
	}
	for k, v := range overrides {
		env = append(env, k+"="+v)
	}
	return env
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// TakeReader returns the PTY master for reading child output. It may be
// called exactly once; subsequent calls return nil, matching the "take_*"
// consume-once contract — the reader is meant for a single dedicated
// blocking reader thread.
func (p *Pty) TakeReader() (r *os.File) {
	p.readerTaken.Do(func() { r = p.ptm })
	return r
}

// TakeWriter returns the PTY master for writing child input. It may be
// called exactly once, for a single dedicated writer thread.
func (p *Pty) TakeWriter() (w *os.File) {
	p.writerTaken.Do(func() { w = p.ptm })
	return w
}

// TakeChild returns the child process handle for a single dedicated
// wait thread to consume.
func (p *Pty) TakeChild() (c *os.Process) {
	p.childTaken.Do(func() { c = p.cmd.Process })
	return c
}

// PID returns the child's PID, or 0 if no process was started. An
// exited child still reports the PID it ran under.
func (p *Pty) PID() int {
	if p.cmd == nil || p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// Resize propagates TIOCSWINSZ to the PTY.
func (p *Pty) Resize(rows, cols int) error {
	return pty.Setsize(p.ptm, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
}

// Close closes the PTY master end.
func (p *Pty) Close() error {
	return p.ptm.Close()
}

// Wait blocks until the child exits and returns its exit state.
func (p *Pty) Wait() (*os.ProcessState, error) {
	err := p.cmd.Wait()
	return p.cmd.ProcessState, err
}

// signalGroup validates the PID and sends sig to the whole process
// group (-pgid). A PID of 0 or above the platform's signed int32 range is
// logged by the caller and skipped, per spec §4.4 error semantics.
func (p *Pty) signalGroup(sig syscall.Signal) error {
	pid := p.PID()
	if pid <= 0 || pid > 1<<31-1 {
		return fmt.Errorf("ptyproc: refusing to signal invalid pid %d", pid)
	}
	return syscall.Kill(-pid, sig)
}

// SendSIGHUP asks the process group to exit politely.
func (p *Pty) SendSIGHUP() error { return p.signalGroup(syscall.SIGHUP) }

// SendSIGKILL force-kills the whole process group.
func (p *Pty) SendSIGKILL() error { return p.signalGroup(syscall.SIGKILL) }
