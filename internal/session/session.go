// Package session wires one PTY + Broker + VT Parser + activity tracker
// + overlay/panel stores into the composite spec §4.4 calls a session:
// three blocking worker threads (reader, writer, child-waiter) plus the
// async screen-mode watcher and the VT Parser's own task.
//
// Grounded on the teacher's internal/session/daemon.go (the
// reader/writer goroutine shape reading and writing a PTY behind a
// frame codec, since deleted — its per-client loop is now split between
// this package, which owns exactly one PTY per session, and
// internal/streamserver, which owns one loop per attached client) and
// on internal/virtualterminal/vt.go's WritePTY (the PTY write carries a
// deadline so a child that stops reading its stdin can't wedge the
// writer thread forever).
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"wsh/internal/activity"
	"wsh/internal/broadcast"
	"wsh/internal/overlay"
	"wsh/internal/panel"
	"wsh/internal/ptyproc"
	"wsh/internal/taskrunner"
	"wsh/internal/vtparser"
)

// maxClients caps concurrent attached streaming clients per session,
// per spec §4.4.1's connect() contract.
const maxClients = 64

// ptyWriteTimeout bounds a single PTY write; if the child stops reading
// its stdin the kernel PTY buffer fills and a write can block forever,
// so the writer thread gives up after this long and exits rather than
// wedging. Grounded on internal/virtualterminal/vt.go's
// WritePTY.
const ptyWriteTimeout = 5 * time.Second

var (
	// ErrAtCapacity is returned by Connect when maxClients is already
	// attached.
	ErrAtCapacity = errors.New("session: at client capacity")
)

// VisualUpdateKind tags what changed on the session's visual-update
// broadcast, so a streaming client knows whether to re-fetch overlays
// or panels (or both).
type VisualUpdateKind int

const (
	VisualOverlaysChanged VisualUpdateKind = iota
	VisualPanelsChanged
)

// ClientGuard represents one attached streaming client's hold on a
// session's client-count cap. Release must be called exactly once, on
// detach or connection close.
type ClientGuard struct {
	session  *Session
	released atomic.Bool
}

// Release decrements the session's client count. Safe to call more
// than once; only the first call has an effect.
func (g *ClientGuard) Release() {
	if g.released.CompareAndSwap(false, true) {
		g.session.clientCount.Add(-1)
	}
}

var sessionIdentitySeq atomic.Uint64

// Options configures a new session at spawn time.
type Options struct {
	Name            string
	Command         ptyproc.SpawnCommand
	Rows, Cols      int
	CWD             string
	Env             map[string]string
	ScrollbackLines int
	Logger          *slog.Logger
}

// Session is one live PTY-backed terminal, fanned out to any number of
// attached streaming clients.
type Session struct {
	identity uintptr

	nameMu sync.RWMutex
	name   string

	command string

	pty      *ptyproc.Pty
	broker   *Broker
	parser   *vtparser.Parser
	activity *activity.Tracker
	overlays *overlay.Store
	panels   *panel.Store

	inputCh chan []byte

	detach        *broadcast.Broadcaster[struct{}]
	visualUpdates *broadcast.Broadcaster[VisualUpdateKind]

	rowsCell     atomic.Int32 // full terminal rows as last reported by a client
	colsCell     atomic.Int32
	viewportRows atomic.Int32 // rows last actually applied to the PTY, after panel layout

	screenMode atomic.Int32 // overlay.ScreenMode, updated by the screen-mode watcher

	clientCount atomic.Int32

	childExited   atomic.Bool
	childExitedCh chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	wg sync.WaitGroup

	logger *slog.Logger
}

// Spawn builds the command, forks/execs it under a PTY, and launches
// every background worker per spec §4.4. The returned Session is live
// but not yet registered; callers insert it into a registry and call
// Registry.MonitorChildExit with Identity() and ChildExited().
func Spawn(opts Options) (*Session, error) {
	rows, cols := opts.Rows, opts.Cols
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p, err := ptyproc.Spawn(rows, cols, opts.Command, opts.CWD, opts.Env)
	if err != nil {
		return nil, fmt.Errorf("session: spawn pty: %w", err)
	}

	reader := p.TakeReader()
	writer := p.TakeWriter()
	child := p.TakeChild()

	broker := NewBroker()
	parserRx, err := broker.SubscribeParser()
	if err != nil {
		// Unreachable for a freshly constructed Broker; kept so the
		// invariant is visible rather than silently assumed.
		return nil, fmt.Errorf("session: %w", err)
	}
	parser := vtparser.New(cols, rows, opts.ScrollbackLines, parserRx, logger)

	ctx, cancel := context.WithCancel(context.Background())

	s := &Session{
		identity:      uintptr(sessionIdentitySeq.Add(1)),
		name:          opts.Name,
		command:       commandLabel(opts.Command),
		pty:           p,
		broker:        broker,
		parser:        parser,
		activity:      activity.New(),
		inputCh:       make(chan []byte, 64),
		detach:        broadcast.New[struct{}](1),
		visualUpdates: broadcast.New[VisualUpdateKind](16),
		childExitedCh: make(chan struct{}),
		ctx:           ctx,
		cancel:        cancel,
		logger:        logger,
	}
	s.rowsCell.Store(int32(rows))
	s.colsCell.Store(int32(cols))
	s.viewportRows.Store(int32(rows))
	s.screenMode.Store(int32(overlay.ModeNormal))
	s.overlays = overlay.NewStore(s.onOverlaysChanged)
	s.panels = panel.NewStore(s.onPanelsChanged)

	taskrunner.Go(logger, "vtparser.Run", func() { parser.Run(ctx) })
	s.wg.Add(3)
	taskrunner.Go(logger, "session.readerLoop", func() { s.readerLoop(reader) })
	taskrunner.Go(logger, "session.writerLoop", func() { s.writerLoop(writer) })
	taskrunner.Go(logger, "session.childWaiterLoop", func() { s.childWaiterLoop(child) })
	taskrunner.Go(logger, "session.screenModeWatcher", func() { s.screenModeWatcher(ctx) })

	return s, nil
}

func commandLabel(cmd ptyproc.SpawnCommand) string {
	switch {
	case cmd.ExecCmd != nil:
		return cmd.ExecCmd.Command
	case cmd.ShellCmd != nil:
		if cmd.ShellCmd.Shell != "" {
			return cmd.ShellCmd.Shell
		}
		return "$SHELL"
	default:
		return ""
	}
}

// Identity returns a stable opaque value distinguishing this Session
// instance from any other, survivng renames. Used by
// internal/registry.MonitorChildExit to find a session that may have
// been renamed since it was spawned.
func (s *Session) Identity() uintptr { return s.identity }

// Name returns the session's current registry name.
func (s *Session) Name() string {
	s.nameMu.RLock()
	defer s.nameMu.RUnlock()
	return s.name
}

// SetName is called by the registry under its own lock whenever this
// session is inserted or renamed.
func (s *Session) SetName(name string) {
	s.nameMu.Lock()
	s.name = name
	s.nameMu.Unlock()
}

// Command returns the shell/command label used to spawn this session,
// for ListSessions summaries.
func (s *Session) Command() string { return s.command }

// PID returns the child's process id, or 0 if no process was started.
func (s *Session) PID() int { return s.pty.PID() }

// Size returns the session's current terminal dimensions.
func (s *Session) Size() (rows, cols int) {
	return int(s.rowsCell.Load()), int(s.colsCell.Load())
}

// ScreenMode returns the session's last-observed screen mode (Normal or
// Alt), as tracked by the screen-mode watcher from parser Mode events.
func (s *Session) ScreenMode() overlay.ScreenMode {
	return overlay.ScreenMode(s.screenMode.Load())
}

// ChildExited returns a channel that is closed once the child process
// has exited.
func (s *Session) ChildExited() <-chan struct{} { return s.childExitedCh }

// Broker returns the session's output broker, for a streaming
// connection to subscribe to raw PTY bytes.
func (s *Session) Broker() *Broker { return s.broker }

// Parser returns the session's VT parser, for screen/scrollback/cursor
// queries and resize.
func (s *Session) Parser() *vtparser.Parser { return s.parser }

// Activity returns the session's idle-activity tracker.
func (s *Session) Activity() *activity.Tracker { return s.activity }

// Overlays returns the session's OverlayStore.
func (s *Session) Overlays() *overlay.Store { return s.overlays }

// Panels returns the session's PanelStore.
func (s *Session) Panels() *panel.Store { return s.panels }

// SubscribeDetach returns a subscription to the session's detach
// broadcast: streaming clients observe a value here and end their
// streaming phase, leaving the session itself alive.
func (s *Session) SubscribeDetach() *broadcast.Subscription[struct{}] {
	return s.detach.Subscribe()
}

// SubscribeVisualUpdates returns a subscription to the session's
// overlay/panel change notifications.
func (s *Session) SubscribeVisualUpdates() *broadcast.Subscription[VisualUpdateKind] {
	return s.visualUpdates.Subscribe()
}

// Connect registers one more attached client, rejecting once maxClients
// are already attached. Callers must call Release on the returned
// guard exactly once.
func (s *Session) Connect() (*ClientGuard, error) {
	for {
		cur := s.clientCount.Load()
		if cur >= maxClients {
			return nil, ErrAtCapacity
		}
		if s.clientCount.CompareAndSwap(cur, cur+1) {
			return &ClientGuard{session: s}, nil
		}
	}
}

// ClientCount returns the number of streaming clients currently attached.
func (s *Session) ClientCount() int { return int(s.clientCount.Load()) }

// SendInput queues bytes for the PTY writer thread. It blocks if the
// bounded input channel is full (spec §5's input-send suspension
// point), and returns immediately if the session has already begun
// shutting down.
func (s *Session) SendInput(data []byte) error {
	select {
	case s.inputCh <- data:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

// Resize records the client's full terminal size and re-applies panel
// layout: the PTY and parser are sized to whatever viewport
// panel.ComputeLayout leaves after docked panels claim their rows, not
// necessarily rows itself.
func (s *Session) Resize(rows, cols int) error {
	s.rowsCell.Store(int32(rows))
	s.colsCell.Store(int32(cols))
	return s.reconfigureLayout()
}

// reconfigureLayout recomputes the panel layout against the session's
// current full terminal size and, if the resulting viewport differs
// from what's currently applied, resizes the PTY and parser to match.
// Grounded on _examples/original_source/panel/coordinator.rs's
// reconfigure_layout, called after every layout-affecting panel
// mutation and after every client resize (spec §4.8/§12).
func (s *Session) reconfigureLayout() error {
	rows := int(s.rowsCell.Load())
	cols := int(s.colsCell.Load())
	layout := panel.ComputeLayout(s.panels.List(), rows)
	if int32(layout.ViewportRows) == s.viewportRows.Load() {
		return nil
	}
	if err := s.pty.Resize(layout.ViewportRows, cols); err != nil {
		return fmt.Errorf("session: resize pty: %w", err)
	}
	if _, err := s.parser.Query(s.ctx, vtparser.Query{Resize: &vtparser.ResizeQuery{Cols: cols, Rows: layout.ViewportRows}}); err != nil {
		return fmt.Errorf("session: resize parser: %w", err)
	}
	s.viewportRows.Store(int32(layout.ViewportRows))
	return nil
}

// Detach fires the detach broadcast: every attached streaming client
// observes it and ends its streaming phase. The session itself, and
// its PTY, are untouched.
func (s *Session) Detach() {
	s.detach.Publish(struct{}{})
}

// Shutdown cancels the session's background tasks and detaches every
// client, without touching the child process. Used when registering a
// freshly spawned session fails, so its tasks exit promptly instead of
// leaking.
func (s *Session) Shutdown() {
	s.cancel()
	s.Detach()
}

// ForceKill cancels, detaches, and sends SIGKILL to the child's whole
// process group.
func (s *Session) ForceKill() {
	s.cancel()
	s.Detach()
	if err := s.KillChild(); err != nil {
		s.logger.Warn("force_kill: sigkill failed", "name", s.Name(), "error", err)
	}
}

// SendSIGHUP asks the child's process group to exit politely. A no-op
// if the child has already exited.
func (s *Session) SendSIGHUP() error {
	if s.childExited.Load() {
		return nil
	}
	return s.pty.SendSIGHUP()
}

// KillChild sends SIGKILL to the child's process group. A no-op if the
// child has already exited.
func (s *Session) KillChild() error {
	if s.childExited.Load() {
		return nil
	}
	return s.pty.SendSIGKILL()
}

func (s *Session) readerLoop(r *os.File) {
	defer s.wg.Done()
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.broker.Publish(chunk)
			s.activity.Touch()
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) writerLoop(w *os.File) {
	defer s.wg.Done()
	for {
		select {
		case data, ok := <-s.inputCh:
			if !ok {
				return
			}
			if err := writeWithTimeout(w, data, ptyWriteTimeout); err != nil {
				s.logger.Warn("writer: pty write failed", "name", s.Name(), "error", err)
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

// writeWithTimeout writes data to w, giving up after timeout. A child
// that stops reading its stdin fills the kernel PTY buffer and would
// otherwise block this goroutine forever; grounded on
// internal/virtualterminal/vt.go's WritePTY.
func writeWithTimeout(w *os.File, data []byte, timeout time.Duration) error {
	type result struct{ err error }
	done := make(chan result, 1)
	go func() {
		_, err := w.Write(data)
		done <- result{err}
	}()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-done:
		return r.err
	case <-timer.C:
		return fmt.Errorf("session: pty write timed out after %s", timeout)
	}
}

func (s *Session) childWaiterLoop(_ *os.Process) {
	defer s.wg.Done()
	state, err := s.pty.Wait()
	if err != nil {
		s.logger.Info("child exited", "name", s.Name(), "error", err)
	} else {
		s.logger.Info("child exited", "name", s.Name(), "state", state.String())
	}
	s.childExited.Store(true)
	close(s.childExitedCh)
	s.cancel()
}

// screenModeWatcher subscribes to parser Mode events and mirrors
// AlternateActive into screenMode; on change it fires both
// VisualOverlaysChanged and VisualPanelsChanged so attached clients
// re-sync (alt-only overlays/panels may need to appear or disappear).
func (s *Session) screenModeWatcher(ctx context.Context) {
	sub := s.parser.Subscribe()
	defer sub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C():
			if !ok {
				return
			}
			if ev.Mode == nil {
				continue
			}
			newMode := overlay.ModeNormal
			if ev.Mode.AlternateActive {
				newMode = overlay.ModeAlt
			}
			old := s.screenMode.Swap(int32(newMode))
			if old != int32(newMode) {
				if newMode == overlay.ModeNormal {
					s.overlays.DeleteByMode(overlay.ModeAlt)
					s.panels.DeleteByMode(overlay.ModeAlt)
				}
				s.onOverlaysChanged(newMode)
				s.onPanelsChanged(newMode)
			}
		}
	}
}

func (s *Session) onOverlaysChanged(overlay.ScreenMode) {
	s.visualUpdates.Publish(VisualOverlaysChanged)
}

func (s *Session) onPanelsChanged(overlay.ScreenMode) {
	if err := s.reconfigureLayout(); err != nil {
		s.logger.Warn("reconfigure_layout failed", "name", s.Name(), "error", err)
	}
	s.visualUpdates.Publish(VisualPanelsChanged)
}
