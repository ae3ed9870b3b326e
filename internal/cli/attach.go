package cli

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"wsh/internal/wire"
)

// doubleTapWindow is how close together two Ctrl+\ bytes (0x1C) must
// arrive for the attach loop to treat them as a detach request, per
// spec §4.9.
const doubleTapWindow = 500 * time.Millisecond

func newAttachCmd() *cobra.Command {
	var scrollback string
	var lines int
	cmd := &cobra.Command{
		Use:   "attach <name>",
		Short: "Attach to a running session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := parseScrollbackFlag(scrollback, lines)
			if err != nil {
				return err
			}
			return doAttach(args[0], scope)
		},
	}
	cmd.Flags().StringVar(&scrollback, "scrollback", "all", `scrollback to replay on attach: "none", "all", or "lines"`)
	cmd.Flags().IntVar(&lines, "scrollback-lines", 1000, `line count when --scrollback=lines`)
	return cmd
}

func parseScrollbackFlag(kind string, lines int) (wire.ScrollbackScope, error) {
	switch kind {
	case "none", "all":
		return wire.ScrollbackScope{Kind: kind}, nil
	case "lines":
		return wire.ScrollbackScope{Kind: "lines", Lines: lines}, nil
	default:
		return wire.ScrollbackScope{}, fmt.Errorf("wsh: invalid --scrollback %q", kind)
	}
}

// doAttach connects to the daemon, sends an AttachSession request,
// replays the returned scrollback/screen bytes to stdout, then hands
// off to runStreamingLoop.
func doAttach(name string, scope wire.ScrollbackScope) error {
	conn, err := dial()
	if err != nil {
		return err
	}
	defer conn.Close()

	rows, cols := terminalSize()
	req := wire.AttachSession{Name: name, Scrollback: scope, Rows: rows, Cols: cols}
	f, err := wire.NewControlFrame(wire.TypeAttachSession, req)
	if err != nil {
		return err
	}
	if err := f.WriteTo(conn); err != nil {
		return fmt.Errorf("wsh: send attach_session: %w", err)
	}

	resp, err := wire.ReadFrom(conn)
	if err != nil {
		return fmt.Errorf("wsh: read response: %w", err)
	}
	if resp.Type == wire.TypeError {
		return decodeServerError(resp)
	}
	var attached wire.AttachSessionResponse
	if err := resp.Decode(&attached); err != nil {
		return fmt.Errorf("wsh: decode attach_session_response: %w", err)
	}
	os.Stdout.Write(attached.Scrollback)
	os.Stdout.Write(attached.Screen)

	return runStreamingLoop(conn)
}

// runStreamingLoop is the attach client's counterpart to the server's
// streaming phase (spec §4.9): stdin bytes become StdinInput frames,
// SIGWINCH becomes a Resize frame, PtyOutput frames are written
// straight to stdout (the real terminal interprets the ANSI bytes
// itself; this client does no VT emulation of its own), and a Ctrl+\
// double-tap within 500ms sends Detach and exits. OverlaySync/PanelSync
// frames are read and discarded: rendering them is a caller concern
// this client does not implement, matching spec's "out of scope except
// for the contract" framing of the attach loop.
func runStreamingLoop(conn net.Conn) error {
	fd := int(os.Stdin.Fd())
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("wsh: set raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGWINCH)
	defer signal.Stop(sigCh)

	done := make(chan struct{})
	var closeOnce sync.Once
	closeDone := func() { closeOnce.Do(func() { close(done) }) }

	go func() {
		defer closeDone()
		for range sigCh {
			rows, cols := terminalSize()
			rf, err := wire.NewControlFrame(wire.TypeResize, wire.Resize{Rows: rows, Cols: cols})
			if err != nil {
				continue
			}
			if rf.WriteTo(conn) != nil {
				return
			}
		}
	}()

	go func() {
		defer closeDone()
		var lastCtrlBackslash time.Time
		buf := make([]byte, 4096)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				chunk := buf[:n]
				detach := false
				for _, b := range chunk {
					if b != 0x1C {
						continue
					}
					now := time.Now()
					if !lastCtrlBackslash.IsZero() && now.Sub(lastCtrlBackslash) <= doubleTapWindow {
						detach = true
						break
					}
					lastCtrlBackslash = now
				}
				if wire.NewDataFrame(wire.TypeStdinInput, append([]byte(nil), chunk...)).WriteTo(conn) != nil {
					return
				}
				if detach {
					wire.Frame{Type: wire.TypeDetach}.WriteTo(conn)
					return
				}
			}
			if err != nil {
				wire.Frame{Type: wire.TypeDetach}.WriteTo(conn)
				return
			}
		}
	}()

	go func() {
		defer closeDone()
		for {
			f, err := wire.ReadFrom(conn)
			if err != nil {
				return
			}
			if f.Type == wire.TypePtyOutput {
				os.Stdout.Write(f.Payload)
			}
		}
	}()

	<-done
	return nil
}
