package cli

import (
	"fmt"
	"net"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"wsh/internal/version"
	"wsh/internal/wire"
)

// NewWshCmd creates the client's root cobra command.
func NewWshCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "wsh",
		Short:   "wsh session client",
		Version: version.Version,
	}
	root.AddCommand(
		newCreateCmd(),
		newAttachCmd(),
		newLsCmd(),
		newKillCmd(),
		newDetachCmd(),
	)
	return root
}

func dial() (net.Conn, error) {
	conn, err := net.Dial("unix", socketPath())
	if err != nil {
		return nil, fmt.Errorf("wsh: connect to daemon: %w", err)
	}
	return conn, nil
}

// terminalSize reports stdout's current size, falling back to a
// reasonable default when stdout is not a TTY (e.g. under a test
// harness or when piped).
func terminalSize() (rows, cols int) {
	if cols, rows, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
		return rows, cols
	}
	return 24, 80
}

func newCreateCmd() *cobra.Command {
	var name, command, cwd string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new session and attach to it",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := dial()
			if err != nil {
				return err
			}
			defer conn.Close()

			rows, cols := terminalSize()
			req := wire.CreateSession{Name: name, Command: command, CWD: cwd, Rows: rows, Cols: cols}
			f, err := wire.NewControlFrame(wire.TypeCreateSession, req)
			if err != nil {
				return err
			}
			if err := f.WriteTo(conn); err != nil {
				return fmt.Errorf("wsh: send create_session: %w", err)
			}

			resp, err := wire.ReadFrom(conn)
			if err != nil {
				return fmt.Errorf("wsh: read response: %w", err)
			}
			if resp.Type == wire.TypeError {
				return decodeServerError(resp)
			}
			var created wire.CreateSessionResponse
			if err := resp.Decode(&created); err != nil {
				return fmt.Errorf("wsh: decode create_session_response: %w", err)
			}
			fmt.Fprintf(os.Stderr, "created session %q\n", created.Name)

			return runStreamingLoop(conn)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "session name (default: next free numeric slot)")
	cmd.Flags().StringVar(&command, "command", "", "command to run instead of the user's shell")
	cmd.Flags().StringVar(&cwd, "cwd", "", "working directory for the child process")
	return cmd
}

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List running sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := dial()
			if err != nil {
				return err
			}
			defer conn.Close()

			f, err := wire.NewControlFrame(wire.TypeListSessions, wire.ListSessions{})
			if err != nil {
				return err
			}
			if err := f.WriteTo(conn); err != nil {
				return fmt.Errorf("wsh: send list_sessions: %w", err)
			}

			resp, err := wire.ReadFrom(conn)
			if err != nil {
				return fmt.Errorf("wsh: read response: %w", err)
			}
			if resp.Type == wire.TypeError {
				return decodeServerError(resp)
			}
			var list wire.ListSessionsResponse
			if err := resp.Decode(&list); err != nil {
				return fmt.Errorf("wsh: decode list_sessions_response: %w", err)
			}
			printSessions(list.Sessions)
			return nil
		},
	}
}

func printSessions(sessions []wire.SessionSummary) {
	if len(sessions) == 0 {
		fmt.Println("No running sessions.")
		return
	}
	tw := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tPID\tCOMMAND\tSIZE\tCLIENTS")
	for _, s := range sessions {
		pid := "-"
		if s.PID != nil {
			pid = fmt.Sprintf("%d", *s.PID)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%dx%d\t%d\n", s.Name, pid, s.Command, s.Cols, s.Rows, s.Clients)
	}
	tw.Flush()
}

func newKillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "kill <name>",
		Short: "Force-kill a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := dial()
			if err != nil {
				return err
			}
			defer conn.Close()

			f, err := wire.NewControlFrame(wire.TypeKillSession, wire.KillSession{Name: args[0]})
			if err != nil {
				return err
			}
			if err := f.WriteTo(conn); err != nil {
				return fmt.Errorf("wsh: send kill_session: %w", err)
			}
			resp, err := wire.ReadFrom(conn)
			if err != nil {
				return fmt.Errorf("wsh: read response: %w", err)
			}
			if resp.Type == wire.TypeError {
				return decodeServerError(resp)
			}
			fmt.Printf("killed %q\n", args[0])
			return nil
		},
	}
}

func newDetachCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "detach <name>",
		Short: "Detach every client currently attached to a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := dial()
			if err != nil {
				return err
			}
			defer conn.Close()

			f, err := wire.NewControlFrame(wire.TypeDetachSession, wire.DetachSession{Name: args[0]})
			if err != nil {
				return err
			}
			if err := f.WriteTo(conn); err != nil {
				return fmt.Errorf("wsh: send detach_session: %w", err)
			}
			resp, err := wire.ReadFrom(conn)
			if err != nil {
				return fmt.Errorf("wsh: read response: %w", err)
			}
			if resp.Type == wire.TypeError {
				return decodeServerError(resp)
			}
			fmt.Printf("detached %q\n", args[0])
			return nil
		},
	}
}

func decodeServerError(f wire.Frame) error {
	var e wire.Error
	if err := f.Decode(&e); err != nil {
		return fmt.Errorf("wsh: server error (undecodable): %s", string(f.Payload))
	}
	return fmt.Errorf("wsh: server error: %s: %s", e.Code, e.Message)
}
