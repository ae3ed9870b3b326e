package streamserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"wsh/internal/overlay"
	"wsh/internal/panel"
	"wsh/internal/ptyproc"
	"wsh/internal/registry"
	"wsh/internal/session"
	"wsh/internal/vtparser"
	"wsh/internal/wire"
)

// handleConn reads one connection's initial frame and dispatches it,
// per spec §4.8's first sentence: only CreateSession/AttachSession may
// enter the streaming phase; ListSessions/KillSession/DetachSession are
// also accepted as initial frames but are one-shot request/response
// (see DESIGN.md's Open Question decision) — anything else is
// `invalid_initial_frame` and the connection closes.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer closeWrite(conn)
	defer conn.Close()

	frame, err := wire.ReadFrom(conn)
	if err != nil {
		s.logger.Debug("streamserver: initial frame read failed", "error", err)
		return
	}

	switch frame.Type {
	case wire.TypeCreateSession:
		s.handleCreateSession(ctx, conn, frame)
	case wire.TypeAttachSession:
		s.handleAttachSession(ctx, conn, frame)
	case wire.TypeListSessions:
		s.handleListSessions(conn)
	case wire.TypeKillSession:
		s.handleKillSession(conn, frame)
	case wire.TypeDetachSession:
		s.handleDetachSession(conn, frame)
	default:
		writeError(conn, "invalid_initial_frame", fmt.Sprintf("unexpected initial frame type %s", frame.Type))
	}
}

// closeWrite attempts a half-close of the write side on exit, per spec
// §4.8's "always attempt a writer shutdown on exit".
func closeWrite(conn net.Conn) {
	if hc, ok := conn.(interface{ CloseWrite() error }); ok {
		hc.CloseWrite()
	}
}

func writeError(w io.Writer, code, message string) {
	f, err := wire.NewControlFrame(wire.TypeError, wire.Error{Code: code, Message: message})
	if err != nil {
		return
	}
	f.WriteTo(w)
}

func nameErrorCode(err error) string {
	switch {
	case errors.Is(err, registry.ErrNameConflict):
		return "name_conflict"
	case errors.Is(err, registry.ErrInvalidName):
		return "invalid_name"
	case errors.Is(err, registry.ErrMaxSessions):
		return "max_sessions"
	case errors.Is(err, registry.ErrNotFound):
		return "session_not_found"
	default:
		return "error"
	}
}

func (s *Server) handleCreateSession(ctx context.Context, conn net.Conn, frame wire.Frame) {
	var req wire.CreateSession
	if err := frame.Decode(&req); err != nil {
		writeError(conn, "invalid_request", err.Error())
		return
	}
	if req.Rows <= 0 || req.Cols <= 0 {
		writeError(conn, "invalid_request", "rows and cols must be positive")
		return
	}
	if req.Name != "" {
		if err := s.registry.NameAvailable(req.Name); err != nil {
			writeError(conn, nameErrorCode(err), err.Error())
			return
		}
	}

	var cmd ptyproc.SpawnCommand
	if req.Command != "" {
		cmd = ptyproc.NewExecCommand(req.Command, false)
	} else {
		cmd = ptyproc.NewShellCommand("", true)
	}

	sess, err := session.Spawn(session.Options{
		Name:            req.Name,
		Command:         cmd,
		Rows:            req.Rows,
		Cols:            req.Cols,
		CWD:             req.CWD,
		Env:             req.Env,
		ScrollbackLines: s.cfg.ScrollbackLines,
		Logger:          s.logger,
	})
	if err != nil {
		writeError(conn, "spawn_failed", err.Error())
		return
	}

	name, _, err := s.registry.InsertAndGet(req.Name, nil, sess)
	if err != nil {
		sess.Shutdown()
		writeError(conn, nameErrorCode(err), err.Error())
		return
	}
	s.registry.MonitorChildExit(name, sess.Identity(), sess.ChildExited())

	resp := wire.CreateSessionResponse{Name: name, Rows: req.Rows, Cols: req.Cols}
	if pid := sess.PID(); pid > 0 {
		resp.PID = &pid
	}
	rf, err := wire.NewControlFrame(wire.TypeCreateSessionResponse, resp)
	if err != nil || rf.WriteTo(conn) != nil {
		return
	}

	s.streamConn(ctx, conn, sess)
}

func (s *Server) handleAttachSession(ctx context.Context, conn net.Conn, frame wire.Frame) {
	var req wire.AttachSession
	if err := frame.Decode(&req); err != nil {
		writeError(conn, "invalid_request", err.Error())
		return
	}
	sess, ok := s.lookupSession(req.Name)
	if !ok {
		writeError(conn, "session_not_found", fmt.Sprintf("no session named %q", req.Name))
		return
	}
	if req.Rows > 0 && req.Cols > 0 {
		if err := sess.Resize(req.Rows, req.Cols); err != nil {
			writeError(conn, "resize_failed", err.Error())
			return
		}
	}

	screen, err := sess.Parser().Query(ctx, vtparser.Query{Screen: &vtparser.ScreenQuery{Format: vtparser.FormatStyled}})
	if err != nil {
		writeError(conn, "query_failed", err.Error())
		return
	}
	scrollbackBytes, err := scrollbackReplay(ctx, sess, req.Scrollback)
	if err != nil {
		writeError(conn, "query_failed", err.Error())
		return
	}

	screenMode := "normal"
	if sess.ScreenMode() == overlay.ModeAlt {
		screenMode = "alt"
	}
	rows, cols := sess.Size()

	resp := wire.AttachSessionResponse{
		Name:       sess.Name(),
		Rows:       rows,
		Cols:       cols,
		Scrollback: scrollbackBytes,
		Screen:     vtparser.RenderScreen(screen.Screen.Lines, screen.Screen.Cursor),
		InputMode:  "normal",
		ScreenMode: screenMode,
	}
	rf, err := wire.NewControlFrame(wire.TypeAttachSessionResponse, resp)
	if err != nil || rf.WriteTo(conn) != nil {
		return
	}

	s.streamConn(ctx, conn, sess)
}

// scrollbackReplay builds the raw-bytes scrollback half of an
// AttachSession replay payload for the requested scope.
func scrollbackReplay(ctx context.Context, sess *session.Session, scope wire.ScrollbackScope) ([]byte, error) {
	switch scope.Kind {
	case "", "none":
		return nil, nil
	case "all":
		resp, err := sess.Parser().Query(ctx, vtparser.Query{Scrollback: &vtparser.ScrollbackQuery{Format: vtparser.FormatStyled}})
		if err != nil {
			return nil, err
		}
		return vtparser.RenderScrollback(resp.Scrollback.Lines), nil
	case "lines":
		probe, err := sess.Parser().Query(ctx, vtparser.Query{Scrollback: &vtparser.ScrollbackQuery{Format: vtparser.FormatPlain, Limit: 1}})
		if err != nil {
			return nil, err
		}
		offset := probe.Scrollback.TotalLines - scope.Lines
		if offset < 0 {
			offset = 0
		}
		resp, err := sess.Parser().Query(ctx, vtparser.Query{Scrollback: &vtparser.ScrollbackQuery{
			Format: vtparser.FormatStyled,
			Offset: offset,
			Limit:  scope.Lines,
		}})
		if err != nil {
			return nil, err
		}
		return vtparser.RenderScrollback(resp.Scrollback.Lines), nil
	default:
		return nil, nil
	}
}

func (s *Server) handleListSessions(conn net.Conn) {
	var summaries []wire.SessionSummary
	for _, name := range s.registry.Names() {
		sess, ok := s.lookupSession(name)
		if !ok {
			continue
		}
		summary := wire.SessionSummary{
			Name:    name,
			Command: sess.Command(),
			Clients: sess.ClientCount(),
		}
		summary.Rows, summary.Cols = sess.Size()
		if pid := sess.PID(); pid > 0 {
			summary.PID = &pid
		}
		summaries = append(summaries, summary)
	}
	rf, err := wire.NewControlFrame(wire.TypeListSessionsResponse, wire.ListSessionsResponse{Sessions: summaries})
	if err != nil {
		return
	}
	rf.WriteTo(conn)
}

func (s *Server) handleKillSession(conn net.Conn, frame wire.Frame) {
	var req wire.KillSession
	if err := frame.Decode(&req); err != nil {
		writeError(conn, "invalid_request", err.Error())
		return
	}
	sess, ok := s.registry.Remove(req.Name)
	if !ok {
		writeError(conn, "session_not_found", fmt.Sprintf("no session named %q", req.Name))
		return
	}
	sess.ForceKill()
	rf, err := wire.NewControlFrame(wire.TypeKillSessionResponse, wire.KillSessionResponse{Name: req.Name})
	if err != nil {
		return
	}
	rf.WriteTo(conn)
}

func (s *Server) handleDetachSession(conn net.Conn, frame wire.Frame) {
	var req wire.DetachSession
	if err := frame.Decode(&req); err != nil {
		writeError(conn, "invalid_request", err.Error())
		return
	}
	sess, ok := s.lookupSession(req.Name)
	if !ok {
		writeError(conn, "session_not_found", fmt.Sprintf("no session named %q", req.Name))
		return
	}
	sess.Detach()
	rf, err := wire.NewControlFrame(wire.TypeDetachSessionResponse, wire.DetachSessionResponse{Name: req.Name})
	if err != nil {
		return
	}
	rf.WriteTo(conn)
}

// streamConn runs the non-terminating streaming phase for one connection
// attached to sess, per spec §4.8.
func (s *Server) streamConn(ctx context.Context, conn net.Conn, sess *session.Session) {
	guard, err := sess.Connect()
	if err != nil {
		writeError(conn, "at_capacity", err.Error())
		return
	}
	defer guard.Release()

	outputSub := sess.Broker().Subscribe()
	defer outputSub.Unsubscribe()
	detachSub := sess.SubscribeDetach()
	defer detachSub.Unsubscribe()
	visualSub := sess.SubscribeVisualUpdates()
	defer visualSub.Unsubscribe()

	frames := make(chan wire.Frame, 1)
	frameErrs := make(chan error, 1)
	readNext := func() {
		f, err := wire.ReadFrom(conn)
		if err != nil {
			frameErrs <- err
			return
		}
		frames <- f
	}
	go readNext()

	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.ChildExited():
			return
		case <-detachSub.C():
			return
		case chunk, ok := <-outputSub.C():
			if !ok {
				return
			}
			if wire.NewDataFrame(wire.TypePtyOutput, chunk).WriteTo(conn) != nil {
				return
			}
		case kind, ok := <-visualSub.C():
			if !ok {
				return
			}
			if err := s.writeVisualSync(conn, sess, kind); err != nil {
				return
			}
		case err := <-frameErrs:
			_ = err
			return
		case f := <-frames:
			if !s.handleStreamFrame(conn, sess, f) {
				return
			}
			go readNext()
		}
	}
}

// handleStreamFrame applies one client frame received during the
// streaming phase. It returns false when the phase should end.
func (s *Server) handleStreamFrame(conn net.Conn, sess *session.Session, f wire.Frame) bool {
	switch f.Type {
	case wire.TypeStdinInput:
		sess.Activity().Touch()
		if err := sess.SendInput(f.Payload); err != nil {
			return false
		}
	case wire.TypeResize:
		var req wire.Resize
		if err := f.Decode(&req); err != nil {
			s.logger.Warn("streamserver: bad resize frame", "error", err)
			return true
		}
		if err := sess.Resize(req.Rows, req.Cols); err != nil {
			s.logger.Warn("streamserver: resize failed", "error", err)
		}
	case wire.TypeDetach:
		return false
	default:
		s.logger.Debug("streamserver: ignoring frame in streaming phase", "type", f.Type.String())
	}
	return true
}

func (s *Server) writeVisualSync(conn net.Conn, sess *session.Session, kind session.VisualUpdateKind) error {
	mode := sess.ScreenMode()
	switch kind {
	case session.VisualOverlaysChanged:
		items := overlaySyncItems(sess.Overlays().ListByMode(mode))
		f, err := wire.NewControlFrame(wire.TypeOverlaySync, items)
		if err != nil {
			return err
		}
		return f.WriteTo(conn)
	case session.VisualPanelsChanged:
		rows, _ := sess.Size()
		panels := sess.Panels().ListByMode(mode)
		layout := panel.ComputeLayout(panels, rows)
		payload := wire.PanelSyncPayload{
			Panels:             panelItems(layout.Visible),
			ScrollRegionTop:    layout.TopRows,
			ScrollRegionBottom: layout.BottomRows,
		}
		f, err := wire.NewControlFrame(wire.TypePanelSync, payload)
		if err != nil {
			return err
		}
		return f.WriteTo(conn)
	default:
		return nil
	}
}

func spanPayloads(spans []overlay.Span) []wire.SpanPayload {
	out := make([]wire.SpanPayload, len(spans))
	for i, sp := range spans {
		out[i] = wire.SpanPayload{
			Text: sp.Text, FG: sp.FG, BG: sp.BG,
			Bold: sp.Bold, Italic: sp.Italic, Underline: sp.Underline,
		}
	}
	return out
}

func overlaySyncItems(items []overlay.Overlay) []wire.OverlaySyncItem {
	out := make([]wire.OverlaySyncItem, len(items))
	for i, o := range items {
		out[i] = wire.OverlaySyncItem{
			ID: o.ID, X: o.X, Y: o.Y, Z: o.Z, W: o.W, H: o.H,
			BG: o.BG, Spans: spanPayloads(o.Spans), Visible: o.Visible,
		}
	}
	return out
}

func panelItems(panels []panel.Panel) []wire.PanelItem {
	out := make([]wire.PanelItem, len(panels))
	for i, p := range panels {
		pos := "top"
		if p.Position == panel.PositionBottom {
			pos = "bottom"
		}
		out[i] = wire.PanelItem{
			ID: p.ID, Position: pos, Height: p.Height, Z: p.Z,
			BG: p.BG, Spans: spanPayloads(p.Spans), Visible: p.Visible,
		}
	}
	return out
}
