package wire

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestRoundTripAllControlTypes(t *testing.T) {
	cases := []struct {
		name string
		typ  Type
		msg  any
	}{
		{"create", TypeCreateSession, CreateSession{Name: "t1", Rows: 24, Cols: 80}},
		{"createResp", TypeCreateSessionResponse, CreateSessionResponse{Name: "t1", Rows: 24, Cols: 80}},
		{"attach", TypeAttachSession, AttachSession{Name: "t1", Scrollback: ScrollbackScope{Kind: "all"}, Rows: 24, Cols: 80}},
		{"resize", TypeResize, Resize{Rows: 30, Cols: 100}},
		{"error", TypeError, Error{Code: "session_not_found", Message: "no such session"}},
		{"list", TypeListSessions, ListSessions{}},
		{"kill", TypeKillSession, KillSession{Name: "t1"}},
		{"attachResp", TypeAttachSessionResponse, AttachSessionResponse{Name: "t1", Rows: 24, Cols: 80, Scrollback: []byte("old\r\n"), Screen: []byte("\x1b[2J"), InputMode: "normal", ScreenMode: "normal"}},
		{"listResp", TypeListSessionsResponse, ListSessionsResponse{Sessions: []SessionSummary{{Name: "t1", Command: "sh", Rows: 24, Cols: 80, Clients: 1}}}},
		{"killResp", TypeKillSessionResponse, KillSessionResponse{Name: "t1"}},
		{"detach", TypeDetachSession, DetachSession{Name: "t1"}},
		{"detachResp", TypeDetachSessionResponse, DetachSessionResponse{Name: "t1"}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			frame, err := NewControlFrame(c.typ, c.msg)
			if err != nil {
				t.Fatalf("NewControlFrame: %v", err)
			}
			var buf bytes.Buffer
			if err := frame.WriteTo(&buf); err != nil {
				t.Fatalf("WriteTo: %v", err)
			}
			decoded, err := ReadFrom(&buf)
			if err != nil {
				t.Fatalf("ReadFrom: %v", err)
			}
			if decoded.Type != c.typ {
				t.Fatalf("type = %v, want %v", decoded.Type, c.typ)
			}
			if !bytes.Equal(decoded.Payload, frame.Payload) {
				t.Fatalf("payload mismatch:\ngot  %s\nwant %s", decoded.Payload, frame.Payload)
			}
		})
	}
}

func TestRoundTripDataFrame(t *testing.T) {
	original := NewDataFrame(TypePtyOutput, []byte("hello from the child\n"))
	var buf bytes.Buffer
	if err := original.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	decoded, err := ReadFrom(&buf)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if decoded.Type != TypePtyOutput || !bytes.Equal(decoded.Payload, original.Payload) {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
}

func TestScrollbackScopeRoundTrip(t *testing.T) {
	for _, scope := range []ScrollbackScope{
		{Kind: "none"},
		{Kind: "all"},
		{Kind: "lines", Lines: 500},
	} {
		msg := AttachSession{Name: "s", Scrollback: scope, Rows: 24, Cols: 80}
		frame, err := NewControlFrame(TypeAttachSession, msg)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		var decoded AttachSession
		if err := frame.Decode(&decoded); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if decoded.Scrollback.Kind != scope.Kind || (scope.Kind == "lines" && decoded.Scrollback.Lines != scope.Lines) {
			t.Fatalf("scope round trip: got %+v, want %+v", decoded.Scrollback, scope)
		}
	}
}

func TestDecodeOversizeLengthFails(t *testing.T) {
	var buf bytes.Buffer
	header := []byte{byte(TypePtyOutput), 0, 0, 0, 0}
	// 16 MiB + 1, big-endian.
	oversize := uint32(MaxPayloadSize + 1)
	header[1] = byte(oversize >> 24)
	header[2] = byte(oversize >> 16)
	header[3] = byte(oversize >> 8)
	header[4] = byte(oversize)
	buf.Write(header)

	_, err := ReadFrom(&buf)
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestWriteRejectsOversizePayload(t *testing.T) {
	f := NewDataFrame(TypePtyOutput, make([]byte, MaxPayloadSize+1))
	var buf bytes.Buffer
	if err := f.WriteTo(&buf); !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestUnknownTypeByteIsFatal(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0, 0, 0, 0})
	_, err := ReadFrom(&buf)
	if !errors.Is(err, ErrUnknownType) {
		t.Fatalf("expected ErrUnknownType, got %v", err)
	}
}

func TestRoundTripVisualSyncFrames(t *testing.T) {
	span := SpanPayload{Text: "hi", FG: "#ff0000", Bold: true}

	overlays := []OverlaySyncItem{
		{ID: "o1", X: 1, Y: 2, Z: 3, W: 10, H: 4, BG: "#000000", Spans: []SpanPayload{span}, Visible: true},
	}
	of, err := NewControlFrame(TypeOverlaySync, overlays)
	if err != nil {
		t.Fatalf("NewControlFrame(overlay): %v", err)
	}
	var decodedOverlays []OverlaySyncItem
	if err := of.Decode(&decodedOverlays); err != nil {
		t.Fatalf("decode overlays: %v", err)
	}
	if len(decodedOverlays) != 1 || decodedOverlays[0].ID != "o1" || decodedOverlays[0].Spans[0].Text != "hi" {
		t.Fatalf("overlay round trip mismatch: %+v", decodedOverlays)
	}

	panels := PanelSyncPayload{
		Panels:             []PanelItem{{ID: "p1", Position: "bottom", Height: 3, Spans: []SpanPayload{span}, Visible: true}},
		ScrollRegionTop:    1,
		ScrollRegionBottom: 20,
	}
	pf, err := NewControlFrame(TypePanelSync, panels)
	if err != nil {
		t.Fatalf("NewControlFrame(panel): %v", err)
	}
	var decodedPanels PanelSyncPayload
	if err := pf.Decode(&decodedPanels); err != nil {
		t.Fatalf("decode panels: %v", err)
	}
	if len(decodedPanels.Panels) != 1 || decodedPanels.Panels[0].ID != "p1" || decodedPanels.ScrollRegionBottom != 20 {
		t.Fatalf("panel round trip mismatch: %+v", decodedPanels)
	}
}

func TestDetachFrameHasEmptyPayload(t *testing.T) {
	var buf bytes.Buffer
	if err := (Frame{Type: TypeDetach}).WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	decoded, err := ReadFrom(&buf)
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if decoded.Type != TypeDetach || len(decoded.Payload) != 0 {
		t.Fatalf("expected empty-payload Detach frame, got %+v", decoded)
	}
}

func TestShortReadMidFrameFails(t *testing.T) {
	f := NewDataFrame(TypePtyOutput, []byte("hello"))
	var full bytes.Buffer
	if err := f.WriteTo(&full); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	truncated := bytes.NewReader(full.Bytes()[:full.Len()-2])
	_, err := ReadFrom(truncated)
	if err == nil || !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("expected io.ErrUnexpectedEOF-class error, got %v", err)
	}
}
